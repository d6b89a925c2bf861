// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hplaylist implements the per-variant playlist state machine
// (spec §4.6): segment/part bookkeeping, the sliding-window eviction
// policy, and manifest serialization. Text serialization and the
// sliding window itself are delegated to
// github.com/mogiioin/hls-m3u8/m3u8 (spec §1 treats the M3U8 writer
// as an external collaborator, and its MediaPlaylist already
// implements a capacity-bounded FIFO with its own EXT-X-MEDIA-SEQUENCE
// and partial-segment pruning); this package supplies the bookkeeping
// the serializer doesn't do on its own: init-header migration across
// an eviction, bandwidth accounting, and EXT-X-RENDITION-REPORT, which
// the library has no support for at all.
package hplaylist

import (
	"fmt"
	"time"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/mogiioin/hls-m3u8/m3u8"
)

// unboundedCapacity bounds the ring buffer used for VOD/closed
// playlists, which never evict. A live, sliding playlist sizes its
// ring exactly to max_segments instead.
const unboundedCapacity = 100000

// Playlist tracks one variant's media playlist state.
type Playlist struct {
	mp *m3u8.MediaPlaylist

	maxSegments int
	segments    []hbase.Segment // mirrors mp's window, for the richer hbase.Segment fields (Parts, Index)

	pendingInitURI     string
	activeInitURI      string // latest init uri a segment carried; every serialized segment's EXT-X-MAP uses it
	forceDiscontinuity bool
	pendingParts       []pendingPart // parts pushed before the first AddSegment, replayed once it lands

	targetDurationSec     int
	partTargetDurationSec float64

	totalBytes    uint64
	totalDuration float64
	peakBPS       float64

	serverControl hbase.ServerControl
}

// New builds a Playlist with the given sliding-window size (0 =
// unbounded, spec §4.6 "max_segments = 0 disables eviction").
func New(maxSegments int, sc hbase.ServerControl) *Playlist {
	winsize := uint(maxSegments)
	capacity := winsize + 1 // AddSegment appends before it evicts, so the ring briefly holds one extra
	if maxSegments <= 0 {
		winsize = 0
		capacity = unboundedCapacity
	}
	mp, _ := m3u8.NewMediaPlaylist(winsize, capacity)
	return &Playlist{mp: mp, maxSegments: maxSegments, serverControl: sc}
}

// AddInitHeader records that the next appended segment should carry
// this init-header URI (spec §4.6 "next appended segment inherits
// this uri; previous pending uri is replaced").
func (p *Playlist) AddInitHeader(uri string) {
	p.pendingInitURI = uri
}

// AddDiscontinuity marks the next segment as a discontinuity boundary
// (spec §4.6/§4.7 add_discontinuity).
func (p *Playlist) AddDiscontinuity() {
	p.forceDiscontinuity = true
}

// EvictResult reports what AddSegment discarded.
type EvictResult struct {
	Discarded   *hbase.Segment
	PrunedParts []hbase.Part
}

// AddSegment appends segment to the playlist, evicting the oldest
// entry once the window exceeds max_segments, migrating the init URI
// forward, and bumping the discontinuity sequence when a discontinuous
// segment ages out (spec §4.6 "add_segment").
func (p *Playlist) AddSegment(seg hbase.Segment) EvictResult {
	seg.Discontinuity = seg.Discontinuity || p.forceDiscontinuity
	p.forceDiscontinuity = false
	if p.pendingInitURI != "" {
		seg.MediaInitURI = p.pendingInitURI
		p.pendingInitURI = ""
	}
	if seg.MediaInitURI != "" {
		p.activeInitURI = seg.MediaInitURI
	}

	ms := &m3u8.MediaSegment{
		URI:           seg.URI,
		Duration:      seg.Duration,
		Discontinuity: seg.Discontinuity,
	}
	if p.activeInitURI != "" {
		ms.Map = &m3u8.Map{URI: p.activeInitURI}
	}
	if seg.HasWallClock {
		ms.ProgramDateTime = time.UnixMilli(seg.WallClock)
	}
	_ = p.mp.AppendSegment(ms)

	firstSegment := len(p.segments) == 0
	p.segments = append(p.segments, seg)
	if firstSegment && len(p.pendingParts) > 0 {
		pending := p.pendingParts
		p.pendingParts = nil
		for _, pp := range pending {
			p.appendPart(pp.uri, pp.durationSec, pp.independent)
		}
	}
	p.totalBytes += uint64(seg.Size)
	p.totalDuration += seg.Duration
	if seg.Duration > 0 {
		if bps := float64(seg.Size) * 8 / seg.Duration; bps > p.peakBPS {
			p.peakBPS = bps
		}
	}

	durSec := int(ceilSeconds(seg.Duration))
	if durSec > p.targetDurationSec {
		p.targetDurationSec = durSec
		p.mp.SetTargetDuration(uint(durSec))
	}

	result := EvictResult{}
	if p.maxSegments > 0 && len(p.segments) > p.maxSegments {
		discarded := p.segments[0]
		newOldest := &p.segments[1]
		if newOldest.MediaInitURI == "" {
			newOldest.MediaInitURI = discarded.MediaInitURI
		}
		p.segments = p.segments[1:]
		p.totalBytes -= uint64(discarded.Size)
		p.totalDuration -= discarded.Duration
		p.peakBPS = 0
		for _, s := range p.segments {
			if bps := float64(s.Size) * 8 / s.Duration; s.Duration > 0 && bps > p.peakBPS {
				p.peakBPS = bps
			}
		}
		_ = p.mp.Remove()
		if discarded.Discontinuity {
			p.mp.DiscontinuitySeq++
		}
		result.Discarded = &discarded
		result.PrunedParts = p.prunePartsOlderThanThirdFromNewest()
	}
	return result
}

func ceilSeconds(sec float64) float64 {
	whole := float64(int(sec))
	if sec > whole {
		return whole + 1
	}
	return whole
}

// prunePartsOlderThanThirdFromNewest implements the resolved Open
// Question: parts belonging to any segment older than the 3rd-from-
// newest retained segment are dropped (spec §4.6). The library already
// prunes its own PartialSegments on the same boundary (AppendPartialSegment
// → removeExpiredPartials); this keeps our mirrored hbase.Part slices
// consistent with it.
func (p *Playlist) prunePartsOlderThanThirdFromNewest() []hbase.Part {
	if len(p.segments) < 3 {
		return nil
	}
	cutoffIndex := p.segments[len(p.segments)-3].Index
	var pruned []hbase.Part
	for i := range p.segments {
		if p.segments[i].Index < cutoffIndex {
			pruned = append(pruned, p.segments[i].Parts...)
			p.segments[i].Parts = nil
		}
	}
	return pruned
}

// pendingPart is a part pushed before any segment has been appended
// yet, held until the first AddSegment gives the wrapped library a
// full segment to attach it to.
type pendingPart struct {
	uri         string
	durationSec float64
	independent bool
}

// AddPart appends a low-latency part (spec §4.6 "add_part"); the
// library assigns it to the last full segment or the pending next one
// based on URI (AppendPartialSegment). The library can only attach a
// partial segment to an already-appended MediaSegment (it returns
// ErrPlaylistEmpty otherwise), so a part arriving before the first
// segment exists is buffered and replayed once AddSegment opens one
// (spec §4.6 "open a pending segment if none exists").
func (p *Playlist) AddPart(uri string, durationSec float64, independent bool) {
	if durationSec > p.partTargetDurationSec {
		p.partTargetDurationSec = durationSec
	}
	if len(p.segments) == 0 {
		p.pendingParts = append(p.pendingParts, pendingPart{uri: uri, durationSec: durationSec, independent: independent})
		return
	}
	p.appendPart(uri, durationSec, independent)
}

func (p *Playlist) appendPart(uri string, durationSec float64, independent bool) {
	_ = p.mp.AppendPartial(uri, durationSec, independent)
	n := len(p.segments)
	p.segments[n-1].Parts = append(p.segments[n-1].Parts, hbase.Part{
		URI:          uri,
		Duration:     durationSec,
		SegmentIndex: p.segments[n-1].Index,
		PartIndex:    len(p.segments[n-1].Parts),
		Independent:  independent,
	})
}

// SetPreloadHint advertises the next part expected to be produced
// (spec §6 "EXT-X-PRELOAD-HINT").
func (p *Playlist) SetPreloadHint(uri string) {
	p.mp.SetPreloadHint("PART", uri)
}

// LastPart returns (segment_index, part_index_within_segment) for
// RENDITION-REPORT cross-references (spec §4.6 "last_part()").
func (p *Playlist) LastPart() (segmentIndex, partIndex int) {
	if len(p.segments) == 0 {
		return 0, 0
	}
	last := p.segments[len(p.segments)-1]
	return last.Index, len(last.Parts)
}

// Bandwidth returns (avg_bps, peak_bps) across the current window
// (spec §4.6 "bandwidth()").
func (p *Playlist) Bandwidth() (avgBPS, peakBPS uint32) {
	if p.totalDuration == 0 {
		return 0, 0
	}
	avg := float64(p.totalBytes) * 8 / p.totalDuration
	return uint32(avg), uint32(p.peakBPS)
}

// Close appends #EXT-X-ENDLIST (spec §4.7 "close").
func (p *Playlist) Close() {
	p.mp.Close()
}

// Encode serializes the media playlist, appending an
// EXT-X-RENDITION-REPORT line by hand afterward since the wired
// serializer carries no support for it at all (spec §6).
func (p *Playlist) Encode(renditionReportURI string) []byte {
	buf := p.mp.Encode()
	out := buf.Bytes()
	if renditionReportURI != "" {
		segIdx, partIdx := p.LastPart()
		extra := fmt.Sprintf("#EXT-X-RENDITION-REPORT:URI=%q,LAST-MSN=%d,LAST-PART=%d\n",
			renditionReportURI, segIdx, partIdx)
		out = append(out, []byte(extra)...)
	}
	return out
}

// SetServerControl wires CAN-BLOCK-RELOAD (spec §6 server_control).
func (p *Playlist) SetServerControl() {
	_ = p.mp.SetServerControl(&m3u8.ServerControl{
		CanBlockReload: p.serverControl.CanBlockReload,
	})
}

// MediaSequence and DiscontinuitySequence expose the library's own
// counters for WriterCore's playlist-header bookkeeping.
func (p *Playlist) MediaSequence() uint64         { return p.mp.SeqNo }
func (p *Playlist) DiscontinuitySequence() uint64 { return p.mp.DiscontinuitySeq }

// Count reports how many segments are currently retained.
func (p *Playlist) Count() int { return len(p.segments) }
