// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hwriter

import (
	"strings"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hmux"
	"github.com/chefstream/hlscore/pkg/hplaylist"
	"github.com/chefstream/hlscore/pkg/hqueue"
	"github.com/chefstream/hlscore/pkg/hstorage"
	"github.com/q191201771/naza/pkg/nazalog"
)

// variant is one Variant & Playlist state machine (spec §4.6) plus
// the muxer and optional part queue feeding it. It implements
// hqueue.PartSink directly; group implements hqueue.Sink on its
// members' behalf since several variants can share one SampleQueue
// (spec §4.7 point 3).
type variant struct {
	id  string
	cfg hbase.VariantConfig

	muxer     *hmux.Muxer
	playlist  *hplaylist.Playlist
	storage   hstorage.Storage
	partQueue *hqueue.PartQueue

	core  *WriterCore
	group *group

	leadTrackID string // this variant's own lead track, for part duration/independent accounting

	pendingPayload map[string][][]byte // trackID -> FIFO of SampleProcessor output awaiting PushSample

	segIndex    int
	initIndex   int
	initEmitted bool
	forceInit   bool
	partIndex   int
	lastPartURI string

	lastPlaylistURI string
}

func newVariant(core *WriterCore, id string, cfg hbase.VariantConfig, storage hstorage.Storage) *variant {
	tracks := make([]hbase.Track, 0, len(cfg.Tracks))
	for _, t := range cfg.Tracks {
		tracks = append(tracks, *t)
	}
	for i := range tracks {
		trackID := tracks[i].ID
		userCB := tracks[i].OnStalled
		tracks[i].OnStalled = func(tr *hbase.Track) {
			nazalog.Warnf("[%s] track priv_data still missing after stall threshold. variant=%s track=%s", core.UniqueKey, id, trackID)
			if userCB != nil {
				userCB(tr)
			}
		}
	}
	lead := ""
	for _, t := range cfg.Tracks {
		if t.Kind == hbase.TrackKindVideo {
			lead = t.ID
			break
		}
	}
	if lead == "" && len(cfg.Tracks) > 0 {
		lead = cfg.Tracks[0].ID
	}
	return &variant{
		id:             id,
		cfg:            cfg,
		muxer:          hmux.New(core.cfg.SegmentType, tracks),
		playlist:       hplaylist.New(core.cfg.MaxSegments, core.cfg.ServerControl),
		storage:        storage,
		core:           core,
		leadTrackID:    lead,
		pendingPayload: make(map[string][][]byte),
	}
}

func (v *variant) hasVideoLead() bool {
	for _, t := range v.cfg.Tracks {
		if t.Kind == hbase.TrackKindVideo {
			return true
		}
	}
	return false
}

func (v *variant) lowLatency() bool {
	return v.core.cfg.SegmentType == hbase.SegmentTypeLowLatency
}

func (v *variant) enablePartQueue() {
	ticks := make(map[string]uint64, len(v.cfg.Tracks))
	for _, t := range v.cfg.Tracks {
		ticks[t.ID] = uint64(v.core.cfg.PartDurationMS) * uint64(t.Timescale) / 1000
	}
	v.partQueue = hqueue.NewPartQueue(v, ticks)
}

// deliverSample runs one already-queue-ordered sample through this
// variant's SampleProcessor output into its muxer and, for low
// latency, its part queue (spec §4.7 point 4).
func (v *variant) deliverSample(trackID string, s hbase.Sample) {
	payload := v.popPayload(trackID)
	v.maybeEmitInit()
	v.muxer.PushSample(trackID, s, payload)
	if v.partQueue != nil {
		v.partQueue.Push(trackID, s)
	}
}

func (v *variant) pushPayload(trackID string, payload []byte) {
	v.pendingPayload[trackID] = append(v.pendingPayload[trackID], payload)
}

func (v *variant) popPayload(trackID string) []byte {
	q := v.pendingPayload[trackID]
	if len(q) == 0 {
		return nil
	}
	p := q[0]
	v.pendingPayload[trackID] = q[1:]
	return p
}

// maybeEmitInit stores a new init header resource the first time the
// muxer has enough codec-private data, and again whenever a
// discontinuity forces a fresh one (spec §4.7 point 5, §6 "init_{n}.mp4").
func (v *variant) maybeEmitInit() {
	if v.core.cfg.SegmentType == hbase.SegmentTypeMPEGTS {
		return
	}
	if v.initEmitted && !v.forceInit {
		return
	}
	if !v.muxer.HasInitHeader() {
		return
	}
	bytes := v.muxer.GetInitHeader()
	name := initResourceName(v.core.instanceTag, v.initIndex)
	v.initIndex++
	uri, err := v.storage.StoreInitHeader(v.id, name, bytes)
	nazalog.Assert(nil, err)
	v.playlist.AddInitHeader(uri)
	v.initEmitted = true
	v.forceInit = false
}

// closeSegment flushes the muxer's currently open segment, persists
// it, updates the playlist, and deletes whatever the sliding window
// evicted (spec §4.6 "add_segment", §4.7 point 4).
func (v *variant) closeSegment(durTicks uint64, timescale uint32, firstDTS uint64) {
	bytes := v.muxer.FlushSegment()
	if v.partQueue != nil {
		v.partQueue.FlushSegment()
	}

	durSec := 0.0
	if timescale > 0 {
		durSec = float64(durTicks) / float64(timescale)
	}
	name := segmentResourceName(v.core.instanceTag, v.segIndex, v.core.cfg.SegmentType)
	uri, err := v.storage.StoreSegment(v.id, name, bytes)
	nazalog.Assert(nil, err)

	seg := hbase.Segment{
		Index:    v.segIndex,
		URI:      uri,
		Size:     int64(len(bytes)),
		Duration: durSec,
	}
	if wallMS, ok := v.core.segmentWallClock(firstDTS, timescale); ok {
		seg.HasWallClock = true
		seg.WallClock = wallMS
	}
	v.segIndex++
	v.partIndex = 0

	result := v.playlist.AddSegment(seg)
	if result.Discarded != nil {
		err := v.storage.DeleteSegment(v.id, hstorage.Meta{
			VariantID:    v.id,
			ResourceName: segmentResourceName(v.core.instanceTag, result.Discarded.Index, v.core.cfg.SegmentType),
		})
		nazalog.Assert(nil, err)
	}
	v.publishPlaylist()
	if v.core.cfg.OnSegmentCreated != nil {
		v.core.cfg.OnSegmentCreated(v.id, &seg)
	}
}

// PushPart implements hqueue.PartSink: a low-latency part window has
// closed across every track of this variant (spec §4.3, §4.6 "add_part").
func (v *variant) PushPart(groups []hqueue.PartGroup) {
	var durTicks uint64
	var timescale uint32
	independent := false
	basis := groups
	for _, g := range groups {
		if g.TrackID == v.leadTrackID {
			basis = []hqueue.PartGroup{g}
			break
		}
	}
	for _, g := range basis[:1] {
		for j, s := range g.Samples {
			durTicks += uint64(s.Duration)
			if j == 0 {
				independent = s.Sync
			}
		}
		if t, ok := v.muxer.Track(g.TrackID); ok {
			timescale = t.Timescale
		}
	}
	durSec := 0.0
	if timescale > 0 {
		durSec = float64(durTicks) / float64(timescale)
	}

	bytes := v.muxer.PushPart()
	name := partResourceName(v.core.instanceTag, v.segIndex, v.partIndex)
	uri, err := v.storage.StorePart(v.id, name, bytes)
	nazalog.Assert(nil, err)

	v.playlist.AddPart(uri, durSec, independent)
	part := hbase.Part{
		URI:          uri,
		Duration:     durSec,
		SegmentIndex: v.segIndex,
		PartIndex:    v.partIndex,
		Independent:  independent,
	}
	v.partIndex++
	v.lastPartURI = uri
	v.publishPlaylist()
	v.playlist.SetPreloadHint(nextPartHint(uri, v.core.instanceTag, v.segIndex, v.partIndex))
	if v.core.cfg.OnPartCreated != nil {
		v.core.cfg.OnPartCreated(v.id, &part)
	}
}

// nextPartHint derives the URI the next part will likely resolve to
// by swapping the resource-name suffix of the part just stored,
// avoiding a speculative extra Storage round trip purely to advertise
// EXT-X-PRELOAD-HINT (spec §6).
func nextPartHint(lastURI, instanceTag string, segIndex, nextPartIndex int) string {
	cur := partResourceName(instanceTag, segIndex, nextPartIndex-1)
	next := partResourceName(instanceTag, segIndex, nextPartIndex)
	if idx := strings.LastIndex(lastURI, cur); idx >= 0 {
		return lastURI[:idx] + next
	}
	return next
}

func (v *variant) publishPlaylist() {
	v.playlist.SetServerControl()
	renditionReportURI := ""
	if v.core.cfg.Type == hbase.WriterTypeMaster && v.lowLatency() {
		renditionReportURI = v.id
	}
	b := v.playlist.Encode(renditionReportURI)
	uri, err := v.storage.StorePlaylist(v.id, b)
	nazalog.Assert(nil, err)
	v.lastPlaylistURI = uri

	if v.core.cfg.Type == hbase.WriterTypeMaster && v.core.state != stateClosed {
		v.core.publishMaster()
	}
}

func (v *variant) close() {
	v.playlist.Close()
	v.publishPlaylist()
}
