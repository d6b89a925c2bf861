// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hmux implements TracksMuxer, the façade that dispatches
// between the MPEG-TS and CMAF/fMP4 paths (hmpegts, hfmp4) per
// segment_type, and runs each sample through its codec's
// SampleProcessor before handing bytes to the selected container
// (spec §9 "Polymorphic containers... a common interface init,
// process_sample, push_sample, push_part, flush_segment,
// get_init_header").
package hmux

import (
	"github.com/chefstream/hlscore/pkg/haac"
	"github.com/chefstream/hlscore/pkg/hav1"
	"github.com/chefstream/hlscore/pkg/havc"
	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hhevc"
)

// Muxer is the TracksMuxer façade. Exactly one of ts/fmp4 is non-nil,
// selected at construction by Config.SegmentType.
type Muxer struct {
	segType hbase.SegmentType
	ts      *tsBackend
	fmp4    *fmp4Backend

	tracks map[string]*trackProcessor
	order  []string
}

type trackProcessor struct {
	track    hbase.Track
	sps, pps []byte // H.264
	vps      []byte // H.265 (+sps/pps reuse the same fields)
	asc      haac.AudioSpecificConfig
	ascValid bool
	seqHdr   []byte // AV1
}

// New builds a Muxer for tracks, selecting the MPEG-TS or CMAF
// backend per segType (spec §4.4/§4.5). SegmentTypeLowLatency uses the
// same fMP4 backend, which also provides partial-segment support
// (segment_type = low_latency implies fmp4 framing, spec §6).
func New(segType hbase.SegmentType, tracks []hbase.Track) *Muxer {
	m := &Muxer{
		segType: segType,
		tracks:  make(map[string]*trackProcessor),
	}
	for _, t := range tracks {
		m.tracks[t.ID] = &trackProcessor{track: t}
		m.order = append(m.order, t.ID)
	}
	switch segType {
	case hbase.SegmentTypeMPEGTS:
		m.ts = newTSBackend(tracks)
	default:
		m.fmp4 = newFMP4Backend()
	}
	return m
}

// ProcessSample runs s's raw payload through its track's
// SampleProcessor, recovering parameter sets / ADTS framing and
// detecting sync, and returns the bytes ready for the selected
// container plus the possibly-corrected sync flag (spec §4.1).
func (m *Muxer) ProcessSample(trackID string, s hbase.Sample) (processed hbase.Sample, containerPayload []byte) {
	tp, ok := m.tracks[trackID]
	if !ok {
		return s, nil
	}
	if s.Dts == 0 && s.Pts != 0 {
		s.Dts = s.Pts
	}

	switch tp.track.Codec {
	case hbase.CodecH264:
		return m.processH264(tp, s)
	case hbase.CodecH265:
		return m.processH265(tp, s)
	case hbase.CodecAAC:
		return m.processAAC(tp, s)
	case hbase.CodecAV1:
		return m.processAV1(tp, s)
	}
	return s, s.Payload
}

func (m *Muxer) processH264(tp *trackProcessor, s hbase.Sample) (hbase.Sample, []byte) {
	nalus := havc.SplitNALUs(s.Payload)
	s.Sync = havc.IsKeyframe(nalus)
	if sps, pps := havc.ExtractParamSets(nalus); len(sps) > 0 {
		tp.sps, tp.pps = sps, pps
		tp.track.Mime = havc.Mime(sps)
	}
	if m.ts != nil {
		return s, havc.ToAnnexB(nalus, tp.sps, tp.pps)
	}
	return s, havc.ToLengthPrefixed(nalus, true)
}

func (m *Muxer) processH265(tp *trackProcessor, s hbase.Sample) (hbase.Sample, []byte) {
	nalus := hhevc.SplitNALUs(s.Payload)
	s.Sync = hhevc.IsKeyframe(nalus)
	if vps, sps, pps := hhevc.ExtractParamSets(nalus); len(sps) > 0 {
		tp.vps, tp.sps, tp.pps = vps, sps, pps
		tp.track.Mime = hhevc.Mime(sps)
	}
	if m.ts != nil {
		return s, hhevc.ToAnnexB(nalus, tp.vps, tp.sps, tp.pps)
	}
	return s, hhevc.ToLengthPrefixed(nalus, true)
}

func (m *Muxer) processAAC(tp *trackProcessor, s hbase.Sample) (hbase.Sample, []byte) {
	s.Sync = true // every AAC raw_data_block is independently decodable
	if !tp.ascValid && len(tp.track.PrivData) > 0 {
		if asc, err := haac.ParseASC(tp.track.PrivData); err == nil {
			tp.asc = asc
			tp.ascValid = true
			tp.track.Mime = haac.Mime(asc)
		}
	}
	if m.ts != nil {
		if tp.ascValid {
			return s, haac.EnsureADTS(s.Payload, tp.asc)
		}
		return s, s.Payload
	}
	return s, haac.StripADTS(s.Payload)
}

func (m *Muxer) processAV1(tp *trackProcessor, s hbase.Sample) (hbase.Sample, []byte) {
	obus, err := hav1.SplitOBUs(s.Payload)
	if err != nil {
		return s, s.Payload
	}
	if hdr := hav1.ExtractSequenceHeader(obus); hdr != nil {
		tp.seqHdr = hdr
		tp.track.Mime = hav1.Mime(hdr)
		s.Sync = true
	}
	return s, s.Payload
}

// GetInitHeader returns the init segment bytes (nil for MPEG-TS, spec
// §4.5 "There is no init segment for MPEG-TS").
func (m *Muxer) GetInitHeader() []byte {
	if m.ts != nil {
		return nil
	}
	for _, id := range m.order {
		tp := m.tracks[id]
		m.fmp4.configureTrack(tp)
	}
	return m.fmp4.inner.GetInitHeader()
}

// HasInitHeader reports whether every track has supplied enough
// priv_data to emit a non-empty init header (spec §4.1 priv_data
// stall diagnostic feeds off the same per-track state).
func (m *Muxer) HasInitHeader() bool {
	if m.ts != nil {
		return true
	}
	for _, id := range m.order {
		tp := m.tracks[id]
		switch tp.track.Codec {
		case hbase.CodecH264, hbase.CodecH265:
			if len(tp.sps) == 0 {
				return false
			}
		case hbase.CodecAAC:
			if !tp.ascValid {
				return false
			}
		}
	}
	return true
}

// PushSample forwards one already-processed sample/payload pair to
// the selected container backend.
func (m *Muxer) PushSample(trackID string, s hbase.Sample, payload []byte) {
	if m.ts != nil {
		m.ts.inner.PushSample(trackID, s, payload)
		return
	}
	m.fmp4.inner.PushSample(trackID, s, payload)
}

// FlushSegment closes the current segment in the selected backend.
func (m *Muxer) FlushSegment() []byte {
	if m.ts != nil {
		return m.ts.inner.FlushSegment()
	}
	return m.fmp4.inner.FlushSegment()
}

// NoteSampleSeen forwards to the track's own stall bookkeeping (spec
// §3 "Track priv_data recovery is optimistic"); a no-op for unknown
// track ids.
func (m *Muxer) NoteSampleSeen(trackID string) {
	if tp, ok := m.tracks[trackID]; ok {
		tp.track.NoteSampleSeen()
	}
}

// Track returns trackID's current state, including the mime string
// derived once its first keyframe/parameter-set arrived (spec §6
// "Codec mime strings"); the multivariant aggregator reads this to
// build CODECS.
func (m *Muxer) Track(trackID string) (hbase.Track, bool) {
	tp, ok := m.tracks[trackID]
	if !ok {
		return hbase.Track{}, false
	}
	return tp.track, true
}
