// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hfmp4

import "github.com/chefstream/hlscore/pkg/hbase"

type fmp4Track struct {
	cfg           TrackConfig
	accumTicks    uint64 // base_media_decode_time for the next fragment
	pending       []FragmentSample
}

// Muxer implements the CMAF/fMP4 path of TracksMuxer (spec §4.4).
// GetInitHeader returns the ftyp+moov bytes for whichever tracks have
// been registered via SetTrackConfig (ftyp+moov with no trak when none
// have).
type Muxer struct {
	tracks    map[string]*fmp4Track
	order     []string
	initBuilt bool
	initBytes []byte
	seqNum    uint32
}

// NewMuxer builds an empty Muxer; tracks are registered via
// SetTrackConfig once their priv_data is known (spec §4.1).
func NewMuxer() *Muxer {
	return &Muxer{tracks: make(map[string]*fmp4Track)}
}

// SetTrackConfig registers or updates a track's sample-entry inputs.
// The init segment is rebuilt lazily on the next GetInitHeader call.
func (m *Muxer) SetTrackConfig(cfg TrackConfig) {
	t, ok := m.tracks[cfg.ID]
	if !ok {
		t = &fmp4Track{}
		m.tracks[cfg.ID] = t
		m.order = append(m.order, cfg.ID)
	}
	t.cfg = cfg
	m.initBuilt = false
}

// GetInitHeader returns ftyp+moov for every registered track (spec
// §4.4 "once all tracks have priv_data").
func (m *Muxer) GetInitHeader() []byte {
	if m.initBuilt {
		return m.initBytes
	}
	cfgs := make([]TrackConfig, 0, len(m.order))
	for _, id := range m.order {
		cfgs = append(cfgs, m.tracks[id].cfg)
	}
	m.initBytes = BuildInitSegment(cfgs)
	m.initBuilt = true
	return m.initBytes
}

// PushSample buffers one sample's fragment entry; payload is the
// sample's length-prefixed (AVCC-style) bitstream from the relevant
// SampleProcessor, already stripped of parameter sets (spec §4.1).
func (m *Muxer) PushSample(trackID string, s hbase.Sample, payload []byte) {
	t, ok := m.tracks[trackID]
	if !ok {
		return
	}
	t.pending = append(t.pending, FragmentSample{
		Duration: s.Duration,
		Size:     uint32(len(payload)),
		Sync:     s.Sync,
		Payload:  payload,
	})
}

// PushPart drains every track's buffered samples since the last part
// or segment boundary into one in-flight sub-fragment with its own
// sequence number (spec §4.4 "Partial-segment support"); the segment
// itself stays open.
func (m *Muxer) PushPart() []byte {
	m.seqNum++
	perTrack := make(map[string][]FragmentSample, len(m.order))
	for _, id := range m.order {
		t := m.tracks[id]
		perTrack[id] = t.pending
		t.pending = nil
	}
	frags := m.buildFragmentsFrom(perTrack, true)
	return BuildFragment(m.seqNum, frags)
}

// FlushSegment wraps any unflushed buffered samples into a final
// fragment, appends it, and closes the segment, resetting each
// track's accumulated-ticks base for the next one (spec §4.4).
func (m *Muxer) FlushSegment() []byte {
	m.seqNum++
	perTrack := make(map[string][]FragmentSample, len(m.order))
	for _, id := range m.order {
		t := m.tracks[id]
		perTrack[id] = t.pending
	}
	frags := m.buildFragmentsFrom(perTrack, false)
	out := BuildFragment(m.seqNum, frags)

	for _, id := range m.order {
		t := m.tracks[id]
		for _, s := range t.pending {
			t.accumTicks += uint64(s.Duration)
		}
		t.pending = nil
	}
	return out
}

// buildFragmentsFrom translates string track IDs to the numeric
// box_ID assigned at init-segment build time (registration order,
// 1-based; see boxTrackIDs), since moof/traf/tfhd require a uint32
// track_ID while the rest of hlscore addresses tracks by string.
func (m *Muxer) buildFragmentsFrom(perTrack map[string][]FragmentSample, isPart bool) []TrackFragment {
	frags := make([]TrackFragment, 0, len(m.order))
	for i, id := range m.order {
		t := m.tracks[id]
		samples := perTrack[id]
		frags = append(frags, TrackFragment{
			TrackID:             uint32(i + 1),
			BaseMediaDecodeTime: t.accumTicks,
			Samples:             samples,
		})
		if isPart {
			for _, s := range samples {
				t.accumTicks += uint64(s.Duration)
			}
		}
	}
	return frags
}
