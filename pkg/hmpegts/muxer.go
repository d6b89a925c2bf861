// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hmpegts

import "github.com/chefstream/hlscore/pkg/hbase"

type trackInfo struct {
	pid        uint16
	streamType uint8
	streamID   uint8
	cc         uint8
	kind       hbase.TrackKind
	timescale  uint32
}

// Muxer implements the MPEG-TS path of TracksMuxer (spec §4.5). It
// has no init segment: GetInitHeader always returns nil, per "There
// is no init segment for MPEG-TS".
type Muxer struct {
	patPMTPid uint16
	tracks    map[string]*trackInfo
	order     []string
	segment   []byte
	patCc     uint8
	pmtCc     uint8
}

// NewMuxer builds a Muxer for the given tracks, assigning PIDs
// starting at 0x100 in track-added order (spec §4.5).
func NewMuxer(tracks []hbase.Track) *Muxer {
	m := &Muxer{
		patPMTPid: PidPMT,
		tracks:    make(map[string]*trackInfo),
	}
	pid := uint16(firstStreamPID)
	for _, t := range tracks {
		ti := &trackInfo{
			pid:       pid,
			kind:      t.Kind,
			timescale: t.Timescale,
		}
		switch t.Codec {
		case hbase.CodecH264:
			ti.streamType = StreamTypeH264
			ti.streamID = StreamIDVideo
		case hbase.CodecH265:
			ti.streamType = StreamTypeH265
			ti.streamID = StreamIDVideo
		case hbase.CodecAAC:
			ti.streamType = StreamTypeAAC
			ti.streamID = StreamIDAudio
		}
		m.tracks[t.ID] = ti
		m.order = append(m.order, t.ID)
		pid++
	}
	return m
}

// GetInitHeader always returns nil for MPEG-TS (spec §4.5).
func (m *Muxer) GetInitHeader() []byte { return nil }

func (m *Muxer) pcrPID() uint16 {
	if len(m.order) == 0 {
		return firstStreamPID
	}
	return m.tracks[m.order[0]].pid
}

// beginSegment resets the segment buffer and prepends fresh PAT/PMT
// packets (spec §4.5 "Prepend PAT and PMT packets at the head of
// every segment").
func (m *Muxer) beginSegment() {
	m.segment = m.segment[:0]

	m.patCc++
	m.segment = append(m.segment, wrapPSIPacket(PidPAT, m.patCc, BuildPAT(PidPMT))...)

	streams := make([]StreamInfo, 0, len(m.order))
	for _, id := range m.order {
		t := m.tracks[id]
		streams = append(streams, StreamInfo{StreamType: t.streamType, PID: t.pid})
	}
	m.pmtCc++
	m.segment = append(m.segment, wrapPSIPacket(PidPMT, m.pmtCc, BuildPMT(m.pcrPID(), streams))...)
}

// PushSample rescales the sample's timestamps to the 90kHz TS clock
// and packetizes it (spec §4.5).
func (m *Muxer) PushSample(trackID string, s hbase.Sample, payload []byte) {
	if m.segment == nil {
		m.beginSegment()
	}
	t, ok := m.tracks[trackID]
	if !ok {
		return
	}
	frame := Frame{
		Pts: rescaleTo90k(s.Pts, t.timescale),
		Dts: rescaleTo90k(s.Dts, t.timescale),
		Pid: t.pid,
		Sid: t.streamID,
		Key: s.Sync,
		Raw: payload,
	}
	m.segment = append(m.segment, PackFrame(frame, &t.cc)...)
}

func rescaleTo90k(ts uint64, timescale uint32) uint64 {
	if timescale == 0 {
		return ts
	}
	return ts * 90000 / uint64(timescale)
}

// FlushSegment returns the accumulated TS packets for the closing
// segment and resets the buffer (a fresh PAT/PMT is emitted at the
// head of the next one).
func (m *Muxer) FlushSegment() []byte {
	if m.segment == nil {
		m.beginSegment()
	}
	out := m.segment
	m.segment = nil
	return out
}
