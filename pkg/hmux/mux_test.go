// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hmux

import (
	"testing"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nalu(startCode []byte, typ uint8, payload ...byte) []byte {
	out := append([]byte{}, startCode...)
	out = append(out, typ)
	return append(out, payload...)
}

func annexBSample(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, n...)
	}
	return out
}

func videoTrack() hbase.Track {
	return hbase.Track{ID: "v", Kind: hbase.TrackKindVideo, Codec: hbase.CodecH264, Timescale: 90000, Width: 1280, Height: 720}
}

func audioTrack() hbase.Track {
	return hbase.Track{ID: "a", Kind: hbase.TrackKindAudio, Codec: hbase.CodecAAC, Timescale: 48000}
}

func startCode4() []byte { return []byte{0x00, 0x00, 0x00, 0x01} }

func TestMuxer_MPEGTS_GetInitHeaderIsNilAndHasInitHeaderIsAlwaysTrue(t *testing.T) {
	m := New(hbase.SegmentTypeMPEGTS, []hbase.Track{videoTrack()})
	assert.Nil(t, m.GetInitHeader())
	assert.True(t, m.HasInitHeader())
}

func TestMuxer_MPEGTS_ProcessSampleH264ProducesAnnexBWithAUD(t *testing.T) {
	m := New(hbase.SegmentTypeMPEGTS, []hbase.Track{videoTrack()})
	sc := startCode4()
	sps := nalu(sc, 7, 0x42, 0xC0, 0x1E)
	pps := nalu(sc, 8)
	idr := nalu(sc, 5, 0xAA)
	raw := annexBSample(sps, pps, idr)

	processed, payload := m.ProcessSample("v", hbase.Sample{Payload: raw})
	assert.True(t, processed.Sync, "IDR NALU marks the sample as sync")

	track, ok := m.Track("v")
	require.True(t, ok)
	assert.Equal(t, "avc1.42C01E", track.Mime)
	assert.Contains(t, string(payload), string([]byte{0x09}), "an AUD NALU (type 9) was prepended")
}

func TestMuxer_FMP4_ProcessSampleH264ProducesLengthPrefixedWithoutParamSets(t *testing.T) {
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack()})
	sc := startCode4()
	sps := nalu(sc, 7, 0x42, 0xC0, 0x1E)
	pps := nalu(sc, 8)
	idr := nalu(sc, 5, 0xAA)
	raw := annexBSample(sps, pps, idr)

	_, payload := m.ProcessSample("v", hbase.Sample{Payload: raw})
	// length-prefixed output keeps only the IDR (SPS/PPS dropped): 4-byte
	// length + 2-byte NALU (type byte + 0xAA).
	require.Len(t, payload, 4+2)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02}, payload[:4])
}

func TestMuxer_FMP4_HasInitHeaderFalseUntilSPSSeen(t *testing.T) {
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack()})
	assert.False(t, m.HasInitHeader())

	sc := startCode4()
	sps := nalu(sc, 7, 0x42, 0xC0, 0x1E)
	pps := nalu(sc, 8)
	idr := nalu(sc, 5)
	m.ProcessSample("v", hbase.Sample{Payload: annexBSample(sps, pps, idr)})
	assert.True(t, m.HasInitHeader())
}

func TestMuxer_FMP4_GetInitHeaderConfiguresEveryTrack(t *testing.T) {
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack(), audioTrack()})
	out := m.GetInitHeader()
	assert.NotEmpty(t, out, "ftyp+moov is produced even before priv_data arrives")
}

func TestMuxer_ProcessSample_UnknownTrackIsPassthrough(t *testing.T) {
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack()})
	s, payload := m.ProcessSample("nope", hbase.Sample{Payload: []byte{1, 2, 3}})
	assert.Nil(t, payload)
	assert.Equal(t, []byte{1, 2, 3}, s.Payload)
}

func TestMuxer_ProcessSample_AACMarksSyncAndDerivesMimeFromPrivData(t *testing.T) {
	track := audioTrack()
	track.PrivData = []byte{0x12, 0x10} // AudioObjectType=2, 44100, stereo
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{track})

	s, payload := m.ProcessSample("a", hbase.Sample{Payload: []byte{0x01, 0x02}})
	assert.True(t, s.Sync)
	assert.Equal(t, []byte{0x01, 0x02}, payload, "fmp4 backend strips ADTS, and raw input carries none")

	tr, _ := m.Track("a")
	assert.Equal(t, "mp4a.40.2", tr.Mime)
}

func TestMuxer_NoteSampleSeen_UnknownTrackIsNoop(t *testing.T) {
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack()})
	assert.NotPanics(t, func() { m.NoteSampleSeen("nope") })
}

func TestMuxer_PushPart_NilOnMPEGTSNonNilOnFMP4(t *testing.T) {
	ts := New(hbase.SegmentTypeMPEGTS, []hbase.Track{videoTrack()})
	assert.Nil(t, ts.PushPart())

	f := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack()})
	f.PushSample("v", hbase.Sample{Duration: 1000, Sync: true}, []byte{0x01})
	assert.NotEmpty(t, f.PushPart())
}

func TestMuxer_Track_UnknownIDReportsNotFound(t *testing.T) {
	m := New(hbase.SegmentTypeFMP4, []hbase.Track{videoTrack()})
	_, ok := m.Track("nope")
	assert.False(t, ok)
}
