// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hfmp4

import (
	"encoding/binary"
	"testing"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawBox struct {
	typ     string
	payload []byte
}

// walkBoxes splits a concatenation of top-level ISO BMFF boxes back
// into (type, payload) pairs, the inverse of box().
func walkBoxes(t *testing.T, b []byte) []rawBox {
	t.Helper()
	var out []rawBox
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), 8, "truncated box header")
		size := binary.BigEndian.Uint32(b[:4])
		require.LessOrEqual(t, int(size), len(b), "box claims to extend past buffer")
		out = append(out, rawBox{typ: string(b[4:8]), payload: b[8:size]})
		b = b[size:]
	}
	return out
}

func TestBox_WrapsSizeAndType(t *testing.T) {
	out := box("free", []byte{0xAA, 0xBB})
	require.Len(t, out, 8+2)
	assert.Equal(t, uint32(10), binary.BigEndian.Uint32(out[:4]))
	assert.Equal(t, "free", string(out[4:8]))
	assert.Equal(t, []byte{0xAA, 0xBB}, out[8:])
}

func TestFullBox_PrependsVersionAndFlags(t *testing.T) {
	out := fullBox("tkhd", 1, 0x000007, []byte{0xCC})
	boxes := walkBoxes(t, out)
	require.Len(t, boxes, 1)
	payload := boxes[0].payload
	require.Len(t, payload, 4+1)
	assert.Equal(t, byte(1), payload[0], "version")
	assert.Equal(t, []byte{0x00, 0x00, 0x07}, payload[1:4], "flags")
	assert.Equal(t, byte(0xCC), payload[4])
}

func TestConcatBoxes_PreservesOrderAndBytes(t *testing.T) {
	a := box("ftyp", []byte{1})
	b := box("moov", []byte{2, 3})
	out := concatBoxes(a, b)
	assert.Equal(t, append(append([]byte{}, a...), b...), out)
}

func videoCfg() TrackConfig {
	return TrackConfig{
		ID: "v", Kind: hbase.TrackKindVideo, Codec: hbase.CodecH264, Timescale: 90000,
		Width: 1280, Height: 720,
		SPS: []byte{0x67, 0x42, 0xC0, 0x1E, 0xAA}, PPS: []byte{0x68, 0xCE},
	}
}

func audioCfg() TrackConfig {
	return TrackConfig{
		ID: "a", Kind: hbase.TrackKindAudio, Codec: hbase.CodecAAC, Timescale: 48000,
		ASC: []byte{0x12, 0x10},
	}
}

func TestBuildInitSegment_TopLevelIsFtypThenMoov(t *testing.T) {
	out := BuildInitSegment([]TrackConfig{videoCfg(), audioCfg()})
	boxes := walkBoxes(t, out)
	require.Len(t, boxes, 2)
	assert.Equal(t, "ftyp", boxes[0].typ)
	assert.Equal(t, "moov", boxes[1].typ)
}

func TestBuildInitSegment_MoovHasOneTrakPerTrackPlusMvhdAndMvex(t *testing.T) {
	out := BuildInitSegment([]TrackConfig{videoCfg(), audioCfg()})
	boxes := walkBoxes(t, out)
	moov := boxes[1].payload
	children := walkBoxes(t, moov)

	var trakCount int
	var sawMvhd, sawMvex bool
	for _, c := range children {
		switch c.typ {
		case "trak":
			trakCount++
		case "mvhd":
			sawMvhd = true
		case "mvex":
			sawMvex = true
		}
	}
	assert.Equal(t, 2, trakCount)
	assert.True(t, sawMvhd)
	assert.True(t, sawMvex)
}

func TestBuildInitSegment_MvexHasOneTrexPerTrack(t *testing.T) {
	out := BuildInitSegment([]TrackConfig{videoCfg(), audioCfg()})
	boxes := walkBoxes(t, out)
	moov := walkBoxes(t, boxes[1].payload)
	var mvex []byte
	for _, c := range moov {
		if c.typ == "mvex" {
			mvex = c.payload
		}
	}
	require.NotNil(t, mvex)
	trexes := walkBoxes(t, mvex)
	require.Len(t, trexes, 2)
	assert.Equal(t, "trex", trexes[0].typ)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(trexes[0].payload[4:8]), "track_ID of the first registered track")
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(trexes[1].payload[4:8]))
}

func TestBuildAvcC_CarriesProfileCompatLevelFromSPS(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xC0, 0x1E, 0xAA}
	out := buildAvcC(sps, []byte{0x68, 0xCE})
	require.GreaterOrEqual(t, len(out), 6)
	assert.Equal(t, byte(1), out[0], "configurationVersion")
	assert.Equal(t, byte(0x42), out[1], "profile_idc")
	assert.Equal(t, byte(0xC0), out[2], "profile_compatibility")
	assert.Equal(t, byte(0x1E), out[3], "level_idc")
}

func TestBuildAvcC_TooShortSPSLeavesProfileFieldsZero(t *testing.T) {
	out := buildAvcC([]byte{0x67}, nil)
	assert.Equal(t, byte(0), out[1])
	assert.Equal(t, byte(0), out[2])
	assert.Equal(t, byte(0), out[3])
}

func TestEncodeDescriptorLength_SingleByteBelow0x80(t *testing.T) {
	assert.Equal(t, []byte{0x05}, encodeDescriptorLength(5))
}

func TestEncodeDescriptorLength_MultiByteAbove0x80(t *testing.T) {
	out := encodeDescriptorLength(200)
	require.Len(t, out, 2)
	assert.Equal(t, byte(0x80), out[0]&0x80, "continuation bit set on all but the last byte")
	assert.Equal(t, byte(0), out[1]&0x80, "last byte has no continuation bit")
}

func sampleFrag(trackID uint32, base uint64, sizes ...int) TrackFragment {
	tf := TrackFragment{TrackID: trackID, BaseMediaDecodeTime: base}
	for _, n := range sizes {
		tf.Samples = append(tf.Samples, FragmentSample{Duration: 3000, Size: uint32(n), Sync: n == sizes[0], Payload: make([]byte, n)})
	}
	return tf
}

func TestBuildFragment_TopLevelOrderIsStypSidxMoofMdat(t *testing.T) {
	out := BuildFragment(1, []TrackFragment{sampleFrag(1, 0, 10, 20)})
	boxes := walkBoxes(t, out)
	require.Len(t, boxes, 4)
	assert.Equal(t, "styp", boxes[0].typ)
	assert.Equal(t, "sidx", boxes[1].typ)
	assert.Equal(t, "moof", boxes[2].typ)
	assert.Equal(t, "mdat", boxes[3].typ)
}

func TestBuildFragment_MdatConcatenatesSamplePayloadsInOrder(t *testing.T) {
	tf := sampleFrag(1, 0, 3, 5)
	tf.Samples[0].Payload = []byte{0x01, 0x02, 0x03}
	tf.Samples[1].Payload = []byte{0x0A, 0x0B, 0x0C, 0x0D, 0x0E}
	out := BuildFragment(1, []TrackFragment{tf})
	boxes := walkBoxes(t, out)
	mdat := boxes[3].payload
	assert.Equal(t, append(append([]byte{}, tf.Samples[0].Payload...), tf.Samples[1].Payload...), mdat)
}

func TestBuildFragment_TrunSampleCountMatchesInput(t *testing.T) {
	tf := sampleFrag(1, 0, 4, 4, 4)
	out := BuildFragment(1, []TrackFragment{tf})
	boxes := walkBoxes(t, out)
	moof := walkBoxes(t, boxes[2].payload)
	var traf []byte
	for _, c := range moof {
		if c.typ == "traf" {
			traf = c.payload
		}
	}
	require.NotNil(t, traf)
	children := walkBoxes(t, traf)
	var trun []byte
	for _, c := range children {
		if c.typ == "trun" {
			trun = c.payload
		}
	}
	require.NotNil(t, trun)
	sampleCount := binary.BigEndian.Uint32(trun[4:8])
	assert.Equal(t, uint32(3), sampleCount)
}

func TestBuildFragment_TrunFlagsAndFieldLayout(t *testing.T) {
	// ISO/IEC 14496-12 §8.8.8: first-sample-flags-present (0x000004) and
	// sample-flags-present (0x000400) are mutually exclusive. Setting
	// both would insert a separate 4-byte first_sample_flags field right
	// after data_offset, shifting every subsequent sample field by 4
	// bytes; this pins the flags word and the resulting payload length
	// to the layout that actually gets written.
	tf := sampleFrag(1, 0, 4, 4)
	out := BuildFragment(1, []TrackFragment{tf})
	boxes := walkBoxes(t, out)
	moof := walkBoxes(t, boxes[2].payload)
	traf := walkBoxes(t, boxes2(t, moof, "traf"))
	trun := boxes2(t, traf, "trun")

	require.GreaterOrEqual(t, len(trun), 4, "version/flags word")
	flags := uint32(trun[1])<<16 | uint32(trun[2])<<8 | uint32(trun[3])
	assert.Zero(t, flags&0x000004, "first-sample-flags-present must not be set")
	assert.NotZero(t, flags&0x000400, "sample-flags-present must be set")
	assert.NotZero(t, flags&0x000001, "data-offset-present must be set")

	sampleCount := binary.BigEndian.Uint32(trun[4:8])
	require.Equal(t, uint32(2), sampleCount)
	// 4 (version/flags) + 4 (sample_count) + 4 (data_offset), then
	// exactly 16 bytes/sample -- no extra first_sample_flags field.
	assert.Len(t, trun, 12+int(sampleCount)*16)
}

func TestBuildFragment_TfdtCarriesBaseMediaDecodeTime(t *testing.T) {
	tf := sampleFrag(1, 123456, 4)
	out := BuildFragment(1, []TrackFragment{tf})
	boxes := walkBoxes(t, out)
	moof := walkBoxes(t, boxes[2].payload)
	traf := walkBoxes(t, boxes2(t, moof, "traf"))
	tfdt := boxes2(t, traf, "tfdt")
	require.Len(t, tfdt, 4+8)
	assert.Equal(t, uint64(123456), binary.BigEndian.Uint64(tfdt[4:]))
}

// boxes2 returns the payload of the first child box of the given type.
func boxes2(t *testing.T, boxes []rawBox, typ string) []byte {
	t.Helper()
	for _, b := range boxes {
		if b.typ == typ {
			return b.payload
		}
	}
	require.Fail(t, "box not found", typ)
	return nil
}

func TestBuildFragment_MfhdCarriesSequenceNumber(t *testing.T) {
	out := BuildFragment(7, []TrackFragment{sampleFrag(1, 0, 4)})
	boxes := walkBoxes(t, out)
	moof := walkBoxes(t, boxes[2].payload)
	mfhd := boxes2(t, moof, "mfhd")
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(mfhd[4:]))
}

func TestMuxer_GetInitHeader_FtypMoovEvenWithNoTracks(t *testing.T) {
	m := NewMuxer()
	out := m.GetInitHeader()
	boxes := walkBoxes(t, out)
	require.Len(t, boxes, 2, "ftyp+moov even with zero tracks")
}

func TestMuxer_GetInitHeader_CachesUntilSetTrackConfig(t *testing.T) {
	m := NewMuxer()
	m.SetTrackConfig(videoCfg())
	first := m.GetInitHeader()
	second := m.GetInitHeader()
	assert.Same(t, &first[0], &second[0], "cached byte slice is reused across calls")

	m.SetTrackConfig(audioCfg())
	third := m.GetInitHeader()
	boxes := walkBoxes(t, third)
	moov := walkBoxes(t, boxes[1].payload)
	var trakCount int
	for _, c := range moov {
		if c.typ == "trak" {
			trakCount++
		}
	}
	assert.Equal(t, 2, trakCount, "registering a second track invalidates the cache")
}

func TestMuxer_PushSample_IgnoresUnknownTrack(t *testing.T) {
	m := NewMuxer()
	m.SetTrackConfig(videoCfg())
	m.PushSample("nope", hbase.Sample{}, []byte{1, 2, 3})
	out := m.FlushSegment()
	boxes := walkBoxes(t, out)
	assert.Equal(t, 0, len(boxes[3].payload), "mdat stays empty when the only pushed sample targeted an unknown track")
}

func TestMuxer_FlushSegment_AccumulatesBaseMediaDecodeTimeAcrossSegments(t *testing.T) {
	m := NewMuxer()
	m.SetTrackConfig(videoCfg())
	m.PushSample("v", hbase.Sample{Duration: 3000, Sync: true}, []byte{1, 2})
	_ = m.FlushSegment()

	m.PushSample("v", hbase.Sample{Duration: 3000, Sync: true}, []byte{3, 4})
	out := m.FlushSegment()

	boxes := walkBoxes(t, out)
	moof := walkBoxes(t, boxes[2].payload)
	traf := boxes2(t, moof, "traf")
	trafChildren := walkBoxes(t, traf)
	tfdt := boxes2(t, trafChildren, "tfdt")
	assert.Equal(t, uint64(3000), binary.BigEndian.Uint64(tfdt[4:]), "second segment's base time carries the first segment's total duration")
}

func TestMuxer_PushPart_KeepsSegmentOpenAndAdvancesSequence(t *testing.T) {
	m := NewMuxer()
	m.SetTrackConfig(videoCfg())
	m.PushSample("v", hbase.Sample{Duration: 1500, Sync: true}, []byte{1})
	part := m.PushPart()
	partBoxes := walkBoxes(t, part)
	mfhd := boxes2(t, walkBoxes(t, partBoxes[2].payload), "mfhd")
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(mfhd[4:]))

	m.PushSample("v", hbase.Sample{Duration: 1500, Sync: false}, []byte{2})
	final := m.FlushSegment()
	finalBoxes := walkBoxes(t, final)
	finalMfhd := boxes2(t, walkBoxes(t, finalBoxes[2].payload), "mfhd")
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(finalMfhd[4:]), "FlushSegment's fragment sequence continues from PushPart's")

	traf := boxes2(t, walkBoxes(t, finalBoxes[2].payload), "traf")
	tfdt := boxes2(t, walkBoxes(t, traf), "tfdt")
	assert.Equal(t, uint64(1500), binary.BigEndian.Uint64(tfdt[4:]), "the part's sample duration already advanced the track's accumulated ticks")
}
