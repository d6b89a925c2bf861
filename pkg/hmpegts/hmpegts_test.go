// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hmpegts

import (
	"hash/crc32"
	"testing"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyCRC32(t *testing.T, section []byte) {
	t.Helper()
	require.True(t, len(section) >= 5, "section too short to carry a CRC")
	body := section[1 : len(section)-4] // strip pointer_field and trailing crc32
	table := crc32.MakeTable(crc32.IEEE)
	want := crc32.Update(0xffffffff, table, body)
	got := uint32(section[len(section)-4]) | uint32(section[len(section)-3])<<8 |
		uint32(section[len(section)-2])<<16 | uint32(section[len(section)-1])<<24
	assert.Equal(t, want, got, "BuildPAT/PMT crc32 field must match a fresh checksum of the preceding bytes")
}

func TestBuildPAT_PointerFieldAndCRC(t *testing.T) {
	pat := BuildPAT(PidPMT)
	require.NotEmpty(t, pat)
	assert.Equal(t, byte(0x00), pat[0], "pointer_field")
	verifyCRC32(t, pat)
}

func TestBuildPMT_PointerFieldAndCRCAcrossMultipleStreams(t *testing.T) {
	pmt := BuildPMT(firstStreamPID, []StreamInfo{
		{StreamType: StreamTypeH264, PID: firstStreamPID},
		{StreamType: StreamTypeAAC, PID: firstStreamPID + 1},
	})
	require.NotEmpty(t, pmt)
	assert.Equal(t, byte(0x00), pmt[0])
	verifyCRC32(t, pmt)
}

func TestPackFrame_SingleSmallFrameFitsOnePacket(t *testing.T) {
	var cc uint8
	frame := Frame{Pts: 1000, Dts: 1000, Pid: firstStreamPID, Sid: StreamIDVideo, Key: true, Raw: []byte{0x01, 0x02, 0x03}}
	out := PackFrame(frame, &cc)

	require.Len(t, out, packetSize, "small frame packs into exactly one TS packet")
	assert.Equal(t, byte(syncByte), out[0])
	assert.Equal(t, byte(1), cc&0x0f, "continuity counter advances once")
}

func TestPackFrame_LargeFrameSpansMultiplePackets(t *testing.T) {
	var cc uint8
	raw := make([]byte, packetSize*3) // comfortably larger than one packet's payload capacity
	frame := Frame{Pts: 1000, Dts: 1000, Pid: firstStreamPID, Sid: StreamIDVideo, Key: false, Raw: raw}
	out := PackFrame(frame, &cc)

	assert.Equal(t, 0, len(out)%packetSize, "output is always a whole number of TS packets")
	assert.Greater(t, len(out)/packetSize, 1)
	for i := 0; i < len(out); i += packetSize {
		assert.Equal(t, byte(syncByte), out[i], "every packet starts with the sync byte")
	}
}

func TestPackFrame_ContinuityCounterWrapsModulo16(t *testing.T) {
	cc := uint8(15)
	frame := Frame{Pid: firstStreamPID, Sid: StreamIDVideo, Raw: []byte{0x01}}
	out := PackFrame(frame, &cc)
	assert.Equal(t, uint8(16), cc, "the raw counter is free-running")
	assert.Equal(t, byte(0), out[3]&0x0f, "the packet's 4-bit continuity_counter wraps to 0")
}

func videoTrack() hbase.Track {
	return hbase.Track{ID: "v", Kind: hbase.TrackKindVideo, Codec: hbase.CodecH264, Timescale: 90000}
}

func TestMuxer_GetInitHeaderAlwaysNil(t *testing.T) {
	m := NewMuxer([]hbase.Track{videoTrack()})
	assert.Nil(t, m.GetInitHeader())
}

func TestMuxer_FlushSegment_PrependsPATAndPMT(t *testing.T) {
	m := NewMuxer([]hbase.Track{videoTrack()})
	m.PushSample("v", hbase.Sample{Dts: 0, Pts: 0, Sync: true}, []byte{0x01, 0x02})
	out := m.FlushSegment()

	require.Equal(t, 0, len(out)%packetSize)
	require.GreaterOrEqual(t, len(out)/packetSize, 3, "PAT + PMT + at least one sample packet")

	patPacket := out[:packetSize]
	pmtPacket := out[packetSize : 2*packetSize]
	assert.Equal(t, byte(syncByte), patPacket[0])
	assert.Equal(t, uint16(PidPAT), pidOf(patPacket))
	assert.Equal(t, byte(syncByte), pmtPacket[0])
	assert.Equal(t, uint16(PidPMT), pidOf(pmtPacket))
}

func TestMuxer_FlushSegment_EmptySegmentStillEmitsPATPMT(t *testing.T) {
	m := NewMuxer([]hbase.Track{videoTrack()})
	out := m.FlushSegment()
	assert.Equal(t, 0, len(out)%packetSize)
	assert.GreaterOrEqual(t, len(out)/packetSize, 2)
}

func pidOf(packet []byte) uint16 {
	return uint16(packet[1]&0x1f)<<8 | uint16(packet[2])
}
