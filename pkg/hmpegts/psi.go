// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hmpegts implements the MPEG-TS path of TracksMuxer (spec
// §4.5): PAT/PMT PSI sections, PES packetization, 188-byte TS
// packets. Grounded on the teacher's pkg/mpegts (psi.go's bit-writer
// PSI encoder, pat.go/pmt.go's table field layout, pack.go's
// Frame.Pack TS packetizer), generalized from a single fixed
// audio+video stream pair to N elementary streams with continuity
// counters tracked per PID.
package hmpegts

import (
	"hash/crc32"

	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabits"
)

const (
	PidPAT = 0x0000
	PidPMT = 0x1000

	// firstStreamPID is the PCR PID and the PID of the first
	// elementary stream added to the PMT; each subsequent track gets
	// the next PID (spec §4.5 "PCR PID 0x100, one elementary stream
	// per track starting at PID 0x100").
	firstStreamPID = 0x100
)

// Stream types, ISO/IEC 13818-1 table 2-34.
const (
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
	StreamTypeAAC  uint8 = 0x0F
)

func calcCRC32(b []byte) uint32 {
	table := crc32.MakeTable(crc32.IEEE)
	return crc32.Update(0xffffffff, table, b)
}

// BuildPAT encodes a single-program PAT section: program 1 maps to
// pmtPID (spec §4.5 "program 1 → PMT PID 0x1000").
func BuildPAT(pmtPID uint16) []byte {
	section := make([]byte, 8+4+4) // header fields + one program entry + crc32
	bw := nazabits.NewBitWriter(section)

	bw.WriteBits8(8, 0x00) // table_id: program_association_section
	bw.WriteBit(1)         // section_syntax_indicator
	bw.WriteBit(0)
	bw.WriteBits8(2, 0x3)
	sectionLength := uint16(5 + 4 + 4) // syntax section header + 1 program + crc32
	bw.WriteBits16(12, sectionLength)
	bw.WriteBits16(16, 1) // transport_stream_id
	bw.WriteBits8(2, 0x3)
	bw.WriteBits8(5, 0) // version_number
	bw.WriteBit(1)      // current_next_indicator
	bw.WriteBits8(8, 0) // section_number
	bw.WriteBits8(8, 0) // last_section_number
	bw.WriteBits16(16, 1)
	bw.WriteBits8(3, 0x7)
	bw.WriteBits16(13, pmtPID)

	crcInput := section[:8+4]
	crc := calcCRC32(crcInput)
	bele.LePutUint32(section[8+4:], crc)
	return prependPointerField(section)
}

// StreamInfo describes one elementary stream's PMT entry.
type StreamInfo struct {
	StreamType uint8
	PID        uint16
}

// BuildPMT encodes a PMT section listing streams, with pcrPID as the
// program's PCR carrier (spec §4.5).
func BuildPMT(pcrPID uint16, streams []StreamInfo) []byte {
	bodyLen := 12 + 5*len(streams) + 4 // header(12) + N*entry(5) + crc32(4)
	section := make([]byte, bodyLen)
	bw := nazabits.NewBitWriter(section)

	bw.WriteBits8(8, 0x02) // table_id: TS_program_map_section
	bw.WriteBit(1)
	bw.WriteBit(0)
	bw.WriteBits8(2, 0x3)
	sectionLength := uint16(12 - 3 + 5*len(streams) + 4)
	bw.WriteBits16(12, sectionLength)
	bw.WriteBits16(16, 1) // program_number
	bw.WriteBits8(2, 0x3)
	bw.WriteBits8(5, 0)
	bw.WriteBit(1)
	bw.WriteBits8(8, 0)
	bw.WriteBits8(8, 0)
	bw.WriteBits8(3, 0x7)
	bw.WriteBits16(13, pcrPID)
	bw.WriteBits8(4, 0xf)
	bw.WriteBits16(12, 0) // program_info_length

	for _, s := range streams {
		bw.WriteBits8(8, s.StreamType)
		bw.WriteBits8(3, 0x7)
		bw.WriteBits16(13, s.PID)
		bw.WriteBits8(4, 0xf)
		bw.WriteBits16(12, 0) // ES_info_length
	}

	crc := calcCRC32(section[:bodyLen-4])
	bele.LePutUint32(section[bodyLen-4:], crc)
	return prependPointerField(section)
}

func prependPointerField(section []byte) []byte {
	out := make([]byte, 0, len(section)+1)
	out = append(out, 0x00) // pointer_field
	out = append(out, section...)
	return out
}
