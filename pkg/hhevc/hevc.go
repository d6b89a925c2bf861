// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hhevc implements the H.265 slice of SampleProcessor (spec
// §4.1). NALU splitting follows the same Annex-B convention as
// pkg/havc; the teacher only stubs HEVC support (pkg/hevc.CalcNALUType)
// so SPS profile/tier/level parsing here is written in the bit-reader
// idiom of the teacher's pkg/avc/beta.go, generalized to HEVC's
// profile_tier_level() syntax.
package hhevc

import "github.com/q191201771/naza/pkg/nazabits"

// NALU unit types, <ITU-T H.265> table 7-1.
const (
	NALUTypeVPS uint8 = 32
	NALUTypeSPS uint8 = 33
	NALUTypePPS uint8 = 34
	NALUTypeAUD uint8 = 35

	naluTypeIRAPStart uint8 = 16
	naluTypeIRAPEnd   uint8 = 23
)

// AUDNALU is the HEVC Access-Unit Delimiter, prepended to MPEG-TS
// output when the sample doesn't already start with one (spec §4.1).
var AUDNALU = append(append([]byte{}, NALUStartCode4...), 0x46, 0x01, 0x60)

var (
	NALUStartCode3 = []byte{0x00, 0x00, 0x01}
	NALUStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// NALUType returns the 6-bit nal_unit_type from a 2-byte HEVC NALU
// header.
func NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return (nalu[0] >> 1) & 0x3f
}

// SplitNALUs splits an Annex-B byte stream into individual NALUs.
func SplitNALUs(b []byte) [][]byte {
	var nalus [][]byte
	starts := findStartCodes(b)
	for i, s := range starts {
		bodyStart := s.pos + s.len
		var bodyEnd int
		if i+1 < len(starts) {
			bodyEnd = starts[i+1].pos
		} else {
			bodyEnd = len(b)
		}
		if bodyStart < bodyEnd {
			nalus = append(nalus, b[bodyStart:bodyEnd])
		}
	}
	return nalus
}

type startCode struct{ pos, len int }

func findStartCodes(b []byte) []startCode {
	var out []startCode
	i := 0
	for i+3 <= len(b) {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			out = append(out, startCode{i, 3})
			i += 3
			continue
		}
		if i+4 <= len(b) && b[i] == 0 && b[i+1] == 0 && b[i+2] == 0 && b[i+3] == 1 {
			out = append(out, startCode{i, 4})
			i += 4
			continue
		}
		i++
	}
	return out
}

// IsKeyframe reports whether any NALU is an IRAP picture (types 16-23).
func IsKeyframe(nalus [][]byte) bool {
	for _, n := range nalus {
		t := NALUType(n)
		if t >= naluTypeIRAPStart && t <= naluTypeIRAPEnd {
			return true
		}
	}
	return false
}

// ExtractParamSets pulls VPS/SPS/PPS NALUs out of a sample.
func ExtractParamSets(nalus [][]byte) (vps, sps, pps []byte) {
	for _, n := range nalus {
		switch NALUType(n) {
		case NALUTypeVPS:
			vps = append([]byte(nil), n...)
		case NALUTypeSPS:
			sps = append([]byte(nil), n...)
		case NALUTypePPS:
			pps = append([]byte(nil), n...)
		}
	}
	return
}

// ToLengthPrefixed re-emits NALUs as [u32 big-endian length][nalu]...
// for fMP4. When dropParamSets is set it drops VPS/SPS/PPS and AUD
// (parameter sets live in the init header); otherwise every NALU is kept.
func ToLengthPrefixed(nalus [][]byte, dropParamSets bool) []byte {
	out := make([]byte, 0, 256)
	var hdr [4]byte
	for _, n := range nalus {
		if dropParamSets {
			switch NALUType(n) {
			case NALUTypeVPS, NALUTypeSPS, NALUTypePPS, NALUTypeAUD:
				continue
			}
		}
		be32put(hdr[:], uint32(len(n)))
		out = append(out, hdr[:]...)
		out = append(out, n...)
	}
	return out
}

func be32put(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// ToAnnexB re-emits NALUs with Annex-B start codes for MPEG-TS,
// prepending an AUD when absent and VPS/SPS/PPS ahead of the first
// IRAP of the sample.
func ToAnnexB(nalus [][]byte, vps, sps, pps []byte) []byte {
	out := make([]byte, 0, 256)
	audPresent := len(nalus) > 0 && NALUType(nalus[0]) == NALUTypeAUD
	if !audPresent {
		out = append(out, AUDNALU...)
	}
	paramSetsSent := false
	for i, n := range nalus {
		t := NALUType(n)
		switch t {
		case NALUTypeVPS, NALUTypeSPS, NALUTypePPS:
			continue
		case NALUTypeAUD:
			if i > 0 {
				continue
			}
		}
		if t >= naluTypeIRAPStart && t <= naluTypeIRAPEnd && !paramSetsSent {
			if len(vps) > 0 {
				out = append(out, NALUStartCode4...)
				out = append(out, vps...)
			}
			out = append(out, NALUStartCode4...)
			out = append(out, sps...)
			out = append(out, NALUStartCode4...)
			out = append(out, pps...)
			paramSetsSent = true
		}
		out = append(out, NALUStartCode4...)
		out = append(out, n...)
	}
	return out
}

// profileTierLevel holds the fields needed to build the RFC 6381
// "hvc1.{...}" codec string (spec §6).
type profileTierLevel struct {
	generalProfileSpace   uint8
	generalTierFlag       uint8
	generalProfileIDC     uint8
	generalProfileCompat  uint32
	generalConstraintFlag uint64 // 48 bits
	generalLevelIDC       uint8
}

// parseSPS reads just enough of an HEVC SPS RBSP (after the 2-byte
// NAL header) to fill profile_tier_level; it does not decode the
// remaining SPS fields (spec §4.1 only needs this for mime strings).
func parseSPS(rbsp []byte) (profileTierLevel, bool) {
	var pt profileTierLevel
	if len(rbsp) < 13 {
		return pt, false
	}
	br := nazabits.NewBitReader(rbsp)
	br.SkipBits(4) // sps_video_parameter_set_id
	maxSubLayersMinus1, _ := br.ReadBits8(3)
	br.SkipBits(1) // sps_temporal_id_nesting_flag

	pt.generalProfileSpace, _ = br.ReadBits8(2)
	pt.generalTierFlag, _ = br.ReadBits8(1)
	pt.generalProfileIDC, _ = br.ReadBits8(5)
	compat, _ := br.ReadBits32(32)
	pt.generalProfileCompat = compat

	// progressive/interlaced/non_packed/frame_only (4 bits) +
	// 43 reserved/constraint bits + general_reserved_zero_bit = 48 bits total.
	hi, _ := br.ReadBits32(32)
	lo, _ := br.ReadBits16(16)
	pt.generalConstraintFlag = uint64(hi)<<16 | uint64(lo)

	if maxSubLayersMinus1 > 0 {
		// sub-layer profile/level flags are out of scope for the
		// mime string (only the general_* fields are used).
	}

	levelIDC, err := br.ReadBits8(8)
	if err != nil {
		return pt, false
	}
	pt.generalLevelIDC = levelIDC
	return pt, true
}

// Mime builds "hvc1.{profile_space}{profile_idc}.{compat-hex}.{tier}{level}.{constraint-hex}"
// from a raw SPS NALU (including its 2-byte NAL header), per spec §6.
func Mime(sps []byte) string {
	if len(sps) < 2 {
		return ""
	}
	pt, ok := parseSPS(sps[2:])
	if !ok {
		return ""
	}

	spaceLetter := ""
	switch pt.generalProfileSpace {
	case 1:
		spaceLetter = "A"
	case 2:
		spaceLetter = "B"
	case 3:
		spaceLetter = "C"
	}

	// general_profile_compatibility_flags is mirrored bit-for-bit into
	// the reversed-bit-order hex form used by every HEVC mime-string
	// generator (ffmpeg, bento4, gpac).
	reversed := reverseBits32(pt.generalProfileCompat)

	tier := "L"
	if pt.generalTierFlag == 1 {
		tier = "H"
	}

	constraintHex := formatConstraintFlags(pt.generalConstraintFlag)

	out := "hvc1." + spaceLetter
	out += itoa(int(pt.generalProfileIDC))
	out += "." + toHexTrim(reversed)
	out += "." + tier + itoa(int(pt.generalLevelIDC))
	if constraintHex != "" {
		out += "." + constraintHex
	}
	return out
}

func reverseBits32(v uint32) uint32 {
	var r uint32
	for i := 0; i < 32; i++ {
		r = (r << 1) | (v & 1)
		v >>= 1
	}
	return r
}

func toHexTrim(v uint32) string {
	const hex = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	n := 0
	for v > 0 {
		buf[n] = hex[v&0xf]
		v >>= 4
		n++
	}
	// reverse
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = buf[n-1-i]
	}
	return string(out)
}

func formatConstraintFlags(v uint64) string {
	if v == 0 {
		return ""
	}
	var bytes [6]byte
	for i := 0; i < 6; i++ {
		bytes[i] = byte(v >> (40 - 8*i))
	}
	last := -1
	for i := 5; i >= 0; i-- {
		if bytes[i] != 0 {
			last = i
			break
		}
	}
	if last == -1 {
		return ""
	}
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, (last+1)*3)
	for i := 0; i <= last; i++ {
		if i > 0 {
			out = append(out, '.')
		}
		out = append(out, hex[bytes[i]>>4], hex[bytes[i]&0xf])
	}
	return string(out)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
