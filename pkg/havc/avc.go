// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package havc implements the H.264 slice of SampleProcessor (spec
// §4.1): NALU splitting on Annex-B start codes, SPS/PPS extraction,
// keyframe detection and the two output shapes (length-prefixed for
// fMP4, Annex-B for MPEG-TS). Grounded on the teacher's pkg/avc
// (NALU type table, ParseAVCSeqHeader) and pkg/hls/muxer.go's
// feedVideo (AUD insertion, SPS/PPS re-attachment ahead of IDR).
package havc

import "encoding/binary"

// NALU types, <ITU-T H.264> table 7-1.
const (
	NALUTypeSlice    uint8 = 1
	NALUTypeIDRSlice uint8 = 5
	NALUTypeSEI      uint8 = 6
	NALUTypeSPS      uint8 = 7
	NALUTypePPS      uint8 = 8
	NALUTypeAUD      uint8 = 9
)

// NALUStartCode3/4 are the Annex-B start code prefixes.
var (
	NALUStartCode3 = []byte{0x00, 0x00, 0x01}
	NALUStartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
)

// AUDNALU is the Access-Unit Delimiter NALU prepended to MPEG-TS
// output that doesn't already start with one (spec §4.1).
var AUDNALU = append(append([]byte{}, NALUStartCode4...), 0x09, 0xf0)

// NALUType returns the low 5 bits of the NALU header byte.
func NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1f
}

// SplitNALUs splits an Annex-B byte stream (3- or 4-byte start codes)
// into individual NALUs (start code stripped).
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

type startCode struct {
	pos int
	len int
}

func findStartCodes(b []byte) []startCode {
	var out []startCode
	i := 0
	for i+3 <= len(b) {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 1 {
			out = append(out, startCode{pos: i, len: 3})
			i += 3
			continue
		}
		if i+4 <= len(b) && b[i] == 0 && b[i+1] == 0 && b[i+2] == 0 && b[i+3] == 1 {
			out = append(out, startCode{pos: i, len: 4})
			i += 4
			continue
		}
		i++
	}
	return out
}

// IsKeyframe reports whether any NALU in the sample is an IDR slice.
func IsKeyframe(nalus [][]byte) bool {
	for _, n := range nalus {
		if NALUType(n) == NALUTypeIDRSlice {
			return true
		}
	}
	return false
}

// ExtractParamSets pulls SPS and PPS NALUs out of a sample's NALU
// list, if present.
func ExtractParamSets(nalus [][]byte) (sps, pps []byte) {
	for _, n := range nalus {
		switch NALUType(n) {
		case NALUTypeSPS:
			sps = append([]byte(nil), n...)
		case NALUTypePPS:
			pps = append([]byte(nil), n...)
		}
	}
	return
}

// ToLengthPrefixed re-emits NALUs as [u32 big-endian length][nalu]...
// for fMP4 (spec §4.1). When dropParamSets is set it drops AUD/SPS/PPS
// (those live in the CMAF init header / are redundant per-sample);
// otherwise every NALU is kept.
func ToLengthPrefixed(nalus [][]byte, dropParamSets bool) []byte {
	out := make([]byte, 0, 256)
	var hdr [4]byte
	for _, n := range nalus {
		if dropParamSets {
			switch NALUType(n) {
			case NALUTypeSPS, NALUTypePPS, NALUTypeAUD:
				continue
			}
		}
		binary.BigEndian.PutUint32(hdr[:], uint32(len(n)))
		out = append(out, hdr[:]...)
		out = append(out, n...)
	}
	return out
}

// ToAnnexB re-emits NALUs joined by Annex-B start codes for MPEG-TS,
// prepending an AUD when the sample doesn't already start with one and
// reattaching SPS/PPS ahead of each IDR (spec §4.1, teacher:
// pkg/hls/muxer.go feedVideo).
func ToAnnexB(nalus [][]byte, sps, pps []byte) []byte {
	out := make([]byte, 0, 256)
	audPresent := len(nalus) > 0 && NALUType(nalus[0]) == NALUTypeAUD
	if !audPresent {
		out = append(out, AUDNALU...)
	}
	spsppsSent := false
	for i, n := range nalus {
		switch NALUType(n) {
		case NALUTypeSPS, NALUTypePPS:
			continue
		case NALUTypeAUD:
			if i > 0 {
				continue
			}
		case NALUTypeIDRSlice:
			if !spsppsSent && len(sps) > 0 {
				out = append(out, NALUStartCode4...)
				out = append(out, sps...)
				out = append(out, NALUStartCode4...)
				out = append(out, pps...)
			}
			spsppsSent = true
		case NALUTypeSlice:
			spsppsSent = false
		}
		out = append(out, NALUStartCode4...)
		out = append(out, n...)
	}
	return out
}

// ParseAVCDecoderConfig parses an AVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §5.2.4), the shape a caller typically hands in as
// a Track's PrivData, recovering SPS/PPS. Grounded on the teacher's
// pkg/avc.ParseAVCSeqHeader, generalized from the RTMP-specific
// wrapper to a bare AVCDecoderConfigurationRecord.
func ParseAVCDecoderConfig(b []byte) (sps, pps []byte, ok bool) {
	if len(b) < 7 {
		return nil, nil, false
	}
	i := 5
	if i >= len(b) {
		return nil, nil, false
	}
	numSPS := int(b[i] & 0x1f)
	i++
	for n := 0; n < numSPS; n++ {
		if i+2 > len(b) {
			return nil, nil, false
		}
		l := int(binary.BigEndian.Uint16(b[i:]))
		i += 2
		if i+l > len(b) {
			return nil, nil, false
		}
		sps = append(sps, b[i:i+l]...)
		i += l
	}
	if i >= len(b) {
		return sps, pps, len(sps) > 0
	}
	numPPS := int(b[i] & 0x1f)
	i++
	for n := 0; n < numPPS; n++ {
		if i+2 > len(b) {
			return sps, pps, len(sps) > 0
		}
		l := int(binary.BigEndian.Uint16(b[i:]))
		i += 2
		if i+l > len(b) {
			return sps, pps, len(sps) > 0
		}
		pps = append(pps, b[i:i+l]...)
		i += l
	}
	return sps, pps, len(sps) > 0
}

// Mime builds the RFC 6381 "avc1.PPCCLL" codec string from the first
// three SPS bytes following the NAL header (profile_idc,
// constraint flags, level_idc) - a plain byte read, not a full SPS
// bit-parse (spec §6 "Codec mime strings").
func Mime(sps []byte) string {
	if len(sps) < 4 {
		return ""
	}
	const hex = "0123456789ABCDEF"
	b := sps[1:4]
	out := make([]byte, 0, 10+6)
	out = append(out, "avc1."...)
	for _, v := range b {
		out = append(out, hex[v>>4], hex[v&0xf])
	}
	return string(out)
}
