// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package haac implements the AAC slice of SampleProcessor (spec
// §4.1): ADTS detection, ADTS<->raw-frame conversion and
// AudioSpecificConfig (ASC) handling. Ported from the teacher's
// pkg/aac.AscContext, generalized from "RTMP seq header minus 2
// bytes" framing to a bare ASC byte slice stored as Track.PrivData.
package haac

import (
	"errors"

	"github.com/q191201771/naza/pkg/nazabits"
)

var ErrAAC = errors.New("hlscore/haac: malformed AAC data")

const (
	AdtsHeaderLength = 7

	SamplingFrequencyIndex48000 = 3
	SamplingFrequencyIndex44100 = 4
)

// AudioSpecificConfig is the 2-byte (minimum) ASC carried as codec
// private data (spec §3 "optional codec-private data").
type AudioSpecificConfig struct {
	AudioObjectType        uint8
	SamplingFrequencyIndex uint8
	ChannelConfiguration   uint8
}

// ParseASC decodes a raw AudioSpecificConfig.
func ParseASC(asc []byte) (AudioSpecificConfig, error) {
	var c AudioSpecificConfig
	if len(asc) < 2 {
		return c, ErrAAC
	}
	br := nazabits.NewBitReader(asc)
	c.AudioObjectType, _ = br.ReadBits8(5)
	c.SamplingFrequencyIndex, _ = br.ReadBits8(4)
	c.ChannelConfiguration, _ = br.ReadBits8(4)
	return c, nil
}

// Pack re-encodes an AudioSpecificConfig to its 2-byte wire form.
func (c AudioSpecificConfig) Pack() []byte {
	out := make([]byte, 2)
	bw := nazabits.NewBitWriter(out)
	bw.WriteBits8(5, c.AudioObjectType)
	bw.WriteBits8(4, c.SamplingFrequencyIndex)
	bw.WriteBits8(4, c.ChannelConfiguration)
	return out
}

// PackADTSHeader builds a 7-byte ADTS header for a raw AAC frame of
// frameLength bytes (header excluded), per ISO/IEC 14496-3 §1.A.2.
func (c AudioSpecificConfig) PackADTSHeader(frameLength int) []byte {
	out := make([]byte, AdtsHeaderLength)
	bw := nazabits.NewBitWriter(out)
	bw.WriteBits16(12, 0xFFF)               // syncword
	bw.WriteBits8(4, 0x1)                   // ID(1)+layer(2)+protection_absent(1)
	bw.WriteBits8(2, c.AudioObjectType-1)   // profile = AOT - 1
	bw.WriteBits8(4, c.SamplingFrequencyIndex)
	bw.WriteBits8(1, 0) // private_bit
	bw.WriteBits8(3, c.ChannelConfiguration)
	bw.WriteBits8(4, 0) // origin/copy, home, copyright id/start
	bw.WriteBits16(13, uint16(frameLength+AdtsHeaderLength))
	bw.WriteBits16(11, 0x7FF) // buffer fullness (VBR)
	bw.WriteBits8(2, 0)       // num_raw_data_blocks_in_frame - 1
	return out
}

// IsADTS detects the 12-bit 0xFFF sync word (spec §4.1).
func IsADTS(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xF0 == 0xF0
}

// StripADTS removes the (fixed 7-byte, no CRC) ADTS header, returning
// the raw AAC frame payload, for fMP4 output.
func StripADTS(b []byte) []byte {
	if !IsADTS(b) || len(b) < AdtsHeaderLength {
		return b
	}
	return b[AdtsHeaderLength:]
}

// EnsureADTS wraps a raw AAC frame in an ADTS header if it doesn't
// already carry one, constructing the header from asc (spec §4.1, for
// MPEG-TS output).
func EnsureADTS(raw []byte, asc AudioSpecificConfig) []byte {
	if IsADTS(raw) {
		return raw
	}
	hdr := asc.PackADTSHeader(len(raw))
	out := make([]byte, 0, len(hdr)+len(raw))
	out = append(out, hdr...)
	out = append(out, raw...)
	return out
}

var samplingFrequencies = map[uint8]int{
	0: 96000, 1: 88200, 2: 64000, 3: 48000,
	4: 44100, 5: 32000, 6: 24000, 7: 22050,
	8: 16000, 9: 12000, 10: 11025, 11: 8000, 12: 7350,
}

// SamplingFrequency resolves the sampling-frequency-index to Hz.
func (c AudioSpecificConfig) SamplingFrequency() (int, error) {
	f, ok := samplingFrequencies[c.SamplingFrequencyIndex]
	if !ok {
		return 0, ErrAAC
	}
	return f, nil
}

// Mime builds "mp4a.40.{audio_object_type}" (spec §6).
func Mime(asc AudioSpecificConfig) string {
	return "mp4a.40." + itoa(int(asc.AudioObjectType))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
