// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package main

import (
	"github.com/chefstream/hlscore/pkg/havc"
)

// synthTrack generates a deterministic, spec-shaped sample sequence for
// one track, standing in for the real codec source an integration
// would drive WriteSample from. It exists only so this binary has
// something to feed WriterCore with; production callers never use it.
type synthTrack struct {
	id        string
	timescale uint32
	codec     string // "h264", "aac"
	frameDur  uint32 // ticks per sample
	gopSize   int // samples between keyframes, video only

	dts   uint64
	index int
}

func newSynthVideoTrack(id string, fps int) *synthTrack {
	return &synthTrack{id: id, timescale: uint32(fps) * 1000, codec: "h264", frameDur: 1000, gopSize: fps * 2}
}

func newSynthAudioTrack(id string) *synthTrack {
	return &synthTrack{id: id, timescale: 48000, codec: "aac", frameDur: 1024}
}

// spsNALU/ppsNALU are a fixed, syntactically-plausible H.264 parameter
// set pair (profile/level bytes chosen so havc.Mime produces a
// well-formed "avc1.PPCCLL" string); their bitstream contents are never
// decoded, only their NALU-type byte and first three payload bytes.
var (
	spsNALU = []byte{0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40}
	ppsNALU = []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c}
)

// next returns the sample payload and metadata for this track's next
// access unit, in the Annex-B shape havc/haac's SampleProcessor
// expects as raw input. H.264 SPS/PPS are carried in-band on every
// keyframe and recovered by the pipeline; the AAC AudioSpecificConfig
// is set on the Track by buildVariantConfig instead.
func (t *synthTrack) next() (payload []byte, dts uint64, duration uint32, sync bool) {
	dts = t.dts
	switch t.codec {
	case "h264":
		sync = t.gopSize > 0 && t.index%t.gopSize == 0
		payload = buildAnnexBAccessUnit(sync)
	case "aac":
		sync = true
		payload = buildRawAACFrame()
	}
	t.dts += uint64(t.frameDur)
	t.index++
	return payload, dts, t.frameDur, sync
}

func buildAnnexBAccessUnit(keyframe bool) []byte {
	out := make([]byte, 0, 64)
	if keyframe {
		out = append(out, havc.NALUStartCode4...)
		out = append(out, spsNALU...)
		out = append(out, havc.NALUStartCode4...)
		out = append(out, ppsNALU...)
		out = append(out, havc.NALUStartCode4...)
		out = append(out, 0x65, 0x88, 0x84, 0x00) // IDR slice, type 5
		return out
	}
	out = append(out, havc.NALUStartCode4...)
	out = append(out, 0x41, 0x9a, 0x24, 0x6c) // non-IDR slice, type 1
	return out
}

// buildRawAACFrame returns a 100-byte filler raw_data_block; its
// contents are opaque payload as far as this pipeline is concerned.
func buildRawAACFrame() []byte {
	return make([]byte, 100)
}
