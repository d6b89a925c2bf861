// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hwriter

import (
	"strings"
	"testing"

	"github.com/chefstream/hlscore/pkg/havc"
	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthGen feeds deterministic H.264/AAC access units, standing in for
// a real codec source the way cmd/hlscored's synthTrack does.
type synthGen struct {
	dts      uint64
	frameDur uint32
	index    int
	gopSize  int
}

var (
	spsNALU = []byte{0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40}
	ppsNALU = []byte{0x68, 0xeb, 0xec, 0xb2, 0x2c}
)

func newVideoGen(fps int) *synthGen {
	return &synthGen{frameDur: 1000, gopSize: fps}
}

func (g *synthGen) nextVideo() (payload []byte, dts uint64, duration uint32, sync bool) {
	sync = g.index%g.gopSize == 0
	payload = buildAccessUnit(sync)
	dts = g.dts
	g.dts += uint64(g.frameDur)
	g.index++
	return payload, dts, g.frameDur, sync
}

func buildAccessUnit(keyframe bool) []byte {
	out := make([]byte, 0, 32)
	if keyframe {
		out = append(out, havc.NALUStartCode4...)
		out = append(out, spsNALU...)
		out = append(out, havc.NALUStartCode4...)
		out = append(out, ppsNALU...)
		out = append(out, havc.NALUStartCode4...)
		out = append(out, 0x65, 0x88, 0x84, 0x00)
		return out
	}
	out = append(out, havc.NALUStartCode4...)
	out = append(out, 0x41, 0x9a, 0x24, 0x6c)
	return out
}

func newAudioGen() *synthGen {
	return &synthGen{frameDur: 1024}
}

func (g *synthGen) nextAudio() (payload []byte, dts uint64, duration uint32) {
	payload = make([]byte, 100)
	dts = g.dts
	g.dts += uint64(g.frameDur)
	g.index++
	return payload, dts, g.frameDur
}

func videoTrack(id string) *hbase.Track {
	return &hbase.Track{ID: id, Kind: hbase.TrackKindVideo, Codec: hbase.CodecH264, Timescale: 30000}
}

func audioTrack(id string) *hbase.Track {
	return &hbase.Track{
		ID: id, Kind: hbase.TrackKindAudio, Codec: hbase.CodecAAC, Timescale: 48000,
		PrivData: []byte{0x12, 0x10},
	}
}

func mediaConfig() hbase.Config {
	return hbase.Config{
		Type: hbase.WriterTypeMedia, Mode: hbase.ModeLive, SegmentType: hbase.SegmentTypeFMP4,
		SegmentDurationMS: 2000, MaxSegments: 3, StorageDir: "mem",
	}
}

func TestWriterCore_SingleVariantProducesSegmentsAndPlaylist(t *testing.T) {
	storage := hstorage.NewMemStorage()
	w, err := New(mediaConfig(), storage)
	require.NoError(t, err)

	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video"), audioTrack("v-audio")},
	}))

	vgen := newVideoGen(30)
	agen := newAudioGen()
	// 30fps video at 1000 ticks/frame over a 30000 timescale means each
	// frame is 1/30s; 95 frames is just over 3s, more than one 2s segment.
	for i := 0; i < 95; i++ {
		payload, dts, dur, sync := vgen.nextVideo()
		w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: payload})
		// one 1024-tick AAC frame (48000 timescale) every other video frame; the audio timeline trails the video's
		if i%2 == 0 {
			payload, dts, dur := agen.nextAudio()
			w.WriteSample("v", "v-audio", hbase.Sample{Dts: dts, Duration: dur, Payload: payload})
		}
	}
	w.Close()

	var segCount, initCount int
	for k := range storage.Objects {
		switch {
		case strings.Contains(k, "segment_"):
			segCount++
		case strings.Contains(k, "init_"):
			initCount++
		}
	}
	assert.Greater(t, segCount, 0, "at least one segment should have been stored")
	assert.Equal(t, 1, initCount, "init header emitted exactly once absent a discontinuity")
	assert.NotEmpty(t, storage.Playlist["v"], "a media playlist should have been published")
	assert.Contains(t, string(storage.Playlist["v"]), "#EXT-X-ENDLIST", "Close() should terminate a live playlist")
}

func TestWriterCore_SlidingWindowEvictsOldestSegment(t *testing.T) {
	storage := hstorage.NewMemStorage()
	cfg := mediaConfig()
	cfg.MaxSegments = 3
	w, err := New(cfg, storage)
	require.NoError(t, err)
	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video")},
	}))

	vgen := newVideoGen(30)
	for i := 0; i < 30*10; i++ { // ~10 seconds, well past the 3-segment*2s window
		payload, dts, dur, sync := vgen.nextVideo()
		w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: payload})
	}
	w.Close()

	assert.NotEmpty(t, storage.Deleted, "segments older than the window should have been evicted")
}

func TestWriterCore_CloseIsIdempotent(t *testing.T) {
	storage := hstorage.NewMemStorage()
	w, err := New(mediaConfig(), storage)
	require.NoError(t, err)
	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video")},
	}))
	vgen := newVideoGen(30)
	payload, dts, dur, sync := vgen.nextVideo()
	w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: payload})

	w.Close()
	firstPlaylist := append([]byte(nil), storage.Playlist["v"]...)
	w.Close() // no-op, must not panic or re-flush
	assert.Equal(t, firstPlaylist, storage.Playlist["v"])
}

func TestWriterCore_AddVariantAfterWritingBeganIsStructuralError(t *testing.T) {
	storage := hstorage.NewMemStorage()
	w, err := New(mediaConfig(), storage)
	require.NoError(t, err)
	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video")},
	}))
	vgen := newVideoGen(30)
	payload, dts, dur, sync := vgen.nextVideo()
	w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: payload})

	err = w.AddVariant("late", hbase.VariantConfig{ID: "late", Tracks: []*hbase.Track{videoTrack("late-video")}})
	require.Error(t, err)
	var structErr *hbase.StructuralError
	assert.ErrorAs(t, err, &structErr)
}

func TestWriterCore_AddRenditionOnMediaWriterRejected(t *testing.T) {
	storage := hstorage.NewMemStorage()
	w, err := New(mediaConfig(), storage) // Type defaults to media
	require.NoError(t, err)
	err = w.AddRendition("aud", hbase.VariantConfig{ID: "aud", Tracks: []*hbase.Track{audioTrack("aud-a")}})
	require.Error(t, err)
}

func TestWriterCore_MasterWriterPublishesMultivariantPlaylist(t *testing.T) {
	storage := hstorage.NewMemStorage()
	cfg := mediaConfig()
	cfg.Type = hbase.WriterTypeMaster
	w, err := New(cfg, storage)
	require.NoError(t, err)

	require.NoError(t, w.AddVariant("hi", hbase.VariantConfig{
		ID:     "hi",
		Tracks: []*hbase.Track{videoTrack("hi-video"), audioTrack("hi-audio")},
	}))
	require.NoError(t, w.AddVariant("lo", hbase.VariantConfig{
		ID:     "lo",
		Tracks: []*hbase.Track{videoTrack("lo-video")},
		DependsOn: "hi",
	}))

	hiGen, loGen := newVideoGen(30), newVideoGen(30)
	agen := newAudioGen()
	for i := 0; i < 70; i++ {
		p, dts, dur, sync := hiGen.nextVideo()
		w.WriteSample("hi", "hi-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: p})
		p, dts, dur, sync = loGen.nextVideo()
		w.WriteSample("lo", "lo-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: p})
		if i%2 == 0 {
			p, dts, dur := agen.nextAudio()
			w.WriteSample("hi", "hi-audio", hbase.Sample{Dts: dts, Duration: dur, Payload: p})
		}
	}
	w.Close()

	require.NotEmpty(t, storage.Master)
	assert.Contains(t, string(storage.Master), "#EXT-X-STREAM-INF")
}

func TestWriterCore_StalledTrackFiresUserOnStalledCallbackOnce(t *testing.T) {
	storage := hstorage.NewMemStorage()
	w, err := New(mediaConfig(), storage)
	require.NoError(t, err)

	var fired int
	audio := audioTrack("v-audio")
	audio.PrivData = nil // withhold priv_data so the stall threshold is actually crossed
	audio.OnStalled = func(*hbase.Track) { fired++ }

	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video"), audio},
	}))

	for i := 0; i < 400; i++ {
		w.WriteSample("v", "v-audio", hbase.Sample{Dts: uint64(i) * 1024, Duration: 1024, Payload: make([]byte, 10)})
	}
	assert.Equal(t, 1, fired, "the caller's OnStalled callback still fires exactly once alongside hwriter's own warning log")
}

func TestWriterCore_LowLatencyPublishesPartsStartingFromFirstSegment(t *testing.T) {
	storage := hstorage.NewMemStorage()
	cfg := mediaConfig()
	cfg.SegmentType = hbase.SegmentTypeLowLatency
	cfg.PartDurationMS = 280 // 6 parts close (at frame indices 9,18,27,36,45,54) before the segment boundary at frame 60
	w, err := New(cfg, storage)
	require.NoError(t, err)

	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video")},
	}))

	// Every one of these parts is produced and closed by the part queue
	// while the variant's very first segment is still open (the first
	// AddSegment only fires once a sync sample crosses the 2000ms/60000
	// tick target, at frame index 60). This isolates the regression where
	// AddPart silently dropped any part arriving before the first
	// segment existed.
	vgen := newVideoGen(30)
	for i := 0; i < 65; i++ {
		p, dts, dur, sync := vgen.nextVideo()
		w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: p})
	}
	w.Close()

	var partCount int
	for k := range storage.Objects {
		if strings.Contains(k, "part_") {
			partCount++
		}
	}
	assert.GreaterOrEqual(t, partCount, 6, "a low-latency stream should produce several PART resources before its first segment closes")

	playlist := string(storage.Playlist["v"])
	assert.GreaterOrEqual(t, strings.Count(playlist, "#EXT-X-PART:"), 6,
		"parts produced before the first segment existed must still reach the published playlist, not vanish")
}

func TestWriterCore_AddDiscontinuityForcesFreshInitHeader(t *testing.T) {
	storage := hstorage.NewMemStorage()
	w, err := New(mediaConfig(), storage)
	require.NoError(t, err)
	require.NoError(t, w.AddVariant("v", hbase.VariantConfig{
		ID:     "v",
		Tracks: []*hbase.Track{videoTrack("v-video")},
	}))

	vgen := newVideoGen(30)
	for i := 0; i < 40; i++ {
		p, dts, dur, sync := vgen.nextVideo()
		w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: p})
	}
	w.AddDiscontinuity()
	for i := 0; i < 40; i++ {
		p, dts, dur, sync := vgen.nextVideo()
		w.WriteSample("v", "v-video", hbase.Sample{Dts: dts, Duration: dur, Sync: sync, Payload: p})
	}
	w.Close()

	var initCount int
	for k := range storage.Objects {
		if strings.Contains(k, "init_") {
			initCount++
		}
	}
	assert.Equal(t, 2, initCount, "a discontinuity forces a second init header to be emitted")
	assert.Contains(t, string(storage.Playlist["v"]), "#EXT-X-DISCONTINUITY")
}
