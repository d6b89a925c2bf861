// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hbase holds the data model, configuration and error
// taxonomy shared by every other hlscore package.
package hbase

// TrackKind identifies whether a Track carries video or audio.
type TrackKind uint8

const (
	TrackKindVideo TrackKind = iota + 1
	TrackKindAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackKindVideo:
		return "video"
	case TrackKindAudio:
		return "audio"
	}
	return "unknown"
}

// Codec identifies the elementary stream codec of a Track.
type Codec uint8

const (
	CodecH264 Codec = iota + 1
	CodecH265
	CodecAAC
	CodecAV1
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecAAC:
		return "aac"
	case CodecAV1:
		return "av1"
	}
	return "unknown"
}

// privDataStallThreshold is the number of samples a track may receive
// without recovering codec-private data before WriterCore surfaces a
// diagnostic (see spec §9 "Track priv_data recovery is optimistic").
const privDataStallThreshold = 300

// Track describes one elementary stream belonging to a Variant.
type Track struct {
	ID        string
	Kind      TrackKind
	Codec     Codec
	Timescale uint32 // ticks per second

	// PrivData holds codec-private data: SPS/PPS (h264), VPS/SPS/PPS
	// (h265), AudioSpecificConfig (aac) or the sequence-header OBU
	// (av1). It may be filled later from in-band samples.
	PrivData []byte

	Width  int
	Height int

	// OnStalled fires once, after privDataStallThreshold samples have
	// been processed with PrivData still nil.
	OnStalled func(track *Track)

	// Mime is filled in by the codec-specific SampleProcessor once
	// PrivData is available (see pkg/havc, pkg/hhevc, pkg/haac,
	// pkg/hav1). Empty until then.
	Mime string

	samplesSeen   int
	stallNotified bool
}

// NoteSampleSeen tracks how long PrivData has been missing and fires
// OnStalled exactly once if it never arrives.
func (t *Track) NoteSampleSeen() {
	if len(t.PrivData) != 0 || t.stallNotified {
		return
	}
	t.samplesSeen++
	if t.samplesSeen >= privDataStallThreshold {
		t.stallNotified = true
		if t.OnStalled != nil {
			t.OnStalled(t)
		}
	}
}

// Sample is one coded access unit for a single track.
type Sample struct {
	TrackID  string
	Dts      uint64 // ticks, in the track's timescale
	Pts      uint64 // ticks; if zero-value caller should let Dts be used
	Duration uint32 // ticks
	Sync     bool
	Payload  []byte

	// WallClock is an optional caller-supplied timestamp. When absent
	// WriterCore anchors from time.Now() on first sample.
	HasWallClock bool
	WallClock    int64 // unix nanoseconds
}

// VariantRole distinguishes a primary (EXT-X-STREAM-INF) variant from
// an alternate rendition (EXT-X-MEDIA).
type VariantRole uint8

const (
	RoleVariant VariantRole = iota + 1
	RoleRendition
)

// VariantConfig is supplied to WriterCore.AddVariant/AddRendition.
type VariantConfig struct {
	ID     string
	Role   VariantRole
	Tracks []*Track

	// DependsOn names another variant whose sample queue drives this
	// one's segment boundaries (set automatically by WriterCore for
	// variants without a video lead in a master-typed writer).
	DependsOn string

	GroupID     string
	Audio       string
	Subtitles   string
	Default     bool
	AutoSelect  bool
	Language    string
}

// Part is a partial segment (low-latency only).
type Part struct {
	URI          string
	Duration     float64
	SegmentIndex int
	PartIndex    int
	Independent  bool
}

// Segment is one complete media segment.
type Segment struct {
	Index         int
	URI           string
	Size          int64
	Duration      float64
	HasWallClock  bool
	WallClock     int64 // unix milliseconds
	MediaInitURI  string
	Discontinuity bool
	Parts         []Part
}
