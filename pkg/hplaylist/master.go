// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hplaylist

import (
	"github.com/mogiioin/hls-m3u8/m3u8"
)

// VariantEntry is one EXT-X-STREAM-INF or EXT-X-MEDIA line's worth of
// resolved attributes, computed by WriterCore's MultivariantAggregator
// from the live codec/resolution/bandwidth state of a variant (spec
// §4.7 "MultivariantAggregator").
type VariantEntry struct {
	URI        string
	Bandwidth  uint32
	AvgBandwidth uint32
	Codecs     string
	Resolution string
	FrameRate  float64

	// Rendition-only fields (Role == hbase.RoleRendition).
	IsRendition bool
	GroupID     string
	Type        string // AUDIO, SUBTITLES
	Name        string
	Language    string
	Default     bool
	AutoSelect  bool
	Audio       string // AUDIO group-id this variant depends on
	Subtitles   string
}

// Master accumulates variant/rendition entries for one multivariant
// playlist (spec §6 `type=master`).
type Master struct {
	mp *m3u8.MasterPlaylist
}

// NewMaster builds an empty multivariant playlist.
func NewMaster() *Master {
	return &Master{mp: m3u8.NewMasterPlaylist()}
}

// AddVariant appends an EXT-X-STREAM-INF entry.
func (m *Master) AddVariant(v VariantEntry) {
	params := m3u8.VariantParams{
		Bandwidth:        v.Bandwidth,
		AverageBandwidth: v.AvgBandwidth,
		Codecs:           v.Codecs,
		Resolution:       v.Resolution,
		FrameRate:        v.FrameRate,
		Audio:            v.Audio,
		Subtitles:        v.Subtitles,
	}
	m.mp.Append(v.URI, nil, params)
}

// AddRendition appends an EXT-X-MEDIA entry. The library collects and
// deduplicates EXT-X-MEDIA tags across every Variant's Alternatives
// slice at encode time (GetAllAlternatives), so a rendition can be
// attached via its own zero-bandwidth Variant without affecting output.
func (m *Master) AddRendition(v VariantEntry) {
	alt := &m3u8.Alternative{
		Type:       v.Type,
		URI:        v.URI,
		GroupId:    v.GroupID,
		Language:   v.Language,
		Name:       v.Name,
		Default:    v.Default,
		Autoselect: v.AutoSelect,
	}
	params := m3u8.VariantParams{Alternatives: []*m3u8.Alternative{alt}}
	m.mp.Append("", nil, params)
}

// Encode serializes the multivariant playlist.
func (m *Master) Encode() []byte {
	return m.mp.Encode().Bytes()
}
