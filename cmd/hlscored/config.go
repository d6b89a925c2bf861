// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chefstream/hlscore/pkg/hbase"
)

// Config is the demo host's JSON configuration, mirroring the shape of
// the teacher's pkg/logic.Config (one top-level struct, json-tagged,
// loaded with a single Unmarshal call).
type Config struct {
	Type              string       `json:"type"` // "media" or "master"
	Mode              string       `json:"mode"` // "live" or "vod"
	SegmentType       string       `json:"segment_type"` // "mpegts", "fmp4" or "low_latency"
	SegmentDurationMS int          `json:"segment_duration_ms"`
	PartDurationMS    int          `json:"part_duration_ms"`
	MaxSegments       int          `json:"max_segments"`
	StorageDir        string       `json:"storage_dir"`
	Variants          []SynthVariant `json:"variants"`
}

// SynthVariant describes one synthetic variant the sample generator
// drives; real integrations feed WriterCore.WriteSample directly and
// never construct this type.
type SynthVariant struct {
	ID         string `json:"id"`
	Role       string `json:"role"` // "variant" or "rendition"
	GroupID    string `json:"group_id"`
	Audio      string `json:"audio"`
	Language   string `json:"language"`
	Default    bool   `json:"default"`
	VideoCodec string `json:"video_codec"` // "h264", "h265", "av1" or ""
	AudioCodec string `json:"audio_codec"` // "aac" or ""
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FPS        int    `json:"fps"`
}

func loadConf(confFile string) (*Config, error) {
	raw, err := os.ReadFile(confFile)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) toWriterConfig() (hbase.Config, error) {
	var cfg hbase.Config
	switch c.Type {
	case "", "media":
		cfg.Type = hbase.WriterTypeMedia
	case "master":
		cfg.Type = hbase.WriterTypeMaster
	default:
		return cfg, fmt.Errorf("hlscored: unknown type %q", c.Type)
	}
	switch c.Mode {
	case "", "live":
		cfg.Mode = hbase.ModeLive
	case "vod":
		cfg.Mode = hbase.ModeVOD
	default:
		return cfg, fmt.Errorf("hlscored: unknown mode %q", c.Mode)
	}
	switch c.SegmentType {
	case "mpegts":
		cfg.SegmentType = hbase.SegmentTypeMPEGTS
	case "", "fmp4":
		cfg.SegmentType = hbase.SegmentTypeFMP4
	case "low_latency":
		cfg.SegmentType = hbase.SegmentTypeLowLatency
	default:
		return cfg, fmt.Errorf("hlscored: unknown segment_type %q", c.SegmentType)
	}
	cfg.SegmentDurationMS = c.SegmentDurationMS
	cfg.PartDurationMS = c.PartDurationMS
	cfg.MaxSegments = c.MaxSegments
	cfg.StorageDir = c.StorageDir
	return cfg, nil
}
