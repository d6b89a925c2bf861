package hbase

import (
	"errors"
	"fmt"

	"github.com/q191201771/naza/pkg/nazaerrors"
)

// WriterType selects single-variant ("media") vs multivariant
// ("master") output, per spec §6 `type`.
type WriterType uint8

const (
	WriterTypeMedia WriterType = iota + 1
	WriterTypeMaster
)

// Mode selects a rolling live window vs a closed VOD manifest.
type Mode uint8

const (
	ModeLive Mode = iota + 1
	ModeVOD
)

// SegmentType selects the container + whether low-latency parts are
// produced.
type SegmentType uint8

const (
	SegmentTypeMPEGTS SegmentType = iota + 1
	SegmentTypeFMP4
	SegmentTypeLowLatency
)

// ServerControl mirrors the subset of #EXT-X-SERVER-CONTROL that this
// writer controls directly (spec §6).
type ServerControl struct {
	CanBlockReload bool
}

// Config is the writer-wide configuration validated once at
// construction (spec §6, §7 "Configuration" errors).
type Config struct {
	Type              WriterType
	Mode              Mode
	SegmentType       SegmentType
	SegmentDurationMS int
	PartDurationMS    int
	MaxSegments       int
	StorageDir        string
	ServerControl     ServerControl

	OnSegmentCreated func(variantID string, seg *Segment)
	OnPartCreated    func(variantID string, part *Part)
}

// WithDefaults returns a copy of cfg with every unset field filled in
// per the defaults table in spec §6.
func (cfg Config) WithDefaults() Config {
	out := cfg
	if out.Type == 0 {
		out.Type = WriterTypeMedia
	}
	if out.Mode == 0 {
		out.Mode = ModeLive
	}
	if out.SegmentType == 0 {
		out.SegmentType = SegmentTypeFMP4
	}
	if out.SegmentDurationMS == 0 {
		out.SegmentDurationMS = 2000
	}
	if out.PartDurationMS == 0 {
		out.PartDurationMS = 300
	}
	if out.MaxSegments == 0 && out.Mode == ModeLive {
		out.MaxSegments = 6
	}
	if out.Mode == ModeVOD {
		out.MaxSegments = 0
	}
	return out
}

// Validate checks the Configuration-class invariants from spec §6/§7.
// It never touches writer state and is safe to call repeatedly.
func (cfg Config) Validate() error {
	if cfg.SegmentDurationMS < 1000 {
		return &ConfigError{Field: "segment_duration_ms", Msg: "must be >= 1000"}
	}
	if cfg.PartDurationMS < 100 {
		return &ConfigError{Field: "part_duration_ms", Msg: "must be >= 100"}
	}
	if cfg.MaxSegments != 0 && cfg.MaxSegments < 3 {
		return &ConfigError{Field: "max_segments", Msg: "must be 0 or >= 3"}
	}
	if cfg.StorageDir == "" {
		return &ConfigError{Field: "storage_dir", Msg: "required"}
	}
	if cfg.SegmentType == SegmentTypeMPEGTS && cfg.Mode == ModeLive && cfg.MaxSegments == 0 {
		return &ConfigError{Field: "max_segments", Msg: "unbounded window requires vod mode"}
	}
	return nil
}

// ManifestVersion returns the #EXT-X-VERSION advertised for this
// segment type, per spec §6.
func (st SegmentType) ManifestVersion() int {
	switch st {
	case SegmentTypeMPEGTS:
		return 6
	case SegmentTypeFMP4:
		return 7
	case SegmentTypeLowLatency:
		return 9
	}
	return 6
}

// --- error taxonomy (spec §7) -------------------------------------------

// Sentinel classes the three typed errors below Unwrap to, so callers
// can use errors.Is(err, hbase.ErrConfig) without caring about the
// specific field/op/track that triggered it.
var (
	ErrConfig     = errors.New("hlscore: config error")
	ErrStructural = errors.New("hlscore: structural error")
	ErrTrack      = errors.New("hlscore: track error")
)

// ConfigError reports an invalid configuration value. Returned from
// construction or AddVariant/AddRendition, never from WriteSample.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hlscore: config error: %s: %s", e.Field, e.Msg)
}

// Unwrap ties ConfigError into the ErrConfig sentinel class, wrapped
// the way the teacher wraps base.ErrHls (pkg/hls/m3u8.go).
func (e *ConfigError) Unwrap() error { return nazaerrors.Wrap(ErrConfig) }

// StructuralError reports a call made out of the lifecycle order the
// writer requires (e.g. add_variant after writing began, a rendition
// on a media-typed writer).
type StructuralError struct {
	Op  string
	Msg string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("hlscore: structural error: %s: %s", e.Op, e.Msg)
}

func (e *StructuralError) Unwrap() error { return nazaerrors.Wrap(ErrStructural) }

// TrackError reports a problem with a track's codec or its private
// data, discovered at add_variant/add_rendition time.
type TrackError struct {
	TrackID string
	Msg     string
}

func (e *TrackError) Error() string {
	return fmt.Sprintf("hlscore: track error: %s: %s", e.TrackID, e.Msg)
}

func (e *TrackError) Unwrap() error { return nazaerrors.Wrap(ErrTrack) }
