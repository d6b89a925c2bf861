// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hwriter implements WriterCore (spec §4.7): the lifecycle
// orchestrator that wires SampleProcessor output through the sample
// and part queues (hqueue), the container muxer (hmux), the Storage
// collaborator (hstorage) and the playlist state machine (hplaylist),
// and the MultivariantAggregator that resolves the master playlist
// from each variant's live codec/bandwidth state. Grounded on the
// teacher's pkg/hls/muxer.go Start/Dispose lifecycle, generalized
// from one RTMP stream to N variants with depends_on edges.
package hwriter

import (
	"time"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hqueue"
	"github.com/chefstream/hlscore/pkg/hstorage"
	"github.com/google/uuid"
	"github.com/q191201771/naza/pkg/nazalog"
	"github.com/q191201771/naza/pkg/unique"
)

type lifecycleState uint8

const (
	stateInit lifecycleState = iota
	stateMuxing
	stateClosed
)

// WriterCore is the single entry point described by spec §4.7. It is
// not safe for concurrent use (spec §5): callers serialize externally,
// the same contract pkg/hls/session.go imposes on the teacher's Muxer.
type WriterCore struct {
	UniqueKey string

	// instanceTag is a short globally-unique id folded into every
	// stored resource name (spec §6), distinct from UniqueKey which is
	// for log correlation only (teacher: unique.GenUniqueKey never
	// touches output file names).
	instanceTag string

	cfg   hbase.Config
	state lifecycleState

	storage hstorage.Storage

	variants      map[string]*variant
	order         []string // AddVariant/AddRendition order
	leadVariantID string
	hasLead       bool

	groups []*group

	anchored         bool
	baseTimestampMS  int64
	baseDTS          uint64
	baseDTSTimescale uint32
}

// New validates cfg and builds an empty WriterCore in state `init`
// (spec §4.7 point 1).
func New(cfg hbase.Config, storage hstorage.Storage) (*WriterCore, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	uk := unique.GenUniqueKey("HLSWRITER")
	nazalog.Infof("[%s] lifecycle new writer core. type=%d mode=%d segment_type=%d",
		uk, cfg.Type, cfg.Mode, cfg.SegmentType)
	return &WriterCore{
		UniqueKey:   uk,
		instanceTag: uuid.NewString()[:8],
		cfg:         cfg,
		storage:     storage,
		variants:    make(map[string]*variant),
	}, nil
}

// AddVariant registers a primary (EXT-X-STREAM-INF) variant. Only
// callable in state `init` (spec §4.7 point 2, §7 Structural errors).
func (w *WriterCore) AddVariant(id string, cfg hbase.VariantConfig) error {
	cfg.Role = hbase.RoleVariant
	return w.addVariant(id, cfg)
}

// AddRendition registers an alternate rendition (EXT-X-MEDIA). Rejected
// on a `media`-typed writer (spec §4.7 point 2, §7 Structural errors).
func (w *WriterCore) AddRendition(id string, cfg hbase.VariantConfig) error {
	cfg.Role = hbase.RoleRendition
	if w.cfg.Type != hbase.WriterTypeMaster {
		return &hbase.StructuralError{Op: "add_rendition", Msg: "renditions require type=master"}
	}
	return w.addVariant(id, cfg)
}

func (w *WriterCore) addVariant(id string, cfg hbase.VariantConfig) error {
	if w.state != stateInit {
		return &hbase.StructuralError{Op: "add_variant", Msg: "writing has already begun"}
	}
	if w.cfg.Type == hbase.WriterTypeMedia && len(w.variants) >= 1 {
		return &hbase.StructuralError{Op: "add_variant", Msg: "type=media allows exactly one variant"}
	}
	if _, exists := w.variants[id]; exists {
		return &hbase.StructuralError{Op: "add_variant", Msg: "duplicate variant id: " + id}
	}
	if len(cfg.Tracks) == 0 {
		return &hbase.TrackError{TrackID: id, Msg: "variant has no tracks"}
	}
	for _, t := range cfg.Tracks {
		if err := validateTrack(t, w.cfg.SegmentType); err != nil {
			return err
		}
	}

	v := newVariant(w, id, cfg, w.storage)
	w.variants[id] = v
	w.order = append(w.order, id)
	if cfg.Role == hbase.RoleVariant && !w.hasLead && v.hasVideoLead() {
		w.hasLead = true
		w.leadVariantID = id
	}
	nazalog.Infof("[%s] add variant. id=%s role=%d tracks=%d", w.UniqueKey, id, cfg.Role, len(cfg.Tracks))
	return nil
}

func validateTrack(t *hbase.Track, st hbase.SegmentType) error {
	switch t.Codec {
	case hbase.CodecH264, hbase.CodecH265, hbase.CodecAAC, hbase.CodecAV1:
	default:
		return &hbase.TrackError{TrackID: t.ID, Msg: "unsupported codec"}
	}
	if t.Codec == hbase.CodecAV1 && st == hbase.SegmentTypeMPEGTS {
		return &hbase.TrackError{TrackID: t.ID, Msg: "av1 requires an fmp4-family container"}
	}
	return nil
}

// WriteSample feeds one coded sample for trackID on variantID through
// the pipeline (spec §4.7 points 3-4). The first call across every
// variant transitions the writer to `muxing` and freezes the
// wall-clock anchor.
func (w *WriterCore) WriteSample(variantID, trackID string, s hbase.Sample) {
	if w.state == stateInit {
		w.beginMuxing()
	}
	v, ok := w.variants[variantID]
	if !ok {
		panic("hlscore: write_sample: unknown variant id " + variantID)
	}
	track, ok := v.muxer.Track(trackID)
	if !ok {
		panic("hlscore: write_sample: unknown track id " + trackID)
	}
	v.muxer.NoteSampleSeen(trackID)

	if !w.anchored {
		w.anchor(s, track.Timescale)
	}

	processed, payload := v.muxer.ProcessSample(trackID, s)
	v.pushPayload(trackID, payload)
	v.group.sq.Push(trackID, processed)
}

// beginMuxing transitions init -> muxing: every variant's own
// SampleQueue is built, and dependent variants (no video lead, in a
// master-typed writer) are folded into the lead variant's group so
// their boundaries align to it (spec §4.7 point 3).
func (w *WriterCore) beginMuxing() {
	w.state = stateMuxing

	// dependsOn is resolved up front for every variant (a pure function
	// of state already captured during AddVariant), so group ownership
	// never depends on AddVariant call order (spec §4.7 point 3).
	dependsOn := make(map[string]string, len(w.order))
	for _, id := range w.order {
		v := w.variants[id]
		if v.cfg.Role != hbase.RoleVariant {
			continue
		}
		d := v.cfg.DependsOn
		if d == "" && w.cfg.Type == hbase.WriterTypeMaster && w.hasLead &&
			id != w.leadVariantID && !v.hasVideoLead() {
			d = w.leadVariantID
		}
		dependsOn[id] = d
	}

	groupOf := make(map[string]*group, len(w.order))
	for _, id := range w.order {
		v := w.variants[id]
		if v.cfg.Role != hbase.RoleVariant || dependsOn[id] != "" {
			continue
		}
		g := newGroup(v)
		groupOf[id] = g
		w.groups = append(w.groups, g)
	}
	for _, id := range w.order {
		v := w.variants[id]
		if v.cfg.Role != hbase.RoleVariant || dependsOn[id] == "" {
			continue
		}
		groupOf[dependsOn[id]].addMember(v)
	}

	for _, g := range w.groups {
		leader := g.members[0]
		leadID, hasLead := "", false
		if leader.hasVideoLead() {
			leadID, hasLead = leader.leadTrackID, true
		}
		targetTicks := uint64(w.cfg.SegmentDurationMS) * uint64(leaderTimescale(leader)) / 1000
		g.sq = hqueue.NewSampleQueue(g, leadID, hasLead, targetTicks)
		for _, member := range g.members {
			for _, t := range member.cfg.Tracks {
				g.sq.SetTrackTimescale(t.ID, t.Timescale)
			}
			if member.lowLatency() {
				member.enablePartQueue()
			}
		}
	}

	// Renditions never carry a boundary-defining lead sample stream of
	// their own in this writer's model: their tracks still flow
	// through their own dedicated group like any standalone variant.
	for _, id := range w.order {
		v := w.variants[id]
		if v.cfg.Role != hbase.RoleRendition {
			continue
		}
		g := newGroup(v)
		w.groups = append(w.groups, g)
		targetTicks := uint64(w.cfg.SegmentDurationMS) * uint64(leaderTimescale(v)) / 1000
		g.sq = hqueue.NewSampleQueue(g, v.leadTrackID, true, targetTicks)
		for _, t := range v.cfg.Tracks {
			g.sq.SetTrackTimescale(t.ID, t.Timescale)
		}
		if v.lowLatency() {
			v.enablePartQueue()
		}
	}
}

func leaderTimescale(v *variant) uint32 {
	for _, t := range v.cfg.Tracks {
		if t.ID == v.leadTrackID {
			return t.Timescale
		}
	}
	return 1
}

// anchor freezes the global wall-clock anchor from the very first
// sample written across all variants (spec §4.7 "Wall-clock
// anchoring", §9 resolved as a single global anchor).
func (w *WriterCore) anchor(s hbase.Sample, timescale uint32) {
	w.anchored = true
	if s.HasWallClock {
		w.baseTimestampMS = s.WallClock / int64(time.Millisecond)
	} else {
		w.baseTimestampMS = time.Now().UnixMilli()
	}
	w.baseDTS = s.Dts
	w.baseDTSTimescale = timescale
}

// segmentWallClock derives a segment's PROGRAM-DATE-TIME from the
// frozen anchor and the segment's own first dts (spec §4.7 formula:
// base_timestamp + (first_dts - base_dts) * 1000 / timescale).
func (w *WriterCore) segmentWallClock(firstDTS uint64, timescale uint32) (int64, bool) {
	if !w.anchored || timescale == 0 {
		return 0, false
	}
	deltaMS := (int64(firstDTS) - int64(w.baseDTS)) * 1000 / int64(timescale)
	return w.baseTimestampMS + deltaMS, true
}

// AddDiscontinuity flushes every group's open segment, marks the next
// segment appended to each variant discontinuous, forces a fresh init
// header, and resets the wall-clock anchor (spec §4.7 point 5).
func (w *WriterCore) AddDiscontinuity() {
	for _, g := range w.groups {
		g.forceFlush()
	}
	for _, id := range w.order {
		v := w.variants[id]
		v.playlist.AddDiscontinuity()
		v.forceInit = true
	}
	w.anchored = false
	nazalog.Infof("[%s] add discontinuity.", w.UniqueKey)
}

// Close flushes every variant, appends #EXT-X-ENDLIST, and serializes
// the master playlist if this is a multivariant writer (spec §4.7
// point 6). Calling Close twice is a no-op (spec §8 idempotence).
func (w *WriterCore) Close() {
	if w.state == stateClosed {
		return
	}
	for _, g := range w.groups {
		g.forceFlush()
	}
	for _, id := range w.order {
		w.variants[id].close()
	}
	if w.cfg.Type == hbase.WriterTypeMaster {
		w.publishMaster()
	}
	w.state = stateClosed
	nazalog.Infof("[%s] lifecycle close writer core.", w.UniqueKey)
}
