// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hqueue

import "github.com/chefstream/hlscore/pkg/hbase"

// PartGroup is one closed partial-segment window across every track,
// handed to the muxer's push_part entry point (spec §4.3).
type PartGroup struct {
	TrackID string
	Samples []hbase.Sample
}

// PartSink receives closed part groups.
type PartSink interface {
	PushPart(groups []PartGroup)
}

type partTrackState struct {
	id        string
	timescale uint32
	current   []hbase.Sample
	closed    [][]hbase.Sample // FIFO of closed, not-yet-emitted parts
	target    uint64           // dts threshold for the current part; 0 until first sample
	hasTarget bool
}

// PartQueue slices a sample stream into partial-segment windows of
// approximately part_duration_ms across every track (spec §4.3,
// low-latency only).
type PartQueue struct {
	sink             PartSink
	partDurationTicksPerTrack map[string]uint64
	tracks           map[string]*partTrackState
	order            []string
}

// NewPartQueue builds an empty PartQueue. partDurationTicks maps
// track ID to part_duration_ms expressed in that track's own
// timescale (each track keeps its own threshold; spec §4.3 "a target
// dts threshold" is computed per track).
func NewPartQueue(sink PartSink, partDurationTicks map[string]uint64) *PartQueue {
	return &PartQueue{
		sink:                      sink,
		partDurationTicksPerTrack: partDurationTicks,
		tracks:                    make(map[string]*partTrackState),
	}
}

func (q *PartQueue) track(id string) *partTrackState {
	t, ok := q.tracks[id]
	if !ok {
		t = &partTrackState{id: id}
		q.tracks[id] = t
		q.order = append(q.order, id)
	}
	return t
}

// Push appends sample s on trackID, closing and emitting parts as
// thresholds are crossed (spec §4.3 "On push").
func (q *PartQueue) Push(trackID string, s hbase.Sample) {
	t := q.track(trackID)

	if !t.hasTarget {
		t.target = s.Dts + q.partDurationTicksPerTrack[trackID]
		t.hasTarget = true
		t.current = append(t.current, s)
		return
	}

	if s.Dts < t.target {
		t.current = append(t.current, s)
		return
	}

	// Close the current buffer into a new part; start a new one
	// containing this sample.
	t.closed = append(t.closed, t.current)
	t.current = []hbase.Sample{s}
	t.target = s.Dts + q.partDurationTicksPerTrack[trackID]

	q.tryEmit()
}

// tryEmit pops one closed part from every track and emits them as a
// group once every track has at least one closed part (spec §4.3
// "those groups are handed to the muxer's push_part entry point").
func (q *PartQueue) tryEmit() {
	for {
		for _, id := range q.order {
			if len(q.tracks[id].closed) == 0 {
				return
			}
		}
		groups := make([]PartGroup, 0, len(q.order))
		for _, id := range q.order {
			t := q.tracks[id]
			groups = append(groups, PartGroup{TrackID: id, Samples: t.closed[0]})
			t.closed = t.closed[1:]
		}
		q.sink.PushPart(groups)
	}
}

// FlushSegment treats any still-open buffer as the tail part of the
// closing segment: it is not emitted as a standalone part entry since
// the segment body materializes it implicitly (spec §4.3 "At segment
// flush"). Open buffers and targets are reset for the next segment.
func (q *PartQueue) FlushSegment() {
	for _, id := range q.order {
		t := q.tracks[id]
		t.current = nil
		t.closed = nil
		t.hasTarget = false
	}
}
