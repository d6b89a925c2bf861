// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hqueue implements the multi-track sample scheduler (spec
// §4.2 SampleQueue) and the low-latency partial-segment slicer (spec
// §4.3 PartQueue). Both are deques over hbase.Sample, grounded on the
// teacher's group.go/manager.go FIFO-over-slice style (lal keeps
// pending GOP caches the same way: append to grow, slice off the
// front to drain) rather than container/list, since the access
// pattern here is pure push-back/pop-front.
package hqueue

import "github.com/chefstream/hlscore/pkg/hbase"

// FlushBatch is one muxer delivery: the samples for a single track
// that should be forwarded together, in order.
type FlushBatch struct {
	TrackID string
	Samples []hbase.Sample
}

// Sink receives drained samples. TracksMuxer implements this.
//
// BeginSegment is called exactly once per segment boundary, after the
// previous segment's buffered tail samples have been forwarded via
// PushSample but before the sample that opens the next segment is
// forwarded. A Sink backed by WriterCore uses it as the flush_segment
// trigger (spec §4.2 "a segment boundary is the point where the lead
// track's accumulated duration crosses target_duration_ms on a sync
// sample").
type Sink interface {
	PushSample(trackID string, s hbase.Sample)
	BeginSegment()
}

type trackState struct {
	id         string
	timescale  uint32
	isLead     bool
	buffer     []hbase.Sample // FIFO of samples not yet forwarded
	durTicks   uint64         // accumulated duration since last boundary (lead only)
	buffering  bool           // lead only: waiting for non-lead catch-up
}

// SampleQueue aligns samples from several tracks belonging to one
// variant group so that a segment boundary always lands on a
// lead-track sync sample once every non-lead track has caught up
// (spec §4.2).
type SampleQueue struct {
	sink               Sink
	leadTrackID        string
	hasLead            bool
	targetDurationTicks uint64
	lastSampleTimestamp uint64
	tracks             map[string]*trackState
	order              []string // insertion order, for iterating non-lead tracks deterministically
}

// NewSampleQueue builds a SampleQueue. When hasLead is true,
// leadTrackID selects the lead track; when it is false, the first
// track registered (by Push or SetTrackTimescale) becomes the lead
// (spec §4.2 "the first added track leads").
// targetDurationTicks is target_duration_ms expressed in the lead
// track's timescale.
func NewSampleQueue(sink Sink, leadTrackID string, hasLead bool, targetDurationTicks uint64) *SampleQueue {
	return &SampleQueue{
		sink:                sink,
		leadTrackID:         leadTrackID,
		hasLead:             hasLead,
		targetDurationTicks: targetDurationTicks,
		tracks:              make(map[string]*trackState),
	}
}

func (q *SampleQueue) track(id string) *trackState {
	t, ok := q.tracks[id]
	if !ok {
		t = &trackState{id: id}
		q.tracks[id] = t
		q.order = append(q.order, id)
		if !q.hasLead {
			q.hasLead = true
			q.leadTrackID = id
		}
		t.isLead = id == q.leadTrackID
	}
	return t
}

func (q *SampleQueue) nonLeadTracks() []*trackState {
	var out []*trackState
	for _, id := range q.order {
		if id != q.leadTrackID {
			out = append(out, q.tracks[id])
		}
	}
	return out
}

func (q *SampleQueue) allNonLeadHaveBuffered() bool {
	for _, t := range q.nonLeadTracks() {
		if len(t.buffer) == 0 {
			return false
		}
	}
	return true
}

// Push submits one sample on trackID (spec §4.2 push rules).
func (q *SampleQueue) Push(trackID string, s hbase.Sample) {
	t := q.track(trackID)
	if t.isLead {
		q.pushLead(t, s)
		return
	}
	q.pushNonLead(t, s)
}

func (q *SampleQueue) pushLead(t *trackState, s hbase.Sample) {
	newSegment := s.Sync && t.durTicks >= q.targetDurationTicks
	multiTrack := len(q.order) > 1

	if newSegment && multiTrack && !q.allNonLeadHaveBuffered() {
		t.buffer = append(t.buffer, s)
		t.buffering = true
		t.durTicks = 0
		return
	}

	if newSegment {
		// Flush: pending buffered lead samples, then s, then drain
		// every non-lead track up to the new boundary.
		for _, buffered := range t.buffer {
			q.sink.PushSample(t.id, buffered)
		}
		t.buffer = nil
		t.buffering = false
		q.sink.BeginSegment()
		q.sink.PushSample(t.id, s)
		q.lastSampleTimestamp = s.Dts
		t.durTicks = uint64(s.Duration)
		q.drainNonLeadUpTo(q.lastSampleTimestamp)
		return
	}

	t.durTicks += uint64(s.Duration)
	q.lastSampleTimestamp = s.Dts
	q.sink.PushSample(t.id, s)
	q.drainNonLeadUpTo(q.lastSampleTimestamp)
}

func (q *SampleQueue) pushNonLead(t *trackState, s hbase.Sample) {
	sTS := rescale(s.Dts, t.timescale, q.leadTimescale())

	if sTS <= q.lastSampleTimestamp {
		q.sink.PushSample(t.id, s)
		return
	}

	lead := q.tracks[q.leadTrackID]
	t.buffer = append(t.buffer, s)

	if lead != nil && lead.buffering && q.allNonLeadHaveBuffered() {
		q.catchUpFlush(lead)
	}
}

// catchUpFlush drains the lead's buffered (below-target) samples and
// then every non-lead queue up to that point, once every non-lead
// track has produced at least one buffered sample while the lead was
// waiting (spec §4.2 "trigger a catch-up flush").
func (q *SampleQueue) catchUpFlush(lead *trackState) {
	q.sink.BeginSegment()
	for _, buffered := range lead.buffer {
		q.sink.PushSample(lead.id, buffered)
		q.lastSampleTimestamp = buffered.Dts
		lead.durTicks += uint64(buffered.Duration)
	}
	lead.buffer = nil
	lead.buffering = false
	q.drainNonLeadUpTo(q.lastSampleTimestamp)
}

func (q *SampleQueue) drainNonLeadUpTo(boundary uint64) {
	for _, t := range q.nonLeadTracks() {
		i := 0
		for i < len(t.buffer) {
			sTS := rescale(t.buffer[i].Dts, t.timescale, q.leadTimescale())
			if sTS > boundary {
				break
			}
			q.sink.PushSample(t.id, t.buffer[i])
			i++
		}
		t.buffer = t.buffer[i:]
	}
}

func (q *SampleQueue) leadTimescale() uint32 {
	if lead, ok := q.tracks[q.leadTrackID]; ok {
		return lead.timescale
	}
	return 1
}

// SetTrackTimescale records the wire timescale for trackID so
// non-lead dts values can be rescaled into the lead's timescale.
func (q *SampleQueue) SetTrackTimescale(trackID string, timescale uint32) {
	q.track(trackID).timescale = timescale
}

func rescale(ts uint64, from, to uint32) uint64 {
	if from == 0 || from == to {
		return ts
	}
	return ts * uint64(to) / uint64(from)
}

// Flush drains every queue irrespective of target_duration_ticks
// (spec §4.2 "flush() at close time").
func (q *SampleQueue) Flush() {
	for _, id := range q.order {
		t := q.tracks[id]
		for _, s := range t.buffer {
			q.sink.PushSample(id, s)
		}
		t.buffer = nil
		t.buffering = false
		t.durTicks = 0
	}
}
