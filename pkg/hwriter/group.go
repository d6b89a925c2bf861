// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hwriter

import (
	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hqueue"
)

// group is one SampleQueue's worth of variants: the lead variant that
// owns the queue and any dependent variants sharing it so their
// segment boundaries land exactly on the lead's (spec §4.7 point 3,
// §9 "Multi-rendition dependency... model this as an index (variant
// id) rather than a pointer").
type group struct {
	sq      *hqueue.SampleQueue
	members []*variant       // members[0] is the group's own lead
	owner   map[string]*variant // trackID -> the member variant that owns it

	durationTrackID string
	haveDurationTrack bool
	timescale       uint32
	accumTicks      uint64
	firstDTS        uint64
	haveFirstDTS    bool
}

func newGroup(leader *variant) *group {
	g := &group{owner: make(map[string]*variant)}
	g.addMember(leader)
	return g
}

func (g *group) addMember(v *variant) {
	g.members = append(g.members, v)
	for _, t := range v.cfg.Tracks {
		g.owner[t.ID] = v
	}
	v.group = g
}

// PushSample implements hqueue.Sink, routing each drained sample to
// the variant that owns trackID and folding lead-track ticks into the
// group's running segment-duration/wall-clock accounting.
func (g *group) PushSample(trackID string, s hbase.Sample) {
	if !g.haveDurationTrack {
		g.durationTrackID = g.members[0].leadTrackID
		g.haveDurationTrack = true
	}
	if trackID == g.durationTrackID {
		if !g.haveFirstDTS {
			g.firstDTS = s.Dts
			g.haveFirstDTS = true
			if v, ok := g.owner[trackID]; ok {
				if t, ok := v.muxer.Track(trackID); ok {
					g.timescale = t.Timescale
				}
			}
		}
		g.accumTicks += uint64(s.Duration)
	}

	v, ok := g.owner[trackID]
	if !ok {
		return
	}
	v.deliverSample(trackID, s)
}

// BeginSegment implements hqueue.Sink: a lead-track sync sample has
// just crossed target_duration, so every member variant's currently
// open segment is complete.
func (g *group) BeginSegment() {
	g.flush()
}

// forceFlush closes out whatever is currently accumulating even
// without a natural lead-track boundary (spec §4.7 point 5
// add_discontinuity, point 6 close). It is a no-op if nothing has
// been pushed to the group since the last close.
func (g *group) forceFlush() {
	g.sq.Flush()
	if !g.haveFirstDTS {
		return
	}
	g.flush()
}

func (g *group) flush() {
	durTicks, timescale, firstDTS := g.accumTicks, g.timescale, g.firstDTS
	g.accumTicks = 0
	g.haveFirstDTS = false
	for _, v := range g.members {
		v.closeSegment(durTicks, timescale, firstDTS)
	}
}
