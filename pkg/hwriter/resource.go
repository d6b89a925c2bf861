// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hwriter

import (
	"fmt"

	"github.com/chefstream/hlscore/pkg/hbase"
)

// segmentExtension returns the file suffix for a completed segment's
// resource name, per spec §6 "segment_{k}.{ts|m4s}".
func segmentExtension(st hbase.SegmentType) string {
	if st == hbase.SegmentTypeMPEGTS {
		return "ts"
	}
	return "m4s"
}

// instanceTag is folded into every resource name so that a restarted
// WriterCore never reuses a CDN-cached object name a prior instance
// already served at the same segment/part index (spec §6 resource
// naming; the teacher sidesteps this by recreating the whole output
// directory per RTMP stream UniqueKey, pkg/hls/muxer.go).
func initResourceName(instanceTag string, n int) string {
	return fmt.Sprintf("init_%s_%d.mp4", instanceTag, n)
}

func segmentResourceName(instanceTag string, k int, st hbase.SegmentType) string {
	return fmt.Sprintf("segment_%s_%d.%s", instanceTag, k, segmentExtension(st))
}

func partResourceName(instanceTag string, k, p int) string {
	return fmt.Sprintf("segment_%s_%d_part_%d.m4s", instanceTag, k, p)
}
