// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hmux

import (
	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hfmp4"
	"github.com/chefstream/hlscore/pkg/hmpegts"
)

type tsBackend struct {
	inner *hmpegts.Muxer
}

func newTSBackend(tracks []hbase.Track) *tsBackend {
	return &tsBackend{inner: hmpegts.NewMuxer(tracks)}
}

type fmp4Backend struct {
	inner *hfmp4.Muxer
}

func newFMP4Backend() *fmp4Backend {
	return &fmp4Backend{inner: hfmp4.NewMuxer()}
}

func (b *fmp4Backend) configureTrack(tp *trackProcessor) {
	cfg := hfmp4.TrackConfig{
		ID:        tp.track.ID,
		Kind:      tp.track.Kind,
		Codec:     tp.track.Codec,
		Timescale: tp.track.Timescale,
		Width:     tp.track.Width,
		Height:    tp.track.Height,
		VPS:       tp.vps,
		SPS:       tp.sps,
		PPS:       tp.pps,
	}
	if tp.ascValid {
		cfg.ASC = tp.track.PrivData
	}
	b.inner.SetTrackConfig(cfg)
}

// PushPart closes a low-latency part from whatever samples have been
// pushed since the last part or segment boundary (spec §4.4
// "push_part(parts)"); MPEG-TS has no low-latency mode (spec §6
// segment_type=low_latency implies fmp4 framing).
func (m *Muxer) PushPart() []byte {
	if m.fmp4 == nil {
		return nil
	}
	return m.fmp4.inner.PushPart()
}
