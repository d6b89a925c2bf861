// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hwriter

import (
	"fmt"
	"strings"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hplaylist"
	"github.com/q191201771/naza/pkg/nazalog"
)

// publishMaster is the MultivariantAggregator (spec §4.7, §6
// "Manifest output: Multivariant"): it re-resolves every variant's
// codec/resolution/bandwidth entry from live state and serializes the
// master playlist. Invoked after every child playlist revision that
// could change bandwidth (spec §5 ordering guarantee).
func (w *WriterCore) publishMaster() {
	master := hplaylist.NewMaster()

	for _, id := range w.order {
		v := w.variants[id]
		if v.cfg.Role != hbase.RoleRendition {
			continue
		}
		master.AddRendition(w.renditionEntry(v))
	}
	for _, id := range w.order {
		v := w.variants[id]
		if v.cfg.Role != hbase.RoleVariant {
			continue
		}
		master.AddVariant(w.variantEntry(v))
	}

	b := master.Encode()
	err := w.storage.StoreMasterPlaylist(b)
	nazalog.Assert(nil, err)
}

func (w *WriterCore) renditionEntry(v *variant) hplaylist.VariantEntry {
	return hplaylist.VariantEntry{
		URI:         v.lastPlaylistURI,
		IsRendition: true,
		GroupID:     v.cfg.GroupID,
		Type:        "AUDIO",
		Name:        v.id,
		Language:    v.cfg.Language,
		Default:     v.cfg.Default,
		AutoSelect:  v.cfg.AutoSelect,
	}
}

func (w *WriterCore) variantEntry(v *variant) hplaylist.VariantEntry {
	avg, peak := v.playlist.Bandwidth()
	codecs := v.ownCodecs()

	if v.cfg.Audio != "" {
		groupAvg, groupPeak, groupCodecs := w.renditionGroupStats(v.cfg.Audio)
		avg += groupAvg
		peak += groupPeak
		codecs = append(codecs, groupCodecs...)
	}

	entry := hplaylist.VariantEntry{
		URI:          v.lastPlaylistURI,
		Bandwidth:    peak,
		AvgBandwidth: avg,
		Codecs:       strings.Join(codecs, ","),
		Audio:        v.cfg.Audio,
		Subtitles:    v.cfg.Subtitles,
	}
	if w, h, ok := v.videoDimensions(); ok {
		entry.Resolution = fmt.Sprintf("%dx%d", w, h)
	}
	return entry
}

// renditionGroupStats folds every rendition in groupID into one
// bandwidth/codecs contribution, taking the group's peak bitrate
// (spec §8 seed scenario 4: "BANDWIDTH = max segment bps(video) +
// max(audio group's peak)").
func (w *WriterCore) renditionGroupStats(groupID string) (avg, peak uint32, codecs []string) {
	for _, id := range w.order {
		rv := w.variants[id]
		if rv.cfg.Role != hbase.RoleRendition || rv.cfg.GroupID != groupID {
			continue
		}
		rAvg, rPeak := rv.playlist.Bandwidth()
		if rPeak > peak {
			peak = rPeak
		}
		if rAvg > avg {
			avg = rAvg
		}
		codecs = append(codecs, rv.ownCodecs()...)
	}
	return
}

func (v *variant) ownCodecs() []string {
	var out []string
	for _, t := range v.cfg.Tracks {
		if tr, ok := v.muxer.Track(t.ID); ok && tr.Mime != "" {
			out = append(out, tr.Mime)
		}
	}
	return out
}

func (v *variant) videoDimensions() (w, h int, ok bool) {
	for _, t := range v.cfg.Tracks {
		if t.Kind == hbase.TrackKindVideo {
			return t.Width, t.Height, true
		}
	}
	return 0, 0, false
}
