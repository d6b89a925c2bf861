// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// hlscored drives WriterCore from a synthetic sample source, the way
// app/lalserver drives the teacher's RTMP/HTTP-FLV servers from a conf
// file. It is demo glue, not a production ingest server: real
// integrations call WriterCore.WriteSample directly from their own
// decoder/ingest pipeline instead of running this binary.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chefstream/hlscore/pkg/hbase"
	"github.com/chefstream/hlscore/pkg/hstorage"
	"github.com/chefstream/hlscore/pkg/hwriter"
	"github.com/q191201771/naza/pkg/nazalog"
)

func main() {
	confFile, useMemory := parseFlag()
	conf, err := loadConf(confFile)
	if err != nil {
		nazalog.Fatalf("load conf failed. file=%s err=%+v", confFile, err)
	}
	run(conf, useMemory)
}

func parseFlag() (confFile string, useMemory bool) {
	cf := flag.String("c", "", "specify conf file")
	mem := flag.Bool("m", false, "use in-memory storage instead of disk")
	flag.Parse()
	if *cf == "" {
		flag.Usage()
		_, _ = fmt.Fprintf(os.Stderr, "\nExample:\n  ./bin/hlscored -c ./conf/hlscored.conf.json\n")
		os.Exit(1)
	}
	return *cf, *mem
}

// run wires one WriterCore from conf, feeds it from synthTrack
// generators on a wall-clock ticker, and flushes cleanly on SIGINT/
// SIGTERM (teacher: app/lals/signal_unix.go's runSignalHandler, minus
// the SIGUSR reload semantics this demo has no use for).
func run(conf *Config, useMemory bool) {
	wcfg, err := conf.toWriterConfig()
	if err != nil {
		nazalog.Fatalf("bad config. err=%+v", err)
	}

	storage := hstorage.NewFileStorage(wcfg.StorageDir, useMemory)
	w, err := hwriter.New(wcfg, storage)
	if err != nil {
		nazalog.Fatalf("new writer core failed. err=%+v", err)
	}

	tracks := make(map[string][]*synthTrack, len(conf.Variants))
	for _, sv := range conf.Variants {
		vc, vTracks := buildVariantConfig(sv)
		tracks[sv.ID] = vTracks
		var addErr error
		if sv.Role == "rendition" {
			addErr = w.AddRendition(sv.ID, vc)
		} else {
			addErr = w.AddVariant(sv.ID, vc)
		}
		if addErr != nil {
			nazalog.Fatalf("add variant failed. id=%s err=%+v", sv.ID, addErr)
		}
	}

	var mu sync.Mutex // serializes WriteSample the way pkg/logic serializes per-stream access into hls.Muxer
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	nazalog.Infof("[%s] hlscored started. storage_dir=%s", w.UniqueKey, wcfg.StorageDir)
	for {
		select {
		case <-ticker.C:
			mu.Lock()
			feedOneRound(w, conf.Variants, tracks)
			mu.Unlock()
		case s := <-stop:
			nazalog.Infof("recv signal. s=%+v", s)
			mu.Lock()
			w.Close()
			mu.Unlock()
			return
		}
	}
}

func feedOneRound(w *hwriter.WriterCore, variants []SynthVariant, tracks map[string][]*synthTrack) {
	for _, sv := range variants {
		for _, st := range tracks[sv.ID] {
			payload, dts, duration, sync := st.next()
			w.WriteSample(sv.ID, st.id, hbase.Sample{
				Dts:      dts,
				Duration: duration,
				Sync:     sync,
				Payload:  payload,
			})
		}
	}
}

func buildVariantConfig(sv SynthVariant) (hbase.VariantConfig, []*synthTrack) {
	var tracks []*hbase.Track
	var synths []*synthTrack

	if sv.VideoCodec == "h264" {
		fps := sv.FPS
		if fps == 0 {
			fps = 30
		}
		st := newSynthVideoTrack(sv.ID+"-v", fps)
		tracks = append(tracks, &hbase.Track{
			ID: st.id, Kind: hbase.TrackKindVideo, Codec: hbase.CodecH264,
			Timescale: st.timescale, Width: sv.Width, Height: sv.Height,
		})
		synths = append(synths, st)
	}
	if sv.AudioCodec == "aac" {
		st := newSynthAudioTrack(sv.ID + "-a")
		tracks = append(tracks, &hbase.Track{
			ID: st.id, Kind: hbase.TrackKindAudio, Codec: hbase.CodecAAC,
			Timescale: st.timescale,
			PrivData:  []byte{0x12, 0x10}, // AAC-LC, 44100Hz, stereo
		})
		synths = append(synths, st)
	}

	cfg := hbase.VariantConfig{
		ID:         sv.ID,
		Tracks:     tracks,
		GroupID:    sv.GroupID,
		Audio:      sv.Audio,
		Language:   sv.Language,
		Default:    sv.Default,
		AutoSelect: true,
	}
	return cfg, synths
}
