// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hfmp4

import "github.com/chefstream/hlscore/pkg/hbase"

// TrackConfig carries everything BuildInitSegment needs to describe
// one track's sample entry (spec §4.1 "priv_data"/§4.4 "moov").
type TrackConfig struct {
	ID        string
	Kind      hbase.TrackKind
	Codec     hbase.Codec
	Timescale uint32
	Width     int
	Height    int

	// Video codec-private data.
	VPS, SPS, PPS []byte
	// Audio codec-private data (raw AudioSpecificConfig).
	ASC []byte
}

// BuildInitSegment produces `ftyp` + `moov` (with `mvex`/`trex`) for
// the given tracks, all of which must already carry their codec
// private data (spec §4.4 "once all tracks have priv_data").
func BuildInitSegment(tracks []TrackConfig) []byte {
	ftypBox := box("ftyp", concatBoxes(
		[]byte("iso5"),
		putU32(512),
		[]byte("iso6"),
		[]byte("mp41"),
	))
	moovBox := buildMoov(tracks)
	return concatBoxes(ftypBox, moovBox)
}

// boxTrackIDs assigns the numeric track_ID ISO BMFF requires in
// tkhd/tfhd/trex (spec tracks are string-identified; the box format
// is not) by registration order, 1-based.
func boxTrackIDs(tracks []TrackConfig) map[string]uint32 {
	ids := make(map[string]uint32, len(tracks))
	for i, t := range tracks {
		ids[t.ID] = uint32(i + 1)
	}
	return ids
}

func buildMoov(tracks []TrackConfig) []byte {
	ids := boxTrackIDs(tracks)
	parts := []([]byte){buildMvhd(uint32(len(tracks) + 1))}
	for _, t := range tracks {
		parts = append(parts, buildTrak(t, ids[t.ID]))
	}
	parts = append(parts, buildMvex(tracks, ids))
	return box("moov", concatBoxes(parts...))
}

func buildMvhd(nextTrackID uint32) []byte {
	payload := concatBoxes(
		putU32(0), putU32(0), // creation/modification time
		putU32(1000), putU32(0), // timescale, duration (fragmented: 0/unknown)
		putU32(0x00010000), // rate 1.0
		putU16(0x0100),     // volume 1.0
		putU16(0),          // reserved
		putU32(0), putU32(0), // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		putU32(nextTrackID),
	)
	return fullBox("mvhd", 0, 0, payload)
}

func identityMatrix() []byte {
	return concatBoxes(
		putU32(0x00010000), putU32(0), putU32(0),
		putU32(0), putU32(0x00010000), putU32(0),
		putU32(0), putU32(0), putU32(0x40000000),
	)
}

func buildTrak(t TrackConfig, boxID uint32) []byte {
	tkhd := buildTkhd(t, boxID)
	mdia := buildMdia(t)
	return box("trak", concatBoxes(tkhd, mdia))
}

func buildTkhd(t TrackConfig, boxID uint32) []byte {
	flags := uint32(0x000007) // enabled + in movie + in preview
	payload := concatBoxes(
		putU32(0), putU32(0), // creation/modification time
		putU32(boxID),
		putU32(0), // reserved
		putU32(0), // duration (fragmented)
		putU32(0), putU32(0), // reserved
		putU16(0), // layer
		putU16(0), // alternate_group
		putU16(audioVolume(t)),
		putU16(0), // reserved
		identityMatrix(),
		putU32(uint32(t.Width)<<16),
		putU32(uint32(t.Height)<<16),
	)
	return fullBox("tkhd", 0, flags, payload)
}

func audioVolume(t TrackConfig) uint16 {
	if t.Kind == hbase.TrackKindAudio {
		return 0x0100
	}
	return 0
}

func buildMdia(t TrackConfig) []byte {
	mdhd := fullBox("mdhd", 0, 0, concatBoxes(
		putU32(0), putU32(0),
		putU32(t.Timescale),
		putU32(0),
		putU16(0x55c4), // language "und"
		putU16(0),
	))
	hdlrType := "vide"
	hdlrName := "hlscore video handler"
	if t.Kind == hbase.TrackKindAudio {
		hdlrType = "soun"
		hdlrName = "hlscore audio handler"
	}
	hdlr := fullBox("hdlr", 0, 0, concatBoxes(
		putU32(0),
		[]byte(hdlrType),
		make([]byte, 12),
		[]byte(hdlrName),
		[]byte{0},
	))
	minf := buildMinf(t)
	return box("mdia", concatBoxes(mdhd, hdlr, minf))
}

func buildMinf(t TrackConfig) []byte {
	var mediaHeader []byte
	if t.Kind == hbase.TrackKindAudio {
		mediaHeader = fullBox("smhd", 0, 0, concatBoxes(putU16(0), putU16(0)))
	} else {
		mediaHeader = fullBox("vmhd", 0, 1, concatBoxes(putU16(0), putU16(0), putU16(0), putU16(0)))
	}
	dinf := box("dinf", fullBox("dref", 0, 0, concatBoxes(
		putU32(1),
		fullBox("url ", 0, 1, nil),
	)))
	stbl := buildStbl(t)
	return box("minf", concatBoxes(mediaHeader, dinf, stbl))
}

func buildStbl(t TrackConfig) []byte {
	stsd := buildStsd(t)
	empty32 := fullBox("stts", 0, 0, putU32(0))
	stsc := fullBox("stsc", 0, 0, putU32(0))
	stsz := fullBox("stsz", 0, 0, concatBoxes(putU32(0), putU32(0)))
	stco := fullBox("stco", 0, 0, putU32(0))
	return box("stbl", concatBoxes(stsd, empty32, stsc, stsz, stco))
}

func buildStsd(t TrackConfig) []byte {
	var entry []byte
	switch t.Codec {
	case hbase.CodecH264:
		entry = buildAvc1(t)
	case hbase.CodecH265:
		entry = buildHvc1(t)
	case hbase.CodecAAC:
		entry = buildMp4a(t)
	case hbase.CodecAV1:
		entry = buildAv01(t)
	}
	return fullBox("stsd", 0, 0, concatBoxes(putU32(1), entry))
}

func visualSampleEntryHeader(format string, t TrackConfig) []byte {
	return concatBoxes(
		make([]byte, 6), putU16(1), // reserved, data_reference_index
		putU16(0), putU16(0), // pre_defined, reserved
		make([]byte, 12), // pre_defined[3]
		putU16(uint16(t.Width)), putU16(uint16(t.Height)),
		putU32(0x00480000), putU32(0x00480000), // horiz/vert resolution 72dpi
		putU32(0),  // reserved
		putU16(1),  // frame_count
		make([]byte, 32), // compressorname
		putU16(0x0018), // depth
		[]byte{0xff, 0xff}, // pre_defined
	)
}

func buildAvc1(t TrackConfig) []byte {
	header := visualSampleEntryHeader("avc1", t)
	avcC := box("avcC", buildAvcC(t.SPS, t.PPS))
	return box("avc1", concatBoxes(header, avcC))
}

func buildAvcC(sps, pps []byte) []byte {
	profile, compat, level := byte(0), byte(0), byte(0)
	if len(sps) >= 4 {
		profile, compat, level = sps[1], sps[2], sps[3]
	}
	out := []byte{
		1, profile, compat, level,
		0xfc | 3, // reserved + lengthSizeMinusOne=3 (4-byte NALU lengths)
		0xe0 | 1, // reserved + numOfSPS=1
	}
	out = append(out, putU16(uint16(len(sps)))...)
	out = append(out, sps...)
	out = append(out, byte(1)) // numOfPPS
	out = append(out, putU16(uint16(len(pps)))...)
	out = append(out, pps...)
	return out
}

func buildHvc1(t TrackConfig) []byte {
	header := visualSampleEntryHeader("hvc1", t)
	hvcC := box("hvcC", buildHvcC(t.VPS, t.SPS, t.PPS))
	return box("hvc1", concatBoxes(header, hvcC))
}

func buildHvcC(vps, sps, pps []byte) []byte {
	// Minimal HEVCDecoderConfigurationRecord: fixed fields + one
	// nalu-array per parameter-set type, each holding a single NALU.
	out := []byte{1} // configurationVersion
	out = append(out, make([]byte, 12)...) // profile/level/compat fields, left zeroed
	out = append(out, 0xf0|3) // reserved + lengthSizeMinusOne
	out = append(out, byte(3)) // numOfArrays

	arrays := []struct {
		naluType byte
		payload  []byte
	}{{32, vps}, {33, sps}, {34, pps}}
	for _, a := range arrays {
		out = append(out, 0x80|a.naluType) // array_completeness + NAL_unit_type
		out = append(out, putU16(1)...)    // numNalus
		out = append(out, putU16(uint16(len(a.payload)))...)
		out = append(out, a.payload...)
	}
	return out
}

func buildMp4a(t TrackConfig) []byte {
	header := concatBoxes(
		make([]byte, 6), putU16(1),
		putU32(0), putU32(0),
		putU16(2), // channelcount (generalized, not read from ASC here)
		putU16(16), // samplesize
		putU16(0), putU16(0),
		putU32(uint32(t.Timescale)<<16),
	)
	esds := fullBox("esds", 0, 0, buildEsDescriptor(t.ASC))
	return box("mp4a", concatBoxes(header, esds))
}

func buildEsDescriptor(asc []byte) []byte {
	decSpecificInfo := descriptor(0x05, asc)
	decConfig := concatBoxes(
		[]byte{0x40},    // objectTypeIndication: MPEG-4 Audio
		[]byte{0x15},    // streamType(6b)=audio, upStream(1b)=0, reserved(1b)=1
		[]byte{0, 0, 0}, // bufferSizeDB
		putU32(0),       // maxBitrate
		putU32(0),       // avgBitrate
		decSpecificInfo,
	)
	decConfigDesc := descriptor(0x04, decConfig)
	slConfig := descriptor(0x06, []byte{0x02})
	esDescriptor := concatBoxes(putU16(0), []byte{0x00}, decConfigDesc, slConfig)
	return descriptor(0x03, esDescriptor)
}

// descriptor wraps payload in an MPEG-4 descriptor tag with its
// variable-length size field (ISO/IEC 14496-1 §8.3.3).
func descriptor(tag byte, payload []byte) []byte {
	out := []byte{tag}
	out = append(out, encodeDescriptorLength(len(payload))...)
	out = append(out, payload...)
	return out
}

func encodeDescriptorLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var out []byte
	for n > 0 {
		b := byte(n & 0x7f)
		n >>= 7
		if len(out) > 0 {
			b |= 0x80
		}
		out = append([]byte{b}, out...)
	}
	return out
}

func buildAv01(t TrackConfig) []byte {
	header := visualSampleEntryHeader("av01", t)
	av1C := box("av1C", []byte{0x81, 0, 0, 0}) // marker/version=1, minimal config, no seq header inlined
	return box("av01", concatBoxes(header, av1C))
}

func buildMvex(tracks []TrackConfig, ids map[string]uint32) []byte {
	parts := make([][]byte, 0, len(tracks))
	for _, t := range tracks {
		parts = append(parts, buildTrex(ids[t.ID]))
	}
	return box("mvex", concatBoxes(parts...))
}

func buildTrex(trackID uint32) []byte {
	payload := concatBoxes(
		putU32(trackID),
		putU32(1), // default_sample_description_index
		putU32(0), // default_sample_duration
		putU32(0), // default_sample_size
		putU32(0), // default_sample_flags
	)
	return fullBox("trex", 0, 0, payload)
}
