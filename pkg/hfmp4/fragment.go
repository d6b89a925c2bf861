// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

package hfmp4

// TrackFragment holds the per-track data needed for one moof/traf +
// its slice of mdat (spec §4.4).
type TrackFragment struct {
	TrackID          uint32
	BaseMediaDecodeTime uint64 // track's accumulated ticks before this segment
	Samples          []FragmentSample
}

// FragmentSample is one sample's trun entry plus its raw payload.
type FragmentSample struct {
	Duration  uint32
	Size      uint32
	Sync      bool
	CTSOffset int32
	Payload   []byte
}

// BuildFragment produces one styp+sidx(es)+moof+mdat fragment body
// (spec §4.4). sequenceNumber must increase monotonically from 1
// across the lifetime of one CMAF track.
func BuildFragment(sequenceNumber uint32, tracks []TrackFragment) []byte {
	stypBox := box("styp", concatBoxes(
		[]byte("msdh"), putU32(0), []byte("msdh"), []byte("msix"),
	))

	// trun's data_offset is measured from the start of moof (spec
	// §4.4 "data-offset present flag set on the first trun"); moof's
	// size is fully determined by sequenceNumber and the per-track
	// sample tables before any payload bytes are written, so it can
	// be computed up front rather than patched in after the fact.
	dataStart := estimateMoofSize(tracks) + 8 // + mdat box header

	trafs := make([][]byte, 0, len(tracks))
	sidxBoxes := make([][]byte, 0, len(tracks))
	mdatPayload := make([]byte, 0, 256)
	cursor := dataStart
	for _, tf := range tracks {
		trafs = append(trafs, buildTraf(tf, cursor))
		for _, s := range tf.Samples {
			mdatPayload = append(mdatPayload, s.Payload...)
			cursor += len(s.Payload)
		}
		sidxBoxes = append(sidxBoxes, buildSidx(tf))
	}

	moofBox := box("moof", concatBoxes(append([][]byte{buildMfhd(sequenceNumber)}, trafs...)...))
	mdatBox := box("mdat", mdatPayload)

	return concatBoxes(stypBox, concatBoxes(sidxBoxes...), moofBox, mdatBox)
}

func estimateMoofSize(tracks []TrackFragment) int {
	size := 8 + 16 // moof box header + mfhd
	for _, tf := range tracks {
		size += 8 + len(buildTfhd(tf.TrackID)) // traf header + tfhd
		size += 8 + 4 + 8 // tfdt header + version/flags + 64-bit time
		size += 8 + trunFixedSize(len(tf.Samples))
	}
	return size
}

func buildMfhd(sequenceNumber uint32) []byte {
	return fullBox("mfhd", 0, 0, putU32(sequenceNumber))
}

func buildTraf(tf TrackFragment, dataOffset int) []byte {
	tfhd := buildTfhd(tf.TrackID)
	tfdt := fullBox("tfdt", 1, 0, putU64(tf.BaseMediaDecodeTime))
	trun := buildTrun(tf.Samples, dataOffset)
	return box("traf", concatBoxes(tfhd, tfdt, trun))
}

// buildTfhd sets only the track_ID, relying on trun's per-sample
// fields (default-base-is-moof semantics, flags 0x020000).
func buildTfhd(trackID uint32) []byte {
	const flags = 0x020000 // default-base-is-moof
	return fullBox("tfhd", 0, flags, putU32(trackID))
}

func trunFixedSize(sampleCount int) int {
	return 4 + 4 + 4 + sampleCount*16 // version/flags+sampleCount+dataOffset + 16 bytes/sample
}

func buildTrun(samples []FragmentSample, dataOffset int) []byte {
	const flags = 0x000001 | 0x000100 | 0x000200 | 0x000400 | 0x000800
	// data-offset-present | sample-duration | sample-size | sample-flags |
	// sample-composition-time-offsets-present (first-sample-flags-present
	// is NOT set: that flag replaces the first sample's own per-sample
	// flags field with a separate first_sample_flags word right after
	// data_offset, which this payload never writes)
	payload := make([]byte, 0, 16+samples2Bytes(len(samples)))
	payload = append(payload, putU32(uint32(len(samples)))...)
	payload = append(payload, putU32(uint32(dataOffset))...)
	for _, s := range samples {
		payload = append(payload, putU32(s.Duration)...)
		payload = append(payload, putU32(s.Size)...)
		payload = append(payload, sampleFlags(s.Sync)...)
		payload = append(payload, putU32(uint32(int32ToSignedU32(s.CTSOffset)))...)
	}
	return fullBox("trun", 1, flags, payload)
}

func samples2Bytes(n int) int { return n * 16 }

func int32ToSignedU32(v int32) uint32 { return uint32(v) }

func sampleFlags(sync bool) []byte {
	// sample_depends_on(2)=2(I, depends on no other) or 1(not I),
	// sample_is_non_sync_sample(1)
	var flags uint32
	if sync {
		flags = 0x02000000 // depends_on=2(no), is_non_sync_sample=0
	} else {
		flags = 0x01010000 // depends_on=1(yes), is_non_sync_sample=1
	}
	return putU32(flags)
}

func buildSidx(tf TrackFragment) []byte {
	var total uint32
	for _, s := range tf.Samples {
		total += s.Size
	}
	payload := concatBoxes(
		putU32(tf.TrackID),         // reference_ID
		putU32(90000),              // timescale placeholder; rescaled by the caller before building
		putU32(uint32(tf.BaseMediaDecodeTime)), // earliest_presentation_time (low 32 bits)
		putU32(0),                  // first_offset
		putU16(0), putU16(1),       // reserved, reference_count
		putU32(total),              // referenced_size (reference_type=0)
		putU32(0),                  // subsegment_duration (filled by caller if needed)
	)
	return fullBox("sidx", 0, 0, payload)
}
