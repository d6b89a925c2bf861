// Copyright 2024, ChefStream.  All rights reserved.
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.

// Package hfmp4 implements the CMAF/fMP4 path of TracksMuxer (spec
// §4.4): the init segment (ftyp+moov) and per-flush media segments
// (styp+sidx+moof+mdat), plus low-latency partial fragments. The
// teacher (lal) predates fMP4/LL-HLS output entirely, so the ISO BMFF
// box tree here has no direct teacher file to generalize from (spec
// §9 calls this out); it is written in the same big-endian,
// manually-length-prefixed style the teacher uses for MPEG-TS
// (pkg/mpegts/psi.go's "compute length, write bytes" shape) since
// that's the nearest idiom the corpus offers for binary-format
// encoding.
package hfmp4

import "encoding/binary"

// box wraps payload in a standard (32-bit size) ISO BMFF box.
func box(typ string, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(8+len(payload)))
	out = append(out, sizeBuf[:]...)
	out = append(out, typ...)
	out = append(out, payload...)
	return out
}

// fullBox wraps payload in a FullBox (box + version/flags word).
func fullBox(typ string, version uint8, flags uint32, payload []byte) []byte {
	hdr := make([]byte, 4)
	hdr[0] = version
	hdr[1] = byte(flags >> 16)
	hdr[2] = byte(flags >> 8)
	hdr[3] = byte(flags)
	return box(typ, append(hdr, payload...))
}

func concatBoxes(boxes ...[]byte) []byte {
	total := 0
	for _, b := range boxes {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range boxes {
		out = append(out, b...)
	}
	return out
}

func putU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func putU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func putU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
