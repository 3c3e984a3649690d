// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package sav reads and writes the SPSS System (.sav) binary format: a
// fixed header, a stream of 4-byte-tagged dictionary records, and an
// 8-byte-aligned data matrix that may be raw, RLE-compressed, or (for
// .zsav) zlib-compressed. The matrix side is built from two cooperating
// state machines: a decompressor that expands control bytes into 8-byte
// cells, and a parser that turns cells into typed values using the
// per-column width table.
package sav

import (
	"math"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/elliotnunn/porsav"
)

const (
	headerMagic = "$FL2"
	zsavMagic   = "$FL3" // zlib-compressed variant
	layoutCode  = 2

	recVariable    = 2
	recValueLabels = 3
	recVarList     = 4
	recDocuments   = 6
	recExtension   = 7
	recTerminator  = 999

	CompressionNone = 0
	CompressionRLE  = 1
	CompressionZlib = 2

	// DefaultBias maps small integers n into the single control byte
	// n+bias of the RLE scheme.
	DefaultBias = 100.0

	docLineWidth = 80
)

// Extension record subtags the codec itself understands. Anything else is
// carried as an opaque blob so vendor records survive a round trip.
const (
	subtagInteger   = 3
	subtagFloat     = 4
	subtagDisplay   = 11
	subtagLongNames = 13
	subtagVeryLong  = 14
	subtagEncoding  = 20
)

// The record-type-2 name field is 8 bytes; longer names map to generated
// short names and ride in the subtagLongNames record. A string wider than
// vlsSegmentWidth is stored as segment variables, each declaring width
// 255 but carrying 252 payload bytes except the last.
const (
	shortNameLen    = 8
	vlsSegmentWidth = 255
	vlsSegmentData  = 252
)

// Sysmiss is the default system-missing bit pattern: the most negative
// finite double.
var Sysmiss = -math.MaxFloat64

// IsSysmiss reports whether v is the system-missing sentinel.
func IsSysmiss(v float64) bool { return v == Sysmiss }

func floatBits(v float64) uint64 { return math.Float64bits(v) }

func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// decoderFor resolves an IANA character-set name to a text decoder.
// UTF-8 and the empty name need no transformation.
func decoderFor(name string) (*encoding.Decoder, error) {
	if name == "" || name == "UTF-8" || name == "utf-8" {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errEncoding(name)
	}
	return enc.NewDecoder(), nil
}

func encoderFor(name string) (*encoding.Encoder, error) {
	if name == "" || name == "UTF-8" || name == "utf-8" {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errEncoding(name)
	}
	return enc.NewEncoder(), nil
}

func errEncoding(name string) error {
	return &encodingError{name}
}

type encodingError struct{ name string }

func (e *encodingError) Error() string { return "unsupported character encoding " + e.name }
func (e *encodingError) Unwrap() error { return porsav.ErrEncoding }
