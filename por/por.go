// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package por reads and writes the SPSS Portable (.por) transfer format:
// a 7-bit-safe text container of fixed-width lines, base-30 numbers, and
// single-character record tags. Line wrapping happens at the byte level,
// so any token can be split across a line boundary; the lexer stitches
// tokens back together by ignoring line terminators entirely.
package por

const (
	// DefaultRowWidth is the column count of an ordinary Portable file.
	DefaultRowWidth = 80

	Signature = "SPSSPORT"
	Version   = 'A'

	separator  = '/'
	sysmissTag = '*'
	eofMarker  = 'Z'

	splashLines = 5
	splashWidth = 40
)

// Record tags, one character each.
const (
	tagProduct       = '1'
	tagAuthor        = '2'
	tagSubproduct    = '3'
	tagVariableCount = '4'
	tagPrecision     = '5'
	tagWeight        = '6'
	tagVariable      = '7'
	tagMissDiscrete  = '8'
	tagMissLow       = '9'
	tagMissHigh      = 'A'
	tagMissRange     = 'B'
	tagVarLabel      = 'C'
	tagValueLabels   = 'D'
	tagDocuments     = 'E'
	tagData          = 'F'
)

// identityTable is the default 256-byte character translation table: the
// file's character set is ours. A custom table maps canonical byte i to
// table[i] on disk; record tags must be fixpoints of any custom table.
func identityTable() *[256]byte {
	var t [256]byte
	for i := range t {
		t[i] = byte(i)
	}
	return &t
}

func invertTable(t *[256]byte) *[256]byte {
	inv := identityTable()
	for i, b := range t {
		inv[b] = byte(i)
	}
	return inv
}
