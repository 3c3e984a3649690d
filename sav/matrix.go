// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/elliotnunn/porsav"
)

// MatrixConsumer receives the typed cell events of one data matrix.
// Returning a non-nil error aborts and latches the parser.
type MatrixConsumer interface {
	BeginRow(row int) error
	Number(col int, v float64) error
	Sysmiss(col int) error
	// String delivers a completed string cell; col is the index of its
	// leading column slot.
	String(col int, s string) error
	EndRow(row int) error
	EndMatrix(rows int) error
}

// DefaultStringCap bounds the string accumulation buffer. Bytes beyond it
// are dropped silently rather than failing the parse; pathological "very
// long string" widths therefore truncate.
// TODO: decide whether truncation here should become an error once the
// behavior of reference implementations on >cap strings is pinned down.
const DefaultStringCap = 1 << 20

type pstate int

const (
	pCell pstate = iota // at the start of a column slot
	pAccept
	pError
)

// MatrixParser reconstitutes the decompressed 8-byte cell stream into
// typed values according to the per-column width table: width 0 is a
// numeric cell, width N>0 starts an N-byte string, and width -1 continues
// the string begun to its left. Completion of a string is decided by
// looking at the NEXT column's width, which is what lets one logical
// string span any number of physical slots.
type MatrixParser struct {
	widths  []int
	order   binary.ByteOrder
	sysmiss [8]byte
	out     MatrixConsumer

	state    pstate
	col      int
	row      int
	strStart int // leading slot of the string being accumulated
	strWant  int // its declared byte width
	strbuf   []byte
	strCap   int
	err      error
}

func NewMatrixParser(widths []int, order binary.ByteOrder, sysmiss float64, out MatrixConsumer) (*MatrixParser, error) {
	if len(widths) == 0 {
		return nil, fmt.Errorf("%w: empty column table", porsav.ErrWidth)
	}
	for i, w := range widths {
		if w < porsav.ContinuationWidth {
			return nil, fmt.Errorf("%w: column %d has width %d", porsav.ErrWidth, i, w)
		}
		if w == porsav.ContinuationWidth && (i == 0 || widths[i-1] == 0) {
			return nil, fmt.Errorf("%w: column %d continues nothing", porsav.ErrWidth, i)
		}
	}
	p := &MatrixParser{
		widths: widths,
		order:  order,
		out:    out,
		strCap: DefaultStringCap,
	}
	order.PutUint64(p.sysmiss[:], floatBits(sysmiss))
	return p, nil
}

func (p *MatrixParser) Done() bool { return p.state == pAccept || p.state == pError }

// Consume advances the parser with one 8-byte cell, or nil at end of
// stream. Terminal states are latched.
func (p *MatrixParser) Consume(cell []byte) error {
	switch p.state {
	case pAccept:
		return nil
	case pError:
		return p.err
	}

	if cell == nil {
		if p.col != 0 {
			return p.fail(fmt.Errorf("%w: matrix ends mid-row at column %d of %d", porsav.ErrUnexpectedEOF, p.col, len(p.widths)))
		}
		if err := p.out.EndMatrix(p.row); err != nil {
			return p.fail(err)
		}
		p.state = pAccept
		return nil
	}
	if len(cell) != 8 {
		return p.fail(fmt.Errorf("%w: %d-byte cell", porsav.ErrFormat, len(cell)))
	}

	if p.col == 0 {
		if err := p.out.BeginRow(p.row); err != nil {
			return p.fail(err)
		}
	}

	w := p.widths[p.col]
	if w == 0 {
		if err := p.numericCell(cell); err != nil {
			return err
		}
	} else {
		if err := p.stringCell(cell, w); err != nil {
			return err
		}
	}

	p.col++
	if p.col == len(p.widths) {
		if err := p.out.EndRow(p.row); err != nil {
			return p.fail(err)
		}
		p.row++
		p.col = 0
	}
	return nil
}

func (p *MatrixParser) numericCell(cell []byte) error {
	if bytes.Equal(cell, p.sysmiss[:]) {
		if err := p.out.Sysmiss(p.col); err != nil {
			return p.fail(err)
		}
		return nil
	}
	v := floatFromBits(p.order.Uint64(cell))
	if err := p.out.Number(p.col, v); err != nil {
		return p.fail(err)
	}
	return nil
}

func (p *MatrixParser) stringCell(cell []byte, w int) error {
	if w != porsav.ContinuationWidth {
		// leading slot
		p.strStart = p.col
		p.strWant = w
		p.strbuf = p.strbuf[:0]
	}
	if len(p.strbuf)+len(cell) <= p.strCap {
		p.strbuf = append(p.strbuf, cell...)
	} else if room := p.strCap - len(p.strbuf); room > 0 {
		p.strbuf = append(p.strbuf, cell[:room]...)
	}

	// The string is complete only when the following column is not a
	// continuation slot (row end counts as "not a continuation").
	next := p.col + 1
	if next < len(p.widths) && p.widths[next] == porsav.ContinuationWidth {
		return nil
	}

	raw := p.strbuf
	if p.strWant > 0 && p.strWant < len(raw) {
		raw = raw[:p.strWant]
	}
	raw = bytes.TrimRight(raw, " ")
	if err := p.out.String(p.strStart, string(raw)); err != nil {
		return p.fail(err)
	}
	return nil
}

func (p *MatrixParser) fail(err error) error {
	if p.err == nil {
		p.err = err
	}
	p.state = pError
	return p.err
}
