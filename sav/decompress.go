// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotnunn/porsav"
)

// Control byte meanings in the RLE scheme. Each control chunk holds eight
// of these, processed left to right; byte values 1..251 encode the double
// (value - bias) directly.
const (
	ctlNop     = 0
	ctlEOF     = 252
	ctlRaw     = 253
	ctlSpaces  = 254
	ctlSysmiss = 255
	ctlBiasMin = 1
	ctlBiasMax = 251
)

type dstate int

const (
	dControl dstate = iota // next chunk is a control chunk
	dByte                  // working through the current control bytes
	dRaw                   // a 253 wants the next chunk verbatim
	dEOF                   // a 252 was seen; only the end sentinel may follow
	dAccept
	dError
)

// Decompressor expands the System format's byte-compression in front of a
// downstream chunk consumer. Feed it 8-byte chunks with Consume and finish
// with Consume(nil); both Accept and Error are terminal and latched, and a
// downstream error latches without overwriting an earlier local one.
//
// With Passthrough set (uncompressed files) every chunk is forwarded
// untouched.
type Decompressor struct {
	Passthrough bool

	order   binary.ByteOrder
	bias    float64
	sysmiss [8]byte
	out     func([]byte) error

	state dstate
	ctrl  [8]byte
	idx   int
	err   error
	buf   [8]byte // scratch for synthesized cells
}

func NewDecompressor(order binary.ByteOrder, bias, sysmiss float64, out func([]byte) error) *Decompressor {
	d := &Decompressor{order: order, bias: bias, out: out}
	order.PutUint64(d.sysmiss[:], floatBits(sysmiss))
	return d
}

// Done reports that the machine is in a terminal state.
func (d *Decompressor) Done() bool { return d.state == dAccept || d.state == dError }

// Consume advances the machine with one 8-byte chunk, or with nil as the
// end-of-stream sentinel. Once terminal, it reports the same status
// forever and emits nothing further.
func (d *Decompressor) Consume(chunk []byte) error {
	switch d.state {
	case dAccept:
		return nil
	case dError:
		return d.err
	}

	if chunk == nil {
		if d.state == dEOF || (d.state == dControl && d.Passthrough) {
			d.state = dAccept
			return nil
		}
		if d.state == dRaw {
			return d.fail(fmt.Errorf("%w: stream ends where a raw cell was promised", porsav.ErrUnexpectedEOF))
		}
		return d.fail(fmt.Errorf("%w: stream ends without an end-of-file control byte", porsav.ErrUnexpectedEOF))
	}
	if len(chunk) != 8 {
		return d.fail(fmt.Errorf("%w: %d-byte chunk, cells are 8 bytes", porsav.ErrFormat, len(chunk)))
	}

	if d.Passthrough {
		return d.emit(chunk)
	}

	switch d.state {
	case dControl:
		copy(d.ctrl[:], chunk)
		d.idx = 0
		d.state = dByte
	case dRaw:
		if err := d.emit(chunk); err != nil {
			return err
		}
		d.state = dByte
	case dEOF:
		return d.fail(fmt.Errorf("%w: data after the end-of-file control byte", porsav.ErrFormat))
	}

	return d.drain()
}

// drain runs the epsilon transitions: control bytes that produce output
// (or none) without consuming input, stopping when the machine needs the
// next chunk or reaches the end-of-file marker.
func (d *Decompressor) drain() error {
	for d.state == dByte {
		if d.idx == len(d.ctrl) {
			d.state = dControl
			return nil
		}
		c := d.ctrl[d.idx]
		d.idx++
		switch {
		case c == ctlNop:
			// produces nothing
		case c == ctlEOF:
			d.state = dEOF
			return nil
		case c == ctlRaw:
			d.state = dRaw
			return nil
		case c == ctlSpaces:
			for i := range d.buf {
				d.buf[i] = ' '
			}
			if err := d.emit(d.buf[:]); err != nil {
				return err
			}
		case c == ctlSysmiss:
			if err := d.emit(d.sysmiss[:]); err != nil {
				return err
			}
		default: // ctlBiasMin..ctlBiasMax
			d.order.PutUint64(d.buf[:], floatBits(float64(c)-d.bias))
			if err := d.emit(d.buf[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decompressor) emit(cell []byte) error {
	if err := d.out(cell); err != nil {
		// first error wins; a downstream failure must not mask our own
		if d.err == nil {
			d.err = err
		}
		d.state = dError
		return d.err
	}
	return nil
}

func (d *Decompressor) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	d.state = dError
	return d.err
}
