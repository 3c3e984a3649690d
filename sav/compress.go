// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

// rleWriter is the compressing dual of Decompressor: it packs cells into
// control chunks of eight codes plus the trailing literal data those codes
// demand, flushing whenever a control chunk fills.
type rleWriter struct {
	w       io.Writer
	order   binary.ByteOrder
	bias    float64
	sysmiss float64
	ctrl    [8]byte
	idx     int
	data    bytes.Buffer
}

func newRLEWriter(w io.Writer, order binary.ByteOrder, bias, sysmiss float64) *rleWriter {
	return &rleWriter{w: w, order: order, bias: bias, sysmiss: sysmiss}
}

func (c *rleWriter) flushIfFull() error {
	if c.idx < len(c.ctrl) {
		return nil
	}
	if _, err := c.w.Write(c.ctrl[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(c.data.Bytes()); err != nil {
		return err
	}
	c.idx = 0
	c.data.Reset()
	return nil
}

func (c *rleWriter) code(b byte) error {
	c.ctrl[c.idx] = b
	c.idx++
	return c.flushIfFull()
}

func (c *rleWriter) Number(v float64) error {
	if v == c.sysmiss {
		return c.Sysmiss()
	}
	// Integers within the bias window compress to a single control byte.
	if v == math.Trunc(v) {
		n := v + c.bias
		if n >= ctlBiasMin && n <= ctlBiasMax && n == math.Trunc(n) {
			return c.code(byte(n))
		}
	}
	var cell [8]byte
	c.order.PutUint64(cell[:], floatBits(v))
	c.data.Write(cell[:])
	return c.code(ctlRaw)
}

func (c *rleWriter) Sysmiss() error {
	return c.code(ctlSysmiss)
}

// String writes a value padded across the given number of 8-byte slots.
// All-space slots collapse to a single control byte.
func (c *rleWriter) String(val string, slots int) error {
	for i := 0; i < slots; i++ {
		var cell [8]byte
		for j := range cell {
			cell[j] = ' '
		}
		if len(val) > 0 {
			n := copy(cell[:], val)
			val = val[n:]
		}
		if cell == [8]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '} {
			if err := c.code(ctlSpaces); err != nil {
				return err
			}
			continue
		}
		c.data.Write(cell[:])
		if err := c.code(ctlRaw); err != nil {
			return err
		}
	}
	return nil
}

// Close emits the end-of-file code and pads the final control chunk with
// no-ops.
func (c *rleWriter) Close() error {
	if err := c.code(ctlEOF); err != nil {
		return err
	}
	for c.idx != 0 {
		if err := c.code(ctlNop); err != nil {
			return err
		}
	}
	return nil
}
