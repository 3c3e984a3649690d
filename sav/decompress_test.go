// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/elliotnunn/porsav"
)

func numCell(t *testing.T, v float64) []byte {
	t.Helper()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], floatBits(v))
	return b[:]
}

func collect(cells *[][]byte) func([]byte) error {
	return func(cell []byte) error {
		*cells = append(*cells, append([]byte(nil), cell...))
		return nil
	}
}

func TestControlSequenceTrace(t *testing.T) {
	var cells [][]byte
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, collect(&cells))

	ctrl := []byte{1, ctlSysmiss, ctlSpaces, ctlRaw, ctlNop, ctlNop, ctlNop, ctlEOF}
	if err := d.Consume(ctrl); err != nil {
		t.Fatal(err)
	}
	raw := []byte("ABCDEFGH")
	if err := d.Consume(raw); err != nil {
		t.Fatal(err)
	}
	if err := d.Consume(nil); err != nil {
		t.Fatal(err)
	}
	if !d.Done() {
		t.Error("machine not terminal after end of stream")
	}

	want := [][]byte{
		numCell(t, 1-DefaultBias),
		d.sysmiss[:],
		bytes.Repeat([]byte{' '}, 8),
		raw,
	}
	if len(cells) != len(want) {
		t.Fatalf("got %d cells, want %d", len(cells), len(want))
	}
	for i := range want {
		if !bytes.Equal(cells[i], want[i]) {
			t.Errorf("cell %d: got % x, want % x", i, cells[i], want[i])
		}
	}
}

func TestDecompressorErrorLatch(t *testing.T) {
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, func([]byte) error { return nil })

	first := d.Consume([]byte{1, 2, 3})
	if !errors.Is(first, porsav.ErrFormat) {
		t.Fatalf("short chunk: got %v, want ErrFormat", first)
	}
	for _, chunk := range [][]byte{bytes.Repeat([]byte{ctlNop}, 8), nil} {
		if err := d.Consume(chunk); err != first {
			t.Errorf("after latch: got %v, want the original error", err)
		}
	}
}

func TestDataAfterEOFMarker(t *testing.T) {
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, func([]byte) error { return nil })
	ctrl := append([]byte{ctlEOF}, bytes.Repeat([]byte{ctlNop}, 7)...)
	if err := d.Consume(ctrl); err != nil {
		t.Fatal(err)
	}
	err := d.Consume(bytes.Repeat([]byte{'x'}, 8))
	if !errors.Is(err, porsav.ErrFormat) {
		t.Errorf("got %v, want ErrFormat", err)
	}
}

func TestTruncatedStreams(t *testing.T) {
	t.Run("missing raw cell", func(t *testing.T) {
		d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, func([]byte) error { return nil })
		ctrl := append([]byte{ctlRaw}, bytes.Repeat([]byte{ctlNop}, 7)...)
		if err := d.Consume(ctrl); err != nil {
			t.Fatal(err)
		}
		if err := d.Consume(nil); !errors.Is(err, porsav.ErrUnexpectedEOF) {
			t.Errorf("got %v, want ErrUnexpectedEOF", err)
		}
	})
	t.Run("missing end-of-file code", func(t *testing.T) {
		d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, func([]byte) error { return nil })
		if err := d.Consume(bytes.Repeat([]byte{ctlNop}, 8)); err != nil {
			t.Fatal(err)
		}
		if err := d.Consume(nil); !errors.Is(err, porsav.ErrUnexpectedEOF) {
			t.Errorf("got %v, want ErrUnexpectedEOF", err)
		}
	})
}

func TestPassthrough(t *testing.T) {
	var cells [][]byte
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, collect(&cells))
	d.Passthrough = true

	in := [][]byte{numCell(t, 3.25), []byte("spssport")}
	for _, c := range in {
		if err := d.Consume(c); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Consume(nil); err != nil {
		t.Fatal(err)
	}
	if len(cells) != 2 || !bytes.Equal(cells[0], in[0]) || !bytes.Equal(cells[1], in[1]) {
		t.Errorf("passthrough altered the stream: %v", cells)
	}
}

func TestDownstreamErrorWins(t *testing.T) {
	boom := errors.New("boom")
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, func([]byte) error { return boom })
	ctrl := append([]byte{ctlSysmiss}, bytes.Repeat([]byte{ctlNop}, 7)...)
	if err := d.Consume(ctrl); err != boom {
		t.Fatalf("got %v, want the downstream error", err)
	}
	// the downstream error stays latched over any later local one
	if err := d.Consume([]byte{1}); err != boom {
		t.Errorf("after latch: got %v, want the downstream error", err)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	var packed bytes.Buffer
	c := newRLEWriter(&packed, binary.LittleEndian, DefaultBias, Sysmiss)
	for _, v := range []float64{0, 1, -99, 151, 1e10, 0.5} {
		if err := c.Number(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Sysmiss(); err != nil {
		t.Fatal(err)
	}
	if err := c.String("hi", 2); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	var cells [][]byte
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, collect(&cells))
	buf := packed.Bytes()
	for i := 0; i < len(buf); i += 8 {
		if err := d.Consume(buf[i : i+8]); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Consume(nil); err != nil {
		t.Fatal(err)
	}

	want := [][]byte{
		numCell(t, 0), numCell(t, 1), numCell(t, -99), numCell(t, 151),
		numCell(t, 1e10), numCell(t, 0.5),
		numCell(t, Sysmiss),
		[]byte("hi      "), bytes.Repeat([]byte{' '}, 8),
	}
	if len(cells) != len(want) {
		t.Fatalf("got %d cells, want %d", len(cells), len(want))
	}
	for i := range want {
		if !bytes.Equal(cells[i], want[i]) {
			t.Errorf("cell %d: got %q, want %q", i, cells[i], want[i])
		}
	}
}

func TestControlSequenceDrivesParser(t *testing.T) {
	rec := &eventRecorder{}
	p, err := NewMatrixParser([]int{0, 0, 8, 8}, binary.LittleEndian, Sysmiss, rec)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDecompressor(binary.LittleEndian, DefaultBias, Sysmiss, p.Consume)

	ctrl := []byte{1, ctlSysmiss, ctlSpaces, ctlRaw, ctlNop, ctlNop, ctlNop, ctlEOF}
	for _, chunk := range [][]byte{ctrl, []byte("ABCDEFGH"), nil} {
		if err := d.Consume(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Consume(nil); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"begin 0",
		"num 0 -99",
		"sysmiss 1",
		`str 2 ""`,
		`str 3 "ABCDEFGH"`,
		"end 0",
		"matrix 1",
	}
	if len(rec.events) != len(want) {
		t.Fatalf("events %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d: got %q, want %q", i, rec.events[i], want[i])
		}
	}
}
