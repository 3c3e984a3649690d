// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package bytebuf is a growable byte store with independent cursor views:
// one writer, any number of readers. The Portable codec keeps a file's
// pre-rendered data matrix in one of these and re-scans it with separate
// read cursors while the single write cursor appends.
package bytebuf

import (
	"errors"
	"io"
)

type Array struct {
	data   []byte
	writer *Writer
}

func New() *Array { return &Array{} }

func FromBytes(b []byte) *Array { return &Array{data: b} }

func (a *Array) Len() int { return len(a.data) }

// Bytes is the store's backing slice. Readers may hold it; only the
// Writer may grow or modify it.
func (a *Array) Bytes() []byte { return a.data }

// Writer returns the array's single write cursor, positioned at the end.
// Repeated calls return the same cursor: there is never more than one.
func (a *Array) Writer() *Writer {
	if a.writer == nil {
		a.writer = &Writer{a: a, off: len(a.data)}
	}
	return a.writer
}

// Reader returns a new independent read cursor at the start.
func (a *Array) Reader() *Reader { return &Reader{a: a} }

type Writer struct {
	a   *Array
	off int
}

func (w *Writer) Write(p []byte) (int, error) {
	for w.off+len(p) > len(w.a.data) {
		w.a.data = append(w.a.data, 0)
	}
	copy(w.a.data[w.off:], p)
	w.off += len(p)
	return len(p), nil
}

func (w *Writer) WriteByte(b byte) error {
	for w.off >= len(w.a.data) {
		w.a.data = append(w.a.data, 0)
	}
	w.a.data[w.off] = b
	w.off++
	return nil
}

func (w *Writer) Seek(offset int64, whence int) (int64, error) {
	n, err := seek(offset, whence, int64(w.off), int64(len(w.a.data)))
	if err != nil {
		return int64(w.off), err
	}
	w.off = int(n)
	return n, nil
}

func (w *Writer) Offset() int { return w.off }

type Reader struct {
	a   *Array
	off int
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.off >= len(r.a.data) {
		return 0, io.EOF
	}
	n := copy(p, r.a.data[r.off:])
	r.off += n
	return n, nil
}

func (r *Reader) ReadByte() (byte, error) {
	if r.off >= len(r.a.data) {
		return 0, io.EOF
	}
	b := r.a.data[r.off]
	r.off++
	return b, nil
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	n, err := seek(offset, whence, int64(r.off), int64(len(r.a.data)))
	if err != nil {
		return int64(r.off), err
	}
	r.off = int(n)
	return n, nil
}

func (r *Reader) Offset() int { return r.off }

func (r *Reader) Remaining() int { return len(r.a.data) - r.off }

var errSeek = errors.New("seek out of range")

func seek(offset int64, whence int, cur, size int64) (int64, error) {
	var n int64
	switch whence {
	case io.SeekStart:
		n = offset
	case io.SeekCurrent:
		n = cur + offset
	case io.SeekEnd:
		n = size + offset
	default:
		return 0, errSeek
	}
	if n < 0 {
		return 0, errSeek
	}
	return n, nil
}
