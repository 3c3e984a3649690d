// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package bytebuf

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteThenRead(t *testing.T) {
	a := New()
	w := a.Writer()
	w.Write([]byte("hello "))
	w.Write([]byte("world"))

	r := a.Reader()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("got %q", got)
	}
}

func TestIndependentReaders(t *testing.T) {
	a := FromBytes([]byte("abcdef"))
	r1, r2 := a.Reader(), a.Reader()
	r1.Seek(3, io.SeekStart)
	b1, _ := r1.ReadByte()
	b2, _ := r2.ReadByte()
	if b1 != 'd' || b2 != 'a' {
		t.Errorf("got %c %c", b1, b2)
	}
}

func TestSingleWriter(t *testing.T) {
	a := New()
	if a.Writer() != a.Writer() {
		t.Error("two distinct write cursors for one array")
	}
}

func TestOverwriteMidStream(t *testing.T) {
	a := New()
	w := a.Writer()
	w.Write([]byte("xxxx"))
	w.Seek(1, io.SeekStart)
	w.WriteByte('y')
	if !bytes.Equal(a.Bytes(), []byte("xyxx")) {
		t.Errorf("got %q", a.Bytes())
	}
}

func TestWriteBeyondEnd(t *testing.T) {
	a := New()
	w := a.Writer()
	w.Seek(3, io.SeekStart)
	w.WriteByte('z')
	if !bytes.Equal(a.Bytes(), []byte{0, 0, 0, 'z'}) {
		t.Errorf("got %v", a.Bytes())
	}
}

func TestReaderEOF(t *testing.T) {
	r := FromBytes([]byte("a")).Reader()
	r.ReadByte()
	if _, err := r.ReadByte(); err != io.EOF {
		t.Errorf("want io.EOF, got %v", err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d", r.Remaining())
	}
}
