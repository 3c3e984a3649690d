// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package sniff guesses the container of a data stream from its leading
// bytes: a System file, a Portable file, or one of the compression
// envelopes the tools unwrap transparently.
package sniff

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/therootcompany/xz"

	"github.com/elliotnunn/porsav"
)

type Kind int

const (
	Unknown Kind = iota
	System       // .sav or .zsav
	Portable     // .por
	Gzip
	Bzip2
	Xz
)

func (k Kind) String() string {
	switch k {
	case System:
		return "system"
	case Portable:
		return "portable"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Xz:
		return "xz"
	}
	return "unknown"
}

// probeLen is enough header to find the Portable signature, which sits
// past the 200-byte splash and 256-byte character table, plus allowance
// for line breaks.
const probeLen = 600

// Detect classifies a header prefix. Short prefixes are fine; anything
// that fails every magic check is Unknown.
func Detect(header []byte) Kind {
	matchAt := func(s string, offset int) bool {
		return len(header) >= offset+len(s) && string(header[offset:offset+len(s)]) == s
	}
	switch {
	case matchAt("$FL2", 0), matchAt("$FL3", 0):
		return System
	case matchAt("\x1f\x8b", 0):
		return Gzip
	case matchAt("BZh", 0):
		return Bzip2
	case matchAt("\xfd7zXZ\x00", 0):
		return Xz
	case bytes.Contains(header, []byte("SPSSPORT")):
		// The Portable signature floats: its offset depends on the line
		// width and ending, so scan for it rather than index to it.
		return Portable
	}
	return Unknown
}

// Open classifies src, unwrapping compression envelopes until it reaches
// a System or Portable stream. The returned reader is positioned at the
// start of that stream.
func Open(src io.Reader) (Kind, io.Reader, error) {
	// a gzipped xz'd file is nonsense, so a few layers is plenty
	for depth := 0; depth < 4; depth++ {
		br := bufio.NewReaderSize(src, probeLen)
		header, err := br.Peek(probeLen)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			return Unknown, nil, err
		}
		kind := Detect(header)
		switch kind {
		case System, Portable:
			return kind, br, nil
		case Gzip:
			if src, err = gzip.NewReader(br); err != nil {
				return Unknown, nil, err
			}
		case Bzip2:
			src = bzip2.NewReader(br)
		case Xz:
			if src, err = xz.NewReader(br, xz.DefaultDictMax); err != nil {
				return Unknown, nil, err
			}
		default:
			return Unknown, nil, fmt.Errorf("%w: unrecognized file contents", porsav.ErrStructure)
		}
	}
	return Unknown, nil, fmt.Errorf("%w: compression nested too deeply", porsav.ErrStructure)
}
