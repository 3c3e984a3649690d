// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package por

import (
	"bufio"
	"fmt"
	"io"

	"github.com/elliotnunn/porsav"
	"github.com/elliotnunn/porsav/internal/basen"
)

// lineWriter pushes bytes through the column/row machinery: every byte
// advances the column, and reaching the row width emits a terminator and
// resets to column zero, even in the middle of a token.
type lineWriter struct {
	w      *bufio.Writer
	width  int
	eol    []byte
	col    int
	row    int
	encode *[256]byte
	num    *basen.Formatter
}

func newLineWriter(w io.Writer, width int, crlf bool, precision int) (*lineWriter, error) {
	num, err := basen.NewFormatter(basen.Base30, precision)
	if err != nil {
		return nil, err
	}
	eol := []byte{'\n'}
	if crlf {
		eol = []byte{'\r', '\n'}
	}
	return &lineWriter{
		w:      bufio.NewWriter(w),
		width:  width,
		eol:    eol,
		encode: identityTable(),
		num:    num,
	}, nil
}

// putRaw emits one byte without translation. Tags and the header fields
// that precede the translation table go through here.
func (lw *lineWriter) putRaw(b byte) error {
	if err := lw.w.WriteByte(b); err != nil {
		return err
	}
	lw.col++
	if lw.col == lw.width {
		if _, err := lw.w.Write(lw.eol); err != nil {
			return err
		}
		lw.col = 0
		lw.row++
	}
	return nil
}

// putByte emits one byte through the active translation table.
func (lw *lineWriter) putByte(b byte) error {
	return lw.putRaw(lw.encode[b])
}

func (lw *lineWriter) putBytes(b []byte) error {
	for _, c := range b {
		if err := lw.putByte(c); err != nil {
			return err
		}
	}
	return nil
}

func (lw *lineWriter) putInt(v int64) error {
	if err := lw.putBytes(lw.num.Int(v)); err != nil {
		return err
	}
	return lw.putByte(separator)
}

func (lw *lineWriter) putFloat(v float64) error {
	b, err := lw.num.Float(v)
	if err != nil {
		return err
	}
	if err := lw.putBytes(b); err != nil {
		return err
	}
	return lw.putByte(separator)
}

// putSysmiss emits the missing-value marker. Its terminating '.' stands
// in for the usual separator.
func (lw *lineWriter) putSysmiss() error {
	if err := lw.putByte(sysmissTag); err != nil {
		return err
	}
	return lw.putByte('.')
}

// putString emits a base-30 length, the separator, then the characters.
// The legacy 255-character limit is deliberately not enforced here.
func (lw *lineWriter) putString(s string) error {
	if err := lw.putInt(int64(len(s))); err != nil {
		return err
	}
	return lw.putBytes([]byte(s))
}

func (lw *lineWriter) putTag(tag byte) error {
	return lw.putRaw(tag)
}

// putEOFMarkers fills the rest of the current line (a whole line, if at
// column zero) with the end marker, then flushes.
func (lw *lineWriter) putEOFMarkers() error {
	for {
		if err := lw.putRaw(eofMarker); err != nil {
			return err
		}
		if lw.col == 0 {
			break
		}
	}
	return lw.w.Flush()
}

func (lw *lineWriter) putValue(v porsav.Value, isString bool) error {
	if isString {
		if v.Kind != porsav.String {
			return fmt.Errorf("%w: numeric value in string column", porsav.ErrFormat)
		}
		return lw.putString(v.Str)
	}
	switch v.Kind {
	case porsav.Numeric:
		return lw.putFloat(v.Num)
	case porsav.Unassigned:
		return lw.putSysmiss()
	default:
		return fmt.Errorf("%w: string value in numeric column", porsav.ErrFormat)
	}
}

// lineReader is the writer's dual: a lexer over the decoded byte stream
// that skips line terminators, so tokens wrapped mid-line come back whole.
type lineReader struct {
	r      *bufio.Reader
	decode *[256]byte
	tokbuf []byte

	// capture, when set, observes every decoded byte as it is consumed.
	// The data parser uses it to keep the raw matrix text.
	capture func(byte)
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{
		r:      bufio.NewReader(r),
		decode: identityTable(),
	}
}

// rawByte returns the next byte that is not a line terminator, before
// translation.
func (lr *lineReader) rawByte() (byte, error) {
	for {
		b, err := lr.r.ReadByte()
		if err == io.EOF {
			return 0, fmt.Errorf("%w: portable stream truncated", porsav.ErrUnexpectedEOF)
		}
		if err != nil {
			return 0, err
		}
		if b == '\r' || b == '\n' {
			continue
		}
		return b, nil
	}
}

func (lr *lineReader) decByte() (byte, error) {
	b, err := lr.rawByte()
	if err != nil {
		return 0, err
	}
	b = lr.decode[b]
	if lr.capture != nil {
		lr.capture(b)
	}
	return b, nil
}

// peek returns the next decoded byte without consuming it.
func (lr *lineReader) peek() (byte, error) {
	for {
		b, err := lr.r.ReadByte()
		if err == io.EOF {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		if b == '\r' || b == '\n' {
			continue
		}
		lr.r.UnreadByte()
		return lr.decode[b], nil
	}
}

// numberToken accumulates one number field up to its separator. Leading
// spaces are skipped: re-flowed data matrices pad short lines with them.
// A sysmiss marker yields (nil, true).
func (lr *lineReader) numberToken() (tok []byte, sysmiss bool, err error) {
	lr.tokbuf = lr.tokbuf[:0]
	for {
		b, err := lr.decByte()
		if err != nil {
			return nil, false, err
		}
		if b == ' ' && len(lr.tokbuf) == 0 {
			continue
		}
		if b == sysmissTag && len(lr.tokbuf) == 0 {
			dot, err := lr.decByte()
			if err != nil {
				return nil, false, err
			}
			if dot != '.' {
				return nil, false, fmt.Errorf("%w: bad missing-value marker %q", porsav.ErrFormat, dot)
			}
			return nil, true, nil
		}
		if b == separator {
			if len(lr.tokbuf) == 0 {
				return nil, false, fmt.Errorf("%w: empty number field", porsav.ErrFormat)
			}
			return lr.tokbuf, false, nil
		}
		lr.tokbuf = append(lr.tokbuf, b)
	}
}

func (lr *lineReader) readInt() (int64, error) {
	tok, sysmiss, err := lr.numberToken()
	if err != nil {
		return 0, err
	}
	if sysmiss {
		return 0, fmt.Errorf("%w: missing value where an integer is required", porsav.ErrFormat)
	}
	v, err := basen.Base30.ParseInt(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", porsav.ErrFormat, err)
	}
	return v, nil
}

func (lr *lineReader) readFloat() (v float64, sysmiss bool, err error) {
	tok, sysmiss, err := lr.numberToken()
	if err != nil || sysmiss {
		return 0, sysmiss, err
	}
	v, err = basen.Base30.ParseFloat(tok)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", porsav.ErrFormat, err)
	}
	return v, false, nil
}

func (lr *lineReader) readString() (string, error) {
	n, err := lr.readInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("%w: negative string length %d", porsav.ErrFormat, n)
	}
	buf := make([]byte, n)
	for i := range buf {
		b, err := lr.decByte()
		if err != nil {
			return "", err
		}
		buf[i] = b
	}
	return string(buf), nil
}
