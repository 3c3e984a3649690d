// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package basen formats and parses numbers in an arbitrary radix.
// The Portable format stores every number in base 30, using the digit
// alphabet 0-9 then A-T, with an optional radix point and a trailing
// signed exponent ("1.F+3" is (1 + 15/30) x 30^3).
package basen

import (
	"errors"
	"fmt"
	"math"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var ErrPrecision = errors.New("precision must be at least 1 digit")

// System is one radix plus its digit set.
type System struct {
	radix  int
	values [256]int8 // byte -> digit value, -1 if not a digit
}

func New(radix int) (*System, error) {
	if radix < 2 || radix > len(alphabet) {
		return nil, fmt.Errorf("radix %d out of range 2..%d", radix, len(alphabet))
	}
	s := &System{radix: radix}
	for i := range s.values {
		s.values[i] = -1
	}
	for i := 0; i < radix; i++ {
		s.values[alphabet[i]] = int8(i)
	}
	return s, nil
}

func (s *System) Radix() int { return s.radix }

// Base30 is the Portable format's number system.
var Base30 = func() *System {
	s, _ := New(30)
	return s
}()

// Formatter renders numbers into an internal buffer and hands out a slice
// of it. The slice is valid only until the next Int or Float call; callers
// that need to keep the bytes must copy them.
type Formatter struct {
	sys       *System
	precision int
	buf       []byte
}

func NewFormatter(sys *System, precision int) (*Formatter, error) {
	if precision < 1 {
		return nil, ErrPrecision
	}
	return &Formatter{sys: sys, precision: precision, buf: make([]byte, 0, 64)}, nil
}

// SetPrecision changes the fractional digit count for subsequent Float
// calls. Already-formatted output is unaffected.
func (f *Formatter) SetPrecision(p int) error {
	if p < 1 {
		return ErrPrecision
	}
	f.precision = p
	return nil
}

func (f *Formatter) Precision() int { return f.precision }

// Int formats an integer exactly: optional '-', then digits, no leading
// zeros except for zero itself.
func (f *Formatter) Int(v int64) []byte {
	f.buf = f.buf[:0]
	if v < 0 {
		f.buf = append(f.buf, '-')
	}
	f.buf = appendUint(f.buf, absUint(v), f.sys.radix)
	return f.buf
}

// Float formats a double with the configured number of fractional digits,
// rounding half away from zero, and appends a signed exponent only when
// the magnitude falls outside the direct fixed-point range.
func (f *Formatter) Float(v float64) ([]byte, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("cannot format %v", v)
	}
	f.buf = f.buf[:0]
	if v == 0 {
		f.buf = append(f.buf, '0')
		return f.buf, nil
	}
	neg := math.Signbit(v)
	if neg {
		f.buf = append(f.buf, '-')
		v = -v
	}

	// Integral values within exact range take the integer path.
	if v == math.Trunc(v) && v < (1<<62) {
		f.buf = appendUint(f.buf, uint64(v), f.sys.radix)
		return f.buf, nil
	}

	radixF := float64(f.sys.radix)

	// Normalize to mantissa in [1, radix).
	exp := 0
	m := v
	for m >= radixF {
		m /= radixF
		exp++
	}
	for m < 1 {
		m *= radixF
		exp--
	}

	// Small positive exponents stay in fixed point, as long as the scaled
	// integer stays exactly representable; everything else is written as
	// mantissa plus exponent.
	scale := math.Pow(radixF, float64(f.precision))
	if exp >= 0 && exp <= 12 && v*scale < (1<<62) {
		return f.fixed(v)
	}
	digits, carry := f.mantissaDigits(m)
	if carry {
		exp++
	}
	f.buf = append(f.buf, digits[0])
	if rest := trimZeros(digits[1:]); len(rest) > 0 {
		f.buf = append(f.buf, '.')
		f.buf = append(f.buf, rest...)
	}
	if exp < 0 {
		f.buf = append(f.buf, '-')
		exp = -exp
	} else {
		f.buf = append(f.buf, '+')
	}
	f.buf = appendUint(f.buf, uint64(exp), f.sys.radix)
	return f.buf, nil
}

// fixed emits v in plain fixed point with precision fractional digits,
// rounded half away from zero (the sign was already emitted).
func (f *Formatter) fixed(v float64) ([]byte, error) {
	radixF := float64(f.sys.radix)
	scale := math.Pow(radixF, float64(f.precision))
	scaled := math.Floor(v*scale + 0.5)

	if scaled >= (1 << 62) {
		return nil, fmt.Errorf("value %v too large for %d fractional digits", v, f.precision)
	}

	var tmp [64]byte
	digits := appendUint(tmp[:0], uint64(scaled), f.sys.radix)
	// The scaled integer has the fraction in its last `precision` digits.
	for len(digits) <= f.precision {
		digits = append([]byte{'0'}, digits...)
	}
	point := len(digits) - f.precision
	f.buf = append(f.buf, digits[:point]...)
	if frac := trimZeros(digits[point:]); len(frac) > 0 {
		f.buf = append(f.buf, '.')
		f.buf = append(f.buf, frac...)
	}
	return f.buf, nil
}

// mantissaDigits renders 1+precision significant digits of m in [1,radix),
// rounding the last half away from zero. carry reports that rounding
// overflowed the first digit (e.g. TT rounds to 10 with carry).
func (f *Formatter) mantissaDigits(m float64) (digits []byte, carry bool) {
	radixF := float64(f.sys.radix)
	scale := math.Pow(radixF, float64(f.precision))
	scaled := uint64(math.Floor(m*scale + 0.5))
	limit := uint64(math.Floor(scale * radixF))
	if scaled >= limit {
		scaled /= uint64(f.sys.radix)
		carry = true
	}
	digits = appendUint(nil, scaled, f.sys.radix)
	for len(digits) < f.precision+1 {
		digits = append([]byte{'0'}, digits...)
	}
	return digits, carry
}

func appendUint(dst []byte, v uint64, radix int) []byte {
	var tmp [64]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = alphabet[v%uint64(radix)]
		v /= uint64(radix)
		if v == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}

func absUint(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func trimZeros(digits []byte) []byte {
	for len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
	}
	return digits
}

// ParseInt is the inverse of Int. The input must be all digits after an
// optional sign.
func (s *System) ParseInt(b []byte) (int64, error) {
	v, err := s.ParseFloat(b)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%q is not an integer", b)
	}
	return int64(v), nil
}

// ParseFloat is the inverse of Float: optional sign, digits, optional
// radix point and fraction, optional signed exponent.
func (s *System) ParseFloat(b []byte) (float64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty number")
	}
	radixF := float64(s.radix)
	i := 0
	neg := false
	if b[i] == '-' || b[i] == '+' {
		neg = b[i] == '-'
		i++
	}

	v := 0.0
	ndigits := 0
	for i < len(b) && s.values[b[i]] >= 0 {
		v = v*radixF + float64(s.values[b[i]])
		ndigits++
		i++
	}
	if i < len(b) && b[i] == '.' {
		i++
		place := 1.0
		for i < len(b) && s.values[b[i]] >= 0 {
			place /= radixF
			v += float64(s.values[b[i]]) * place
			ndigits++
			i++
		}
	}
	if ndigits == 0 {
		return 0, fmt.Errorf("no digits in %q", b)
	}
	if i < len(b) && (b[i] == '+' || b[i] == '-') {
		expNeg := b[i] == '-'
		i++
		exp := 0
		expDigits := 0
		for i < len(b) && s.values[b[i]] >= 0 {
			exp = exp*s.radix + int(s.values[b[i]])
			expDigits++
			i++
		}
		if expDigits == 0 {
			return 0, fmt.Errorf("dangling exponent sign in %q", b)
		}
		if expNeg {
			exp = -exp
		}
		v *= math.Pow(radixF, float64(exp))
	}
	if i != len(b) {
		return 0, fmt.Errorf("trailing junk in number %q", b)
	}
	if neg {
		v = -v
	}
	return v, nil
}
