// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package porsav is the shared record model for SPSS Portable (.por) and
// System (.sav) files. The codecs themselves live in the por and sav
// subpackages; this package holds the types they exchange: variables,
// values, missing-value rules, value-label dictionaries, and the tagged
// sections that make up a file.
package porsav

import (
	"fmt"
	"strconv"
)

// ValueKind discriminates a Value.
type ValueKind int

const (
	// Unassigned is the state of a dictionary value before its element
	// type has been inferred from the first member variable.
	Unassigned ValueKind = iota
	Numeric
	String
)

// Value is a single datum: a double, a string, or nothing yet.
// Values are comparable and are used as map keys by label dictionaries.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
}

func Number(f float64) Value { return Value{Kind: Numeric, Num: f} }
func Str(s string) Value     { return Value{Kind: String, Str: s} }

func (v Value) String() string {
	switch v.Kind {
	case Numeric:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case String:
		return v.Str
	default:
		return "<unassigned>"
	}
}

func (v Value) GoString() string {
	switch v.Kind {
	case Numeric:
		return fmt.Sprintf("porsav.Number(%v)", v.Num)
	case String:
		return fmt.Sprintf("porsav.Str(%q)", v.Str)
	default:
		return "porsav.Value{}"
	}
}
