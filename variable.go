// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

import "fmt"

// Format is a print or write format triple.
type Format struct {
	Type     int
	Width    int
	Decimals int
}

// Variable widths:
//
//	0   numeric
//	>0  string of that many bytes
//	-1  continuation slot of a long string (System format only)
const ContinuationWidth = -1

// MaxNameLen is the longest variable name the container accepts. Names
// over 8 bytes ride in a System extension record; the Portable format
// cannot carry them at all.
const MaxNameLen = 64

// MaxStringWidth is the widest string variable. Strings over 255 bytes
// are stored segmented in a System file.
const MaxStringWidth = 32767

type Variable struct {
	Name    string // never empty
	Width   int
	Label   string
	Print   Format
	Write   Format
	Missing []MissingValue
}

func (v *Variable) IsString() bool { return v.Width != 0 }

// SlotCount is the number of physical 8-byte column slots the variable
// occupies in a System data matrix.
func (v *Variable) SlotCount() int {
	if v.Width <= 0 {
		return 1
	}
	return (v.Width + 7) / 8
}

// Validate checks the structural rules a variable record must satisfy
// before serialization.
func (v *Variable) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("%w: variable with empty name", ErrStructure)
	}
	if len(v.Name) > MaxNameLen {
		return fmt.Errorf("%w: variable name %q longer than %d bytes", ErrStructure, v.Name, MaxNameLen)
	}
	if v.Width < ContinuationWidth || v.Width > MaxStringWidth {
		return fmt.Errorf("%w: variable %s width %d", ErrWidth, v.Name, v.Width)
	}
	for _, m := range v.Missing {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}
	return nil
}

// ColumnWidths builds the per-slot width table for a System data matrix:
// one entry per physical column slot, 0 for numeric, the true byte width on
// a string's leading slot, and ContinuationWidth on each extra slot.
func ColumnWidths(vars []*Variable) []int {
	var widths []int
	for _, v := range vars {
		widths = append(widths, v.Width)
		for i := 1; i < v.SlotCount(); i++ {
			widths = append(widths, ContinuationWidth)
		}
	}
	return widths
}
