// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

import "fmt"

// MissingKind selects one of the four missing-value shapes.
type MissingKind int

const (
	MissingDiscrete  MissingKind = iota // a single value
	MissingRangeLow                     // LO THRU x
	MissingRangeHigh                    // x THRU HI
	MissingRange                        // lo THRU hi
)

// MissingValue carries the value (or pair of values) its shape implies:
// Lo alone for a discrete value or an open range, Lo and Hi for a closed
// range.
type MissingValue struct {
	Kind MissingKind
	Lo   Value
	Hi   Value
}

func (m MissingValue) Validate() error {
	if m.Lo.Kind == Unassigned {
		return fmt.Errorf("%w: missing-value record without a value", ErrStructure)
	}
	switch m.Kind {
	case MissingRange:
		if m.Hi.Kind == Unassigned {
			return fmt.Errorf("%w: closed missing range with one endpoint", ErrStructure)
		}
		if m.Hi.Kind != m.Lo.Kind {
			return fmt.Errorf("%w: missing range endpoints of mixed type", ErrStructure)
		}
	case MissingDiscrete, MissingRangeLow, MissingRangeHigh:
		if m.Hi.Kind != Unassigned {
			return fmt.Errorf("%w: extra endpoint on a non-range missing value", ErrStructure)
		}
	default:
		return fmt.Errorf("%w: missing-value kind %d", ErrStructure, m.Kind)
	}
	return nil
}
