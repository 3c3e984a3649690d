// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

import "fmt"

// ValueLabels is one value→label dictionary shared by one or more
// variables of matching type. Insertion order of both the variable list
// and the label mapping is preserved, so serialization is deterministic.
type ValueLabels struct {
	Variables []string // names, in the order the record lists them
	labels    []ValueLabel
	index     map[Value]int
}

type ValueLabel struct {
	Value Value
	Label string
}

// Add sets the label for a value, replacing any earlier label for the same
// value while keeping its original position.
func (vl *ValueLabels) Add(v Value, label string) {
	if vl.index == nil {
		vl.index = make(map[Value]int)
	}
	if i, ok := vl.index[v]; ok {
		vl.labels[i].Label = label
		return
	}
	vl.index[v] = len(vl.labels)
	vl.labels = append(vl.labels, ValueLabel{v, label})
}

func (vl *ValueLabels) Lookup(v Value) (string, bool) {
	i, ok := vl.index[v]
	if !ok {
		return "", false
	}
	return vl.labels[i].Label, true
}

// Labels returns the mapping in insertion order. The returned slice is the
// dictionary's own backing store; treat it as read-only.
func (vl *ValueLabels) Labels() []ValueLabel { return vl.labels }

func (vl *ValueLabels) Len() int { return len(vl.labels) }

// ElementKind infers the dictionary's value type from its first entry.
func (vl *ValueLabels) ElementKind() ValueKind {
	if len(vl.labels) == 0 {
		return Unassigned
	}
	return vl.labels[0].Value.Kind
}

// Check verifies that every referenced variable exists and shares the
// dictionary's type. The type is inferred from the first referenced
// variable and checked against the rest.
func (vl *ValueLabels) Check(byName map[string]*Variable) error {
	var want ValueKind
	for i, name := range vl.Variables {
		v, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: value labels reference unknown variable %q", ErrOrdering, name)
		}
		kind := Numeric
		if v.IsString() {
			kind = String
		}
		if i == 0 {
			want = kind
			continue
		}
		if kind != want {
			return fmt.Errorf("%w: value labels mix numeric and string variables (%q)", ErrStructure, name)
		}
	}
	for _, l := range vl.labels {
		if want != Unassigned && l.Value.Kind != want {
			return fmt.Errorf("%w: label value %v does not match variable type", ErrStructure, l.Value)
		}
	}
	return nil
}
