// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testFile() *File {
	v1 := &Variable{Name: "AGE", Missing: []MissingValue{
		{Kind: MissingDiscrete, Lo: Number(-1)},
	}}
	v2 := &Variable{Name: "NAME", Width: 20, Label: "respondent name"}
	vl := &ValueLabels{Variables: []string{"AGE"}}
	vl.Add(Number(99), "not asked")
	return &File{
		Header:    Header{Product: "test", Date: "20260826", Time: "120000"},
		Weight:    "AGE",
		Variables: []*Variable{v1, v2},
		Labels:    []*ValueLabels{vl},
		Documents: []string{"one line"},
	}
}

func TestSectionsOrdering(t *testing.T) {
	secs, err := testFile().Sections()
	if err != nil {
		t.Fatal(err)
	}
	if secs[0].Tag() != TagHeader {
		t.Errorf("first section is %v, want header", secs[0].Tag())
	}
	if secs[len(secs)-1].Tag() != TagData {
		t.Errorf("last section is %v, want data", secs[len(secs)-1].Tag())
	}

	// a variable's missing values and label follow it immediately
	for i, s := range secs {
		switch s.Tag() {
		case TagMissingDiscrete, TagMissingRangeLow, TagMissingRangeHigh, TagMissingRange, TagVariableLabel:
			prev := secs[i-1].Tag()
			if prev != TagVariable && prev != secs[i].Tag() &&
				prev != TagMissingDiscrete && prev != TagMissingRange &&
				prev != TagMissingRangeLow && prev != TagMissingRangeHigh {
				t.Errorf("section %d (%v) not adjacent to its variable (follows %v)", i, s.Tag(), prev)
			}
		}
	}
}

func TestSectionRoundTrip(t *testing.T) {
	want := testFile()
	secs, err := want.Sections()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromSections(secs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Variables, want.Variables) {
		t.Errorf("variables: got %+v, want %+v", got.Variables, want.Variables)
	}
	if !reflect.DeepEqual(got.Labels, want.Labels) {
		t.Errorf("labels: got %+v, want %+v", got.Labels, want.Labels)
	}
	if got.Weight != "AGE" || !reflect.DeepEqual(got.Documents, want.Documents) {
		t.Errorf("got %+v", got)
	}
}

func TestFromSectionsOrdering(t *testing.T) {
	hdr := Header{Product: "test"}
	v := VariableSection{&Variable{Name: "X"}}
	vl := &ValueLabels{Variables: []string{"X"}}
	vl.Add(Number(1), "one")

	for _, tc := range []struct {
		name string
		secs []Section
	}{
		{"no header", []Section{v}},
		{"duplicate header", []Section{hdr, hdr}},
		{"label before variable", []Section{hdr, VariableLabelSection{"early"}}},
		{"missing before variable", []Section{hdr, MissingSection{MissingValue{Kind: MissingDiscrete, Lo: Number(1)}}}},
		{"value labels before variable", []Section{hdr, ValueLabelsSection{vl}}},
		{"duplicate variable", []Section{hdr, v, v}},
		{"section after data", []Section{hdr, v, DataSection{}, v}},
		{"variable list without labels", []Section{hdr, v, VariableListSection{[]int{1}}}},
		{"variable list out of range", []Section{hdr, v, ValueLabelsSection{&ValueLabels{}}, VariableListSection{[]int{2}}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromSections(tc.secs); !errors.Is(err, ErrOrdering) {
				t.Errorf("got %v, want ErrOrdering", err)
			}
		})
	}
}

func TestVariableListBindsByIndex(t *testing.T) {
	hdr := Header{}
	a := VariableSection{&Variable{Name: "A"}}
	b := VariableSection{&Variable{Name: "B"}}
	vl := &ValueLabels{}
	vl.Add(Number(1), "yes")

	f, err := FromSections([]Section{hdr, a, b, ValueLabelsSection{vl}, VariableListSection{[]int{2, 1}}})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Labels[0].Variables; !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("bound to %v, want [B A]", got)
	}
}

func TestValueLabelsReplace(t *testing.T) {
	vl := &ValueLabels{}
	vl.Add(Number(1), "first")
	vl.Add(Number(2), "second")
	vl.Add(Number(1), "revised")

	if vl.Len() != 2 {
		t.Fatalf("len %d, want 2", vl.Len())
	}
	if s, _ := vl.Lookup(Number(1)); s != "revised" {
		t.Errorf("got %q", s)
	}
	// replacement keeps the original position
	if vl.Labels()[0].Value != Number(1) {
		t.Errorf("order lost: %v", vl.Labels())
	}
}

func TestMixedTypeLabelsRejected(t *testing.T) {
	byName := map[string]*Variable{
		"NUM": {Name: "NUM"},
		"STR": {Name: "STR", Width: 8},
	}
	vl := &ValueLabels{Variables: []string{"NUM", "STR"}}
	if err := vl.Check(byName); !errors.Is(err, ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}

	vl = &ValueLabels{Variables: []string{"NUM"}}
	vl.Add(Str("x"), "mismatched")
	if err := vl.Check(byName); !errors.Is(err, ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}
}

func TestMissingValueShapes(t *testing.T) {
	good := []MissingValue{
		{Kind: MissingDiscrete, Lo: Number(9)},
		{Kind: MissingRangeLow, Lo: Number(0)},
		{Kind: MissingRangeHigh, Lo: Number(100)},
		{Kind: MissingRange, Lo: Number(1), Hi: Number(2)},
	}
	for _, m := range good {
		if err := m.Validate(); err != nil {
			t.Errorf("%+v: %v", m, err)
		}
	}
	bad := []MissingValue{
		{Kind: MissingDiscrete},
		{Kind: MissingRange, Lo: Number(1)},
		{Kind: MissingRange, Lo: Number(1), Hi: Str("x")},
		{Kind: MissingDiscrete, Lo: Number(1), Hi: Number(2)},
	}
	for _, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrStructure) {
			t.Errorf("%+v: got %v, want ErrStructure", m, err)
		}
	}
}

func TestColumnWidths(t *testing.T) {
	vars := []*Variable{
		{Name: "A"},
		{Name: "B", Width: 20},
		{Name: "C", Width: 8},
	}
	got := ColumnWidths(vars)
	want := []int{0, 20, -1, -1, 8}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestVariableValidate(t *testing.T) {
	if err := (&Variable{}).Validate(); !errors.Is(err, ErrStructure) {
		t.Errorf("empty name: got %v", err)
	}
	if err := (&Variable{Name: strings.Repeat("N", MaxNameLen+1)}).Validate(); !errors.Is(err, ErrStructure) {
		t.Errorf("long name: got %v", err)
	}
	if err := (&Variable{Name: "OK", Width: -5}).Validate(); !errors.Is(err, ErrWidth) {
		t.Errorf("bad width: got %v", err)
	}
	if err := (&Variable{Name: "OK", Width: MaxStringWidth + 1}).Validate(); !errors.Is(err, ErrWidth) {
		t.Errorf("oversize width: got %v", err)
	}
}
