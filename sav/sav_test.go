// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/fedom/writerseeker"

	"github.com/elliotnunn/porsav"
)

func sampleFile() *porsav.File {
	age := &porsav.Variable{
		Name:  "AGE",
		Print: porsav.Format{Type: 5, Width: 8},
		Write: porsav.Format{Type: 5, Width: 8},
		Missing: []porsav.MissingValue{
			{Kind: porsav.MissingDiscrete, Lo: porsav.Number(-1)},
		},
	}
	name := &porsav.Variable{
		Name:  "NAME",
		Width: 12,
		Label: "respondent name",
		Print: porsav.Format{Type: 1, Width: 12},
		Write: porsav.Format{Type: 1, Width: 12},
	}
	income := &porsav.Variable{
		Name:  "INCOME",
		Print: porsav.Format{Type: 5, Width: 10, Decimals: 2},
		Write: porsav.Format{Type: 5, Width: 10, Decimals: 2},
		Missing: []porsav.MissingValue{
			{Kind: porsav.MissingRangeLow, Lo: porsav.Number(0)},
		},
	}
	sex := &porsav.Variable{
		Name:  "SEX",
		Print: porsav.Format{Type: 5, Width: 1},
		Write: porsav.Format{Type: 5, Width: 1},
	}

	labels := &porsav.ValueLabels{Variables: []string{"SEX"}}
	labels.Add(porsav.Number(1), "male")
	labels.Add(porsav.Number(2), "female")

	return &porsav.File{
		Header: porsav.Header{
			Product: "@(#) SPSS DATA FILE - porsav test",
			Label:   "household survey",
			Date:    "20260826",
			Time:    "145033",
		},
		Weight:    "AGE",
		Variables: []*porsav.Variable{age, name, income, sex},
		Labels:    []*porsav.ValueLabels{labels},
		Documents: []string{"collected by the survey team", "second wave"},
		Cases: [][]porsav.Value{
			{porsav.Number(34), porsav.Str("Ada"), porsav.Number(51000.5), porsav.Number(2)},
			{porsav.Value{}, porsav.Str("Grace Hopper"), porsav.Value{}, porsav.Number(2)},
			{porsav.Number(61), porsav.Str(""), porsav.Number(120), porsav.Number(1)},
		},
	}
}

func checkFilesMatch(t *testing.T, got, want *porsav.File) {
	t.Helper()
	if got.Header != want.Header {
		t.Errorf("header: got %+v, want %+v", got.Header, want.Header)
	}
	if got.Weight != want.Weight {
		t.Errorf("weight: got %q, want %q", got.Weight, want.Weight)
	}
	if len(got.Variables) != len(want.Variables) {
		t.Fatalf("got %d variables, want %d", len(got.Variables), len(want.Variables))
	}
	for i := range want.Variables {
		if !reflect.DeepEqual(got.Variables[i], want.Variables[i]) {
			t.Errorf("variable %d: got %+v, want %+v", i, got.Variables[i], want.Variables[i])
		}
	}
	if !reflect.DeepEqual(got.Labels, want.Labels) {
		t.Errorf("value labels: got %+v, want %+v", got.Labels, want.Labels)
	}
	if !reflect.DeepEqual(got.Documents, want.Documents) {
		t.Errorf("documents: got %v, want %v", got.Documents, want.Documents)
	}
	if !reflect.DeepEqual(got.Cases, want.Cases) {
		t.Errorf("cases: got %v, want %v", got.Cases, want.Cases)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"rle little endian", nil},
		{"rle big endian", []Option{ByteOrder(binary.BigEndian)}},
		{"uncompressed", []Option{Compression(CompressionNone)}},
		{"zlib", []Option{Compression(CompressionZlib)}},
		{"zlib big endian", []Option{Compression(CompressionZlib), ByteOrder(binary.BigEndian)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			want := sampleFile()
			var buf bytes.Buffer
			if err := Write(&buf, want, tc.opts...); err != nil {
				t.Fatal(err)
			}
			got, err := Read(&buf)
			if err != nil {
				t.Fatal(err)
			}
			checkFilesMatch(t, got, sampleFile())
		})
	}
}

func TestStreamingWriter(t *testing.T) {
	f := sampleFile()
	cases := f.Cases
	f.Cases = nil

	ws := &writerseeker.WriterSeeker{}
	w, err := NewWriter(ws, f)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range cases {
		if err := w.WriteCase(row); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := Read(ws.BytesReader())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Cases) != len(cases) {
		t.Fatalf("got %d cases, want %d", len(got.Cases), len(cases))
	}
	if !reflect.DeepEqual(got.Cases, cases) {
		t.Errorf("cases: got %v, want %v", got.Cases, cases)
	}
}

func TestUnknownExtensionPreserved(t *testing.T) {
	want := sampleFile()
	want.Extensions = []porsav.ExtensionSection{
		{Subtag: 87, ElementSize: 1, Count: 5, Data: []byte("hello")},
	}

	// two full trips: the record must survive being read and re-written
	var first bytes.Buffer
	if err := Write(&first, want); err != nil {
		t.Fatal(err)
	}
	middle, err := Read(&first)
	if err != nil {
		t.Fatal(err)
	}
	var second bytes.Buffer
	if err := Write(&second, middle); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&second)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Extensions, want.Extensions) {
		t.Errorf("extensions: got %+v, want %+v", got.Extensions, want.Extensions)
	}
}

func TestBadMagic(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("$FL9 this is not a system file, not even close")))
	if !errors.Is(err, porsav.ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}
}

func TestUnknownRecordType(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleFile()); err != nil {
		t.Fatal(err)
	}
	// The first record tag sits right after the 176-byte header.
	b := buf.Bytes()
	binary.LittleEndian.PutUint32(b[176:], 55)

	_, err := Read(bytes.NewReader(b))
	if !errors.Is(err, porsav.ErrUnknownTag) {
		t.Errorf("got %v, want ErrUnknownTag", err)
	}
}

func TestTruncatedFile(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, sampleFile()); err != nil {
		t.Fatal(err)
	}
	_, err := Read(bytes.NewReader(buf.Bytes()[:100]))
	if !errors.Is(err, porsav.ErrUnexpectedEOF) {
		t.Errorf("got %v, want ErrUnexpectedEOF", err)
	}
}

func TestStringValueLabels(t *testing.T) {
	f := sampleFile()
	vl := &porsav.ValueLabels{Variables: []string{"NAME"}}
	vl.Add(porsav.Str("Ada"), "the first")
	f.Labels = append(f.Labels, vl)

	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Labels) != 2 {
		t.Fatalf("got %d label dictionaries, want 2", len(got.Labels))
	}
	label, ok := got.Labels[1].Lookup(porsav.Str("Ada"))
	if !ok || label != "the first" {
		t.Errorf("string label: got %q %v", label, ok)
	}
}

func TestMissingValueShapes(t *testing.T) {
	f := sampleFile()
	f.Variables = append(f.Variables, &porsav.Variable{
		Name: "SCORE",
		Missing: []porsav.MissingValue{
			{Kind: porsav.MissingRange, Lo: porsav.Number(97), Hi: porsav.Number(99)},
			{Kind: porsav.MissingDiscrete, Lo: porsav.Number(0)},
		},
	})
	for i := range f.Cases {
		f.Cases[i] = append(f.Cases[i], porsav.Number(float64(i)))
	}

	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	v := got.VariableByName("SCORE")
	if v == nil {
		t.Fatal("SCORE lost in round trip")
	}
	want := []porsav.MissingValue{
		{Kind: porsav.MissingRange, Lo: porsav.Number(97), Hi: porsav.Number(99)},
		{Kind: porsav.MissingDiscrete, Lo: porsav.Number(0)},
	}
	if !reflect.DeepEqual(v.Missing, want) {
		t.Errorf("missing: got %+v, want %+v", v.Missing, want)
	}
}

func TestCharacterEncoding(t *testing.T) {
	f := sampleFile()
	f.Encoding = "windows-1252"
	f.Variables[1].Label = "prénom"
	f.Cases[0][1] = porsav.Str("Clémence")

	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	// the label must be on disk in the code page, not UTF-8
	if bytes.Contains(buf.Bytes(), []byte("prénom")) {
		t.Error("label written as UTF-8 despite windows-1252 encoding")
	}
	if !bytes.Contains(buf.Bytes(), append([]byte("pr"), 0xe9, 'n', 'o', 'm')) {
		t.Error("windows-1252 label bytes not found")
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Encoding != "windows-1252" {
		t.Errorf("encoding: got %q", got.Encoding)
	}
	if got.Variables[1].Label != "prénom" {
		t.Errorf("label: got %q", got.Variables[1].Label)
	}
	if got.Cases[0][1] != porsav.Str("Clémence") {
		t.Errorf("string cell: got %v", got.Cases[0][1])
	}
}

func TestUnsupportedEncoding(t *testing.T) {
	f := sampleFile()
	f.Encoding = "no-such-charset"
	err := Write(&bytes.Buffer{}, f)
	if !errors.Is(err, porsav.ErrEncoding) {
		t.Errorf("got %v, want ErrEncoding", err)
	}
}

func TestTooManyMissingValues(t *testing.T) {
	f := sampleFile()
	f.Variables[0].Missing = []porsav.MissingValue{
		{Kind: porsav.MissingRange, Lo: porsav.Number(1), Hi: porsav.Number(2)},
		{Kind: porsav.MissingDiscrete, Lo: porsav.Number(7)},
		{Kind: porsav.MissingDiscrete, Lo: porsav.Number(8)},
	}
	err := Write(&bytes.Buffer{}, f)
	if !errors.Is(err, porsav.ErrStructure) {
		t.Errorf("got %v, want ErrStructure", err)
	}
}

func TestLongVariableNames(t *testing.T) {
	// both names truncate to the same 8 bytes, so the record names must
	// be uniquified; a collision would surface as a duplicate-variable
	// error on the way back in
	date := &porsav.Variable{
		Name:  "INTERVIEWDATE",
		Print: porsav.Format{Type: 5, Width: 8},
		Write: porsav.Format{Type: 5, Width: 8},
	}
	who := &porsav.Variable{
		Name:  "INTERVIEWERNAME",
		Width: 16,
		Label: "who conducted it",
		Print: porsav.Format{Type: 1, Width: 16},
		Write: porsav.Format{Type: 1, Width: 16},
	}
	labels := &porsav.ValueLabels{Variables: []string{"INTERVIEWDATE"}}
	labels.Add(porsav.Number(1), "first wave")

	want := &porsav.File{
		Header:    porsav.Header{Date: "20260826", Time: "145033"},
		Weight:    "INTERVIEWDATE",
		Variables: []*porsav.Variable{date, who},
		Labels:    []*porsav.ValueLabels{labels},
		Cases: [][]porsav.Value{
			{porsav.Number(1), porsav.Str("Margaret")},
			{porsav.Number(2), porsav.Str("Katherine")},
		},
	}

	var buf bytes.Buffer
	if err := Write(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Variables[0].Name != "INTERVIEWDATE" || got.Variables[1].Name != "INTERVIEWERNAME" {
		t.Fatalf("names %q and %q did not survive", got.Variables[0].Name, got.Variables[1].Name)
	}
	if got.Weight != "INTERVIEWDATE" {
		t.Errorf("weight: got %q", got.Weight)
	}
	if len(got.Labels) != 1 || got.Labels[0].Variables[0] != "INTERVIEWDATE" {
		t.Errorf("value labels bound to %v", got.Labels)
	}
	if !reflect.DeepEqual(got.Cases, want.Cases) {
		t.Errorf("cases: got %v, want %v", got.Cases, want.Cases)
	}
}

func TestVeryLongStrings(t *testing.T) {
	essay := &porsav.Variable{
		Name:  "ESSAY",
		Width: 600,
		Print: porsav.Format{Type: 1, Width: 255},
		Write: porsav.Format{Type: 1, Width: 255},
	}
	score := &porsav.Variable{
		Name:  "SCORE",
		Print: porsav.Format{Type: 5, Width: 8},
		Write: porsav.Format{Type: 5, Width: 8},
	}
	// the second value carries spaces straddling the 252-byte segment
	// boundary, which the reassembly must not swallow
	vals := []string{
		strings.Repeat("abcdefghij", 60),
		strings.Repeat("x", 250) + "  " + "tail",
		"brief",
	}

	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"rle", nil},
		{"uncompressed", []Option{Compression(CompressionNone)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			want := &porsav.File{
				Variables: []*porsav.Variable{essay, score},
				Cases: [][]porsav.Value{
					{porsav.Str(vals[0]), porsav.Number(90)},
					{porsav.Str(vals[1]), porsav.Number(71)},
					{porsav.Str(vals[2]), porsav.Value{}},
				},
			}
			var buf bytes.Buffer
			if err := Write(&buf, want, tc.opts...); err != nil {
				t.Fatal(err)
			}
			got, err := Read(&buf)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Variables) != 2 {
				t.Fatalf("got %d variables, want 2", len(got.Variables))
			}
			if got.Variables[0].Name != "ESSAY" || got.Variables[0].Width != 600 {
				t.Fatalf("leading variable %q width %d", got.Variables[0].Name, got.Variables[0].Width)
			}
			if !reflect.DeepEqual(got.Cases, want.Cases) {
				t.Errorf("cases: got %v, want %v", got.Cases, want.Cases)
			}
		})
	}
}

func TestValueLabelTooLong(t *testing.T) {
	f := sampleFile()
	f.Labels[0].Add(porsav.Number(3), strings.Repeat("n", 300))
	err := Write(&bytes.Buffer{}, f)
	if !errors.Is(err, porsav.ErrStructure) {
		t.Fatalf("got %v, want ErrStructure", err)
	}
}
