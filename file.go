// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

import "fmt"

// File is the in-memory container both codecs read into and write from.
// Cases hold one Value per variable per row (long strings are one logical
// value here, however many column slots they occupy on disk).
type File struct {
	Header     Header
	Author     string
	Subproduct string
	Precision  int // fractional digits for Portable numbers, 0 = default
	Weight     string
	Variables  []*Variable
	Labels     []*ValueLabels
	Documents  []string
	Extensions []ExtensionSection // unrecognized System records, preserved
	Encoding   string             // IANA name of the string character set, "" = UTF-8
	Cases      [][]Value

	// RawMatrix is the Portable data matrix as captured text, kept so a
	// file can be re-written without re-rendering every number. Writers
	// use it only when Cases is nil.
	RawMatrix []byte
}

func (f *File) VariableByName(name string) *Variable {
	for _, v := range f.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (f *File) variableMap() map[string]*Variable {
	m := make(map[string]*Variable, len(f.Variables))
	for _, v := range f.Variables {
		m[v.Name] = v
	}
	return m
}

// Sections renders the file as an ordered section list. The list is built
// from scratch on every call; it is the writer's worklist, not a cache.
// The required ordering is established here by construction: header and
// identification records, then each variable immediately followed by its
// missing values and label, then dictionaries and documents, then data.
func (f *File) Sections() ([]Section, error) {
	byName := f.variableMap()

	var secs []Section
	secs = append(secs, f.Header)
	if f.Author != "" {
		secs = append(secs, AuthorField{f.Author})
	}
	if f.Subproduct != "" {
		secs = append(secs, SubproductField{f.Subproduct})
	}
	secs = append(secs, VariableCount{len(f.Variables)})
	if f.Precision > 0 {
		secs = append(secs, PrecisionField{f.Precision})
	}
	if f.Weight != "" {
		if byName[f.Weight] == nil {
			return nil, fmt.Errorf("%w: weight variable %q not in dictionary", ErrOrdering, f.Weight)
		}
		secs = append(secs, WeightField{f.Weight})
	}
	for _, v := range f.Variables {
		if err := v.Validate(); err != nil {
			return nil, err
		}
		secs = append(secs, VariableSection{v})
		for _, m := range v.Missing {
			secs = append(secs, MissingSection{m})
		}
		if v.Label != "" {
			secs = append(secs, VariableLabelSection{v.Label})
		}
	}
	for _, vl := range f.Labels {
		if err := vl.Check(byName); err != nil {
			return nil, err
		}
		secs = append(secs, ValueLabelsSection{vl})
	}
	if len(f.Documents) > 0 {
		secs = append(secs, DocumentsSection{f.Documents})
	}
	for _, ext := range f.Extensions {
		secs = append(secs, ext)
	}
	secs = append(secs, DataSection{})
	return secs, nil
}

// FromSections rebuilds a File from a parsed section list, enforcing the
// ordering rules the formats require: the header leads, missing-value and
// label sections bind to the variable introduced immediately before them,
// value labels may only name variables already introduced, and nothing
// follows the data marker.
func FromSections(secs []Section) (*File, error) {
	f := &File{}
	var current *Variable
	seen := make(map[string]*Variable)
	sawHeader, sawData := false, false

	for _, s := range secs {
		if sawData {
			return nil, fmt.Errorf("%w: %v after data matrix", ErrOrdering, s.Tag())
		}
		if !sawHeader && s.Tag() != TagHeader {
			return nil, fmt.Errorf("%w: %v before header", ErrOrdering, s.Tag())
		}
		switch s := s.(type) {
		case Header:
			if sawHeader {
				return nil, fmt.Errorf("%w: duplicate header", ErrOrdering)
			}
			sawHeader = true
			f.Header = s
		case ProductField:
			f.Header.Product = s.Text
		case AuthorField:
			f.Author = s.Text
		case SubproductField:
			f.Subproduct = s.Text
		case VariableCount:
			// Advisory; the variable records are authoritative.
		case PrecisionField:
			f.Precision = s.Digits
		case WeightField:
			f.Weight = s.Name
		case VariableSection:
			if s.Variable.Width == ContinuationWidth {
				// Continuation slots are a wire artifact, not a variable.
				continue
			}
			if seen[s.Variable.Name] != nil {
				return nil, fmt.Errorf("%w: duplicate variable %q", ErrOrdering, s.Variable.Name)
			}
			current = s.Variable
			seen[current.Name] = current
			f.Variables = append(f.Variables, current)
		case MissingSection:
			if current == nil {
				return nil, fmt.Errorf("%w: missing-value record before any variable", ErrOrdering)
			}
			current.Missing = append(current.Missing, s.Missing)
		case VariableLabelSection:
			if current == nil {
				return nil, fmt.Errorf("%w: variable label before any variable", ErrOrdering)
			}
			current.Label = s.Text
		case ValueLabelsSection:
			for _, name := range s.Labels.Variables {
				if seen[name] == nil {
					return nil, fmt.Errorf("%w: value labels reference variable %q not yet parsed", ErrOrdering, name)
				}
			}
			if err := s.Labels.Check(seen); err != nil {
				return nil, err
			}
			f.Labels = append(f.Labels, s.Labels)
		case VariableListSection:
			if len(f.Labels) == 0 {
				return nil, fmt.Errorf("%w: variable list with no value-labels record before it", ErrOrdering)
			}
			vl := f.Labels[len(f.Labels)-1]
			for _, idx := range s.Indexes {
				if idx < 1 || idx > len(f.Variables) {
					return nil, fmt.Errorf("%w: variable list index %d out of range", ErrOrdering, idx)
				}
				vl.Variables = append(vl.Variables, f.Variables[idx-1].Name)
			}
			if err := vl.Check(seen); err != nil {
				return nil, err
			}
		case DocumentsSection:
			f.Documents = append(f.Documents, s.Lines...)
		case ExtensionSection:
			f.Extensions = append(f.Extensions, s)
		case DataSection:
			sawData = true
		}
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: no header section", ErrOrdering)
	}
	return f, nil
}
