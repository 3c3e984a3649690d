// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package porsav

// Tag identifies the kind of a section. The set is closed: both file
// formats are defined as a sequence of tagged records, and every tag's
// payload shape is fixed by the tag alone.
type Tag int

const (
	TagHeader Tag = iota + 1
	TagProduct
	TagAuthor
	TagSubproduct
	TagVariableCount
	TagPrecision
	TagWeight
	TagVariable
	TagMissingDiscrete
	TagMissingRangeLow
	TagMissingRangeHigh
	TagMissingRange
	TagVariableLabel
	TagValueLabels
	TagVariableList
	TagDocuments
	TagExtension
	TagData
)

var tagNames = map[Tag]string{
	TagHeader:           "header",
	TagProduct:          "product",
	TagAuthor:           "author",
	TagSubproduct:       "subproduct",
	TagVariableCount:    "variable count",
	TagPrecision:        "precision",
	TagWeight:           "weight variable",
	TagVariable:         "variable",
	TagMissingDiscrete:  "missing value",
	TagMissingRangeLow:  "missing range LO THRU x",
	TagMissingRangeHigh: "missing range x THRU HI",
	TagMissingRange:     "missing range",
	TagVariableLabel:    "variable label",
	TagValueLabels:      "value labels",
	TagVariableList:     "variable list",
	TagDocuments:        "documents",
	TagExtension:        "extension record",
	TagData:             "data matrix",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "unknown tag"
}

// Section is the closed union over record kinds. Only the types in this
// file implement it.
type Section interface {
	Tag() Tag
}

// Header carries the file-level metadata both formats record up front.
type Header struct {
	Product string
	Label   string
	Date    string // YYYYMMDD (Portable) or the System creation date re-rendered
	Time    string // HHMMSS
}

// ProductField, AuthorField and SubproductField are the Portable format's
// free-text identification records.
type ProductField struct{ Text string }
type AuthorField struct{ Text string }
type SubproductField struct{ Text string }

type VariableCount struct{ N int }

type PrecisionField struct{ Digits int }

type WeightField struct{ Name string }

// VariableSection introduces one variable. Missing values and the label
// arrive as separate sections immediately after it.
type VariableSection struct{ Variable *Variable }

// MissingSection attaches one missing-value rule to the most recently
// introduced variable.
type MissingSection struct{ Missing MissingValue }

// VariableLabelSection attaches the label to the most recent variable.
type VariableLabelSection struct{ Text string }

type ValueLabelsSection struct{ Labels *ValueLabels }

// VariableListSection is the System format's record 4, the index list that
// binds the preceding value-labels record to variables.
type VariableListSection struct{ Indexes []int } // 1-based dictionary slots

type DocumentsSection struct{ Lines []string }

// ExtensionSection is a System record 7. Known subtags are interpreted by
// the sav package; unknown ones keep their payload verbatim so they survive
// a read/write round trip.
type ExtensionSection struct {
	Subtag      int
	ElementSize int
	Count       int
	Data        []byte
}

// DataSection marks the start of the data matrix. The cells themselves
// stream through the codec rather than living in the section list.
type DataSection struct{}

func (Header) Tag() Tag          { return TagHeader }
func (ProductField) Tag() Tag    { return TagProduct }
func (AuthorField) Tag() Tag     { return TagAuthor }
func (SubproductField) Tag() Tag { return TagSubproduct }
func (VariableCount) Tag() Tag   { return TagVariableCount }
func (PrecisionField) Tag() Tag  { return TagPrecision }
func (WeightField) Tag() Tag     { return TagWeight }
func (VariableSection) Tag() Tag { return TagVariable }
func (m MissingSection) Tag() Tag {
	switch m.Missing.Kind {
	case MissingRangeLow:
		return TagMissingRangeLow
	case MissingRangeHigh:
		return TagMissingRangeHigh
	case MissingRange:
		return TagMissingRange
	}
	return TagMissingDiscrete
}
func (VariableLabelSection) Tag() Tag { return TagVariableLabel }
func (ValueLabelsSection) Tag() Tag   { return TagValueLabels }
func (VariableListSection) Tag() Tag  { return TagVariableList }
func (DocumentsSection) Tag() Tag     { return TagDocuments }
func (ExtensionSection) Tag() Tag     { return TagExtension }
func (DataSection) Tag() Tag          { return TagData }
