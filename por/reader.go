// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package por

import (
	"fmt"
	"io"

	"github.com/elliotnunn/porsav"
	"github.com/elliotnunn/porsav/internal/bytebuf"
)

// Read parses a Portable file into the shared container. The section
// stream is validated by porsav.FromSections, so ordering violations
// surface as porsav.ErrOrdering.
func Read(r io.Reader) (*porsav.File, error) {
	pr := &reader{lr: newLineReader(r), raw: bytebuf.New()}
	if err := pr.header(); err != nil {
		return nil, err
	}
	if err := pr.sections(); err != nil {
		return nil, err
	}
	f, err := porsav.FromSections(pr.secs)
	if err != nil {
		return nil, err
	}
	f.Cases = pr.cases
	f.RawMatrix = pr.raw.Bytes()
	if pr.precision > 0 {
		f.Precision = pr.precision
	}
	return f, nil
}

type reader struct {
	lr        *lineReader
	secs      []porsav.Section
	vars      []*porsav.Variable // in parse order, for data typing
	cur       *porsav.Variable
	precision int
	cases     [][]porsav.Value
	raw       *bytebuf.Array
}

// header consumes the fixed prologue. The splash text is cosmetic and
// discarded; the translation table is applied to everything after it.
func (pr *reader) header() error {
	for i := 0; i < splashLines*splashWidth; i++ {
		if _, err := pr.lr.rawByte(); err != nil {
			return err
		}
	}

	var table [256]byte
	for i := range table {
		b, err := pr.lr.rawByte()
		if err != nil {
			return err
		}
		table[i] = b
	}
	pr.lr.decode = invertTable(&table)

	var sig [len(Signature)]byte
	for i := range sig {
		b, err := pr.lr.decByte()
		if err != nil {
			return err
		}
		sig[i] = b
	}
	if string(sig[:]) != Signature {
		return fmt.Errorf("%w: signature %q, want %q", porsav.ErrStructure, sig[:], Signature)
	}

	version, err := pr.lr.decByte()
	if err != nil {
		return err
	}
	if version != Version {
		return fmt.Errorf("%w: version %q, want %q", porsav.ErrStructure, version, Version)
	}

	date, err := pr.lr.readString()
	if err != nil {
		return err
	}
	if len(date) != 8 {
		return fmt.Errorf("%w: date stamp %q is not 8 characters", porsav.ErrStructure, date)
	}
	tim, err := pr.lr.readString()
	if err != nil {
		return err
	}
	if len(tim) != 6 {
		return fmt.Errorf("%w: time stamp %q is not 6 characters", porsav.ErrStructure, tim)
	}

	pr.secs = append(pr.secs, porsav.Header{Date: date, Time: tim})
	return nil
}

func (pr *reader) sections() error {
	for {
		tag, err := pr.lr.decByte()
		if err != nil {
			return err
		}
		switch tag {
		case tagProduct, tagAuthor, tagSubproduct, tagWeight, tagVarLabel:
			s, err := pr.lr.readString()
			if err != nil {
				return err
			}
			switch tag {
			case tagProduct:
				pr.secs = append(pr.secs, porsav.ProductField{Text: s})
			case tagAuthor:
				pr.secs = append(pr.secs, porsav.AuthorField{Text: s})
			case tagSubproduct:
				pr.secs = append(pr.secs, porsav.SubproductField{Text: s})
			case tagWeight:
				pr.secs = append(pr.secs, porsav.WeightField{Name: s})
			case tagVarLabel:
				pr.secs = append(pr.secs, porsav.VariableLabelSection{Text: s})
			}

		case tagVariableCount:
			n, err := pr.lr.readInt()
			if err != nil {
				return err
			}
			pr.secs = append(pr.secs, porsav.VariableCount{N: int(n)})

		case tagPrecision:
			n, err := pr.lr.readInt()
			if err != nil {
				return err
			}
			pr.precision = int(n)
			pr.secs = append(pr.secs, porsav.PrecisionField{Digits: int(n)})

		case tagVariable:
			if err := pr.variable(); err != nil {
				return err
			}

		case tagMissDiscrete, tagMissLow, tagMissHigh, tagMissRange:
			if err := pr.missing(tag); err != nil {
				return err
			}

		case tagValueLabels:
			if err := pr.valueLabels(); err != nil {
				return err
			}

		case tagDocuments:
			if err := pr.documents(); err != nil {
				return err
			}

		case tagData:
			pr.secs = append(pr.secs, porsav.DataSection{})
			return pr.data()

		default:
			return fmt.Errorf("%w: %q at top level of portable file", porsav.ErrUnknownTag, tag)
		}
	}
}

func (pr *reader) variable() error {
	width, err := pr.lr.readInt()
	if err != nil {
		return err
	}
	name, err := pr.lr.readString()
	if err != nil {
		return err
	}
	v := &porsav.Variable{Name: name, Width: int(width)}
	for _, f := range []*porsav.Format{&v.Print, &v.Write} {
		for _, field := range []*int{&f.Type, &f.Width, &f.Decimals} {
			n, err := pr.lr.readInt()
			if err != nil {
				return err
			}
			*field = int(n)
		}
	}
	if err := v.Validate(); err != nil {
		return err
	}
	pr.cur = v
	pr.vars = append(pr.vars, v)
	pr.secs = append(pr.secs, porsav.VariableSection{Variable: v})
	return nil
}

func (pr *reader) value(isString bool) (porsav.Value, error) {
	if isString {
		s, err := pr.lr.readString()
		if err != nil {
			return porsav.Value{}, err
		}
		return porsav.Str(s), nil
	}
	v, sysmiss, err := pr.lr.readFloat()
	if err != nil {
		return porsav.Value{}, err
	}
	if sysmiss {
		return porsav.Value{}, nil
	}
	return porsav.Number(v), nil
}

func (pr *reader) missing(tag byte) error {
	if pr.cur == nil {
		return fmt.Errorf("%w: missing-value record before any variable", porsav.ErrOrdering)
	}
	lo, err := pr.value(pr.cur.IsString())
	if err != nil {
		return err
	}
	m := porsav.MissingValue{Lo: lo}
	switch tag {
	case tagMissDiscrete:
		m.Kind = porsav.MissingDiscrete
	case tagMissLow:
		m.Kind = porsav.MissingRangeLow
	case tagMissHigh:
		m.Kind = porsav.MissingRangeHigh
	case tagMissRange:
		m.Kind = porsav.MissingRange
		hi, err := pr.value(pr.cur.IsString())
		if err != nil {
			return err
		}
		m.Hi = hi
	}
	pr.secs = append(pr.secs, porsav.MissingSection{Missing: m})
	return nil
}

func (pr *reader) valueLabels() error {
	nvars, err := pr.lr.readInt()
	if err != nil {
		return err
	}
	vl := &porsav.ValueLabels{}
	isString := false
	for i := int64(0); i < nvars; i++ {
		name, err := pr.lr.readString()
		if err != nil {
			return err
		}
		vl.Variables = append(vl.Variables, name)
		if i == 0 {
			// The dictionary's type comes from its first variable; if it
			// is still unknown, FromSections rejects the reference.
			for _, v := range pr.vars {
				if v.Name == name {
					isString = v.IsString()
				}
			}
		}
	}
	nlabels, err := pr.lr.readInt()
	if err != nil {
		return err
	}
	for i := int64(0); i < nlabels; i++ {
		val, err := pr.value(isString)
		if err != nil {
			return err
		}
		label, err := pr.lr.readString()
		if err != nil {
			return err
		}
		vl.Add(val, label)
	}
	pr.secs = append(pr.secs, porsav.ValueLabelsSection{Labels: vl})
	return nil
}

func (pr *reader) documents() error {
	n, err := pr.lr.readInt()
	if err != nil {
		return err
	}
	var lines []string
	for i := int64(0); i < n; i++ {
		l, err := pr.lr.readString()
		if err != nil {
			return err
		}
		lines = append(lines, l)
	}
	pr.secs = append(pr.secs, porsav.DocumentsSection{Lines: lines})
	return nil
}

// data parses cases until the end-marker fill, capturing the decoded
// matrix text alongside so the file can be re-written without
// re-rendering.
func (pr *reader) data() error {
	w := pr.raw.Writer()
	pr.lr.capture = func(b byte) { w.WriteByte(b) }
	defer func() { pr.lr.capture = nil }()

	for {
		b, err := pr.lr.peek()
		if err == io.EOF || (err == nil && b == eofMarker) {
			return nil
		}
		if err != nil {
			return err
		}
		if b == ' ' {
			// padding between re-flowed lines
			pr.lr.decByte()
			continue
		}
		if len(pr.vars) == 0 {
			return fmt.Errorf("%w: data matrix with no variables", porsav.ErrFormat)
		}
		row := make([]porsav.Value, len(pr.vars))
		for i, v := range pr.vars {
			val, err := pr.value(v.IsString())
			if err != nil {
				return err
			}
			row[i] = val
		}
		pr.cases = append(pr.cases, row)
	}
}
