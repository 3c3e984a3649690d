// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package por

import (
	"fmt"
	"io"
	"time"

	"github.com/elliotnunn/porsav"
	"github.com/elliotnunn/porsav/internal/bytebuf"
)

// DefaultPrecision is the fractional digit count for base-30 numbers when
// the file does not carry its own precision record.
const DefaultPrecision = 10

// scanBackWindow bounds the search for the true end of a stored raw
// matrix: everything is assumed to be trailing end-markers at most this
// far from the end of the buffer. Equivalently, no single value's text
// may exceed this many bytes.
const scanBackWindow = 160

type Option func(*config)

type config struct {
	rowWidth  int
	crlf      bool
	precision int
	table     *[256]byte
	splash    [splashLines]string
}

func RowWidth(w int) Option         { return func(c *config) { c.rowWidth = w } }
func CRLF(on bool) Option           { return func(c *config) { c.crlf = on } }
func Precision(p int) Option        { return func(c *config) { c.precision = p } }
func Table(t *[256]byte) Option     { return func(c *config) { c.table = t } }
func Splash(lines [5]string) Option { return func(c *config) { c.splash = lines } }

func defaultConfig() config {
	return config{
		rowWidth:  DefaultRowWidth,
		precision: DefaultPrecision,
		splash: [splashLines]string{
			pad40("ASCII SPSS PORT FILE"),
			pad40(""),
			pad40(""),
			pad40(""),
			pad40(""),
		},
	}
}

func pad40(s string) string {
	for len(s) < splashWidth {
		s += " "
	}
	return s
}

// Write serializes f as a Portable file. The section list is rebuilt from
// the container on every call; nothing is written incrementally.
func Write(w io.Writer, f *porsav.File, opts ...Option) error {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if f.Precision > 0 {
		cfg.precision = f.Precision
	}

	lw, err := newLineWriter(w, cfg.rowWidth, cfg.crlf, cfg.precision)
	if err != nil {
		return err
	}
	pw := &writer{lw: lw, cfg: cfg}

	secs, err := f.Sections()
	if err != nil {
		return err
	}
	for _, s := range secs {
		if err := pw.section(s, f); err != nil {
			return err
		}
	}
	return lw.putEOFMarkers()
}

type writer struct {
	lw  *lineWriter
	cfg config
	cur *porsav.Variable // most recently emitted variable record
}

func (pw *writer) section(s porsav.Section, f *porsav.File) error {
	switch s := s.(type) {
	case porsav.Header:
		return pw.header(s)
	case porsav.ProductField:
		return pw.tagged(tagProduct, s.Text)
	case porsav.AuthorField:
		return pw.tagged(tagAuthor, s.Text)
	case porsav.SubproductField:
		return pw.tagged(tagSubproduct, s.Text)
	case porsav.VariableCount:
		if err := pw.lw.putTag(tagVariableCount); err != nil {
			return err
		}
		return pw.lw.putInt(int64(s.N))
	case porsav.PrecisionField:
		if err := pw.lw.putTag(tagPrecision); err != nil {
			return err
		}
		return pw.lw.putInt(int64(s.Digits))
	case porsav.WeightField:
		return pw.tagged(tagWeight, s.Name)
	case porsav.VariableSection:
		return pw.variable(s.Variable)
	case porsav.MissingSection:
		return pw.missing(s.Missing)
	case porsav.VariableLabelSection:
		return pw.tagged(tagVarLabel, s.Text)
	case porsav.ValueLabelsSection:
		return pw.valueLabels(s.Labels)
	case porsav.VariableListSection:
		// System-only record; Portable binds labels by name.
		return nil
	case porsav.DocumentsSection:
		return pw.documents(s.Lines)
	case porsav.ExtensionSection:
		// System-only record; nothing in the Portable format can carry it.
		return nil
	case porsav.DataSection:
		return pw.data(f)
	default:
		return fmt.Errorf("%w: cannot serialize %v", porsav.ErrUnknownTag, s.Tag())
	}
}

func (pw *writer) tagged(tag byte, text string) error {
	if err := pw.lw.putTag(tag); err != nil {
		return err
	}
	return pw.lw.putString(text)
}

// header emits the fixed prologue: splash, translation table, signature,
// version, date, time. Each fixed-length field is validated before any of
// its bytes go out.
func (pw *writer) header(h porsav.Header) error {
	for _, line := range pw.cfg.splash {
		if len(line) != splashWidth {
			return fmt.Errorf("%w: splash line is %d bytes, must be %d", porsav.ErrStructure, len(line), splashWidth)
		}
		for i := 0; i < splashWidth; i++ {
			if err := pw.lw.putRaw(line[i]); err != nil {
				return err
			}
		}
	}

	table := pw.cfg.table
	if table == nil {
		table = identityTable()
	} else if err := checkTable(table); err != nil {
		return err
	}
	for _, b := range table {
		if err := pw.lw.putRaw(b); err != nil {
			return err
		}
	}
	// The table governs every byte from here on.
	pw.lw.encode = table

	for i := 0; i < len(Signature); i++ {
		if err := pw.lw.putByte(Signature[i]); err != nil {
			return err
		}
	}
	if err := pw.lw.putByte(Version); err != nil {
		return err
	}

	date, tim := h.Date, h.Time
	if date == "" {
		now := time.Now()
		date, tim = now.Format("20060102"), now.Format("150405")
	}
	if len(date) != 8 {
		return fmt.Errorf("%w: date stamp %q is not 8 characters", porsav.ErrStructure, date)
	}
	if len(tim) != 6 {
		return fmt.Errorf("%w: time stamp %q is not 6 characters", porsav.ErrStructure, tim)
	}
	if err := pw.lw.putString(date); err != nil {
		return err
	}
	if err := pw.lw.putString(tim); err != nil {
		return err
	}
	if h.Product != "" {
		return pw.tagged(tagProduct, h.Product)
	}
	return nil
}

// checkTable rejects translation tables that move a record tag or the
// end-of-file fill. Those bytes are written untranslated but read back
// through the inverse table, so anything but a fixpoint breaks the file.
func checkTable(t *[256]byte) error {
	fixed := []byte{
		tagProduct, tagAuthor, tagSubproduct, tagVariableCount,
		tagPrecision, tagWeight, tagVariable, tagMissDiscrete,
		tagMissLow, tagMissHigh, tagMissRange, tagVarLabel,
		tagValueLabels, tagDocuments, tagData, eofMarker,
	}
	for _, b := range fixed {
		if t[b] != b {
			return fmt.Errorf("%w: translation table maps tag %q to %q", porsav.ErrStructure, b, t[b])
		}
	}
	return nil
}

func (pw *writer) variable(v *porsav.Variable) error {
	if len(v.Name) > 8 {
		return fmt.Errorf("%w: variable name %q does not fit the Portable format", porsav.ErrStructure, v.Name)
	}
	if err := pw.lw.putTag(tagVariable); err != nil {
		return err
	}
	if err := pw.lw.putInt(int64(v.Width)); err != nil {
		return err
	}
	if err := pw.lw.putString(v.Name); err != nil {
		return err
	}
	for _, f := range []porsav.Format{v.Print, v.Write} {
		for _, n := range []int{f.Type, f.Width, f.Decimals} {
			if err := pw.lw.putInt(int64(n)); err != nil {
				return err
			}
		}
	}
	pw.cur = v
	return nil
}

func (pw *writer) missing(m porsav.MissingValue) error {
	if pw.cur == nil {
		return fmt.Errorf("%w: missing-value record before any variable", porsav.ErrOrdering)
	}
	var tag byte
	switch m.Kind {
	case porsav.MissingDiscrete:
		tag = tagMissDiscrete
	case porsav.MissingRangeLow:
		tag = tagMissLow
	case porsav.MissingRangeHigh:
		tag = tagMissHigh
	case porsav.MissingRange:
		tag = tagMissRange
	}
	if err := pw.lw.putTag(tag); err != nil {
		return err
	}
	if err := pw.lw.putValue(m.Lo, pw.cur.IsString()); err != nil {
		return err
	}
	if m.Kind == porsav.MissingRange {
		return pw.lw.putValue(m.Hi, pw.cur.IsString())
	}
	return nil
}

func (pw *writer) valueLabels(vl *porsav.ValueLabels) error {
	if err := pw.lw.putTag(tagValueLabels); err != nil {
		return err
	}
	if err := pw.lw.putInt(int64(len(vl.Variables))); err != nil {
		return err
	}
	for _, name := range vl.Variables {
		if err := pw.lw.putString(name); err != nil {
			return err
		}
	}
	if err := pw.lw.putInt(int64(vl.Len())); err != nil {
		return err
	}
	isString := vl.ElementKind() == porsav.String
	for _, l := range vl.Labels() {
		if err := pw.lw.putValue(l.Value, isString); err != nil {
			return err
		}
		if err := pw.lw.putString(l.Label); err != nil {
			return err
		}
	}
	return nil
}

func (pw *writer) documents(lines []string) error {
	if err := pw.lw.putTag(tagDocuments); err != nil {
		return err
	}
	if err := pw.lw.putInt(int64(len(lines))); err != nil {
		return err
	}
	for _, l := range lines {
		if err := pw.lw.putString(l); err != nil {
			return err
		}
	}
	return nil
}

// data emits the matrix: rendered from Cases when present, otherwise
// re-flowed from the captured raw text.
func (pw *writer) data(f *porsav.File) error {
	if err := pw.lw.putTag(tagData); err != nil {
		return err
	}
	if f.Cases == nil && f.RawMatrix != nil {
		return pw.rawMatrix(bytebuf.FromBytes(f.RawMatrix), pw.cfg.rowWidth)
	}
	for _, row := range f.Cases {
		if len(row) != len(f.Variables) {
			return fmt.Errorf("%w: case has %d values for %d variables", porsav.ErrFormat, len(row), len(f.Variables))
		}
		for i, v := range row {
			if err := pw.lw.putValue(v, f.Variables[i].IsString()); err != nil {
				return err
			}
		}
	}
	return nil
}

// rawMatrix re-flows a stored line-oriented matrix to the output row
// width: stored line breaks become space padding to the stored width, and
// the trailing end-marker run is located by scanning back over at most
// scanBackWindow bytes.
func (pw *writer) rawMatrix(a *bytebuf.Array, storedWidth int) error {
	data := a.Bytes()
	end := rawDataEnd(data)
	col := 0
	r := a.Reader()
	for r.Offset() < end {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case '\r':
			// swallowed; '\n' does the work
		case '\n':
			for ; col < storedWidth; col++ {
				if err := pw.lw.putByte(' '); err != nil {
					return err
				}
			}
			col = 0
		default:
			if err := pw.lw.putByte(b); err != nil {
				return err
			}
			col++
			if col == storedWidth {
				col = 0
			}
		}
	}
	return nil
}

func rawDataEnd(data []byte) int {
	limit := len(data) - scanBackWindow
	if limit < 0 {
		limit = 0
	}
	i := len(data)
	for i > limit {
		switch data[i-1] {
		case eofMarker, '\n', '\r':
			i--
		default:
			return i
		}
	}
	return i
}
