// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"

	"github.com/elliotnunn/porsav"
)

type ReadOption func(*rconfig)

type rconfig struct {
	log *slog.Logger
}

func WithLogger(l *slog.Logger) ReadOption { return func(c *rconfig) { c.log = l } }

// Read parses a complete System file, dictionary and data matrix both.
func Read(src io.Reader, opts ...ReadOption) (*porsav.File, error) {
	cfg := rconfig{log: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	r := &reader{r: bufio.NewReader(src), log: cfg.log, sysmiss: Sysmiss}
	if err := r.fileHeader(); err != nil {
		return nil, err
	}
	if err := r.records(); err != nil {
		return nil, err
	}
	f, err := porsav.FromSections(r.secs)
	if err != nil {
		return nil, err
	}
	if err := r.mergeLongStrings(f); err != nil {
		return nil, err
	}
	f.Encoding = r.encodingName
	if err := r.recode(f); err != nil {
		return nil, err
	}
	if err := r.applyLongNames(f); err != nil {
		return nil, err
	}
	if err := r.matrix(f); err != nil {
		return nil, err
	}
	return f, nil
}

type reader struct {
	r   *bufio.Reader
	off int64
	log *slog.Logger

	order       binary.ByteOrder
	compression int
	weightSlot  int32
	ncases      int32
	bias        float64
	sysmiss     float64
	decoder     *encoding.Decoder

	secs         []porsav.Section
	widths       []int // physical column slots, wire order
	pending      *pendingLabels
	encodingName string
	longNames    []byte         // raw short=long map, decoded late
	veryLong     map[string]int // short name to true string width
	segs         []int          // segment count per merged variable
}

// pendingLabels holds a value-labels record until the variable-index
// record that must follow it reveals the value type.
type pendingLabels struct {
	values [][]byte // raw 8-byte cells
	labels []string
}

func (r *reader) bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: System file cut short at offset %d", porsav.ErrUnexpectedEOF, r.off)
		}
		return nil, err
	}
	r.off += int64(n)
	return b, nil
}

func (r *reader) i32() (int32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return int32(r.order.Uint32(b)), nil
}

func (r *reader) f64() (float64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return floatFromBits(r.order.Uint64(b)), nil
}

func trimField(b []byte) string {
	return strings.TrimRight(string(bytes.TrimRight(b, "\x00")), " ")
}

func (r *reader) fileHeader() error {
	r.order = binary.LittleEndian // provisional until the layout code is seen

	magic, err := r.bytes(4)
	if err != nil {
		return err
	}
	if string(magic) != headerMagic && string(magic) != zsavMagic {
		return fmt.Errorf("%w: not a System file (magic %q)", porsav.ErrStructure, magic)
	}
	product, err := r.bytes(60)
	if err != nil {
		return err
	}

	// The layout code doubles as the endianness probe: it is written as 2
	// (or 3) in the producer's native order, so a nonsensical value under
	// one order means the file uses the other.
	layout, err := r.bytes(4)
	if err != nil {
		return err
	}
	switch {
	case isLayoutCode(binary.LittleEndian.Uint32(layout)):
		r.order = binary.LittleEndian
	case isLayoutCode(binary.BigEndian.Uint32(layout)):
		r.order = binary.BigEndian
	default:
		return fmt.Errorf("%w: layout code %x", porsav.ErrStructure, layout)
	}

	caseSize, err := r.i32()
	if err != nil {
		return err
	}
	comp, err := r.i32()
	if err != nil {
		return err
	}
	if comp < CompressionNone || comp > CompressionZlib {
		return fmt.Errorf("%w: compression mode %d", porsav.ErrFormat, comp)
	}
	r.compression = int(comp)
	if r.weightSlot, err = r.i32(); err != nil {
		return err
	}
	if r.ncases, err = r.i32(); err != nil {
		return err
	}
	if r.bias, err = r.f64(); err != nil {
		return err
	}

	date, err := r.bytes(9)
	if err != nil {
		return err
	}
	tim, err := r.bytes(8)
	if err != nil {
		return err
	}
	label, err := r.bytes(64)
	if err != nil {
		return err
	}
	if _, err := r.bytes(3); err != nil {
		return err
	}

	hdr := porsav.Header{Product: trimField(product), Label: trimField(label)}
	hdr.Date, hdr.Time = normalizeStamp(trimField(date), trimField(tim))
	r.secs = append(r.secs, hdr)
	_ = caseSize // advisory; the variable records are authoritative
	return nil
}

func isLayoutCode(v uint32) bool { return v == 2 || v == 3 }

// normalizeStamp converts the header's "02 Jan 06" date and "15:04:05"
// time to the container's YYYYMMDD/HHMMSS form, passing unparseable
// stamps through untouched.
func normalizeStamp(date, tim string) (string, string) {
	if t, err := time.Parse("02 Jan 06 15:04:05", date+" "+tim); err == nil {
		return t.Format("20060102"), t.Format("150405")
	}
	return date, tim
}

func (r *reader) records() error {
	for {
		tag, err := r.i32()
		if err != nil {
			return err
		}
		if r.pending != nil && tag != recVarList {
			return fmt.Errorf("%w: value-labels record not followed by its variable list", porsav.ErrOrdering)
		}
		switch tag {
		case recVariable:
			err = r.variable()
		case recValueLabels:
			err = r.valueLabels()
		case recVarList:
			err = r.varList()
		case recDocuments:
			err = r.documents()
		case recExtension:
			err = r.extension()
		case recTerminator:
			if _, err := r.i32(); err != nil { // filler
				return err
			}
			r.weight()
			return nil
		default:
			return fmt.Errorf("%w: record type %d at offset %d", porsav.ErrUnknownTag, tag, r.off-4)
		}
		if err != nil {
			return err
		}
	}
}

func (r *reader) variable() error {
	width, err := r.i32()
	if err != nil {
		return err
	}
	hasLabel, err := r.i32()
	if err != nil {
		return err
	}
	nmiss, err := r.i32()
	if err != nil {
		return err
	}
	pfmt, err := r.i32()
	if err != nil {
		return err
	}
	wfmt, err := r.i32()
	if err != nil {
		return err
	}
	name, err := r.bytes(8)
	if err != nil {
		return err
	}

	v := &porsav.Variable{
		Name:  trimField(name),
		Width: int(width),
		Print: decodeFormat(pfmt),
		Write: decodeFormat(wfmt),
	}
	r.widths = append(r.widths, int(width))
	r.secs = append(r.secs, porsav.VariableSection{Variable: v})
	if width == porsav.ContinuationWidth {
		if hasLabel != 0 || nmiss != 0 {
			return fmt.Errorf("%w: continuation record with label or missing values", porsav.ErrStructure)
		}
		return nil
	}

	if hasLabel != 0 {
		n, err := r.i32()
		if err != nil {
			return err
		}
		if n < 0 || n > 1<<16 {
			return fmt.Errorf("%w: variable label length %d", porsav.ErrStructure, n)
		}
		raw, err := r.bytes(int(n+3) &^ 3)
		if err != nil {
			return err
		}
		v.Label = string(raw[:n])
		r.secs = append(r.secs, porsav.VariableLabelSection{Text: v.Label})
	}

	return r.missingValues(v, nmiss)
}

func decodeFormat(code int32) porsav.Format {
	return porsav.Format{
		Type:     int(code >> 16 & 0xff),
		Width:    int(code >> 8 & 0xff),
		Decimals: int(code & 0xff),
	}
}

func (r *reader) missingValues(v *porsav.Variable, nmiss int32) error {
	discrete := func() (porsav.Value, error) {
		if v.IsString() {
			b, err := r.bytes(8)
			if err != nil {
				return porsav.Value{}, err
			}
			return porsav.Str(strings.TrimRight(string(b), " ")), nil
		}
		n, err := r.f64()
		if err != nil {
			return porsav.Value{}, err
		}
		return porsav.Number(n), nil
	}

	hasRange := false
	switch {
	case nmiss >= 0 && nmiss <= 3:
	case nmiss == -2, nmiss == -3:
		if v.IsString() {
			return fmt.Errorf("%w: missing range on string variable %s", porsav.ErrStructure, v.Name)
		}
		hasRange = true
	default:
		return fmt.Errorf("%w: missing-value count %d on variable %s", porsav.ErrStructure, nmiss, v.Name)
	}

	if hasRange {
		lo, err := r.f64()
		if err != nil {
			return err
		}
		hi, err := r.f64()
		if err != nil {
			return err
		}
		m := porsav.MissingValue{Kind: porsav.MissingRange, Lo: porsav.Number(lo), Hi: porsav.Number(hi)}
		switch {
		case lo <= -math.MaxFloat64:
			m = porsav.MissingValue{Kind: porsav.MissingRangeLow, Lo: porsav.Number(hi)}
		case hi >= math.MaxFloat64:
			m = porsav.MissingValue{Kind: porsav.MissingRangeHigh, Lo: porsav.Number(lo)}
		}
		v.Missing = append(v.Missing, m)
		r.secs = append(r.secs, porsav.MissingSection{Missing: m})
		if nmiss == -3 {
			val, err := discrete()
			if err != nil {
				return err
			}
			d := porsav.MissingValue{Kind: porsav.MissingDiscrete, Lo: val}
			v.Missing = append(v.Missing, d)
			r.secs = append(r.secs, porsav.MissingSection{Missing: d})
		}
		return nil
	}

	for i := int32(0); i < nmiss; i++ {
		val, err := discrete()
		if err != nil {
			return err
		}
		m := porsav.MissingValue{Kind: porsav.MissingDiscrete, Lo: val}
		v.Missing = append(v.Missing, m)
		r.secs = append(r.secs, porsav.MissingSection{Missing: m})
	}
	return nil
}

func (r *reader) valueLabels() error {
	n, err := r.i32()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %d value labels", porsav.ErrStructure, n)
	}
	p := &pendingLabels{}
	for i := int32(0); i < n; i++ {
		val, err := r.bytes(8)
		if err != nil {
			return err
		}
		lb, err := r.bytes(1)
		if err != nil {
			return err
		}
		padded := (1 + int(lb[0]) + 7) &^ 7
		raw, err := r.bytes(padded - 1)
		if err != nil {
			return err
		}
		p.values = append(p.values, val)
		p.labels = append(p.labels, string(raw[:lb[0]]))
	}
	r.pending = p
	return nil
}

// varList resolves the value-labels record read just before it. The wire
// carries 1-based physical slot indexes; they are translated to logical
// variable positions, and an index landing on a continuation slot is an
// ordering error like any other bad reference.
func (r *reader) varList() error {
	p := r.pending
	r.pending = nil
	if p == nil {
		return fmt.Errorf("%w: variable list with no value-labels record before it", porsav.ErrOrdering)
	}
	n, err := r.i32()
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: empty variable list", porsav.ErrOrdering)
	}

	slotToVar := make([]int, len(r.widths)) // 1-based logical position, 0 on continuation slots
	logical := 0
	for i, w := range r.widths {
		if w != porsav.ContinuationWidth {
			logical++
			slotToVar[i] = logical
		}
	}

	var indexes []int
	isString := false
	for i := int32(0); i < n; i++ {
		slot, err := r.i32()
		if err != nil {
			return err
		}
		if slot < 1 || int(slot) > len(r.widths) || slotToVar[slot-1] == 0 {
			return fmt.Errorf("%w: variable list index %d out of range", porsav.ErrOrdering, slot)
		}
		if i == 0 {
			isString = r.widths[slot-1] != 0
		}
		indexes = append(indexes, slotToVar[slot-1])
	}

	vl := &porsav.ValueLabels{}
	for i, raw := range p.values {
		var v porsav.Value
		if isString {
			v = porsav.Str(strings.TrimRight(string(raw), " "))
		} else {
			v = porsav.Number(floatFromBits(r.order.Uint64(raw)))
		}
		vl.Add(v, p.labels[i])
	}
	r.secs = append(r.secs, porsav.ValueLabelsSection{Labels: vl})
	r.secs = append(r.secs, porsav.VariableListSection{Indexes: indexes})
	return nil
}

func (r *reader) documents() error {
	n, err := r.i32()
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("%w: %d document lines", porsav.ErrStructure, n)
	}
	var lines []string
	for i := int32(0); i < n; i++ {
		b, err := r.bytes(docLineWidth)
		if err != nil {
			return err
		}
		lines = append(lines, strings.TrimRight(string(b), " "))
	}
	r.secs = append(r.secs, porsav.DocumentsSection{Lines: lines})
	return nil
}

func (r *reader) extension() error {
	subtag, err := r.i32()
	if err != nil {
		return err
	}
	size, err := r.i32()
	if err != nil {
		return err
	}
	count, err := r.i32()
	if err != nil {
		return err
	}
	if size < 1 || count < 0 {
		return fmt.Errorf("%w: extension %d with element size %d count %d", porsav.ErrStructure, subtag, size, count)
	}
	data, err := r.bytes(int(size) * int(count))
	if err != nil {
		return err
	}

	switch subtag {
	case subtagInteger:
		// Machine layout already established from the header; nothing to
		// keep, and the writer regenerates this record.
	case subtagFloat:
		if len(data) >= 8 {
			r.sysmiss = floatFromBits(r.order.Uint64(data))
		}
	case subtagLongNames:
		// names are in the file's character set; held raw until the
		// encoding record has certainly been seen
		r.longNames = data
	case subtagVeryLong:
		if r.veryLong, err = parseVeryLong(data); err != nil {
			return err
		}
	case subtagEncoding:
		r.encodingName = trimField(data)
		if r.decoder, err = decoderFor(r.encodingName); err != nil {
			return err
		}
	default:
		if subtag != subtagDisplay {
			r.log.Debug("preserving unrecognized extension record", "subtag", subtag, "bytes", len(data))
		}
		r.secs = append(r.secs, porsav.ExtensionSection{
			Subtag:      int(subtag),
			ElementSize: int(size),
			Count:       int(count),
			Data:        data,
		})
	}
	return nil
}

func (r *reader) weight() {
	if r.weightSlot < 1 || int(r.weightSlot) > len(r.widths) {
		return
	}
	logical := 0
	for i, w := range r.widths {
		if w != porsav.ContinuationWidth {
			logical++
		}
		if i == int(r.weightSlot)-1 {
			break
		}
	}
	// find the name in the sections already collected
	seen := 0
	for _, s := range r.secs {
		vs, ok := s.(porsav.VariableSection)
		if !ok || vs.Variable.Width == porsav.ContinuationWidth {
			continue
		}
		seen++
		if seen == logical {
			r.secs = append(r.secs, porsav.WeightField{Name: vs.Variable.Name})
			return
		}
	}
}

// parseVeryLong reads the very-long-string map: "NAME=WIDTH" pairs, each
// null-terminated, separated by tabs.
func parseVeryLong(data []byte) (map[string]int, error) {
	m := make(map[string]int)
	for _, pair := range strings.Split(string(data), "\t") {
		pair = strings.TrimRight(pair, "\x00")
		if pair == "" {
			continue
		}
		name, num, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: very-long-string entry %q", porsav.ErrStructure, pair)
		}
		width, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil || width < 1 {
			return nil, fmt.Errorf("%w: very-long-string width %q for %s", porsav.ErrStructure, num, name)
		}
		m[name] = width
	}
	return m, nil
}

// mergeLongStrings folds the segment variables of each very long string
// back into one logical variable carrying the true width. The physical
// width table is untouched; the case collector reassembles the data side.
func (r *reader) mergeLongStrings(f *porsav.File) error {
	if len(r.veryLong) == 0 {
		return nil
	}
	var out []*porsav.Variable
	r.segs = r.segs[:0]
	for i := 0; i < len(f.Variables); i++ {
		v := f.Variables[i]
		width, ok := r.veryLong[v.Name]
		if !ok || width <= vlsSegmentWidth {
			out = append(out, v)
			r.segs = append(r.segs, 1)
			continue
		}
		if v.Width != vlsSegmentWidth {
			return fmt.Errorf("%w: very long string %s declares segment width %d", porsav.ErrStructure, v.Name, v.Width)
		}
		n := (width + vlsSegmentData - 1) / vlsSegmentData
		if i+n > len(f.Variables) {
			return fmt.Errorf("%w: very long string %s wants %d segments", porsav.ErrStructure, v.Name, n)
		}
		for k := 1; k < n; k++ {
			if !f.Variables[i+k].IsString() {
				return fmt.Errorf("%w: very long string %s has a numeric segment", porsav.ErrStructure, v.Name)
			}
		}
		v.Width = width
		out = append(out, v)
		r.segs = append(r.segs, n)
		i += n - 1
	}
	f.Variables = out
	return nil
}

// applyLongNames replaces the 8-byte record names with the real names
// from the short=long map, fixing up every reference to them.
func (r *reader) applyLongNames(f *porsav.File) error {
	if len(r.longNames) == 0 {
		return nil
	}
	text := string(r.longNames)
	if r.decoder != nil {
		out, err := r.decoder.String(text)
		if err != nil {
			return fmt.Errorf("%w: %v", porsav.ErrEncoding, err)
		}
		text = out
	}

	renames := make(map[string]string)
	for _, pair := range strings.Split(text, "\t") {
		pair = strings.TrimRight(pair, "\x00")
		if pair == "" {
			continue
		}
		short, long, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: long-name entry %q", porsav.ErrStructure, pair)
		}
		if long != "" && long != short {
			renames[short] = long
		}
	}
	if len(renames) == 0 {
		return nil
	}

	for _, v := range f.Variables {
		if long, ok := renames[v.Name]; ok {
			v.Name = long
		}
	}
	if long, ok := renames[f.Weight]; ok {
		f.Weight = long
	}
	for _, vl := range f.Labels {
		for i, name := range vl.Variables {
			if long, ok := renames[name]; ok {
				vl.Variables[i] = long
			}
		}
	}
	return nil
}

// recode maps every dictionary string from the file's character set to
// UTF-8. String data cells are handled by the case collector instead.
func (r *reader) recode(f *porsav.File) error {
	if r.decoder == nil {
		return nil
	}
	dec := func(s *string) error {
		out, err := r.decoder.String(*s)
		if err != nil {
			return fmt.Errorf("%w: %v", porsav.ErrEncoding, err)
		}
		*s = out
		return nil
	}

	if err := dec(&f.Header.Product); err != nil {
		return err
	}
	if err := dec(&f.Header.Label); err != nil {
		return err
	}
	for _, v := range f.Variables {
		if err := dec(&v.Label); err != nil {
			return err
		}
	}
	for i := range f.Documents {
		if err := dec(&f.Documents[i]); err != nil {
			return err
		}
	}
	for li, vl := range f.Labels {
		fresh := &porsav.ValueLabels{Variables: vl.Variables}
		for _, l := range vl.Labels() {
			v, label := l.Value, l.Label
			if err := dec(&label); err != nil {
				return err
			}
			if v.Kind == porsav.String {
				if err := dec(&v.Str); err != nil {
					return err
				}
			}
			fresh.Add(v, label)
		}
		f.Labels[li] = fresh
	}
	return nil
}

// caseCollector assembles matrix events into File.Cases rows, decoding
// string cells and gluing very-long-string segments back together. The
// parser hands over each segment with its trailing spaces trimmed, so a
// non-final segment is re-padded to its fixed 252 payload bytes before
// the pieces are joined; decoding happens once, on the whole value.
type caseCollector struct {
	nvars   int
	segs    []int // segments per logical variable, empty when 1:1
	decoder *encoding.Decoder

	rows [][]porsav.Value
	row  []porsav.Value
	vi   int // logical variable the next event belongs to
	seg  int // segments consumed so far for that variable
	buf  []byte
}

func (c *caseCollector) nsegs() int {
	if c.vi < len(c.segs) {
		return c.segs[c.vi]
	}
	return 1
}

func (c *caseCollector) BeginRow(int) error {
	c.row = make([]porsav.Value, 0, c.nvars)
	c.vi, c.seg = 0, 0
	return nil
}
func (c *caseCollector) Number(_ int, v float64) error {
	c.row = append(c.row, porsav.Number(v))
	c.vi++
	return nil
}
func (c *caseCollector) Sysmiss(int) error {
	c.row = append(c.row, porsav.Value{})
	c.vi++
	return nil
}
func (c *caseCollector) String(_ int, s string) error {
	if n := c.nsegs(); c.seg < n-1 {
		b := []byte(s)
		if len(b) > vlsSegmentData {
			b = b[:vlsSegmentData]
		}
		for len(b) < vlsSegmentData {
			b = append(b, ' ')
		}
		c.buf = append(c.buf, b...)
		c.seg++
		return nil
	}
	if len(c.buf) > 0 {
		s = strings.TrimRight(string(append(c.buf, s...)), " ")
		c.buf = c.buf[:0]
	}
	c.seg = 0
	if c.decoder != nil {
		out, err := c.decoder.String(s)
		if err != nil {
			return fmt.Errorf("%w: %v", porsav.ErrEncoding, err)
		}
		s = out
	}
	c.row = append(c.row, porsav.Str(s))
	c.vi++
	return nil
}
func (c *caseCollector) EndRow(int) error {
	c.rows = append(c.rows, c.row)
	c.row = nil
	return nil
}
func (c *caseCollector) EndMatrix(int) error { return nil }

func (r *reader) matrix(f *porsav.File) error {
	if len(r.widths) == 0 {
		if r.ncases > 0 {
			return fmt.Errorf("%w: %d cases with no variables", porsav.ErrFormat, r.ncases)
		}
		return nil
	}

	coll := &caseCollector{nvars: len(f.Variables), segs: r.segs, decoder: r.decoder}
	parser, err := NewMatrixParser(r.widths, r.order, r.sysmiss, coll)
	if err != nil {
		return err
	}
	dec := NewDecompressor(r.order, r.bias, r.sysmiss, parser.Consume)
	dec.Passthrough = r.compression == CompressionNone

	feed := func(src io.Reader) error {
		var chunk [8]byte
		for {
			_, err := io.ReadFull(src, chunk[:])
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: data matrix ends mid-chunk", porsav.ErrUnexpectedEOF)
			}
			if err != nil {
				return err
			}
			if err := dec.Consume(chunk[:]); err != nil {
				return err
			}
		}
	}

	switch r.compression {
	case CompressionNone, CompressionRLE:
		if err := feed(r.r); err != nil {
			return err
		}
	case CompressionZlib:
		inflated, err := readZsav(r.r, r.order, r.off)
		if err != nil {
			return err
		}
		if err := feed(bytes.NewReader(inflated)); err != nil {
			return err
		}
	}
	if err := dec.Consume(nil); err != nil {
		return err
	}
	if err := parser.Consume(nil); err != nil {
		return err
	}

	if r.ncases >= 0 && int(r.ncases) != len(coll.rows) {
		r.log.Warn("header case count disagrees with data matrix",
			"header", r.ncases, "actual", len(coll.rows))
	}
	f.Cases = coll.rows
	return nil
}
