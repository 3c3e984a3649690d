// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/fedom/writerseeker"
	"golang.org/x/text/encoding"

	"github.com/elliotnunn/porsav"
)

type Option func(*wconfig)

type wconfig struct {
	order       binary.ByteOrder
	compression int
	bias        float64
}

func ByteOrder(o binary.ByteOrder) Option { return func(c *wconfig) { c.order = o } }
func Compression(mode int) Option         { return func(c *wconfig) { c.compression = mode } }
func Bias(b float64) Option               { return func(c *wconfig) { c.bias = b } }

// Write serializes the whole container in one call. The System header
// carries the case count, which is only known at the end, so the file is
// staged in an in-memory seekable buffer and copied out afterwards.
func Write(w io.Writer, f *porsav.File, opts ...Option) error {
	ws := &writerseeker.WriterSeeker{}
	sw, err := NewWriter(ws, f, opts...)
	if err != nil {
		return err
	}
	for _, row := range f.Cases {
		if err := sw.WriteCase(row); err != nil {
			return err
		}
	}
	if err := sw.Close(); err != nil {
		return err
	}
	_, err = io.Copy(w, ws.BytesReader())
	return err
}

// Writer streams cases into a System file: the dictionary goes out at
// construction with a case count of -1, and Close patches the real count
// into the header. The destination must therefore be seekable.
type Writer struct {
	ws     io.WriteSeeker
	cw     *countWriter
	cfg    wconfig
	f      *porsav.File
	plan   []wireVar
	enc    *encoding.Encoder
	rle    *rleWriter
	zbuf   bytes.Buffer
	ncases int32
	closed bool
}

func NewWriter(ws io.WriteSeeker, f *porsav.File, opts ...Option) (*Writer, error) {
	cfg := wconfig{order: binary.LittleEndian, compression: CompressionRLE, bias: DefaultBias}
	for _, o := range opts {
		o(&cfg)
	}
	enc, err := encoderFor(f.Encoding)
	if err != nil {
		return nil, err
	}
	w := &Writer{ws: ws, cw: &countWriter{w: ws}, cfg: cfg, f: f, enc: enc}

	// Building the section list validates the dictionary (missing-value
	// shapes, label types, weight reference) before any bytes go out.
	if _, err := f.Sections(); err != nil {
		return nil, err
	}
	w.plan = wirePlan(f.Variables)
	if err := w.dictionary(); err != nil {
		return nil, err
	}

	switch cfg.compression {
	case CompressionNone:
	case CompressionRLE:
		w.rle = newRLEWriter(w.cw, cfg.order, cfg.bias, Sysmiss)
	case CompressionZlib:
		w.rle = newRLEWriter(&w.zbuf, cfg.order, cfg.bias, Sysmiss)
	default:
		return nil, fmt.Errorf("%w: compression mode %d", porsav.ErrFormat, cfg.compression)
	}
	return w, nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ncasesOffset is the position of the header's case-count field:
// magic, product, layout code, nominal case size, compression, weight.
const ncasesOffset = 4 + 60 + 4 + 4 + 4 + 4

func (w *Writer) put(v any) error { return binary.Write(w.cw, w.cfg.order, v) }

func (w *Writer) putPadded(s string, width int, pad byte) error {
	b := make([]byte, width)
	for i := range b {
		b[i] = pad
	}
	copy(b, s)
	_, err := w.cw.Write(b)
	return err
}

func (w *Writer) encoded(s string) (string, error) {
	if w.enc == nil {
		return s, nil
	}
	out, err := w.enc.String(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", porsav.ErrEncoding, err)
	}
	return out, nil
}

func (w *Writer) dictionary() error {
	if err := w.fileHeader(); err != nil {
		return err
	}
	for _, wv := range w.plan {
		if err := w.variable(wv); err != nil {
			return err
		}
	}
	for _, vl := range w.f.Labels {
		if err := w.valueLabels(vl); err != nil {
			return err
		}
	}
	if err := w.documents(); err != nil {
		return err
	}
	if err := w.extensions(); err != nil {
		return err
	}
	// dictionary terminator
	if err := w.put(int32(recTerminator)); err != nil {
		return err
	}
	return w.put(int32(0))
}

// wireVar is one variable's physical layout: the declared width and
// 8-byte-or-less name of each record-type-2 record it turns into.
// Ordinary variables have a single segment; a string wider than 255
// bytes is split so every non-final segment declares width 255 and
// carries 252 payload bytes.
type wireVar struct {
	v     *porsav.Variable
	segs  []int
	names []string
}

// slots is the total physical 8-byte column slot count, continuations
// included.
func (wv wireVar) slots() int {
	n := 0
	for _, seg := range wv.segs {
		n += segSlots(seg)
	}
	return n
}

func segSlots(width int) int {
	if width <= 0 {
		return 1
	}
	return (width + 7) / 8
}

func wirePlan(vars []*porsav.Variable) []wireVar {
	used := make(map[string]bool, len(vars))
	for _, v := range vars {
		if len(v.Name) <= shortNameLen {
			used[v.Name] = true
		}
	}

	plan := make([]wireVar, 0, len(vars))
	for _, v := range vars {
		short := v.Name
		if len(short) > shortNameLen {
			short = claimShortName(short, used)
		}
		wv := wireVar{v: v, segs: []int{v.Width}, names: []string{short}}
		if v.Width > vlsSegmentWidth {
			wv.segs = wv.segs[:0]
			for left := v.Width; left > 0; left -= vlsSegmentData {
				if left > vlsSegmentData {
					wv.segs = append(wv.segs, vlsSegmentWidth)
				} else {
					wv.segs = append(wv.segs, left)
				}
			}
			for len(wv.names) < len(wv.segs) {
				wv.names = append(wv.names, claimShortName(short, used))
			}
		}
		plan = append(plan, wv)
	}
	return plan
}

// claimShortName truncates name to the 8-byte record field, appending a
// numeric suffix until the result is unused.
func claimShortName(name string, used map[string]bool) string {
	s := name
	if len(s) > shortNameLen {
		s = s[:shortNameLen]
	}
	for n := 2; used[s]; n++ {
		suffix := "_" + strconv.Itoa(n)
		base := name
		if len(base) > shortNameLen-len(suffix) {
			base = base[:shortNameLen-len(suffix)]
		}
		s = base + suffix
	}
	used[s] = true
	return s
}

// slotIndex returns the 1-based physical column slot of a variable's
// leading segment, counting continuation slots, or 0 if absent.
func (w *Writer) slotIndex(name string) int32 {
	slot := int32(1)
	for _, wv := range w.plan {
		if wv.v.Name == name {
			return slot
		}
		slot += int32(wv.slots())
	}
	return 0
}

func (w *Writer) fileHeader() error {
	magic := headerMagic
	if w.cfg.compression == CompressionZlib {
		magic = zsavMagic
	}
	if _, err := w.cw.Write([]byte(magic)); err != nil {
		return err
	}
	product := w.f.Header.Product
	if product == "" {
		product = "@(#) SPSS DATA FILE - porsav"
	}
	if err := w.putPadded(product, 60, ' '); err != nil {
		return err
	}
	caseSize := int32(0)
	for _, wv := range w.plan {
		caseSize += int32(wv.slots())
	}
	for _, v := range []int32{layoutCode, caseSize, int32(w.cfg.compression), w.slotIndex(w.f.Weight), -1} {
		if err := w.put(v); err != nil {
			return err
		}
	}
	if err := w.put(w.cfg.bias); err != nil {
		return err
	}

	date, tim := headerStamp(w.f.Header)
	if err := w.putPadded(date, 9, ' '); err != nil {
		return err
	}
	if err := w.putPadded(tim, 8, ' '); err != nil {
		return err
	}
	if err := w.putPadded(w.f.Header.Label, 64, ' '); err != nil {
		return err
	}
	return w.putPadded("", 3, 0)
}

// headerStamp renders the normalized YYYYMMDD/HHMMSS stamps in the System
// header's "02 Jan 06" style, falling back to the current time.
func headerStamp(h porsav.Header) (string, string) {
	if t, err := time.Parse("20060102 150405", h.Date+" "+h.Time); err == nil {
		return t.Format("02 Jan 06"), t.Format("15:04:05")
	}
	now := time.Now()
	return now.Format("02 Jan 06"), now.Format("15:04:05")
}

func formatCode(f porsav.Format) int32 {
	return int32(f.Type)<<16 | int32(f.Width)<<8 | int32(f.Decimals)
}

// missingCode encodes the missing-value list length: positive for up to
// three discrete values, -2 for a range, -3 for a range plus one discrete.
func missingCode(v *porsav.Variable) (int32, error) {
	var discrete, ranges int
	for _, m := range v.Missing {
		if m.Kind == porsav.MissingDiscrete {
			discrete++
		} else {
			ranges++
		}
	}
	switch {
	case ranges == 0 && discrete <= 3:
		return int32(discrete), nil
	case ranges == 1 && discrete == 0:
		return -2, nil
	case ranges == 1 && discrete == 1:
		return -3, nil
	}
	return 0, fmt.Errorf("%w: variable %s has %d ranges and %d discrete missing values", porsav.ErrStructure, v.Name, ranges, discrete)
}

func (w *Writer) missingCell(val porsav.Value, isString bool) error {
	if isString {
		return w.putPadded(val.Str, 8, ' ')
	}
	return w.put(val.Num)
}

func (w *Writer) variable(wv wireVar) error {
	v := wv.v
	nmiss, err := missingCode(v)
	if err != nil {
		return err
	}
	label, err := w.encoded(v.Label)
	if err != nil {
		return err
	}

	hasLabel := int32(0)
	if label != "" {
		hasLabel = 1
	}
	fields := []int32{recVariable, int32(wv.segs[0]), hasLabel, nmiss, formatCode(v.Print), formatCode(v.Write)}
	for _, x := range fields {
		if err := w.put(x); err != nil {
			return err
		}
	}
	if err := w.putPadded(wv.names[0], 8, ' '); err != nil {
		return err
	}
	if label != "" {
		if err := w.put(int32(len(label))); err != nil {
			return err
		}
		if err := w.putPadded(label, (len(label)+3)&^3, 0); err != nil {
			return err
		}
	}

	// range endpoints first, then discretes, matching the sign code
	for _, m := range v.Missing {
		if m.Kind == porsav.MissingDiscrete {
			continue
		}
		lo, hi := rangeEndpoints(m)
		if err := w.put(lo); err != nil {
			return err
		}
		if err := w.put(hi); err != nil {
			return err
		}
	}
	for _, m := range v.Missing {
		if m.Kind != porsav.MissingDiscrete {
			continue
		}
		if err := w.missingCell(m.Lo, v.IsString()); err != nil {
			return err
		}
	}

	if err := w.continuations(wv.segs[0]); err != nil {
		return err
	}

	// extra segments of a very long string are bare variables of their own
	for k := 1; k < len(wv.segs); k++ {
		fields := []int32{recVariable, int32(wv.segs[k]), 0, 0, formatCode(v.Print), formatCode(v.Write)}
		for _, x := range fields {
			if err := w.put(x); err != nil {
				return err
			}
		}
		if err := w.putPadded(wv.names[k], 8, ' '); err != nil {
			return err
		}
		if err := w.continuations(wv.segs[k]); err != nil {
			return err
		}
	}
	return nil
}

// continuations emits the extra record-type-2 records a multi-slot string
// needs, one per slot past the first.
func (w *Writer) continuations(width int) error {
	for i := 1; i < segSlots(width); i++ {
		for _, x := range []int32{recVariable, -1, 0, 0, 0, 0} {
			if err := w.put(x); err != nil {
				return err
			}
		}
		if err := w.putPadded("", 8, ' '); err != nil {
			return err
		}
	}
	return nil
}

// rangeEndpoints maps the open-range shapes onto the format's
// lowest/highest representable doubles.
func rangeEndpoints(m porsav.MissingValue) (float64, float64) {
	switch m.Kind {
	case porsav.MissingRangeLow:
		return -math.MaxFloat64, m.Lo.Num
	case porsav.MissingRangeHigh:
		return m.Lo.Num, math.MaxFloat64
	default:
		return m.Lo.Num, m.Hi.Num
	}
}

func (w *Writer) valueLabels(vl *porsav.ValueLabels) error {
	if err := w.put(int32(recValueLabels)); err != nil {
		return err
	}
	if err := w.put(int32(vl.Len())); err != nil {
		return err
	}
	isString := vl.ElementKind() == porsav.String
	for _, l := range vl.Labels() {
		if isString {
			if err := w.putPadded(l.Value.Str, 8, ' '); err != nil {
				return err
			}
		} else {
			if err := w.put(l.Value.Num); err != nil {
				return err
			}
		}
		label, err := w.encoded(l.Label)
		if err != nil {
			return err
		}
		if len(label) > 255 {
			return fmt.Errorf("%w: value label %q longer than 255 bytes", porsav.ErrStructure, l.Label)
		}
		if _, err := w.cw.Write([]byte{byte(len(label))}); err != nil {
			return err
		}
		// value + length byte + label pads to a multiple of 8
		padded := (1 + len(label) + 7) &^ 7
		if err := w.putPadded(label, padded-1, ' '); err != nil {
			return err
		}
	}

	if err := w.put(int32(recVarList)); err != nil {
		return err
	}
	if err := w.put(int32(len(vl.Variables))); err != nil {
		return err
	}
	for _, name := range vl.Variables {
		idx := w.slotIndex(name)
		if idx == 0 {
			return fmt.Errorf("%w: value labels reference unknown variable %q", porsav.ErrOrdering, name)
		}
		if err := w.put(idx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) documents() error {
	if len(w.f.Documents) == 0 {
		return nil
	}
	if err := w.put(int32(recDocuments)); err != nil {
		return err
	}
	if err := w.put(int32(len(w.f.Documents))); err != nil {
		return err
	}
	for _, line := range w.f.Documents {
		if err := w.putPadded(line, docLineWidth, ' '); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) extension(subtag, elementSize int32, data []byte) error {
	for _, v := range []int32{recExtension, subtag, elementSize, int32(len(data)) / elementSize} {
		if err := w.put(v); err != nil {
			return err
		}
	}
	_, err := w.cw.Write(data)
	return err
}

func (w *Writer) extensions() error {
	// machine integer info
	endian := int32(2) // little
	if w.cfg.order == binary.BigEndian {
		endian = 1
	}
	var ints bytes.Buffer
	for _, v := range []int32{1, 0, 0, -1, 1, int32(w.cfg.compression), endian, 65001} {
		binary.Write(&ints, w.cfg.order, v)
	}
	if err := w.extension(subtagInteger, 4, ints.Bytes()); err != nil {
		return err
	}

	// machine float info: sysmiss, highest, lowest
	var floats bytes.Buffer
	for _, v := range []float64{Sysmiss, math.MaxFloat64, -math.MaxFloat64} {
		binary.Write(&floats, w.cfg.order, v)
	}
	if err := w.extension(subtagFloat, 8, floats.Bytes()); err != nil {
		return err
	}

	// short=long name map; redundant when every name fits 8 bytes, but
	// consumers expect the record either way
	var names bytes.Buffer
	for _, wv := range w.plan {
		long, err := w.encoded(wv.v.Name)
		if err != nil {
			return err
		}
		if names.Len() > 0 {
			names.WriteByte('\t')
		}
		names.WriteString(wv.names[0])
		names.WriteByte('=')
		names.WriteString(long)
	}
	if err := w.extension(subtagLongNames, 1, names.Bytes()); err != nil {
		return err
	}

	var vls bytes.Buffer
	for _, wv := range w.plan {
		if len(wv.segs) > 1 {
			fmt.Fprintf(&vls, "%s=%05d", wv.names[0], wv.v.Width)
			vls.Write([]byte{0, '\t'})
		}
	}
	if vls.Len() > 0 {
		if err := w.extension(subtagVeryLong, 1, vls.Bytes()); err != nil {
			return err
		}
	}

	name := w.f.Encoding
	if name == "" {
		name = "UTF-8"
	}
	if err := w.extension(subtagEncoding, 1, []byte(name)); err != nil {
		return err
	}

	for _, ext := range w.f.Extensions {
		switch ext.Subtag {
		case subtagInteger, subtagFloat, subtagLongNames, subtagVeryLong, subtagEncoding:
			// superseded by the records synthesized above
			continue
		}
		if err := w.extension(int32(ext.Subtag), int32(ext.ElementSize), ext.Data); err != nil {
			return err
		}
	}
	return nil
}

// WriteCase appends one row, one Value per variable.
func (w *Writer) WriteCase(row []porsav.Value) error {
	if w.closed {
		return fmt.Errorf("%w: case after Close", porsav.ErrFormat)
	}
	if len(row) != len(w.f.Variables) {
		return fmt.Errorf("%w: case has %d values for %d variables", porsav.ErrFormat, len(row), len(w.f.Variables))
	}
	for i, wv := range w.plan {
		if err := w.cell(wv, row[i]); err != nil {
			return err
		}
	}
	w.ncases++
	return nil
}

func (w *Writer) cell(wv wireVar, val porsav.Value) error {
	v := wv.v
	if v.IsString() {
		s := ""
		switch val.Kind {
		case porsav.String:
			var err error
			if s, err = w.encoded(val.Str); err != nil {
				return err
			}
		case porsav.Unassigned:
			// blank string
		default:
			return fmt.Errorf("%w: numeric value in string variable %s", porsav.ErrFormat, v.Name)
		}
		for k, wseg := range wv.segs {
			take := wseg
			if k < len(wv.segs)-1 {
				take = vlsSegmentData
			}
			chunk := s
			if len(chunk) > take {
				chunk = chunk[:take]
			}
			s = s[len(chunk):]
			if err := w.stringSegment(chunk, segSlots(wseg)); err != nil {
				return err
			}
		}
		return nil
	}

	n := Sysmiss
	switch val.Kind {
	case porsav.Numeric:
		n = val.Num
	case porsav.Unassigned:
	default:
		return fmt.Errorf("%w: string value in numeric variable %s", porsav.ErrFormat, v.Name)
	}
	if w.rle != nil {
		if n == Sysmiss {
			return w.rle.Sysmiss()
		}
		return w.rle.Number(n)
	}
	return w.put(n)
}

func (w *Writer) stringSegment(s string, slots int) error {
	if w.rle != nil {
		return w.rle.String(s, slots)
	}
	return w.rawString(s, slots)
}

func (w *Writer) rawString(s string, slots int) error {
	for i := 0; i < slots; i++ {
		var cell [8]byte
		for j := range cell {
			cell[j] = ' '
		}
		if len(s) > 0 {
			n := copy(cell[:], s)
			s = s[n:]
		}
		if _, err := w.cw.Write(cell[:]); err != nil {
			return err
		}
	}
	return nil
}

// Close finishes the matrix and patches the true case count into the
// header.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.rle != nil {
		if err := w.rle.Close(); err != nil {
			return err
		}
	}
	if w.cfg.compression == CompressionZlib {
		if err := writeZsav(w.cw, w.cfg.order, w.cw.n, w.zbuf.Bytes(), w.cfg.bias); err != nil {
			return err
		}
	}

	if _, err := w.ws.Seek(ncasesOffset, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w.ws, w.cfg.order, w.ncases)
}
