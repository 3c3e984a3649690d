// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// porsavdump prints the dictionary of SPSS Portable and System files as
// YAML, optionally followed by the data matrix as CSV. Inputs may be
// gzip, bzip2 or xz compressed; glob patterns (including **) are
// expanded.
package main

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/elliotnunn/porsav"
	"github.com/elliotnunn/porsav/internal/sniff"
	"github.com/elliotnunn/porsav/por"
	"github.com/elliotnunn/porsav/sav"
)

var (
	withData    = flag.Bool("data", false, "print the data matrix as CSV")
	fingerprint = flag.Bool("fingerprint", false, "print an xxhash64 digest of the data matrix")
	maxCases    = flag.Int("max-cases", 0, "limit CSV output to this many cases (0 = all)")
	verbose     = flag.BoolP("verbose", "v", false, "debug logging")
)

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: porsavdump [flags] file-or-glob ...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	exit := 0
	for _, pattern := range flag.Args() {
		names, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			slog.Error("bad pattern", "pattern", pattern, "err", err)
			exit = 1
			continue
		}
		if len(names) == 0 {
			slog.Error("no files match", "pattern", pattern)
			exit = 1
			continue
		}
		for _, name := range names {
			if err := dumpOne(name); err != nil {
				slog.Error("dump failed", "file", name, "err", err)
				exit = 1
			}
		}
	}
	os.Exit(exit)
}

func dumpOne(name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	kind, r, err := sniff.Open(fh)
	if err != nil {
		return err
	}
	var f *porsav.File
	switch kind {
	case sniff.Portable:
		f, err = por.Read(r)
	case sniff.System:
		f, err = sav.Read(r)
	}
	if err != nil {
		return err
	}

	out := summarize(name, kind, f)
	if *fingerprint {
		out.Fingerprint = matrixDigest(f)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if *withData {
		return writeCSV(os.Stdout, f)
	}
	return nil
}

type summary struct {
	File        string
	Format      string
	Product     string   `yaml:",omitempty"`
	Author      string   `yaml:",omitempty"`
	Label       string   `yaml:",omitempty"`
	Date        string   `yaml:",omitempty"`
	Time        string   `yaml:",omitempty"`
	Encoding    string   `yaml:",omitempty"`
	Weight      string   `yaml:",omitempty"`
	Cases       int
	Fingerprint string   `yaml:",omitempty"`
	Documents   []string `yaml:",omitempty"`
	Variables   []variableSummary
}

type variableSummary struct {
	Name    string
	Type    string
	Width   int               `yaml:",omitempty"`
	Label   string            `yaml:",omitempty"`
	Missing []string          `yaml:",omitempty"`
	Labels  map[string]string `yaml:",omitempty"`
}

func summarize(name string, kind sniff.Kind, f *porsav.File) *summary {
	s := &summary{
		File:      name,
		Format:    kind.String(),
		Product:   f.Header.Product,
		Author:    f.Author,
		Label:     f.Header.Label,
		Date:      f.Header.Date,
		Time:      f.Header.Time,
		Encoding:  f.Encoding,
		Weight:    f.Weight,
		Cases:     len(f.Cases),
		Documents: f.Documents,
	}
	labelsFor := func(name string) map[string]string {
		for _, vl := range f.Labels {
			for _, member := range vl.Variables {
				if member != name {
					continue
				}
				m := make(map[string]string, vl.Len())
				for _, l := range vl.Labels() {
					m[l.Value.String()] = l.Label
				}
				return m
			}
		}
		return nil
	}
	for _, v := range f.Variables {
		vs := variableSummary{
			Name:   v.Name,
			Type:   "numeric",
			Label:  v.Label,
			Labels: labelsFor(v.Name),
		}
		if v.IsString() {
			vs.Type = "string"
			vs.Width = v.Width
		}
		for _, m := range v.Missing {
			vs.Missing = append(vs.Missing, missingString(m))
		}
		s.Variables = append(s.Variables, vs)
	}
	return s
}

func missingString(m porsav.MissingValue) string {
	switch m.Kind {
	case porsav.MissingRangeLow:
		return "LO THRU " + m.Lo.String()
	case porsav.MissingRangeHigh:
		return m.Lo.String() + " THRU HI"
	case porsav.MissingRange:
		return m.Lo.String() + " THRU " + m.Hi.String()
	}
	return m.Lo.String()
}

// matrixDigest hashes the typed values rather than the encoded bytes, so
// the same data in different containers fingerprints identically.
func matrixDigest(f *porsav.File) string {
	h := xxhash.New()
	var scratch [8]byte
	for _, row := range f.Cases {
		for _, v := range row {
			switch v.Kind {
			case porsav.Numeric:
				binary.LittleEndian.PutUint64(scratch[:], math.Float64bits(v.Num))
				h.Write(scratch[:])
			case porsav.String:
				h.WriteString(v.Str)
			}
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeCSV(w io.Writer, f *porsav.File) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(f.Variables))
	for i, v := range f.Variables {
		header[i] = v.Name
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	limit := len(f.Cases)
	if *maxCases > 0 && *maxCases < limit {
		limit = *maxCases
	}
	record := make([]string, len(f.Variables))
	for _, row := range f.Cases[:limit] {
		for i, v := range row {
			switch v.Kind {
			case porsav.Numeric:
				record[i] = strconv.FormatFloat(v.Num, 'g', -1, 64)
			case porsav.String:
				record[i] = v.Str
			default:
				record[i] = "" // system-missing
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
