// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// porsavconv converts between the SPSS Portable and System formats in
// either direction. The input container is detected from its contents
// (compressed inputs are unwrapped); the output container is chosen with
// --to or inferred from the output file name.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/elliotnunn/porsav"
	"github.com/elliotnunn/porsav/internal/sniff"
	"github.com/elliotnunn/porsav/por"
	"github.com/elliotnunn/porsav/sav"
)

var (
	format      = flag.String("to", "", "output format: por or sav (default: from the output suffix)")
	compression = flag.String("compression", "rle", "sav compression: none, rle or zlib")
	rowWidth    = flag.Int("row-width", por.DefaultRowWidth, "por line width")
	crlf        = flag.Bool("crlf", false, "por CRLF line endings")
	verify      = flag.Bool("verify", false, "re-read the output and compare it with the input")
	verbose     = flag.BoolP("verbose", "v", false, "debug logging")
)

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: porsavconv [flags] input output")
		flag.PrintDefaults()
		os.Exit(2)
	}
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(flag.Arg(0), flag.Arg(1)); err != nil {
		slog.Error("conversion failed", "err", err)
		os.Exit(1)
	}
}

func run(inName, outName string) error {
	f, err := readAny(inName)
	if err != nil {
		return err
	}

	to := *format
	if to == "" {
		switch strings.ToLower(filepath.Ext(outName)) {
		case ".por":
			to = "por"
		case ".sav":
			to = "sav"
		case ".zsav":
			to = "sav"
			*compression = "zlib"
		default:
			return fmt.Errorf("cannot infer output format from %q, use --to", outName)
		}
	}

	out, err := os.Create(outName)
	if err != nil {
		return err
	}
	switch to {
	case "por":
		// System strings survive in the Portable container, but the
		// matrix has to be re-rendered, so drop any captured raw text.
		f.RawMatrix = nil
		err = por.Write(out, f, por.RowWidth(*rowWidth), por.CRLF(*crlf))
	case "sav":
		mode, merr := compressionMode(*compression)
		if merr != nil {
			err = merr
			break
		}
		err = sav.Write(out, f, sav.Compression(mode))
	default:
		err = fmt.Errorf("unknown output format %q", to)
	}
	if err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if *verify {
		return verifyOutput(f, outName)
	}
	return nil
}

func compressionMode(name string) (int, error) {
	switch name {
	case "none":
		return sav.CompressionNone, nil
	case "rle":
		return sav.CompressionRLE, nil
	case "zlib":
		return sav.CompressionZlib, nil
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

func readAny(name string) (*porsav.File, error) {
	fh, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	kind, r, err := sniff.Open(fh)
	if err != nil {
		return nil, err
	}
	switch kind {
	case sniff.Portable:
		return por.Read(r)
	default:
		return sav.Read(r)
	}
}

// verifyOutput re-reads the converted file and checks that the dictionary
// shape and every case survived. Numbers crossing into the Portable
// container are re-rendered at limited precision, so they are compared
// within the format's guaranteed digits rather than exactly.
func verifyOutput(want *porsav.File, outName string) error {
	got, err := readAny(outName)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if len(got.Variables) != len(want.Variables) {
		return fmt.Errorf("verify: %d variables became %d", len(want.Variables), len(got.Variables))
	}
	for i := range want.Variables {
		if got.Variables[i].Name != want.Variables[i].Name {
			return fmt.Errorf("verify: variable %d renamed %s to %s", i, want.Variables[i].Name, got.Variables[i].Name)
		}
	}
	if len(got.Cases) != len(want.Cases) {
		return fmt.Errorf("verify: %d cases became %d", len(want.Cases), len(got.Cases))
	}
	const tolerance = 1e-10
	for i, row := range want.Cases {
		for j, v := range row {
			g := got.Cases[i][j]
			if v.Kind == porsav.Numeric && g.Kind == porsav.Numeric {
				diff := v.Num - g.Num
				limit := tolerance * max(1, abs(v.Num))
				if diff < -limit || diff > limit {
					return fmt.Errorf("verify: case %d %s: %v became %v", i, want.Variables[j].Name, v.Num, g.Num)
				}
				continue
			}
			if !reflect.DeepEqual(v, g) {
				return fmt.Errorf("verify: case %d %s: %v became %v", i, want.Variables[j].Name, v, g)
			}
		}
	}
	slog.Debug("verified", "file", outName, "cases", len(got.Cases))
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
