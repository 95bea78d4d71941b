// coefctl round-trips coefficient and calibration CSV files: filter
// rows by column criteria, remap bank indices, and re-emit the result.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/closedloop-dsp/biostim/csvio"
	"github.com/closedloop-dsp/biostim/lut"
)

func main() {
	var kind = pflag.StringP("kind", "k", "biquad", "Table kind: biquad, fir, or lut.")
	var inPath = pflag.StringP("in", "i", "", "Input CSV path.")
	var outPath = pflag.StringP("out", "o", "", "Output CSV path. Defaults to stdout.")
	var matches = pflag.StringArrayP("match", "m", nil, "Row filter, column=value. Repeatable; values for the same column OR together.")
	var remaps = pflag.StringArrayP("remap", "r", nil, "Bank remap, old=new. Repeatable.")
	var inField = pflag.String("infield", "in", "LUT input column name.")
	var outField = pflag.String("outfield", "out", "LUT output column name.")
	var lutRows = pflag.Int("lut-rows", 256, "LUT row capacity when reading.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s --kind biquad|fir|lut --in FILE [options]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help || *inPath == "" {
		pflag.Usage()
		if *inPath == "" {
			os.Exit(1)
		}
		return
	}

	match, err := parseMatches(*matches)
	if err != nil {
		log.Fatal("bad --match", "err", err)
	}
	remap, err := parseRemaps(*remaps)
	if err != nil {
		log.Fatal("bad --remap", "err", err)
	}

	in, err := os.Open(*inPath)
	if err != nil {
		log.Fatal("opening input", "err", err)
	}
	defer in.Close()

	out := os.Stdout
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatal("creating output", "err", err)
		}
		defer out.Close()
	}

	switch *kind {
	case "biquad":
		rows, err := csvio.ReadBiquadCSV[int64](in, match, remap)
		if err != nil {
			log.Fatal("reading biquad table", "err", err)
		}
		if err := csvio.WriteBiquadCSV(out, rows, nil, true); err != nil {
			log.Fatal("writing biquad table", "err", err)
		}
		log.Info("rewrote biquad table", "rows", len(rows))

	case "fir":
		coeffs, err := csvio.ReadFIRCSV[int64](in, match, remap)
		if err != nil {
			log.Fatal("reading FIR table", "err", err)
		}
		if err := csvio.WriteFIRCSV(out, coeffs, nil, true); err != nil {
			log.Fatal("writing FIR table", "err", err)
		}
		log.Info("rewrote FIR table", "banks", len(coeffs))

	case "lut":
		table := lut.New[int64, int64](*lutRows)
		if err := csvio.ReadLUTCSV(in, table, *inField, *outField); err != nil {
			log.Fatal("reading LUT", "err", err)
		}
		if err := csvio.WriteLUTCSV(out, table, *inField, *outField); err != nil {
			log.Fatal("writing LUT", "err", err)
		}
		log.Info("rewrote LUT", "rows", table.RowsActive)

	default:
		log.Fatal("unknown --kind", "kind", *kind)
	}
}

func parseMatches(specs []string) (csvio.MatchCriteria, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	match := csvio.MatchCriteria{}
	for _, spec := range specs {
		col, val, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("expected column=value, got %q", spec)
		}
		match[col] = append(match[col], val)
	}
	return match, nil
}

func parseRemaps(specs []string) (map[int]int, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	remap := map[int]int{}
	for _, spec := range specs {
		oldS, newS, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("expected old=new, got %q", spec)
		}
		oldN, err := strconv.Atoi(oldS)
		if err != nil {
			return nil, fmt.Errorf("bad old bank %q: %w", oldS, err)
		}
		newN, err := strconv.Atoi(newS)
		if err != nil {
			return nil, fmt.Errorf("bad new bank %q: %w", newS, err)
		}
		remap[oldN] = newN
	}
	return remap, nil
}
