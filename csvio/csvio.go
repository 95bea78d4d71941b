// Package csvio is the coefficient and calibration-table collaborator:
// it round-trips biquad, FIR, and lookup-table configuration through
// CSV files and applies the result to the streaming modules through
// their setter contracts. Nothing here runs on the hot path; readers
// and writers are free to allocate, log, and return errors.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/biquad"
	"github.com/closedloop-dsp/biostim/fir"
	"github.com/closedloop-dsp/biostim/lut"
	"github.com/closedloop-dsp/biostim/numeric"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "csvio"})

// MatchCriteria selects which rows of a CSV to accept: a row passes if
// for every column named here, at least one of the associated values
// equals that row's cell. An empty criteria accepts every row.
type MatchCriteria map[string][]string

func (m MatchCriteria) accepts(header []string, row []string) bool {
	for col, wanted := range m {
		idx := indexOf(header, col)
		cell := ""
		if idx >= 0 && idx < len(row) {
			cell = row[idx]
		}
		ok := false
		for _, w := range wanted {
			if cell == w {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

// cellOf returns the row's value for the named column, or "" when the
// column is absent. A missing required column therefore parses as 0.
func cellOf(header, row []string, name string) string {
	idx := indexOf(header, name)
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// parseSample parses a decimal cell into S. The empty string parses as
// zero. Malformed cells also parse as zero, with a warning.
func parseSample[S constraints.Integer](cell string) S {
	if cell == "" {
		return 0
	}
	if numeric.IsSigned[S]() {
		v, err := strconv.ParseInt(cell, 10, numeric.BitWidth[S]())
		if err != nil {
			logger.Warn("unparseable signed cell, using 0", "cell", cell)
			return 0
		}
		return S(v)
	}
	v, err := strconv.ParseUint(cell, 10, numeric.BitWidth[S]())
	if err != nil {
		logger.Warn("unparseable unsigned cell, using 0", "cell", cell)
		return 0
	}
	return S(v)
}

func parseIndex(cell string) int {
	if cell == "" {
		return 0
	}
	v, err := strconv.Atoi(cell)
	if err != nil {
		return 0
	}
	return v
}

func formatSample[S constraints.Integer](v S) string {
	if numeric.IsSigned[S]() {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatUint(uint64(v), 10)
}

// writeQuotedHeader emits a header row with every column name quoted,
// which encoding/csv leaves alone on read but would not produce
// itself.
func writeQuotedHeader(w io.Writer, cols []string) error {
	for i, col := range cols {
		sep := ","
		if i == 0 {
			sep = ""
		}
		if _, err := fmt.Fprintf(w, "%s%q", sep, col); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// BiquadRow is one CSV row of a biquad coefficient table.
type BiquadRow[S constraints.Integer] struct {
	Bank, Stage int
	Coeffs      biquad.Coefficients[S]
}

// ConstColumn is an extra column a writer prepends with the same value
// in every row. Readers ignore columns they do not recognize, so these
// are free-form annotations (rig name, sample rate, operator).
type ConstColumn struct {
	Name  string
	Value string
}

var biquadColumns = []string{"bank", "stage", "num0", "num1", "num2", "den0", "den1", "den2"}

// den0Bits derives the bit exponent of the leading denominator
// coefficient by shifting right until the value reaches 1. The parse
// deliberately passes through a signed 64-bit intermediate; a sample
// type as wide as uint64 loses its top bit here. Callers needing the
// full unsigned range must restrict S or pre-scale their tables.
func den0Bits(cell string) uint8 {
	v, err := strconv.ParseInt(cell, 10, 64)
	if err != nil {
		v = 0
	}
	var bits uint8
	for v > 1 {
		v >>= 1
		bits++
	}
	return bits
}

// ReadBiquadCSV parses a biquad coefficient table. Rows failing match
// are skipped; bankRemap (old to new) is applied after reading. Extra
// columns are ignored. Missing required columns parse as zero.
func ReadBiquadCSV[S constraints.Integer](r io.Reader, match MatchCriteria, bankRemap map[int]int) ([]BiquadRow[S], error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading biquad CSV header: %w", err)
	}

	var rows []BiquadRow[S]
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading biquad CSV row: %w", err)
		}
		if !match.accepts(header, rec) {
			continue
		}
		bank := parseIndex(cellOf(header, rec, "bank"))
		if mapped, ok := bankRemap[bank]; ok {
			bank = mapped
		}
		rows = append(rows, BiquadRow[S]{
			Bank:  bank,
			Stage: parseIndex(cellOf(header, rec, "stage")),
			Coeffs: biquad.Coefficients[S]{
				A0Bits: den0Bits(cellOf(header, rec, "den0")),
				A1:     parseSample[S](cellOf(header, rec, "den1")),
				A2:     parseSample[S](cellOf(header, rec, "den2")),
				B0:     parseSample[S](cellOf(header, rec, "num0")),
				B1:     parseSample[S](cellOf(header, rec, "num1")),
				B2:     parseSample[S](cellOf(header, rec, "num2")),
			},
		})
	}
	return rows, nil
}

// WriteBiquadCSV emits the rows with the standard column set, after
// any caller-supplied constant columns. With wantHeader false only the
// data rows are emitted, for appending to an existing file.
func WriteBiquadCSV[S constraints.Integer](w io.Writer, rows []BiquadRow[S], constCols []ConstColumn, wantHeader bool) error {
	if wantHeader {
		header := make([]string, 0, len(constCols)+len(biquadColumns))
		for _, cc := range constCols {
			header = append(header, cc.Name)
		}
		header = append(header, biquadColumns...)
		if err := writeQuotedHeader(w, header); err != nil {
			return fmt.Errorf("writing biquad CSV header: %w", err)
		}
	}
	cw := csv.NewWriter(w)
	for _, row := range rows {
		rec := make([]string, 0, len(constCols)+len(biquadColumns))
		for _, cc := range constCols {
			rec = append(rec, cc.Value)
		}
		rec = append(rec,
			strconv.Itoa(row.Bank),
			strconv.Itoa(row.Stage),
			formatSample(row.Coeffs.B0),
			formatSample(row.Coeffs.B1),
			formatSample(row.Coeffs.B2),
			formatSample(S(1)<<row.Coeffs.A0Bits),
			formatSample(row.Coeffs.A1),
			formatSample(row.Coeffs.A2),
		)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing biquad CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadBiquads reads a coefficient table and applies every accepted row
// to the filter bank through SetCoefficients.
func LoadBiquads[S constraints.Integer](r io.Reader, bank *biquad.Bank[S], match MatchCriteria, bankRemap map[int]int) error {
	rows, err := ReadBiquadCSV[S](r, match, bankRemap)
	if err != nil {
		return err
	}
	for _, row := range rows {
		bank.SetCoefficients(row.Stage, row.Bank, row.Coeffs)
	}
	logger.Info("loaded biquad coefficients", "rows", len(rows))
	return nil
}

// DumpBiquads collects every (bank, stage) coefficient record of the
// filter bank into CSV rows, in bank-major order.
func DumpBiquads[S constraints.Integer](bank *biquad.Bank[S]) []BiquadRow[S] {
	var rows []BiquadRow[S]
	for bk := 0; bk < bank.BankCount(); bk++ {
		for st := 0; st < bank.StageCount(); st++ {
			rows = append(rows, BiquadRow[S]{Bank: bk, Stage: st, Coeffs: bank.Coeff(bk, st)})
		}
	}
	return rows
}

// ReadFIRCSV parses a FIR coefficient table: one column per bank named
// "bank N", rows holding coefficient samples in order. Rows failing
// match are skipped entirely (across all banks); bankRemap renames the
// column's bank index after reading. Empty trailing cells in a column
// are kept as zeros, mirroring the missing-column rule.
func ReadFIRCSV[S constraints.Integer](r io.Reader, match MatchCriteria, bankRemap map[int]int) (map[int][]S, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading FIR CSV header: %w", err)
	}

	bankCols := map[int]int{}
	for i, h := range header {
		var n int
		if _, err := fmt.Sscanf(h, "bank %d", &n); err == nil {
			if mapped, ok := bankRemap[n]; ok {
				n = mapped
			}
			bankCols[n] = i
		}
	}

	// Every bank column yields an entry even when no row matches, so
	// the caller still applies geometry (and forces the fractional
	// shift) for a zero-tap filter.
	coeffs := map[int][]S{}
	for bank := range bankCols {
		coeffs[bank] = []S{}
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading FIR CSV row: %w", err)
		}
		if !match.accepts(header, rec) {
			continue
		}
		for bank, col := range bankCols {
			cell := ""
			if col < len(rec) {
				cell = rec[col]
			}
			coeffs[bank] = append(coeffs[bank], parseSample[S](cell))
		}
	}
	return coeffs, nil
}

// WriteFIRCSV emits one "bank N" column per entry of coeffs, padding
// shorter banks with empty cells. The fractional shift is not
// persisted; callers track it alongside the file.
func WriteFIRCSV[S constraints.Integer](w io.Writer, coeffs map[int][]S, constCols []ConstColumn, wantHeader bool) error {
	banks := make([]int, 0, len(coeffs))
	maxRows := 0
	for bank, taps := range coeffs {
		banks = append(banks, bank)
		if len(taps) > maxRows {
			maxRows = len(taps)
		}
	}
	slices.Sort(banks)

	if wantHeader {
		header := make([]string, 0, len(constCols)+len(banks))
		for _, cc := range constCols {
			header = append(header, cc.Name)
		}
		for _, bank := range banks {
			header = append(header, fmt.Sprintf("bank %d", bank))
		}
		if err := writeQuotedHeader(w, header); err != nil {
			return fmt.Errorf("writing FIR CSV header: %w", err)
		}
	}
	cw := csv.NewWriter(w)
	for row := 0; row < maxRows; row++ {
		rec := make([]string, 0, len(constCols)+len(banks))
		for _, cc := range constCols {
			rec = append(rec, cc.Value)
		}
		for _, bank := range banks {
			taps := coeffs[bank]
			if row < len(taps) {
				rec = append(rec, formatSample(taps[row]))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing FIR CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadFIR reads a FIR table and applies it to the filter bank: every
// tap through SetOneCoefficient, then the geometry through
// SetOneGeometry with the matched row count as the tap count. Zero
// matching rows still force fracBits and yield a zero-output filter.
func LoadFIR[S constraints.Integer](r io.Reader, bank *fir.Bank[S], fracBits uint8, match MatchCriteria, bankRemap map[int]int) error {
	coeffs, err := ReadFIRCSV[S](r, match, bankRemap)
	if err != nil {
		return err
	}
	for bk := 0; bk < bank.BankCount(); bk++ {
		taps, ok := coeffs[bk]
		if !ok {
			continue
		}
		for i, tap := range taps {
			bank.SetOneCoefficient(bk, i, tap)
		}
		bank.SetOneGeometry(bk, fracBits, len(taps))
	}
	logger.Info("loaded FIR coefficients", "banks", len(coeffs))
	return nil
}

// ReadLUTCSV merges a lookup-table CSV into t: each data row writes
// the row index named by the "row" column through SetEntry, so rows
// absent from the file keep their previous contents. The input and
// output column names are caller-chosen.
func ReadLUTCSV[In, Out constraints.Integer](r io.Reader, t *lut.Table[In, Out], inField, outField string) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("reading LUT CSV header: %w", err)
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading LUT CSV row: %w", err)
		}
		row := parseIndex(cellOf(header, rec, "row"))
		t.SetEntry(row, parseSample[In](cellOf(header, rec, inField)), parseSample[Out](cellOf(header, rec, outField)))
	}
	return nil
}

// WriteLUTCSV emits every active row of t with the caller-chosen input
// and output column names.
func WriteLUTCSV[In, Out constraints.Integer](w io.Writer, t *lut.Table[In, Out], inField, outField string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row", inField, outField}); err != nil {
		return fmt.Errorf("writing LUT CSV header: %w", err)
	}
	for r := 0; r < t.RowsActive; r++ {
		rec := []string{strconv.Itoa(r), formatSample(t.Input[r]), formatSample(t.Output[r])}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing LUT CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadBankLUTCSV is the per-bank variant: an extra "bank" column
// routes each row to one bank's table through SetOneEntry. Out-of-
// range bank or row indices are silently ignored, matching the
// setter's contract.
func ReadBankLUTCSV[In, Out constraints.Integer](r io.Reader, bt *lut.BankTable[In, Out], inField, outField string) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("reading bank LUT CSV header: %w", err)
	}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading bank LUT CSV row: %w", err)
		}
		bank := parseIndex(cellOf(header, rec, "bank"))
		row := parseIndex(cellOf(header, rec, "row"))
		bt.SetOneEntry(bank, row, parseSample[In](cellOf(header, rec, inField)), parseSample[Out](cellOf(header, rec, outField)))
	}
	return nil
}

// WriteBankLUTCSV emits every active row of every bank's table.
func WriteBankLUTCSV[In, Out constraints.Integer](w io.Writer, bt *lut.BankTable[In, Out], inField, outField string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bank", "row", inField, outField}); err != nil {
		return fmt.Errorf("writing bank LUT CSV header: %w", err)
	}
	for b, t := range bt.Banks {
		for r := 0; r < t.RowsActive; r++ {
			rec := []string{strconv.Itoa(b), strconv.Itoa(r), formatSample(t.Input[r]), formatSample(t.Output[r])}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("writing bank LUT CSV row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
