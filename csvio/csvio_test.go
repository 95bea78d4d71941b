package csvio_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closedloop-dsp/biostim/biquad"
	"github.com/closedloop-dsp/biostim/csvio"
	"github.com/closedloop-dsp/biostim/fir"
	"github.com/closedloop-dsp/biostim/lut"
)

func sampleBiquadRows() []csvio.BiquadRow[int32] {
	return []csvio.BiquadRow[int32]{
		{Bank: 0, Stage: 0, Coeffs: biquad.Coefficients[int32]{A0Bits: 3, A1: -10, A2: 4, B0: 1, B1: 2, B2: 1}},
		{Bank: 0, Stage: 1, Coeffs: biquad.Coefficients[int32]{A0Bits: 0, B0: 1}},
		{Bank: 1, Stage: 0, Coeffs: biquad.Coefficients[int32]{A0Bits: 5, A1: 7, A2: -7, B0: 3, B1: 0, B2: -3}},
	}
}

// Writing a coefficient table and reading it back reproduces it
// exactly, and rewriting the reread rows is byte-identical.
func TestBiquadRoundTrip(t *testing.T) {
	rows := sampleBiquadRows()

	var buf bytes.Buffer
	require.NoError(t, csvio.WriteBiquadCSV(&buf, rows, nil, true))
	first := buf.String()

	reread, err := csvio.ReadBiquadCSV[int32](strings.NewReader(first), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, rows, reread)

	var buf2 bytes.Buffer
	require.NoError(t, csvio.WriteBiquadCSV(&buf2, reread, nil, true))
	assert.Equal(t, first, buf2.String())
}

// Constant columns are emitted on every row and ignored on read.
func TestBiquadConstColumnsIgnoredOnRead(t *testing.T) {
	rows := sampleBiquadRows()

	var buf bytes.Buffer
	constCols := []csvio.ConstColumn{{Name: "rig", Value: "bench-3"}}
	require.NoError(t, csvio.WriteBiquadCSV(&buf, rows, constCols, true))

	reread, err := csvio.ReadBiquadCSV[int32](strings.NewReader(buf.String()), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, rows, reread)
}

// Match criteria keep only rows whose cells equal one of the accepted
// values per column; bank remapping applies after the filter.
func TestBiquadMatchAndRemap(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, csvio.WriteBiquadCSV(&buf, sampleBiquadRows(), nil, true))

	match := csvio.MatchCriteria{"bank": {"1"}}
	remap := map[int]int{1: 2}
	rows, err := csvio.ReadBiquadCSV[int32](strings.NewReader(buf.String()), match, remap)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Bank)
	assert.Equal(t, int32(3), rows[0].Coeffs.B0)
}

// A missing required column parses as zero for every row.
func TestBiquadMissingColumnParsesZero(t *testing.T) {
	csvText := "\"bank\",\"stage\",\"num0\",\"den0\"\n0,0,5,8\n"
	rows, err := csvio.ReadBiquadCSV[int32](strings.NewReader(csvText), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(5), rows[0].Coeffs.B0)
	assert.Equal(t, int32(0), rows[0].Coeffs.B1)
	assert.Equal(t, int32(0), rows[0].Coeffs.A1)
	assert.Equal(t, uint8(3), rows[0].Coeffs.A0Bits)
}

// The denominator exponent comes from shifting den0 down to one.
func TestDen0Exponent(t *testing.T) {
	for den0, want := range map[string]uint8{"1": 0, "2": 1, "8": 3, "1024": 10, "": 0} {
		csvText := "bank,stage,num0,num1,num2,den0,den1,den2\n0,0,1,0,0," + den0 + ",0,0\n"
		rows, err := csvio.ReadBiquadCSV[int32](strings.NewReader(csvText), nil, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, want, rows[0].Coeffs.A0Bits, "den0=%q", den0)
	}
}

// LoadBiquads pushes every accepted row through the filter bank's
// setter, reaching every channel of the named bank.
func TestLoadBiquadsConfiguresBank(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, csvio.WriteBiquadCSV(&buf, sampleBiquadRows(), nil, true))

	bank := biquad.NewBank[int32](2, 3, 2)
	require.NoError(t, csvio.LoadBiquads(strings.NewReader(buf.String()), bank, nil, nil))

	assert.Equal(t, int32(1), bank.Coeff(0, 0).B0)
	assert.Equal(t, uint8(5), bank.Coeff(1, 0).A0Bits)

	reread := csvio.DumpBiquads(bank)
	assert.Len(t, reread, 4)
}

// FIR tables round-trip per bank column.
func TestFIRRoundTrip(t *testing.T) {
	coeffs := map[int][]int32{
		0: {1, 2, 3, 2, 1},
		1: {-5, 0, 5, 0, -5},
	}

	var buf bytes.Buffer
	require.NoError(t, csvio.WriteFIRCSV(&buf, coeffs, nil, true))

	reread, err := csvio.ReadFIRCSV[int32](strings.NewReader(buf.String()), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, coeffs, reread)
}

// LoadFIR applies taps and geometry; zero matching rows still force
// the fractional shift and leave a zero-output filter.
func TestLoadFIRZeroRowsForcesFracBits(t *testing.T) {
	csvText := "\"kind\",\"bank 0\"\nlowpass,7\nlowpass,9\n"

	bank := fir.NewBank[int32](1, 1, 8, 16)
	match := csvio.MatchCriteria{"kind": {"highpass"}}
	require.NoError(t, csvio.LoadFIR(strings.NewReader(csvText), bank, 6, match, nil))

	f := bank.Filter(0)
	assert.Equal(t, 0, f.CoeffCount)
	assert.Equal(t, uint8(6), f.FracBits)

	require.NoError(t, csvio.LoadFIR(strings.NewReader(csvText), bank,
		6, csvio.MatchCriteria{"kind": {"lowpass"}}, nil))
	f = bank.Filter(0)
	assert.Equal(t, 2, f.CoeffCount)
	assert.Equal(t, int32(7), f.Coeffs[0])
	assert.Equal(t, int32(9), f.Coeffs[1])
}

// FIR bank remapping renames the column's bank index on read.
func TestFIRBankRemap(t *testing.T) {
	csvText := "bank 0\n4\n5\n"
	reread, err := csvio.ReadFIRCSV[int32](strings.NewReader(csvText), nil, map[int]int{0: 3})
	require.NoError(t, err)
	assert.Equal(t, map[int][]int32{3: {4, 5}}, reread)
}

// Lookup tables round-trip for the active rows.
func TestLUTRoundTrip(t *testing.T) {
	table := lut.New[uint32, uint32](8)
	table.SetEntry(0, 100, 7)
	table.SetEntry(1, 80, 9)
	table.SetEntry(2, 60, 12)

	var buf bytes.Buffer
	require.NoError(t, csvio.WriteLUTCSV(&buf, table, "period", "delay"))

	reread := lut.New[uint32, uint32](8)
	require.NoError(t, csvio.ReadLUTCSV(strings.NewReader(buf.String()), reread, "period", "delay"))
	assert.Equal(t, table.RowsActive, reread.RowsActive)
	assert.Equal(t, table.Input[:3], reread.Input[:3])
	assert.Equal(t, table.Output[:3], reread.Output[:3])
}

// Reading merges: rows absent from the file keep their previous
// contents.
func TestLUTReadMerges(t *testing.T) {
	table := lut.New[uint32, uint32](8)
	table.SetEntry(0, 1, 10)
	table.SetEntry(1, 2, 20)

	csvText := "row,period,delay\n1,5,50\n"
	require.NoError(t, csvio.ReadLUTCSV(strings.NewReader(csvText), table, "period", "delay"))

	assert.Equal(t, uint32(1), table.Input[0])
	assert.Equal(t, uint32(10), table.Output[0])
	assert.Equal(t, uint32(5), table.Input[1])
	assert.Equal(t, uint32(50), table.Output[1])
}

// The per-bank variant routes rows by the bank column and round-trips
// every active row of every bank.
func TestBankLUTRoundTrip(t *testing.T) {
	bt := lut.NewBankTable[uint32, uint32](2, 4)
	bt.SetOneEntry(0, 0, 40, 3)
	bt.SetOneEntry(1, 0, 50, 4)
	bt.SetOneEntry(1, 1, 25, 8)

	var buf bytes.Buffer
	require.NoError(t, csvio.WriteBankLUTCSV(&buf, bt, "period", "delay"))

	reread := lut.NewBankTable[uint32, uint32](2, 4)
	require.NoError(t, csvio.ReadBankLUTCSV(strings.NewReader(buf.String()), reread, "period", "delay"))
	assert.Equal(t, bt.Banks[0].Input[:1], reread.Banks[0].Input[:1])
	assert.Equal(t, bt.Banks[1].Output[:2], reread.Banks[1].Output[:2])
	assert.Equal(t, 2, reread.Banks[1].RowsActive)
}
