// Package lut implements the stepwise monotonic lookup table used for
// delay/phase calibration: a caller-populated, caller-guaranteed-
// monotonic table of (input, output) pairs, scanned in constant time
// per lookup so timing never depends on data.
package lut

import "golang.org/x/exp/constraints"

// Table holds rowcount (input, output) pairs of type In/Out, with
// RowsActive <= len(Input) tracking how many rows are populated.
// Monotonicity of Input over [0, RowsActive) is the caller's
// responsibility; the table never validates it.
type Table[In, Out any] struct {
	Input      []In
	Output     []Out
	RowsActive int
}

// New allocates a Table with the given row capacity. All rows start
// inactive (RowsActive == 0).
func New[In, Out any](rowCount int) *Table[In, Out] {
	return &Table[In, Out]{
		Input:  make([]In, rowCount),
		Output: make([]Out, rowCount),
	}
}

// SetEntry writes row r's (input, output) pair and, if r is beyond the
// currently active range, extends RowsActive to include it. Out-of-
// bounds r is silently ignored.
func (t *Table[In, Out]) SetEntry(r int, in In, out Out) {
	if r < 0 || r >= len(t.Input) {
		return
	}
	t.Input[r] = in
	t.Output[r] = out
	if r >= t.RowsActive {
		t.RowsActive = r + 1
	}
}

// LookupLE scans a descending table r = RowsActive-1 .. 0, returning
// the output of the last row (in scan order) whose input <= v, i.e.
// the smallest-indexed row satisfying the condition. The scan always
// visits every active row so lookup time is independent of the data.
// Returns the zero Out if no row matches.
func LookupLE[In, Out constraints.Integer](t *Table[In, Out], v In) Out {
	var outval Out
	for r := t.RowsActive - 1; r >= 0; r-- {
		if t.Input[r] <= v {
			outval = t.Output[r]
		}
	}
	return outval
}

// LookupGE is the ascending-table analogue of LookupLE, using >=.
func LookupGE[In, Out constraints.Integer](t *Table[In, Out], v In) Out {
	var outval Out
	for r := t.RowsActive - 1; r >= 0; r-- {
		if t.Input[r] >= v {
			outval = t.Output[r]
		}
	}
	return outval
}

// BankTable holds one Table per bank, for the per-bank LUT variant
// used to apply bank-specific delay/phase calibration to every
// channel of a slice row.
type BankTable[In, Out constraints.Integer] struct {
	Banks []*Table[In, Out]
}

// NewBankTable allocates bankCount independent Tables, each with
// rowCount row capacity.
func NewBankTable[In, Out constraints.Integer](bankCount, rowCount int) *BankTable[In, Out] {
	banks := make([]*Table[In, Out], bankCount)
	for b := range banks {
		banks[b] = New[In, Out](rowCount)
	}
	return &BankTable[In, Out]{Banks: banks}
}

// SetOneEntry writes one row of one bank's table. Out-of-range bank
// or row indices are silently ignored.
func (bt *BankTable[In, Out]) SetOneEntry(bank, row int, in In, out Out) {
	if bank < 0 || bank >= len(bt.Banks) {
		return
	}
	bt.Banks[bank].SetEntry(row, in, out)
}

// LookupAllLE applies bank b's table to in[b][c] for every active
// channel of every active bank, writing into out[b][c]. Out-of-range
// bank indices in in/out beyond len(Banks) are left untouched.
func (bt *BankTable[In, Out]) LookupAllLE(in [][]In, out [][]Out, banksActive, chansActive int) {
	for b := 0; b < banksActive && b < len(bt.Banks); b++ {
		for c := 0; c < chansActive; c++ {
			out[b][c] = LookupLE(bt.Banks[b], in[b][c])
		}
	}
}

// LookupAllGE is the ascending-table analogue of LookupAllLE.
func (bt *BankTable[In, Out]) LookupAllGE(in [][]In, out [][]Out, banksActive, chansActive int) {
	for b := 0; b < banksActive && b < len(bt.Banks); b++ {
		for c := 0; c < chansActive; c++ {
			out[b][c] = LookupGE(bt.Banks[b], in[b][c])
		}
	}
}
