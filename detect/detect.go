// Package detect implements the envelope smoothing and burst-detection
// stages: a first-order exponential averager, stateless and hysteresis
// threshold tests, and an edge de-glitcher that debounces the detect
// flag before it reaches the trigger stage.
package detect

import (
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/numeric"
)

// Averager is a first-order exponential smoother. Each tick the
// running sum leaks by avg = sum >> AvgBits and absorbs the new
// sample; the reported value is (avg * Coeff) >> coeffBits. Headroom
// of at least max(AvgBits, coeffBits) bits in S is the caller's
// responsibility.
type Averager[S constraints.Integer] struct {
	coeffBits uint8

	runningSum S
	Coeff      S
	AvgBits    uint8
}

// NewAverager builds an averager with the given fixed coefficient
// shift. Coeff starts at 1<<coeffBits (unity gain) and AvgBits at 0
// (no smoothing) until configured.
func NewAverager[S constraints.Integer](coeffBits uint8) *Averager[S] {
	return &Averager[S]{
		coeffBits: coeffBits,
		Coeff:     S(1) << coeffBits,
	}
}

// InitAverage presets the running sum so the smoother starts already
// settled at in instead of climbing from zero over ~2^AvgBits samples.
func (a *Averager[S]) InitAverage(in S) {
	a.runningSum = in << a.AvgBits
}

// Tick advances the averager by one sample and returns the scaled
// average.
func (a *Averager[S]) Tick(in S) S {
	avg := numeric.ShiftRight(a.runningSum, int(a.AvgBits))
	a.runningSum = a.runningSum - avg + in
	return numeric.ShiftRight(avg*a.Coeff, int(a.coeffBits))
}

// AveragerBank holds an independent Averager per (bank, channel).
type AveragerBank[S constraints.Integer] struct {
	banksCount, chansCount   int
	cells                    [][]*Averager[S]
	BanksActive, ChansActive int
}

// NewAveragerBank allocates banksCount*chansCount averagers sharing
// one coefficient shift.
func NewAveragerBank[S constraints.Integer](banksCount, chansCount int, coeffBits uint8) *AveragerBank[S] {
	b := &AveragerBank[S]{
		banksCount:  banksCount,
		chansCount:  chansCount,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	b.cells = make([][]*Averager[S], banksCount)
	for bk := range b.cells {
		b.cells[bk] = make([]*Averager[S], chansCount)
		for ch := range b.cells[bk] {
			b.cells[bk][ch] = NewAverager[S](coeffBits)
		}
	}
	return b
}

// SetSmoothing configures every cell's Coeff and AvgBits.
func (b *AveragerBank[S]) SetSmoothing(coeff S, avgBits uint8) {
	for bk := range b.cells {
		for ch := range b.cells[bk] {
			b.cells[bk][ch].Coeff = coeff
			b.cells[bk][ch].AvgBits = avgBits
		}
	}
}

// Tick advances every active cell, reading in and writing out, both
// shape [B][C].
func (b *AveragerBank[S]) Tick(in [][]S, out [][]S) {
	for bk := 0; bk < b.BanksActive && bk < b.banksCount; bk++ {
		for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
			out[bk][ch] = b.cells[bk][ch].Tick(in[bk][ch])
		}
	}
}

// Cell returns the averager at (bank, ch), or nil out of range.
func (b *AveragerBank[S]) Cell(bank, ch int) *Averager[S] {
	if bank < 0 || bank >= b.banksCount || ch < 0 || ch >= b.chansCount {
		return nil
	}
	return b.cells[bank][ch]
}

// SingleThreshold writes out[b][c] = in[b][c] >= thresholds[b][c] for
// the given active subrectangle. Stateless.
func SingleThreshold[S constraints.Ordered](in [][]S, thresholds [][]S, out [][]bool, banksActive, chansActive int) {
	for b := 0; b < banksActive; b++ {
		for c := 0; c < chansActive; c++ {
			out[b][c] = in[b][c] >= thresholds[b][c]
		}
	}
}

// DualThreshold is the hysteresis detector: a cell turns on when its
// activate flag fires and stays on for as long as its sustain flag
// holds.
type DualThreshold struct {
	banksCount, chansCount   int
	prevState                [][]bool
	BanksActive, ChansActive int
}

// NewDualThreshold allocates the detector with all cells off.
func NewDualThreshold(banksCount, chansCount int) *DualThreshold {
	d := &DualThreshold{
		banksCount:  banksCount,
		chansCount:  chansCount,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	d.prevState = make([][]bool, banksCount)
	for b := range d.prevState {
		d.prevState[b] = make([]bool, chansCount)
	}
	return d
}

// ResetState turns every cell off.
func (d *DualThreshold) ResetState() {
	for b := range d.prevState {
		for c := range d.prevState[b] {
			d.prevState[b][c] = false
		}
	}
}

// Tick computes out = activate || (prev && sustain) cell-wise over the
// active subrectangle and records the result as the new prev state.
func (d *DualThreshold) Tick(activate, sustain [][]bool, out [][]bool) {
	for b := 0; b < d.BanksActive && b < d.banksCount; b++ {
		for c := 0; c < d.ChansActive && c < d.chansCount; c++ {
			v := activate[b][c] || (d.prevState[b][c] && sustain[b][c])
			d.prevState[b][c] = v
			out[b][c] = v
		}
	}
}

type deglitchCell[I constraints.Unsigned] struct {
	riseDelay, fallDelay         I
	riseCountdown, fallCountdown I
	lastOutput                   bool
}

func (g *deglitchCell[I]) setDelays(rise, fall I) {
	g.riseDelay = rise
	g.fallDelay = fall
	g.riseCountdown = rise
	g.fallCountdown = fall
	g.lastOutput = false
}

func (g *deglitchCell[I]) tick(in bool) bool {
	if g.lastOutput {
		if in {
			g.fallCountdown = g.fallDelay
		} else if g.fallCountdown == 0 {
			g.lastOutput = false
			g.riseCountdown = g.riseDelay
		} else {
			g.fallCountdown--
		}
	} else {
		if !in {
			g.riseCountdown = g.riseDelay
		} else if g.riseCountdown == 0 {
			g.lastOutput = true
			g.fallCountdown = g.fallDelay
		} else {
			g.riseCountdown--
		}
	}
	return g.lastOutput
}

// DeglitchBank debounces a [B][C] boolean slice: a cell's output only
// rises after riseDelay consecutive true inputs and only falls after
// fallDelay consecutive false inputs; any opposite sample reloads the
// countdown.
type DeglitchBank[I constraints.Unsigned] struct {
	banksCount, chansCount   int
	cells                    [][]deglitchCell[I]
	BanksActive, ChansActive int
}

// NewDeglitchBank allocates the bank with zero delays (every sample
// passes straight through) and all outputs off.
func NewDeglitchBank[I constraints.Unsigned](banksCount, chansCount int) *DeglitchBank[I] {
	d := &DeglitchBank[I]{
		banksCount:  banksCount,
		chansCount:  chansCount,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	d.cells = make([][]deglitchCell[I], banksCount)
	for b := range d.cells {
		d.cells[b] = make([]deglitchCell[I], chansCount)
	}
	return d
}

// SetDelays configures every cell's rise and fall delays, reloading
// both countdowns and forcing every output off.
func (d *DeglitchBank[I]) SetDelays(rise, fall I) {
	for b := range d.cells {
		for c := range d.cells[b] {
			d.cells[b][c].setDelays(rise, fall)
		}
	}
}

// Tick advances every active cell by one input sample.
func (d *DeglitchBank[I]) Tick(in [][]bool, out [][]bool) {
	for b := 0; b < d.BanksActive && b < d.banksCount; b++ {
		for c := 0; c < d.ChansActive && c < d.chansCount; c++ {
			out[b][c] = d.cells[b][c].tick(in[b][c])
		}
	}
}
