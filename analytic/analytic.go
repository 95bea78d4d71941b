// Package analytic implements the peak-trough-zero-crossing estimator:
// from a narrow-band input it tracks a magnitude envelope, the period
// between zero crossings, and the sample counts since the last rising
// and falling crossing. Callers derive frequency and phase from these
// primitives; the estimator itself exposes nothing derived.
package analytic

import (
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/numeric"
)

// Estimator tracks one (bank, channel) cell. MinZCGap defaults to the
// maximum of I, which suppresses all zero-crossing detection until
// SetMinPeriod is called.
type Estimator[S constraints.Integer, I constraints.Unsigned] struct {
	ZeroLevel S

	minZCGap   I
	maxMagSeen S
	lastMag    S
	sinceRise  I
	sinceFall  I
	lastPeriod I
}

// NewEstimator returns a quiescent estimator: zero level-shift, no
// crossings recorded, detection suppressed.
func NewEstimator[S constraints.Integer, I constraints.Unsigned]() *Estimator[S, I] {
	e := &Estimator[S, I]{}
	e.Reset()
	return e
}

// Reset restores the quiescent state. Configuration (ZeroLevel,
// MinZCGap) is also reset.
func (e *Estimator[S, I]) Reset() {
	e.ZeroLevel = 0
	e.minZCGap = numeric.MaxValue[I]()
	e.maxMagSeen = 0
	e.lastMag = 0
	e.sinceRise = 0
	e.sinceFall = 0
	e.lastPeriod = 0
}

// SetMinPeriod configures the shortest oscillation period the
// estimator will accept; crossings closer than half this gap to the
// previous opposite crossing are treated as noise and ignored.
func (e *Estimator[S, I]) SetMinPeriod(p I) {
	e.minZCGap = p >> 1
}

// MinZCGap returns the configured half-period noise gap.
func (e *Estimator[S, I]) MinZCGap() I { return e.minZCGap }

func satInc[I constraints.Unsigned](v I) I {
	if v == numeric.MaxValue[I]() {
		return v
	}
	return v + 1
}

// HandleSample advances the estimator by one tick.
func (e *Estimator[S, I]) HandleSample(sample S) {
	e.sinceRise = satInc(e.sinceRise)
	e.sinceFall = satInc(e.sinceFall)

	v := sample - e.ZeroLevel
	neg := numeric.IsNegative(v)
	mag := numeric.Abs(v)

	if mag > e.maxMagSeen {
		e.maxMagSeen = mag
	}

	if e.sinceRise > e.sinceFall {
		// Negative lobe; watch for the rising crossing.
		if !neg && e.sinceFall >= e.minZCGap {
			e.lastPeriod = (e.sinceRise - e.sinceFall) * 2
			e.lastMag = e.maxMagSeen
			e.maxMagSeen = mag
			e.sinceRise = 0
		}
	} else {
		// Positive lobe; watch for the falling crossing.
		if neg && e.sinceRise >= e.minZCGap {
			e.lastPeriod = (e.sinceFall - e.sinceRise) * 2
			e.lastMag = e.maxMagSeen
			e.maxMagSeen = mag
			e.sinceFall = 0
		}
	}
}

// GetEstimatedAnalytic returns the latest envelope magnitude, the
// period measured at the most recent accepted crossing, and the live
// samples-since-crossing counters.
func (e *Estimator[S, I]) GetEstimatedAnalytic() (magnitude S, period, sinceRise, sinceFall I) {
	return e.lastMag, e.lastPeriod, e.sinceRise, e.sinceFall
}

// Bank holds an independent Estimator per (bank, channel).
type Bank[S constraints.Integer, I constraints.Unsigned] struct {
	banksCount, chansCount   int
	cells                    [][]*Estimator[S, I]
	BanksActive, ChansActive int
}

// NewBank allocates banksCount*chansCount independent estimators.
func NewBank[S constraints.Integer, I constraints.Unsigned](banksCount, chansCount int) *Bank[S, I] {
	b := &Bank[S, I]{
		banksCount:  banksCount,
		chansCount:  chansCount,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	b.cells = make([][]*Estimator[S, I], banksCount)
	for bk := range b.cells {
		b.cells[bk] = make([]*Estimator[S, I], chansCount)
		for ch := range b.cells[bk] {
			b.cells[bk][ch] = NewEstimator[S, I]()
		}
	}
	return b
}

// HandleSamples advances every estimator in the active subrectangle by
// one tick using in (shape [B][C]).
func (b *Bank[S, I]) HandleSamples(in [][]S) {
	for bk := 0; bk < b.BanksActive && bk < b.banksCount; bk++ {
		for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
			b.cells[bk][ch].HandleSample(in[bk][ch])
		}
	}
}

// ResetState resets every estimator and restores the active geometry
// to the full compiled geometry.
func (b *Bank[S, I]) ResetState() {
	for bk := range b.cells {
		for ch := range b.cells[bk] {
			b.cells[bk][ch].Reset()
		}
	}
	b.BanksActive = b.banksCount
	b.ChansActive = b.chansCount
}

// SetMinPeriods configures each bank's minimum period from a [B][1]
// column slice; every channel of bank bk receives periods[bk][0].
func (b *Bank[S, I]) SetMinPeriods(periods [][]I) {
	for bk := 0; bk < b.banksCount && bk < len(periods); bk++ {
		for ch := 0; ch < b.chansCount; ch++ {
			b.cells[bk][ch].SetMinPeriod(periods[bk][0])
		}
	}
}

// SetOneMinPeriod configures one bank's minimum period for every
// channel. Out-of-range bank indices are silently ignored.
func (b *Bank[S, I]) SetOneMinPeriod(bank int, p I) {
	if bank < 0 || bank >= b.banksCount {
		return
	}
	for ch := 0; ch < b.chansCount; ch++ {
		b.cells[bank][ch].SetMinPeriod(p)
	}
}

// SetZeroLevels configures each cell's level shift from a [B][C]
// slice.
func (b *Bank[S, I]) SetZeroLevels(levels [][]S) {
	for bk := 0; bk < b.banksCount && bk < len(levels); bk++ {
		for ch := 0; ch < b.chansCount && ch < len(levels[bk]); ch++ {
			b.cells[bk][ch].ZeroLevel = levels[bk][ch]
		}
	}
}

// SetOneZeroLevel configures one cell's level shift. Out-of-range
// indices are silently ignored.
func (b *Bank[S, I]) SetOneZeroLevel(bank, ch int, level S) {
	if bank < 0 || bank >= b.banksCount || ch < 0 || ch >= b.chansCount {
		return
	}
	b.cells[bank][ch].ZeroLevel = level
}

// Cell returns the estimator at (bank, ch) for observation. Out-of-
// range indices return nil.
func (b *Bank[S, I]) Cell(bank, ch int) *Estimator[S, I] {
	if bank < 0 || bank >= b.banksCount || ch < 0 || ch >= b.chansCount {
		return nil
	}
	return b.cells[bank][ch]
}
