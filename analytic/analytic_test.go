package analytic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/closedloop-dsp/biostim/analytic"
)

// squareWave returns tick t of a wave of the given amplitude and
// period, high for the first half of each cycle.
func squareWave(t, period int, amplitude int32) int32 {
	if t%period < period/2 {
		return amplitude
	}
	return -amplitude
}

// With no minimum period configured, crossing detection stays
// suppressed: neither the period nor the magnitude ever updates,
// whatever the input does.
func TestDefaultGapSuppressesDetection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := analytic.NewEstimator[int32, uint32]()
		ticks := rapid.IntRange(1, 200).Draw(t, "ticks")
		for i := 0; i < ticks; i++ {
			e.HandleSample(rapid.Int32().Draw(t, "sample"))
		}
		mag, period, _, _ := e.GetEstimatedAnalytic()
		assert.Equal(t, int32(0), mag)
		assert.Equal(t, uint32(0), period)
	})
}

// A clean square wave of period 40 settles to that period and reports
// the full amplitude as the envelope once a complete cycle has been
// bracketed by crossings.
func TestSquareWavePeriodAndMagnitude(t *testing.T) {
	e := analytic.NewEstimator[int32, uint32]()
	e.SetMinPeriod(20)

	const period = 40
	const amplitude = int32(1000)

	for tick := 0; tick < 3*period; tick++ {
		e.HandleSample(squareWave(tick, period, amplitude))
	}

	mag, p, sinceRise, sinceFall := e.GetEstimatedAnalytic()
	assert.Equal(t, amplitude, mag)
	assert.Equal(t, uint32(period), p)
	assert.LessOrEqual(t, sinceRise, uint32(period+1))
	assert.LessOrEqual(t, sinceFall, uint32(period+1))
}

// Crossings closer to the previous opposite crossing than half the
// configured minimum period are rejected as noise.
func TestShortGlitchRejected(t *testing.T) {
	e := analytic.NewEstimator[int32, uint32]()
	e.SetMinPeriod(20)

	// A few samples each way, all well inside the configured gap: no
	// crossing may be accepted.
	for i := 0; i < 4; i++ {
		e.HandleSample(100)
	}
	for i := 0; i < 4; i++ {
		e.HandleSample(-100)
	}
	e.HandleSample(100)

	_, p, _, _ := e.GetEstimatedAnalytic()
	assert.Equal(t, uint32(0), p)
}

// The level shift recenters detection: a wave riding on a DC offset
// crosses at the configured zero level, not at numeric zero.
func TestZeroLevelShiftsCrossingPoint(t *testing.T) {
	e := analytic.NewEstimator[int32, uint32]()
	e.SetMinPeriod(20)
	e.ZeroLevel = 500

	const period = 40
	for tick := 0; tick < 3*period; tick++ {
		e.HandleSample(500 + squareWave(tick, period, 300))
	}
	mag, p, _, _ := e.GetEstimatedAnalytic()
	assert.Equal(t, int32(300), mag)
	assert.Equal(t, uint32(period), p)
}

// Unsigned storage carries the same signed semantics: a square wave
// written as two's-complement uint32 values measures identically.
func TestUnsignedStorageSignedSemantics(t *testing.T) {
	e := analytic.NewEstimator[uint32, uint32]()
	e.SetMinPeriod(20)

	const period = 40
	for tick := 0; tick < 3*period; tick++ {
		e.HandleSample(uint32(squareWave(tick, period, 1000)))
	}
	mag, p, _, _ := e.GetEstimatedAnalytic()
	assert.Equal(t, uint32(1000), mag)
	assert.Equal(t, uint32(period), p)
}

// The counters saturate at the top of the index type instead of
// wrapping back to zero.
func TestCountersSaturate(t *testing.T) {
	e := analytic.NewEstimator[int32, uint8]()
	for i := 0; i < 300; i++ {
		e.HandleSample(0)
	}
	_, _, sinceRise, sinceFall := e.GetEstimatedAnalytic()
	assert.Equal(t, uint8(255), sinceRise)
	assert.Equal(t, uint8(255), sinceFall)
}

// Bank configuration fan-out: per-bank minimum periods, per-cell zero
// levels, and ResetState restoring the full geometry.
func TestBankFanOut(t *testing.T) {
	b := analytic.NewBank[int32, uint32](2, 3)

	b.SetMinPeriods([][]uint32{{8}, {40}})
	assert.Equal(t, uint32(4), b.Cell(0, 2).MinZCGap())
	assert.Equal(t, uint32(20), b.Cell(1, 0).MinZCGap())

	b.SetOneZeroLevel(1, 1, 77)
	assert.Equal(t, int32(77), b.Cell(1, 1).ZeroLevel)
	assert.Equal(t, int32(0), b.Cell(1, 0).ZeroLevel)

	b.BanksActive = 1
	b.ChansActive = 1
	b.ResetState()
	assert.Equal(t, 2, b.BanksActive)
	assert.Equal(t, 3, b.ChansActive)
	assert.Equal(t, int32(0), b.Cell(1, 1).ZeroLevel)

	assert.Nil(t, b.Cell(5, 0))
}

// Only the active subrectangle advances.
func TestBankActiveSubrectangle(t *testing.T) {
	b := analytic.NewBank[int32, uint32](2, 2)
	b.BanksActive = 1

	in := [][]int32{{5, 5}, {5, 5}}
	for i := 0; i < 10; i++ {
		b.HandleSamples(in)
	}
	_, _, sinceRise, _ := b.Cell(0, 0).GetEstimatedAnalytic()
	assert.Equal(t, uint32(10), sinceRise)
	_, _, sinceRise, _ = b.Cell(1, 0).GetEstimatedAnalytic()
	assert.Equal(t, uint32(0), sinceRise)
}
