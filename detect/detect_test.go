package detect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/closedloop-dsp/biostim/detect"
)

// InitAverage presets the smoother so a constant input reads back
// unchanged from the very first tick.
func TestAveragerSettledStart(t *testing.T) {
	a := detect.NewAverager[int32](0)
	a.AvgBits = 4
	a.InitAverage(200)

	for i := 0; i < 20; i++ {
		assert.Equal(t, int32(200), a.Tick(200))
	}
}

// From a cold start the average climbs toward a constant input and
// stays below it on the way up.
func TestAveragerConvergesFromZero(t *testing.T) {
	a := detect.NewAverager[int32](0)
	a.AvgBits = 3

	var last int32
	for i := 0; i < 100; i++ {
		out := a.Tick(800)
		assert.GreaterOrEqual(t, out, last)
		assert.LessOrEqual(t, out, int32(800))
		last = out
	}
	assert.InDelta(t, 800, float64(last), 8)
}

// The coefficient scales the reported average without touching the
// running sum.
func TestAveragerCoefficientScaling(t *testing.T) {
	a := detect.NewAverager[int32](8)
	a.AvgBits = 2
	a.Coeff = 128 // half gain at an 8-bit shift
	a.InitAverage(400)

	assert.Equal(t, int32(200), a.Tick(400))
}

// An averager over unsigned storage still leaks negative sums
// correctly through the sign-aware shift.
func TestAveragerUnsignedNegativeSum(t *testing.T) {
	a := detect.NewAverager[uint32](0)
	a.AvgBits = 2
	var zero uint32
	neg := zero - 400 // -400 in two's complement
	a.InitAverage(neg)

	assert.Equal(t, neg, a.Tick(neg))
}

// With identical activate and sustain inputs the hysteresis stage is
// transparent: its output equals activate on every tick.
func TestDualThresholdDegeneratePair(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := detect.NewDualThreshold(1, 1)
		ticks := rapid.IntRange(1, 60).Draw(t, "ticks")
		flags := [][]bool{{false}}
		out := [][]bool{{false}}
		for i := 0; i < ticks; i++ {
			flags[0][0] = rapid.Bool().Draw(t, "flag")
			d.Tick(flags, flags, out)
			assert.Equal(t, flags[0][0], out[0][0])
		}
	})
}

// High threshold 100, low threshold 50: a burst turns on at the high
// bar and survives only while it clears the low one.
func TestHysteresisDetectorSequence(t *testing.T) {
	inputs := []int16{0, 60, 110, 80, 40, 80, 110}
	want := []bool{false, false, true, true, false, false, true}

	d := detect.NewDualThreshold(1, 1)
	in := [][]int16{{0}}
	high := [][]int16{{100}}
	low := [][]int16{{50}}
	activate := [][]bool{{false}}
	sustain := [][]bool{{false}}
	out := [][]bool{{false}}

	for i, v := range inputs {
		in[0][0] = v
		detect.SingleThreshold(in, high, activate, 1, 1)
		detect.SingleThreshold(in, low, sustain, 1, 1)
		d.Tick(activate, sustain, out)
		assert.Equal(t, want[i], out[0][0], "tick %d", i)
	}
}

// Two-tick rise and three-tick fall debounce, with any opposite sample
// reloading the countdown.
func TestDeglitchSequence(t *testing.T) {
	inputs := []bool{true, true, false, true, true, true, true, false, false, false, false, true}
	want := []bool{false, false, false, false, false, true, true, true, true, true, false, false}

	d := detect.NewDeglitchBank[uint32](1, 1)
	d.SetDelays(2, 3)

	in := [][]bool{{false}}
	out := [][]bool{{false}}
	for i, v := range inputs {
		in[0][0] = v
		d.Tick(in, out)
		assert.Equal(t, want[i], out[0][0], "tick %d", i)
	}
}

// Zero delays pass the input straight through.
func TestDeglitchZeroDelays(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := detect.NewDeglitchBank[uint32](1, 1)
		d.SetDelays(0, 0)
		in := [][]bool{{false}}
		out := [][]bool{{false}}
		ticks := rapid.IntRange(1, 40).Draw(t, "ticks")
		for i := 0; i < ticks; i++ {
			in[0][0] = rapid.Bool().Draw(t, "in")
			d.Tick(in, out)
			assert.Equal(t, in[0][0], out[0][0])
		}
	})
}

// SetDelays drops the output and restarts both countdowns mid-stream.
func TestDeglitchSetDelaysResets(t *testing.T) {
	d := detect.NewDeglitchBank[uint32](1, 1)
	d.SetDelays(0, 0)

	in := [][]bool{{true}}
	out := [][]bool{{false}}
	d.Tick(in, out)
	assert.True(t, out[0][0])

	d.SetDelays(1, 1)
	d.Tick(in, out)
	assert.False(t, out[0][0])
	d.Tick(in, out)
	assert.True(t, out[0][0])
}

// The averager bank advances only the active subrectangle.
func TestAveragerBankActiveSubrectangle(t *testing.T) {
	b := detect.NewAveragerBank[int32](2, 1, 0)
	b.SetSmoothing(1, 0)
	b.BanksActive = 1

	in := [][]int32{{50}, {50}}
	out := [][]int32{{0}, {-1}}
	b.Tick(in, out)
	b.Tick(in, out)
	assert.Equal(t, int32(50), out[0][0])
	assert.Equal(t, int32(-1), out[1][0])
}
