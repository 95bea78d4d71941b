package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closedloop-dsp/biostim/biquad"
	"github.com/closedloop-dsp/biostim/pipeline"
	"github.com/closedloop-dsp/biostim/rigconfig"
)

func benchRig() *rigconfig.Rig {
	return &rigconfig.Rig{
		Name: "test", Banks: 1, Chans: 1, Stages: 1,
		RangeMin: -2000, RangeMax: 2000,
		AvgBits:       0,
		HighThreshold: 500, LowThreshold: 200,
		RiseDelay: 2, FallDelay: 3,
		MinPeriod:     20,
		PulseDuration: 3, PulseCooldown: 5,
		PhaseFraction: 128,
	}
}

func newBenchPipeline(t *testing.T) *pipeline.Pipeline[int32, uint32] {
	t.Helper()
	p := pipeline.New[int32, uint32](1, 1, 1, 16, 16, 32)
	p.ApplyRig(benchRig())
	// Unity band-pass stand-in so the estimator sees the ranged input.
	p.Filters.SetCoefficients(0, 0, biquad.Coefficients[int32]{B0: 1})
	return p
}

// A silent input never stimulates, whatever the configuration.
func TestSilenceProducesNoPulses(t *testing.T) {
	p := newBenchPipeline(t)
	p.Arm(10000, 100)

	in := []int32{0}
	for tick := 0; tick < 2000; tick++ {
		pulses := p.Tick(in)
		assert.False(t, pulses[0][0], "tick %d", tick)
	}
}

// An oscillatory burst rides through the whole chain and produces
// phase-aligned pulses, bounded by the armed quota.
func TestBurstProducesQuotaBoundedPulses(t *testing.T) {
	p := newBenchPipeline(t)

	const (
		period    = 40
		amplitude = 1000
		duration  = 3
		maxPulses = 4
	)
	p.Arm(100000, maxPulses)

	in := []int32{0}
	pulseTicks := 0
	// Quiet lead-in, then a long burst.
	for tick := 0; tick < 200; tick++ {
		require.False(t, p.Tick(in)[0][0])
	}
	for tick := 0; tick < 4000; tick++ {
		if tick%period < period/2 {
			in[0] = amplitude
		} else {
			in[0] = -amplitude
		}
		if p.Tick(in)[0][0] {
			pulseTicks++
		}
	}

	assert.Greater(t, pulseTicks, 0, "burst must stimulate")
	assert.LessOrEqual(t, pulseTicks, duration*maxPulses)
	assert.Equal(t, pulseTicks%duration, 0, "every pulse runs its full duration")
}

// Closing the window stops stimulation even while the burst persists.
func TestDisarmStopsStimulation(t *testing.T) {
	p := newBenchPipeline(t)
	p.Arm(100000, 1000)

	in := []int32{0}
	feed := func(ticks int) int {
		fired := 0
		for tick := 0; tick < ticks; tick++ {
			if tick%40 < 20 {
				in[0] = 1000
			} else {
				in[0] = -1000
			}
			if p.Tick(in)[0][0] {
				fired++
			}
		}
		return fired
	}

	require.Greater(t, feed(2000), 0)
	p.Disarm()
	// Drain any pulse in flight, then expect silence.
	feed(10)
	assert.Equal(t, 0, feed(2000))
}

// The FIR bank substitutes for the biquad bank on the same chain.
func TestFIRSubstitution(t *testing.T) {
	p := newBenchPipeline(t)
	p.UseFIR = true
	p.FIRFilters.SetOneCoefficient(0, 0, 1)
	p.FIRFilters.SetOneGeometry(0, 0, 1)
	p.Arm(100000, 4)

	in := []int32{0}
	pulseTicks := 0
	for tick := 0; tick < 4000; tick++ {
		if tick%40 < 20 {
			in[0] = 1000
		} else {
			in[0] = -1000
		}
		if p.Tick(in)[0][0] {
			pulseTicks++
		}
	}
	assert.Greater(t, pulseTicks, 0)
}

// A trigger rerouted to falling-crossing mode tracks the falling
// delay against its verbatim nominal target and still stimulates.
func TestFallingEdgeRouting(t *testing.T) {
	p := newBenchPipeline(t)
	p.WantPhase[0] = false
	p.WantFalling[0] = true
	p.NominalTargets[0][0] = 7
	p.Arm(100000, 4)

	in := []int32{0}
	pulseTicks := 0
	for tick := 0; tick < 4000; tick++ {
		if tick%40 < 20 {
			in[0] = 1000
		} else {
			in[0] = -1000
		}
		if p.Tick(in)[0][0] {
			pulseTicks++
		}
	}
	assert.Greater(t, pulseTicks, 0)
}

// With a negated secondary flag the trigger requires debounced
// detection without a live burst, which a sustained oscillation never
// satisfies: stimulation is suppressed for the whole run.
func TestNegatedSecondaryFlagSuppresses(t *testing.T) {
	p := newBenchPipeline(t)
	p.WantSecondary[0] = true
	p.NegateSecondary[0] = true
	p.Arm(100000, 100)

	in := []int32{0}
	for tick := 0; tick < 4000; tick++ {
		if tick%40 < 20 {
			in[0] = 1000
		} else {
			in[0] = -1000
		}
		assert.False(t, p.Tick(in)[0][0], "tick %d", tick)
	}
}

// Winner-take-all voting: with two banks seeing the same burst, only
// the winning bank's trigger may fire; without voting both do.
func TestVoteWinnersSuppressesLosingBank(t *testing.T) {
	rig := benchRig()
	rig.Banks = 2

	build := func(vote bool) *pipeline.Pipeline[int32, uint32] {
		p := pipeline.New[int32, uint32](2, 1, 1, 16, 16, 32)
		p.ApplyRig(rig)
		p.VoteWinners = vote
		p.Filters.SetCoefficients(0, 0, biquad.Coefficients[int32]{B0: 1})
		p.Filters.SetCoefficients(0, 1, biquad.Coefficients[int32]{B0: 1})
		p.Arm(100000, 100)
		return p
	}

	run := func(p *pipeline.Pipeline[int32, uint32]) (bank0, bank1 int) {
		in := []int32{0}
		for tick := 0; tick < 4000; tick++ {
			if tick%40 < 20 {
				in[0] = 1000
			} else {
				in[0] = -1000
			}
			pulses := p.Tick(in)
			if pulses[0][0] {
				bank0++
			}
			if pulses[1][0] {
				bank1++
			}
		}
		return bank0, bank1
	}

	freeBank0, freeBank1 := run(build(false))
	require.Greater(t, freeBank0, 0)
	require.Greater(t, freeBank1, 0)

	votedBank0, votedBank1 := run(build(true))
	assert.Greater(t, votedBank0, 0, "the tie goes to the first bank")
	assert.Equal(t, 0, votedBank1)
}

// The delay table shifts the phase target by the per-bank calibration
// entry for the measured period: with a +5 entry the calibrated
// pipeline fires exactly five ticks later than the uncalibrated one.
func TestDelayTableShiftsTarget(t *testing.T) {
	p := newBenchPipeline(t)
	// Any period maps to a +5 sample compensation.
	p.DelayLUT.SetOneEntry(0, 0, 0, 5)
	p.Arm(100000, 1)

	q := newBenchPipeline(t)
	q.Arm(100000, 1)

	// Hold detection off long enough for the period estimate to
	// stabilize before either trigger arms.
	p.Deglitch.SetDelays(45, 3)
	q.Deglitch.SetDelays(45, 3)

	in := []int32{0}
	firstPulse := func(p *pipeline.Pipeline[int32, uint32]) int {
		for tick := 0; tick < 4000; tick++ {
			if tick%40 < 20 {
				in[0] = 1000
			} else {
				in[0] = -1000
			}
			if p.Tick(in)[0][0] {
				return tick
			}
		}
		return -1
	}

	uncalibrated := firstPulse(q)
	calibrated := firstPulse(p)
	require.NotEqual(t, -1, uncalibrated)
	require.NotEqual(t, -1, calibrated)
	assert.Equal(t, 5, calibrated-uncalibrated)
}
