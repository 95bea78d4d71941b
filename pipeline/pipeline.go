// Package pipeline wires the streaming modules into the full
// closed-loop chain: auto-ranger, band-pass filter bank, analytic
// estimator, envelope smoothing with hysteresis and de-glitching, the
// delay calibration table, and the phase-aligned trigger row. One
// call to Tick advances every stage by exactly one sample.
//
// Triggering is routed, not hard-wired: the bank of triggers is a
// [1][T] row, and per-trigger routing tables pick which (bank,
// channel) cell each trigger watches, whether it tracks the rising or
// falling crossing delay or a fractional phase target, and how its
// detect flag combines the debounced and raw burst evidence. The
// combined target and flag routers in the trigger package do that
// gathering; this package owns the tables and the reverse map that
// scatters pulses back onto the [banks][chans] output grid.
package pipeline

import (
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/analytic"
	"github.com/closedloop-dsp/biostim/autorange"
	"github.com/closedloop-dsp/biostim/biquad"
	"github.com/closedloop-dsp/biostim/detect"
	"github.com/closedloop-dsp/biostim/fir"
	"github.com/closedloop-dsp/biostim/lut"
	"github.com/closedloop-dsp/biostim/numeric"
	"github.com/closedloop-dsp/biostim/rigconfig"
	"github.com/closedloop-dsp/biostim/slicebuf"
	"github.com/closedloop-dsp/biostim/trigger"
)

// Pipeline owns one instance of every stage plus the scratch slices
// passed between them. All storage is allocated by New; Tick performs
// no allocation.
type Pipeline[S constraints.Integer, I constraints.Unsigned] struct {
	banks, chans, triggers int

	Ranger     *autorange.Ranger[S, I]
	Filters    *biquad.Bank[S]
	FIRFilters *fir.Bank[S]
	UseFIR     bool
	Analytic   *analytic.Bank[S, I]
	Envelope   *detect.AveragerBank[S]
	Hysteresis *detect.DualThreshold
	Deglitch   *detect.DeglitchBank[I]
	DelayLUT   *lut.BankTable[I, I]
	Triggers   *trigger.Bank[I]

	HighThresholds [][]S
	LowThresholds  [][]S
	PhaseFraction  I

	// Per-trigger routing. SrcBanks/SrcChans select the watched cell
	// (change them through SetRoute so the pulse scatter map stays in
	// step); the Want/Negate rows configure each trigger's target and
	// flag formation. NominalTargets is the [1][T] nominal row fed to
	// the combined target router: a phase fraction in 0..255 for
	// phase-mode triggers, a verbatim delay target otherwise.
	SrcBanks, SrcChans             []int
	WantPhase, WantFalling         []bool
	WantSecondary, NegateSecondary []bool
	NominalTargets                 [][]I

	// VoteWinners enables winner-take-all across banks: per channel
	// only the bank with the strongest smoothed envelope keeps its
	// detect flag this tick.
	VoteWinners bool

	inSlice  *slicebuf.Slice[S]
	ranged   [][]S
	filtered [][]S
	envelope [][]S
	smoothed *slicebuf.Slice[S]
	activate [][]bool
	sustain  [][]bool
	burst    [][]bool
	detected [][]bool

	riseDelays [][]I
	fallDelays [][]I
	periods    [][]I
	lutAdj     [][]I

	signals  [][]I
	targets  [][]I
	periodsT [][]I
	flags    [][]bool

	pulseRow *slicebuf.Slice[bool]
	revBanks *slicebuf.Slice[int]
	revChans *slicebuf.Slice[int]
	outGrid  *slicebuf.Slice[bool]

	selections []int
	wasLocal   []bool
}

func grid[T any](banks, chans int) [][]T {
	g := make([][]T, banks)
	for b := range g {
		g[b] = make([]T, chans)
	}
	return g
}

// New builds a pipeline over the given geometry, with every stage in
// its zeroed, pass-through-or-silent initial state. One trigger is
// allocated per (bank, channel) cell, routed to that cell in phase
// mode by default. firTaps and firBufLen size the substitutable FIR
// bank; firBufLen must be a power of two.
func New[S constraints.Integer, I constraints.Unsigned](banks, chans, stages, lutRows, firTaps, firBufLen int) *Pipeline[S, I] {
	triggers := banks * chans
	p := &Pipeline[S, I]{
		banks:      banks,
		chans:      chans,
		triggers:   triggers,
		Ranger:     autorange.New[S, I](chans),
		Filters:    biquad.NewBank[S](banks, chans, stages),
		FIRFilters: fir.NewBank[S](banks, chans, firTaps, firBufLen),
		Analytic:   analytic.NewBank[S, I](banks, chans),
		Envelope:   detect.NewAveragerBank[S](banks, chans, 0),
		Hysteresis: detect.NewDualThreshold(banks, chans),
		Deglitch:   detect.NewDeglitchBank[I](banks, chans),
		DelayLUT:   lut.NewBankTable[I, I](banks, lutRows),
		Triggers:   trigger.NewBank[I](1, triggers),

		HighThresholds: grid[S](banks, chans),
		LowThresholds:  grid[S](banks, chans),

		SrcBanks:        make([]int, triggers),
		SrcChans:        make([]int, triggers),
		WantPhase:       make([]bool, triggers),
		WantFalling:     make([]bool, triggers),
		WantSecondary:   make([]bool, triggers),
		NegateSecondary: make([]bool, triggers),
		NominalTargets:  grid[I](1, triggers),

		inSlice:  slicebuf.New[S](1, chans),
		ranged:   grid[S](1, chans),
		filtered: grid[S](banks, chans),
		envelope: grid[S](banks, chans),
		smoothed: slicebuf.New[S](banks, chans),
		activate: grid[bool](banks, chans),
		sustain:  grid[bool](banks, chans),
		burst:    grid[bool](banks, chans),
		detected: grid[bool](banks, chans),

		riseDelays: grid[I](banks, chans),
		fallDelays: grid[I](banks, chans),
		periods:    grid[I](banks, chans),
		lutAdj:     grid[I](banks, chans),

		signals:  grid[I](1, triggers),
		targets:  grid[I](1, triggers),
		periodsT: grid[I](1, triggers),
		flags:    grid[bool](1, triggers),

		// One spare always-false column past the trigger row; output
		// cells no trigger watches map onto it.
		pulseRow: slicebuf.New[bool](1, triggers+1),
		revBanks: slicebuf.New[int](banks, chans),
		revChans: slicebuf.New[int](banks, chans),
		outGrid:  slicebuf.New[bool](banks, chans),

		selections: make([]int, chans),
		wasLocal:   make([]bool, chans),
	}
	for t := 0; t < triggers; t++ {
		p.SrcBanks[t] = t / chans
		p.SrcChans[t] = t % chans
		p.WantPhase[t] = true
	}
	p.rebuildReverseMap()
	return p
}

// SetRoute points trigger t at cell (bank, ch) and rebuilds the pulse
// scatter map. When several triggers watch the same cell, the highest-
// numbered one drives that cell's output.
func (p *Pipeline[S, I]) SetRoute(t, bank, ch int) {
	if t < 0 || t >= p.triggers {
		return
	}
	p.SrcBanks[t] = bank
	p.SrcChans[t] = ch
	p.rebuildReverseMap()
}

func (p *Pipeline[S, I]) rebuildReverseMap() {
	p.revBanks.Fill(0)
	p.revChans.Fill(p.triggers)
	for t := 0; t < p.triggers; t++ {
		p.revChans.Set(p.SrcBanks[t], p.SrcChans[t], t)
	}
}

// ApplyRig configures every stage from a rig descriptor: ranger output
// window, smoothing, thresholds, debounce delays, the oscillation band
// floor, trigger timing, and the nominal phase fraction for every
// trigger. It does not prime the trigger window; call Arm for that.
func (p *Pipeline[S, I]) ApplyRig(rig *rigconfig.Rig) {
	p.Ranger.SetDesiredRange(S(rig.RangeMin), S(rig.RangeMax))
	p.Envelope.SetSmoothing(1, rig.AvgBits)
	for b := 0; b < p.banks; b++ {
		for c := 0; c < p.chans; c++ {
			p.HighThresholds[b][c] = S(rig.HighThreshold)
			p.LowThresholds[b][c] = S(rig.LowThreshold)
		}
		p.Analytic.SetOneMinPeriod(b, I(rig.MinPeriod))
	}
	p.Deglitch.SetDelays(I(rig.RiseDelay), I(rig.FallDelay))
	p.Triggers.SetTiming(I(rig.PulseDuration), I(rig.PulseCooldown), rig.ReraiseOK)
	p.PhaseFraction = I(rig.PhaseFraction)
	for t := 0; t < p.triggers; t++ {
		p.NominalTargets[0][t] = p.PhaseFraction
		p.Triggers.SetEnabled(0, t, true)
	}
}

// Arm primes the trigger bank for an emission window of the given
// length with the given pulse quota.
func (p *Pipeline[S, I]) Arm(window, maxPulses I) {
	p.Triggers.EnableTriggering(window, maxPulses)
}

// Disarm closes the emission window. Pulses in flight complete.
func (p *Pipeline[S, I]) Disarm() {
	p.Triggers.DisableTriggering()
}

// WinnerSelections returns the per-channel winning bank indices as of
// the last Tick in winner-vote mode. The slice is the pipeline's own
// scratch; treat it as read-only.
func (p *Pipeline[S, I]) WinnerSelections() []int {
	return p.selections
}

// WinnerEnvelopes collapses the smoothed envelope grid to the winning
// bank's value per channel, as of the last Tick in winner-vote mode.
// Allocates; observation only, not part of the streaming path.
func (p *Pipeline[S, I]) WinnerEnvelopes() *slicebuf.Slice[S] {
	return slicebuf.SelectWinningBanks(p.smoothed, p.selections)
}

// foldBits returns a quotient width for FastModulo small enough that
// the shifted modulus cannot overflow I.
func foldBits[I constraints.Unsigned](per I) int {
	max := numeric.MaxValue[I]()
	k := 0
	for k < numeric.BitWidth[I]()-1 && per <= max>>uint(k+1) {
		k++
	}
	return k
}

// Tick advances the whole chain by one input sample (one value per
// channel) and returns the pulse grid for this tick. The returned
// slice is owned by the pipeline and overwritten on the next call.
func (p *Pipeline[S, I]) Tick(in []S) [][]bool {
	for c := 0; c < p.chans && c < len(in); c++ {
		p.inSlice.Set(0, c, in[c])
	}
	p.Ranger.UpdateFromSample(p.inSlice)
	for c := 0; c < p.chans && c < len(in); c++ {
		p.ranged[0][c] = p.Ranger.GetRunningOutput(c, in[c])
	}

	if p.UseFIR {
		p.FIRFilters.ApplyBankOnce(p.ranged, p.filtered)
	} else {
		p.Filters.ApplyBankOnce(p.ranged, p.filtered)
	}

	p.Analytic.HandleSamples(p.filtered)
	for b := 0; b < p.banks; b++ {
		for c := 0; c < p.chans; c++ {
			mag, period, sinceRise, sinceFall := p.Analytic.Cell(b, c).GetEstimatedAnalytic()
			p.envelope[b][c] = mag
			p.periods[b][c] = period
			p.riseDelays[b][c] = sinceRise
			p.fallDelays[b][c] = sinceFall
		}
	}

	p.Envelope.Tick(p.envelope, p.smoothed.Raw())
	detect.SingleThreshold(p.smoothed.Raw(), p.HighThresholds, p.activate, p.banks, p.chans)
	detect.SingleThreshold(p.smoothed.Raw(), p.LowThresholds, p.sustain, p.banks, p.chans)
	p.Hysteresis.Tick(p.activate, p.sustain, p.burst)
	p.Deglitch.Tick(p.burst, p.detected)

	if p.VoteWinners {
		slicebuf.IdentifyWinningBanksInto(p.smoothed, p.banks, p.chans, p.selections, p.wasLocal)
		for c := 0; c < p.chans; c++ {
			for b := 0; b < p.banks; b++ {
				if b != p.selections[c] {
					p.detected[b][c] = false
				}
			}
		}
	}

	// Per-bank delay calibration: the table maps the measured period
	// to the group-delay compensation for that bank.
	p.DelayLUT.LookupAllLE(p.periods, p.lutAdj, p.banks, p.chans)

	// Route bank-level evidence to the trigger row: crossing delays
	// or phase targets per the routing tables, then the debounced
	// detect flag optionally combined with the raw burst flag.
	trigger.CombinedTarget(p.SrcBanks, p.SrcChans, p.WantPhase, p.WantFalling,
		p.riseDelays, p.fallDelays, p.periods, p.NominalTargets,
		p.signals, p.targets)
	trigger.ConditionalFlagDual(p.SrcBanks, p.SrcChans,
		p.WantSecondary, p.NegateSecondary,
		p.detected, p.burst, p.flags)

	for t := 0; t < p.triggers; t++ {
		b, c := p.SrcBanks[t], p.SrcChans[t]
		if b < 0 || b >= p.banks || c < 0 || c >= p.chans {
			p.periodsT[0][t] = 0
			continue
		}
		per := p.periods[b][c]
		p.periodsT[0][t] = per
		p.targets[0][t] += p.lutAdj[b][c]
		// A crossing counter can run past one period during ragged
		// bursts; fold it back into the current cycle. A counter
		// saturated far beyond the foldable range stays unreduced,
		// which only happens while detection is off and the trigger
		// ignores its signal.
		if per > 0 && p.signals[0][t] >= per {
			p.signals[0][t] = numeric.FastModulo(p.signals[0][t], per, foldBits(per))
		}
	}

	p.Triggers.ProcessSamples(p.signals, p.targets, p.periodsT, p.flags, p.pulseRow.Raw())
	slicebuf.MapSlice(p.revBanks, p.revChans, p.pulseRow, p.outGrid)
	return p.outGrid.Raw()
}
