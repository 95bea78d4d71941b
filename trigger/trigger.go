// Package trigger implements the phase-aligned pulse emitter: free
// target/flag functions that turn bank-level evidence into per-trigger
// (signal, target, detect) inputs, the individual four-state trigger
// machine, and the bank-level controller that enforces the pulse quota
// and emission window.
package trigger

import (
	"golang.org/x/exp/constraints"
)

// ZeroCrossingTarget fills signalsOut[0][t] with the selected cell's
// delay since its last falling (wantFalling[t]) or rising zero
// crossing. Invalid (bank, chan) selections leave the output cell
// unchanged, so callers pre-initialize signalsOut.
func ZeroCrossingTarget[I constraints.Unsigned](
	srcBanks, srcChans []int,
	wantFalling []bool,
	riseDelays, fallDelays [][]I,
	signalsOut [][]I,
) {
	for t := 0; t < len(signalsOut[0]) && t < len(srcBanks) && t < len(srcChans); t++ {
		b, c := srcBanks[t], srcChans[t]
		if b < 0 || b >= len(riseDelays) || c < 0 || c >= len(riseDelays[b]) {
			continue
		}
		if t < len(wantFalling) && wantFalling[t] {
			signalsOut[0][t] = fallDelays[b][c]
		} else {
			signalsOut[0][t] = riseDelays[b][c]
		}
	}
}

// PhaseTarget fills targetsOut[0][t] with the selected cell's period
// scaled by the nominal phase fraction: (nominal * period) >> 8, with
// nominal interpreted as a fraction of one turn in 0..255. Invalid
// selections leave the output cell unchanged.
func PhaseTarget[I constraints.Unsigned](
	srcBanks, srcChans []int,
	periods [][]I,
	nominalTargets [][]I,
	targetsOut [][]I,
) {
	for t := 0; t < len(targetsOut[0]) && t < len(srcBanks) && t < len(srcChans); t++ {
		b, c := srcBanks[t], srcChans[t]
		if b < 0 || b >= len(periods) || c < 0 || c >= len(periods[b]) {
			continue
		}
		targetsOut[0][t] = (nominalTargets[0][t] * periods[b][c]) >> 8
	}
}

// CombinedTarget produces both trigger inputs at once. For triggers
// with wantPhase set, the signal is the rising-crossing delay and the
// target is the fractional phase target; wantPhase takes priority over
// wantFalling. For the rest, the signal follows ZeroCrossingTarget and
// the nominal target is copied through verbatim.
func CombinedTarget[I constraints.Unsigned](
	srcBanks, srcChans []int,
	wantPhase, wantFalling []bool,
	riseDelays, fallDelays, periods [][]I,
	nominalTargets [][]I,
	signalsOut, targetsOut [][]I,
) {
	for t := 0; t < len(signalsOut[0]) && t < len(srcBanks) && t < len(srcChans); t++ {
		b, c := srcBanks[t], srcChans[t]
		if b < 0 || b >= len(riseDelays) || c < 0 || c >= len(riseDelays[b]) {
			continue
		}
		if t < len(wantPhase) && wantPhase[t] {
			signalsOut[0][t] = riseDelays[b][c]
			targetsOut[0][t] = (nominalTargets[0][t] * periods[b][c]) >> 8
			continue
		}
		if t < len(wantFalling) && wantFalling[t] {
			signalsOut[0][t] = fallDelays[b][c]
		} else {
			signalsOut[0][t] = riseDelays[b][c]
		}
		targetsOut[0][t] = nominalTargets[0][t]
	}
}

// ConditionalFlagDual fills outputFlags[0][t] with the selected cell's
// primary flag, optionally ANDed with the (optionally negated)
// secondary flag. Invalid (bank, chan) selections output false.
func ConditionalFlagDual(
	srcBanks, srcChans []int,
	wantSecondary, negateSecondary []bool,
	primary, secondary [][]bool,
	outputFlags [][]bool,
) {
	for t := 0; t < len(outputFlags[0]) && t < len(srcBanks) && t < len(srcChans); t++ {
		b, c := srcBanks[t], srcChans[t]
		if b < 0 || b >= len(primary) || c < 0 || c >= len(primary[b]) {
			outputFlags[0][t] = false
			continue
		}
		a := primary[b][c]
		if t < len(wantSecondary) && wantSecondary[t] {
			s := secondary[b][c]
			if t < len(negateSecondary) && negateSecondary[t] {
				s = !s
			}
			a = a && s
		}
		outputFlags[0][t] = a
	}
}

// State is the trigger machine's current phase of operation.
type State uint8

const (
	// Idle waits for a detect flag with quota remaining.
	Idle State = iota
	// WaitRise tracks the unwrapped timing signal toward the saved
	// target.
	WaitRise
	// WaitFall holds the output pulse high for the configured
	// duration.
	WaitFall
	// WaitCool holds the output low for the cooldown, then re-arms.
	WaitCool
)

// Trigger is one phase-aligned pulse generator. A pulse that has begun
// always completes its full duration, even after the bank's emission
// window closes.
type Trigger[I constraints.Unsigned] struct {
	duration  I
	cooldown  I
	ReraiseOK bool

	state        State
	timeoutLeft  I
	savedTarget  I
	prevSignal   I
	unwrapOffset I
}

// NewTrigger returns an idle trigger with the minimum legal duration
// and cooldown of one tick each.
func NewTrigger[I constraints.Unsigned]() *Trigger[I] {
	return &Trigger[I]{duration: 1, cooldown: 1}
}

// SetDuration sets the pulse width in ticks, clamped to at least 1.
func (tr *Trigger[I]) SetDuration(d I) {
	if d < 1 {
		d = 1
	}
	tr.duration = d
}

// SetCooldown sets the post-pulse hold-off in ticks, clamped to at
// least 1.
func (tr *Trigger[I]) SetCooldown(c I) {
	if c < 1 {
		c = 1
	}
	tr.cooldown = c
}

// Duration returns the configured pulse width.
func (tr *Trigger[I]) Duration() I { return tr.duration }

// Cooldown returns the configured hold-off.
func (tr *Trigger[I]) Cooldown() I { return tr.cooldown }

// State returns the machine's current state.
func (tr *Trigger[I]) State() State { return tr.state }

// ForceIdle abandons any pulse or cooldown in progress and returns the
// machine to Idle without touching configuration.
func (tr *Trigger[I]) ForceIdle() {
	tr.state = Idle
	tr.timeoutLeft = 0
	tr.savedTarget = 0
	tr.prevSignal = 0
	tr.unwrapOffset = 0
}

// Step advances the machine by one tick and reports whether the output
// pulse is active. triggerCountLeft is the bank-shared pulse quota; it
// is decremented exactly once per arming (Idle to WaitRise)
// transition.
func (tr *Trigger[I]) Step(sig, target, period I, detect bool, triggerCountLeft *I) bool {
	switch tr.state {
	case Idle:
		if detect && *triggerCountLeft > 0 {
			*triggerCountLeft--
			tr.state = WaitRise
			tr.savedTarget = target
			if sig >= tr.savedTarget {
				tr.savedTarget += period
				if sig >= tr.savedTarget {
					tr.savedTarget += period
				}
			}
			tr.unwrapOffset = 0
			tr.prevSignal = sig
		}

	case WaitRise:
		sig += tr.unwrapOffset
		if sig+(period>>1) < tr.prevSignal {
			tr.unwrapOffset += period
			sig += period
		}
		tr.prevSignal = sig
		if sig >= tr.savedTarget {
			tr.timeoutLeft = tr.duration
			tr.state = WaitFall
		}

	case WaitFall:
		if tr.timeoutLeft > 0 {
			tr.timeoutLeft--
		}
		if tr.timeoutLeft == 0 {
			tr.timeoutLeft = tr.cooldown
			tr.state = WaitCool
		}

	case WaitCool:
		if tr.timeoutLeft > 0 {
			tr.timeoutLeft--
		}
		if tr.timeoutLeft == 0 {
			if !detect || tr.ReraiseOK {
				tr.state = Idle
			}
		}
	}

	return tr.state == WaitFall
}

// Bank holds a [B][C] rectangle of triggers, a matching enable mask,
// and the shared quota counters that bound how many pulses may be
// emitted within one enabled window.
type Bank[I constraints.Unsigned] struct {
	banksCount, chansCount int
	triggers               [][]*Trigger[I]
	enabled                [][]bool

	TriggerCountLeft I
	WindowTimeLeft   I

	BanksActive, ChansActive int
}

// NewBank allocates the trigger rectangle with every trigger idle and
// every cell disabled. The bank starts unprimed: no window, no quota.
func NewBank[I constraints.Unsigned](banksCount, chansCount int) *Bank[I] {
	b := &Bank[I]{
		banksCount:  banksCount,
		chansCount:  chansCount,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	b.triggers = make([][]*Trigger[I], banksCount)
	b.enabled = make([][]bool, banksCount)
	for bk := 0; bk < banksCount; bk++ {
		b.triggers[bk] = make([]*Trigger[I], chansCount)
		b.enabled[bk] = make([]bool, chansCount)
		for ch := 0; ch < chansCount; ch++ {
			b.triggers[bk][ch] = NewTrigger[I]()
		}
	}
	return b
}

// Trigger returns the machine at (bank, ch) for configuration, or nil
// out of range.
func (b *Bank[I]) Trigger(bank, ch int) *Trigger[I] {
	if bank < 0 || bank >= b.banksCount || ch < 0 || ch >= b.chansCount {
		return nil
	}
	return b.triggers[bank][ch]
}

// SetEnabled sets one cell of the enable mask. Out-of-range indices
// are silently ignored.
func (b *Bank[I]) SetEnabled(bank, ch int, on bool) {
	if bank < 0 || bank >= b.banksCount || ch < 0 || ch >= b.chansCount {
		return
	}
	b.enabled[bank][ch] = on
}

// SetTiming configures every trigger's duration, cooldown, and
// re-raise policy at once.
func (b *Bank[I]) SetTiming(duration, cooldown I, reraiseOK bool) {
	for bk := range b.triggers {
		for ch := range b.triggers[bk] {
			t := b.triggers[bk][ch]
			t.SetDuration(duration)
			t.SetCooldown(cooldown)
			t.ReraiseOK = reraiseOK
		}
	}
}

// EnableTriggering primes the bank: pulses may be emitted for the next
// window ticks, at most maxPulses of them in total across all cells.
func (b *Bank[I]) EnableTriggering(window, maxPulses I) {
	b.WindowTimeLeft = window
	b.TriggerCountLeft = maxPulses
}

// DisableTriggering closes the window and zeroes the quota. Pulses in
// flight still complete their duration.
func (b *Bank[I]) DisableTriggering() {
	b.WindowTimeLeft = 0
	b.TriggerCountLeft = 0
}

// ForceIdle resets every trigger to Idle and zeroes both counters,
// leaving per-trigger configuration intact.
func (b *Bank[I]) ForceIdle() {
	for bk := range b.triggers {
		for ch := range b.triggers[bk] {
			b.triggers[bk][ch].ForceIdle()
		}
	}
	b.TriggerCountLeft = 0
	b.WindowTimeLeft = 0
}

// ProcessSamples advances the window countdown, then steps every
// enabled trigger in the active subrectangle, writing its pulse flag
// into out. When the window expires the quota is forced to zero, which
// stops new pulses from arming but never interrupts one in flight.
// Disabled or inactive cells leave out untouched.
func (b *Bank[I]) ProcessSamples(sig, target, period [][]I, detect [][]bool, out [][]bool) {
	if b.WindowTimeLeft > 0 {
		b.WindowTimeLeft--
	}
	if b.WindowTimeLeft == 0 {
		b.TriggerCountLeft = 0
	}

	for bk := 0; bk < b.BanksActive && bk < b.banksCount; bk++ {
		for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
			if !b.enabled[bk][ch] {
				continue
			}
			out[bk][ch] = b.triggers[bk][ch].Step(
				sig[bk][ch], target[bk][ch], period[bk][ch], detect[bk][ch],
				&b.TriggerCountLeft)
		}
	}
}
