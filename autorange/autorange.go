// Package autorange implements the auto-ranging preprocessor: it
// tracks the observed min/max of each channel and derives a bit-shift
// + offset mapping that fits the observed range into a caller-chosen
// output window.
package autorange

import (
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/numeric"
	"github.com/closedloop-dsp/biostim/slicebuf"
)

// Ranger tracks per-channel running extremes and derives the mapping
// out = (in >> attenBits) + offset on demand. I bounds the maximum
// representable latch countdown.
type Ranger[S constraints.Integer, I constraints.Unsigned] struct {
	chans int

	minSeen []S
	maxSeen []S

	newMin, newMax S
	channelTied    bool

	latchCountdown I
	latchArmed     bool

	latchedAtten  []uint8
	latchedOffset []S

	manualAtten  []uint8
	manualOffset []S
	manualSet    []bool
}

// New builds a Ranger over chans channels. Running extremes start at
// the identity initializer (MaxValue for min, MinValue for max) so the
// very first observed sample sets both.
func New[S constraints.Integer, I constraints.Unsigned](chans int) *Ranger[S, I] {
	r := &Ranger[S, I]{
		chans:         chans,
		minSeen:       make([]S, chans),
		maxSeen:       make([]S, chans),
		latchedAtten:  make([]uint8, chans),
		latchedOffset: make([]S, chans),
		manualAtten:   make([]uint8, chans),
		manualOffset:  make([]S, chans),
		manualSet:     make([]bool, chans),
	}
	r.ResetTrackingOnly()
	return r
}

// ResetTrackingOnly resets min/max tracking to the identity
// initializer without touching latched state or manual overrides.
func (r *Ranger[S, I]) ResetTrackingOnly() {
	for c := 0; c < r.chans; c++ {
		r.minSeen[c] = numeric.MaxValue[S]()
		r.maxSeen[c] = numeric.MinValue[S]()
	}
}

// ResetTracking resets min/max tracking. The wantSharedAtten argument
// is accepted for interface compatibility and ignored; tied-
// attenuation mode is controlled through SetChannelTied.
func (r *Ranger[S, I]) ResetTracking(wantSharedAtten bool) {
	_ = wantSharedAtten
	r.ResetTrackingOnly()
}

// ResetLatched clears latched offset/atten back to zero for every
// channel.
func (r *Ranger[S, I]) ResetLatched() {
	for c := 0; c < r.chans; c++ {
		r.latchedAtten[c] = 0
		r.latchedOffset[c] = 0
	}
}

// SetDesiredRange sets the output window every channel maps into.
func (r *Ranger[S, I]) SetDesiredRange(newMin, newMax S) {
	r.newMin, r.newMax = newMin, newMax
}

// SetChannelTied enables or disables tied-attenuation mode, where the
// effective attenuation for every channel is the max running
// attenuation across channels; offsets stay per-channel.
func (r *Ranger[S, I]) SetChannelTied(tied bool) {
	r.channelTied = tied
}

// SetAttenOffset manually overrides the running atten/offset for
// channel c, bypassing the derived computation. The override stays in
// force until another SetAttenOffset call for that channel replaces
// it; no reset clears it.
func (r *Ranger[S, I]) SetAttenOffset(c int, bitshift uint8, offset S) {
	if c < 0 || c >= r.chans {
		return
	}
	r.manualAtten[c] = bitshift
	r.manualOffset[c] = offset
	r.manualSet[c] = true
}

// LatchAfter schedules a one-shot latch: after sampleCount further
// calls to UpdateFromSample, the running (offset, atten) of every
// channel is snapshotted into latched storage.
func (r *Ranger[S, I]) LatchAfter(sampleCount I) {
	r.latchCountdown = sampleCount
	r.latchArmed = true
}

// UpdateFromSample extends the running min/max for every active
// channel of in (shape [1][C]) and, if a latch countdown is active,
// decrements it and snapshots on reaching zero.
func (r *Ranger[S, I]) UpdateFromSample(in *slicebuf.Slice[S]) {
	for c := 0; c < r.chans && c < in.ChansActive; c++ {
		v := in.Get(0, c)
		if v < r.minSeen[c] {
			r.minSeen[c] = v
		}
		if v > r.maxSeen[c] {
			r.maxSeen[c] = v
		}
	}

	if r.latchArmed {
		if r.latchCountdown == 0 {
			r.snapshotLatch()
			r.latchArmed = false
		} else {
			r.latchCountdown--
			if r.latchCountdown == 0 {
				r.snapshotLatch()
				r.latchArmed = false
			}
		}
	}
}

func (r *Ranger[S, I]) snapshotLatch() {
	for c := 0; c < r.chans; c++ {
		atten, offset := r.runningAttenOffset(c)
		r.latchedAtten[c] = atten
		r.latchedOffset[c] = offset
	}
}

// desiredWanted mirrors the half-span/middle derivation used for the
// observed bounds, applied to the user-requested (newMin, newMax).
func (r *Ranger[S, I]) desiredWanted() (middleWanted, halfSpanWanted S) {
	minHalf := numeric.ShiftRight(r.newMin, 1)
	maxHalf := numeric.ShiftRight(r.newMax, 1)
	return minHalf + maxHalf, maxHalf - minHalf
}

func (r *Ranger[S, I]) runningAttenOffset(c int) (uint8, S) {
	if r.manualSet[c] {
		return r.manualAtten[c], r.manualOffset[c]
	}

	minSeen := r.minSeen[c]
	maxSeen := r.maxSeen[c]
	if maxSeen < minSeen {
		maxSeen = minSeen
	}

	minHalf := numeric.ShiftRight(minSeen, 1)
	maxHalf := numeric.ShiftRight(maxSeen, 1)
	middle := minHalf + maxHalf
	halfSpan := maxHalf - minHalf

	middleWanted, halfSpanWanted := r.desiredWanted()

	var attenBits uint8
	maxBits := numeric.BitWidth[S]()
	shifted := halfSpan
	for int(attenBits) < maxBits && shifted > halfSpanWanted {
		attenBits++
		shifted = numeric.ShiftRight(halfSpan, int(attenBits))
	}

	if r.channelTied {
		for other := 0; other < r.chans; other++ {
			if other == c || r.manualSet[other] {
				continue
			}
			otherAtten, _ := r.attenAlone(other)
			if otherAtten > attenBits {
				attenBits = otherAtten
			}
		}
	}

	offset := middleWanted - numeric.ShiftRight(middle, int(attenBits))
	return attenBits, offset
}

// attenAlone computes channel c's attenuation without considering
// channel-tied mode, to avoid infinite recursion from
// runningAttenOffset's tied-mode scan.
func (r *Ranger[S, I]) attenAlone(c int) (uint8, S) {
	minSeen := r.minSeen[c]
	maxSeen := r.maxSeen[c]
	if maxSeen < minSeen {
		maxSeen = minSeen
	}
	minHalf := numeric.ShiftRight(minSeen, 1)
	maxHalf := numeric.ShiftRight(maxSeen, 1)
	halfSpan := maxHalf - minHalf

	_, halfSpanWanted := r.desiredWanted()

	var attenBits uint8
	maxBits := numeric.BitWidth[S]()
	shifted := halfSpan
	for int(attenBits) < maxBits && shifted > halfSpanWanted {
		attenBits++
		shifted = numeric.ShiftRight(halfSpan, int(attenBits))
	}
	return attenBits, 0
}

// GetRunningOutput applies the currently-derived running mapping to
// in, for channel c.
func (r *Ranger[S, I]) GetRunningOutput(c int, in S) S {
	if c < 0 || c >= r.chans {
		return in
	}
	atten, offset := r.runningAttenOffset(c)
	return numeric.ShiftRight(in, int(atten)) + offset
}

// GetLatchedOutput applies the latched mapping (as of the most recent
// snapshot) to in, for channel c.
func (r *Ranger[S, I]) GetLatchedOutput(c int, in S) S {
	if c < 0 || c >= r.chans {
		return in
	}
	return numeric.ShiftRight(in, int(r.latchedAtten[c])) + r.latchedOffset[c]
}

// MinSeen, MaxSeen, RunningAtten, RunningOffset, LatchedAtten and
// LatchedOffset are debug accessors; they perform no state mutation.
func (r *Ranger[S, I]) MinSeen(c int) S { return r.minSeen[c] }
func (r *Ranger[S, I]) MaxSeen(c int) S { return r.maxSeen[c] }

func (r *Ranger[S, I]) RunningAtten(c int) uint8 {
	atten, _ := r.runningAttenOffset(c)
	return atten
}

func (r *Ranger[S, I]) RunningOffset(c int) S {
	_, offset := r.runningAttenOffset(c)
	return offset
}

func (r *Ranger[S, I]) LatchedAtten(c int) uint8 { return r.latchedAtten[c] }
func (r *Ranger[S, I]) LatchedOffset(c int) S    { return r.latchedOffset[c] }
