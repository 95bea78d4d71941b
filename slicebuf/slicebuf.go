// Package slicebuf implements the rectangular [bank][channel] buffer
// that every pipeline stage exchanges one tick at a time, plus the
// map/voting/latching operations composed on top of it.
package slicebuf

// Slice is a rectangular [banks][chans] buffer of T. Storage is
// always fully allocated at New time; BanksActive/ChansActive
// express the live subrectangle without ever resizing the backing
// arrays. Cells outside [0,BanksActive) x [0,ChansActive) may hold
// stale data and must not be read by callers.
type Slice[T any] struct {
	data        [][]T
	Banks       int
	Chans       int
	BanksActive int
	ChansActive int
}

// New allocates a Slice with the given compiled geometry. Both active
// counts start out equal to the full geometry.
func New[T any](banks, chans int) *Slice[T] {
	data := make([][]T, banks)
	for b := range data {
		data[b] = make([]T, chans)
	}
	return &Slice[T]{
		data:        data,
		Banks:       banks,
		Chans:       chans,
		BanksActive: banks,
		ChansActive: chans,
	}
}

// Get reads cell (b, c). Out-of-range indices return the zero value.
func (s *Slice[T]) Get(b, c int) T {
	var zero T
	if b < 0 || b >= s.Banks || c < 0 || c >= s.Chans {
		return zero
	}
	return s.data[b][c]
}

// Set writes cell (b, c). Out-of-range indices are silently ignored.
func (s *Slice[T]) Set(b, c int, v T) {
	if b < 0 || b >= s.Banks || c < 0 || c >= s.Chans {
		return
	}
	s.data[b][c] = v
}

// Raw returns the backing rows so a Slice can be handed to stages
// that take plain [][]T. The rows are the Slice's own storage; writes
// through either view are the same writes.
func (s *Slice[T]) Raw() [][]T {
	return s.data
}

// Fill writes v into every cell of the active subrectangle.
func (s *Slice[T]) Fill(v T) {
	for b := 0; b < s.BanksActive; b++ {
		for c := 0; c < s.ChansActive; c++ {
			s.data[b][c] = v
		}
	}
}

// CopyFrom copies src's active subrectangle into the same cells of s.
// src must have the same shape; only the overlapping active
// subrectangle is copied.
func (s *Slice[T]) CopyFrom(src *Slice[T]) {
	banks := min(s.BanksActive, src.BanksActive)
	chans := min(s.ChansActive, src.ChansActive)
	for b := 0; b < banks; b++ {
		copy(s.data[b][:chans], src.data[b][:chans])
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MapSlice fills each destination cell (b, c) in [0,dst.BanksActive) x
// [0,dst.ChansActive) with source[srcBanks[b][c]][srcChans[b][c]],
// clamping the indirect indices into source's bounds.
func MapSlice[T any](srcBanks, srcChans *Slice[int], source, target *Slice[T]) {
	for b := 0; b < target.BanksActive; b++ {
		for c := 0; c < target.ChansActive; c++ {
			sb := clamp(srcBanks.Get(b, c), 0, source.Banks-1)
			sc := clamp(srcChans.Get(b, c), 0, source.Chans-1)
			target.Set(b, c, source.Get(sb, sc))
		}
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SelectWinningBanks produces dest[0][c] = source[selections[c]][c]
// for each active channel. An out-of-range selection defaults to
// bank 0.
func SelectWinningBanks[T any](source *Slice[T], selections []int) *Slice[T] {
	dest := New[T](1, source.ChansActive)
	for c := 0; c < source.ChansActive; c++ {
		b := 0
		if c < len(selections) {
			sel := selections[c]
			if sel >= 0 && sel < source.BanksActive {
				b = sel
			}
		}
		dest.Set(0, c, source.Get(b, c))
	}
	return dest
}

// ConditionallyLatchNew copies newValues into target cell-wise,
// wherever flags equals replaceFlag.
func ConditionallyLatchNew[T any](target, newValues *Slice[T], flags *Slice[bool], replaceFlag bool) {
	banks := min(target.BanksActive, newValues.BanksActive)
	chans := min(target.ChansActive, newValues.ChansActive)
	for b := 0; b < banks; b++ {
		for c := 0; c < chans; c++ {
			if flags.Get(b, c) == replaceFlag {
				target.Set(b, c, newValues.Get(b, c))
			}
		}
	}
}

// IdentifyWinningBanks scans source[0..activeBanks) per channel for
// the argmax bank, returning the per-channel selection and whether
// that winner was an interior bank (neither bank 0 nor the last
// scanned bank).
func IdentifyWinningBanks[T interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}](source *Slice[T], activeBanks, activeChans int) (selections []int, wasLocal []bool) {
	selections = make([]int, activeChans)
	wasLocal = make([]bool, activeChans)
	IdentifyWinningBanksInto(source, activeBanks, activeChans, selections, wasLocal)
	return selections, wasLocal
}

// IdentifyWinningBanksInto is IdentifyWinningBanks writing into
// caller-owned storage, for tick loops that must not allocate.
func IdentifyWinningBanksInto[T interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}](source *Slice[T], activeBanks, activeChans int, selections []int, wasLocal []bool) {
	for c := 0; c < activeChans && c < len(selections); c++ {
		best := 0
		bestVal := source.Get(0, c)
		for b := 1; b < activeBanks; b++ {
			v := source.Get(b, c)
			if v > bestVal {
				bestVal = v
				best = b
			}
		}
		selections[c] = best
		if c < len(wasLocal) {
			wasLocal[c] = best != 0 && best != activeBanks-1
		}
	}
}
