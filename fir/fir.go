// Package fir implements the FIR filter bank: one fixed-point filter
// per bank, all banks reading the same per-channel circular input
// buffer so different sub-bands are extracted from one shared history.
package fir

import (
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/numeric"
)

// Filter is one bank's coefficient set. CoeffCount may be less than
// len(Coeffs); the remainder is inactive. With CoeffCount == 0 the
// filter produces zero output for every input.
type Filter[S constraints.Integer] struct {
	FracBits   uint8
	CoeffCount int
	Coeffs     []S
}

// Bank holds one Filter per bank plus one circular input buffer per
// channel, shared across banks. The buffer length is a power of two
// and indexing is by mask, never by modulo.
type Bank[S constraints.Integer] struct {
	banksCount, chansCount int
	bufLen                 int
	bufMask                int

	filters []Filter[S]
	bufs    [][]S
	bufPtr  int

	BanksActive, ChansActive int
}

// NewBank allocates a bank with banksCount filters of up to maxCoeffs
// taps each, and one bufLen-deep input buffer per channel. bufLen must
// be a power of two at least maxCoeffs; behavior is undefined
// otherwise.
func NewBank[S constraints.Integer](banksCount, chansCount, maxCoeffs, bufLen int) *Bank[S] {
	b := &Bank[S]{
		banksCount:  banksCount,
		chansCount:  chansCount,
		bufLen:      bufLen,
		bufMask:     bufLen - 1,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	b.filters = make([]Filter[S], banksCount)
	for bk := range b.filters {
		b.filters[bk].Coeffs = make([]S, maxCoeffs)
	}
	b.bufs = make([][]S, chansCount)
	for ch := range b.bufs {
		b.bufs[ch] = make([]S, bufLen)
	}
	return b
}

// SetOneCoefficient writes tap idx of bank's filter. Out-of-range
// indices are silently ignored.
func (b *Bank[S]) SetOneCoefficient(bank, idx int, val S) {
	if bank < 0 || bank >= b.banksCount {
		return
	}
	f := &b.filters[bank]
	if idx < 0 || idx >= len(f.Coeffs) {
		return
	}
	f.Coeffs[idx] = val
}

// SetOneGeometry sets bank's fractional shift and active tap count.
// CoeffCount is clamped to the allocated tap capacity; zero is
// accepted and yields a zero-output filter with FracBits still set.
func (b *Bank[S]) SetOneGeometry(bank int, fracBits uint8, coeffCount int) {
	if bank < 0 || bank >= b.banksCount {
		return
	}
	f := &b.filters[bank]
	if coeffCount < 0 {
		coeffCount = 0
	}
	if coeffCount > len(f.Coeffs) {
		coeffCount = len(f.Coeffs)
	}
	f.FracBits = fracBits
	f.CoeffCount = coeffCount
}

// Filter returns a copy of bank's filter configuration for inspection
// and CSV export. Out-of-range bank returns a zero Filter.
func (b *Bank[S]) Filter(bank int) Filter[S] {
	if bank < 0 || bank >= b.banksCount {
		return Filter[S]{}
	}
	f := b.filters[bank]
	coeffs := make([]S, len(f.Coeffs))
	copy(coeffs, f.Coeffs)
	f.Coeffs = coeffs
	return f
}

// BankCount returns the allocated bank capacity.
func (b *Bank[S]) BankCount() int { return b.banksCount }

// ApplyBankOnce advances the shared input buffers by one sample per
// channel (taken from in, shape [1][C]) and computes every active
// bank's filter output into out (shape [B][C]). Inactive output cells
// within the compiled geometry are zeroed.
func (b *Bank[S]) ApplyBankOnce(in [][]S, out [][]S) {
	for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
		b.bufs[ch][b.bufPtr] = in[0][ch]
	}
	b.bufPtr = (b.bufPtr + 1) & b.bufMask

	for bk := 0; bk < b.banksCount; bk++ {
		f := &b.filters[bk]
		active := bk < b.BanksActive
		readIdx := (b.bufPtr - f.CoeffCount) & b.bufMask
		for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
			if !active {
				out[bk][ch] = 0
				continue
			}
			buf := b.bufs[ch]
			var acc S
			for k := 0; k < f.CoeffCount; k++ {
				acc += f.Coeffs[k] * buf[(readIdx+k)&b.bufMask]
			}
			out[bk][ch] = numeric.ShiftRight(acc, int(f.FracBits))
		}
	}
}

// FastSettleBuffers fills every cell of every channel's input buffer
// with that channel's current sample and rewinds the shared pointer,
// so a DC-biased input does not take bufLen ticks to flush through.
func (b *Bank[S]) FastSettleBuffers(in [][]S) {
	for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
		x := in[0][ch]
		for i := range b.bufs[ch] {
			b.bufs[ch][i] = x
		}
	}
	b.bufPtr = 0
}
