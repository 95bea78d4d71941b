// Package biquad implements the cascaded Direct Form I IIR filter
// bank: one chain of biquad stages per (bank, channel), sharing a
// fixed power-of-two circular history buffer per stage.
package biquad

import (
	"golang.org/x/exp/constraints"

	"github.com/closedloop-dsp/biostim/numeric"
)

// BufferLen is the circular history depth: fixed at compile time, a
// power of two, large enough to hold the three-tap (current, -1, -2)
// history every stage needs without carrying extra samples.
const BufferLen = 4

const bufferMask = BufferLen - 1

// Coefficients is one biquad section: a0 = 2^A0Bits.
type Coefficients[S constraints.Integer] struct {
	A0Bits     uint8
	A1, A2     S
	B0, B1, B2 S
}

// Chain is stagecount+1 circular history buffers for one (bank,
// channel) pair, plus the rolling buffer pointer and the number of
// stages currently active.
type Chain[S constraints.Integer] struct {
	buffers      [][BufferLen]S
	bufPtr       int
	StagesActive int
}

// NewChain allocates a chain with capacity for stageCount stages (so
// stageCount+1 history buffers).
func NewChain[S constraints.Integer](stageCount int) *Chain[S] {
	return &Chain[S]{
		buffers: make([][BufferLen]S, stageCount+1),
	}
}

// Tick advances the chain by one sample. The returned value is read
// from the output buffer before this tick's write, so it is whatever
// was computed into that same circular slot BufferLen ticks ago. That
// read-before-write is what gives the chain its BufferLen-tick settle
// latency.
func (c *Chain[S]) Tick(coeffs []Coefficients[S], x S) S {
	p := c.bufPtr
	out := c.buffers[c.StagesActive][p]

	c.buffers[0][p] = x

	for s := 0; s < c.StagesActive && s < len(coeffs); s++ {
		coef := coeffs[s]
		x0 := c.buffers[s][p]
		x1 := c.buffers[s][(p-1)&bufferMask]
		x2 := c.buffers[s][(p-2)&bufferMask]
		y1 := c.buffers[s+1][(p-1)&bufferMask]
		y2 := c.buffers[s+1][(p-2)&bufferMask]

		acc := coef.B0*x0 + coef.B1*x1 + coef.B2*x2 - coef.A1*y1 - coef.A2*y2
		y := numeric.ShiftRight(acc, int(coef.A0Bits))
		c.buffers[s+1][p] = y
	}

	c.bufPtr = (p + 1) & bufferMask
	return out
}

// FastSettleBuffers overrides the default all-zero cold start: buffer
// 0 is filled with the current input everywhere; buffer s+1 is filled
// with the input (copyInput[s] true, for a low-pass stage) or zero
// (for a high-pass or band-pass stage).
func (c *Chain[S]) FastSettleBuffers(x S, copyInput []bool) {
	for i := range c.buffers[0] {
		c.buffers[0][i] = x
	}
	for s := 1; s < len(c.buffers); s++ {
		fill := S(0)
		if s-1 < len(copyInput) && copyInput[s-1] {
			fill = x
		}
		for i := range c.buffers[s] {
			c.buffers[s][i] = fill
		}
	}
}

// Bank holds one Chain per (bank, channel) and the coefficients shared
// within each bank.
type Bank[S constraints.Integer] struct {
	banksCount, chansCount, stageCount int
	chains                             [][]*Chain[S]
	coeffs                             [][]Coefficients[S] // per bank, per stage
	BanksActive, ChansActive           int
}

// NewBank allocates a bank with banksCount*chansCount independent
// chains, each with stageCount stages.
func NewBank[S constraints.Integer](banksCount, chansCount, stageCount int) *Bank[S] {
	b := &Bank[S]{
		banksCount:  banksCount,
		chansCount:  chansCount,
		stageCount:  stageCount,
		BanksActive: banksCount,
		ChansActive: chansCount,
	}
	b.chains = make([][]*Chain[S], banksCount)
	b.coeffs = make([][]Coefficients[S], banksCount)
	for bk := 0; bk < banksCount; bk++ {
		b.chains[bk] = make([]*Chain[S], chansCount)
		b.coeffs[bk] = make([]Coefficients[S], stageCount)
		for ch := 0; ch < chansCount; ch++ {
			b.chains[bk][ch] = NewChain[S](stageCount)
		}
	}
	return b
}

// SetCoefficients writes c into the named stage of the named bank.
// Coefficients are shared across the bank, so every channel's chain
// picks them up, and every channel's StagesActive is raised to include
// this stage if needed.
func (b *Bank[S]) SetCoefficients(stage, bank int, c Coefficients[S]) {
	if bank < 0 || bank >= b.banksCount || stage < 0 || stage >= b.stageCount {
		return
	}
	b.coeffs[bank][stage] = c
	for ch := 0; ch < b.chansCount; ch++ {
		b.chains[bank][ch].StagesActive = max(b.chains[bank][ch].StagesActive, stage+1)
	}
}

// Coeff returns the coefficients at (bank, stage). Out-of-range
// indices return the zeroed record, which is itself a valid filter.
func (b *Bank[S]) Coeff(bank, stage int) Coefficients[S] {
	if bank < 0 || bank >= b.banksCount || stage < 0 || stage >= b.stageCount {
		return Coefficients[S]{}
	}
	return b.coeffs[bank][stage]
}

// BankCount returns the allocated bank capacity.
func (b *Bank[S]) BankCount() int { return b.banksCount }

// StageCount returns the allocated stage capacity per chain.
func (b *Bank[S]) StageCount() int { return b.stageCount }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SetStagesActive overrides how many stages of bank `bank`'s chains
// are applied, for every channel.
func (b *Bank[S]) SetStagesActive(bank, stagesActive int) {
	if bank < 0 || bank >= b.banksCount {
		return
	}
	for ch := 0; ch < b.chansCount; ch++ {
		b.chains[bank][ch].StagesActive = stagesActive
	}
}

// ApplyBankOnce processes in (shape [1][C]) through every active
// (bank, channel) chain, writing results into out (shape [B][C]).
// Only [0, BanksActive) x [0, ChansActive) is touched.
func (b *Bank[S]) ApplyBankOnce(in [][]S, out [][]S) {
	for bk := 0; bk < b.BanksActive && bk < b.banksCount; bk++ {
		for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
			x := in[0][ch]
			out[bk][ch] = b.chains[bk][ch].Tick(b.coeffs[bk], x)
		}
	}
}

// FastSettleBuffers applies Chain.FastSettleBuffers to every active
// (bank, channel) chain using the current input slice.
func (b *Bank[S]) FastSettleBuffers(in [][]S, copyInput [][]bool) {
	for bk := 0; bk < b.BanksActive && bk < b.banksCount; bk++ {
		for ch := 0; ch < b.ChansActive && ch < b.chansCount; ch++ {
			var ci []bool
			if bk < len(copyInput) {
				ci = copyInput[bk]
			}
			b.chains[bk][ch].FastSettleBuffers(in[0][ch], ci)
		}
	}
}
