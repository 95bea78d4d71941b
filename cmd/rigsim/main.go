// rigsim drives a full pipeline instance from a rig descriptor: it
// feeds a synthetic square-wave burst (or samples from a CSV file)
// through every stage and reports each tick on which any stimulation
// pulse fires. With --gpio and a GPIO mapping in the descriptor it
// also raises the real output lines, which is enough to bench-test a stimulator
// without an amplifier attached.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/closedloop-dsp/biostim/biquad"
	"github.com/closedloop-dsp/biostim/csvio"
	"github.com/closedloop-dsp/biostim/gpioout"
	"github.com/closedloop-dsp/biostim/pipeline"
	"github.com/closedloop-dsp/biostim/rigconfig"
	"github.com/closedloop-dsp/biostim/slicebuf"
)

const (
	firTaps   = 64
	firBufLen = 128
	lutRows   = 64
)

func main() {
	var configPath = pflag.StringP("config", "c", "rig.yaml", "Rig descriptor YAML.")
	var ticks = pflag.IntP("ticks", "n", 2000, "Number of samples to simulate.")
	var amplitude = pflag.IntP("amplitude", "a", 1000, "Synthetic burst amplitude.")
	var period = pflag.IntP("period", "p", 40, "Synthetic oscillation period in samples.")
	var burstStart = pflag.Int("burst-start", 200, "First tick of the synthetic burst.")
	var burstLen = pflag.Int("burst-len", 800, "Length of the synthetic burst in ticks.")
	var samplePath = pflag.StringP("samples", "s", "", "Read channel 0 samples from this CSV instead of synthesizing.")
	var window = pflag.Uint64P("window", "w", 0, "Trigger window in ticks. Defaults to the whole run.")
	var maxPulses = pflag.Uint64P("max-pulses", "x", 10, "Pulse quota within the window.")
	var useGPIO = pflag.BoolP("gpio", "g", false, "Drive the descriptor's GPIO lines.")
	var vote = pflag.BoolP("vote", "v", false, "Winner-take-all across banks: per channel only the strongest bank may stimulate.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s --config rig.yaml [options]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return
	}

	rig, err := rigconfig.Load(*configPath)
	if err != nil {
		log.Fatal("loading rig", "err", err)
	}

	p := pipeline.New[int32, uint32](rig.Banks, rig.Chans, rig.Stages, lutRows, firTaps, firBufLen)
	p.ApplyRig(rig)
	p.VoteWinners = *vote
	loadCoefficients(p, rig)

	if *window == 0 {
		*window = uint64(*ticks)
	}
	p.Arm(uint32(*window), uint32(*maxPulses))

	var driver *gpioout.Driver
	if *useGPIO && rig.GPIOChip != "" {
		driver, err = gpioout.New(rig.GPIOChip, rig.GPIOLines)
		if err != nil {
			log.Fatal("requesting GPIO lines", "err", err)
		}
		defer driver.Close()
	}

	samples := synthesize(*ticks, *amplitude, *period, *burstStart, *burstLen)
	if *samplePath != "" {
		samples, err = readSamples(*samplePath)
		if err != nil {
			log.Fatal("reading samples", "err", err)
		}
	}

	// Latch which cells ever fired across the whole run.
	everFired := slicebuf.New[bool](rig.Banks, rig.Chans)
	allTrue := slicebuf.New[bool](rig.Banks, rig.Chans)
	allTrue.Fill(true)
	pulseGrid := slicebuf.New[bool](rig.Banks, rig.Chans)

	in := make([]int32, rig.Chans)
	pulseTicks := 0
	for tick, s := range samples {
		for c := range in {
			in[c] = s
		}
		pulses := p.Tick(in)
		if driver != nil {
			if err := driver.Apply(pulses); err != nil {
				log.Fatal("driving GPIO", "err", err)
			}
		}
		for b := range pulses {
			for c := range pulses[b] {
				pulseGrid.Set(b, c, pulses[b][c])
			}
		}
		slicebuf.ConditionallyLatchNew(everFired, allTrue, pulseGrid, true)
		if fired, bank, ch := anyPulse(pulses); fired {
			pulseTicks++
			if *vote {
				winners := p.WinnerEnvelopes()
				log.Info("pulse", "tick", tick, "bank", bank, "chan", ch,
					"winner_bank", p.WinnerSelections()[ch],
					"winner_envelope", winners.Get(0, ch))
			} else {
				log.Info("pulse", "tick", tick, "bank", bank, "chan", ch)
			}
		}
	}

	firedCells := 0
	for b := 0; b < rig.Banks; b++ {
		for c := 0; c < rig.Chans; c++ {
			if everFired.Get(b, c) {
				firedCells++
				log.Info("stimulated cell", "bank", b, "chan", c)
			}
		}
	}
	log.Info("run complete", "ticks", len(samples),
		"pulse_ticks", pulseTicks, "cells", firedCells)
}

func loadCoefficients(p *pipeline.Pipeline[int32, uint32], rig *rigconfig.Rig) {
	if rig.BiquadCSV != "" {
		f, err := os.Open(rig.BiquadCSV)
		if err != nil {
			log.Fatal("opening biquad CSV", "err", err)
		}
		defer f.Close()
		if err := csvio.LoadBiquads(f, p.Filters, nil, nil); err != nil {
			log.Fatal("loading biquad CSV", "err", err)
		}
	} else {
		// No filter file: run every bank as a unity section so the
		// analytic stage sees the ranged input directly.
		for b := 0; b < rig.Banks; b++ {
			p.Filters.SetCoefficients(0, b, biquad.Coefficients[int32]{B0: 1})
		}
	}
	if rig.DelayCSV != "" {
		f, err := os.Open(rig.DelayCSV)
		if err != nil {
			log.Fatal("opening delay CSV", "err", err)
		}
		defer f.Close()
		if err := csvio.ReadBankLUTCSV(f, p.DelayLUT, "period", "delay"); err != nil {
			log.Fatal("loading delay CSV", "err", err)
		}
	}
	if rig.FIRCSV != "" {
		f, err := os.Open(rig.FIRCSV)
		if err != nil {
			log.Fatal("opening FIR CSV", "err", err)
		}
		defer f.Close()
		if err := csvio.LoadFIR(f, p.FIRFilters, 0, nil, nil); err != nil {
			log.Fatal("loading FIR CSV", "err", err)
		}
		p.UseFIR = true
	}
}

// synthesize produces a quiet baseline with one square-wave burst in
// the middle, the same stimulus shape the estimator tests use.
func synthesize(ticks, amplitude, period, burstStart, burstLen int) []int32 {
	out := make([]int32, ticks)
	for t := burstStart; t < burstStart+burstLen && t < ticks; t++ {
		phase := (t - burstStart) % period
		if phase < period/2 {
			out[t] = int32(amplitude)
		} else {
			out[t] = int32(-amplitude)
		}
	}
	return out
}

func readSamples(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sample file: %w", err)
	}
	defer f.Close()

	var samples []int32
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		first, _, _ := strings.Cut(line, ",")
		v, err := strconv.ParseInt(strings.TrimSpace(first), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing sample %q: %w", line, err)
		}
		samples = append(samples, int32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading sample file: %w", err)
	}
	return samples, nil
}

func anyPulse(pulses [][]bool) (bool, int, int) {
	for b := range pulses {
		for c := range pulses[b] {
			if pulses[b][c] {
				return true, b, c
			}
		}
	}
	return false, 0, 0
}
