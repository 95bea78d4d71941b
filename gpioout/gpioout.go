// Package gpioout drives stimulation hardware from the pipeline's
// boolean pulse slice: each enabled (bank, channel) cell maps to one
// GPIO output line, raised while the cell's pulse flag is true. This
// is a boundary driver; it may block on the character device and is
// never called from the streaming core itself.
package gpioout

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "gpioout"})

// Driver owns the requested output lines. A nil line in the grid means
// that cell has no hardware output and its pulse flag is ignored.
type Driver struct {
	lines [][]*gpiocdev.Line
	last  [][]bool
}

// New requests one output line per entry of offsets (row per bank,
// column per channel; a negative offset skips that cell) from the
// named chip, all initialized low. On error every line already
// requested is released.
func New(chip string, offsets [][]int) (*Driver, error) {
	d := &Driver{
		lines: make([][]*gpiocdev.Line, len(offsets)),
		last:  make([][]bool, len(offsets)),
	}
	for b, row := range offsets {
		d.lines[b] = make([]*gpiocdev.Line, len(row))
		d.last[b] = make([]bool, len(row))
		for c, offset := range row {
			if offset < 0 {
				continue
			}
			line, err := gpiocdev.RequestLine(chip, offset,
				gpiocdev.AsOutput(0))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("requesting %s line %d for bank %d chan %d: %w",
					chip, offset, b, c, err)
			}
			d.lines[b][c] = line
			logger.Info("requested stimulation line", "chip", chip,
				"offset", offset, "bank", b, "chan", c)
		}
	}
	return d, nil
}

// Apply pushes one tick's pulse slice to the hardware. Only cells
// whose flag changed since the previous call touch the device, so a
// quiet pipeline costs no syscalls.
func (d *Driver) Apply(pulses [][]bool) error {
	for b := range d.lines {
		if b >= len(pulses) {
			break
		}
		for c, line := range d.lines[b] {
			if line == nil || c >= len(pulses[b]) {
				continue
			}
			v := pulses[b][c]
			if v == d.last[b][c] {
				continue
			}
			val := 0
			if v {
				val = 1
			}
			if err := line.SetValue(val); err != nil {
				return fmt.Errorf("setting bank %d chan %d: %w", b, c, err)
			}
			d.last[b][c] = v
		}
	}
	return nil
}

// Close lowers and releases every requested line. Safe to call on a
// partially-constructed driver.
func (d *Driver) Close() {
	for b := range d.lines {
		for c, line := range d.lines[b] {
			if line == nil {
				continue
			}
			if err := line.SetValue(0); err != nil {
				logger.Warn("lowering line on close", "bank", b, "chan", c, "err", err)
			}
			line.Close()
			d.lines[b][c] = nil
		}
	}
}
