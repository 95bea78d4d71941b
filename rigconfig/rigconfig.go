// Package rigconfig loads the rig geometry descriptor: a YAML file
// naming the pipeline dimensions, the auto-ranger output window, the
// detection thresholds, and the trigger timing for one experimental
// rig. The streaming core never reads files itself; this package is
// the configuration collaborator that feeds its setters.
package rigconfig

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "rigconfig"})

// Rig describes one pipeline instance. Counts are clamped by the
// modules' own setters, so a descriptor larger than the compiled
// geometry degrades to the compiled bounds instead of failing.
type Rig struct {
	Name string `yaml:"name"`

	Banks  int `yaml:"banks"`
	Chans  int `yaml:"chans"`
	Stages int `yaml:"stages"`

	// Auto-ranger output window.
	RangeMin int64 `yaml:"range_min"`
	RangeMax int64 `yaml:"range_max"`

	// Envelope smoothing and burst detection.
	AvgBits       uint8  `yaml:"avg_bits"`
	HighThreshold int64  `yaml:"high_threshold"`
	LowThreshold  int64  `yaml:"low_threshold"`
	RiseDelay     uint64 `yaml:"rise_delay"`
	FallDelay     uint64 `yaml:"fall_delay"`

	// Oscillation band limits, in samples.
	MinPeriod uint64 `yaml:"min_period"`

	// Trigger timing.
	PulseDuration uint64 `yaml:"pulse_duration"`
	PulseCooldown uint64 `yaml:"pulse_cooldown"`
	ReraiseOK     bool   `yaml:"reraise_ok"`
	PhaseFraction uint64 `yaml:"phase_fraction"`

	// Coefficient files, stored as written; Load does not resolve them
	// against the descriptor's directory.
	BiquadCSV string `yaml:"biquad_csv"`
	FIRCSV    string `yaml:"fir_csv"`
	DelayCSV  string `yaml:"delay_csv"`

	// GPIO output mapping: one line offset per (bank, channel), row
	// per bank. Empty means no hardware output.
	GPIOChip  string  `yaml:"gpio_chip"`
	GPIOLines [][]int `yaml:"gpio_lines,omitempty"`
}

// searchLocations is tried in order when Load is given a bare name
// rather than an existing path.
var searchLocations = []string{
	".",
	"rigs",
	"/usr/local/share/biostim/rigs",
	"/usr/share/biostim/rigs",
}

// Load reads a rig descriptor. A path that does not exist as given is
// retried against each search location.
func Load(path string) (*Rig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		for _, dir := range searchLocations {
			candidate := dir + "/" + path
			if d, e := os.ReadFile(candidate); e == nil {
				data, err = d, nil
				path = candidate
				break
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("opening rig descriptor %q: %w", path, err)
	}

	var rig Rig
	if err := yaml.Unmarshal(data, &rig); err != nil {
		return nil, fmt.Errorf("parsing rig descriptor %q: %w", path, err)
	}
	rig.applyDefaults()
	logger.Info("loaded rig descriptor", "path", path, "name", rig.Name,
		"banks", rig.Banks, "chans", rig.Chans)
	return &rig, nil
}

func (r *Rig) applyDefaults() {
	if r.Banks < 1 {
		r.Banks = 1
	}
	if r.Chans < 1 {
		r.Chans = 1
	}
	if r.Stages < 1 {
		r.Stages = 1
	}
	if r.PulseDuration < 1 {
		r.PulseDuration = 1
	}
	if r.PulseCooldown < 1 {
		r.PulseCooldown = 1
	}
	if r.PhaseFraction > 255 {
		r.PhaseFraction = 255
	}
}

// Save writes the descriptor back out as YAML.
func Save(path string, rig *Rig) error {
	data, err := yaml.Marshal(rig)
	if err != nil {
		return fmt.Errorf("encoding rig descriptor: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing rig descriptor %q: %w", path, err)
	}
	return nil
}
