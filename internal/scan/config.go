package scan

import (
	"errors"
	"fmt"
	"math"

	"github.com/soniakeys/unit"
)

const (
	// DefaultHorizon is how far past the start a run scans when no end is given.
	DefaultHorizon = 100.0

	// DefaultMaxPassDuration bounds the loss search when no WithMaxPassDuration
	// option is given.
	DefaultMaxPassDuration = 100.0

	// skipSteps is how many steps past a pass's loss the cursor resumes, so the
	// trailing descent of the same pass is not detected again.
	skipSteps = 5
)

// ErrInvalidConfig is matched by every *ConfigError.
var ErrInvalidConfig = errors.New("scan: invalid configuration")

// ConfigError reports a rejected configuration parameter.
type ConfigError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scan: invalid %s %g: %s", e.Field, e.Value, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) true for any *ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Config holds the scan parameters. It is immutable once built by NewConfig.
type Config struct {
	threshold unit.Angle
	minPeak   unit.Angle
	step      float64
	tolerance float64
	maxPass   float64
}

// Option adjusts a Config under construction.
type Option func(*Config)

// WithMinPeak drops passes whose refined peak elevation is below a.
// Values below the threshold have no effect.
func WithMinPeak(a unit.Angle) Option {
	return func(c *Config) {
		c.minPeak = a
	}
}

// WithMaxPassDuration bounds how long after acquisition the scanner keeps
// stepping to bracket the loss. A pass still above the threshold after d ends
// the run. d must exceed the step.
func WithMaxPassDuration(d float64) Option {
	return func(c *Config) {
		c.maxPass = d
	}
}

// NewConfig validates and builds a scan configuration. step is the coarse scan
// cadence and tolerance the convergence tolerance of both refinements, in the
// same time units the oracle is queried in.
func NewConfig(threshold unit.Angle, step, tolerance float64, opts ...Option) (Config, error) {
	c := Config{
		threshold: threshold,
		minPeak:   unit.Angle(math.Inf(-1)),
		step:      step,
		tolerance: tolerance,
		maxPass:   DefaultMaxPassDuration,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	switch {
	case math.IsNaN(c.threshold.Rad()) || math.IsInf(c.threshold.Rad(), 0):
		return &ConfigError{Field: "threshold", Value: c.threshold.Rad(), Reason: "must be finite"}
	case !(c.step > 0) || math.IsInf(c.step, 0):
		return &ConfigError{Field: "step", Value: c.step, Reason: "must be positive and finite"}
	case !(c.tolerance > 0):
		return &ConfigError{Field: "tolerance", Value: c.tolerance, Reason: "must be positive"}
	case c.tolerance >= c.step:
		return &ConfigError{Field: "tolerance", Value: c.tolerance, Reason: fmt.Sprintf("must be finer than step %g", c.step)}
	case !(c.maxPass > c.step) || math.IsInf(c.maxPass, 0):
		return &ConfigError{Field: "max_pass_duration", Value: c.maxPass, Reason: fmt.Sprintf("must be finite and exceed step %g", c.step)}
	case math.IsNaN(c.minPeak.Rad()):
		return &ConfigError{Field: "min_peak", Value: c.minPeak.Rad(), Reason: "must not be NaN"}
	}
	return nil
}

// Threshold returns the elevation a pass must reach.
func (c Config) Threshold() unit.Angle { return c.threshold }

// MinPeak returns the lowest peak elevation a yielded pass may have.
func (c Config) MinPeak() unit.Angle {
	if c.minPeak > c.threshold {
		return c.minPeak
	}
	return c.threshold
}

// Step returns the coarse scan cadence.
func (c Config) Step() float64 { return c.step }

// Tolerance returns the refinement tolerance.
func (c Config) Tolerance() float64 { return c.tolerance }

// MaxPassDuration returns the loss search bound.
func (c Config) MaxPassDuration() float64 { return c.maxPass }
