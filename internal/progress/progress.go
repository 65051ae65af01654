// Package progress reports how far an analysis request has come.
//
// Two strategies exist. Simulated interpolates elapsed time against an
// expected duration and never reflects server work. Transfer follows the
// bytes actually read from the upload body. Both only move forward until
// Reset.
package progress

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Complete is the value reported once a request has settled successfully.
const Complete = 100.0

// Reporter exposes a 0-100 progress value for one request at a time.
type Reporter interface {
	// Track wraps the request body. Implementations that do not follow bytes
	// return r unchanged.
	Track(r io.Reader, size int64) io.Reader
	// Start begins reporting. Timers stop when ctx is done.
	Start(ctx context.Context)
	Value() float64
	// Finish stops any timer and brings the value to exactly 100. It returns
	// early, still at 100, when ctx is done.
	Finish(ctx context.Context)
	// Reset stops any timer and returns the value to 0.
	Reset()
}

// Mode selects a Reporter implementation.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeTransfer  Mode = "transfer"
)

// Factory builds a fresh Reporter per analysis.
type Factory func() Reporter

// NewFactory returns a Factory for mode.
func NewFactory(mode Mode, cfg SimulatedConfig) (Factory, error) {
	switch mode {
	case ModeSimulated, "":
		return func() Reporter { return NewSimulated(cfg) }, nil
	case ModeTransfer:
		return func() Reporter { return NewTransfer() }, nil
	default:
		return nil, fmt.Errorf("unknown progress mode %q", mode)
	}
}

// SimulatedConfig tunes the simulated strategy.
type SimulatedConfig struct {
	// Expected is the request duration at which the cap is reached.
	Expected time.Duration
	// Tick is how often the value is recomputed while waiting.
	Tick time.Duration
	// Cap bounds the value while the response is outstanding.
	Cap float64
	// FinishStep and FinishInterval animate the remainder to 100.
	FinishStep     float64
	FinishInterval time.Duration
}

// DefaultSimulatedConfig mirrors the timings of the upload screen.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Expected:       3 * time.Second,
		Tick:           100 * time.Millisecond,
		Cap:            90,
		FinishStep:     5,
		FinishInterval: 20 * time.Millisecond,
	}
}

func (c SimulatedConfig) withDefaults() SimulatedConfig {
	d := DefaultSimulatedConfig()
	if c.Expected <= 0 {
		c.Expected = d.Expected
	}
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.Cap <= 0 || c.Cap >= Complete {
		c.Cap = d.Cap
	}
	if c.FinishStep <= 0 {
		c.FinishStep = d.FinishStep
	}
	if c.FinishInterval < 0 {
		c.FinishInterval = 0
	}
	return c
}
