package scan

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
)

// Sequence produces pass streams for one oracle and configuration.
// It holds no per-run state, so one Sequence may serve concurrent runs.
type Sequence struct {
	oracle Oracle
	cfg    Config
	logger *slog.Logger
}

// NewSequence validates cfg and returns a Sequence. A nil logger discards.
func NewSequence(oracle Oracle, cfg Config, logger *slog.Logger) (*Sequence, error) {
	if oracle == nil {
		return nil, fmt.Errorf("scan: nil oracle")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Sequence{oracle: oracle, cfg: cfg, logger: logger}, nil
}

// Config returns the sequence configuration.
func (q *Sequence) Config() Config { return q.cfg }

// Passes lazily yields the passes detected while the cursor moves from start
// to end, in time order. Every call starts a fresh scan, so ranging twice
// over the result yields the same events.
func (q *Sequence) Passes(start, end float64) iter.Seq[Event] {
	return q.PassesContext(context.Background(), start, end)
}

// PassesContext is Passes that also stops once ctx is done, checked at every
// coarse step. The caller tells a cut-short run from a complete one by
// checking ctx.Err after ranging.
func (q *Sequence) PassesContext(ctx context.Context, start, end float64) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		s := newScanner(ctx, q.oracle, q.cfg, q.logger, start, end)
		for {
			ev, ok := s.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// PassesFrom is Passes with the end DefaultHorizon units after start.
func (q *Sequence) PassesFrom(start float64) iter.Seq[Event] {
	return q.Passes(start, start+DefaultHorizon)
}

// Scanner returns a scanner positioned at start for callers that drive the
// scan with Next directly.
func (q *Sequence) Scanner(start, end float64) *Scanner {
	return newScanner(context.Background(), q.oracle, q.cfg, q.logger, start, end)
}
