// Package scan finds passes: intervals during which an object's elevation,
// reported by an Oracle, stays at or above a threshold.
//
// A Scanner walks time at a fixed step looking for an ascending crossing of
// the threshold, then refines the acquisition and loss instants by bisection
// and the peak by grid narrowing (see package solver). Time is an abstract
// float64; the caller picks the unit and expresses step and tolerance in it.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/solver"
)

// ErrUnreachable is returned by refinement when the object is still above the
// threshold MaxPassDuration after acquisition. It ends the run without error.
var ErrUnreachable = errors.New("scan: loss crossing not reachable")

// errTouch reports a candidate whose acquisition and loss coincide: the object
// reached the threshold at one sample without rising above it.
var errTouch = errors.New("scan: threshold touched without a pass")

type state int

const (
	stateScanning state = iota
	stateRefining
	stateDone
)

// Scanner is the state of one forward scan. It is not safe for concurrent use;
// each run owns its own Scanner.
type Scanner struct {
	ctx    context.Context
	oracle Oracle
	cfg    Config
	logger *slog.Logger

	limit float64 // the cursor stops once it passes limit

	state      state
	prev, curr Sample
	err        error
}

func newScanner(ctx context.Context, oracle Oracle, cfg Config, logger *slog.Logger, start, end float64) *Scanner {
	s := &Scanner{
		ctx:    ctx,
		oracle: oracle,
		cfg:    cfg,
		logger: logger,
		limit:  end,
		state:  stateScanning,
	}
	s.prev = s.sample(start - cfg.step)
	s.curr = s.sample(start)
	return s
}

func (s *Scanner) sample(t float64) Sample {
	return Sample{T: t, Elevation: s.oracle.Elevation(t)}
}

// Next advances the scan to the next pass. It returns false once the cursor
// has passed the end of the run or the scanner's context is done.
func (s *Scanner) Next() (Event, bool) {
	for {
		if s.state != stateDone {
			if err := s.ctx.Err(); err != nil {
				s.err = err
				s.state = stateDone
			}
		}

		switch s.state {
		case stateScanning:
			if s.crossing() {
				s.state = stateRefining
				continue
			}
			s.advance()

		case stateRefining:
			ev, err := s.refine()
			switch {
			case s.ctx.Err() != nil:
				// Checked at the top of the loop.

			case errors.Is(err, ErrUnreachable):
				metrics.IncScanDropped("unreachable")
				s.logger.Debug("loss crossing not reachable, ending scan",
					"component", "scan",
					"aos_bracket_start", s.prev.T,
					"max_pass_duration", s.cfg.maxPass,
				)
				s.state = stateDone

			case errors.Is(err, errTouch):
				metrics.IncScanDropped("touch")
				s.state = stateScanning
				s.advance()

			case err != nil:
				// Resume from the detection point; there is no loss to skip past.
				metrics.IncScanDropped("bracket")
				s.logger.Debug("candidate pass dropped",
					"component", "scan",
					"prev", s.prev.T,
					"curr", s.curr.T,
					"error", err,
				)
				s.state = stateScanning
				s.advance()

			case ev.MaxElevation < s.cfg.MinPeak():
				s.logger.Debug("pass below minimum peak",
					"component", "scan",
					"aos", ev.AOS,
					"max_elevation_deg", ev.MaxElevation.Deg(),
				)
				s.state = stateScanning
				s.fastForward(ev.LOS)

			default:
				metrics.IncScanPasses()
				s.state = stateScanning
				s.fastForward(ev.LOS)
				return ev, true
			}

		default:
			return Event{}, false
		}
	}
}

// crossing reports an ascending threshold crossing between prev and curr.
// The strict-to-inclusive comparison means an object that only touches the
// threshold at a sample is detected but then fails refinement.
func (s *Scanner) crossing() bool {
	thr := s.cfg.threshold
	return s.prev.Elevation < thr && s.curr.Elevation >= thr
}

// advance moves the cursor one step, or ends the run past the limit.
func (s *Scanner) advance() {
	if s.curr.T > s.limit {
		s.state = stateDone
		return
	}
	s.prev = s.curr
	s.curr = s.sample(s.prev.T + s.cfg.step)
}

// fastForward resumes scanning skipSteps past a pass's loss time.
func (s *Scanner) fastForward(los float64) {
	t := los + skipSteps*s.cfg.step
	if t > s.limit {
		s.state = stateDone
		return
	}
	s.prev = s.sample(t)
	s.curr = s.sample(t + s.cfg.step)
}

// Err returns the context error that stopped the scan, if any.
func (s *Scanner) Err() error { return s.err }

// refine turns the crossing between prev and curr into a full pass. A sample
// exactly at the threshold is the crossing itself: the solver needs a strict
// sign change and would reject that bracket.
func (s *Scanner) refine() (Event, error) {
	thr := s.cfg.threshold
	step, tol := s.cfg.step, s.cfg.tolerance

	above := func(t float64) float64 {
		return (s.oracle.Elevation(t) - thr).Rad()
	}

	aos := s.curr.T
	if s.curr.Elevation != thr {
		var err error
		if aos, err = solver.FindRoot(above, s.prev.T, s.curr.T, tol); err != nil {
			return Event{}, fmt.Errorf("acquisition: %w", err)
		}
	}

	// Step forward from the detection point until the elevation drops.
	lossLimit := s.curr.T + s.cfg.maxPass
	lo := s.curr
	hi := s.sample(lo.T + step)
	for hi.Elevation >= thr {
		if hi.T > lossLimit {
			return Event{}, ErrUnreachable
		}
		if err := s.ctx.Err(); err != nil {
			return Event{}, err
		}
		lo = hi
		hi = s.sample(lo.T + step)
	}

	los := lo.T
	if lo.Elevation != thr {
		var err error
		if los, err = solver.FindRoot(above, lo.T, hi.T, tol); err != nil {
			return Event{}, fmt.Errorf("loss: %w", err)
		}
	}
	if !(aos < los) {
		return Event{}, errTouch
	}

	depth := func(t float64) float64 {
		return -s.oracle.Elevation(t).Rad()
	}
	peak, err := solver.FindMin(depth, aos, los, tol)
	if err != nil {
		return Event{}, fmt.Errorf("peak: %w", err)
	}

	return Event{
		AOS:          aos,
		TCA:          peak.X,
		LOS:          los,
		MaxElevation: unit.Angle(-peak.F),
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
