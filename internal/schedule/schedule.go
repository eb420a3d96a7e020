// Package schedule keeps a rolling list of upcoming passes for a watchlist of
// satellites over one observer.
//
// A background worker recomputes the window [now, now+horizon] on a fixed
// interval. Passes that survive a refresh keep their id; passes seen for the
// first time are handed to the Publisher. Reads are served from the last
// completed refresh and never wait on a running one.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/passes"
	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

// ErrNoDataset is returned by Refresh while no TLE dataset is loaded.
var ErrNoDataset = errors.New("schedule: no TLE dataset loaded")

// Config holds schedule configuration loaded from environment variables.
type Config struct {
	Observer     transform.Observer
	IDs          []int         // NORAD ids to watch; empty watches the whole dataset
	Horizon      time.Duration // how far ahead to schedule (default: 24h)
	Interval     time.Duration // refresh cadence (default: 300s)
	MinElevation unit.Angle
	Step         time.Duration // zero takes the predictor default
	Tolerance    time.Duration // zero takes the predictor default
}

// Entry is one scheduled pass.
type Entry struct {
	ID      uuid.UUID `json:"id"`
	NORADID int       `json:"norad_id"`
	Name    string    `json:"name"`
	passes.PassEvent
}

// Publisher receives passes the first time they enter the schedule.
type Publisher interface {
	Publish(ctx context.Context, entries []Entry) error
}

// Stats describes the schedule state for the API.
type Stats struct {
	Entries          int       `json:"entries"`
	Watched          int       `json:"watched"`
	LastRefresh      time.Time `json:"last_refresh"`
	DatasetFetchedAt time.Time `json:"dataset_fetched_at"`
}

// Schedule is a rolling pass schedule. Safe for concurrent use.
type Schedule struct {
	mu          sync.RWMutex
	entries     []Entry // sorted by StartTime
	lastRefresh time.Time
	dataset     *tle.Dataset

	config    Config
	store     *tle.Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Schedule. publisher may be nil.
func New(config Config, store *tle.Store, publisher Publisher, logger *slog.Logger) *Schedule {
	if config.Horizon <= 0 {
		config.Horizon = 24 * time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = 300 * time.Second
	}

	logger.Info("schedule initialized",
		"component", "schedule",
		"observer_lat", config.Observer.Lat.Deg(),
		"observer_lon", config.Observer.Lon.Deg(),
		"watched_ids", len(config.IDs),
		"horizon_hours", config.Horizon.Hours(),
		"interval_seconds", config.Interval.Seconds(),
	)

	return &Schedule{
		config:    config,
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Upcoming returns scheduled passes that have not ended, soonest first. A
// non-zero noradID restricts the result to one satellite; limit <= 0 means
// no limit.
func (s *Schedule) Upcoming(noradID, limit int) []Entry {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.EndTime.After(now) || (noradID != 0 && e.NORADID != noradID) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Stats returns current schedule statistics.
func (s *Schedule) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Entries:     len(s.entries),
		Watched:     len(s.config.IDs),
		LastRefresh: s.lastRefresh,
	}
	if s.dataset != nil {
		st.DatasetFetchedAt = s.dataset.FetchedAt
		if st.Watched == 0 {
			st.Watched = s.dataset.Len()
		}
	}
	return st
}

// replace swaps in a new entry list.
func (s *Schedule) replace(entries []Entry, ds *tle.Dataset, at time.Time) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return a.NORADID - b.NORADID
	})

	s.mu.Lock()
	s.entries = entries
	s.dataset = ds
	s.lastRefresh = at
	s.mu.Unlock()
}
