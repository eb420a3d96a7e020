package schedule

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/passes"
	"github.com/star/passcast/internal/tle"
)

// Start runs the refresh loop: it waits for a TLE dataset, builds the first
// schedule, then refreshes every Interval. Blocks until ctx is cancelled.
func (s *Schedule) Start(ctx context.Context) {
	if !s.waitForTLEData(ctx) {
		return
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("schedule refresher stopped", "component", "schedule")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// waitForTLEData blocks until a TLE dataset is available in the store,
// checking every second. Returns false if ctx is cancelled.
func (s *Schedule) waitForTLEData(ctx context.Context) bool {
	if s.store.Ready() {
		return true
	}

	s.logger.Info("schedule waiting for TLE data...", "component", "schedule")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if s.store.Ready() {
				return true
			}
		}
	}
}

func (s *Schedule) tick(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		metrics.IncScheduleRefreshErrors()
		s.logger.Warn("schedule refresh failed", "component", "schedule", "error", err)
	}
}

// Refresh recomputes the schedule for [now, now+horizon] and publishes the
// passes that were not in the previous schedule.
func (s *Schedule) Refresh(ctx context.Context) error {
	ds := s.store.Get()
	if ds == nil {
		return ErrNoDataset
	}

	start := time.Now()
	now := s.now().UTC()

	results, err := passes.Predict(ctx, passes.Request{
		Observer:        s.config.Observer,
		Entries:         s.watchlist(ds),
		Start:           now,
		Horizon:         s.config.Horizon,
		MinElevation:    s.config.MinElevation,
		Step:            s.config.Step,
		Tolerance:       s.config.Tolerance,
		GroundTrackStep: -1,
	}, s.logger)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	previous := s.entries
	changed := s.dataset != ds
	s.mu.RUnlock()

	merged, fresh := merge(previous, results, now)
	s.replace(merged, ds, now)

	duration := time.Since(start)
	metrics.SetScheduleEntries(len(merged))
	metrics.ObserveScheduleRefresh(duration)
	s.logger.Info("schedule refreshed",
		"component", "schedule",
		"entries", len(merged),
		"new", len(fresh),
		"dataset_changed", changed,
		"duration_ms", duration.Milliseconds(),
	)

	if s.publisher != nil && len(fresh) > 0 {
		if err := s.publisher.Publish(ctx, fresh); err != nil {
			s.logger.Warn("publishing new passes failed", "component", "schedule", "count", len(fresh), "error", err)
		}
	}
	return nil
}

// watchlist resolves the configured ids against ds.
func (s *Schedule) watchlist(ds *tle.Dataset) []tle.Entry {
	if len(s.config.IDs) == 0 {
		out := make([]tle.Entry, 0, ds.Len())
		seen := make(map[int]bool, ds.Len())
		for _, e := range ds.Satellites {
			if seen[e.NORADID] {
				continue
			}
			seen[e.NORADID] = true
			best, _ := ds.Lookup(e.NORADID)
			out = append(out, best)
		}
		return out
	}

	out := make([]tle.Entry, 0, len(s.config.IDs))
	for _, id := range s.config.IDs {
		e, ok := ds.Lookup(id)
		if !ok {
			s.logger.Warn("watched satellite not in dataset", "component", "schedule", "norad_id", id)
			continue
		}
		out = append(out, e)
	}
	return out
}

// merge combines the previous schedule with fresh predictions made from now.
// A prediction that overlaps a previous entry of the same satellite keeps
// that entry's id. Previous entries already in progress at now are retained,
// since a scan starting at now cannot see their acquisition. It returns the
// merged list and the entries that are new.
func merge(previous []Entry, results []passes.SatellitePasses, now time.Time) (merged, fresh []Entry) {
	bySat := make(map[int][]Entry)
	for _, e := range previous {
		bySat[e.NORADID] = append(bySat[e.NORADID], e)
	}

	for _, e := range previous {
		if e.StartTime.Before(now) && e.EndTime.After(now) {
			merged = append(merged, e)
		}
	}

	for _, sp := range results {
		if sp.Error != "" {
			continue
		}
		for _, p := range sp.Passes {
			if overlapsInProgress(merged, sp.NORADID, p) {
				continue
			}
			entry := Entry{NORADID: sp.NORADID, Name: sp.Name, PassEvent: p}
			if prev, ok := findOverlap(bySat[sp.NORADID], p); ok {
				entry.ID = prev.ID
			} else {
				entry.ID = uuid.New()
				fresh = append(fresh, entry)
			}
			merged = append(merged, entry)
		}
	}
	return merged, fresh
}

func overlaps(a, b passes.PassEvent) bool {
	return a.StartTime.Before(b.EndTime) && b.StartTime.Before(a.EndTime)
}

func findOverlap(candidates []Entry, p passes.PassEvent) (Entry, bool) {
	for _, c := range candidates {
		if overlaps(c.PassEvent, p) {
			return c, true
		}
	}
	return Entry{}, false
}

func overlapsInProgress(inProgress []Entry, noradID int, p passes.PassEvent) bool {
	for _, e := range inProgress {
		if e.NORADID == noradID && overlaps(e.PassEvent, p) {
			return true
		}
	}
	return false
}
