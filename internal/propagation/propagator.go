package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

// sgp4Cache holds initialized SGP4 propagators for one dataset.
// Immutable after construction; safe for concurrent reads.
type sgp4Cache struct {
	ds    *tle.Dataset
	props map[int]*SGP4Propagator
	order []int // NORAD ids, ascending
}

// Propagator hands out SGP4 propagators and elevation oracles for the
// store's current dataset, initializing each element set once per dataset.
type Propagator struct {
	store  *tle.Store
	pool   *WorkerPool
	logger *slog.Logger
	sgp4   atomic.Pointer[sgp4Cache]
	sgp4Mu sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a Propagator over store.
func NewPropagator(store *tle.Store, config Config, logger *slog.Logger) *Propagator {
	return &Propagator{
		store:  store,
		pool:   NewWorkerPool(config.Workers, logger),
		logger: logger,
	}
}

// cached returns the propagators for the current dataset, rebuilding them
// when the dataset has changed (double-checked locking).
func (p *Propagator) cached() (*sgp4Cache, error) {
	ds := p.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}
	if c := p.sgp4.Load(); c != nil && c.ds == ds {
		return c, nil
	}

	p.sgp4Mu.Lock()
	defer p.sgp4Mu.Unlock()

	if c := p.sgp4.Load(); c != nil && c.ds == ds {
		return c, nil
	}

	c := &sgp4Cache{ds: ds, props: make(map[int]*SGP4Propagator, ds.Len())}
	var skipped int
	for _, entry := range ds.Satellites {
		if _, ok := c.props[entry.NORADID]; ok {
			continue
		}
		// Duplicate ids resolve to the newest epoch, as in the dataset index.
		best, _ := ds.Lookup(entry.NORADID)
		sp, err := NewSGP4Propagator(best)
		if err != nil {
			p.logger.Warn("sgp4 init failed", "component", "propagation", "norad_id", entry.NORADID, "error", err)
			skipped++
			continue
		}
		c.props[entry.NORADID] = sp
		c.order = append(c.order, entry.NORADID)
	}
	sort.Ints(c.order)
	metrics.AddPropagationErrors(skipped)

	p.logger.Info("sgp4 propagator cache rebuilt",
		"component", "propagation",
		"cached", len(c.props),
		"skipped", skipped,
		"dataset_fetched_at", ds.FetchedAt.UTC().Format(time.RFC3339),
	)
	p.sgp4.Store(c)
	return c, nil
}

// Get returns the propagator for a NORAD id.
func (p *Propagator) Get(noradID int) (*SGP4Propagator, error) {
	c, err := p.cached()
	if err != nil {
		return nil, err
	}
	sp, ok := c.props[noradID]
	if !ok {
		return nil, fmt.Errorf("NORAD %d: %w", noradID, ErrUnknownSatellite)
	}
	return sp, nil
}

// Oracle returns an elevation oracle for a NORAD id seen from obs.
func (p *Propagator) Oracle(noradID int, obs transform.Observer) (*ElevationOracle, error) {
	sp, err := p.Get(noradID)
	if err != nil {
		return nil, err
	}
	return NewElevationOracle(sp, obs), nil
}

// IDs returns the NORAD ids with a usable propagator, ascending.
func (p *Propagator) IDs() ([]int, error) {
	c, err := p.cached()
	if err != nil {
		return nil, err
	}
	return c.order, nil
}

// Sky computes where every loaded satellite appears from obs at t and
// returns those at or above minElevation, highest first.
func (p *Propagator) Sky(ctx context.Context, obs transform.Observer, t time.Time, minElevation unit.Angle) ([]SkyPosition, error) {
	c, err := p.cached()
	if err != nil {
		return nil, err
	}

	props := make([]*SGP4Propagator, 0, len(c.order))
	for _, id := range c.order {
		props = append(props, c.props[id])
	}

	start := time.Now()
	positions, successCount, errorCount := p.pool.LookBatch(ctx, props, obs, t)
	metrics.AddPropagationErrors(errorCount)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("sky snapshot computed",
		"component", "propagation",
		"success", successCount,
		"errors", errorCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	visible := positions[:0]
	for _, pos := range positions {
		if pos.Elevation >= minElevation {
			visible = append(visible, pos)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].Elevation != visible[j].Elevation {
			return visible[i].Elevation > visible[j].Elevation
		}
		return visible[i].NORADID < visible[j].NORADID
	})
	return visible, nil
}
