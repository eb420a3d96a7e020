package tle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/passcast/internal/metrics"
)

// ErrEmptyDataset is returned when a source parses to zero element sets.
var ErrEmptyDataset = errors.New("tle: no valid element sets")

// Loader moves element sets from a Fetcher and an on-disk Cache into a Store.
type Loader struct {
	store   *Store
	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger
}

// NewLoader creates a Loader. fetcher and cache may be nil to disable the
// network or disk side.
func NewLoader(store *Store, fetcher *Fetcher, cache *Cache, logger *slog.Logger) *Loader {
	return &Loader{store: store, fetcher: fetcher, cache: cache, logger: logger}
}

// Store returns the store the loader fills.
func (l *Loader) Store() *Store {
	return l.store
}

// LoadCache installs the newest cached download, if any.
func (l *Loader) LoadCache() (*Dataset, error) {
	if l.cache == nil {
		return nil, errors.New("tle: no cache configured")
	}
	data, ts, err := l.cache.LoadLatest()
	if err != nil {
		return nil, err
	}
	ds, err := l.install(data, "cache", ts)
	if err != nil {
		return nil, fmt.Errorf("loading cached TLE data: %w", err)
	}
	return ds, nil
}

// Refresh fetches from the network, installs the result and writes it to the
// cache. Concurrent refreshes are serialized on the store's fetch lock.
func (l *Loader) Refresh(ctx context.Context) (*Dataset, error) {
	if l.fetcher == nil {
		return nil, errors.New("tle: fetching disabled")
	}

	l.store.Lock()
	defer l.store.Unlock()

	data, err := l.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ds, err := l.install(data, l.fetcher.SourceURL(), now)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.Write(data, now); err != nil {
			l.logger.Warn("failed to write TLE cache", "component", "tle", "error", err)
		}
	}
	return ds, nil
}

func (l *Loader) install(data []byte, source string, fetchedAt time.Time) (*Dataset, error) {
	entries, err := Parse(bytes.NewReader(data), l.logger)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyDataset
	}

	ds := NewDataset(source, fetchedAt, entries)
	l.store.Set(ds)
	l.logger.Info("TLE dataset installed",
		"component", "tle",
		"source", source,
		"count", ds.Len(),
		"fetched_at", fetchedAt.Format(time.RFC3339),
		"epoch_min", ds.EpochRange.Min.Format(time.RFC3339),
		"epoch_max", ds.EpochRange.Max.Format(time.RFC3339),
	)
	return ds, nil
}

// Watch refetches whenever no dataset is loaded or the loaded one is older
// than maxAge, checking every interval. It also publishes the dataset age
// gauge. Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		age := l.store.AgeSeconds()
		if age >= 0 {
			metrics.SetTLEDatasetAge(age)
		}
		if l.fetcher != nil && (age < 0 || time.Duration(age*float64(time.Second)) > maxAge) {
			if _, err := l.Refresh(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("scheduled TLE refresh failed", "component", "tle", "age_seconds", int(age), "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
