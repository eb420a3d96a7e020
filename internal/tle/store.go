package tle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/passcast/internal/metrics"
)

// Store provides thread-safe access to the current dataset. Readers never
// block; a refresh swaps the whole dataset at once.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes fetch operations
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset and updates the dataset gauges.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
	if ds != nil {
		metrics.SetTLEDatasetCount(ds.Len())
		metrics.SetTLEDatasetAge(time.Since(ds.FetchedAt).Seconds())
	}
}

// Ready reports whether a dataset has been loaded.
func (s *Store) Ready() bool {
	return s.dataset.Load() != nil
}

// Lookup returns the element set for a NORAD id from the current dataset.
func (s *Store) Lookup(noradID int) (Entry, bool) {
	ds := s.dataset.Load()
	if ds == nil {
		return Entry{}, false
	}
	return ds.Lookup(noradID)
}

// AgeSeconds returns the age of the current dataset in seconds.
// Returns -1 if no dataset is loaded.
func (s *Store) AgeSeconds() float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return -1
	}
	return time.Since(ds.FetchedAt).Seconds()
}

// Lock acquires the fetch mutex for serializing fetch operations.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the fetch mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}
