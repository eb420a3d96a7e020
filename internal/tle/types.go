package tle

import "time"

// Entry is a single satellite's two-line element set.
type Entry struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete set of element sets from one source. It is immutable
// once handed to a Store.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []Entry

	byID map[int]int // NORAD id -> index into Satellites
}

// NewDataset builds a Dataset and its lookup index. When an id repeats, the
// entry with the newest epoch wins the lookup.
func NewDataset(source string, fetchedAt time.Time, entries []Entry) *Dataset {
	ds := &Dataset{
		Source:     source,
		FetchedAt:  fetchedAt,
		Satellites: entries,
		byID:       make(map[int]int, len(entries)),
	}
	for i, e := range entries {
		if i == 0 || e.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e.Epoch
		}
		if i == 0 || e.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e.Epoch
		}
		if j, ok := ds.byID[e.NORADID]; ok && !e.Epoch.After(entries[j].Epoch) {
			continue
		}
		ds.byID[e.NORADID] = i
	}
	return ds
}

// Lookup returns the element set for a NORAD id.
func (ds *Dataset) Lookup(noradID int) (Entry, bool) {
	i, ok := ds.byID[noradID]
	if !ok {
		return Entry{}, false
	}
	return ds.Satellites[i], true
}

// Len returns the number of distinct satellites in the dataset.
func (ds *Dataset) Len() int {
	return len(ds.byID)
}
