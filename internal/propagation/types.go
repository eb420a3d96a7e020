package propagation

import (
	"errors"
	"time"

	"github.com/soniakeys/unit"
)

var (
	// ErrNoDataset is returned while no TLE dataset is loaded.
	ErrNoDataset = errors.New("propagation: no TLE dataset loaded")
	// ErrUnknownSatellite is returned for a NORAD id missing from the dataset.
	ErrUnknownSatellite = errors.New("propagation: satellite not in dataset")
)

// SkyPosition is where one satellite appears to an observer at an instant.
type SkyPosition struct {
	NORADID   int
	Name      string
	Time      time.Time
	Azimuth   unit.Angle
	Elevation unit.Angle
	RangeKm   float64
	LatDeg    float64 // sub-satellite point
	LonDeg    float64
	AltKm     float64
}

// Config holds propagation configuration loaded from environment variables.
type Config struct {
	Workers int // worker pool size (default: runtime.NumCPU())
}
