// Package passes predicts satellite passes over a ground observer by running
// the scan engine on an SGP4 elevation oracle, one satellite per goroutine.
package passes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/propagation"
	"github.com/star/passcast/internal/scan"
	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

const (
	// DefaultStep is the coarse scan cadence.
	DefaultStep = 10 * time.Second
	// DefaultTolerance is the refinement precision for AOS, TCA and LOS.
	DefaultTolerance = 250 * time.Millisecond
	// DefaultGroundTrackStep is the spacing of ground-track samples.
	DefaultGroundTrackStep = 10 * time.Second
	// DefaultMaxPassDuration bounds the loss search of a pass still in
	// progress at the end of the window. Objects above the threshold for
	// longer, such as geostationary ones, end their satellite's scan.
	DefaultMaxPassDuration = 12 * time.Hour
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`  // meters
	Elevation float64   `json:"elevation"` // degrees above the observer's horizon
}

// PassEvent describes a single satellite pass over an observer location.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track,omitempty"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	NORADID int         `json:"norad_id"`
	Name    string      `json:"name,omitempty"`
	Passes  []PassEvent `json:"passes"`
	Error   string      `json:"error,omitempty"`
}

// Request holds the parameters for a pass prediction request. Zero Step,
// Tolerance, MaxPassDuration and GroundTrackStep take the package defaults;
// a zero MaxPasses means no limit; a negative GroundTrackStep disables ground
// tracks. A nil MinPeak keeps every pass that reaches MinElevation.
type Request struct {
	Observer        transform.Observer
	Entries         []tle.Entry
	Start           time.Time
	Horizon         time.Duration
	MinElevation    unit.Angle
	MinPeak         *unit.Angle
	Step            time.Duration
	Tolerance       time.Duration
	MaxPassDuration time.Duration
	MaxPasses       int
	GroundTrackStep time.Duration
}

func (r Request) withDefaults() Request {
	if r.Step == 0 {
		r.Step = DefaultStep
	}
	if r.Tolerance == 0 {
		r.Tolerance = DefaultTolerance
	}
	if r.GroundTrackStep == 0 {
		r.GroundTrackStep = DefaultGroundTrackStep
	}
	if r.MaxPassDuration == 0 {
		r.MaxPassDuration = DefaultMaxPassDuration
	}
	return r
}

// Config builds the scan configuration for r, in Julian-day units.
func (r Request) Config() (scan.Config, error) {
	r = r.withDefaults()
	opts := []scan.Option{scan.WithMaxPassDuration(transform.Days(r.MaxPassDuration))}
	if r.MinPeak != nil {
		opts = append(opts, scan.WithMinPeak(*r.MinPeak))
	}
	return scan.NewConfig(r.MinElevation, transform.Days(r.Step), transform.Days(r.Tolerance), opts...)
}

// SampleCost bounds the coarse oracle evaluations one satellite of r may
// take: the window itself plus a loss search running MaxPassDuration past it.
func (r Request) SampleCost() float64 {
	r = r.withDefaults()
	return float64(r.Horizon+r.MaxPassDuration) / float64(r.Step)
}

// Predict computes satellite passes for the given request. Each satellite is
// processed in its own goroutine, bounded by a semaphore. An invalid
// configuration fails the whole call before any work starts; per-satellite
// failures are reported in SatellitePasses.Error.
func Predict(ctx context.Context, req Request, logger *slog.Logger) ([]SatellitePasses, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	req = req.withDefaults()
	cfg, err := req.Config()
	if err != nil {
		return nil, err
	}
	if req.Horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon %v must be positive", scan.ErrInvalidConfig, req.Horizon)
	}

	results := make([]SatellitePasses, len(req.Entries))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, entry := range req.Entries {
		wg.Add(1)
		go func(idx int, e tle.Entry) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = SatellitePasses{NORADID: e.NORADID, Name: e.Name, Passes: []PassEvent{}, Error: "cancelled"}
				return
			}

			start := time.Now()
			passes, err := predictSatellite(ctx, req, cfg, e, logger)
			metrics.ObservePrediction(time.Since(start))
			results[idx] = SatellitePasses{NORADID: e.NORADID, Name: e.Name, Passes: passes}
			switch {
			case err == nil:
			case ctx.Err() != nil:
				// Passes found before the cancellation are kept, marked incomplete.
				logger.Debug("pass prediction cancelled", "component", "passes", "norad_id", e.NORADID, "found", len(passes))
				results[idx].Error = err.Error()
			default:
				logger.Warn("pass prediction failed", "component", "passes", "norad_id", e.NORADID, "error", err)
				results[idx].Error = err.Error()
			}
		}(i, entry)
	}

	wg.Wait()
	return results, nil
}

// predictSatellite finds the passes of a single satellite. When ctx ends the
// scan early it returns the passes found so far with the context error.
func predictSatellite(ctx context.Context, req Request, cfg scan.Config, entry tle.Entry, logger *slog.Logger) ([]PassEvent, error) {
	passes := []PassEvent{}
	prop, err := propagation.NewSGP4Propagator(entry)
	if err != nil {
		return passes, fmt.Errorf("sgp4 init: %w", err)
	}
	oracle := propagation.NewElevationOracle(prop, req.Observer)

	seq, err := scan.NewSequence(oracle, cfg, logger.With("norad_id", entry.NORADID))
	if err != nil {
		return passes, err
	}

	startJD := transform.JulianDate(req.Start)
	endJD := startJD + transform.Days(req.Horizon)

	for ev := range seq.PassesContext(ctx, startJD, endJD) {
		passes = append(passes, describe(oracle, ev, req.GroundTrackStep))
		if req.MaxPasses > 0 && len(passes) >= req.MaxPasses {
			return passes, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return passes, fmt.Errorf("cancelled: %w", err)
	}
	return passes, nil
}

// describe converts an engine event in Julian days into a PassEvent with
// azimuths and a ground track.
func describe(oracle *propagation.ElevationOracle, ev scan.Event, trackStep time.Duration) PassEvent {
	aos := transform.TimeFromJulian(ev.AOS)
	tca := transform.TimeFromJulian(ev.TCA)
	los := transform.TimeFromJulian(ev.LOS)

	pe := PassEvent{
		StartTime:        aos,
		MaxElevationTime: tca,
		EndTime:          los,
		DurationSeconds:  los.Sub(aos).Seconds(),
		MaxElevation:     ev.MaxElevation.Deg(),
	}
	if p, err := oracle.Look(aos); err == nil {
		pe.StartAzimuth = p.Azimuth.Deg()
	}
	if p, err := oracle.Look(tca); err == nil {
		pe.AzimuthAtMax = p.Azimuth.Deg()
	}
	if p, err := oracle.Look(los); err == nil {
		pe.EndAzimuth = p.Azimuth.Deg()
	}

	if trackStep > 0 {
		pe.GroundTrack = groundTrack(oracle, aos, los, trackStep)
	}
	return pe
}

// groundTrack samples the sub-satellite point from aos to los inclusive.
func groundTrack(oracle *propagation.ElevationOracle, aos, los time.Time, step time.Duration) []GroundTrackPoint {
	var track []GroundTrackPoint
	add := func(t time.Time) {
		p, err := oracle.Look(t)
		if err != nil {
			return
		}
		track = append(track, GroundTrackPoint{
			Time:      t,
			Latitude:  p.LatDeg,
			Longitude: p.LonDeg,
			Altitude:  p.AltKm * 1000.0,
			Elevation: p.Elevation.Deg(),
		})
	}
	for t := aos; t.Before(los); t = t.Add(step) {
		add(t)
	}
	add(los)
	return track
}
