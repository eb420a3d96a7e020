package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/httputil"
	"github.com/star/passcast/internal/passes"
	"github.com/star/passcast/internal/scan"
	"github.com/star/passcast/internal/tle"
)

// PassConfig holds the defaults and limits for pass queries.
type PassConfig struct {
	Step         time.Duration // default: passes.DefaultStep
	Tolerance    time.Duration // default: passes.DefaultTolerance
	MinElevation float64       // degrees, default 0
	MaxHours     int           // longest window a request may ask for (default: 240)
	MaxIDs       int           // most satellites in one multi query (default: 50)
	MaxSamples   int           // coarse samples a request may cost (default: 5,000,000)
}

func (c PassConfig) withDefaults() PassConfig {
	if c.Step <= 0 {
		c.Step = passes.DefaultStep
	}
	if c.Tolerance <= 0 {
		c.Tolerance = passes.DefaultTolerance
	}
	if c.MaxHours <= 0 {
		c.MaxHours = 240
	}
	if c.MaxIDs <= 0 {
		c.MaxIDs = 50
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = 5_000_000
	}
	return c
}

type observerJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"` // meters
}

// passesResponse wraps the multi-satellite result.
type passesResponse struct {
	Observer   observerJSON             `json:"observer"`
	Start      time.Time                `json:"start"`
	End        time.Time                `json:"end"`
	Satellites []passes.SatellitePasses `json:"satellites"`
}

// singlePassesResponse flattens one satellite's result next to the window.
type singlePassesResponse struct {
	Observer observerJSON `json:"observer"`
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end"`
	passes.SatellitePasses
}

// handlePasses serves GET /api/v1/passes/{norad_id}.
func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("norad_id"))
	if err != nil || id < 1 {
		httputil.WriteError(w, http.StatusBadRequest, "invalid norad_id")
		return
	}

	ds := s.store.Get()
	if ds == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no TLE data loaded")
		return
	}
	entry, ok := ds.Lookup(id)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("satellite %d not found", id))
		return
	}

	req, err := s.passRequest(r.URL.Query(), 1)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	req.Entries = []tle.Entry{entry}

	results, err := passes.Predict(r.Context(), req, s.logger)
	if err != nil {
		s.writePredictError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, singlePassesResponse{
		Observer:        observerOf(req),
		Start:           req.Start,
		End:             req.Start.Add(req.Horizon),
		SatellitePasses: results[0],
	})
}

// handlePassesMulti serves GET /api/v1/passes?ids=25544,44713. Ids missing
// from the dataset are reported per satellite rather than failing the query.
func (s *Server) handlePassesMulti(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids, err := parseIDs(q.Get("ids"), s.config.Passes.MaxIDs)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds := s.store.Get()
	if ds == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no TLE data loaded")
		return
	}

	req, err := s.passRequest(q, len(ids))
	if err != nil {
		writeRequestError(w, err)
		return
	}

	var missing []passes.SatellitePasses
	for _, id := range ids {
		entry, ok := ds.Lookup(id)
		if !ok {
			missing = append(missing, passes.SatellitePasses{NORADID: id, Passes: []passes.PassEvent{}, Error: "satellite not found"})
			continue
		}
		req.Entries = append(req.Entries, entry)
	}

	results, err := passes.Predict(r.Context(), req, s.logger)
	if err != nil {
		s.writePredictError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, passesResponse{
		Observer:   observerOf(req),
		Start:      req.Start,
		End:        req.Start.Add(req.Horizon),
		Satellites: append(results, missing...),
	})
}

// passRequest builds a prediction request from query parameters for n
// satellites, rejecting windows that would cost more than MaxSamples.
func (s *Server) passRequest(q url.Values, n int) (passes.Request, error) {
	cfg := s.config.Passes

	obs, err := httputil.ObserverFromQuery(q)
	if err != nil {
		return passes.Request{}, err
	}
	minEl, err := httputil.FloatParam(q, "min_elevation", cfg.MinElevation, -90, 90)
	if err != nil {
		return passes.Request{}, err
	}
	minPeak, err := httputil.FloatParam(q, "min_peak", 0, 0, 90)
	if err != nil {
		return passes.Request{}, err
	}
	hours, err := httputil.FloatParam(q, "hours", 24, 0.1, float64(cfg.MaxHours))
	if err != nil {
		return passes.Request{}, err
	}
	step, err := httputil.FloatParam(q, "step", cfg.Step.Seconds(), 0.1, 600)
	if err != nil {
		return passes.Request{}, err
	}
	tolerance, err := httputil.FloatParam(q, "tolerance", cfg.Tolerance.Seconds(), 0.001, 600)
	if err != nil {
		return passes.Request{}, err
	}
	maxPasses, err := httputil.IntParam(q, "max_passes", 0, 0, 10000)
	if err != nil {
		return passes.Request{}, err
	}

	start := s.now().UTC().Truncate(time.Second)
	if v := q.Get("start"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return passes.Request{}, errors.New("invalid start parameter, must be RFC 3339")
		}
		start = start.UTC()
	}

	trackStep := time.Duration(-1)
	if v := q.Get("ground_track"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return passes.Request{}, errors.New("invalid ground_track parameter")
		}
		if on {
			trackStep = 0
		}
	}

	req := passes.Request{
		Observer:        obs,
		Start:           start,
		Horizon:         time.Duration(hours * float64(time.Hour)),
		MinElevation:    unit.AngleFromDeg(minEl),
		Step:            time.Duration(step * float64(time.Second)),
		Tolerance:       time.Duration(tolerance * float64(time.Second)),
		MaxPasses:       maxPasses,
		GroundTrackStep: trackStep,
	}
	if q.Get("min_peak") != "" {
		peak := unit.AngleFromDeg(minPeak)
		req.MinPeak = &peak
	}

	// The loss search after the last acquisition may run past the window.
	if samples := req.SampleCost() * float64(n); samples > float64(cfg.MaxSamples) {
		return passes.Request{}, &sampleLimitError{samples: samples, max: cfg.MaxSamples}
	}
	return req, nil
}

// sampleLimitError rejects a query whose coarse scan would cost too many samples.
type sampleLimitError struct {
	samples float64
	max     int
}

func (e *sampleLimitError) Error() string {
	return fmt.Sprintf("request too large: %.0f samples exceeds %d, reduce hours or ids or raise step", e.samples, e.max)
}

func writeRequestError(w http.ResponseWriter, err error) {
	var be *sampleLimitError
	if errors.As(err, &be) {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":       err.Error(),
			"max_samples": be.max,
		})
		return
	}
	httputil.WriteError(w, http.StatusBadRequest, err.Error())
}

// writePredictError maps a whole-request failure to a response.
func (s *Server) writePredictError(w http.ResponseWriter, err error) {
	if errors.Is(err, scan.ErrInvalidConfig) {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("pass prediction failed", "component", "api", "error", err)
	httputil.WriteError(w, http.StatusInternalServerError, "prediction failed")
}

func parseIDs(raw string, max int) ([]int, error) {
	if raw == "" {
		return nil, errors.New("ids parameter is required")
	}
	seen := make(map[int]bool)
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id < 1 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > max {
		return nil, fmt.Errorf("too many ids, at most %d", max)
	}
	return ids, nil
}

func observerOf(req passes.Request) observerJSON {
	return observerJSON{
		Latitude:  req.Observer.Lat.Deg(),
		Longitude: req.Observer.Lon.Deg(),
		Altitude:  req.Observer.AltM,
	}
}
