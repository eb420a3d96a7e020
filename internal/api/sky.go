package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/httputil"
	"github.com/star/passcast/internal/propagation"
)

type skySatellite struct {
	NORADID    int     `json:"norad_id"`
	Name       string  `json:"name"`
	Azimuth    float64 `json:"azimuth"`
	Elevation  float64 `json:"elevation"`
	RangeKm    float64 `json:"range_km"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	AltitudeKm float64 `json:"altitude_km"`
}

type skyResponse struct {
	Time       time.Time      `json:"time"`
	Observer   observerJSON   `json:"observer"`
	Count      int            `json:"count"`
	Satellites []skySatellite `json:"satellites"`
}

// handleSky serves GET /api/v1/sky: every loaded satellite at or above
// min_elevation at time (RFC 3339, default now), highest first.
func (s *Server) handleSky(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	obs, err := httputil.ObserverFromQuery(q)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	minEl, err := httputil.FloatParam(q, "min_elevation", s.config.Passes.MinElevation, -90, 90)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := httputil.IntParam(q, "limit", 0, 0, 100000)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	at := s.now().UTC()
	if v := q.Get("time"); v != "" {
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid time parameter, must be RFC 3339")
			return
		}
		at = at.UTC()
	}

	positions, err := s.prop.Sky(r.Context(), obs, at, unit.AngleFromDeg(minEl))
	switch {
	case errors.Is(err, propagation.ErrNoDataset):
		httputil.WriteError(w, http.StatusServiceUnavailable, "no TLE data loaded")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away.
		return
	case err != nil:
		s.logger.Error("sky computation failed", "component", "api", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "sky computation failed")
		return
	}
	if limit > 0 && len(positions) > limit {
		positions = positions[:limit]
	}

	sats := make([]skySatellite, len(positions))
	for i, p := range positions {
		sats[i] = skySatellite{
			NORADID:    p.NORADID,
			Name:       p.Name,
			Azimuth:    p.Azimuth.Deg(),
			Elevation:  p.Elevation.Deg(),
			RangeKm:    p.RangeKm,
			Latitude:   p.LatDeg,
			Longitude:  p.LonDeg,
			AltitudeKm: p.AltKm,
		}
	}

	httputil.WriteJSON(w, http.StatusOK, skyResponse{
		Time: at,
		Observer: observerJSON{
			Latitude:  obs.Lat.Deg(),
			Longitude: obs.Lon.Deg(),
			Altitude:  obs.AltM,
		},
		Count:      len(sats),
		Satellites: sats,
	})
}
