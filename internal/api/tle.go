package api

import (
	"context"
	"net/http"
	"time"

	"github.com/star/passcast/internal/httputil"
	"github.com/star/passcast/internal/tle"
)

// TLEConfig holds TLE ingestion configuration.
type TLEConfig struct {
	EnableFetch     bool
	SourceURL       string
	ExtraSourceURLs []string
	CacheDir        string
	MaxFiles        int
	MaxAge          time.Duration // refetch once the dataset is older
}

const fetchTimeout = 45 * time.Second

type tleMetadata struct {
	Source       string    `json:"source"`
	FetchedAt    time.Time `json:"fetched_at"`
	AgeSeconds   int       `json:"age_seconds"`
	Satellites   int       `json:"satellites"`
	EpochMin     time.Time `json:"epoch_min"`
	EpochMax     time.Time `json:"epoch_max"`
	Stale        bool      `json:"stale"`
	FetchEnabled bool      `json:"fetch_enabled"`
}

func (s *Server) metadata(ds *tle.Dataset) tleMetadata {
	age := s.now().Sub(ds.FetchedAt)
	return tleMetadata{
		Source:       ds.Source,
		FetchedAt:    ds.FetchedAt,
		AgeSeconds:   int(age.Seconds()),
		Satellites:   ds.Len(),
		EpochMin:     ds.EpochRange.Min,
		EpochMax:     ds.EpochRange.Max,
		Stale:        s.config.TLE.MaxAge > 0 && age > s.config.TLE.MaxAge,
		FetchEnabled: s.config.TLE.EnableFetch,
	}
}

// handleTLEMetadata serves GET /api/v1/tle/metadata.
func (s *Server) handleTLEMetadata(w http.ResponseWriter, r *http.Request) {
	ds := s.store.Get()
	if ds == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no TLE data loaded")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.metadata(ds))
}

// handleTLEFetch serves POST /api/v1/tle/fetch, replacing the dataset from
// the configured sources.
func (s *Server) handleTLEFetch(w http.ResponseWriter, r *http.Request) {
	if !s.config.TLE.EnableFetch {
		httputil.WriteError(w, http.StatusForbidden, "TLE fetching is disabled")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	defer cancel()

	ds, err := s.loader.Refresh(ctx)
	if err != nil {
		s.logger.Warn("TLE fetch failed", "component", "api", "error", err)
		httputil.WriteError(w, http.StatusServiceUnavailable, "TLE fetch failed: "+err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.metadata(ds))
}
