// Package stream implements a Server-Sent Events feed of the live sky above an
// observer. Clients connect via GET /api/v1/stream/sky?lat=&lon=&alt= and get
// the satellites above the elevation threshold every interval seconds.
//
// SSE message format:
//
//	data: {"type":"sky","t":"2026-02-06T04:00:00Z","sat":[...],"rose":[25544],"set":[]}\n\n
//
// The first message on every connection is metadata:
//
//	data: {"type":"metadata","dataset_fetched_at":"...","tle_age_seconds":1800,"satellites":9000}\n\n
//
// "rose" and "set" list the NORAD ids that crossed the threshold since the
// previous sky message. Keep-alive comments (:\n\n) are sent every
// KeepaliveInterval when no data went out.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/httputil"
	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/propagation"
	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // default: 10
	MaxConcurrent      int           // across all clients (default: 1000)
	KeepaliveInterval  time.Duration // default: 30s
	TrustProxy         bool          // attribute streams by X-Forwarded-For
}

// SkySource computes the visible satellites for an observer.
// *propagation.Propagator satisfies it.
type SkySource interface {
	Sky(ctx context.Context, obs transform.Observer, t time.Time, minElevation unit.Angle) ([]propagation.SkyPosition, error)
}

// Handler manages SSE streaming connections.
type Handler struct {
	sky     SkySource
	store   *tle.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new streaming handler.
func NewHandler(sky SkySource, store *tle.Store, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		sky:     sky,
		store:   store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
		now:     time.Now,
	}
}

// HandleSky serves the SSE sky stream.
// GET /api/v1/stream/sky?lat=&lon=&alt=&min_elevation=0&interval=5
func (h *Handler) HandleSky(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	obs, err := httputil.ObserverFromQuery(q)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	minEl, err := httputil.FloatParam(q, "min_elevation", 0, -90, 90)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval, err := httputil.IntParam(q, "interval", 5, 1, 60)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.store.Ready() {
		httputil.WriteError(w, http.StatusServiceUnavailable, "no TLE data loaded")
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	c := &client{
		w:      w,
		rc:     http.NewResponseController(w),
		ip:     ip,
		logger: h.logger,
	}

	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"lat", obs.Lat.Deg(),
		"lon", obs.Lon.Deg(),
		"interval", interval,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"component", "stream",
			"remote_ip", ip,
			"messages", c.messagesSent,
			"bytes", c.bytesSent,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Streams outlive the server's WriteTimeout.
	if err := c.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "component", "stream", "error", err)
	}

	// A jittered retry interval (3-7s) spreads reconnects after a restart.
	if err := c.write(fmt.Sprintf("retry: %d\n\n", 3000+rand.Intn(4000))); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}

	if ds := h.store.Get(); ds != nil {
		meta := metadataMessage{
			Type:         "metadata",
			DatasetFetch: ds.FetchedAt.UTC().Format(time.RFC3339),
			TLEAge:       int(h.now().Sub(ds.FetchedAt).Seconds()),
			Satellites:   ds.Len(),
		}
		if err := c.sendJSON(meta); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "component", "stream", "remote_ip", ip, "error", err)
			return
		}
	}

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	threshold := unit.AngleFromDeg(minEl)
	var previous []int

	send := func() bool {
		t := h.now()
		positions, err := h.sky.Sky(ctx, obs, t, threshold)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			metrics.IncStreamErrors("sky_error")
			h.logger.Warn("stream sky error", "component", "stream", "remote_ip", ip, "error", err)
			// The dataset may come back; a missing one is not fatal to the stream.
			return errors.Is(err, propagation.ErrNoDataset)
		}
		msg, visible := buildSkyMessage(t, positions, previous)
		previous = visible
		if err := c.sendJSON(msg); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "component", "stream", "remote_ip", ip, "error", err)
			return false
		}
		keepaliveTicker.Reset(h.config.KeepaliveInterval)
		return true
	}

	if !send() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !send() {
				return
			}

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildSkyMessage formats a snapshot and diffs its ids against the previous
// snapshot's sorted ids. It returns the message and this snapshot's sorted ids.
func buildSkyMessage(t time.Time, positions []propagation.SkyPosition, previous []int) (skyMessage, []int) {
	sats := make([]satPayload, len(positions))
	visible := make([]int, len(positions))
	for i, p := range positions {
		sats[i] = satPayload{
			ID: p.NORADID,
			Az: round(p.Azimuth.Deg(), 2),
			El: round(p.Elevation.Deg(), 2),
			R:  round(p.RangeKm, 1),
		}
		visible[i] = p.NORADID
	}
	slices.Sort(visible)

	msg := skyMessage{
		Type: "sky",
		T:    t.UTC().Format(time.RFC3339),
		Sat:  sats,
		Rose: []int{},
		Set:  []int{},
	}
	for _, id := range visible {
		if _, found := slices.BinarySearch(previous, id); !found {
			msg.Rose = append(msg.Rose, id)
		}
	}
	for _, id := range previous {
		if _, found := slices.BinarySearch(visible, id); !found {
			msg.Set = append(msg.Set, id)
		}
	}
	return msg, visible
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// SSE message payload types.

type metadataMessage struct {
	Type         string `json:"type"`
	DatasetFetch string `json:"dataset_fetched_at"`
	TLEAge       int    `json:"tle_age_seconds"`
	Satellites   int    `json:"satellites"`
}

type skyMessage struct {
	Type string       `json:"type"`
	T    string       `json:"t"`
	Sat  []satPayload `json:"sat"`
	Rose []int        `json:"rose"`
	Set  []int        `json:"set"`
}

type satPayload struct {
	ID int     `json:"id"`
	Az float64 `json:"az"` // degrees
	El float64 `json:"el"` // degrees
	R  float64 `json:"r"`  // km
}
