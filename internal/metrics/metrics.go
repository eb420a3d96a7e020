package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passcast_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passcast_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	oracleEvaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_oracle_evaluations_total",
			Help: "Total number of elevation evaluations made by SGP4-backed oracles.",
		},
	)

	oracleErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_oracle_errors_total",
			Help: "Elevation evaluations that failed to propagate and returned NaN.",
		},
	)

	scanPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_scan_passes_total",
			Help: "Total number of refined passes yielded by the scanner.",
		},
	)

	scanDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passcast_scan_dropped_candidates_total",
			Help: "Detected crossings that were discarded during refinement.",
		},
		[]string{"reason"},
	)

	predictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passcast_prediction_duration_seconds",
			Help:    "Time spent predicting passes for one satellite.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	propagationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_propagation_errors_total",
			Help: "SGP4 propagations that failed during sky snapshots.",
		},
	)

	tleDatasetCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passcast_tle_dataset_satellites",
			Help: "Number of satellites in the loaded TLE dataset.",
		},
	)

	tleDatasetAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passcast_tle_dataset_age_seconds",
			Help: "Seconds since the loaded TLE dataset was fetched.",
		},
	)

	scheduleEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passcast_schedule_entries",
			Help: "Upcoming passes currently held by the schedule.",
		},
	)

	scheduleRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passcast_schedule_refresh_duration_seconds",
			Help:    "Duration of one schedule refresh.",
			Buckets: prometheus.DefBuckets,
		},
	)

	scheduleRefreshErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_schedule_refresh_errors_total",
			Help: "Satellites that failed during a schedule refresh.",
		},
	)

	publishedPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passcast_published_passes_total",
			Help: "Passes handed to the outbound publisher.",
		},
		[]string{"result"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passcast_stream_connections_total",
			Help: "SSE connection events by type.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "passcast_streams_active",
			Help: "Open SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "passcast_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passcast_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		oracleEvaluationsTotal,
		oracleErrorsTotal,
		scanPassesTotal,
		scanDroppedTotal,
		predictionDurationSeconds,
		propagationErrorsTotal,
		tleDatasetCount,
		tleDatasetAgeSeconds,
		scheduleEntries,
		scheduleRefreshDuration,
		scheduleRefreshErrors,
		publishedPassesTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncOracleEvaluations counts one elevation evaluation.
func IncOracleEvaluations() { oracleEvaluationsTotal.Inc() }

// IncOracleErrors counts one failed elevation evaluation.
func IncOracleErrors() { oracleErrorsTotal.Inc() }

// IncScanPasses counts one yielded pass.
func IncScanPasses() { scanPassesTotal.Inc() }

// IncScanDropped counts one discarded candidate pass.
func IncScanDropped(reason string) { scanDroppedTotal.WithLabelValues(reason).Inc() }

// ObservePrediction records the time spent on one satellite.
func ObservePrediction(d time.Duration) { predictionDurationSeconds.Observe(d.Seconds()) }

// AddPropagationErrors counts failed propagations from a batch.
func AddPropagationErrors(n int) { propagationErrorsTotal.Add(float64(n)) }

// SetTLEDatasetCount publishes the loaded dataset size.
func SetTLEDatasetCount(n int) { tleDatasetCount.Set(float64(n)) }

// SetTLEDatasetAge publishes the loaded dataset age.
func SetTLEDatasetAge(seconds float64) { tleDatasetAgeSeconds.Set(seconds) }

// SetScheduleEntries publishes the schedule size.
func SetScheduleEntries(n int) { scheduleEntries.Set(float64(n)) }

// ObserveScheduleRefresh records the duration of one refresh.
func ObserveScheduleRefresh(d time.Duration) { scheduleRefreshDuration.Observe(d.Seconds()) }

// IncScheduleRefreshErrors counts one failed satellite during a refresh.
func IncScheduleRefreshErrors() { scheduleRefreshErrors.Inc() }

// IncPublished counts one publish attempt by result ("ok" or "error").
func IncPublished(result string) { publishedPassesTotal.WithLabelValues(result).Inc() }

// IncStreamConnections counts a stream "connect" or "disconnect".
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

func IncStreamsActive() { streamsActive.Inc() }

func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessagesTotal.Inc() }

func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts a stream failure by reason.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are recorded under their own path label.
var knownRoutes = map[string]bool{
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/passes":       true,
	"/api/v1/sky":          true,
	"/api/v1/schedule":     true,
	"/api/v1/stream/sky":   true,
	"/api/v1/tle/metadata": true,
	"/api/v1/tle/fetch":    true,
}

const passesPrefix = "/api/v1/passes/"

// normalizeRoute maps a request path to a bounded set of label values.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, passesPrefix); ok && id != "" && !strings.Contains(id, "/") {
		return passesPrefix + "{norad_id}"
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer's Flush
// and SetWriteDeadline.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
