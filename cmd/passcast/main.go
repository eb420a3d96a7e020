package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/soniakeys/unit"

	"github.com/star/passcast/internal/api"
	"github.com/star/passcast/internal/auth"
	"github.com/star/passcast/internal/passes"
	"github.com/star/passcast/internal/propagation"
	"github.com/star/passcast/internal/publish"
	"github.com/star/passcast/internal/schedule"
	"github.com/star/passcast/internal/stream"
	"github.com/star/passcast/internal/tle"
	"github.com/star/passcast/internal/transform"
)

func main() {
	level := loadLogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	addr := os.Getenv("PASSCAST_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	tleCfg := loadTLEConfig(logger)
	store := tle.NewStore()

	var fetcher *tle.Fetcher
	if tleCfg.EnableFetch {
		fetcher = tle.NewFetcher(tleCfg.SourceURL, logger, tleCfg.ExtraSourceURLs...)
	}
	loader := tle.NewLoader(store, fetcher, tle.NewCache(tleCfg.CacheDir, tleCfg.MaxFiles), logger)

	// Attempt to load cached TLE data on startup.
	if _, err := loader.LoadCache(); err != nil {
		logger.Info("no usable TLE cache, starting without TLE data", "error", err)
	}

	propCfg := loadPropConfig(logger)
	prop := propagation.NewPropagator(store, propCfg, logger)

	passCfg := loadPassConfig(logger)

	var sched *schedule.Schedule
	var publisher *publish.Publisher
	if schedCfg, ok := loadScheduleConfig(logger, passCfg); ok {
		var sink schedule.Publisher
		kafkaCfg := loadKafkaConfig(logger)
		if kafkaCfg.Enabled() {
			publisher, err = publish.NewPublisher(kafkaCfg, schedCfg.Observer.Lat.Deg(), schedCfg.Observer.Lon.Deg(), schedCfg.Observer.AltM, logger)
			if err != nil {
				logger.Error("invalid kafka configuration", "error", err)
				os.Exit(1)
			}
			sink = publisher
		}
		sched = schedule.New(schedCfg, store, sink, logger)
	}

	streamCfg := loadStreamConfig(logger)
	streamHandler := stream.NewHandler(prop, store, streamCfg, logger)

	srv := api.NewServer(api.Config{
		Addr:        addr,
		Auth:        authCfg,
		TLE:         tleCfg,
		Passes:      passCfg,
		CORSOrigins: splitList(os.Getenv("PASSCAST_CORS_ORIGINS")),
		TrustProxy:  streamCfg.TrustProxy,
	}, logger, loader, prop, sched, streamHandler)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Keep the dataset fresh and its age gauge current.
	go loader.Watch(ctx, tleCfg.MaxAge, 10*time.Second)

	if sched != nil {
		go sched.Start(ctx)
	}

	go func() {
		logger.Info("starting server",
			"addr", addr,
			"auth_enabled", authCfg.Enabled,
			"tle_fetch_enabled", tleCfg.EnableFetch,
			"schedule_enabled", sched != nil,
			"kafka_enabled", publisher != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

func loadLogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("PASSCAST_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("PASSCAST_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("PASSCAST_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("PASSCAST_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("PASSCAST_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadTLEConfig(logger *slog.Logger) api.TLEConfig {
	cfg := api.TLEConfig{
		EnableFetch: true,
		CacheDir:    "/tmp/passcast/tle",
		MaxFiles:    5,
		MaxAge:      24 * time.Hour,
		ExtraSourceURLs: []string{
			// ISS (NORAD 25544) so the reference satellite is always present.
			"https://celestrak.org/NORAD/elements/gp.php?CATNR=25544&FORMAT=tle",
		},
	}

	if v := os.Getenv("PASSCAST_ENABLE_TLE_FETCH"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid PASSCAST_ENABLE_TLE_FETCH value, using default", "value", v, "default", cfg.EnableFetch)
		} else {
			cfg.EnableFetch = enabled
		}
	}

	if v := os.Getenv("PASSCAST_TLE_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}

	if v, ok := os.LookupEnv("PASSCAST_TLE_EXTRA_URLS"); ok {
		cfg.ExtraSourceURLs = splitList(v)
	}

	if v := os.Getenv("PASSCAST_TLE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}

	if v := os.Getenv("PASSCAST_TLE_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid PASSCAST_TLE_MAX_FILES value, using default", "value", v, "default", cfg.MaxFiles)
		} else {
			cfg.MaxFiles = n
		}
	}

	cfg.MaxAge = envSeconds(logger, "PASSCAST_TLE_MAX_AGE", cfg.MaxAge)

	logger.Info("TLE config",
		"fetch_enabled", cfg.EnableFetch,
		"source_url", cfg.SourceURL,
		"extra_urls", cfg.ExtraSourceURLs,
		"cache_dir", cfg.CacheDir,
		"max_age_seconds", cfg.MaxAge.Seconds(),
	)

	return cfg
}

func loadPropConfig(logger *slog.Logger) propagation.Config {
	cfg := propagation.Config{
		Workers: runtime.NumCPU(),
	}

	if v := os.Getenv("PASSCAST_PROP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid PASSCAST_PROP_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	logger.Info("propagation config", "workers", cfg.Workers)

	return cfg
}

func loadPassConfig(logger *slog.Logger) api.PassConfig {
	cfg := api.PassConfig{
		Step:      passes.DefaultStep,
		Tolerance: passes.DefaultTolerance,
	}

	cfg.Step = envSeconds(logger, "PASSCAST_SCAN_STEP", cfg.Step)
	cfg.Tolerance = envSeconds(logger, "PASSCAST_SCAN_TOLERANCE", cfg.Tolerance)
	if cfg.Tolerance >= cfg.Step {
		logger.Warn("PASSCAST_SCAN_TOLERANCE must be below PASSCAST_SCAN_STEP, using defaults",
			"step_seconds", cfg.Step.Seconds(), "tolerance_seconds", cfg.Tolerance.Seconds())
		cfg.Step, cfg.Tolerance = passes.DefaultStep, passes.DefaultTolerance
	}

	if v := os.Getenv("PASSCAST_MIN_ELEVATION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < -90 || f > 90 {
			logger.Warn("invalid PASSCAST_MIN_ELEVATION value, using default", "value", v, "default", 0)
		} else {
			cfg.MinElevation = f
		}
	}

	logger.Info("scan config",
		"step_seconds", cfg.Step.Seconds(),
		"tolerance_seconds", cfg.Tolerance.Seconds(),
		"min_elevation", cfg.MinElevation,
	)

	return cfg
}

// loadScheduleConfig reports false when no schedule observer is configured.
func loadScheduleConfig(logger *slog.Logger, passCfg api.PassConfig) (schedule.Config, bool) {
	latStr, lonStr := os.Getenv("PASSCAST_SCHEDULE_LAT"), os.Getenv("PASSCAST_SCHEDULE_LON")
	if latStr == "" || lonStr == "" {
		logger.Info("schedule disabled, PASSCAST_SCHEDULE_LAT and PASSCAST_SCHEDULE_LON not set")
		return schedule.Config{}, false
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		logger.Warn("invalid PASSCAST_SCHEDULE_LAT value, schedule disabled", "value", latStr)
		return schedule.Config{}, false
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || lon < -180 || lon > 180 {
		logger.Warn("invalid PASSCAST_SCHEDULE_LON value, schedule disabled", "value", lonStr)
		return schedule.Config{}, false
	}
	var alt float64
	if v := os.Getenv("PASSCAST_SCHEDULE_ALT"); v != "" {
		if alt, err = strconv.ParseFloat(v, 64); err != nil {
			logger.Warn("invalid PASSCAST_SCHEDULE_ALT value, using default", "value", v, "default", 0)
			alt = 0
		}
	}

	cfg := schedule.Config{
		Observer:     transform.NewObserver(lat, lon, alt),
		Horizon:      24 * time.Hour,
		Interval:     300 * time.Second,
		MinElevation: unit.AngleFromDeg(passCfg.MinElevation),
		Step:         passCfg.Step,
		Tolerance:    passCfg.Tolerance,
	}

	for _, s := range splitList(os.Getenv("PASSCAST_SCHEDULE_IDS")) {
		id, err := strconv.Atoi(s)
		if err != nil || id < 1 {
			logger.Warn("invalid NORAD id in PASSCAST_SCHEDULE_IDS, skipping", "value", s)
			continue
		}
		cfg.IDs = append(cfg.IDs, id)
	}

	if v := os.Getenv("PASSCAST_SCHEDULE_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid PASSCAST_SCHEDULE_HORIZON value, using default", "value", v, "default", 24)
		} else {
			cfg.Horizon = time.Duration(n) * time.Hour
		}
	}

	cfg.Interval = envSeconds(logger, "PASSCAST_SCHEDULE_INTERVAL", cfg.Interval)

	logger.Info("schedule config",
		"lat", lat,
		"lon", lon,
		"alt", alt,
		"ids", cfg.IDs,
		"horizon_hours", cfg.Horizon.Hours(),
		"interval_seconds", cfg.Interval.Seconds(),
	)

	return cfg, true
}

func loadKafkaConfig(logger *slog.Logger) publish.Config {
	cfg := publish.Config{
		Brokers: splitList(os.Getenv("PASSCAST_KAFKA_BROKERS")),
		Topic:   publish.DefaultTopic,
	}
	if v := os.Getenv("PASSCAST_KAFKA_TOPIC"); v != "" {
		cfg.Topic = v
	}

	logger.Info("kafka config", "brokers", cfg.Brokers, "topic", cfg.Topic)

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrent:      1000,
		KeepaliveInterval:  30 * time.Second,
	}

	if v := os.Getenv("PASSCAST_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid PASSCAST_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", cfg.MaxConcurrentPerIP)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	cfg.KeepaliveInterval = envSeconds(logger, "PASSCAST_STREAM_KEEPALIVE_INTERVAL", cfg.KeepaliveInterval)

	if v := os.Getenv("PASSCAST_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid PASSCAST_TRUST_PROXY value, using default", "value", v, "default", false)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

// envSeconds reads a positive number of seconds, fractions allowed.
func envSeconds(logger *slog.Logger, name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || !(f > 0) || math.IsInf(f, 1) {
		logger.Warn("invalid "+name+" value, using default", "value", v, "default", def.Seconds())
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
