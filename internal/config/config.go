// README: Config loader with env defaults for HTTP, DB, Redis, assignment, maps, jobs and sinks.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dispatch/internal/types"
)

type AssignmentConfig struct {
	// RadiusKm bounds the candidate snapshot around the pickup; 0 disables it.
	RadiusKm       float64
	RankTimeout    time.Duration
	GeoMaxAttempts int
	GeoBaseDelay   time.Duration
	GeoConcurrency int
	// PrepAggregation is "max" (parallel kitchen) or "sum" (sequential kitchen).
	PrepAggregation string
	// PrepFallback is used for items missing from the prep table; 0 means unknown items fail.
	PrepFallback time.Duration
}

type MapsConfig struct {
	APIKey      string
	QPS         float64
	AvgSpeedKmh float64
	// GeocodeFallback replaces intake addresses the geocoder cannot find; nil rejects them.
	GeocodeFallback *types.Point
}

type JobsConfig struct {
	SweepSpec   string
	RefreshSpec string
	SweepBatch  int
}

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		// DSN empty runs with in-memory order storage.
		DSN string
	}
	Redis struct {
		// Addr empty runs with the in-memory rider pool.
		Addr string
	}
	Assignment AssignmentConfig
	Maps       MapsConfig
	Jobs       JobsConfig
	AMQP       struct {
		URL string
	}
	Firebase struct {
		// ProjectID empty disables token verification and push notifications.
		ProjectID       string
		CredentialsFile string
	}
	Log             LogConfig
	ZonesFile       string
	PrepTableFile   string
	RiderRoutesFile string
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("DISPATCH_HTTP_ADDR", ":8080")
	cfg.DB.DSN = os.Getenv("DISPATCH_DB_DSN")
	cfg.Redis.Addr = os.Getenv("DISPATCH_REDIS_ADDR")

	cfg.Assignment.RadiusKm = envOrDefaultFloat("ASSIGN_RADIUS_KM", 10.0)
	cfg.Assignment.RankTimeout = envOrDefaultDuration("ASSIGN_RANK_TIMEOUT", 5*time.Second)
	cfg.Assignment.GeoMaxAttempts = envOrDefaultInt("GEO_MAX_ATTEMPTS", 3)
	cfg.Assignment.GeoBaseDelay = envOrDefaultDuration("GEO_BASE_DELAY", 100*time.Millisecond)
	cfg.Assignment.GeoConcurrency = envOrDefaultInt("GEO_CONCURRENCY", 8)
	cfg.Assignment.PrepAggregation = strings.ToLower(envOrDefault("PREP_AGGREGATION", "max"))
	cfg.Assignment.PrepFallback = time.Duration(envOrDefaultFloat("PREP_FALLBACK_MINUTES", 0) * float64(time.Minute))

	cfg.Maps.APIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	cfg.Maps.QPS = envOrDefaultFloat("MAPS_QPS", 10)
	cfg.Maps.AvgSpeedKmh = envOrDefaultFloat("AVG_SPEED_KMH", 25)
	if v := os.Getenv("GEOCODE_FALLBACK"); v != "" {
		p, err := parseLatLng(v)
		if err != nil {
			return Config{}, fmt.Errorf("GEOCODE_FALLBACK: %w", err)
		}
		cfg.Maps.GeocodeFallback = &p
	}

	cfg.Jobs.SweepSpec = envOrDefault("SWEEP_SPEC", "@every 10s")
	cfg.Jobs.RefreshSpec = envOrDefault("REFRESH_SPEC", "@every 5m")
	cfg.Jobs.SweepBatch = envOrDefaultInt("SWEEP_BATCH", 50)

	cfg.AMQP.URL = os.Getenv("AMQP_URL")
	cfg.Firebase.ProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	cfg.Firebase.CredentialsFile = os.Getenv("FIREBASE_CREDENTIALS_FILE")

	cfg.Log.Level = envOrDefault("LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("LOG_FORMAT", "json")

	cfg.ZonesFile = envOrDefault("ZONES_FILE", "config/zones.yaml")
	cfg.PrepTableFile = envOrDefault("PREP_TABLE_FILE", "config/prep_times.yaml")
	cfg.RiderRoutesFile = envOrDefault("RIDER_ROUTES_FILE", "config/rider_routes.yaml")

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	a := c.Assignment
	switch {
	case a.RadiusKm < 0:
		return errors.New("ASSIGN_RADIUS_KM must not be negative")
	case a.RankTimeout <= 0:
		return errors.New("ASSIGN_RANK_TIMEOUT must be positive")
	case a.GeoMaxAttempts < 1:
		return errors.New("GEO_MAX_ATTEMPTS must be at least 1")
	case a.GeoConcurrency < 1:
		return errors.New("GEO_CONCURRENCY must be at least 1")
	case a.PrepAggregation != "max" && a.PrepAggregation != "sum":
		return fmt.Errorf("PREP_AGGREGATION %q: want max or sum", a.PrepAggregation)
	case a.PrepFallback < 0:
		return errors.New("PREP_FALLBACK_MINUTES must not be negative")
	case c.Maps.AvgSpeedKmh <= 0:
		return errors.New("AVG_SPEED_KMH must be positive")
	case c.Jobs.SweepBatch < 1:
		return errors.New("SWEEP_BATCH must be at least 1")
	}
	return nil
}

// parseLatLng reads "lat,lng", e.g. "18.5204,73.8567".
func parseLatLng(v string) (types.Point, error) {
	lat, lng, ok := strings.Cut(v, ",")
	if !ok {
		return types.Point{}, fmt.Errorf("%q: want lat,lng", v)
	}
	var p types.Point
	var err error
	if p.Lat, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return types.Point{}, fmt.Errorf("latitude: %w", err)
	}
	if p.Lng, err = strconv.ParseFloat(strings.TrimSpace(lng), 64); err != nil {
		return types.Point{}, fmt.Errorf("longitude: %w", err)
	}
	if !p.Valid() {
		return types.Point{}, fmt.Errorf("%q out of range", v)
	}
	return p, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

// envOrDefaultDuration accepts Go durations ("750ms") or plain milliseconds.
func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return def
}
