// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, the Meta platform
// credentials, dispatch tuning, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "dm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// MetaConfig defines the Meta/Instagram platform settings.
type MetaConfig struct {
	AppSecret     string        // META_APP_SECRET, signs webhook payloads
	VerifyToken   string        // META_VERIFY_TOKEN, answers the GET handshake
	GraphVersion  string        // GRAPH_API_VERSION (e.g. "v23.0")
	SendTimeout   time.Duration // SEND_TIMEOUT per outbound API call
	EncryptionKey string        // ENCRYPTION_KEY, 32 bytes, seals access tokens
}

// DispatchConfig tunes the delivery pipeline.
type DispatchConfig struct {
	Workers         int           // WORKER_COUNT concurrent delivery workers
	MaxRetries      int           // MAX_DISPATCH_RETRIES per record
	RetryBaseDelay  time.Duration // RETRY_BASE_DELAY, scaled linearly per attempt
	RateLimitDefer  time.Duration // RATE_LIMIT_DEFER wait when quota exhausted
	DMRatePerDay    int64         // DM_RATE_LIMIT_PER_DAY per-account ceiling
	DMRateWindow    time.Duration // DM_RATE_WINDOW rolling window length
	TrialSweepEvery time.Duration // TRIAL_SWEEP_INTERVAL
	PaySweepEvery   time.Duration // PAYMENT_SWEEP_INTERVAL
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Platform + dispatch
	Meta     MetaConfig
	Dispatch DispatchConfig

	// Edge rate limiting (HTTP abuse control, not the DM quota)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Platform
		Meta: MetaConfig{
			AppSecret:     getenv("META_APP_SECRET", ""),
			VerifyToken:   getenv("META_VERIFY_TOKEN", ""),
			GraphVersion:  getenv("GRAPH_API_VERSION", "v23.0"),
			SendTimeout:   getdur("SEND_TIMEOUT", 10*time.Second),
			EncryptionKey: getenv("ENCRYPTION_KEY", ""),
		},

		// Dispatch tuning
		Dispatch: DispatchConfig{
			Workers:         getint("WORKER_COUNT", 4),
			MaxRetries:      getint("MAX_DISPATCH_RETRIES", 3),
			RetryBaseDelay:  getdur("RETRY_BASE_DELAY", 5*time.Minute),
			RateLimitDefer:  getdur("RATE_LIMIT_DEFER", time.Hour),
			DMRatePerDay:    int64(getint("DM_RATE_LIMIT_PER_DAY", 100)),
			DMRateWindow:    getdur("DM_RATE_WINDOW", 24*time.Hour),
			TrialSweepEvery: getdur("TRIAL_SWEEP_INTERVAL", time.Hour),
			PaySweepEvery:   getdur("PAYMENT_SWEEP_INTERVAL", 6*time.Hour),
		},

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "dm-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Meta.SendTimeout <= 0 {
		return cfg, errors.New("SEND_TIMEOUT must be > 0")
	}
	if k := cfg.Meta.EncryptionKey; k != "" && len(k) != 32 {
		return cfg, errors.New("ENCRYPTION_KEY must be exactly 32 bytes")
	}
	if cfg.Dispatch.Workers < 1 {
		return cfg, errors.New("WORKER_COUNT must be >= 1")
	}
	if cfg.Dispatch.MaxRetries < 1 {
		return cfg, errors.New("MAX_DISPATCH_RETRIES must be >= 1")
	}
	if cfg.Dispatch.RetryBaseDelay <= 0 || cfg.Dispatch.RateLimitDefer <= 0 {
		return cfg, errors.New("dispatch delays must be positive durations")
	}
	if cfg.Dispatch.DMRatePerDay < 1 {
		return cfg, errors.New("DM_RATE_LIMIT_PER_DAY must be >= 1")
	}
	if cfg.Dispatch.DMRateWindow <= 0 {
		return cfg, errors.New("DM_RATE_WINDOW must be > 0")
	}
	if cfg.Dispatch.TrialSweepEvery <= 0 || cfg.Dispatch.PaySweepEvery <= 0 {
		return cfg, errors.New("sweep intervals must be positive durations")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
