// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the settings of the
// callback gateway: server timeouts, logging, the SQLite path, visitor
// sessions, idempotency, rate limiting, web protection, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tbourn/go-callback-backend/internal/sysutil"
)

// DefaultCSP is the Content-Security-Policy sent with every response.
const DefaultCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; font-src 'self'; " +
	"connect-src 'self'; base-uri 'self'; form-action 'self'; frame-ancestors 'self'"

// Rate-limit store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS and CSP.
type SecurityConfig struct {
	EnableHSTS   bool
	HSTSMaxAge   time.Duration
	CSP          string // empty disables the header
	FrameOptions string // X-Frame-Options value
}

// SessionConfig defines the visitor session cookie.
type SessionConfig struct {
	TTL          time.Duration // SESSION_TTL
	CookieName   string        // SESSION_COOKIE
	SecureCookie bool          // SESSION_COOKIE_SECURE forces Secure on plain HTTP
}

// SubmitLimitConfig defines the per-identity window on the submission path.
type SubmitLimitConfig struct {
	Max         int           // RATE_LIMIT_MAX; < 1 disables
	Window      time.Duration // RATE_LIMIT_WINDOW; < 1s disables
	Store       string        // RATE_LIMIT_STORE: memory|sqlite|redis
	RedisURL    string        // REDIS_URL
	RedisPrefix string        // RATE_LIMIT_REDIS_PREFIX
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-callback-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
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
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes
	SubmitPath     string // full path of the submission endpoint

	// App
	DBPath string // SQLite path

	// Sessions
	Session SessionConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a submission outcome is replayed

	// Rate limiting
	RateRPS     float64 // global token bucket, tokens per second (0 disables)
	RateBurst   int     // bucket size (>= 1)
	SubmitLimit SubmitLimitConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad reads an optional .env file from the working directory, loads the
// configuration and panics if validation fails. Variables already set in the
// environment win over the file.
func MustLoad() Config {
	_ = godotenv.Load()
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
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),
		SubmitPath:     normalizeBasePath(getenv("SUBMIT_PATH", "/api/send")),

		// App
		DBPath: getenv("DB_PATH", "callback.db"),

		// Sessions
		Session: SessionConfig{
			TTL:          getdur("SESSION_TTL", 24*time.Hour),
			CookieName:   getenv("SESSION_COOKIE", "sid"),
			SecureCookie: getbool("SESSION_COOKIE_SECURE", false),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 15*time.Minute),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),
		SubmitLimit: SubmitLimitConfig{
			Max:         getint("RATE_LIMIT_MAX", 10),
			Window:      getdur("RATE_LIMIT_WINDOW", 60*time.Second),
			Store:       strings.ToLower(getenv("RATE_LIMIT_STORE", StoreMemory)),
			RedisURL:    getenv("REDIS_URL", ""),
			RedisPrefix: getenv("RATE_LIMIT_REDIS_PREFIX", "ratelimit:submit:"),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS:   getbool("ENABLE_HSTS", false),
			HSTSMaxAge:   getdur("HSTS_MAX_AGE", 365*24*time.Hour),
			CSP:          getenvRaw("CSP", DefaultCSP),
			FrameOptions: strings.ToUpper(getenv("FRAME_OPTIONS", "SAMEORIGIN")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-callback-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
}

// validate returns the first violated rule in declaration order.
func (c *Config) validate() error {
	rules := []struct {
		bad bool
		msg string
	}{
		{!oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
			"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
			"timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{c.MaxBodyBytes <= 0, "MAX_BODY_BYTES must be > 0"},
		{c.SubmitPath == "/", "SUBMIT_PATH must not be the root path"},
		{strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty"},
		{c.Session.TTL <= 0, "SESSION_TTL must be > 0"},
		{strings.TrimSpace(c.Session.CookieName) == "", "SESSION_COOKIE must not be empty"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.SubmitLimit.Window < 0, "RATE_LIMIT_WINDOW must be >= 0"},
		{!oneOf(c.SubmitLimit.Store, StoreMemory, StoreSQLite, StoreRedis),
			"RATE_LIMIT_STORE must be one of: memory, sqlite, redis"},
		{c.SubmitLimit.Store == StoreRedis && strings.TrimSpace(c.SubmitLimit.RedisURL) == "",
			"REDIS_URL is required when RATE_LIMIT_STORE=redis"},
		{!oneOf(c.Security.FrameOptions, "DENY", "SAMEORIGIN"), "FRAME_OPTIONS must be DENY or SAMEORIGIN"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, r := range rules {
		if r.bad {
			return errors.New(r.msg)
		}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// getenvRaw honors an explicitly empty value.
func getenvRaw(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return strings.TrimSpace(v)
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
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	if sysutil.IsTruthy(v) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "n", "off":
		return false
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
