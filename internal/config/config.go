// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// persistence, provider credentials (generator, asset store, prompt model),
// webhook secrets, credit pricing, caching and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "genstudio-backend")
	Environment string  // APP_ENV, recorded as deployment.environment
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the GORM dialect and its connection parameters.
type DBConfig struct {
	Driver string // sqlite|mysql
	Path   string // SQLite file path
	DSN    string // MySQL DSN
}

// AuthConfig configures bearer-token verification for API callers.
type AuthConfig struct {
	JWKSURL    string        // AUTH_JWKS_URL (identity provider key set)
	Issuer     string        // AUTH_ISSUER
	Audience   string        // AUTH_AUDIENCE (optional)
	HMACSecret string        // AUTH_HMAC_SECRET (local/dev tokens)
	Leeway     time.Duration // AUTH_LEEWAY
	DevHeader  bool          // AUTH_DEV_HEADER: trust X-User-ID
}

// KieConfig configures the external generation API.
type KieConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// AssetsConfig configures the S3-compatible durable asset store.
type AssetsConfig struct {
	Bucket        string
	Region        string
	Endpoint      string // custom endpoint for S3-compatible providers
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // base URL objects are served from
	ImageFolder   string
	VideoFolder   string
	MaxBytes      int64
	Timeout       time.Duration
}

// OpenAIConfig configures the prompt enhancer. Empty APIKey disables it.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// WebhookConfig holds the shared secrets used to authenticate inbound webhooks.
type WebhookConfig struct {
	ClerkSecret         string // CLERK_WEBHOOK_SECRET (whsec_...)
	PolarSecret         string // POLAR_WEBHOOK_SECRET
	KieCallbackToken    string // KIE_CALLBACK_TOKEN, appended to callback URLs
	KieCallbackInsecure bool   // KIE_CALLBACK_INSECURE, accept token-less callbacks (local development only)
	MaxBodyBytes        int64
}

// CreditsConfig defines the static price list and signup grant.
type CreditsConfig struct {
	ImageCost      int64
	VideoCost      int64
	SignupCredits  int64
	RefundOnSubmit bool // refund the reservation when submission fails synchronously
}

// CacheConfig configures the public feed cache.
type CacheConfig struct {
	RedisAddr     string // empty selects the in-process cache
	RedisPassword string
	RedisDB       int
	FeedTTL       time.Duration
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	PublicBaseURL  string // externally reachable origin, used for provider callbacks
	MaxPromptRunes int

	DB DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Collaborators
	Auth     AuthConfig
	Kie      KieConfig
	Assets   AssetsConfig
	OpenAI   OpenAIConfig
	Webhooks WebhookConfig
	Credits  CreditsConfig
	Cache    CacheConfig

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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		PublicBaseURL:  strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		MaxPromptRunes: getint("MAX_PROMPT_RUNES", 4000),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			DSN:    getenv("DB_DSN", ""),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Auth: AuthConfig{
			JWKSURL:    getenv("AUTH_JWKS_URL", ""),
			Issuer:     getenv("AUTH_ISSUER", ""),
			Audience:   getenv("AUTH_AUDIENCE", ""),
			HMACSecret: getenv("AUTH_HMAC_SECRET", ""),
			Leeway:     getdur("AUTH_LEEWAY", 30*time.Second),
			DevHeader:  getbool("AUTH_DEV_HEADER", false),
		},
		Kie: KieConfig{
			BaseURL: strings.TrimRight(getenv("KIE_BASE_URL", "https://api.kie.ai"), "/"),
			APIKey:  getenv("KIE_API_KEY", ""),
			Timeout: getdur("KIE_TIMEOUT", 30*time.Second),
		},
		Assets: AssetsConfig{
			Bucket:        getenv("ASSETS_BUCKET", ""),
			Region:        getenv("ASSETS_REGION", "us-east-1"),
			Endpoint:      getenv("ASSETS_ENDPOINT", ""),
			AccessKey:     getenv("ASSETS_ACCESS_KEY", ""),
			SecretKey:     getenv("ASSETS_SECRET_KEY", ""),
			PublicBaseURL: strings.TrimRight(getenv("ASSETS_PUBLIC_BASE_URL", ""), "/"),
			ImageFolder:   getenv("ASSETS_IMAGE_FOLDER", "generations/images"),
			VideoFolder:   getenv("ASSETS_VIDEO_FOLDER", "generations/videos"),
			MaxBytes:      int64(getint("ASSETS_MAX_BYTES", 200<<20)),
			Timeout:       getdur("ASSETS_TIMEOUT", 2*time.Minute),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getenv("OPENAI_API_KEY", ""),
			BaseURL: strings.TrimRight(getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			Model:   getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout: getdur("OPENAI_TIMEOUT", 30*time.Second),
		},
		Webhooks: WebhookConfig{
			ClerkSecret:         getenv("CLERK_WEBHOOK_SECRET", ""),
			PolarSecret:         getenv("POLAR_WEBHOOK_SECRET", ""),
			KieCallbackToken:    getenv("KIE_CALLBACK_TOKEN", ""),
			KieCallbackInsecure: getbool("KIE_CALLBACK_INSECURE", false),
			MaxBodyBytes:        int64(getint("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},
		Credits: CreditsConfig{
			ImageCost:      int64(getint("CREDITS_IMAGE_COST", 1)),
			VideoCost:      int64(getint("CREDITS_VIDEO_COST", 4)),
			SignupCredits:  int64(getint("CREDITS_SIGNUP", 2)),
			RefundOnSubmit: getbool("REFUND_ON_SUBMIT_FAILURE", true),
		},
		Cache: CacheConfig{
			RedisAddr:     getenv("REDIS_ADDR", ""),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			FeedTTL:       getdur("FEED_CACHE_TTL", 15*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "genstudio-backend"),
			Environment: getenv("APP_ENV", ""),
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
	if cfg.DB.Driver == "sqlite3" {
		cfg.DB.Driver = "sqlite"
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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "mysql":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DB_DSN is required when DB_DRIVER=mysql")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql")
	}
	if !strings.HasPrefix(cfg.PublicBaseURL, "http://") && !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return cfg, errors.New("PUBLIC_BASE_URL must be an http(s) URL")
	}
	if cfg.MaxPromptRunes <= 0 {
		return cfg, errors.New("MAX_PROMPT_RUNES must be > 0")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Credits.ImageCost <= 0 || cfg.Credits.VideoCost <= 0 {
		return cfg, errors.New("CREDITS_IMAGE_COST and CREDITS_VIDEO_COST must be > 0")
	}
	if cfg.Credits.SignupCredits < 0 {
		return cfg, errors.New("CREDITS_SIGNUP must be >= 0")
	}
	if cfg.Kie.Timeout <= 0 || cfg.Assets.Timeout <= 0 || cfg.OpenAI.Timeout <= 0 {
		return cfg, errors.New("provider timeouts must be positive durations")
	}
	if cfg.Assets.MaxBytes <= 0 {
		return cfg, errors.New("ASSETS_MAX_BYTES must be > 0")
	}
	if cfg.Webhooks.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.Cache.FeedTTL < 0 {
		return cfg, errors.New("FEED_CACHE_TTL must be >= 0")
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
