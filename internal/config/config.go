// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, the messaging provider and OCR engine credentials, the
// background executor, schedules, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "wa-ocr-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the storage driver.
type DBConfig struct {
	Driver string `validate:"oneof=sqlite postgres"` // DB_DRIVER
	Path   string `validate:"required_if=Driver sqlite"`
	DSN    string `validate:"required_if=Driver postgres"`
}

// ProviderConfig configures the WhatsApp gateway REST client.
type ProviderConfig struct {
	BaseURL       string        `validate:"required,url"`
	Token         string        // PROVIDER_TOKEN (bearer)
	Timeout       time.Duration `validate:"gt=0"`
	RPS           float64       `validate:"gte=0"`
	Burst         int           `validate:"gte=1"`
	MediaMaxBytes int64         `validate:"gt=0"`
}

// OCRConfig configures the document extraction engine.
type OCRConfig struct {
	Engine      string        `validate:"oneof=documentai gemini local"`
	Endpoint    string        `validate:"required_if=Engine documentai"`
	ProjectID   string        `validate:"required_if=Engine documentai"`
	Location    string        `validate:"required_if=Engine documentai"`
	ProcessorID string        `validate:"required_if=Engine documentai"`
	AccessToken string        // OCR_ACCESS_TOKEN; empty means Application Default Credentials
	Timeout     time.Duration `validate:"gt=0"`

	GeminiAPIKey string `validate:"required_if=Engine gemini"`
	GeminiModel  string `validate:"required_if=Engine gemini"`
}

// WorkerConfig sizes the background task executor.
type WorkerConfig struct {
	Workers   int `validate:"gte=1"`
	QueueSize int `validate:"gte=1"`
}

// AMQPConfig enables mirroring realtime events to a RabbitMQ topic exchange.
// An empty URL disables the mirror.
type AMQPConfig struct {
	URL      string
	Exchange string `validate:"required_with=URL"`
}

// ScheduleConfig holds cron expressions for periodic jobs. Empty disables a job.
type ScheduleConfig struct {
	ChatSync      string
	IdempotencyGC string
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

	// Storage
	DB DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second per client IP; 0 disables limiting
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Webhook / realtime
	WebhookSecret string // X-Webhook-Secret; empty accepts any caller
	WSBufferSize  int    // per-subscriber event buffer

	// Collaborators
	Provider ProviderConfig
	OCR      OCRConfig
	Worker   WorkerConfig
	AMQP     AMQPConfig
	Schedule ScheduleConfig

	// Observability
	OTEL OTELConfig
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              env("PORT", "8080", str),
		ReadTimeout:       env("READ_TIMEOUT", 15*time.Second, time.ParseDuration),
		ReadHeaderTimeout: env("READ_HEADER_TIMEOUT", 10*time.Second, time.ParseDuration),
		WriteTimeout:      env("WRITE_TIMEOUT", 60*time.Second, time.ParseDuration),
		IdleTimeout:       env("IDLE_TIMEOUT", 60*time.Second, time.ParseDuration),
		MaxHeaderBytes:    env("MAX_HEADER_BYTES", 1<<20, strconv.Atoi),
		GinMode:           strings.ToLower(env("GIN_MODE", "release", str)),

		// Logging / Docs
		LogLevel:       strings.ToLower(env("LOG_LEVEL", "info", str)),
		LogPretty:      env("LOG_PRETTY", false, boolean),
		SwaggerEnabled: env("SWAGGER_ENABLED", false, boolean),
		APIBasePath:    normalizeBasePath(env("API_BASE_PATH", "/api/v1", str)),

		// Storage
		DB: DBConfig{
			Driver: strings.ToLower(env("DB_DRIVER", "sqlite", str)),
			Path:   env("DB_PATH", "app.db", str),
			DSN:    env("DB_DSN", "", str),
		},

		// Rate limiting
		RateRPS:   env("RATE_RPS", 5.0, float),
		RateBurst: env("RATE_BURST", 10, strconv.Atoi),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(env("CORS_ALLOWED_ORIGINS", "", str)),
		},
		Security: SecurityConfig{
			EnableHSTS: env("ENABLE_HSTS", false, boolean),
			HSTSMaxAge: env("HSTS_MAX_AGE", 180*24*time.Hour, time.ParseDuration),
		},

		// Idempotency
		IdempotencyTTL: env("IDEMPOTENCY_TTL", 24*time.Hour, time.ParseDuration),

		// Webhook / realtime
		WebhookSecret: env("WEBHOOK_SECRET", "", str),
		WSBufferSize:  env("WS_BUFFER_SIZE", 64, strconv.Atoi),

		Provider: ProviderConfig{
			BaseURL:       strings.TrimRight(env("PROVIDER_BASE_URL", "https://gate.whapi.cloud", str), "/"),
			Token:         env("PROVIDER_TOKEN", "", str),
			Timeout:       env("PROVIDER_TIMEOUT", 30*time.Second, time.ParseDuration),
			RPS:           env("PROVIDER_RPS", 10, float),
			Burst:         env("PROVIDER_BURST", 20, strconv.Atoi),
			MediaMaxBytes: int64(env("MEDIA_MAX_BYTES", 20<<20, strconv.Atoi)),
		},
		OCR: OCRConfig{
			Engine:       strings.ToLower(env("OCR_ENGINE", "local", str)),
			Endpoint:     strings.TrimRight(env("OCR_ENDPOINT", "https://us-documentai.googleapis.com", str), "/"),
			ProjectID:    env("OCR_PROJECT_ID", "", str),
			Location:     env("OCR_LOCATION", "us", str),
			ProcessorID:  env("OCR_PROCESSOR_ID", "", str),
			AccessToken:  env("OCR_ACCESS_TOKEN", "", str),
			Timeout:      env("OCR_TIMEOUT", 60*time.Second, time.ParseDuration),
			GeminiAPIKey: env("GEMINI_API_KEY", "", str),
			GeminiModel:  env("GEMINI_MODEL", "gemini-2.0-flash", str),
		},
		Worker: WorkerConfig{
			Workers:   env("WORKERS", 4, strconv.Atoi),
			QueueSize: env("QUEUE_SIZE", 256, strconv.Atoi),
		},
		AMQP: AMQPConfig{
			URL:      env("AMQP_URL", "", str),
			Exchange: env("AMQP_EXCHANGE", "wa.events", str),
		},
		Schedule: ScheduleConfig{
			ChatSync:      env("SYNC_CRON", "", str),
			IdempotencyGC: env("IDEMPOTENCY_GC_CRON", "17 * * * *", str),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     env("OTEL_ENABLED", false, boolean),
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317", str),
			Insecure:    env("OTEL_EXPORTER_OTLP_INSECURE", true, boolean),
			ServiceName: env("OTEL_SERVICE_NAME", "wa-ocr-backend", str),
			SampleRatio: env("OTEL_TRACES_SAMPLER_ARG", 1.0, float),
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
	if cfg.DB.Driver == "sqlite" && strings.TrimSpace(cfg.DB.Path) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
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
	if cfg.WSBufferSize < 1 {
		return cfg, errors.New("WS_BUFFER_SIZE must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	// Nested collaborator settings are declared with struct tags.
	if err := validate.Struct(cfg); err != nil {
		return cfg, describe(err)
	}

	return cfg, nil
}

var validate = validator.New()

// envNames maps struct namespaces reported by the validator back to the
// environment variable that feeds them.
var envNames = map[string]string{
	"Config.DB.Driver":              "DB_DRIVER",
	"Config.DB.Path":                "DB_PATH",
	"Config.DB.DSN":                 "DB_DSN",
	"Config.Provider.BaseURL":       "PROVIDER_BASE_URL",
	"Config.Provider.Timeout":       "PROVIDER_TIMEOUT",
	"Config.Provider.RPS":           "PROVIDER_RPS",
	"Config.Provider.Burst":         "PROVIDER_BURST",
	"Config.Provider.MediaMaxBytes": "MEDIA_MAX_BYTES",
	"Config.OCR.Engine":             "OCR_ENGINE",
	"Config.OCR.Endpoint":           "OCR_ENDPOINT",
	"Config.OCR.ProjectID":          "OCR_PROJECT_ID",
	"Config.OCR.Location":           "OCR_LOCATION",
	"Config.OCR.ProcessorID":        "OCR_PROCESSOR_ID",
	"Config.OCR.Timeout":            "OCR_TIMEOUT",
	"Config.OCR.GeminiAPIKey":       "GEMINI_API_KEY",
	"Config.OCR.GeminiModel":        "GEMINI_MODEL",
	"Config.Worker.Workers":         "WORKERS",
	"Config.Worker.QueueSize":       "QUEUE_SIZE",
	"Config.AMQP.Exchange":          "AMQP_EXCHANGE",
}

// describe turns the first validator failure into an env-oriented message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	name := envNames[fe.Namespace()]
	if name == "" {
		name = fe.Namespace()
	}
	if fe.Param() != "" {
		return fmt.Errorf("%s failed %q (%s)", name, fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%s failed %q", name, fe.Tag())
}

// env reads k through parse, falling back to def when k is unset, empty or
// unparsable.
func env[T any](k string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func str(v string) (string, error) { return v, nil }

func float(v string) (float64, error) { return strconv.ParseFloat(v, 64) }

var errBool = errors.New("not a boolean")

// boolean accepts the usual spellings in addition to strconv's.
func boolean(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, errBool
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
