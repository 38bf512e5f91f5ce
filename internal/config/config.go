package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration for the api and worker binaries.
type Config struct {
	Env      string
	HTTPAddr string
	RunLocal bool
	LogLevel string

	AWSRegion           string
	AWSEndpointOverride string

	IdempotencyTable     string
	UsersTable           string
	VerificationQueueURL string

	RecordTTL       time.Duration
	InProgressLease time.Duration
	CaptureTimeout  time.Duration
	ShutdownTimeout time.Duration

	MetricsNamespace     string
	MetricsFlushInterval time.Duration
}

// Load reads .env and environments/<APP_ENV>.env when present, then the process environment.
// Values already set in the environment win over file values.
func Load() (*Config, error) {
	_ = godotenv.Load()
	if env := os.Getenv("APP_ENV"); env != "" {
		_ = godotenv.Load(fmt.Sprintf("environments/%s.env", env))
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		RunLocal:             getEnvBool("RUN_LOCAL", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		AWSRegion:            os.Getenv("AWS_REGION"),
		AWSEndpointOverride:  os.Getenv("AWS_ENDPOINT_OVERRIDE"),
		IdempotencyTable:     strings.TrimSpace(os.Getenv("IDEMPOTENCY_TABLE")),
		UsersTable:           strings.TrimSpace(os.Getenv("USERS_TABLE")),
		VerificationQueueURL: strings.TrimSpace(os.Getenv("VERIFICATION_QUEUE_URL")),
		MetricsNamespace:     lookupEnv("METRICS_NAMESPACE", "TaskBundle/Idempotency"),
	}

	durations := []struct {
		name string
		def  string
		dst  *time.Duration
	}{
		{"IDEMPOTENCY_RECORD_TTL", "48h", &cfg.RecordTTL},
		{"IDEMPOTENCY_IN_PROGRESS_LEASE", "15m", &cfg.InProgressLease},
		{"IDEMPOTENCY_CAPTURE_TIMEOUT", "5s", &cfg.CaptureTimeout},
		{"SHUTDOWN_TIMEOUT", "15s", &cfg.ShutdownTimeout},
		{"METRICS_FLUSH_INTERVAL", "1m", &cfg.MetricsFlushInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.name, d.def))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.IdempotencyTable == "" {
		errs = append(errs, errors.New("IDEMPOTENCY_TABLE required"))
	}
	if c.UsersTable == "" {
		errs = append(errs, errors.New("USERS_TABLE required"))
	}
	if c.RecordTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_RECORD_TTL must be positive"))
	}
	if c.InProgressLease < 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_IN_PROGRESS_LEASE must not be negative"))
	}
	if c.InProgressLease > 0 && c.InProgressLease >= c.RecordTTL {
		errs = append(errs, errors.New("IDEMPOTENCY_IN_PROGRESS_LEASE must be shorter than IDEMPOTENCY_RECORD_TTL"))
	}
	if c.CaptureTimeout <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_CAPTURE_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// lookupEnv is getEnv except that an explicitly empty value is kept.
func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
