// Package config loads service configuration from the environment. A .env
// file in the working directory is read first when present; variables that
// are already set win.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/folio-labs/portfolio-service/internal/marketdata"
)

// Config holds service configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty means in-memory store
	RedisURL    string // empty disables the reference-data cache
	CacheTTL    time.Duration

	JWTSecret string
	JWTExpiry time.Duration

	MarketDataTimeout time.Duration
	ISINLookupURL     string
	ISINTimeout       time.Duration

	AnalysisTickerTimeout time.Duration
	AnalysisWorkers       int

	LogLevel           string
	LogPretty          bool
	CORSAllowedOrigins []string
}

// Load reads .env if present and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (Config, error) {
	var validationErrs []string

	cfg := Config{
		Port:        envDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    envDuration("CACHE_TTL", 10*time.Minute, &validationErrs),

		JWTSecret: os.Getenv("JWT_SECRET_KEY"),
		JWTExpiry: envDuration("JWT_EXPIRY", 15*time.Minute, &validationErrs),

		MarketDataTimeout: envDuration("MARKETDATA_TIMEOUT", 10*time.Second, &validationErrs),
		ISINLookupURL:     envDefault("ISIN_LOOKUP_URL", marketdata.DefaultISINLookupURL),
		ISINTimeout:       envDuration("ISIN_TIMEOUT", 5*time.Second, &validationErrs),

		AnalysisTickerTimeout: envDuration("ANALYSIS_TICKER_TIMEOUT", 5*time.Second, &validationErrs),
		AnalysisWorkers:       envInt("ANALYSIS_WORKERS", 4, &validationErrs),

		LogLevel:           envDefault("LOG_LEVEL", "info"),
		LogPretty:          envBool("LOG_PRETTY", false, &validationErrs),
		CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	requireEnv("JWT_SECRET_KEY", cfg.JWTSecret, &validationErrs)
	if cfg.AnalysisWorkers < 1 {
		validationErrs = append(validationErrs, "ANALYSIS_WORKERS must be at least 1")
	}

	if len(validationErrs) > 0 {
		return cfg, errors.New(strings.Join(validationErrs, "; "))
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func requireEnv(name, value string, errs *[]string) {
	if strings.TrimSpace(value) == "" {
		*errs = append(*errs, name+" is required")
	}
}

func envDuration(key string, fallback time.Duration, errs *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, key+" must be a positive duration")
		return fallback
	}
	return d
}

func envInt(key string, fallback int, errs *[]string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, key+" must be an integer")
		return fallback
	}
	return n
}

func envBool(key string, fallback bool, errs *[]string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, key+" must be true or false")
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
