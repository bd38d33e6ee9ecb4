package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	// BasePath prefixes every route, e.g. "/api/v1/ro-crate".
	BasePath string
	// APIKeys is an optional allowlist. Empty means api-key is only forwarded.
	APIKeys      []string
	CORSOrigins  []string
	RateLimitRPS int
	Concurrency  int
	QueueSize    int
	DBPath       string
	MaxBodyBytes int64

	ValidateSyncMaxEntities  int
	ExportSyncMaxIdentifiers int

	JobTTL          time.Duration
	CleanupInterval time.Duration

	// PublicURL is prepended to download links; relative links when empty.
	PublicURL     string
	ValidatorURL  string
	ExporterURL   string
	CatalogPath   string
	EngineTimeout time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// Load reads the configuration from the environment. When envFile is set and
// exists, its variables are loaded first; variables already set in the
// environment take precedence.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		ListenAddr:   getEnv("CRATEGATE_LISTEN_ADDR", ":8080"),
		BasePath:     strings.TrimRight(getEnv("CRATEGATE_BASE_PATH", "/api/v1/ro-crate"), "/"),
		APIKeys:      getEnvList("CRATEGATE_API_KEYS"),
		CORSOrigins:  getEnvList("CRATEGATE_CORS_ORIGINS"),
		DBPath:       getEnv("CRATEGATE_DB_PATH", "crategate.db"),
		PublicURL:    strings.TrimRight(getEnv("CRATEGATE_PUBLIC_URL", ""), "/"),
		ValidatorURL: getEnv("CRATEGATE_VALIDATOR_URL", ""),
		ExporterURL:  getEnv("CRATEGATE_EXPORTER_URL", ""),
		CatalogPath:  getEnv("CRATEGATE_CATALOG_PATH", ""),
		LogFormat:    getEnv("CRATEGATE_LOG_FORMAT", "json"),
	}

	if cfg.BasePath != "" && !strings.HasPrefix(cfg.BasePath, "/") {
		return nil, fmt.Errorf("CRATEGATE_BASE_PATH %q must start with /", cfg.BasePath)
	}

	ints := []struct {
		key      string
		dst      *int
		fallback int
		min      int
	}{
		{"CRATEGATE_RATE_LIMIT_RPS", &cfg.RateLimitRPS, 0, 0},
		{"CRATEGATE_CONCURRENCY", &cfg.Concurrency, 2, 1},
		{"CRATEGATE_QUEUE_SIZE", &cfg.QueueSize, 1000, 1},
		{"CRATEGATE_VALIDATE_SYNC_MAX_ENTITIES", &cfg.ValidateSyncMaxEntities, 200, 0},
		{"CRATEGATE_EXPORT_SYNC_MAX_IDENTIFIERS", &cfg.ExportSyncMaxIdentifiers, 1, 0},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, v.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if n < v.min {
			return nil, fmt.Errorf("%s must be >= %d", v.key, v.min)
		}
		*v.dst = n
	}

	maxBody, err := getEnvInt("CRATEGATE_MAX_BODY_BYTES", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("CRATEGATE_MAX_BODY_BYTES: %w", err)
	}
	if maxBody < 1 {
		return nil, errors.New("CRATEGATE_MAX_BODY_BYTES must be > 0")
	}
	cfg.MaxBodyBytes = int64(maxBody)

	durations := []struct {
		key      string
		dst      *time.Duration
		fallback int
		unit     time.Duration
	}{
		{"CRATEGATE_JOB_TTL_HOURS", &cfg.JobTTL, 24, time.Hour},
		{"CRATEGATE_CLEANUP_INTERVAL_MINUTES", &cfg.CleanupInterval, 10, time.Minute},
		{"CRATEGATE_ENGINE_TIMEOUT_SECONDS", &cfg.EngineTimeout, 60, time.Second},
	}
	for _, v := range durations {
		n, err := getEnvInt(v.key, v.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v.key, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("%s must be >= 0", v.key)
		}
		*v.dst = time.Duration(n) * v.unit
	}

	for key, raw := range map[string]string{
		"CRATEGATE_PUBLIC_URL":    cfg.PublicURL,
		"CRATEGATE_VALIDATOR_URL": cfg.ValidatorURL,
		"CRATEGATE_EXPORTER_URL":  cfg.ExporterURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%s %q must be an absolute URL", key, raw)
		}
	}
	if cfg.ExporterURL != "" && cfg.CatalogPath != "" {
		return nil, errors.New("CRATEGATE_EXPORTER_URL and CRATEGATE_CATALOG_PATH are mutually exclusive")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("CRATEGATE_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("CRATEGATE_LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CRATEGATE_LOG_FORMAT %q must be json or text", cfg.LogFormat)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getEnvList splits a comma-separated variable, dropping blank items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
