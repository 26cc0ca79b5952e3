package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageBuntDB   = "buntdb"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName   string   `yaml:"service_name"`
	HTTPPort      string   `yaml:"http_port"`
	StorageDriver string   `yaml:"storage_driver"`
	PostgresDSN   string   `yaml:"postgres_dsn"`
	SQLitePath    string   `yaml:"sqlite_path"`
	BuntDBPath    string   `yaml:"buntdb_path"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`

	PollAuthorities           []string      `yaml:"poll_authorities"`
	MaxCandidatesPerPoll      int           `yaml:"max_candidates_per_poll"`
	AllowCandidatesAfterStart bool          `yaml:"allow_candidates_after_start"`
	IdempotencyTTL            time.Duration `yaml:"idempotency_ttl"`
	ResultsCacheTTL           time.Duration `yaml:"results_cache_ttl"`

	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	AuditInterval      time.Duration `yaml:"audit_interval"`
	EmbeddedRelay      bool          `yaml:"embedded_relay"`
}

func defaults() Config {
	return Config{
		ServiceName:          "votingdapp",
		HTTPPort:             "8080",
		StorageDriver:        StorageMemory,
		SQLitePath:           "data/votingdapp.db",
		BuntDBPath:           "data/votingdapp.buntdb",
		KafkaBrokers:         []string{"localhost:9092"},
		MaxCandidatesPerPoll: 100,
		IdempotencyTTL:       7 * 24 * time.Hour,
		ResultsCacheTTL:      5 * time.Second,
		RateLimitPerSecond:   20,
		RateLimitBurst:       40,
		OutboxPollInterval:   2 * time.Second,
		AuditInterval:        time.Minute,
		EmbeddedRelay:        true,
	}
}

// Load builds the configuration from defaults, an optional .env file, an
// optional YAML file named by CONFIG_FILE, and finally the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	cfg.ServiceName = envString("SERVICE_NAME", cfg.ServiceName)
	cfg.HTTPPort = envString("HTTP_PORT", cfg.HTTPPort)
	cfg.StorageDriver = strings.ToLower(envString("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = envString("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.SQLitePath = envString("SQLITE_PATH", cfg.SQLitePath)
	cfg.BuntDBPath = envString("BUNTDB_PATH", cfg.BuntDBPath)
	cfg.KafkaBrokers = envList("KAFKA_BROKERS", cfg.KafkaBrokers)

	cfg.PollAuthorities = envList("POLL_AUTHORITIES", cfg.PollAuthorities)
	cfg.MaxCandidatesPerPoll = envInt("MAX_CANDIDATES_PER_POLL", cfg.MaxCandidatesPerPoll)
	cfg.AllowCandidatesAfterStart = envBool("ALLOW_CANDIDATES_AFTER_START", cfg.AllowCandidatesAfterStart)
	cfg.IdempotencyTTL = envDuration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.ResultsCacheTTL = envDuration("RESULTS_CACHE_TTL", cfg.ResultsCacheTTL)

	cfg.RateLimitPerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.AuditInterval = envDuration("AUDIT_INTERVAL", cfg.AuditInterval)
	cfg.EmbeddedRelay = envBool("EMBEDDED_RELAY", cfg.EmbeddedRelay)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite, StorageBuntDB:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("POSTGRES_DSN is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.MaxCandidatesPerPoll < 0 {
		return errors.New("MAX_CANDIDATES_PER_POLL must not be negative")
	}
	if c.OutboxPollInterval <= 0 || c.AuditInterval <= 0 {
		return errors.New("worker intervals must be positive")
	}
	return nil
}

func envString(name string, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func envList(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	var items []string
	for _, value := range strings.Split(raw, ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			items = append(items, value)
		}
	}
	return items
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
