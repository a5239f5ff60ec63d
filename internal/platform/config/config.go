package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"authkernel/internal/kernel/gas"
)

// Journal backends.
const (
	JournalNone     = "none"
	JournalMemory   = "memory"
	JournalPostgres = "postgres"
	JournalRedis    = "redis"
)

// Config is the process-level configuration for the kernel CLI.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Journal JournalConfig `yaml:"journal"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// KernelConfig holds the settings that are part of the replay contract. Two
// runs must agree on all of them to produce the same state hashes.
type KernelConfig struct {
	Gas GasConfig `yaml:"gas"`
	// AllowScopedResolution lets an ACTIVE authority holding
	// RESOLVE_CONFLICT over a conflict's whole scope void participants.
	AllowScopedResolution bool `yaml:"allow_scoped_resolution"`
}

// GasConfig is the primitive cost table and the per-event budgets.
type GasConfig struct {
	Costs   gas.Costs   `yaml:"costs"`
	Budgets gas.Budgets `yaml:"budgets"`
}

// Schedule converts the configuration into a gas schedule.
func (g GasConfig) Schedule() gas.Schedule {
	return gas.Schedule{Costs: g.Costs, Budgets: g.Budgets}
}

// JournalConfig selects where the result stream is recorded.
type JournalConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// BufferSize is the capacity of the asynchronous worker queue.
	BufferSize int `yaml:"buffer_size"`
	// RetryAttempts bounds how often the worker tries one append.
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	// BreakerThreshold consecutive failures stop the worker.
	BreakerThreshold int `yaml:"breaker_threshold"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the reference configuration: default gas schedule,
// scoped resolution disabled, no journal.
func DefaultConfig() Config {
	schedule := gas.DefaultSchedule()
	return Config{
		Kernel: KernelConfig{
			Gas: GasConfig{Costs: schedule.Costs, Budgets: schedule.Budgets},
		},
		Journal: JournalConfig{
			Backend:          JournalNone,
			BufferSize:       256,
			RetryAttempts:    3,
			RetryBackoff:     200 * time.Millisecond,
			BreakerThreshold: 5,
		},
		Redis: RedisConfig{
			KeyPrefix:    "akernel:journal:",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays AKERNEL_* environment variables on base so main stays lean.
func FromEnv(base Config) (Config, error) {
	cfg := base
	if v := os.Getenv("AKERNEL_JOURNAL_BACKEND"); v != "" {
		cfg.Journal.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AKERNEL_POSTGRES_DSN"); v != "" {
		cfg.Journal.PostgresDSN = v
	}
	if v := os.Getenv("AKERNEL_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AKERNEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AKERNEL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("AKERNEL_SCOPED_RESOLUTION"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse AKERNEL_SCOPED_RESOLUTION: %w", err)
		}
		cfg.Kernel.AllowScopedResolution = enabled
	}
	return cfg, nil
}

// Validate rejects configurations the kernel or journal cannot run with.
func (c Config) Validate() error {
	var errs []error
	if err := c.Kernel.Gas.Schedule().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Journal.Backend {
	case JournalNone, JournalMemory:
	case JournalPostgres:
		if c.Journal.PostgresDSN == "" {
			errs = append(errs, errors.New("journal backend postgres requires postgres_dsn"))
		}
	case JournalRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("journal backend redis requires redis url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal backend %q", c.Journal.Backend))
	}
	if c.Journal.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("journal buffer_size must be positive, got %d", c.Journal.BufferSize))
	}
	if c.Journal.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("journal retry_attempts must be positive, got %d", c.Journal.RetryAttempts))
	}
	if c.Journal.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("journal retry_backoff must not be negative, got %s", c.Journal.RetryBackoff))
	}
	if c.Journal.BreakerThreshold <= 0 {
		errs = append(errs, fmt.Errorf("journal breaker_threshold must be positive, got %d", c.Journal.BreakerThreshold))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
