package config

import (
	"time"

	redisclient "github.com/trungvv/ripcord/internal/infra/redis"
	"github.com/trungvv/ripcord/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Queue     QueueConfig        `yaml:"queue"`
	Retry     RetryConfig        `yaml:"retry"`
	Extractor ExtractorConfig    `yaml:"extractor"`
	Pools     PoolsConfig        `yaml:"pools"`
	Health    HealthConfig       `yaml:"health"`
	Solver    SolverConfig       `yaml:"solver"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig holds orchestrator settings.
type QueueConfig struct {
	Concurrency  int `yaml:"concurrency"`
	EventBuffer  int `yaml:"event_buffer"`
	ArchiveLimit int `yaml:"archive_limit"`
}

// RetryConfig holds backoff settings. Categories absent from Schedules use
// the built-in defaults.
type RetryConfig struct {
	MaxAttempts int                     `yaml:"max_attempts"`
	Schedules   map[string]TimingConfig `yaml:"schedules"`
}

// TimingConfig is one category's backoff schedule.
type TimingConfig struct {
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	Cap        time.Duration `yaml:"cap"`
}

// ExtractorConfig holds external tool settings.
type ExtractorConfig struct {
	Binary          string        `yaml:"binary"`
	OutputDir       string        `yaml:"output_dir"`
	ExtraArgs       []string      `yaml:"extra_args"`
	StallTimeout    time.Duration `yaml:"stall_timeout"`
	FormatFallbacks []string      `yaml:"format_fallbacks"`
}

// PoolsConfig seeds the rotation pools.
type PoolsConfig struct {
	Proxies    []string `yaml:"proxies"`
	Sessions   []string `yaml:"sessions"` // cookie file paths
	Identities []string `yaml:"identities"`

	FailureThreshold     int           `yaml:"failure_threshold"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	StaleAfter           time.Duration `yaml:"stale_after"`
	MaintenanceInterval  time.Duration `yaml:"maintenance_interval"`
}

// HealthConfig holds monitor settings.
type HealthConfig struct {
	Interval       time.Duration `yaml:"interval"`
	QueueWarnDepth int           `yaml:"queue_warn_depth"`
	QueueCritDepth int           `yaml:"queue_crit_depth"`
}

// SolverConfig points at the challenge-solving collaborator. Protocol is
// selected by endpoint scheme: http(s) uses the REST API, grpc(s) dials a
// gRPC channel.
type SolverConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}
