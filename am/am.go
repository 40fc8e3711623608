// Package am holds cadence's configuration: the structure, its defaults,
// how it is loaded from TOML files and the environment, and hot reload.
package am

import "time"

// Config represents the cadence configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" toml:"coordinator" json:"coordinator" yaml:"coordinator"`
	Cluster     ClusterConfig     `mapstructure:"cluster" toml:"cluster" json:"cluster" yaml:"cluster"`
	Store       StoreConfig       `mapstructure:"store" toml:"store" json:"store" yaml:"store"`
	Log         LogConfig         `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// CoordinatorConfig configures the reconciliation loop
type CoordinatorConfig struct {
	SweepIntervalSeconds  int `mapstructure:"sweep_interval_seconds" toml:"sweep_interval_seconds" json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`     // full reconciliation period (default: 60)
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds" toml:"default_timeout_seconds" json:"default_timeout_seconds" yaml:"default_timeout_seconds"` // used when a job declares no timeout (default: 300)
	PageSize              int `mapstructure:"page_size" toml:"page_size" json:"page_size" yaml:"page_size"`                                                         // jobs per repository page (default: 256)
	TickSlopMS            int `mapstructure:"tick_slop_ms" toml:"tick_slop_ms" json:"tick_slop_ms" yaml:"tick_slop_ms"`                                             // added to extra-tick wakeups (default: 10)
}

// SweepInterval returns the configured interval as a duration.
func (c CoordinatorConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// DefaultTimeout returns the configured default job timeout as a duration.
func (c CoordinatorConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// TickSlop returns the configured extra-tick slop as a duration.
func (c CoordinatorConfig) TickSlop() time.Duration {
	return time.Duration(c.TickSlopMS) * time.Millisecond
}

// Ownership modes
const (
	OwnershipAll      = "all"      // this node runs every job
	OwnershipPostgres = "postgres" // jobs are split between nodes with PostgreSQL advisory locks
)

// ClusterConfig decides which jobs this node runs
type ClusterConfig struct {
	Ownership   string `mapstructure:"ownership" toml:"ownership" json:"ownership" yaml:"ownership"`
	PostgresURL string `mapstructure:"postgres_url" toml:"postgres_url" json:"postgres_url" yaml:"postgres_url"`
}

// StoreConfig configures the circuit breaker around the job store
type StoreConfig struct {
	BreakerFailures        int `mapstructure:"breaker_failures" toml:"breaker_failures" json:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldownSeconds int `mapstructure:"breaker_cooldown_seconds" toml:"breaker_cooldown_seconds" json:"breaker_cooldown_seconds" yaml:"breaker_cooldown_seconds"`
}

// BreakerCooldown returns the configured cooldown as a duration.
func (c StoreConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// LogConfig configures process logging
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
}
