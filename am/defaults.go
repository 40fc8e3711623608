package am

import (
	"github.com/spf13/viper"
)

// Default directory and file names
const (
	DefaultConfigName     = "am.toml"
	DefaultUserDirName    = ".cadence"
	DefaultSystemDir      = "/etc/cadence"
	DefaultDirPermissions = 0o755
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "cadence.db")

	v.SetDefault("coordinator.sweep_interval_seconds", 60)
	v.SetDefault("coordinator.default_timeout_seconds", 300)
	v.SetDefault("coordinator.page_size", 256)
	v.SetDefault("coordinator.tick_slop_ms", 10)

	v.SetDefault("cluster.ownership", OwnershipAll)
	v.SetDefault("cluster.postgres_url", "")

	v.SetDefault("store.breaker_failures", 5)
	v.SetDefault("store.breaker_cooldown_seconds", 30)

	v.SetDefault("log.json", false)
}
