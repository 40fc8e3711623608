package am

import "github.com/teranos/cadence/errors"

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.Configurationf("database.path cannot be empty")
	}

	if c.Coordinator.SweepIntervalSeconds <= 0 {
		return errors.Configurationf("coordinator.sweep_interval_seconds must be > 0, got %d", c.Coordinator.SweepIntervalSeconds)
	}
	if c.Coordinator.DefaultTimeoutSeconds <= 0 {
		return errors.Configurationf("coordinator.default_timeout_seconds must be > 0, got %d", c.Coordinator.DefaultTimeoutSeconds)
	}
	if c.Coordinator.PageSize < 1 {
		return errors.Configurationf("coordinator.page_size must be >= 1, got %d", c.Coordinator.PageSize)
	}
	if c.Coordinator.TickSlopMS < 0 {
		return errors.Configurationf("coordinator.tick_slop_ms must be >= 0, got %d", c.Coordinator.TickSlopMS)
	}

	switch c.Cluster.Ownership {
	case OwnershipAll:
	case OwnershipPostgres:
		if c.Cluster.PostgresURL == "" {
			return errors.WithHint(
				errors.Configurationf("cluster.postgres_url is required when cluster.ownership is %q", OwnershipPostgres),
				"set CADENCE_CLUSTER_POSTGRES_URL or add postgres_url under [cluster]")
		}
	default:
		return errors.WithHintf(
			errors.Configurationf("unknown cluster.ownership %q", c.Cluster.Ownership),
			"use %q or %q", OwnershipAll, OwnershipPostgres)
	}

	if c.Store.BreakerFailures < 1 {
		return errors.Configurationf("store.breaker_failures must be >= 1, got %d", c.Store.BreakerFailures)
	}
	if c.Store.BreakerCooldownSeconds <= 0 {
		return errors.Configurationf("store.breaker_cooldown_seconds must be > 0, got %d", c.Store.BreakerCooldownSeconds)
	}

	return nil
}
