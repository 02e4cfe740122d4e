// Package config holds scheduler/worker-pool configuration, grouped the
// way the teacher's internal/config.Config groups its sub-systems
// (cfg.Queue, cfg.RateLimit, ...) rather than through a generic
// mapstructure/viper layer.
package config

import "time"

// Config holds every tunable named in spec §4.4 and §6.3.
type Config struct {
	// Enabled selects dual-mode execution (spec §6.4). When false, Start
	// is a no-op and producers are expected to invoke the processor
	// synchronously right after Enqueue.
	Enabled bool

	PollInterval        time.Duration
	IdleBackoff         time.Duration
	BatchSize           int
	MaxWorkers          int
	HeartbeatInterval   time.Duration
	StaleAfter          time.Duration
	StaleSweepInterval  time.Duration
	ShutdownGrace       time.Duration
	CleanupRetentionDays int

	BackoffBase   time.Duration
	BackoffCap    time.Duration
	BackoffJitter time.Duration

	// StatsWindow is loaded from config but not read by Stats; the admin
	// stats endpoint takes its window from the request (default 1h).
	StatsWindow time.Duration

	// ClaimOversample is the factor k applied to batch_size when calling
	// find_due before claiming (spec §4.2).
	ClaimOversample int

	// LeaderLockKey/TTL configure the Redis-backed leader election that
	// lets more than one scheduler process run without double-claiming
	// (SPEC_FULL §9.3).
	LeaderLockKey string
	LeaderLockTTL time.Duration
}

// Default returns the configuration spec §4.4 lists as defaults.
func Default() *Config {
	return &Config{
		Enabled:              false,
		PollInterval:         5 * time.Second,
		IdleBackoff:          5 * time.Second,
		BatchSize:            10,
		MaxWorkers:           5,
		HeartbeatInterval:    30 * time.Second,
		StaleAfter:           10 * time.Minute,
		StaleSweepInterval:   1 * time.Minute,
		ShutdownGrace:        30 * time.Second,
		CleanupRetentionDays: 30,
		BackoffBase:          5 * time.Minute,
		BackoffCap:           1 * time.Hour,
		BackoffJitter:        30 * time.Second,
		StatsWindow:          1 * time.Hour,
		ClaimOversample:      2,
		LeaderLockKey:        "talentqueue:scheduler:leader",
		LeaderLockTTL:        15 * time.Second,
	}
}
