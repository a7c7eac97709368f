// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load(ctx) layers .env, an optional YAML file and MINDLAB_ env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"time"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the durable store: sqlite, postgres or memory.
	StoreDriver string `koanf:"store_driver"`
	DatabaseURL string `koanf:"database_url"`
	SQLitePath  string `koanf:"sqlite_path"`
	DBMaxConns  int    `koanf:"db_max_conns"`
	DBMinConns  int    `koanf:"db_min_conns"`

	// RedisURL enables the shared leaderboard cache. Empty falls back to a
	// per-process cache.
	RedisURL     string        `koanf:"redis_url"`
	CacheEnabled bool          `koanf:"cache_enabled"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`

	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit"`
	// MaxLeaderboardLimit caps ?limit on leaderboard reads.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
	// MaxBatchSize caps the events in one sync request.
	MaxBatchSize int `koanf:"max_batch_size"`

	// DedupeSize sets how many committed event keys are remembered in memory.
	DedupeSize int `koanf:"dedupe_size"`

	// WarmWorkerCount sets the number of cache warm workers.
	WarmWorkerCount int `koanf:"warm_worker_count"`
	WarmQueueSize   int `koanf:"warm_queue_size"`

	// ScoringRules maps game ids to best or cumulative.
	ScoringRules       map[string]string `koanf:"scoring_rules"`
	DefaultScoringRule string            `koanf:"default_scoring_rule"`
	GlobalScoringRule  string            `koanf:"global_scoring_rule"`

	// GameWeights scales a game's scores on the global leaderboard.
	GameWeights       map[string]float64 `koanf:"game_weights"`
	DefaultGameWeight float64            `koanf:"default_game_weight"`

	// Periods lists the bucket kinds scores aggregate into.
	Periods  []string `koanf:"periods"`
	Timezone string   `koanf:"timezone"`

	// RetentionSchedule is a cron spec; empty disables pruning.
	RetentionSchedule    string `koanf:"retention_schedule"`
	DailyRetentionDays   int    `koanf:"daily_retention_days"`
	WeeklyRetentionWeeks int    `koanf:"weekly_retention_weeks"`

	CORSOrigins []string `koanf:"cors_origins"`

	// OTelEndpoint enables trace export over OTLP/HTTP when set.
	OTelEndpoint string `koanf:"otel_endpoint"`
	ServiceName  string `koanf:"service_name"`

	// MetricsEnabled exposes collectors on /metrics. Disabled collectors
	// still count, they are just never served.
	MetricsEnabled         bool          `koanf:"metrics_enabled"`
	MetricsNamespace       string        `koanf:"metrics_namespace"`
	MetricsRefreshInterval time.Duration `koanf:"metrics_refresh_interval"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "json",
		Addr:                    ":8080",
		StoreDriver:             DriverSQLite,
		SQLitePath:              "mindlab.db",
		DBMaxConns:              10,
		DBMinConns:              1,
		CacheEnabled:            true,
		CacheTTL:                30 * time.Second,
		DefaultLeaderboardLimit: 100,
		MaxLeaderboardLimit:     1000,
		MaxBatchSize:            1000,
		DedupeSize:              100_000,
		WarmWorkerCount:         2,
		WarmQueueSize:           1024,
		ScoringRules:            map[string]string{},
		DefaultScoringRule:      "best",
		GlobalScoringRule:       "cumulative",
		GameWeights:             map[string]float64{},
		DefaultGameWeight:       1.0,
		Periods:                 []string{"daily", "weekly", "all_time"},
		Timezone:                "UTC",
		RetentionSchedule:       "15 3 * * *",
		DailyRetentionDays:      35,
		WeeklyRetentionWeeks:    26,
		CORSOrigins:             []string{"http://localhost:3000"},
		ServiceName:             "mindlab-play",
		MetricsEnabled:          true,
		MetricsNamespace:        "mindlab",
		MetricsRefreshInterval:  10 * time.Second,
	}
}
