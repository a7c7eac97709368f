package config

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/internal/domain/scoring"
	"github.com/okian/mindlab/internal/retention"
)

// Validate reports every problem in c. Each error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Addr) == "" {
		add(invalid("addr", "must not be empty"))
	} else if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		add(invalid("addr", "%v", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		add(invalid("log_format", "unknown format %q", c.LogFormat))
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			add(invalid("sqlite_path", "required for the sqlite driver"))
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			add(invalid("database_url", "required for the postgres driver"))
		}
		if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			add(invalid("db_max_conns", "need 0 <= db_min_conns <= db_max_conns and db_max_conns >= 1"))
		}
	case DriverMemory:
	default:
		add(invalid("store_driver", "unknown driver %q", c.StoreDriver))
	}

	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			add(invalid("redis_url", "must be a redis:// or rediss:// URL"))
		}
	}
	if c.CacheEnabled && c.CacheTTL <= 0 {
		add(invalid("cache_ttl", "must be positive"))
	}

	if c.MaxLeaderboardLimit < 1 {
		add(invalid("max_leaderboard_limit", "must be positive"))
	}
	if c.DefaultLeaderboardLimit < 1 || c.DefaultLeaderboardLimit > c.MaxLeaderboardLimit {
		add(invalid("default_leaderboard_limit", "must be between 1 and max_leaderboard_limit"))
	}
	if c.MaxBatchSize < 1 {
		add(invalid("max_batch_size", "must be positive"))
	}
	if c.DedupeSize < 0 {
		add(invalid("dedupe_size", "must not be negative"))
	}
	if c.WarmWorkerCount < 0 || c.WarmQueueSize < 1 {
		add(invalid("warm_queue_size", "need warm_worker_count >= 0 and warm_queue_size >= 1"))
	}

	_, err := c.gameRules()
	add(err)
	for key, name := range map[string]string{
		"default_scoring_rule": c.DefaultScoringRule,
		"global_scoring_rule":  c.GlobalScoringRule,
	} {
		if _, err := scoring.ParseRule(name); err != nil {
			add(invalid(key, "%v", err))
		}
	}
	if c.DefaultGameWeight <= 0 {
		add(invalid("default_game_weight", "must be positive"))
	}
	for game, w := range c.GameWeights {
		if w <= 0 {
			add(invalid("game_weights", "%s: weight must be positive", game))
		}
	}

	_, err = c.kinds()
	add(err)
	_, err = c.Location()
	add(err)

	if c.RetentionSchedule != "" {
		if _, err := retention.ParseSchedule(c.RetentionSchedule); err != nil {
			add(invalid("retention_schedule", "%v", err))
		}
		if c.DailyRetentionDays < 0 || c.WeeklyRetentionWeeks < 0 {
			add(invalid("daily_retention_days", "retention windows must not be negative"))
		}
	}
	if c.OTelEndpoint != "" && strings.TrimSpace(c.ServiceName) == "" {
		add(invalid("service_name", "required when otel_endpoint is set"))
	}
	if c.MetricsEnabled && strings.TrimSpace(c.MetricsNamespace) == "" {
		add(invalid("metrics_namespace", "required when metrics are enabled"))
	}
	if c.MetricsRefreshInterval <= 0 {
		add(invalid("metrics_refresh_interval", "must be positive"))
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, invalid("timezone", "%v", err)
	}
	return loc, nil
}

// Bucketer builds the period bucketer for the configured periods and zone.
func (c *Config) Bucketer() (*period.Bucketer, error) {
	kinds, err := c.kinds()
	if err != nil {
		return nil, err
	}
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return period.NewBucketer(period.WithKinds(kinds...), period.WithLocation(loc)), nil
}

// Rules builds the scoring rules over b.
func (c *Config) Rules(b *period.Bucketer) (*scoring.Rules, error) {
	games, err := c.gameRules()
	if err != nil {
		return nil, err
	}
	def, err := scoring.ParseRule(c.DefaultScoringRule)
	if err != nil {
		return nil, invalid("default_scoring_rule", "%v", err)
	}
	global, err := scoring.ParseRule(c.GlobalScoringRule)
	if err != nil {
		return nil, invalid("global_scoring_rule", "%v", err)
	}
	return scoring.NewRules(
		scoring.WithGameRules(games),
		scoring.WithDefaultRule(def),
		scoring.WithGlobalRule(global),
		scoring.WithGameWeights(c.GameWeights, c.DefaultGameWeight),
		scoring.WithBucketer(b),
	), nil
}

func (c *Config) gameRules() (map[string]model.Rule, error) {
	out := make(map[string]model.Rule, len(c.ScoringRules))
	for game, name := range c.ScoringRules {
		rule, err := scoring.ParseRule(name)
		if err != nil {
			return nil, invalid("scoring_rules", "%s: %v", game, err)
		}
		out[game] = rule
	}
	return out, nil
}

func (c *Config) kinds() ([]period.Kind, error) {
	if len(c.Periods) == 0 {
		return nil, invalid("periods", "at least one period is required")
	}
	kinds := make([]period.Kind, 0, len(c.Periods))
	seen := make(map[period.Kind]bool, len(c.Periods))
	for _, name := range c.Periods {
		k, err := period.ParseKind(name)
		if err != nil {
			return nil, invalid("periods", "%v", err)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}
