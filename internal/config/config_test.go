package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/internal/config"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
			convey.So(cfg.CacheTTL, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.DefaultLeaderboardLimit, convey.ShouldEqual, 100)
			convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 1000)
			convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 1000)
			convey.So(cfg.Periods, convey.ShouldResemble, []string{"daily", "weekly", "all_time"})
			convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"http://localhost:3000"})
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "mindlab")
			convey.So(cfg.MetricsRefreshInterval, convey.ShouldEqual, 10*time.Second)
		})

		convey.Convey("Then the defaults are valid", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a config with several problems", t, func() {
		cfg := config.New(context.Background())
		cfg.Addr = "8080"
		cfg.StoreDriver = config.DriverPostgres
		cfg.DefaultLeaderboardLimit = 5000
		cfg.ScoringRules = map[string]string{"memory": "median"}
		cfg.Periods = []string{"monthly"}
		cfg.Timezone = "Mars/Olympus"
		cfg.RetentionSchedule = "whenever"
		cfg.RedisURL = "http://cache:6379"
		cfg.MetricsNamespace = " "
		cfg.MetricsRefreshInterval = 0

		err := cfg.Validate()

		convey.Convey("Then every problem is reported as invalid config", func() {
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			for _, key := range []string{
				"addr", "database_url", "default_leaderboard_limit", "scoring_rules",
				"periods", "timezone", "retention_schedule", "redis_url",
				"metrics_namespace", "metrics_refresh_interval",
			} {
				convey.So(err.Error(), convey.ShouldContainSubstring, key)
			}
		})
	})

	convey.Convey("Given an unknown store driver", t, func() {
		cfg := config.New(context.Background())
		cfg.StoreDriver = "mongo"
		convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
	})

	convey.Convey("Given disabled metrics", t, func() {
		cfg := config.New(context.Background())
		cfg.MetricsEnabled = false
		cfg.MetricsNamespace = ""
		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})

	convey.Convey("Given a disabled retention schedule", t, func() {
		cfg := config.New(context.Background())
		cfg.RetentionSchedule = ""
		cfg.DailyRetentionDays = -1
		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})
}

func TestConfig_Builders(t *testing.T) {
	convey.Convey("Given configured periods and rules", t, func() {
		cfg := config.New(context.Background())
		cfg.Periods = []string{"weekly", "all_time", "weekly"}
		cfg.Timezone = "Europe/Berlin"
		cfg.ScoringRules = map[string]string{"reaction": "cumulative"}
		cfg.GlobalScoringRule = "best"

		convey.Convey("Then the bucketer uses them", func() {
			b, err := cfg.Bucketer()
			convey.So(err, convey.ShouldBeNil)
			convey.So(b.Kinds(), convey.ShouldResemble, []period.Kind{period.Weekly, period.AllTime})
			convey.So(b.Location().String(), convey.ShouldEqual, "Europe/Berlin")

			convey.Convey("And the rules map games to their policy", func() {
				rules, err := cfg.Rules(b)
				convey.So(err, convey.ShouldBeNil)
				convey.So(rules.RuleFor("reaction"), convey.ShouldEqual, model.RuleCumulative)
				convey.So(rules.RuleFor("memory"), convey.ShouldEqual, model.RuleBest)
				convey.So(rules.Bucketer(), convey.ShouldEqual, b)
			})
		})
	})
}
