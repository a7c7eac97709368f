package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		dir := t.TempDir()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WarmWorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("MINDLAB_ADDR", ":9090")
			_ = os.Setenv("MINDLAB_STORE_DRIVER", "memory")
			_ = os.Setenv("MINDLAB_CACHE_TTL", "45s")
			_ = os.Setenv("MINDLAB_CACHE_ENABLED", "false")
			_ = os.Setenv("MINDLAB_MAX_BATCH_SIZE", "250")
			_ = os.Setenv("MINDLAB_CORS_ORIGINS", "https://a.example.com,https://b.example.com")
			_ = os.Setenv("MINDLAB_SCORING_RULES__REACTION", "cumulative")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
				convey.So(cfg.CacheTTL, convey.ShouldEqual, 45*time.Second)
				convey.So(cfg.CacheEnabled, convey.ShouldBeFalse)
				convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 250)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://a.example.com", "https://b.example.com"})
				convey.So(cfg.ScoringRules["reaction"], convey.ShouldEqual, "cumulative")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := writeFile(dir, "config.yaml", `
addr: ":7070"
store_driver: postgres
database_url: postgres://mindlab@localhost/mindlab
periods: [all_time]
scoring_rules:
  memory: best
  reaction: cumulative
`)
			_ = os.Setenv("MINDLAB_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverPostgres)
				convey.So(cfg.Periods, convey.ShouldResemble, []string{"all_time"})
				convey.So(cfg.ScoringRules, convey.ShouldResemble, map[string]string{"memory": "best", "reaction": "cumulative"})
				convey.So(cfg.MaxLeaderboardLimit, convey.ShouldEqual, 1000) // From defaults
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := writeFile(dir, "config.yaml", "addr: \":7070\"\ndedupe_size: 5\n")
			_ = os.Setenv("MINDLAB_CONFIG", tmpFile)
			_ = os.Setenv("MINDLAB_ADDR", ":6060")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060") // Overridden by env
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 5) // From file
			})
		})

		convey.Convey("When a .env file is named", func() {
			envFile := writeFile(dir, "test.env", "MINDLAB_ADDR=:5050\nMINDLAB_LOG_LEVEL=debug\n")
			_ = os.Setenv("MINDLAB_ENV_FILE", envFile)
			_ = os.Setenv("MINDLAB_LOG_LEVEL", "warn")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it fills gaps without overriding the real environment", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":5050")
				convey.So(cfg.LogLevel, convey.ShouldEqual, "warn")
			})
		})

		convey.Convey("When the named .env file is missing", func() {
			_ = os.Setenv("MINDLAB_ENV_FILE", filepath.Join(dir, "missing.env"))
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := writeFile(dir, "bad.yaml", `invalid: yaml: content: [`)
			_ = os.Setenv("MINDLAB_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("MINDLAB_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an invalid value", func() {
			_ = os.Setenv("MINDLAB_STORE_DRIVER", "postgres")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "database_url")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func writeFile(dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		panic(err)
	}
	return path
}

// clearConfigEnvVars clears all MINDLAB_ environment variables.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, config.EnvPrefix) {
			_ = os.Unsetenv(key)
		}
	}
}
