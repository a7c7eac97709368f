package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/internal/adapters/cache"
	"github.com/okian/mindlab/internal/config"
	"github.com/okian/mindlab/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given store drivers", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)

		convey.Convey("Then the memory driver opens", func() {
			cfg.StoreDriver = config.DriverMemory
			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.Ping(ctx), convey.ShouldBeNil)
			convey.So(store.Close(), convey.ShouldBeNil)
		})

		convey.Convey("Then the sqlite driver opens a file database", func() {
			cfg.SQLitePath = t.TempDir() + "/mindlab.db"
			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(store.Ping(ctx), convey.ShouldBeNil)
			convey.So(store.Close(), convey.ShouldBeNil)
		})

		convey.Convey("Then an unknown driver is rejected", func() {
			cfg.StoreDriver = "mongo"
			_, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestOpenCache(t *testing.T) {
	convey.Convey("Given cache settings", t, func() {
		ctx := context.Background()
		cfg := config.New(ctx)
		log := logger.Get()

		convey.Convey("Disabled caching uses the no-op cache", func() {
			cfg.CacheEnabled = false
			_, ok := openCache(ctx, cfg, log).(cache.Noop)
			convey.So(ok, convey.ShouldBeTrue)
		})

		convey.Convey("No redis url uses the in-process cache", func() {
			_, ok := openCache(ctx, cfg, log).(*cache.Memory)
			convey.So(ok, convey.ShouldBeTrue)
		})

		convey.Convey("A reachable redis is used", func() {
			mr := miniredis.RunT(t)
			cfg.RedisURL = "redis://" + mr.Addr()
			c := openCache(ctx, cfg, log)
			defer func() { _ = c.Close() }()
			_, ok := c.(*cache.Redis)
			convey.So(ok, convey.ShouldBeTrue)
		})

		convey.Convey("An unreachable redis degrades to the in-process cache", func() {
			cfg.RedisURL = "redis://127.0.0.1:1"
			_, ok := openCache(ctx, cfg, log).(*cache.Memory)
			convey.So(ok, convey.ShouldBeTrue)
		})
	})
}

func TestHandlerEndToEnd(t *testing.T) {
	convey.Convey("Given the full HTTP stack over a memory store", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := config.New(ctx)
		cfg.StoreDriver = config.DriverMemory
		cfg.RetentionSchedule = ""

		store, err := openStore(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = store.Close() }()

		svc, err := newService(cfg, store, cache.NewMemory(), logger.Get())
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop(ctx)

		srv := httptest.NewServer(newHandler(cfg, svc))
		defer srv.Close()

		post := func(body string) map[string]interface{} {
			resp, err := http.Post(srv.URL+"/sync", "application/json", strings.NewReader(body))
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = resp.Body.Close() }()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			var out map[string]interface{}
			convey.So(json.NewDecoder(resp.Body).Decode(&out), convey.ShouldBeNil)
			return out
		}

		batch := `{"events":[
			{"userId":"u1","gameId":"memory","sessionId":"s1","timestamp":1760700000000,"type":"session_start","payload":{"username":"alice"},"clientSeq":1},
			{"userId":"u1","gameId":"memory","sessionId":"s1","timestamp":1760700001000,"type":"score","payload":{"score":100},"clientSeq":2},
			{"userId":"u2","gameId":"memory","sessionId":"s2","timestamp":1760700002000,"type":"score","payload":{"score":90},"clientSeq":1}
		]}`

		convey.Convey("When a batch is synced twice", func() {
			first := post(batch)
			second := post(batch)

			convey.Convey("Then only the first sync stores events", func() {
				convey.So(first["synced"], convey.ShouldEqual, 3.0)
				convey.So(second["synced"], convey.ShouldEqual, 0.0)
				convey.So(second["total"], convey.ShouldEqual, 3.0)
			})

			convey.Convey("Then the all-time game board ranks both players", func() {
				resp, err := http.Get(srv.URL + "/leaderboards/game/all_time?gameId=memory")
				convey.So(err, convey.ShouldBeNil)
				defer func() { _ = resp.Body.Close() }()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

				var rows []map[string]interface{}
				convey.So(json.NewDecoder(resp.Body).Decode(&rows), convey.ShouldBeNil)
				convey.So(len(rows), convey.ShouldEqual, 2)
				convey.So(rows[0]["username"], convey.ShouldEqual, "alice")
				convey.So(rows[0]["rank"], convey.ShouldEqual, 1.0)
				convey.So(rows[1]["userId"], convey.ShouldEqual, "u2")
			})
		})

		convey.Convey("Then docs and health are served", func() {
			for _, path := range []string{"/", "/healthz", "/api-docs", "/openapi.yaml", "/metrics"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}
