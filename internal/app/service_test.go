package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/internal/adapters/cache"
	service "github.com/okian/mindlab/internal/app"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/pkg/logger"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var fixedNow = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			So(svc.DefaultLimit(), ShouldEqual, 100)
			So(svc.MaxLimit(), ShouldEqual, 1000)
		})
	})

	Convey("Given custom limits", t, func() {
		svc := service.New(service.WithLimits(500, 200))

		Convey("Then the default never exceeds the maximum", func() {
			So(svc.MaxLimit(), ShouldEqual, 200)
			So(svc.DefaultLimit(), ShouldEqual, 200)
		})
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(1), service.WithCache(cache.NewMemory()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("Operations before Start report unavailable storage", func() {
			_, err := svc.Sync(ctx, []model.Event{{UserID: "u"}})
			So(errors.Is(err, model.ErrStorageUnavailable), ShouldBeTrue)
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.Ping(ctx), ShouldNotBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it is marked as started and healthy", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats, ShouldContainKey, "store")
				So(stats, ShouldContainKey, "warmQueueLength")
				So(svc.Ping(ctx), ShouldBeNil)
			})

			Convey("And when stopping it", func() {
				svc.Stop(ctx)
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Ping(ctx), ShouldNotBeNil)
				svc.Stop(ctx)
			})
		})
	})

	Convey("Given an invalid retention schedule", t, func() {
		svc := service.New(service.WithRetention("not a schedule", 7, 4))
		err := svc.Start(context.Background())
		So(err, ShouldNotBeNil)
		So(svc.GetStats()["started"], ShouldEqual, false)
	})
}

func TestService_ResolvePeriod(t *testing.T) {
	Convey("Given a service with a fixed clock", t, func() {
		svc := service.New(service.WithClock(clock))

		Convey("Aliases resolve to the current bucket", func() {
			key, err := svc.ResolvePeriod("daily")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "2026-10-17")

			key, err = svc.ResolvePeriod("weekly")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "2026-W42")

			key, err = svc.ResolvePeriod("all_time")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "all_time")
		})

		Convey("Explicit keys pass through", func() {
			key, err := svc.ResolvePeriod("2026-10-01")
			So(err, ShouldBeNil)
			So(key, ShouldEqual, "2026-10-01")
		})

		Convey("Unknown periods are invalid queries", func() {
			_, err := svc.ResolvePeriod("monthly")
			So(errors.Is(err, model.ErrInvalidQuery), ShouldBeTrue)
		})
	})
}
