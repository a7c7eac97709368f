package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/adapters/repository/memory"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/internal/retention"
)

var now = time.Date(2026, time.October, 17, 3, 0, 0, 0, time.UTC)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateAll(context.Context) error {
	c.calls++
	return nil
}

type failingPurger struct{}

func (failingPurger) PurgeBefore(context.Context, period.Kind, string) (int64, error) {
	return 0, repository.Unavailable("purge", errors.New("connection reset"))
}

func seedBuckets(ctx context.Context, s repository.Store, keys ...string) {
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, key := range keys {
			for _, scope := range []model.Scope{model.GlobalScope(), model.GameScope("memory")} {
				if _, err := tx.ApplyScore(ctx, model.ScoreDelta{
					Scope: scope, Period: key, UserID: "u1", Score: 10, Rule: model.RuleBest,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	So(err, ShouldBeNil)
}

func count(ctx context.Context, s repository.Store, key string) int {
	recs, err := s.TopScores(ctx, repository.ScoreQuery{Scope: model.GlobalScope(), Period: key, Limit: 10})
	So(err, ShouldBeNil)
	return len(recs)
}

func TestRunOnce(t *testing.T) {
	Convey("Given score records across old and recent buckets", t, func() {
		ctx := context.Background()
		s := memory.New(ctx)
		defer s.Close()
		seedBuckets(ctx, s, "2026-09-01", "2026-10-16", "2026-10-17", "2026-W10", "2026-W42", period.AllTimeKey)

		inv := &countingInvalidator{}
		job := retention.New(s, period.NewBucketer(),
			retention.WithDailyRetention(7),
			retention.WithWeeklyRetention(4),
			retention.WithInvalidator(inv),
			retention.WithClock(func() time.Time { return now }),
		)

		Convey("When the job runs", func() {
			rep, err := job.RunOnce(ctx)
			So(err, ShouldBeNil)

			Convey("Then only expired daily and weekly buckets are purged", func() {
				So(rep.Daily, ShouldEqual, 2)
				So(rep.Weekly, ShouldEqual, 2)
				So(count(ctx, s, "2026-09-01"), ShouldEqual, 0)
				So(count(ctx, s, "2026-W10"), ShouldEqual, 0)
				So(count(ctx, s, "2026-10-16"), ShouldEqual, 1)
				So(count(ctx, s, "2026-W42"), ShouldEqual, 1)
				So(count(ctx, s, period.AllTimeKey), ShouldEqual, 1)
			})

			Convey("Then cached leaderboards are dropped", func() {
				So(inv.calls, ShouldEqual, 1)
			})

			Convey("Then a second run purges nothing", func() {
				rep, err := job.RunOnce(ctx)
				So(err, ShouldBeNil)
				So(rep.Total(), ShouldEqual, 0)
				So(inv.calls, ShouldEqual, 1)
			})
		})

		Convey("When a window is disabled", func() {
			job := retention.New(s, period.NewBucketer(),
				retention.WithDailyRetention(0),
				retention.WithClock(func() time.Time { return now }),
			)
			rep, err := job.RunOnce(ctx)
			So(err, ShouldBeNil)
			So(rep.Daily, ShouldEqual, 0)
			So(count(ctx, s, "2026-09-01"), ShouldEqual, 1)
		})
	})

	Convey("Given an unavailable store", t, func() {
		job := retention.New(failingPurger{}, period.NewBucketer())
		_, err := job.RunOnce(context.Background())
		So(errors.Is(err, model.ErrStorageUnavailable), ShouldBeTrue)
	})
}

func TestSchedule(t *testing.T) {
	Convey("Given cron specs", t, func() {
		_, err := retention.ParseSchedule("15 3 * * *")
		So(err, ShouldBeNil)
		_, err = retention.ParseSchedule("@daily")
		So(err, ShouldBeNil)
		_, err = retention.ParseSchedule("every day")
		So(errors.Is(err, retention.ErrInvalidSchedule), ShouldBeTrue)
	})

	Convey("Given a started job", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		job := retention.New(failingPurger{}, period.NewBucketer())
		So(job.Start(ctx, "@hourly"), ShouldBeNil)

		Convey("Starting twice is rejected", func() {
			So(job.Start(ctx, "@hourly"), ShouldNotBeNil)
		})

		Convey("Stop returns promptly", func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
			defer stopCancel()
			job.Stop(stopCtx)
			So(stopCtx.Err(), ShouldBeNil)
		})
	})
}
