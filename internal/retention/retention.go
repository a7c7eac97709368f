// Package retention prunes daily and weekly score records that fell out of
// their retention window. The event log is never pruned.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/pkg/logger"
	"github.com/okian/mindlab/pkg/metrics"
)

// Default retention windows.
const (
	DefaultDailyRetentionDays   = 35
	DefaultWeeklyRetentionWeeks = 26

	runTimeout = 5 * time.Minute
)

// ErrInvalidSchedule is returned for unparseable cron specs.
var ErrInvalidSchedule = errors.New("invalid retention schedule")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a five-field cron spec or a descriptor such as
// "@daily".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, spec, err)
	}
	return s, nil
}

// Purger deletes score records of kind older than cutoffKey.
type Purger interface {
	PurgeBefore(ctx context.Context, kind period.Kind, cutoffKey string) (int64, error)
}

// Invalidator drops cached leaderboards after records were purged.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Report counts purged records per kind.
type Report struct {
	Daily  int64
	Weekly int64
}

// Total returns the number of purged records.
func (r Report) Total() int64 { return r.Daily + r.Weekly }

// Job is the scheduled retention run.
type Job struct {
	store      Purger
	bucketer   *period.Bucketer
	dailyKeep  int
	weeklyKeep int
	inv        Invalidator
	now        func() time.Time
	logger     logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New returns a job purging through store. Windows of zero or less keep
// records of that kind forever.
func New(store Purger, bucketer *period.Bucketer, opts ...Option) *Job {
	if bucketer == nil {
		bucketer = period.NewBucketer()
	}
	j := &Job{
		store:      store,
		bucketer:   bucketer,
		dailyKeep:  DefaultDailyRetentionDays,
		weeklyKeep: DefaultWeeklyRetentionWeeks,
		now:        time.Now,
		logger:     logger.Get().Named("retention"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// RunOnce purges every expired bucket of the enabled kinds.
func (j *Job) RunOnce(ctx context.Context) (Report, error) {
	now := j.now()
	var (
		rep  Report
		errs []error
	)

	purge := func(kind period.Kind, keep int, into *int64) {
		if keep <= 0 || !j.bucketer.Enabled(kind) {
			return
		}
		cutoff, err := j.bucketer.Cutoff(kind, now, keep)
		if err != nil {
			errs = append(errs, err)
			return
		}
		n, err := j.store.PurgeBefore(ctx, kind, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s before %s: %w", kind, cutoff, err))
			return
		}
		*into = n
		metrics.RecordRetentionPurged(kind.String(), n)
		if n > 0 {
			j.logger.Info(ctx, "purged expired score records",
				logger.String("kind", kind.String()),
				logger.String("cutoff", cutoff),
				logger.Int64("records", n),
			)
		}
	}
	purge(period.Daily, j.dailyKeep, &rep.Daily)
	purge(period.Weekly, j.weeklyKeep, &rep.Weekly)

	if rep.Total() > 0 && j.inv != nil {
		if err := j.inv.InvalidateAll(ctx); err != nil {
			j.logger.Warn(ctx, "cache invalidation after purge failed", logger.Error(err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		metrics.RecordRetentionRun("failed")
		return rep, err
	}
	metrics.RecordRetentionRun("ok")
	return rep, nil
}

// Start schedules RunOnce on spec in the bucketer's time zone. The runs stop
// with ctx or Stop.
func (j *Job) Start(ctx context.Context, spec string) error {
	sched, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return errors.New("retention already started")
	}

	c := cron.New(cron.WithLocation(j.bucketer.Location()), cron.WithParser(parser))
	c.Schedule(sched, cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := j.RunOnce(runCtx); err != nil {
			j.logger.Error(runCtx, "retention run failed", logger.Error(err))
		}
	}))
	c.Start()
	j.cron = c

	go func() {
		<-ctx.Done()
		j.Stop(context.Background())
	}()

	j.logger.Info(ctx, "retention scheduled",
		logger.String("schedule", spec),
		logger.Int("daily_days", j.dailyKeep),
		logger.Int("weekly_weeks", j.weeklyKeep),
	)
	return nil
}

// Stop stops scheduling and waits for a running purge, bounded by ctx.
func (j *Job) Stop(ctx context.Context) {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
