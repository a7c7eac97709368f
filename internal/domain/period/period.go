// Package period computes the bucket keys leaderboards are aggregated under.
//
// Keys are stable strings: a day is "2026-10-17", an ISO week is "2026-W42"
// and the all-time bucket is "all_time". Keys of one kind sort
// lexicographically in time order.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/mindlab/internal/domain/model"
)

// Kind is a bucket granularity.
type Kind int

// Bucket kinds.
const (
	Daily Kind = iota + 1
	Weekly
	AllTime
)

// AllTimeKey is the sentinel key of the all-time bucket.
const AllTimeKey = "all_time"

const (
	dayLayout     = "2006-01-02"
	weekKeyLength = len("2006-W01")
	daysPerWeek   = 7
)

func (k Kind) String() string {
	switch k {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case AllTime:
		return AllTimeKey
	default:
		return "unknown"
	}
}

// ParseKind parses a configured period kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "day":
		return Daily, nil
	case "weekly", "week":
		return Weekly, nil
	case AllTimeKey, "alltime", "all-time", "all":
		return AllTime, nil
	}
	return 0, fmt.Errorf("unknown period kind %q", s)
}

// DayKey returns the daily bucket key of t in t's location.
func DayKey(t time.Time) string { return t.Format(dayLayout) }

// WeekKey returns the ISO week bucket key of t in t's location.
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// Parse validates a bucket key and reports its kind.
func Parse(key string) (Kind, error) {
	_, kind, err := parse(key, time.UTC)
	return kind, err
}

// Start returns the first instant of the bucket in loc. The all-time bucket
// starts at the zero time.
func Start(key string, loc *time.Location) (time.Time, error) {
	start, _, err := parse(key, loc)
	return start, err
}

func parse(key string, loc *time.Location) (time.Time, Kind, error) {
	if key == AllTimeKey {
		return time.Time{}, AllTime, nil
	}
	if len(key) == weekKeyLength && key[4:6] == "-W" {
		year, yerr := strconv.Atoi(key[:4])
		week, werr := strconv.Atoi(key[6:])
		if yerr != nil || werr != nil || week < 1 || week > weeksIn(year) {
			return time.Time{}, 0, invalid(key)
		}
		return isoWeekStart(year, week, loc), Weekly, nil
	}
	t, err := time.ParseInLocation(dayLayout, key, loc)
	if err != nil {
		return time.Time{}, 0, invalid(key)
	}
	return t, Daily, nil
}

func invalid(key string) error {
	return fmt.Errorf("%w: unknown period %q", model.ErrInvalidQuery, key)
}

// weeksIn returns 52 or 53. December 28th always falls in the last ISO week.
func weeksIn(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

func isoWeekStart(year, week int, loc *time.Location) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % daysPerWeek
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (week-1)*daysPerWeek)
}

// Bucketer assigns event times to bucket keys.
type Bucketer struct {
	loc   *time.Location
	kinds []Kind
}

// Option configures a Bucketer.
type Option func(*Bucketer)

// WithLocation sets the time zone day and week boundaries are computed in.
func WithLocation(loc *time.Location) Option {
	return func(b *Bucketer) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithKinds restricts the bucket kinds scores are aggregated into.
func WithKinds(kinds ...Kind) Option {
	return func(b *Bucketer) {
		if len(kinds) > 0 {
			b.kinds = append([]Kind(nil), kinds...)
		}
	}
}

// NewBucketer returns a UTC bucketer for daily, weekly and all-time buckets.
func NewBucketer(opts ...Option) *Bucketer {
	b := &Bucketer{
		loc:   time.UTC,
		kinds: []Kind{Daily, Weekly, AllTime},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Location returns the bucketer's time zone.
func (b *Bucketer) Location() *time.Location { return b.loc }

// Kinds returns the enabled bucket kinds.
func (b *Bucketer) Kinds() []Kind { return append([]Kind(nil), b.kinds...) }

// Enabled reports whether scores are aggregated into kind k.
func (b *Bucketer) Enabled(k Kind) bool {
	for _, kind := range b.kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Keys returns the bucket keys an event at ts contributes to.
func (b *Bucketer) Keys(ts time.Time) []string {
	local := ts.In(b.loc)
	keys := make([]string, 0, len(b.kinds))
	for _, k := range b.kinds {
		switch k {
		case Daily:
			keys = append(keys, DayKey(local))
		case Weekly:
			keys = append(keys, WeekKey(local))
		case AllTime:
			keys = append(keys, AllTimeKey)
		}
	}
	return keys
}

// Resolve maps a period alias (daily, weekly, all_time) to the bucket that
// contains now, and validates explicit keys. Keys of disabled kinds are
// rejected since no scores are ever aggregated into them.
func (b *Bucketer) Resolve(aliasOrKey string, now time.Time) (string, error) {
	s := strings.TrimSpace(aliasOrKey)
	key := s
	if kind, err := ParseKind(s); err == nil {
		switch kind {
		case Daily:
			key = DayKey(now.In(b.loc))
		case Weekly:
			key = WeekKey(now.In(b.loc))
		case AllTime:
			key = AllTimeKey
		}
	}
	kind, err := Parse(key)
	if err != nil {
		return "", err
	}
	if !b.Enabled(kind) {
		return "", fmt.Errorf("%w: %s leaderboards are disabled", model.ErrInvalidQuery, kind)
	}
	return key, nil
}

// Cutoff returns the oldest key of kind k that is kept when retaining keep
// buckets back from now. Keys sorting before it are expired.
func (b *Bucketer) Cutoff(k Kind, now time.Time, keep int) (string, error) {
	local := now.In(b.loc)
	switch k {
	case Daily:
		return DayKey(local.AddDate(0, 0, -keep)), nil
	case Weekly:
		return WeekKey(local.AddDate(0, 0, -keep*daysPerWeek)), nil
	default:
		return "", fmt.Errorf("%s buckets do not expire", k)
	}
}
