package model

import "fmt"

// Score bounds. A single event may carry at most MaxScore in either
// direction; aggregated records saturate at MaxAggregateScore, which stays
// exact as a float64 and leaves int64 headroom for one more addition.
const (
	MaxScore          int64 = 1_000_000_000_000
	MaxAggregateScore int64 = 1_000_000_000_000_000
)

// CheckScore rejects an event whose score lies outside ±MaxScore. Events
// without a score always pass.
func (e Event) CheckScore() error { //nolint:gocritic // hugeParam
	s, ok := e.Score()
	if !ok || (s >= -MaxScore && s <= MaxScore) {
		return nil
	}
	return fmt.Errorf("%w: score %d outside [-%d, %d]", ErrInvalidEvent, s, MaxScore, MaxScore)
}

// ClampScore limits v to ±MaxAggregateScore.
func ClampScore(v int64) int64 {
	switch {
	case v > MaxAggregateScore:
		return MaxAggregateScore
	case v < -MaxAggregateScore:
		return -MaxAggregateScore
	default:
		return v
	}
}

// AddScores sums two aggregate scores, saturating at ±MaxAggregateScore.
func AddScores(a, b int64) int64 {
	return ClampScore(ClampScore(a) + ClampScore(b))
}
