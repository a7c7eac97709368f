// Package storetest holds the behaviour every repository.Store must share.
// Store packages call Run from their own tests with a constructor.
package storetest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
)

// Factory returns a fresh, empty store. Cleanup is the caller's job.
type Factory func(t *testing.T) repository.Store

var errRollback = errors.New("rollback")

// Run executes the shared store suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := map[string]func(t *testing.T, s repository.Store){
		"InsertEventIsIdempotent":  testInsertEventIsIdempotent,
		"RollbackOnError":          testRollbackOnError,
		"RollbackOnPanic":          testRollbackOnPanic,
		"BestRule":                 testBestRule,
		"CumulativeRule":           testCumulativeRule,
		"CumulativeSaturates":      testCumulativeSaturates,
		"TopScoresOrderAndLimit":   testTopScoresOrderAndLimit,
		"ScopeIsolation":           testScopeIsolation,
		"UsernameFallback":         testUsernameFallback,
		"ScoreOfAndCountAbove":     testScoreOfAndCountAbove,
		"PurgeBeforeKeepsAllTime":  testPurgeBefore,
		"StatsCountsRows":          testStats,
		"InvalidLimitIsRejected":   testInvalidLimit,
		"PingHealthyStore":         testPing,
		"EmptyBucketReadsNoScores": testEmptyBucket,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func event(user, game, session string, seq int64) model.Event {
	return model.Event{
		UserID: user, GameID: game, SessionID: session, ClientSeq: seq,
		Timestamp: 1_790_000_000_000, Type: model.EventScore,
		Raw: []byte(`{"score":1}`),
	}
}

func delta(scope model.Scope, p, user string, score int64, rule model.Rule) model.ScoreDelta {
	return model.ScoreDelta{Scope: scope, Period: p, UserID: user, Score: score, Rule: rule}
}

func apply(t *testing.T, s repository.Store, deltas ...model.ScoreDelta) []bool {
	t.Helper()
	var changed []bool
	err := s.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		changed = changed[:0]
		for _, d := range deltas {
			ok, err := tx.ApplyScore(ctx, d)
			if err != nil {
				return err
			}
			changed = append(changed, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	return changed
}

func top(t *testing.T, s repository.Store, q repository.ScoreQuery) []model.ScoreRecord {
	t.Helper()
	recs, err := s.TopScores(context.Background(), q)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	return recs
}

func testInsertEventIsIdempotent(t *testing.T, s repository.Store) {
	ctx := context.Background()
	var first, second, inBatch bool
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if first, err = tx.InsertEvent(ctx, event("u1", "memory", "s1", 1)); err != nil {
			return err
		}
		inBatch, err = tx.InsertEvent(ctx, event("u1", "memory", "s1", 1))
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		second, err = tx.InsertEvent(ctx, event("u1", "memory", "s1", 1))
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first || inBatch || second {
		t.Errorf("first=%v inBatch=%v second=%v, want true false false", first, inBatch, second)
	}

	// a different component of the key is a different event
	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ok, err := tx.InsertEvent(ctx, event("u1", "memory", "s2", 1))
		if !ok {
			t.Error("event of another session should be new")
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Events != 2 {
		t.Errorf("expected 2 stored events, got %d", st.Events)
	}
}

func testRollbackOnError(t *testing.T, s repository.Store) {
	ctx := context.Background()
	q := repository.ScoreQuery{Scope: model.GameScope("memory"), Period: period.AllTimeKey, Limit: 10}

	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.InsertEvent(ctx, event("u1", "memory", "s1", 1)); err != nil {
			return err
		}
		if _, err := tx.ApplyScore(ctx, delta(q.Scope, q.Period, "u1", 50, model.RuleBest)); err != nil {
			return err
		}
		if err := tx.UpsertPlayer(ctx, "u1", "alice"); err != nil {
			return err
		}
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	if recs := top(t, s, q); len(recs) != 0 {
		t.Errorf("rolled back scores are visible: %v", recs)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st != (repository.Stats{}) {
		t.Errorf("rolled back rows are visible: %+v", st)
	}

	// the same key is still insertable after rollback
	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		ok, err := tx.InsertEvent(ctx, event("u1", "memory", "s1", 1))
		if !ok {
			t.Error("event should be new after rollback")
		}
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testRollbackOnPanic(t *testing.T, s repository.Store) {
	ctx := context.Background()
	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic should propagate")
			}
		}()
		_ = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			if _, err := tx.InsertEvent(ctx, event("u1", "memory", "s1", 1)); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats after panic: %v", err)
	}
	if st.Events != 0 {
		t.Errorf("panicking transaction was committed: %+v", st)
	}
}

func testBestRule(t *testing.T, s repository.Store) {
	scope := model.GameScope("memory")
	changed := apply(t, s,
		delta(scope, "2026-10-17", "u1", 100, model.RuleBest),
		delta(scope, "2026-10-17", "u1", 90, model.RuleBest),
		delta(scope, "2026-10-17", "u1", 100, model.RuleBest),
		delta(scope, "2026-10-17", "u1", 120, model.RuleBest),
	)
	want := []bool{true, false, false, true}
	for i := range want {
		if changed[i] != want[i] {
			t.Errorf("delta %d changed=%v, want %v", i, changed[i], want[i])
		}
	}
	recs := top(t, s, repository.ScoreQuery{Scope: scope, Period: "2026-10-17", Limit: 5})
	if len(recs) != 1 || recs[0].Score != 120 {
		t.Errorf("expected best 120, got %v", recs)
	}
}

func testCumulativeRule(t *testing.T, s repository.Store) {
	scope := model.GlobalScope()
	apply(t, s, delta(scope, period.AllTimeKey, "u1", 100, model.RuleCumulative))
	changed := apply(t, s,
		delta(scope, period.AllTimeKey, "u1", 50, model.RuleCumulative),
		delta(scope, period.AllTimeKey, "u1", 0, model.RuleCumulative),
	)
	if !changed[0] || changed[1] {
		t.Errorf("changed=%v, want [true false]", changed)
	}
	recs := top(t, s, repository.ScoreQuery{Scope: scope, Period: period.AllTimeKey, Limit: 5})
	if len(recs) != 1 || recs[0].Score != 150 {
		t.Errorf("expected sum 150, got %v", recs)
	}
}

func testCumulativeSaturates(t *testing.T, s repository.Store) {
	scope := model.GlobalScope()
	apply(t, s,
		delta(scope, period.AllTimeKey, "alice", math.MaxInt64-5, model.RuleCumulative),
		delta(scope, period.AllTimeKey, "bob", 10, model.RuleCumulative),
		delta(scope, period.AllTimeKey, "carol", math.MinInt64, model.RuleCumulative),
	)
	apply(t, s,
		delta(scope, period.AllTimeKey, "alice", 10, model.RuleCumulative),
		delta(scope, period.AllTimeKey, "alice", model.MaxAggregateScore, model.RuleCumulative),
		delta(scope, period.AllTimeKey, "carol", -model.MaxAggregateScore, model.RuleCumulative),
	)

	recs := top(t, s, repository.ScoreQuery{Scope: scope, Period: period.AllTimeKey, Limit: 5})
	want := []struct {
		user  string
		score int64
	}{
		{"alice", model.MaxAggregateScore},
		{"bob", 10},
		{"carol", -model.MaxAggregateScore},
	}
	if len(recs) != len(want) {
		t.Fatalf("expected %d records, got %v", len(want), recs)
	}
	for i, w := range want {
		if recs[i].UserID != w.user || recs[i].Score != w.score {
			t.Errorf("record %d = %s/%d, want %s/%d", i, recs[i].UserID, recs[i].Score, w.user, w.score)
		}
	}
}

func testTopScoresOrderAndLimit(t *testing.T, s repository.Store) {
	scope := model.GameScope("memory")
	apply(t, s,
		delta(scope, "p", "dave", 80, model.RuleBest),
		delta(scope, "p", "bob", 90, model.RuleBest),
		delta(scope, "p", "erin", 50, model.RuleBest),
		delta(scope, "p", "alice", 90, model.RuleBest),
		delta(scope, "p", "carol", 100, model.RuleBest),
	)
	recs := top(t, s, repository.ScoreQuery{Scope: scope, Period: "p", Limit: 4})
	wantIDs := []string{"carol", "alice", "bob", "dave"}
	if len(recs) != len(wantIDs) {
		t.Fatalf("expected %d records, got %v", len(wantIDs), recs)
	}
	for i, id := range wantIDs {
		if recs[i].UserID != id {
			t.Errorf("position %d: got %s, want %s", i, recs[i].UserID, id)
		}
	}
}

func testScopeIsolation(t *testing.T, s repository.Store) {
	apply(t, s,
		delta(model.GameScope("memory"), "p", "u1", 10, model.RuleBest),
		delta(model.GameScope("reaction"), "p", "u2", 20, model.RuleBest),
		delta(model.GlobalScope(), "p", "u3", 30, model.RuleCumulative),
		delta(model.GameScope("memory"), "q", "u4", 40, model.RuleBest),
	)
	recs := top(t, s, repository.ScoreQuery{Scope: model.GameScope("memory"), Period: "p", Limit: 10})
	if len(recs) != 1 || recs[0].UserID != "u1" {
		t.Errorf("game scope leaked records: %v", recs)
	}
	recs = top(t, s, repository.ScoreQuery{Scope: model.GlobalScope(), Period: "p", Limit: 10})
	if len(recs) != 1 || recs[0].UserID != "u3" {
		t.Errorf("global scope leaked records: %v", recs)
	}
}

func testUsernameFallback(t *testing.T, s repository.Store) {
	ctx := context.Background()
	scope := model.GameScope("memory")
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.UpsertPlayer(ctx, "u1", "old"); err != nil {
			return err
		}
		if err := tx.UpsertPlayer(ctx, "u1", "alice"); err != nil {
			return err
		}
		for _, d := range []model.ScoreDelta{
			delta(scope, "p", "u1", 10, model.RuleBest),
			delta(scope, "p", "u2", 5, model.RuleBest),
		} {
			if _, err := tx.ApplyScore(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs := top(t, s, repository.ScoreQuery{Scope: scope, Period: "p", Limit: 10})
	if len(recs) != 2 || recs[0].Username != "alice" || recs[1].Username != "u2" {
		t.Errorf("unexpected usernames: %v", recs)
	}
}

func testScoreOfAndCountAbove(t *testing.T, s repository.Store) {
	ctx := context.Background()
	q := repository.ScoreQuery{Scope: model.GameScope("memory"), Period: "p"}
	apply(t, s,
		delta(q.Scope, "p", "a", 100, model.RuleBest),
		delta(q.Scope, "p", "b", 90, model.RuleBest),
		delta(q.Scope, "p", "c", 90, model.RuleBest),
		delta(q.Scope, "p", "d", 80, model.RuleBest),
	)

	rec, err := s.ScoreOf(ctx, q, "c")
	if err != nil || rec.Score != 90 {
		t.Fatalf("score of c: %v %v", rec, err)
	}
	above, err := s.CountAbove(ctx, q, rec.Score)
	if err != nil || above != 1 {
		t.Errorf("count above 90: %d %v, want 1", above, err)
	}
	above, err = s.CountAbove(ctx, q, 80)
	if err != nil || above != 3 {
		t.Errorf("count above 80: %d %v, want 3", above, err)
	}

	if _, err := s.ScoreOf(ctx, q, "nobody"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testPurgeBefore(t *testing.T, s repository.Store) {
	ctx := context.Background()
	game := model.GameScope("memory")
	apply(t, s,
		delta(game, "2026-10-01", "u1", 1, model.RuleBest),
		delta(game, "2026-10-17", "u1", 1, model.RuleBest),
		delta(model.GlobalScope(), "2026-10-02", "u1", 1, model.RuleCumulative),
		delta(game, "2026-W30", "u1", 1, model.RuleBest),
		delta(game, period.AllTimeKey, "u1", 1, model.RuleBest),
	)

	n, err := s.PurgeBefore(ctx, period.Daily, "2026-10-10")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged daily records, got %d", n)
	}
	for _, p := range []string{"2026-10-17", "2026-W30", period.AllTimeKey} {
		if recs := top(t, s, repository.ScoreQuery{Scope: game, Period: p, Limit: 1}); len(recs) != 1 {
			t.Errorf("bucket %s should survive", p)
		}
	}

	n, err = s.PurgeBefore(ctx, period.Weekly, "2026-W40")
	if err != nil || n != 1 {
		t.Errorf("weekly purge: %d %v, want 1", n, err)
	}

	if _, err := s.PurgeBefore(ctx, period.AllTime, "z"); err == nil {
		t.Error("all-time purge must fail")
	}
}

func testStats(t *testing.T, s repository.Store) {
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for i := int64(1); i <= 3; i++ {
			if _, err := tx.InsertEvent(ctx, event("u1", "memory", "s1", i)); err != nil {
				return err
			}
		}
		if err := tx.UpsertPlayer(ctx, "u1", "alice"); err != nil {
			return err
		}
		if _, err := tx.ApplyScore(ctx, delta(model.GameScope("memory"), "p", "u1", 1, model.RuleBest)); err != nil {
			return err
		}
		_, err := tx.ApplyScore(ctx, delta(model.GlobalScope(), "p", "u1", 1, model.RuleCumulative))
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := repository.Stats{Events: 3, Players: 1, GameScores: 1, GlobalScores: 1}
	if st != want {
		t.Errorf("stats = %+v, want %+v", st, want)
	}
}

func testInvalidLimit(t *testing.T, s repository.Store) {
	_, err := s.TopScores(context.Background(), repository.ScoreQuery{Scope: model.GlobalScope(), Period: "p"})
	if !errors.Is(err, repository.ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func testPing(t *testing.T, s repository.Store) {
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func testEmptyBucket(t *testing.T, s repository.Store) {
	recs := top(t, s, repository.ScoreQuery{Scope: model.GameScope("none"), Period: "p", Limit: 10})
	if len(recs) != 0 {
		t.Errorf("expected no records, got %v", recs)
	}
	n, err := s.CountAbove(context.Background(), repository.ScoreQuery{Scope: model.GameScope("none"), Period: "p"}, 0)
	if err != nil || n != 0 {
		t.Errorf("count above on empty bucket: %d %v", n, err)
	}
}
