// Package repository defines the durable storage contracts shared by the
// event log and the score aggregates, plus the SQL building blocks used by
// the postgres and sqlite implementations.
package repository

import (
	"context"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
)

// Table names.
const (
	TableEvents       = "events"
	TablePlayers      = "players"
	TableGameScores   = "game_scores"
	TableGlobalScores = "global_scores"
)

// ScoreQuery selects score records of one (scope, period) bucket.
type ScoreQuery struct {
	Scope  model.Scope
	Period string
	Limit  int
}

// Tx is the unit of work of one sync batch. Every call participates in the
// same transaction; nothing is visible to readers before commit.
type Tx interface {
	// InsertEvent stores e unless an event with the same idempotency key
	// exists. It reports whether a row was inserted. The check and the
	// insert are a single atomic statement.
	InsertEvent(ctx context.Context, e model.Event) (bool, error)

	// ApplyScore folds d into its score record following d.Rule and
	// reports whether the record was created or changed.
	ApplyScore(ctx context.Context, d model.ScoreDelta) (bool, error)

	// UpsertPlayer sets the display name of a user.
	UpsertPlayer(ctx context.Context, userID, username string) error
}

// Stats are row counts per table.
type Stats struct {
	Events       int64 `json:"events"`
	Players      int64 `json:"players"`
	GameScores   int64 `json:"gameScores"`
	GlobalScores int64 `json:"globalScores"`
}

// Store provides transactional writes and ranked reads.
type Store interface {
	// InTx runs fn inside one transaction. fn's error, a panic, or a
	// cancelled ctx roll the transaction back; the connection is released
	// on every path. fn may be invoked again when the backend reports a
	// retryable conflict, so it must not leak state between attempts.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// TopScores returns at most q.Limit records ordered by score DESC,
	// user id ASC.
	TopScores(ctx context.Context, q ScoreQuery) ([]model.ScoreRecord, error)

	// ScoreOf returns one user's record or model.ErrNotFound.
	ScoreOf(ctx context.Context, q ScoreQuery, userID string) (model.ScoreRecord, error)

	// CountAbove counts records with a strictly greater score.
	CountAbove(ctx context.Context, q ScoreQuery, score int64) (int, error)

	// PurgeBefore deletes score records of kind whose period key sorts
	// before cutoffKey. Events are never touched.
	PurgeBefore(ctx context.Context, kind period.Kind, cutoffKey string) (int64, error)

	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
