package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/adapters/repository/migrate"
	"github.com/okian/mindlab/internal/adapters/repository/postgres/migrations"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/pkg/metrics"
)

// Postgres error codes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store persists events and scores in Postgres.
type Store struct {
	pool    *pgxpool.Pool
	builder repository.Builder
	retry   repository.RetryPolicy
	now     func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Open connects, applies embedded migrations and returns the store.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := Connect(ctx, databaseURL, opts...)
	if err != nil {
		return nil, repository.Unavailable("postgres: connect", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	err = migrate.Apply(ctx, sqlDB, repository.Postgres, migrations.FS, ".")
	_ = sqlDB.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	policy := repository.DefaultRetryPolicy()
	policy.OnRetry = func(int, error) { metrics.RecordStoreRetry(repository.Postgres.String()) }
	return &Store{
		pool:    pool,
		builder: repository.NewBuilder(repository.Postgres),
		retry:   policy,
		now:     time.Now,
	}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Pool exposes the pool for maintenance tooling and tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		(pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected)
}

// isUnavailable reports failures of the server or connection rather than
// of the statement.
func isUnavailable(err error) bool {
	if errors.Is(err, repository.ErrTxConflict) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			strings.HasPrefix(pgErr.Code, "57P"):
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed pool") || strings.Contains(msg, "conn closed")
}

func classify(op string, err error) error {
	if err != nil && isUnavailable(err) {
		return repository.Unavailable(op, err)
	}
	return err
}

type tx struct {
	pgTx    pgx.Tx
	builder repository.Builder
	now     int64
}

func (t *tx) exec(ctx context.Context, st repository.Statement) (int64, error) {
	tag, err := t.pgTx.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *tx) InsertEvent(ctx context.Context, e model.Event) (bool, error) { //nolint:gocritic // hugeParam
	n, err := t.exec(ctx, t.builder.InsertEvent(e, t.now))
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", e.Key(), err)
	}
	return n == 1, nil
}

func (t *tx) ApplyScore(ctx context.Context, d model.ScoreDelta) (bool, error) { //nolint:gocritic // hugeParam
	st, err := t.builder.ApplyScore(d, t.now)
	if err != nil {
		return false, err
	}
	n, err := t.exec(ctx, st)
	if err != nil {
		return false, fmt.Errorf("apply score %s/%s/%s: %w", d.Scope, d.Period, d.UserID, err)
	}
	return n > 0, nil
}

func (t *tx) UpsertPlayer(ctx context.Context, userID, username string) error {
	if _, err := t.exec(ctx, t.builder.UpsertPlayer(userID, username, t.now)); err != nil {
		return fmt.Errorf("upsert player %s: %w", userID, err)
	}
	return nil
}

// InTx runs fn in a transaction, retrying serialization failures and
// deadlocks with backoff.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("in_tx", float64(time.Since(start).Milliseconds()))
	}()

	err := repository.Retry(ctx, s.retry, isSerializationError, func(ctx context.Context) error {
		return s.runTx(ctx, fn)
	})
	return classify("postgres: tx", err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, &tx{pgTx: pgTx, builder: s.builder, now: s.now().UnixMilli()}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, st repository.Statement) ([]model.ScoreRecord, error) {
	rows, err := s.pool.Query(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.ScoreRecord])
}

// TopScores returns at most q.Limit records in rank order.
func (s *Store) TopScores(ctx context.Context, q repository.ScoreQuery) ([]model.ScoreRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("top_scores", float64(time.Since(start).Milliseconds()))
	}()

	st, err := s.builder.TopScores(q)
	if err != nil {
		return nil, err
	}
	recs, err := s.queryRecords(ctx, st)
	if err != nil {
		return nil, classify("postgres: top scores", err)
	}
	return recs, nil
}

// ScoreOf returns one user's record.
func (s *Store) ScoreOf(ctx context.Context, q repository.ScoreQuery, userID string) (model.ScoreRecord, error) {
	recs, err := s.queryRecords(ctx, s.builder.ScoreOf(q, userID))
	if err != nil {
		return model.ScoreRecord{}, classify("postgres: score of", err)
	}
	if len(recs) == 0 {
		return model.ScoreRecord{}, model.ErrNotFound
	}
	return recs[0], nil
}

// CountAbove counts records with a strictly greater score.
func (s *Store) CountAbove(ctx context.Context, q repository.ScoreQuery, score int64) (int, error) {
	st := s.builder.CountAbove(q, score)
	var n int
	if err := s.pool.QueryRow(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, classify("postgres: count above", err)
	}
	return n, nil
}

// PurgeBefore deletes expired daily or weekly records in one transaction.
func (s *Store) PurgeBefore(ctx context.Context, kind period.Kind, cutoffKey string) (int64, error) {
	stmts, err := s.builder.PurgeBefore(kind, cutoffKey)
	if err != nil {
		return 0, err
	}
	var purged int64
	err = pgx.BeginFunc(ctx, s.pool, func(pgTx pgx.Tx) error {
		for _, st := range stmts {
			tag, err := pgTx.Exec(ctx, st.SQL, st.Args...)
			if err != nil {
				return err
			}
			purged += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, classify("postgres: purge", err)
	}
	return purged, nil
}

// Stats counts rows per table.
func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	var st repository.Stats
	q := s.builder.Stats()
	err := s.pool.QueryRow(ctx, q.SQL).Scan(&st.Events, &st.Players, &st.GameScores, &st.GlobalScores)
	if err != nil {
		return repository.Stats{}, classify("postgres: stats", err)
	}
	return st, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return repository.Unavailable("postgres: ping", err)
	}
	return nil
}
