// Package sqlite provides a SQLite-backed event and score store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/adapters/repository/migrate"
	"github.com/okian/mindlab/internal/adapters/repository/sqlite/migrations"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/pkg/metrics"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"

// Store persists events and scores in SQLite.
type Store struct {
	sqlDB   *sql.DB
	builder repository.Builder
	retry   repository.RetryPolicy
	now     func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?" + pragmas
	if path == MemoryPath {
		dsn = "file::memory:?" + pragmas
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every connection to :memory: is its own database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, repository.Unavailable("ping sqlite db", err)
	}
	if err := migrate.Apply(ctx, sqlDB, repository.SQLite, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	policy := repository.DefaultRetryPolicy()
	policy.OnRetry = func(int, error) { metrics.RecordStoreRetry(repository.SQLite.String()) }
	return &Store{
		sqlDB:   sqlDB,
		builder: repository.NewBuilder(repository.SQLite),
		retry:   policy,
		now:     time.Now,
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB exposes the handle for maintenance tooling.
func (s *Store) DB() *sql.DB { return s.sqlDB }

// isBusy reports a lock conflict worth retrying.
func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// isUnavailable reports failures of the database itself rather than of
// the statement.
func isUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, repository.ErrTxConflict) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if strings.Contains(err.Error(), "sql: database is closed") {
		return true
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED, sqlite3lib.SQLITE_CANTOPEN,
			sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_FULL, sqlite3lib.SQLITE_READONLY:
			return true
		}
	}
	return false
}

func classify(op string, err error) error {
	if err != nil && isUnavailable(err) {
		return repository.Unavailable(op, err)
	}
	return err
}

type tx struct {
	sqlTx   *sql.Tx
	builder repository.Builder
	now     int64
}

func (t *tx) exec(ctx context.Context, st repository.Statement) (int64, error) {
	res, err := t.sqlTx.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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

// InTx runs fn in an IMMEDIATE transaction, retrying on busy/locked.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("in_tx", float64(time.Since(start).Milliseconds()))
	}()

	err := repository.Retry(ctx, s.retry, isBusy, func(ctx context.Context) error {
		return s.runTx(ctx, fn)
	})
	return classify("sqlite: tx", err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &tx{sqlTx: sqlTx, builder: s.builder, now: s.now().UnixMilli()}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, st repository.Statement) ([]model.ScoreRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScoreRecord
	for rows.Next() {
		var r model.ScoreRecord
		if err := rows.Scan(&r.UserID, &r.Username, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
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
		return nil, classify("sqlite: top scores", err)
	}
	return recs, nil
}

// ScoreOf returns one user's record.
func (s *Store) ScoreOf(ctx context.Context, q repository.ScoreQuery, userID string) (model.ScoreRecord, error) {
	recs, err := s.queryRecords(ctx, s.builder.ScoreOf(q, userID))
	if err != nil {
		return model.ScoreRecord{}, classify("sqlite: score of", err)
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
	if err := s.sqlDB.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, classify("sqlite: count above", err)
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
	err = repository.Retry(ctx, s.retry, isBusy, func(ctx context.Context) error {
		purged = 0
		sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, st := range stmts {
			res, err := sqlTx.ExecContext(ctx, st.SQL, st.Args...)
			if err != nil {
				_ = sqlTx.Rollback()
				return err
			}
			n, _ := res.RowsAffected()
			purged += n
		}
		return sqlTx.Commit()
	})
	if err != nil {
		return 0, classify("sqlite: purge", err)
	}
	return purged, nil
}

// Stats counts rows per table.
func (s *Store) Stats(ctx context.Context) (repository.Stats, error) {
	var st repository.Stats
	q := s.builder.Stats()
	err := s.sqlDB.QueryRowContext(ctx, q.SQL).Scan(&st.Events, &st.Players, &st.GameScores, &st.GlobalScores)
	if err != nil {
		return repository.Stats{}, classify("sqlite: stats", err)
	}
	return st, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return repository.Unavailable("sqlite: ping", err)
	}
	return nil
}
