package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
)

// Dialect selects placeholder and type syntax.
type Dialect int

// Supported SQL dialects.
const (
	Postgres Dialect = iota + 1
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// Period key patterns for LIKE. Day keys are YYYY-MM-DD, week keys YYYY-Www.
const (
	dailyKeyPattern  = "____-__-__"
	weeklyKeyPattern = "____-W__"
)

// Builder renders the parameterized statements shared by the SQL stores.
// Scope handling lives here once: game scope reads game_scores filtered by
// game_id, global scope reads global_scores.
type Builder struct {
	dialect Dialect
}

// NewBuilder returns a builder for d.
func NewBuilder(d Dialect) Builder { return Builder{dialect: d} }

// Dialect returns the builder's dialect.
func (b Builder) Dialect() Dialect { return b.dialect }

// Statement is SQL text plus its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

type stmt struct {
	b    Builder
	sql  strings.Builder
	args []any
}

func (b Builder) stmt() *stmt { return &stmt{b: b} }

func (s *stmt) write(parts ...string) *stmt {
	for _, p := range parts {
		s.sql.WriteString(p)
	}
	return s
}

// arg binds v and returns its placeholder.
func (s *stmt) arg(v any) string {
	s.args = append(s.args, v)
	if s.b.dialect == Postgres {
		return "$" + strconv.Itoa(len(s.args))
	}
	return "?"
}

func (s *stmt) done() Statement { return Statement{SQL: s.sql.String(), Args: s.args} }

func scoreTable(scope model.Scope) string {
	if scope.IsGlobal() {
		return TableGlobalScores
	}
	return TableGameScores
}

func conflictColumns(scope model.Scope) string {
	if scope.IsGlobal() {
		return "period, user_id"
	}
	return "game_id, period, user_id"
}

// bucketFilter appends the WHERE predicates of q's bucket using alias as
// the table qualifier.
func (s *stmt) bucketFilter(alias string, q ScoreQuery) {
	s.write(" WHERE ", alias, "period = ", s.arg(q.Period))
	if !q.Scope.IsGlobal() {
		s.write(" AND ", alias, "game_id = ", s.arg(q.Scope.GameID))
	}
}

// InsertEvent is the atomic insert-if-absent on the idempotency key.
func (b Builder) InsertEvent(e model.Event, receivedAt int64) Statement { //nolint:gocritic // hugeParam
	s := b.stmt()
	s.write("INSERT INTO ", TableEvents,
		" (user_id, game_id, session_id, client_seq, occurred_at, type, payload, received_at) VALUES (")
	s.write(
		s.arg(e.UserID), ", ",
		s.arg(e.GameID), ", ",
		s.arg(e.SessionID), ", ",
		s.arg(e.ClientSeq), ", ",
		s.arg(e.Timestamp), ", ",
		s.arg(string(e.Type)), ", ",
	)
	payload := s.arg(string(e.RawPayload()))
	if b.dialect == Postgres {
		payload += "::jsonb"
	}
	s.write(payload, ", ", s.arg(receivedAt), ")",
		" ON CONFLICT (user_id, game_id, session_id, client_seq) DO NOTHING")
	return s.done()
}

// ApplyScore upserts a score record. The conditional DO UPDATE makes the
// affected row count report whether the record actually changed.
func (b Builder) ApplyScore(d model.ScoreDelta, updatedAt int64) (Statement, error) { //nolint:gocritic // hugeParam
	table := scoreTable(d.Scope)
	s := b.stmt()
	if d.Scope.IsGlobal() {
		s.write("INSERT INTO ", table, " (period, user_id, score, updated_at) VALUES (",
			s.arg(d.Period), ", ")
	} else {
		s.write("INSERT INTO ", table, " (game_id, period, user_id, score, updated_at) VALUES (",
			s.arg(d.Scope.GameID), ", ", s.arg(d.Period), ", ")
	}
	s.write(s.arg(d.UserID), ", ", s.arg(model.ClampScore(d.Score)), ", ", s.arg(updatedAt), ")")
	s.write(" ON CONFLICT (", conflictColumns(d.Scope), ") DO UPDATE SET ")

	switch d.Rule {
	case model.RuleBest:
		s.write("score = excluded.score, updated_at = excluded.updated_at",
			" WHERE ", table, ".score < excluded.score")
	case model.RuleCumulative:
		// Both operands are within ±MaxAggregateScore, so the sum cannot
		// overflow before it is clamped.
		sum := table + ".score + excluded.score"
		limit := strconv.FormatInt(model.MaxAggregateScore, 10)
		s.write("score = CASE WHEN ", sum, " > ", limit, " THEN ", limit,
			" WHEN ", sum, " < -", limit, " THEN -", limit,
			" ELSE ", sum, " END, updated_at = excluded.updated_at",
			" WHERE excluded.score <> 0")
	default:
		return Statement{}, fmt.Errorf("unknown scoring rule %q", d.Rule)
	}
	return s.done(), nil
}

// UpsertPlayer sets a user's display name.
func (b Builder) UpsertPlayer(userID, username string, updatedAt int64) Statement {
	s := b.stmt()
	s.write("INSERT INTO ", TablePlayers, " (user_id, username, updated_at) VALUES (",
		s.arg(userID), ", ", s.arg(username), ", ", s.arg(updatedAt), ")",
		" ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at")
	return s.done()
}

func (s *stmt) selectRecords(q ScoreQuery) {
	s.write("SELECT s.user_id, COALESCE(p.username, s.user_id), s.score FROM ", scoreTable(q.Scope), " s",
		" LEFT JOIN ", TablePlayers, " p ON p.user_id = s.user_id")
	s.bucketFilter("s.", q)
}

// TopScores reads the first q.Limit records in rank order.
func (b Builder) TopScores(q ScoreQuery) (Statement, error) {
	if q.Limit < 1 {
		return Statement{}, ErrInvalidLimit
	}
	s := b.stmt()
	s.selectRecords(q)
	s.write(" ORDER BY s.score DESC, s.user_id ASC LIMIT ", s.arg(q.Limit))
	return s.done(), nil
}

// ScoreOf reads one user's record.
func (b Builder) ScoreOf(q ScoreQuery, userID string) Statement {
	s := b.stmt()
	s.selectRecords(q)
	s.write(" AND s.user_id = ", s.arg(userID))
	return s.done()
}

// CountAbove counts records with a strictly greater score.
func (b Builder) CountAbove(q ScoreQuery, score int64) Statement {
	s := b.stmt()
	s.write("SELECT COUNT(*) FROM ", scoreTable(q.Scope), " s")
	s.bucketFilter("s.", q)
	s.write(" AND s.score > ", s.arg(score))
	return s.done()
}

// PurgeBefore returns one DELETE per score table.
func (b Builder) PurgeBefore(kind period.Kind, cutoffKey string) ([]Statement, error) {
	var pattern string
	switch kind {
	case period.Daily:
		pattern = dailyKeyPattern
	case period.Weekly:
		pattern = weeklyKeyPattern
	default:
		return nil, fmt.Errorf("%s records cannot be purged", kind)
	}
	out := make([]Statement, 0, 2)
	for _, table := range []string{TableGameScores, TableGlobalScores} {
		s := b.stmt()
		s.write("DELETE FROM ", table, " WHERE period LIKE ", s.arg(pattern), " AND period < ", s.arg(cutoffKey))
		out = append(out, s.done())
	}
	return out, nil
}

// Stats counts rows in every table in one round trip.
func (b Builder) Stats() Statement {
	return Statement{SQL: "SELECT " +
		"(SELECT COUNT(*) FROM " + TableEvents + "), " +
		"(SELECT COUNT(*) FROM " + TablePlayers + "), " +
		"(SELECT COUNT(*) FROM " + TableGameScores + "), " +
		"(SELECT COUNT(*) FROM " + TableGlobalScores + ")"}
}
