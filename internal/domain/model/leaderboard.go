package model

import "strings"

const globalScopeName = "global"

// Scope is the aggregation boundary of a leaderboard. The zero value is the
// global scope.
type Scope struct {
	GameID string
}

// GlobalScope aggregates across all games.
func GlobalScope() Scope { return Scope{} }

// GameScope restricts aggregation to one game.
func GameScope(gameID string) Scope { return Scope{GameID: gameID} }

// IsGlobal reports whether s spans all games.
func (s Scope) IsGlobal() bool { return s.GameID == "" }

func (s Scope) String() string {
	if s.IsGlobal() {
		return globalScopeName
	}
	return "game:" + s.GameID
}

// ParseScope turns a scope selector and optional game id into a Scope.
func ParseScope(selector, gameID string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(selector)) {
	case globalScopeName:
		return GlobalScope(), nil
	case "game":
		gameID = strings.TrimSpace(gameID)
		if gameID == "" {
			return Scope{}, invalidQuery("game scope requires gameId")
		}
		return GameScope(gameID), nil
	default:
		return Scope{}, invalidQuery("unknown scope " + selector)
	}
}

// Rule is an aggregation policy for score records.
type Rule string

// Aggregation rules.
const (
	RuleBest       Rule = "best"
	RuleCumulative Rule = "cumulative"
)

// ScoreDelta instructs storage to fold one score into the record at
// (Scope, Period, UserID).
type ScoreDelta struct {
	Scope  Scope
	Period string
	UserID string
	Score  int64
	Rule   Rule
}

// Bucket identifies the leaderboard a delta belongs to.
func (d ScoreDelta) Bucket() Bucket { return Bucket{Scope: d.Scope, Period: d.Period} }

// Bucket is a (scope, period) pair, the unit of cache invalidation.
type Bucket struct {
	Scope  Scope
	Period string
}

// ScoreRecord is an aggregated score for one user in one bucket.
type ScoreRecord struct {
	UserID   string
	Username string
	Score    int64
}

// LeaderboardQuery selects a leaderboard.
type LeaderboardQuery struct {
	Scope  Scope
	Period string
	Limit  int
}

// Bucket returns the (scope, period) of q.
func (q LeaderboardQuery) Bucket() Bucket { return Bucket{Scope: q.Scope, Period: q.Period} }

// LeaderboardEntry is a ranked row. Rank is a competition rank: tied scores
// share a rank and the next lower score skips the tie count.
type LeaderboardEntry struct {
	UserID   string
	Username string
	Score    int64
	Rank     int
}
