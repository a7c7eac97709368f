// Package scoring turns score-bearing events into aggregation instructions
// for per-game and global leaderboards.
package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
)

// Default scoring configuration constants.
const (
	defaultGameWeight = 1.0
)

// ParseRule parses an aggregation rule name.
func ParseRule(s string) (model.Rule, error) {
	switch model.Rule(strings.ToLower(strings.TrimSpace(s))) {
	case model.RuleBest, "max", "":
		return model.RuleBest, nil
	case model.RuleCumulative, "sum", "total":
		return model.RuleCumulative, nil
	}
	return "", fmt.Errorf("unknown scoring rule %q", s)
}

// Option applies a configuration option to Rules.
type Option func(*Rules)

// WithGameRules sets per-game aggregation rules.
func WithGameRules(rules map[string]model.Rule) Option {
	return func(r *Rules) {
		// Copy the map to avoid external modifications
		r.gameRules = make(map[string]model.Rule, len(rules))
		for game, rule := range rules {
			r.gameRules[game] = rule
		}
	}
}

// WithDefaultRule sets the rule for games without an explicit one.
func WithDefaultRule(rule model.Rule) Option {
	return func(r *Rules) {
		if rule != "" {
			r.defaultRule = rule
		}
	}
}

// WithGlobalRule sets how scores from all games fold into global records.
func WithGlobalRule(rule model.Rule) Option {
	return func(r *Rules) {
		if rule != "" {
			r.globalRule = rule
		}
	}
}

// WithGameWeights scales a game's scores before they reach the global
// leaderboard. Games without a weight use defaultWeight.
func WithGameWeights(weights map[string]float64, defaultWeight float64) Option {
	return func(r *Rules) {
		r.gameWeights = make(map[string]float64, len(weights))
		for game, w := range weights {
			if w > 0 {
				r.gameWeights[game] = w
			}
		}
		if defaultWeight > 0 {
			r.defaultWeight = defaultWeight
		}
	}
}

// WithBucketer sets the period bucketing used for deltas.
func WithBucketer(b *period.Bucketer) Option {
	return func(r *Rules) {
		if b != nil {
			r.bucketer = b
		}
	}
}

// Rules owns the game-specific aggregation policy.
type Rules struct {
	gameRules     map[string]model.Rule
	defaultRule   model.Rule
	globalRule    model.Rule
	gameWeights   map[string]float64
	defaultWeight float64
	bucketer      *period.Bucketer
}

// NewRules returns rules that keep each player's best per game and sum
// scores across games for the global board.
func NewRules(opts ...Option) *Rules {
	r := &Rules{
		gameRules:     make(map[string]model.Rule),
		defaultRule:   model.RuleBest,
		globalRule:    model.RuleCumulative,
		gameWeights:   make(map[string]float64),
		defaultWeight: defaultGameWeight,
		bucketer:      period.NewBucketer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RuleFor returns the aggregation rule of a game.
func (r *Rules) RuleFor(gameID string) model.Rule {
	if rule, ok := r.gameRules[gameID]; ok {
		return rule
	}
	return r.defaultRule
}

// Bucketer returns the period bucketing in use.
func (r *Rules) Bucketer() *period.Bucketer { return r.bucketer }

// Deltas returns the aggregation instructions for e: one per enabled period
// for the game scope and one per period for the global scope. Events that
// carry no score produce none.
func (r *Rules) Deltas(e model.Event) []model.ScoreDelta { //nolint:gocritic // hugeParam
	score, ok := e.Score()
	if !ok {
		return nil
	}
	keys := r.bucketer.Keys(e.OccurredAt())
	gameRule := r.RuleFor(e.GameID)
	global := r.weighted(e.GameID, score)

	out := make([]model.ScoreDelta, 0, 2*len(keys))
	for _, key := range keys {
		out = append(out,
			model.ScoreDelta{Scope: model.GameScope(e.GameID), Period: key, UserID: e.UserID, Score: score, Rule: gameRule},
			model.ScoreDelta{Scope: model.GlobalScope(), Period: key, UserID: e.UserID, Score: global, Rule: r.globalRule},
		)
	}
	return out
}

func (r *Rules) weighted(gameID string, score int64) int64 {
	w, ok := r.gameWeights[gameID]
	if !ok {
		w = r.defaultWeight
	}
	if w == 1 {
		return model.ClampScore(score)
	}
	v := math.Round(float64(score) * w)
	limit := float64(model.MaxAggregateScore)
	switch {
	case v > limit:
		return model.MaxAggregateScore
	case v < -limit:
		return -model.MaxAggregateScore
	}
	return int64(v)
}
