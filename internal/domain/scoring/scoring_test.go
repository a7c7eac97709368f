package scoring_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	scoring "github.com/okian/mindlab/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func scoreEvent(game string, score int64, at time.Time) model.Event {
	return model.Event{
		UserID:    "u1",
		GameID:    game,
		SessionID: "s1",
		Timestamp: at.UnixMilli(),
		Type:      model.EventScore,
		Payload:   model.ScorePayload{Score: &score},
	}
}

func TestParseRule(t *testing.T) {
	Convey("Given rule names", t, func() {
		r, err := scoring.ParseRule("BEST")
		So(err, ShouldBeNil)
		So(r, ShouldEqual, model.RuleBest)

		r, err = scoring.ParseRule("sum")
		So(err, ShouldBeNil)
		So(r, ShouldEqual, model.RuleCumulative)

		_, err = scoring.ParseRule("median")
		So(err, ShouldNotBeNil)
	})
}

func TestRules_Deltas(t *testing.T) {
	at := time.Date(2026, time.October, 17, 10, 0, 0, 0, time.UTC)

	Convey("Given default rules", t, func() {
		rules := scoring.NewRules()

		Convey("When a score event is folded", func() {
			deltas := rules.Deltas(scoreEvent("memory", 1200, at))

			Convey("Then it produces a game and a global delta per period", func() {
				So(deltas, ShouldHaveLength, 6)
				So(deltas[0], ShouldResemble, model.ScoreDelta{
					Scope: model.GameScope("memory"), Period: "2026-10-17", UserID: "u1", Score: 1200, Rule: model.RuleBest,
				})
				So(deltas[1], ShouldResemble, model.ScoreDelta{
					Scope: model.GlobalScope(), Period: "2026-10-17", UserID: "u1", Score: 1200, Rule: model.RuleCumulative,
				})
				So(deltas[4].Period, ShouldEqual, period.AllTimeKey)
			})
		})

		Convey("When an event carries no score", func() {
			e := model.Event{UserID: "u1", GameID: "memory", Type: model.EventSessionEnd, Payload: model.SessionEndPayload{}}
			So(rules.Deltas(e), ShouldBeEmpty)
		})
	})

	Convey("Given per-game rules and weights", t, func() {
		rules := scoring.NewRules(
			scoring.WithGameRules(map[string]model.Rule{"reaction": model.RuleCumulative}),
			scoring.WithDefaultRule(model.RuleBest),
			scoring.WithGlobalRule(model.RuleBest),
			scoring.WithGameWeights(map[string]float64{"reaction": 0.5}, 1),
			scoring.WithBucketer(period.NewBucketer(period.WithKinds(period.AllTime))),
		)

		Convey("Then the game's rule and weight apply", func() {
			deltas := rules.Deltas(scoreEvent("reaction", 301, at))
			So(deltas, ShouldHaveLength, 2)
			So(deltas[0].Rule, ShouldEqual, model.RuleCumulative)
			So(deltas[0].Score, ShouldEqual, 301)
			So(deltas[1].Rule, ShouldEqual, model.RuleBest)
			So(deltas[1].Score, ShouldEqual, 151)
		})

		Convey("And unknown games fall back to the default rule", func() {
			So(rules.RuleFor("memory"), ShouldEqual, model.RuleBest)
		})
	})

	Convey("Given a heavy game weight", t, func() {
		rules := scoring.NewRules(
			scoring.WithGameWeights(map[string]float64{"boss": 1e9}, 1),
			scoring.WithBucketer(period.NewBucketer(period.WithKinds(period.AllTime))),
		)

		Convey("Then the global delta saturates instead of overflowing", func() {
			deltas := rules.Deltas(scoreEvent("boss", model.MaxScore, at))
			So(deltas[1].Score, ShouldEqual, model.MaxAggregateScore)

			deltas = rules.Deltas(scoreEvent("boss", -model.MaxScore, at))
			So(deltas[1].Score, ShouldEqual, -model.MaxAggregateScore)
		})
	})
}

func TestScoreBounds(t *testing.T) {
	Convey("Given aggregate scores near the bound", t, func() {
		So(model.AddScores(model.MaxAggregateScore-5, 10), ShouldEqual, model.MaxAggregateScore)
		So(model.AddScores(math.MaxInt64, math.MaxInt64), ShouldEqual, model.MaxAggregateScore)
		So(model.AddScores(math.MinInt64, -1), ShouldEqual, -model.MaxAggregateScore)
		So(model.AddScores(40, -15), ShouldEqual, 25)
	})

	Convey("Given events with scores", t, func() {
		at := time.Date(2026, time.October, 17, 10, 0, 0, 0, time.UTC)
		So(scoreEvent("g", model.MaxScore, at).CheckScore(), ShouldBeNil)
		So(errors.Is(scoreEvent("g", model.MaxScore+1, at).CheckScore(), model.ErrInvalidEvent), ShouldBeTrue)
		So(errors.Is(scoreEvent("g", math.MinInt64, at).CheckScore(), model.ErrInvalidEvent), ShouldBeTrue)
	})
}
