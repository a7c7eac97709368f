package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/mindlab/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParseEventType(t *testing.T) {
	Convey("Given client supplied event types", t, func() {
		So(model.ParseEventType("ROUND_END"), ShouldEqual, model.EventRoundEnd)
		So(model.ParseEventType(" score "), ShouldEqual, model.EventScore)
		So(model.ParseEventType("session_start").Known(), ShouldBeTrue)
		So(model.ParseEventType("powerup").Known(), ShouldBeFalse)
	})
}

func TestEventKey(t *testing.T) {
	Convey("Given two events with the same identity tuple", t, func() {
		a := model.Event{UserID: "u1", GameID: "memory", SessionID: "s1", ClientSeq: 7, Timestamp: 1}
		b := model.Event{UserID: "u1", GameID: "memory", SessionID: "s1", ClientSeq: 7, Timestamp: 2, Type: model.EventInput}

		Convey("Then their keys are equal regardless of other fields", func() {
			So(a.Key(), ShouldResemble, b.Key())
			So(a.Key().String(), ShouldEqual, "u1/memory/s1/7")
		})

		Convey("And a different clientSeq yields a different key", func() {
			b.ClientSeq = 8
			So(a.Key(), ShouldNotResemble, b.Key())
		})
	})
}

func TestDecodePayload(t *testing.T) {
	Convey("Given a score payload", t, func() {
		p, err := model.DecodePayload(model.EventScore, json.RawMessage(`{"score":1200,"combo":3}`))
		So(err, ShouldBeNil)

		Convey("Then the event is score-bearing", func() {
			e := model.Event{Type: model.EventScore, Payload: p}
			score, ok := e.Score()
			So(ok, ShouldBeTrue)
			So(score, ShouldEqual, 1200)
		})
	})

	Convey("Given a round_end payload from the SDK", t, func() {
		p, err := model.DecodePayload(model.EventRoundEnd,
			json.RawMessage(`{"success":true,"score":40,"reactionTimeMs":312,"mistakes":1}`))
		So(err, ShouldBeNil)
		rp, ok := p.(model.RoundEndPayload)
		So(ok, ShouldBeTrue)
		So(rp.Success, ShouldBeTrue)
		So(rp.ReactionTimeMs, ShouldEqual, 312)

		score, ok := model.Event{Payload: p}.Score()
		So(ok, ShouldBeTrue)
		So(score, ShouldEqual, 40)
	})

	Convey("Given a fractional score", t, func() {
		_, err := model.DecodePayload(model.EventScore, json.RawMessage(`{"score":12.5}`))

		Convey("Then decoding fails as an invalid event", func() {
			So(errors.Is(err, model.ErrInvalidEvent), ShouldBeTrue)
		})
	})

	Convey("Given a payload that is not an object", t, func() {
		_, err := model.DecodePayload(model.EventInput, json.RawMessage(`[1,2]`))
		So(errors.Is(err, model.ErrInvalidEvent), ShouldBeTrue)
	})

	Convey("Given an unknown event type", t, func() {
		p, err := model.DecodePayload("powerup", json.RawMessage(`{"kind":"shield"}`))
		So(err, ShouldBeNil)

		Convey("Then it is kept as an opaque payload and carries no score", func() {
			op, ok := p.(model.OpaquePayload)
			So(ok, ShouldBeTrue)
			So(op["kind"], ShouldEqual, "shield")
			_, scored := model.Event{Payload: p}.Score()
			So(scored, ShouldBeFalse)
		})
	})

	Convey("Given a missing payload", t, func() {
		p, err := model.DecodePayload(model.EventSessionEnd, nil)
		So(err, ShouldBeNil)
		So(p, ShouldHaveSameTypeAs, model.SessionEndPayload{})
		So(string(model.Event{}.RawPayload()), ShouldEqual, "{}")
	})

	Convey("Given a session_start with a username", t, func() {
		p, err := model.DecodePayload(model.EventSessionStart, json.RawMessage(`{"username":"  ada "}`))
		So(err, ShouldBeNil)
		name, ok := model.Event{Payload: p}.Username()
		So(ok, ShouldBeTrue)
		So(name, ShouldEqual, "ada")
	})
}

func TestParseScope(t *testing.T) {
	Convey("Given scope selectors", t, func() {
		s, err := model.ParseScope("global", "ignored")
		So(err, ShouldBeNil)
		So(s.IsGlobal(), ShouldBeTrue)
		So(s.String(), ShouldEqual, "global")

		s, err = model.ParseScope("game", "reaction")
		So(err, ShouldBeNil)
		So(s, ShouldResemble, model.GameScope("reaction"))
		So(s.String(), ShouldEqual, "game:reaction")

		_, err = model.ParseScope("game", "")
		So(errors.Is(err, model.ErrInvalidQuery), ShouldBeTrue)

		_, err = model.ParseScope("region", "")
		So(errors.Is(err, model.ErrInvalidQuery), ShouldBeTrue)
	})
}
