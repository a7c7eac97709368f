// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// EventType discriminates client events. Known types carry a typed payload;
// anything else is stored as-is and never contributes to scores.
type EventType string

// Known event types.
const (
	EventScore        EventType = "score"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventRoundStart   EventType = "round_start"
	EventRoundEnd     EventType = "round_end"
	EventInput        EventType = "input"
	EventError        EventType = "error"
)

// ParseEventType normalizes a client supplied type. The SDK sends
// upper-case names (ROUND_END), the web client lower-case ones.
func ParseEventType(s string) EventType {
	return EventType(strings.ToLower(strings.TrimSpace(s)))
}

// Known reports whether t is one of the typed event kinds.
func (t EventType) Known() bool {
	switch t {
	case EventScore, EventSessionStart, EventSessionEnd,
		EventRoundStart, EventRoundEnd, EventInput, EventError:
		return true
	}
	return false
}

// Key is the idempotency key of an event. At most one stored event exists
// per key no matter how often a batch is retransmitted.
type Key struct {
	UserID    string
	GameID    string
	SessionID string
	ClientSeq int64
}

func (k Key) String() string {
	return k.UserID + "/" + k.GameID + "/" + k.SessionID + "/" + strconv.FormatInt(k.ClientSeq, 10)
}

// Event is a single client-reported occurrence. Events are immutable once
// persisted.
type Event struct {
	UserID    string
	GameID    string
	SessionID string
	Timestamp int64 // client clock, ms since epoch
	Type      EventType
	Payload   Payload
	Raw       json.RawMessage // payload bytes as sent by the client
	ClientSeq int64
}

// Key returns the idempotency key of e.
func (e Event) Key() Key { //nolint:gocritic // hugeParam: value receiver keeps Event immutable
	return Key{UserID: e.UserID, GameID: e.GameID, SessionID: e.SessionID, ClientSeq: e.ClientSeq}
}

// OccurredAt converts the client timestamp to a time.
func (e Event) OccurredAt() time.Time { //nolint:gocritic // hugeParam
	return time.UnixMilli(e.Timestamp).UTC()
}

// Score returns the score carried by a score-bearing event.
func (e Event) Score() (int64, bool) { //nolint:gocritic // hugeParam
	switch p := e.Payload.(type) {
	case ScorePayload:
		if p.Score != nil {
			return *p.Score, true
		}
	case RoundEndPayload:
		if p.Score != nil {
			return *p.Score, true
		}
	}
	return 0, false
}

// Username returns the display name announced by a session_start event.
func (e Event) Username() (string, bool) { //nolint:gocritic // hugeParam
	p, ok := e.Payload.(SessionStartPayload)
	if !ok {
		return "", false
	}
	name := strings.TrimSpace(p.Username)
	return name, name != ""
}

// RawPayload returns the payload bytes to persist, "{}" when absent.
func (e Event) RawPayload() []byte { //nolint:gocritic // hugeParam
	if len(e.Raw) == 0 || string(e.Raw) == "null" {
		return []byte("{}")
	}
	return e.Raw
}
