package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the closed set of typed event payloads. OpaquePayload covers
// event types without a schema.
type Payload interface {
	payloadType() EventType
}

// ScorePayload is sent with "score" events.
type ScorePayload struct {
	Score *int64 `json:"score" validate:"required,gte=-1000000000000,lte=1000000000000"`
}

// RoundEndPayload mirrors the SDK's round result.
type RoundEndPayload struct {
	Success        bool   `json:"success"`
	Score          *int64 `json:"score" validate:"required,gte=-1000000000000,lte=1000000000000"`
	ReactionTimeMs int64  `json:"reactionTimeMs" validate:"gte=0"`
	Mistakes       int    `json:"mistakes" validate:"gte=0"`
}

// SessionStartPayload optionally announces the player's display name.
type SessionStartPayload struct {
	Username string `json:"username" validate:"max=64"`
}

// SessionEndPayload closes a session.
type SessionEndPayload struct {
	DurationMs int64 `json:"durationMs" validate:"gte=0"`
}

// OpaquePayload holds fields of event types we do not interpret.
type OpaquePayload map[string]any

func (ScorePayload) payloadType() EventType        { return EventScore }
func (RoundEndPayload) payloadType() EventType     { return EventRoundEnd }
func (SessionStartPayload) payloadType() EventType { return EventSessionStart }
func (SessionEndPayload) payloadType() EventType   { return EventSessionEnd }
func (OpaquePayload) payloadType() EventType       { return "" }

// DecodePayload builds the payload variant for t from the client's JSON.
// Required-field checks are left to the boundary validator.
func DecodePayload(t EventType, raw json.RawMessage) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: payload must be an object", ErrInvalidEvent)
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case EventScore:
		var v ScorePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventRoundEnd:
		var v RoundEndPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventSessionStart:
		var v SessionStartPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventSessionEnd:
		var v SessionEndPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		v := OpaquePayload{}
		err = json.Unmarshal(raw, &v)
		p = v
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrInvalidEvent, t, err)
	}
	return p, nil
}
