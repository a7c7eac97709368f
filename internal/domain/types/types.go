// Package types contains the wire shapes returned by the HTTP API.
package types

import (
	"github.com/okian/mindlab/internal/domain/ingest"
	"github.com/okian/mindlab/internal/domain/model"
)

// Entry represents a leaderboard entry.
type Entry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
	Rank     int    `json:"rank"`
}

// FromEntries converts ranked domain entries to their wire shape.
func FromEntries(in []model.LeaderboardEntry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = FromEntry(e)
	}
	return out
}

// FromEntry converts one ranked domain entry.
func FromEntry(e model.LeaderboardEntry) Entry {
	return Entry{UserID: e.UserID, Username: e.Username, Score: e.Score, Rank: e.Rank}
}

// SyncResponse is the result of POST /sync. Acks is only filled on request.
type SyncResponse struct {
	Synced int          `json:"synced"`
	Total  int          `json:"total"`
	Acks   []ingest.Ack `json:"acks,omitempty"`
}

// FromResult converts an ingestion result. withAcks keeps the per-event
// outcomes.
func FromResult(res ingest.Result, withAcks bool) SyncResponse {
	out := SyncResponse{Synced: res.Synced, Total: res.Total}
	if withAcks {
		out.Acks = res.Acks
	}
	return out
}
