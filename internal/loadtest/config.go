// Package loadtest simulates offline game clients: it buffers generated
// gameplay events, flushes them to POST /sync in concurrent batches with
// deliberate retransmits, and verifies the resulting leaderboards.
package loadtest

import (
	"runtime"
	"time"
)

// Default configuration constants.
const (
	DefaultBaseURL     = "http://localhost:8080"
	DefaultPlayers     = 200
	DefaultSessions    = 3
	DefaultRounds      = 5
	DefaultBatchSize   = 100
	DefaultRepeat      = 1
	DefaultTimeout     = 30 * time.Second
	DefaultBufferFile  = "offline_buffer.json"
	workerCPUMultipler = 2
)

// DefaultGames are the MindLab Play games simulated by default.
var DefaultGames = []string{"memory", "reaction", "pattern"}

// Config holds configuration for a load run.
type Config struct {
	BaseURL    string        // Base URL of the service
	Players    int           // Simulated players
	Games      []string      // Game ids played
	Sessions   int           // Sessions per player
	Rounds     int           // Rounds per session
	BatchSize  int           // Events per sync request
	Workers    int           // Concurrent flushers
	Repeat     int           // Extra retransmits of every batch
	Timeout    time.Duration // HTTP request timeout
	BufferFile string        // Offline buffer path
	Verbose    bool          // Enable verbose logging
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		BaseURL:    DefaultBaseURL,
		Players:    DefaultPlayers,
		Games:      append([]string(nil), DefaultGames...),
		Sessions:   DefaultSessions,
		Rounds:     DefaultRounds,
		BatchSize:  DefaultBatchSize,
		Workers:    runtime.NumCPU() * workerCPUMultipler,
		Repeat:     DefaultRepeat,
		Timeout:    DefaultTimeout,
		BufferFile: DefaultBufferFile,
	}
}

// Event is one buffered client event in the wire format of POST /sync.
type Event struct {
	UserID    string         `json:"userId"`
	GameID    string         `json:"gameId"`
	SessionID string         `json:"sessionId"`
	Timestamp int64          `json:"timestamp"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	ClientSeq int64          `json:"clientSeq"`
}

// Key is the idempotency key of e.
func (e Event) Key() string { //nolint:gocritic // hugeParam
	return e.UserID + "/" + e.GameID + "/" + e.SessionID + "/" + formatInt(e.ClientSeq)
}

// SyncResponse mirrors the POST /sync response.
type SyncResponse struct {
	Synced int `json:"synced"`
	Total  int `json:"total"`
}

// Entry is a leaderboard row.
type Entry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Score    int64  `json:"score"`
	Rank     int    `json:"rank"`
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated int
	DistinctKeys    int
	Requests        int
	FailedRequests  int
	Synced          int
	Sent            int
	Boards          int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
