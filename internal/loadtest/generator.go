package loadtest

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/mindlab/pkg/logger"
)

// Constants for score generation.
const (
	randomFloatDivisor = 1_000_000
	performerKinds     = 4
	roundGap           = 3 * time.Second
	sessionGap         = 10 * time.Minute
)

// Score ranges per performer type, in points.
const (
	avgMin, avgRange     = 300, 400
	highMin, highRange   = 700, 200
	lowMin, lowRange     = 10, 290
	eliteMin, eliteRange = 900, 100
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateScore draws a round score with a varied distribution.
func generateScore() int64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(performerKinds))
	switch n.Int64() {
	case 0:
		return avgMin + int64(getRandomFloat()*avgRange)
	case 1:
		return highMin + int64(getRandomFloat()*highRange)
	case 2:
		return lowMin + int64(getRandomFloat()*lowRange)
	default:
		return eliteMin + int64(getRandomFloat()*eliteRange)
	}
}

// Generate builds the offline buffers of every simulated player. Sessions
// run back to time now; clientSeq follows the client's millisecond clock and
// increases within a session.
func Generate(ctx context.Context, cfg *Config, now time.Time) ([]Event, error) {
	if cfg.Players < 1 || len(cfg.Games) == 0 || cfg.Sessions < 1 || cfg.Rounds < 1 {
		return nil, fmt.Errorf("need at least one player, game, session and round")
	}
	logger.Get().Info(ctx, "generating offline buffers",
		logger.Int("players", cfg.Players),
		logger.Int("sessions", cfg.Sessions),
		logger.Int("rounds", cfg.Rounds))

	perSession := cfg.Rounds*2 + 2
	events := make([]Event, 0, cfg.Players*cfg.Sessions*perSession)
	for p := 0; p < cfg.Players; p++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		userID := uuid.NewString()
		username := "player_" + strconv.Itoa(p+1)
		for s := 0; s < cfg.Sessions; s++ {
			game := cfg.Games[(p+s)%len(cfg.Games)]
			start := now.Add(-time.Duration(cfg.Sessions-s) * sessionGap)
			events = append(events, session(userID, username, game, start, cfg.Rounds)...)
		}
	}
	return events, nil
}

func session(userID, username, game string, start time.Time, rounds int) []Event {
	sessionID := uuid.NewString()
	at := start
	out := make([]Event, 0, rounds*2+2)
	add := func(typ string, payload map[string]any) {
		ms := at.UnixMilli()
		out = append(out, Event{
			UserID: userID, GameID: game, SessionID: sessionID,
			Timestamp: ms, Type: typ, Payload: payload, ClientSeq: ms,
		})
		at = at.Add(roundGap)
	}

	add("session_start", map[string]any{"username": username})
	for r := 0; r < rounds; r++ {
		add("round_start", map[string]any{"round": r + 1})
		add("round_end", map[string]any{
			"success":        true,
			"score":          generateScore(),
			"reactionTimeMs": 200 + int64(getRandomFloat()*600),
			"mistakes":       0,
		})
	}
	add("session_end", map[string]any{"durationMs": at.Sub(start).Milliseconds()})
	return out
}

// DistinctKeys counts the idempotency keys in events.
func DistinctKeys(events []Event) int {
	seen := make(map[string]struct{}, len(events))
	for i := range events {
		seen[events[i].Key()] = struct{}{}
	}
	return len(seen)
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
