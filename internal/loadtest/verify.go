package loadtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/mindlab/pkg/logger"
)

// ErrVerification reports a server result that breaks a sync or ranking
// guarantee.
var ErrVerification = errors.New("verification failed")

// verifyLimit is the leaderboard size fetched for checks.
const verifyLimit = 1000

// CheckSynced compares the stored-event count with the distinct keys sent.
func CheckSynced(stats *Stats) error {
	if stats.Synced != stats.DistinctKeys {
		return fmt.Errorf("%w: synced %d events for %d distinct keys", ErrVerification, stats.Synced, stats.DistinctKeys)
	}
	return nil
}

// CheckRanking checks that entries are ordered by score descending then
// userId ascending, and that ranks follow competition ranking.
func CheckRanking(entries []Entry) error {
	for i := range entries {
		e := entries[i]
		if i == 0 {
			if e.Rank != 1 {
				return fmt.Errorf("%w: first entry has rank %d", ErrVerification, e.Rank)
			}
			continue
		}
		prev := entries[i-1]
		switch {
		case e.Score > prev.Score:
			return fmt.Errorf("%w: entry %d score %d above previous %d", ErrVerification, i, e.Score, prev.Score)
		case e.Score == prev.Score:
			if e.Rank != prev.Rank {
				return fmt.Errorf("%w: tied entry %d has rank %d, want %d", ErrVerification, i, e.Rank, prev.Rank)
			}
			if e.UserID <= prev.UserID {
				return fmt.Errorf("%w: tie at entry %d not ordered by userId", ErrVerification, i)
			}
		default:
			if e.Rank != i+1 {
				return fmt.Errorf("%w: entry %d has rank %d, want %d", ErrVerification, i, e.Rank, i+1)
			}
		}
	}
	return nil
}

// Verify checks the sync totals and the all-time global and per-game boards.
func Verify(ctx context.Context, cfg *Config, client *Client, stats *Stats) error {
	if err := CheckSynced(stats); err != nil {
		return err
	}

	boards := []struct{ scope, game string }{{scope: "global"}}
	for _, g := range cfg.Games {
		boards = append(boards, struct{ scope, game string }{"game", g})
	}
	var errs []error
	for _, b := range boards {
		entries, err := client.Leaderboard(ctx, b.scope, "all_time", b.game, verifyLimit)
		if err != nil {
			return fmt.Errorf("fetch %s leaderboard %s: %w", b.scope, b.game, err)
		}
		stats.Boards++
		if len(entries) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s leaderboard %s is empty", ErrVerification, b.scope, b.game))
			continue
		}
		if err := CheckRanking(entries); err != nil {
			errs = append(errs, fmt.Errorf("%s leaderboard %s: %w", b.scope, b.game, err))
		}
		logger.Get().Info(ctx, "leaderboard verified",
			logger.String("scope", b.scope),
			logger.String("game", b.game),
			logger.Int("entries", len(entries)),
			logger.String("leader", entries[0].Username))
	}
	return errors.Join(errs...)
}
