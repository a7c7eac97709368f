// Package ranking serves ranked leaderboards from aggregated score records.
package ranking

import (
	"sort"

	"github.com/okian/mindlab/internal/domain/model"
)

// Rank orders records by score descending then user id ascending and
// assigns competition ranks: a record's rank is one plus the number of
// records with a strictly greater score, so [100 90 90 80] ranks as
// [1 2 2 4]. The input is not modified.
func Rank(records []model.ScoreRecord) []model.LeaderboardEntry {
	sorted := append([]model.ScoreRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	out := make([]model.LeaderboardEntry, len(sorted))
	rank := 0
	for i, r := range sorted {
		if i == 0 || r.Score != sorted[i-1].Score {
			rank = i + 1
		}
		out[i] = model.LeaderboardEntry{
			UserID:   r.UserID,
			Username: displayName(r),
			Score:    r.Score,
			Rank:     rank,
		}
	}
	return out
}

func displayName(r model.ScoreRecord) string {
	if r.Username == "" {
		return r.UserID
	}
	return r.Username
}
