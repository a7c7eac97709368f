package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/types"
)

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps LeaderboardDependencies
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

// HandleGetLeaderboard handles GET /leaderboards/{scope}/{period}.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"

	scope, periodKey, err := h.bucket(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	limit, err := h.limit(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}

	entries, err := h.deps.Leaderboard(r.Context(), model.LeaderboardQuery{Scope: scope, Period: periodKey, Limit: limit})
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.FromEntries(entries))
}

// HandleGetUserRank handles GET /leaderboards/{scope}/{period}/users/{userId}.
func (h *LeaderboardHandler) HandleGetUserRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_user_rank"

	scope, periodKey, err := h.bucket(r)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		writeError(w, r, NewKind(op, model.ErrInvalidQuery))
		return
	}

	e, err := h.deps.UserRank(r.Context(), scope, periodKey, userID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.FromEntry(e))
}

func (h *LeaderboardHandler) bucket(r *http.Request) (model.Scope, string, error) {
	scope, err := model.ParseScope(chi.URLParam(r, "scope"), r.URL.Query().Get("gameId"))
	if err != nil {
		return model.Scope{}, "", err
	}
	periodKey, err := h.deps.ResolvePeriod(chi.URLParam(r, "period"))
	if err != nil {
		return model.Scope{}, "", err
	}
	return scope, periodKey, nil
}

func (h *LeaderboardHandler) limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.deps.DefaultLimit(), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", model.ErrInvalidQuery)
	}
	if maxLimit := h.deps.MaxLimit(); n > maxLimit {
		return 0, fmt.Errorf("%w: limit must not exceed %d", model.ErrInvalidQuery, maxLimit)
	}
	return n, nil
}
