package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/types"
)

// maxBodyBytes bounds a sync request body.
const maxBodyBytes = 8 << 20

// eventRequest mirrors the OpenAPI schema of one event in POST /sync.
type eventRequest struct {
	UserID    string          `json:"userId" validate:"required,max=128"`
	GameID    string          `json:"gameId" validate:"required,max=128"`
	SessionID string          `json:"sessionId" validate:"required,max=128"`
	Timestamp *int64          `json:"timestamp" validate:"required,gte=0"`
	Type      string          `json:"type" validate:"required,max=64"`
	Payload   json.RawMessage `json:"payload"`
	ClientSeq *int64          `json:"clientSeq" validate:"required,gte=0"`
}

type syncRequest struct {
	Events []eventRequest `json:"events"`
}

// SyncHandler handles POST /sync.
type SyncHandler struct {
	deps         SyncDependencies
	validate     *validator.Validate
	maxBatchSize int
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(deps SyncDependencies, maxBatchSize int) *SyncHandler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &SyncHandler{deps: deps, validate: newValidator(), maxBatchSize: maxBatchSize}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// HandleSync handles POST /sync requests. The whole batch is rejected when
// any event is malformed; nothing is persisted in that case.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync"

	reqs, err := decodeBatch(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, WrapKind(op, ErrBatchTooLarge, err))
			return
		}
		writeError(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(reqs) > h.maxBatchSize {
		writeError(w, r, WrapKind(op, ErrBatchTooLarge,
			fmt.Errorf("%d events exceeds the limit of %d", len(reqs), h.maxBatchSize)))
		return
	}

	batch, details := h.toEvents(reqs)
	if len(details) > 0 {
		writeError(w, r, WrapKind(op, model.ErrInvalidEvent,
			fmt.Errorf("%d of %d events rejected", len(details), len(reqs))), details...)
		return
	}

	res, err := h.deps.Sync(r.Context(), batch)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}

	writeJSON(w, http.StatusOK, types.FromResult(res, wantAcks(r)))
}

// decodeBatch accepts {"events":[...]} or a bare array.
func decodeBatch(body io.Reader) ([]eventRequest, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}

	if raw[0] == '[' {
		var reqs []eventRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return reqs, nil
	}
	var req syncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode sync request: %w", err)
	}
	if req.Events == nil {
		return nil, errors.New(`missing "events"`)
	}
	return req.Events, nil
}

// toEvents validates every request and converts it to a domain event. It
// returns one detail line per problem, prefixed by the event index.
func (h *SyncHandler) toEvents(reqs []eventRequest) ([]model.Event, []string) {
	var details []string
	batch := make([]model.Event, 0, len(reqs))
	for i := range reqs {
		e, problems := h.toEvent(&reqs[i])
		for _, p := range problems {
			details = append(details, "events["+strconv.Itoa(i)+"]."+p)
		}
		batch = append(batch, e)
	}
	return batch, details
}

func (h *SyncHandler) toEvent(req *eventRequest) (model.Event, []string) {
	// Leaderboard lookups trim gameId, so stored ids must not carry padding.
	req.UserID = strings.TrimSpace(req.UserID)
	req.GameID = strings.TrimSpace(req.GameID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if err := h.validate.Struct(req); err != nil {
		return model.Event{}, fieldProblems("", err)
	}

	typ := model.ParseEventType(req.Type)
	payload, err := model.DecodePayload(typ, req.Payload)
	if err != nil {
		return model.Event{}, []string{"payload: " + strings.TrimPrefix(err.Error(), model.ErrInvalidEvent.Error()+": ")}
	}
	if _, opaque := payload.(model.OpaquePayload); !opaque {
		if err := h.validate.Struct(payload); err != nil {
			return model.Event{}, fieldProblems("payload.", err)
		}
	}

	return model.Event{
		UserID:    req.UserID,
		GameID:    req.GameID,
		SessionID: req.SessionID,
		Timestamp: *req.Timestamp,
		Type:      typ,
		Payload:   payload,
		Raw:       req.Payload,
		ClientSeq: *req.ClientSeq,
	}, nil
}

func fieldProblems(prefix string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{strings.TrimSuffix(prefix, ".") + ": " + err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, prefix+fe.Field()+": "+fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func wantAcks(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("acks"))
	return err == nil && v
}
