package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/mindlab/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrBatchTooLarge = errors.New("batch too large")
)

// Wrap tags err with the operation that failed.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WrapKind tags err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// NewKind returns an error of the given kind for op.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// statusFor maps an error kind to its HTTP status and response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge, "batch_too_large"
	case errors.Is(err, model.ErrInvalidEvent):
		return http.StatusBadRequest, "invalid_event"
	case errors.Is(err, model.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, model.ErrIngestionFailed):
		return http.StatusInternalServerError, "ingestion_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
