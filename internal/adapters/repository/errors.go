package repository

import (
	"errors"
	"fmt"

	"github.com/okian/mindlab/internal/domain/model"
)

// Sentinel kinds for storage errors.
var (
	ErrInvalidLimit = errors.New("invalid score query limit")
	ErrTxConflict   = errors.New("transaction conflict, retries exhausted")
	ErrClosed       = errors.New("store closed")
)

// Unavailable marks err as a storage availability failure so callers can
// tell "try again later" apart from a rejected write.
func Unavailable(op string, err error) error {
	if err == nil || errors.Is(err, model.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorageUnavailable, err)
}
