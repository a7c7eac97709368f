package model

import (
	"errors"
	"fmt"
)

// Error kinds shared by the engines. A duplicate event is not an error.
var (
	ErrInvalidEvent       = errors.New("invalid event")
	ErrIngestionFailed    = errors.New("ingestion failed")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
)

func invalidQuery(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, msg)
}
