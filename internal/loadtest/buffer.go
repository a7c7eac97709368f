package loadtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File permission constants.
const (
	bufferFilePermission = 0o600
	directoryPermission  = 0o750
)

// LoadBuffer reads the offline buffer. A missing file is an empty buffer.
func LoadBuffer(path string) ([]Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("read buffer: %w", err)
	}
	if len(raw) == 0 {
		return []Event{}, nil
	}
	var out []Event
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode buffer %s: %w", path, err)
	}
	return out, nil
}

// SaveBuffer replaces the offline buffer with events. An empty buffer
// removes the file.
func SaveBuffer(path string, events []Event) error {
	if len(events) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove buffer: %w", err)
		}
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create buffer dir: %w", err)
		}
	}
	raw, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("encode buffer: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, bufferFilePermission); err != nil {
		return fmt.Errorf("write buffer: %w", err)
	}
	return os.Rename(tmp, path)
}
