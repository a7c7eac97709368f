package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/adapters/repository/storetest"
	"github.com/okian/mindlab/internal/domain/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return openTestStore(t) })
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpen_FileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "play.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.InsertEvent(ctx, model.Event{UserID: "u1", GameID: "memory", SessionID: "s1", ClientSeq: 1, Type: model.EventScore})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var inserted bool
	err = s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		inserted, err = tx.InsertEvent(ctx, model.Event{UserID: "u1", GameID: "memory", SessionID: "s1", ClientSeq: 1, Type: model.EventScore})
		return err
	})
	if err != nil {
		t.Fatalf("insert after reopen: %v", err)
	}
	if inserted {
		t.Error("idempotency key must survive a restart")
	}
}

func TestStore_PayloadStoredVerbatim(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	raw := `{"score":10,"extra":{"nested":true}}`
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.InsertEvent(ctx, model.Event{
			UserID: "u1", GameID: "memory", SessionID: "s1", ClientSeq: 1,
			Type: model.EventScore, Raw: []byte(raw),
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got string
	if err := s.DB().QueryRowContext(ctx, "SELECT payload FROM events").Scan(&got); err != nil {
		t.Fatalf("select: %v", err)
	}
	if got != raw {
		t.Errorf("payload = %s, want %s", got, raw)
	}
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	s, err := Open(context.Background(), MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	err = s.InTx(context.Background(), func(context.Context, repository.Tx) error { return nil })
	if !errors.Is(err, model.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, model.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable from ping, got %v", err)
	}
}
