package session_test

import (
	"context"
	"path/filepath"
	"testing"

	"surf-tg/internal/infra/telegram/session"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
)

func TestFileStorageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := &session.FileStorage{Path: filepath.Join(t.TempDir(), "bot.session")}

	if _, err := st.LoadSession(ctx); !errors.Is(err, tdsession.ErrNotFound) {
		t.Fatalf("load missing session = %v, want ErrNotFound", err)
	}

	payload := []byte(`{"Version":1}`)
	if err := st.StoreSession(ctx, payload); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := st.LoadSession(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("load = %q, want %q", got, payload)
	}
}

func TestSeedNoops(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := &session.FileStorage{Path: filepath.Join(t.TempDir(), "bot.session")}

	// Пустая строка ничего не меняет.
	if err := session.Seed(ctx, st, ""); err != nil {
		t.Fatalf("seed empty: %v", err)
	}
	if _, err := st.LoadSession(ctx); !errors.Is(err, tdsession.ErrNotFound) {
		t.Fatalf("storage must stay empty, got %v", err)
	}

	// Существующая сессия не перетирается.
	if err := st.StoreSession(ctx, []byte("existing")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := session.Seed(ctx, st, "garbage-session-string"); err != nil {
		t.Fatalf("seed over existing: %v", err)
	}
	got, err := st.LoadSession(ctx)
	if err != nil || string(got) != "existing" {
		t.Fatalf("session overwritten: %q, %v", got, err)
	}
}

func TestSeedRejectsGarbage(t *testing.T) {
	t.Parallel()

	st := &session.FileStorage{Path: filepath.Join(t.TempDir(), "bot.session")}
	if err := session.Seed(context.Background(), st, "not-a-session"); err == nil {
		t.Fatal("garbage SESSION_STRING must not seed")
	}
}
