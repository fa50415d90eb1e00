package vc_test

import (
	"context"
	"strings"
	"testing"

	"surf-tg/internal/adapters/telegram/vc"

	"github.com/go-faster/errors"
)

func TestProcEngineDisabled(t *testing.T) {
	t.Parallel()

	e := vc.NewProcEngine("   ")
	if err := e.Start(context.Background()); !errors.Is(err, vc.ErrEngineDisabled) {
		t.Fatalf("Start with empty command = %v, want ErrEngineDisabled", err)
	}
}

func TestProcEngineRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := vc.NewProcEngine(`while read -r _; do echo ok; done`)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Play(ctx, 42, "http://example/stream", 10); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := e.Pause(ctx, 42); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := e.Leave(ctx, 42); err != nil {
		t.Fatalf("Leave: %v", err)
	}
}

func TestProcEngineErrorReply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := vc.NewProcEngine(`while read -r _; do echo "error GROUPCALL_NOT_FOUND"; done`)
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := e.Play(ctx, 7, "http://example/stream", 0)
	if err == nil || !strings.Contains(err.Error(), "GROUPCALL_NOT_FOUND") {
		t.Fatalf("Play error = %v, want GROUPCALL_NOT_FOUND passthrough", err)
	}
}
