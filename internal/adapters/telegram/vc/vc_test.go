package vc_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"surf-tg/internal/adapters/telegram/vc"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

type fakeEngine struct {
	playErr error
	plays   []int // seek-параметры всех вызовов Play
	pauses  int
	resumes int
	leaves  int
	started bool
}

func (f *fakeEngine) Start(context.Context) error { f.started = true; return nil }

func (f *fakeEngine) Play(_ context.Context, _ int64, _ string, seekSec int) error {
	if f.playErr != nil {
		return f.playErr
	}
	f.plays = append(f.plays, seekSec)
	return nil
}

func (f *fakeEngine) Pause(context.Context, int64) error  { f.pauses++; return nil }
func (f *fakeEngine) Resume(context.Context, int64) error { f.resumes++; return nil }
func (f *fakeEngine) Leave(context.Context, int64) error  { f.leaves++; return nil }

func newController(t *testing.T, engine vc.Engine, duration int) (*vc.Controller, *time.Time) {
	t.Helper()

	ctrl := vc.New(engine, func(context.Context, string) int { return duration })
	now := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	ctrl.SetClock(func() time.Time { return now })
	return ctrl, &now
}

func TestPositionClock(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	ctrl, now := newController(t, engine, 600)
	ctx := context.Background()
	const chat = int64(-100700)

	if err := ctrl.StartStream(ctx, chat, "http://host/f.mp4", "movie", 0); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	if !engine.started {
		t.Fatal("engine must be started")
	}

	*now = now.Add(42 * time.Second)
	pos, err := ctrl.Position(chat)
	if err != nil || pos != 42 {
		t.Fatalf("Position() = %d, %v; want 42", pos, err)
	}

	// Пауза замораживает часы.
	if err = ctrl.Pause(ctx, chat); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	*now = now.Add(30 * time.Second)
	if pos, _ = ctrl.Position(chat); pos != 42 {
		t.Fatalf("paused Position() = %d, want 42", pos)
	}

	// Resume компенсирует простой: позиция продолжает с места паузы.
	if err = ctrl.Resume(ctx, chat); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	*now = now.Add(8 * time.Second)
	if pos, _ = ctrl.Position(chat); pos != 50 {
		t.Fatalf("resumed Position() = %d, want 50", pos)
	}
}

func TestSeekClampsToDuration(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	ctrl, now := newController(t, engine, 100)
	ctx := context.Background()
	const chat = int64(-100701)

	if err := ctrl.StartStream(ctx, chat, "u", "t", 0); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}

	*now = now.Add(10 * time.Second)
	if err := ctrl.SeekBy(ctx, chat, 500); err != nil {
		t.Fatalf("SeekBy() error = %v", err)
	}
	if got := engine.plays[len(engine.plays)-1]; got != 100 {
		t.Fatalf("seek past the end must clamp to duration, Play seek = %d", got)
	}

	if err := ctrl.SeekBy(ctx, chat, -500); err != nil {
		t.Fatalf("SeekBy() negative error = %v", err)
	}
	if got := engine.plays[len(engine.plays)-1]; got != 0 {
		t.Fatalf("seek before the start must clamp to 0, Play seek = %d", got)
	}

	if pos, _ := ctrl.Position(chat); pos != 0 {
		t.Fatalf("Position after clamp = %d, want 0", pos)
	}
}

func TestGroupCallNotFoundMapped(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{playErr: errors.New("rpc error code 400: GROUPCALL_NOT_FOUND")}
	ctrl, _ := newController(t, engine, 0)

	err := ctrl.StartStream(context.Background(), -100702, "u", "t", 0)
	if !errors.Is(err, vc.ErrNoGroupCall) {
		t.Fatalf("error = %v, want ErrNoGroupCall", err)
	}
}

func TestStopRemovesStream(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	ctrl, _ := newController(t, engine, 60)
	ctx := context.Background()
	const chat = int64(-100703)

	if err := ctrl.StartStream(ctx, chat, "u", "t", 0); err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	if err := ctrl.Stop(ctx, chat); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if engine.leaves != 1 {
		t.Fatalf("Leave called %d times, want 1", engine.leaves)
	}
	if _, err := ctrl.Position(chat); !errors.Is(err, vc.ErrNoStream) {
		t.Fatalf("Position after Stop error = %v, want ErrNoStream", err)
	}
	if err := ctrl.Stop(ctx, chat); !errors.Is(err, vc.ErrNoStream) {
		t.Fatalf("second Stop error = %v, want ErrNoStream", err)
	}
}

func TestRenderPlayerBar(t *testing.T) {
	t.Parallel()

	// 320 секунд, позиция 100: сегмент = 10 секунд, позиция в сегменте 10.
	st := vc.Status{ChatID: -100704, Title: "movie", Position: 100, Duration: 320}
	text, markup := vc.RenderPlayer(st)

	if !strings.Contains(text, "movie") || !strings.Contains(text, "01:40 / 05:20") {
		t.Fatalf("player text = %q", text)
	}

	// 4 ряда сетки + управление + стоп/назад.
	if len(markup.Rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(markup.Rows))
	}
	var done, current, rest int
	for _, row := range markup.Rows[:4] {
		if len(row.Buttons) != 8 {
			t.Fatalf("bar row has %d buttons, want 8", len(row.Buttons))
		}
		for _, btn := range row.Buttons {
			callback := btn.(*tg.KeyboardButtonCallback)
			switch callback.Text {
			case "▓":
				done++
			case "🔘":
				current++
			case "░":
				rest++
			}
			if !strings.HasPrefix(string(callback.Data), "bvj|-100704|") {
				t.Fatalf("segment callback = %q", callback.Data)
			}
		}
	}
	if done != 10 || current != 1 || rest != 21 {
		t.Fatalf("bar = %d done, %d current, %d rest; want 10/1/21", done, current, rest)
	}
}

func TestRenderPlayerUnknownDurationFallback(t *testing.T) {
	t.Parallel()

	st := vc.Status{ChatID: -100705, Title: "live", Position: 0, Duration: 0}
	_, markup := vc.RenderPlayer(st)

	last := markup.Rows[3].Buttons[7].(*tg.KeyboardButtonCallback)
	// 31-й сегмент при знаменателе 7200: 31*7200/32 = 6975.
	if string(last.Data) != "bvj|-100705|6975" {
		t.Fatalf("last segment callback = %q", last.Data)
	}
}
