package batch_test

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"surf-tg/internal/adapters/telegram/batch"

	"github.com/gotd/td/tg"
)

func TestActiveStorePersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "active_users.json")

	store, err := batch.OpenActiveStore(path)
	if err != nil {
		t.Fatalf("OpenActiveStore() error = %v", err)
	}
	if err = store.Put(batch.ActiveBatch{UserID: 7, Total: 10}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err = store.Update(7, func(b *batch.ActiveBatch) {
		b.Current = 3
		b.Success = 2
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if ok, cancelErr := store.RequestCancel(7); cancelErr != nil || !ok {
		t.Fatalf("RequestCancel() = %v, %v", ok, cancelErr)
	}

	// Перечитанный файл отдаёт тот же снимок: счётчики переживают рестарт.
	reopened, err := batch.OpenActiveStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, ok := reopened.Get(7)
	if !ok {
		t.Fatal("batch lost after reopen")
	}
	want := batch.ActiveBatch{UserID: 7, Total: 10, Current: 3, Success: 2, CancelRequested: true}
	if got != want {
		t.Fatalf("reopened batch = %+v, want %+v", got, want)
	}

	if err = reopened.Remove(7); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if reopened.Active(7) {
		t.Fatal("batch still active after Remove")
	}

	// И файл тоже больше не содержит пользователя.
	final, err := batch.OpenActiveStore(path)
	if err != nil {
		t.Fatalf("final reopen error = %v", err)
	}
	if final.Active(7) {
		t.Fatal("removed batch resurrected from disk")
	}
}

func TestRequestCancelWithoutBatch(t *testing.T) {
	t.Parallel()

	store, err := batch.OpenActiveStore(filepath.Join(t.TempDir(), "a.json"))
	if err != nil {
		t.Fatalf("OpenActiveStore() error = %v", err)
	}
	ok, err := store.RequestCancel(99)
	if err != nil {
		t.Fatalf("RequestCancel() error = %v", err)
	}
	if ok {
		t.Fatal("cancel without a batch must report false")
	}
}

func TestActiveStoreDrain(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "active_users.json")
	store, err := batch.OpenActiveStore(path)
	if err != nil {
		t.Fatalf("OpenActiveStore() error = %v", err)
	}
	if err = store.Put(batch.ActiveBatch{UserID: 1, Total: 5, Current: 2, Success: 2, ProgressMsgID: 77}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err = store.Put(batch.ActiveBatch{UserID: 2, Total: 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Drain на перечитанном сторе: сценарий рестарта процесса.
	reopened, err := batch.OpenActiveStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	drained, err := reopened.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("Drain() returned %d records, want 2", len(drained))
	}
	for _, b := range drained {
		if b.UserID == 1 && b.ProgressMsgID != 77 {
			t.Fatalf("progress message id lost: %+v", b)
		}
	}
	if reopened.Active(1) || reopened.Active(2) {
		t.Fatal("records must be gone after Drain")
	}

	// Пустой стор: ни записей, ни лишней перезаписи файла.
	again, err := reopened.Drain()
	if err != nil || again != nil {
		t.Fatalf("second Drain() = %v, %v", again, err)
	}

	final, err := batch.OpenActiveStore(path)
	if err != nil {
		t.Fatalf("final reopen error = %v", err)
	}
	if final.Active(1) || final.Active(2) {
		t.Fatal("drained records resurrected from disk")
	}
}

func TestStepPercent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size int64
		want int
	}{
		{size: 200 << 20, want: 10},
		{size: 100 << 20, want: 10},
		{size: 60 << 20, want: 20},
		{size: 50 << 20, want: 20},
		{size: 10 << 20, want: 30},
		{size: 0, want: 30},
	}
	for _, tc := range cases {
		if got := batch.StepPercent(tc.size); got != tc.want {
			t.Fatalf("StepPercent(%d) = %d, want %d", tc.size, got, tc.want)
		}
	}
}

func TestBar(t *testing.T) {
	t.Parallel()

	if got := batch.Bar(0, 100); got != strings.Repeat("🔴", 10) {
		t.Fatalf("empty bar = %q", got)
	}
	if got := batch.Bar(100, 100); got != strings.Repeat("🟢", 10) {
		t.Fatalf("full bar = %q", got)
	}
	half := batch.Bar(50, 100)
	if half != strings.Repeat("🟢", 5)+strings.Repeat("🔴", 5) {
		t.Fatalf("half bar = %q", half)
	}
}

func TestTrackerDedup(t *testing.T) {
	t.Parallel()

	tracker := batch.NewTracker()
	const msg = 42
	total := int64(100)

	// Первые проценты не репортятся: корзина 0 пропускается.
	if tracker.ShouldReport(msg, 5, total, 10) {
		t.Fatal("bucket 0 must not report")
	}
	if !tracker.ShouldReport(msg, 12, total, 10) {
		t.Fatal("first crossing of 10% must report")
	}
	// Та же корзина повторно — молчим.
	if tracker.ShouldReport(msg, 15, total, 10) {
		t.Fatal("same bucket must not report twice")
	}
	if !tracker.ShouldReport(msg, 35, total, 10) {
		t.Fatal("new bucket must report")
	}

	// Другое сообщение считается независимо.
	if !tracker.ShouldReport(msg+1, 12, total, 10) {
		t.Fatal("other message must track separately")
	}

	tracker.Forget(msg)
	if !tracker.ShouldReport(msg, 12, total, 10) {
		t.Fatal("Forget must reset buckets")
	}
}

func TestProgressText(t *testing.T) {
	t.Parallel()

	text := batch.ProgressText("⬇️ Downloading message 5", 50<<20, 100<<20, 10*time.Second)
	if !strings.Contains(text, "50.00 MB / 100.00 MB") {
		t.Fatalf("sizes missing: %q", text)
	}
	if !strings.Contains(text, "5.00 MiB/s") {
		t.Fatalf("speed missing: %q", text)
	}
	if !strings.Contains(text, "ETA 00:10") {
		t.Fatalf("eta missing: %q", text)
	}
}

func documentWith(attrs ...tg.DocumentAttributeClass) *batch.Fetched {
	return &batch.Fetched{Doc: &tg.Document{Attributes: attrs}}
}

func TestUploadKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		media    *batch.Fetched
		filename string
		want     batch.Kind
	}{
		{
			name:     "videoAttribute",
			media:    documentWith(&tg.DocumentAttributeVideo{}),
			filename: "clip.bin",
			want:     batch.KindVideo,
		},
		{
			name:     "roundVideo",
			media:    documentWith(&tg.DocumentAttributeVideo{RoundMessage: true}),
			filename: "note.mp4",
			want:     batch.KindVideoNote,
		},
		{
			name:     "voice",
			media:    documentWith(&tg.DocumentAttributeAudio{Voice: true}),
			filename: "v.ogg",
			want:     batch.KindVoice,
		},
		{
			name:     "audioAttribute",
			media:    documentWith(&tg.DocumentAttributeAudio{}),
			filename: "song.bin",
			want:     batch.KindAudio,
		},
		{
			name:     "sticker",
			media:    documentWith(&tg.DocumentAttributeSticker{}),
			filename: "s.webp",
			want:     batch.KindSticker,
		},
		{
			name:     "videoByExtension",
			media:    documentWith(),
			filename: "movie.MKV",
			want:     batch.KindVideo,
		},
		{
			name:     "audioByExtension",
			media:    documentWith(),
			filename: "track.flac",
			want:     batch.KindAudio,
		},
		{
			name:     "plainDocument",
			media:    documentWith(),
			filename: "paper.pdf",
			want:     batch.KindDocument,
		},
		{
			name:     "photo",
			media:    &batch.Fetched{Photo: &tg.Photo{}},
			filename: "p.jpg",
			want:     batch.KindPhoto,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.media.UploadKind(tc.filename); got != tc.want {
				t.Fatalf("UploadKind(%q) = %v, want %v", tc.filename, got, tc.want)
			}
		})
	}
}
