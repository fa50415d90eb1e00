package ingest_test

import (
	"path/filepath"
	"testing"

	"surf-tg/internal/adapters/telegram/ingest"
	"surf-tg/internal/infra/db"
)

func openService(t *testing.T, authFallback []int64) (*ingest.Service, *db.Store) {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return ingest.New(store, authFallback), store
}

func TestAuthorized(t *testing.T) {
	t.Parallel()

	svc, store := openService(t, []int64{-100111})

	if !svc.Authorized(-100111) {
		t.Fatal("fallback channel must be authorized")
	}
	if svc.Authorized(-100222) {
		t.Fatal("unknown channel must not be authorized")
	}

	// Переопределение в конфиг-коллекции полностью заменяет список из окружения.
	if err := store.SetConfigValue("auth_channel", "-100222,-100333"); err != nil {
		t.Fatalf("SetConfigValue() error = %v", err)
	}
	if svc.Authorized(-100111) {
		t.Fatal("override must hide the fallback channel")
	}
	if !svc.Authorized(-100333) {
		t.Fatal("override channel must be authorized")
	}
}

func TestIngestMessageCreatesTopicPath(t *testing.T) {
	t.Parallel()

	svc, store := openService(t, nil)
	const chat = int64(-100500)

	caption := "Batch: Physics\nTopic: Home -> Mechanics -> Kinematics"
	media := ingest.MediaInfo{
		Name:     "lecture_01.mp4",
		MIME:     "video/mp4",
		Size:     1 << 20,
		UniqueID: "abcdef123456",
	}

	novel, err := svc.IngestMessage(chat, 10, caption, media)
	if err != nil {
		t.Fatalf("IngestMessage() error = %v", err)
	}
	if !novel {
		t.Fatal("first ingest must be novel")
	}

	// Повтор того же файла не создаёт дубль.
	novel, err = svc.IngestMessage(chat, 11, caption, media)
	if err != nil {
		t.Fatalf("repeat IngestMessage() error = %v", err)
	}
	if novel {
		t.Fatal("same hash must be deduplicated")
	}

	folders, err := store.TopicFolders(chat)
	if err != nil {
		t.Fatalf("TopicFolders() error = %v", err)
	}
	names := make(map[string]bool, len(folders))
	for _, f := range folders {
		names[f.Name] = true
	}
	for _, want := range []string{"Physics", "Mechanics", "Kinematics"} {
		if !names[want] {
			t.Fatalf("folder %q missing, got %v", want, folders)
		}
	}
	if names["Home"] {
		t.Fatal("leading home must not become a folder")
	}

	file, err := store.GetFileByHash(chat, "abcdef")
	if err != nil {
		t.Fatalf("GetFileByHash() error = %v", err)
	}
	if file.Name != "lecture 01" {
		t.Fatalf("derived title = %q, want %q", file.Name, "lecture 01")
	}
	if file.ParentFolder == "" {
		t.Fatal("file must be attached to the leaf topic folder")
	}
}

func TestFolderPathReusesExistingFolders(t *testing.T) {
	t.Parallel()

	svc, _ := openService(t, nil)

	first, err := svc.FolderPath([]string{"A", "B"}, -100500)
	if err != nil {
		t.Fatalf("FolderPath() error = %v", err)
	}
	second, err := svc.FolderPath([]string{"A", "B"}, -100500)
	if err != nil {
		t.Fatalf("repeat FolderPath() error = %v", err)
	}
	if first != second {
		t.Fatalf("leaf ids differ: %q vs %q", first, second)
	}
}
