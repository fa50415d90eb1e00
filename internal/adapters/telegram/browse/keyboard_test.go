package browse_test

import (
	"strings"
	"testing"

	"surf-tg/internal/adapters/telegram/browse"
	"surf-tg/internal/adapters/telegram/vc"
	"surf-tg/internal/infra/db"

	"github.com/gotd/td/tg"
)

func sampleListing() *db.Listing {
	return &db.Listing{
		Folders: []db.Folder{
			{ID: "f1", Name: "Movies"},
			{ID: "f2", Name: "Books"},
			{ID: "f3", Name: "Music"},
		},
		Files: []db.FileDoc{
			{MsgID: 10, ChatID: -100123, Hash: "aaaaaa", Name: "clip", MIME: "video/mp4"},
			{MsgID: 11, ChatID: -100123, Hash: "bbbbbb", Name: "paper", MIME: "application/pdf"},
		},
		HasMore:     true,
		FolderCount: 3,
		FileCount:   12,
		VideoCount:  5,
		PDFCount:    4,
	}
}

func TestHeaderLine(t *testing.T) {
	t.Parallel()

	got := browse.HeaderLine(sampleListing())
	want := "📂 3 Folders | 🎬 5 Videos | 📕 4 PDFs | 📄 3 Others"
	if got != want {
		t.Fatalf("HeaderLine() = %q, want %q", got, want)
	}
}

func TestFileIcon(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mime string
		want string
	}{
		{mime: "video/mp4", want: "🎬"},
		{mime: "video/x-matroska", want: "🎬"},
		{mime: "application/pdf", want: "📕"},
		{mime: "application/zip", want: "📄"},
		{mime: "", want: "📄"},
	}
	for _, tc := range cases {
		if got := browse.FileIcon(tc.mime); got != tc.want {
			t.Fatalf("FileIcon(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func callbackText(t *testing.T, btn tg.KeyboardButtonClass) (string, string) {
	t.Helper()
	callback, ok := btn.(*tg.KeyboardButtonCallback)
	if !ok {
		t.Fatalf("unexpected button type %T", btn)
	}
	return callback.Text, string(callback.Data)
}

func TestFolderKeyboardLayout(t *testing.T) {
	t.Parallel()

	markup := browse.FolderKeyboard(browse.FolderView{
		Listing:  sampleListing(),
		FolderID: "f0",
		ParentID: db.RootFolder,
		ChatID:   -100123,
		Page:     1,
	})

	// 2 ряда папок (2+1) + 2 файла + Back + пагинация.
	if len(markup.Rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(markup.Rows))
	}
	if len(markup.Rows[0].Buttons) != 2 || len(markup.Rows[1].Buttons) != 1 {
		t.Fatalf("folder rows: %d, %d buttons", len(markup.Rows[0].Buttons), len(markup.Rows[1].Buttons))
	}

	_, data := callbackText(t, markup.Rows[0].Buttons[0])
	if data != "bf|f1|-100123|0" {
		t.Fatalf("folder callback = %q", data)
	}

	text, data := callbackText(t, markup.Rows[2].Buttons[0])
	if !strings.HasPrefix(text, "🎬 ") || data != "bfi|10|-100123|aaaaaa|f0" {
		t.Fatalf("file button = %q %q", text, data)
	}

	// Все payload'ы в пределах лимита.
	for _, row := range markup.Rows {
		for _, btn := range row.Buttons {
			if callback, ok := btn.(*tg.KeyboardButtonCallback); ok && len(callback.Data) > 64 {
				t.Fatalf("callback exceeds 64 bytes: %q", callback.Data)
			}
		}
	}
}

func TestFolderKeyboardPaginationStableAtEdges(t *testing.T) {
	t.Parallel()

	// Первая и последняя страница: Prev/Next не исчезают, а перенацеливаются
	// на ту же страницу.
	first := browse.FolderKeyboard(browse.FolderView{
		Listing:  &db.Listing{HasMore: false},
		FolderID: "f0",
		ChatID:   -100123,
		Page:     0,
	})
	nav := first.Rows[len(first.Rows)-1]
	if len(nav.Buttons) != 2 {
		t.Fatalf("nav row has %d buttons, want 2", len(nav.Buttons))
	}
	_, prev := callbackText(t, nav.Buttons[0])
	_, next := callbackText(t, nav.Buttons[1])
	if prev != "bf|f0|-100123|0" || next != "bf|f0|-100123|0" {
		t.Fatalf("edge pagination: prev=%q next=%q", prev, next)
	}

	middle := browse.FolderKeyboard(browse.FolderView{
		Listing:  &db.Listing{HasMore: true},
		FolderID: "f0",
		ChatID:   -100123,
		Page:     2,
	})
	nav = middle.Rows[len(middle.Rows)-1]
	_, prev = callbackText(t, nav.Buttons[0])
	_, next = callbackText(t, nav.Buttons[1])
	if prev != "bf|f0|-100123|1" || next != "bf|f0|-100123|3" {
		t.Fatalf("middle pagination: prev=%q next=%q", prev, next)
	}
}

func TestFolderKeyboardBackTargets(t *testing.T) {
	t.Parallel()

	root := browse.FolderKeyboard(browse.FolderView{
		Listing:  &db.Listing{},
		FolderID: db.RootFolder,
		ChatID:   -100123,
	})
	_, data := callbackText(t, root.Rows[len(root.Rows)-2].Buttons[0])
	if data != "bh" {
		t.Fatalf("root Back = %q, want channel list", data)
	}

	nested := browse.FolderKeyboard(browse.FolderView{
		Listing:  &db.Listing{},
		FolderID: "f2",
		ParentID: "f1",
		ChatID:   -100123,
	})
	_, data = callbackText(t, nested.Rows[len(nested.Rows)-2].Buttons[0])
	if data != "bf|f1|-100123|0" {
		t.Fatalf("nested Back = %q", data)
	}
}

func TestFolderKeyboardNowPlayingRow(t *testing.T) {
	t.Parallel()

	markup := browse.FolderKeyboard(browse.FolderView{
		Listing:  &db.Listing{},
		FolderID: db.RootFolder,
		ChatID:   -100123,
		Playing:  &vc.Status{ChatID: -100999, Title: "movie"},
	})

	text, data := callbackText(t, markup.Rows[0].Buttons[0])
	if text != "⏹ Stop VC" || data != "bvs|-100999" {
		t.Fatalf("stop button = %q %q", text, data)
	}
	_, data = callbackText(t, markup.Rows[0].Buttons[1])
	if data != "bvo|-100999" {
		t.Fatalf("open player = %q", data)
	}
}

func TestExternalURLs(t *testing.T) {
	t.Parallel()

	file := &db.FileDoc{MsgID: 42, ChatID: -1001234, Hash: "abc123", Name: "Lecture 01.mp4"}

	// Имя файла попадает в путь, поэтому экранируется; хост без хвостового слэша.
	if got := browse.StreamURL("https://surf.example/", file); got != "https://surf.example/1234/Lecture%2001.mp4?id=42&hash=abc123" {
		t.Fatalf("StreamURL() = %q", got)
	}
	if got := browse.WatchURL("https://surf.example", file); got != "https://surf.example/watch/1234?id=42&hash=abc123" {
		t.Fatalf("WatchURL() = %q", got)
	}
}

func TestFileMenuKeyboardBranches(t *testing.T) {
	t.Parallel()

	video := &db.FileDoc{MsgID: 7, ChatID: -1001234, Hash: "cccccc", Name: "clip", MIME: "video/mp4"}
	markup := browse.FileMenuKeyboard(video, "https://surf.example", "f1")

	urlBtn, ok := markup.Rows[0].Buttons[0].(*tg.KeyboardButtonURL)
	if !ok || urlBtn.URL != "https://surf.example/watch/1234?id=7&hash=cccccc" {
		t.Fatalf("watch URL button = %+v", markup.Rows[0].Buttons[0])
	}
	_, data := callbackText(t, markup.Rows[0].Buttons[1])
	if data != "bvc|7|-1001234|cccccc" {
		t.Fatalf("play in vc = %q", data)
	}

	pdf := &db.FileDoc{MsgID: 8, ChatID: -1001234, Hash: "dddddd", Name: "paper", MIME: "application/pdf"}
	markup = browse.FileMenuKeyboard(pdf, "https://surf.example", "f1")
	open, ok := markup.Rows[0].Buttons[0].(*tg.KeyboardButtonURL)
	if !ok || open.URL != "https://surf.example/watch/1234?id=8&hash=dddddd" {
		t.Fatalf("pdf open button = %+v", markup.Rows[0].Buttons[0])
	}
	download, ok := markup.Rows[0].Buttons[1].(*tg.KeyboardButtonURL)
	if !ok || download.URL != "https://surf.example/1234/paper?id=8&hash=dddddd" {
		t.Fatalf("pdf download button = %+v", markup.Rows[0].Buttons[1])
	}

	// Общие ряды: Send to Bot + Jump, затем Back.
	_, data = callbackText(t, markup.Rows[1].Buttons[0])
	if data != "bs|8|-1001234" {
		t.Fatalf("send to bot = %q", data)
	}
	jump, ok := markup.Rows[1].Buttons[1].(*tg.KeyboardButtonURL)
	if !ok || jump.URL != "https://t.me/c/1234/8" {
		t.Fatalf("jump link = %+v", markup.Rows[1].Buttons[1])
	}
}
