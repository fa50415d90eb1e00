package ytdl_test

import (
	"os"
	"path/filepath"
	"testing"

	"surf-tg/internal/adapters/telegram/ytdl"

	"github.com/go-faster/errors"
)

func TestCookiesFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		url  string
		want string
	}{
		{name: "youtube", url: "https://www.youtube.com/watch?v=abc", want: "yt.txt"},
		{name: "youtuShort", url: "https://youtu.be/abc", want: "yt.txt"},
		{name: "instagram", url: "https://www.instagram.com/reel/xyz/", want: "insta.txt"},
		{name: "otherHost", url: "https://vimeo.com/123", want: ""},
		{name: "garbage", url: "://not a url", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ytdl.CookiesFor(tc.url, "yt.txt", "insta.txt"); got != tc.want {
				t.Fatalf("CookiesFor(%q) = %q, want %q", tc.url, got, tc.want)
			}
		})
	}
}

func TestPickDownloaded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name string, size int) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("video.f137.part", 100)
	write("video.mp4", 5000)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := ytdl.PickDownloaded(dir)
	if err != nil {
		t.Fatalf("PickDownloaded() error = %v", err)
	}
	if filepath.Base(got) != "video.mp4" {
		t.Fatalf("PickDownloaded() = %q, want video.mp4", got)
	}
}

func TestPickDownloadedEmpty(t *testing.T) {
	t.Parallel()

	_, err := ytdl.PickDownloaded(t.TempDir())
	if !errors.Is(err, ytdl.ErrNothingDownloaded) {
		t.Fatalf("error = %v, want ErrNothingDownloaded", err)
	}
}

func TestFlightSingle(t *testing.T) {
	t.Parallel()

	flight := ytdl.NewFlight()
	if !flight.TryAcquire(1) {
		t.Fatal("first acquire must succeed")
	}
	if flight.TryAcquire(1) {
		t.Fatal("second acquire for the same user must fail")
	}
	if !flight.TryAcquire(2) {
		t.Fatal("other user must not be blocked")
	}
	if !flight.Busy(1) {
		t.Fatal("user 1 must be busy")
	}

	flight.Release(1)
	if flight.Busy(1) {
		t.Fatal("user 1 must be free after release")
	}
	if !flight.TryAcquire(1) {
		t.Fatal("acquire after release must succeed")
	}
}
