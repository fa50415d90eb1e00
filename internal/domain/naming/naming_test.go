package naming_test

import (
	"strings"
	"testing"
	"time"

	"surf-tg/internal/domain/naming"
)

func TestDeriveTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		candidates []string
		want       string
	}{
		{
			name:       "filenameWins",
			candidates: []string{"lesson_01.intro.mp4", "caption text"},
			want:       "lesson 01 intro",
		},
		{
			name:       "captionFirstLineFallback",
			candidates: []string{"", "Great,Movie|2024\nsecond line"},
			want:       "Great Movie 2024",
		},
		{
			name:       "fileIDLastResort",
			candidates: []string{"", "", "BQACAgUAA"},
			want:       "BQACAgUAA",
		},
		{
			name:       "allEmpty",
			candidates: []string{"", "  "},
			want:       "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := naming.DeriveTitle(tc.candidates...); got != tc.want {
				t.Fatalf("DeriveTitle(%v) = %q, want %q", tc.candidates, got, tc.want)
			}
		})
	}
}

func TestHashPrefix(t *testing.T) {
	t.Parallel()

	if got := naming.HashPrefix("AgADBAADq6cxG2YZ"); got != "AgADBA" {
		t.Fatalf("HashPrefix() = %q", got)
	}
	if got := naming.HashPrefix("abc"); got != "abc" {
		t.Fatalf("short id: HashPrefix() = %q", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "stripsUnsafe", in: `mo<vie>:"2024"/part\1|?.mkv`, want: "movie2024part1.mkv"},
		{name: "trimsSpaces", in: "  plain name.mp4  ", want: "plain name.mp4"},
		{name: "emptyGetsTimestamp", in: "", want: "file_20260824_103000"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := naming.SanitizeFilename(tc.in, now); got != tc.want {
				t.Fatalf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300) + ".mp4"
	got := naming.SanitizeFilename(long, time.Now())
	if len(got) != 255 {
		t.Fatalf("len = %d, want 255", len(got))
	}
	if !strings.HasSuffix(got, ".mp4") {
		t.Fatalf("extension lost: %q", got[len(got)-8:])
	}
}

func TestApplyRenameTag(t *testing.T) {
	t.Parallel()

	if got := naming.ApplyRenameTag("movie.mkv", "@chan"); got != "movie @chan.mkv" {
		t.Fatalf("ApplyRenameTag() = %q", got)
	}
	if got := naming.ApplyRenameTag("noext", "@chan"); got != "noext @chan" {
		t.Fatalf("ApplyRenameTag() without extension = %q", got)
	}
	if got := naming.ApplyRenameTag("movie.mkv", "  "); got != "movie.mkv" {
		t.Fatalf("empty tag must be no-op, got %q", got)
	}
}

func TestTransformCaption(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		original     string
		userCaption  string
		replacements map[string]string
		deleteWords  []string
		want         string
	}{
		{
			name:         "replacementsThenDeletes",
			original:     "Join @oldchan for more SPAM",
			replacements: map[string]string{"@oldchan": "@newchan"},
			deleteWords:  []string{"SPAM"},
			want:         "Join @newchan for more",
		},
		{
			name:        "concatWithUserCaption",
			original:    "original text",
			userCaption: "my footer",
			want:        "original text\n\nmy footer",
		},
		{
			name:        "onlyUserCaption",
			original:    "",
			userCaption: "my footer",
			want:        "my footer",
		},
		{
			name:     "bothEmpty",
			original: "",
			want:     "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := naming.TransformCaption(tc.original, tc.userCaption, tc.replacements, tc.deleteWords)
			if got != tc.want {
				t.Fatalf("TransformCaption() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSplitDestination(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		wantChat  string
		wantTopic int
	}{
		{in: "-1001234/55", wantChat: "-1001234", wantTopic: 55},
		{in: "-1001234", wantChat: "-1001234", wantTopic: 0},
		{in: "@channel", wantChat: "@channel", wantTopic: 0},
		{in: "", wantChat: "", wantTopic: 0},
		{in: "-1001234/abc", wantChat: "-1001234", wantTopic: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			chat, topic := naming.SplitDestination(tc.in)
			if chat != tc.wantChat || topic != tc.wantTopic {
				t.Fatalf("SplitDestination(%q) = %q,%d want %q,%d", tc.in, chat, topic, tc.wantChat, tc.wantTopic)
			}
		})
	}
}
