package links_test

import (
	"testing"

	"surf-tg/internal/domain/links"

	"github.com/go-faster/errors"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want links.Link
	}{
		{
			name: "privateSimple",
			raw:  "https://t.me/c/1234567890/42",
			want: links.Link{Kind: links.Private, ChatRef: "-1001234567890", MsgID: 42},
		},
		{
			name: "privateWithTopic",
			raw:  "https://t.me/c/1234567890/55/42",
			want: links.Link{Kind: links.Private, ChatRef: "-1001234567890", MsgID: 42},
		},
		{
			name: "publicSimple",
			raw:  "https://t.me/some_channel/100",
			want: links.Link{Kind: links.Public, ChatRef: "some_channel", MsgID: 100},
		},
		{
			name: "publicWithTopic",
			raw:  "https://t.me/some_channel/7/100",
			want: links.Link{Kind: links.Public, ChatRef: "some_channel", MsgID: 100},
		},
		{
			name: "httpScheme",
			raw:  "http://t.me/c/555/9",
			want: links.Link{Kind: links.Private, ChatRef: "-100555", MsgID: 9},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := links.Parse(tc.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tc.raw, err)
			}
			if *got != tc.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tc.raw, *got, tc.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"not a link",
		"https://t.me/c/abc/42",
		"https://t.me/some_channel",
		"https://example.com/c/123/42",
		"https://t.me/c/123/0",
	}
	for _, raw := range cases {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			if _, err := links.Parse(raw); !errors.Is(err, links.ErrInvalidLink) {
				t.Fatalf("Parse(%q) error = %v, want ErrInvalidLink", raw, err)
			}
		})
	}
}

func TestChatID(t *testing.T) {
	t.Parallel()

	link, err := links.Parse("https://t.me/c/987/1")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	id, ok := link.ChatID()
	if !ok || id != -100987 {
		t.Fatalf("ChatID() = %d, %v", id, ok)
	}

	pub, _ := links.Parse("https://t.me/channel_one/1")
	if _, ok = pub.ChatID(); ok {
		t.Fatal("public link must not expose numeric chat id")
	}
}
