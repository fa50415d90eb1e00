package handlers_test

import (
	"testing"

	"surf-tg/internal/adapters/telegram/handlers"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		text     string
		wantCmd  string
		wantArgs string
		wantOK   bool
	}{
		{name: "plain", text: "/start", wantCmd: "start", wantOK: true},
		{name: "args", text: "/add 123 1 days", wantCmd: "add", wantArgs: "123 1 days", wantOK: true},
		{name: "mention", text: "/batch@surf_bot", wantCmd: "batch", wantOK: true},
		{name: "mentionArgs", text: "/ytdl@surf_bot https://youtu.be/x", wantCmd: "ytdl", wantArgs: "https://youtu.be/x", wantOK: true},
		{name: "upperCase", text: "/CANCEL", wantCmd: "cancel", wantOK: true},
		{name: "padded", text: "  /logs 20  ", wantCmd: "logs", wantArgs: "20", wantOK: true},
		{name: "notCommand", text: "hello"},
		{name: "bareSlash", text: "/"},
		{name: "empty", text: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cmd, args, ok := handlers.ParseCommand(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("ParseCommand(%q) ok = %v, want %v", tc.text, ok, tc.wantOK)
			}
			if cmd != tc.wantCmd || args != tc.wantArgs {
				t.Fatalf("ParseCommand(%q) = %q, %q; want %q, %q", tc.text, cmd, args, tc.wantCmd, tc.wantArgs)
			}
		})
	}
}

func TestBotChatID(t *testing.T) {
	t.Parallel()

	if got := handlers.BotChatID(1234567890); got != -1001234567890 {
		t.Fatalf("BotChatID(1234567890) = %d", got)
	}
	if got := handlers.BotChatID(123); got != -100123 {
		t.Fatalf("BotChatID(123) = %d", got)
	}
}

func TestInternalChannelID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   int64
		want int64
	}{
		{in: -1001234567890, want: 1234567890},
		{in: -100123, want: 123},
		{in: 456, want: 456},
	}
	for _, tc := range cases {
		if got := handlers.InternalChannelID(tc.in); got != tc.want {
			t.Fatalf("InternalChannelID(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseStartPayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		payload  string
		wantChat int64
		wantMsg  int
		wantOK   bool
	}{
		{name: "full", payload: "file_-1001234_55", wantChat: -1001234, wantMsg: 55, wantOK: true},
		{name: "bare", payload: "file_1234_55", wantChat: -1001234, wantMsg: 55, wantOK: true},
		{name: "notFile", payload: "ref_12_3"},
		{name: "badMsg", payload: "file_1234_zero"},
		{name: "empty", payload: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			chat, msg, ok := handlers.ParseStartPayload(tc.payload)
			if ok != tc.wantOK {
				t.Fatalf("ParseStartPayload(%q) ok = %v, want %v", tc.payload, ok, tc.wantOK)
			}
			if chat != tc.wantChat || msg != tc.wantMsg {
				t.Fatalf("ParseStartPayload(%q) = %d, %d; want %d, %d", tc.payload, chat, msg, tc.wantChat, tc.wantMsg)
			}
		})
	}
}

func TestParseReplacements(t *testing.T) {
	t.Parallel()

	got := handlers.ParseReplacements("old | new\n junk line \nDel |\n| orphan")
	if len(got) != 2 {
		t.Fatalf("replacements = %v", got)
	}
	if got["old"] != "new" {
		t.Fatalf("old → %q", got["old"])
	}
	// Пустая замена допустима: это удаление фрагмента.
	if v, ok := got["Del"]; !ok || v != "" {
		t.Fatalf("Del → %q, %v", v, ok)
	}

	if handlers.ParseReplacements("no separators here") != nil {
		t.Fatal("text without pipes must yield nil")
	}
}

func TestTailLines(t *testing.T) {
	t.Parallel()

	text := "a\nb\nc\nd\n"
	if got := handlers.TailLines(text, 2); got != "c\nd" {
		t.Fatalf("TailLines(2) = %q", got)
	}
	if got := handlers.TailLines(text, 10); got != "a\nb\nc\nd" {
		t.Fatalf("TailLines(10) = %q", got)
	}
}
