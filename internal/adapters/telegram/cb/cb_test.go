package cb_test

import (
	"strings"
	"testing"

	"surf-tg/internal/adapters/telegram/cb"
)

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	data := cb.Encode("bf", "folder42", "-1001234", "3")
	if string(data) != "bf|folder42|-1001234|3" {
		t.Fatalf("Encode() = %q", data)
	}
	parts := cb.Split(data)
	if len(parts) != 4 || parts[0] != "bf" || parts[3] != "3" {
		t.Fatalf("Split() = %v", parts)
	}
	if cb.Route(data) != "bf" {
		t.Fatalf("Route() = %q", cb.Route(data))
	}
}

func TestEncodeTruncatesTo64Bytes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	data := cb.Encode("bfi", "12345", "-1009876543210", long)
	if len(data) > cb.MaxLen {
		t.Fatalf("len = %d, want <= %d", len(data), cb.MaxLen)
	}
	// Ведущие сегменты переживают усечение.
	if !strings.HasPrefix(string(data), "bfi|12345|-1009876543210|") {
		t.Fatalf("leading segments lost: %q", data)
	}
}
