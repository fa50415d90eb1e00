package vault_test

import (
	"encoding/base64"
	"testing"

	"surf-tg/internal/infra/vault"

	"github.com/go-faster/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := vault.New("master-password", "static-salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cases := []struct {
		name  string
		plain string
	}{
		{name: "empty", plain: ""},
		{name: "sessionString", plain: "1BVtsOKwBu0a...long-session-material...xyz"},
		{name: "unicode", plain: "токен с юникодом 🤖"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			token, encErr := v.Encrypt(tc.plain)
			if encErr != nil {
				t.Fatalf("Encrypt() error = %v", encErr)
			}
			got, decErr := v.Decrypt(token)
			if decErr != nil {
				t.Fatalf("Decrypt() error = %v", decErr)
			}
			if got != tc.plain {
				t.Fatalf("Decrypt() = %q, want %q", got, tc.plain)
			}
		})
	}
}

func TestEncryptNonceUnique(t *testing.T) {
	t.Parallel()

	v, err := vault.New("master", "salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a, _ := v.Encrypt("same input")
	b, _ := v.Encrypt("same input")
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical tokens")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	t.Parallel()

	v, err := vault.New("master", "salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	token, err := v.Encrypt("secret session")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}

	// Флип одного бита в каждой позиции должен ломать аутентификацию.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		if _, decErr := v.Decrypt(base64.StdEncoding.EncodeToString(mutated)); !errors.Is(decErr, vault.ErrInvalidCiphertext) {
			t.Fatalf("bit flip at %d: Decrypt() error = %v, want ErrInvalidCiphertext", i, decErr)
		}
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()

	v, err := vault.New("master", "salt")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{name: "notBase64", token: "%%%not-base64%%%"},
		{name: "tooShort", token: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "empty", token: ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, decErr := v.Decrypt(tc.token); !errors.Is(decErr, vault.ErrInvalidCiphertext) {
				t.Fatalf("Decrypt(%q) error = %v, want ErrInvalidCiphertext", tc.token, decErr)
			}
		})
	}
}

func TestDifferentSaltDifferentKey(t *testing.T) {
	t.Parallel()

	v1, _ := vault.New("master", "salt-one")
	v2, _ := vault.New("master", "salt-two")
	token, err := v1.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, decErr := v2.Decrypt(token); !errors.Is(decErr, vault.ErrInvalidCiphertext) {
		t.Fatalf("Decrypt with foreign salt: error = %v, want ErrInvalidCiphertext", decErr)
	}
}
