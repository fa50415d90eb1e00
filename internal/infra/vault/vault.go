// Пакет vault — шифрование пользовательских секретов (сессии, бот-токены).
// В хранилище попадает только шифртекст: AES-GCM с ключом, выведенным из
// MASTER_KEY/IV_KEY через PBKDF2. Формат токена — base64(nonce||tag||ct),
// совместимый с прежними выгрузками базы.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Параметры схемы. Менять нельзя: старые токены перестанут расшифровываться.
const (
	keyLen     = 16 // AES-128: исторический размер ключа, сохранён для совместимости
	nonceLen   = 12
	tagLen     = 16
	iterations = 100_000
)

// ErrInvalidCiphertext возвращается при битом base64, усечённом токене или
// несошедшемся теге аутентификации. Детали не раскрываются намеренно.
var ErrInvalidCiphertext = errors.New("vault: invalid ciphertext")

// Vault держит выведенный ключ. Создаётся один раз на старте и передаётся
// всем, кто работает с секретами.
type Vault struct {
	aead cipher.AEAD
}

// New выводит ключ из пароля и соли (PBKDF2-HMAC-SHA256, 100k итераций)
// и подготавливает AEAD. Пустые пароль или соль — ошибка конфигурации.
func New(masterKey, ivKey string) (*Vault, error) {
	if masterKey == "" || ivKey == "" {
		return nil, errors.New("vault: master key and salt must be set")
	}
	key := pbkdf2.Key([]byte(masterKey), []byte(ivKey), iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}
	return &Vault{aead: aead}, nil
}

// Encrypt шифрует plain и возвращает base64(nonce||tag||ct).
// Nonce — 12 случайных байт на каждое шифрование.
func (v *Vault) Encrypt(plain string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "nonce")
	}
	// Seal возвращает ct||tag; формат токена требует tag перед ct.
	sealed := v.aead.Seal(nil, nonce, []byte(plain), nil)
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, nonceLen+tagLen+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt разбирает токен и возвращает исходную строку.
// Любая порча (усечение, бит-флип, чужой ключ) даёт ErrInvalidCiphertext.
func (v *Vault) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < nonceLen+tagLen {
		return "", ErrInvalidCiphertext
	}
	nonce := raw[:nonceLen]
	tag := raw[nonceLen : nonceLen+tagLen]
	ct := raw[nonceLen+tagLen:]

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}
