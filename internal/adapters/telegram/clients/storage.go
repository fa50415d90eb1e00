package clients

// Сессии пользовательских клиентов живут в общем хранилище только в виде
// шифртекста. Обёртка реализует tdsession.Storage: gotd сам вызывает
// StoreSession после логина и реавторизаций, так что запись всегда проходит
// через vault.

import (
	"context"
	"sync"

	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/vault"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
)

// VaultSessionStorage — tdsession.Storage одного пользователя поверх
// зашифрованной записи в хранилище.
type VaultSessionStorage struct {
	UserID int64
	Store  *db.Store
	Vault  *vault.Vault

	mux sync.Mutex
}

var _ tdsession.Storage = (*VaultSessionStorage)(nil)

// LoadSession расшифровывает сохранённую сессию пользователя.
func (s *VaultSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	ciphertext, err := s.Store.GetSession(s.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	plain, err := s.Vault.Decrypt(ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt session")
	}
	return []byte(plain), nil
}

// StoreSession шифрует и сохраняет данные сессии.
func (s *VaultSessionStorage) StoreSession(_ context.Context, data []byte) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	ciphertext, err := s.Vault.Encrypt(string(data))
	if err != nil {
		return errors.Wrap(err, "encrypt session")
	}
	if err = s.Store.SaveSession(s.UserID, ciphertext); err != nil {
		return errors.Wrap(err, "save session")
	}
	return nil
}
