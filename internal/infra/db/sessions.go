package db

import (
	"encoding/json"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// В коллекции sessions лежат только шифртексты (см. infra/vault): хранилище
// не знает ключа и не способно восстановить открытый текст.

// SaveSession сохраняет зашифрованную строку сессии пользователя.
func (s *Store) SaveSession(userID int64, ciphertext string) error {
	return s.updateSecret(userID, func(secret *Secret) { secret.Session = ciphertext })
}

// GetSession возвращает шифртекст сессии либо ErrNotFound.
func (s *Store) GetSession(userID int64) (string, error) {
	secret, err := s.getSecret(userID)
	if err != nil {
		return "", err
	}
	if secret.Session == "" {
		return "", ErrNotFound
	}
	return secret.Session, nil
}

// DeleteSession стирает строку сессии (логаут).
func (s *Store) DeleteSession(userID int64) error {
	return s.updateSecret(userID, func(secret *Secret) { secret.Session = "" })
}

// SaveBotToken сохраняет зашифрованный токен пользовательского бота.
func (s *Store) SaveBotToken(userID int64, ciphertext string) error {
	return s.updateSecret(userID, func(secret *Secret) { secret.BotToken = ciphertext })
}

// GetBotToken возвращает шифртекст бот-токена либо ErrNotFound.
func (s *Store) GetBotToken(userID int64) (string, error) {
	secret, err := s.getSecret(userID)
	if err != nil {
		return "", err
	}
	if secret.BotToken == "" {
		return "", ErrNotFound
	}
	return secret.BotToken, nil
}

// DeleteBotToken стирает токен пользовательского бота.
func (s *Store) DeleteBotToken(userID int64) error {
	return s.updateSecret(userID, func(secret *Secret) { secret.BotToken = "" })
}

func (s *Store) getSecret(userID int64) (Secret, error) {
	var secret Secret
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get(userKey(userID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &secret)
	})
	return secret, err
}

func (s *Store) updateSecret(userID int64, mutate func(*Secret)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		var secret Secret
		if raw := bucket.Get(userKey(userID)); raw != nil {
			if err := json.Unmarshal(raw, &secret); err != nil {
				return errors.Wrap(err, "decode secret")
			}
		}
		mutate(&secret)
		secret.UpdatedAt = s.clock().UTC()
		if secret.Session == "" && secret.BotToken == "" {
			return bucket.Delete(userKey(userID))
		}
		raw, err := json.Marshal(secret)
		if err != nil {
			return errors.Wrap(err, "encode secret")
		}
		return bucket.Put(userKey(userID), raw)
	})
}
