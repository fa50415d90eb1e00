package db

import (
	"encoding/json"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// UpsertUser создаёт либо обновляет учётку: имя и last_seen — при каждом
// взаимодействии, joined_at — только при первом.
func (s *Store) UpsertUser(id int64, name string) error {
	now := s.clock().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		key := userKey(id)

		user := User{ID: id, Name: name, JoinedAt: now, LastSeen: now}
		if raw := users.Get(key); raw != nil {
			var existing User
			if err := json.Unmarshal(raw, &existing); err == nil {
				user.JoinedAt = existing.JoinedAt
			}
		}
		raw, err := json.Marshal(user)
		if err != nil {
			return errors.Wrap(err, "encode user")
		}
		return users.Put(key, raw)
	})
}

// CountUsers возвращает размер коллекции users.
func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketUsers).Stats().KeyN
		return nil
	})
	return n, err
}

// ListUserIDs возвращает идентификаторы всех пользователей (для /broadcast).
func (s *Store) ListUserIDs() ([]int64, error) {
	var out []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, raw []byte) error {
			var user User
			if err := json.Unmarshal(raw, &user); err != nil {
				return nil
			}
			out = append(out, user.ID)
			return nil
		})
	})
	return out, err
}
