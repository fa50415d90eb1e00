package db

import (
	"encoding/json"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// GetSettings возвращает настройки пользователя с подставленными дефолтами:
// non-nil карта замен и срез delete-words, даже если записи в базе нет.
func (s *Store) GetSettings(userID int64) (Settings, error) {
	settings := defaultSettings()
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSettings).Get(userKey(userID))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &settings); err != nil {
			return errors.Wrap(err, "decode settings")
		}
		normalizeSettings(&settings)
		return nil
	})
	return settings, err
}

// UpdateSettings применяет mutate к текущим настройкам и сохраняет результат.
// Upsert-семантика: отсутствующая запись создаётся из дефолтов.
func (s *Store) UpdateSettings(userID int64, mutate func(*Settings)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSettings)
		settings := defaultSettings()
		if raw := bucket.Get(userKey(userID)); raw != nil {
			if err := json.Unmarshal(raw, &settings); err != nil {
				return errors.Wrap(err, "decode settings")
			}
			normalizeSettings(&settings)
		}
		mutate(&settings)
		raw, err := json.Marshal(settings)
		if err != nil {
			return errors.Wrap(err, "encode settings")
		}
		return bucket.Put(userKey(userID), raw)
	})
}

func defaultSettings() Settings {
	return Settings{
		Replacements: map[string]string{},
		DeleteWords:  []string{},
	}
}

func normalizeSettings(settings *Settings) {
	if settings.Replacements == nil {
		settings.Replacements = map[string]string{}
	}
	if settings.DeleteWords == nil {
		settings.DeleteWords = []string{}
	}
}
