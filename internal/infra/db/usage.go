package db

import (
	"strconv"
	"time"

	"surf-tg/internal/infra/timeutil"

	bolt "go.etcd.io/bbolt"
)

// IncrementUsage атомарно увеличивает суточный счётчик пользователя и
// возвращает новое значение. Атомарность даёт единственный писатель bbolt:
// два конкурентных инкремента всегда дают +2. Записи не удаляются — ретеншн
// статистики вне зоны ответственности хранилища.
func (s *Store) IncrementUsage(userID int64) (int, error) {
	return s.incrementUsageAt(userID, s.clock())
}

func (s *Store) incrementUsageAt(userID int64, now time.Time) (int, error) {
	var count int
	key := []byte(timeutil.UsageKey(userID, now))
	err := s.db.Update(func(tx *bolt.Tx) error {
		usage := tx.Bucket(bucketUsage)
		count = decodeCount(usage.Get(key)) + 1
		return usage.Put(key, []byte(strconv.Itoa(count)))
	})
	return count, err
}

// UsageToday возвращает текущее значение суточного счётчика (0, если записи нет).
func (s *Store) UsageToday(userID int64) (int, error) {
	var count int
	key := []byte(timeutil.UsageKey(userID, s.clock()))
	err := s.db.View(func(tx *bolt.Tx) error {
		count = decodeCount(tx.Bucket(bucketUsage).Get(key))
		return nil
	})
	return count, err
}

func decodeCount(raw []byte) int {
	if raw == nil {
		return 0
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return v
}
