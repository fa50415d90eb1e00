// Пакет db — встроенное документное хранилище бота поверх bbolt.
// Коллекции (playlist, files, users, premium, usage, settings, sessions,
// plans, config) лежат в одноимённых bucket'ах; вторичные индексы — в
// отдельных bucket'ах с составными ключами. Идентификаторы документов
// монотонны (%016x от sequence), поэтому лексикографический порядок ключей
// совпадает с порядком вставки — на этом держится стабильная пагинация.
package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/storage"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// RootFolder — сентинел родителя папок верхнего уровня.
const RootFolder = "root"

// Имена bucket'ов. Менять нельзя: это формат файла базы.
var (
	bucketPlaylist = []byte("playlist")
	bucketFiles    = []byte("files")
	bucketUsers    = []byte("users")
	bucketPremium  = []byte("premium_users")
	bucketUsage    = []byte("daily_usage")
	bucketSettings = []byte("user_settings")
	bucketSessions = []byte("user_sessions")
	bucketPlans    = []byte("plans")
	bucketConfig   = []byte("config")
	// Вторичные индексы playlist.
	idxParentName  = []byte("idx_parent_name")  // parent|type|name → id (get-or-create папок)
	idxParentOrder = []byte("idx_parent_order") // parent|kind|sort → id (порядок выдачи)
	idxChatHash    = []byte("idx_chat_hash")    // chat|hash → id (новизна файлов)
)

// ErrNotFound возвращается чтениями, не нашедшими документ. Конфликтов
// уникальности у хранилища нет: единственный писатель bbolt разрешает
// get-or-create и проверку новизны внутри одной транзакции.
var ErrNotFound = errors.New("db: not found")

// Store — дескриптор открытой базы. Все методы безопасны для конкурентного
// использования: bbolt сериализует писателей, читатели работают на снапшотах.
type Store struct {
	db    *bolt.DB
	clock func() time.Time
}

// Open открывает (или создаёт) файл базы и гарантирует все bucket'ы.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}
	b, err := bolt.Open(path, storage.DefaultFilePerm, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	s := &Store{db: b, clock: time.Now}
	if err = s.ensureBuckets(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return s, nil
}

// SetClock подменяет источник времени (в тестах).
func (s *Store) SetClock(clock func() time.Time) { s.clock = clock }

// Close закрывает файл базы.
func (s *Store) Close() error { return s.db.Close() }

// SizeBytes возвращает текущий размер файла базы (для /botstats).
func (s *Store) SizeBytes() int64 {
	var size int64
	_ = s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// ensureBuckets создаёт все коллекции и индексы. Идемпотентно, вызывается на старте.
func (s *Store) ensureBuckets() error {
	buckets := [][]byte{
		bucketPlaylist, bucketFiles, bucketUsers, bucketPremium, bucketUsage,
		bucketSettings, bucketSessions, bucketPlans, bucketConfig,
		idxParentName, idxParentOrder, idxChatHash,
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
}

// StartSweeper запускает фоновую чистку истёкших premium-грантов. Это замена
// TTL-индекса документной базы: ленивое удаление на чтении дополняется
// периодическим проходом, чтобы /users не показывал мёртвые записи.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.SweepExpiredPremium(s.clock())
				if err != nil {
					logger.Errorf("premium sweep failed: %v", err)
					continue
				}
				if removed > 0 {
					logger.Infof("premium sweep removed %d expired grants", removed)
				}
			}
		}
	}()
}

// newID выдаёт монотонный идентификатор документа внутри транзакции.
func newID(b *bolt.Bucket) (string, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return "", errors.Wrap(err, "next sequence")
	}
	return fmt.Sprintf("%016x", seq), nil
}

// compositeKey собирает составной ключ индекса из частей через '|'.
func compositeKey(parts ...string) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	out := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			out = append(out, '|')
		}
		out = append(out, p...)
	}
	return out
}

// chatKey нормализует идентификатор чата для составных ключей.
func chatKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// msgSortKey даёт лексикографически сортируемое представление message id.
func msgSortKey(msgID int) string { return fmt.Sprintf("%012d", msgID) }

// userKey нормализует идентификатор пользователя для ключей.
func userKey(userID int64) []byte { return []byte(strconv.FormatInt(userID, 10)) }
