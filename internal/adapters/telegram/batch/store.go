package batch

// Файл active_users.json переживает рестарт процесса: по нему видно, у кого
// шёл батч и на каком сообщении он остановился. Выполнение после рестарта не
// возобновляется, пользователь перезапускает команду сам.

import (
	"encoding/json"
	"os"
	"sync"

	"surf-tg/internal/infra/storage"

	"github.com/go-faster/errors"
)

// ActiveBatch — устойчивый снимок выполняющегося батча.
type ActiveBatch struct {
	UserID          int64 `json:"user_id"`
	Total           int   `json:"total"`
	Current         int   `json:"current"`
	Success         int   `json:"success"`
	CancelRequested bool  `json:"cancel_requested"`
	ProgressMsgID   int   `json:"progress_message_id"`
}

// ActiveStore — json-файл со снимками всех активных батчей. Файлом владеет
// один процесс, межпроцессных блокировок нет.
type ActiveStore struct {
	path string

	mu    sync.Mutex
	users map[int64]ActiveBatch
}

// OpenActiveStore читает файл; отсутствие файла — пустой стор.
func OpenActiveStore(path string) (*ActiveStore, error) {
	s := &ActiveStore{path: path, users: make(map[int64]ActiveBatch)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read active batches")
	}
	if len(raw) > 0 {
		if err = json.Unmarshal(raw, &s.users); err != nil {
			return nil, errors.Wrap(err, "decode active batches")
		}
	}
	return s, nil
}

func (s *ActiveStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode active batches")
	}
	return storage.AtomicWriteFile(s.path, raw)
}

// Put записывает снимок батча пользователя.
func (s *ActiveStore) Put(b ActiveBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[b.UserID] = b
	return s.flushLocked()
}

// Get возвращает снимок, если батч пользователя активен.
func (s *ActiveStore) Get(userID int64) (ActiveBatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.users[userID]
	return b, ok
}

// Active — выполняется ли у пользователя батч.
func (s *ActiveStore) Active(userID int64) bool {
	_, ok := s.Get(userID)
	return ok
}

// Update атомарно меняет снимок. Отсутствующая запись — no-op.
func (s *ActiveStore) Update(userID int64, mutate func(*ActiveBatch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.users[userID]
	if !ok {
		return nil
	}
	mutate(&b)
	s.users[userID] = b
	return s.flushLocked()
}

// RequestCancel взводит флаг отмены. false — батча нет.
func (s *ActiveStore) RequestCancel(userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	b.CancelRequested = true
	s.users[userID] = b
	return true, s.flushLocked()
}

// CancelRequested — взведён ли флаг отмены.
func (s *ActiveStore) CancelRequested(userID int64) bool {
	b, ok := s.Get(userID)
	return ok && b.CancelRequested
}

// Remove удаляет запись по завершении или отмене батча.
func (s *ActiveStore) Remove(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil
	}
	delete(s.users, userID)
	return s.flushLocked()
}

// Drain забирает и удаляет все записи разом. Вызывается на старте процесса:
// всё, что лежит в файле к этому моменту, принадлежит прошлому запуску.
func (s *ActiveStore) Drain() ([]ActiveBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.users) == 0 {
		return nil, nil
	}
	out := make([]ActiveBatch, 0, len(s.users))
	for _, b := range s.users {
		out = append(out, b)
	}
	s.users = make(map[int64]ActiveBatch)
	return out, s.flushLocked()
}
