// Package session — файловое хранилище MTProto-сессии главного бот-клиента.
// Запись атомарна: на диске не бывает частично записанной сессии. Опционально
// хранилище сажается из SESSION_STRING, когда файла ещё нет (перенос готовой
// сессии на новый хост без повторного логина).
package session

import (
	"context"
	"os"
	"sync"

	"surf-tg/internal/infra/storage"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// FileStorage реализует tdsession.Storage поверх обычного файла.
// Потокобезопасен: Load/Store защищены мьютексом.
type FileStorage struct {
	Path string
	mux  sync.Mutex
}

var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	return errors.Wrap(storage.AtomicWriteFile(f.Path, data), "atomic write session")
}

// Seed переносит готовую строковую сессию (формат Telethon/StringSession) в
// хранилище, если своей сессии там ещё нет. Пустая строка и уже существующая
// сессия — no-op.
func Seed(ctx context.Context, st tdsession.Storage, sessionString string) error {
	if sessionString == "" {
		return nil
	}
	if _, err := st.LoadSession(ctx); err == nil {
		return nil
	} else if !errors.Is(err, tdsession.ErrNotFound) {
		return errors.Wrap(err, "probe session storage")
	}

	data, err := tdsession.TelethonSession(sessionString)
	if err != nil {
		return errors.Wrap(err, "decode SESSION_STRING")
	}
	loader := tdsession.Loader{Storage: st}
	return errors.Wrap(loader.Save(ctx, data), "seed session")
}
