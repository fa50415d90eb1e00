package db

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// GetOrCreateFolder возвращает id папки (parent, name), создавая её при
// отсутствии с пометкой auto_created. Горячий путь индексатора: поиск идёт по
// индексу parent|type|name, вся операция — одна write-транзакция, поэтому
// конкурирующие вызовы не создадут дубликат.
func (s *Store) GetOrCreateFolder(parent, name string, sourceChannel int64) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("folder name must not be empty")
	}
	if parent == "" {
		parent = RootFolder
	}

	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		nameIdx := tx.Bucket(idxParentName)
		key := compositeKey(parent, TypeFolder, name)
		if existing := nameIdx.Get(key); existing != nil {
			id = string(existing)
			return nil
		}

		playlist := tx.Bucket(bucketPlaylist)
		newFolderID, err := newID(playlist)
		if err != nil {
			return err
		}
		folder := Folder{
			ID:            newFolderID,
			Type:          TypeFolder,
			Name:          name,
			Parent:        parent,
			SourceChannel: sourceChannel,
			AutoCreated:   true,
			CreatedAt:     s.clock().UTC(),
		}
		raw, err := json.Marshal(folder)
		if err != nil {
			return errors.Wrap(err, "encode folder")
		}
		if err = playlist.Put([]byte(newFolderID), raw); err != nil {
			return errors.Wrap(err, "put folder")
		}
		if err = nameIdx.Put(key, []byte(newFolderID)); err != nil {
			return errors.Wrap(err, "index folder name")
		}
		orderKey := compositeKey(parent, kindFolder, newFolderID)
		if err = tx.Bucket(idxParentOrder).Put(orderKey, []byte(newFolderID)); err != nil {
			return errors.Wrap(err, "index folder order")
		}
		id = newFolderID
		return nil
	})
	return id, err
}

// GetFolder загружает папку по id. Для RootFolder возвращает синтетический узел.
func (s *Store) GetFolder(id string) (*Folder, error) {
	if id == RootFolder {
		return &Folder{ID: RootFolder, Type: TypeFolder, Name: "Home", Parent: ""}, nil
	}
	var folder Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPlaylist).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &folder); err != nil {
			return errors.Wrap(err, "decode folder")
		}
		if folder.Type != TypeFolder {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// DeleteFolderCascade удаляет папку вместе со всеми потомками и файлами,
// у которых parent_folder совпадает. Единственный путь удаления папок.
func (s *Store) DeleteFolderCascade(id string) error {
	if id == RootFolder {
		return errors.New("refusing to delete root")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteSubtree(tx, id)
	})
}

// deleteSubtree — рекурсивное удаление узла внутри одной транзакции.
func deleteSubtree(tx *bolt.Tx, id string) error {
	order := tx.Bucket(idxParentOrder)

	// Сначала дочерние папки.
	childIDs := collectIndexValues(order, compositeKey(id, kindFolder, ""))
	for _, child := range childIDs {
		if err := deleteSubtree(tx, child); err != nil {
			return err
		}
	}
	// Затем файлы этого узла.
	fileIDs := collectIndexValues(order, compositeKey(id, kindFile, ""))
	for _, fileID := range fileIDs {
		if err := deletePlaylistFile(tx, fileID); err != nil {
			return err
		}
	}
	return deletePlaylistFolder(tx, id)
}

// collectIndexValues собирает значения индекса по префиксу. Отдельный срез,
// потому что удалять под курсором bbolt нельзя.
func collectIndexValues(b *bolt.Bucket, prefix []byte) []string {
	var out []string
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		out = append(out, string(v))
	}
	return out
}

func deletePlaylistFolder(tx *bolt.Tx, id string) error {
	playlist := tx.Bucket(bucketPlaylist)
	raw := playlist.Get([]byte(id))
	if raw == nil {
		return nil
	}
	var folder Folder
	if err := json.Unmarshal(raw, &folder); err != nil {
		return errors.Wrap(err, "decode folder")
	}
	if err := tx.Bucket(idxParentName).Delete(compositeKey(folder.Parent, TypeFolder, folder.Name)); err != nil {
		return err
	}
	if err := tx.Bucket(idxParentOrder).Delete(compositeKey(folder.Parent, kindFolder, id)); err != nil {
		return err
	}
	return playlist.Delete([]byte(id))
}

func deletePlaylistFile(tx *bolt.Tx, id string) error {
	playlist := tx.Bucket(bucketPlaylist)
	raw := playlist.Get([]byte(id))
	if raw == nil {
		return nil
	}
	var file FileDoc
	if err := json.Unmarshal(raw, &file); err != nil {
		return errors.Wrap(err, "decode file")
	}
	if err := tx.Bucket(idxChatHash).Delete(compositeKey(chatKey(file.ChatID), file.Hash)); err != nil {
		return err
	}
	if err := tx.Bucket(idxParentOrder).Delete(compositeKey(file.ParentFolder, kindFile, msgSortKey(file.MsgID)+"|"+id)); err != nil {
		return err
	}
	return playlist.Delete([]byte(id))
}

// ListItems возвращает страницу содержимого родителя: папки (в порядке _id)
// раньше файлов (в порядке возрастания message id). Счётчики агрегируются по
// всему родителю. sourceChannel != 0 дополнительно фильтрует папки по каналу —
// так корневой уровень канала показывает только его дерево.
func (s *Store) ListItems(parent string, sourceChannel int64, page, perPage int) (*Listing, error) {
	if parent == "" {
		parent = RootFolder
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 8
	}

	listing := &Listing{}
	err := s.db.View(func(tx *bolt.Tx) error {
		playlist := tx.Bucket(bucketPlaylist)
		order := tx.Bucket(idxParentOrder)

		var folders []Folder
		for _, id := range collectIndexValues(order, compositeKey(parent, kindFolder, "")) {
			raw := playlist.Get([]byte(id))
			if raw == nil {
				continue
			}
			var folder Folder
			if err := json.Unmarshal(raw, &folder); err != nil {
				return errors.Wrap(err, "decode folder")
			}
			if sourceChannel != 0 && folder.SourceChannel != 0 && folder.SourceChannel != sourceChannel {
				continue
			}
			folders = append(folders, folder)
		}

		var files []FileDoc
		for _, id := range collectIndexValues(order, compositeKey(parent, kindFile, "")) {
			raw := playlist.Get([]byte(id))
			if raw == nil {
				continue
			}
			var file FileDoc
			if err := json.Unmarshal(raw, &file); err != nil {
				return errors.Wrap(err, "decode file")
			}
			files = append(files, file)
		}

		listing.FolderCount = len(folders)
		listing.FileCount = len(files)
		for _, f := range files {
			switch MediaClass(f.MIME) {
			case MediaVideo:
				listing.VideoCount++
			case MediaPDF:
				listing.PDFCount++
			}
		}

		// Пагинация по объединённой последовательности: папки, затем файлы.
		total := len(folders) + len(files)
		offset := (page - 1) * perPage
		end := offset + perPage
		if end > total {
			end = total
		}
		for i := offset; i < end; i++ {
			if i < len(folders) {
				listing.Folders = append(listing.Folders, folders[i])
			} else {
				listing.Files = append(listing.Files, files[i-len(folders)])
			}
		}
		listing.HasMore = end < total
		return nil
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

// TopicFolders возвращает все auto_created-папки канала — сырьё для сборки
// тематического индекса.
func (s *Store) TopicFolders(chatID int64) ([]Folder, error) {
	var out []Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlaylist).ForEach(func(_, raw []byte) error {
			var folder Folder
			if err := json.Unmarshal(raw, &folder); err != nil {
				return nil // файлы и папки лежат вперемешку, чужие типы пропускаем
			}
			if folder.Type == TypeFolder && folder.AutoCreated && folder.SourceChannel == chatID {
				out = append(out, folder)
			}
			return nil
		})
	})
	return out, err
}

// MediaKind грубо классифицирует MIME для иконок и счётчиков.
type MediaKind int

const (
	MediaOther MediaKind = iota
	MediaVideo
	MediaPDF
)

// MediaClass определяет класс медиа по MIME-типу.
func MediaClass(mime string) MediaKind {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	case mime == "application/pdf":
		return MediaPDF
	default:
		return MediaOther
	}
}
