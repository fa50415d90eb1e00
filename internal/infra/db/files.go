package db

import (
	"encoding/json"
	"sort"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// AddFileIfNovel вставляет файл в browse-дерево, если пара (chat, hash) ещё не
// встречалась. Повторная вставка — no-op; если у существующей записи нет
// parent_folder, а у новой есть, папка достраивается задним числом (повторная
// индексация канала после появления Topic-подписей).
func (s *Store) AddFileIfNovel(file FileDoc) (string, bool, error) {
	var (
		id    string
		novel bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		hashIdx := tx.Bucket(idxChatHash)
		hashKey := compositeKey(chatKey(file.ChatID), file.Hash)
		if existing := hashIdx.Get(hashKey); existing != nil {
			id = string(existing)
			return attachParentIfMissing(tx, id, file.ParentFolder)
		}

		playlist := tx.Bucket(bucketPlaylist)
		newFileID, err := newID(playlist)
		if err != nil {
			return err
		}
		file.ID = newFileID
		file.Type = TypeFile
		if file.ParentFolder == "" {
			file.ParentFolder = RootFolder
		}
		raw, err := json.Marshal(file)
		if err != nil {
			return errors.Wrap(err, "encode file")
		}
		if err = playlist.Put([]byte(newFileID), raw); err != nil {
			return errors.Wrap(err, "put file")
		}
		if err = hashIdx.Put(hashKey, []byte(newFileID)); err != nil {
			return errors.Wrap(err, "index file hash")
		}
		orderKey := compositeKey(file.ParentFolder, kindFile, msgSortKey(file.MsgID)+"|"+newFileID)
		if err = tx.Bucket(idxParentOrder).Put(orderKey, []byte(newFileID)); err != nil {
			return errors.Wrap(err, "index file order")
		}
		id = newFileID
		novel = true
		return nil
	})
	return id, novel, err
}

// attachParentIfMissing дописывает parent_folder существующему файлу.
func attachParentIfMissing(tx *bolt.Tx, id, parent string) error {
	if parent == "" || parent == RootFolder {
		return nil
	}
	playlist := tx.Bucket(bucketPlaylist)
	raw := playlist.Get([]byte(id))
	if raw == nil {
		return nil
	}
	var file FileDoc
	if err := json.Unmarshal(raw, &file); err != nil {
		return errors.Wrap(err, "decode file")
	}
	if file.ParentFolder != "" && file.ParentFolder != RootFolder {
		return nil
	}
	order := tx.Bucket(idxParentOrder)
	if err := order.Delete(compositeKey(file.ParentFolder, kindFile, msgSortKey(file.MsgID)+"|"+id)); err != nil {
		return err
	}
	file.ParentFolder = parent
	updated, err := json.Marshal(file)
	if err != nil {
		return errors.Wrap(err, "encode file")
	}
	if err = playlist.Put([]byte(id), updated); err != nil {
		return err
	}
	return order.Put(compositeKey(parent, kindFile, msgSortKey(file.MsgID)+"|"+id), []byte(id))
}

// GetFileByHash находит файл browse-дерева по (chat, hash) — так колбэки UI
// восстанавливают документ из 64-байтного payload.
func (s *Store) GetFileByHash(chatID int64, hash string) (*FileDoc, error) {
	var file FileDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(idxChatHash).Get(compositeKey(chatKey(chatID), hash))
		if id == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(bucketPlaylist).Get(id)
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &file)
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// ArchivePut записывает файл в архивную коллекцию. Ключ — chat|hash, повторная
// запись перетирает документ (метаданные те же).
func (s *Store) ArchivePut(doc ArchiveDoc) error {
	doc.AddedAt = s.clock().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(doc)
		if err != nil {
			return errors.Wrap(err, "encode archive doc")
		}
		return tx.Bucket(bucketFiles).Put(compositeKey(chatKey(doc.ChatID), doc.Hash), raw)
	})
}

// ArchivePutBulk — пакетная версия ArchivePut для /index: одна транзакция на
// всю пачку вместо записи на каждый файл.
func (s *Store) ArchivePutBulk(docs []ArchiveDoc) error {
	if len(docs) == 0 {
		return nil
	}
	now := s.clock().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		for _, doc := range docs {
			doc.AddedAt = now
			raw, err := json.Marshal(doc)
			if err != nil {
				return errors.Wrap(err, "encode archive doc")
			}
			if err = files.Put(compositeKey(chatKey(doc.ChatID), doc.Hash), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// ArchiveGet возвращает архивную запись по (chat, hash), если она есть.
func (s *Store) ArchiveGet(chatID int64, hash string) (*ArchiveDoc, error) {
	var doc ArchiveDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketFiles).Get(compositeKey(chatKey(chatID), hash))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ArchiveTopicFiles возвращает файлы канала с установленным topic_folder_id,
// отсортированные по возрастанию message id — порядок важен для firstMsgId.
func (s *Store) ArchiveTopicFiles(chatID int64) ([]ArchiveDoc, error) {
	var out []ArchiveDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, raw []byte) error {
			var doc ArchiveDoc
			if err := json.Unmarshal(raw, &doc); err != nil {
				return errors.Wrap(err, "decode archive doc")
			}
			if doc.ChatID == chatID && doc.TopicFolderID != "" {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	return out, nil
}
