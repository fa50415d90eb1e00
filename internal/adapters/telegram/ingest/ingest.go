// Пакет ingest — наполнение каталога из авторизованных каналов. Три входа:
// пуш-обработчик нового поста, массовый скан /index и живой /createindex,
// который строит дерево в памяти, не трогая хранилище.
package ingest

import (
	"context"
	"sort"
	"strconv"
	"time"

	"surf-tg/internal/domain/naming"
	"surf-tg/internal/domain/topics"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

const (
	historyPageLimit = 100
	progressEvery    = 500
)

// Service пишет файловые записи и собирает тематические индексы.
type Service struct {
	store        *db.Store
	authFallback []int64
}

// New создаёт сервис. authFallback — список каналов из окружения, действующий,
// пока владелец не переопределил его в конфиг-коллекции.
func New(store *db.Store, authFallback []int64) *Service {
	return &Service{store: store, authFallback: authFallback}
}

// Channels возвращает действующий список каналов-источников: переопределение
// из конфиг-коллекции либо список из окружения.
func (s *Service) Channels() []int64 {
	if channels, ok := s.store.AuthChannelsOverride(); ok {
		return channels
	}
	return s.authFallback
}

// Authorized — входит ли канал в действующий список источников.
func (s *Service) Authorized(chatID int64) bool {
	channels, ok := s.store.AuthChannelsOverride()
	if !ok {
		channels = s.authFallback
	}
	for _, id := range channels {
		if id == chatID {
			return true
		}
	}
	return false
}

// MediaInfo — извлечённые атрибуты документа сообщения.
type MediaInfo struct {
	Name     string
	MIME     string
	Size     int64
	UniqueID string
}

// ExtractMedia достаёт документ или видео из сообщения. false — медиа нет
// либо оно не индексируемого типа (фото, опросы и прочее пропускаются).
func ExtractMedia(msg *tg.Message) (MediaInfo, bool) {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return MediaInfo{}, false
	}
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return MediaInfo{}, false
	}

	info := MediaInfo{
		MIME:     doc.MimeType,
		Size:     doc.Size,
		UniqueID: strconv.FormatUint(uint64(doc.ID), 36),
	}
	for _, attr := range doc.Attributes {
		if fn, isName := attr.(*tg.DocumentAttributeFilename); isName {
			info.Name = fn.FileName
		}
	}
	return info, true
}

// IngestMessage применяет к одному сообщению полный конвейер пуш-входа:
// заголовок, хеш, путь из подписи, папки, запись файла. Возвращает признак
// новизны записи.
func (s *Service) IngestMessage(chatID int64, msgID int, caption string, media MediaInfo) (bool, error) {
	doc, err := s.buildDocs(chatID, msgID, caption, media)
	if err != nil {
		return false, err
	}

	_, novel, err := s.store.AddFileIfNovel(doc.file)
	if err != nil {
		return false, errors.Wrap(err, "add file")
	}
	if err = s.store.ArchivePut(doc.archive); err != nil {
		return false, errors.Wrap(err, "archive file")
	}
	return novel, nil
}

type ingestDocs struct {
	file    db.FileDoc
	archive db.ArchiveDoc
}

func (s *Service) buildDocs(chatID int64, msgID int, caption string, media MediaInfo) (ingestDocs, error) {
	title := naming.DeriveTitle(media.Name, caption, media.UniqueID)
	hash := naming.HashPrefix(media.UniqueID)

	folderID := ""
	if path := topics.ParsePath(caption); path != nil {
		id, err := s.FolderPath(path, chatID)
		if err != nil {
			return ingestDocs{}, err
		}
		folderID = id
	}

	return ingestDocs{
		file: db.FileDoc{
			Type:         db.TypeFile,
			ChatID:       chatID,
			MsgID:        msgID,
			Hash:         hash,
			Name:         title,
			Size:         media.Size,
			MIME:         media.MIME,
			ParentFolder: folderID,
		},
		archive: db.ArchiveDoc{
			ChatID:        chatID,
			MsgID:         msgID,
			Hash:          hash,
			Name:          title,
			Size:          media.Size,
			MIME:          media.MIME,
			TopicFolderID: folderID,
			AddedAt:       time.Now().UTC(),
		},
	}, nil
}

// FolderPath проходит список имён от корня, создавая недостающие папки,
// и возвращает id листа.
func (s *Service) FolderPath(path []string, sourceChannel int64) (string, error) {
	parent := db.RootFolder
	for _, name := range path {
		id, err := s.store.GetOrCreateFolder(parent, name, sourceChannel)
		if err != nil {
			return "", errors.Wrapf(err, "folder %q", name)
		}
		parent = id
	}
	return parent, nil
}

// BulkIndex сканирует историю канала от первого сообщения до upToMsgID и
// прогоняет каждую запись через пуш-логику. Архивные записи копятся и
// вставляются одним булком. Возвращает (обработано, новых).
func (s *Service) BulkIndex(
	ctx context.Context,
	api *tg.Client,
	channel *tg.InputChannel,
	chatID int64,
	upToMsgID int,
	progress func(scanned int),
) (int, int, error) {
	messages, err := collectHistory(ctx, api, channel, upToMsgID, progress)
	if err != nil {
		return 0, 0, err
	}

	var (
		processed int
		novel     int
		bulk      []db.ArchiveDoc
	)
	for _, msg := range messages {
		media, ok := ExtractMedia(msg)
		if !ok {
			continue
		}
		docs, buildErr := s.buildDocs(chatID, msg.ID, msg.Message, media)
		if buildErr != nil {
			logger.Logger().Warn("index message", zap.Int("msg", msg.ID), zap.Error(buildErr))
			continue
		}
		_, isNovel, addErr := s.store.AddFileIfNovel(docs.file)
		if addErr != nil {
			logger.Logger().Warn("index message", zap.Int("msg", msg.ID), zap.Error(addErr))
			continue
		}
		if isNovel {
			novel++
		}
		bulk = append(bulk, docs.archive)
		processed++
	}

	if err = s.store.ArchivePutBulk(bulk); err != nil {
		return processed, novel, errors.Wrap(err, "bulk archive")
	}
	return processed, novel, nil
}

// StoredIndex собирает тематический лес канала из хранилища.
func (s *Service) StoredIndex(chatID int64) (*topics.Index, error) {
	folders, err := s.store.TopicFolders(chatID)
	if err != nil {
		return nil, errors.Wrap(err, "topic folders")
	}
	files, err := s.store.ArchiveTopicFiles(chatID)
	if err != nil {
		return nil, errors.Wrap(err, "topic files")
	}

	infos := make([]topics.FolderInfo, 0, len(folders))
	for _, f := range folders {
		parent := f.Parent
		if parent == db.RootFolder {
			parent = topics.RootParent
		}
		infos = append(infos, topics.FolderInfo{ID: f.ID, Name: f.Name, Parent: parent})
	}
	fileInfos := make([]topics.FileInfo, 0, len(files))
	for _, f := range files {
		fileInfos = append(fileInfos, topics.FileInfo{MsgID: f.MsgID, FolderID: f.TopicFolderID})
	}
	return topics.Build(infos, fileInfos), nil
}

// LiveIndex строит лес прямо из скана истории, без обращения к каталогу.
// Идентификатором папки служит её полный путь.
func (s *Service) LiveIndex(
	ctx context.Context,
	api *tg.Client,
	channel *tg.InputChannel,
	upToMsgID int,
	progress func(scanned int),
) (*topics.Index, error) {
	messages, err := collectHistory(ctx, api, channel, upToMsgID, progress)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var folders []topics.FolderInfo
	var files []topics.FileInfo

	for _, msg := range messages {
		if _, ok := ExtractMedia(msg); !ok {
			continue
		}
		path := topics.ParsePath(msg.Message)
		if path == nil {
			continue
		}

		parent := topics.RootParent
		id := ""
		for _, name := range path {
			if id == "" {
				id = name
			} else {
				id += "/" + name
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				folders = append(folders, topics.FolderInfo{ID: id, Name: name, Parent: parent})
			}
			parent = id
		}
		files = append(files, topics.FileInfo{MsgID: msg.ID, FolderID: id})
	}
	return topics.Build(folders, files), nil
}

// collectHistory выгружает сообщения канала с id ≤ upToMsgID и возвращает их
// по возрастанию id. progress получает нарастающее число просмотренных
// сообщений каждые 500 штук.
func collectHistory(
	ctx context.Context,
	api *tg.Client,
	channel *tg.InputChannel,
	upToMsgID int,
	progress func(scanned int),
) ([]*tg.Message, error) {
	peer := &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash}

	var out []*tg.Message
	offsetID := upToMsgID + 1
	scanned := 0
	lastReport := 0

	for {
		resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    historyPageLimit,
		})
		if err != nil {
			return nil, errors.Wrap(err, "get history")
		}

		batch := historyMessages(resp)
		if len(batch) == 0 {
			break
		}

		minID := offsetID
		for _, m := range batch {
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}
			if msg.ID < minID {
				minID = msg.ID
			}
			out = append(out, msg)
		}
		scanned += len(batch)
		if progress != nil && scanned-lastReport >= progressEvery {
			lastReport = scanned
			progress(scanned)
		}

		if minID <= 1 || minID >= offsetID {
			break
		}
		offsetID = minID
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func historyMessages(resp tg.MessagesMessagesClass) []tg.MessageClass {
	switch data := resp.(type) {
	case *tg.MessagesMessages:
		return data.Messages
	case *tg.MessagesMessagesSlice:
		return data.Messages
	case *tg.MessagesChannelMessages:
		return data.Messages
	default:
		return nil
	}
}
