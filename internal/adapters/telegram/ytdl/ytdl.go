// Пакет ytdl — скачивание по внешней ссылке: /ytdl (видео до 1080p mp4) и
// /adl (mp3 320kbps). Одна активная загрузка на пользователя, куки подбираются
// по хосту, результат уходит в настроенное назначение либо в личку.
package ytdl

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"surf-tg/internal/adapters/telegram/clients"
	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/domain/naming"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/proc"
	"surf-tg/internal/infra/timeutil"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// Ошибки префлайта, хендлер переводит их в ответы пользователю.
var (
	ErrDownloadRunning      = errors.New("a download is already running")
	ErrSubscriptionRequired = errors.New("subscription required")
	ErrLimitReached         = errors.New("daily limit reached")
	ErrNothingDownloaded    = errors.New("yt-dlp produced no file")
)

// Flight — одна загрузка на пользователя. Множество занятых в памяти:
// рестарт процесса естественно всё освобождает.
type Flight struct {
	mu   sync.Mutex
	busy map[int64]struct{}
}

// NewFlight создаёт пустой учёт загрузок.
func NewFlight() *Flight {
	return &Flight{busy: make(map[int64]struct{})}
}

// TryAcquire занимает слот пользователя. false — загрузка уже идёт.
func (f *Flight) TryAcquire(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.busy[userID]; ok {
		return false
	}
	f.busy[userID] = struct{}{}
	return true
}

// Release освобождает слот пользователя.
func (f *Flight) Release(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.busy, userID)
}

// Busy — идёт ли загрузка пользователя.
func (f *Flight) Busy(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.busy[userID]
	return ok
}

// Service выполняет внешние загрузки.
type Service struct {
	api     *tg.Client
	stored  *peers.Stored
	clients *clients.Registry
	store   *db.Store
	quota   *quota.Engine
	flight  *Flight

	downloadDir  string
	ytCookies    string
	instaCookies string
}

// New собирает сервис внешних загрузок.
func New(
	api *tg.Client,
	stored *peers.Stored,
	registry *clients.Registry,
	store *db.Store,
	engine *quota.Engine,
	downloadDir, ytCookies, instaCookies string,
) *Service {
	return &Service{
		api:          api,
		stored:       stored,
		clients:      registry,
		store:        store,
		quota:        engine,
		flight:       NewFlight(),
		downloadDir:  downloadDir,
		ytCookies:    ytCookies,
		instaCookies: instaCookies,
	}
}

// CookiesFor выбирает файл куки по хосту ссылки. Пустая строка — без куки.
func CookiesFor(rawURL, ytCookies, instaCookies string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "youtube") || strings.Contains(host, "youtu.be"):
		return ytCookies
	case strings.Contains(host, "instagram"):
		return instaCookies
	}
	return ""
}

// PickDownloaded находит результат yt-dlp в каталоге: самый крупный обычный
// файл. Постобработка оставляет рядом временные куски, размер их отсекает.
func PickDownloaded(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrap(err, "read download dir")
	}
	best := ""
	var bestSize int64 = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, entry.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", ErrNothingDownloaded
	}
	return best, nil
}

// Preflight — проверки перед загрузкой: повторный запуск, подписка, лимит.
func (s *Service) Preflight(userID int64) error {
	if s.flight.Busy(userID) {
		return ErrDownloadRunning
	}
	premium, err := s.quota.IsPremium(userID)
	if err != nil {
		return err
	}
	if s.quota.Limits().Freemium == 0 && !premium {
		return ErrSubscriptionRequired
	}
	left, err := s.quota.RemainingLimit(userID)
	if err != nil {
		return err
	}
	if left == 0 {
		return ErrLimitReached
	}
	return nil
}

// Run скачивает ссылку и заливает результат. Блокирует вызывающую горутину.
func (s *Service) Run(ctx context.Context, userID int64, rawURL string, audioOnly bool) error {
	if !s.flight.TryAcquire(userID) {
		return ErrDownloadRunning
	}
	defer s.flight.Release(userID)

	userPeer, err := s.stored.User(ctx, userID)
	if err != nil {
		return errors.Wrap(err, "resolve user peer")
	}

	cookies := CookiesFor(rawURL, s.ytCookies, s.instaCookies)

	info, err := proc.YtDlpProbe(ctx, rawURL, cookies)
	if err != nil {
		s.sendText(ctx, userPeer, "❌ Could not read the link. Check the URL and try again.")
		return errors.Wrap(err, "probe url")
	}

	announce := fmt.Sprintf("⬇️ %s", info.Title)
	if info.Filesize > 0 {
		announce += fmt.Sprintf("\nSize: ~%s", timeutil.ReadableSize(info.Filesize))
	}
	statusID := s.sendText(ctx, userPeer, announce)

	workDir := filepath.Join(s.downloadDir, "ytdl", strconv.FormatInt(userID, 10))
	if err = os.MkdirAll(workDir, 0o755); err != nil {
		return errors.Wrap(err, "create work dir")
	}
	defer func() {
		if cleanErr := os.RemoveAll(workDir); cleanErr != nil {
			logger.Errorf("clean ytdl dir: %v", cleanErr)
		}
	}()

	if err = proc.YtDlpDownload(ctx, rawURL, workDir, cookies, audioOnly); err != nil {
		s.editText(ctx, userPeer, statusID, "❌ Download failed.")
		return errors.Wrap(err, "download url")
	}

	path, err := PickDownloaded(workDir)
	if err != nil {
		s.editText(ctx, userPeer, statusID, "❌ Download failed.")
		return err
	}

	s.editText(ctx, userPeer, statusID, "⬆️ Uploading "+filepath.Base(path))
	if err = s.upload(ctx, userID, userPeer, path, info, audioOnly); err != nil {
		s.editText(ctx, userPeer, statusID, "❌ Upload failed.")
		return err
	}

	if _, err = s.quota.ConsumeOne(userID); err != nil {
		logger.Errorf("increment usage: %v", err)
	}
	s.editText(ctx, userPeer, statusID, "✅ Done: "+filepath.Base(path))
	return nil
}

// upload заливает файл в настроенное назначение ботом пользователя; без
// назначения — главным ботом в личку.
func (s *Service) upload(
	ctx context.Context,
	userID int64,
	userPeer tg.InputPeerClass,
	path string,
	info *proc.YtDlpInfo,
	audioOnly bool,
) error {
	settings, err := s.store.GetSettings(userID)
	if err != nil {
		return err
	}
	chatRef, topicID := naming.SplitDestination(settings.ChatID)

	api := s.api
	dest := userPeer
	if chatRef != "" {
		bot, botErr := s.clients.BotClient(ctx, userID)
		if botErr != nil {
			return botErr
		}
		api = bot.API
		channel, resolveErr := peers.NewChannelCache().ResolveChannel(ctx, api, chatRef)
		if resolveErr != nil {
			return resolveErr
		}
		dest = &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash}
	}

	file, err := uploader.NewUploader(api).FromPath(ctx, path)
	if err != nil {
		return errors.Wrap(err, "upload file")
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     dest,
		Media:    s.buildMedia(ctx, api, file, path, info, audioOnly),
		Message:  info.Title,
		RandomID: rand.Int63(),
	}
	if topicID > 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: topicID}
	}
	if _, err = api.MessagesSendMedia(ctx, req); err != nil {
		return errors.Wrap(err, "send media")
	}
	return nil
}

// buildMedia собирает InputMedia результата: mp3 уходит аудио с длительностью
// из пробы, mp4 — видео с метаданными и кадром-миниатюрой.
func (s *Service) buildMedia(
	ctx context.Context,
	api *tg.Client,
	file tg.InputFileClass,
	path string,
	info *proc.YtDlpInfo,
	audioOnly bool,
) tg.InputMediaClass {
	filename := filepath.Base(path)
	doc := &tg.InputMediaUploadedDocument{
		File: file,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: filename},
		},
	}

	if audioOnly {
		doc.MimeType = "audio/mpeg"
		doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeAudio{
			Duration: int(info.Duration),
			Title:    info.Title,
		})
		return doc
	}

	doc.MimeType = "video/mp4"
	meta := proc.ProbeVideo(ctx, path)
	doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeVideo{
		Duration:          float64(meta.Duration),
		W:                 meta.Width,
		H:                 meta.Height,
		SupportsStreaming: true,
	})
	thumbPath := path + ".thumb.jpg"
	if err := proc.Screenshot(ctx, path, thumbPath); err == nil {
		if thumb, upErr := uploader.NewUploader(api).FromPath(ctx, thumbPath); upErr == nil {
			doc.SetThumb(thumb)
		}
	}
	return doc
}

// sendText отправляет сообщение и возвращает его id (0 при неудаче).
func (s *Service) sendText(ctx context.Context, peer tg.InputPeerClass, text string) int {
	updates, err := s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int63(),
	})
	if err != nil {
		logger.Errorf("send ytdl message: %v", err)
		return 0
	}
	return sentMessageID(updates)
}

func (s *Service) editText(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) {
	if msgID == 0 {
		return
	}
	_, err := s.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      msgID,
		Message: text,
	})
	if err != nil && !tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		logger.Errorf("edit ytdl message: %v", err)
	}
}

func sentMessageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, upd := range u.Updates {
			if m, ok := upd.(*tg.UpdateMessageID); ok {
				return m.ID
			}
		}
	}
	return 0
}
