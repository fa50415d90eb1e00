// Пакет batch — конвейер /batch и /single: последовательное скачивание
// сообщений пользовательской сессией и перезаливка ботом пользователя в его
// канал. Один активный батч на пользователя, строгий порядок сообщений,
// кооперативная отмена на границе сообщений.
package batch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"surf-tg/internal/adapters/telegram/clients"
	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/domain/naming"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/proc"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// Ошибки префлайта. Хендлер переводит их в ответы пользователю.
var (
	ErrSubscriptionRequired = errors.New("subscription required")
	ErrLimitReached         = errors.New("daily limit reached")
	ErrNoUserBot            = errors.New("user bot is not configured")
	ErrBatchRunning         = errors.New("a batch is already running")
	ErrMessageUnavailable   = errors.New("message is unavailable")
)

const pacingDelay = 10 * time.Second

// Job — параметры запуска конвейера.
type Job struct {
	UserID  int64
	ChatRef string // "-100<id>" либо username
	Private bool
	Start   int // msg id первого сообщения
	Count   int
}

// Service выполняет батчи.
type Service struct {
	api     *tg.Client
	stored  *peers.Stored
	clients *clients.Registry
	store   *db.Store
	quota   *quota.Engine
	active  *ActiveStore
	tracker *Tracker

	downloadDir string
	thumbDir    string
	pacing      time.Duration
}

// New собирает сервис. downloadDir — корень временных файлов, thumbDir —
// каталог пользовательских миниатюр (<uid>.jpg, пишет /settings).
func New(
	api *tg.Client,
	stored *peers.Stored,
	registry *clients.Registry,
	store *db.Store,
	engine *quota.Engine,
	active *ActiveStore,
	downloadDir, thumbDir string,
) *Service {
	return &Service{
		api:         api,
		stored:      stored,
		clients:     registry,
		store:       store,
		quota:       engine,
		active:      active,
		tracker:     NewTracker(),
		downloadDir: downloadDir,
		thumbDir:    thumbDir,
		pacing:      pacingDelay,
	}
}

// Active — выполняется ли у пользователя батч.
func (s *Service) Active(userID int64) bool {
	return s.active.Active(userID)
}

// RecoverInterrupted разбирает записи, уцелевшие после рестарта процесса.
// Выполнение не возобновляется: сообщение прогресса правится на итог, запись
// снимается, и пользователь перезапускает команду сам.
func (s *Service) RecoverInterrupted(ctx context.Context) {
	interrupted, err := s.active.Drain()
	if err != nil {
		logger.Errorf("drain batch records: %v", err)
	}
	for _, b := range interrupted {
		logger.Logger().Info("batch interrupted by restart",
			zap.Int64("user", b.UserID),
			zap.Int("current", b.Current),
			zap.Int("total", b.Total),
			zap.Int("success", b.Success),
		)
		peer, peerErr := s.stored.User(ctx, b.UserID)
		if peerErr != nil {
			logger.Errorf("recover batch peer %d: %v", b.UserID, peerErr)
			continue
		}
		text := fmt.Sprintf("🛑 Bot restarted, batch stopped at %d/%d. Success: %d. Re-run /batch for the rest.",
			b.Current, b.Total, b.Success)
		if b.ProgressMsgID != 0 {
			s.editText(ctx, peer, b.ProgressMsgID, text)
		} else {
			s.sendText(ctx, peer, text)
		}
	}
}

// RequestCancel взводит флаг отмены батча пользователя.
func (s *Service) RequestCancel(userID int64) (bool, error) {
	return s.active.RequestCancel(userID)
}

// Preflight — проверки перед стартом конвейера, в порядке из пользовательских
// сценариев: подписка, лимит, бот, повторный запуск.
func (s *Service) Preflight(userID int64) error {
	if s.active.Active(userID) {
		return ErrBatchRunning
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

	if _, err = s.store.GetBotToken(userID); errors.Is(err, db.ErrNotFound) {
		return ErrNoUserBot
	} else if err != nil {
		return err
	}
	return nil
}

// Run выполняет батч до конца или до отмены. Блокирует вызывающую горутину.
func (s *Service) Run(ctx context.Context, job Job) {
	userPeer, err := s.stored.User(ctx, job.UserID)
	if err != nil {
		logger.Logger().Error("batch user peer", zap.Int64("user", job.UserID), zap.Error(err))
		return
	}

	progressID := s.sendText(ctx, userPeer, fmt.Sprintf("📦 Batch started: %d message(s)", job.Count))

	if err = s.active.Put(ActiveBatch{UserID: job.UserID, Total: job.Count, ProgressMsgID: progressID}); err != nil {
		logger.Errorf("persist batch state: %v", err)
	}
	defer func() {
		if err := s.active.Remove(job.UserID); err != nil {
			logger.Errorf("remove batch state: %v", err)
		}
	}()

	sessionCache := peers.NewChannelCache()
	botCache := peers.NewChannelCache()

	success := 0
	current := 0
	cancelled := false

	for i := 0; i < job.Count; i++ {
		if s.active.CancelRequested(job.UserID) {
			cancelled = true
			break
		}

		msgID := job.Start + i
		if procErr := s.processOne(ctx, job, msgID, sessionCache, botCache, userPeer, progressID); procErr != nil {
			logger.Logger().Warn("batch message failed",
				zap.Int64("user", job.UserID),
				zap.Int("msg", msgID),
				zap.Error(procErr),
			)
		} else {
			success++
			if _, usageErr := s.quota.ConsumeOne(job.UserID); usageErr != nil {
				logger.Errorf("increment usage: %v", usageErr)
			}
		}
		current = i + 1

		if err = s.active.Update(job.UserID, func(b *ActiveBatch) {
			b.Current = current
			b.Success = success
		}); err != nil {
			logger.Errorf("persist batch progress: %v", err)
		}
		s.editText(ctx, userPeer, progressID,
			fmt.Sprintf("📦 Processing %d/%d | ✅ %d", current, job.Count, success))

		// Отмена, замеченная после сообщения, гасит и межсообщенческую паузу.
		if s.active.CancelRequested(job.UserID) {
			cancelled = true
			break
		}
		if i < job.Count-1 {
			if !sleepCtx(ctx, s.pacing) {
				cancelled = true
				break
			}
		}
	}

	summary := fmt.Sprintf("✅ Batch complete: %d/%d succeeded", success, job.Count)
	if cancelled {
		summary = fmt.Sprintf("🛑 Cancelled at %d/%d. Success: %d", current, job.Count, success)
	}
	s.editText(ctx, userPeer, progressID, summary)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// processOne проводит одно сообщение через fetch → download → rename →
// caption → upload. Временные файлы удаляются при любом исходе.
func (s *Service) processOne(
	ctx context.Context,
	job Job,
	msgID int,
	sessionCache, botCache *peers.ChannelCache,
	userPeer tg.InputPeerClass,
	progressID int,
) error {
	session, err := s.clients.SessionClient(ctx, job.UserID)
	if err != nil && job.Private {
		return err
	}

	msg, fetchedFrom, err := s.fetchMessage(ctx, job, msgID, session, sessionCache, botCache)
	if err != nil {
		return err
	}
	media, ok := ExtractFetched(msg)
	if !ok {
		return ErrMessageUnavailable
	}

	settings, err := s.store.GetSettings(job.UserID)
	if err != nil {
		return err
	}

	workDir := filepath.Join(s.downloadDir, "batch", strconv.FormatInt(job.UserID, 10))
	if err = os.MkdirAll(workDir, 0o755); err != nil {
		return errors.Wrap(err, "create work dir")
	}
	defer func() {
		if cleanErr := os.RemoveAll(workDir); cleanErr != nil {
			logger.Errorf("clean work dir: %v", cleanErr)
		}
	}()

	filename := naming.SanitizeFilename(media.Name, time.Now())
	filename = naming.ApplyRenameTag(filename, settings.RenameTag)
	path := filepath.Join(workDir, filename)

	if err = s.download(ctx, fetchedFrom, media, path, msgID, userPeer, progressID); err != nil {
		if !tgerr.Is(err, "FILE_REFERENCE_EXPIRED") {
			return err
		}
		// Референс протух, пока сообщение лежало в очереди: перечитываем и
		// пробуем ровно один раз.
		msg, fetchedFrom, err = s.fetchMessage(ctx, job, msgID, session, sessionCache, botCache)
		if err != nil {
			return err
		}
		if media, ok = ExtractFetched(msg); !ok {
			return ErrMessageUnavailable
		}
		if err = s.download(ctx, fetchedFrom, media, path, msgID, userPeer, progressID); err != nil {
			return err
		}
	}

	caption := naming.TransformCaption(media.Caption, settings.Caption, settings.Replacements, settings.DeleteWords)
	return s.upload(ctx, job.UserID, media, path, filename, caption, userPeer)
}

// fetchMessage достаёт сообщение источника. Публичные ссылки сначала пробует
// бот пользователя, затем сессия; приватные — только сессия, с двумя
// восстановительными попытками (альтернативная форма id, затем пересборка
// кэша диалогов).
func (s *Service) fetchMessage(
	ctx context.Context,
	job Job,
	msgID int,
	session *clients.Handle,
	sessionCache, botCache *peers.ChannelCache,
) (*tg.Message, *tg.Client, error) {
	if !job.Private {
		if bot, err := s.clients.BotClient(ctx, job.UserID); err == nil {
			if msg, fetchErr := fetchVia(ctx, bot.API, botCache, job.ChatRef, msgID); fetchErr == nil {
				return msg, bot.API, nil
			}
		}
		if session == nil {
			return nil, nil, ErrMessageUnavailable
		}
		msg, err := fetchVia(ctx, session.API, sessionCache, job.ChatRef, msgID)
		if err != nil {
			return nil, nil, err
		}
		return msg, session.API, nil
	}

	if session == nil {
		return nil, nil, clients.ErrNoSession
	}

	msg, err := fetchVia(ctx, session.API, sessionCache, job.ChatRef, msgID)
	if err == nil {
		return msg, session.API, nil
	}

	// Попытка 2: форма id без служебного префикса.
	altRef := strings.TrimPrefix(job.ChatRef, "-100")
	if msg, err = fetchVia(ctx, session.API, sessionCache, altRef, msgID); err == nil {
		return msg, session.API, nil
	}

	// Попытка 3: свежий скан диалогов.
	freshCache := peers.NewChannelCache()
	if msg, err = fetchVia(ctx, session.API, freshCache, job.ChatRef, msgID); err == nil {
		return msg, session.API, nil
	}
	return nil, nil, errors.Wrap(err, "fetch message")
}

func fetchVia(ctx context.Context, api *tg.Client, cache *peers.ChannelCache, ref string, msgID int) (*tg.Message, error) {
	channel, err := cache.ResolveChannel(ctx, api, ref)
	if err != nil {
		return nil, err
	}
	resp, err := api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "get messages")
	}
	msgs, ok := resp.(*tg.MessagesChannelMessages)
	if !ok || len(msgs.Messages) == 0 {
		return nil, ErrMessageUnavailable
	}
	msg, ok := msgs.Messages[0].(*tg.Message)
	if !ok {
		return nil, ErrMessageUnavailable
	}
	return msg, nil
}

// countingWriter прокачивает скачиваемые байты в прогресс-репортер.
type countingWriter struct {
	w    io.Writer
	done int64
	tick func(done int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.done += int64(n)
	c.tick(c.done)
	return n, err
}

func (s *Service) download(
	ctx context.Context,
	api *tg.Client,
	media *Fetched,
	path string,
	msgID int,
	userPeer tg.InputPeerClass,
	progressID int,
) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create file")
	}
	defer f.Close()

	step := StepPercent(media.Size)
	startedAt := time.Now()
	cw := &countingWriter{
		w: f,
		tick: func(done int64) {
			if !s.tracker.ShouldReport(msgID, done, media.Size, step) {
				return
			}
			s.editText(ctx, userPeer, progressID,
				ProgressText(fmt.Sprintf("⬇️ Downloading message %d", msgID), done, media.Size, time.Since(startedAt)))
		},
	}
	defer s.tracker.Forget(msgID)

	if _, err = downloader.NewDownloader().Download(api, media.Location()).Stream(ctx, cw); err != nil {
		return errors.Wrap(err, "download")
	}
	return f.Sync()
}

// upload заливает файл в настроенное назначение ботом пользователя; без
// назначения файл уходит главным ботом в личку.
func (s *Service) upload(
	ctx context.Context,
	userID int64,
	media *Fetched,
	path, filename, caption string,
	userPeer tg.InputPeerClass,
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

	up := uploader.NewUploader(api)
	file, err := up.FromPath(ctx, path)
	if err != nil {
		return errors.Wrap(err, "upload file")
	}

	inputMedia, err := s.buildMedia(ctx, api, media, file, path, filename, userID)
	if err != nil {
		return err
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     dest,
		Media:    inputMedia,
		Message:  caption,
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

// buildMedia собирает InputMedia по виду файла. Видео получает метаданные из
// пробы и миниатюру: пользовательскую, если загружена, иначе первый кадр.
func (s *Service) buildMedia(
	ctx context.Context,
	api *tg.Client,
	media *Fetched,
	file tg.InputFileClass,
	path, filename string,
	userID int64,
) (tg.InputMediaClass, error) {
	kind := media.UploadKind(filename)
	if kind == KindPhoto {
		return &tg.InputMediaUploadedPhoto{File: file}, nil
	}

	mimeType := "application/octet-stream"
	if media.Doc != nil && media.Doc.MimeType != "" {
		mimeType = media.Doc.MimeType
	}

	doc := &tg.InputMediaUploadedDocument{
		File:     file,
		MimeType: mimeType,
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeFilename{FileName: filename},
		},
	}

	switch kind {
	case KindVideo, KindVideoNote:
		meta := proc.ProbeVideo(ctx, path)
		doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeVideo{
			Duration:          float64(meta.Duration),
			W:                 meta.Width,
			H:                 meta.Height,
			SupportsStreaming: true,
			RoundMessage:      kind == KindVideoNote,
		})
		if thumb, ok := s.thumbnail(ctx, api, path, userID); ok {
			doc.SetThumb(thumb)
		}
	case KindAudio, KindVoice:
		meta := proc.ProbeVideo(ctx, path)
		doc.Attributes = append(doc.Attributes, &tg.DocumentAttributeAudio{
			Duration: meta.Duration,
			Voice:    kind == KindVoice,
		})
	}
	return doc, nil
}

// thumbnail выбирает миниатюру видео: пользовательский <uid>.jpg либо первый
// кадр через ffmpeg. Любая неудача просто оставляет видео без миниатюры.
func (s *Service) thumbnail(ctx context.Context, api *tg.Client, videoPath string, userID int64) (tg.InputFileClass, bool) {
	custom := filepath.Join(s.thumbDir, strconv.FormatInt(userID, 10)+".jpg")
	thumbPath := custom
	if _, err := os.Stat(custom); err != nil {
		generated := videoPath + ".thumb.jpg"
		if err = proc.Screenshot(ctx, videoPath, generated); err != nil {
			return nil, false
		}
		thumbPath = generated
	}

	file, err := uploader.NewUploader(api).FromPath(ctx, thumbPath)
	if err != nil {
		logger.Errorf("upload thumbnail: %v", err)
		return nil, false
	}
	return file, true
}

// sendText отправляет сообщение и возвращает его id (0 при неудаче).
func (s *Service) sendText(ctx context.Context, peer tg.InputPeerClass, text string) int {
	updates, err := s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int63(),
	})
	if err != nil {
		logger.Errorf("send batch message: %v", err)
		return 0
	}
	return sentMessageID(updates)
}

// editText правит сообщение, глотая ошибки правок: прогресс не стоит падения
// конвейера.
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
		logger.Logger().Debug("edit progress", zap.Int("msg", msgID), zap.Error(err))
	}
}

func sentMessageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, upd := range u.Updates {
			if idUpd, ok := upd.(*tg.UpdateMessageID); ok {
				return idUpd.ID
			}
		}
	}
	return 0
}
