// Пакет handlers — маршрутизация апдейтов главного бота: команды, продолжения
// диалогов, колбэки клавиатур, платёжные события и пуш-индексация каналов.
package handlers

import (
	"context"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"surf-tg/internal/adapters/telegram/batch"
	"surf-tg/internal/adapters/telegram/browse"
	"surf-tg/internal/adapters/telegram/clients"
	"surf-tg/internal/adapters/telegram/ingest"
	"surf-tg/internal/adapters/telegram/payments"
	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/adapters/telegram/ytdl"
	"surf-tg/internal/domain/convo"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/config"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// Handler связывает все сервисы бота с потоком апдейтов.
type Handler struct {
	cfg     config.EnvConfig
	api     *tg.Client
	store   *db.Store
	stored  *peers.Stored
	clients *clients.Registry
	convo   *convo.Registry
	quota   *quota.Engine

	ingest   *ingest.Service
	browse   *browse.Controller
	batch    *batch.Service
	ytdl     *ytdl.Service
	payments *payments.Service

	startedAt time.Time
	restart   func() // запрошен рестарт процесса (/update)
}

// New собирает обработчик. restart дёргается из /update после записи флага.
func New(
	cfg config.EnvConfig,
	api *tg.Client,
	store *db.Store,
	stored *peers.Stored,
	registry *clients.Registry,
	steps *convo.Registry,
	engine *quota.Engine,
	ingestSvc *ingest.Service,
	browseCtl *browse.Controller,
	batchSvc *batch.Service,
	ytdlSvc *ytdl.Service,
	paymentsSvc *payments.Service,
	restart func(),
) *Handler {
	return &Handler{
		cfg:       cfg,
		api:       api,
		store:     store,
		stored:    stored,
		clients:   registry,
		convo:     steps,
		quota:     engine,
		ingest:    ingestSvc,
		browse:    browseCtl,
		batch:     batchSvc,
		ytdl:      ytdlSvc,
		payments:  paymentsSvc,
		startedAt: time.Now(),
		restart:   restart,
	}
}

// Register подключает обработчик к диспетчеру апдейтов.
func (h *Handler) Register(d *tg.UpdateDispatcher) {
	d.OnNewMessage(h.onNewMessage)
	d.OnNewChannelMessage(h.onNewChannelMessage)
	d.OnBotCallbackQuery(h.onCallback)
	d.OnBotPrecheckoutQuery(h.onPrecheckout)
}

// ParseCommand разбирает "/cmd@bot args" в (cmd, args). false — не команда.
func ParseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, args, _ := strings.Cut(text[1:], " ")
	if cmd == "" {
		return "", "", false
	}
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args), true
}

// BotChatID переводит внутренний id канала в -100-форму.
func BotChatID(channelID int64) int64 {
	v, err := strconv.ParseInt("-100"+strconv.FormatInt(channelID, 10), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func (h *Handler) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	switch msg := u.Message.(type) {
	case *tg.MessageService:
		if action, ok := msg.Action.(*tg.MessageActionPaymentSentMe); ok {
			return h.payments.HandlePaymentSent(ctx, action)
		}
		return nil
	case *tg.Message:
		if msg.Out {
			return nil
		}
		peerUser, ok := msg.PeerID.(*tg.PeerUser)
		if !ok {
			return nil
		}
		return h.onPrivateMessage(ctx, e, peerUser.UserID, msg)
	default:
		return nil
	}
}

func (h *Handler) onPrivateMessage(ctx context.Context, e tg.Entities, userID int64, msg *tg.Message) error {
	if err := h.store.UpsertUser(userID, displayName(e, userID)); err != nil {
		logger.Errorf("upsert user %d: %v", userID, err)
	}

	peer := h.userPeer(ctx, e, userID)
	if peer == nil {
		return nil
	}

	if cmd, args, isCmd := ParseCommand(msg.Message); isCmd {
		return h.dispatch(ctx, e, userID, peer, msg, cmd, args)
	}
	if step, ok := h.convo.Get(userID); ok {
		return h.continueStep(ctx, userID, peer, msg, step)
	}
	return nil
}

// dispatch направляет команду. Команды обрываются гейтом подписки на канал,
// кроме /start, который сам показывает приглашение.
func (h *Handler) dispatch(
	ctx context.Context,
	e tg.Entities,
	userID int64,
	peer tg.InputPeerClass,
	msg *tg.Message,
	cmd, args string,
) error {
	switch cmd {
	case "start":
		return h.cmdStart(ctx, e, userID, peer, args)
	case "cancel", "stop":
		return h.cmdCancel(ctx, userID, peer)
	case "login":
		return h.cmdLogin(ctx, userID, peer)
	case "logout":
		return h.cmdLogout(ctx, userID, peer)
	case "setbot":
		return h.cmdSetBot(ctx, userID, peer, args)
	case "rembot":
		return h.cmdRemBot(ctx, userID, peer)
	case "settings":
		return h.cmdSettings(ctx, userID, peer)
	case "browse":
		return h.browse.SendChannelList(ctx, peer)
	case "index":
		return h.cmdIndex(ctx, userID, peer, args)
	case "createindex":
		return h.cmdCreateIndex(ctx, userID, peer, args)
	case "batch":
		return h.cmdBatch(ctx, userID, peer)
	case "single":
		return h.cmdSingle(ctx, userID, peer)
	case "ytdl":
		return h.cmdYtdl(ctx, userID, peer, args, false)
	case "adl":
		return h.cmdYtdl(ctx, userID, peer, args, true)
	case "plans", "pay":
		return h.payments.SendPlans(ctx, peer)
	case "mystatus":
		return h.cmdMyStatus(ctx, userID, peer)
	case "transfer":
		return h.cmdTransfer(ctx, userID, peer, args)
	case "add":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdAddPremium(ctx, peer, args) })
	case "rem":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdRemPremium(ctx, peer, args) })
	case "users":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdUsers(ctx, peer) })
	case "broadcast":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdBroadcast(ctx, peer, msg) })
	case "botstats":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdBotStats(ctx, peer) })
	case "addplan":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdAddPlan(ctx, peer, args) })
	case "delplan":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdDelPlan(ctx, peer, args) })
	case "listplans":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdListPlans(ctx, peer) })
	case "cleanservice":
		return h.sudoOnly(ctx, userID, peer, func() error { return h.cmdCleanService(ctx, peer, args) })
	case "update":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdUpdate(ctx, peer, msg) })
	case "logs":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdLogs(ctx, peer, args) })
	case "status":
		return h.ownerOnly(ctx, userID, peer, func() error { return h.cmdStatus(ctx, peer) })
	case "sh", "shell", "bash":
		return h.sudoOnly(ctx, userID, peer, func() error { return h.cmdShell(ctx, peer, args) })
	default:
		return nil
	}
}

// continueStep продолжает активный диалог свободным текстом пользователя.
func (h *Handler) continueStep(
	ctx context.Context,
	userID int64,
	peer tg.InputPeerClass,
	msg *tg.Message,
	step convo.Step,
) error {
	switch s := step.(type) {
	case convo.LoginPhone:
		return h.stepLoginPhone(ctx, userID, peer, msg.Message)
	case convo.LoginCode:
		return h.stepLoginCode(ctx, userID, peer, s, msg.Message)
	case convo.LoginPassword:
		return h.stepLoginPassword(ctx, userID, peer, s, msg.Message)
	case convo.BatchStart:
		return h.stepBatchStart(ctx, userID, peer, msg.Message)
	case convo.BatchCount:
		return h.stepBatchCount(ctx, userID, peer, s, msg.Message)
	case convo.BatchSingle:
		return h.stepBatchSingle(ctx, userID, peer, msg.Message)
	default:
		if convo.SettingsInProgress(step) {
			return h.stepSettings(ctx, userID, peer, step, msg)
		}
		return nil
	}
}

// onNewChannelMessage — пуш-индексация и чистка сервисных сообщений в
// авторизованных каналах.
func (h *Handler) onNewChannelMessage(ctx context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
	switch msg := u.Message.(type) {
	case *tg.Message:
		peerChannel, ok := msg.PeerID.(*tg.PeerChannel)
		if !ok {
			return nil
		}
		chatID := BotChatID(peerChannel.ChannelID)
		if !h.ingest.Authorized(chatID) {
			return nil
		}
		media, hasMedia := ingest.ExtractMedia(msg)
		if !hasMedia {
			return nil
		}
		novel, err := h.ingest.IngestMessage(chatID, msg.ID, msg.Message, media)
		if err != nil {
			logger.Logger().Warn("push index", zap.Int64("chat", chatID), zap.Int("msg", msg.ID), zap.Error(err))
			return nil
		}
		if novel {
			logger.Debugf("indexed %s from %d", media.Name, chatID)
		}
		return nil
	case *tg.MessageService:
		return h.cleanService(ctx, msg)
	default:
		return nil
	}
}

// cleanService удаляет сервисные сообщения в авторизованных каналах, когда
// флаг cleanservice включён.
func (h *Handler) cleanService(ctx context.Context, msg *tg.MessageService) error {
	if !h.store.CleanService() {
		return nil
	}
	peerChannel, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok || !h.ingest.Authorized(BotChatID(peerChannel.ChannelID)) {
		return nil
	}
	channel, err := h.stored.Channel(ctx, peerChannel.ChannelID)
	if err != nil {
		return nil
	}
	if _, err = h.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
		Channel: channel,
		ID:      []int{msg.ID},
	}); err != nil {
		logger.Errorf("clean service message: %v", err)
	}
	return nil
}

func (h *Handler) onCallback(ctx context.Context, e tg.Entities, u *tg.UpdateBotCallbackQuery) error {
	data := string(u.Data)
	switch {
	case strings.HasPrefix(data, payments.CallbackPrefix):
		_, err := h.payments.HandleCallback(ctx, u)
		return err
	case strings.HasPrefix(data, "st|"):
		return h.settingsCallback(ctx, e, u)
	default:
		return h.browse.HandleCallback(ctx, e, u)
	}
}

func (h *Handler) onPrecheckout(ctx context.Context, _ tg.Entities, u *tg.UpdateBotPrecheckoutQuery) error {
	return h.payments.HandlePrecheckout(ctx, u)
}

// userPeer строит InputPeer пользователя: из сущностей апдейта, иначе из
// peer-хранилища.
func (h *Handler) userPeer(ctx context.Context, e tg.Entities, userID int64) tg.InputPeerClass {
	if user, ok := e.Users[userID]; ok {
		return &tg.InputPeerUser{UserID: userID, AccessHash: user.AccessHash}
	}
	peer, err := h.stored.User(ctx, userID)
	if err != nil {
		logger.Errorf("resolve user %d: %v", userID, err)
		return nil
	}
	return peer
}

func displayName(e tg.Entities, userID int64) string {
	user, ok := e.Users[userID]
	if !ok {
		return ""
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// reply отправляет текст и возвращает id сообщения (0 при неудаче).
func (h *Handler) reply(ctx context.Context, peer tg.InputPeerClass, text string) int {
	return h.replyMarkup(ctx, peer, text, nil)
}

func (h *Handler) replyMarkup(ctx context.Context, peer tg.InputPeerClass, text string, kb tg.ReplyMarkupClass) int {
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int63(),
	}
	if kb != nil {
		req.ReplyMarkup = kb
	}
	updates, err := h.api.MessagesSendMessage(ctx, req)
	if err != nil {
		logger.Errorf("send reply: %v", err)
		return 0
	}
	return sentMessageID(updates)
}

func (h *Handler) editText(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) {
	if msgID == 0 {
		return
	}
	_, err := h.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      msgID,
		Message: text,
	})
	if err != nil && !tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		logger.Errorf("edit reply: %v", err)
	}
}

func (h *Handler) ownerOnly(ctx context.Context, userID int64, peer tg.InputPeerClass, fn func() error) error {
	if !h.cfg.IsOwner(userID) {
		h.reply(ctx, peer, "This command is for the bot owner.")
		return nil
	}
	return fn()
}

func (h *Handler) sudoOnly(ctx context.Context, userID int64, peer tg.InputPeerClass, fn func() error) error {
	if !h.cfg.IsSudo(userID) {
		h.reply(ctx, peer, "This command needs elevated access.")
		return nil
	}
	return fn()
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
