package handlers

// /start с deep-link доставкой файла и гейтом подписки, индексация каналов и
// пользовательские команды подписки.

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/domain/topics"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/timeutil"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

const welcomeText = "👋 Hi! I index channel files and move content for you.\n\n" +
	"/browse — explore indexed channels\n" +
	"/batch — copy a range of messages\n" +
	"/single — copy one message\n" +
	"/ytdl /adl — download by URL\n" +
	"/settings — uploads configuration\n" +
	"/plans — premium subscription"

// ParseStartPayload разбирает deep-link /start file_<chat>_<msg>.
// Идентификатор чата принимается и в -100-форме, и без префикса.
func ParseStartPayload(payload string) (int64, int, bool) {
	rest, ok := strings.CutPrefix(payload, "file_")
	if !ok {
		return 0, 0, false
	}
	chatStr, msgStr, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, false
	}
	if !strings.HasPrefix(chatStr, "-100") {
		chatStr = "-100" + strings.TrimPrefix(chatStr, "-")
	}
	chatID, err := strconv.ParseInt(chatStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	msgID, err := strconv.Atoi(msgStr)
	if err != nil || msgID <= 0 {
		return 0, 0, false
	}
	return chatID, msgID, true
}

// InternalChannelID срезает -100-префикс бот-формы идентификатора канала.
func InternalChannelID(chatID int64) int64 {
	raw := strconv.FormatInt(chatID, 10)
	if v, ok := strings.CutPrefix(raw, "-100"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return id
		}
	}
	if chatID < 0 {
		return -chatID
	}
	return chatID
}

func (h *Handler) cmdStart(ctx context.Context, e tg.Entities, userID int64, peer tg.InputPeerClass, args string) error {
	if !h.forceSubOK(ctx, userID) {
		return h.sendJoinPrompt(ctx, peer)
	}

	chatID, msgID, isFileLink := ParseStartPayload(strings.TrimSpace(args))
	if !isFileLink {
		h.reply(ctx, peer, welcomeText)
		return nil
	}
	if !h.ingest.Authorized(chatID) {
		h.reply(ctx, peer, "This channel is not served by the bot.")
		return nil
	}

	channel, err := h.stored.Channel(ctx, InternalChannelID(chatID))
	if err != nil {
		h.reply(ctx, peer, "File is unavailable right now, try again later.")
		return errors.Wrap(err, "resolve file channel")
	}
	_, err = h.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer:   &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
		ID:         []int{msgID},
		RandomID:   []int64{rand.Int63()},
		ToPeer:     peer,
		DropAuthor: true,
	})
	if err != nil {
		h.reply(ctx, peer, "Could not deliver the file, it may have been deleted.")
		return errors.Wrap(err, "deliver file")
	}
	return nil
}

// forceSubOK проверяет членство в обязательном канале. Сбои проверки не
// блокируют пользователя, блокирует только явный USER_NOT_PARTICIPANT.
func (h *Handler) forceSubOK(ctx context.Context, userID int64) bool {
	if h.cfg.ForceSub == 0 {
		return true
	}
	channel, err := h.stored.Channel(ctx, InternalChannelID(h.cfg.ForceSub))
	if err != nil {
		logger.Errorf("force-sub channel: %v", err)
		return true
	}
	userPeer, err := h.stored.User(ctx, userID)
	if err != nil {
		return true
	}
	_, err = h.api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
		Channel:     channel,
		Participant: userPeer,
	})
	if err != nil {
		if tgerr.Is(err, "USER_NOT_PARTICIPANT") {
			return false
		}
		logger.Errorf("force-sub check: %v", err)
	}
	return true
}

func (h *Handler) sendJoinPrompt(ctx context.Context, peer tg.InputPeerClass) error {
	text := "🔒 Join our channel to use the bot, then /start again."

	channel, err := h.stored.Channel(ctx, InternalChannelID(h.cfg.ForceSub))
	if err != nil {
		h.reply(ctx, peer, text)
		return nil
	}
	invite, err := h.api.MessagesExportChatInvite(ctx, &tg.MessagesExportChatInviteRequest{
		Peer: &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
	})
	exported, ok := invite.(*tg.ChatInviteExported)
	if err != nil || !ok {
		h.reply(ctx, peer, text)
		return nil
	}

	h.replyMarkup(ctx, peer, text, &tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{
		{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonURL{Text: "📢 Join channel", URL: exported.Link},
		}},
	}})
	return nil
}

// indexClient выбирает клиент для скана истории: сессия пользователя, если
// она есть, иначе главный бот.
func (h *Handler) indexClient(ctx context.Context, userID int64) *tg.Client {
	if session, err := h.clients.SessionClient(ctx, userID); err == nil {
		return session.API
	}
	return h.api
}

func (h *Handler) cmdIndex(ctx context.Context, userID int64, peer tg.InputPeerClass, args string) error {
	ref, upTo, err := parseIndexArgs(args)
	if err != nil {
		h.reply(ctx, peer, "Usage: /index <channel id or @username> [last message id]")
		return nil
	}

	api := h.indexClient(ctx, userID)
	channel, err := peers.NewChannelCache().ResolveChannel(ctx, api, ref)
	if err != nil {
		h.reply(ctx, peer, "Channel not found. For private channels, /login first.")
		return nil
	}
	if upTo == 0 {
		if upTo, err = lastMessageID(ctx, api, channel); err != nil {
			return errors.Wrap(err, "resolve history top")
		}
	}

	chatID := BotChatID(channel.ChannelID)
	if !h.ingest.Authorized(chatID) {
		h.reply(ctx, peer, "This channel is not in the authorized list.")
		return nil
	}

	progressID := h.reply(ctx, peer, "📚 Indexing…")
	started := time.Now()
	processed, novel, err := h.ingest.BulkIndex(ctx, api, channel, chatID, upTo, func(scanned int) {
		h.editText(ctx, peer, progressID, fmt.Sprintf("📚 Indexing… scanned %d messages", scanned))
	})
	if err != nil {
		h.editText(ctx, peer, progressID, "❌ Indexing failed.")
		return errors.Wrap(err, "bulk index")
	}
	h.editText(ctx, peer, progressID, fmt.Sprintf(
		"✅ Indexed %d file(s), %d new, in %s", processed, novel, time.Since(started).Round(time.Second)))

	index, err := h.ingest.StoredIndex(chatID)
	if err != nil {
		return errors.Wrap(err, "stored index")
	}
	h.sendIndex(ctx, peer, index, chatID)
	return nil
}

func (h *Handler) cmdCreateIndex(ctx context.Context, userID int64, peer tg.InputPeerClass, args string) error {
	ref, upTo, err := parseIndexArgs(args)
	if err != nil {
		h.reply(ctx, peer, "Usage: /createindex <channel id or @username> [last message id]")
		return nil
	}

	api := h.indexClient(ctx, userID)
	channel, err := peers.NewChannelCache().ResolveChannel(ctx, api, ref)
	if err != nil {
		h.reply(ctx, peer, "Channel not found. For private channels, /login first.")
		return nil
	}
	if upTo == 0 {
		if upTo, err = lastMessageID(ctx, api, channel); err != nil {
			return errors.Wrap(err, "resolve history top")
		}
	}

	progressID := h.reply(ctx, peer, "📚 Scanning…")
	index, err := h.ingest.LiveIndex(ctx, api, channel, upTo, func(scanned int) {
		h.editText(ctx, peer, progressID, fmt.Sprintf("📚 Scanning… %d messages", scanned))
	})
	if err != nil {
		h.editText(ctx, peer, progressID, "❌ Scan failed.")
		return errors.Wrap(err, "live index")
	}
	h.editText(ctx, peer, progressID, "✅ Scan complete.")
	h.sendIndex(ctx, peer, index, BotChatID(channel.ChannelID))
	return nil
}

func (h *Handler) sendIndex(ctx context.Context, peer tg.InputPeerClass, index *topics.Index, chatID int64) {
	chunks := topics.Render(index, topics.RenderOptions{Host: h.cfg.BaseURL, ChatID: chatID})
	if len(chunks) == 0 {
		h.reply(ctx, peer, "The index is empty: no captioned topics found.")
		return
	}
	for _, chunk := range chunks {
		h.reply(ctx, peer, chunk)
	}
}

func parseIndexArgs(args string) (string, int, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		return fields[0], 0, nil
	case 2:
		upTo, err := strconv.Atoi(fields[1])
		if err != nil || upTo <= 0 {
			return "", 0, errors.New("bad message id")
		}
		return fields[0], upTo, nil
	default:
		return "", 0, errors.New("bad arguments")
	}
}

// lastMessageID возвращает id верхнего сообщения канала.
func lastMessageID(ctx context.Context, api *tg.Client, channel *tg.InputChannel) (int, error) {
	resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
		Limit: 1,
	})
	if err != nil {
		return 0, errors.Wrap(err, "get history")
	}
	msgs, ok := resp.(*tg.MessagesChannelMessages)
	if !ok || len(msgs.Messages) == 0 {
		return 0, errors.New("empty channel")
	}
	if msg, isMsg := msgs.Messages[0].(*tg.Message); isMsg {
		return msg.ID, nil
	}
	if svc, isSvc := msgs.Messages[0].(*tg.MessageService); isSvc {
		return svc.ID, nil
	}
	return 0, errors.New("unsupported top message")
}

func (h *Handler) cmdMyStatus(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	grant, err := h.quota.Grant(userID)
	if err != nil {
		return err
	}
	used, err := h.store.UsageToday(userID)
	if err != nil {
		return err
	}
	left, err := h.quota.RemainingLimit(userID)
	if err != nil {
		return err
	}

	var lines []string
	if grant != nil {
		lines = append(lines,
			"⭐ Premium: active",
			"Expires: "+grant.ExpireAt.UTC().Format("2006-01-02 15:04 MST"),
			"Time left: "+timeutil.TimeLeft(time.Now(), grant.ExpireAt),
		)
	} else {
		lines = append(lines, "Premium: none. See /plans.")
	}
	lines = append(lines, fmt.Sprintf("Used today: %d", used))
	if left == quota.Unlimited {
		lines = append(lines, "Remaining today: unlimited")
	} else {
		lines = append(lines, fmt.Sprintf("Remaining today: %d", left))
	}
	h.reply(ctx, peer, strings.Join(lines, "\n"))
	return nil
}

func (h *Handler) cmdTransfer(ctx context.Context, userID int64, peer tg.InputPeerClass, args string) error {
	target, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || target == 0 {
		h.reply(ctx, peer, "Usage: /transfer <recipient user id>")
		return nil
	}
	if target == userID {
		h.reply(ctx, peer, "You already own this subscription.")
		return nil
	}

	targetPremium, err := h.quota.IsPremium(target)
	if err != nil {
		return err
	}
	if targetPremium {
		h.reply(ctx, peer, "The recipient already has an active subscription.")
		return nil
	}

	expiry, err := h.quota.TransferPremium(userID, target)
	if errors.Is(err, quota.ErrNoGrant) {
		h.reply(ctx, peer, "You have no active subscription to transfer.")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "transfer premium")
	}

	h.reply(ctx, peer, fmt.Sprintf("✅ Subscription transferred to %d (until %s).",
		target, expiry.UTC().Format("2006-01-02 15:04")))
	if targetPeer, peerErr := h.stored.User(ctx, target); peerErr == nil {
		h.reply(ctx, targetPeer, fmt.Sprintf("🎁 You received a premium subscription until %s.",
			expiry.UTC().Format("2006-01-02 15:04")))
	} else {
		logger.Logger().Debug("transfer recipient peer missing", zap.Int64("user", target), zap.Error(peerErr))
	}
	return nil
}
