package handlers

// Команды владельца: управление подписками и тарифами, рассылка, статистика,
// самообновление и серверные утилиты.

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/proc"
	"surf-tg/internal/infra/storage"
	"surf-tg/internal/infra/timeutil"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
)

const (
	defaultLogLines = 50
	maxLogLines     = 200

	shellOutputLimit = 3800
)

// UpdateFlag — маркер перезапуска: после рестарта сообщение с прогрессом
// обновления правится на итоговое.
type UpdateFlag struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// WriteUpdateFlag сохраняет маркер перезапуска.
func WriteUpdateFlag(path string, flag UpdateFlag) error {
	raw, err := json.Marshal(flag)
	if err != nil {
		return errors.Wrap(err, "encode update flag")
	}
	return storage.AtomicWriteFile(path, raw)
}

// ConsumeUpdateFlag читает и удаляет маркер перезапуска. false — маркера нет.
func ConsumeUpdateFlag(path string) (UpdateFlag, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return UpdateFlag{}, false
	}
	_ = os.Remove(path)
	var flag UpdateFlag
	if err = json.Unmarshal(raw, &flag); err != nil {
		logger.Errorf("decode update flag: %v", err)
		return UpdateFlag{}, false
	}
	return flag, true
}

func (h *Handler) cmdAddPremium(ctx context.Context, peer tg.InputPeerClass, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		h.reply(ctx, peer, "Usage: /add <user id> <value> <unit: min|hours|days|weeks|month|year|decades>")
		return nil
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		h.reply(ctx, peer, "Bad user id.")
		return nil
	}
	value, err := strconv.Atoi(fields[1])
	if err != nil || value <= 0 {
		h.reply(ctx, peer, "Bad duration value.")
		return nil
	}

	expiry, err := h.quota.AddPremium(userID, value, fields[2])
	if err != nil {
		h.reply(ctx, peer, "Grant failed: "+err.Error())
		return nil
	}
	h.reply(ctx, peer, fmt.Sprintf("✅ Premium for %d until %s.", userID, expiry.UTC().Format("2006-01-02 15:04")))

	if userPeer, peerErr := h.stored.User(ctx, userID); peerErr == nil {
		h.reply(ctx, userPeer, fmt.Sprintf("🎉 You got premium until %s.", expiry.UTC().Format("2006-01-02 15:04")))
	}
	return nil
}

func (h *Handler) cmdRemPremium(ctx context.Context, peer tg.InputPeerClass, args string) error {
	userID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		h.reply(ctx, peer, "Usage: /rem <user id>")
		return nil
	}
	if err = h.quota.RevokePremium(userID); err != nil {
		return errors.Wrap(err, "revoke premium")
	}
	h.reply(ctx, peer, fmt.Sprintf("Premium revoked for %d.", userID))
	return nil
}

func (h *Handler) cmdUsers(ctx context.Context, peer tg.InputPeerClass) error {
	grants, err := h.quota.ListPremium()
	if err != nil {
		return errors.Wrap(err, "list premium")
	}
	if len(grants) == 0 {
		h.reply(ctx, peer, "No active subscriptions.")
		return nil
	}

	lines := make([]string, 0, len(grants)+1)
	lines = append(lines, fmt.Sprintf("⭐ Active subscriptions: %d", len(grants)))
	for _, g := range grants {
		line := fmt.Sprintf("• %d — until %s", g.UserID, g.ExpireAt.UTC().Format("2006-01-02"))
		if g.TransferredFrom != 0 {
			line += fmt.Sprintf(" (from %d)", g.TransferredFrom)
		}
		lines = append(lines, line)
	}
	h.reply(ctx, peer, strings.Join(lines, "\n"))
	return nil
}

// cmdBroadcast рассылает отвеченное сообщение всем пользователям бота.
func (h *Handler) cmdBroadcast(ctx context.Context, peer tg.InputPeerClass, msg *tg.Message) error {
	reply, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok || reply.ReplyToMsgID == 0 {
		h.reply(ctx, peer, "Reply to the message you want to broadcast with /broadcast.")
		return nil
	}

	userIDs, err := h.store.ListUserIDs()
	if err != nil {
		return errors.Wrap(err, "list users")
	}
	progressID := h.reply(ctx, peer, fmt.Sprintf("📣 Broadcasting to %d user(s)…", len(userIDs)))

	sent, failed := 0, 0
	for i, userID := range userIDs {
		target, peerErr := h.stored.User(ctx, userID)
		if peerErr != nil {
			failed++
			continue
		}
		_, sendErr := h.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer:   peer,
			ID:         []int{reply.ReplyToMsgID},
			RandomID:   []int64{rand.Int63()},
			ToPeer:     target,
			DropAuthor: true,
		})
		if sendErr != nil {
			failed++
		} else {
			sent++
		}
		if (i+1)%25 == 0 {
			h.editText(ctx, peer, progressID, fmt.Sprintf("📣 Broadcasting… %d/%d", i+1, len(userIDs)))
		}
	}

	h.editText(ctx, peer, progressID, fmt.Sprintf("📣 Broadcast done: %d sent, %d failed.", sent, failed))
	return nil
}

func (h *Handler) cmdBotStats(ctx context.Context, peer tg.InputPeerClass) error {
	users, err := h.store.CountUsers()
	if err != nil {
		return errors.Wrap(err, "count users")
	}
	premium, err := h.quota.CountPremium()
	if err != nil {
		return errors.Wrap(err, "count premium")
	}

	h.reply(ctx, peer, strings.Join([]string{
		"📊 Bot stats",
		fmt.Sprintf("Users: %d", users),
		fmt.Sprintf("Premium: %d", premium),
		"Database: " + timeutil.ReadableSize(h.store.SizeBytes()),
		"Uptime: " + time.Since(h.startedAt).Round(time.Second).String(),
	}, "\n"))
	return nil
}

func (h *Handler) cmdAddPlan(ctx context.Context, peer tg.InputPeerClass, args string) error {
	fields := strings.Fields(args)
	if len(fields) < 5 {
		h.reply(ctx, peer, "Usage: /addplan <key> <stars> <duration> <unit> <label…>")
		return nil
	}
	stars, starsErr := strconv.Atoi(fields[1])
	duration, durErr := strconv.Atoi(fields[2])
	if starsErr != nil || durErr != nil || stars <= 0 || duration <= 0 {
		h.reply(ctx, peer, "Stars and duration must be positive numbers.")
		return nil
	}

	plan := db.Plan{
		Key:      fields[0],
		Label:    strings.Join(fields[4:], " "),
		Stars:    stars,
		Duration: duration,
		Unit:     fields[3],
	}
	if err := h.store.PutPlan(plan); err != nil {
		return errors.Wrap(err, "put plan")
	}
	h.reply(ctx, peer, fmt.Sprintf("✅ Plan %q saved: %s, %d ⭐.", plan.Key, plan.Label, plan.Stars))
	return nil
}

func (h *Handler) cmdDelPlan(ctx context.Context, peer tg.InputPeerClass, args string) error {
	key := strings.TrimSpace(args)
	if key == "" {
		h.reply(ctx, peer, "Usage: /delplan <key>")
		return nil
	}
	if err := h.store.DeletePlan(key); err != nil {
		return errors.Wrap(err, "delete plan")
	}
	h.reply(ctx, peer, fmt.Sprintf("Plan %q removed.", key))
	return nil
}

func (h *Handler) cmdListPlans(ctx context.Context, peer tg.InputPeerClass) error {
	plans, err := h.payments.Plans()
	if err != nil {
		return errors.Wrap(err, "list plans")
	}
	lines := make([]string, 0, len(plans)+1)
	lines = append(lines, "💳 Plans")
	for _, p := range plans {
		lines = append(lines, fmt.Sprintf("• %s: %s, %d ⭐, %d %s", p.Key, p.Label, p.Stars, p.Duration, p.Unit))
	}
	h.reply(ctx, peer, strings.Join(lines, "\n"))
	return nil
}

func (h *Handler) cmdCleanService(ctx context.Context, peer tg.InputPeerClass, args string) error {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on":
		if err := h.store.SetCleanService(true); err != nil {
			return err
		}
		h.reply(ctx, peer, "Service-message cleanup enabled.")
	case "off":
		if err := h.store.SetCleanService(false); err != nil {
			return err
		}
		h.reply(ctx, peer, "Service-message cleanup disabled.")
	default:
		h.reply(ctx, peer, "Usage: /cleanservice on|off")
	}
	return nil
}

// cmdUpdate подтягивает свежий код и просит супервизор перезапустить процесс.
// Сообщение о прогрессе правится на «restarted» после старта новой версии.
func (h *Handler) cmdUpdate(ctx context.Context, peer tg.InputPeerClass, msg *tg.Message) error {
	if h.cfg.UpstreamRepo == "" {
		h.reply(ctx, peer, "UPSTREAM_REPO is not configured.")
		return nil
	}

	progressID := h.reply(ctx, peer, "🔄 Updating from upstream…")

	if out, err := proc.Git(ctx, ".", "fetch", h.cfg.UpstreamRepo, h.cfg.UpstreamBranch); err != nil {
		h.editText(ctx, peer, progressID, "❌ git fetch failed:\n"+truncate(out, shellOutputLimit))
		return nil
	}
	if out, err := proc.Git(ctx, ".", "reset", "--hard", "FETCH_HEAD"); err != nil {
		h.editText(ctx, peer, progressID, "❌ git reset failed:\n"+truncate(out, shellOutputLimit))
		return nil
	}

	peerUser, ok := msg.PeerID.(*tg.PeerUser)
	if ok {
		if err := WriteUpdateFlag(h.cfg.UpdateFlagFile, UpdateFlag{ChatID: peerUser.UserID, MessageID: progressID}); err != nil {
			logger.Errorf("write update flag: %v", err)
		}
	}
	h.editText(ctx, peer, progressID, "✅ Updated, restarting…")
	h.restart()
	return nil
}

// FinishUpdate правит сообщение из маркера перезапуска после старта новой
// версии процесса.
func (h *Handler) FinishUpdate(ctx context.Context) {
	flag, ok := ConsumeUpdateFlag(h.cfg.UpdateFlagFile)
	if !ok {
		return
	}
	peer, err := h.stored.User(ctx, flag.ChatID)
	if err != nil {
		logger.Errorf("update flag peer: %v", err)
		return
	}
	h.editText(ctx, peer, flag.MessageID, "✅ Updated and restarted.")
}

func (h *Handler) cmdLogs(ctx context.Context, peer tg.InputPeerClass, args string) error {
	arg := strings.TrimSpace(args)
	if strings.EqualFold(arg, "file") {
		return h.sendLogFile(ctx, peer)
	}

	lines := defaultLogLines
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			h.reply(ctx, peer, "Usage: /logs [lines|file]")
			return nil
		}
		lines = n
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}

	raw, err := os.ReadFile(h.cfg.LogFile)
	if err != nil {
		h.reply(ctx, peer, "Log file is not available.")
		return nil
	}
	h.reply(ctx, peer, truncate(TailLines(string(raw), lines), shellOutputLimit))
	return nil
}

// TailLines возвращает последние n строк текста.
func TailLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) sendLogFile(ctx context.Context, peer tg.InputPeerClass) error {
	file, err := uploader.NewUploader(h.api).FromPath(ctx, h.cfg.LogFile)
	if err != nil {
		h.reply(ctx, peer, "Log file is not available.")
		return nil
	}
	_, err = h.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer: peer,
		Media: &tg.InputMediaUploadedDocument{
			File:     file,
			MimeType: "text/plain",
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: "log.txt"},
			},
		},
		RandomID: rand.Int63(),
	})
	return errors.Wrap(err, "send log file")
}

func (h *Handler) cmdStatus(ctx context.Context, peer tg.InputPeerClass) error {
	channels := make([]string, 0, len(h.ingest.Channels()))
	for _, id := range h.ingest.Channels() {
		channels = append(channels, strconv.FormatInt(id, 10))
	}

	h.reply(ctx, peer, strings.Join([]string{
		"⚙️ Runtime status",
		"Base URL: " + h.cfg.BaseURL,
		"Authorized channels: " + strings.Join(channels, ", "),
		fmt.Sprintf("Limits: freemium %d / premium %d", h.cfg.FreemiumLimit, h.cfg.PremiumLimit),
		fmt.Sprintf("Workers: %d", h.cfg.Workers),
		"Uptime: " + time.Since(h.startedAt).Round(time.Second).String(),
	}, "\n"))
	return nil
}

func (h *Handler) cmdShell(ctx context.Context, peer tg.InputPeerClass, args string) error {
	command := strings.TrimSpace(args)
	if command == "" {
		h.reply(ctx, peer, "Usage: /sh <command>")
		return nil
	}

	out, err := proc.Shell(ctx, command)
	if err != nil {
		out = out + "\n" + err.Error()
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	h.reply(ctx, peer, truncate(out, shellOutputLimit))
	return nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
