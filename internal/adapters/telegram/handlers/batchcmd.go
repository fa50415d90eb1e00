package handlers

// Команды конвейера: /batch и /single собирают параметры диалогом и запускают
// фоновый прогон, /cancel разматывает ровно один активный сценарий в порядке
// логин → настройки → батч.

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"surf-tg/internal/adapters/telegram/batch"
	"surf-tg/internal/adapters/telegram/clients"
	"surf-tg/internal/adapters/telegram/ytdl"
	"surf-tg/internal/domain/convo"
	"surf-tg/internal/domain/links"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

const maxBatchCount = 1000

// RecoverBatches отчитывается по батчам, оборванным рестартом процесса, и
// снимает их записи, чтобы префлайт не держал пользователей заблокированными.
func (h *Handler) RecoverBatches(ctx context.Context) {
	h.batch.RecoverInterrupted(ctx)
}

// cmdCancel разматывает один сценарий за вызов: логин, затем настройки, затем
// батч-диалог, затем работающий батч.
func (h *Handler) cmdCancel(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	if step, ok := h.convo.Get(userID); ok {
		switch {
		case convo.LoginInProgress(step):
			h.convo.Clear(userID)
			h.reply(ctx, peer, "Login cancelled.")
			return nil
		case convo.SettingsInProgress(step):
			h.convo.Clear(userID)
			h.reply(ctx, peer, "Settings edit cancelled.")
			return nil
		default:
			h.convo.Clear(userID)
			h.reply(ctx, peer, "Batch setup cancelled.")
			return nil
		}
	}

	requested, err := h.batch.RequestCancel(userID)
	if err != nil {
		return errors.Wrap(err, "request cancel")
	}
	if requested {
		h.reply(ctx, peer, "🛑 Cancelling after the current message…")
		return nil
	}
	h.reply(ctx, peer, "Nothing to cancel.")
	return nil
}

func (h *Handler) cmdBatch(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	if err := h.batch.Preflight(userID); err != nil {
		h.reply(ctx, peer, preflightMessage(err))
		return nil
	}
	h.convo.Clear(userID)
	h.convo.Set(userID, convo.BatchStart{})
	h.reply(ctx, peer, "Send the link to the FIRST message of the batch (t.me/...).\nUse /cancel to abort.")
	return nil
}

func (h *Handler) cmdSingle(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	if err := h.batch.Preflight(userID); err != nil {
		h.reply(ctx, peer, preflightMessage(err))
		return nil
	}
	h.convo.Clear(userID)
	h.convo.Set(userID, convo.BatchSingle{})
	h.reply(ctx, peer, "Send the link to the message (t.me/...).\nUse /cancel to abort.")
	return nil
}

func (h *Handler) stepBatchStart(ctx context.Context, userID int64, peer tg.InputPeerClass, text string) error {
	link, err := links.Parse(strings.TrimSpace(text))
	if err != nil {
		h.reply(ctx, peer, "That does not look like a t.me message link, try again or /cancel.")
		return nil
	}
	h.convo.Set(userID, convo.BatchCount{
		Start:   link.MsgID,
		ChatRef: link.ChatRef,
		Private: link.Kind == links.Private,
	})
	h.reply(ctx, peer, fmt.Sprintf("How many messages to process, starting from %d? (1-%d)", link.MsgID, maxBatchCount))
	return nil
}

func (h *Handler) stepBatchCount(ctx context.Context, userID int64, peer tg.InputPeerClass, step convo.BatchCount, text string) error {
	count, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || count < 1 {
		h.reply(ctx, peer, "Send a number, e.g. 25. Or /cancel.")
		return nil
	}
	if count > maxBatchCount {
		count = maxBatchCount
	}

	left, err := h.quota.RemainingLimit(userID)
	if err != nil {
		return err
	}
	if left != quota.Unlimited && count > left {
		count = left
		h.reply(ctx, peer, fmt.Sprintf("Daily limit allows only %d message(s) today, trimming the batch.", left))
	}

	h.convo.Clear(userID)
	h.startBatch(ctx, batch.Job{
		UserID:  userID,
		ChatRef: step.ChatRef,
		Private: step.Private,
		Start:   step.Start,
		Count:   count,
	})
	return nil
}

func (h *Handler) stepBatchSingle(ctx context.Context, userID int64, peer tg.InputPeerClass, text string) error {
	link, err := links.Parse(strings.TrimSpace(text))
	if err != nil {
		h.reply(ctx, peer, "That does not look like a t.me message link, try again or /cancel.")
		return nil
	}
	h.convo.Clear(userID)
	h.startBatch(ctx, batch.Job{
		UserID:  userID,
		ChatRef: link.ChatRef,
		Private: link.Kind == links.Private,
		Start:   link.MsgID,
		Count:   1,
	})
	return nil
}

// startBatch запускает прогон в фоне: диалог свободен сразу, прогресс идёт
// правками отдельного сообщения.
func (h *Handler) startBatch(ctx context.Context, job batch.Job) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("batch panic: %v", r)
			}
		}()
		h.batch.Run(ctx, job)
	}()
}

func preflightMessage(err error) string {
	switch {
	case errors.Is(err, batch.ErrSubscriptionRequired), errors.Is(err, ytdl.ErrSubscriptionRequired):
		return "⭐ This bot is subscription-only. See /plans."
	case errors.Is(err, batch.ErrLimitReached), errors.Is(err, ytdl.ErrLimitReached):
		return "🚫 Daily limit reached. It resets at midnight UTC, or see /plans."
	case errors.Is(err, batch.ErrNoUserBot):
		return "🤖 Add your bot first: /setbot <token>."
	case errors.Is(err, batch.ErrBatchRunning):
		return "⏳ A batch is already running. /cancel stops it."
	case errors.Is(err, ytdl.ErrDownloadRunning):
		return "⏳ A download is already running, wait for it to finish."
	case errors.Is(err, clients.ErrNoSession):
		return "🔑 Log in first: /login."
	default:
		return "Something went wrong, try again later."
	}
}

func (h *Handler) cmdYtdl(ctx context.Context, userID int64, peer tg.InputPeerClass, args string, audioOnly bool) error {
	rawURL := strings.TrimSpace(args)
	if rawURL == "" {
		usage := "/ytdl <url>"
		if audioOnly {
			usage = "/adl <url>"
		}
		h.reply(ctx, peer, "Usage: "+usage)
		return nil
	}
	if err := h.ytdl.Preflight(userID); err != nil {
		h.reply(ctx, peer, preflightMessage(err))
		return nil
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("ytdl panic: %v", r)
			}
		}()
		if err := h.ytdl.Run(ctx, userID, rawURL, audioOnly); err != nil {
			logger.Logger().Warn("external download failed", zap.Int64("user", userID), zap.Error(err))
		}
	}()
	return nil
}
