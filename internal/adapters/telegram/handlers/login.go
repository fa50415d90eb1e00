package handlers

// Логин-флоу: телефон → код → облачный пароль. Шаги владеют живым клиентом
// логина, /cancel и любой выход из флоу освобождают его через реестр диалогов.

import (
	"context"
	"regexp"
	"strings"

	"surf-tg/internal/domain/convo"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/bg"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

var botTokenRe = regexp.MustCompile(`^\d+:[\w-]+$`)

func (h *Handler) cmdLogin(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	h.convo.Clear(userID)
	h.convo.Set(userID, convo.LoginPhone{})
	h.reply(ctx, peer, "Send your phone number in international format (e.g. +15551234567).\nUse /cancel to abort.")
	return nil
}

func (h *Handler) stepLoginPhone(ctx context.Context, userID int64, peer tg.InputPeerClass, text string) error {
	phone := strings.TrimSpace(text)
	if phone == "" {
		h.reply(ctx, peer, "That does not look like a phone number, try again or /cancel.")
		return nil
	}

	client := h.clients.NewLoginClient(userID)
	stop, err := bg.Connect(client, bg.WithContext(ctx))
	if err != nil {
		h.convo.Clear(userID)
		h.reply(ctx, peer, "Could not reach Telegram, try /login again later.")
		return errors.Wrap(err, "connect login client")
	}
	conn := convo.NewLoginClient(client, stop)

	sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		conn.Release()
		h.convo.Clear(userID)
		if tgerr.Is(err, "PHONE_NUMBER_INVALID") {
			h.reply(ctx, peer, "Telegram rejected this phone number. /login to retry.")
			return nil
		}
		h.reply(ctx, peer, "Could not send the code, /login to retry.")
		return errors.Wrap(err, "send code")
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		conn.Release()
		h.convo.Clear(userID)
		h.reply(ctx, peer, "Unexpected response from Telegram, /login to retry.")
		return errors.Errorf("unexpected sent code %T", sent)
	}

	h.convo.Set(userID, convo.LoginCode{Phone: phone, CodeHash: code.PhoneCodeHash, Conn: conn})
	h.reply(ctx, peer, "Code sent. Reply with the login code. You can add spaces between digits.")
	return nil
}

func (h *Handler) stepLoginCode(ctx context.Context, userID int64, peer tg.InputPeerClass, step convo.LoginCode, text string) error {
	code := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(text))

	_, err := step.Conn.Client.Auth().SignIn(ctx, step.Phone, code, step.CodeHash)
	switch {
	case err == nil:
		h.finishLogin(ctx, userID, peer)
		return nil
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		h.convo.Set(userID, convo.LoginPassword{Phone: step.Phone, Conn: step.Conn})
		h.reply(ctx, peer, "This account has 2FA enabled. Send your cloud password.")
		return nil
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		h.reply(ctx, peer, "Wrong code, try again or /cancel.")
		return nil
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		h.convo.Clear(userID)
		h.reply(ctx, peer, "The code expired, start over with /login.")
		return nil
	default:
		h.convo.Clear(userID)
		h.reply(ctx, peer, "Sign-in failed, start over with /login.")
		return errors.Wrap(err, "sign in")
	}
}

func (h *Handler) stepLoginPassword(ctx context.Context, userID int64, peer tg.InputPeerClass, step convo.LoginPassword, text string) error {
	_, err := step.Conn.Client.Auth().Password(ctx, strings.TrimSpace(text))
	switch {
	case err == nil:
		h.finishLogin(ctx, userID, peer)
		return nil
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		h.reply(ctx, peer, "Wrong password, try again or /cancel.")
		return nil
	default:
		h.convo.Clear(userID)
		h.reply(ctx, peer, "Password check failed, start over with /login.")
		return errors.Wrap(err, "check password")
	}
}

// finishLogin закрывает клиент логина и сбрасывает кэш сессии: следующий
// запрос поднимет подключение уже из сохранённого шифртекста.
func (h *Handler) finishLogin(ctx context.Context, userID int64, peer tg.InputPeerClass) {
	h.convo.Clear(userID)
	h.clients.DropSession(userID)
	logger.Infof("user %d logged in", userID)
	h.reply(ctx, peer, "✅ Logged in. The session is stored encrypted, /logout removes it.")
}

func (h *Handler) cmdLogout(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	h.convo.Clear(userID)
	h.clients.DropSession(userID)
	if err := h.store.DeleteSession(userID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "delete session")
	}
	h.reply(ctx, peer, "Session removed.")
	return nil
}

func (h *Handler) cmdSetBot(ctx context.Context, userID int64, peer tg.InputPeerClass, args string) error {
	token := strings.TrimSpace(args)
	if !botTokenRe.MatchString(token) {
		h.reply(ctx, peer, "Usage: /setbot <bot token from @BotFather>")
		return nil
	}
	if err := h.clients.StoreBotToken(userID, token); err != nil {
		return err
	}

	// Пробное подключение: невалидный токен откатывается сразу.
	if _, err := h.clients.BotClient(ctx, userID); err != nil {
		if delErr := h.store.DeleteBotToken(userID); delErr != nil {
			logger.Errorf("rollback bot token: %v", delErr)
		}
		h.reply(ctx, peer, "Telegram rejected this token, check it and retry /setbot.")
		return nil
	}
	h.reply(ctx, peer, "✅ Bot connected. Uploads will go through it.")
	return nil
}

func (h *Handler) cmdRemBot(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	h.clients.DropBot(userID)
	if err := h.store.DeleteBotToken(userID); err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "delete bot token")
	}
	h.reply(ctx, peer, "Bot token removed.")
	return nil
}
