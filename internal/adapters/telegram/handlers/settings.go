package handlers

// Меню /settings: каждая кнопка взводит шаг диалога на один ответ, ✖️ очищает
// поле сразу. Настройки применяются батчами и внешним загрузчиком.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"surf-tg/internal/adapters/telegram/batch"
	"surf-tg/internal/adapters/telegram/cb"
	"surf-tg/internal/domain/convo"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

func (h *Handler) cmdSettings(ctx context.Context, userID int64, peer tg.InputPeerClass) error {
	settings, err := h.store.GetSettings(userID)
	if err != nil {
		return err
	}
	h.replyMarkup(ctx, peer, settingsText(settings), settingsKeyboard())
	return nil
}

func settingsText(s db.Settings) string {
	show := func(v string) string {
		if v == "" {
			return "not set"
		}
		return v
	}
	lines := []string{
		"⚙️ Settings",
		"",
		"Destination chat: " + show(s.ChatID),
		"Rename tag: " + show(s.RenameTag),
		"Caption: " + show(s.Caption),
		fmt.Sprintf("Replacements: %d", len(s.Replacements)),
		fmt.Sprintf("Delete words: %d", len(s.DeleteWords)),
		"Thumbnail: " + show(s.Thumbnail),
	}
	return strings.Join(lines, "\n")
}

func settingsKeyboard() *tg.ReplyInlineMarkup {
	row := func(label, key string) tg.KeyboardButtonRow {
		return tg.KeyboardButtonRow{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: label, Data: cb.Encode("st", key)},
			&tg.KeyboardButtonCallback{Text: "✖️", Data: cb.Encode("st", "clear", key)},
		}}
	}
	return &tg.ReplyInlineMarkup{Rows: []tg.KeyboardButtonRow{
		row("📣 Destination chat", "chat"),
		row("🏷 Rename tag", "rename"),
		row("💬 Caption", "caption"),
		row("♻️ Replacements", "replace"),
		row("🚫 Delete words", "delete"),
		row("🖼 Thumbnail", "thumb"),
	}}
}

// settingsCallback обрабатывает нажатия меню настроек.
func (h *Handler) settingsCallback(ctx context.Context, _ tg.Entities, u *tg.UpdateBotCallbackQuery) error {
	parts := cb.Split(u.Data)
	if len(parts) < 2 {
		return nil
	}
	peer, err := h.stored.User(ctx, u.UserID)
	if err != nil {
		return errors.Wrap(err, "resolve settings peer")
	}

	if parts[1] == "clear" && len(parts) == 3 {
		if err = h.clearSetting(u.UserID, parts[2]); err != nil {
			return err
		}
		h.answerCallback(ctx, u.QueryID, "Cleared")
		return h.refreshSettings(ctx, u.UserID, peer, u.MsgID)
	}

	prompts := map[string]struct {
		step   convo.Step
		prompt string
	}{
		"chat":    {convo.SettingsChat{}, "Send the destination chat id, optionally with a topic: -100123456789 or -100123456789/55."},
		"rename":  {convo.SettingsRename{}, "Send the tag to append to file names before the extension."},
		"caption": {convo.SettingsCaption{}, "Send the caption to append to every upload."},
		"replace": {convo.SettingsReplace{}, "Send replacements, one per line: old | new."},
		"delete":  {convo.SettingsDelete{}, "Send the words to delete from captions, separated by spaces."},
		"thumb":   {convo.SettingsThumb{}, "Send a photo to use as the video thumbnail."},
	}
	entry, ok := prompts[parts[1]]
	if !ok {
		return nil
	}
	h.convo.Clear(u.UserID)
	h.convo.Set(u.UserID, entry.step)
	h.answerCallback(ctx, u.QueryID, "")
	h.reply(ctx, peer, entry.prompt+"\nUse /cancel to abort.")
	return nil
}

func (h *Handler) clearSetting(userID int64, field string) error {
	return h.store.UpdateSettings(userID, func(s *db.Settings) {
		switch field {
		case "chat":
			s.ChatID = ""
		case "rename":
			s.RenameTag = ""
		case "caption":
			s.Caption = ""
		case "replace":
			s.Replacements = nil
		case "delete":
			s.DeleteWords = nil
		case "thumb":
			s.Thumbnail = ""
			thumb := filepath.Join(h.cfg.ThumbDir, strconv.FormatInt(userID, 10)+".jpg")
			if err := os.Remove(thumb); err != nil && !os.IsNotExist(err) {
				logger.Errorf("remove thumbnail: %v", err)
			}
		}
	})
}

func (h *Handler) refreshSettings(ctx context.Context, userID int64, peer tg.InputPeerClass, msgID int) error {
	settings, err := h.store.GetSettings(userID)
	if err != nil {
		return err
	}
	_, err = h.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          msgID,
		Message:     settingsText(settings),
		ReplyMarkup: settingsKeyboard(),
	})
	if err != nil && !tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		return errors.Wrap(err, "refresh settings")
	}
	return nil
}

// stepSettings применяет один ответ пользователя к полю настроек.
func (h *Handler) stepSettings(ctx context.Context, userID int64, peer tg.InputPeerClass, step convo.Step, msg *tg.Message) error {
	text := strings.TrimSpace(msg.Message)

	var err error
	switch step.(type) {
	case convo.SettingsChat:
		err = h.store.UpdateSettings(userID, func(s *db.Settings) { s.ChatID = text })
	case convo.SettingsRename:
		err = h.store.UpdateSettings(userID, func(s *db.Settings) { s.RenameTag = text })
	case convo.SettingsCaption:
		err = h.store.UpdateSettings(userID, func(s *db.Settings) { s.Caption = text })
	case convo.SettingsReplace:
		replacements := ParseReplacements(text)
		if len(replacements) == 0 {
			h.reply(ctx, peer, "No valid lines found. Format: old | new, one per line.")
			return nil
		}
		err = h.store.UpdateSettings(userID, func(s *db.Settings) { s.Replacements = replacements })
	case convo.SettingsDelete:
		words := strings.Fields(text)
		if len(words) == 0 {
			h.reply(ctx, peer, "Send at least one word, or /cancel.")
			return nil
		}
		err = h.store.UpdateSettings(userID, func(s *db.Settings) { s.DeleteWords = words })
	case convo.SettingsThumb:
		return h.stepSettingsThumb(ctx, userID, peer, msg)
	default:
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "update settings")
	}

	h.convo.Clear(userID)
	h.reply(ctx, peer, "✅ Saved.")
	return nil
}

// ParseReplacements разбирает строки "old | new" в карту замен. Строки без
// разделителя или с пустым оригиналом пропускаются.
func ParseReplacements(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		old, repl, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		old = strings.TrimSpace(old)
		if old == "" {
			continue
		}
		out[old] = strings.TrimSpace(repl)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stepSettingsThumb сохраняет фото из сообщения как миниатюру пользователя.
func (h *Handler) stepSettingsThumb(ctx context.Context, userID int64, peer tg.InputPeerClass, msg *tg.Message) error {
	media, ok := batch.ExtractFetched(msg)
	if !ok || media.Photo == nil {
		h.reply(ctx, peer, "That is not a photo. Send a photo, or /cancel.")
		return nil
	}

	if err := os.MkdirAll(h.cfg.ThumbDir, 0o755); err != nil {
		return errors.Wrap(err, "create thumb dir")
	}
	path := filepath.Join(h.cfg.ThumbDir, strconv.FormatInt(userID, 10)+".jpg")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create thumbnail")
	}
	defer f.Close()

	if _, err = downloader.NewDownloader().Download(h.api, media.Location()).Stream(ctx, f); err != nil {
		return errors.Wrap(err, "download thumbnail")
	}
	if err = h.store.UpdateSettings(userID, func(s *db.Settings) { s.Thumbnail = path }); err != nil {
		return errors.Wrap(err, "update settings")
	}

	h.convo.Clear(userID)
	h.reply(ctx, peer, "✅ Thumbnail saved.")
	return nil
}

func (h *Handler) answerCallback(ctx context.Context, queryID int64, text string) {
	_, err := h.api.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
		Message: text,
	})
	if err != nil {
		logger.Debugf("callback answer: %v", err)
	}
}
