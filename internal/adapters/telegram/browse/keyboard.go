package browse

// Сборка инлайн-клавиатур браузера. Папки идут по две в ряду, файлы по одному
// с иконкой по MIME. Ряд пагинации не исчезает на краях: кнопка перенацеливается
// на ту же страницу, чтобы форма клавиатуры не прыгала.

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"surf-tg/internal/adapters/telegram/cb"
	"surf-tg/internal/adapters/telegram/vc"
	"surf-tg/internal/infra/db"

	"github.com/gotd/td/tg"
)

// ItemsPerPage — размер страницы выдачи папки.
const ItemsPerPage = 8

// FileIcon подбирает иконку по MIME-типу.
func FileIcon(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return "🎬"
	case mime == "application/pdf":
		return "📕"
	default:
		return "📄"
	}
}

// HeaderLine — строка агрегатов над выдачей папки.
func HeaderLine(l *db.Listing) string {
	others := l.FileCount - l.VideoCount - l.PDFCount
	return fmt.Sprintf("📂 %d Folders | 🎬 %d Videos | 📕 %d PDFs | 📄 %d Others",
		l.FolderCount, l.VideoCount, l.PDFCount, others)
}

// ChannelButton — канал в списке /browse.
type ChannelButton struct {
	ID    int64
	Title string
}

// ChannelsKeyboard строит список каналов, по одному в ряд.
func ChannelsKeyboard(channels []ChannelButton) *tg.ReplyInlineMarkup {
	markup := &tg.ReplyInlineMarkup{}
	for _, ch := range channels {
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{&tg.KeyboardButtonCallback{
				Text: "📺 " + ch.Title,
				Data: cb.Encode("bch", strconv.FormatInt(ch.ID, 10)),
			}},
		})
	}
	return markup
}

// FolderView — данные одной страницы папки.
type FolderView struct {
	Listing  *db.Listing
	FolderID string
	ParentID string // родитель текущей папки; для корня пуст
	ChatID   int64
	Page     int
	Playing  *vc.Status // активный поток для баннера, nil — тишина
}

// FolderKeyboard собирает клавиатуру страницы папки.
func FolderKeyboard(view FolderView) *tg.ReplyInlineMarkup {
	chat := strconv.FormatInt(view.ChatID, 10)
	markup := &tg.ReplyInlineMarkup{}

	if view.Playing != nil {
		vcChat := strconv.FormatInt(view.Playing.ChatID, 10)
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonCallback{Text: "⏹ Stop VC", Data: cb.Encode("bvs", vcChat)},
				&tg.KeyboardButtonCallback{Text: "🎧 Open Player", Data: cb.Encode("bvo", vcChat)},
			},
		})
	}

	row := tg.KeyboardButtonRow{}
	for _, folder := range view.Listing.Folders {
		row.Buttons = append(row.Buttons, &tg.KeyboardButtonCallback{
			Text: "📁 " + folder.Name,
			Data: cb.Encode("bf", folder.ID, chat, "0"),
		})
		if len(row.Buttons) == 2 {
			markup.Rows = append(markup.Rows, row)
			row = tg.KeyboardButtonRow{}
		}
	}
	if len(row.Buttons) > 0 {
		markup.Rows = append(markup.Rows, row)
	}

	for _, file := range view.Listing.Files {
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{&tg.KeyboardButtonCallback{
				Text: FileIcon(file.MIME) + " " + file.Name,
				Data: cb.Encode("bfi", strconv.Itoa(file.MsgID), chat, file.Hash, view.FolderID),
			}},
		})
	}

	back := cb.Encode("bh")
	if view.FolderID != db.RootFolder {
		parent := view.ParentID
		if parent == "" {
			parent = db.RootFolder
		}
		back = cb.Encode("bf", parent, chat, "0")
	}
	markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
		Buttons: []tg.KeyboardButtonClass{&tg.KeyboardButtonCallback{Text: "🔙 Back", Data: back}},
	})

	prevPage := view.Page
	if view.Page > 0 {
		prevPage = view.Page - 1
	}
	nextPage := view.Page
	if view.Listing.HasMore {
		nextPage = view.Page + 1
	}
	markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
		Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: "⬅️ Prev", Data: cb.Encode("bf", view.FolderID, chat, strconv.Itoa(prevPage))},
			&tg.KeyboardButtonCallback{Text: "Next ➡️", Data: cb.Encode("bf", view.FolderID, chat, strconv.Itoa(nextPage))},
		},
	})

	return markup
}

// cleanChatID срезает служебный префикс супергрупп.
func cleanChatID(chatID int64) string {
	return strings.TrimPrefix(strconv.FormatInt(chatID, 10), "-100")
}

// StreamURL — прямая ссылка на байты файла у внешнего веб-сервера.
func StreamURL(host string, file *db.FileDoc) string {
	return fmt.Sprintf("%s/%s/%s?id=%d&hash=%s",
		strings.TrimRight(host, "/"), cleanChatID(file.ChatID), url.PathEscape(file.Name), file.MsgID, file.Hash)
}

// WatchURL — страница плеера файла у внешнего веб-сервера.
func WatchURL(host string, file *db.FileDoc) string {
	return fmt.Sprintf("%s/watch/%s?id=%d&hash=%s",
		strings.TrimRight(host, "/"), cleanChatID(file.ChatID), file.MsgID, file.Hash)
}

// DeepLink — ссылка t.me на само сообщение.
func DeepLink(chatID int64, msgID int) string {
	return fmt.Sprintf("https://t.me/c/%s/%d", cleanChatID(chatID), msgID)
}

// FileMenuKeyboard — меню действий над файлом. Ветвится по MIME: видео
// получает просмотр и стрим в VC, PDF — открытие и скачивание.
func FileMenuKeyboard(file *db.FileDoc, host, folderID string) *tg.ReplyInlineMarkup {
	chat := strconv.FormatInt(file.ChatID, 10)
	msg := strconv.Itoa(file.MsgID)
	markup := &tg.ReplyInlineMarkup{}

	switch {
	case strings.HasPrefix(file.MIME, "video/"):
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonURL{Text: "▶️ Watch / Stream", URL: WatchURL(host, file)},
				&tg.KeyboardButtonCallback{Text: "🎙 Play in VC", Data: cb.Encode("bvc", msg, chat, file.Hash)},
			},
		})
	case file.MIME == "application/pdf":
		markup.Rows = append(markup.Rows, tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonURL{Text: "📕 Open PDF", URL: WatchURL(host, file)},
				&tg.KeyboardButtonURL{Text: "⬇️ Download", URL: StreamURL(host, file)},
			},
		})
	}

	markup.Rows = append(markup.Rows,
		tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonCallback{Text: "🤖 Send to Bot", Data: cb.Encode("bs", msg, chat)},
				&tg.KeyboardButtonURL{Text: "💬 Jump to Message", URL: DeepLink(file.ChatID, file.MsgID)},
			},
		},
		tg.KeyboardButtonRow{
			Buttons: []tg.KeyboardButtonClass{
				&tg.KeyboardButtonCallback{Text: "🔙 Back", Data: cb.Encode("bf", folderID, chat, "0")},
			},
		},
	)
	return markup
}
