// Пакет browse — инлайн-браузер каталога: список каналов, постраничные
// папки, меню файла и маршрутизация callback-кнопок, включая операции
// голосового чата.
package browse

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"surf-tg/internal/adapters/telegram/cb"
	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/adapters/telegram/vc"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/timeutil"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Controller обслуживает /browse и все b*-callback'и главного бота.
type Controller struct {
	api      *tg.Client
	store    *db.Store
	stored   *peers.Stored
	player   *vc.Controller
	channels func() []int64
	host     string
}

// New собирает контроллер. channels — поставщик действующего списка каналов.
func New(api *tg.Client, store *db.Store, stored *peers.Stored, player *vc.Controller, channels func() []int64, host string) *Controller {
	return &Controller{
		api:      api,
		store:    store,
		stored:   stored,
		player:   player,
		channels: channels,
		host:     host,
	}
}

// SendChannelList отправляет пользователю список каналов-источников.
func (c *Controller) SendChannelList(ctx context.Context, peer tg.InputPeerClass) error {
	text, markup := c.channelList(ctx)
	_, err := c.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:        peer,
		Message:     text,
		ReplyMarkup: markup,
		RandomID:    rand.Int63(),
	})
	return err
}

func (c *Controller) channelList(ctx context.Context) (string, *tg.ReplyInlineMarkup) {
	ids := c.channels()
	buttons := make([]ChannelButton, 0, len(ids))
	for _, id := range ids {
		buttons = append(buttons, ChannelButton{ID: id, Title: c.channelTitle(ctx, id)})
	}
	return "📚 Choose a channel to browse:", ChannelsKeyboard(buttons)
}

// channelTitle достаёт название канала; при любой неудаче показывается id.
func (c *Controller) channelTitle(ctx context.Context, chatID int64) string {
	id := chatID
	if id < 0 {
		v, err := strconv.ParseInt(cleanChatID(chatID), 10, 64)
		if err == nil {
			id = v
		}
	}
	input, err := c.stored.Channel(ctx, id)
	if err != nil {
		return strconv.FormatInt(chatID, 10)
	}
	resp, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{input})
	if err != nil {
		return strconv.FormatInt(chatID, 10)
	}
	chats, ok := resp.(*tg.MessagesChats)
	if !ok || len(chats.Chats) == 0 {
		return strconv.FormatInt(chatID, 10)
	}
	if channel, isChannel := chats.Chats[0].(*tg.Channel); isChannel {
		return channel.Title
	}
	return strconv.FormatInt(chatID, 10)
}

// HandleCallback маршрутизирует нажатия кнопок браузера и плеера.
func (c *Controller) HandleCallback(ctx context.Context, _ tg.Entities, u *tg.UpdateBotCallbackQuery) error {
	parts := cb.Split(u.Data)
	route := parts[0]

	var err error
	switch route {
	case "bh":
		err = c.openChannelList(ctx, u)
	case "bch":
		err = c.openChannelRoot(ctx, u, parts)
	case "bf":
		err = c.openFolder(ctx, u, parts)
	case "bfi":
		err = c.openFileMenu(ctx, u, parts)
	case "bs":
		err = c.sendToUser(ctx, u, parts)
	case "bvc", "bvp", "bvr", "bvk", "bvj", "bvs", "bvb", "bvo":
		err = c.handlePlayer(ctx, u, parts)
	default:
		return c.answer(ctx, u, "")
	}

	if err != nil {
		logger.Logger().Warn("browse callback",
			zap.String("route", route),
			zap.Int64("user", u.UserID),
			zap.Error(err),
		)
		return c.answerAlert(ctx, u, userMessage(err))
	}
	return c.answer(ctx, u, "")
}

// userMessage выбирает текст для тоста об ошибке.
func userMessage(err error) string {
	switch {
	case errors.Is(err, vc.ErrNoGroupCall):
		return "Start a voice chat in the channel first."
	case errors.Is(err, vc.ErrNoStream):
		return "Nothing is streaming right now."
	case errors.Is(err, db.ErrNotFound):
		return "This entry is gone."
	default:
		return "Something went wrong, try again."
	}
}

func (c *Controller) answer(ctx context.Context, u *tg.UpdateBotCallbackQuery, text string) error {
	_, err := c.api.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: u.QueryID,
		Message: text,
	})
	return err
}

func (c *Controller) answerAlert(ctx context.Context, u *tg.UpdateBotCallbackQuery, text string) error {
	_, err := c.api.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: u.QueryID,
		Message: text,
		Alert:   true,
	})
	return err
}

// inputPeer восстанавливает InputPeer чата, где живёт сообщение с клавиатурой.
func (c *Controller) inputPeer(ctx context.Context, peer tg.PeerClass) (tg.InputPeerClass, error) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return c.stored.User(ctx, p.UserID)
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}, nil
	case *tg.PeerChannel:
		input, err := c.stored.Channel(ctx, p.ChannelID)
		if err != nil {
			return nil, err
		}
		return &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash}, nil
	default:
		return nil, errors.Errorf("unexpected peer %T", peer)
	}
}

func (c *Controller) edit(ctx context.Context, u *tg.UpdateBotCallbackQuery, text string, markup tg.ReplyMarkupClass) error {
	peer, err := c.inputPeer(ctx, u.Peer)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          u.MsgID,
		Message:     text,
		ReplyMarkup: markup,
	})
	return err
}

func (c *Controller) openChannelList(ctx context.Context, u *tg.UpdateBotCallbackQuery) error {
	text, markup := c.channelList(ctx)
	return c.edit(ctx, u, text, markup)
}

func (c *Controller) openChannelRoot(ctx context.Context, u *tg.UpdateBotCallbackQuery, parts []string) error {
	if len(parts) < 2 {
		return errors.New("bad bch payload")
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse chat")
	}
	return c.renderFolder(ctx, u, db.RootFolder, chatID, 0)
}

func (c *Controller) openFolder(ctx context.Context, u *tg.UpdateBotCallbackQuery, parts []string) error {
	if len(parts) < 4 {
		return errors.New("bad bf payload")
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse chat")
	}
	page, err := strconv.Atoi(parts[3])
	if err != nil || page < 0 {
		page = 0
	}
	return c.renderFolder(ctx, u, parts[1], chatID, page)
}

func (c *Controller) renderFolder(ctx context.Context, u *tg.UpdateBotCallbackQuery, folderID string, chatID int64, page int) error {
	listing, err := c.store.ListItems(folderID, chatID, page, ItemsPerPage)
	if err != nil {
		return errors.Wrap(err, "list items")
	}

	view := FolderView{
		Listing:  listing,
		FolderID: folderID,
		ChatID:   chatID,
		Page:     page,
	}

	name := "Home"
	if folderID != db.RootFolder {
		folder, folderErr := c.store.GetFolder(folderID)
		if folderErr != nil {
			return folderErr
		}
		name = folder.Name
		view.ParentID = folder.Parent
	}

	text := fmt.Sprintf("📂 %s\n%s", name, HeaderLine(listing))
	if status, active := c.player.Active(); active {
		view.Playing = &status
		text = fmt.Sprintf("🎧 Now Playing: %s\n\n%s", status.Title, text)
	}
	return c.edit(ctx, u, text, FolderKeyboard(view))
}

func (c *Controller) openFileMenu(ctx context.Context, u *tg.UpdateBotCallbackQuery, parts []string) error {
	if len(parts) < 5 {
		return errors.New("bad bfi payload")
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse chat")
	}
	file, err := c.store.GetFileByHash(chatID, parts[3])
	if err != nil {
		return err
	}

	text := fmt.Sprintf("%s %s\n💾 %s", FileIcon(file.MIME), file.Name, timeutil.ReadableSize(file.Size))
	return c.edit(ctx, u, text, FileMenuKeyboard(file, c.host, parts[4]))
}

// sendToUser копирует сообщение канала в личку нажавшего, без атрибуции
// источника.
func (c *Controller) sendToUser(ctx context.Context, u *tg.UpdateBotCallbackQuery, parts []string) error {
	if len(parts) < 3 {
		return errors.New("bad bs payload")
	}
	msgID, err := strconv.Atoi(parts[1])
	if err != nil {
		return errors.Wrap(err, "parse msg")
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse chat")
	}

	channelID := chatID
	if v, convErr := strconv.ParseInt(cleanChatID(chatID), 10, 64); convErr == nil {
		channelID = v
	}
	from, err := c.stored.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	to, err := c.stored.User(ctx, u.UserID)
	if err != nil {
		return err
	}

	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer:   &tg.InputPeerChannel{ChannelID: from.ChannelID, AccessHash: from.AccessHash},
		ToPeer:     to,
		ID:         []int{msgID},
		RandomID:   []int64{rand.Int63()},
		DropAuthor: true,
	})
	return errors.Wrap(err, "forward to user")
}

// handlePlayer обслуживает bv*-операции голосового чата.
func (c *Controller) handlePlayer(ctx context.Context, u *tg.UpdateBotCallbackQuery, parts []string) error {
	route := parts[0]

	if route == "bvc" {
		return c.startStream(ctx, u, parts)
	}

	if len(parts) < 2 {
		return errors.New("bad player payload")
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse chat")
	}

	switch route {
	case "bvp":
		err = c.player.Pause(ctx, chatID)
	case "bvr":
		err = c.player.Resume(ctx, chatID)
	case "bvk":
		if len(parts) < 3 {
			return errors.New("bad bvk payload")
		}
		delta, convErr := strconv.Atoi(parts[2])
		if convErr != nil {
			return errors.Wrap(convErr, "parse delta")
		}
		err = c.player.SeekBy(ctx, chatID, delta)
	case "bvj":
		if len(parts) < 3 {
			return errors.New("bad bvj payload")
		}
		abs, convErr := strconv.Atoi(parts[2])
		if convErr != nil {
			return errors.Wrap(convErr, "parse position")
		}
		err = c.player.SeekTo(ctx, chatID, abs)
	case "bvs":
		if err = c.player.Stop(ctx, chatID); err != nil {
			return err
		}
		return c.openChannelList(ctx, u)
	case "bvb":
		c.player.DetachRefresh(chatID)
		return c.renderFolder(ctx, u, db.RootFolder, chatID, 0)
	case "bvo":
		// Открытие плеера падает в общий рендер ниже.
	}
	if err != nil {
		return err
	}

	return c.showPlayer(ctx, u, chatID)
}

func (c *Controller) startStream(ctx context.Context, u *tg.UpdateBotCallbackQuery, parts []string) error {
	if len(parts) < 4 {
		return errors.New("bad bvc payload")
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse chat")
	}
	file, err := c.store.GetFileByHash(chatID, parts[3])
	if err != nil {
		return err
	}

	// Движку нужны сырые байты, поэтому прямая ссылка, а не страница плеера.
	if err = c.player.StartStream(ctx, chatID, StreamURL(c.host, file), file.Name, 0); err != nil {
		return err
	}
	return c.showPlayer(ctx, u, chatID)
}

// showPlayer рисует плеер и включает автообновление, привязанное к этому
// сообщению.
func (c *Controller) showPlayer(ctx context.Context, u *tg.UpdateBotCallbackQuery, chatID int64) error {
	status, ok := c.player.StatusOf(chatID)
	if !ok {
		return vc.ErrNoStream
	}
	text, markup := vc.RenderPlayer(status)
	if err := c.edit(ctx, u, text, markup); err != nil {
		return err
	}

	peer, err := c.inputPeer(ctx, u.Peer)
	if err != nil {
		return err
	}
	msgID := u.MsgID
	// Автообновление живёт дольше обработки нажатия, его гасит сам контроллер.
	c.player.AttachRefresh(context.Background(), chatID, func(refreshCtx context.Context, st vc.Status) error {
		refreshText, refreshMarkup := vc.RenderPlayer(st)
		_, editErr := c.api.MessagesEditMessage(refreshCtx, &tg.MessagesEditMessageRequest{
			Peer:        peer,
			ID:          msgID,
			Message:     refreshText,
			ReplyMarkup: refreshMarkup,
		})
		return editErr
	})
	return nil
}
