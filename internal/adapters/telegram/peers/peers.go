// Пакет peers — разрешение чатов и пользователей в input-сущности MTProto.
// Каналы вторичных клиентов разрешаются по username либо сканом диалогов
// (access hash приватного канала виден только его участнику); найденные хеши
// кэшируются на процесс. Пиров главного бот-клиента запоминает хранилище,
// наполняемое хуком апдейтов.
package peers

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

// ErrChatNotFound — канал не найден среди диалогов и не разрешается по username.
var ErrChatNotFound = errors.New("chat not found or not joined")

const dialogPageLimit = 100

// ChannelCache хранит access hash каналов, найденных конкретным клиентом.
// Хеши зависят от авторизации, поэтому кэш живёт по одному на подключение.
type ChannelCache struct {
	mu       sync.Mutex
	channels map[int64]int64
}

// NewChannelCache создаёт пустой кэш.
func NewChannelCache() *ChannelCache {
	return &ChannelCache{channels: make(map[int64]int64)}
}

func (c *ChannelCache) get(id int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.channels[id]
	return hash, ok
}

func (c *ChannelCache) put(id, hash int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = hash
}

// ResolveChannel превращает ссылку чата в InputChannel. Принимает формы
// "-100<id>", "<id>", "@username", "username".
func (c *ChannelCache) ResolveChannel(ctx context.Context, api *tg.Client, ref string) (*tg.InputChannel, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrChatNotFound
	}

	if id, ok := numericChannelID(ref); ok {
		if hash, cached := c.get(id); cached {
			return &tg.InputChannel{ChannelID: id, AccessHash: hash}, nil
		}
		hash, err := c.scanDialogs(ctx, api, id)
		if err != nil {
			return nil, err
		}
		return &tg.InputChannel{ChannelID: id, AccessHash: hash}, nil
	}

	return c.resolveUsername(ctx, api, strings.TrimPrefix(ref, "@"))
}

// numericChannelID разбирает "-100<id>" и голый "<id>".
func numericChannelID(ref string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimPrefix(ref, "-100"), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func (c *ChannelCache) resolveUsername(ctx context.Context, api *tg.Client, username string) (*tg.InputChannel, error) {
	resp, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return nil, errors.Wrapf(err, "resolve @%s", username)
	}
	for _, chat := range resp.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			c.put(channel.ID, channel.AccessHash)
			return &tg.InputChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
		}
	}
	return nil, ErrChatNotFound
}

// scanDialogs постранично выгружает диалоги клиента в поисках канала с нужным
// id. Попутно кэширует хеши всех встреченных каналов, так что повторные
// обращения скана не требуют.
func (c *ChannelCache) scanDialogs(ctx context.Context, api *tg.Client, wantID int64) (int64, error) {
	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageLimit,
		})
		if err != nil {
			return 0, errors.Wrap(err, "get dialogs")
		}

		batch, err := normalizeDialogs(resp)
		if err != nil || batch == nil {
			return 0, err
		}
		if len(batch.Dialogs) == 0 {
			return 0, ErrChatNotFound
		}

		var found *int64
		for _, chat := range batch.Chats {
			if channel, ok := chat.(*tg.Channel); ok {
				c.put(channel.ID, channel.AccessHash)
				if channel.ID == wantID {
					hash := channel.AccessHash
					found = &hash
				}
			}
		}
		if found != nil {
			return *found, nil
		}

		if len(batch.Dialogs) < dialogPageLimit {
			return 0, ErrChatNotFound
		}

		last := batch.Dialogs[len(batch.Dialogs)-1]
		dialog, ok := last.(*tg.Dialog)
		if !ok {
			return 0, ErrChatNotFound
		}
		offsetID = dialog.TopMessage
		offsetDate = messageDate(batch.Messages, dialog.TopMessage)
		offsetPeer = dialogPeerToInput(dialog.Peer, batch)
	}
}

func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, ErrChatNotFound
	default:
		return nil, errors.Errorf("unexpected dialogs response: %T", resp)
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}

func dialogPeerToInput(peer tg.PeerClass, batch *tg.MessagesDialogs) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		for _, u := range batch.Users {
			if user, ok := u.(*tg.User); ok && user.ID == entity.UserID {
				return &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
			}
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		for _, c := range batch.Chats {
			if channel, ok := c.(*tg.Channel); ok && channel.ID == entity.ChannelID {
				return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}
			}
		}
	}
	return &tg.InputPeerEmpty{}
}

// Stored — пиры главного бот-клиента, накопленные из потока апдейтов.
type Stored struct {
	storage contribstorage.PeerStorage
}

// NewStored оборачивает хранилище пиров.
func NewStored(storage contribstorage.PeerStorage) *Stored {
	return &Stored{storage: storage}
}

// Hook возвращает UpdateHandler, записывающий встреченных пиров в хранилище.
func (s *Stored) Hook(next telegram.UpdateHandler) telegram.UpdateHandler {
	return contribstorage.UpdateHook(next, s.storage)
}

// User возвращает InputPeer пользователя, когда-либо писавшего боту.
func (s *Stored) User(ctx context.Context, userID int64) (tg.InputPeerClass, error) {
	peer, err := contribstorage.FindPeer(ctx, s.storage, &tg.PeerUser{UserID: userID})
	if err != nil {
		return nil, errors.Wrapf(err, "find user %d", userID)
	}
	return peer.AsInputPeer(), nil
}

// Channel возвращает InputChannel канала, видимого главному боту.
func (s *Stored) Channel(ctx context.Context, channelID int64) (*tg.InputChannel, error) {
	peer, err := contribstorage.FindPeer(ctx, s.storage, &tg.PeerChannel{ChannelID: channelID})
	if err != nil {
		return nil, errors.Wrapf(err, "find channel %d", channelID)
	}
	if peer.Channel == nil {
		return nil, ErrChatNotFound
	}
	return &tg.InputChannel{ChannelID: peer.Channel.ID, AccessHash: peer.Channel.AccessHash}, nil
}
