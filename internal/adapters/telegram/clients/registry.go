// Пакет clients — реестр вторичных MTProto-клиентов: на каждого пользователя
// лениво поднимаются до двух подключений, сессионное (читает закрытый контент)
// и бот-клиент (заливает от имени пользовательского бота). Подключения живут в
// фоне через bg.Connect и переиспользуются между командами.
package clients

import (
	"context"
	"sync"

	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/vault"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/bg"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoSession — у пользователя нет сохранённой сессии (/login не выполнялся).
var ErrNoSession = errors.New("no saved session, /login first")

// ErrNoBot — у пользователя нет сохранённого бот-токена (/setbot не выполнялся).
var ErrNoBot = errors.New("no saved bot token, /setbot first")

// ErrSessionRevoked — сессия в хранилище есть, но Telegram её больше не принимает.
var ErrSessionRevoked = errors.New("saved session is no longer authorized")

// Handle — живое фоновое подключение.
type Handle struct {
	Client *telegram.Client
	API    *tg.Client

	stop bg.StopFunc
}

// Close останавливает фоновый цикл подключения.
func (h *Handle) Close() error {
	if h == nil || h.stop == nil {
		return nil
	}
	return h.stop()
}

// Registry лениво создаёт и кэширует подключения пользователей.
type Registry struct {
	apiID   int
	apiHash string
	rps     int

	store *db.Store
	vault *vault.Vault

	mu       sync.Mutex
	sessions map[int64]*Handle
	bots     map[int64]*Handle
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(apiID int, apiHash string, rps int, store *db.Store, v *vault.Vault) *Registry {
	return &Registry{
		apiID:    apiID,
		apiHash:  apiHash,
		rps:      rps,
		store:    store,
		vault:    v,
		sessions: make(map[int64]*Handle),
		bots:     make(map[int64]*Handle),
	}
}

// options собирает опции вторичного клиента: сглаживание FLOOD_WAIT и общий
// лимит RPC, как у главного клиента.
func (r *Registry) options(storage session.Storage) telegram.Options {
	return telegram.Options{
		SessionStorage: storage,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(rate.Limit(r.rps), r.rps*2),
		},
	}
}

// StoreBotToken шифрует и сохраняет токен пользовательского бота, сбрасывая
// закэшированное подключение старого токена.
func (r *Registry) StoreBotToken(userID int64, token string) error {
	ciphertext, err := r.vault.Encrypt(token)
	if err != nil {
		return errors.Wrap(err, "encrypt bot token")
	}
	if err = r.store.SaveBotToken(userID, ciphertext); err != nil {
		return errors.Wrap(err, "save bot token")
	}
	r.DropBot(userID)
	return nil
}

// NewLoginClient строит клиент для интерактивного логина пользователя.
// Хранилище сессии то же, что у SessionClient: успешная авторизация сразу
// оседает в базе шифртекстом.
func (r *Registry) NewLoginClient(userID int64) *telegram.Client {
	storage := &VaultSessionStorage{UserID: userID, Store: r.store, Vault: r.vault}
	return telegram.NewClient(r.apiID, r.apiHash, r.options(storage))
}

// SessionClient возвращает живой клиент пользовательской сессии, поднимая его
// при первом обращении. ErrNoSession — сессии нет; ErrSessionRevoked — сессия
// отозвана на стороне Telegram (запись при этом удаляется).
func (r *Registry) SessionClient(ctx context.Context, userID int64) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.sessions[userID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	if _, err := r.store.GetSession(userID); errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoSession
	} else if err != nil {
		return nil, err
	}

	storage := &VaultSessionStorage{UserID: userID, Store: r.store, Vault: r.vault}
	client := telegram.NewClient(r.apiID, r.apiHash, r.options(storage))

	stop, err := bg.Connect(client, bg.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "connect session client")
	}

	status, err := client.Auth().Status(ctx)
	if err != nil {
		_ = stop()
		return nil, errors.Wrap(err, "session auth status")
	}
	if !status.Authorized {
		_ = stop()
		if delErr := r.store.DeleteSession(userID); delErr != nil {
			logger.Logger().Warn("drop revoked session", zap.Int64("user", userID), zap.Error(delErr))
		}
		return nil, ErrSessionRevoked
	}

	h := &Handle{Client: client, API: client.API(), stop: stop}
	r.mu.Lock()
	if cached, ok := r.sessions[userID]; ok {
		// Параллельный вызов успел раньше, наше подключение лишнее.
		r.mu.Unlock()
		_ = h.Close()
		return cached, nil
	}
	r.sessions[userID] = h
	r.mu.Unlock()

	logger.Logger().Info("session client connected", zap.Int64("user", userID))
	return h, nil
}

// BotClient возвращает живой клиент пользовательского бота. Сессия бота
// держится только в памяти: при рестарте процесс авторизуется токеном заново.
func (r *Registry) BotClient(ctx context.Context, userID int64) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.bots[userID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	ciphertext, err := r.store.GetBotToken(userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoBot
	} else if err != nil {
		return nil, err
	}
	token, err := r.vault.Decrypt(ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt bot token")
	}

	client := telegram.NewClient(r.apiID, r.apiHash, r.options(&session.StorageMemory{}))
	stop, err := bg.Connect(client, bg.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "connect bot client")
	}
	if _, err = client.Auth().Bot(ctx, token); err != nil {
		_ = stop()
		return nil, errors.Wrap(err, "bot auth")
	}

	h := &Handle{Client: client, API: client.API(), stop: stop}
	r.mu.Lock()
	if cached, ok := r.bots[userID]; ok {
		r.mu.Unlock()
		_ = h.Close()
		return cached, nil
	}
	r.bots[userID] = h
	r.mu.Unlock()

	logger.Logger().Info("user bot client connected", zap.Int64("user", userID))
	return h, nil
}

// DropSession закрывает и забывает сессионный клиент (логаут, отзыв).
func (r *Registry) DropSession(userID int64) {
	r.mu.Lock()
	h := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()
	if err := h.Close(); err != nil {
		logger.Logger().Warn("stop session client", zap.Int64("user", userID), zap.Error(err))
	}
}

// DropBot закрывает и забывает бот-клиент пользователя.
func (r *Registry) DropBot(userID int64) {
	r.mu.Lock()
	h := r.bots[userID]
	delete(r.bots, userID)
	r.mu.Unlock()
	if err := h.Close(); err != nil {
		logger.Logger().Warn("stop bot client", zap.Int64("user", userID), zap.Error(err))
	}
}

// StopAll закрывает все подключения. Вызывается на shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions)+len(r.bots))
	for _, h := range r.sessions {
		handles = append(handles, h)
	}
	for _, h := range r.bots {
		handles = append(handles, h)
	}
	r.sessions = make(map[int64]*Handle)
	r.bots = make(map[int64]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			logger.Errorf("stop secondary client: %v", err)
		}
	}
}
