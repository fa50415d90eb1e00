// Package app — верхний уровень сборки контент-шлюза: конфигурация, главный
// бот-клиент MTProto (gotd), хранилища, доменные сервисы и маршрутизация
// апдейтов связываются здесь. Отсюда стартует цикл обработки событий и
// обеспечивается корректный shutdown.
package app

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"surf-tg/internal/adapters/telegram/batch"
	"surf-tg/internal/adapters/telegram/browse"
	"surf-tg/internal/adapters/telegram/clients"
	"surf-tg/internal/adapters/telegram/handlers"
	"surf-tg/internal/adapters/telegram/ingest"
	"surf-tg/internal/adapters/telegram/payments"
	"surf-tg/internal/adapters/telegram/peers"
	"surf-tg/internal/adapters/telegram/vc"
	"surf-tg/internal/adapters/telegram/ytdl"
	"surf-tg/internal/domain/convo"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/config"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/proc"
	"surf-tg/internal/infra/storage"
	"surf-tg/internal/infra/telegram/session"
	"surf-tg/internal/infra/vault"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

// RestartExitCode сообщает супервизору, что процесс попросил рестарт (/update).
const RestartExitCode = 3

// lazyUpdateHandler откладывает установку реального обработчика апдейтов,
// разрывая цикл инициализации client ↔ updates.Manager.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// App агрегирует зависимости бота и управляет их связью. Отвечает за:
//   - конфигурацию и главный бот-клиент (авторизация токеном, API),
//   - документное хранилище, шифрохранилище секретов и реестр вторичных клиентов,
//   - доменные сервисы (индексация, браузер, конвейер, загрузчик, платежи, VC),
//   - маршрутизацию апдейтов и запуск Runner с graceful shutdown.
type App struct {
	cfg        config.EnvConfig
	mainCtx    context.Context
	mainCancel context.CancelFunc

	restart atomic.Bool
	runner  *Runner
}

// NewApp создаёт каркас приложения. Фактическая сборка происходит в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, cfg config.EnvConfig) *App {
	return &App{cfg: cfg, mainCtx: mainCtx, mainCancel: mainCancel}
}

// RestartRequested — процесс завершился по /update и должен быть перезапущен.
func (a *App) RestartRequested() bool { return a.restart.Load() }

// requestRestart взводит флаг рестарта и инициирует общий shutdown.
func (a *App) requestRestart() {
	a.restart.Store(true)
	a.mainCancel()
}

// Run собирает все подсистемы и блокируется до остановки приложения.
func (a *App) Run() error {
	logger.Info("surf-tg initializing...")

	dispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	waiter := floodwait.NewWaiter()

	// Сессия главного бота: файл в SESSION_DIR, опционально посеянный из
	// SESSION_STRING при первом старте.
	sessionPath := filepath.Join(a.cfg.SessionDir, "bot.session")
	if err := storage.EnsureDir(sessionPath); err != nil {
		return errors.Wrap(err, "ensure session dir")
	}
	sessionStorage := &session.FileStorage{Path: sessionPath}
	if err := session.Seed(a.mainCtx, sessionStorage, a.cfg.SessionString); err != nil {
		logger.Warnf("session seed skipped: %v", err)
	}

	options := telegram.Options{
		SessionStorage: sessionStorage,
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(
				rate.Limit(a.cfg.ThrottleRPS),
				a.cfg.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
	}
	client := telegram.NewClient(a.cfg.APIID, a.cfg.APIHash, options)

	// Состояние апдейтов и накопленные пиры живут в одном bbolt-файле рядом
	// с сессией.
	statePath := filepath.Join(a.cfg.SessionDir, "gotd.db")
	stateDB, err := bbolt.Open(statePath, storage.DefaultFilePerm, nil)
	if err != nil {
		return errors.Wrap(err, "open gotd state db")
	}
	stateStorage := boltstor.NewStateStorage(stateDB)
	stored := peers.NewStored(boltstor.NewPeerStorage(stateDB, []byte("peers")))

	updMgr := tgupdates.New(tgupdates.Config{
		Handler: dispatcher,
		Storage: stateStorage,
	})
	lazyHandler.set(stored.Hook(updMgr))

	// Документное хранилище и шифрохранилище секретов.
	store, err := db.Open(a.cfg.DBPath)
	if err != nil {
		_ = stateDB.Close()
		return errors.Wrap(err, "open document store")
	}
	vlt, err := vault.New(a.cfg.MasterKey, a.cfg.IVKey)
	if err != nil {
		_ = store.Close()
		_ = stateDB.Close()
		return errors.Wrap(err, "init vault")
	}

	// Доменные сервисы.
	registry := clients.NewRegistry(a.cfg.APIID, a.cfg.APIHash, a.cfg.ThrottleRPS, store, vlt)
	steps := convo.NewRegistry()
	engine := quota.New(store, quota.Limits{
		Freemium: a.cfg.FreemiumLimit,
		Premium:  a.cfg.PremiumLimit,
	})
	ingestSvc := ingest.New(store, a.cfg.AuthChannels)
	player := vc.New(vc.NewProcEngine(a.cfg.VCEngineCmd), proc.ProbeDuration)
	browseCtl := browse.New(client.API(), store, stored, player, ingestSvc.Channels, a.cfg.BaseURL)

	activeStore, err := batch.OpenActiveStore(a.cfg.ActiveBatchFile)
	if err != nil {
		_ = store.Close()
		_ = stateDB.Close()
		return errors.Wrap(err, "open active batch store")
	}
	batchSvc := batch.New(client.API(), stored, registry, store, engine, activeStore,
		a.cfg.DownloadDir, a.cfg.ThumbDir)
	ytdlSvc := ytdl.New(client.API(), stored, registry, store, engine,
		a.cfg.DownloadDir, a.cfg.YTCookies, a.cfg.InstaCookies)
	paySvc := payments.New(client.API(), stored, store, engine, a.cfg.Plans, a.cfg.OwnerID)

	handler := handlers.New(a.cfg, client.API(), store, stored, registry, steps, engine,
		ingestSvc, browseCtl, batchSvc, ytdlSvc, paySvc, a.requestRestart)
	handler.Register(&dispatcher)

	a.runner = NewRunner(a.mainCtx, a.mainCancel, a.cfg, runnerDeps{
		client:   client,
		store:    store,
		stateDB:  stateDB,
		registry: registry,
		player:   player,
		handler:  handler,
		quota:    engine,
	})
	return a.runner.Run(waiter, updMgr)
}
