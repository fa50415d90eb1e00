// Файл runner.go — точка оркестрации жизненного цикла: авторизация бот-токеном,
// линейный запуск сервисов, менеджер апдейтов и корректный graceful shutdown.
// Сервисы гасятся в обратном порядке запуска, MTProto-движок остаётся жив до
// остановки всех зависимых узлов.
package app

import (
	"context"
	"sync"
	"time"

	"surf-tg/internal/adapters/cli"
	"surf-tg/internal/adapters/telegram/clients"
	"surf-tg/internal/adapters/telegram/handlers"
	"surf-tg/internal/adapters/telegram/vc"
	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/config"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// premiumSweepInterval — период фоновой зачистки истёкших грантов.
const premiumSweepInterval = 10 * time.Minute

// runnerDeps — собранные подсистемы, которыми Runner управляет.
type runnerDeps struct {
	client   *telegram.Client
	store    *db.Store
	stateDB  *bbolt.DB
	registry *clients.Registry
	player   *vc.Controller
	handler  *handlers.Handler
	quota    *quota.Engine
}

// Runner инкапсулирует сценарий запуска и остановки бота: авторизация,
// линейный старт сервисов, обратный порядок остановки, интеграция с CLI.
type Runner struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc
	cfg        config.EnvConfig
	deps       runnerDeps

	cliService    *cli.Service
	updatesWG     sync.WaitGroup
	updatesCancel context.CancelFunc
}

// NewRunner подготавливает Runner с собранными зависимостями.
func NewRunner(mainCtx context.Context, mainCancel context.CancelFunc, cfg config.EnvConfig, deps runnerDeps) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		cfg:        cfg,
		deps:       deps,
	}
}

// Run — главный цикл: логин бот-токеном, запуск узлов, менеджер апдейтов,
// корректное завершение. Блокируется до завершения клиентского контекста.
// Для MTProto-движка используется отдельный контекст: сервисы успевают
// остановиться до гашения сетевого уровня.
func (r *Runner) Run(waiter *floodwait.Waiter, updMgr *tgupdates.Manager) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	var shutdownWG sync.WaitGroup
	shutdownWG.Add(1)
	go func() {
		defer shutdownWG.Done()
		<-r.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	}()

	return waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.deps.client.Run(ctx, func(ctx context.Context) error {
			logger.Info("surf-tg running...")

			self, loginErr := r.loginSelf(ctx)
			if loginErr != nil {
				return loginErr
			}

			// Записи батчей на диске принадлежат прошлому процессу: снимаем их
			// до включения приёма апдейтов, чтобы не гонять сметание с новыми
			// командами.
			r.deps.handler.RecoverBatches(ctx)

			if err := r.startAllServices(ctx, updMgr, self.ID); err != nil {
				r.stopAllServices()
				return err
			}

			// Если процесс перезапущен командой /update, отчитываемся в чат.
			r.deps.handler.FinishUpdate(ctx)

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

// loginSelf авторизует главный клиент бот-токеном, если сессия ещё не жива.
func (r *Runner) loginSelf(ctx context.Context) (*tg.User, error) {
	status, err := r.deps.client.Auth().Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		if _, err = r.deps.client.Auth().Bot(ctx, r.cfg.BotToken); err != nil {
			return nil, errors.Wrap(err, "bot auth")
		}
	}

	self, err := r.deps.client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self")
	}
	logger.Logger().Info("Logged in as:",
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

func (r *Runner) startAllServices(ctx context.Context, updMgr *tgupdates.Manager, selfID int64) error {
	// premium_sweeper
	logger.Debug("starting service premium_sweeper")
	r.deps.store.StartSweeper(ctx, premiumSweepInterval)
	logger.Debug("service premium_sweeper started")

	// cli
	logger.Debug("starting service cli")
	r.cliService = cli.NewService(r.deps.store, r.deps.quota, r.mainCancel)
	r.cliService.Start(ctx)
	logger.Debug("service cli started")

	// updates_manager
	logger.Debug("starting service updates_manager")
	updatesCtx, updatesCancel := context.WithCancel(ctx)
	r.updatesCancel = updatesCancel
	r.updatesWG.Add(1)
	go func() {
		defer r.updatesWG.Done()
		logger.Debug("updates_manager service: Run started")
		mgrErr := updMgr.Run(updatesCtx, r.deps.client.API(), selfID, tgupdates.AuthOptions{
			IsBot:  true,
			Forget: false,
			OnStart: func(context.Context) {
				logger.Debug("Updates manager started")
			},
		})
		if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
			logger.Errorf("updMgr.Run return: %v", mgrErr)
			r.mainCancel()
		}
		logger.Debugf("updates_manager service: Run finished (err=%v)", mgrErr)
	}()
	logger.Debug("service updates_manager started")

	return nil
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке.

	// updates_manager
	logger.Debug("stopping service updates_manager")
	if r.updatesCancel != nil {
		r.updatesCancel()
	}
	r.updatesWG.Wait()
	logger.Debug("service updates_manager stopped")

	// voice streams
	logger.Debug("stopping service vc_player")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second) //nolint:mnd // время на leave всех звонков
	r.deps.player.StopAll(stopCtx)
	cancel()
	logger.Debug("service vc_player stopped")

	// secondary clients
	logger.Debug("stopping service client_registry")
	r.deps.registry.StopAll()
	logger.Debug("service client_registry stopped")

	// cli
	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}

	// storage
	logger.Debug("closing storage")
	if err := r.deps.store.Close(); err != nil {
		logger.Errorf("close document store: %v", err)
	}
	if err := r.deps.stateDB.Close(); err != nil {
		logger.Errorf("close gotd state db: %v", err)
	}
	logger.Debug("storage closed")
}
