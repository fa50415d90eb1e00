package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"surf-tg/internal/app"
	"surf-tg/internal/infra/config"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/pr"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assign stdout and stderr", zap.Error(err))
	}

	// envPath — расположение config.env с секретами и настройками.
	envPath := flag.String("env", "config.env", "path to env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg := config.Env()

	// Уровень и файловый лог (файл читает команда /logs). Вывод идёт через pr,
	// чтобы логи не рвали строку ввода консоли.
	logger.Init(cfg.LogLevel)
	logger.InitFile(logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSize,
		MaxBackups: cfg.LogFileMaxBackups,
		MaxAgeDays: cfg.LogFileMaxAge,
		Compress:   cfg.LogFileCompress,
	})
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст жизненного цикла с обработкой Ctrl+C/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := app.NewApp(ctx, stop, cfg)
	if runErr := a.Run(); runErr != nil && ctx.Err() == nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	stop()

	if a.RestartRequested() {
		logger.Info("Restarting by request...")
		os.Exit(app.RestartExitCode)
	}
	logger.Info("Graceful shutdown complete")
}
