// Package cli — административная консоль на stdin для безголовой эксплуатации:
// статистика, управление подписками и уровнем логирования без захода в чат.
// Сервис стартует фоном, читает команды из readline и корректно встраивается в
// жизненный цикл приложения: Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"surf-tg/internal/domain/quota"
	"surf-tg/internal/infra/db"
	"surf-tg/internal/infra/logger"
	"surf-tg/internal/infra/pr"
	"surf-tg/internal/infra/timeutil"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "stats", description: "Print user/premium counters and database size"},
	{name: "premium list", description: "List active subscriptions"},
	{name: "premium add <id> <value> <unit>", description: "Grant premium to a user"},
	{name: "premium rem <id>", description: "Revoke premium from a user"},
	{name: "loglevel <debug|info|warn|error>", description: "Change log verbosity at runtime"},
	{name: "exit", description: "Stop CLI and terminate the service"},
}

// Service инкапсулирует консоль. Имеет собственный cancel, запускает цикл
// чтения команд в отдельной горутине и синхронно закрывается через Stop().
type Service struct {
	store   *db.Store
	quota   *quota.Engine
	stopApp context.CancelFunc

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт консоль. stopApp — «глобальная» остановка приложения
// (команда exit, Ctrl-C на пустой строке).
func NewService(store *db.Store, engine *quota.Engine, stopApp context.CancelFunc) *Service {
	return &Service{store: store, quota: engine, stopApp: stopApp}
}

// Start запускает цикл консоли в отдельной горутине. Повторные вызовы
// безопасно игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(runCtx)
		}()
	})
}

// Stop завершает консоль: прерывает readline, отменяет локальный контекст и
// дожидается завершения цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл: печатает подсказку, ставит обработчики клавиш и читает
// команды построчно.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("Console started. Commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for details.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики клавиш readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения;
//   - Ctrl-C на непустой строке — очистка строки.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

func printCommandHelp() {
	for _, d := range commandDescriptors {
		pr.Println(fmt.Sprintf("  %-40s %s", d.name, d.description))
	}
}

func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		name, _, _ := strings.Cut(d.name, " ")
		names = append(names, name)
	}
	return strings.Join(dedup(names), ", ")
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// handleCommand выполняет одну команду. true — команда завершает консоль.
func (s *Service) handleCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "help":
		printCommandHelp()
	case "stats":
		s.handleStats()
	case "premium":
		s.handlePremium(fields[1:])
	case "loglevel":
		if len(fields) != 2 {
			pr.ErrPrintln("usage: loglevel <debug|info|warn|error>")
			return false
		}
		logger.SetLevel(fields[1])
		pr.Println("log level set to", fields[1])
	case "exit", "quit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", fields[0])
	}
	return false
}

func (s *Service) handleStats() {
	users, err := s.store.CountUsers()
	if err != nil {
		pr.ErrPrintln("stats error:", err)
		return
	}
	premium, err := s.quota.CountPremium()
	if err != nil {
		pr.ErrPrintln("stats error:", err)
		return
	}
	pr.Println(fmt.Sprintf("users: %d | premium: %d | db: %s",
		users, premium, timeutil.ReadableSize(s.store.SizeBytes())))
}

func (s *Service) handlePremium(args []string) {
	if len(args) == 0 {
		pr.ErrPrintln("usage: premium list | premium add <id> <value> <unit> | premium rem <id>")
		return
	}

	switch args[0] {
	case "list":
		grants, err := s.quota.ListPremium()
		if err != nil {
			pr.ErrPrintln("premium error:", err)
			return
		}
		if len(grants) == 0 {
			pr.Println("no active subscriptions")
			return
		}
		for _, g := range grants {
			pr.Println(fmt.Sprintf("%d until %s", g.UserID, g.ExpireAt.UTC().Format("2006-01-02 15:04")))
		}
	case "add":
		if len(args) != 4 {
			pr.ErrPrintln("usage: premium add <id> <value> <unit>")
			return
		}
		userID, idErr := strconv.ParseInt(args[1], 10, 64)
		value, valErr := strconv.Atoi(args[2])
		if idErr != nil || valErr != nil || value <= 0 {
			pr.ErrPrintln("bad id or value")
			return
		}
		expiry, err := s.quota.AddPremium(userID, value, args[3])
		if err != nil {
			pr.ErrPrintln("premium error:", err)
			return
		}
		pr.Println("granted until", expiry.UTC().Format("2006-01-02 15:04"))
	case "rem":
		if len(args) != 2 {
			pr.ErrPrintln("usage: premium rem <id>")
			return
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			pr.ErrPrintln("bad id")
			return
		}
		if err = s.quota.RevokePremium(userID); err != nil {
			pr.ErrPrintln("premium error:", err)
			return
		}
		pr.Println("revoked")
	default:
		pr.ErrPrintln("unknown premium subcommand:", args[0])
	}
}
