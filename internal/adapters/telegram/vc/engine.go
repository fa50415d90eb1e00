package vc

// Движок стриминга — внешний помощник (обвязка групповых звонков живёт вне
// процесса). Помощник запускается один раз и принимает JSON-команды построчно
// на stdin, отвечая одной строкой на команду: "ok" либо "error <причина>".
// Причина с кодом GROUPCALL_NOT_FOUND пробрасывается как есть: контроллер
// переводит её в доменную ошибку.

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"sync"

	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
)

// ErrEngineDisabled — команда стриминга не настроена (VC_ENGINE_CMD пуст).
var ErrEngineDisabled = errors.New("voice streaming is not configured")

// engineCommand — одна команда помощнику.
type engineCommand struct {
	Op     string `json:"op"`
	ChatID int64  `json:"chat_id,omitempty"`
	URL    string `json:"url,omitempty"`
	Seek   int    `json:"seek,omitempty"`
}

// ProcEngine реализует Engine поверх долгоживущего подпроцесса.
// Запрос-ответ сериализуются мьютексом: помощник обрабатывает команды строго
// по одной.
type ProcEngine struct {
	command string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *json.Encoder
	stdout *bufio.Scanner
}

// NewProcEngine создаёт движок для команды запуска помощника. Команда
// интерпретируется шеллом, как и прочие внешние вызовы.
func NewProcEngine(command string) *ProcEngine {
	return &ProcEngine{command: command}
}

var _ Engine = (*ProcEngine)(nil)

// Start запускает помощник. Вызывается контроллером один раз на процесс.
func (e *ProcEngine) Start(ctx context.Context) error {
	if strings.TrimSpace(e.command) == "" {
		return ErrEngineDisabled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", e.command)
	in, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "engine stdin")
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "engine stdout")
	}
	if err = cmd.Start(); err != nil {
		return errors.Wrap(err, "start engine")
	}

	e.cmd = cmd
	e.stdin = json.NewEncoder(in)
	e.stdout = bufio.NewScanner(out)
	logger.Infof("vc engine started: %s", e.command)

	go func() {
		waitErr := cmd.Wait()
		logger.Warnf("vc engine exited: %v", waitErr)
	}()
	return nil
}

// roundTrip отправляет команду и разбирает ответную строку.
func (e *ProcEngine) roundTrip(c engineCommand) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil {
		return ErrEngineDisabled
	}
	if err := e.stdin.Encode(c); err != nil {
		return errors.Wrapf(err, "engine %s", c.Op)
	}
	if !e.stdout.Scan() {
		return errors.Errorf("engine %s: helper closed the pipe", c.Op)
	}

	reply := strings.TrimSpace(e.stdout.Text())
	if reply == "ok" {
		return nil
	}
	return errors.Errorf("engine %s: %s", c.Op, strings.TrimPrefix(reply, "error "))
}

func (e *ProcEngine) Play(_ context.Context, chatID int64, url string, seekSec int) error {
	return e.roundTrip(engineCommand{Op: "play", ChatID: chatID, URL: url, Seek: seekSec})
}

func (e *ProcEngine) Pause(_ context.Context, chatID int64) error {
	return e.roundTrip(engineCommand{Op: "pause", ChatID: chatID})
}

func (e *ProcEngine) Resume(_ context.Context, chatID int64) error {
	return e.roundTrip(engineCommand{Op: "resume", ChatID: chatID})
}

func (e *ProcEngine) Leave(_ context.Context, chatID int64) error {
	return e.roundTrip(engineCommand{Op: "leave", ChatID: chatID})
}
