// Пакет vc — управление стримингом в голосовые чаты каналов. Движок стриминга
// инжектируется интерфейсом: он умеет играть URL в групповой звонок, но не
// сообщает позицию. Часы контроллера и есть истинная позиция потока.
package vc

import (
	"context"
	"strings"
	"sync"
	"time"

	"surf-tg/internal/infra/logger"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Engine — стриминговый движок групповых звонков.
type Engine interface {
	// Start поднимает движок. Вызывается один раз на процесс.
	Start(ctx context.Context) error
	// Play начинает или перезапускает проигрывание URL с отступом seek секунд.
	Play(ctx context.Context, chatID int64, url string, seekSec int) error
	Pause(ctx context.Context, chatID int64) error
	Resume(ctx context.Context, chatID int64) error
	Leave(ctx context.Context, chatID int64) error
}

// ErrNoGroupCall — в канале не запущен голосовой чат.
var ErrNoGroupCall = errors.New("no active voice chat, start one first")

// ErrNoStream — для чата нет активного потока.
var ErrNoStream = errors.New("nothing is streaming in this chat")

const (
	probeTimeout    = 15 * time.Second
	refreshInterval = 5 * time.Second

	// fallbackDuration подставляется в знаменатель, когда ffprobe не ответил.
	fallbackDuration = 7200
)

// Status — снимок состояния потока для рендера плеера.
type Status struct {
	ChatID   int64
	Title    string
	Position int // секунды
	Duration int // 0 — неизвестна
	Paused   bool
}

type stream struct {
	url            string
	title          string
	duration       int
	startedAt      time.Time
	seekOffset     int
	paused         bool
	pauseStartedAt time.Time
	cancelRefresh  context.CancelFunc
}

// Controller держит по одному активному потоку на чат.
type Controller struct {
	engine Engine
	probe  func(ctx context.Context, url string) int
	clock  func() time.Time

	startOnce sync.Once
	startErr  error

	mu      sync.Mutex
	streams map[int64]*stream
}

// New создаёт контроллер. probe — измеритель длительности источника
// (проба ffprobe), nil отключает измерение.
func New(engine Engine, probe func(ctx context.Context, url string) int) *Controller {
	return &Controller{
		engine:  engine,
		probe:   probe,
		clock:   time.Now,
		streams: make(map[int64]*stream),
	}
}

// SetClock подменяет источник времени.
func (c *Controller) SetClock(clock func() time.Time) { c.clock = clock }

func (c *Controller) ensureEngine(ctx context.Context) error {
	c.startOnce.Do(func() {
		c.startErr = c.engine.Start(ctx)
	})
	return c.startErr
}

// mapEngineErr переводит ошибку движка в доменную.
func mapEngineErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "GROUPCALL_NOT_FOUND") {
		return ErrNoGroupCall
	}
	return err
}

// StartStream запускает поток в голосовой чат канала, вытесняя предыдущий
// поток этого чата. Длительность меряется параллельно с запуском.
func (c *Controller) StartStream(ctx context.Context, chatID int64, url, title string, seekSec int) error {
	if err := c.ensureEngine(ctx); err != nil {
		return mapEngineErr(err)
	}

	durationCh := make(chan int, 1)
	if c.probe != nil {
		go func() {
			probeCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			defer cancel()
			durationCh <- c.probe(probeCtx, url)
		}()
	} else {
		durationCh <- 0
	}

	if err := c.engine.Play(ctx, chatID, url, seekSec); err != nil {
		return mapEngineErr(err)
	}

	duration := <-durationCh

	c.mu.Lock()
	if prev, ok := c.streams[chatID]; ok && prev.cancelRefresh != nil {
		prev.cancelRefresh()
	}
	c.streams[chatID] = &stream{
		url:        url,
		title:      title,
		duration:   duration,
		startedAt:  c.clock(),
		seekOffset: seekSec,
	}
	c.mu.Unlock()

	logger.Logger().Info("vc stream started",
		zap.Int64("chat", chatID),
		zap.String("title", title),
		zap.Int("duration", duration),
	)
	return nil
}

// Stop останавливает поток: гасит автообновление, покидает звонок, снимает
// состояние.
func (c *Controller) Stop(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	st, ok := c.streams[chatID]
	delete(c.streams, chatID)
	c.mu.Unlock()
	if !ok {
		return ErrNoStream
	}
	if st.cancelRefresh != nil {
		st.cancelRefresh()
	}
	return mapEngineErr(c.engine.Leave(ctx, chatID))
}

// Pause ставит поток на паузу и запоминает её начало.
func (c *Controller) Pause(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	st, ok := c.streams[chatID]
	if ok && !st.paused {
		st.paused = true
		st.pauseStartedAt = c.clock()
	}
	c.mu.Unlock()
	if !ok {
		return ErrNoStream
	}
	return mapEngineErr(c.engine.Pause(ctx, chatID))
}

// Resume снимает паузу, сдвигая startedAt на длительность простоя: позиция
// потока не должна прыгнуть вперёд.
func (c *Controller) Resume(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	st, ok := c.streams[chatID]
	if ok && st.paused {
		st.startedAt = st.startedAt.Add(c.clock().Sub(st.pauseStartedAt))
		st.paused = false
	}
	c.mu.Unlock()
	if !ok {
		return ErrNoStream
	}
	return mapEngineErr(c.engine.Resume(ctx, chatID))
}

// SeekBy сдвигает позицию на delta секунд относительно текущей.
func (c *Controller) SeekBy(ctx context.Context, chatID int64, deltaSec int) error {
	pos, err := c.Position(chatID)
	if err != nil {
		return err
	}
	return c.SeekTo(ctx, chatID, pos+deltaSec)
}

// SeekTo перематывает на абсолютную позицию: перезапуск проигрывания с -ss и
// сброс часов.
func (c *Controller) SeekTo(ctx context.Context, chatID int64, absSec int) error {
	c.mu.Lock()
	st, ok := c.streams[chatID]
	var url string
	var target int
	if ok {
		target = clampPosition(absSec, st.duration)
		url = st.url
	}
	c.mu.Unlock()
	if !ok {
		return ErrNoStream
	}

	if err := c.engine.Play(ctx, chatID, url, target); err != nil {
		return mapEngineErr(err)
	}

	c.mu.Lock()
	if st, ok = c.streams[chatID]; ok {
		st.startedAt = c.clock()
		st.seekOffset = target
		st.paused = false
	}
	c.mu.Unlock()
	return nil
}

func clampPosition(pos, duration int) int {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}

// Position возвращает текущую позицию потока в секундах.
func (c *Controller) Position(chatID int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[chatID]
	if !ok {
		return 0, ErrNoStream
	}
	return c.positionLocked(st), nil
}

func (c *Controller) positionLocked(st *stream) int {
	var elapsed time.Duration
	if st.paused {
		elapsed = st.pauseStartedAt.Sub(st.startedAt)
	} else {
		elapsed = c.clock().Sub(st.startedAt)
	}
	return st.seekOffset + int(elapsed/time.Second)
}

// StatusOf возвращает снимок потока чата.
func (c *Controller) StatusOf(chatID int64) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[chatID]
	if !ok {
		return Status{}, false
	}
	return Status{
		ChatID:   chatID,
		Title:    st.title,
		Position: c.positionLocked(st),
		Duration: st.duration,
		Paused:   st.paused,
	}, true
}

// Active возвращает любой активный поток. Используется browse-баннером
// "Now Playing".
func (c *Controller) Active() (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for chatID, st := range c.streams {
		return Status{
			ChatID:   chatID,
			Title:    st.title,
			Position: c.positionLocked(st),
			Duration: st.duration,
			Paused:   st.paused,
		}, true
	}
	return Status{}, false
}

// AttachRefresh запускает автообновление плеера: каждые 5 секунд render
// пересобирает вывод по свежему статусу, edit применяет его. Предыдущее
// автообновление чата отменяется.
func (c *Controller) AttachRefresh(ctx context.Context, chatID int64, edit func(ctx context.Context, st Status) error) {
	c.mu.Lock()
	st, ok := c.streams[chatID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if st.cancelRefresh != nil {
		st.cancelRefresh()
	}
	refreshCtx, cancel := context.WithCancel(ctx)
	st.cancelRefresh = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-refreshCtx.Done():
				return
			case <-ticker.C:
				status, alive := c.StatusOf(chatID)
				if !alive {
					return
				}
				if err := edit(refreshCtx, status); err != nil && !strings.Contains(err.Error(), "MESSAGE_NOT_MODIFIED") {
					logger.Logger().Debug("player refresh", zap.Int64("chat", chatID), zap.Error(err))
				}
			}
		}
	}()
}

// DetachRefresh отменяет автообновление, не трогая поток (уход со страницы
// плеера).
func (c *Controller) DetachRefresh(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.streams[chatID]; ok && st.cancelRefresh != nil {
		st.cancelRefresh()
		st.cancelRefresh = nil
	}
}

// StopAll гасит все потоки. Вызывается на shutdown.
func (c *Controller) StopAll(ctx context.Context) {
	c.mu.Lock()
	chats := make([]int64, 0, len(c.streams))
	for chatID := range c.streams {
		chats = append(chats, chatID)
	}
	c.mu.Unlock()

	for _, chatID := range chats {
		if err := c.Stop(ctx, chatID); err != nil && !errors.Is(err, ErrNoStream) {
			logger.Errorf("stop stream in %d: %v", chatID, err)
		}
	}
}
