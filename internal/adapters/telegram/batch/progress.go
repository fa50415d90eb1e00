package batch

// Прогресс скачивания: шаг отчёта зависит от размера файла, бар из десяти
// блоков, дедупликация правок по корзине шага, чтобы не спамить edit'ами.

import (
	"fmt"
	"sync"
	"time"

	"surf-tg/internal/infra/timeutil"
)

const (
	mib = 1 << 20

	barBlocks = 10
)

// StepPercent выбирает шаг отчёта по размеру: крупные файлы репортят чаще.
func StepPercent(totalBytes int64) int {
	switch {
	case totalBytes >= 100*mib:
		return 10
	case totalBytes >= 50*mib:
		return 20
	default:
		return 30
	}
}

// Bar рисует десятиблочный индикатор.
func Bar(doneBytes, totalBytes int64) string {
	filled := 0
	if totalBytes > 0 {
		filled = int(doneBytes * barBlocks / totalBytes)
	}
	if filled > barBlocks {
		filled = barBlocks
	}
	out := ""
	for i := 0; i < barBlocks; i++ {
		if i < filled {
			out += "🟢"
		} else {
			out += "🔴"
		}
	}
	return out
}

// ProgressText собирает текст правки прогресса.
func ProgressText(label string, doneBytes, totalBytes int64, elapsed time.Duration) string {
	speed := 0.0
	if elapsed > 0 {
		speed = float64(doneBytes) / elapsed.Seconds() / mib
	}
	eta := timeutil.ETA(doneBytes, totalBytes, elapsed)
	return fmt.Sprintf(
		"%s\n%s\n%s / %s | %.2f MiB/s | ETA %s",
		label,
		Bar(doneBytes, totalBytes),
		timeutil.ReadableSize(doneBytes),
		timeutil.ReadableSize(totalBytes),
		speed,
		timeutil.PlaybackClock(int(eta/time.Second)),
	)
}

// Tracker дедуплицирует отчёты: на каждую корзину шага конкретного сообщения
// приходится не больше одной правки.
type Tracker struct {
	mu   sync.Mutex
	seen map[int]map[int]struct{} // msgID → пройденные корзины
}

// NewTracker создаёт пустой трекер.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[int]map[int]struct{})}
}

// ShouldReport — пора ли репортить done/total для сообщения msgID с шагом
// stepPercent. true возвращается один раз на корзину.
func (t *Tracker) ShouldReport(msgID int, doneBytes, totalBytes int64, stepPercent int) bool {
	if totalBytes <= 0 {
		return false
	}
	percent := int(doneBytes * 100 / totalBytes)
	bucket := percent / stepPercent
	if bucket == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	buckets, ok := t.seen[msgID]
	if !ok {
		buckets = make(map[int]struct{})
		t.seen[msgID] = buckets
	}
	if _, dup := buckets[bucket]; dup {
		return false
	}
	buckets[bucket] = struct{}{}
	return true
}

// Forget очищает корзины сообщения по завершении скачивания.
func (t *Tracker) Forget(msgID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, msgID)
}
