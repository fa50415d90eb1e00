// Пакет timeutil содержит служебные функции для работы со временем и размерами:
// ключи суточных счётчиков (UTC), человекочитаемые размеры файлов, формат
// позиций воспроизведения и остатка подписки.
package timeutil

import (
	"fmt"
	"time"
)

// DayKeyLayout — формат суточного ключа статистики. Сутки считаются по UTC,
// чтобы лимиты не зависели от таймзоны процесса.
const DayKeyLayout = "2006-01-02"

// DayKey возвращает ключ суток в UTC для переданного момента времени.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayKeyLayout)
}

// UsageKey собирает составной ключ суточного счётчика: "<userID>_<YYYY-MM-DD>".
func UsageKey(userID int64, t time.Time) string {
	return fmt.Sprintf("%d_%s", userID, DayKey(t))
}

// ReadableSize форматирует размер в байтах в привычный вид (B/KB/MB/GB/TB).
func ReadableSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}

// PlaybackClock форматирует позицию воспроизведения: mm:ss до часа, далее h:mm:ss.
func PlaybackClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// TimeLeft описывает остаток до expiry в крупных единицах («3d 4h», «12m»).
// Для истёкших значений возвращает "expired".
func TimeLeft(now, expiry time.Time) string {
	d := expiry.Sub(now)
	if d <= 0 {
		return "expired"
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

// ETA оценивает оставшееся время передачи по скорости и остатку байтов.
// Нулевая скорость даёт нулевую оценку: лучше не показывать ETA, чем врать.
func ETA(doneBytes, totalBytes int64, elapsed time.Duration) time.Duration {
	if doneBytes <= 0 || totalBytes <= doneBytes || elapsed <= 0 {
		return 0
	}
	speed := float64(doneBytes) / elapsed.Seconds()
	if speed <= 0 {
		return 0
	}
	return time.Duration(float64(totalBytes-doneBytes)/speed) * time.Second
}
