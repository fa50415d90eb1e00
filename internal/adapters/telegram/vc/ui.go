package vc

// Рендер плеера: текст с позицией и 32-сегментная сетка перемотки 4×8.
// Сегменты до позиции — ▓, сегмент с позицией — 🔘, дальше — ░; каждый
// сегмент перематывает на свою абсолютную секунду.

import (
	"fmt"
	"strconv"

	"surf-tg/internal/adapters/telegram/cb"
	"surf-tg/internal/infra/timeutil"

	"github.com/gotd/td/tg"
)

const (
	barSegments = 32
	barColumns  = 8
)

// RenderPlayer собирает текст и клавиатуру плеера по снимку потока.
func RenderPlayer(st Status) (string, *tg.ReplyInlineMarkup) {
	duration := st.Duration
	if duration <= 0 {
		duration = fallbackDuration
	}

	state := "▶️ Streaming"
	if st.Paused {
		state = "⏸ Paused"
	}
	text := fmt.Sprintf(
		"🎧 **%s**\n%s\n`%s / %s`",
		st.Title,
		state,
		timeutil.PlaybackClock(st.Position),
		timeutil.PlaybackClock(st.Duration),
	)

	chat := strconv.FormatInt(st.ChatID, 10)
	rows := make([]tg.KeyboardButtonRow, 0, barSegments/barColumns+2)

	for rowStart := 0; rowStart < barSegments; rowStart += barColumns {
		row := tg.KeyboardButtonRow{}
		for i := rowStart; i < rowStart+barColumns; i++ {
			segStart := i * duration / barSegments
			row.Buttons = append(row.Buttons, &tg.KeyboardButtonCallback{
				Text: segmentGlyph(i, st.Position, duration),
				Data: cb.Encode("bvj", chat, strconv.Itoa(segStart)),
			})
		}
		rows = append(rows, row)
	}

	playPause := &tg.KeyboardButtonCallback{Text: "⏸", Data: cb.Encode("bvp", chat)}
	if st.Paused {
		playPause = &tg.KeyboardButtonCallback{Text: "▶️", Data: cb.Encode("bvr", chat)}
	}
	rows = append(rows,
		tg.KeyboardButtonRow{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: "⏪ 30s", Data: cb.Encode("bvk", chat, "-30")},
			playPause,
			&tg.KeyboardButtonCallback{Text: "30s ⏩", Data: cb.Encode("bvk", chat, "30")},
		}},
		tg.KeyboardButtonRow{Buttons: []tg.KeyboardButtonClass{
			&tg.KeyboardButtonCallback{Text: "⏹ Stop", Data: cb.Encode("bvs", chat)},
			&tg.KeyboardButtonCallback{Text: "🔙 Back", Data: cb.Encode("bvb", chat)},
		}},
	)

	return text, &tg.ReplyInlineMarkup{Rows: rows}
}

// segmentGlyph выбирает символ сегмента относительно позиции.
func segmentGlyph(index, position, duration int) string {
	segStart := index * duration / barSegments
	segEnd := (index + 1) * duration / barSegments
	switch {
	case position >= segEnd:
		return "▓"
	case position >= segStart:
		return "🔘"
	default:
		return "░"
	}
}
