// Пакет cb — кодирование callback-данных инлайн-кнопок. Телеграм ограничивает
// payload 64 байтами; при переполнении хвост отрезается, потому что ведущие
// сегменты (маршрут и идентификаторы) значимее хвостовых.
package cb

import "strings"

// MaxLen — лимит callback-данных Bot API.
const MaxLen = 64

// Sep разделяет сегменты маршрута.
const Sep = "|"

// Encode склеивает сегменты и обрезает до лимита.
func Encode(parts ...string) []byte {
	data := strings.Join(parts, Sep)
	if len(data) > MaxLen {
		data = data[:MaxLen]
	}
	return []byte(data)
}

// Split разбирает данные обратно в сегменты.
func Split(data []byte) []string {
	return strings.Split(string(data), Sep)
}

// Route возвращает ведущий сегмент данных.
func Route(data []byte) string {
	s := string(data)
	if i := strings.Index(s, Sep); i >= 0 {
		return s[:i]
	}
	return s
}
