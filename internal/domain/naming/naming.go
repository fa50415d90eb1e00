// Пакет naming — выведение и преобразование имён файлов и подписей:
// заголовки для индексации, безопасные имена при сохранении на диск,
// пользовательские rename-теги и шаблоны подписи.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// maxFilenameLen — предел длины имени на диске (ограничение большинства ФС).
const maxFilenameLen = 255

// punctRe — знаки, схлопываемые в пробел при выведении заголовка.
var punctRe = regexp.MustCompile(`[.,|_',]`)

// unsafeRe — символы, запрещённые в именах файлов.
var unsafeRe = regexp.MustCompile(`[<>:"/\\|?*']`)

// DeriveTitle выводит отображаемый заголовок файла для индекса: берёт первый
// непустой кандидат (имя файла, первая строка подписи, file id), срезает
// расширение и схлопывает пунктуацию в пробелы.
func DeriveTitle(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if i := strings.IndexByte(c, '\n'); i >= 0 {
			c = strings.TrimSpace(c[:i])
		}
		if ext := filepath.Ext(c); ext != "" && len(ext) <= 5 {
			c = strings.TrimSuffix(c, ext)
		}
		c = strings.Join(strings.Fields(punctRe.ReplaceAllString(c, " ")), " ")
		if c != "" {
			return c
		}
	}
	return ""
}

// HashPrefix возвращает 6-символьный префикс уникального file id — короткий
// контентный хеш записи.
func HashPrefix(uniqueFileID string) string {
	if len(uniqueFileID) <= 6 {
		return uniqueFileID
	}
	return uniqueFileID[:6]
}

// SanitizeFilename готовит имя для записи на диск: убирает запрещённые
// символы, обрезает пробелы и ограничивает длину. Пустой результат заменяется
// меткой времени — файл без имени недопустим.
func SanitizeFilename(name string, now time.Time) string {
	cleaned := strings.TrimSpace(unsafeRe.ReplaceAllString(name, ""))
	if cleaned == "" || cleaned == filepath.Ext(cleaned) {
		cleaned = fmt.Sprintf("file_%s%s", now.UTC().Format("20060102_150405"), filepath.Ext(name))
		cleaned = strings.TrimSpace(unsafeRe.ReplaceAllString(cleaned, ""))
	}
	if len(cleaned) > maxFilenameLen {
		ext := filepath.Ext(cleaned)
		cleaned = cleaned[:maxFilenameLen-len(ext)] + ext
	}
	return cleaned
}

// ApplyRenameTag вставляет пользовательский тег перед расширением:
// "movie.mkv" + "@chan" → "movie @chan.mkv". Пустой тег — no-op.
func ApplyRenameTag(name, tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return base + " " + tag + ext
}

// TransformCaption применяет настройки пользователя к исходной подписи:
// сначала замены find→replace, затем удаление слов; если задана собственная
// подпись, она приклеивается через пустую строку. Обе пустые — пустой результат.
func TransformCaption(original, userCaption string, replacements map[string]string, deleteWords []string) string {
	caption := original
	for find, replace := range replacements {
		if find == "" {
			continue
		}
		caption = strings.ReplaceAll(caption, find, replace)
	}
	for _, word := range deleteWords {
		if word == "" {
			continue
		}
		caption = strings.ReplaceAll(caption, word, "")
	}
	caption = strings.TrimSpace(caption)

	userCaption = strings.TrimSpace(userCaption)
	switch {
	case caption != "" && userCaption != "":
		return caption + "\n\n" + userCaption
	case userCaption != "":
		return userCaption
	default:
		return caption
	}
}

// SplitDestination разбирает настройку chat_id вида "chatId" либо
// "chatId/topicId". Возвращает чат и id топика (0 — без топика).
func SplitDestination(value string) (string, int) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", 0
	}
	parts := strings.SplitN(value, "/", 2)
	if len(parts) == 1 {
		return parts[0], 0
	}
	topic := 0
	_, err := fmt.Sscanf(parts[1], "%d", &topic)
	if err != nil || topic < 0 {
		topic = 0
	}
	return parts[0], topic
}
