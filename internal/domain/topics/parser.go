// Пакет topics — тематическая иерархия канала: разбор подписи сообщения в
// путь папок, сборка агрегированного индекса с указателями на первые
// сообщения и его рендер в связное дерево.
package topics

import (
	"regexp"
	"strings"
)

// Строки подписи, из которых собирается путь. Регистр не важен, пробелы
// вокруг двоеточия допустимы.
var (
	batchLineRe = regexp.MustCompile(`(?im)^\s*batch\s*:\s*(.+?)\s*$`)
	topicLineRe = regexp.MustCompile(`(?im)^\s*topic\s*:\s*(.+?)\s*$`)
)

// ParsePath извлекает упорядоченный путь папок из подписи сообщения.
// Правила, в порядке применения:
//  1. строка `Batch: <name>` даёт первый элемент пути;
//  2. строка `Topic: a -> b -> c` режется по `->`, пустые сегменты
//     отбрасываются; ведущий сегмент "home" (без учёта регистра) опускается —
//     это алиас корня;
//  3. результат — конкатенация (1) и (2); пустой путь возвращается как nil.
func ParsePath(caption string) []string {
	if strings.TrimSpace(caption) == "" {
		return nil
	}

	var path []string
	if m := batchLineRe.FindStringSubmatch(caption); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			path = append(path, name)
		}
	}
	if m := topicLineRe.FindStringSubmatch(caption); m != nil {
		segments := strings.Split(m[1], "->")
		cleaned := make([]string, 0, len(segments))
		for _, seg := range segments {
			seg = strings.TrimSpace(seg)
			if seg != "" {
				cleaned = append(cleaned, seg)
			}
		}
		if len(cleaned) > 0 && strings.EqualFold(cleaned[0], "home") {
			cleaned = cleaned[1:]
		}
		path = append(path, cleaned...)
	}

	if len(path) == 0 {
		return nil
	}
	return path
}
