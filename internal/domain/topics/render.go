package topics

import (
	"fmt"
	"strings"
)

// Лимит одного сообщения индекса: ниже телеграмных 4096, чтобы markdown-обвязка
// и заголовок гарантированно влезали.
const chunkLimit = 3800

// Заголовки и подвал чанков.
const (
	indexHeader     = "📚 **INDEX**"
	indexContHeader = "📚 **INDEX (cont.)**"
	indexFooter     = "\n\n━━━━━━━━━━━━━━━━━━\n🔄 `/createindex` to refresh"
)

// RenderOptions — параметры рендера дерева.
type RenderOptions struct {
	Host   string // базовый хост deep-link'ов, без завершающего /
	ChatID int64  // исходный канал; -100-префикс срезается в ссылках
}

// Render обходит лес и возвращает последовательность сообщений ≤ chunkLimit
// символов. Узлы рисуются псевдографикой (📂 ┣ ┗ ┃), имя — deep-link на первое
// сообщение поддерева; без указателя имя выводится жирным. Суффикс `· N`
// добавляется при totalFiles > 0. Каждый чанк закрывается подвалом с
// подсказкой обновления.
func Render(index *Index, opts RenderOptions) []string {
	var lines []string
	for _, root := range index.Roots {
		renderNode(root, 0, "", true, opts, &lines)
	}
	return chunkLines(lines)
}

func renderNode(node *Node, depth int, prefix string, last bool, opts RenderOptions, lines *[]string) {
	var glyph string
	switch {
	case depth == 0:
		glyph = "📂 "
	case last:
		glyph = prefix + "┗ "
	default:
		glyph = prefix + "┣ "
	}

	*lines = append(*lines, glyph+nodeLabel(node, opts))

	childPrefix := prefix
	if depth > 0 {
		if last {
			childPrefix += "    "
		} else {
			childPrefix += "┃   "
		}
	}
	for i, child := range node.Children {
		renderNode(child, depth+1, childPrefix, i == len(node.Children)-1, opts, lines)
	}
}

// nodeLabel собирает подпись узла: ссылка либо жирный текст плюс счётчик.
// Квадратные скобки в имени экранируются: вне ссылочного синтаксиса они ломают разметку.
func nodeLabel(node *Node, opts RenderOptions) string {
	name := strings.NewReplacer("[", "(", "]", ")").Replace(node.Name)
	label := fmt.Sprintf("**%s**", name)
	if node.FirstMsgID != 0 && opts.Host != "" {
		label = fmt.Sprintf("[%s](%s/c/%s/%d)", name, opts.Host, cleanChatID(opts.ChatID), node.FirstMsgID)
	}
	if node.TotalFiles > 0 {
		label += fmt.Sprintf(" · %d", node.TotalFiles)
	}
	return label
}

// cleanChatID срезает служебный префикс -100 у идентификаторов каналов.
func cleanChatID(chatID int64) string {
	s := fmt.Sprintf("%d", chatID)
	return strings.TrimPrefix(s, "-100")
}

// chunkLines жадно набирает строки в чанк; строка, не влезающая в лимит с
// учётом подвала, закрывает текущий чанк подвалом, и следующий начинается с
// continuation-заголовка.
func chunkLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}

	var (
		chunks  []string
		current strings.Builder
	)
	current.WriteString(indexHeader)

	flush := func() {
		current.WriteString(indexFooter)
		chunks = append(chunks, current.String())
		current.Reset()
		current.WriteString(indexContHeader)
	}

	for _, line := range lines {
		if current.Len()+len(line)+1+len(indexFooter) > chunkLimit {
			flush()
		}
		current.WriteByte('\n')
		current.WriteString(line)
	}
	current.WriteString(indexFooter)
	chunks = append(chunks, current.String())
	return chunks
}
