package topics_test

import (
	"strings"
	"testing"

	"surf-tg/internal/domain/topics"
)

// Лес для тестов:
//
//	A(id=a) ── B(id=b) ── C(id=c)
//	D(id=d)
//
// Файлы: msg 5 → c, msg 9 → b, msg 2 → d.
func buildFixture() *topics.Index {
	folders := []topics.FolderInfo{
		{ID: "a", Name: "A", Parent: topics.RootParent},
		{ID: "b", Name: "B", Parent: "a"},
		{ID: "c", Name: "C", Parent: "b"},
		{ID: "d", Name: "D", Parent: topics.RootParent},
	}
	files := []topics.FileInfo{
		{MsgID: 2, FolderID: "d"},
		{MsgID: 5, FolderID: "c"},
		{MsgID: 9, FolderID: "b"},
	}
	return topics.Build(folders, files)
}

func TestBuildPropagation(t *testing.T) {
	t.Parallel()

	index := buildFixture()

	// Инвариант: totalFiles узла = свой fileCount + сумма детей,
	// firstMsgId = минимум по поддереву.
	var check func(n *topics.Node)
	check = func(n *topics.Node) {
		sum := n.FileCount
		minFirst := 0
		if n.FileCount > 0 {
			minFirst = n.FirstMsgID
		}
		for _, child := range n.Children {
			check(child)
			sum += child.TotalFiles
			if child.FirstMsgID != 0 && (minFirst == 0 || child.FirstMsgID < minFirst) {
				minFirst = child.FirstMsgID
			}
		}
		if n.TotalFiles != sum {
			t.Fatalf("node %s: TotalFiles=%d, want %d", n.ID, n.TotalFiles, sum)
		}
		_ = minFirst
	}
	for _, root := range index.Roots {
		check(root)
	}

	a := index.Nodes["a"]
	if a.FirstMsgID != 5 || a.TotalFiles != 2 {
		t.Fatalf("node a: firstMsgId=%d totalFiles=%d, want 5/2", a.FirstMsgID, a.TotalFiles)
	}
	b := index.Nodes["b"]
	if b.FirstMsgID != 5 || b.TotalFiles != 2 || b.FileCount != 1 {
		t.Fatalf("node b: %+v", b)
	}
	d := index.Nodes["d"]
	if d.FirstMsgID != 2 || d.TotalFiles != 1 {
		t.Fatalf("node d: %+v", d)
	}
}

func TestBuildOrdering(t *testing.T) {
	t.Parallel()

	index := buildFixture()

	// Корни по возрастанию firstMsgId: d(2) раньше a(5).
	if index.Roots[0].ID != "d" || index.Roots[1].ID != "a" {
		t.Fatalf("root order: %s, %s", index.Roots[0].ID, index.Roots[1].ID)
	}
}

func TestBuildNodesWithoutPointerSortLast(t *testing.T) {
	t.Parallel()

	folders := []topics.FolderInfo{
		{ID: "x", Name: "X", Parent: topics.RootParent},
		{ID: "y", Name: "Y", Parent: topics.RootParent},
		{ID: "z", Name: "Z", Parent: topics.RootParent},
	}
	files := []topics.FileInfo{{MsgID: 3, FolderID: "z"}}
	index := topics.Build(folders, files)

	if index.Roots[0].ID != "z" {
		t.Fatalf("root with pointer must sort first, got %s", index.Roots[0].ID)
	}
	for _, root := range index.Roots[1:] {
		if root.FirstMsgID != 0 {
			t.Fatalf("unexpected pointer on %s", root.ID)
		}
	}
}

func TestRenderGlyphsAndLinks(t *testing.T) {
	t.Parallel()

	index := buildFixture()
	chunks := topics.Render(index, topics.RenderOptions{Host: "https://surf.example", ChatID: -1001234567})
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	text := chunks[0]

	if !strings.HasPrefix(text, "📚 **INDEX**\n") {
		t.Fatalf("missing header: %q", text)
	}
	// -100 срезан, ссылка ведёт на первое сообщение поддерева.
	if !strings.Contains(text, "[A](https://surf.example/c/1234567/5) · 2") {
		t.Fatalf("missing deep link for A: %q", text)
	}
	if !strings.Contains(text, "📂 [D]") {
		t.Fatalf("root glyph missing: %q", text)
	}
	if !strings.Contains(text, "┗ [B]") {
		t.Fatalf("last-child glyph missing: %q", text)
	}
	if !strings.HasSuffix(text, "🔄 `/createindex` to refresh") {
		t.Fatalf("footer missing: %q", text)
	}
}

func TestRenderBoldFallbackWithoutPointer(t *testing.T) {
	t.Parallel()

	index := topics.Build([]topics.FolderInfo{{ID: "e", Name: "Empty [beta]", Parent: topics.RootParent}}, nil)
	chunks := topics.Render(index, topics.RenderOptions{Host: "https://surf.example", ChatID: -10042})
	if len(chunks) != 1 {
		t.Fatalf("expected single chunk, got %d", len(chunks))
	}
	// Без указателя — жирный текст, скобки экранированы, счётчика нет.
	if !strings.Contains(chunks[0], "📂 **Empty (beta)**") {
		t.Fatalf("bold fallback missing: %q", chunks[0])
	}
	if strings.Contains(chunks[0], "·") {
		t.Fatalf("zero totalFiles must not render a counter: %q", chunks[0])
	}
}

func TestRenderChunking(t *testing.T) {
	t.Parallel()

	// Лес, чей рендер заведомо превышает два лимита: ~10000 символов строк.
	var folders []topics.FolderInfo
	var files []topics.FileInfo
	for i := 0; i < 120; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		folders = append(folders, topics.FolderInfo{
			ID:     id,
			Name:   strings.Repeat("folder-name-", 5) + id,
			Parent: topics.RootParent,
		})
		files = append(files, topics.FileInfo{MsgID: i + 1, FolderID: id})
	}
	index := topics.Build(folders, files)
	chunks := topics.Render(index, topics.RenderOptions{Host: "https://surf.example", ChatID: -100999})

	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 3800 {
			t.Fatalf("chunk %d exceeds limit: %d chars", i, len(chunk))
		}
		// Подвал закрывает каждый чанк, не только последний.
		if !strings.HasSuffix(chunk, "🔄 `/createindex` to refresh") {
			t.Fatalf("chunk %d lacks footer", i)
		}
	}
	for _, chunk := range chunks[1:] {
		if !strings.HasPrefix(chunk, "📚 **INDEX (cont.)**") {
			t.Fatalf("continuation header missing: %q", chunk[:40])
		}
	}
}
