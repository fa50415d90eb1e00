package topics

import "sort"

// RootParent — сентинел родителя узлов верхнего уровня (совпадает с
// корневым идентификатором хранилища).
const RootParent = "root"

// FolderInfo — входные данные узла дерева. Источник — хранилище либо
// живое сканирование канала (/createindex), поэтому тип нейтрален.
type FolderInfo struct {
	ID     string
	Name   string
	Parent string
}

// FileInfo — файл, отнесённый к папке дерева.
type FileInfo struct {
	MsgID    int
	FolderID string
}

// Node — собранный узел тематического индекса.
type Node struct {
	ID         string
	Name       string
	Parent     string
	FirstMsgID int // 0 — указатель неизвестен
	FileCount  int // файлы непосредственно в папке
	TotalFiles int // файлы во всём поддереве
	Children   []*Node
}

// Index — итог сборки: карта узлов плюс корни в порядке обхода.
type Index struct {
	Nodes map[string]*Node
	Roots []*Node
}

// Build собирает индекс. Правило назначения: файлы обходятся по возрастанию
// msg_id (вход обязан быть отсортирован), каждый даёт +1 своему fileCount и
// при первом попадании устанавливает firstMsgId. Затем пост-обходом вверх:
// firstMsgId узла — минимум своего и всех потомков, totalFiles — сумма по
// поддереву. Порядок детей и корней — по возрастанию firstMsgId, узлы без
// указателя в конце.
func Build(folders []FolderInfo, files []FileInfo) *Index {
	index := &Index{Nodes: make(map[string]*Node, len(folders))}

	for _, f := range folders {
		index.Nodes[f.ID] = &Node{ID: f.ID, Name: f.Name, Parent: f.Parent}
	}
	for _, f := range folders {
		node := index.Nodes[f.ID]
		if parent, ok := index.Nodes[f.Parent]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			index.Roots = append(index.Roots, node)
		}
	}

	for _, file := range files {
		node, ok := index.Nodes[file.FolderID]
		if !ok {
			continue
		}
		node.FileCount++
		if node.FirstMsgID == 0 {
			node.FirstMsgID = file.MsgID
		}
	}

	for _, root := range index.Roots {
		propagate(root)
	}
	sortNodes(index.Roots)
	return index
}

// propagate — пост-обход: сначала потомки, затем агрегация в узле.
func propagate(node *Node) {
	node.TotalFiles = node.FileCount
	for _, child := range node.Children {
		propagate(child)
		node.TotalFiles += child.TotalFiles
		if child.FirstMsgID != 0 && (node.FirstMsgID == 0 || child.FirstMsgID < node.FirstMsgID) {
			node.FirstMsgID = child.FirstMsgID
		}
	}
	sortNodes(node.Children)
}

// sortNodes упорядочивает срез по firstMsgId; узлы без указателя — последними.
func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].FirstMsgID, nodes[j].FirstMsgID
		switch {
		case a == 0:
			return false
		case b == 0:
			return true
		default:
			return a < b
		}
	})
}
