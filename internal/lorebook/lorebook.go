// internal/lorebook/lorebook.go
package lorebook

import (
	"strings"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

// DefaultScanDepth 条目未设置扫描深度时检查最近几条消息
const DefaultScanDepth = 5

// Source 世界书注入来源
type Source struct {
	books []*models.Lorebook
}

// NewSource 包装世界书列表（按原顺序）
func NewSource(books []*models.Lorebook) *Source {
	return &Source{books: books}
}

// ActiveLorebooks 启用的世界书
func (s *Source) ActiveLorebooks() []*models.Lorebook {
	var out []*models.Lorebook
	for _, b := range s.books {
		if b != nil && b.Enabled {
			out = append(out, b)
		}
	}
	return out
}

// BuildInjections 常驻条目和关键字被触发的条目，按世界书顺序再按条目顺序
func (s *Source) BuildInjections(history []models.Message) []models.Injection {
	scans := make(map[int]string)
	scan := func(depth int) string {
		if depth <= 0 {
			depth = DefaultScanDepth
		}
		if text, ok := scans[depth]; ok {
			return text
		}
		start := len(history) - depth
		if start < 0 {
			start = 0
		}
		parts := make([]string, 0, len(history)-start)
		for _, m := range history[start:] {
			parts = append(parts, m.ActiveText())
		}
		text := utils.FoldText(strings.Join(parts, "\n"))
		scans[depth] = text
		return text
	}

	var out []models.Injection
	for _, book := range s.ActiveLorebooks() {
		for _, e := range book.Entries {
			if !e.Enabled {
				continue
			}
			if e.Constant || Triggered(scan(e.ScanDepth), e.Keys) {
				out = append(out, models.Injection{Content: e.Content, Position: e.Position, Order: e.Order})
			}
		}
	}
	return out
}

// Triggered 任一关键字出现在已归一化的文本中
func Triggered(foldedText string, keys []string) bool {
	for _, k := range keys {
		if utils.ContainsFold(foldedText, strings.TrimSpace(k)) {
			return true
		}
	}
	return false
}
