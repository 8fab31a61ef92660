// internal/models/lorebook.go
package models

// 注入位置，相对于角色描述锚点
const (
	InjectBefore = 0
	InjectAfter  = 1
)

// LorebookEntry 世界书条目
type LorebookEntry struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Keys      []string `json:"keys"`
	Content   string   `json:"content"`
	Enabled   bool     `json:"enabled"`
	Constant  bool     `json:"constant"` // 常驻条目，不需要关键字触发
	Position  int      `json:"position"`
	Order     int      `json:"order"`
	ScanDepth int      `json:"scanDepth,omitempty"` // 扫描最近几条消息，0 使用默认值
}

// Lorebook 世界书
type Lorebook struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Enabled bool            `json:"enabled"`
	Entries []LorebookEntry `json:"entries"`
}

// Injection 被触发的注入内容
type Injection struct {
	Content  string `json:"content"`
	Position int    `json:"position"`
	Order    int    `json:"order"`
}

// DefaultLorebook 默认世界书
func DefaultLorebook() *Lorebook {
	return &Lorebook{
		ID:      "default",
		Name:    "預設世界書",
		Enabled: true,
		Entries: []LorebookEntry{
			{
				ID:       "entry_world",
				Name:     "世界觀",
				Content:  "這是一個與現實相似的現代世界。",
				Enabled:  true,
				Constant: true,
				Position: InjectAfter,
				Order:    100,
			},
		},
	}
}
