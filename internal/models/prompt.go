// internal/models/prompt.go
package models

// 内置的提示词标识
const (
	PromptMain            = "main"
	PromptCharDescription = "char_description"
	PromptCharPersonality = "char_personality"
	PromptScenario        = "scenario"
	PromptUserPersona     = "user_persona"
	PromptLongTermMemory  = "long_term_memory"
	PromptSceneMap        = "scene_map"
	PromptChatHistory     = "chat_history" // 标记聊天记录插入位置
)

// PromptEntry 提示词条目，content 为带占位符的模板
type PromptEntry struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"` // 默认 system
	Content    string `json:"content"`
	Enabled    bool   `json:"enabled"`
	Position   int    `json:"position"`
}

// PromptSet 提示词库
type PromptSet struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Prompts []PromptEntry `json:"prompts"`
}

// Find 按标识查找条目
func (s *PromptSet) Find(identifier string) *PromptEntry {
	if s == nil {
		return nil
	}
	for i := range s.Prompts {
		if s.Prompts[i].Identifier == identifier {
			return &s.Prompts[i]
		}
	}
	return nil
}

// DefaultPromptSet 默认提示词库
func DefaultPromptSet() *PromptSet {
	return &PromptSet{
		ID:   "default",
		Name: "預設提示詞",
		Prompts: []PromptEntry{
			{Identifier: PromptMain, Name: "主要指令", Enabled: true, Position: 0,
				Content: "你是 {{char}}，正在與 {{user}} 進行角色扮演對話。請以 {{char}} 的身分回應，保持角色個性一致。"},
			{Identifier: PromptCharDescription, Name: "角色描述", Enabled: true, Position: 1, Content: "{{description}}"},
			{Identifier: PromptCharPersonality, Name: "角色個性", Enabled: true, Position: 2, Content: "{{personality}}"},
			{Identifier: PromptScenario, Name: "情境", Enabled: true, Position: 3, Content: "{{scenario}}"},
			{Identifier: PromptUserPersona, Name: "使用者角色", Enabled: true, Position: 4, Content: "{{persona}}"},
			{Identifier: PromptLongTermMemory, Name: "長期記憶", Enabled: true, Position: 5, Content: "{{memory}}"},
			{Identifier: PromptSceneMap, Name: "場景地圖", Enabled: true, Position: 6, Content: "{{scene}}"},
			{Identifier: PromptChatHistory, Name: "聊天紀錄", Enabled: true, Position: 7},
		},
	}
}
