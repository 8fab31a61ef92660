// internal/prompt/expander.go
package prompt

import (
	"sort"
	"strings"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/scene"
)

// SceneScanDepth {{scene}} 参考最近几条消息
const SceneScanDepth = 5

// DefaultUserName 没有用户身份时 {{user}} 的值
const DefaultUserName = "User"

// TemplateExpander 提示词模板展开
type TemplateExpander interface {
	ReplacePlaceholders(text string) string
	ActivePromptSet() *models.PromptSet
	PromptContent(identifier string) string
	BuildFinalMessages(history []models.Message) []models.ChatMessage
}

// StateExpander 基于 AppState 的模板展开。调用方负责持有状态锁
type StateExpander struct {
	state    *models.AppState
	ref      models.SessionRef
	replacer *strings.Replacer
}

// NewStateExpander 展开指定会话的模板
func NewStateExpander(state *models.AppState, ref models.SessionRef) *StateExpander {
	e := &StateExpander{state: state, ref: ref}
	e.replacer = strings.NewReplacer(e.pairs()...)
	return e
}

func (e *StateExpander) pairs() []string {
	var char models.Character
	if c := e.state.Character(e.ref.CharacterID); c != nil {
		char = *c
	}
	userName, persona := DefaultUserName, ""
	if p := e.state.Persona(); p != nil {
		if p.Name != "" {
			userName = p.Name
		}
		persona = p.Description
	}

	return []string{
		"{{char}}", char.Name,
		"{{user}}", userName,
		"{{description}}", char.Description,
		"{{personality}}", char.Personality,
		"{{scenario}}", char.Scenario,
		"{{persona}}", persona,
		"{{memory}}", e.state.Memory(e.ref),
		"{{scene}}", e.sceneText(),
	}
}

// sceneText 与最近对话相关的场景节点，地图停用或不存在时为空
func (e *StateExpander) sceneText() string {
	m := e.state.SceneMap(e.ref)
	if m == nil || !m.Enabled() {
		return ""
	}
	history := e.state.History(e.ref)
	if len(history) > SceneScanDepth {
		history = history[len(history)-SceneScanDepth:]
	}
	return scene.NewGraph(m).BuildRelevantScenePrompt(history, e.state.SceneKeywordMap)
}

func (e *StateExpander) ReplacePlaceholders(text string) string {
	if text == "" {
		return ""
	}
	return e.replacer.Replace(text)
}

func (e *StateExpander) ActivePromptSet() *models.PromptSet {
	return e.state.ActivePromptSet()
}

// PromptContent 展开后的条目内容，条目不存在时为空
func (e *StateExpander) PromptContent(identifier string) string {
	entry := e.ActivePromptSet().Find(identifier)
	if entry == nil {
		return ""
	}
	return e.ReplacePlaceholders(entry.Content)
}

// BuildFinalMessages 按 position 排列启用的条目；chat_history 展开为聊天记录，空内容跳过
func (e *StateExpander) BuildFinalMessages(history []models.Message) []models.ChatMessage {
	set := e.ActivePromptSet()
	if set == nil {
		return flatten(history)
	}

	entries := make([]models.PromptEntry, 0, len(set.Prompts))
	for _, p := range set.Prompts {
		if p.Enabled {
			entries = append(entries, p)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })

	var out []models.ChatMessage
	for _, p := range entries {
		if p.Identifier == models.PromptChatHistory {
			out = append(out, flatten(history)...)
			continue
		}
		content := e.ReplacePlaceholders(p.Content)
		if strings.TrimSpace(content) == "" {
			continue
		}
		role := p.Role
		if role == "" {
			role = models.RoleSystem
		}
		out = append(out, models.ChatMessage{Role: role, Content: content})
	}
	return out
}

func flatten(history []models.Message) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, m.Flatten())
	}
	return out
}
