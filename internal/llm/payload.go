// internal/llm/payload.go
package llm

import (
	"strings"

	"google.golang.org/genai"

	"github.com/Corphon/LoreChat/internal/models"
)

// 解析失败时返回给调用方的提示
const (
	WarningPrefix      = "⚠️"
	WarnMalformed      = "⚠️ 回應格式錯誤"
	WarnUnparseable    = "⚠️ 無法解析回應"
	ConversationOpener = "(對話開始)"
)

// Payload 供应商专用的消息载荷
type Payload interface {
	payload()
}

// MessageList OpenAI 兼容格式：[{role, content}]
type MessageList []models.ChatMessage

// AnthropicPayload system 单独放置，messages 严格 user/assistant 交替
type AnthropicPayload struct {
	System   string               `json:"system"`
	Messages []models.ChatMessage `json:"messages"`
}

// GooglePayload contents + systemInstruction
type GooglePayload struct {
	Contents          []*genai.Content `json:"contents"`
	SystemInstruction *genai.Content   `json:"systemInstruction,omitempty"`
}

func (MessageList) payload()      {}
func (AnthropicPayload) payload() {}
func (GooglePayload) payload()    {}

// DropErrors 去掉带错误标记的消息
func DropErrors(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if !m.Error {
			out = append(out, models.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

// MergeLeadingSystem 开头连续的 system 消息合并为一条，之后的 system 消息保留原位
func MergeLeadingSystem(messages []models.ChatMessage) MessageList {
	var system []string
	i := 0
	for ; i < len(messages) && messages[i].Role == models.RoleSystem; i++ {
		system = append(system, messages[i].Content)
	}

	out := make(MessageList, 0, len(messages)-i+1)
	if joined := strings.Join(system, "\n\n"); joined != "" {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: joined})
	}
	return append(out, messages[i:]...)
}

// SplitSystem 拆出所有 system 文本（以空行连接）和其余消息
func SplitSystem(messages []models.ChatMessage) (string, []models.ChatMessage) {
	var system []string
	var chat []models.ChatMessage
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
		} else {
			chat = append(chat, m)
		}
	}
	return strings.Join(system, "\n\n"), chat
}

// IsWarning 是否为解析失败的提示文本
func IsWarning(text string) bool {
	return strings.HasPrefix(text, WarningPrefix)
}
