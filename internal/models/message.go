// internal/models/message.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MessageContent 消息内容。单条文本或多个变体（重新生成的回复）
type MessageContent struct {
	Variants []string
	multi    bool
}

// Text 单条文本内容
func Text(s string) MessageContent {
	return MessageContent{Variants: []string{s}}
}

// Variants 多变体内容，即使只有一个变体也按数组序列化
func Variants(v ...string) MessageContent {
	return MessageContent{Variants: append([]string(nil), v...), multi: true}
}

// IsMulti 是否为变体数组
func (c MessageContent) IsMulti() bool {
	return c.multi
}

// At 返回指定变体，越界返回空字符串
func (c MessageContent) At(i int) string {
	if i < 0 || i >= len(c.Variants) {
		return ""
	}
	return c.Variants[i]
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.multi {
		if c.Variants == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Variants)
	}
	return json.Marshal(c.At(0))
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = MessageContent{}
		return nil
	case data[0] == '[':
		var v []string
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("消息内容变体格式错误: %w", err)
		}
		*c = MessageContent{Variants: v, multi: true}
		return nil
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("消息内容格式错误: %w", err)
		}
		*c = Text(s)
		return nil
	}
}

// Message 聊天记录中的一条消息
type Message struct {
	Role               string         `json:"role"`
	Content            MessageContent `json:"content"`
	ActiveContentIndex int            `json:"activeContentIndex,omitempty"`
	Error              bool           `json:"error,omitempty"`
	Timestamp          int64          `json:"timestamp,omitempty"`
}

// NewMessage 创建单文本消息
func NewMessage(role, text string) Message {
	return Message{Role: role, Content: Text(text)}
}

// ActiveText 当前生效的文本。多变体时取 activeContentIndex 指向的变体
func (m Message) ActiveText() string {
	if m.Content.IsMulti() {
		return m.Content.At(m.ActiveContentIndex)
	}
	return m.Content.At(0)
}

// AddVariant 追加一个变体并设为当前变体
func (m *Message) AddVariant(text string) {
	if !m.Content.IsMulti() {
		m.Content = Variants(m.Content.Variants...)
	}
	m.Content.Variants = append(m.Content.Variants, text)
	m.ActiveContentIndex = len(m.Content.Variants) - 1
}

// SelectVariant 切换当前变体
func (m *Message) SelectVariant(i int) bool {
	if !m.Content.IsMulti() || i < 0 || i >= len(m.Content.Variants) {
		return false
	}
	m.ActiveContentIndex = i
	return true
}

// ChatMessage 扁平化的 {role, content}，用于草稿消息列表和 provider payload
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// 从源消息带过来的错误标记，格式化前会被丢弃
	Error bool `json:"-"`
}

// Flatten 把消息转为 ChatMessage
func (m Message) Flatten() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.ActiveText(), Error: m.Error}
}
