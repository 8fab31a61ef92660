// internal/models/character.go
package models

import "time"

// Character 角色卡
type Character struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Personality  string    `json:"personality,omitempty"`
	Scenario     string    `json:"scenario"`
	FirstMessage []string  `json:"firstMessage"` // 开场白，可多个
	CreatorNotes string    `json:"creatorNotes,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Loved        bool      `json:"loved"`
	Order        int       `json:"order"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// UserPersona 用户扮演的身份
type UserPersona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ChatMetadata 聊天室元数据
type ChatMetadata struct {
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	Pinned    bool      `json:"pinned,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatSummary 聊天室列表项
type ChatSummary struct {
	ID           string        `json:"id"`
	Metadata     *ChatMetadata `json:"metadata"`
	MessageCount int           `json:"messageCount"`
}
