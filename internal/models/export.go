// internal/models/export.go
package models

import (
	"time"
)

// SceneMapExportVersion 场景地图导出格式版本
const SceneMapExportVersion = 1

// SceneMapExport 场景地图导出文件
type SceneMapExport struct {
	Version        int        `json:"version"`
	Timestamp      time.Time  `json:"timestamp"`
	CharID         string     `json:"charId"`
	ChatID         string     `json:"chatId"`
	SceneMap       *SceneMap  `json:"sceneMap"`
	KeywordMapping KeywordMap `json:"keywordMapping,omitempty"`
}

// ExportResult 聊天记录导出结果
type ExportResult struct {
	CharacterID  string    `json:"characterId"`
	ChatID       string    `json:"chatId"`
	Title        string    `json:"title"`
	Format       string    `json:"format"` // markdown, html
	Content      string    `json:"content"`
	FileName     string    `json:"fileName"`
	MessageCount int       `json:"messageCount"`
	GeneratedAt  time.Time `json:"generatedAt"`
}
