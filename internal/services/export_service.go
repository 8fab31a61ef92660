// internal/services/export_service.go
package services

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	ExportFormatMarkdown = "markdown"
	ExportFormatHTML     = "html"

	ErrMsgUnsupportedFormat = "不支援的匯出格式"
)

// chatTranscript 导出时需要的会话快照
type chatTranscript struct {
	character string
	persona   string
	chatName  string
	memory    string
	createdAt time.Time
	messages  []models.Message
}

// ExportService 聊天记录导出
type ExportService struct {
	state    *StateService
	markdown goldmark.Markdown
	logger   *utils.Logger
}

// NewExportService 创建导出服务
func NewExportService(state *StateService) *ExportService {
	return &ExportService{
		state: state,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		logger: utils.GetLogger().With("export", nil),
	}
}

// ExportChat 把会话导出为 markdown 或 html
func (s *ExportService) ExportChat(ref models.SessionRef, format string) (*models.ExportResult, error) {
	if !ref.Valid() {
		return nil, errors.NewPreconditionError(prompt.ErrNoSession)
	}
	if format == "" {
		format = ExportFormatMarkdown
	}
	if format != ExportFormatMarkdown && format != ExportFormatHTML {
		return nil, errors.NewValidationError(fmt.Sprintf("%s: %s", ErrMsgUnsupportedFormat, format), nil)
	}

	transcript, err := s.snapshot(ref)
	if err != nil {
		return nil, err
	}

	now := s.state.Now()
	title := fmt.Sprintf("%s - %s", transcript.character, transcript.chatName)
	content := formatChatAsMarkdown(title, transcript, now)

	ext := "md"
	if format == ExportFormatHTML {
		content, err = s.renderHTML(title, content)
		if err != nil {
			return nil, errors.NewProcessingError("生成 HTML 失败", err)
		}
		ext = "html"
	}

	s.logger.Info("聊天记录已导出", map[string]interface{}{
		"session":  ref.Key(),
		"format":   format,
		"messages": len(transcript.messages),
	})

	return &models.ExportResult{
		CharacterID:  ref.CharacterID,
		ChatID:       ref.ChatID,
		Title:        title,
		Format:       format,
		Content:      content,
		FileName:     fmt.Sprintf("%s_%s_%s.%s", ref.CharacterID, ref.ChatID, now.Format("20060102_150405"), ext),
		MessageCount: len(transcript.messages),
		GeneratedAt:  now,
	}, nil
}

func (s *ExportService) snapshot(ref models.SessionRef) (*chatTranscript, error) {
	var out *chatTranscript
	var err error
	s.state.View(func(st *models.AppState) {
		if err = requireSession(st, ref); err != nil {
			return
		}
		meta := st.ChatMetadatas[ref.CharacterID][ref.ChatID]
		out = &chatTranscript{
			character: st.Character(ref.CharacterID).Name,
			persona:   prompt.DefaultUserName,
			chatName:  meta.Name,
			createdAt: meta.CreatedAt,
			memory:    st.Memory(ref),
			messages:  append([]models.Message(nil), st.History(ref)...),
		}
		if p := st.Persona(); p != nil && p.Name != "" {
			out.persona = p.Name
		}
	})
	return out, err
}

// formatChatAsMarkdown Markdown格式导出
func formatChatAsMarkdown(title string, t *chatTranscript, now time.Time) string {
	var content strings.Builder

	content.WriteString(fmt.Sprintf("# %s\n\n", title))

	content.WriteString("## 基础信息\n\n")
	content.WriteString(fmt.Sprintf("- **角色**: %s\n", t.character))
	content.WriteString(fmt.Sprintf("- **使用者**: %s\n", t.persona))
	content.WriteString(fmt.Sprintf("- **消息数**: %d\n", len(t.messages)))
	if !t.createdAt.IsZero() {
		content.WriteString(fmt.Sprintf("- **创建时间**: %s\n", t.createdAt.Format("2006-01-02 15:04:05")))
	}
	content.WriteString(fmt.Sprintf("- **导出时间**: %s\n\n", now.Format("2006-01-02 15:04:05")))

	if strings.TrimSpace(t.memory) != "" {
		content.WriteString("## 长期记忆\n\n")
		content.WriteString(t.memory)
		content.WriteString("\n\n")
	}

	content.WriteString("## 对话记录\n\n")
	for _, m := range t.messages {
		speaker := t.character
		if m.Role == models.RoleUser {
			speaker = t.persona
		}
		header := fmt.Sprintf("### %s", speaker)
		if m.Timestamp > 0 {
			header += fmt.Sprintf(" · %s", time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04"))
		}
		if m.Error {
			header += " ⚠️"
		}
		content.WriteString(header + "\n\n")
		content.WriteString(m.ActiveText())
		content.WriteString("\n\n")
		if m.Content.IsMulti() && len(m.Content.Variants) > 1 {
			content.WriteString(fmt.Sprintf("*（第 %d / %d 个回复）*\n\n", m.ActiveContentIndex+1, len(m.Content.Variants)))
		}
	}

	return content.String()
}

// renderHTML 把 markdown 转成完整的 HTML 文档
func (s *ExportService) renderHTML(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &body); err != nil {
		return "", err
	}

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html lang=\"zh\">\n<head>\n")
	doc.WriteString("<meta charset=\"UTF-8\">\n")
	doc.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	doc.WriteString(fmt.Sprintf("<title>%s</title>\n", html.EscapeString(title)))
	doc.WriteString(`<style>
body { font-family: -apple-system, "Segoe UI", "Noto Sans TC", sans-serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; line-height: 1.7; color: #222; }
h1 { border-bottom: 2px solid #ddd; padding-bottom: .4rem; }
h3 { margin-bottom: .2rem; color: #555; }
blockquote { color: #666; border-left: 4px solid #ddd; margin: 0; padding-left: 1rem; }
</style>
`)
	doc.WriteString("</head>\n<body>\n")
	doc.Write(body.Bytes())
	doc.WriteString("</body>\n</html>\n")
	return doc.String(), nil
}
