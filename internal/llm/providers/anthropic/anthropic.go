// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"context"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
)

const (
	endpoint   = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

func init() {
	llm.Register(llm.ProviderAnthropic, func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"claude-3-5-sonnet-latest",
				"claude-3-7-sonnet-latest",
				"claude-sonnet-4-0",
			},
		}
	})
}

type Provider struct {
	proxy             string
	baseURL           string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	p.proxy = llm.ProxyFrom(config)
	p.baseURL = config[llm.ConfigBaseURL]
	return nil
}

func (p *Provider) GetName() string {
	return llm.ProviderAnthropic
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// FormatPayload system 文本单独放置，其余消息整理成严格交替的 user/assistant
func (p *Provider) FormatPayload(messages []models.ChatMessage) llm.Payload {
	system, chat := llm.SplitSystem(llm.DropErrors(messages))
	return llm.AnthropicPayload{System: system, Messages: CleanMessages(chat)}
}

// CleanMessages 跳过空内容；非 assistant 一律视为 user；相邻同角色以空行合并；
// 首条不是 user 时补一条开场消息
func CleanMessages(messages []models.ChatMessage) []models.ChatMessage {
	var out []models.ChatMessage
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		role := models.RoleUser
		if m.Role == models.RoleAssistant {
			role = models.RoleAssistant
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, models.ChatMessage{Role: role, Content: m.Content})
	}

	if len(out) > 0 && out[0].Role != models.RoleUser {
		out = append([]models.ChatMessage{{Role: models.RoleUser, Content: llm.ConversationOpener}}, out...)
	}
	if out == nil {
		out = []models.ChatMessage{}
	}
	return out
}

func (p *Provider) url() string {
	return llm.Endpoint(p.proxy, p.baseURL, endpoint)
}

func headers(apiKey string) map[string]string {
	h := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": apiVersion,
	}
	// 允许经由浏览器端代理直连
	h["anthropic-dangerous-direct-browser-access"] = "true"
	return h
}

type messagesRequest struct {
	Model       string               `json:"model"`
	Temperature float64              `json:"temperature"`
	TopP        float64              `json:"top_p"`
	System      string               `json:"system,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
}

func (p *Provider) BuildRequest(ctx context.Context, payload llm.Payload, params llm.RequestParams) (*http.Request, error) {
	ap, ok := payload.(llm.AnthropicPayload)
	if !ok {
		return nil, errors.New("payload 类型与供应商不匹配")
	}
	body := messagesRequest{
		Model:       params.Model,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		System:      ap.System,
		Messages:    ap.Messages,
		MaxTokens:   params.MaxTokens,
	}
	return llm.NewJSONRequest(ctx, p.url(), body, headers(params.APIKey))
}

func (p *Provider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	body := map[string]interface{}{
		"model":      model,
		"messages":   []models.ChatMessage{{Role: models.RoleUser, Content: llm.TestPrompt}},
		"max_tokens": llm.TestMaxTokens,
	}
	return llm.NewJSONRequest(ctx, p.url(), body, headers(apiKey))
}

// ParseResponse 取 content[0].text
func (p *Provider) ParseResponse(body []byte) string {
	if !gjson.ValidBytes(body) {
		return llm.WarnMalformed
	}
	text := gjson.GetBytes(body, "content.0.text")
	if !text.Exists() {
		return llm.WarnMalformed
	}
	return text.String()
}
