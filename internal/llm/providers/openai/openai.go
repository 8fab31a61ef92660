// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
)

// OpenAI 兼容的供应商：openai / mistral / xai / openrouter
var endpoints = map[string]string{
	llm.ProviderOpenAI:     "https://api.openai.com/v1/chat/completions",
	llm.ProviderMistral:    "https://api.mistral.ai/v1/chat/completions",
	llm.ProviderXAI:        "https://api.x.ai/v1/chat/completions",
	llm.ProviderOpenRouter: "https://openrouter.ai/api/v1/chat/completions",
}

var recommended = map[string][]string{
	llm.ProviderOpenAI:     {"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-5"},
	llm.ProviderMistral:    {"mistral-large-latest", "mistral-small-latest"},
	llm.ProviderXAI:        {"grok-3", "grok-3-mini"},
	llm.ProviderOpenRouter: {"deepseek/deepseek-chat", "anthropic/claude-3.7-sonnet", "google/gemini-2.5-flash"},
}

func init() {
	for name := range endpoints {
		llm.Register(name, func() llm.Provider {
			return &Provider{name: name, endpoint: endpoints[name]}
		})
	}
}

// Provider 一个 OpenAI 兼容端点
type Provider struct {
	name     string
	endpoint string
	proxy    string
	baseURL  string
}

func (p *Provider) Initialize(config map[string]string) error {
	p.proxy = llm.ProxyFrom(config)
	p.baseURL = config[llm.ConfigBaseURL]
	return nil
}

func (p *Provider) GetName() string {
	return p.name
}

func (p *Provider) GetSupportedModels() []string {
	return recommended[p.name]
}

// FormatPayload 开头的 system 消息合并为一条
func (p *Provider) FormatPayload(messages []models.ChatMessage) llm.Payload {
	return llm.MergeLeadingSystem(llm.DropErrors(messages))
}

func (p *Provider) url() string {
	return llm.Endpoint(p.proxy, p.baseURL, p.endpoint)
}

func (p *Provider) headers(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func (p *Provider) BuildRequest(ctx context.Context, payload llm.Payload, params llm.RequestParams) (*http.Request, error) {
	list, ok := payload.(llm.MessageList)
	if !ok {
		return nil, errors.New("payload 类型与供应商不匹配")
	}

	body := oai.ChatCompletionNewParams{
		Model:       oai.ChatModel(params.Model),
		Messages:    ToMessageParams(list),
		Temperature: oai.Float(params.Temperature),
		TopP:        oai.Float(params.TopP),
	}
	if llm.UsesMaxCompletionTokens(p.name, params.Model) {
		body.MaxCompletionTokens = oai.Int(int64(params.MaxTokens))
	} else {
		body.MaxTokens = oai.Int(int64(params.MaxTokens))
	}
	if p.name != llm.ProviderOpenRouter {
		body.FrequencyPenalty = oai.Float(params.RepetitionPenalty)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	// openrouter 使用 repetition_penalty，SDK 参数里没有这个字段
	if p.name == llm.ProviderOpenRouter {
		if data, err = sjson.SetBytes(data, "repetition_penalty", params.RepetitionPenalty); err != nil {
			return nil, err
		}
	}

	return llm.NewJSONRequest(ctx, p.url(), data, p.headers(params.APIKey))
}

func (p *Provider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	body := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(llm.TestPrompt)},
	}
	if llm.TestUsesMaxCompletionTokens(p.name, model) {
		body.MaxCompletionTokens = oai.Int(llm.TestMaxTokens)
	} else {
		body.MaxTokens = oai.Int(llm.TestMaxTokens)
	}
	return llm.NewJSONRequest(ctx, p.url(), body, p.headers(apiKey))
}

// ParseResponse 取 choices[0].message.content
func (p *Provider) ParseResponse(body []byte) string {
	return ParseChoices(body)
}

// ParseChoices OpenAI 格式响应解析，官方代理共用
func ParseChoices(body []byte) string {
	if !gjson.ValidBytes(body) {
		return llm.WarnMalformed
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return llm.WarnMalformed
	}
	return content.String()
}

// ToMessageParams 转为 SDK 的消息参数
func ToMessageParams(list []models.ChatMessage) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(list))
	for _, m := range list {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}
