// internal/llm/providers/official/official.go
package official

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/tidwall/sjson"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/llm/providers/openai"
	"github.com/Corphon/LoreChat/internal/models"
)

func init() {
	llm.Register(llm.ProviderOfficial, func() llm.Provider {
		return &Provider{}
	})
}

// Provider 托管代理上的官方模型，使用登录用户的 bearer token
type Provider struct {
	proxy   string
	baseURL string
}

func (p *Provider) Initialize(config map[string]string) error {
	p.proxy = llm.ProxyFrom(config)
	if p.proxy == "" {
		// 官方模型只能经由托管代理
		p.proxy = llm.DefaultProxyURL
	}
	p.baseURL = config[llm.ConfigBaseURL]
	return nil
}

func (p *Provider) GetName() string {
	return llm.ProviderOfficial
}

func (p *Provider) GetSupportedModels() []string {
	return []string{"gemini-2.5-flash", "gemini-2.5-pro"}
}

func (p *Provider) FormatPayload(messages []models.ChatMessage) llm.Payload {
	return llm.MergeLeadingSystem(llm.DropErrors(messages))
}

// BuildRequest system 角色降级为 user，附带 max_tokens 和 safetySettings
func (p *Provider) BuildRequest(ctx context.Context, payload llm.Payload, params llm.RequestParams) (*http.Request, error) {
	list, ok := payload.(llm.MessageList)
	if !ok {
		return nil, errors.New("payload 类型与供应商不匹配")
	}

	simplified := make([]models.ChatMessage, 0, len(list))
	for _, m := range list {
		if m.Role == models.RoleSystem {
			m.Role = models.RoleUser
		}
		simplified = append(simplified, m)
	}

	body := oai.ChatCompletionNewParams{
		Model:       oai.ChatModel(params.Model),
		Messages:    openai.ToMessageParams(simplified),
		Temperature: oai.Float(params.Temperature),
		TopP:        oai.Float(params.TopP),
		MaxTokens:   oai.Int(int64(params.MaxTokens)),
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if data, err = sjson.SetBytes(data, "safetySettings", llm.BlockNoneSafetySettings()); err != nil {
		return nil, err
	}

	url := llm.Endpoint(p.proxy, p.baseURL, "chat")
	return llm.NewJSONRequest(ctx, url, data, map[string]string{
		"Authorization": "Bearer " + params.BearerToken,
	})
}

// BuildTestRequest 官方模型不提供连接测试
func (p *Provider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	return nil, llm.ErrTestNotSupported
}

func (p *Provider) ParseResponse(body []byte) string {
	return openai.ParseChoices(body)
}
