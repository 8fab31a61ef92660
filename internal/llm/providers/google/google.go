// internal/llm/providers/google/google.go
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
)

const apiBase = "https://generativelanguage.googleapis.com/v1beta/models/"

// 截断提示
const WarnTruncated = "⚠️ AI 回應因達到長度上限而被截斷。請嘗試增加「最大回應」的 Token 數量，或點擊「繼續生成」。"

func init() {
	llm.Register(llm.ProviderGoogle, func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gemini-2.5-flash",
				"gemini-2.5-pro",
				"gemini-2.0-flash",
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
	return llm.ProviderGoogle
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// FormatPayload assistant 映射为 model，其余为 user；system 文本合并进 systemInstruction
func (p *Provider) FormatPayload(messages []models.ChatMessage) llm.Payload {
	system, chat := llm.SplitSystem(llm.DropErrors(messages))

	contents := make([]*genai.Content, 0, len(chat))
	for _, m := range chat {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	// 没有 system 文本时也发送 systemInstruction（空文本）
	return llm.GooglePayload{
		Contents:          contents,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
	}
}

func (p *Provider) url(model, apiKey string) string {
	full := fmt.Sprintf("%s%s:generateContent?key=%s", apiBase, model, url.QueryEscape(apiKey))
	return llm.Endpoint(p.proxy, p.baseURL, full)
}

type generateRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig"`
	SafetySettings    []*genai.SafetySetting  `json:"safetySettings,omitempty"`
}

func (p *Provider) BuildRequest(ctx context.Context, payload llm.Payload, params llm.RequestParams) (*http.Request, error) {
	gp, ok := payload.(llm.GooglePayload)
	if !ok {
		return nil, errors.New("payload 类型与供应商不匹配")
	}
	body := generateRequest{
		Contents:          gp.Contents,
		SystemInstruction: gp.SystemInstruction,
		GenerationConfig: &genai.GenerationConfig{
			Temperature:     genai.Ptr(float32(params.Temperature)),
			TopP:            genai.Ptr(float32(params.TopP)),
			MaxOutputTokens: int32(params.MaxTokens),
		},
		SafetySettings: llm.BlockNoneSafetySettings(),
	}
	return llm.NewJSONRequest(ctx, p.url(params.Model, params.APIKey), body, nil)
}

func (p *Provider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	body := generateRequest{
		Contents: []*genai.Content{{Parts: []*genai.Part{genai.NewPartFromText(llm.TestPrompt)}}},
		GenerationConfig: &genai.GenerationConfig{
			MaxOutputTokens: llm.TestMaxTokens,
		},
	}
	return llm.NewJSONRequest(ctx, p.url(model, apiKey), body, nil)
}

// ParseResponse 取 candidates[0].content.parts[0].text（可能为空字符串），没有 parts 时给出截断或诊断提示
func (p *Provider) ParseResponse(body []byte) string {
	var resp genai.GenerateContentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return llm.WarnMalformed
	}

	var candidate *genai.Candidate
	if len(resp.Candidates) > 0 {
		candidate = resp.Candidates[0]
	}
	if candidate != nil && candidate.Content != nil && len(candidate.Content.Parts) > 0 {
		if part := candidate.Content.Parts[0]; part != nil {
			return part.Text
		}
		return ""
	}
	if candidate != nil && candidate.FinishReason == genai.FinishReasonMaxTokens {
		return WarnTruncated
	}
	return diagnose(&resp, candidate)
}

func diagnose(resp *genai.GenerateContentResponse, candidate *genai.Candidate) string {
	var details strings.Builder
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		fmt.Fprintf(&details, "BlockReason: %s. ", resp.PromptFeedback.BlockReason)
	}
	if candidate != nil && candidate.FinishReason != "" {
		fmt.Fprintf(&details, "FinishReason: %s. ", candidate.FinishReason)
	}
	if candidate != nil {
		for _, r := range candidate.SafetyRatings {
			if r == nil {
				continue
			}
			if r.Probability == genai.HarmProbabilityHigh || r.Probability == genai.HarmProbabilityMedium {
				fmt.Fprintf(&details, "Safety: %s (%s).", r.Category, r.Probability)
				break
			}
		}
	}

	msg := "⚠️ API 沒有回傳有效的內容。"
	if details.Len() > 0 {
		msg += "(診斷: " + details.String() + ")"
	}
	return msg
}
