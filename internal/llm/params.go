// internal/llm/params.go
package llm

import (
	"strings"

	"github.com/Corphon/LoreChat/internal/models"
)

// 摘要模式固定的采样参数
const (
	SummarizationTemperature = 0.5
	SummarizationTopP        = 1.0
	TestMaxTokens            = 5
)

// RequestParams 一次调用的参数
type RequestParams struct {
	APIKey            string
	Model             string
	Temperature       float64
	TopP              float64
	MaxTokens         int
	RepetitionPenalty float64

	// Summarization 为 true 时采样参数已替换为摘要模式
	Summarization bool

	// BearerToken 官方模型使用的用户令牌
	BearerToken string
}

// ParamsFromSettings 按设置生成参数；摘要模式使用 temperature 0.5、top_p 1 和摘要长度上限
func ParamsFromSettings(s models.GlobalSettings, summarization bool) RequestParams {
	p := RequestParams{
		APIKey:            s.APIKey,
		Model:             s.APIModel,
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		MaxTokens:         s.MaxTokens,
		RepetitionPenalty: s.RepetitionPenalty,
		Summarization:     summarization,
	}
	if summarization {
		p.Temperature = SummarizationTemperature
		p.TopP = SummarizationTopP
		p.MaxTokens = s.SummarizationTokens()
	}
	return p
}

// UsesMaxCompletionTokens 聊天请求是否使用 max_completion_tokens
func UsesMaxCompletionTokens(provider, model string) bool {
	switch provider {
	case ProviderMistral, ProviderXAI:
		return true
	case ProviderOpenAI:
		return containsAny(model, "gpt-5", "gpt-4.1", "o1", "gpt-4o")
	}
	return false
}

// TestUsesMaxCompletionTokens 连接测试是否使用 max_completion_tokens
func TestUsesMaxCompletionTokens(provider, model string) bool {
	switch provider {
	case ProviderMistral, ProviderXAI:
		return true
	case ProviderOpenAI:
		return containsAny(model, "gpt-5", "gpt-4.1")
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
