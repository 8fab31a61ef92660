// internal/models/settings.go
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	DefaultContextSize            = 30000
	DefaultSummarizationMaxTokens = 1000
	DefaultProvider               = "official_gemini"
)

// FlexInt 接受数字或数字字符串，无法解析时视为未设置
type FlexInt struct {
	Value int
	Valid bool
}

func Int(v int) FlexInt { return FlexInt{Value: v, Valid: true} }

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = FlexInt{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	if n, err := strconv.Atoi(raw); err == nil {
		*f = Int(n)
		return nil
	}
	// 与 parseInt 一致：小数取整
	if x, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = Int(int(x))
	}
	return nil
}

// RegexRule 对 AI 回复做的正则替换规则（ECMAScript 语法）
type RegexRule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
	Enabled bool   `json:"enabled"`
}

// GlobalSettings 全局设置
type GlobalSettings struct {
	APIProvider            string      `json:"apiProvider"`
	APIKey                 string      `json:"apiKey,omitempty"`
	APIModel               string      `json:"apiModel"`
	Temperature            float64     `json:"temperature"`
	TopP                   float64     `json:"topP"`
	MaxTokens              int         `json:"maxTokens"`
	ContextSize            FlexInt     `json:"contextSize"`
	RepetitionPenalty      float64     `json:"repetitionPenalty"`
	SummarizationMaxTokens int         `json:"summarizationMaxTokens,omitempty"`
	SummarizationPrompt    string      `json:"summarizationPrompt,omitempty"`
	RegexRules             []RegexRule `json:"regexRules,omitempty"`
}

// Provider 当前供应商，未设置时使用官方模型
func (s GlobalSettings) Provider() string {
	if s.APIProvider == "" {
		return DefaultProvider
	}
	return s.APIProvider
}

// ContextBudget token 预算，未设置、为 0 或非数字时为 30000
func (s GlobalSettings) ContextBudget() int {
	if !s.ContextSize.Valid || s.ContextSize.Value == 0 {
		return DefaultContextSize
	}
	return s.ContextSize.Value
}

// SummarizationTokens 摘要模式的最大 token
func (s GlobalSettings) SummarizationTokens() int {
	if s.SummarizationMaxTokens <= 0 {
		return DefaultSummarizationMaxTokens
	}
	return s.SummarizationMaxTokens
}

// DefaultSummaryPrompt 长期记忆生成提示词，{{history}} 会被替换为对话内容
const DefaultSummaryPrompt = `請將以下對話整理成簡潔的長期記憶摘要，保留重要的事件、關係變化與承諾，使用條列式：

{{history}}`

// DefaultRegexRules 默认正则规则
func DefaultRegexRules() []RegexRule {
	return []RegexRule{
		{
			ID:      "regex_default_cot",
			Name:    "消除思考(COT)",
			Find:    `<think>[\s\S]*?<\/think>`,
			Replace: "",
			Enabled: true,
		},
		{
			ID:      "regex_default_tags",
			Name:    "移除標籤",
			Find:    `(.*?<\/thinking>\n)(.*?<content[\s\S]*?>\n)(.*?)(<\/content>|<\(\)content_>)`,
			Replace: "$3",
			Enabled: true,
		},
	}
}

// DefaultGlobalSettings 首次启动时的设置
func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		APIProvider:            DefaultProvider,
		Temperature:            1,
		TopP:                   1,
		MaxTokens:              1024,
		ContextSize:            Int(DefaultContextSize),
		RepetitionPenalty:      0,
		SummarizationMaxTokens: DefaultSummarizationMaxTokens,
		SummarizationPrompt:    DefaultSummaryPrompt,
		RegexRules:             DefaultRegexRules(),
	}
}
