package openai

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
)

var history = []models.ChatMessage{
	{Role: models.RoleSystem, Content: "S1"},
	{Role: models.RoleSystem, Content: "S2"},
	{Role: models.RoleUser, Content: "hi"},
	{Role: models.RoleSystem, Content: "inline"},
	{Role: models.RoleAssistant, Content: "yo", Error: true},
}

func buildBody(t *testing.T, provider, model string) gjson.Result {
	t.Helper()
	p, err := llm.GetProvider(provider, map[string]string{llm.ConfigProxyURL: ""})
	require.NoError(t, err)

	req, err := p.BuildRequest(context.Background(), p.FormatPayload(history), llm.RequestParams{
		APIKey:            "sk-test",
		Model:             model,
		Temperature:       0.8,
		TopP:              0.95,
		MaxTokens:         512,
		RepetitionPenalty: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(data))
	return gjson.ParseBytes(data)
}

func TestFormatPayloadMergesLeadingSystem(t *testing.T) {
	p, err := llm.GetProvider(llm.ProviderOpenAI, nil)
	require.NoError(t, err)

	got := p.FormatPayload(history)
	assert.Equal(t, llm.MessageList{
		{Role: models.RoleSystem, Content: "S1\n\nS2"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleSystem, Content: "inline"},
	}, got)
}

func TestTokenFieldSelection(t *testing.T) {
	tests := []struct {
		provider   string
		model      string
		completion bool
	}{
		{llm.ProviderOpenAI, "gpt-4o-mini", true},
		{llm.ProviderOpenAI, "gpt-5", true},
		{llm.ProviderOpenAI, "o1-preview", true},
		{llm.ProviderOpenAI, "gpt-3.5-turbo", false},
		{llm.ProviderMistral, "mistral-small-latest", true},
		{llm.ProviderXAI, "grok-3", true},
		{llm.ProviderOpenRouter, "openai/gpt-4o", false},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.model, func(t *testing.T) {
			body := buildBody(t, tt.provider, tt.model)
			assert.Equal(t, tt.completion, body.Get("max_completion_tokens").Exists())
			assert.Equal(t, !tt.completion, body.Get("max_tokens").Exists())
		})
	}
}

func TestPenaltyField(t *testing.T) {
	body := buildBody(t, llm.ProviderOpenRouter, "deepseek/deepseek-chat")
	assert.InDelta(t, 0.3, body.Get("repetition_penalty").Float(), 1e-9)
	assert.False(t, body.Get("frequency_penalty").Exists())

	body = buildBody(t, llm.ProviderMistral, "mistral-large-latest")
	assert.InDelta(t, 0.3, body.Get("frequency_penalty").Float(), 1e-9)
	assert.False(t, body.Get("repetition_penalty").Exists())
}

func TestRequestBody(t *testing.T) {
	body := buildBody(t, llm.ProviderOpenAI, "gpt-4o")
	assert.Equal(t, "gpt-4o", body.Get("model").String())
	assert.InDelta(t, 0.8, body.Get("temperature").Float(), 1e-9)
	assert.InDelta(t, 0.95, body.Get("top_p").Float(), 1e-9)
	assert.Equal(t, int64(512), body.Get("max_completion_tokens").Int())

	msgs := body.Get("messages").Array()
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[0].Get("role").String())
	assert.Equal(t, "S1\n\nS2", msgs[0].Get("content").String())
	assert.Equal(t, "user", msgs[1].Get("role").String())
}

func TestEndpoints(t *testing.T) {
	for name, endpoint := range endpoints {
		p, err := llm.GetProvider(name, nil)
		require.NoError(t, err)
		req, err := p.BuildTestRequest(context.Background(), "k", "m")
		require.NoError(t, err)
		assert.Equal(t, llm.DefaultProxyURL+endpoint, req.URL.String())
	}
}

func TestTestRequestBody(t *testing.T) {
	p, err := llm.GetProvider(llm.ProviderOpenAI, nil)
	require.NoError(t, err)

	req, err := p.BuildTestRequest(context.Background(), "k", "gpt-4o")
	require.NoError(t, err)
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)

	// gpt-4o 在连接测试里仍使用 max_tokens
	assert.JSONEq(t, `{"model":"gpt-4o","messages":[{"role":"user","content":"Hello"}],"max_tokens":5}`, string(data))
}

func TestParseChoices(t *testing.T) {
	assert.Equal(t, "ok", ParseChoices([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)))
	assert.Equal(t, llm.WarnMalformed, ParseChoices([]byte(`{"choices":[]}`)))
	assert.Equal(t, llm.WarnMalformed, ParseChoices([]byte(`{"error":`)))
}
