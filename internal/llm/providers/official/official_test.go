package official

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
)

func TestBuildRequest(t *testing.T) {
	// 即使配置为直连，官方模型仍然走托管代理
	p, err := llm.GetProvider(llm.ProviderOfficial, map[string]string{llm.ConfigProxyURL: ""})
	require.NoError(t, err)

	payload := p.FormatPayload([]models.ChatMessage{
		{Role: models.RoleSystem, Content: "S"},
		{Role: models.RoleUser, Content: "hi"},
	})
	req, err := p.BuildRequest(context.Background(), payload, llm.RequestParams{
		Model: "gemini-2.5-flash", Temperature: 1, TopP: 1, MaxTokens: 200, BearerToken: "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultProxyURL+"chat", req.URL.String())
	assert.Equal(t, "Bearer tok", req.Header.Get("Authorization"))

	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	body := gjson.ParseBytes(data)

	assert.Equal(t, int64(200), body.Get("max_tokens").Int())
	assert.False(t, body.Get("max_completion_tokens").Exists())
	assert.Equal(t, []interface{}{"user", "user"}, body.Get("messages.#.role").Value())
	assert.Len(t, body.Get("safetySettings").Array(), 4)
	assert.Equal(t, "BLOCK_NONE", body.Get("safetySettings.0.threshold").String())
}

func TestNoConnectionTest(t *testing.T) {
	p := &Provider{}
	_, err := p.BuildTestRequest(context.Background(), "", "")
	assert.True(t, errors.Is(err, llm.ErrTestNotSupported))
}
