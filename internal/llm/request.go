// internal/llm/request.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"google.golang.org/genai"
)

// NewJSONRequest 构造 JSON POST 请求。body 为 []byte 时原样发送
func NewJSONRequest(ctx context.Context, url string, body interface{}, headers map[string]string) (*http.Request, error) {
	var data []byte
	switch b := body.(type) {
	case []byte:
		data = b
	default:
		var err error
		if data, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Endpoint 代理前缀 + 端点，base 非空时直接使用 base
func Endpoint(proxy, base, endpoint string) string {
	if base != "" {
		return base
	}
	return proxy + endpoint
}

// BlockNoneSafetySettings 四个类别全部 BLOCK_NONE
func BlockNoneSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	out := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return out
}
