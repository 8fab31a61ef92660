// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"github.com/Corphon/LoreChat/internal/models"
)

// 错误定义
var (
	ErrUnknownProvider  = errors.New("未知的AI提供者")
	ErrTestNotSupported = errors.New("不支援的 API 供應商")
)

// 供应商名称
const (
	ProviderOpenAI     = "openai"
	ProviderMistral    = "mistral"
	ProviderXAI        = "xai"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderOfficial   = "official_gemini"
)

// DefaultProxyURL 第三方请求默认经过的代理前缀
const DefaultProxyURL = "https://key.d778105.workers.dev/"

// 配置键
const (
	ConfigProxyURL = "proxy_url" // 空字符串表示直连
	ConfigBaseURL  = "base_url"  // 覆盖完整端点（测试用）
)

// TestPrompt 连接测试发送的内容
const TestPrompt = "Hello"

// Provider 一个供应商变体：纯函数的 payload 格式化、请求构造和响应解析
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 推荐模型
	GetSupportedModels() []string

	// FormatPayload 把扁平消息整理成该供应商的 payload，不做任何 I/O
	FormatPayload(messages []models.ChatMessage) Payload

	// BuildRequest 构造聊天请求
	BuildRequest(ctx context.Context, payload Payload, params RequestParams) (*http.Request, error)

	// BuildTestRequest 构造最小的连接测试请求
	BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error)

	// ParseResponse 解析响应体，任何无法解析的情况都返回带 ⚠️ 前缀的文本
	ParseResponse(body []byte) string
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// IsRegistered 是否支持该供应商
func IsRegistered(name string) bool {
	providersMu.RLock()
	defer providersMu.RUnlock()
	_, ok := providers[name]
	return ok
}

// ListProviders 返回所有已注册的提供者名称（排序）
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSupportedModelsForProvider 获取指定提供商推荐的模型列表
func GetSupportedModelsForProvider(name string) []string {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}

// ProxyFrom 读取代理前缀配置，未配置时使用默认代理
func ProxyFrom(config map[string]string) string {
	if v, ok := config[ConfigProxyURL]; ok {
		return v
	}
	return DefaultProxyURL
}
