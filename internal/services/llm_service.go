// internal/services/llm_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/LoreChat/internal/auth"
	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

// 调用前置检查的错误信息
const (
	ErrMsgNoPermission = "您沒有使用此模型的權限。"
	ErrMsgNotSignedIn  = "使用者未登入，無法呼叫官方模型。"
	ErrMsgNoAPIKey     = "尚未設定 API 金鑰。"
	ErrMsgUnsupported  = "不支援的 API 供應商"
)

// LLMService 按当前设置选择供应商并通过 Dispatcher 发送请求
type LLMService struct {
	state      *StateService
	dispatcher *llm.Dispatcher
	metrics    *utils.ChatMetrics

	// 供应商实例按名称缓存，代理配置变化时清空
	providerMutex  sync.RWMutex
	providerConfig map[string]string
	providers      map[string]llm.Provider

	logger *utils.Logger
}

// ProviderStatus 当前供应商状态
type ProviderStatus struct {
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	Supported       bool     `json:"supported"`
	HasAPIKey       bool     `json:"hasApiKey"`
	InFlight        bool     `json:"inFlight"`
	Providers       []string `json:"providers"`
	SupportedModels []string `json:"supportedModels"`
}

// NewLLMService 创建 LLM 服务
func NewLLMService(state *StateService, dispatcher *llm.Dispatcher, metrics *utils.ChatMetrics) *LLMService {
	if dispatcher == nil {
		dispatcher = llm.NewDispatcher(nil)
	}
	return &LLMService{
		state:          state,
		dispatcher:     dispatcher,
		metrics:        metrics,
		providerConfig: map[string]string{},
		providers:      make(map[string]llm.Provider),
		logger:         utils.GetLogger().With("llm_service", nil),
	}
}

// UpdateProviderConfig 替换供应商初始化参数（代理前缀等）
func (s *LLMService) UpdateProviderConfig(config map[string]string) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.providerConfig = make(map[string]string, len(config))
	for k, v := range config {
		s.providerConfig[k] = v
	}
	s.providers = make(map[string]llm.Provider)
	s.logger.Info("供应商配置已更新", map[string]interface{}{"keys": len(config)})
}

// Provider 获取（并缓存）指定供应商
func (s *LLMService) Provider(name string) (llm.Provider, error) {
	s.providerMutex.RLock()
	p, ok := s.providers[name]
	s.providerMutex.RUnlock()
	if ok {
		return p, nil
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	p, err := llm.GetProvider(name, s.providerConfig)
	if err != nil {
		return nil, err
	}
	s.providers[name] = p
	return p, nil
}

// Formatter 当前设置对应的供应商，不支持时返回 nil
func (s *LLMService) Formatter() llm.Provider {
	p, err := s.Provider(s.state.Settings().Provider())
	if err != nil {
		return nil
	}
	return p
}

// CallAPI 发送已格式化的 payload。summarization 为 true 时使用摘要参数。
// 新调用会取消进行中的调用。
func (s *LLMService) CallAPI(ctx context.Context, payload llm.Payload, summarization bool) (string, error) {
	settings := s.state.Settings()
	name := settings.Provider()
	params := llm.ParamsFromSettings(settings, summarization)

	if name == llm.ProviderOfficial {
		id := auth.FromContext(ctx)
		if !id.Premium() {
			return "", errors.NewForbiddenError(ErrMsgNoPermission, nil)
		}
		if !id.SignedIn() {
			return "", errors.NewUnauthorizedError(ErrMsgNotSignedIn, nil)
		}
		params.BearerToken = id.Raw
	} else if settings.APIKey == "" {
		return "", errors.NewPreconditionError(ErrMsgNoAPIKey)
	}

	provider, err := s.Provider(name)
	if err != nil {
		return "", errors.NewValidationError(fmt.Sprintf("%s: %s", ErrMsgUnsupported, name), nil)
	}

	start := time.Now()
	text, err := s.dispatcher.Call(ctx, provider, payload, params)
	if s.metrics != nil {
		s.metrics.RecordLLMRequest(name, params.Model, err == nil, time.Since(start))
	}
	if err != nil {
		s.logger.Warn("模型调用失败", map[string]interface{}{
			"provider":      name,
			"model":         params.Model,
			"summarization": summarization,
			"error":         err.Error(),
		})
		return "", err
	}
	return text, nil
}

// TestConnection 用最小请求验证金钥
func (s *LLMService) TestConnection(ctx context.Context, providerName, apiKey, model string) (bool, error) {
	provider, err := s.Provider(providerName)
	if err != nil {
		return false, errors.NewValidationError(ErrMsgUnsupported, nil)
	}
	ok, err := s.dispatcher.TestConnection(ctx, provider, apiKey, model)
	if err != nil {
		s.logger.Info("连接测试失败", map[string]interface{}{"provider": providerName, "error": err.Error()})
	}
	return ok, err
}

// Abort 取消进行中的调用
func (s *LLMService) Abort() bool {
	return s.dispatcher.Abort()
}

// Status 当前供应商状态
func (s *LLMService) Status() ProviderStatus {
	settings := s.state.Settings()
	name := settings.Provider()
	return ProviderStatus{
		Provider:        name,
		Model:           settings.APIModel,
		Supported:       llm.IsRegistered(name),
		HasAPIKey:       settings.APIKey != "",
		InFlight:        s.dispatcher.InFlight(),
		Providers:       llm.ListProviders(),
		SupportedModels: llm.GetSupportedModelsForProvider(name),
	}
}

// formatFor 用当前供应商格式化消息，不支持的供应商按 OpenAI 兼容格式
func (s *LLMService) formatFor(messages []models.ChatMessage) llm.Payload {
	if p := s.Formatter(); p != nil {
		return p.FormatPayload(messages)
	}
	return llm.MergeLeadingSystem(llm.DropErrors(messages))
}
