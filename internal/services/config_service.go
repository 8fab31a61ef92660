// internal/services/config_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/LoreChat/internal/config"
	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	ErrMsgInvalidTemperature = "temperature 必須介於 0 與 2 之間"
	ErrMsgInvalidTopP        = "topP 必須介於 0 與 1 之間"
	ErrMsgInvalidMaxTokens   = "maxTokens 必須大於 0"
	ErrMsgInvalidRegex       = "無效的正則規則"
)

// SettingsView 返回给客户端的设置，API 金钥只显示遮罩
type SettingsView struct {
	models.GlobalSettings
	HasAPIKey bool `json:"hasApiKey"`
}

// SettingsUpdate 设置修改，nil 字段保持不变。
// APIKey 为空字符串表示清除，等于遮罩值时视为未修改
type SettingsUpdate struct {
	APIProvider            *string             `json:"apiProvider"`
	APIKey                 *string             `json:"apiKey"`
	APIModel               *string             `json:"apiModel"`
	Temperature            *float64            `json:"temperature"`
	TopP                   *float64            `json:"topP"`
	MaxTokens              *int                `json:"maxTokens"`
	ContextSize            *models.FlexInt     `json:"contextSize"`
	RepetitionPenalty      *float64            `json:"repetitionPenalty"`
	SummarizationMaxTokens *int                `json:"summarizationMaxTokens"`
	SummarizationPrompt    *string             `json:"summarizationPrompt"`
	RegexRules             *[]models.RegexRule `json:"regexRules"`
}

// ServerConfigUpdate 可热加载的服务配置修改
type ServerConfigUpdate struct {
	DebugMode              *bool   `json:"debug_mode"`
	LogLevel               *string `json:"log_level"`
	ProxyURL               *string `json:"proxy_url"`
	RateLimitPerMinute     *int    `json:"rate_limit_per_minute"`
	ChatRateLimitPerMinute *int    `json:"chat_rate_limit_per_minute"`
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Section   string    `json:"section"`
	Fields    []string  `json:"fields"`
}

// maxChangeHistory 保留的变更记录数
const maxChangeHistory = 100

// ConfigService 全局设置与服务配置
type ConfigService struct {
	state *StateService
	llm   *LLMService

	mu            sync.RWMutex
	changeHistory []ConfigChangeRecord

	logger *utils.Logger
}

// NewConfigService 创建配置服务，并把服务配置的变更同步到供应商
func NewConfigService(state *StateService, llmService *LLMService) *ConfigService {
	s := &ConfigService{
		state:         state,
		llm:           llmService,
		changeHistory: make([]ConfigChangeRecord, 0, maxChangeHistory),
		logger:        utils.GetLogger().With("config_service", nil),
	}

	llmService.UpdateProviderConfig(config.GetCurrentConfig().LLMConfig())
	config.Subscribe(func(cfg *config.AppConfig) {
		llmService.UpdateProviderConfig(cfg.LLMConfig())
		s.recordChange("server", []string{"reload"})
	})
	return s
}

// Settings 当前全局设置
func (s *ConfigService) Settings() SettingsView {
	settings := s.state.Settings()
	view := SettingsView{GlobalSettings: settings, HasAPIKey: settings.APIKey != ""}
	view.APIKey = utils.MaskSecret(settings.APIKey)
	return view
}

// UpdateSettings 校验并保存全局设置
func (s *ConfigService) UpdateSettings(ctx context.Context, up SettingsUpdate) (SettingsView, error) {
	if err := s.validate(up); err != nil {
		return SettingsView{}, err
	}

	var changed []string
	err := s.state.Mutate(func(st *models.AppState) error {
		changed = applySettings(&st.GlobalSettings, up)
		return nil
	})
	if err != nil {
		return SettingsView{}, err
	}
	if len(changed) == 0 {
		return s.Settings(), nil
	}

	if err := s.state.SaveSettings(ctx); err != nil {
		return SettingsView{}, errors.NewProcessingError("保存設定失败", err)
	}
	s.recordChange("settings", changed)
	s.logger.Info("全局设置已更新", map[string]interface{}{"fields": strings.Join(changed, ",")})
	return s.Settings(), nil
}

func (s *ConfigService) validate(up SettingsUpdate) error {
	if up.APIProvider != nil && *up.APIProvider != "" && !llm.IsRegistered(*up.APIProvider) {
		return errors.NewValidationError(fmt.Sprintf("%s: %s", ErrMsgUnsupported, *up.APIProvider), nil)
	}
	if up.Temperature != nil && (*up.Temperature < 0 || *up.Temperature > 2) {
		return errors.NewValidationError(ErrMsgInvalidTemperature, nil)
	}
	if up.TopP != nil && (*up.TopP < 0 || *up.TopP > 1) {
		return errors.NewValidationError(ErrMsgInvalidTopP, nil)
	}
	if up.MaxTokens != nil && *up.MaxTokens <= 0 {
		return errors.NewValidationError(ErrMsgInvalidMaxTokens, nil)
	}
	if up.RegexRules != nil {
		for _, rule := range *up.RegexRules {
			if rule.Find == "" {
				return errors.NewValidationError(ErrMsgInvalidRegex, nil)
			}
			if _, err := compileRule(rule.Find); err != nil {
				return errors.NewValidationError(fmt.Sprintf("%s: %s", ErrMsgInvalidRegex, rule.Name), err)
			}
		}
	}
	return nil
}

// applySettings 写入非 nil 字段，返回实际修改的字段名
func applySettings(gs *models.GlobalSettings, up SettingsUpdate) []string {
	var changed []string
	setString := func(name string, dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = append(changed, name)
		}
	}
	setFloat := func(name string, dst *float64, v *float64) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = append(changed, name)
		}
	}
	setInt := func(name string, dst *int, v *int) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = append(changed, name)
		}
	}

	setString("apiProvider", &gs.APIProvider, up.APIProvider)
	if up.APIKey != nil && *up.APIKey != utils.MaskSecret(gs.APIKey) {
		setString("apiKey", &gs.APIKey, up.APIKey)
	}
	setString("apiModel", &gs.APIModel, up.APIModel)
	setFloat("temperature", &gs.Temperature, up.Temperature)
	setFloat("topP", &gs.TopP, up.TopP)
	setInt("maxTokens", &gs.MaxTokens, up.MaxTokens)
	if up.ContextSize != nil && *up.ContextSize != gs.ContextSize {
		gs.ContextSize = *up.ContextSize
		changed = append(changed, "contextSize")
	}
	setFloat("repetitionPenalty", &gs.RepetitionPenalty, up.RepetitionPenalty)
	setInt("summarizationMaxTokens", &gs.SummarizationMaxTokens, up.SummarizationMaxTokens)
	setString("summarizationPrompt", &gs.SummarizationPrompt, up.SummarizationPrompt)
	if up.RegexRules != nil {
		gs.RegexRules = append([]models.RegexRule{}, (*up.RegexRules)...)
		changed = append(changed, "regexRules")
	}
	return changed
}

// TestConnection 测试连接；apiKey 为空或为遮罩值时使用已保存的金钥
func (s *ConfigService) TestConnection(ctx context.Context, provider, apiKey, model string) (bool, error) {
	settings := s.state.Settings()
	if provider == "" {
		provider = settings.Provider()
	}
	if apiKey == "" || apiKey == utils.MaskSecret(settings.APIKey) {
		apiKey = settings.APIKey
	}
	if model == "" {
		model = settings.APIModel
	}
	if apiKey == "" && provider != llm.ProviderOfficial {
		return false, errors.NewPreconditionError(ErrMsgNoAPIKey)
	}
	return s.llm.TestConnection(ctx, provider, apiKey, model)
}

// ServerConfig 当前服务配置
func (s *ConfigService) ServerConfig() *config.AppConfig {
	return config.GetCurrentConfig()
}

// UpdateServerConfig 修改服务配置并写回 config.toml，订阅者会收到通知
func (s *ConfigService) UpdateServerConfig(up ServerConfigUpdate) (*config.AppConfig, error) {
	if up.RateLimitPerMinute != nil && *up.RateLimitPerMinute < 0 {
		return nil, errors.NewValidationError("rate_limit_per_minute 不能為負數", nil)
	}
	if up.ChatRateLimitPerMinute != nil && *up.ChatRateLimitPerMinute < 0 {
		return nil, errors.NewValidationError("chat_rate_limit_per_minute 不能為負數", nil)
	}

	err := config.UpdateConfig(func(cfg *config.AppConfig) {
		if up.DebugMode != nil {
			cfg.DebugMode = *up.DebugMode
		}
		if up.LogLevel != nil {
			cfg.LogLevel = *up.LogLevel
		}
		if up.ProxyURL != nil {
			cfg.ProxyURL = strings.TrimSpace(*up.ProxyURL)
		}
		if up.RateLimitPerMinute != nil {
			cfg.RateLimitPerMinute = *up.RateLimitPerMinute
		}
		if up.ChatRateLimitPerMinute != nil {
			cfg.ChatRateLimitPerMinute = *up.ChatRateLimitPerMinute
		}
	})
	if err != nil {
		return nil, errors.NewProcessingError("保存服务配置失败", err)
	}
	return config.GetCurrentConfig(), nil
}

// ChangeHistory 最近的配置变更
func (s *ConfigService) ChangeHistory() []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ConfigChangeRecord(nil), s.changeHistory...)
}

func (s *ConfigService) recordChange(section string, fields []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp: time.Now(),
		Section:   section,
		Fields:    fields,
	})
	if len(s.changeHistory) > maxChangeHistory {
		s.changeHistory = s.changeHistory[len(s.changeHistory)-maxChangeHistory:]
	}
}
