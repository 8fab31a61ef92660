// internal/services/memory_service.go
package services

import (
	"context"
	"strings"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/utils"
)

// historyPlaceholder 摘要提示词中对话内容的占位符
const historyPlaceholder = "{{history}}"

const ErrMsgEmptyHistory = "目前沒有可以整理的對話"

// renderConversation 从最新消息往前取，累计估算不超过 maxTokens，
// 第一条放不下的消息结束扫描；按时间顺序渲染为 "User: …" / "AI: …" 行
func renderConversation(history []models.Message, maxTokens int, est prompt.TokenEstimator) string {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := est.Estimate(history[i].ActiveText())
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}

	lines := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		role := "AI"
		if m.Role == models.RoleUser {
			role = "User"
		}
		lines = append(lines, role+": "+m.ActiveText())
	}
	return strings.Join(lines, "\n")
}

// MemoryService 长期记忆
type MemoryService struct {
	state     *StateService
	llm       *LLMService
	locks     *LockManager
	estimator prompt.TokenEstimator
	logger    *utils.Logger
}

// NewMemoryService 创建长期记忆服务
func NewMemoryService(state *StateService, llmService *LLMService, locks *LockManager) *MemoryService {
	return &MemoryService{
		state:     state,
		llm:       llmService,
		locks:     locks,
		estimator: prompt.UTF16Estimator{},
		logger:    utils.GetLogger().With("memory", nil),
	}
}

// Memory 会话的长期记忆
func (s *MemoryService) Memory(ref models.SessionRef) (string, error) {
	if !ref.Valid() {
		return "", errors.NewPreconditionError(prompt.ErrNoSession)
	}
	var text string
	var err error
	s.state.View(func(st *models.AppState) {
		if err = requireSession(st, ref); err == nil {
			text = st.Memory(ref)
		}
	})
	return text, err
}

// SetMemory 手动修改长期记忆
func (s *MemoryService) SetMemory(ctx context.Context, ref models.SessionRef, text string) error {
	if !ref.Valid() {
		return errors.NewPreconditionError(prompt.ErrNoSession)
	}
	err := s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			if err := requireSession(st, ref); err != nil {
				return err
			}
			setMemory(st, ref, text)
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.state.logSaveError("memory", s.state.SaveMemories(ctx, ref.CharacterID))
	return nil
}

func setMemory(st *models.AppState, ref models.SessionRef, text string) {
	if st.LongTermMemories[ref.CharacterID] == nil {
		st.LongTermMemories[ref.CharacterID] = make(map[string]string)
	}
	st.LongTermMemories[ref.CharacterID][ref.ChatID] = text
}

// UpdateMemory 用摘要提示词整理当前会话的对话，结果写入长期记忆
func (s *MemoryService) UpdateMemory(ctx context.Context) (string, error) {
	ref := s.state.ActiveSession()
	if !ref.Valid() {
		return "", errors.NewPreconditionError(prompt.ErrNoSession)
	}

	var conversation, template string
	var err error
	s.state.View(func(st *models.AppState) {
		if err = requireSession(st, ref); err != nil {
			return
		}
		conversation = renderConversation(st.History(ref), st.GlobalSettings.ContextBudget(), s.estimator)
		template = st.GlobalSettings.SummarizationPrompt
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(conversation) == "" {
		return "", errors.NewValidationError(ErrMsgEmptyHistory, nil)
	}
	if strings.TrimSpace(template) == "" {
		template = models.DefaultSummaryPrompt
	}

	var text string
	if strings.Contains(template, historyPlaceholder) {
		text = strings.ReplaceAll(template, historyPlaceholder, conversation)
	} else {
		text = template + "\n\n" + conversation
	}

	payload := s.llm.formatFor([]models.ChatMessage{{Role: models.RoleUser, Content: text}})
	summary, err := s.llm.CallAPI(ctx, payload, true)
	if err != nil {
		return "", err
	}
	if llm.IsWarning(summary) {
		return "", errors.NewProcessingError(summary, nil)
	}
	summary = strings.TrimSpace(summary)

	if err := s.SetMemory(ctx, ref, summary); err != nil {
		return "", err
	}
	s.logger.Info("长期记忆已更新", map[string]interface{}{"session": ref.Key(), "length": utils.RuneLen(summary)})
	return summary, nil
}
