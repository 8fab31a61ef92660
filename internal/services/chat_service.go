// internal/services/chat_service.go
package services

import (
	"context"
	stderrors "errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/lorebook"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/utils"
)

// 正则规则单次匹配的超时时间
const regexMatchTimeout = time.Second

const (
	ErrMsgNothingToRegenerate = "沒有可重新生成的回覆"
	ErrMsgHistoryChanged      = "聊天記錄已變更，請重試"
	ErrMsgMessageNotFound     = "訊息不存在"
	ErrMsgInvalidVariant      = "無效的變體索引"
)

// ChatService 发送消息、重新生成回复和切换回复变体
type ChatService struct {
	state   *StateService
	llm     *LLMService
	scenes  *SceneService
	locks   *LockManager
	builder *prompt.Builder

	// 编译后的正则，按表达式缓存
	regexCache sync.Map // pattern -> *regexp2.Regexp

	logger *utils.Logger
}

// ChatReply 写入聊天记录的回复及其位置
type ChatReply struct {
	Index   int            `json:"index"`
	Message models.Message `json:"message"`
}

// NewChatService 创建聊天服务
func NewChatService(state *StateService, llmService *LLMService, scenes *SceneService, locks *LockManager, builder *prompt.Builder) *ChatService {
	if builder == nil {
		builder = prompt.NewBuilder()
	}
	return &ChatService{
		state:   state,
		llm:     llmService,
		scenes:  scenes,
		locks:   locks,
		builder: builder,
		logger:  utils.GetLogger().With("chat", nil),
	}
}

// activeSession 当前会话，未选择或不存在时返回错误
func (s *ChatService) activeSession() (models.SessionRef, error) {
	ref := s.state.ActiveSession()
	if !ref.Valid() {
		return ref, errors.NewPreconditionError(prompt.ErrNoSession)
	}
	var err error
	s.state.View(func(st *models.AppState) {
		err = requireSession(st, ref)
	})
	return ref, err
}

// History 会话聊天记录的副本
func (s *ChatService) History(ref models.SessionRef) ([]models.Message, error) {
	if !ref.Valid() {
		return nil, errors.NewPreconditionError(prompt.ErrNoSession)
	}
	var history []models.Message
	var err error
	s.state.View(func(st *models.AppState) {
		if err = requireSession(st, ref); err == nil {
			history = slices.Clone(st.History(ref))
		}
	})
	if history == nil && err == nil {
		history = []models.Message{}
	}
	return history, err
}

// ActiveHistory 当前会话的聊天记录
func (s *ChatService) ActiveHistory() (models.SessionRef, []models.Message, error) {
	ref, err := s.activeSession()
	if err != nil {
		return ref, nil, err
	}
	history, err := s.History(ref)
	return ref, history, err
}

// buildContext 组装请求。cut >= 0 时只使用前 cut 条记录
func (s *ChatService) buildContext(ref models.SessionRef, cut int) (*prompt.Result, error) {
	formatter := s.llm.Formatter()

	var result *prompt.Result
	var err error
	s.state.View(func(st *models.AppState) {
		history := slices.Clone(st.History(ref))
		if cut >= 0 && cut < len(history) {
			history = history[:cut]
		}
		result, err = s.builder.Build(prompt.Request{
			Session:   ref,
			History:   history,
			Expander:  prompt.NewStateExpander(st, ref),
			Lore:      lorebook.NewSource(st.Lorebooks),
			Settings:  st.GlobalSettings,
			Formatter: formatter,
		})
	})
	return result, err
}

// Preview 返回当前会话将要发送的 payload，不发送
func (s *ChatService) Preview(ctx context.Context) (*prompt.Result, error) {
	ref, err := s.activeSession()
	if err != nil {
		return nil, err
	}
	if s.scenes != nil {
		s.scenes.Ensure(ctx, ref)
	}
	return s.buildContext(ref, -1)
}

// Send 追加用户消息并生成回复。text 为空时直接根据现有记录继续生成
func (s *ChatService) Send(ctx context.Context, text string) (*ChatReply, error) {
	ref, err := s.activeSession()
	if err != nil {
		return nil, err
	}

	if text = strings.TrimSpace(text); text != "" {
		msg := models.NewMessage(models.RoleUser, text)
		msg.Timestamp = s.state.Now().UnixMilli()
		err := s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
			return s.state.Mutate(func(st *models.AppState) error {
				st.SetHistory(ref, append(st.History(ref), msg))
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
		s.state.logSaveError("chat history", s.state.SaveHistories(ctx, ref.CharacterID))
	}

	if s.scenes != nil {
		s.scenes.Ensure(ctx, ref)
	}

	result, err := s.buildContext(ref, -1)
	if err != nil {
		return nil, err
	}
	reply, callErr := s.llm.CallAPI(ctx, result.Payload, false)
	// 只有上游失败才写入错误消息；中止和前置条件错误不改动记录
	if callErr != nil && (stderrors.Is(callErr, llm.ErrAborted) || !errors.IsTransportError(callErr)) {
		return nil, callErr
	}

	var out *ChatReply
	err = s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			msg := models.Message{Role: models.RoleAssistant, Timestamp: s.state.Now().UnixMilli()}
			if callErr != nil {
				// 失败的回复以错误消息保留，组装上下文时会被丢弃
				msg.Content = models.Text(callErr.Error())
				msg.Error = true
			} else {
				msg.Content = models.Text(s.ApplyRegexRules(reply, st.GlobalSettings.RegexRules))
			}
			history := append(st.History(ref), msg)
			st.SetHistory(ref, history)
			out = &ChatReply{Index: len(history) - 1, Message: msg}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.state.logSaveError("chat history", s.state.SaveHistories(ctx, ref.CharacterID))

	if callErr != nil {
		return out, callErr
	}
	return out, nil
}

// Regenerate 重新生成最后一条 AI 回复，结果作为新的变体
func (s *ChatService) Regenerate(ctx context.Context) (*ChatReply, error) {
	ref, err := s.activeSession()
	if err != nil {
		return nil, err
	}

	target := -1
	s.state.View(func(st *models.AppState) {
		history := st.History(ref)
		if n := len(history); n > 0 && history[n-1].Role == models.RoleAssistant {
			target = n - 1
		}
	})
	if target < 0 {
		return nil, errors.NewValidationError(ErrMsgNothingToRegenerate, nil)
	}

	result, err := s.buildContext(ref, target)
	if err != nil {
		return nil, err
	}
	reply, err := s.llm.CallAPI(ctx, result.Payload, false)
	if err != nil {
		return nil, err
	}

	var out *ChatReply
	err = s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			history := st.History(ref)
			if target >= len(history) || history[target].Role != models.RoleAssistant {
				return errors.NewConflictError(ErrMsgHistoryChanged, nil)
			}
			text := s.ApplyRegexRules(reply, st.GlobalSettings.RegexRules)
			msg := &history[target]
			if msg.Error {
				*msg = models.NewMessage(models.RoleAssistant, text)
			} else {
				msg.AddVariant(text)
			}
			msg.Timestamp = s.state.Now().UnixMilli()
			out = &ChatReply{Index: target, Message: *msg}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.state.logSaveError("chat history", s.state.SaveHistories(ctx, ref.CharacterID))
	return out, nil
}

// SelectVariant 切换指定消息的当前变体
func (s *ChatService) SelectVariant(ctx context.Context, index, variant int) (*ChatReply, error) {
	ref, err := s.activeSession()
	if err != nil {
		return nil, err
	}

	var out *ChatReply
	err = s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			history := st.History(ref)
			if index < 0 || index >= len(history) {
				return errors.NewNotFoundError(ErrMsgMessageNotFound, nil)
			}
			if !history[index].SelectVariant(variant) {
				return errors.NewValidationError(ErrMsgInvalidVariant, nil)
			}
			out = &ChatReply{Index: index, Message: history[index]}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.state.logSaveError("chat history", s.state.SaveHistories(ctx, ref.CharacterID))
	return out, nil
}

// Abort 中止进行中的生成
func (s *ChatService) Abort() bool {
	return s.llm.Abort()
}

// ApplyRegexRules 依次套用启用的正则规则；无效的表达式会被跳过
func (s *ChatService) ApplyRegexRules(text string, rules []models.RegexRule) string {
	for _, rule := range rules {
		if !rule.Enabled || rule.Find == "" {
			continue
		}
		re, err := s.compile(rule.Find)
		if err != nil {
			s.logger.Warn("正则规则无效", map[string]interface{}{"rule": rule.Name, "error": err.Error()})
			continue
		}
		replaced, err := re.Replace(text, rule.Replace, -1, -1)
		if err != nil {
			s.logger.Warn("正则替换失败", map[string]interface{}{"rule": rule.Name, "error": err.Error()})
			continue
		}
		text = replaced
	}
	return text
}

func (s *ChatService) compile(pattern string) (*regexp2.Regexp, error) {
	if cached, ok := s.regexCache.Load(pattern); ok {
		return cached.(*regexp2.Regexp), nil
	}
	re, err := compileRule(pattern)
	if err != nil {
		return nil, err
	}
	s.regexCache.Store(pattern, re)
	return re, nil
}

// compileRule 按 ECMAScript 语法编译规则，带匹配超时
func compileRule(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.ECMAScript)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexMatchTimeout
	return re, nil
}
