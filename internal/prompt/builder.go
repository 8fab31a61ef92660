// internal/prompt/builder.go
package prompt

import (
	"sort"
	"strings"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

// ErrNoSession 未选择角色或聊天室
const ErrNoSession = "請先選擇角色和聊天室"

// InjectionSource 世界书注入来源
type InjectionSource interface {
	ActiveLorebooks() []*models.Lorebook
	BuildInjections(history []models.Message) []models.Injection
}

// Request 一次组装所需的全部输入
type Request struct {
	Session  models.SessionRef
	History  []models.Message
	Expander TemplateExpander
	Lore     InjectionSource
	Settings models.GlobalSettings

	// Formatter 目标供应商，为 nil 时按 OpenAI 兼容格式输出
	Formatter llm.Provider
}

// Result 组装结果
type Result struct {
	Messages      []models.ChatMessage `json:"messages"`
	Payload       llm.Payload          `json:"payload"`
	Retained      []models.Message     `json:"-"`
	FixedTokens   int                  `json:"fixedTokens"`
	HistoryTokens int                  `json:"historyTokens"`
	Budget        int                  `json:"budget"`
	Injections    int                  `json:"injections"`
}

// Builder 上下文组装器
type Builder struct {
	estimator TokenEstimator
	metrics   *utils.ChatMetrics
	logger    *utils.Logger
}

// Option 组装器选项
type Option func(*Builder)

// WithEstimator 替换 token 估算器
func WithEstimator(e TokenEstimator) Option {
	return func(b *Builder) { b.estimator = e }
}

// WithMetrics 记录组装指标
func WithMetrics(m *utils.ChatMetrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// NewBuilder 创建组装器，默认按 UTF-16 码元估算
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		estimator: UTF16Estimator{},
		logger:    utils.GetLogger().With("prompt", nil),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Estimator 当前使用的估算器
func (b *Builder) Estimator() TokenEstimator {
	return b.estimator
}

// Build 按预算截断聊天记录，展开模板，注入世界书，最后交给供应商格式化。
// 固定部分超出预算时不保留任何聊天记录，但仍然产出请求。
func (b *Builder) Build(req Request) (*Result, error) {
	if !req.Session.Valid() {
		return nil, errors.NewPreconditionError(ErrNoSession)
	}

	budget := req.Settings.ContextBudget()
	fixed := FixedBudget(req.Expander, req.Lore, b.estimator)
	retained, used := TruncateHistory(req.History, fixed, budget, b.estimator)

	draft := req.Expander.BuildFinalMessages(retained)

	var injections []models.Injection
	if req.Lore != nil {
		injections = req.Lore.BuildInjections(retained)
	}
	anchor := req.Expander.PromptContent(models.PromptCharDescription)
	draft = InsertInjections(draft, injections, anchor)

	final := llm.DropErrors(draft)
	var payload llm.Payload
	if req.Formatter != nil {
		payload = req.Formatter.FormatPayload(final)
	} else {
		payload = llm.MergeLeadingSystem(final)
	}

	b.logger.Debug("上下文组装完成", map[string]interface{}{
		"session":    req.Session.Key(),
		"budget":     budget,
		"fixed":      fixed,
		"history":    used,
		"kept":       len(retained),
		"total":      len(req.History),
		"injections": len(injections),
	})
	if b.metrics != nil {
		b.metrics.RecordContextBuild(len(retained), len(req.History), len(injections))
	}

	return &Result{
		Messages:      final,
		Payload:       payload,
		Retained:      retained,
		FixedTokens:   fixed,
		HistoryTokens: used,
		Budget:        budget,
		Injections:    len(injections),
	}, nil
}

// FixedBudget 启用的提示词条目（展开后）加上所有启用世界书中启用条目的 token 数
func FixedBudget(expander TemplateExpander, lore InjectionSource, est TokenEstimator) int {
	total := 0
	if set := expander.ActivePromptSet(); set != nil {
		for _, p := range set.Prompts {
			if p.Enabled {
				total += est.Estimate(expander.ReplacePlaceholders(p.Content))
			}
		}
	}
	if lore != nil {
		for _, book := range lore.ActiveLorebooks() {
			for _, e := range book.Entries {
				if e.Enabled {
					total += est.Estimate(e.Content)
				}
			}
		}
	}
	return total
}

// TruncateHistory 从最新的消息往回累加，第一条放不下的消息即停止。返回保留的消息（时间顺序）和其 token 数
func TruncateHistory(history []models.Message, fixed, budget int, est TokenEstimator) ([]models.Message, int) {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := est.Estimate(history[i].ActiveText())
		if fixed+used+n > budget {
			break
		}
		used += n
		start = i
	}
	return history[start:], used
}

// InsertInjections 以角色描述所在消息为锚点插入注入内容：
// position 0 插在锚点之前，其余插在锚点之后，各自按 order 稳定排序
func InsertInjections(draft []models.ChatMessage, injections []models.Injection, anchorText string) []models.ChatMessage {
	if len(injections) == 0 {
		return draft
	}

	anchor := anchorIndex(draft, anchorText)

	var before, after []models.Injection
	for _, inj := range injections {
		if inj.Position == models.InjectBefore {
			before = append(before, inj)
		} else {
			after = append(after, inj)
		}
	}
	byOrder := func(list []models.Injection) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	}
	byOrder(before)
	byOrder(after)

	out := make([]models.ChatMessage, 0, len(draft)+len(injections))
	out = append(out, draft[:anchor]...)
	out = append(out, asSystem(before)...)
	out = append(out, draft[anchor:]...)

	at := anchor + len(before) + 1
	if at > len(out) {
		at = len(out)
	}
	tail := append(asSystem(after), out[at:]...)
	return append(out[:at], tail...)
}

func anchorIndex(draft []models.ChatMessage, anchorText string) int {
	if anchorText != "" {
		for i, m := range draft {
			if strings.Contains(m.Content, anchorText) {
				return i
			}
		}
	}
	for i, m := range draft {
		if m.Role == models.RoleSystem {
			return i
		}
	}
	return 0
}

func asSystem(list []models.Injection) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(list))
	for _, inj := range list {
		out = append(out, models.ChatMessage{Role: models.RoleSystem, Content: inj.Content})
	}
	return out
}
