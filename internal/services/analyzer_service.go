// internal/services/analyzer_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/scene"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	// maxAnalysisHistoryTokens 场景分析使用的对话窗口
	maxAnalysisHistoryTokens = 20000

	analysisSystemPrompt = "You are a scene analysis expert."

	ErrMsgInvalidAnalysis = "AI 回傳了無效的格式，請稍後再試。"
)

// 去掉 markdown 代码块
var jsonFence = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

var (
	schemaOnce sync.Once
	schemaText string
)

// analysisSchema 场景分析结果的 JSON Schema
func analysisSchema() string {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties:  false,
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
		}
		data, err := json.MarshalIndent(reflector.Reflect(&models.SceneAnalysis{}), "", "  ")
		if err != nil {
			utils.GetLogger().Warn("生成场景分析 schema 失败", map[string]interface{}{"error": err.Error()})
			return
		}
		schemaText = string(data)
	})
	return schemaText
}

// AnalyzerService 让 AI 根据对话建议场景地图的更新
type AnalyzerService struct {
	state     *StateService
	llm       *LLMService
	scenes    *SceneService
	estimator prompt.TokenEstimator
	logger    *utils.Logger
}

// NewAnalyzerService 创建场景分析服务
func NewAnalyzerService(state *StateService, llmService *LLMService, scenes *SceneService) *AnalyzerService {
	return &AnalyzerService{
		state:     state,
		llm:       llmService,
		scenes:    scenes,
		estimator: prompt.UTF16Estimator{},
		logger:    utils.GetLogger().With("analyzer", nil),
	}
}

// sceneSummary 每个节点一行：- ID | 路径 | 类型 | 描述
func sceneSummary(m *models.SceneMap) string {
	g := scene.NewGraph(m)
	ids := make([]string, 0, len(m.Nodes))
	for id := range m.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("當前場景節點 (格式: ID | 路徑 | 類型 | 描述)：\n")
	for _, id := range ids {
		node := m.Nodes[id]
		desc := node.Description
		if desc == "" {
			desc = "無描述"
		}
		fmt.Fprintf(&sb, "- %s | %s | %s | %s\n", id, g.NodePath(id), node.Type, desc)
	}
	return sb.String()
}

// BuildAnalysisPrompt 组装分析提示词
func BuildAnalysisPrompt(summary, conversation string) string {
	var sb strings.Builder
	sb.WriteString("你是一個場景狀態分析助手。請根據以下對話內容，分析是否有任何場景節點的描述需要更新，或者是否需要新增新的場景節點。\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n最近的對話：\n")
	sb.WriteString(conversation)
	sb.WriteString("\n\n請以 JSON 格式回應，結構需符合以下 JSON Schema：\n")
	sb.WriteString(analysisSchema())
	sb.WriteString(`

注意事項：
1. **更新節點**：如果對話中提到的物品或地點狀態發生了變化（例如：門被打開了、杯子空了、位置移動了），請建議更新 (type: "update")，並使用場景摘要中提供的準確 nodeId。
2. **新增節點**：如果對話中出現了場景地圖中不存在的重要物品或地點，請建議新增 (type: "add")。parentId 必須是場景地圖中已存在的節點 ID，頂層則為 null。
3. **刪除/消失**：除非物品被明確銷毀或帶離場景，否則不要建議刪除。
4. 如果沒有需要更新或新增的內容，hasChanges 設為 false，changes 設為空陣列。
5. 只回應 JSON，不要加上任何解釋文字。`)
	return sb.String()
}

// ParseAnalysis 解析 AI 回复，允许包在 markdown 代码块中
func ParseAnalysis(reply string) (*models.SceneAnalysis, error) {
	if llm.IsWarning(reply) {
		return nil, errors.NewProcessingError(reply, nil)
	}
	text := strings.TrimSpace(reply)
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	var analysis models.SceneAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return nil, errors.NewParseError(ErrMsgInvalidAnalysis, err)
	}
	if analysis.Changes == nil {
		analysis.Changes = []models.SceneChange{}
	}
	return &analysis, nil
}

// AnalyzeSceneChanges 分析当前会话的对话，返回建议的场景变更（不会自动套用）
func (s *AnalyzerService) AnalyzeSceneChanges(ctx context.Context) (*models.SceneAnalysis, error) {
	ref := s.state.ActiveSession()
	if !ref.Valid() {
		return nil, errors.NewPreconditionError(prompt.ErrNoSession)
	}

	var summary, conversation string
	var err error
	s.state.View(func(st *models.AppState) {
		if err = requireSession(st, ref); err != nil {
			return
		}
		m := st.SceneMap(ref)
		if m == nil {
			err = errors.NewPreconditionError(ErrMsgNoSceneMap)
			return
		}
		summary = sceneSummary(m)
		conversation = renderConversation(st.History(ref), maxAnalysisHistoryTokens, s.estimator)
	})
	if err != nil {
		return nil, err
	}

	payload := s.llm.formatFor([]models.ChatMessage{
		{Role: models.RoleSystem, Content: analysisSystemPrompt},
		{Role: models.RoleUser, Content: BuildAnalysisPrompt(summary, conversation)},
	})
	reply, err := s.llm.CallAPI(ctx, payload, true)
	if err != nil {
		return nil, err
	}

	analysis, err := ParseAnalysis(reply)
	if err != nil {
		s.logger.Warn("场景分析结果无法解析", map[string]interface{}{
			"session": ref.Key(),
			"reply":   utils.Truncate(reply, 200),
		})
		return nil, err
	}
	s.logger.Info("场景分析完成", map[string]interface{}{
		"session": ref.Key(),
		"changes": len(analysis.Changes),
	})
	return analysis, nil
}

// ApplySceneChanges 套用建议：update 修改已存在节点的描述，add 新增节点
func (s *AnalyzerService) ApplySceneChanges(ctx context.Context, changes []models.SceneChange) (*models.ApplyResult, error) {
	ref := s.state.ActiveSession()
	result := &models.ApplyResult{}

	_, err := s.scenes.mutate(ctx, ref, "apply", func(g *scene.Graph) error {
		for _, change := range changes {
			switch change.Type {
			case models.SceneChangeUpdate:
				desc := change.NewDescription
				if !g.UpdateNode(change.NodeID, models.NodeData{Description: &desc}) {
					result.Skipped++
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", ErrMsgNodeNotFound, change.NodeID))
					continue
				}
				result.Applied++

			case models.SceneChangeAdd:
				parent := ""
				if change.ParentID != nil {
					parent = *change.ParentID
				}
				data := models.NodeData{Keywords: change.Keywords}
				if change.Name != "" {
					data.Name = &change.Name
				}
				if change.NodeType.Valid() {
					nodeType := change.NodeType
					data.Type = &nodeType
				}
				if change.Description != "" {
					data.Description = &change.Description
				}
				node := g.AddNode(parent, data)
				if node == nil {
					result.Skipped++
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", ErrMsgInvalidParent, parent))
					continue
				}
				result.Applied++
				result.AddedID = append(result.AddedID, node.ID)

			default:
				result.Skipped++
				result.Errors = append(result.Errors, fmt.Sprintf("未知的變更類型: %s", change.Type))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
