// internal/services/scene_service.go
package services

import (
	"context"
	"slices"
	"sync"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/scene"
	"github.com/Corphon/LoreChat/internal/utils"
)

// 场景事件，通过 WebSocket 推送
const (
	SceneEventUpdated  = "scene_updated"
	SceneEventKeywords = "keywords_updated"
)

const (
	ErrMsgNoSceneMap    = "當前聊天室沒有場景地圖"
	ErrMsgNodeNotFound  = "節點不存在"
	ErrMsgInvalidParent = "無法在此節點下新增子節點"
	ErrMsgInvalidMove   = "無法移動到指定位置"
	ErrMsgEmptyKeyword  = "關鍵字不能為空"
	ErrMsgKeywordAbsent = "關鍵字不存在"
)

// SceneBroadcaster 场景变更通知
type SceneBroadcaster interface {
	BroadcastScene(ref models.SessionRef, event string, payload interface{})
}

// SceneService 会话场景地图和全局关键字映射
type SceneService struct {
	state   *StateService
	locks   *LockManager
	metrics *utils.ChatMetrics

	broadcasterMu sync.RWMutex
	broadcaster   SceneBroadcaster

	logger *utils.Logger
}

// NewSceneService 创建场景服务
func NewSceneService(state *StateService, locks *LockManager, metrics *utils.ChatMetrics) *SceneService {
	return &SceneService{
		state:   state,
		locks:   locks,
		metrics: metrics,
		logger:  utils.GetLogger().With("scene_service", nil),
	}
}

// SetBroadcaster 设置变更通知
func (s *SceneService) SetBroadcaster(b SceneBroadcaster) {
	s.broadcasterMu.Lock()
	defer s.broadcasterMu.Unlock()
	s.broadcaster = b
}

func (s *SceneService) broadcast(ref models.SessionRef, event string, payload interface{}) {
	s.broadcasterMu.RLock()
	b := s.broadcaster
	s.broadcasterMu.RUnlock()
	if b != nil {
		b.BroadcastScene(ref, event, payload)
	}
}

func (s *SceneService) graph(m *models.SceneMap) *scene.Graph {
	return scene.NewGraph(m, scene.WithClock(s.state.Now))
}

// ensureLocked 首次访问时建立预设场景，调用方持有写锁
func (s *SceneService) ensureLocked(st *models.AppState, ref models.SessionRef) (*models.SceneMap, bool) {
	if m := st.SceneMap(ref); m != nil {
		return m, false
	}
	m := scene.DefaultSceneMap("", s.state.Now())
	st.SetSceneMap(ref, m)
	return m, true
}

// Ensure 确保会话拥有场景地图
func (s *SceneService) Ensure(ctx context.Context, ref models.SessionRef) {
	var exists bool
	s.state.View(func(st *models.AppState) {
		exists = st.SceneMap(ref) != nil
	})
	if exists || !ref.Valid() {
		return
	}
	if _, err := s.Map(ctx, ref); err != nil {
		s.logger.Warn("建立预设场景失败", map[string]interface{}{"session": ref.Key(), "error": err.Error()})
	}
}

// Map 会话场景地图的副本，首次访问时建立预设场景
func (s *SceneService) Map(ctx context.Context, ref models.SessionRef) (*models.SceneMap, error) {
	if !ref.Valid() {
		return nil, errors.NewPreconditionError(prompt.ErrNoSession)
	}

	var snapshot *models.SceneMap
	var created bool
	err := s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			if err := requireSession(st, ref); err != nil {
				return err
			}
			var m *models.SceneMap
			m, created = s.ensureLocked(st, ref)
			snapshot = m.Clone()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("建立预设场景地图", map[string]interface{}{"session": ref.Key()})
		s.state.logSaveError("scene states", s.state.SaveSceneStates(ctx, ref.CharacterID))
	}
	return snapshot, nil
}

// mutate 在会话锁下修改场景地图，保存并推送结果
func (s *SceneService) mutate(ctx context.Context, ref models.SessionRef, kind string, fn func(g *scene.Graph) error) (*models.SceneMap, error) {
	if !ref.Valid() {
		return nil, errors.NewPreconditionError(prompt.ErrNoSession)
	}

	var snapshot *models.SceneMap
	err := s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			if err := requireSession(st, ref); err != nil {
				return err
			}
			m, _ := s.ensureLocked(st, ref)
			if err := fn(s.graph(m)); err != nil {
				return err
			}
			snapshot = m.Clone()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.state.logSaveError("scene states", s.state.SaveSceneStates(ctx, ref.CharacterID))
	if s.metrics != nil {
		s.metrics.RecordSceneMutation(kind)
	}
	s.broadcast(ref, SceneEventUpdated, snapshot)
	return snapshot, nil
}

// view 在读锁下查询场景地图，地图不存在时返回错误
func (s *SceneService) view(ref models.SessionRef, fn func(g *scene.Graph)) error {
	if !ref.Valid() {
		return errors.NewPreconditionError(prompt.ErrNoSession)
	}
	var err error
	s.state.View(func(st *models.AppState) {
		m := st.SceneMap(ref)
		if m == nil {
			err = errors.NewNotFoundError(ErrMsgNoSceneMap, nil)
			return
		}
		fn(s.graph(m))
	})
	return err
}

// AddNode 新增节点，parentRef 可以是节点 ID 或名称，空字符串为顶层
func (s *SceneService) AddNode(ctx context.Context, ref models.SessionRef, parentRef string, data models.NodeData) (*models.SceneNode, *models.SceneMap, error) {
	var added models.SceneNode
	m, err := s.mutate(ctx, ref, "add", func(g *scene.Graph) error {
		node := g.AddNode(parentRef, data)
		if node == nil {
			return errors.NewValidationError(ErrMsgInvalidParent, nil)
		}
		added = *node
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return m.Nodes[added.ID], m, nil
}

// UpdateNode 修改节点资料
func (s *SceneService) UpdateNode(ctx context.Context, ref models.SessionRef, nodeID string, patch models.NodeData) (*models.SceneMap, error) {
	return s.mutate(ctx, ref, "update", func(g *scene.Graph) error {
		if !g.UpdateNode(nodeID, patch) {
			return errors.NewNotFoundError(ErrMsgNodeNotFound, nil)
		}
		return nil
	})
}

// UpdateNodeState 合并节点状态
func (s *SceneService) UpdateNodeState(ctx context.Context, ref models.SessionRef, nodeID string, state map[string]interface{}) (*models.SceneMap, error) {
	return s.mutate(ctx, ref, "state", func(g *scene.Graph) error {
		if !g.UpdateNodeState(nodeID, state) {
			return errors.NewNotFoundError(ErrMsgNodeNotFound, nil)
		}
		return nil
	})
}

// DeleteNode 删除节点及其子树
func (s *SceneService) DeleteNode(ctx context.Context, ref models.SessionRef, nodeID string) (*models.SceneMap, error) {
	return s.mutate(ctx, ref, "delete", func(g *scene.Graph) error {
		if !g.DeleteNode(nodeID) {
			return errors.NewNotFoundError(ErrMsgNodeNotFound, nil)
		}
		return nil
	})
}

// MoveItem 移动节点，newParentID 为空表示移到顶层，newIndex 为 -1 表示追加
func (s *SceneService) MoveItem(ctx context.Context, ref models.SessionRef, nodeID, newParentID string, newIndex int) (*models.SceneMap, error) {
	return s.mutate(ctx, ref, "move", func(g *scene.Graph) error {
		if !g.MoveItem(nodeID, newParentID, newIndex) {
			return errors.NewValidationError(ErrMsgInvalidMove, nil)
		}
		return nil
	})
}

// SetInjection 开关场景注入
func (s *SceneService) SetInjection(ctx context.Context, ref models.SessionRef, enabled bool) (*models.SceneMap, error) {
	return s.mutate(ctx, ref, "injection", func(g *scene.Graph) error {
		g.SetInjection(enabled)
		return nil
	})
}

// SetCurrentLocation 设置当前位置
func (s *SceneService) SetCurrentLocation(ctx context.Context, ref models.SessionRef, nodeID string) (*models.SceneMap, error) {
	return s.mutate(ctx, ref, "location", func(g *scene.Graph) error {
		if !g.SetCurrentLocation(nodeID) {
			return errors.NewNotFoundError(ErrMsgNodeNotFound, nil)
		}
		return nil
	})
}

// NodePath 节点路径
func (s *SceneService) NodePath(ref models.SessionRef, nodeID string) (string, error) {
	var path string
	var found bool
	err := s.view(ref, func(g *scene.Graph) {
		found = g.Node(nodeID) != nil
		path = g.NodePath(nodeID)
	})
	if err == nil && !found {
		err = errors.NewNotFoundError(ErrMsgNodeNotFound, nil)
	}
	return path, err
}

// NodeByPath 按路径查找节点
func (s *SceneService) NodeByPath(ref models.SessionRef, path string) (*models.SceneNode, error) {
	var node *models.SceneNode
	err := s.view(ref, func(g *scene.Graph) {
		if n := g.NodeByPath(path); n != nil {
			c := *n
			c.Children = slices.Clone(n.Children)
			c.Keywords = slices.Clone(n.Keywords)
			node = &c
		}
	})
	if err == nil && node == nil {
		err = errors.NewNotFoundError(ErrMsgNodeNotFound, nil)
	}
	return node, err
}

// AvailableParents 可作为父节点的位置和容器
func (s *SceneService) AvailableParents(ref models.SessionRef, excludeID string) ([]models.AvailableParent, error) {
	var parents []models.AvailableParent
	err := s.view(ref, func(g *scene.Graph) {
		parents = g.AvailableParents(excludeID)
	})
	return parents, err
}

// ItemsInLocation 位置下的物品
func (s *SceneService) ItemsInLocation(ref models.SessionRef, locationID string, recursive bool) ([]models.SceneNode, error) {
	var items []models.SceneNode
	err := s.view(ref, func(g *scene.Graph) {
		for _, n := range g.ItemsInLocation(locationID, recursive) {
			items = append(items, *n)
		}
	})
	return items, err
}

// ScenePrompt focusID 非空时生成以该节点为中心的描述，否则按最近对话生成相关节点提示
func (s *SceneService) ScenePrompt(ref models.SessionRef, focusID string) (string, error) {
	var text string
	if !ref.Valid() {
		return "", errors.NewPreconditionError(prompt.ErrNoSession)
	}
	s.state.View(func(st *models.AppState) {
		g := s.graph(st.SceneMap(ref))
		if focusID != "" {
			text = g.BuildScenePromptText(focusID)
			return
		}
		history := st.History(ref)
		if len(history) > prompt.SceneScanDepth {
			history = history[len(history)-prompt.SceneScanDepth:]
		}
		text = g.BuildRelevantScenePrompt(history, st.SceneKeywordMap)
	})
	return text, nil
}

// Export 场景地图导出文档及文件名
func (s *SceneService) Export(ref models.SessionRef) (*models.SceneMapExport, string, error) {
	var doc *models.SceneMapExport
	var err error
	s.state.View(func(st *models.AppState) {
		m := st.SceneMap(ref)
		if m == nil {
			err = errors.NewNotFoundError(ErrMsgNoSceneMap, nil)
			return
		}
		doc = scene.Export(ref.CharacterID, ref.ChatID, m, copyKeywordMap(st.SceneKeywordMap), s.state.Now())
	})
	if err != nil {
		return nil, "", err
	}
	return doc, scene.ExportFileName(ref.CharacterID, ref.ChatID, s.state.Now()), nil
}

// Import 以导入文件替换会话场景地图，关键字映射合并进全局映射
func (s *SceneService) Import(ctx context.Context, ref models.SessionRef, data []byte) (*models.SceneMap, error) {
	doc, err := scene.ParseImport(data)
	if err != nil {
		return nil, err
	}
	if !ref.Valid() {
		return nil, errors.NewPreconditionError(prompt.ErrNoSession)
	}

	var snapshot *models.SceneMap
	err = s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			if err := requireSession(st, ref); err != nil {
				return err
			}
			m := doc.SceneMap
			m.LastUpdated = s.state.Now()
			st.SetSceneMap(ref, m)
			if len(doc.KeywordMapping) > 0 {
				st.SceneKeywordMap = scene.MergeKeywordMaps(st.SceneKeywordMap, doc.KeywordMapping)
			}
			snapshot = m.Clone()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.state.logSaveError("scene states", s.state.SaveSceneStates(ctx, ref.CharacterID))
	if len(doc.KeywordMapping) > 0 {
		s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	}
	if s.metrics != nil {
		s.metrics.RecordSceneMutation("import")
	}
	s.broadcast(ref, SceneEventUpdated, snapshot)
	return snapshot, nil
}

// Keywords 全局关键字映射的副本
func (s *SceneService) Keywords() models.KeywordMap {
	var km models.KeywordMap
	s.state.View(func(st *models.AppState) {
		km = copyKeywordMap(st.SceneKeywordMap)
	})
	return km
}

// updateKeywords 修改关键字映射并保存
func (s *SceneService) updateKeywords(ctx context.Context, fn func(st *models.AppState) error) (models.KeywordMap, error) {
	var km models.KeywordMap
	err := s.state.Mutate(func(st *models.AppState) error {
		if err := fn(st); err != nil {
			return err
		}
		km = copyKeywordMap(st.SceneKeywordMap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	s.broadcast(models.SessionRef{}, SceneEventKeywords, km)
	return km, nil
}

// SetKeyword 新增或覆盖关键字映射
func (s *SceneService) SetKeyword(ctx context.Context, keyword string, nodeNames []string) (models.KeywordMap, error) {
	return s.updateKeywords(ctx, func(st *models.AppState) error {
		if nodeNames == nil {
			nodeNames = []string{}
		}
		if !scene.AddKeywordMapping(st.SceneKeywordMap, keyword, nodeNames) {
			return errors.NewValidationError(ErrMsgEmptyKeyword, nil)
		}
		return nil
	})
}

// DeleteKeyword 删除关键字映射
func (s *SceneService) DeleteKeyword(ctx context.Context, keyword string) (models.KeywordMap, error) {
	return s.updateKeywords(ctx, func(st *models.AppState) error {
		if !scene.DeleteKeywordMapping(st.SceneKeywordMap, keyword) {
			return errors.NewNotFoundError(ErrMsgKeywordAbsent, nil)
		}
		return nil
	})
}

// ResetKeywords 恢复预设关键字映射
func (s *SceneService) ResetKeywords(ctx context.Context) (models.KeywordMap, error) {
	return s.updateKeywords(ctx, func(st *models.AppState) error {
		st.SceneKeywordMap = scene.DefaultKeywordMap()
		return nil
	})
}

func copyKeywordMap(km models.KeywordMap) models.KeywordMap {
	out := make(models.KeywordMap, len(km))
	for k, v := range km {
		out[k] = slices.Clone(v)
	}
	return out
}
