// internal/scene/graph.go
package scene

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

// DefaultNodeName 未提供名称时使用
const DefaultNodeName = "未命名"

// Graph 单个场景地图上的结构操作。
// 所有结构变更都保持森林不变量并刷新 lastUpdated；并发访问由调用方加锁。
type Graph struct {
	m      *models.SceneMap
	now    func() time.Time
	logger *utils.Logger
}

// Option 配置 Graph
type Option func(*Graph)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// NewGraph 包装一个场景地图。m 为 nil 时所有查询返回零值，所有变更返回失败
func NewGraph(m *models.SceneMap, opts ...Option) *Graph {
	g := &Graph{
		m:      m,
		now:    time.Now,
		logger: utils.GetLogger().With("scene", nil),
	}
	for _, opt := range opts {
		opt(g)
	}
	if m != nil && m.Nodes == nil {
		m.Nodes = make(map[string]*models.SceneNode)
	}
	return g
}

// Map 底层场景地图
func (g *Graph) Map() *models.SceneMap {
	return g.m
}

// Node 按 ID 获取节点
func (g *Graph) Node(id string) *models.SceneNode {
	if g.m == nil || id == "" {
		return nil
	}
	return g.m.Nodes[id]
}

func (g *Graph) touch() {
	g.m.LastUpdated = g.now()
}

// newID node_<毫秒>_<0..999>，同一地图内冲突时重新生成
func (g *Graph) newID() string {
	for {
		id := fmt.Sprintf("node_%d_%d", g.now().UnixMilli(), rand.IntN(1000))
		if _, exists := g.m.Nodes[id]; !exists {
			return id
		}
	}
}

// OrderedIDs 稳定的节点遍历顺序：rootNodes 深度优先，然后是不可达节点按 ID 排序
func (g *Graph) OrderedIDs() []string {
	if g.m == nil {
		return nil
	}
	out := make([]string, 0, len(g.m.Nodes))
	seen := make(map[string]bool, len(g.m.Nodes))

	var walk func(id string)
	walk = func(id string) {
		n, ok := g.m.Nodes[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, id := range g.m.RootNodes {
		walk(id)
	}

	if len(out) < len(g.m.Nodes) {
		var rest []string
		for id := range g.m.Nodes {
			if !seen[id] {
				rest = append(rest, id)
			}
		}
		sort.Strings(rest)
		out = append(out, rest...)
	}
	return out
}

// resolveParent 先按 ID，再按名称查找父节点
func (g *Graph) resolveParent(ref string) *models.SceneNode {
	if ref == "" {
		return nil
	}
	if n, ok := g.m.Nodes[ref]; ok {
		return n
	}

	var matches []string
	for _, id := range g.OrderedIDs() {
		if g.m.Nodes[id].Name == ref {
			matches = append(matches, id)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		g.logger.Warn("父节点名称不唯一，使用第一个匹配", map[string]interface{}{
			"name":    ref,
			"matches": matches,
		})
	}
	return g.m.Nodes[matches[0]]
}

// AddNode 新增节点。
// parentRef 可以是节点 ID 或节点名称；找不到时成为根节点。
// 父节点为 item 时拒绝新增并返回 nil。
func (g *Graph) AddNode(parentRef string, data models.NodeData) *models.SceneNode {
	if g.m == nil {
		return nil
	}

	parent := g.resolveParent(parentRef)
	if parent != nil && !parent.Type.CanHoldChildren() {
		g.logger.Warn("物品节点不能拥有子节点", map[string]interface{}{
			"parent": parent.ID,
		})
		return nil
	}

	node := &models.SceneNode{
		ID:       g.newID(),
		Name:     DefaultNodeName,
		Type:     models.NodeLocation,
		Keywords: []string{},
		Children: []string{},
	}
	if data.Name != nil && *data.Name != "" {
		node.Name = *data.Name
	}
	if data.Type != nil && *data.Type != "" {
		node.Type = *data.Type
	}
	if data.Description != nil {
		node.Description = *data.Description
	}
	if data.Keywords != nil {
		node.Keywords = append([]string(nil), data.Keywords...)
	}

	g.m.Nodes[node.ID] = node
	if parent != nil {
		parent.Children = append(parent.Children, node.ID)
		node.Parent = parent.ID
	} else {
		g.m.RootNodes = append(g.m.RootNodes, node.ID)
	}

	g.touch()
	return node
}

// IsDescendant ancestorID 是否等于 nodeID 或位于 nodeID 的子树中
func (g *Graph) IsDescendant(nodeID, ancestorID string) bool {
	if g.m == nil {
		return false
	}
	node, ok := g.m.Nodes[nodeID]
	if !ok {
		return false
	}
	if nodeID == ancestorID {
		return true
	}
	for _, c := range node.Children {
		if g.IsDescendant(c, ancestorID) {
			return true
		}
	}
	return false
}

// MoveItem 移动节点。newParentID 为空表示移到根层级；
// newIndex 在 [0, len] 内时插入该位置，否则追加到末尾。
// 节点或新父节点不存在、新父节点为 item、或新父节点位于节点子树内时返回 false 且不做修改。
func (g *Graph) MoveItem(nodeID, newParentID string, newIndex int) bool {
	if g.m == nil {
		return false
	}
	node, ok := g.m.Nodes[nodeID]
	if !ok {
		return false
	}

	var newParent *models.SceneNode
	if newParentID != "" {
		newParent, ok = g.m.Nodes[newParentID]
		if !ok || !newParent.Type.CanHoldChildren() {
			return false
		}
		if g.IsDescendant(nodeID, newParentID) {
			return false
		}
	}

	g.detach(node)

	if newParent != nil {
		newParent.Children = insertAt(newParent.Children, nodeID, newIndex)
		node.Parent = newParentID
	} else {
		g.m.RootNodes = insertAt(g.m.RootNodes, nodeID, newIndex)
		node.Parent = ""
	}

	g.touch()
	return true
}

// detach 从父节点 children 或 rootNodes 中移除
func (g *Graph) detach(node *models.SceneNode) {
	if node.Parent != "" {
		if p, ok := g.m.Nodes[node.Parent]; ok {
			p.Children = without(p.Children, node.ID)
			return
		}
	}
	g.m.RootNodes = without(g.m.RootNodes, node.ID)
}

// DeleteNode 递归删除整棵子树
func (g *Graph) DeleteNode(nodeID string) bool {
	if g.m == nil {
		return false
	}
	node, ok := g.m.Nodes[nodeID]
	if !ok {
		return false
	}

	g.detach(node)
	g.removeSubtree(nodeID)
	g.touch()
	return true
}

func (g *Graph) removeSubtree(id string) {
	node, ok := g.m.Nodes[id]
	if !ok {
		return
	}
	for _, c := range node.Children {
		g.removeSubtree(c)
	}
	delete(g.m.Nodes, id)
	if g.m.CurrentLocation == id {
		g.m.CurrentLocation = ""
	}
}

// UpdateNode 修改节点资料，nil 字段保持不变
func (g *Graph) UpdateNode(nodeID string, patch models.NodeData) bool {
	node := g.Node(nodeID)
	if node == nil {
		return false
	}
	if patch.Name != nil {
		node.Name = *patch.Name
	}
	if patch.Type != nil {
		node.Type = *patch.Type
	}
	if patch.Description != nil {
		node.Description = *patch.Description
	}
	if patch.Keywords != nil {
		node.Keywords = append([]string(nil), patch.Keywords...)
	}
	g.touch()
	return true
}

// UpdateNodeState 浅合并节点状态
func (g *Graph) UpdateNodeState(nodeID string, state map[string]interface{}) bool {
	node := g.Node(nodeID)
	if node == nil {
		return false
	}
	if node.State == nil {
		node.State = make(map[string]interface{}, len(state))
	}
	for k, v := range state {
		node.State[k] = v
	}
	g.touch()
	return true
}

// SetInjection 开关场景注入
func (g *Graph) SetInjection(enabled bool) bool {
	if g.m == nil {
		return false
	}
	g.m.SetEnabled(enabled)
	g.touch()
	return true
}

// SetCurrentLocation 设置当前位置，空字符串清除
func (g *Graph) SetCurrentLocation(nodeID string) bool {
	if g.m == nil {
		return false
	}
	if nodeID != "" && g.m.Nodes[nodeID] == nil {
		return false
	}
	g.m.CurrentLocation = nodeID
	g.touch()
	return true
}

// Validate 检查森林不变量
func (g *Graph) Validate() error {
	if g.m == nil {
		return fmt.Errorf("场景地图不存在")
	}
	m := g.m

	roots := make(map[string]bool, len(m.RootNodes))
	for _, id := range m.RootNodes {
		n, ok := m.Nodes[id]
		if !ok {
			return fmt.Errorf("根节点 %s 不存在", id)
		}
		if roots[id] {
			return fmt.Errorf("根节点 %s 重复", id)
		}
		if n.Parent != "" {
			return fmt.Errorf("根节点 %s 的 parent 不为空", id)
		}
		roots[id] = true
	}

	for id, n := range m.Nodes {
		if n == nil {
			return fmt.Errorf("节点 %s 为空", id)
		}
		if n.ID != id {
			return fmt.Errorf("节点键 %s 与 ID %s 不一致", id, n.ID)
		}
		if n.Parent == "" {
			if !roots[id] {
				return fmt.Errorf("节点 %s 没有父节点但不在 rootNodes 中", id)
			}
		} else {
			p, ok := m.Nodes[n.Parent]
			if !ok {
				return fmt.Errorf("节点 %s 的父节点 %s 不存在", id, n.Parent)
			}
			if count(p.Children, id) != 1 {
				return fmt.Errorf("节点 %s 未正确登记在父节点 %s 的 children 中", id, n.Parent)
			}
		}
		for _, c := range n.Children {
			child, ok := m.Nodes[c]
			if !ok {
				return fmt.Errorf("节点 %s 的子节点 %s 不存在", id, c)
			}
			if child.Parent != id {
				return fmt.Errorf("子节点 %s 的 parent 不是 %s", c, id)
			}
		}

		// 沿 parent 走到根，步数不超过节点数
		cur, steps := n, 0
		for cur.Parent != "" {
			steps++
			if steps > len(m.Nodes) {
				return fmt.Errorf("节点 %s 存在循环引用", id)
			}
			next, ok := m.Nodes[cur.Parent]
			if !ok {
				return fmt.Errorf("节点 %s 的父节点 %s 不存在", cur.ID, cur.Parent)
			}
			cur = next
		}
	}
	return nil
}

func insertAt(list []string, id string, index int) []string {
	if index < 0 || index > len(list) {
		return append(list, id)
	}
	list = append(list, "")
	copy(list[index+1:], list[index:])
	list[index] = id
	return list
}

func without(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func count(list []string, id string) int {
	n := 0
	for _, v := range list {
		if v == id {
			n++
		}
	}
	return n
}
