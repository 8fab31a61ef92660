// internal/models/scene.go
package models

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// NodeType 场景节点类型
type NodeType string

const (
	NodeLocation  NodeType = "location"
	NodeContainer NodeType = "container"
	NodeItem      NodeType = "item"
)

// Valid 是否为已知类型
func (t NodeType) Valid() bool {
	return t == NodeLocation || t == NodeContainer || t == NodeItem
}

// CanHoldChildren location 和 container 可以作为父节点，item 不行
func (t NodeType) CanHoldChildren() bool {
	return t != NodeItem
}

// SceneNode 场景地图中的节点
type SceneNode struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        NodeType               `json:"type"`
	Description string                 `json:"description"`
	Keywords    []string               `json:"keywords"`
	Children    []string               `json:"children"`
	Parent      string                 `json:"-"` // 空字符串表示根节点，JSON 中为 null
	State       map[string]interface{} `json:"state,omitempty"`
}

type sceneNodeJSON struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        NodeType               `json:"type"`
	Description string                 `json:"description"`
	Keywords    []string               `json:"keywords"`
	Children    []string               `json:"children"`
	Parent      *string                `json:"parent"`
	State       map[string]interface{} `json:"state,omitempty"`
}

func (n SceneNode) MarshalJSON() ([]byte, error) {
	out := sceneNodeJSON{
		ID:          n.ID,
		Name:        n.Name,
		Type:        n.Type,
		Description: n.Description,
		Keywords:    n.Keywords,
		Children:    n.Children,
		State:       n.State,
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if out.Children == nil {
		out.Children = []string{}
	}
	if n.Parent != "" {
		p := n.Parent
		out.Parent = &p
	}
	return json.Marshal(out)
}

func (n *SceneNode) UnmarshalJSON(data []byte) error {
	var in sceneNodeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*n = SceneNode{
		ID:          in.ID,
		Name:        in.Name,
		Type:        in.Type,
		Description: in.Description,
		Keywords:    in.Keywords,
		Children:    in.Children,
		State:       in.State,
	}
	if in.Parent != nil {
		n.Parent = *in.Parent
	}
	return nil
}

// IsRoot 是否为根节点
func (n *SceneNode) IsRoot() bool {
	return n.Parent == ""
}

// SceneMap 每个 (角色, 聊天室) 独立的场景地图
type SceneMap struct {
	Name            string                `json:"name,omitempty"`
	Description     string                `json:"description,omitempty"`
	IsEnabled       *bool                 `json:"isEnabled,omitempty"` // 缺省视为启用
	RootNodes       []string              `json:"rootNodes"`
	Nodes           map[string]*SceneNode `json:"nodes"`
	CurrentLocation string                `json:"currentLocation,omitempty"`
	LastUpdated     time.Time             `json:"lastUpdated"`
}

// Enabled 场景注入是否启用
func (m *SceneMap) Enabled() bool {
	return m != nil && (m.IsEnabled == nil || *m.IsEnabled)
}

// SetEnabled 设置场景注入开关
func (m *SceneMap) SetEnabled(enabled bool) {
	m.IsEnabled = &enabled
}

// Clone 深拷贝，用于在锁外序列化或比较
func (m *SceneMap) Clone() *SceneMap {
	if m == nil {
		return nil
	}
	out := *m
	if m.IsEnabled != nil {
		v := *m.IsEnabled
		out.IsEnabled = &v
	}
	out.RootNodes = slices.Clone(m.RootNodes)
	out.Nodes = make(map[string]*SceneNode, len(m.Nodes))
	for id, n := range m.Nodes {
		c := *n
		c.Keywords = slices.Clone(n.Keywords)
		c.Children = slices.Clone(n.Children)
		c.State = maps.Clone(n.State)
		out.Nodes[id] = &c
	}
	return &out
}

// KeywordMap 全局关键字 -> 节点名称映射
type KeywordMap map[string][]string

// AvailableParent 可选父节点
type AvailableParent struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Path string   `json:"path"`
	Type NodeType `json:"type"`
}

// NodeData 新增/更新节点时的输入。指针字段为 nil 表示不修改
type NodeData struct {
	Name        *string   `json:"name,omitempty"`
	Type        *NodeType `json:"type,omitempty"`
	Description *string   `json:"description,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
}
