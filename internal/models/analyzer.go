// internal/models/analyzer.go
package models

// 场景变更类型
const (
	SceneChangeUpdate = "update"
	SceneChangeAdd    = "add"
)

// SceneChange AI 建议的单个场景变更
type SceneChange struct {
	Type string `json:"type" jsonschema:"required,enum=update,enum=add"`

	// update
	NodeID             string `json:"nodeId,omitempty" jsonschema:"description=要更新的節點 ID"`
	NodeName           string `json:"nodeName,omitempty"`
	CurrentDescription string `json:"currentDescription,omitempty"`
	NewDescription     string `json:"newDescription,omitempty"`

	// add
	ParentID    *string  `json:"parentId,omitempty" jsonschema:"description=父節點 ID，頂層為 null"`
	Name        string   `json:"name,omitempty"`
	NodeType    NodeType `json:"nodeType,omitempty" jsonschema:"enum=location,enum=container,enum=item"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// SceneAnalysis 场景分析结果
type SceneAnalysis struct {
	HasChanges bool          `json:"hasChanges" jsonschema:"required"`
	Changes    []SceneChange `json:"changes" jsonschema:"required"`
}

// ApplyResult 应用场景变更的结果
type ApplyResult struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	AddedID []string `json:"addedIds,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}
