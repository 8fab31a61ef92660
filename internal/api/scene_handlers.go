// internal/api/scene_handlers.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/models"
)

// maxImportSize 场景导入文件大小上限
const maxImportSize = 5 << 20

// AddNodeRequest 新增节点，parentId 可以是节点 ID 或名称，空为顶层
type AddNodeRequest struct {
	ParentID string `json:"parentId"`
	models.NodeData
}

// MoveNodeRequest 移动节点
type MoveNodeRequest struct {
	ParentID string `json:"parentId" binding:"required"`
	Index    int    `json:"index"`
}

// GetSceneMap 会话场景地图，首次访问时建立预设场景
func (h *Handler) GetSceneMap(c *gin.Context) {
	m, err := h.Scenes.Map(c.Request.Context(), h.sessionRef(c))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// AddSceneNode 新增节点
func (h *Handler) AddSceneNode(c *gin.Context) {
	var req AddNodeRequest
	if !h.bind(c, &req) {
		return
	}
	node, m, err := h.Scenes.AddNode(c.Request.Context(), h.sessionRef(c), req.ParentID, req.NodeData)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Created(c, gin.H{"node": node, "sceneMap": m})
}

// UpdateSceneNode 修改节点的名称、类型、描述或关键字
func (h *Handler) UpdateSceneNode(c *gin.Context) {
	var req models.NodeData
	if !h.bind(c, &req) {
		return
	}
	m, err := h.Scenes.UpdateNode(c.Request.Context(), h.sessionRef(c), c.Param("node_id"), req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// UpdateSceneNodeState 合并节点状态
func (h *Handler) UpdateSceneNodeState(c *gin.Context) {
	var req map[string]interface{}
	if !h.bind(c, &req) {
		return
	}
	m, err := h.Scenes.UpdateNodeState(c.Request.Context(), h.sessionRef(c), c.Param("node_id"), req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// DeleteSceneNode 删除节点及其子树
func (h *Handler) DeleteSceneNode(c *gin.Context) {
	m, err := h.Scenes.DeleteNode(c.Request.Context(), h.sessionRef(c), c.Param("node_id"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// MoveSceneNode 把节点移动到新的父节点下的指定位置
func (h *Handler) MoveSceneNode(c *gin.Context) {
	var req MoveNodeRequest
	if !h.bind(c, &req) {
		return
	}
	m, err := h.Scenes.MoveItem(c.Request.Context(), h.sessionRef(c), c.Param("node_id"), req.ParentID, req.Index)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// GetNodePath 节点的完整路径
func (h *Handler) GetNodePath(c *gin.Context) {
	path, err := h.Scenes.NodePath(h.sessionRef(c), c.Param("node_id"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"path": path})
}

// FindNodeByPath 按 "家/廚房/冰箱" 形式的路径查找节点
func (h *Handler) FindNodeByPath(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		h.rh.Error(c, http.StatusBadRequest, ErrorInvalidParameter, "缺少 path 参数")
		return
	}
	node, err := h.Scenes.NodeByPath(h.sessionRef(c), path)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, node)
}

// GetAvailableParents 可作为父节点的位置和容器，exclude 的子树除外
func (h *Handler) GetAvailableParents(c *gin.Context) {
	parents, err := h.Scenes.AvailableParents(h.sessionRef(c), c.Query("exclude"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, parents)
}

// GetItemsInLocation 位置下的物品，recursive=true 时包含容器内的物品
func (h *Handler) GetItemsInLocation(c *gin.Context) {
	recursive, _ := strconv.ParseBool(c.DefaultQuery("recursive", "false"))
	items, err := h.Scenes.ItemsInLocation(h.sessionRef(c), c.Param("node_id"), recursive)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	if items == nil {
		items = []models.SceneNode{}
	}
	h.rh.Success(c, items)
}

// GetScenePrompt 场景提示词，focus 为空时按最近对话选择相关节点
func (h *Handler) GetScenePrompt(c *gin.Context) {
	text, err := h.Scenes.ScenePrompt(h.sessionRef(c), c.Query("focus"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"prompt": text})
}

// SetSceneInjection 开关场景提示词注入
func (h *Handler) SetSceneInjection(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !h.bind(c, &req) {
		return
	}
	m, err := h.Scenes.SetInjection(c.Request.Context(), h.sessionRef(c), req.Enabled)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// SetCurrentLocation 设置当前所在位置，空字符串表示清除
func (h *Handler) SetCurrentLocation(c *gin.Context) {
	var req struct {
		NodeID string `json:"nodeId"`
	}
	if !h.bind(c, &req) {
		return
	}
	m, err := h.Scenes.SetCurrentLocation(c.Request.Context(), h.sessionRef(c), req.NodeID)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m)
}

// AnalyzeScene 让 AI 根据当前会话的对话建议场景变更，不会自动套用
func (h *Handler) AnalyzeScene(c *gin.Context) {
	analysis, err := h.Analyzer.AnalyzeSceneChanges(c.Request.Context())
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, analysis)
}

// ApplySceneChanges 套用用户确认的场景变更
func (h *Handler) ApplySceneChanges(c *gin.Context) {
	var req struct {
		Changes []models.SceneChange `json:"changes"`
	}
	if !h.bind(c, &req) {
		return
	}
	result, err := h.Analyzer.ApplySceneChanges(c.Request.Context(), req.Changes)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, result)
}

// ExportScene 导出场景地图和关键字映射
func (h *Handler) ExportScene(c *gin.Context) {
	doc, fileName, err := h.Scenes.Export(h.sessionRef(c))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		h.rh.InternalError(c, "导出场景失败", err.Error())
		return
	}
	h.rh.DownloadResponse(c, data, fileName, "application/json; charset=utf-8")
}

// ImportScene 以请求体中的导出文件替换会话场景地图
func (h *Handler) ImportScene(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize+1))
	if err != nil {
		h.rh.BadRequest(c, "读取导入文件失败", err.Error())
		return
	}
	if len(data) > maxImportSize {
		h.rh.Error(c, http.StatusRequestEntityTooLarge, ErrorImportTooLarge, "导入文件过大")
		return
	}
	m, err := h.Scenes.Import(c.Request.Context(), h.sessionRef(c), data)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, m, "场景已导入")
}

// ------------------------------------------------
// 关键字映射

// GetKeywords 全局关键字映射
func (h *Handler) GetKeywords(c *gin.Context) {
	h.rh.Success(c, h.Scenes.Keywords())
}

// SetKeyword 新增或覆盖关键字
func (h *Handler) SetKeyword(c *gin.Context) {
	var req struct {
		Keyword string   `json:"keyword"`
		Nodes   []string `json:"nodes"`
	}
	if !h.bind(c, &req) {
		return
	}
	km, err := h.Scenes.SetKeyword(c.Request.Context(), req.Keyword, req.Nodes)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, km)
}

// DeleteKeyword 删除关键字
func (h *Handler) DeleteKeyword(c *gin.Context) {
	km, err := h.Scenes.DeleteKeyword(c.Request.Context(), c.Param("keyword"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, km)
}

// ResetKeywords 恢复预设关键字映射
func (h *Handler) ResetKeywords(c *gin.Context) {
	km, err := h.Scenes.ResetKeywords(c.Request.Context())
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, km)
}
