// internal/api/handlers.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/config"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/services"
	"github.com/Corphon/LoreChat/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Characters *services.CharacterService
	Chat       *services.ChatService
	LLM        *services.LLMService
	Scenes     *services.SceneService
	Analyzer   *services.AnalyzerService
	Memory     *services.MemoryService
	Library    *services.LibraryService
	Export     *services.ExportService
	Config     *services.ConfigService
	Metrics    *utils.ChatMetrics

	WebSocketHandler *WebSocketHandler

	rh *ResponseHelper
}

// bind 解析 JSON 请求体，失败时已写入响应
func (h *Handler) bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		h.rh.InvalidJSON(c, err)
		return false
	}
	return true
}

// sessionRef 查询参数同时给出 characterId 和 chatId 时使用它们，否则使用当前会话
func (h *Handler) sessionRef(c *gin.Context) models.SessionRef {
	ref := models.SessionRef{
		CharacterID: c.Query("characterId"),
		ChatID:      c.Query("chatId"),
	}
	if ref.Valid() {
		return ref
	}
	info := h.Characters.Session()
	return models.SessionRef{CharacterID: info.CharacterID, ChatID: info.ChatID}
}

// ------------------------------------------------
// 设置

// GetSettings 全局设置，API 金钥以遮罩返回
func (h *Handler) GetSettings(c *gin.Context) {
	h.rh.Success(c, h.Config.Settings())
}

// UpdateSettings 修改全局设置
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req services.SettingsUpdate
	if !h.bind(c, &req) {
		return
	}
	view, err := h.Config.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, view, "设置已保存")
}

// TestConnectionRequest 测试连接参数，空字段使用已保存的设置
type TestConnectionRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
}

// TestConnection 测试供应商连接
func (h *Handler) TestConnection(c *gin.Context) {
	var req TestConnectionRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	ok, err := h.Config.TestConnection(c.Request.Context(), req.Provider, req.APIKey, req.Model)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"connected": ok})
}

// ListProviders 已注册的供应商及其模型
func (h *Handler) ListProviders(c *gin.Context) {
	names := llm.ListProviders()
	providers := make([]gin.H, 0, len(names))
	for _, name := range names {
		providers = append(providers, gin.H{
			"name":   name,
			"models": llm.GetSupportedModelsForProvider(name),
		})
	}
	h.rh.Success(c, providers)
}

// LLMStatus 当前供应商状态
func (h *Handler) LLMStatus(c *gin.Context) {
	h.rh.Success(c, h.LLM.Status())
}

// ------------------------------------------------
// 服务配置与指标

// GetServerConfig 服务配置和最近的变更
func (h *Handler) GetServerConfig(c *gin.Context) {
	h.rh.Success(c, gin.H{
		"config":  h.Config.ServerConfig(),
		"history": h.Config.ChangeHistory(),
		"file":    config.ConfigFile(),
	})
}

// UpdateServerConfig 修改服务配置并写回配置文件
func (h *Handler) UpdateServerConfig(c *gin.Context) {
	var req services.ServerConfigUpdate
	if !h.bind(c, &req) {
		return
	}
	cfg, err := h.Config.UpdateServerConfig(req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, cfg, "服务配置已保存")
}

// GetMetrics 运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.rh.Success(c, h.Metrics.Collector().GetMetrics())
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	status := h.LLM.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"provider": status.Provider,
		"ready":    status.Supported && (status.HasAPIKey || status.Provider == llm.ProviderOfficial),
	})
}

// ------------------------------------------------
// 角色与聊天室

// ListCharacters 按排序返回所有角色
func (h *Handler) ListCharacters(c *gin.Context) {
	h.rh.Success(c, h.Characters.ListCharacters())
}

// GetCharacter 单个角色
func (h *Handler) GetCharacter(c *gin.Context) {
	character, err := h.Characters.GetCharacter(c.Param("id"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, character)
}

// CreateCharacter 新增角色
func (h *Handler) CreateCharacter(c *gin.Context) {
	var req services.CharacterInput
	if !h.bind(c, &req) {
		return
	}
	character, err := h.Characters.CreateCharacter(c.Request.Context(), req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Created(c, character)
}

// UpdateCharacter 修改角色
func (h *Handler) UpdateCharacter(c *gin.Context) {
	var req services.CharacterInput
	if !h.bind(c, &req) {
		return
	}
	character, err := h.Characters.UpdateCharacter(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, character)
}

// DeleteCharacter 删除角色及其全部聊天室
func (h *Handler) DeleteCharacter(c *gin.Context) {
	if err := h.Characters.DeleteCharacter(c.Request.Context(), c.Param("id")); err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, nil, "角色已删除")
}

// ListChats 角色的聊天室
func (h *Handler) ListChats(c *gin.Context) {
	chats, err := h.Characters.ListChats(c.Param("id"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, chats)
}

// CreateChat 新增聊天室，开场白作为第一条消息
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	chat, err := h.Characters.CreateChat(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Created(c, chat)
}

// UpdateChat 重命名或置顶聊天室
func (h *Handler) UpdateChat(c *gin.Context) {
	var req struct {
		Name   *string `json:"name"`
		Pinned *bool   `json:"pinned"`
	}
	if !h.bind(c, &req) {
		return
	}
	meta, err := h.Characters.RenameChat(c.Request.Context(), c.Param("id"), c.Param("chat_id"), req.Name, req.Pinned)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, meta)
}

// DeleteChat 删除聊天室及其记录、记忆和场景
func (h *Handler) DeleteChat(c *gin.Context) {
	if err := h.Characters.DeleteChat(c.Request.Context(), c.Param("id"), c.Param("chat_id")); err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, nil, "聊天室已删除")
}

// ------------------------------------------------
// 当前会话

// GetSession 当前选择
func (h *Handler) GetSession(c *gin.Context) {
	h.rh.Success(c, h.Characters.Session())
}

// UpdateSession 切换角色、聊天室、使用者角色或提示词组
func (h *Handler) UpdateSession(c *gin.Context) {
	var req services.SessionUpdate
	if !h.bind(c, &req) {
		return
	}
	info, err := h.Characters.SetSession(c.Request.Context(), req)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	if ref := (models.SessionRef{CharacterID: info.CharacterID, ChatID: info.ChatID}); ref.Valid() {
		h.Scenes.Ensure(c.Request.Context(), ref)
	}
	h.rh.Success(c, info)
}
