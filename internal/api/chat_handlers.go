// internal/api/chat_handlers.go
package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// SelectVariantRequest 切换回复变体
type SelectVariantRequest struct {
	Index   int `json:"index"`
	Variant int `json:"variant"`
}

// GetChatHistory 会话聊天记录
func (h *Handler) GetChatHistory(c *gin.Context) {
	ref := h.sessionRef(c)
	history, err := h.Chat.History(ref)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{
		"characterId": ref.CharacterID,
		"chatId":      ref.ChatID,
		"messages":    history,
	})
}

// SendMessage 发送消息并等待回复。上游失败的回复同样写入记录并返回
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.Chat.Send(c.Request.Context(), req.Message)
	if err != nil && reply != nil {
		h.rh.HandleErrorWithData(c, err, reply)
		return
	}
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, reply)
}

// RegenerateMessage 重新生成最后一条回复，作为新的变体
func (h *Handler) RegenerateMessage(c *gin.Context) {
	reply, err := h.Chat.Regenerate(c.Request.Context())
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, reply)
}

// SelectVariant 切换回复变体
func (h *Handler) SelectVariant(c *gin.Context) {
	var req SelectVariantRequest
	if !h.bind(c, &req) {
		return
	}
	reply, err := h.Chat.SelectVariant(c.Request.Context(), req.Index, req.Variant)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, reply)
}

// AbortGeneration 取消进行中的生成
func (h *Handler) AbortGeneration(c *gin.Context) {
	h.rh.Success(c, gin.H{"aborted": h.Chat.Abort()})
}

// PreviewPayload 组装当前会话的请求内容但不发送
func (h *Handler) PreviewPayload(c *gin.Context) {
	result, err := h.Chat.Preview(c.Request.Context())
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, result)
}

// GetMemory 会话的长期记忆
func (h *Handler) GetMemory(c *gin.Context) {
	text, err := h.Memory.Memory(h.sessionRef(c))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"memory": text})
}

// SetMemory 手动修改长期记忆
func (h *Handler) SetMemory(c *gin.Context) {
	var req struct {
		Memory string `json:"memory"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.Memory.SetMemory(c.Request.Context(), h.sessionRef(c), req.Memory); err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"memory": req.Memory}, "长期记忆已保存")
}

// UpdateMemory 用摘要提示词整理当前会话
func (h *Handler) UpdateMemory(c *gin.Context) {
	text, err := h.Memory.UpdateMemory(c.Request.Context())
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"memory": text}, "长期记忆已更新")
}

// ExportChat 导出聊天记录，download=true 时以附件返回
func (h *Handler) ExportChat(c *gin.Context) {
	result, err := h.Export.ExportChat(h.sessionRef(c), c.DefaultQuery("format", "markdown"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	download, _ := strconv.ParseBool(c.DefaultQuery("download", "false"))
	h.rh.ExportResponse(c, result, download)
}
