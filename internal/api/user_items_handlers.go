// internal/api/user_items_handlers.go
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/models"
)

// 使用者角色、提示词组和世界书
// ----------------------------------------

// ListPersonas 所有使用者角色
func (h *Handler) ListPersonas(c *gin.Context) {
	personas := h.Characters.ListPersonas()
	if personas == nil {
		personas = []models.UserPersona{}
	}
	h.rh.Success(c, personas)
}

// SavePersona 新增（无 id）或修改使用者角色
func (h *Handler) SavePersona(c *gin.Context) {
	var persona models.UserPersona
	if !h.bind(c, &persona) {
		return
	}
	if id := c.Param("id"); id != "" {
		persona.ID = id
	}
	created := persona.ID == ""
	saved, err := h.Characters.SavePersona(c.Request.Context(), persona)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	if created {
		h.rh.Created(c, saved)
		return
	}
	h.rh.Success(c, saved)
}

// ListPromptSets 所有提示词组和当前选用的组
func (h *Handler) ListPromptSets(c *gin.Context) {
	sets, active := h.Library.ListPromptSets()
	h.rh.Success(c, gin.H{"promptSets": sets, "activeId": active})
}

// SavePromptSet 新增或修改提示词组
func (h *Handler) SavePromptSet(c *gin.Context) {
	var ps models.PromptSet
	if !h.bind(c, &ps) {
		return
	}
	if id := c.Param("id"); id != "" {
		ps.ID = id
	}
	saved, err := h.Library.SavePromptSet(c.Request.Context(), ps)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, saved)
}

// SetActivePromptSet 选用提示词组
func (h *Handler) SetActivePromptSet(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.Library.SetActivePromptSet(c.Request.Context(), req.ID); err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, gin.H{"activeId": req.ID})
}

// DeletePromptSet 删除提示词组
func (h *Handler) DeletePromptSet(c *gin.Context) {
	if err := h.Library.DeletePromptSet(c.Request.Context(), c.Param("id")); err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, nil, "提示词组已删除")
}

// ListLorebooks 所有世界书
func (h *Handler) ListLorebooks(c *gin.Context) {
	books := h.Library.ListLorebooks()
	if books == nil {
		books = []models.Lorebook{}
	}
	h.rh.Success(c, books)
}

// GetLorebook 单本世界书
func (h *Handler) GetLorebook(c *gin.Context) {
	book, err := h.Library.GetLorebook(c.Param("id"))
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, book)
}

// SaveLorebook 新增或修改世界书
func (h *Handler) SaveLorebook(c *gin.Context) {
	var lb models.Lorebook
	if !h.bind(c, &lb) {
		return
	}
	if id := c.Param("id"); id != "" {
		lb.ID = id
	}
	created := lb.ID == ""
	saved, err := h.Library.SaveLorebook(c.Request.Context(), lb)
	if err != nil {
		h.rh.HandleError(c, err)
		return
	}
	if created {
		h.rh.Created(c, saved)
		return
	}
	h.rh.Success(c, saved)
}

// DeleteLorebook 删除世界书
func (h *Handler) DeleteLorebook(c *gin.Context) {
	if err := h.Library.DeleteLorebook(c.Request.Context(), c.Param("id")); err != nil {
		h.rh.HandleError(c, err)
		return
	}
	h.rh.Success(c, nil, "世界书已删除")
}
