package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vainalista-api/internal/models"
	"vainalista-api/internal/session"
)

// ListHandler handles shopping list operations
type ListHandler struct {
	sessions *session.Manager
}

// NewListHandler creates a new list handler
func NewListHandler(sessions *session.Manager) *ListHandler {
	return &ListHandler{sessions: sessions}
}

// GetAllLists handles GET /lists. It answers from the live projection of
// the caller's active lists, newest first.
func (h *ListHandler) GetAllLists(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   s.Lists.UserLists().Get(),
		"online": s.Lists.Online().Get(),
	})
}

// CreateList handles POST /lists
func (h *ListHandler) CreateList(c *gin.Context) {
	var req models.NewList
	if !bindJSON(c, &req) {
		return
	}
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	list, err := s.Lists.CreateList(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, list)
}

// GetCurrentList handles GET /lists/current
func (h *ListHandler) GetCurrentList(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	current := s.Lists.CurrentList().Get()
	if current == nil {
		respondError(c, models.ErrNoListSelected)
		return
	}
	c.JSON(http.StatusOK, current)
}

// GetList handles GET /lists/:listId
func (h *ListHandler) GetList(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	list, err := s.Lists.GetList(c.Request.Context(), c.Param("listId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// UpdateList handles PUT /lists/:listId
func (h *ListHandler) UpdateList(c *gin.Context) {
	var req models.ListEdit
	if !bindJSON(c, &req) {
		return
	}
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	list, err := s.Lists.UpdateList(c.Request.Context(), c.Param("listId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// SelectList handles POST /lists/:listId/select
func (h *ListHandler) SelectList(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	if err := s.Lists.SelectList(c.Request.Context(), c.Param("listId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ArchiveList handles POST /lists/:listId/archive
func (h *ListHandler) ArchiveList(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	if err := s.Lists.ArchiveList(c.Request.Context(), c.Param("listId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteList handles DELETE /lists/:listId
func (h *ListHandler) DeleteList(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	if err := s.Lists.RemoveList(c.Request.Context(), c.Param("listId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetListStats handles GET /lists/:listId/stats
func (h *ListHandler) GetListStats(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	listID := c.Param("listId")
	if current := s.Lists.CurrentList().Get(); current != nil && current.ID == listID {
		c.JSON(http.StatusOK, s.Lists.Stats())
		return
	}

	list, err := s.Lists.GetList(c.Request.Context(), listID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list.Stats())
}
