package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vainalista-api/internal/models"
	"vainalista-api/internal/session"
)

// ItemHandler handles the items of a shopping list. Every route names the
// list explicitly, so concurrent requests never depend on the selection.
type ItemHandler struct {
	sessions *session.Manager
}

// NewItemHandler creates a new item handler
func NewItemHandler(sessions *session.Manager) *ItemHandler {
	return &ItemHandler{sessions: sessions}
}

// AddItem handles POST /lists/:listId/items
func (h *ItemHandler) AddItem(c *gin.Context) {
	var req models.NewItem
	if !bindJSON(c, &req) {
		return
	}
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	item, err := s.Lists.AddItemIn(c.Request.Context(), c.Param("listId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// UpdateItem handles PATCH /lists/:listId/items/:itemId
func (h *ItemHandler) UpdateItem(c *gin.Context) {
	var req models.ItemEdit
	if !bindJSON(c, &req) {
		return
	}
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	item, err := s.Lists.UpdateItemIn(c.Request.Context(), c.Param("listId"), c.Param("itemId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// DeleteItem handles DELETE /lists/:listId/items/:itemId
func (h *ItemHandler) DeleteItem(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	if err := s.Lists.RemoveItemIn(c.Request.Context(), c.Param("listId"), c.Param("itemId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteCompletedItems handles DELETE /lists/:listId/items?completed=true
func (h *ItemHandler) DeleteCompletedItems(c *gin.Context) {
	completed, err := strconv.ParseBool(c.DefaultQuery("completed", "false"))
	if err != nil || !completed {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    "INVALID_QUERY",
			Message: "Only completed items can be removed in bulk; pass completed=true",
		})
		return
	}
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	removed, err := s.Lists.RemoveCompletedItemsIn(c.Request.Context(), c.Param("listId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
