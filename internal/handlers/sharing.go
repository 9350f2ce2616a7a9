package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"vainalista-api/internal/cache"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/middleware"
	"vainalista-api/internal/models"
	"vainalista-api/internal/session"
)

// SharingHandler handles invitations, membership and the user-facing side
// channels (recent emails and notifications)
type SharingHandler struct {
	sessions  *session.Manager
	directory *directory.Directory
	local     *cache.Store
}

// NewSharingHandler creates a new sharing handler. local may be nil.
func NewSharingHandler(sessions *session.Manager, dir *directory.Directory, local *cache.Store) *SharingHandler {
	return &SharingHandler{sessions: sessions, directory: dir, local: local}
}

// ShareList handles POST /lists/:listId/share
// @Summary Invite a user by email
// @Tags Sharing
// @Param request body models.ShareRequest true "Invitee"
// @Success 201 {object} models.Invitation
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /lists/{listId}/share [post]
func (h *SharingHandler) ShareList(c *gin.Context) {
	var req models.ShareRequest
	if !bindJSON(c, &req) {
		return
	}
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	invitation, err := s.Sharing.ShareList(c.Request.Context(), c.Param("listId"), req.Email, req.Permissao)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

// GetMembers handles GET /lists/:listId/members
func (h *SharingHandler) GetMembers(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	members, err := s.Sharing.Members(c.Request.Context(), c.Param("listId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// AcceptInvitation handles POST /lists/:listId/invitation/accept
func (h *SharingHandler) AcceptInvitation(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	member, err := s.Sharing.AcceptInvitation(c.Request.Context(), c.Param("listId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// RejectInvitation handles POST /lists/:listId/invitation/reject
func (h *SharingHandler) RejectInvitation(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	if err := s.Sharing.RejectInvitation(c.Request.Context(), c.Param("listId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetInvitations handles GET /invitations, the caller's open invitations
func (h *SharingHandler) GetInvitations(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.Sharing.Invitations().Get()})
}

// GetRecentEmails handles GET /users/recent-emails
func (h *SharingHandler) GetRecentEmails(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	emails, err := h.directory.RecentEmails(c.Request.Context(), s.Identity.CurrentUser().UID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": emails})
}

// ClearRecentEmails handles DELETE /users/recent-emails
func (h *SharingHandler) ClearRecentEmails(c *gin.Context) {
	identity, err := middleware.GetIdentity(c)
	if err != nil {
		respondError(c, models.ErrNotAuthenticated)
		return
	}
	if err := h.directory.ClearHistory(c.Request.Context(), identity.UID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type validateQuery struct {
	Email string `form:"email" binding:"required,max=255"`
}

// ValidateEmail handles GET /users/validate?email=, checking an address
// before it is used to share a list
// @Summary Validate an invitee email
// @Tags Sharing
// @Param email query string true "Email to check"
// @Success 200 {object} models.EmailValidation
// @Router /users/validate [get]
func (h *SharingHandler) ValidateEmail(c *gin.Context) {
	var query validateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "The email query parameter is required",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, h.directory.ValidateEmail(c.Request.Context(), query.Email))
}

// ClearCache handles DELETE /cache. It drops the caller's offline backups
// and email history together with the directory lookup cache.
func (h *SharingHandler) ClearCache(c *gin.Context) {
	identity, err := middleware.GetIdentity(c)
	if err != nil {
		respondError(c, models.ErrNotAuthenticated)
		return
	}

	removed := 0
	if h.local != nil {
		removed, err = h.local.RemoveOwned(c.Request.Context(), identity.UID)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	h.directory.ClearCache()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// GetNotifications handles GET /notifications. limit keeps only the newest entries.
func (h *SharingHandler) GetNotifications(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	recent := s.Feed.Recent()
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(recent) {
		recent = recent[len(recent)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"data": recent})
}

// SweepInvitations handles POST /lists/:listId/invitations/sweep, expiring
// the list's pending invitations whose deadline has passed
func (h *SharingHandler) SweepInvitations(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}

	swept, err := s.Sharing.SweepExpired(c.Request.Context(), c.Param("listId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": swept})
}
