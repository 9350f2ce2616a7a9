package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vainalista-api/internal/middleware"
	"vainalista-api/internal/models"
	"vainalista-api/internal/session"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorMappings is checked in order, so wrapped errors land on the first match
var errorMappings = []errorMapping{
	{models.ErrNotAuthenticated, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"},
	{models.ErrPermissionDenied, http.StatusForbidden, "PERMISSION_DENIED", "You do not have permission to perform this action"},
	{models.ErrListNotFound, http.StatusNotFound, "LIST_NOT_FOUND", "List not found"},
	{models.ErrItemNotFound, http.StatusNotFound, "ITEM_NOT_FOUND", "Item not found"},
	{models.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND", "User not found with this email"},
	{models.ErrInvitationNotFound, http.StatusNotFound, "INVITATION_NOT_FOUND", "Invitation not found or expired"},
	{models.ErrAlreadyMember, http.StatusConflict, "ALREADY_MEMBER", "This user is already a member of the list"},
	{models.ErrInvitationAlreadyPending, http.StatusConflict, "INVITATION_PENDING", "An invitation is already pending for this user"},
	{models.ErrConflict, http.StatusConflict, "CONFLICT", "The list changed concurrently. Please try again."},
	{models.ErrNoListSelected, http.StatusConflict, "NO_LIST_SELECTED", "No list selected"},
	{models.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "Invalid request data"},
	{models.ErrOffline, http.StatusServiceUnavailable, "OFFLINE", "The list store is unreachable"},
	{models.ErrUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable"},
}

// statusFor returns the HTTP status and error code of err
func statusFor(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code, m.message
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred"
}

// respondError writes the ErrorResponse of err. Internal details never reach the client.
func respondError(c *gin.Context, err error) {
	status, code, message := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, models.ErrorResponse{Code: code, Message: message})
}

// bindJSON binds the request body and answers 400 on failure
func bindJSON(c *gin.Context, target interface{}) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "Invalid request payload",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return false
	}
	return true
}

// acquire returns the caller's session, answering the request itself on failure
func acquire(c *gin.Context, sessions *session.Manager) (*session.Session, bool) {
	identity, err := middleware.GetIdentity(c)
	if err != nil {
		respondError(c, models.ErrNotAuthenticated)
		return nil, false
	}
	s, err := sessions.Acquire(c.Request.Context(), identity)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}
