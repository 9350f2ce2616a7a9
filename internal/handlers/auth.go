package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/middleware"
	"vainalista-api/internal/models"
)

// AuthHandler handles authentication-related requests
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Register handles user registration
// @Summary Register a new user
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body models.RegisterRequest true "Registration details"
// @Success 201 {object} models.AuthResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := auth.ValidatePasswordRequirements(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    "INVALID_PASSWORD",
			Message: err.Error(),
		})
		return
	}

	user, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrUserAlreadyExists) {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Code:    "USER_EXISTS",
				Message: "A user with this email already exists",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    "REGISTRATION_FAILED",
			Message: "Failed to register user",
		})
		return
	}

	// Auto-login after registration
	authResponse, err := h.authService.Login(c.Request.Context(), &models.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		c.JSON(http.StatusCreated, user.Identity())
		return
	}

	c.JSON(http.StatusCreated, authResponse)
}

// Login handles user login
// @Summary Login
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.AuthResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	authResponse, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Code:    "INVALID_CREDENTIALS",
				Message: "Invalid email or password",
			})
		case errors.Is(err, auth.ErrUserInactive):
			c.JSON(http.StatusForbidden, models.ErrorResponse{
				Code:    "USER_INACTIVE",
				Message: "User account is inactive",
			})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Code:    "LOGIN_FAILED",
				Message: "Failed to login",
			})
		}
		return
	}

	c.JSON(http.StatusOK, authResponse)
}

// RefreshToken handles access token refresh
// @Summary Refresh access token
// @Tags Authentication
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req models.RefreshTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	authResponse, err := h.authService.RefreshAccessToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenInvalid):
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Code:    "INVALID_REFRESH_TOKEN",
				Message: "Refresh token is invalid or expired",
			})
		case errors.Is(err, auth.ErrUserInactive):
			c.JSON(http.StatusForbidden, models.ErrorResponse{
				Code:    "USER_INACTIVE",
				Message: "User account is inactive",
			})
		default:
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{
				Code:    "REFRESH_FAILED",
				Message: "Failed to refresh token",
			})
		}
		return
	}

	c.JSON(http.StatusOK, authResponse)
}

// Logout revokes the given refresh token
// @Summary Logout
// @Tags Authentication
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var req models.RefreshTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.authService.RevokeRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, auth.ErrRefreshTokenInvalid) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Code:    "INVALID_REFRESH_TOKEN",
				Message: "Refresh token is invalid",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    "LOGOUT_FAILED",
			Message: "Failed to logout",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// Me returns the identity behind the access token. It works with any token
// verifier, so it is registered for Firebase deployments too.
// @Summary Current user
// @Tags User
// @Security BearerAuth
// @Router /auth/me [get]
func Me(c *gin.Context) {
	identity, err := middleware.GetIdentity(c)
	if err != nil {
		respondError(c, models.ErrNotAuthenticated)
		return
	}
	c.JSON(http.StatusOK, identity)
}
