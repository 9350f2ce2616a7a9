package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/models"
)

const (
	// ContextKeyIdentity is the context key for storing the verified identity
	ContextKeyIdentity = "identity"
	// ContextKeyUserID is the context key for storing user ID
	ContextKeyUserID = "user_id"

	// tokenQueryParam carries the token of websocket upgrades, which cannot set headers from browsers
	tokenQueryParam = "access_token"
)

// AuthMiddleware creates a middleware that verifies the bearer token with
// verifier and stores the identity in the context
func AuthMiddleware(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFromRequest(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: err.Error(),
			})
			c.Abort()
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Code:    "TOKEN_EXPIRED",
					Message: "Access token has expired. Please refresh your token.",
				})
			} else {
				c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Code:    "INVALID_TOKEN",
					Message: "Invalid access token",
				})
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Set(ContextKeyUserID, identity.UID)

		c.Next()
	}
}

func tokenFromRequest(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		return auth.ExtractTokenFromHeader(header)
	}
	if token := c.Query(tokenQueryParam); token != "" {
		return token, nil
	}
	return "", errors.New("authorization header is required")
}

// GetIdentity retrieves the verified identity from the Gin context
func GetIdentity(c *gin.Context) (*models.Identity, error) {
	value, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil, errors.New("identity not found in context")
	}

	identity, ok := value.(*models.Identity)
	if !ok || identity == nil {
		return nil, errors.New("invalid identity type in context")
	}

	return identity, nil
}

// GetUserID retrieves the user ID from the Gin context
func GetUserID(c *gin.Context) (string, error) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", errors.New("user ID not found in context")
	}

	id, ok := userID.(string)
	if !ok {
		return "", errors.New("invalid user ID type in context")
	}

	return id, nil
}

// IsAuthenticated checks if the current request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyUserID)
	return exists
}
