package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"

	"vainalista-api/internal/logging"
)

// SecurityConfig holds security middleware configuration
type SecurityConfig struct {
	MaxRequestBodySize int64    `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"` // Maximum request body size in bytes
	TrustedProxies     []string `env:"TRUSTED_PROXIES" envSeparator:","`           // List of trusted proxy IPs
}

// NewSecurityConfigFromEnv creates security config from environment variables
func NewSecurityConfigFromEnv() (*SecurityConfig, error) {
	cfg, err := env.ParseAs[SecurityConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse security config: %w", err)
	}
	cfg.TrustedProxies = trimAll(cfg.TrustedProxies)
	return &cfg, nil
}

// trimAll drops blanks and surrounding spaces from a parsed list
func trimAll(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// SecurityHeaders adds security-related HTTP headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")

		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("X-Powered-By", "")
		c.Header("Server", "")

		// Content Security Policy (strict for API)
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")

		// Lists and invitations are private to their members
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")

		c.Next()
	}
}

// RequestSizeLimit limits the size of incoming request bodies
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			logging.Logger.WithFields(map[string]interface{}{
				"client_ip":      c.ClientIP(),
				"content_length": c.Request.ContentLength,
				"max_size":       maxSize,
			}).Warn("Request body too large")

			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":           "REQUEST_TOO_LARGE",
				"message":        "Request body too large",
				"max_size_bytes": maxSize,
			})
			c.Abort()
			return
		}

		// Set a hard limit on the request body reader
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}

// ErrorSanitizer logs errors attached by handlers and makes sure 5xx
// answers never leak internal details
func ErrorSanitizer() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		logging.Logger.WithFields(map[string]interface{}{
			"client_ip": c.ClientIP(),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
			"error":     err.Error(),
		}).Error("Request error")

		// Handlers normally answer already; this covers the ones that did not
		if !c.Writer.Written() {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "An internal error occurred. Please try again later.",
			})
		}
	}
}

// maxDocumentIDBytes is the Firestore limit on document ids
const maxDocumentIDBytes = 1500

// ValidDocumentID reports whether id can name a document in every store
// backend: non-empty, valid UTF-8, no slash, not "." or "..", not reserved
func ValidDocumentID(id string) bool {
	if id == "" || len(id) > maxDocumentIDBytes || !utf8.ValidString(id) {
		return false
	}
	if id == "." || id == ".." || strings.Contains(id, "/") {
		return false
	}
	return !(strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__"))
}

// DocumentIDValidator validates id path parameters before they reach a store
func DocumentIDValidator(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, param := range params {
			id := c.Param(param)
			if id != "" && !ValidDocumentID(id) {
				logging.Logger.WithFields(map[string]interface{}{
					"client_ip": c.ClientIP(),
					"path":      c.Request.URL.Path,
					"param":     param,
				}).Warn("Invalid document id")

				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_ID",
					"message": "Invalid identifier format",
					"field":   param,
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
