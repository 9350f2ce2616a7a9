package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"

	"vainalista-api/internal/logging"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	Enabled          bool     `env:"CORS_ENABLED" envDefault:"true"`
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","` // List of allowed origins, or ["*"] for all
	AllowedMethods   []string `env:"CORS_ALLOWED_METHODS" envDefault:"GET,POST,PUT,PATCH,DELETE,OPTIONS" envSeparator:","`
	AllowedHeaders   []string `env:"CORS_ALLOWED_HEADERS" envDefault:"Origin,Content-Type,Accept,Authorization" envSeparator:","`
	ExposeHeaders    []string `env:"CORS_EXPOSE_HEADERS" envDefault:"Content-Length,Content-Type" envSeparator:","`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	MaxAge           int      `env:"CORS_MAX_AGE" envDefault:"3600"` // Preflight cache duration in seconds
}

// NewCORSConfigFromEnv creates CORS config from environment variables
func NewCORSConfigFromEnv() (*CORSConfig, error) {
	cfg, err := env.ParseAs[CORSConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CORS config: %w", err)
	}
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	cfg.AllowedMethods = trimAll(cfg.AllowedMethods)
	cfg.AllowedHeaders = trimAll(cfg.AllowedHeaders)
	cfg.ExposeHeaders = trimAll(cfg.ExposeHeaders)
	return &cfg, nil
}

// CORS middleware handles Cross-Origin Resource Sharing
func CORS(config *CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.Enabled {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")

		if origin != "" && OriginAllowed(origin, config.AllowedOrigins) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")

			if config.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}

			if len(config.ExposeHeaders) > 0 {
				c.Header("Access-Control-Expose-Headers", strings.Join(config.ExposeHeaders, ", "))
			}

			if c.Request.Method == http.MethodOptions {
				c.Header("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
				c.Header("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
				c.Header("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))

				logging.Logger.WithFields(map[string]interface{}{
					"client_ip": c.ClientIP(),
					"origin":    origin,
				}).Debug("CORS preflight request")

				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		} else if origin != "" {
			logging.Logger.WithFields(map[string]interface{}{
				"client_ip": c.ClientIP(),
				"origin":    origin,
				"path":      c.Request.URL.Path,
			}).Warn("CORS request from disallowed origin")
		}

		c.Next()
	}
}

// OriginAllowed checks if an origin is in the allowed list. Entries of the
// form *.example.com match any subdomain of example.com.
func OriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
		if strings.HasPrefix(a, "*.") {
			domain := strings.TrimPrefix(a, "*")
			if strings.HasSuffix(origin, domain) {
				return true
			}
		}
	}
	return false
}
