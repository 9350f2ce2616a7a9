package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"vainalista-api/internal/logging"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerMin int64         `env:"RATE_LIMIT_REQUESTS_PER_MIN" envDefault:"120"`
	AuthAttempts   int64         `env:"RATE_LIMIT_AUTH_ATTEMPTS" envDefault:"5"`
	AuthPeriod     time.Duration `env:"RATE_LIMIT_AUTH_PERIOD" envDefault:"15m"`
}

// NewRateLimitConfigFromEnv creates rate limit config from environment variables
func NewRateLimitConfigFromEnv() (*RateLimitConfig, error) {
	cfg, err := env.ParseAs[RateLimitConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse rate limit config: %w", err)
	}
	return &cfg, nil
}

func noop(c *gin.Context) { c.Next() }

// rateLimited builds a limiter middleware answering 429 with code
func rateLimited(rate limiter.Rate, keyGetter mgin.KeyGetter, code, message string, fields logrus.Fields) gin.HandlerFunc {
	instance := limiter.New(memory.NewStore(), rate)

	options := []mgin.Option{
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			logging.Logger.WithFields(fields).WithFields(logrus.Fields{
				"client_ip":    c.ClientIP(),
				"path":         c.Request.URL.Path,
				"method":       c.Request.Method,
				"rate_limited": true,
			}).Warn("Rate limit exceeded")

			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":       code,
				"message":    message,
				"retryAfter": int(rate.Period.Seconds()),
				"limit":      rate.Limit,
			})
			c.Abort()
		}),
	}
	if keyGetter != nil {
		options = append(options, mgin.WithKeyGetter(keyGetter))
	}
	return mgin.NewMiddleware(instance, options...)
}

// GlobalRateLimiter creates a global rate limiter middleware keyed by client IP
func GlobalRateLimiter(config *RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled {
		logging.Logger.Info("Rate limiting is disabled")
		return noop
	}

	rate := limiter.Rate{Period: time.Minute, Limit: config.RequestsPerMin}
	logging.Logger.Infof("Rate limiting enabled: %d requests per minute", config.RequestsPerMin)
	return rateLimited(rate, nil,
		"RATE_LIMIT_EXCEEDED", "Too many requests. Please try again later.",
		logrus.Fields{"limit_type": "global", "limit_per_min": rate.Limit})
}

// PerUserRateLimiter limits each signed-in user separately. It must run
// after AuthMiddleware; unauthenticated requests fall back to the client IP.
func PerUserRateLimiter(config *RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled {
		return noop
	}

	rate := limiter.Rate{Period: time.Minute, Limit: config.RequestsPerMin}
	return rateLimited(rate, userKey,
		"RATE_LIMIT_EXCEEDED", "Too many requests from this account. Please try again later.",
		logrus.Fields{"limit_type": "user", "limit_per_min": rate.Limit})
}

func userKey(c *gin.Context) string {
	if uid, err := GetUserID(c); err == nil && uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

// AuthRateLimiter creates a stricter rate limiter for authentication
// endpoints to slow down brute-force attempts
func AuthRateLimiter(config *RateLimitConfig) gin.HandlerFunc {
	if !config.Enabled {
		return noop
	}

	rate := limiter.Rate{Period: config.AuthPeriod, Limit: config.AuthAttempts}
	logging.Logger.Infof("Auth rate limiting enabled: %d attempts per %s", rate.Limit, rate.Period)
	return rateLimited(rate, func(c *gin.Context) string { return "auth:ip:" + c.ClientIP() },
		"AUTH_RATE_LIMIT_EXCEEDED", "Too many authentication attempts. Please try again later.",
		logrus.Fields{"limit_type": "auth", "period_minutes": int(rate.Period.Minutes())})
}
