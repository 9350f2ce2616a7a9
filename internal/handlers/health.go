package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vainalista-api/internal/cache"
	"vainalista-api/internal/connectivity"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/session"
)

// Version is overridden at build time with -ldflags "-X ...handlers.Version=..."
var Version = "dev"

const pingTimeout = 2 * time.Second

// HealthHandler handles health check requests
type HealthHandler struct {
	store     connectivity.Pinger
	db        *gorm.DB
	monitor   *connectivity.Monitor
	sessions  *session.Manager
	directory *directory.Directory
	local     *cache.Store
	startTime time.Time
}

// HealthOption configures a HealthHandler
type HealthOption func(*HealthHandler)

// WithDatabase adds the SQL database (accounts, sql store) to the checks
func WithDatabase(db *gorm.DB) HealthOption {
	return func(h *HealthHandler) { h.db = db }
}

// WithMonitor reports the connectivity state seen by the engines
func WithMonitor(m *connectivity.Monitor) HealthOption {
	return func(h *HealthHandler) { h.monitor = m }
}

// WithSessions reports the number of live sessions
func WithSessions(m *session.Manager) HealthOption {
	return func(h *HealthHandler) { h.sessions = m }
}

// WithDirectory reports the user lookup cache
func WithDirectory(d *directory.Directory) HealthOption {
	return func(h *HealthHandler) { h.directory = d }
}

// WithCache reports the local cache holding offline backups
func WithCache(local *cache.Store) HealthOption {
	return func(h *HealthHandler) { h.local = local }
}

// NewHealthHandler creates a new health handler checking store
func NewHealthHandler(store connectivity.Pinger, opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		store:     store,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// BasicHealth is a simple health check
// @Summary Basic health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) BasicHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// DetailedHealth provides comprehensive health information
// @Summary Detailed health check
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health/detailed [get]
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	checks := make(map[string]HealthCheck)
	overallStatus := "healthy"

	storeCheck := h.checkStore(c.Request.Context())
	checks["store"] = storeCheck
	if storeCheck.Status != "healthy" {
		overallStatus = "unhealthy"
	}

	if h.db != nil {
		dbCheck := h.checkDatabase(c.Request.Context())
		checks["database"] = dbCheck
		if dbCheck.Status != "healthy" {
			overallStatus = "unhealthy"
		}
		checks["migrations"] = h.checkMigrations()
	}

	if h.monitor != nil {
		online := h.monitor.Online()
		check := HealthCheck{Status: "healthy", Message: "Engines see the store online"}
		if !online {
			check = HealthCheck{Status: "degraded", Message: "Engines are in offline mode"}
			if overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		}
		check.Details = map[string]interface{}{"online": online}
		checks["connectivity"] = check
	}

	if h.sessions != nil {
		checks["sessions"] = HealthCheck{
			Status:  "info",
			Details: map[string]interface{}{"active": h.sessions.Len()},
		}
	}

	if h.directory != nil {
		stats := h.directory.CacheStats()
		checks["directory_cache"] = HealthCheck{
			Status:  "info",
			Details: map[string]interface{}{"size": stats.Size, "valid": stats.Valid},
		}
	}

	if h.local != nil {
		checks["local_cache"] = h.checkLocalCache(c.Request.Context())
	}

	checks["system"] = h.getSystemInfo()

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    formatDuration(time.Since(h.startTime)),
		Version:   Version,
		Checks:    checks,
	}

	if overallStatus == "unhealthy" {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ReadinessProbe checks if the application is ready to serve traffic
// @Summary Readiness probe
// @Tags Health
// @Router /health/ready [get]
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	if check := h.checkStore(c.Request.Context()); check.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"reason":  "store_unavailable",
			"message": check.Message,
		})
		return
	}

	if h.db != nil {
		if check := h.checkDatabase(c.Request.Context()); check.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"reason":  "database_unavailable",
				"message": check.Message,
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessProbe checks if the application is alive
// @Summary Liveness probe
// @Tags Health
// @Router /health/live [get]
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// checkStore pings the list store
func (h *HealthHandler) checkStore(ctx context.Context) HealthCheck {
	if h.store == nil {
		return HealthCheck{
			Status:  "unhealthy",
			Message: "List store not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		return HealthCheck{
			Status:  "unhealthy",
			Message: "List store ping failed",
			Details: map[string]interface{}{
				"error": err.Error(),
			},
		}
	}

	return HealthCheck{
		Status:  "healthy",
		Message: "List store is reachable",
		Details: map[string]interface{}{
			"latency_ms": time.Since(start).Milliseconds(),
		},
	}
}

// checkDatabase verifies database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) HealthCheck {
	if h.db == nil {
		return HealthCheck{
			Status:  "unhealthy",
			Message: "Database connection not initialized",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return HealthCheck{
			Status:  "unhealthy",
			Message: "Failed to get database instance",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return HealthCheck{
			Status:  "unhealthy",
			Message: "Database ping failed",
			Details: map[string]interface{}{
				"error": err.Error(),
			},
		}
	}

	stats := sqlDB.Stats()

	return HealthCheck{
		Status:  "healthy",
		Message: "Database connection is healthy",
		Details: map[string]interface{}{
			"driver":           h.db.Dialector.Name(),
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
			"wait_count":       stats.WaitCount,
			"wait_duration_ms": stats.WaitDuration.Milliseconds(),
		},
	}
}

// checkMigrations verifies migration status. Only postgres is migrated
// with golang-migrate; sqlite schemas come from AutoMigrate.
func (h *HealthHandler) checkMigrations() HealthCheck {
	if h.db == nil {
		return HealthCheck{
			Status:  "unknown",
			Message: "Database not available",
		}
	}
	if h.db.Dialector.Name() != "postgres" {
		return HealthCheck{
			Status:  "info",
			Message: "Schema managed by AutoMigrate",
		}
	}

	var exists bool
	err := h.db.Raw(`
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'schema_migrations'
		)
	`).Scan(&exists).Error

	if err != nil || !exists {
		return HealthCheck{
			Status:  "unknown",
			Message: "Migration table not found",
		}
	}

	var version uint
	var dirty bool
	err = h.db.Raw(`
		SELECT version, dirty
		FROM schema_migrations
		LIMIT 1
	`).Row().Scan(&version, &dirty)

	if err != nil {
		return HealthCheck{
			Status:  "unknown",
			Message: "Could not read migration status",
		}
	}

	status := "healthy"
	message := "Migrations are up to date"
	if dirty {
		status = "warning"
		message = "Database is in dirty state - manual intervention required"
	}

	return HealthCheck{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		},
	}
}

// checkLocalCache counts the entries of the local cache. A failure only
// degrades offline support, so it is reported as a warning.
func (h *HealthHandler) checkLocalCache(ctx context.Context) HealthCheck {
	keys, err := h.local.Keys(ctx)
	if err != nil {
		return HealthCheck{
			Status:  "warning",
			Message: "Local cache is unreadable",
			Details: map[string]interface{}{"error": err.Error()},
		}
	}
	return HealthCheck{
		Status:  "healthy",
		Details: map[string]interface{}{"entries": len(keys)},
	}
}

// getSystemInfo returns system information
func (h *HealthHandler) getSystemInfo() HealthCheck {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HealthCheck{
		Status:  "info",
		Message: "System information",
		Details: map[string]interface{}{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": m.Alloc / 1024 / 1024,
			"memory_sys_mb":   m.Sys / 1024 / 1024,
			"num_gc":          m.NumGC,
			"go_version":      runtime.Version(),
		},
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
