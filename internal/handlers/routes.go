package handlers

import (
	"github.com/gin-gonic/gin"

	"vainalista-api/internal/auth"
	"vainalista-api/internal/cache"
	"vainalista-api/internal/directory"
	"vainalista-api/internal/middleware"
	"vainalista-api/internal/session"
)

// Routes groups what the HTTP surface depends on
type Routes struct {
	Verifier auth.TokenVerifier
	// Accounts is nil when tokens come from an external identity provider
	Accounts  *auth.Service
	Sessions  *session.Manager
	Directory *directory.Directory
	// Cache holds the offline backups and email history; may be nil
	Cache     *cache.Store
	Health    *HealthHandler
	RateLimit *middleware.RateLimitConfig
	// Origins restricts websocket upgrades; empty accepts any origin
	Origins []string
}

// Register mounts the health probes and the /api/v1 routes on router
func (r Routes) Register(router *gin.Engine) {
	if r.Health != nil {
		health := router.Group("/health")
		health.GET("", r.Health.BasicHealth)
		health.GET("/detailed", r.Health.DetailedHealth)
		health.GET("/ready", r.Health.ReadinessProbe)
		health.GET("/live", r.Health.LivenessProbe)
	}

	rateLimit := r.RateLimit
	if rateLimit == nil {
		rateLimit = &middleware.RateLimitConfig{}
	}

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	if r.Accounts != nil {
		accounts := NewAuthHandler(r.Accounts)
		public := authGroup.Group("", middleware.AuthRateLimiter(rateLimit))
		public.POST("/register", accounts.Register)
		public.POST("/login", accounts.Login)
		public.POST("/refresh", accounts.RefreshToken)
		authGroup.POST("/logout", accounts.Logout)
	}
	authGroup.GET("/me", middleware.AuthMiddleware(r.Verifier), Me)

	protected := v1.Group("", middleware.AuthMiddleware(r.Verifier), middleware.PerUserRateLimiter(rateLimit))

	lists := NewListHandler(r.Sessions)
	items := NewItemHandler(r.Sessions)
	sharing := NewSharingHandler(r.Sessions, r.Directory, r.Cache)
	live := NewLiveHandler(r.Sessions, r.Origins)

	listGroup := protected.Group("/lists")
	{
		listGroup.GET("", lists.GetAllLists)
		listGroup.POST("", lists.CreateList)
		listGroup.GET("/current", lists.GetCurrentList)

		byID := listGroup.Group("/:listId", middleware.DocumentIDValidator("listId"))
		byID.GET("", lists.GetList)
		byID.PUT("", lists.UpdateList)
		byID.DELETE("", lists.DeleteList)
		byID.POST("/select", lists.SelectList)
		byID.POST("/archive", lists.ArchiveList)
		byID.GET("/stats", lists.GetListStats)

		byID.POST("/items", items.AddItem)
		byID.DELETE("/items", items.DeleteCompletedItems)
		byID.PATCH("/items/:itemId", middleware.DocumentIDValidator("itemId"), items.UpdateItem)
		byID.DELETE("/items/:itemId", middleware.DocumentIDValidator("itemId"), items.DeleteItem)

		byID.POST("/share", sharing.ShareList)
		byID.GET("/members", sharing.GetMembers)
		byID.POST("/invitation/accept", sharing.AcceptInvitation)
		byID.POST("/invitation/reject", sharing.RejectInvitation)
		byID.POST("/invitations/sweep", sharing.SweepInvitations)
	}

	protected.GET("/invitations", sharing.GetInvitations)
	protected.GET("/users/recent-emails", sharing.GetRecentEmails)
	protected.DELETE("/users/recent-emails", sharing.ClearRecentEmails)
	protected.GET("/users/validate", sharing.ValidateEmail)
	protected.DELETE("/cache", sharing.ClearCache)
	protected.GET("/notifications", sharing.GetNotifications)
	protected.GET("/live", live.ServeLive)
}
