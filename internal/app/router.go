// internal/app/router.go
package app

import (
	"net/http"

	deeplinkHandler "condo-session/internal/handlers/deeplink"
	deviceHandler "condo-session/internal/handlers/device"
	notifyHandler "condo-session/internal/handlers/notification"
	sessionHandler "condo-session/internal/handlers/session"
	"condo-session/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	SessionHandler  *sessionHandler.SessionHandler
	DeviceHandler   *deviceHandler.DeviceHandler
	NotifHandler    *notifyHandler.NotificationHandler
	DeepLinkHandler *deeplinkHandler.DeepLinkHandler
	AuthMiddleware  *middleware.AuthMiddleware
	Metrics         http.Handler
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Metrics ====================
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	// ==================== Session ====================
	sess := api.Group("/session")
	{
		sess.GET("", h.SessionHandler.GetSession)
		sess.POST("/signin", h.SessionHandler.SignIn)
		sess.POST("/signout", h.SessionHandler.SignOut)
		sess.POST("/refresh", h.SessionHandler.Refresh)
		sess.GET("/token", h.SessionHandler.Token)
	}

	sessAuth := api.Group("/session")
	sessAuth.Use(h.AuthMiddleware.Auth())
	{
		sessAuth.POST("/profile/refresh", h.SessionHandler.RefreshProfile)
		sessAuth.PUT("/push-token", h.AuthMiddleware.RequireWritable(), h.SessionHandler.UpdatePushToken)
	}

	// ==================== Device Signals ====================
	api.POST("/app/state", h.DeviceHandler.AppState)
	api.POST("/network", h.DeviceHandler.Network)
	api.GET("/queue", h.DeviceHandler.Queue)

	// ==================== Deep Links ====================
	api.POST("/deeplinks", h.DeepLinkHandler.Open)
	api.GET("/deeplinks", h.DeepLinkHandler.History)

	// ==================== Inbox ====================
	inbox := api.Group("/inbox")
	inbox.Use(h.AuthMiddleware.Auth())
	{
		inbox.GET("", h.NotifHandler.GetNotifications)
		inbox.GET("/count/unread", h.NotifHandler.GetUnreadCount)
		inbox.PUT("/:id/read", h.NotifHandler.MarkAsRead)
		inbox.PUT("/read-all", h.NotifHandler.MarkAllAsRead)
	}
}
