// internal/handlers/notification/notification_handler.go
package notification

import (
	"net/http"

	"condo-session/internal/domain/notification"
	"condo-session/internal/pkg/response"
	service "condo-session/internal/service/notification"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	inboxService *service.InboxService
}

func NewNotificationHandler(inboxService *service.InboxService) *NotificationHandler {
	return &NotificationHandler{
		inboxService: inboxService,
	}
}

// GetNotifications lists the local inbox, newest first
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	var filters notification.NotificationListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, "invalid query parameters", err)
		return
	}

	result, err := h.inboxService.List(c.Request.Context(), &filters)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to get notifications", err)
		return
	}

	response.Success(c, http.StatusOK, "notifications retrieved", result)
}

// GetUnreadCount returns the number of unread notifications
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	count, err := h.inboxService.UnreadCount(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to get unread count", err)
		return
	}

	response.Success(c, http.StatusOK, "unread count retrieved", gin.H{"unread_count": count})
}

// MarkAsRead marks one notification as read
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	id := c.Param("id")
	if err := h.inboxService.MarkAsRead(c.Request.Context(), id); err != nil {
		response.FromError(c, "failed to mark notification as read", err)
		return
	}

	response.Success(c, http.StatusOK, "notification marked as read", nil)
}

// MarkAllAsRead marks every notification as read
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	changed, err := h.inboxService.MarkAllAsRead(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to mark all as read", err)
		return
	}

	response.Success(c, http.StatusOK, "all notifications marked as read", gin.H{"updated": changed})
}
