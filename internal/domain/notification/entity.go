// internal/domain/notification/entity.go
package notification

import (
	"time"
)

type NotificationType string

const (
	TypeSystem NotificationType = "system"
	TypeAlert  NotificationType = "alert"
	TypeInfo   NotificationType = "info"
)

// Notification is one entry of the device-local inbox. ID is assigned by the
// sender and is what makes redelivery idempotent.
type Notification struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Type       NotificationType       `json:"type"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	IsRead     bool                   `json:"is_read"`
	CreatedAt  time.Time              `json:"created_at"`
	ReceivedAt time.Time              `json:"received_at"`
	ReadAt     *time.Time             `json:"read_at,omitempty"`
}

// DeepLink returns the link carried in Metadata["deep_link"], if any.
func (n *Notification) DeepLink() string {
	if n.Metadata == nil {
		return ""
	}
	link, _ := n.Metadata["deep_link"].(string)
	return link
}

// DTOs

type NotificationListFilters struct {
	IsRead *bool `form:"is_read"`
	Limit  int   `form:"limit" binding:"omitempty,min=1,max=200"`
}

type NotificationSummary struct {
	TotalUnread int `json:"total_unread"`
	TotalRead   int `json:"total_read"`
	Total       int `json:"total"`
}

type NotificationListResponse struct {
	Notifications []Notification      `json:"notifications"`
	Summary       NotificationSummary `json:"summary"`
}
