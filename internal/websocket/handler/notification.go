// internal/websocket/handler/notification.go
package handlers

import (
	"context"
	"fmt"

	"condo-session/internal/domain/notification"
	wstypes "condo-session/internal/domain/websocket"
	"condo-session/internal/offlinequeue"
	"condo-session/internal/service/session"
	ws "condo-session/internal/websocket"

	"go.uber.org/zap"
)

// Inbox stores delivered notifications.
type Inbox interface {
	Deliver(ctx context.Context, n *notification.Notification) (bool, error)
}

// Queue holds actions received while the session is offline.
type Queue interface {
	Enqueue(ctx context.Context, t offlinequeue.ItemType, payload interface{}) (offlinequeue.Item, error)
}

// Connectivity reports whether the session currently counts as offline.
type Connectivity interface {
	State() session.State
}

type NotificationHandler struct {
	inbox   Inbox
	queue   Queue
	session Connectivity
	logger  *zap.Logger
}

func NewNotificationHandler(inbox Inbox, queue Queue, sess Connectivity, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{
		inbox:   inbox,
		queue:   queue,
		session: sess,
		logger:  logger,
	}
}

// SupportedEvents returns events this handler supports
func (h *NotificationHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeNotification}
}

// HandleMessage stores the notification, or queues it while offline, and
// acknowledges the message either way.
func (h *NotificationHandler) HandleMessage(ctx context.Context, sender ws.Sender, msg *wstypes.WSMessage) error {
	var data wstypes.NotificationData
	if err := ws.DecodeData(msg.Data, &data); err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	n := &notification.Notification{
		ID:        data.ID,
		Title:     data.Title,
		Message:   data.Message,
		Type:      notification.NotificationType(data.Type),
		Metadata:  data.Metadata,
		CreatedAt: data.CreatedAt,
	}
	if n.ID == "" {
		n.ID = msg.ID
	}

	status := "stored"
	if h.session.State().IsOffline() {
		if _, err := h.queue.Enqueue(ctx, offlinequeue.TypeNotificationReceived, n); err != nil {
			return fmt.Errorf("failed to queue notification: %w", err)
		}
		status = "queued"
	} else if _, err := h.inbox.Deliver(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}

	h.logger.Debug("notification received", zap.String("notification_id", n.ID), zap.String("status", status))
	sender.SendMessage(wstypes.NewMessage(wstypes.EventTypeAck, wstypes.AckData{
		MessageID: msg.ID,
		Status:    status,
	}))
	return nil
}
