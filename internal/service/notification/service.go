// internal/service/notification/service.go
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"condo-session/internal/domain/notification"
	"condo-session/internal/offlinequeue"
	"condo-session/internal/pkg/clock"
	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/storage"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	storageKey = "notification_inbox"

	// DefaultCapacity bounds the inbox; the oldest entries are evicted first.
	DefaultCapacity = 200
)

// InboxService keeps received notifications on the device so they survive
// restarts and can be listed while offline.
type InboxService struct {
	kv       storage.KV
	clock    clock.Clock
	logger   *zap.Logger
	capacity int

	mu sync.Mutex
}

func NewInboxService(kv storage.KV, clk clock.Clock, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		kv:       kv,
		clock:    clock.OrReal(clk),
		logger:   logger,
		capacity: DefaultCapacity,
	}
}

// ========== Delivery ==========

// Deliver stores n. A notification whose ID is already in the inbox is
// ignored, so replays from the offline queue are harmless.
func (s *InboxService) Deliver(ctx context.Context, n *notification.Notification) (bool, error) {
	if n == nil || (n.Title == "" && n.Message == "") {
		return false, xerrors.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if n.ID != "" {
		for _, existing := range items {
			if existing.ID == n.ID {
				return false, nil
			}
		}
	}

	entry := *n
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Type == "" {
		entry.Type = notification.TypeInfo
	}
	now := s.clock.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.ReceivedAt = now
	entry.IsRead = false
	entry.ReadAt = nil

	items = append(items, entry)
	if over := len(items) - s.capacity; over > 0 {
		items = items[over:]
	}
	if err := s.persist(ctx, items); err != nil {
		return false, err
	}

	s.logger.Info("notification stored",
		zap.String("notification_id", entry.ID),
		zap.String("type", string(entry.Type)),
	)
	return true, nil
}

// HandleQueued is the offline-queue handler for received notifications.
func (s *InboxService) HandleQueued(ctx context.Context, item offlinequeue.Item) error {
	var n notification.Notification
	if err := json.Unmarshal(item.Payload, &n); err != nil {
		// Unparseable payloads are dropped, not retried.
		s.logger.Error("discarding malformed queued notification",
			zap.String("id", item.ID),
			zap.Error(err),
		)
		return nil
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = item.Timestamp
	}
	_, err := s.Deliver(ctx, &n)
	if errors.Is(err, xerrors.ErrInvalidInput) {
		s.logger.Warn("discarding empty queued notification", zap.String("id", item.ID))
		return nil
	}
	return err
}

// ========== Queries ==========

// List returns notifications newest first.
func (s *InboxService) List(ctx context.Context, filters *notification.NotificationListFilters) (*notification.NotificationListResponse, error) {
	s.mu.Lock()
	items, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp := &notification.NotificationListResponse{
		Notifications: make([]notification.Notification, 0, len(items)),
		Summary:       summarize(items),
	}
	limit := 0
	if filters != nil {
		limit = filters.Limit
	}
	for i := len(items) - 1; i >= 0; i-- {
		n := items[i]
		if filters != nil && filters.IsRead != nil && n.IsRead != *filters.IsRead {
			continue
		}
		resp.Notifications = append(resp.Notifications, n)
		if limit > 0 && len(resp.Notifications) == limit {
			break
		}
	}
	return resp, nil
}

func (s *InboxService) UnreadCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return summarize(items).TotalUnread, nil
}

// ========== Read state ==========

func (s *InboxService) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID != id {
			continue
		}
		if items[i].IsRead {
			return nil
		}
		now := s.clock.Now()
		items[i].IsRead = true
		items[i].ReadAt = &now
		return s.persist(ctx, items)
	}
	return xerrors.ErrNotFound
}

// MarkAllAsRead returns how many entries changed.
func (s *InboxService) MarkAllAsRead(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	changed := 0
	for i := range items {
		if !items[i].IsRead {
			items[i].IsRead = true
			items[i].ReadAt = &now
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, s.persist(ctx, items)
}

// Clear empties the inbox; used when the signed-in user goes away.
func (s *InboxService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, storageKey); err != nil {
		return fmt.Errorf("failed to clear inbox: %w", err)
	}
	return nil
}

// ========== Helpers ==========

func summarize(items []notification.Notification) notification.NotificationSummary {
	var sum notification.NotificationSummary
	for _, n := range items {
		if n.IsRead {
			sum.TotalRead++
		} else {
			sum.TotalUnread++
		}
	}
	sum.Total = len(items)
	return sum
}

func (s *InboxService) load(ctx context.Context) ([]notification.Notification, error) {
	raw, err := s.kv.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	var items []notification.Notification
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Error("inbox is corrupted, discarding it", zap.Error(err))
		_ = s.kv.Delete(ctx, storageKey)
		return nil, nil
	}
	return items, nil
}

func (s *InboxService) persist(ctx context.Context, items []notification.Notification) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal inbox: %w", err)
	}
	if err := s.kv.Set(ctx, storageKey, string(raw)); err != nil {
		return fmt.Errorf("failed to write inbox: %w", err)
	}
	return nil
}
