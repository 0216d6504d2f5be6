// Package offlinequeue durably records actions that could not be handled
// while the device was offline and replays them once it reconnects.
package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"condo-session/internal/pkg/clock"
	"condo-session/internal/storage"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const storageKey = "offline_action_queue"

// ItemType names the handler an item is dispatched to.
type ItemType string

const (
	TypeNotificationReceived ItemType = "notification_received"
	TypeDeepLink             ItemType = "deep_link"
)

// Item is one queued action.
type Item struct {
	ID        string          `json:"id"`
	Type      ItemType        `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler processes one item. A returned error keeps the item queued.
// Handlers run under the queue lock and must not call back into the Queue.
type Handler func(ctx context.Context, item Item) error

// Result summarises one ProcessAll pass.
type Result struct {
	Processed int
	Failed    int
	Dropped   int
}

// Queue is FIFO in insertion order. Delivery is at-least-once: handlers must
// tolerate seeing an item again after a partial failure.
type Queue struct {
	kv     storage.KV
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[ItemType]Handler
}

func New(kv storage.KV, clk clock.Clock, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		kv:       kv,
		clock:    clock.OrReal(clk),
		logger:   logger,
		handlers: make(map[ItemType]Handler),
	}
}

// Handle registers the handler for a type, replacing any previous one.
func (q *Queue) Handle(t ItemType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Enqueue appends an action with payload marshalled to JSON.
func (q *Queue) Enqueue(ctx context.Context, t ItemType, payload interface{}) (Item, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("failed to marshal queue payload: %w", err)
	}
	item := Item{
		ID:        ulid.Make().String(),
		Type:      t,
		Payload:   raw,
		Timestamp: q.clock.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.load(ctx)
	if err != nil {
		return Item{}, err
	}
	items = append(items, item)
	if err := q.persist(ctx, items); err != nil {
		return Item{}, err
	}
	q.logger.Info("queued offline action", zap.String("type", string(t)), zap.String("id", item.ID))
	return item, nil
}

// Items returns the queued items in order.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Len returns the number of queued items; unreadable storage counts as empty.
func (q *Queue) Len(ctx context.Context) int {
	items, err := q.Items(ctx)
	if err != nil {
		return 0
	}
	return len(items)
}

// ProcessAll walks the queue once. Successful items are dropped, failed ones
// are re-persisted in their original order. Concurrent calls are serialised,
// so a second call sees only what the first left behind.
func (q *Queue) ProcessAll(ctx context.Context) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var res Result
	items, err := q.load(ctx)
	if err != nil {
		return res, err
	}
	if len(items) == 0 {
		return res, nil
	}

	survivors := make([]Item, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			survivors = append(survivors, item)
			continue
		}
		h, ok := q.handlers[item.Type]
		if !ok {
			q.logger.Warn("dropping queued action with no handler",
				zap.String("type", string(item.Type)),
				zap.String("id", item.ID),
			)
			res.Dropped++
			continue
		}
		if err := h(ctx, item); err != nil {
			q.logger.Warn("queued action failed, keeping for retry",
				zap.String("type", string(item.Type)),
				zap.String("id", item.ID),
				zap.Error(err),
			)
			res.Failed++
			survivors = append(survivors, item)
			continue
		}
		res.Processed++
	}

	if err := q.persist(ctx, survivors); err != nil {
		return res, err
	}
	return res, nil
}

func (q *Queue) load(ctx context.Context) ([]Item, error) {
	raw, err := q.kv.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read offline queue: %w", err)
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.logger.Error("offline queue is corrupted, discarding it", zap.Error(err))
		_ = q.kv.Delete(ctx, storageKey)
		return nil, nil
	}
	return items, nil
}

// persist writes items, deleting the key outright when nothing is left.
func (q *Queue) persist(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		if err := q.kv.Delete(ctx, storageKey); err != nil {
			return fmt.Errorf("failed to clear offline queue: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal offline queue: %w", err)
	}
	if err := q.kv.Set(ctx, storageKey, string(raw)); err != nil {
		return fmt.Errorf("failed to write offline queue: %w", err)
	}
	return nil
}
