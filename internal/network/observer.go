// Package network derives a single "device is online" signal from platform
// connectivity reports.
package network

import (
	"sync"
	"time"

	"condo-session/internal/pkg/clock"

	"go.uber.org/zap"
)

// DefaultDebounce is how long a new connectivity value must hold before
// subscribers hear about it.
const DefaultDebounce = 500 * time.Millisecond

// Status is one connectivity report. A nil IsInternetReachable means the
// platform has not determined reachability yet.
type Status struct {
	IsConnected         bool
	IsInternetReachable *bool
}

// Online is isConnected AND (reachable OR reachability unknown).
func (s Status) Online() bool {
	return s.IsConnected && (s.IsInternetReachable == nil || *s.IsInternetReachable)
}

// Observer publishes debounced online/offline transitions. It starts
// optimistic (online) until the first report arrives.
type Observer struct {
	clock    clock.Clock
	debounce time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	online      bool
	pending     clock.Timer
	pendingTo   bool
	subscribers map[int]func(bool)
	nextID      int
	closed      bool
}

func NewObserver(clk clock.Clock, debounce time.Duration, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce < 0 {
		debounce = 0
	}
	return &Observer{
		clock:       clock.OrReal(clk),
		debounce:    debounce,
		logger:      logger,
		online:      true,
		subscribers: make(map[int]func(bool)),
	}
}

// Online returns the current debounced value.
func (o *Observer) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// Subscribe registers fn for transitions. The returned func unsubscribes.
func (o *Observer) Subscribe(fn func(online bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.subscribers[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
	}
}

// Update feeds a connectivity report. Flapping inside the debounce window
// cancels the pending transition.
func (o *Observer) Update(s Status) {
	next := s.Online()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.pending != nil {
		if o.pendingTo == next {
			o.mu.Unlock()
			return
		}
		o.pending.Stop()
		o.pending = nil
	}
	if next == o.online {
		o.mu.Unlock()
		return
	}
	if o.debounce == 0 {
		subs := o.commitLocked(next)
		o.mu.Unlock()
		notify(subs, next)
		return
	}
	o.pendingTo = next
	o.pending = o.clock.AfterFunc(o.debounce, func() {
		o.mu.Lock()
		if o.closed || o.pending == nil || o.pendingTo != next {
			o.mu.Unlock()
			return
		}
		o.pending = nil
		subs := o.commitLocked(next)
		o.mu.Unlock()
		notify(subs, next)
	})
	o.mu.Unlock()
}

// Close stops delivering transitions.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
	o.subscribers = map[int]func(bool){}
}

func (o *Observer) commitLocked(online bool) []func(bool) {
	o.online = online
	o.logger.Info("network state changed", zap.Bool("online", online))
	subs := make([]func(bool), 0, len(o.subscribers))
	for id := 0; id < o.nextID; id++ {
		if fn, ok := o.subscribers[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func notify(subs []func(bool), online bool) {
	for _, fn := range subs {
		fn(online)
	}
}
