// Package analytics is a best-effort side channel for session diagnostics.
// Recording never blocks and never fails the caller.
package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"condo-session/internal/pkg/clock"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Kind string

const (
	KindEvent  Kind = "event"
	KindTiming Kind = "timing"
)

// Event is one recorded datum.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Name      string                 `json:"name"`
	Props     map[string]interface{} `json:"props,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives events from the recorder's drain goroutine.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

const DefaultBuffer = 256

// Recorder buffers events and fans them out to sinks on its own goroutine.
// When the buffer is full new events are dropped.
type Recorder struct {
	sinks  []Sink
	clock  clock.Clock
	logger *zap.Logger

	events  chan Event
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

func NewRecorder(buffer int, clk clock.Clock, logger *zap.Logger, sinks ...Sink) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		sinks:  sinks,
		clock:  clock.OrReal(clk),
		logger: logger,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Run drains events until Close is called or ctx ends.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.emit(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Recorder) Track(name string, props map[string]interface{}) {
	r.enqueue(Event{Kind: KindEvent, Name: name, Props: props})
}

func (r *Recorder) Timing(name string, d time.Duration) {
	r.enqueue(Event{Kind: KindTiming, Name: name, Duration: d})
}

// Dropped reports how many events were discarded because the buffer was
// full or the recorder was closed.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits for Run to drain what is buffered.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
	})
	<-r.done
}

func (r *Recorder) enqueue(ev Event) {
	ev.ID = ulid.Make().String()
	ev.Timestamp = r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) emit(ctx context.Context, ev Event) {
	for _, s := range r.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			r.logger.Debug("analytics sink failed", zap.String("event", ev.Name), zap.Error(err))
		}
	}
}
