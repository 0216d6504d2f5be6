// internal/service/deeplink/dispatcher.go
package deeplink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"condo-session/internal/offlinequeue"
	"condo-session/internal/pkg/clock"
	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/service/session"

	"go.uber.org/zap"
)

const historySize = 50

// Status is the outcome recorded for one dispatched link.
type Status string

const (
	StatusDispatched Status = "dispatched"
	StatusDeferred   Status = "deferred"
	StatusUnmatched  Status = "unmatched"
	StatusFailed     Status = "failed"
)

// Link is the payload queued for a deep link received while offline.
type Link struct {
	URL    string `json:"url" binding:"required"`
	Source string `json:"source,omitempty"`
}

// Match is what a route handler receives.
type Match struct {
	Route  string
	Path   string
	Params map[string]string
	Query  url.Values
}

type RouteHandler func(ctx context.Context, m Match) error

// Entry is one line of the dispatch history.
type Entry struct {
	URL    string            `json:"url"`
	Route  string            `json:"route,omitempty"`
	Params map[string]string `json:"params,omitempty"`
	Status Status            `json:"status"`
	Error  string            `json:"error,omitempty"`
	At     time.Time         `json:"at"`
}

// SessionView is the part of the session manager the dispatcher reads.
type SessionView interface {
	State() session.State
	Subscribe(fn func(session.State)) func()
}

type Tracker interface {
	Track(event string, props map[string]interface{})
}

type route struct {
	pattern   string
	segments  []string
	protected bool
	handler   RouteHandler
}

// Dispatcher routes app links to handlers. Links for protected routes that
// arrive before a user is available are held and replayed once the session
// settles with a user.
type Dispatcher struct {
	schemes map[string]bool
	session SessionView
	clock   clock.Clock
	logger  *zap.Logger
	tracker Tracker

	kick chan struct{}

	mu      sync.Mutex
	routes  []route
	pending string
	history []Entry
}

type Option func(*Dispatcher)

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock.OrReal(c) }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithTracker(t Tracker) Option {
	return func(d *Dispatcher) { d.tracker = t }
}

// NewDispatcher accepts links whose scheme is one of schemes.
func NewDispatcher(schemes []string, sess SessionView, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		schemes: make(map[string]bool, len(schemes)),
		session: sess,
		clock:   clock.Real(),
		logger:  zap.NewNop(),
		kick:    make(chan struct{}, 1),
	}
	for _, s := range schemes {
		d.schemes[strings.ToLower(s)] = true
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Route registers a handler. Pattern segments starting with ":" capture a
// parameter; a trailing "*" matches any remainder. Routes are tried in
// registration order.
func (d *Dispatcher) Route(pattern string, protected bool, h RouteHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{
		pattern:   pattern,
		segments:  splitPath(pattern),
		protected: protected,
		handler:   h,
	})
}

// ========== Dispatch ==========

func (d *Dispatcher) Dispatch(ctx context.Context, rawURL string) (Entry, error) {
	entry := Entry{URL: rawURL, At: d.clock.Now()}

	path, query, err := d.parse(rawURL)
	if err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		d.record(entry)
		return entry, err
	}

	d.mu.Lock()
	r, params, ok := d.match(path)
	d.mu.Unlock()
	if !ok {
		entry.Status = StatusUnmatched
		d.record(entry)
		d.logger.Warn("no route for deep link", zap.String("path", path))
		return entry, nil
	}
	entry.Route = r.pattern
	entry.Params = params

	if r.protected && !d.ready() {
		d.mu.Lock()
		d.pending = rawURL
		d.mu.Unlock()
		entry.Status = StatusDeferred
		d.record(entry)
		d.logger.Info("deep link deferred until sign-in", zap.String("route", r.pattern))
		return entry, nil
	}

	m := Match{Route: r.pattern, Path: path, Params: params, Query: query}
	if err := r.handler(ctx, m); err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		d.record(entry)
		return entry, fmt.Errorf("deep link handler %s: %w", r.pattern, err)
	}

	entry.Status = StatusDispatched
	d.record(entry)
	if d.tracker != nil {
		d.tracker.Track("deep_link_opened", map[string]interface{}{"route": r.pattern})
	}
	return entry, nil
}

// HandleQueued is the offline-queue handler for deep links. Bad links are
// recorded and dropped; handler failures keep the item queued.
func (d *Dispatcher) HandleQueued(ctx context.Context, item offlinequeue.Item) error {
	var link Link
	if err := json.Unmarshal(item.Payload, &link); err != nil || link.URL == "" {
		d.logger.Error("discarding malformed queued deep link", zap.String("id", item.ID))
		return nil
	}
	entry, err := d.Dispatch(ctx, link.URL)
	if err != nil && entry.Route == "" {
		return nil
	}
	return err
}

// Pending returns the link waiting for a signed-in user, if any.
func (d *Dispatcher) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// History returns recent dispatches, newest first.
func (d *Dispatcher) History() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, len(d.history))
	for i, e := range d.history {
		out[len(d.history)-1-i] = e
	}
	return out
}

// Run replays the pending link whenever the session gains a user, until ctx
// ends. Losing the user discards it.
func (d *Dispatcher) Run(ctx context.Context) {
	var hadUser atomic.Bool
	hadUser.Store(d.session.State().User != nil)

	unsubscribe := d.session.Subscribe(func(st session.State) {
		if st.User == nil {
			if hadUser.Swap(false) {
				d.mu.Lock()
				d.pending = ""
				d.mu.Unlock()
			}
			return
		}
		hadUser.Store(true)
		if !st.Loading {
			d.nudge()
		}
	})
	defer unsubscribe()

	d.nudge()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
			d.flushPending(ctx)
		}
	}
}

func (d *Dispatcher) nudge() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) flushPending(ctx context.Context) {
	if !d.ready() {
		return
	}
	d.mu.Lock()
	link := d.pending
	d.pending = ""
	d.mu.Unlock()
	if link == "" {
		return
	}
	if _, err := d.Dispatch(ctx, link); err != nil {
		d.logger.Warn("pending deep link failed", zap.Error(err))
	}
}

// ========== Helpers ==========

func (d *Dispatcher) ready() bool {
	st := d.session.State()
	return st.User != nil && !st.Loading
}

// parse maps both "condo://notices/7" and "https://host/notices/7" to
// "/notices/7".
func (d *Dispatcher) parse(rawURL string) (string, url.Values, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !d.schemes[scheme] {
		return "", nil, fmt.Errorf("%w: unsupported scheme %q", xerrors.ErrInvalidInput, u.Scheme)
	}
	path := u.Path
	if scheme != "http" && scheme != "https" && u.Host != "" {
		path = "/" + u.Host + path
	}
	if path == "" {
		path = "/"
	}
	return path, u.Query(), nil
}

func (d *Dispatcher) match(path string) (route, map[string]string, bool) {
	segs := splitPath(path)
	for _, r := range d.routes {
		if params, ok := matchSegments(r.segments, segs); ok {
			return r, params, true
		}
	}
	return route{}, nil, false
}

func matchSegments(pattern, path []string) (map[string]string, bool) {
	params := map[string]string{}
	for i, p := range pattern {
		if p == "*" && i == len(pattern)-1 {
			return params, true
		}
		if i >= len(path) {
			return nil, false
		}
		switch {
		case strings.HasPrefix(p, ":"):
			params[p[1:]] = path[i]
		case p != path[i]:
			return nil, false
		}
	}
	if len(path) != len(pattern) {
		return nil, false
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (d *Dispatcher) record(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, e)
	if over := len(d.history) - historySize; over > 0 {
		d.history = d.history[over:]
	}
}
