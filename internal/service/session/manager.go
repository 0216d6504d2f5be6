// internal/service/session/manager.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"condo-session/internal/domain/user"
	"condo-session/internal/identity"
	"condo-session/internal/offlinequeue"
	"condo-session/internal/pkg/clock"
	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/pkg/jwt"
	"condo-session/internal/service/profile"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// User-facing sign-in messages.
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgSignInFailed       = "Could not sign in. Please try again"
	MsgProfileNotFound    = "No profile found for this account"
)

// Config holds the session time policies.
type Config struct {
	OfflineGracePeriod    time.Duration
	InactivityTimeout     time.Duration
	SignOutTimeout        time.Duration
	AuthEventDedupWindow  time.Duration
	AuthEventDelay        time.Duration
	TokenRefreshThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		OfflineGracePeriod:    24 * time.Hour,
		InactivityTimeout:     24 * time.Hour,
		SignOutTimeout:        10 * time.Second,
		AuthEventDedupWindow:  time.Second,
		AuthEventDelay:        300 * time.Millisecond,
		TokenRefreshThreshold: 600 * time.Second,
	}
}

// ========== Collaborators ==========

// TokenStore is the durable token and snapshot store.
type TokenStore interface {
	SaveToken(ctx context.Context, token string, expiresIn time.Duration) error
	GetToken(ctx context.Context) string
	TouchLastAuth(ctx context.Context) error
	LastAuth(ctx context.Context) time.Time
	SaveUserData(ctx context.Context, u *user.User) error
	GetUserData(ctx context.Context) *user.User
	ClearAll(ctx context.Context) error
}

// ProfileResolver hydrates an auth identity into an application user.
type ProfileResolver interface {
	Resolve(ctx context.Context, authID, email string) (*user.User, error)
}

// PushTokenWriter stores a device push token on the user's profile row.
type PushTokenWriter interface {
	UpdatePushToken(ctx context.Context, userID string, userType user.UserType, token string) error
}

// NetworkObserver reports debounced connectivity.
type NetworkObserver interface {
	Online() bool
	Subscribe(fn func(online bool)) func()
}

// ActionQueue replays work deferred while offline.
type ActionQueue interface {
	ProcessAll(ctx context.Context) (offlinequeue.Result, error)
}

// PushRegistrar registers the device for push after sign-in.
type PushRegistrar interface {
	Register(ctx context.Context, u *user.User) error
}

// SessionExpiredNotifier prompts the user before an expired session is
// signed out.
type SessionExpiredNotifier interface {
	NotifySessionExpired(ctx context.Context, u *user.User)
}

// Tracker receives lifecycle analytics. Implementations must not block.
type Tracker interface {
	Track(event string, props map[string]interface{})
	Timing(name string, d time.Duration)
}

// Deps wires a Manager. Provider, Tokens and Profiles are required.
type Deps struct {
	Provider identity.Provider
	Tokens   TokenStore
	Profiles ProfileResolver
	Network  NetworkObserver
	Queue    ActionQueue
	Writer   PushTokenWriter
	Push     PushRegistrar
	Notifier SessionExpiredNotifier
	Tracker  Tracker
	Clock    clock.Clock
	Logger   *zap.Logger
}

// SignInResult is the discriminated outcome of SignIn.
type SignInResult struct {
	Success bool       `json:"success"`
	User    *user.User `json:"user,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// Manager is the single writer of the session state.
type Manager struct {
	cfg      Config
	provider identity.Provider
	tokens   TokenStore
	profiles ProfileResolver
	network  NetworkObserver
	queue    ActionQueue
	writer   PushTokenWriter
	push     PushRegistrar
	notifier SessionExpiredNotifier
	tracker  Tracker
	clock    clock.Clock
	logger   *zap.Logger

	// Background work started by timers and listeners runs under ctx.
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	refreshes singleflight.Group

	mu            sync.Mutex
	state         State
	subs          map[int]func(State)
	nextSub       int
	gate          authEventGate
	net           networkGate
	pending       []identity.AuthEvent
	flush         clock.Timer
	grace         clock.Timer
	graceGen      int
	inactivity    clock.Timer
	inactivityGen int
	unsubscribe   []func()
	closed        bool
}

func NewManager(deps Deps, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.OfflineGracePeriod <= 0 {
		cfg.OfflineGracePeriod = def.OfflineGracePeriod
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.SignOutTimeout <= 0 {
		cfg.SignOutTimeout = def.SignOutTimeout
	}
	if cfg.AuthEventDedupWindow <= 0 {
		cfg.AuthEventDedupWindow = def.AuthEventDedupWindow
	}
	if cfg.AuthEventDelay < 0 {
		cfg.AuthEventDelay = 0
	}
	if cfg.TokenRefreshThreshold <= 0 {
		cfg.TokenRefreshThreshold = def.TokenRefreshThreshold
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:      cfg,
		provider: deps.Provider,
		tokens:   deps.Tokens,
		profiles: deps.Profiles,
		network:  deps.Network,
		queue:    deps.Queue,
		writer:   deps.Writer,
		push:     deps.Push,
		notifier: deps.Notifier,
		tracker:  deps.Tracker,
		clock:    clock.OrReal(deps.Clock),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]func(State)),
	}
	m.net = networkGate{online: m.isOnline()}
	return m
}

// ========== Lifecycle ==========

// Start paints the cached user, subscribes to provider and network events and
// runs the authoritative session check. Only the first call does anything.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		unsubs := []func(){m.provider.OnAuthStateChange(m.HandleAuthEvent)}
		if m.network != nil {
			unsubs = append(unsubs, m.network.Subscribe(m.HandleNetworkChange))
		}
		m.mu.Lock()
		m.unsubscribe = unsubs
		m.net = networkGate{online: m.isOnline()}
		m.mu.Unlock()

		began := time.Now()
		m.apply(Event{Kind: EventCheckStarted})
		if cached := m.tokens.GetUserData(ctx); cached != nil {
			m.apply(Event{Kind: EventCachePainted, User: cached})
		}
		m.checkSession(ctx)
		m.timing("session_check", time.Since(began))
	})
}

// SetPushRegistrar wires the registrar after construction, since the
// registrar itself watches the manager.
func (m *Manager) SetPushRegistrar(p PushRegistrar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push = p
}

// Close detaches listeners and stops every timer.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubscribe
	m.unsubscribe = nil
	m.stopTimerLocked(&m.flush)
	m.stopTimerLocked(&m.grace)
	m.stopTimerLocked(&m.inactivity)
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	m.cancel()
}

// State returns a copy of the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn for state changes. The returned func unsubscribes.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// ========== Authoritative check ==========

func (m *Manager) checkSession(ctx context.Context) {
	if !m.isOnline() {
		m.offlinePath(ctx)
		return
	}

	sess, err := m.provider.GetSession(ctx)
	if err != nil {
		if xerrors.IsExpiredCredential(err) {
			m.expireSession(ctx)
			return
		}
		m.logger.Warn("session check failed, using cached session", zap.Error(err))
		m.offlinePath(ctx)
		return
	}
	if sess != nil && sess.User != nil {
		m.persistSession(ctx, sess)
		m.adoptIdentity(ctx, sess.User)
		return
	}

	if token := m.tokens.GetToken(ctx); token != "" && jwt.IsTokenValid(token, m.clock.Now()) {
		refreshed, err := m.provider.RefreshSession(ctx)
		switch {
		case err == nil && refreshed != nil && refreshed.User != nil:
			m.persistSession(ctx, refreshed)
			m.adoptIdentity(ctx, refreshed.User)
			return
		case xerrors.IsExpiredCredential(err):
			m.expireSession(ctx)
			return
		case err != nil && !errors.Is(err, xerrors.ErrNoSession):
			m.logger.Warn("session refresh failed, using cached session", zap.Error(err))
			m.offlinePath(ctx)
			return
		}
	}

	if err := m.tokens.ClearAll(ctx); err != nil {
		m.logger.Warn("failed to clear storage", zap.Error(err))
	}
	m.apply(Event{Kind: EventNoSession})
}

// offlinePath adopts the cached session without any network call. Missing
// cache means no session; an expired grace period or token means soft
// logout. Storage is never wiped here.
func (m *Manager) offlinePath(ctx context.Context) {
	token := m.tokens.GetToken(ctx)
	cached := m.tokens.GetUserData(ctx)
	if token == "" || cached == nil {
		m.apply(Event{Kind: EventNoSession})
		return
	}

	now := m.clock.Now()
	lastAuth := m.tokens.LastAuth(ctx)
	withinGrace := !lastAuth.IsZero() &&
		now.Sub(lastAuth) < m.cfg.OfflineGracePeriod &&
		jwt.IsTokenValid(token, now)

	m.apply(Event{Kind: EventOfflineSession, User: cached, WithinGrace: withinGrace})
	if withinGrace {
		m.armGraceTimer(lastAuth.Add(m.cfg.OfflineGracePeriod).Sub(now))
	} else {
		m.logger.Info("offline grace period lapsed, soft logout", zap.String("user_id", cached.UserID))
		m.track("soft_logout", nil)
	}
	m.ensureInactivityTimer()
}

func (m *Manager) persistSession(ctx context.Context, sess *identity.Session) {
	if sess == nil || sess.AccessToken == "" {
		return
	}
	if err := m.tokens.SaveToken(ctx, sess.AccessToken, sess.ExpiresIn); err != nil {
		m.logger.Warn("failed to persist token", zap.Error(err))
	}
	if err := m.tokens.TouchLastAuth(ctx); err != nil {
		m.logger.Warn("failed to record last authentication", zap.Error(err))
	}
}

// adoptIdentity resolves the profile and moves the session to authenticated.
// A nil user with a nil error means the state was left untouched because
// another resolution of the same identity is running.
func (m *Manager) adoptIdentity(ctx context.Context, ident *identity.User) (*user.User, error) {
	u, err := m.profiles.Resolve(ctx, ident.ID, ident.Email)
	switch {
	case errors.Is(err, profile.ErrResolveInProgress):
		return nil, nil

	case err != nil && xerrors.IsExpiredCredential(err):
		m.expireSession(ctx)
		return nil, err

	case err != nil:
		m.logger.Warn("profile load failed, using cached session", zap.String("user_id", ident.ID), zap.Error(err))
		m.offlinePath(ctx)
		return nil, err

	case u == nil:
		m.logger.Warn("identity has no application profile", zap.String("user_id", ident.ID))
		if cerr := m.tokens.ClearAll(ctx); cerr != nil {
			m.logger.Warn("failed to clear storage", zap.Error(cerr))
		}
		m.apply(Event{Kind: EventNoSession})
		return nil, xerrors.ErrNotFound
	}

	m.apply(Event{Kind: EventSessionConfirmed, User: u})
	m.resetInactivityTimer()
	return u, nil
}

// expireSession handles an expired credential surfaced mid-session.
func (m *Manager) expireSession(ctx context.Context) {
	st := m.State()
	m.logger.Info("session expired, signing out")
	m.track("session_expired", nil)
	if m.notifier != nil {
		m.notifier.NotifySessionExpired(ctx, st.User)
	}
	m.SignOut(ctx)
}

// ========== Platform inputs ==========

// HandleAuthEvent receives provider events. Duplicates inside the dedup
// window are dropped; the rest settle for AuthEventDelay before being applied
// in arrival order.
func (m *Manager) HandleAuthEvent(ev identity.AuthEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	gate, ok := m.gate.admit(ev.Type, m.clock.Now(), m.cfg.AuthEventDedupWindow)
	if !ok {
		m.logger.Debug("duplicate auth event dropped", zap.String("event", string(ev.Type)))
		return
	}
	m.gate = gate
	m.pending = coalesce(m.pending, ev)

	m.stopTimerLocked(&m.flush)
	m.flush = m.clock.AfterFunc(m.cfg.AuthEventDelay, m.flushAuthEvents)
}

func (m *Manager) flushAuthEvents() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	events := m.pending
	m.pending = nil
	m.flush = nil
	m.mu.Unlock()

	for _, ev := range events {
		m.processAuthEvent(m.ctx, ev)
	}
}

// discardAuthEvents drops provider events still waiting to settle. SignIn and
// SignOut apply their own transition, so anything queued before them is stale.
func (m *Manager) discardAuthEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked(&m.flush)
	m.pending = nil
}

func (m *Manager) processAuthEvent(ctx context.Context, ev identity.AuthEvent) {
	switch ev.Type {
	case identity.EventSignedIn:
		if ev.Session == nil || ev.Session.User == nil {
			return
		}
		m.persistSession(ctx, ev.Session)
		m.adoptIdentity(ctx, ev.Session.User)

	case identity.EventTokenRefreshed:
		m.persistSession(ctx, ev.Session)

	case identity.EventSignedOut:
		if err := m.tokens.ClearAll(ctx); err != nil {
			m.logger.Warn("failed to clear storage", zap.Error(err))
		}
		m.stopSessionTimers()
		m.apply(Event{Kind: EventSignedOut})
	}
}

// HandleNetworkChange receives debounced connectivity transitions.
func (m *Manager) HandleNetworkChange(online bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	gate, ok := m.net.admit(online)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.net = gate
	m.mu.Unlock()

	ctx := m.ctx
	if !online {
		m.apply(Event{Kind: EventNetworkLost})
		if m.State().Phase == PhaseDisconnected {
			lastAuth := m.tokens.LastAuth(ctx)
			if lastAuth.IsZero() {
				lastAuth = m.clock.Now()
			}
			m.armGraceTimer(lastAuth.Add(m.cfg.OfflineGracePeriod).Sub(m.clock.Now()))
		}
		return
	}

	m.stopGraceTimer()
	if m.queue != nil {
		res, err := m.queue.ProcessAll(ctx)
		if err != nil {
			m.logger.Warn("offline queue flush failed", zap.Error(err))
		} else if res.Processed+res.Failed+res.Dropped > 0 {
			m.logger.Info("offline queue flushed",
				zap.Int("processed", res.Processed),
				zap.Int("failed", res.Failed),
				zap.Int("dropped", res.Dropped),
			)
		}
	}
	m.apply(Event{Kind: EventNetworkRestored})
	if m.State().Initialized {
		m.checkSession(ctx)
	}
}

// HandleAppState receives foreground / background transitions.
func (m *Manager) HandleAppState(ctx context.Context, active bool) {
	if !active {
		return
	}
	if m.State().User != nil && m.isOnline() {
		m.checkSession(ctx)
	}
	m.resetInactivityTimer()
}

// ========== Public operations ==========

// SignIn never returns an error; failures are reported in the result.
func (m *Manager) SignIn(ctx context.Context, email, password string) SignInResult {
	began := time.Now()
	defer func() { m.timing("sign_in", time.Since(began)) }()
	m.discardAuthEvents()
	m.apply(Event{Kind: EventSignInStarted})

	sess, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.apply(Event{Kind: EventSignInFailed})
		msg := MsgSignInFailed
		if errors.Is(err, xerrors.ErrInvalidCredentials) {
			msg = MsgInvalidCredentials
		} else {
			m.logger.Warn("sign in failed", zap.Error(err))
		}
		m.track("sign_in_failed", map[string]interface{}{"reason": msg})
		return SignInResult{Error: msg}
	}

	m.persistSession(ctx, sess)
	u, err := m.adoptIdentity(ctx, sess.User)
	if u == nil && err == nil {
		// Another resolution of this identity is in flight; use its result.
		if st := m.State(); st.User != nil && st.User.UserID == sess.User.ID {
			u = st.User
		}
	}
	if u == nil {
		m.apply(Event{Kind: EventSignInFailed})
		msg := MsgSignInFailed
		if errors.Is(err, xerrors.ErrNotFound) {
			msg = MsgProfileNotFound
		}
		m.track("sign_in_failed", map[string]interface{}{"reason": msg})
		return SignInResult{Error: msg}
	}

	m.mu.Lock()
	push := m.push
	m.mu.Unlock()
	if push != nil {
		registered := u.Clone()
		go func() {
			if err := push.Register(m.ctx, registered); err != nil {
				m.logger.Warn("push registration failed", zap.String("user_id", registered.UserID), zap.Error(err))
			}
		}()
	}
	m.track("sign_in", map[string]interface{}{"user_type": string(u.UserType)})
	return SignInResult{Success: true, User: u.Clone()}
}

// SignOut always converges to an empty local session. The provider call and
// the storage wipe each get SignOutTimeout.
func (m *Manager) SignOut(ctx context.Context) {
	defer func() {
		m.stopSessionTimers()
		m.apply(Event{Kind: EventSignedOut})
		m.track("sign_out", nil)
	}()
	m.discardAuthEvents()

	if err := m.withTimeout(ctx, "provider sign out", m.provider.SignOut); err != nil {
		m.logger.Warn("provider sign out failed", zap.Error(err))
	}
	if err := m.withTimeout(ctx, "storage wipe", m.tokens.ClearAll); err != nil {
		m.logger.Warn("storage wipe failed", zap.Error(err))
	}
}

// RefreshSession asks the provider for a new token.
func (m *Manager) RefreshSession(ctx context.Context) bool {
	if !m.isOnline() {
		return false
	}
	sess, err := m.provider.RefreshSession(ctx)
	if err != nil {
		if xerrors.IsExpiredCredential(err) {
			m.expireSession(ctx)
			return false
		}
		m.logger.Warn("session refresh failed", zap.Error(err))
		return false
	}
	m.persistSession(ctx, sess)
	return true
}

// IsSessionValid reports whether a user is present and the stored token has
// not expired.
func (m *Manager) IsSessionValid(ctx context.Context) bool {
	if m.State().User == nil {
		return false
	}
	return jwt.IsTokenValid(m.tokens.GetToken(ctx), m.clock.Now())
}

// EnsureFreshToken returns the stored token, refreshing it first when it is
// close to expiry. A stale token is still returned when refresh fails.
// Concurrent callers share one refresh.
func (m *Manager) EnsureFreshToken(ctx context.Context) string {
	token := m.tokens.GetToken(ctx)
	if token != "" && jwt.TimeUntilExpiry(token, m.clock.Now()) > m.cfg.TokenRefreshThreshold {
		return token
	}
	if !m.isOnline() {
		return token
	}

	v, err, _ := m.refreshes.Do("refresh", func() (interface{}, error) {
		sess, err := m.provider.RefreshSession(ctx)
		if err != nil {
			return "", err
		}
		m.persistSession(ctx, sess)
		return sess.AccessToken, nil
	})
	if err != nil {
		m.logger.Warn("token refresh failed, returning stored token", zap.Error(err))
		return token
	}
	if fresh, _ := v.(string); fresh != "" {
		return fresh
	}
	return token
}

// RefreshUserProfile re-resolves the current user's profile.
func (m *Manager) RefreshUserProfile(ctx context.Context) {
	st := m.State()
	if st.User == nil {
		return
	}
	if !m.isOnline() {
		m.logger.Debug("profile refresh skipped while offline")
		return
	}
	m.adoptIdentity(ctx, &identity.User{ID: st.User.UserID, Email: st.User.Email})
}

// UpdatePushToken stores token on the user's profile. It is skipped while
// the session is not writable.
func (m *Manager) UpdatePushToken(ctx context.Context, token string) {
	if err := m.RequireWritable(); err != nil {
		m.logger.Info("push token update skipped", zap.Error(err))
		return
	}
	st := m.State()
	if st.User == nil || token == "" || st.User.PushToken == token || m.writer == nil {
		return
	}

	if err := m.writer.UpdatePushToken(ctx, st.User.UserID, st.User.UserType, token); err != nil {
		if xerrors.IsExpiredCredential(err) {
			m.expireSession(ctx)
			return
		}
		m.logger.Warn("failed to update push token", zap.String("user_id", st.User.UserID), zap.Error(err))
		return
	}

	updated := st.User.Clone()
	updated.PushToken = token
	if err := m.tokens.SaveUserData(ctx, updated); err != nil {
		m.logger.Warn("failed to persist user snapshot", zap.Error(err))
	}
	m.apply(Event{Kind: EventProfileUpdated, User: updated})
}

// RequireWritable returns ErrReadOnly or ErrOffline when mutations must not
// be attempted.
func (m *Manager) RequireWritable() error {
	st := m.State()
	if st.IsReadOnly() {
		return fmt.Errorf("%w: session is %s", xerrors.ErrReadOnly, st.Phase)
	}
	if st.IsOffline() {
		return fmt.Errorf("%w: session is %s", xerrors.ErrOffline, st.Phase)
	}
	return nil
}

// Accessor returns the read-only view handed to other components.
func (m *Manager) Accessor() *Accessor {
	return &Accessor{m: m}
}

// ========== State plumbing ==========

func (m *Manager) apply(ev Event) {
	m.mu.Lock()
	prev := m.state
	next := Reduce(prev, ev)
	m.state = next
	if next.User == nil {
		m.stopTimerLocked(&m.inactivity)
		m.stopTimerLocked(&m.grace)
	}
	var subs []func(State)
	if !next.equal(prev) {
		subs = make([]func(State), 0, len(m.subs))
		for id := 0; id < m.nextSub; id++ {
			if fn, ok := m.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
	}
	m.mu.Unlock()

	if prev.Phase != next.Phase {
		m.logger.Debug("session phase changed",
			zap.Stringer("from", prev.Phase),
			zap.Stringer("to", next.Phase),
		)
	}
	for _, fn := range subs {
		fn(next.clone())
	}
}

func (m *Manager) isOnline() bool {
	return m.network == nil || m.network.Online()
}

func (m *Manager) withTimeout(ctx context.Context, step string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.SignOutTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", step, ctx.Err())
	}
}

func (m *Manager) track(event string, props map[string]interface{}) {
	if m.tracker != nil {
		m.tracker.Track(event, props)
	}
}

func (m *Manager) timing(name string, d time.Duration) {
	if m.tracker != nil {
		m.tracker.Timing(name, d)
	}
}

// ========== Timers ==========

func (m *Manager) armGraceTimer(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.stopTimerLocked(&m.grace)
	m.graceGen++
	gen := m.graceGen
	m.grace = m.clock.AfterFunc(d, func() { m.onGraceExpired(gen) })
}

func (m *Manager) stopGraceTimer() {
	m.mu.Lock()
	m.stopTimerLocked(&m.grace)
	m.mu.Unlock()
}

func (m *Manager) onGraceExpired(gen int) {
	m.mu.Lock()
	stale := m.closed || gen != m.graceGen
	if !stale {
		m.grace = nil
	}
	m.mu.Unlock()
	if stale {
		return
	}
	if st := m.State(); st.Phase == PhaseDisconnected || st.Phase == PhaseOfflineGrace {
		m.logger.Info("offline grace period lapsed, soft logout")
		m.track("soft_logout", nil)
		m.apply(Event{Kind: EventGraceExpired})
	}
}

// resetInactivityTimer restarts the inactivity countdown, or tears it down
// when there is no user.
func (m *Manager) resetInactivityTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked(&m.inactivity)
	if m.closed || m.state.User == nil {
		return
	}
	m.inactivityGen++
	gen := m.inactivityGen
	m.inactivity = m.clock.AfterFunc(m.cfg.InactivityTimeout, func() { m.onInactive(gen) })
}

func (m *Manager) ensureInactivityTimer() {
	m.mu.Lock()
	running := m.inactivity != nil
	m.mu.Unlock()
	if !running {
		m.resetInactivityTimer()
	}
}

func (m *Manager) onInactive(gen int) {
	m.mu.Lock()
	stale := m.closed || gen != m.inactivityGen
	if !stale {
		m.inactivity = nil
	}
	m.mu.Unlock()
	if stale {
		return
	}
	m.logger.Info("inactivity timeout reached, signing out")
	m.track("inactivity_timeout", nil)
	m.SignOut(m.ctx)
}

func (m *Manager) stopSessionTimers() {
	m.mu.Lock()
	m.stopTimerLocked(&m.grace)
	m.stopTimerLocked(&m.inactivity)
	m.mu.Unlock()
}

func (m *Manager) stopTimerLocked(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
	switch t {
	case &m.grace:
		m.graceGen++
	case &m.inactivity:
		m.inactivityGen++
	}
}
