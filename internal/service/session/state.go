// Package session owns the client session: one tagged state, one reducer,
// and the manager that feeds it from the identity provider, the network
// observer, the app lifecycle and timers.
package session

import "condo-session/internal/domain/user"

// Phase is the session's position in its lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseChecking
	// PhaseAuthenticated is confirmed online.
	PhaseAuthenticated
	// PhaseDisconnected lost the network after being confirmed. It stays
	// writable until the offline grace period lapses.
	PhaseDisconnected
	// PhaseOfflineGrace adopted a cached session while offline. Read-only.
	PhaseOfflineGrace
	// PhaseSoftLogout keeps a stale cached user visible past the grace
	// period. Read-only until an authoritative check succeeds.
	PhaseSoftLogout
	PhaseUnauthenticated
)

var phaseNames = map[Phase]string{
	PhaseUninitialized:   "uninitialized",
	PhaseChecking:        "checking",
	PhaseAuthenticated:   "authenticated",
	PhaseDisconnected:    "disconnected",
	PhaseOfflineGrace:    "offline_grace",
	PhaseSoftLogout:      "soft_logout",
	PhaseUnauthenticated: "unauthenticated",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// State is the snapshot handed to consumers. The offline and read-only flags
// are derived from Phase so they can never contradict each other.
type State struct {
	Phase       Phase
	User        *user.User
	Loading     bool
	Initialized bool
}

func (s State) IsOffline() bool {
	switch s.Phase {
	case PhaseDisconnected, PhaseOfflineGrace, PhaseSoftLogout:
		return true
	}
	return false
}

func (s State) IsReadOnly() bool {
	return s.Phase == PhaseOfflineGrace || s.Phase == PhaseSoftLogout
}

func (s State) clone() State {
	s.User = s.User.Clone()
	return s
}

func (s State) equal(o State) bool {
	return s.Phase == o.Phase && s.Loading == o.Loading && s.Initialized == o.Initialized && s.User.Equal(o.User)
}

// EventKind enumerates reducer inputs.
type EventKind int

const (
	EventCheckStarted EventKind = iota
	// EventCachePainted shows the cached snapshot before the authoritative
	// check completes.
	EventCachePainted
	EventSessionConfirmed
	// EventOfflineSession adopts a cached session on the offline path.
	EventOfflineSession
	EventNoSession
	EventNetworkLost
	EventNetworkRestored
	EventGraceExpired
	EventSignInStarted
	EventSignInFailed
	EventSignedOut
	EventProfileUpdated
)

// Event is one reducer input.
type Event struct {
	Kind        EventKind
	User        *user.User
	WithinGrace bool
}

// Reduce is the only place the session state changes. Initialized never goes
// back to false once set.
func Reduce(s State, ev Event) State {
	switch ev.Kind {
	case EventCheckStarted:
		s.Loading = true
		if s.Phase == PhaseUninitialized {
			s.Phase = PhaseChecking
		}

	case EventCachePainted:
		if (s.Phase == PhaseUninitialized || s.Phase == PhaseChecking) && ev.User != nil {
			s.User = ev.User
		}

	case EventSessionConfirmed:
		if ev.User == nil {
			return Reduce(s, Event{Kind: EventNoSession})
		}
		s.Phase = PhaseAuthenticated
		s.User = ev.User
		s.Loading = false
		s.Initialized = true

	case EventOfflineSession:
		if ev.User == nil {
			return Reduce(s, Event{Kind: EventNoSession})
		}
		s.Phase = PhaseSoftLogout
		if ev.WithinGrace {
			s.Phase = PhaseOfflineGrace
		}
		s.User = ev.User
		s.Loading = false
		s.Initialized = true

	case EventNoSession, EventSignedOut:
		s.Phase = PhaseUnauthenticated
		s.User = nil
		s.Loading = false
		s.Initialized = true

	case EventNetworkLost:
		if s.Phase == PhaseAuthenticated {
			s.Phase = PhaseDisconnected
		}

	case EventNetworkRestored:
		if s.Phase == PhaseDisconnected || s.Phase == PhaseOfflineGrace {
			s.Phase = PhaseAuthenticated
		}

	case EventGraceExpired:
		if s.Phase == PhaseDisconnected || s.Phase == PhaseOfflineGrace {
			s.Phase = PhaseSoftLogout
		}

	case EventSignInStarted:
		s.Loading = true

	case EventSignInFailed:
		s.Loading = false

	case EventProfileUpdated:
		if s.User != nil && ev.User != nil {
			s.User = ev.User
		}
	}
	return s
}
