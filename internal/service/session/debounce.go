package session

import (
	"time"

	"condo-session/internal/identity"
)

// authEventGate remembers the last admitted provider event. A repeat of the
// same type inside the window is a duplicate emission.
type authEventGate struct {
	lastType identity.EventType
	lastAt   time.Time
}

func (g authEventGate) admit(t identity.EventType, now time.Time, window time.Duration) (authEventGate, bool) {
	if t == g.lastType && !g.lastAt.IsZero() && now.Sub(g.lastAt) < window {
		return g, false
	}
	return authEventGate{lastType: t, lastAt: now}, true
}

// coalesce queues ev behind the events already waiting for the settle delay.
// An older pending event of the same type is superseded and ev moves to the
// back, so the relative order of the latest event of each type is kept.
func coalesce(pending []identity.AuthEvent, ev identity.AuthEvent) []identity.AuthEvent {
	out := make([]identity.AuthEvent, 0, len(pending)+1)
	for _, p := range pending {
		if p.Type != ev.Type {
			out = append(out, p)
		}
	}
	return append(out, ev)
}

// networkGate drops reports that repeat the last known connectivity.
type networkGate struct {
	online bool
}

func (g networkGate) admit(online bool) (networkGate, bool) {
	if online == g.online {
		return g, false
	}
	return networkGate{online: online}, true
}
