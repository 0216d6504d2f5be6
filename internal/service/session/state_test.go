package session

import (
	"testing"

	"condo-session/internal/domain/user"
)

var (
	resident = &user.User{ID: "p-1", UserID: "u1", Email: "a@b.com", UserType: user.TypeMorador}
	stale    = &user.User{ID: "p-1", UserID: "u1", Email: "old@b.com", UserType: user.TypeMorador}
)

func TestReduceFlagsFollowPhase(t *testing.T) {
	cases := []struct {
		phase             Phase
		offline, readOnly bool
	}{
		{PhaseUninitialized, false, false},
		{PhaseChecking, false, false},
		{PhaseAuthenticated, false, false},
		{PhaseDisconnected, true, false},
		{PhaseOfflineGrace, true, true},
		{PhaseSoftLogout, true, true},
		{PhaseUnauthenticated, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.phase.String(), func(t *testing.T) {
			s := State{Phase: tc.phase}
			if s.IsOffline() != tc.offline || s.IsReadOnly() != tc.readOnly {
				t.Errorf("offline=%v readOnly=%v, want %v/%v", s.IsOffline(), s.IsReadOnly(), tc.offline, tc.readOnly)
			}
		})
	}
}

func TestReduceColdStart(t *testing.T) {
	s := Reduce(State{}, Event{Kind: EventCheckStarted})
	if s.Phase != PhaseChecking || !s.Loading || s.Initialized {
		t.Fatalf("after check started: %+v", s)
	}

	s = Reduce(s, Event{Kind: EventCachePainted, User: stale})
	if s.User != stale || s.Phase != PhaseChecking {
		t.Fatalf("cache paint should show the snapshot: %+v", s)
	}

	// The authoritative result wins, including a nil user.
	s = Reduce(s, Event{Kind: EventNoSession})
	if s.User != nil || s.Phase != PhaseUnauthenticated || s.Loading || !s.Initialized {
		t.Fatalf("after no session: %+v", s)
	}
}

func TestReduceCachePaintOnlyBeforeCheckCompletes(t *testing.T) {
	s := State{Phase: PhaseAuthenticated, User: resident, Initialized: true}
	if got := Reduce(s, Event{Kind: EventCachePainted, User: stale}); got.User != resident {
		t.Errorf("cache paint overwrote a confirmed user")
	}
}

func TestReduceOfflineSession(t *testing.T) {
	grace := Reduce(State{Phase: PhaseChecking}, Event{Kind: EventOfflineSession, User: resident, WithinGrace: true})
	if grace.Phase != PhaseOfflineGrace || grace.User != resident || !grace.Initialized {
		t.Errorf("within grace: %+v", grace)
	}
	soft := Reduce(State{Phase: PhaseChecking}, Event{Kind: EventOfflineSession, User: resident})
	if soft.Phase != PhaseSoftLogout || soft.User != resident {
		t.Errorf("grace lapsed: %+v", soft)
	}
	none := Reduce(State{Phase: PhaseChecking}, Event{Kind: EventOfflineSession})
	if none.Phase != PhaseUnauthenticated {
		t.Errorf("no cached user: %+v", none)
	}
}

func TestReduceNetworkTransitions(t *testing.T) {
	authed := State{Phase: PhaseAuthenticated, User: resident, Initialized: true}

	lost := Reduce(authed, Event{Kind: EventNetworkLost})
	if lost.Phase != PhaseDisconnected || lost.IsReadOnly() {
		t.Fatalf("fresh outage must not be read-only: %+v", lost)
	}
	if back := Reduce(lost, Event{Kind: EventNetworkRestored}); back.Phase != PhaseAuthenticated {
		t.Errorf("restore from disconnected: %v", back.Phase)
	}

	expired := Reduce(lost, Event{Kind: EventGraceExpired})
	if expired.Phase != PhaseSoftLogout || expired.User != resident {
		t.Fatalf("grace expiry: %+v", expired)
	}
	if back := Reduce(expired, Event{Kind: EventNetworkRestored}); back.Phase != PhaseSoftLogout {
		t.Errorf("soft logout must survive reconnect until a check succeeds, got %v", back.Phase)
	}

	grace := State{Phase: PhaseOfflineGrace, User: resident, Initialized: true}
	if back := Reduce(grace, Event{Kind: EventNetworkRestored}); back.Phase != PhaseAuthenticated {
		t.Errorf("restore from grace: %v", back.Phase)
	}

	anon := State{Phase: PhaseUnauthenticated, Initialized: true}
	if got := Reduce(anon, Event{Kind: EventNetworkLost}); got.Phase != PhaseUnauthenticated {
		t.Errorf("network loss without a session: %v", got.Phase)
	}
}

func TestReduceSignOutFromAnyPhase(t *testing.T) {
	for _, p := range []Phase{PhaseChecking, PhaseAuthenticated, PhaseDisconnected, PhaseOfflineGrace, PhaseSoftLogout} {
		s := Reduce(State{Phase: p, User: resident, Loading: true}, Event{Kind: EventSignedOut})
		if s.User != nil || s.IsOffline() || s.IsReadOnly() || s.Loading || !s.Initialized {
			t.Errorf("%v: sign out left %+v", p, s)
		}
	}
}

func TestReduceInitializedIsMonotonic(t *testing.T) {
	s := State{Phase: PhaseUnauthenticated, Initialized: true}
	for _, k := range []EventKind{EventCheckStarted, EventSignInStarted, EventSignInFailed, EventNetworkLost} {
		s = Reduce(s, Event{Kind: k})
		if !s.Initialized {
			t.Fatalf("event %d cleared Initialized", k)
		}
	}
}

func TestReduceProfileUpdated(t *testing.T) {
	updated := resident.Clone()
	updated.PushToken = "tok"
	s := Reduce(State{Phase: PhaseAuthenticated, User: resident}, Event{Kind: EventProfileUpdated, User: updated})
	if s.User.PushToken != "tok" {
		t.Errorf("profile update not applied")
	}
	anon := Reduce(State{Phase: PhaseUnauthenticated}, Event{Kind: EventProfileUpdated, User: updated})
	if anon.User != nil {
		t.Errorf("profile update must not sign a user in")
	}
}
