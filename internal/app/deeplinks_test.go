package app

import (
	"context"
	"testing"
	"time"

	"condo-session/internal/domain/notification"
	"condo-session/internal/domain/user"
	"condo-session/internal/pkg/clock"
	"condo-session/internal/service/deeplink"
	notifyService "condo-session/internal/service/notification"
	"condo-session/internal/service/session"
	"condo-session/internal/storage"

	"go.uber.org/zap"
)

type staticSession struct{ st session.State }

func (s staticSession) State() session.State { return s.st }

func (s staticSession) Subscribe(func(session.State)) func() { return func() {} }

func newRoutedDispatcher(t *testing.T, st session.State) (*deeplink.Dispatcher, *notifyService.InboxService) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	inbox := notifyService.NewInboxService(storage.NewMemoryKV(), clk, nil)
	d := deeplink.NewDispatcher([]string{"condo"}, staticSession{st: st}, deeplink.WithClock(clk))
	registerDeepLinkRoutes(d, inbox, zap.NewNop())
	return d, inbox
}

func signedIn() session.State {
	return session.State{
		Phase:       session.PhaseAuthenticated,
		User:        &user.User{ID: "u-1", UserID: "auth-1", UserType: user.TypeMorador},
		Initialized: true,
	}
}

func TestNotificationLinkMarksInboxItemRead(t *testing.T) {
	ctx := context.Background()
	d, inbox := newRoutedDispatcher(t, signedIn())

	if _, err := inbox.Deliver(ctx, &notification.Notification{ID: "n-1", Title: "Package", Message: "At the front desk"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	entry, err := d.Dispatch(ctx, "condo://notifications/n-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if entry.Status != deeplink.StatusDispatched {
		t.Fatalf("status = %s, want dispatched", entry.Status)
	}
	unread, err := inbox.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if unread != 0 {
		t.Errorf("unread = %d, want 0", unread)
	}
}

func TestNotificationLinkForUnknownIDStillOpens(t *testing.T) {
	d, _ := newRoutedDispatcher(t, signedIn())

	entry, err := d.Dispatch(context.Background(), "condo://notifications/missing")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if entry.Status != deeplink.StatusDispatched {
		t.Errorf("status = %s, want dispatched", entry.Status)
	}
}

func TestProtectedLinksWaitForSignIn(t *testing.T) {
	d, _ := newRoutedDispatcher(t, session.State{Phase: session.PhaseUnauthenticated, Initialized: true})

	entry, err := d.Dispatch(context.Background(), "condo://visitors/42")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if entry.Status != deeplink.StatusDeferred {
		t.Errorf("status = %s, want deferred", entry.Status)
	}
	if d.Pending() != "condo://visitors/42" {
		t.Errorf("pending = %q", d.Pending())
	}

	entry, err = d.Dispatch(context.Background(), "condo://help/faq/parking")
	if err != nil {
		t.Fatalf("dispatch help: %v", err)
	}
	if entry.Status != deeplink.StatusDispatched {
		t.Errorf("help status = %s, want dispatched", entry.Status)
	}
}
