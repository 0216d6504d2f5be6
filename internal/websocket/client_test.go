package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"condo-session/internal/domain/user"
	wstypes "condo-session/internal/domain/websocket"
	"condo-session/internal/service/session"

	"github.com/gorilla/websocket"
)

type fakeSession struct {
	mu    sync.Mutex
	state session.State
	token string
	subs  map[int]func(session.State)
	next  int
}

func newFakeSession(st session.State) *fakeSession {
	return &fakeSession{state: st, token: "access-1", subs: map[int]func(session.State){}}
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Subscribe(fn func(session.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeSession) EnsureFreshToken(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeSession) set(st session.State) {
	f.mu.Lock()
	f.state = st
	var subs []func(session.State)
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}

var (
	online = session.State{
		Phase:       session.PhaseAuthenticated,
		User:        &user.User{ID: "p1", UserID: "u1", UserType: user.TypeMorador},
		Initialized: true,
	}
	signedOut = session.State{Phase: session.PhaseUnauthenticated, Initialized: true}
)

// echoHandler records messages and acknowledges each one.
type echoHandler struct {
	mu   sync.Mutex
	seen []*wstypes.WSMessage
}

func (h *echoHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeNotification}
}

func (h *echoHandler) HandleMessage(_ context.Context, sender Sender, msg *wstypes.WSMessage) error {
	h.mu.Lock()
	h.seen = append(h.seen, msg)
	h.mu.Unlock()
	sender.SendMessage(wstypes.NewMessage(wstypes.EventTypeAck, wstypes.AckData{MessageID: msg.ID, Status: "stored"}))
	return nil
}

func (h *echoHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

// server upgrades every request and hands the socket to the test.
type server struct {
	*httptest.Server
	dials  atomic.Int32
	reject atomic.Int32 // handshakes to refuse with 401
	auth   chan string
	conns  chan *websocket.Conn
}

func newServer(t *testing.T) *server {
	s := &server{auth: make(chan string, 8), conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.dials.Add(1)
		if s.reject.Load() > 0 {
			s.reject.Add(-1)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func startClient(t *testing.T, srv *server, sess *fakeSession) (*Client, *echoHandler) {
	t.Helper()
	c := NewClient(Config{URL: srv.wsURL(), ReconnectMin: 10 * time.Millisecond, ReconnectMax: 50 * time.Millisecond}, sess, nil)
	h := &echoHandler{}
	c.RegisterHandler(h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, h
}

func acceptConn(t *testing.T, srv *server) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-srv.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("client never connected")
		return nil
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) *wstypes.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	msg, err := wstypes.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

func TestClientDialsWithBearerAndRoutesMessages(t *testing.T) {
	srv := newServer(t)
	sess := newFakeSession(online)
	_, h := startClient(t, srv, sess)

	conn := acceptConn(t, srv)
	if got := <-srv.auth; got != "Bearer access-1" {
		t.Fatalf("unexpected Authorization header %q", got)
	}

	note := wstypes.NewMessage(wstypes.EventTypeNotification, wstypes.NotificationData{ID: "n1", Title: "Portaria"})
	if err := conn.WriteJSON(note); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readMessage(t, conn)
	if ack.Type != wstypes.EventTypeAck {
		t.Fatalf("expected ack, got %s", ack.Type)
	}
	var data wstypes.AckData
	if err := DecodeData(ack.Data, &data); err != nil || data.MessageID != note.ID {
		t.Fatalf("ack does not reference message: %+v err=%v", data, err)
	}
	if h.count() != 1 {
		t.Fatalf("handler saw %d messages", h.count())
	}

	if err := conn.WriteJSON(wstypes.NewMessage(wstypes.EventTypePing, nil)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if pong := readMessage(t, conn); pong.Type != wstypes.EventTypePong {
		t.Fatalf("expected pong, got %s", pong.Type)
	}
}

func TestClientWaitsForSignedInOnlineSession(t *testing.T) {
	srv := newServer(t)
	sess := newFakeSession(signedOut)
	c, _ := startClient(t, srv, sess)

	time.Sleep(50 * time.Millisecond)
	if srv.dials.Load() != 0 {
		t.Fatalf("dialled without a user")
	}

	offline := online
	offline.Phase = session.PhaseOfflineGrace
	sess.set(offline)
	time.Sleep(50 * time.Millisecond)
	if srv.dials.Load() != 0 {
		t.Fatalf("dialled while offline")
	}

	sess.set(online)
	acceptConn(t, srv)
	waitFor(t, c.Connected)
}

func TestClientDropsConnectionOnSignOut(t *testing.T) {
	srv := newServer(t)
	sess := newFakeSession(online)
	c, _ := startClient(t, srv, sess)

	conn := acceptConn(t, srv)
	waitFor(t, c.Connected)

	sess.set(signedOut)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
	waitFor(t, func() bool { return !c.Connected() })
	if c.SendMessage(wstypes.NewMessage(wstypes.EventTypePing, nil)) {
		t.Fatalf("send succeeded without a connection")
	}
}

func TestClientRetriesRejectedHandshake(t *testing.T) {
	srv := newServer(t)
	srv.reject.Store(2)
	sess := newFakeSession(online)
	c, _ := startClient(t, srv, sess)

	acceptConn(t, srv)
	waitFor(t, c.Connected)
	if n := srv.dials.Load(); n != 3 {
		t.Fatalf("expected 3 dials, got %d", n)
	}
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	srv := newServer(t)
	sess := newFakeSession(online)
	startClient(t, srv, sess)

	first := acceptConn(t, srv)
	first.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	first.Close()

	acceptConn(t, srv)
	if n := srv.dials.Load(); n < 2 {
		t.Fatalf("expected a reconnect, got %d dials", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
