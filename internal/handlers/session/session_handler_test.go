package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"condo-session/internal/domain/user"
	"condo-session/internal/middleware"
	xerrors "condo-session/internal/pkg/errors"
	sessionsvc "condo-session/internal/service/session"

	"github.com/gin-gonic/gin"
)

type fakeSession struct {
	state      sessionsvc.State
	signIn     sessionsvc.SignInResult
	token      string
	writable   error
	storePush  bool
	signedOut  bool
	pushTokens []string
}

func (f *fakeSession) State() sessionsvc.State { return f.state }

func (f *fakeSession) SignIn(context.Context, string, string) sessionsvc.SignInResult {
	if f.signIn.Success {
		f.state = sessionsvc.State{Phase: sessionsvc.PhaseAuthenticated, User: f.signIn.User, Initialized: true}
	}
	return f.signIn
}

func (f *fakeSession) SignOut(context.Context) {
	f.signedOut = true
	f.state = sessionsvc.State{Phase: sessionsvc.PhaseUnauthenticated, Initialized: true}
}

func (f *fakeSession) RefreshSession(context.Context) bool { return false }
func (f *fakeSession) IsSessionValid(context.Context) bool { return f.token != "" }
func (f *fakeSession) EnsureFreshToken(context.Context) string { return f.token }
func (f *fakeSession) RefreshUserProfile(context.Context) {}
func (f *fakeSession) RequireWritable() error { return f.writable }

func (f *fakeSession) UpdatePushToken(_ context.Context, token string) {
	f.pushTokens = append(f.pushTokens, token)
	if f.storePush && f.state.User != nil {
		u := f.state.User.Clone()
		u.PushToken = token
		f.state.User = u
	}
}

func newTestRouter(f *fakeSession) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSessionHandler(f, nil)
	mw := middleware.NewAuthMiddleware(f)

	g := r.Group("/session")
	g.GET("", h.GetSession)
	g.POST("/signin", h.SignIn)
	g.POST("/signout", h.SignOut)
	g.GET("/token", h.Token)
	g.PUT("/push-token", append(mw.WithWritableUser(), h.UpdatePushToken)...)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func resident() *user.User {
	return &user.User{ID: "p-1", UserID: "auth-1", Email: "ana@example.com", UserType: user.TypeMorador}
}

func TestSignInStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		result sessionsvc.SignInResult
		want   int
	}{
		{"malformed body", `{"email":"nope"}`, sessionsvc.SignInResult{}, http.StatusBadRequest},
		{"bad credentials", `{"email":"ana@example.com","password":"x"}`,
			sessionsvc.SignInResult{Error: sessionsvc.MsgInvalidCredentials}, http.StatusUnauthorized},
		{"no profile", `{"email":"ana@example.com","password":"x"}`,
			sessionsvc.SignInResult{Error: sessionsvc.MsgProfileNotFound}, http.StatusForbidden},
		{"provider failure", `{"email":"ana@example.com","password":"x"}`,
			sessionsvc.SignInResult{Error: sessionsvc.MsgSignInFailed}, http.StatusBadGateway},
		{"success", `{"email":"ana@example.com","password":"x"}`,
			sessionsvc.SignInResult{Success: true, User: resident()}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeSession{signIn: tt.result})
			w := do(r, http.MethodPost, "/session/signin", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestGetSessionReportsPhase(t *testing.T) {
	f := &fakeSession{state: sessionsvc.State{Phase: sessionsvc.PhaseAuthenticated, User: resident(), Initialized: true}}
	w := do(newTestRouter(f), http.MethodGet, "/session", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Data struct {
			Phase string     `json:"phase"`
			User  *user.User `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Phase != sessionsvc.PhaseAuthenticated.String() {
		t.Errorf("phase = %q", body.Data.Phase)
	}
	if body.Data.User == nil || body.Data.User.UserID != "auth-1" {
		t.Errorf("user = %+v", body.Data.User)
	}
}

func TestTokenNotFoundWithoutSession(t *testing.T) {
	w := do(newTestRouter(&fakeSession{}), http.MethodGet, "/session/token", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestPushTokenGuards(t *testing.T) {
	t.Run("no user", func(t *testing.T) {
		f := &fakeSession{}
		w := do(newTestRouter(f), http.MethodPut, "/session/push-token", `{"token":"ExponentPushToken[a]"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if len(f.pushTokens) != 0 {
			t.Fatal("handler ran without a user")
		}
	})

	t.Run("read-only", func(t *testing.T) {
		f := &fakeSession{
			state:    sessionsvc.State{Phase: sessionsvc.PhaseSoftLogout, User: resident(), Initialized: true},
			writable: xerrors.ErrReadOnly,
		}
		w := do(newTestRouter(f), http.MethodPut, "/session/push-token", `{"token":"ExponentPushToken[a]"}`)
		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", w.Code)
		}
	})

	t.Run("offline", func(t *testing.T) {
		f := &fakeSession{
			state:    sessionsvc.State{Phase: sessionsvc.PhaseOfflineGrace, User: resident(), Initialized: true},
			writable: xerrors.ErrOffline,
		}
		w := do(newTestRouter(f), http.MethodPut, "/session/push-token", `{"token":"ExponentPushToken[a]"}`)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
	})

	t.Run("stored", func(t *testing.T) {
		f := &fakeSession{
			state:     sessionsvc.State{Phase: sessionsvc.PhaseAuthenticated, User: resident(), Initialized: true},
			storePush: true,
		}
		w := do(newTestRouter(f), http.MethodPut, "/session/push-token", `{"token":"ExponentPushToken[a]"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
		}
	})

	t.Run("write failed", func(t *testing.T) {
		f := &fakeSession{
			state: sessionsvc.State{Phase: sessionsvc.PhaseAuthenticated, User: resident(), Initialized: true},
		}
		w := do(newTestRouter(f), http.MethodPut, "/session/push-token", `{"token":"ExponentPushToken[a]"}`)
		if w.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", w.Code)
		}
	})
}

func TestSignOutClearsSession(t *testing.T) {
	f := &fakeSession{state: sessionsvc.State{Phase: sessionsvc.PhaseAuthenticated, User: resident(), Initialized: true}}
	w := do(newTestRouter(f), http.MethodPost, "/session/signout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !f.signedOut {
		t.Fatal("SignOut not called")
	}
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	w := do(newTestRouter(&fakeSession{}), http.MethodPost, "/session/signin", `{"email":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Message != "invalid request" || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}
