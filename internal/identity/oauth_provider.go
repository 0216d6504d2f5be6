package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	xerrors "condo-session/internal/pkg/errors"
	"condo-session/internal/pkg/jwt"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OAuthConfig configures the password-grant provider.
type OAuthConfig struct {
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client
}

// OAuthProvider signs in with the OAuth2 resource-owner password grant and
// refreshes with the refresh-token grant. Calls to the authorization server
// go through a circuit breaker so a dead server fails fast.
type OAuthProvider struct {
	cfg        oauth2.Config
	revokeURL  string
	httpClient *http.Client
	store      RefreshTokenStore
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
	events     listeners

	mu      sync.Mutex
	current *oauth2.Token
}

func NewOAuthProvider(cfg OAuthConfig, store RefreshTokenStore, logger *zap.Logger) *OAuthProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &OAuthProvider{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		revokeURL:  cfg.RevokeURL,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "identity-provider",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Rejections by the server are answers, not outages.
			IsSuccessful: func(err error) bool {
				var re *oauth2.RetrieveError
				return err == nil || (errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500)
			},
		}),
	}
}

func (p *OAuthProvider) OnAuthStateChange(fn func(AuthEvent)) func() {
	return p.events.add(fn)
}

// GetSession returns the live session. An expired or missing in-memory
// session is restored from the refresh token when one is available; with no
// refresh token there is no session.
func (p *OAuthProvider) GetSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	tok := p.current
	p.mu.Unlock()

	if tok != nil && tok.Valid() {
		return sessionFromToken(tok)
	}
	sess, err := p.RefreshSession(ctx)
	if errors.Is(err, xerrors.ErrNoSession) {
		return nil, nil
	}
	return sess, err
}

func (p *OAuthProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.cfg.PasswordCredentialsToken(p.clientCtx(ctx), email, password)
	})
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && isCredentialRejection(re) {
			return nil, fmt.Errorf("sign in: %w", xerrors.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	tok := res.(*oauth2.Token)
	sess, err := sessionFromToken(tok)
	if err != nil {
		return nil, err
	}
	p.adopt(ctx, tok)
	p.events.emit(AuthEvent{Type: EventSignedIn, Session: sess})
	return sess, nil
}

func (p *OAuthProvider) RefreshSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	refresh := ""
	if p.current != nil {
		refresh = p.current.RefreshToken
	}
	p.mu.Unlock()
	if refresh == "" && p.store != nil {
		refresh = p.store.GetRefreshToken(ctx)
	}
	if refresh == "" {
		return nil, xerrors.ErrNoSession
	}

	res, err := p.breaker.Execute(func() (interface{}, error) {
		stale := &oauth2.Token{RefreshToken: refresh, Expiry: time.Unix(1, 0)}
		return p.cfg.TokenSource(p.clientCtx(ctx), stale).Token()
	})
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && isCredentialRejection(re) {
			return nil, fmt.Errorf("refresh session: %w", xerrors.ErrSessionExpired)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	tok := res.(*oauth2.Token)
	sess, err := sessionFromToken(tok)
	if err != nil {
		return nil, err
	}
	p.adopt(ctx, tok)
	p.events.emit(AuthEvent{Type: EventTokenRefreshed, Session: sess})
	return sess, nil
}

// SignOut revokes the refresh token when a revocation endpoint is
// configured. Local state is dropped even when revocation fails.
func (p *OAuthProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	refresh := ""
	if p.current != nil {
		refresh = p.current.RefreshToken
	}
	p.current = nil
	p.mu.Unlock()
	if refresh == "" && p.store != nil {
		refresh = p.store.GetRefreshToken(ctx)
	}

	var revokeErr error
	if p.revokeURL != "" && refresh != "" {
		_, revokeErr = p.breaker.Execute(func() (interface{}, error) {
			return nil, p.revoke(ctx, refresh)
		})
	}
	if p.store != nil {
		if err := p.store.DeleteRefreshToken(ctx); err != nil {
			p.logger.Warn("failed to delete refresh token", zap.Error(err))
		}
	}
	p.events.emit(AuthEvent{Type: EventSignedOut})
	if revokeErr != nil {
		return fmt.Errorf("sign out: %w", revokeErr)
	}
	return nil
}

func (p *OAuthProvider) adopt(ctx context.Context, tok *oauth2.Token) {
	p.mu.Lock()
	p.current = tok
	p.mu.Unlock()
	if p.store != nil && tok.RefreshToken != "" {
		if err := p.store.SaveRefreshToken(ctx, tok.RefreshToken); err != nil {
			p.logger.Warn("failed to persist refresh token", zap.Error(err))
		}
	}
}

func (p *OAuthProvider) revoke(ctx context.Context, refresh string) error {
	form := url.Values{
		"token":           {refresh},
		"token_type_hint": {"refresh_token"},
		"client_id":       {p.cfg.ClientID},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *OAuthProvider) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func isCredentialRejection(re *oauth2.RetrieveError) bool {
	if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" {
		return true
	}
	return re.Response != nil &&
		(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized)
}

func sessionFromToken(tok *oauth2.Token) (*Session, error) {
	claims, err := jwt.Decode(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("provider returned unreadable access token: %w", err)
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	var expiresIn time.Duration
	if !expiresAt.IsZero() {
		expiresIn = time.Until(expiresAt)
	}
	return &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		ExpiresAt:    expiresAt,
		User:         &User{ID: claims.UserID(), Email: claims.Email},
	}, nil
}
