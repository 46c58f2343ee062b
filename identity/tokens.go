package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxTokenLifetime bounds how long any cached ID token is kept.
const maxTokenLifetime = time.Hour

// RefreshObserver is notified of every refresh round-trip.
type RefreshObserver interface {
	IncTokenRefresh()
}

// TokenSourceOptions configures NewTokenSource.
type TokenSourceOptions struct {
	Endpoint   string
	APIKey     string
	Skew       time.Duration
	CacheSize  int
	HTTPClient *http.Client
	Observer   RefreshObserver
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// TokenSource exchanges refresh tokens for ID tokens at a Secure Token endpoint
// and caches the results per UID until shortly before they expire.
type TokenSource struct {
	client   *resty.Client
	endpoint string
	apiKey   string
	skew     time.Duration
	observer RefreshObserver
	now      func() time.Time

	cache *expirable.LRU[string, cachedToken]
	mu    sync.Mutex // serialises refreshes
}

type cachedToken struct {
	idToken   string
	expiresAt time.Time
}

// Refreshed is the outcome of one exchange.
type Refreshed struct {
	IDToken      string
	RefreshToken string
	UID          string
	ExpiresAt    time.Time
}

type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type secureTokenError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewTokenSource builds a TokenSource.
func NewTokenSource(opts TokenSourceOptions) *TokenSource {
	size := opts.CacheSize
	if size <= 0 {
		size = 8
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		client = resty.New()
	}
	client.SetRetryCount(0)

	return &TokenSource{
		client:   client,
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		skew:     opts.Skew,
		observer: opts.Observer,
		now:      now,
		cache:    expirable.NewLRU[string, cachedToken](size, nil, maxTokenLifetime),
	}
}

// IDToken returns a valid ID token for uid, refreshing when the cached one is
// missing or within skew of expiry. onRotate is called when the endpoint issues
// a new refresh token.
func (ts *TokenSource) IDToken(ctx context.Context, uid, refreshToken string, onRotate func(string) error) (string, error) {
	if token, ok := ts.cached(uid); ok {
		return token, nil
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if token, ok := ts.cached(uid); ok {
		return token, nil
	}

	refreshed, err := ts.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if refreshed.UID != "" && uid != "" && refreshed.UID != uid {
		return "", fmt.Errorf("refresh returned token for %q, want %q", refreshed.UID, uid)
	}

	if refreshed.RefreshToken != "" && refreshed.RefreshToken != refreshToken && onRotate != nil {
		if err := onRotate(refreshed.RefreshToken); err != nil {
			slog.Warn("persist rotated refresh token", slog.String("uid", uid), slog.Any("error", err))
		}
	}

	ts.cache.Add(uid, cachedToken{idToken: refreshed.IDToken, expiresAt: refreshed.ExpiresAt})
	return refreshed.IDToken, nil
}

// Forget drops any cached token for uid.
func (ts *TokenSource) Forget(uid string) {
	ts.cache.Remove(uid)
}

func (ts *TokenSource) cached(uid string) (string, bool) {
	entry, ok := ts.cache.Get(uid)
	if !ok {
		return "", false
	}
	if !ts.now().Add(ts.skew).Before(entry.expiresAt) {
		ts.cache.Remove(uid)
		return "", false
	}
	return entry.idToken, true
}

// Refresh performs one refresh_token grant without touching the cache.
func (ts *TokenSource) Refresh(ctx context.Context, refreshToken string) (Refreshed, error) {
	if refreshToken == "" {
		return Refreshed{}, fmt.Errorf("refresh token is empty")
	}
	if ts.observer != nil {
		ts.observer.IncTokenRefresh()
	}

	var (
		out     secureTokenResponse
		failure secureTokenError
	)
	req := ts.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		}).
		SetResult(&out).
		SetError(&failure)
	if ts.apiKey != "" {
		req.SetQueryParam("key", ts.apiKey)
	}

	resp, err := req.Post(ts.endpoint)
	if err != nil {
		return Refreshed{}, fmt.Errorf("refresh id token: %w", err)
	}
	if resp.IsError() {
		msg := failure.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		return Refreshed{}, fmt.Errorf("refresh id token: status %d: %s", resp.StatusCode(), msg)
	}
	if out.IDToken == "" {
		return Refreshed{}, fmt.Errorf("refresh id token: response carried no id_token")
	}

	return Refreshed{
		IDToken:      out.IDToken,
		RefreshToken: out.RefreshToken,
		UID:          out.UserID,
		ExpiresAt:    ts.expiry(out.IDToken, out.ExpiresIn),
	}, nil
}

// expiry prefers the token's own exp claim and falls back to expires_in.
func (ts *TokenSource) expiry(idToken, expiresIn string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(expiresIn)); err == nil && secs > 0 {
		return ts.now().Add(time.Duration(secs) * time.Second)
	}
	return ts.now().Add(maxTokenLifetime)
}
