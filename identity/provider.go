package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionProvider resolves the active session from a store and mints ID tokens for it.
type SessionProvider struct {
	store  SessionStore
	tokens *TokenSource
}

// NewSessionProvider wires a session store to a token source.
func NewSessionProvider(store SessionStore, tokens *TokenSource) *SessionProvider {
	return &SessionProvider{store: store, tokens: tokens}
}

// CurrentPrincipal implements Provider.
func (p *SessionProvider) CurrentPrincipal(ctx context.Context) (Principal, error) {
	session, err := p.store.Active(ctx)
	if err != nil {
		if errors.Is(err, ErrNoPrincipal) {
			return nil, ErrNoPrincipal
		}
		return nil, fmt.Errorf("current principal: %w", err)
	}
	return &sessionPrincipal{session: session, provider: p}, nil
}

// SignIn stores a session and makes it active.
func (p *SessionProvider) SignIn(ctx context.Context, session Session) error {
	return p.store.Save(ctx, session)
}

// SignOut removes the active session and its cached token.
func (p *SessionProvider) SignOut(ctx context.Context) (Session, error) {
	session, err := p.store.Active(ctx)
	if err != nil {
		return Session{}, err
	}
	p.tokens.Forget(session.UID)
	if err := p.store.Delete(ctx, session.UID); err != nil {
		return Session{}, err
	}
	return session, nil
}

type sessionPrincipal struct {
	session  Session
	provider *SessionProvider
}

func (s *sessionPrincipal) UID() string { return s.session.UID }

func (s *sessionPrincipal) Token(ctx context.Context) (string, error) {
	return s.provider.tokens.IDToken(ctx, s.session.UID, s.session.RefreshToken, func(rotated string) error {
		s.session.RefreshToken = rotated
		s.session.UpdatedAt = time.Now()
		return s.provider.store.Save(ctx, s.session)
	})
}
