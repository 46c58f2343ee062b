// Package identity supplies the signed-in principal and its short-lived ID tokens.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrNoPrincipal is returned when nobody is signed in.
var ErrNoPrincipal = errors.New("identity: no signed-in principal")

// Provider knows the currently authenticated principal.
type Provider interface {
	CurrentPrincipal(ctx context.Context) (Principal, error)
}

// Principal is an authenticated user able to mint bearer tokens.
// Token may block on a refresh round-trip.
type Principal interface {
	UID() string
	Token(ctx context.Context) (string, error)
}

// StaticProvider serves a single pre-issued ID token. An empty token means nobody is signed in.
type StaticProvider struct {
	uid   string
	token string
}

// NewStaticProvider returns a provider for a token obtained out of band.
func NewStaticProvider(uid, token string) *StaticProvider {
	return &StaticProvider{uid: uid, token: strings.TrimSpace(token)}
}

// CurrentPrincipal implements Provider.
func (p *StaticProvider) CurrentPrincipal(context.Context) (Principal, error) {
	if p == nil || p.token == "" {
		return nil, ErrNoPrincipal
	}
	return staticPrincipal{uid: p.uid, token: p.token}, nil
}

type staticPrincipal struct {
	uid   string
	token string
}

func (s staticPrincipal) UID() string { return s.uid }

func (s staticPrincipal) Token(context.Context) (string, error) {
	return s.token, nil
}
