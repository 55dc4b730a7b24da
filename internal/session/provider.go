// Package session keeps the signed-in user for the CLI. The session is
// persisted in prefs so it survives between invocations.
package session

import (
	"context"
	"sync"
	"time"

	"leadflow/api/internal/backend"
	"leadflow/api/internal/prefs"
)

const prefsKey = "current"

type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (backend.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (backend.Session, error)
	RequestPasswordReset(ctx context.Context, email string) (backend.ResetRequested, error)
	SetAccessToken(token string)
}

type Provider struct {
	auth  Authenticator
	store prefs.Store
	now   func() time.Time

	mu      sync.RWMutex
	current *backend.Session
}

func NewProvider(auth Authenticator, store prefs.Store) *Provider {
	return &Provider{auth: auth, store: store, now: time.Now}
}

// Restore loads the persisted session. An expired session is discarded
// and reported as not signed in.
func (p *Provider) Restore(ctx context.Context) (bool, error) {
	stored, ok, err := prefs.Load[backend.Session](ctx, p.store, prefs.NamespaceSession, prefsKey)
	if err != nil || !ok {
		return false, err
	}
	if stored.Expired(p.now()) {
		return false, p.clear(ctx)
	}
	p.set(&stored)
	return true, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (backend.Session, error) {
	s, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return backend.Session{}, err
	}
	return s, p.persist(ctx, s)
}

func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (backend.Session, error) {
	s, err := p.auth.SignUp(ctx, email, password, displayName)
	if err != nil {
		return backend.Session{}, err
	}
	return s, p.persist(ctx, s)
}

func (p *Provider) RequestPasswordReset(ctx context.Context, email string) (backend.ResetRequested, error) {
	return p.auth.RequestPasswordReset(ctx, email)
}

func (p *Provider) SignOut(ctx context.Context) error {
	return p.clear(ctx)
}

func (p *Provider) Current() (backend.Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return backend.Session{}, false
	}
	return *p.current, true
}

// UserID is empty when nobody is signed in.
func (p *Provider) UserID() string {
	s, ok := p.Current()
	if !ok {
		return ""
	}
	return s.User.ID
}

func (p *Provider) persist(ctx context.Context, s backend.Session) error {
	p.set(&s)
	return prefs.Save(ctx, p.store, prefs.NamespaceSession, prefsKey, s)
}

func (p *Provider) clear(ctx context.Context) error {
	p.set(nil)
	return p.store.Delete(ctx, prefs.NamespaceSession, prefsKey)
}

func (p *Provider) set(s *backend.Session) {
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
	token := ""
	if s != nil {
		token = s.AccessToken
	}
	p.auth.SetAccessToken(token)
}
