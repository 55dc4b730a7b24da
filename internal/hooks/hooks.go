// Package hooks is the client data layer: cached reads of organization
// resources, mutations that invalidate them, and typed wrappers around
// the AI functions.
package hooks

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"leadflow/api/internal/orgcontext"
	"leadflow/api/internal/querycache"
)

// ErrUnauthenticated is returned, without a network call, when there is
// no signed-in user or no active organization.
var ErrUnauthenticated = errors.New("not signed in or no active organization")

type Scope struct {
	UserID         string
	OrganizationID string
}

func (s Scope) complete() bool {
	return strings.TrimSpace(s.UserID) != "" && strings.TrimSpace(s.OrganizationID) != ""
}

// Backend is the subset of backend.Client the hooks call.
type Backend interface {
	Select(ctx context.Context, table string, query url.Values, out any) error
	Insert(ctx context.Context, table string, row, out any) error
	Update(ctx context.Context, table, id string, patch, out any) error
	Delete(ctx context.Context, table, id string) error
	Invoke(ctx context.Context, fn string, req, resp any) error
}

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level
	Message string
}

type Options struct {
	// Scope reports the current user and organization on every call.
	Scope  func() Scope
	Notify func(Notification)
	Logger *zap.Logger
}

type Client struct {
	backend Backend
	cache   *querycache.Client
	scope   func() Scope
	notify  func(Notification)
	logger  *zap.Logger
}

func New(backend Backend, cache *querycache.Client, opts Options) *Client {
	if opts.Scope == nil {
		opts.Scope = func() Scope { return Scope{} }
	}
	if opts.Notify == nil {
		opts.Notify = func(Notification) {}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{backend: backend, cache: cache, scope: opts.Scope, notify: opts.Notify, logger: opts.Logger}
}

func (c *Client) requireScope() (Scope, error) {
	scope := c.scope()
	if !scope.complete() {
		return Scope{}, ErrUnauthenticated
	}
	return scope, nil
}

// mutate runs fn and, on success, invalidates every cached entry of
// resource. The outcome is reported through Notify.
func mutate[T any](ctx context.Context, c *Client, resource, success string, fn func(ctx context.Context) (T, error)) (T, error) {
	value, err := querycache.Mutate(ctx, c.cache, resource, fn)
	if err != nil {
		c.logger.Debug("mutation failed", zap.String("resource", resource), zap.Error(err))
		c.notify(Notification{Level: LevelError, Message: err.Error()})
		return value, err
	}
	c.notify(Notification{Level: LevelSuccess, Message: success})
	return value, nil
}

// ListOrganizations needs only a signed-in user.
func (c *Client) ListOrganizations(ctx context.Context) ([]orgcontext.Organization, error) {
	userID := c.scope().UserID
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	return querycache.Fetch(ctx, c.cache, querycache.NewKey("organizations", userID), func(ctx context.Context) ([]orgcontext.Organization, error) {
		var orgs []orgcontext.Organization
		if err := c.backend.Select(ctx, "organizations", nil, &orgs); err != nil {
			return nil, err
		}
		if orgs == nil {
			orgs = []orgcontext.Organization{}
		}
		return orgs, nil
	})
}

func (c *Client) CreateOrganization(ctx context.Context, name string) (orgcontext.Organization, error) {
	if strings.TrimSpace(c.scope().UserID) == "" {
		return orgcontext.Organization{}, ErrUnauthenticated
	}
	return mutate(ctx, c, "organizations", "Organization created", func(ctx context.Context) (orgcontext.Organization, error) {
		var org orgcontext.Organization
		err := c.backend.Insert(ctx, "organizations", map[string]string{"name": name}, &org)
		return org, err
	})
}
