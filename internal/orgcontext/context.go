// Package orgcontext owns the active organization. The chosen id is
// persisted in prefs; when nothing is persisted the first organization the
// user belongs to is selected.
package orgcontext

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"leadflow/api/internal/prefs"
)

const prefsKey = "current"

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Lister interface {
	ListOrganizations(ctx context.Context) ([]Organization, error)
}

type Context struct {
	store  prefs.Store
	lister Lister
	logger *zap.Logger

	mu      sync.RWMutex
	current string
	orgs    []Organization
	loading bool
}

func New(store prefs.Store, lister Lister, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{store: store, lister: lister, logger: logger, loading: true, orgs: []Organization{}}
}

// Load reads the persisted id and fetches the organization list once. A
// failed fetch leaves an empty list and is not retried.
func (c *Context) Load(ctx context.Context) error {
	persisted, _, err := prefs.Load[string](ctx, c.store, prefs.NamespaceOrg, prefsKey)
	if err != nil {
		c.logger.Warn("read persisted organization failed", zap.Error(err))
	}

	orgs, fetchErr := c.lister.ListOrganizations(ctx)
	if fetchErr != nil {
		c.logger.Warn("list organizations failed", zap.Error(fetchErr))
		orgs = []Organization{}
	}

	c.mu.Lock()
	c.current = persisted
	c.orgs = orgs
	c.loading = false
	autoSelect := persisted == "" && len(orgs) > 0
	c.mu.Unlock()

	if autoSelect {
		if err := c.SetCurrentOrganizationID(ctx, orgs[0].ID); err != nil {
			return err
		}
	}
	return fetchErr
}

func (c *Context) CurrentOrganizationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// SetCurrentOrganizationID activates id and persists it. An empty id
// clears the persisted value.
func (c *Context) SetCurrentOrganizationID(ctx context.Context, id string) error {
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
	if id == "" {
		return c.store.Delete(ctx, prefs.NamespaceOrg, prefsKey)
	}
	return prefs.Save(ctx, c.store, prefs.NamespaceOrg, prefsKey, id)
}

func (c *Context) Organizations() []Organization {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Organization(nil), c.orgs...)
}

func (c *Context) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Current returns the active organization when it is in the loaded list.
func (c *Context) Current() (Organization, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, org := range c.orgs {
		if org.ID == c.current {
			return org, true
		}
	}
	return Organization{}, false
}
