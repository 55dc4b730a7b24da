// Command leadctl is the terminal client for leadflow.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"leadflow/api/internal/backend"
	"leadflow/api/internal/config"
	"leadflow/api/internal/hooks"
	"leadflow/api/internal/logging"
	"leadflow/api/internal/orgcontext"
	"leadflow/api/internal/prefs"
	"leadflow/api/internal/querycache"
	"leadflow/api/internal/session"
)

const usage = `usage: leadctl <command> [flags]

commands:
  login           sign in, sign up (-signup) or request a password reset (-reset)
  logout          forget the session and the active organization
  orgs            list organizations, or create one with -create
  use-org ID      switch the active organization
  rules           list assignment rules, or add one with -add
  leads           list leads, or add one with -add
  search QUERY    semantic search over the organization's leads
  followup        draft follow-up messages for a lead
  summary         summarize a conversation
  health          report lead search configuration
  dismiss-banner  hide a banner, or list dismissed ones with -list
`

func main() {
	cfg := config.LoadCLI()
	path := cfg.PrefsPath
	if path == "" {
		path = prefs.DefaultPath()
	}
	store, err := prefs.OpenSQLite(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open local state: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewCLI(cfg.Debug)
	c := newCLI(cfg, store, logger, os.Stdout, os.Stderr)
	code := c.run(context.Background(), os.Args[1:])
	_ = store.Close()
	_ = logger.Sync()
	os.Exit(code)
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	api     *backend.Client
	prefs   prefs.Store
	session *session.Provider
	orgs    *orgcontext.Context
	hooks   *hooks.Client
}

func newCLI(cfg config.CLI, store prefs.Store, logger *zap.Logger, stdout, stderr io.Writer) *cli {
	c := &cli{stdout: stdout, stderr: stderr, logger: logger, prefs: store}
	c.api = backend.New(cfg.APIURL, backend.Options{AnonKey: cfg.AnonKey})
	c.session = session.NewProvider(c.api, store)
	cache := querycache.New(querycache.NewMemoryStore(0), querycache.Options{StaleTime: time.Minute, Logger: logger})
	c.hooks = hooks.New(c.api, cache, hooks.Options{
		Scope: func() hooks.Scope {
			return hooks.Scope{UserID: c.session.UserID(), OrganizationID: c.orgs.CurrentOrganizationID()}
		},
		Notify: c.notify,
		Logger: logger,
	})
	c.orgs = orgcontext.New(store, c.hooks, logger)
	return c
}

func (c *cli) notify(n hooks.Notification) {
	if n.Level == hooks.LevelError {
		fmt.Fprintf(c.stderr, "✗ %s\n", n.Message)
		return
	}
	fmt.Fprintf(c.stdout, "✓ %s\n", n.Message)
}

type command func(ctx context.Context, args []string) error

func (c *cli) commands() map[string]command {
	return map[string]command{
		"login":          c.login,
		"logout":         c.logout,
		"orgs":           c.orgsCmd,
		"use-org":        c.useOrg,
		"rules":          c.rules,
		"leads":          c.leads,
		"search":         c.search,
		"followup":       c.followup,
		"summary":        c.summary,
		"health":         c.health,
		"dismiss-banner": c.dismissBanner,
	}
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(c.stderr, usage)
		return 2
	}
	cmd, ok := c.commands()[args[0]]
	if !ok {
		fmt.Fprintf(c.stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if _, err := c.session.Restore(ctx); err != nil {
		c.logger.Warn("restore session failed", zap.Error(err))
	}
	if err := prefs.Save(ctx, c.prefs, prefs.NamespaceNavigation, "last_command", args[0]); err != nil {
		c.logger.Debug("record last command failed", zap.Error(err))
	}

	if err := cmd(ctx, args[1:]); err != nil {
		c.report(err)
		return 1
	}
	return 0
}

func (c *cli) report(err error) {
	switch {
	case errors.Is(err, errUsage):
		return
	case errors.Is(err, hooks.ErrUnauthenticated):
		fmt.Fprintln(c.stderr, "error: sign in with `leadctl login` and pick an organization with `leadctl use-org`")
	case backend.StatusOf(err) == 401:
		fmt.Fprintf(c.stderr, "error: %v\nyour session may have expired, run `leadctl login`\n", err)
	default:
		fmt.Fprintf(c.stderr, "error: %v\n", err)
	}
}

// loadOrgs resolves the active organization for signed-in users.
func (c *cli) loadOrgs(ctx context.Context) {
	if c.session.UserID() == "" {
		return
	}
	if err := c.orgs.Load(ctx); err != nil {
		c.logger.Warn("load organizations failed", zap.Error(err))
	}
}
