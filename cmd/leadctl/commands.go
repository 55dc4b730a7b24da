package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"leadflow/api/internal/hooks"
	"leadflow/api/internal/prefs"
)

var errUsage = errors.New("usage")

const maxRecentSearches = 10

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

func (c *cli) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := c.flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	signup := fs.Bool("signup", false, "create the account first")
	name := fs.String("name", "", "display name for -signup")
	reset := fs.Bool("reset", false, "request a password reset link")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("-email is required")
	}

	if *reset {
		out, err := c.session.RequestPasswordReset(ctx, *email)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, out.Message)
		if out.DevResetToken != "" {
			fmt.Fprintf(c.stdout, "reset token: %s\n", out.DevResetToken)
		}
		return nil
	}

	if *password == "" {
		return errors.New("-password is required")
	}
	var err error
	if *signup {
		_, err = c.session.SignUp(ctx, *email, *password, *name)
	} else {
		_, err = c.session.SignIn(ctx, *email, *password)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Signed in as %s\n", *email)

	c.loadOrgs(ctx)
	if org, ok := c.orgs.Current(); ok {
		fmt.Fprintf(c.stdout, "Active organization: %s (%s)\n", org.Name, org.ID)
	}
	return nil
}

func (c *cli) logout(ctx context.Context, _ []string) error {
	if err := c.session.SignOut(ctx); err != nil {
		return err
	}
	if err := c.orgs.SetCurrentOrganizationID(ctx, ""); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "Signed out")
	return nil
}

func (c *cli) orgsCmd(ctx context.Context, args []string) error {
	fs := c.flags("orgs")
	create := fs.String("create", "", "create an organization with this name")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if *create != "" {
		org, err := c.hooks.CreateOrganization(ctx, *create)
		if err != nil {
			return err
		}
		return c.orgs.SetCurrentOrganizationID(ctx, org.ID)
	}

	c.loadOrgs(ctx)
	if c.session.UserID() == "" {
		return hooks.ErrUnauthenticated
	}
	current := c.orgs.CurrentOrganizationID()
	w := c.table()
	fmt.Fprintln(w, "\tID\tNAME\tROLE")
	for _, org := range c.orgs.Organizations() {
		marker := ""
		if org.ID == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, org.ID, org.Name, org.Role)
	}
	return w.Flush()
}

func (c *cli) useOrg(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "usage: leadctl use-org ID")
		return errUsage
	}
	c.loadOrgs(ctx)
	id := strings.TrimSpace(args[0])
	known := false
	for _, org := range c.orgs.Organizations() {
		if org.ID == id {
			known = true
		}
	}
	if !known {
		fmt.Fprintf(c.stderr, "warning: %s is not in your organization list\n", id)
	}
	if err := c.orgs.SetCurrentOrganizationID(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Active organization: %s\n", id)
	return nil
}

func (c *cli) rules(ctx context.Context, args []string) error {
	fs := c.flags("rules")
	add := fs.String("add", "", "name of a rule to add")
	priority := fs.Int("priority", 0, "priority of the new rule")
	strategy := fs.String("strategy", "round_robin", "assignment strategy of the new rule")
	city := fs.String("city", "", "only match leads in this city")
	assignTo := fs.String("assign-to", "", "comma-separated user ids")
	remove := fs.String("delete", "", "id of a rule to delete")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	c.loadOrgs(ctx)
	rules := c.hooks.AssignmentRules()

	switch {
	case *remove != "":
		return rules.Delete(ctx, *remove)
	case *add != "":
		rule := hooks.AssignmentRule{
			Name:       *add,
			Priority:   *priority,
			Active:     true,
			Strategy:   *strategy,
			Conditions: map[string]string{},
			AssignTo:   splitList(*assignTo),
		}
		if *city != "" {
			rule.Conditions["city"] = *city
		}
		_, err := rules.Create(ctx, rule)
		return err
	}

	rows, err := rules.List(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Data.Priority > rows[j].Data.Priority })
	w := c.table()
	fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tSTRATEGY\tACTIVE")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", r.ID, r.Data.Name, r.Data.Priority, r.Data.Strategy, r.Data.Active)
	}
	return w.Flush()
}

type leadFilter struct {
	Status string `json:"status,omitempty"`
	City   string `json:"city,omitempty"`
}

func (c *cli) leads(ctx context.Context, args []string) error {
	fs := c.flags("leads")
	limit := fs.Int("limit", 50, "maximum leads to list")
	add := fs.String("add", "", "name of a lead to add")
	business := fs.String("business", "", "business of the new lead")
	city := fs.String("city", "", "city of the new lead, or a list filter")
	phone := fs.String("phone", "", "phone of the new lead")
	email := fs.String("email", "", "email of the new lead")
	status := fs.String("status", "", "list filter, remembered until -clear-filter")
	clearFilter := fs.Bool("clear-filter", false, "forget the remembered list filter")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	c.loadOrgs(ctx)

	if *add != "" {
		_, err := c.hooks.CreateLead(ctx, hooks.NewLead{
			Name:     *add,
			Business: *business,
			City:     *city,
			Phone:    *phone,
			Email:    *email,
		})
		return err
	}

	filter, _, err := prefs.Load[leadFilter](ctx, c.prefs, prefs.NamespaceFilters, "leads")
	if err != nil {
		return err
	}
	if *clearFilter {
		filter = leadFilter{}
		if err := c.prefs.Delete(ctx, prefs.NamespaceFilters, "leads"); err != nil {
			return err
		}
	}
	if *status != "" || *city != "" {
		filter = leadFilter{Status: *status, City: *city}
		if err := prefs.Save(ctx, c.prefs, prefs.NamespaceFilters, "leads", filter); err != nil {
			return err
		}
	}

	leads, err := c.hooks.ListLeads(ctx, *limit)
	if err != nil {
		return err
	}
	w := c.table()
	fmt.Fprintln(w, "ID\tNAME\tBUSINESS\tCITY\tSTATUS\tSCORE")
	for _, l := range leads {
		if filter.Status != "" && !strings.EqualFold(l.Status, filter.Status) {
			continue
		}
		if filter.City != "" && !strings.EqualFold(l.City, filter.City) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", l.ID, l.Name, l.Business, l.City, l.Status, l.Score)
	}
	return w.Flush()
}

func (c *cli) search(ctx context.Context, args []string) error {
	fs := c.flags("search")
	limit := fs.Int("limit", 10, "maximum results")
	threshold := fs.Float64("threshold", -1, "minimum similarity between 0 and 1")
	recent := fs.Bool("recent", false, "list recent queries")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	history, _, err := prefs.Load[[]string](ctx, c.prefs, prefs.NamespaceSearchOptions, "recent")
	if err != nil {
		return err
	}
	if *recent {
		for _, q := range history {
			fmt.Fprintln(c.stdout, q)
		}
		return nil
	}

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(c.stderr, "usage: leadctl search [-limit N] [-threshold F] QUERY")
		return errUsage
	}
	c.loadOrgs(ctx)
	req := hooks.SemanticSearchRequest{Query: query, Limit: *limit}
	if *threshold >= 0 {
		req.SimilarityThreshold = threshold
	}
	result, err := c.hooks.SemanticSearch(ctx, req)
	if err != nil {
		return err
	}

	if err := prefs.Save(ctx, c.prefs, prefs.NamespaceSearchOptions, "recent", pushRecent(history, query)); err != nil {
		c.logger.Debug("save recent search failed", zap.Error(err))
	}

	if result.TotalResults == 0 {
		fmt.Fprintln(c.stdout, "No matching leads")
		return nil
	}
	w := c.table()
	fmt.Fprintln(w, "SIMILARITY\tNAME\tBUSINESS\tCITY\tSTATUS")
	for _, m := range result.Results {
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t%s\n", m.Similarity, m.Name, m.Business, m.City, m.Status)
	}
	return w.Flush()
}

// pushRecent puts query first and drops older duplicates.
func pushRecent(history []string, query string) []string {
	out := []string{query}
	for _, q := range history {
		if q != query && len(out) < maxRecentSearches {
			out = append(out, q)
		}
	}
	return out
}

func (c *cli) followup(ctx context.Context, args []string) error {
	fs := c.flags("followup")
	leadID := fs.String("lead", "", "id of a stored lead")
	name := fs.String("name", "", "lead name")
	business := fs.String("business", "", "lead business")
	city := fs.String("city", "", "lead city")
	persona := fs.String("persona", "", "persona id to write as")
	channel := fs.String("channel", "", "whatsapp or email")
	tone := fs.String("tone", "", "message tone")
	count := fs.Int("count", 0, "number of variations")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	c.loadOrgs(ctx)
	result, err := c.hooks.Followup(ctx, hooks.FollowupRequest{
		LeadID:    *leadID,
		Lead:      hooks.FollowupLead{Name: *name, Business: *business, City: *city},
		PersonaID: *persona,
		Channel:   *channel,
		Tone:      *tone,
		Count:     *count,
	})
	if err != nil {
		return err
	}
	for i, v := range result.Variations {
		fmt.Fprintf(c.stdout, "%d. [%s, %.0f%%] %s\n", i+1, v.Tone, v.Confidence*100, v.Message)
	}
	return nil
}

func (c *cli) summary(ctx context.Context, args []string) error {
	fs := c.flags("summary")
	file := fs.String("file", "", "JSON file holding [{from, text, at}] messages")
	leadID := fs.String("lead", "", "id of the lead the conversation is with")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	var messages []hooks.ChatMessage
	if *file != "" {
		raw, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &messages); err != nil {
			return fmt.Errorf("parse %s: %w", *file, err)
		}
	}
	// Remaining arguments are "from: text" lines.
	for _, line := range fs.Args() {
		from, text, ok := strings.Cut(line, ":")
		if !ok {
			from, text = "lead", line
		}
		messages = append(messages, hooks.ChatMessage{From: strings.TrimSpace(from), Text: strings.TrimSpace(text)})
	}
	if len(messages) == 0 {
		fmt.Fprintln(c.stderr, "usage: leadctl summary [-file messages.json] [\"from: text\" ...]")
		return errUsage
	}

	c.loadOrgs(ctx)
	out, err := c.hooks.ConversationSummary(ctx, hooks.SummaryRequest{LeadID: *leadID, Messages: messages})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s\n\nsentiment: %s\nstage: %s\n", out.Summary, out.Sentiment, out.Stage)
	for _, p := range out.KeyPoints {
		fmt.Fprintf(c.stdout, "  - %s\n", p)
	}
	if out.NextAction != "" {
		fmt.Fprintf(c.stdout, "next: %s\n", out.NextAction)
	}
	return nil
}

func (c *cli) health(ctx context.Context, args []string) error {
	fs := c.flags("health")
	probe := fs.Bool("probe", true, "call the workflow webhook")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	report, err := c.hooks.SearchHealth(ctx, *probe)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "status: %s\n", report.OverallStatus)
	w := c.table()
	for _, v := range report.Variables {
		state := "set"
		if !v.Present {
			state = "missing"
		}
		fmt.Fprintf(w, "  %s\t%s\n", v.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if p := report.WebhookProbe; p.Attempted {
		if p.OK {
			fmt.Fprintf(c.stdout, "webhook: ok (%d)\n", p.Status)
		} else {
			fmt.Fprintf(c.stdout, "webhook: failed %s\n", p.Error)
		}
	}
	return nil
}

func (c *cli) dismissBanner(ctx context.Context, args []string) error {
	fs := c.flags("dismiss-banner")
	list := fs.Bool("list", false, "list dismissed banners")
	reset := fs.Bool("reset", false, "show every banner again")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	dismissed, _, err := prefs.Load[map[string]bool](ctx, c.prefs, prefs.NamespaceBanners, "dismissed")
	if err != nil {
		return err
	}
	switch {
	case *reset:
		return c.prefs.Delete(ctx, prefs.NamespaceBanners, "dismissed")
	case *list:
		names := make([]string, 0, len(dismissed))
		for name := range dismissed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(c.stdout, name)
		}
		return nil
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.stderr, "usage: leadctl dismiss-banner NAME")
		return errUsage
	}
	if dismissed == nil {
		dismissed = map[string]bool{}
	}
	dismissed[fs.Arg(0)] = true
	return prefs.Save(ctx, c.prefs, prefs.NamespaceBanners, "dismissed", dismissed)
}

func splitList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
