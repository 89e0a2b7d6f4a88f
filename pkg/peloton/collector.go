package peloton

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Collector retrieves every qualifying RemoteItem for a board, fully
// paginated. Each run starts from page one; there is no persisted cursor
// across process runs.
type Collector struct {
	client APIClient
	cfg    *BoardConfig

	// now is replaceable for tests.
	now func() time.Time
}

// NewCollector creates a collector for one board.
func NewCollector(client APIClient, cfg *BoardConfig) *Collector {
	return &Collector{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Query builds the GitHub search query for this board. A nil since
// collects everything open plus anything closed after the threshold;
// a non-nil since restricts the search to items updated at or after it
// (used by incremental loop cycles).
func (c *Collector) Query(since *time.Time) string {
	var parts []string
	for _, repo := range c.cfg.Repositories {
		parts = append(parts, "repo:"+repo)
	}
	if c.cfg.SearchConditions != "" {
		parts = append(parts, c.cfg.SearchConditions)
	}

	// The negated qualifier keeps everything that is NOT closed plus
	// everything closed after the threshold.
	threshold := c.now().AddDate(0, 0, -c.cfg.ClosedThresholdDays)
	parts = append(parts, fmt.Sprintf("-closed:<%s", threshold.UTC().Format("2006-01-02")))

	if since != nil {
		parts = append(parts, fmt.Sprintf("updated:>=%s", since.UTC().Format("2006-01-02T15:04:05Z")))
	}

	return strings.Join(parts, " ")
}

// Collect retrieves all issues, pull requests, and discussions matching
// the board's query. Any page failure aborts the whole collection; the
// caller may retry the run with a smaller page size, but no partial
// results are ever used.
func (c *Collector) Collect(ctx context.Context, since *time.Time) ([]RemoteItem, error) {
	query := c.Query(since)

	var items []RemoteItem
	for _, kind := range []ItemKind{KindIssue, KindDiscussion} {
		kindItems, err := c.collectKind(ctx, query, kind)
		if err != nil {
			return nil, err
		}
		items = append(items, kindItems...)
	}
	return items, nil
}

func (c *Collector) collectKind(ctx context.Context, query string, kind ItemKind) ([]RemoteItem, error) {
	var items []RemoteItem
	cursor := ""

	for {
		page, err := c.client.SearchItems(ctx, query, kind, c.cfg.PageSize, cursor)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if !page.HasNextPage {
			return items, nil
		}
		cursor = page.EndCursor
	}
}

// CollectProjectItems reads the board's full current item set.
func (c *Collector) CollectProjectItems(ctx context.Context) ([]ProjectItem, error) {
	var items []ProjectItem
	cursor := ""

	for {
		page, err := c.client.ListProjectItems(ctx, c.cfg.ProjectID, c.cfg.PageSize, cursor)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if !page.HasNextPage {
			return items, nil
		}
		cursor = page.EndCursor
	}
}

// CollectProjectFields reads the board's full field catalog, keyed by
// field name.
func (c *Collector) CollectProjectFields(ctx context.Context) (map[string]ProjectField, error) {
	fields := make(map[string]ProjectField)
	cursor := ""

	for {
		page, err := c.client.ListProjectFields(ctx, c.cfg.ProjectID, c.cfg.PageSize, cursor)
		if err != nil {
			return nil, err
		}
		for _, field := range page.Fields {
			fields[field.Name] = field
		}
		if !page.HasNextPage {
			return fields, nil
		}
		cursor = page.EndCursor
	}
}

// CollectTeamMembers returns the board team's member logins plus any
// configured extras.
func (c *Collector) CollectTeamMembers(ctx context.Context) ([]string, error) {
	members, err := c.client.ListTeamMembers(ctx, c.cfg.Team.Organization, c.cfg.Team.Slug)
	if err != nil {
		return nil, err
	}
	return append(members, c.cfg.Team.ExtraMembers...), nil
}
