package peloton

import "context"

// ItemPage is one page of search results plus the cursor needed to fetch
// the next one.
type ItemPage struct {
	Items       []RemoteItem
	HasNextPage bool
	EndCursor   string
}

// ProjectItemPage is one page of board items.
type ProjectItemPage struct {
	Items       []ProjectItem
	HasNextPage bool
	EndCursor   string
}

// ProjectFieldPage is one page of the board's field catalog.
type ProjectFieldPage struct {
	Fields      []ProjectField
	HasNextPage bool
	EndCursor   string
}

// APIClient is the GitHub boundary: cursor-paginated queries plus the
// board mutations. Cursor arguments are opaque; pass the empty string for
// the first page.
type APIClient interface {
	// SearchItems runs one page of a GitHub search for the given kind
	// (issues and pull requests share the ISSUE search type; discussions
	// have their own).
	SearchItems(ctx context.Context, query string, kind ItemKind, pageSize int, cursor string) (*ItemPage, error)

	// ListProjectItems reads one page of the board's current items.
	ListProjectItems(ctx context.Context, projectID string, pageSize int, cursor string) (*ProjectItemPage, error)

	// ListProjectFields reads one page of the board's field catalog.
	ListProjectFields(ctx context.Context, projectID string, pageSize int, cursor string) (*ProjectFieldPage, error)

	// ListTeamMembers returns the logins of a team's members.
	ListTeamMembers(ctx context.Context, org, slug string) ([]string, error)

	// AddItem links an issue or pull request to the board and returns the
	// new board item ID. Re-adding an already-present item returns the
	// existing ID; GitHub keeps the operation idempotent.
	AddItem(ctx context.Context, projectID, contentID string) (string, error)

	// AddDraftItem adds a draft item for content that cannot be linked
	// natively (discussions) and returns the new board item ID.
	AddDraftItem(ctx context.Context, projectID, title, body string) (string, error)

	// UpdateFieldValue sets one field of one board item.
	UpdateFieldValue(ctx context.Context, projectID, itemID string, field ProjectField, value FieldValue) error

	// ClearFieldValue empties one field of one board item.
	ClearFieldValue(ctx context.Context, projectID, itemID string, field ProjectField) error

	// DeleteItem removes an item from the board. Only the explicit prune
	// operation uses this; sync never deletes.
	DeleteItem(ctx context.Context, projectID, itemID string) error
}

// Reconciler plans and applies the minimal set of board mutations that
// bring the board in line with the desired item set. Sync is additive:
// stale board items are only removed through the explicit prune
// operations.
type Reconciler interface {
	Plan(ctx context.Context, desired []DesiredItem) (*SyncPlan, error)
	Apply(ctx context.Context, plan *SyncPlan) error
	PlanPrune(ctx context.Context, desired []DesiredItem) ([]ProjectItem, error)
	ApplyPrune(ctx context.Context, stale []ProjectItem) error
}
