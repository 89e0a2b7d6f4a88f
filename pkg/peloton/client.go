package peloton

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// Client implements APIClient against the GitHub GraphQL API, with the
// REST API for the pieces GraphQL makes awkward (team membership).
type Client struct {
	gql  *githubv4.Client
	rest *github.Client
	cfg  *BoardConfig
}

// NewClient creates an authenticated client for one board.
func NewClient(token string, cfg *BoardConfig) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	return &Client{
		gql:  githubv4.NewClient(tc),
		rest: github.NewClient(tc),
		cfg:  cfg,
	}
}

// actorFragment resolves an author login and whether GitHub types the
// account as a Bot. Matching on the Bot type (rather than the login text)
// fails loudly if GitHub changes its schema.
type actorFragment struct {
	Login githubv4.String
	Bot   struct {
		ID githubv4.String
	} `graphql:"... on Bot"`
}

func (a actorFragment) actor() Actor {
	return Actor{Login: string(a.Login), IsBot: a.Bot.ID != ""}
}

type commentFragment struct {
	ID        githubv4.String
	Author    actorFragment
	CreatedAt githubv4.DateTime
}

func (c commentFragment) comment() *Comment {
	return &Comment{
		ID:        string(c.ID),
		Author:    c.Author.actor(),
		CreatedAt: c.CreatedAt.Time,
	}
}

// issueFragment is the subset of Issue/PullRequest fields the board
// consumes.
type issueFragment struct {
	ID         githubv4.String
	URL        githubv4.URI
	Number     githubv4.Int
	Title      githubv4.String
	CreatedAt  githubv4.DateTime
	UpdatedAt  githubv4.DateTime
	ClosedAt   *githubv4.DateTime
	Author     actorFragment
	Repository struct {
		NameWithOwner githubv4.String
	}
	Labels struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"labels(first: 100)"`
	Assignees struct {
		Nodes []struct {
			Login githubv4.String
		}
	} `graphql:"assignees(first: 20)"`
	Milestone *struct {
		Title githubv4.String
	}
	Comments struct {
		TotalCount githubv4.Int
	}
	FinalComment struct {
		Nodes []commentFragment
	} `graphql:"finalComment: comments(last: 1)"`
	Votes struct {
		TotalCount githubv4.Int
	} `graphql:"votes: reactions(content: THUMBS_UP)"`
}

func (f issueFragment) remoteItem(kind ItemKind) RemoteItem {
	item := RemoteItem{
		NodeID:        string(f.ID),
		Kind:          kind,
		Repository:    string(f.Repository.NameWithOwner),
		Number:        int(f.Number),
		Title:         string(f.Title),
		URL:           f.URL.String(),
		Author:        f.Author.actor(),
		CreatedAt:     f.CreatedAt.Time,
		UpdatedAt:     f.UpdatedAt.Time,
		TotalComments: int(f.Comments.TotalCount),
		Votes:         int(f.Votes.TotalCount),
	}
	if f.ClosedAt != nil {
		t := f.ClosedAt.Time
		item.ClosedAt = &t
	}
	for _, l := range f.Labels.Nodes {
		item.Labels = append(item.Labels, string(l.Name))
	}
	for _, a := range f.Assignees.Nodes {
		item.Assignees = append(item.Assignees, string(a.Login))
	}
	if f.Milestone != nil {
		item.Milestone = string(f.Milestone.Title)
	}
	if len(f.FinalComment.Nodes) > 0 {
		item.FinalComment = f.FinalComment.Nodes[0].comment()
	}
	return item
}

// discussionFragment mirrors issueFragment for discussions. Discussions
// carry no assignees and nest replies under each comment, so the final
// comment has to be derived across the reply threads.
type discussionFragment struct {
	ID         githubv4.String
	URL        githubv4.URI
	Number     githubv4.Int
	Title      githubv4.String
	CreatedAt  githubv4.DateTime
	UpdatedAt  githubv4.DateTime
	ClosedAt   *githubv4.DateTime
	Author     actorFragment
	Repository struct {
		NameWithOwner githubv4.String
	}
	Labels struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"labels(first: 100)"`
	Votes struct {
		TotalCount githubv4.Int
	} `graphql:"votes: reactions(content: THUMBS_UP)"`
	Comments struct {
		TotalCount githubv4.Int
		Nodes      []struct {
			commentFragment
			Replies struct {
				TotalCount githubv4.Int
			}
			FinalReply struct {
				Nodes []commentFragment
			} `graphql:"finalReply: replies(last: 1)"`
		}
	} `graphql:"comments(first: 100)"`
}

func (f discussionFragment) remoteItem() RemoteItem {
	item := RemoteItem{
		NodeID:     string(f.ID),
		Kind:       KindDiscussion,
		Repository: string(f.Repository.NameWithOwner),
		Number:     int(f.Number),
		Title:      string(f.Title),
		URL:        f.URL.String(),
		Author:     f.Author.actor(),
		CreatedAt:  f.CreatedAt.Time,
		UpdatedAt:  f.UpdatedAt.Time,
		Votes:      int(f.Votes.TotalCount),
	}
	if f.ClosedAt != nil {
		t := f.ClosedAt.Time
		item.ClosedAt = &t
	}
	for _, l := range f.Labels.Nodes {
		item.Labels = append(item.Labels, string(l.Name))
	}

	total := int(f.Comments.TotalCount)
	var final *Comment
	for _, node := range f.Comments.Nodes {
		total += int(node.Replies.TotalCount)
		final = laterComment(final, node.commentFragment.comment())
		if len(node.FinalReply.Nodes) > 0 {
			final = laterComment(final, node.FinalReply.Nodes[0].comment())
		}
	}
	item.TotalComments = total
	item.FinalComment = final
	return item
}

// laterComment picks the more recent of two comments. Equal timestamps
// are broken by the lexicographically smaller node ID so repeated runs
// always agree.
func laterComment(a, b *Comment) *Comment {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.CreatedAt.After(a.CreatedAt):
		return b
	case a.CreatedAt.After(b.CreatedAt):
		return a
	case b.ID < a.ID:
		return b
	default:
		return a
	}
}

// SearchItems fetches one page of search results for the given kind.
func (c *Client) SearchItems(ctx context.Context, query string, kind ItemKind, pageSize int, cursor string) (*ItemPage, error) {
	vars := map[string]interface{}{
		"query": githubv4.String(query),
		"first": githubv4.Int(pageSize),
		"after": afterCursor(cursor),
	}

	if kind == KindDiscussion {
		var q struct {
			Search struct {
				PageInfo pageInfo
				Nodes    []struct {
					Discussion discussionFragment `graphql:"... on Discussion"`
				}
			} `graphql:"search(query: $query, type: DISCUSSION, first: $first, after: $after)"`
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, WrapAPIError(err, "discussion search")
		}
		page := &ItemPage{
			HasNextPage: bool(q.Search.PageInfo.HasNextPage),
			EndCursor:   string(q.Search.PageInfo.EndCursor),
		}
		for _, node := range q.Search.Nodes {
			if node.Discussion.ID == "" {
				continue
			}
			page.Items = append(page.Items, node.Discussion.remoteItem())
		}
		return page, nil
	}

	var q struct {
		Search struct {
			PageInfo pageInfo
			Nodes    []struct {
				Typename    githubv4.String `graphql:"__typename"`
				Issue       issueFragment   `graphql:"... on Issue"`
				PullRequest issueFragment   `graphql:"... on PullRequest"`
			}
		} `graphql:"search(query: $query, type: ISSUE, first: $first, after: $after)"`
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, WrapAPIError(err, "issue search")
	}
	page := &ItemPage{
		HasNextPage: bool(q.Search.PageInfo.HasNextPage),
		EndCursor:   string(q.Search.PageInfo.EndCursor),
	}
	for _, node := range q.Search.Nodes {
		switch node.Typename {
		case "Issue":
			page.Items = append(page.Items, node.Issue.remoteItem(KindIssue))
		case "PullRequest":
			page.Items = append(page.Items, node.PullRequest.remoteItem(KindPullRequest))
		}
	}
	return page, nil
}

type pageInfo struct {
	HasNextPage githubv4.Boolean
	EndCursor   githubv4.String
}

func afterCursor(cursor string) *githubv4.String {
	if cursor == "" {
		return (*githubv4.String)(nil)
	}
	s := githubv4.String(cursor)
	return &s
}

// fieldNameFragment resolves the field name a value belongs to.
type fieldNameFragment struct {
	Common struct {
		Name githubv4.String
	} `graphql:"... on ProjectV2FieldCommon"`
}

// ListProjectItems reads one page of the board's items together with all
// of their populated field values, so the reconciler can diff every field
// rather than blindly rewriting them.
func (c *Client) ListProjectItems(ctx context.Context, projectID string, pageSize int, cursor string) (*ProjectItemPage, error) {
	var q struct {
		Node struct {
			ProjectV2 struct {
				Items struct {
					PageInfo pageInfo
					Nodes    []struct {
						ID          githubv4.String
						FieldValues struct {
							Nodes []struct {
								TextValue struct {
									Text  githubv4.String
									Field fieldNameFragment
								} `graphql:"... on ProjectV2ItemFieldTextValue"`
								DateValue struct {
									Date  githubv4.String
									Field fieldNameFragment
								} `graphql:"... on ProjectV2ItemFieldDateValue"`
								NumberValue struct {
									Number githubv4.Float
									Field  fieldNameFragment
								} `graphql:"... on ProjectV2ItemFieldNumberValue"`
								SelectValue struct {
									Name  githubv4.String
									Field fieldNameFragment
								} `graphql:"... on ProjectV2ItemFieldSingleSelectValue"`
							}
						} `graphql:"fieldValues(first: 50)"`
					}
				} `graphql:"items(first: $first, after: $after)"`
			} `graphql:"... on ProjectV2"`
		} `graphql:"node(id: $projectID)"`
	}

	vars := map[string]interface{}{
		"projectID": githubv4.ID(projectID),
		"first":     githubv4.Int(pageSize),
		"after":     afterCursor(cursor),
	}

	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, WrapAPIError(err, fmt.Sprintf("project items for %s", projectID))
	}

	items := q.Node.ProjectV2.Items
	page := &ProjectItemPage{
		HasNextPage: bool(items.PageInfo.HasNextPage),
		EndCursor:   string(items.PageInfo.EndCursor),
	}
	for _, node := range items.Nodes {
		item := ProjectItem{
			ID:     string(node.ID),
			Values: make(map[string]FieldValue),
		}
		for _, v := range node.FieldValues.Nodes {
			switch {
			case v.TextValue.Field.Common.Name != "":
				item.Values[string(v.TextValue.Field.Common.Name)] = TextValue(string(v.TextValue.Text))
			case v.DateValue.Field.Common.Name != "":
				item.Values[string(v.DateValue.Field.Common.Name)] = DateValue(string(v.DateValue.Date))
			case v.NumberValue.Field.Common.Name != "":
				item.Values[string(v.NumberValue.Field.Common.Name)] = NumberValue(float64(v.NumberValue.Number))
			case v.SelectValue.Field.Common.Name != "":
				item.Values[string(v.SelectValue.Field.Common.Name)] = OptionValue(string(v.SelectValue.Name))
			}
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// ListProjectFields reads one page of the board's field catalog.
func (c *Client) ListProjectFields(ctx context.Context, projectID string, pageSize int, cursor string) (*ProjectFieldPage, error) {
	var q struct {
		Node struct {
			ProjectV2 struct {
				Fields struct {
					PageInfo pageInfo
					Nodes    []struct {
						Common struct {
							ID       githubv4.String
							Name     githubv4.String
							DataType githubv4.String
						} `graphql:"... on ProjectV2FieldCommon"`
						SingleSelect struct {
							Options []struct {
								ID   githubv4.String
								Name githubv4.String
							}
						} `graphql:"... on ProjectV2SingleSelectField"`
					}
				} `graphql:"fields(first: $first, after: $after)"`
			} `graphql:"... on ProjectV2"`
		} `graphql:"node(id: $projectID)"`
	}

	vars := map[string]interface{}{
		"projectID": githubv4.ID(projectID),
		"first":     githubv4.Int(pageSize),
		"after":     afterCursor(cursor),
	}

	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, WrapAPIError(err, fmt.Sprintf("project fields for %s", projectID))
	}

	fields := q.Node.ProjectV2.Fields
	page := &ProjectFieldPage{
		HasNextPage: bool(fields.PageInfo.HasNextPage),
		EndCursor:   string(fields.PageInfo.EndCursor),
	}
	for _, node := range fields.Nodes {
		field := ProjectField{
			ID:       string(node.Common.ID),
			Name:     string(node.Common.Name),
			DataType: FieldDataType(node.Common.DataType),
		}
		for _, opt := range node.SingleSelect.Options {
			field.Options = append(field.Options, SingleSelectOption{
				ID:   string(opt.ID),
				Name: string(opt.Name),
			})
		}
		page.Fields = append(page.Fields, field)
	}
	return page, nil
}

// ListTeamMembers returns all member logins of an organization team,
// fully paginated through the REST API.
func (c *Client) ListTeamMembers(ctx context.Context, org, slug string) ([]string, error) {
	var logins []string
	opts := &github.TeamListTeamMembersOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		members, resp, err := c.rest.Teams.ListTeamMembersBySlug(ctx, org, slug, opts)
		if err != nil {
			return nil, WrapAPIError(err, fmt.Sprintf("team %s/%s members", org, slug))
		}
		for _, m := range members {
			logins = append(logins, m.GetLogin())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return logins, nil
}

// AddItem links an issue or pull request to the board.
func (c *Client) AddItem(ctx context.Context, projectID, contentID string) (string, error) {
	var m struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID githubv4.String
			}
		} `graphql:"addProjectV2ItemById(input: $input)"`
	}
	input := githubv4.AddProjectV2ItemByIdInput{
		ProjectID: githubv4.ID(projectID),
		ContentID: githubv4.ID(contentID),
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return "", WrapAPIError(err, fmt.Sprintf("add item %s", contentID))
	}
	return string(m.AddProjectV2ItemByID.Item.ID), nil
}

// AddDraftItem adds a draft board item for content that cannot be linked
// natively.
func (c *Client) AddDraftItem(ctx context.Context, projectID, title, body string) (string, error) {
	var m struct {
		AddProjectV2DraftIssue struct {
			ProjectItem struct {
				ID githubv4.String
			}
		} `graphql:"addProjectV2DraftIssue(input: $input)"`
	}
	b := githubv4.String(body)
	input := githubv4.AddProjectV2DraftIssueInput{
		ProjectID: githubv4.ID(projectID),
		Title:     githubv4.String(sanitizeTitle(title)),
		Body:      &b,
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return "", WrapAPIError(err, fmt.Sprintf("add draft %q", title))
	}
	return string(m.AddProjectV2DraftIssue.ProjectItem.ID), nil
}

// UpdateFieldValue sets one field of one board item, casting the value to
// the field's declared data type.
func (c *Client) UpdateFieldValue(ctx context.Context, projectID, itemID string, field ProjectField, value FieldValue) error {
	fieldValue, err := buildFieldValue(field, value)
	if err != nil {
		return err
	}

	var m struct {
		UpdateProjectV2ItemFieldValue struct {
			ClientMutationID githubv4.String
		} `graphql:"updateProjectV2ItemFieldValue(input: $input)"`
	}
	input := githubv4.UpdateProjectV2ItemFieldValueInput{
		ProjectID: githubv4.ID(projectID),
		ItemID:    githubv4.ID(itemID),
		FieldID:   githubv4.ID(field.ID),
		Value:     *fieldValue,
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return WrapAPIError(err, fmt.Sprintf("update field %q on item %s", field.Name, itemID))
	}
	return nil
}

// ClearFieldValue empties one field of one board item.
func (c *Client) ClearFieldValue(ctx context.Context, projectID, itemID string, field ProjectField) error {
	var m struct {
		ClearProjectV2ItemFieldValue struct {
			ClientMutationID githubv4.String
		} `graphql:"clearProjectV2ItemFieldValue(input: $input)"`
	}
	input := githubv4.ClearProjectV2ItemFieldValueInput{
		ProjectID: githubv4.ID(projectID),
		ItemID:    githubv4.ID(itemID),
		FieldID:   githubv4.ID(field.ID),
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return WrapAPIError(err, fmt.Sprintf("clear field %q on item %s", field.Name, itemID))
	}
	return nil
}

// DeleteItem removes an item from the board.
func (c *Client) DeleteItem(ctx context.Context, projectID, itemID string) error {
	var m struct {
		DeleteProjectV2Item struct {
			DeletedItemID githubv4.String
		} `graphql:"deleteProjectV2Item(input: $input)"`
	}
	input := githubv4.DeleteProjectV2ItemInput{
		ProjectID: githubv4.ID(projectID),
		ItemID:    githubv4.ID(itemID),
	}
	if err := c.gql.Mutate(ctx, &m, input, nil); err != nil {
		return WrapAPIError(err, fmt.Sprintf("delete item %s", itemID))
	}
	return nil
}

// buildFieldValue casts a FieldValue to the GraphQL input shape required
// by the field's data type, resolving single-select option names to IDs.
func buildFieldValue(field ProjectField, value FieldValue) (*githubv4.ProjectV2FieldValue, error) {
	switch field.DataType {
	case FieldTypeText:
		if value.Text == nil {
			return nil, NewAPIError(ErrorTypeMalformed,
				fmt.Sprintf("field %q expects text but none was produced", field.Name), nil)
		}
		s := githubv4.String(*value.Text)
		return &githubv4.ProjectV2FieldValue{Text: &s}, nil

	case FieldTypeNumber:
		if value.Number == nil {
			return nil, NewAPIError(ErrorTypeMalformed,
				fmt.Sprintf("field %q expects a number but none was produced", field.Name), nil)
		}
		n := githubv4.Float(*value.Number)
		return &githubv4.ProjectV2FieldValue{Number: &n}, nil

	case FieldTypeDate:
		if value.Date == nil {
			return nil, NewAPIError(ErrorTypeMalformed,
				fmt.Sprintf("field %q expects a date but none was produced", field.Name), nil)
		}
		t, err := time.Parse("2006-01-02", *value.Date)
		if err != nil {
			return nil, NewAPIError(ErrorTypeMalformed,
				fmt.Sprintf("field %q: bad date value %q", field.Name, *value.Date), err)
		}
		d := githubv4.Date{Time: t}
		return &githubv4.ProjectV2FieldValue{Date: &d}, nil

	case FieldTypeSingleSelect:
		if value.Option == nil {
			return nil, NewAPIError(ErrorTypeMalformed,
				fmt.Sprintf("field %q expects an option but none was produced", field.Name), nil)
		}
		for _, opt := range field.Options {
			if opt.Name == *value.Option {
				id := githubv4.String(opt.ID)
				return &githubv4.ProjectV2FieldValue{SingleSelectOptionID: &id}, nil
			}
		}
		return nil, NewAPIError(ErrorTypeMalformed,
			fmt.Sprintf("field %q has no option named %q", field.Name, *value.Option), nil)

	default:
		return nil, NewAPIError(ErrorTypeMalformed,
			fmt.Sprintf("field %q has unsupported data type %s", field.Name, field.DataType), nil)
	}
}

// sanitizeTitle strips characters outside the printable ASCII range.
// Draft titles with certain emoji break the GraphQL string encoding.
func sanitizeTitle(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		if r >= 0x20 && r < 0x7f {
			out = append(out, r)
		}
	}
	return string(out)
}
