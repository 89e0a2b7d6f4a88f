package peloton

import "time"

// ItemKind identifies what kind of tracker item a RemoteItem is.
type ItemKind string

const (
	KindIssue       ItemKind = "issue"
	KindPullRequest ItemKind = "pull_request"
	KindDiscussion  ItemKind = "discussion"
)

// Actor is the author of an item or comment.
type Actor struct {
	Login string `json:"login"`
	IsBot bool   `json:"is_bot"`
}

// Comment is a single comment (or discussion reply) on a RemoteItem.
type Comment struct {
	ID        string    `json:"id"`
	Author    Actor     `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// RemoteItem is an issue, pull request, or discussion fetched from GitHub.
// Only the fields the board consumes are modelled; everything else stays
// upstream.
type RemoteItem struct {
	NodeID        string     `json:"node_id"`
	Kind          ItemKind   `json:"kind"`
	Repository    string     `json:"repository"`
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Author        Actor      `json:"author"`
	Labels        []string   `json:"labels,omitempty"`
	Assignees     []string   `json:"assignees,omitempty"`
	Milestone     string     `json:"milestone,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	TotalComments int        `json:"total_comments"`
	// FinalComment is the most recent comment by creation time. Nil when
	// the item has no comments at all.
	FinalComment *Comment `json:"final_comment,omitempty"`
	Votes        int      `json:"votes"`
}

// FieldDataType is the ProjectV2 data type of a board field.
type FieldDataType string

const (
	FieldTypeText         FieldDataType = "TEXT"
	FieldTypeNumber       FieldDataType = "NUMBER"
	FieldTypeDate         FieldDataType = "DATE"
	FieldTypeSingleSelect FieldDataType = "SINGLE_SELECT"
	FieldTypeIteration    FieldDataType = "ITERATION"
)

// ProjectField is a named column on the board.
type ProjectField struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	DataType FieldDataType        `json:"data_type"`
	Options  []SingleSelectOption `json:"options,omitempty"`
}

// SingleSelectOption is one choice of a single-select board field.
type SingleSelectOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectItem is the board's wrapper around a RemoteItem: the item's
// board ID plus its current field values, keyed by board field name.
// Unpopulated fields are simply absent from the map.
type ProjectItem struct {
	ID     string                `json:"id"`
	Values map[string]FieldValue `json:"values"`
}

// Value returns the item's current value for a field name; the zero
// FieldValue when unpopulated.
func (p ProjectItem) Value(fieldName string) FieldValue {
	return p.Values[fieldName]
}

// FieldValue is the per-item value of a board field. Exactly one member
// is set depending on the field's data type. Single-select values carry
// the option name; the client resolves it to an option ID against the
// board's live field catalog when mutating.
type FieldValue struct {
	Text   *string  `json:"text,omitempty"`
	Number *float64 `json:"number,omitempty"`
	Date   *string  `json:"date,omitempty"` // YYYY-MM-DD
	Option *string  `json:"option,omitempty"`
}

// IsZero reports whether no member of the value is set.
func (v FieldValue) IsZero() bool {
	return v.Text == nil && v.Number == nil && v.Date == nil && v.Option == nil
}

// Equal compares two field values member-wise.
func (v FieldValue) Equal(o FieldValue) bool {
	switch {
	case (v.Text == nil) != (o.Text == nil),
		(v.Number == nil) != (o.Number == nil),
		(v.Date == nil) != (o.Date == nil),
		(v.Option == nil) != (o.Option == nil):
		return false
	}
	if v.Text != nil && *v.Text != *o.Text {
		return false
	}
	if v.Number != nil && *v.Number != *o.Number {
		return false
	}
	if v.Date != nil && *v.Date != *o.Date {
		return false
	}
	if v.Option != nil && *v.Option != *o.Option {
		return false
	}
	return true
}

// TextValue, NumberValue, DateValue and OptionValue are conveniences for
// building FieldValues.
func TextValue(s string) FieldValue      { return FieldValue{Text: &s} }
func NumberValue(n float64) FieldValue   { return FieldValue{Number: &n} }
func DateValue(d string) FieldValue      { return FieldValue{Date: &d} }
func OptionValue(name string) FieldValue { return FieldValue{Option: &name} }

// FieldRole names one of the board fields the synchronizer populates.
// Roles are mapped to concrete board field names by the board config.
type FieldRole string

const (
	RoleLink                FieldRole = "link"
	RoleDateCreated         FieldRole = "date_created"
	RoleDateUpdated         FieldRole = "date_updated"
	RoleDateClosed          FieldRole = "date_closed"
	RoleAuthorLogin         FieldRole = "author_login"
	RoleAuthorMembership    FieldRole = "author_membership"
	RoleFinalCommentLogin   FieldRole = "final_comment_login"
	RoleFinalCommentTime    FieldRole = "final_comment_time"
	RoleCommenterMembership FieldRole = "commenter_membership"
	RoleNumComments         FieldRole = "num_comments"
	RoleVotes               FieldRole = "votes"
	RoleAssignees           FieldRole = "assignees"
	RoleMilestone           FieldRole = "milestone"
	RoleDiscussionWanted    FieldRole = "discussion_wanted"
	// RoleNextDate is never set by the synchronizer; it is cleared when an
	// item has fresh comments so the next meeting revisits it.
	RoleNextDate FieldRole = "next_date"
)

// DesiredItem is the Transformer's output for one RemoteItem: the set of
// board field values the item should carry.
type DesiredItem struct {
	Item   RemoteItem               `json:"item"`
	Fields map[FieldRole]FieldValue `json:"fields"`
}

// Membership classifies an actor relative to the board's team.
type Membership string

const (
	MembershipPeloton  Membership = "peloton"
	MembershipBot      Membership = "bot"
	MembershipExternal Membership = "external"
)
