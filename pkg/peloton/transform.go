package peloton

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Single-select option names on the board.
const (
	OptionPeloton  = "Peloton"
	OptionBot      = "Bot"
	OptionExternal = "External"
	OptionWanted   = "Wanted"
)

// Transformer converts RemoteItems into the board field values they
// should carry. Transform is pure: no API calls, no side effects, and
// missing optional attributes produce omitted fields rather than errors.
type Transformer struct {
	members          map[string]bool
	botOverrides     map[string]bool
	discussionWanted *regexp.Regexp
}

// NewTransformer builds a transformer from the team member logins, the
// configured bot overrides, and the discussion-wanted label pattern.
func NewTransformer(members, botOverrides []string, labelPattern string) (*Transformer, error) {
	pattern, err := regexp.Compile("(?i)" + labelPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid discussion label pattern %q: %w", labelPattern, err)
	}

	t := &Transformer{
		members:          make(map[string]bool, len(members)),
		botOverrides:     make(map[string]bool, len(botOverrides)),
		discussionWanted: pattern,
	}
	for _, login := range members {
		t.members[login] = true
	}
	for _, login := range botOverrides {
		t.botOverrides[login] = true
	}
	return t, nil
}

// Classify returns the membership class of an actor: team members are
// peloton, GitHub Bot accounts and overridden logins are bots, everyone
// else is external.
func (t *Transformer) Classify(actor Actor) Membership {
	switch {
	case t.members[actor.Login]:
		return MembershipPeloton
	case actor.IsBot || t.botOverrides[actor.Login]:
		return MembershipBot
	default:
		return MembershipExternal
	}
}

// OptionName maps a membership class to its board option name.
func (m Membership) OptionName() string {
	switch m {
	case MembershipPeloton:
		return OptionPeloton
	case MembershipBot:
		return OptionBot
	default:
		return OptionExternal
	}
}

// Transform computes the desired board fields for one item.
func (t *Transformer) Transform(item RemoteItem) DesiredItem {
	fields := map[FieldRole]FieldValue{
		RoleLink:             TextValue(item.NodeID),
		RoleDateCreated:      DateValue(dateOnly(item.CreatedAt)),
		RoleDateUpdated:      DateValue(dateOnly(item.UpdatedAt)),
		RoleAuthorLogin:      TextValue(item.Author.Login),
		RoleAuthorMembership: OptionValue(t.Classify(item.Author).OptionName()),
		RoleNumComments:      NumberValue(float64(item.TotalComments)),
		RoleVotes:            NumberValue(float64(item.Votes)),
	}

	if item.ClosedAt != nil {
		fields[RoleDateClosed] = DateValue(dateOnly(*item.ClosedAt))
	}

	// An item with no comments reports its author as the final commenter,
	// so the board always has a commenter column to sort on.
	final := item.FinalComment
	if final == nil {
		final = &Comment{Author: item.Author, CreatedAt: item.CreatedAt}
	}
	fields[RoleFinalCommentLogin] = TextValue(final.Author.Login)
	fields[RoleFinalCommentTime] = DateValue(dateOnly(final.CreatedAt))
	fields[RoleCommenterMembership] = OptionValue(t.Classify(final.Author).OptionName())

	if len(item.Assignees) > 0 {
		fields[RoleAssignees] = TextValue(strings.Join(item.Assignees, ", "))
	}

	if item.Milestone != "" {
		fields[RoleMilestone] = TextValue(item.Milestone)
	}

	if t.wantsDiscussion(item) {
		fields[RoleDiscussionWanted] = OptionValue(OptionWanted)
	}

	return DesiredItem{Item: item, Fields: fields}
}

// TransformAll maps Transform over a collection, dropping duplicate node
// IDs (the same item can surface in overlapping search pages).
func (t *Transformer) TransformAll(items []RemoteItem) []DesiredItem {
	seen := make(map[string]bool, len(items))
	desired := make([]DesiredItem, 0, len(items))
	for _, item := range items {
		if seen[item.NodeID] {
			continue
		}
		seen[item.NodeID] = true
		desired = append(desired, t.Transform(item))
	}
	return desired
}

// wantsDiscussion reports whether the item should carry the
// discussion-wanted flag: every discussion does, and so does any item
// with a label matching the configured pattern.
func (t *Transformer) wantsDiscussion(item RemoteItem) bool {
	if item.Kind == KindDiscussion {
		return true
	}
	for _, label := range item.Labels {
		if t.discussionWanted.MatchString(label) {
			return true
		}
	}
	return false
}

// dateOnly truncates a timestamp to the day precision board date fields
// store.
func dateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
