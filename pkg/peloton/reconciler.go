package peloton

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// FieldAssignment pairs a resolved board field with the value it should
// take.
type FieldAssignment struct {
	Field ProjectField
	Value FieldValue
}

// ItemAddition is a planned board addition: link (or draft) the item,
// then populate each assignment.
type ItemAddition struct {
	Item        RemoteItem
	Assignments []FieldAssignment
}

// FieldUpdate is one planned field mutation on an existing board item.
type FieldUpdate struct {
	ItemID     string
	Item       RemoteItem
	Assignment FieldAssignment
}

// ClearField is a planned field clear on an existing board item.
type ClearField struct {
	ItemID string
	Item   RemoteItem
	Field  ProjectField
}

// SyncPlan is the minimal set of mutations that brings the board into
// agreement with the desired item set.
type SyncPlan struct {
	AddIssues []ItemAddition
	AddDrafts []ItemAddition
	Updates   []FieldUpdate
	Clears    []ClearField

	// StaleItems counts board items absent from the desired set. Sync
	// leaves them untouched; they are reported so an operator can decide
	// to prune.
	StaleItems int
}

// IsEmpty reports whether the plan contains no mutations.
func (p *SyncPlan) IsEmpty() bool {
	return len(p.AddIssues) == 0 && len(p.AddDrafts) == 0 &&
		len(p.Updates) == 0 && len(p.Clears) == 0
}

// MutationCount is the number of mutating API calls the plan will issue.
func (p *SyncPlan) MutationCount() int {
	n := len(p.Updates) + len(p.Clears)
	for _, add := range p.AddIssues {
		n += 1 + len(add.Assignments)
	}
	for _, add := range p.AddDrafts {
		n += 1 + len(add.Assignments)
	}
	return n
}

// reconciler implements Reconciler for one board.
type reconciler struct {
	client    APIClient
	cfg       *BoardConfig
	collector *Collector
	log       logrus.FieldLogger
	retry     *RetryConfig
}

// NewReconciler creates a reconciler for one board.
func NewReconciler(client APIClient, cfg *BoardConfig, log logrus.FieldLogger) Reconciler {
	return &reconciler{
		client:    client,
		cfg:       cfg,
		collector: NewCollector(client, cfg),
		log:       log,
		retry:     DefaultRetryConfig(),
	}
}

// Plan reads the board's current state and computes the minimal diff
// against the desired item set. Items already on the board get one field
// update per differing field; everything else is left alone.
func (r *reconciler) Plan(ctx context.Context, desired []DesiredItem) (*SyncPlan, error) {
	catalog, err := r.collector.CollectProjectFields(ctx)
	if err != nil {
		return nil, err
	}

	linkName := r.cfg.FieldName(RoleLink)
	if _, ok := catalog[linkName]; !ok {
		return nil, NewAPIError(ErrorTypeMalformed,
			fmt.Sprintf("board has no %q field; items cannot be linked", linkName), nil)
	}

	current, err := r.collector.CollectProjectItems(ctx)
	if err != nil {
		return nil, err
	}

	// Index the board by linked node ID. Unlinked items (added by hand,
	// or half-created) are treated as stale.
	byLinkedID := make(map[string]ProjectItem, len(current))
	for _, item := range current {
		if linked := item.Value(linkName); linked.Text != nil && *linked.Text != "" {
			byLinkedID[*linked.Text] = item
		}
	}

	plan := &SyncPlan{}
	desiredIDs := make(map[string]bool, len(desired))

	for _, want := range desired {
		desiredIDs[want.Item.NodeID] = true
		assignments := r.resolveAssignments(want, catalog)

		boardItem, onBoard := byLinkedID[want.Item.NodeID]
		if !onBoard {
			addition := ItemAddition{Item: want.Item, Assignments: assignments}
			if want.Item.Kind == KindDiscussion {
				plan.AddDrafts = append(plan.AddDrafts, addition)
			} else {
				plan.AddIssues = append(plan.AddIssues, addition)
			}
			continue
		}

		for _, assignment := range assignments {
			if assignment.Value.Equal(boardItem.Value(assignment.Field.Name)) {
				continue
			}
			plan.Updates = append(plan.Updates, FieldUpdate{
				ItemID:     boardItem.ID,
				Item:       want.Item,
				Assignment: assignment,
			})
		}

		if clear, ok := r.planNextDateClear(want, boardItem, catalog); ok {
			plan.Clears = append(plan.Clears, clear)
		}
	}

	// Board items absent from the desired set stay untouched: removal is
	// an explicit operator decision, never an automatic side effect of a
	// narrower query.
	for linkedID := range byLinkedID {
		if !desiredIDs[linkedID] {
			plan.StaleItems++
		}
	}
	plan.StaleItems += len(current) - len(byLinkedID)

	return plan, nil
}

// resolveAssignments maps a desired item's role-keyed values onto the
// board's actual fields, in a stable order with the link field first.
// Roles whose field the board does not have are skipped with a debug log
// so an optional column can be dropped from a board without breaking
// sync.
func (r *reconciler) resolveAssignments(want DesiredItem, catalog map[string]ProjectField) []FieldAssignment {
	roles := make([]FieldRole, 0, len(want.Fields))
	for role := range want.Fields {
		if role != RoleLink {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	if _, ok := want.Fields[RoleLink]; ok {
		roles = append([]FieldRole{RoleLink}, roles...)
	}

	assignments := make([]FieldAssignment, 0, len(roles))
	for _, role := range roles {
		name := r.cfg.FieldName(role)
		field, ok := catalog[name]
		if !ok {
			r.log.WithFields(logrus.Fields{"field": name, "item": want.Item.URL}).
				Debug("board has no such field; skipping")
			continue
		}
		value := want.Fields[role]
		if value.IsZero() {
			continue
		}
		assignments = append(assignments, FieldAssignment{Field: field, Value: value})
	}
	return assignments
}

// planNextDateClear schedules a clear of the next-meeting date when the
// item has comment activity the board has not seen yet, so the next
// meeting revisits it. Two signals are checked because comments can also
// be deleted: the comment count and the final comment time.
func (r *reconciler) planNextDateClear(want DesiredItem, boardItem ProjectItem, catalog map[string]ProjectField) (ClearField, bool) {
	nextDateField, ok := catalog[r.cfg.FieldName(RoleNextDate)]
	if !ok {
		return ClearField{}, false
	}
	if boardItem.Value(nextDateField.Name).IsZero() {
		return ClearField{}, false
	}

	numName := r.cfg.FieldName(RoleNumComments)
	timeName := r.cfg.FieldName(RoleFinalCommentTime)

	numDrifted := !want.Fields[RoleNumComments].Equal(boardItem.Value(numName))
	timeDrifted := !want.Fields[RoleFinalCommentTime].Equal(boardItem.Value(timeName))
	if !numDrifted && !timeDrifted {
		return ClearField{}, false
	}

	return ClearField{ItemID: boardItem.ID, Item: want.Item, Field: nextDateField}, true
}

// Apply executes the plan. Each item-level failure is logged with the
// item and field involved and recorded; the remaining mutations still
// run. A PartialSyncFailure summarizing the failures is returned after
// everything has been attempted.
func (r *reconciler) Apply(ctx context.Context, plan *SyncPlan) error {
	var succeeded []string
	failed := make(map[string]error)

	record := func(operation string, err error) {
		if err != nil {
			r.log.WithError(err).WithField("operation", operation).Error("mutation failed")
			failed[operation] = err
		} else {
			succeeded = append(succeeded, operation)
		}
	}

	// Clears go first so a failure adding new items cannot leave fresh
	// activity pinned to a stale meeting date.
	for _, clear := range plan.Clears {
		operation := fmt.Sprintf("clear %q on %s", clear.Field.Name, clear.Item.URL)
		record(operation, r.withRetry(func() error {
			return r.client.ClearFieldValue(ctx, r.cfg.ProjectID, clear.ItemID, clear.Field)
		}))
	}

	for _, add := range plan.AddIssues {
		r.applyAddition(ctx, add, false, record)
	}
	for _, add := range plan.AddDrafts {
		r.applyAddition(ctx, add, true, record)
	}

	for _, update := range plan.Updates {
		operation := fmt.Sprintf("update %q on %s", update.Assignment.Field.Name, update.Item.URL)
		record(operation, r.withRetry(func() error {
			return r.client.UpdateFieldValue(ctx, r.cfg.ProjectID, update.ItemID,
				update.Assignment.Field, update.Assignment.Value)
		}))
	}

	if len(failed) > 0 {
		return NewPartialSyncFailure(succeeded, failed)
	}
	return nil
}

// applyAddition adds one item to the board and populates its fields. A
// failed add skips the field population (there is no item to populate);
// a failed field write does not stop the item's remaining fields.
func (r *reconciler) applyAddition(ctx context.Context, add ItemAddition, draft bool, record func(string, error)) {
	var itemID string
	var err error

	if draft {
		// Discussions cannot be linked natively, so they ride along as
		// drafts titled after the discussion with the URL as body.
		err = r.withRetry(func() error {
			var addErr error
			itemID, addErr = r.client.AddDraftItem(ctx, r.cfg.ProjectID, add.Item.Title, add.Item.URL)
			return addErr
		})
	} else {
		err = r.withRetry(func() error {
			var addErr error
			itemID, addErr = r.client.AddItem(ctx, r.cfg.ProjectID, add.Item.NodeID)
			return addErr
		})
	}

	operation := fmt.Sprintf("add %s", add.Item.URL)
	record(operation, err)
	if err != nil {
		return
	}

	for _, assignment := range add.Assignments {
		fieldOp := fmt.Sprintf("update %q on %s", assignment.Field.Name, add.Item.URL)
		assignment := assignment
		record(fieldOp, r.withRetry(func() error {
			return r.client.UpdateFieldValue(ctx, r.cfg.ProjectID, itemID, assignment.Field, assignment.Value)
		}))
	}
}

// PlanPrune returns the board items whose linked item is missing from
// the desired set, plus items that were never linked at all.
func (r *reconciler) PlanPrune(ctx context.Context, desired []DesiredItem) ([]ProjectItem, error) {
	current, err := r.collector.CollectProjectItems(ctx)
	if err != nil {
		return nil, err
	}

	desiredIDs := make(map[string]bool, len(desired))
	for _, want := range desired {
		desiredIDs[want.Item.NodeID] = true
	}

	linkName := r.cfg.FieldName(RoleLink)
	var stale []ProjectItem
	for _, item := range current {
		linked := item.Value(linkName)
		if linked.Text == nil || *linked.Text == "" || !desiredIDs[*linked.Text] {
			stale = append(stale, item)
		}
	}
	return stale, nil
}

// ApplyPrune deletes the given board items, tolerating per-item failures
// the same way Apply does.
func (r *reconciler) ApplyPrune(ctx context.Context, stale []ProjectItem) error {
	var succeeded []string
	failed := make(map[string]error)

	for _, item := range stale {
		operation := fmt.Sprintf("delete board item %s", item.ID)
		err := r.withRetry(func() error {
			return r.client.DeleteItem(ctx, r.cfg.ProjectID, item.ID)
		})
		if err != nil {
			r.log.WithError(err).WithField("operation", operation).Error("mutation failed")
			failed[operation] = err
		} else {
			succeeded = append(succeeded, operation)
		}
	}

	if len(failed) > 0 {
		return NewPartialSyncFailure(succeeded, failed)
	}
	return nil
}

func (r *reconciler) withRetry(operation func() error) error {
	return WithRetry(operation, r.retry)
}
