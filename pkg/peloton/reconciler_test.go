package peloton

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAPIClient is a mock implementation of APIClient for testing
type MockAPIClient struct {
	mock.Mock
}

func (m *MockAPIClient) SearchItems(ctx context.Context, query string, kind ItemKind, pageSize int, cursor string) (*ItemPage, error) {
	args := m.Called(ctx, query, kind, pageSize, cursor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ItemPage), args.Error(1)
}

func (m *MockAPIClient) ListProjectItems(ctx context.Context, projectID string, pageSize int, cursor string) (*ProjectItemPage, error) {
	args := m.Called(ctx, projectID, pageSize, cursor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProjectItemPage), args.Error(1)
}

func (m *MockAPIClient) ListProjectFields(ctx context.Context, projectID string, pageSize int, cursor string) (*ProjectFieldPage, error) {
	args := m.Called(ctx, projectID, pageSize, cursor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProjectFieldPage), args.Error(1)
}

func (m *MockAPIClient) ListTeamMembers(ctx context.Context, org, slug string) ([]string, error) {
	args := m.Called(ctx, org, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAPIClient) AddItem(ctx context.Context, projectID, contentID string) (string, error) {
	args := m.Called(ctx, projectID, contentID)
	return args.String(0), args.Error(1)
}

func (m *MockAPIClient) AddDraftItem(ctx context.Context, projectID, title, body string) (string, error) {
	args := m.Called(ctx, projectID, title, body)
	return args.String(0), args.Error(1)
}

func (m *MockAPIClient) UpdateFieldValue(ctx context.Context, projectID, itemID string, field ProjectField, value FieldValue) error {
	args := m.Called(ctx, projectID, itemID, field, value)
	return args.Error(0)
}

func (m *MockAPIClient) ClearFieldValue(ctx context.Context, projectID, itemID string, field ProjectField) error {
	args := m.Called(ctx, projectID, itemID, field)
	return args.Error(0)
}

func (m *MockAPIClient) DeleteItem(ctx context.Context, projectID, itemID string) error {
	args := m.Called(ctx, projectID, itemID)
	return args.Error(0)
}

func testBoardConfig() *BoardConfig {
	cfg := &BoardConfig{
		ProjectID:    "PVT_kwTest",
		Repositories: []string{"SciTools/iris"},
		Team: TeamConfig{
			Organization: "SciTools",
			Slug:         "peloton",
		},
	}
	cfg.Normalize()
	return cfg
}

// testCatalog returns a field catalog covering every field the
// transformer can produce, in the shape ListProjectFields would yield.
func testCatalog(cfg *BoardConfig) *ProjectFieldPage {
	membershipOptions := []SingleSelectOption{
		{ID: "opt-peloton", Name: OptionPeloton},
		{ID: "opt-bot", Name: OptionBot},
		{ID: "opt-external", Name: OptionExternal},
	}
	return &ProjectFieldPage{
		Fields: []ProjectField{
			{ID: "f-link", Name: cfg.FieldName(RoleLink), DataType: FieldTypeText},
			{ID: "f-created", Name: cfg.FieldName(RoleDateCreated), DataType: FieldTypeDate},
			{ID: "f-updated", Name: cfg.FieldName(RoleDateUpdated), DataType: FieldTypeDate},
			{ID: "f-closed", Name: cfg.FieldName(RoleDateClosed), DataType: FieldTypeDate},
			{ID: "f-author", Name: cfg.FieldName(RoleAuthorLogin), DataType: FieldTypeText},
			{ID: "f-author-mem", Name: cfg.FieldName(RoleAuthorMembership), DataType: FieldTypeSingleSelect, Options: membershipOptions},
			{ID: "f-final-login", Name: cfg.FieldName(RoleFinalCommentLogin), DataType: FieldTypeText},
			{ID: "f-final-time", Name: cfg.FieldName(RoleFinalCommentTime), DataType: FieldTypeDate},
			{ID: "f-commenter-mem", Name: cfg.FieldName(RoleCommenterMembership), DataType: FieldTypeSingleSelect, Options: membershipOptions},
			{ID: "f-num", Name: cfg.FieldName(RoleNumComments), DataType: FieldTypeNumber},
			{ID: "f-votes", Name: cfg.FieldName(RoleVotes), DataType: FieldTypeNumber},
			{ID: "f-assignees", Name: cfg.FieldName(RoleAssignees), DataType: FieldTypeText},
			{ID: "f-milestone", Name: cfg.FieldName(RoleMilestone), DataType: FieldTypeText},
			{ID: "f-wanted", Name: cfg.FieldName(RoleDiscussionWanted), DataType: FieldTypeSingleSelect,
				Options: []SingleSelectOption{{ID: "opt-wanted", Name: OptionWanted}}},
			{ID: "f-next", Name: cfg.FieldName(RoleNextDate), DataType: FieldTypeDate},
		},
	}
}

func testRemoteItem() RemoteItem {
	return RemoteItem{
		NodeID:        "I_node1",
		Kind:          KindIssue,
		Repository:    "SciTools/iris",
		Number:        42,
		Title:         "Contours render upside down",
		URL:           "https://github.com/SciTools/iris/issues/42",
		Author:        Actor{Login: "alice"},
		CreatedAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		TotalComments: 3,
		FinalComment: &Comment{
			ID:        "IC_c3",
			Author:    Actor{Login: "bob"},
			CreatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		},
		Votes: 5,
	}
}

// desiredFor transforms one item with a fixed roster so tests share a
// single source of desired values.
func desiredFor(t *testing.T, items ...RemoteItem) []DesiredItem {
	t.Helper()
	transformer, err := NewTransformer([]string{"alice"}, nil, DefaultDiscussionPattern)
	require.NoError(t, err)
	return transformer.TransformAll(items)
}

// boardValuesFor builds the board-side Values map an item would carry
// after a fully successful sync of the given desired item.
func boardValuesFor(cfg *BoardConfig, want DesiredItem) map[string]FieldValue {
	values := make(map[string]FieldValue, len(want.Fields))
	for role, value := range want.Fields {
		values[cfg.FieldName(role)] = value
	}
	return values
}

func newTestReconciler(client APIClient, cfg *BoardConfig) *reconciler {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	r := NewReconciler(client, cfg, log).(*reconciler)
	r.retry.Sleep = func(time.Duration) {}
	r.retry.MaxRetries = 0
	return r
}

func TestNewReconciler(t *testing.T) {
	client := &MockAPIClient{}
	reconciler := NewReconciler(client, testBoardConfig(), logrus.New())

	assert.NotNil(t, reconciler)
	assert.Implements(t, (*Reconciler)(nil), reconciler)
}

func TestReconciler_Plan_NewIssue(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{}, nil)

	desired := desiredFor(t, testRemoteItem())
	plan, err := r.Plan(context.Background(), desired)

	require.NoError(t, err)
	require.Len(t, plan.AddIssues, 1)
	assert.Empty(t, plan.AddDrafts)
	assert.Empty(t, plan.Updates)
	assert.Empty(t, plan.Clears)

	add := plan.AddIssues[0]
	assert.Equal(t, "I_node1", add.Item.NodeID)
	require.NotEmpty(t, add.Assignments)
	// The link field must be written first so a crash mid-population
	// never leaves an untraceable item.
	assert.Equal(t, cfg.FieldName(RoleLink), add.Assignments[0].Field.Name)
	assert.Equal(t, TextValue("I_node1"), add.Assignments[0].Value)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_NewDiscussionBecomesDraft(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{}, nil)

	discussion := testRemoteItem()
	discussion.NodeID = "D_node1"
	discussion.Kind = KindDiscussion

	plan, err := r.Plan(context.Background(), desiredFor(t, discussion))

	require.NoError(t, err)
	assert.Empty(t, plan.AddIssues)
	require.Len(t, plan.AddDrafts, 1)
	assert.Equal(t, "D_node1", plan.AddDrafts[0].Item.NodeID)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_UpToDateBoardIsEmpty(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	desired := desiredFor(t, testRemoteItem())
	onBoard := ProjectItem{ID: "PVTI_1", Values: boardValuesFor(cfg, desired[0])}

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{Items: []ProjectItem{onBoard}}, nil)

	plan, err := r.Plan(context.Background(), desired)

	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
	assert.Zero(t, plan.MutationCount())

	client.AssertExpectations(t)
}

func TestReconciler_Plan_SingleDriftedFieldGetsSingleUpdate(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	desired := desiredFor(t, testRemoteItem())
	values := boardValuesFor(cfg, desired[0])
	// Only the vote count is out of date.
	values[cfg.FieldName(RoleVotes)] = NumberValue(4)
	onBoard := ProjectItem{ID: "PVTI_1", Values: values}

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{Items: []ProjectItem{onBoard}}, nil)

	plan, err := r.Plan(context.Background(), desired)

	require.NoError(t, err)
	assert.Empty(t, plan.AddIssues)
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "PVTI_1", plan.Updates[0].ItemID)
	assert.Equal(t, cfg.FieldName(RoleVotes), plan.Updates[0].Assignment.Field.Name)
	assert.Equal(t, NumberValue(5), plan.Updates[0].Assignment.Value)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_StaleItemsCountedNotMutated(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	stale := ProjectItem{ID: "PVTI_gone", Values: map[string]FieldValue{
		cfg.FieldName(RoleLink): TextValue("I_vanished"),
	}}
	unlinked := ProjectItem{ID: "PVTI_manual", Values: map[string]FieldValue{}}

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{Items: []ProjectItem{stale, unlinked}}, nil)

	plan, err := r.Plan(context.Background(), nil)

	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
	assert.Equal(t, 2, plan.StaleItems)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_MissingLinkFieldFails(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectFieldPage{Fields: []ProjectField{
			{ID: "f-votes", Name: cfg.FieldName(RoleVotes), DataType: FieldTypeNumber},
		}}, nil)

	plan, err := r.Plan(context.Background(), desiredFor(t, testRemoteItem()))

	require.Error(t, err)
	assert.Nil(t, plan)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeMalformed, apiErr.Type)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_MissingBoardFieldSkipped(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	// A board with only the link column still syncs; the other roles are
	// silently dropped.
	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectFieldPage{Fields: []ProjectField{
			{ID: "f-link", Name: cfg.FieldName(RoleLink), DataType: FieldTypeText},
		}}, nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{}, nil)

	plan, err := r.Plan(context.Background(), desiredFor(t, testRemoteItem()))

	require.NoError(t, err)
	require.Len(t, plan.AddIssues, 1)
	require.Len(t, plan.AddIssues[0].Assignments, 1)
	assert.Equal(t, cfg.FieldName(RoleLink), plan.AddIssues[0].Assignments[0].Field.Name)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_ClearsNextDateOnFreshComments(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	desired := desiredFor(t, testRemoteItem())
	values := boardValuesFor(cfg, desired[0])
	// The board saw two comments; the item now has three, and a meeting
	// date is pinned.
	values[cfg.FieldName(RoleNumComments)] = NumberValue(2)
	values[cfg.FieldName(RoleNextDate)] = DateValue("2026-09-03")
	onBoard := ProjectItem{ID: "PVTI_1", Values: values}

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{Items: []ProjectItem{onBoard}}, nil)

	plan, err := r.Plan(context.Background(), desired)

	require.NoError(t, err)
	require.Len(t, plan.Clears, 1)
	assert.Equal(t, cfg.FieldName(RoleNextDate), plan.Clears[0].Field.Name)
	assert.Equal(t, "PVTI_1", plan.Clears[0].ItemID)
	// The drifted comment count itself is still updated.
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, cfg.FieldName(RoleNumComments), plan.Updates[0].Assignment.Field.Name)

	client.AssertExpectations(t)
}

func TestReconciler_Plan_NoClearWhenNextDateUnset(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	desired := desiredFor(t, testRemoteItem())
	values := boardValuesFor(cfg, desired[0])
	values[cfg.FieldName(RoleNumComments)] = NumberValue(2)
	onBoard := ProjectItem{ID: "PVTI_1", Values: values}

	client.On("ListProjectFields", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(testCatalog(cfg), nil)
	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{Items: []ProjectItem{onBoard}}, nil)

	plan, err := r.Plan(context.Background(), desired)

	require.NoError(t, err)
	assert.Empty(t, plan.Clears)

	client.AssertExpectations(t)
}

func TestReconciler_Apply_AddPopulatesFields(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	linkField := ProjectField{ID: "f-link", Name: cfg.FieldName(RoleLink), DataType: FieldTypeText}
	votesField := ProjectField{ID: "f-votes", Name: cfg.FieldName(RoleVotes), DataType: FieldTypeNumber}

	plan := &SyncPlan{
		AddIssues: []ItemAddition{{
			Item: testRemoteItem(),
			Assignments: []FieldAssignment{
				{Field: linkField, Value: TextValue("I_node1")},
				{Field: votesField, Value: NumberValue(5)},
			},
		}},
	}

	client.On("AddItem", mock.Anything, cfg.ProjectID, "I_node1").Return("PVTI_new", nil)
	client.On("UpdateFieldValue", mock.Anything, cfg.ProjectID, "PVTI_new", linkField, TextValue("I_node1")).Return(nil)
	client.On("UpdateFieldValue", mock.Anything, cfg.ProjectID, "PVTI_new", votesField, NumberValue(5)).Return(nil)

	err := r.Apply(context.Background(), plan)

	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestReconciler_Apply_DraftAddUsesTitleAndURL(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	discussion := testRemoteItem()
	discussion.Kind = KindDiscussion
	plan := &SyncPlan{
		AddDrafts: []ItemAddition{{Item: discussion}},
	}

	client.On("AddDraftItem", mock.Anything, cfg.ProjectID, discussion.Title, discussion.URL).
		Return("PVTI_draft", nil)

	err := r.Apply(context.Background(), plan)

	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestReconciler_Apply_PartialFailureContinues(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	votesField := ProjectField{ID: "f-votes", Name: cfg.FieldName(RoleVotes), DataType: FieldTypeNumber}
	numField := ProjectField{ID: "f-num", Name: cfg.FieldName(RoleNumComments), DataType: FieldTypeNumber}

	first := testRemoteItem()
	second := testRemoteItem()
	second.NodeID = "I_node2"
	second.URL = "https://github.com/SciTools/iris/issues/43"

	plan := &SyncPlan{
		Updates: []FieldUpdate{
			{ItemID: "PVTI_1", Item: first, Assignment: FieldAssignment{Field: votesField, Value: NumberValue(5)}},
			{ItemID: "PVTI_2", Item: second, Assignment: FieldAssignment{Field: numField, Value: NumberValue(7)}},
		},
	}

	client.On("UpdateFieldValue", mock.Anything, cfg.ProjectID, "PVTI_1", votesField, NumberValue(5)).
		Return(errors.New("boom"))
	client.On("UpdateFieldValue", mock.Anything, cfg.ProjectID, "PVTI_2", numField, NumberValue(7)).
		Return(nil)

	err := r.Apply(context.Background(), plan)

	require.Error(t, err)
	partial, ok := err.(*PartialSyncFailure)
	require.True(t, ok)
	assert.Len(t, partial.Failed, 1)
	assert.Len(t, partial.Succeeded, 1)

	// The second update must have run despite the first failing.
	client.AssertExpectations(t)
}

func TestReconciler_Apply_FailedAddSkipsFieldPopulation(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	linkField := ProjectField{ID: "f-link", Name: cfg.FieldName(RoleLink), DataType: FieldTypeText}
	plan := &SyncPlan{
		AddIssues: []ItemAddition{{
			Item: testRemoteItem(),
			Assignments: []FieldAssignment{
				{Field: linkField, Value: TextValue("I_node1")},
			},
		}},
	}

	client.On("AddItem", mock.Anything, cfg.ProjectID, "I_node1").Return("", errors.New("boom"))

	err := r.Apply(context.Background(), plan)

	require.Error(t, err)
	partial, ok := err.(*PartialSyncFailure)
	require.True(t, ok)
	assert.Len(t, partial.Failed, 1)

	// No UpdateFieldValue call: there is no item to populate.
	client.AssertNotCalled(t, "UpdateFieldValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	client.AssertExpectations(t)
}

func TestReconciler_Apply_EmptyPlanIsNoOp(t *testing.T) {
	client := &MockAPIClient{}
	r := newTestReconciler(client, testBoardConfig())

	err := r.Apply(context.Background(), &SyncPlan{})

	assert.NoError(t, err)
	client.AssertExpectations(t)
}

func TestReconciler_PlanPrune(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	linkName := cfg.FieldName(RoleLink)
	kept := ProjectItem{ID: "PVTI_keep", Values: map[string]FieldValue{linkName: TextValue("I_node1")}}
	gone := ProjectItem{ID: "PVTI_gone", Values: map[string]FieldValue{linkName: TextValue("I_vanished")}}
	unlinked := ProjectItem{ID: "PVTI_manual", Values: map[string]FieldValue{}}

	client.On("ListProjectItems", mock.Anything, cfg.ProjectID, cfg.PageSize, "").
		Return(&ProjectItemPage{Items: []ProjectItem{kept, gone, unlinked}}, nil)

	stale, err := r.PlanPrune(context.Background(), desiredFor(t, testRemoteItem()))

	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "PVTI_gone", stale[0].ID)
	assert.Equal(t, "PVTI_manual", stale[1].ID)

	client.AssertExpectations(t)
}

func TestReconciler_ApplyPrune_PartialFailure(t *testing.T) {
	client := &MockAPIClient{}
	cfg := testBoardConfig()
	r := newTestReconciler(client, cfg)

	stale := []ProjectItem{{ID: "PVTI_a"}, {ID: "PVTI_b"}}

	client.On("DeleteItem", mock.Anything, cfg.ProjectID, "PVTI_a").Return(errors.New("boom"))
	client.On("DeleteItem", mock.Anything, cfg.ProjectID, "PVTI_b").Return(nil)

	err := r.ApplyPrune(context.Background(), stale)

	require.Error(t, err)
	partial, ok := err.(*PartialSyncFailure)
	require.True(t, ok)
	assert.Len(t, partial.Failed, 1)
	assert.Len(t, partial.Succeeded, 1)

	client.AssertExpectations(t)
}

func TestSyncPlan_MutationCount(t *testing.T) {
	plan := &SyncPlan{
		AddIssues: []ItemAddition{{Assignments: make([]FieldAssignment, 3)}},
		AddDrafts: []ItemAddition{{Assignments: make([]FieldAssignment, 2)}},
		Updates:   make([]FieldUpdate, 4),
		Clears:    make([]ClearField, 1),
	}

	// Each addition costs one add call plus one call per field.
	assert.Equal(t, 12, plan.MutationCount())
	assert.False(t, plan.IsEmpty())
}
