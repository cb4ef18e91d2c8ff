package repository

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/internal/domain/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newInstance(id string, assignees ...string) *entity.WorkflowInstance {
	store := "s1"
	amount := int64(600000)
	started := testNow
	due := testNow.Add(72 * time.Hour)

	inst := &entity.WorkflowInstance{
		ID:          id,
		CompanyID:   "c1",
		StoreID:     &store,
		Type:        entity.TypePurchase,
		SourceID:    strPtr("po-" + id),
		RequestedBy: "staff-1",
		Amount:      &amount,
		Context:     map[string]any{"vendor": "acme"},
		Status:      entity.StatusPending,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
	roles := []entity.Role{entity.RoleStoreManager, entity.RoleCompanyAdmin, entity.RoleOwner}
	for i, a := range assignees {
		step := &entity.Step{
			Order:        i + 1,
			AssigneeID:   strPtr(a),
			AssigneeRole: roles[i%len(roles)],
			Status:       entity.StepPending,
		}
		if i == 0 {
			step.Status = entity.StepInProgress
			step.StartedAt = &started
			step.DueAt = &due
		}
		inst.Steps = append(inst.Steps, step)
	}
	return inst
}

func approveFirst(inst *entity.WorkflowInstance, at time.Time, last bool) *workflow.Transition {
	tr := &workflow.Transition{
		InstanceID: inst.ID,
		FromIndex:  inst.CurrentStepIndex,
		FromStatus: inst.Status,
		ToStatus:   entity.StatusInProgress,
		StepOrder:  inst.CurrentStep().Order,
		StepStatus: entity.StepApproved,
		ActorID:    *inst.CurrentStep().AssigneeID,
		Comment:    "ok",
		NextIndex:  inst.CurrentStepIndex + 1,
		At:         at,
	}
	if last {
		tr.ToStatus = entity.StatusApproved
		tr.NextIndex = tr.FromIndex
		tr.Finalized = true
	} else {
		started := at
		due := at.Add(24 * time.Hour)
		tr.NextStartedAt = &started
		tr.NextDueAt = &due
	}
	return tr
}

func TestWorkflowRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	inst := newInstance("w1", "sm-1", "ca-1", "owner-1")
	require.NoError(t, repo.Create(ctx, inst))

	got, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "c1", got.CompanyID)
	assert.Equal(t, "s1", *got.StoreID)
	assert.Equal(t, "po-w1", *got.SourceID)
	assert.Equal(t, int64(600000), *got.Amount)
	assert.Equal(t, "acme", got.Context["vendor"])
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.True(t, got.CreatedAt.Equal(testNow))
	assert.Nil(t, got.FinalizedAt)

	require.Len(t, got.Steps, 3)
	assert.Equal(t, entity.StepInProgress, got.Steps[0].Status)
	assert.Equal(t, "sm-1", *got.Steps[0].AssigneeID)
	assert.True(t, got.Steps[0].DueAt.Equal(testNow.Add(72*time.Hour)))
	assert.Equal(t, entity.RoleOwner, got.Steps[2].AssigneeRole)
	assert.Nil(t, got.Steps[2].DueAt)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowRepository_ApplyDecisionAdvances(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	inst := newInstance("w1", "sm-1", "ca-1")
	require.NoError(t, repo.Create(ctx, inst))

	at := testNow.Add(time.Hour)
	tr := approveFirst(inst, at, false)
	require.NoError(t, db.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.ApplyDecision(ctx, tr)
	}))

	got, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusInProgress, got.Status)
	assert.Equal(t, 1, got.CurrentStepIndex)
	assert.Equal(t, entity.StepApproved, got.Steps[0].Status)
	assert.Equal(t, "sm-1", *got.Steps[0].DecidedBy)
	assert.Equal(t, "ok", got.Steps[0].Comment)
	assert.Equal(t, entity.StepInProgress, got.Steps[1].Status)
	assert.True(t, got.Steps[1].StartedAt.Equal(at))
	assert.True(t, got.Steps[1].DueAt.Equal(at.Add(24*time.Hour)))

	// Replaying the same transition is stale.
	err = db.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.ApplyDecision(ctx, tr)
	})
	assert.ErrorIs(t, err, port.ErrStaleState)
}

func TestWorkflowRepository_FinalDecisionSetsFinalizedAt(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	inst := newInstance("w1", "sm-1")
	require.NoError(t, repo.Create(ctx, inst))

	at := testNow.Add(2 * time.Hour)
	require.NoError(t, db.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.ApplyDecision(ctx, approveFirst(inst, at, true))
	}))

	got, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, got.Status)
	require.NotNil(t, got.FinalizedAt)
	assert.True(t, got.FinalizedAt.Equal(at))

	ok, err := repo.MarkEscalated(ctx, "w1", 1, at)
	require.NoError(t, err)
	assert.False(t, ok, "terminal instances cannot be escalated")
}

func TestWorkflowRepository_ProgressStoresStageData(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	inst := newInstance("w1", "sm-1", "ca-1")
	inst.Type = entity.TypeCCPFailure
	inst.Status = entity.StatusImmediateAction
	stageDue := testNow.Add(24 * time.Hour)
	inst.Steps[1].DueAt = &stageDue
	require.NoError(t, repo.Create(ctx, inst))

	tr := approveFirst(inst, testNow.Add(time.Hour), false)
	tr.ToStatus = entity.StatusRootCauseAnalysis
	tr.StepStatus = entity.StepApproved
	tr.NextDueAt = nil
	tr.Data = map[string]any{"temperature": 3.5}
	tr.Attachments = []string{"photo-1.jpg"}
	require.NoError(t, db.WithTransaction(ctx, func(ctx context.Context) error {
		return repo.ApplyProgress(ctx, tr)
	}))

	got, err := repo.GetByID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRootCauseAnalysis, got.Status)
	assert.Equal(t, 3.5, got.Steps[0].Data["temperature"])
	assert.Equal(t, []string{"photo-1.jpg"}, got.Steps[0].Attachments)
	require.NotNil(t, got.Steps[1].DueAt)
	assert.True(t, got.Steps[1].DueAt.Equal(stageDue), "a nil next due keeps the stored deadline")
}

func TestWorkflowRepository_MarkEscalatedOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newInstance("w1", "sm-1", "ca-1")))
	at := testNow.Add(80 * time.Hour)

	ok, err := repo.MarkEscalated(ctx, "w1", 1, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkEscalated(ctx, "w1", 1, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkEscalated(ctx, "w1", 2, at)
	require.NoError(t, err)
	assert.False(t, ok, "pending steps cannot be escalated")

	got, _ := repo.GetByID(ctx, "w1")
	assert.True(t, got.Steps[0].Escalated)
	assert.True(t, got.Steps[0].EscalatedAt.Equal(at))
}

func TestWorkflowRepository_ListOverdue(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	older := newInstance("w1", "sm-1")
	*older.Steps[0].DueAt = testNow.Add(time.Hour)
	newer := newInstance("w2", "sm-1")
	notDue := newInstance("w3", "sm-1")
	*notDue.Steps[0].DueAt = testNow.Add(500 * time.Hour)
	escalated := newInstance("w4", "sm-1")
	escalated.Steps[0].Escalated = true
	for _, inst := range []*entity.WorkflowInstance{older, newer, notDue, escalated} {
		require.NoError(t, repo.Create(ctx, inst))
	}

	list, err := repo.ListOverdue(ctx, testNow.Add(100*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "w1", list[0].ID)
	assert.Equal(t, "w2", list[1].ID)
	assert.Len(t, list[0].Steps, 1)

	list, err = repo.ListOverdue(ctx, testNow.Add(100*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWorkflowRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	a := newInstance("w1", "sm-1")
	b := newInstance("w2", "sm-2")
	b.CreatedAt = testNow.Add(time.Minute)
	b.Severity = entity.SeverityHigh
	b.Type = entity.TypeCCPFailure
	c := newInstance("w3", "sm-1")
	c.CompanyID = "c2"
	for _, inst := range []*entity.WorkflowInstance{a, b, c} {
		require.NoError(t, repo.Create(ctx, inst))
	}

	all, err := repo.List(ctx, "c1", port.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "w2", all[0].ID, "newest first")

	mine, err := repo.List(ctx, "c1", port.ListFilter{AssigneeID: "sm-1"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "w1", mine[0].ID)

	high, err := repo.List(ctx, "c1", port.ListFilter{Severity: entity.SeverityHigh, Type: entity.TypeCCPFailure})
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "w2", high[0].ID)

	paged, err := repo.List(ctx, "c1", port.ListFilter{Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "w1", paged[0].ID)
}

func TestWorkflowRepository_ListAssigneeMatchesRoleBoundSteps(t *testing.T) {
	db := newTestDB(t)
	repo := NewWorkflowRepository(db, zap.NewNop())
	ctx := context.Background()

	bound := newInstance("w1", "sm-1")
	roleBound := newInstance("w2", "sm-9")
	roleBound.Steps[0].AssigneeID = nil
	otherStore := newInstance("w3", "sm-9")
	otherStore.Steps[0].AssigneeID = nil
	otherStore.StoreID = strPtr("s2")
	adminStep := newInstance("w4", "sm-9")
	adminStep.Steps[0].AssigneeID = nil
	adminStep.Steps[0].AssigneeRole = entity.RoleCompanyAdmin
	for _, inst := range []*entity.WorkflowInstance{bound, roleBound, otherStore, adminStep} {
		require.NoError(t, repo.Create(ctx, inst))
	}

	ids := func(list []*entity.WorkflowInstance) []string {
		var out []string
		for _, inst := range list {
			out = append(out, inst.ID)
		}
		return out
	}

	byID, err := repo.List(ctx, "c1", port.ListFilter{AssigneeID: "sm-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w1"}, ids(byID))

	manager, err := repo.List(ctx, "c1", port.ListFilter{
		AssigneeID:      "sm-1",
		AssigneeRoles:   []entity.Role{entity.RoleStoreManager},
		AssigneeStoreID: strPtr("s1"),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w1", "w2"}, ids(manager))

	admin, err := repo.List(ctx, "c1", port.ListFilter{
		AssigneeID:    "ca-1",
		AssigneeRoles: []entity.Role{entity.RoleCompanyAdmin},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w4"}, ids(admin))
}
