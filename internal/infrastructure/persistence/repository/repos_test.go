package repository

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuditRepository_AppendAndList(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuditRepository(db, zap.NewNop())
	ctx := context.Background()

	entries := []*entity.AuditEntry{
		{ID: "a1", InstanceID: "w1", Action: entity.AuditCreated, ActorID: "staff-1", ToStatus: entity.StatusPending, CreatedAt: testNow},
		{ID: "a2", InstanceID: "w1", StepOrder: 1, Action: entity.AuditApproved, ActorID: "sm-1",
			FromStatus: entity.StatusPending, ToStatus: entity.StatusApproved, Comment: "ok", CreatedAt: testNow.Add(time.Hour)},
		{ID: "a3", InstanceID: "w2", Action: entity.AuditCreated, ActorID: "staff-2", CreatedAt: testNow},
	}
	for _, e := range entries {
		require.NoError(t, repo.Append(ctx, e))
	}

	got, err := repo.ListByInstance(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entity.AuditCreated, got[0].Action)
	assert.Equal(t, entity.AuditApproved, got[1].Action)
	assert.Equal(t, "ok", got[1].Comment)
	assert.True(t, got[1].CreatedAt.Equal(testNow.Add(time.Hour)))
}

func TestSideEffectRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewSideEffectRepository(db, zap.NewNop())
	ctx := context.Background()

	rec := &entity.SideEffectRecord{
		InstanceID: "w1",
		CompanyID:  "c1",
		Type:       entity.TypePurchase,
		Status:     entity.SideEffectPending,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	require.NoError(t, repo.Enqueue(ctx, rec))
	require.NoError(t, repo.Enqueue(ctx, rec), "enqueue is idempotent")

	require.NoError(t, repo.MarkResult(ctx, "w1", entity.SideEffectFailed, "ledger offline", testNow.Add(time.Minute)))
	got, err := repo.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, entity.SideEffectFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "ledger offline", got.LastError)

	failed, err := repo.ListByStatus(ctx, "c1", entity.SideEffectFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	require.NoError(t, repo.MarkResult(ctx, "w1", entity.SideEffectSucceeded, "", testNow.Add(2*time.Minute)))
	got, _ = repo.Get(ctx, "w1")
	assert.Equal(t, 2, got.Attempts)

	failed, _ = repo.ListByStatus(ctx, "c1", entity.SideEffectFailed, 10)
	assert.Empty(t, failed)

	missing, err := repo.Get(ctx, "w9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSideEffectRepository_ClaimRetry(t *testing.T) {
	db := newTestDB(t)
	repo := NewSideEffectRepository(db, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"w1", "w2"} {
		require.NoError(t, repo.Enqueue(ctx, &entity.SideEffectRecord{
			InstanceID: id,
			CompanyID:  "c1",
			Type:       entity.TypePurchase,
			Status:     entity.SideEffectPending,
			CreatedAt:  testNow,
			UpdatedAt:  testNow,
		}))
	}
	require.NoError(t, repo.MarkResult(ctx, "w1", entity.SideEffectFailed, "ledger offline", testNow))

	fresh := testNow.Add(-time.Hour)
	stale, err := repo.ListStalePending(ctx, "c1", fresh, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	claimed, err := repo.ClaimRetry(ctx, "w2", fresh, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed, "fresh PENDING row is not claimable")

	claimed, err = repo.ClaimRetry(ctx, "w1", fresh, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = repo.ClaimRetry(ctx, "w1", fresh, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed, "second claim loses")

	got, _ := repo.Get(ctx, "w1")
	assert.Equal(t, entity.SideEffectPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	later := testNow.Add(time.Hour)
	stale, err = repo.ListStalePending(ctx, "c1", later, 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "w2", stale[0].InstanceID)

	claimed, err = repo.ClaimRetry(ctx, "w2", later, later)
	require.NoError(t, err)
	assert.True(t, claimed, "stale PENDING row is claimable")
	claimed, err = repo.ClaimRetry(ctx, "w9", later, later)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestTemplateRepository_SaveReplacesActive(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepository(db, zap.NewNop())
	ctx := context.Background()

	first := &entity.WorkflowTemplate{
		ID: "t1", CompanyID: "c1", Type: entity.TypeLeave, Name: "owner only", IsActive: true,
		Steps:     []entity.TemplateStep{{Role: entity.RoleOwner}},
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, repo.Save(ctx, first))

	got, err := repo.GetActive(ctx, "c1", entity.TypeLeave)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, entity.RoleOwner, got.Steps[0].Role)

	second := &entity.WorkflowTemplate{
		ID: "t2", CompanyID: "c1", Type: entity.TypeLeave, Name: "named approver", IsActive: true,
		Steps:     []entity.TemplateStep{{Role: entity.RoleCompanyAdmin, AssigneeID: strPtr("ca-9")}},
		CreatedAt: testNow.Add(time.Hour), UpdatedAt: testNow.Add(time.Hour),
	}
	require.NoError(t, repo.Save(ctx, second))

	got, err = repo.GetActive(ctx, "c1", entity.TypeLeave)
	require.NoError(t, err)
	assert.Equal(t, "t2", got.ID)
	assert.Equal(t, "ca-9", *got.Steps[0].AssigneeID)

	var active int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM workflow_templates WHERE is_active = 1`).Scan(&active))
	assert.Equal(t, 1, active)

	none, err := repo.GetActive(ctx, "c1", entity.TypePurchase)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDirectoryRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewDirectoryRepository(db, zap.NewNop())
	ctx := context.Background()

	s1, s2 := "s1", "s2"
	require.NoError(t, repo.Assign(ctx, port.RoleAssignment{CompanyID: "c1", StoreID: &s1, UserID: "sm-1", Role: entity.RoleStoreManager, ChatID: "ou_1"}))
	require.NoError(t, repo.Assign(ctx, port.RoleAssignment{CompanyID: "c1", StoreID: &s2, UserID: "sm-2", Role: entity.RoleStoreManager}))
	require.NoError(t, repo.Assign(ctx, port.RoleAssignment{CompanyID: "c1", UserID: "ca-1", Role: entity.RoleCompanyAdmin, DisplayName: "Ada"}))
	require.NoError(t, repo.Assign(ctx, port.RoleAssignment{CompanyID: "c1", UserID: "ca-1", Role: entity.RoleCompanyAdmin, DisplayName: "Ada L."}))
	require.Error(t, repo.Assign(ctx, port.RoleAssignment{CompanyID: "c1", UserID: "x", Role: "JANITOR"}))

	id, err := repo.ResolveRole(ctx, "c1", &s2, entity.RoleStoreManager)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "sm-2", id.UserID)

	id, err = repo.ResolveRole(ctx, "c1", nil, entity.RoleCompanyAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", id.DisplayName)

	id, err = repo.ResolveRole(ctx, "c1", nil, entity.RoleOwner)
	require.NoError(t, err)
	assert.Nil(t, id)

	roles, err := repo.RolesOf(ctx, "c1", "ca-1")
	require.NoError(t, err)
	assert.Equal(t, []entity.Role{entity.RoleCompanyAdmin}, roles)

	store, err := repo.StoreOf(ctx, "c1", "sm-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", *store)

	store, err = repo.StoreOf(ctx, "c1", "ca-1")
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestLedgerRepository_Idempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewLedgerRepository(db, zap.NewNop())
	ctx := context.Background()

	count := func(table string) int {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE instance_id = 'w1'`).Scan(&n))
		return n
	}

	purchase := port.PurchaseApproval{InstanceID: "w1", CompanyID: "c1", SourceID: "po-1", Amount: 40000, ApprovedAt: testNow}
	disposal := port.DisposalRecord{InstanceID: "w1", CompanyID: "c1", StoreID: "s1", RecordedAt: testNow,
		Items: []port.DisposalItem{{MaterialID: "m1", Quantity: 2.5, Unit: "kg"}, {MaterialID: "m2", Quantity: 1, Unit: "pc"}}}
	leave := port.LeaveRecord{InstanceID: "w1", CompanyID: "c1", StoreID: "s1", EmployeeID: "e1", LeaveType: "annual",
		Dates: []time.Time{testNow, testNow.AddDate(0, 0, 1), testNow.AddDate(0, 0, 2)}}
	deactivation := port.DeactivationRecord{InstanceID: "w1", CompanyID: "c1", EmployeeID: "e1", EffectiveDate: testNow}

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.MarkApproved(ctx, purchase))
		require.NoError(t, repo.RecordDisposal(ctx, disposal))
		require.NoError(t, repo.MarkLeave(ctx, leave))
		require.NoError(t, repo.Deactivate(ctx, deactivation))
	}

	assert.Equal(t, 1, count("purchase_approvals"))
	assert.Equal(t, 2, count("inventory_disposals"))
	assert.Equal(t, 3, count("schedule_leaves"))
	assert.Equal(t, 1, count("account_deactivations"))
}
