package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/vault"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func samplePlan(id string, status plan.Status) plan.Plan {
	now := time.Date(2026, 2, 15, 3, 1, 0, 0, time.UTC)
	return plan.Plan{
		ID:         id,
		UserID:     "user-1",
		Channel:    plan.ChannelGmail,
		ActionType: "send_email",
		Payload:    map[string]any{"to": "client@example.com"},
		Status:     status,
		RiskLevel:  plan.RiskMedium,
		CreatedAt:  now,
		UpdatedAt:  now,
		FilePath:   "Pending_Approval/" + id + ".md",
	}
}

func TestUpsertAndGet_RoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p := samplePlan("WEBPLAN_1", plan.StatusPendingApproval)
	require.NoError(t, r.Upsert(ctx, p))

	got, err := r.Get(ctx, "WEBPLAN_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Status, got.Status)
	assert.Equal(t, "client@example.com", got.Payload["to"])
}

func TestUpsert_UpdatesExistingRow(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p := samplePlan("WEBPLAN_1", plan.StatusPendingApproval)
	require.NoError(t, r.Upsert(ctx, p))

	p.Status = plan.StatusApproved
	p.ApprovalRef = "human:alice"
	require.NoError(t, r.Upsert(ctx, p))

	got, err := r.Get(ctx, "WEBPLAN_1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusApproved, got.Status)
	assert.Equal(t, "human:alice", got.ApprovalRef)
}

func TestListByStatus_FiltersCorrectly(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Upsert(ctx, samplePlan("WEBPLAN_1", plan.StatusPendingApproval)))
	require.NoError(t, r.Upsert(ctx, samplePlan("WEBPLAN_2", plan.StatusApproved)))
	require.NoError(t, r.Upsert(ctx, samplePlan("WEBPLAN_3", plan.StatusPendingApproval)))

	pending, err := r.ListByStatus(ctx, plan.StatusPendingApproval)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReconcile_UpdatesStatusFromVaultPlacement(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	pm := plan.NewManager(store)
	logger := audit.NewLogger(store)

	p := samplePlan("WEBPLAN_1", plan.StatusPendingApproval)
	require.NoError(t, r.Upsert(ctx, p))
	require.NoError(t, store.WriteAtomic("Approved/WEBPLAN_1.md", []byte("plan body")))
	require.NoError(t, store.WriteAtomic("Approved/WEBPLAN_1.md.approved_by", []byte("alice")))

	require.NoError(t, r.Reconcile(ctx, store, pm, logger))

	got, err := r.Get(ctx, "WEBPLAN_1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.ApprovalRef)

	entries, err := store.Read("Logs/" + time.Now().UTC().Format("2006-01-02") + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(entries), `"action_type":"approve"`)
	assert.Contains(t, string(entries), `"actor":"human:alice"`)
}

func TestReconcile_NoSidecarFallsBackToDefaultApprover(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	pm := plan.NewManager(store).WithDefaultApprover("ops-default")

	p := samplePlan("WEBPLAN_1", plan.StatusPendingApproval)
	require.NoError(t, r.Upsert(ctx, p))
	require.NoError(t, store.WriteAtomic("Rejected/WEBPLAN_1.md", []byte("plan body")))

	require.NoError(t, r.Reconcile(ctx, store, pm, nil))

	got, err := r.Get(ctx, "WEBPLAN_1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusRejected, got.Status)
	assert.Equal(t, "ops-default", got.ApprovalRef)
}

func TestReconcile_LeavesArchivedPlansAlone(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	pm := plan.NewManager(store)

	p := samplePlan("WEBPLAN_1", plan.StatusArchived)
	require.NoError(t, r.Upsert(ctx, p))

	require.NoError(t, r.Reconcile(ctx, store, pm, nil))

	got, err := r.Get(ctx, "WEBPLAN_1")
	require.NoError(t, err)
	assert.Equal(t, plan.StatusArchived, got.Status)
}

func TestOpen_RecreatesOnSchemaMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")

	r1, err := Open(dbPath)
	require.NoError(t, err)
	_, err = r1.db.Exec(`ALTER TABLE plans RENAME COLUMN status TO status_old`)
	require.NoError(t, err)
	r1.Close()

	r2, err := Open(dbPath)
	require.NoError(t, err)
	defer r2.Close()

	ctx := context.Background()
	require.NoError(t, r2.Upsert(ctx, samplePlan("WEBPLAN_1", plan.StatusDraft)))
}
