package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/executor"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/registry"
	"github.com/c360studio/aiemployee/vault"
)

type fakeReadOnlyChannel struct {
	name string
	rows []map[string]any
}

func (f *fakeReadOnlyChannel) Name() string { return f.name }
func (f *fakeReadOnlyChannel) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	return adapters.Capabilities{}, nil
}
func (f *fakeReadOnlyChannel) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	return adapters.Preview{}, nil
}
func (f *fakeReadOnlyChannel) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	return adapters.Result{}, nil
}
func (f *fakeReadOnlyChannel) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	return f.rows, nil
}
func (f *fakeReadOnlyChannel) Read(ctx context.Context, id string) (map[string]any, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *vault.Store, *plan.Manager, *registry.Registry) {
	t.Helper()
	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	pm := plan.NewManager(store)
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	logger := audit.NewLogger(store)
	exec := executor.New(store, pm, reg, logger, func(string) adapters.Channel { return nil })
	return New(store, pm, reg, logger, exec), store, pm, reg
}

func TestSweepTerminal_ArchivesCompletedPlanOnce(t *testing.T) {
	o, store, pm, reg := newTestOrchestrator(t)
	ctx := context.Background()

	p := plan.Plan{ID: "WEBPLAN_1", Channel: plan.ChannelGmail, ActionType: "send_email", Payload: map[string]any{}}
	p, err := pm.CreateDraft(p)
	require.NoError(t, err)
	require.NoError(t, store.Move(p.FilePath, "Plans/completed/"+p.ID+".md"))
	p.Status = plan.StatusExecuted
	p.FilePath = "Plans/completed/" + p.ID + ".md"
	require.NoError(t, reg.Upsert(ctx, p))

	archived, err := o.SweepTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	row, err := reg.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusArchived, row.Status)

	archived, err = o.SweepTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, archived, "second sweep with no changes does nothing")
}

func TestSweepApproved_DispatchesPlanApprovedPurelyByFileMove(t *testing.T) {
	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	pm := plan.NewManager(store)
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	logger := audit.NewLogger(store)

	ch := &fakeReadOnlyChannel{name: "odoo"}
	exec := executor.New(store, pm, reg, logger, func(name string) adapters.Channel {
		if name == "odoo" {
			return ch
		}
		return nil
	})
	o := New(store, pm, reg, logger, exec)

	p := plan.Plan{ID: "WEBPLAN_2", Channel: plan.ChannelOdoo, ActionType: "list_invoices", Payload: map[string]any{}}
	p, err = pm.CreateDraft(p)
	require.NoError(t, err)
	p, err = pm.SubmitForApproval(p)
	require.NoError(t, err)
	require.NoError(t, reg.Upsert(context.Background(), p))

	// A human approves by moving the file; nothing re-seeds the registry row.
	require.NoError(t, store.Move(p.FilePath, "Approved/"+p.ID+".md"))

	dispatched, err := o.SweepApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	row, err := reg.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusExecuted, row.Status)
	assert.Equal(t, "unknown", row.ApprovalRef, "no sidecar was left, so the default approver is recorded")
}

func TestRunAutonomyLoop_HaltsOnMutatingProposal(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	task := AutonomyTask{
		Description: "chase overdue invoices",
		Propose: func(ctx context.Context, description string, iteration int) ([]plan.Plan, error) {
			return []plan.Plan{{
				ID:         plan.NewID(time.Now(), plan.ChannelOdoo, "register_payment", "inv-1"),
				Channel:    plan.ChannelOdoo,
				ActionType: "register_payment",
				Payload:    map[string]any{"invoice_id": "inv-1"},
			}}, nil
		},
	}

	result, err := o.RunAutonomyLoop(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.Halted)
	assert.Equal(t, 1, result.PlansCreated)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunAutonomyLoop_StopsWhenNothingProposed(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	task := AutonomyTask{
		Description: "nothing to do",
		Propose: func(ctx context.Context, description string, iteration int) ([]plan.Plan, error) {
			return nil, nil
		},
	}

	result, err := o.RunAutonomyLoop(context.Background(), task)
	require.NoError(t, err)
	assert.False(t, result.Halted)
	assert.Equal(t, 0, result.PlansCreated)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunDailyCycle_AccountingAuditCountsRows(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	ch := &fakeReadOnlyChannel{name: "odoo", rows: []map[string]any{{"id": 1}, {"id": 2}}}

	result, err := o.RunDailyCycle(context.Background(), DailyCycle{AccountingChannel: ch})
	require.NoError(t, err)
	assert.Equal(t, 2, result.AccountingAuditCount)
}

func TestWriteSystemStatus_ProducesValidJSON(t *testing.T) {
	o, store, _, _ := newTestOrchestrator(t)

	require.NoError(t, o.WriteSystemStatus(time.Now(), nil))

	data, err := store.Read(SystemStatusPath)
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.Unmarshal(data, &status))
}
