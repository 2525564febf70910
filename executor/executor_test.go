package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/registry"
	"github.com/c360studio/aiemployee/vault"
)

type fakeAdapter struct {
	name         string
	dryRunErr    error
	preview      adapters.Preview
	execErr      error
	execErrSeq   []error
	execCalls    int
	execResult   adapters.Result
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	return adapters.Capabilities{}, nil
}
func (f *fakeAdapter) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	return f.preview, f.dryRunErr
}
func (f *fakeAdapter) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	defer func() { f.execCalls++ }()
	if f.execCalls < len(f.execErrSeq) {
		return adapters.Result{}, f.execErrSeq[f.execCalls]
	}
	return f.execResult, f.execErr
}
func (f *fakeAdapter) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	return nil, nil
}
func (f *fakeAdapter) Read(ctx context.Context, id string) (map[string]any, error) {
	return nil, nil
}

type testEnv struct {
	store *vault.Store
	pm    *plan.Manager
	reg   *registry.Registry
	log   *audit.Logger
	exec  *Executor
	ch    *fakeAdapter
}

func newTestEnv(t *testing.T, ch *fakeAdapter) *testEnv {
	t.Helper()
	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	pm := plan.NewManager(store)
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	logger := audit.NewLogger(store)

	lookup := func(name string) adapters.Channel {
		if ch != nil && name == ch.name {
			return ch
		}
		return nil
	}
	exec := New(store, pm, reg, logger, lookup)
	return &testEnv{store: store, pm: pm, reg: reg, log: logger, exec: exec, ch: ch}
}

func approvedSamplePlan(env *testEnv, t *testing.T, channel plan.Channel, actionType string, payload map[string]any) plan.Plan {
	t.Helper()
	now := time.Date(2026, 2, 15, 3, 1, 0, 0, time.UTC)
	p := plan.Plan{
		ID:         "WEBPLAN_202602150301_" + string(channel) + "_" + actionType,
		UserID:     "user-1",
		Channel:    channel,
		ActionType: actionType,
		Payload:    payload,
		RiskLevel:  plan.RiskMedium,
	}
	p, err := env.pm.CreateDraft(p)
	require.NoError(t, err)
	p, err = env.pm.SubmitForApproval(p)
	require.NoError(t, err)
	require.NoError(t, env.store.Move(p.FilePath, "Approved/"+p.ID+".md"))
	p.Status = plan.StatusApproved
	p.FilePath = "Approved/" + p.ID + ".md"
	p.CreatedAt, p.UpdatedAt = now, now
	require.NoError(t, env.reg.Upsert(context.Background(), p))
	return p
}

func TestRun_SensitiveAction_PausesForSecondApproval(t *testing.T) {
	ch := &fakeAdapter{name: "gmail", preview: adapters.Preview{Summary: "To: client@example.com, Size: 812 bytes"}}
	env := newTestEnv(t, ch)
	p := approvedSamplePlan(env, t, plan.ChannelGmail, "send_email", map[string]any{"to": "client@example.com"})

	_, outcome, err := env.exec.Run(context.Background(), p.FilePath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingSecondApproval, outcome)
	assert.True(t, env.store.Exists("Pending_Approval/"+p.ID+".dryrun.md"))
	assert.False(t, env.store.Exists("Approved/"+p.ID+".md"))
}

func TestRun_SecondApproval_ExecutesAndCompletes(t *testing.T) {
	ch := &fakeAdapter{
		name:       "gmail",
		preview:    adapters.Preview{Summary: "To: client@example.com, Size: 812 bytes"},
		execResult: adapters.Result{UpstreamID: "18e-abc"},
	}
	env := newTestEnv(t, ch)
	p := approvedSamplePlan(env, t, plan.ChannelGmail, "send_email", map[string]any{"to": "client@example.com"})

	_, outcome, err := env.exec.Run(context.Background(), p.FilePath)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingSecondApproval, outcome)

	secondPath := "Pending_Approval/" + p.ID + ".dryrun.md"
	require.NoError(t, env.store.Move(secondPath, "Approved/"+p.ID+".dryrun.md"))

	final, outcome, err := env.exec.Run(context.Background(), "Approved/"+p.ID+".dryrun.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
	assert.Equal(t, "18e-abc", final.Result.UpstreamID)
	assert.True(t, env.store.Exists("Plans/completed/"+p.ID+".md"))
}

func TestRun_NoRetryAction_TransientFailureGoesStraightToFailed(t *testing.T) {
	ch := &fakeAdapter{
		name:       "odoo",
		preview:    adapters.Preview{Summary: "register payment on invoice inv-42"},
		execErrSeq: []error{errs.Transient("connection reset", nil)},
	}
	env := newTestEnv(t, ch)
	p := approvedSamplePlan(env, t, plan.ChannelOdoo, "register_payment", map[string]any{"invoice_id": "inv-42", "amount": 100.0})

	_, outcome, err := env.exec.Run(context.Background(), p.FilePath)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingSecondApproval, outcome)

	secondPath := "Pending_Approval/" + p.ID + ".dryrun.md"
	require.NoError(t, env.store.Move(secondPath, "Approved/"+p.ID+".dryrun.md"))

	_, outcome, err = env.exec.Run(context.Background(), "Approved/"+p.ID+".dryrun.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, ch.execCalls)
	assert.True(t, env.store.Exists("Plans/failed/"+p.ID+".md"))

	remediations, err := env.store.List("Needs_Action/remediation__odoo__*.md")
	require.NoError(t, err)
	assert.Len(t, remediations, 1)
}

func TestRun_RetryObserver_FiresOnlyOnRetriedAttempts(t *testing.T) {
	ch := &fakeAdapter{
		name:    "gmail",
		preview: adapters.Preview{Summary: "send email to q1"},
		execErrSeq: []error{
			errs.Transient("smtp timeout", nil),
			errs.Transient("smtp timeout", nil),
		},
		execResult: adapters.Result{UpstreamID: "msg-1"},
	}
	env := newTestEnv(t, ch)

	var retries []string
	env.exec.SetRetryObserver(func(channel string) { retries = append(retries, channel) })

	p := approvedSamplePlan(env, t, plan.ChannelGmail, "send_email", map[string]any{"to": "q1@example.com"})
	_, outcome, err := env.exec.Run(context.Background(), p.FilePath)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingSecondApproval, outcome)

	secondPath := "Pending_Approval/" + p.ID + ".dryrun.md"
	require.NoError(t, env.store.Move(secondPath, "Approved/"+p.ID+".dryrun.md"))

	_, outcome, err = env.exec.Run(context.Background(), "Approved/"+p.ID+".dryrun.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, outcome)
	assert.Equal(t, 3, ch.execCalls)
	assert.Equal(t, []string{"gmail", "gmail"}, retries)
}

func TestRun_PreconditionFailsWhenFileNotInApproved(t *testing.T) {
	ch := &fakeAdapter{name: "gmail"}
	env := newTestEnv(t, ch)
	p := plan.Plan{ID: "WEBPLAN_missing", Channel: plan.ChannelGmail, ActionType: "send_email", Payload: map[string]any{}}
	p, err := env.pm.CreateDraft(p)
	require.NoError(t, err)
	p, err = env.pm.SubmitForApproval(p)
	require.NoError(t, err)

	_, outcome, err := env.exec.Run(context.Background(), p.FilePath)
	require.Error(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.True(t, errs.Is(err, errs.KindPrecondition))
}
