package odoo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/vault"
)

type fakeChannel struct {
	listResult []map[string]any
	reads      map[string]map[string]any
}

func (f *fakeChannel) Name() string { return "odoo" }
func (f *fakeChannel) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	return adapters.Capabilities{}, nil
}
func (f *fakeChannel) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	return adapters.Preview{}, nil
}
func (f *fakeChannel) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	return adapters.Result{}, nil
}
func (f *fakeChannel) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	return f.listResult, nil
}
func (f *fakeChannel) Read(ctx context.Context, id string) (map[string]any, error) {
	return f.reads[id], nil
}

func TestRunOnce_CreatesIntakeForOverdueInvoice(t *testing.T) {
	ch := &fakeChannel{
		listResult: []map[string]any{{"id": float64(42)}},
		reads: map[string]map[string]any{
			"42": {"name": "INV/2026/0042", "invoice_date_due": "2026-01-15", "amount_residual": 1500.0},
		},
	}
	store, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.EnsureLayout())
	cps := intake.NewCheckpointStore(store)
	logger := audit.NewLogger(store)
	w := New(ch, store, cps, logger)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewIntakes)

	entries, err := store.List(vault.DirBusinessAccounting + "/inbox__odoo__*.md")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
