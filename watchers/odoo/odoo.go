// Package odoo implements the Odoo perception watcher: newly unpaid or
// overdue invoices become intake wrappers under Business/Accounting/.
package odoo

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/vault"
	"github.com/c360studio/aiemployee/watchers"
)

const name = "odoo"

// Watcher is the Odoo accounting perception watcher.
type Watcher struct {
	channel     adapters.Channel
	store       *vault.Store
	checkpoints *intake.CheckpointStore
	logger      *audit.Logger
}

// New returns an Odoo Watcher.
func New(channel adapters.Channel, store *vault.Store, checkpoints *intake.CheckpointStore, logger *audit.Logger) *Watcher {
	return &Watcher{channel: channel, store: store, checkpoints: checkpoints, logger: logger}
}

// Name implements watchers.Runner.
func (w *Watcher) Name() string { return name }

// RunOnce implements watchers.Runner.
func (w *Watcher) RunOnce(ctx context.Context) (watchers.RunResult, error) {
	return watchers.Poll(ctx, watchers.PollConfig{
		Source:      name,
		Store:       w.store,
		Checkpoints: w.checkpoints,
		Logger:      w.logger,
		Channel:     w.channel,
		Query:       map[string]any{"action": "ar_aging"},
		IdentityOf: func(listed map[string]any) string {
			switch id := listed["id"].(type) {
			case float64:
				return fmt.Sprintf("%d", int(id))
			case string:
				return id
			default:
				return ""
			}
		},
		ToIntake: func(read map[string]any, now time.Time) intake.Item {
			name, _ := read["name"].(string)
			dueDate, _ := read["invoice_date_due"].(string)
			residual, _ := read["amount_residual"].(float64)
			return intake.Item{
				Received: now,
				Type:     intake.TypeInvoiceEvent,
				Subject:  fmt.Sprintf("%s overdue", name),
				Excerpt:  fmt.Sprintf("invoice %s due %s, residual %.2f", name, dueDate, residual),
			}
		},
		WrapperPath: func(item intake.Item, now time.Time) string {
			return fmt.Sprintf("%s/inbox__odoo__%s__%s.md", vault.DirBusinessAccounting, now.Format("20060102-1504"), item.ID)
		},
	})
}
