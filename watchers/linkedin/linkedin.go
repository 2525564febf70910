// Package linkedin implements the LinkedIn perception watcher: new posts
// and comments observed via the adapter's listing become intake wrappers
// under Social/Inbox/.
package linkedin

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

const name = "linkedin"

// Watcher is the LinkedIn perception watcher.
type Watcher struct {
	channel     adapters.Channel
	store       *vault.Store
	checkpoints *intake.CheckpointStore
	logger      *audit.Logger
}

// New returns a LinkedIn Watcher.
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
		IdentityOf: func(listed map[string]any) string {
			urn, _ := listed["id"].(string)
			return urn
		},
		ToIntake: func(read map[string]any, now time.Time) intake.Item {
			author, _ := read["author"].(string)
			excerpt, _ := read["excerpt_text"].(string)
			if excerpt == "" {
				excerpt, _ = read["commentary"].(string)
			}
			return intake.Item{
				Received: now,
				Type:     intake.TypePost,
				Sender:   author,
				Subject:  "LinkedIn post",
				Excerpt:  excerpt,
			}
		},
		WrapperPath: func(item intake.Item, now time.Time) string {
			return fmt.Sprintf("%s/inbox__linkedin__%s__%s.md", vault.DirSocialInbox, now.Format("20060102-1504"), item.ID)
		},
	})
}
