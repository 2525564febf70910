// Package instagram implements the Instagram perception watcher: new
// media and comments observed via the Graph API become intake wrappers
// under Social/Inbox/.
package instagram

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

const name = "instagram"

// Watcher is the Instagram perception watcher.
type Watcher struct {
	channel     adapters.Channel
	store       *vault.Store
	checkpoints *intake.CheckpointStore
	logger      *audit.Logger
}

// New returns an Instagram Watcher.
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
			id, _ := listed["id"].(string)
			return id
		},
		ToIntake: func(read map[string]any, now time.Time) intake.Item {
			excerpt, _ := read["excerpt_text"].(string)
			if excerpt == "" {
				if caption, ok := read["caption"].(string); ok {
					excerpt = caption
				}
			}
			return intake.Item{
				Received: now,
				Type:     intake.TypePost,
				Subject:  "Instagram media",
				Excerpt:  excerpt,
			}
		},
		WrapperPath: func(item intake.Item, now time.Time) string {
			return fmt.Sprintf("%s/inbox__instagram__%s__%s.md", vault.DirSocialInbox, now.Format("20060102-1504"), item.ID)
		},
	})
}
