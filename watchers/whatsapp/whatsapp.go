// Package whatsapp implements the WhatsApp perception watcher: unread
// chat entries observed by the bridge's DOM scan become intake wrappers
// under Social/Inbox/.
package whatsapp

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

const name = "whatsapp"

// Watcher is the WhatsApp perception watcher.
type Watcher struct {
	channel     adapters.Channel
	store       *vault.Store
	checkpoints *intake.CheckpointStore
	logger      *audit.Logger
}

// New returns a WhatsApp Watcher.
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
			chatID, _ := listed["chat_id"].(string)
			dataID, _ := listed["data_id"].(string)
			if chatID == "" || dataID == "" {
				return ""
			}
			return chatID + ":" + dataID
		},
		ToIntake: func(read map[string]any, now time.Time) intake.Item {
			sender, _ := read["sender"].(string)
			body, _ := read["body"].(string)
			return intake.Item{
				Received: now,
				Type:     intake.TypeMessage,
				Sender:   sender,
				Subject:  "WhatsApp message",
				Excerpt:  body,
			}
		},
		WrapperPath: func(item intake.Item, now time.Time) string {
			sender := item.Sender
			if sender == "" {
				sender = "unknown"
			}
			return fmt.Sprintf("%s/inbox__whatsapp__%s__%s.md", vault.DirSocialInbox, now.Format("20060102-1504"), sender)
		},
	})
}
