// Package gmail implements the Gmail perception watcher: new messages
// matching a configured query become intake wrappers under Needs_Action/.
package gmail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/vault"
	"github.com/c360studio/aiemployee/watchers"
)

const name = "gmail"

// Watcher is the Gmail perception watcher.
type Watcher struct {
	channel     adapters.Channel
	store       *vault.Store
	checkpoints *intake.CheckpointStore
	logger      *audit.Logger
	query       string
}

// New returns a Gmail Watcher. query is the Gmail search query restricting
// which messages are considered, e.g. "is:unread -category:promotions".
func New(channel adapters.Channel, store *vault.Store, checkpoints *intake.CheckpointStore, logger *audit.Logger, query string) *Watcher {
	return &Watcher{channel: channel, store: store, checkpoints: checkpoints, logger: logger, query: query}
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
		Query:       map[string]any{"q": w.query},
		IdentityOf: func(listed map[string]any) string {
			id, _ := listed["id"].(string)
			return id
		},
		ToIntake: func(read map[string]any, now time.Time) intake.Item {
			from, _ := read["from"].(string)
			subject, _ := read["subject"].(string)
			excerpt, _ := read["excerpt_markdown"].(string)
			return intake.Item{
				Received: now,
				Type:     intake.TypeEmail,
				Sender:   from,
				Subject:  subject,
				Excerpt:  excerpt,
			}
		},
		WrapperPath: func(item intake.Item, now time.Time) string {
			return fmt.Sprintf("%s/gmail__%s__%s__%s.md",
				vault.DirNeedsAction, slug(item.Sender), slug(item.Subject), now.Format("20060102-1504"))
		},
	})
}

func slug(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
