// Package filesystem implements the one perception watcher that is not
// adapter-backed: it watches the vault's Inbox/ directory directly and
// wraps any raw file dropped there into an intake item. Unlike the
// channel watchers it also offers a reactive Loop built on fsnotify,
// since the thing being watched is the local filesystem itself.
package filesystem

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/vault"
	"github.com/c360studio/aiemployee/watchers"
)

const name = "filesystem"

const wrapperPrefix = "inbox__"

// Watcher wraps raw files dropped into Inbox/ as intake items.
type Watcher struct {
	store       *vault.Store
	checkpoints *intake.CheckpointStore
	logger      *audit.Logger
	slog        *slog.Logger
}

// New returns a filesystem Watcher.
func New(store *vault.Store, checkpoints *intake.CheckpointStore, logger *audit.Logger) *Watcher {
	return &Watcher{store: store, checkpoints: checkpoints, logger: logger, slog: slog.Default()}
}

// Name implements watchers.Runner.
func (w *Watcher) Name() string { return name }

// RunOnce scans Inbox/ for raw files not already wrapped and not yet
// processed, and wraps each into an intake item under Inbox/ alongside
// it. The identity of a raw file is its relative path plus mtime, so an
// edited-in-place file is treated as a new arrival.
func (w *Watcher) RunOnce(ctx context.Context) (watchers.RunResult, error) {
	cp, err := w.checkpoints.Load(name)
	if err != nil {
		return watchers.RunResult{}, err
	}
	now := time.Now().UTC()

	paths, err := w.store.List(vault.DirInbox + "/*")
	if err != nil {
		return watchers.RunResult{}, err
	}

	created := 0
	for _, relPath := range paths {
		base := filepath.Base(relPath)
		if strings.HasPrefix(base, wrapperPrefix) {
			continue
		}

		info, statErr := os.Stat(filepath.Join(w.store.Root(), relPath))
		if statErr != nil {
			continue
		}

		id := fmt.Sprintf("%s@%d", relPath, info.ModTime().UnixNano())
		if cp.Seen(id) {
			continue
		}

		content, err := w.store.Read(relPath)
		if err != nil {
			return watchers.RunResult{}, err
		}

		item := intake.Item{
			Source:   name,
			Received: now,
			Type:     intake.TypeDocument,
			ID:       id,
			Subject:  base,
			Excerpt:  string(content),
			RawRef:   relPath,
		}
		wrapperPath := fmt.Sprintf("%s/%s%s__%s.md", vault.DirInbox, wrapperPrefix, sanitizeName(base), now.Format("20060102-1504"))

		if err := w.store.WriteAtomic(wrapperPath, item.Render()); err != nil {
			return watchers.RunResult{}, err
		}
		cp.MarkProcessed(id)
		created++

		if err := w.logger.Log(audit.Entry{
			Timestamp:  now,
			ActionType: "watcher_run",
			Actor:      "watcher:" + name,
			Target:     wrapperPath,
			Result:     audit.ResultOK,
		}); err != nil {
			return watchers.RunResult{}, err
		}
	}

	cp.Health = intake.HealthHealthy
	cp.LastRunAt = now
	if err := w.checkpoints.Save(name, cp); err != nil {
		return watchers.RunResult{}, err
	}
	return watchers.RunResult{NewIntakes: created, Health: cp.Health}, nil
}

func sanitizeName(base string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stem = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, stem)
	return strings.Trim(stem, "-")
}

// Loop drives RunOnce reactively: an fsnotify watch on the Inbox
// directory triggers a run on any create/write/rename event, with a
// ticker as a fallback in case an event is missed. The readiness
// sentinel is written after the first successful run.
func (w *Watcher) Loop(ctx context.Context, interval time.Duration) error {
	inboxDir := filepath.Join(w.store.Root(), vault.DirInbox)
	if err := os.MkdirAll(inboxDir, 0o755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(inboxDir); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ready := false
	runAndMarkReady := func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.slog.Error("filesystem watcher run failed", "error", err)
			return
		}
		if !ready {
			if err := watchers.WriteReady(name); err == nil {
				ready = true
			}
		}
	}

	runAndMarkReady()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				runAndMarkReady()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.slog.Warn("filesystem watcher fsnotify error", "error", err)
		case <-ticker.C:
			runAndMarkReady()
		}
	}
}
