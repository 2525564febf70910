// Package watchers defines the shared perception-only contract every
// source watcher implements: single-shot or looped runs, a readiness
// sentinel, checkpoint-gated at-most-once delivery, and degradation
// handling. No watcher performs external mutation.
package watchers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/vault"
)

// RunResult summarizes one watcher iteration.
type RunResult struct {
	NewIntakes int
	Health     intake.Health
}

// Runner is the shared contract every source watcher implements.
type Runner interface {
	Name() string
	RunOnce(ctx context.Context) (RunResult, error)
}

// SentinelDir is where readiness sentinel files are written, per §4.4(b).
// A package variable, not a constant, so tests can redirect it into a
// temp directory.
var SentinelDir = os.TempDir()

// WriteReady creates or refreshes the readiness sentinel for name.
func WriteReady(name string) error {
	path := filepath.Join(SentinelDir, name+".ready")
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// Loop drives r on a fixed interval until ctx is cancelled. A single
// iteration's error is handed to onError and never propagated — per the
// propagation policy of §7, a watcher recovers locally and never crashes
// the orchestrator. once=true runs exactly one iteration and returns its
// error directly, for the CLI's --once mode.
func Loop(ctx context.Context, r Runner, interval time.Duration, once bool, onError func(error)) error {
	if once {
		result, err := r.RunOnce(ctx)
		if err != nil {
			return err
		}
		if result.Health != intake.HealthOffline {
			return WriteReady(r.Name())
		}
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ready := false
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if onError != nil {
				onError(err)
			}
		} else if !ready {
			if werr := WriteReady(r.Name()); werr == nil {
				ready = true
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// EmitRemediation writes a remediation intake item under Needs_Action/,
// the operator-actionable artifact a degraded watcher run produces
// exactly once per blocked episode (§4.4 degradation rule 2).
func EmitRemediation(store *vault.Store, logger *audit.Logger, source string, now time.Time, detail string) error {
	item := intake.Item{
		Source:   "watcher:" + source,
		Received: now,
		Type:     intake.TypeTask,
		ID:       fmt.Sprintf("remediation-%s-%d", source, now.UTC().Unix()),
		Subject:  fmt.Sprintf("%s watcher degraded", source),
		Urgency:  "high",
		Excerpt:  detail,
	}
	path := fmt.Sprintf("%s/remediation__%s__%s.md", vault.DirNeedsAction, source, now.UTC().Format("20060102-1504"))
	if err := store.WriteAtomic(path, item.Render()); err != nil {
		return err
	}
	return logger.Log(audit.Entry{
		Timestamp:  now,
		ActionType: "watcher_degraded",
		Actor:      "watcher:" + source,
		Target:     source,
		Result:     audit.ResultDegraded,
		Error:      detail,
	})
}

// PollConfig parameterizes the shared list -> read -> wrap -> checkpoint
// cycle every adapter-backed watcher runs (gmail, whatsapp, linkedin,
// instagram, odoo). Filesystem is the exception: it watches the vault
// tree directly rather than an adapter.
type PollConfig struct {
	Source      string
	Store       *vault.Store
	Checkpoints *intake.CheckpointStore
	Logger      *audit.Logger
	Channel     adapters.Channel
	Query       map[string]any

	// IdentityOf extracts the at-most-once identity column from a List
	// result element (§4.4's "Identity" table column).
	IdentityOf func(listed map[string]any) string

	// ToIntake builds the wrapper Item from a Read result. wrapperPath
	// is pre-computed from Source/identity/timestamp per the
	// destination convention in §4.4's table.
	ToIntake func(read map[string]any, now time.Time) intake.Item

	// WrapperPath returns the vault-relative destination path for one
	// new intake, e.g. "Needs_Action/gmail__<from>__<subject>__<ts>.md".
	WrapperPath func(item intake.Item, now time.Time) string
}

// Poll runs one list -> read -> wrap -> checkpoint cycle. On an auth
// failure from the adapter it degrades per §4.4 rather than erroring:
// logs result=degraded, emits at most one remediation intake per blocked
// episode, and returns normally with zero new intakes so the caller's
// readiness sentinel is still written.
func Poll(ctx context.Context, cfg PollConfig) (RunResult, error) {
	cp, err := cfg.Checkpoints.Load(cfg.Source)
	if err != nil {
		return RunResult{}, err
	}
	now := time.Now().UTC()

	listed, err := cfg.Channel.List(ctx, cfg.Query)
	if err != nil {
		return handlePollError(cfg, cp, now, err)
	}

	wasBlocked := cp.IsBlocked()
	cp.ClearDegraded()
	created := 0

	for _, raw := range listed {
		id := cfg.IdentityOf(raw)
		if id == "" || cp.Seen(id) {
			continue
		}

		detail, err := cfg.Channel.Read(ctx, id)
		if err != nil {
			return handlePollError(cfg, cp, now, err)
		}

		item := cfg.ToIntake(detail, now)
		item.Source = cfg.Source
		item.ID = id
		wrapperPath := cfg.WrapperPath(item, now)

		if err := cfg.Store.WriteAtomic(wrapperPath, item.Render()); err != nil {
			return RunResult{}, err
		}
		cp.MarkProcessed(id)
		created++

		if err := cfg.Logger.Log(audit.Entry{
			Timestamp:  now,
			ActionType: "watcher_run",
			Actor:      "watcher:" + cfg.Source,
			Target:     wrapperPath,
			Result:     audit.ResultOK,
		}); err != nil {
			return RunResult{}, err
		}
	}

	cp.Health = intake.HealthHealthy
	cp.LastRunAt = now
	if err := cfg.Checkpoints.Save(cfg.Source, cp); err != nil {
		return RunResult{}, err
	}
	if wasBlocked {
		if err := cfg.Logger.Log(audit.Entry{
			Timestamp:  now,
			ActionType: "watcher_recovered",
			Actor:      "watcher:" + cfg.Source,
			Target:     cfg.Source,
			Result:     audit.ResultOK,
		}); err != nil {
			return RunResult{}, err
		}
	}
	return RunResult{NewIntakes: created, Health: cp.Health}, nil
}

func handlePollError(cfg PollConfig, cp *intake.Checkpoint, now time.Time, pollErr error) (RunResult, error) {
	e, ok := errs.As(pollErr)
	if !ok || e.Kind != errs.KindAuth {
		return RunResult{}, pollErr
	}

	firstInEpisode := cp.MarkDegraded(now)
	if firstInEpisode {
		if err := EmitRemediation(cfg.Store, cfg.Logger, cfg.Source, now, e.Detail); err != nil {
			return RunResult{}, err
		}
	} else {
		if err := cfg.Logger.Log(audit.Entry{
			Timestamp:  now,
			ActionType: "watcher_run",
			Actor:      "watcher:" + cfg.Source,
			Target:     cfg.Source,
			Result:     audit.ResultDegraded,
			Error:      e.Detail,
		}); err != nil {
			return RunResult{}, err
		}
	}
	cp.LastRunAt = now
	if err := cfg.Checkpoints.Save(cfg.Source, cp); err != nil {
		return RunResult{}, err
	}
	return RunResult{Health: intake.HealthDegraded}, nil
}
