// Package orchestrator is the scheduled driver that wires watchers, the
// executor, and the plan registry together: watcher cadences, the
// Approved/ sweep, terminal-folder archival, and the daily cycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/executor"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/registry"
	"github.com/c360studio/aiemployee/vault"
	"github.com/c360studio/aiemployee/watchers"
)

// DefaultQueueDepthBound is the soft per-(channel,user_id) queue-depth
// bound at which the orchestrator stops dispatching new plans, per §5.
const DefaultQueueDepthBound = 32

// SystemStatusPath is where the JSON status snapshot is written, within
// Logs/ so it shares that directory's write allow-listing.
const SystemStatusPath = vault.DirLogs + "/system-status.json"

// Orchestrator drives the scheduled lifecycle of watchers, approved plans,
// and terminal plans.
type Orchestrator struct {
	store  *vault.Store
	pm     *plan.Manager
	reg    *registry.Registry
	logger *audit.Logger
	exec   *executor.Executor

	cron *cron.Cron

	mu          sync.Mutex
	watcherInfo map[string]watcherInfo

	queueDepthBound int

	bus *EventBus
}

type watcherInfo struct {
	runner watchers.Runner
	health intake.Health
	lastRun time.Time
}

// New returns an Orchestrator. exec is used to dispatch approved plans;
// its adapter lookup must already have every enabled channel registered.
func New(store *vault.Store, pm *plan.Manager, reg *registry.Registry, logger *audit.Logger, exec *executor.Executor) *Orchestrator {
	return &Orchestrator{
		store:           store,
		pm:              pm,
		reg:             reg,
		logger:          logger,
		exec:            exec,
		cron:            cron.New(),
		watcherInfo:     make(map[string]watcherInfo),
		queueDepthBound: DefaultQueueDepthBound,
	}
}

// WithQueueDepthBound overrides the default soft backpressure bound.
func (o *Orchestrator) WithQueueDepthBound(n int) *Orchestrator {
	o.queueDepthBound = n
	return o
}

// WithEventBus attaches an EventBus that watcher runs and plan dispatches
// are published to. Optional: an Orchestrator with no bus attached simply
// skips publishing.
func (o *Orchestrator) WithEventBus(bus *EventBus) *Orchestrator {
	o.bus = bus
	return o
}

// ScheduleWatcher runs r in `once` mode every interval, writing its
// readiness sentinel on first success. Intervals are expected in the
// 5-30 minute range per §4.7.
func (o *Orchestrator) ScheduleWatcher(r watchers.Runner, interval time.Duration) error {
	o.mu.Lock()
	o.watcherInfo[r.Name()] = watcherInfo{runner: r, health: intake.HealthHealthy}
	o.mu.Unlock()

	_, err := o.cron.AddFunc(everySpec(interval), func() {
		o.runWatcherOnce(r)
	})
	return err
}

func (o *Orchestrator) runWatcherOnce(r watchers.Runner) {
	result, err := r.RunOnce(context.Background())
	health := result.Health
	if err != nil {
		health = intake.HealthDegraded
	} else if health == "" {
		health = intake.HealthHealthy
	}

	o.mu.Lock()
	o.watcherInfo[r.Name()] = watcherInfo{runner: r, health: health, lastRun: time.Now().UTC()}
	o.mu.Unlock()

	o.bus.publishWatcherRan(r.Name(), string(health))
	watcherRunsTotal.WithLabelValues(r.Name(), string(health)).Inc()

	if err == nil && health != intake.HealthOffline {
		_ = watchers.WriteReady(r.Name())
	}
}

// ScheduleApprovedSweep runs SweepApproved every interval.
func (o *Orchestrator) ScheduleApprovedSweep(interval time.Duration) error {
	_, err := o.cron.AddFunc(everySpec(interval), func() {
		_, _ = o.SweepApproved(context.Background())
	})
	return err
}

// ScheduleTerminalSweep runs SweepTerminal every interval.
func (o *Orchestrator) ScheduleTerminalSweep(interval time.Duration) error {
	_, err := o.cron.AddFunc(everySpec(interval), func() {
		_, _ = o.SweepTerminal(context.Background())
	})
	return err
}

// ScheduleDailyCycle runs cycle at the given standard 5-field cron
// expression (e.g. "0 6 * * *" for 06:00 UTC).
func (o *Orchestrator) ScheduleDailyCycle(cronSpec string, cycle DailyCycle) error {
	_, err := o.cron.AddFunc(cronSpec, func() {
		_, _ = o.RunDailyCycle(context.Background(), cycle)
	})
	return err
}

func everySpec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval.String())
}

// Start begins the cron scheduler. It does not block; call Stop to halt it.
func (o *Orchestrator) Start() { o.cron.Start() }

// Stop halts the cron scheduler and waits for running jobs to finish.
func (o *Orchestrator) Stop() context.Context { return o.cron.Stop() }

// SweepApproved dispatches every plan file currently under Approved/ to
// the executor, honoring the per-(channel,user_id) backpressure bound:
// a pair already at the bound is skipped and logged degraded rather than
// dispatched, per §5.
func (o *Orchestrator) SweepApproved(ctx context.Context) (int, error) {
	if err := o.reg.Reconcile(ctx, o.store, o.pm, o.logger); err != nil {
		return 0, err
	}

	paths, err := o.pm.ListApproved()
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, relPath := range paths {
		p, err := o.pm.Load(relPath)
		if err != nil {
			continue
		}
		row, err := o.reg.Get(ctx, p.ID)
		if err != nil {
			continue
		}

		if o.exec.QueueDepth(row.Channel, row.UserID) >= o.queueDepthBound {
			_ = o.logger.Log(audit.Entry{
				Timestamp:  time.Now().UTC(),
				ActionType: "sweep_approved",
				Actor:      "orchestrator",
				Target:     p.ID,
				Result:     audit.ResultDegraded,
				Error:      fmt.Sprintf("queue depth bound reached for %s/%s", row.Channel, row.UserID),
			})
			continue
		}

		if _, _, err := o.exec.Run(ctx, relPath); err != nil {
			continue
		}
		o.bus.publishPlanDispatched(string(row.Channel), p.ID)
		planTransitionsTotal.WithLabelValues("dispatched").Inc()
		dispatched++
	}
	return dispatched, nil
}

// SweepTerminal archives every completed/failed plan not already marked
// archived in the registry.
func (o *Orchestrator) SweepTerminal(ctx context.Context) (int, error) {
	paths, err := o.pm.ListTerminal()
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, relPath := range paths {
		p, err := o.pm.Load(relPath)
		if err != nil {
			continue
		}
		row, err := o.reg.Get(ctx, p.ID)
		if err != nil {
			continue
		}
		if row.Status == plan.StatusArchived {
			continue
		}
		row = o.pm.Archive(row)
		if err := o.reg.Upsert(ctx, row); err != nil {
			continue
		}
		planTransitionsTotal.WithLabelValues("archived").Inc()
		archived++
	}
	return archived, nil
}

// Status is the system-status snapshot of §4.7/§6.
type Status struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Watchers    map[string]WatcherState `json:"watchers"`
	QueueDepths map[string]int          `json:"queue_depths"`
	LastDailyCycle *DailyCycleResult    `json:"last_daily_cycle,omitempty"`
}

// WatcherState summarizes one watcher's last-known health.
type WatcherState struct {
	Health  intake.Health `json:"health"`
	LastRun time.Time     `json:"last_run"`
}

// WriteSystemStatus renders and persists the current Status snapshot.
func (o *Orchestrator) WriteSystemStatus(now time.Time, lastDailyCycle *DailyCycleResult) error {
	o.mu.Lock()
	watcherStates := make(map[string]WatcherState, len(o.watcherInfo))
	for name, info := range o.watcherInfo {
		watcherStates[name] = WatcherState{Health: info.health, LastRun: info.lastRun}
	}
	o.mu.Unlock()

	status := Status{
		GeneratedAt:    now.UTC(),
		Watchers:       watcherStates,
		QueueDepths:    o.exec.PairDepths(),
		LastDailyCycle: lastDailyCycle,
	}

	data, err := renderStatusJSON(status)
	if err != nil {
		return errs.Precondition("marshal system status", err)
	}
	return o.store.WriteAtomic(SystemStatusPath, data)
}

// RunDailyCycle runs the briefing generation, accounting audit, and
// optional bounded autonomy loop of §4.7.
func (o *Orchestrator) RunDailyCycle(ctx context.Context, cycle DailyCycle) (DailyCycleResult, error) {
	now := time.Now().UTC()
	result := DailyCycleResult{RanAt: now}

	if cycle.BriefingGenerator != nil {
		briefing, err := cycle.BriefingGenerator(ctx)
		if err != nil {
			result.BriefingError = err.Error()
		} else {
			path := fmt.Sprintf("%s/briefing__%s.md", vault.DirBusinessBriefings, now.Format("20060102"))
			if err := o.store.WriteAtomic(path, []byte(briefing)); err != nil {
				result.BriefingError = err.Error()
			} else {
				result.BriefingPath = path
			}
		}
	}

	if cycle.AccountingChannel != nil {
		rows, err := cycle.AccountingChannel.List(ctx, map[string]any{"action": "ar_aging"})
		if err != nil {
			result.AccountingAuditError = err.Error()
		} else {
			result.AccountingAuditCount = len(rows)
		}
	}

	if cycle.Autonomy != nil {
		autonomyResult, err := o.RunAutonomyLoop(ctx, *cycle.Autonomy)
		if err != nil {
			result.AutonomyError = err.Error()
		} else {
			result.Autonomy = &autonomyResult
		}
	}

	_ = o.logger.Log(audit.Entry{
		Timestamp:  now,
		ActionType: "daily_cycle",
		Actor:      "orchestrator",
		Target:     "daily_cycle",
		Result:     audit.ResultOK,
	})

	return result, nil
}

// DailyCycle configures one invocation of the daily cycle. Every field is
// optional; a nil field skips that part of the cycle.
type DailyCycle struct {
	BriefingGenerator func(ctx context.Context) (string, error)
	AccountingChannel adapters.Channel
	Autonomy          *AutonomyTask
}

// DailyCycleResult records what a daily cycle run actually did.
type DailyCycleResult struct {
	RanAt                 time.Time      `json:"ran_at"`
	BriefingPath          string         `json:"briefing_path,omitempty"`
	BriefingError         string         `json:"briefing_error,omitempty"`
	AccountingAuditCount  int            `json:"accounting_audit_count,omitempty"`
	AccountingAuditError  string         `json:"accounting_audit_error,omitempty"`
	Autonomy              *AutonomyResult `json:"autonomy,omitempty"`
	AutonomyError         string         `json:"autonomy_error,omitempty"`
}
