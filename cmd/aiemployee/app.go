package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/config"
	"github.com/c360studio/aiemployee/executor"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/orchestrator"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/registry"
	"github.com/c360studio/aiemployee/vault"
	"github.com/c360studio/aiemployee/watchers"
	"github.com/c360studio/aiemployee/watchers/filesystem"
	"github.com/c360studio/aiemployee/watchers/gmail"
	"github.com/c360studio/aiemployee/watchers/instagram"
	"github.com/c360studio/aiemployee/watchers/linkedin"
	"github.com/c360studio/aiemployee/watchers/odoo"
	"github.com/c360studio/aiemployee/watchers/whatsapp"
)

// App wires together every component the CLI subcommands need. It owns no
// goroutines itself; subcommands decide whether to run once or loop.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store       *vault.Store
	auditLogger *audit.Logger
	checkpoints *intake.CheckpointStore
	plans       *plan.Manager
	reg         *registry.Registry
	exec        *executor.Executor
	orch        *orchestrator.Orchestrator
	bus         *orchestrator.EventBus

	watchers map[string]watcherEntry
}

type watcherEntry struct {
	runner   watchers.Runner
	interval config.WatcherConfig
}

// NewApp constructs every component from cfg and, per mode, registers
// either mock or real channel adapters for every enabled watcher.
func NewApp(cfg *config.Config, logger *slog.Logger, mode string) (*App, error) {
	root := cfg.Vault.Root
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve vault root: %w", err)
		}
	}

	store, err := vault.New(root)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if err := store.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("ensure vault layout: %w", err)
	}

	auditLogger := audit.NewLogger(store)
	checkpoints := intake.NewCheckpointStore(store)
	plans := plan.NewManager(store).WithDefaultApprover(cfg.Vault.DefaultApprover)

	reg, err := registry.Open(resolvePath(root, cfg.Registry.Path))
	if err != nil {
		return nil, fmt.Errorf("open plan registry: %w", err)
	}

	if err := registerAdapters(cfg, mode, logger); err != nil {
		reg.Close()
		return nil, fmt.Errorf("register adapters: %w", err)
	}

	exec := executor.New(store, plans, reg, auditLogger, adapters.Get)
	exec.SetRetryObserver(orchestrator.ObserveExecutorRetry)

	bus, err := orchestrator.NewEventBus()
	if err != nil {
		logger.Warn("event bus unavailable, watcher/dispatch events will not be published", "error", err)
	}

	orch := orchestrator.New(store, plans, reg, auditLogger, exec).
		WithQueueDepthBound(cfg.Orchestrator.QueueDepthBound).
		WithEventBus(bus)

	if cfg.Orchestrator.MetricsAddr != "" {
		go func() {
			if err := orchestrator.ServeMetrics(cfg.Orchestrator.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	app := &App{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		auditLogger: auditLogger,
		checkpoints: checkpoints,
		plans:       plans,
		reg:         reg,
		exec:        exec,
		orch:        orch,
		bus:         bus,
		watchers:    buildWatchers(cfg, store, checkpoints, auditLogger),
	}
	return app, nil
}

// Close releases resources the App owns (registry database handle, event
// bus connection).
func (a *App) Close() {
	if a.reg != nil {
		a.reg.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
}

func resolvePath(root, p string) string {
	if p == "" || os.IsPathSeparator(p[0]) {
		return p
	}
	return root + string(os.PathSeparator) + p
}

func buildWatchers(cfg *config.Config, store *vault.Store, checkpoints *intake.CheckpointStore, logger *audit.Logger) map[string]watcherEntry {
	entries := make(map[string]watcherEntry)

	if w, ok := cfg.Watchers["filesystem"]; ok && w.Enabled {
		entries["filesystem"] = watcherEntry{runner: filesystem.New(store, checkpoints, logger), interval: w}
	}
	if w, ok := cfg.Watchers["gmail"]; ok && w.Enabled {
		if ch := adapters.Get("gmail"); ch != nil {
			entries["gmail"] = watcherEntry{runner: gmail.New(ch, store, checkpoints, logger, "is:unread"), interval: w}
		}
	}
	if w, ok := cfg.Watchers["whatsapp"]; ok && w.Enabled {
		if ch := adapters.Get("whatsapp"); ch != nil {
			entries["whatsapp"] = watcherEntry{runner: whatsapp.New(ch, store, checkpoints, logger), interval: w}
		}
	}
	if w, ok := cfg.Watchers["linkedin"]; ok && w.Enabled {
		if ch := adapters.Get("linkedin"); ch != nil {
			entries["linkedin"] = watcherEntry{runner: linkedin.New(ch, store, checkpoints, logger), interval: w}
		}
	}
	if w, ok := cfg.Watchers["instagram"]; ok && w.Enabled {
		if ch := adapters.Get("instagram"); ch != nil {
			entries["instagram"] = watcherEntry{runner: instagram.New(ch, store, checkpoints, logger), interval: w}
		}
	}
	if w, ok := cfg.Watchers["odoo"]; ok && w.Enabled {
		if ch := adapters.Get("odoo"); ch != nil {
			entries["odoo"] = watcherEntry{runner: odoo.New(ch, store, checkpoints, logger), interval: w}
		}
	}
	return entries
}
