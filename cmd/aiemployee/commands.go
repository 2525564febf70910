package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/orchestrator"
	"github.com/c360studio/aiemployee/watchers"
)

type appLoader func() (*App, error)

func newWatchCmd(load appLoader) *cobra.Command {
	var loop bool
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "watch [source]",
		Short: "Run one perception watcher, or all enabled watchers, once or in a loop",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			targets := app.watchers
			if len(args) == 1 {
				entry, ok := app.watchers[args[0]]
				if !ok {
					return fmt.Errorf("watcher %q is not enabled in config", args[0])
				}
				targets = map[string]watcherEntry{args[0]: entry}
			}
			if len(targets) == 0 {
				fmt.Fprintln(os.Stderr, "no watchers enabled")
				return nil
			}

			ctx := cmd.Context()
			errCh := make(chan error, len(targets))
			for name, entry := range targets {
				name, entry := name, entry
				interval := parseInterval(intervalSeconds, entry.interval.Interval)
				go func() {
					errCh <- watchers.Loop(ctx, entry.runner, interval, !loop, func(err error) {
						app.logger.Error("watcher iteration failed", "watcher", name, "error", err)
					})
				}()
			}

			var firstErr error
			for range targets {
				if err := <-errCh; err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if firstErr != nil {
				exitCode = exitPartial
			}
			return firstErr
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "run until signaled (default: run once and exit)")
	cmd.Flags().IntVar(&intervalSeconds, "interval", 0, "iteration delay in seconds (overrides config)")
	return cmd
}

func newSweepCmd(load appLoader) *cobra.Command {
	var loop bool
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Dispatch Approved/ plans to the executor and archive terminal plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			runSweep := func() error {
				dispatched, err := app.orch.SweepApproved(ctx)
				if err != nil {
					return err
				}
				archived, err := app.orch.SweepTerminal(ctx)
				if err != nil {
					return err
				}
				app.logger.Info("sweep complete", "dispatched", dispatched, "archived", archived)
				return nil
			}

			if !loop {
				return runSweep()
			}

			interval := parseInterval(intervalSeconds, app.cfg.Orchestrator.ApprovedSweepInterval)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := runSweep(); err != nil {
					app.logger.Error("sweep failed", "error", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "run until signaled (default: run once and exit)")
	cmd.Flags().IntVar(&intervalSeconds, "interval", 0, "loop delay in seconds (overrides config)")
	return cmd
}

func newExecuteCmd(load appLoader) *cobra.Command {
	var execute bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "execute <vault-relative-path>",
		Short: "Dispatch a single Approved/ plan file through the executor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			relPath := args[0]
			if dryRun && !execute {
				p, err := app.plans.Load(relPath)
				if err != nil {
					return err
				}
				ch := adapters.Get(string(p.Channel))
				if ch == nil {
					return fmt.Errorf("no adapter registered for channel %q", p.Channel)
				}
				preview, err := ch.DryRun(cmd.Context(), p.ActionType, p.Payload)
				if err != nil {
					return err
				}
				fmt.Println(preview.Summary)
				return nil
			}
			if !execute {
				return fmt.Errorf("refusing to mutate without --execute (pass --dry-run to preview instead)")
			}

			p, outcome, err := app.exec.Run(cmd.Context(), relPath)
			if err != nil {
				exitCode = exitPartial
				return err
			}
			fmt.Printf("plan %s: %s\n", p.ID, outcome)
			return nil
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "opt in to mutation (required for write)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview only; do not call execute")
	return cmd
}

func newDailyCycleCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daily-cycle",
		Short: "Run the briefing generator, accounting audit, and bounded autonomy loop once",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			cycle := orchestrator.DailyCycle{
				AccountingChannel: adapters.Get("odoo"),
			}

			result, err := app.orch.RunDailyCycle(cmd.Context(), cycle)
			if err != nil {
				return err
			}
			if result.BriefingError != "" || result.AccountingAuditError != "" || result.AutonomyError != "" {
				exitCode = exitPartial
			}
			return app.orch.WriteSystemStatus(time.Now().UTC(), &result)
		},
	}
	return cmd
}

func newStatusCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Write and print the system-status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := load()
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.orch.WriteSystemStatus(time.Now().UTC(), nil); err != nil {
				return err
			}
			data, err := app.store.Read(orchestrator.SystemStatusPath)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
	return cmd
}
