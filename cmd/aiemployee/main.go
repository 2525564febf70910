// Package main implements the aiemployee CLI: the standalone debug/ops
// surface for watchers, the executor, and the orchestrator's sweeps and
// daily cycle.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/aiemployee/config"
	"github.com/c360studio/aiemployee/errs"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes per the CLI surface of §6.
const (
	exitOK           = 0
	exitPartial      = 1
	exitFatalConfig  = 2
	exitUpstreamAuth = 3
	exitCancelled    = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		vaultRoot  string
		mode       string
	)

	rootCmd := &cobra.Command{
		Use:     "aiemployee",
		Short:   "AI employee core: perception, plan lifecycle, and execution",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&vaultRoot, "vault", "", "override vault root")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "mock", "adapter mode: mock|real")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	loadApp := func() (*App, error) {
		cfg, err := loadConfig(configPath, logger)
		if err != nil {
			return nil, err
		}
		if vaultRoot != "" {
			cfg.Vault.Root = vaultRoot
		}
		if err := cfg.Validate(); err != nil {
			return nil, errs.Precondition("invalid config", err)
		}
		return NewApp(cfg, logger, mode)
	}

	rootCmd.AddCommand(
		newWatchCmd(loadApp),
		newSweepCmd(loadApp),
		newExecuteCmd(loadApp),
		newDailyCycleCmd(loadApp),
		newStatusCmd(loadApp),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return classifyExit(ctx, err)
	}
	return exitCode
}

// exitCode is set by subcommands that need to report partial success
// (exit 1) even though cobra's RunE returned nil.
var exitCode = exitOK

func classifyExit(ctx context.Context, err error) int {
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "cancelled:", err)
		return exitCancelled
	}
	if e, ok := errs.As(err); ok {
		switch e.Kind {
		case errs.KindAuth:
			fmt.Fprintln(os.Stderr, "upstream authentication error:", err)
			return exitUpstreamAuth
		case errs.KindPrecondition:
			fmt.Fprintln(os.Stderr, "configuration error:", err)
			return exitFatalConfig
		case errs.KindCancelled:
			fmt.Fprintln(os.Stderr, "cancelled:", err)
			return exitCancelled
		}
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitPartial
}

func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	loader := config.NewLoader(logger)
	return loader.Load()
}

func parseInterval(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
