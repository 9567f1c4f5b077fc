// Package main implements devloopd, the autonomous development loop
// daemon. It wires the Task Store, Pattern Memory, Validation Gate,
// Agent IPC Supervisor, Hierarchical Metrics, Event Bus, Checkpoint
// Store, Monitor, and the Task Scheduler / Retry Engine into a single
// process driven by an external code-generating child.
//
// # File Index
//
//   - main.go      - entry point, rootCmd, global flags, component wiring
//   - run_cmd.go   - `devloopd run`, the scheduler loop
//   - tasks_cmd.go - `devloopd tasks`, task list inspection
//   - events_cmd.go - `devloopd events`, event bus inspection
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/jienckebd/devloop/internal/config"
	"github.com/jienckebd/devloop/internal/logging"
)

var (
	workspace  string
	configPath string
	verbose    bool

	zlog *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "devloopd",
	Short: "devloopd - autonomous development loop daemon",
	Long: `devloopd drives an external code-generating agent through iterative
propose-validate-test-retry cycles over a hierarchy of PRDs, phases, and
tasks, persisting progress so a run survives process restarts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		zlog, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zlog != nil {
			_ = zlog.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Project workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "devloop.yaml", "Path to the project config overlay, relative to workspace")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug-level logging")

	rootCmd.AddCommand(runCmd, tasksCmd, eventsCmd)
}

// resolvedConfig loads and validates the effective configuration for
// the current workspace. Only the project layer is read from disk here;
// framework/PRD-set/PRD/phase overlays are the scheduler's concern once
// PRD-set composition exists, out of scope for this single-PRD daemon.
func resolvedConfig() (*config.Config, string, error) {
	ws := workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("resolve workspace: %w", err)
		}
	} else if abs, err := filepath.Abs(ws); err == nil {
		ws = abs
	}

	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws, path)
	}
	project, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	cfg := config.Merge(project)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	logDir := filepath.Join(ws, ".devloop", "logs")
	categories := make(map[logging.Category]bool, len(cfg.Logging.Categories))
	for k, v := range cfg.Logging.Categories {
		categories[logging.Category(k)] = v
	}
	logging.Configure(logging.Options{
		Dir:        logDir,
		DebugMode:  cfg.Logging.DebugMode,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: categories,
	})

	return cfg, ws, nil
}

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "devloopd: maxprocs: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
