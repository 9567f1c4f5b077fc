package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jienckebd/devloop/internal/checkpoint"
	"github.com/jienckebd/devloop/internal/config"
	"github.com/jienckebd/devloop/internal/eventbus"
	"github.com/jienckebd/devloop/internal/execshell"
	"github.com/jienckebd/devloop/internal/ipc"
	"github.com/jienckebd/devloop/internal/metrics"
	"github.com/jienckebd/devloop/internal/monitor"
	"github.com/jienckebd/devloop/internal/pattern"
	"github.com/jienckebd/devloop/internal/scheduler"
	"github.com/jienckebd/devloop/internal/task"
	"github.com/jienckebd/devloop/internal/validation"
)

var (
	prdID      string
	phaseID    string
	childCmd   string
	childArgs  []string
	vcsLookup  bool
)

var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler loop for one PRD's tasks against an external child agent",
	Long: `run drives the Task Scheduler until the task store has no pending or
in-progress task left, dispatching each task to a configured external
code-generating process over the Agent IPC Supervisor.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&prdID, "prd", "default", "PRD identifier this run coordinates")
	runCmd.Flags().StringVar(&phaseID, "phase", "default", "Phase identifier this run coordinates")
	runCmd.Flags().StringVar(&childCmd, "child-cmd", "", "Binary to launch as the code-generating child (required)")
	runCmd.Flags().StringArrayVar(&childArgs, "child-arg", nil, "Argument to append to the child command (repeatable)")
	runCmd.Flags().BoolVar(&vcsLookup, "vcs-lookup", true, "Look up the git commit hash when creating checkpoints")
	runCmd.MarkFlagRequired("child-cmd")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, ws, err := resolvedConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println(styleInfo.Render("received shutdown signal, finishing in-flight iteration..."))
		cancel()
	}()

	if err := os.MkdirAll(filepath.Join(ws, ".devloop"), 0o755); err != nil {
		return fmt.Errorf("create .devloop dir: %w", err)
	}

	tasksPath := cfg.TaskMasterConfig.TasksPath
	if !filepath.IsAbs(tasksPath) {
		tasksPath = filepath.Join(ws, tasksPath)
	}
	tasks, err := task.Load(tasksPath,
		task.WithMaxRetries(cfg.MaxRetries),
		task.WithErrorPathPatterns(cfg.Framework.ErrorPathPatterns),
		task.WithErrorGuidance(cfg.Framework.ErrorGuidance),
	)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	patternPath := filepath.Join(ws, ".devloop", "patterns.yaml")
	patterns, err := pattern.Load(patternPath)
	if err != nil {
		return fmt.Errorf("load patterns: %w", err)
	}

	gate := validation.NewGate()

	bus := eventbus.New()

	sessionID := fmt.Sprintf("%s-%s", prdID, phaseID)
	ipcServer := ipc.NewServer(sessionID, cfg.Logging.DebugMode, bus)
	if err := ipcServer.Start(); err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer ipcServer.Stop()

	metricsPath := cfg.Metrics.Path
	if !filepath.IsAbs(metricsPath) {
		metricsPath = filepath.Join(ws, metricsPath)
	}
	metricsStore, err := metrics.Load(metricsPath)
	if err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}

	checkpointPath := filepath.Join(ws, ".devloop", "checkpoints.json")
	checkpointStore, err := checkpoint.Load(checkpointPath)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}

	executor := execshell.New(nil)

	thresholds := make([]monitor.Threshold, 0, len(cfg.Monitor.Thresholds))
	for _, th := range cfg.Monitor.Thresholds {
		thresholds = append(thresholds, monitor.Threshold{
			IssueType:  th.IssueType,
			Count:      th.Count,
			Window:     th.Window,
			Confidence: th.Confidence,
			AutoAction: th.AutoAction,
		})
	}
	mon := monitor.New(bus, thresholds, nil, cfg.Monitor.MaxPerHour)
	if cfg.Monitor.PollingInterval > 0 {
		go func() {
			if err := mon.Run(ctx, cfg.Monitor.PollingInterval); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "monitor loop stopped: %v\n", err)
			}
		}()
	}

	eventsPath := filepath.Join(ws, ".devloop", "events.jsonl")
	go tailEventsToFile(ctx, bus, eventsPath)

	if _, err := os.Stat(tasksPath); err == nil {
		go func() {
			err := config.WatchFile(ctx, tasksPath, func() {
				added, err := tasks.Reload()
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: tasks reload failed: %v\n", err)
					return
				}
				if added > 0 {
					bus.Emit("taskstore:reloaded", map[string]interface{}{"added": added}, eventbus.EmitOpts{Severity: eventbus.SeverityInfo})
				}
			})
			if err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "warning: tasks file watcher stopped: %v\n", err)
			}
		}()
	}

	launch := func(ctx context.Context, env map[string]string) error {
		c := osExecCommand(ctx, childCmd, childArgs...)
		c.Dir = ws
		c.Env = os.Environ()
		for k, v := range env {
			c.Env = append(c.Env, k+"="+v)
		}
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Start()
	}

	sched := scheduler.New(scheduler.Options{
		PRDID:         prdID,
		PhaseID:       phaseID,
		SessionID:     sessionID,
		ResultTimeout: 300 * time.Second,
		TestCommand:   cfg.Hooks.PostApply,
		WorkDir:       ws,
		VCSLookup:     vcsLookup,
		DebugChild:    cfg.Logging.DebugMode,
	}, tasks, patterns, gate, ipcServer, executor, metricsStore, bus, checkpointStore, launch)

	fmt.Println(styleInfo.Render(fmt.Sprintf("devloopd: running prd=%s phase=%s", prdID, phaseID)))
	runErr := sched.Run(ctx)
	if err := patterns.Save(patternPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist pattern memory: %v\n", err)
	}
	if runErr != nil && ctx.Err() == nil {
		fmt.Println(styleFail.Render(fmt.Sprintf("scheduler stopped: %v", runErr)))
		return runErr
	}

	remaining := 0
	for _, t := range tasks.AllTasks() {
		if t.Status != task.StatusDone {
			remaining++
		}
	}
	if remaining == 0 {
		fmt.Println(styleSuccess.Render("all tasks complete"))
	} else {
		fmt.Println(styleBlocked.Render(fmt.Sprintf("%d task(s) remain blocked or unresolved", remaining)))
	}
	return nil
}

// osExecCommand is a thin seam so the child-process construction can be
// swapped in tests without shelling out for real.
var osExecCommand = exec.CommandContext

// tailEventsToFile appends newly-emitted bus events to path as JSON
// lines, so a later `devloopd events` invocation (a separate process,
// with no access to this run's in-memory ring buffer) can replay them.
func tailEventsToFile(ctx context.Context, bus *eventbus.Bus, path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open events log %s: %v\n", path, err)
		return
	}
	defer f.Close()

	var since uint64
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		events := bus.Poll(eventbus.PollOpts{Since: since, Limit: 10000})
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			f.Write(data)
			f.Write([]byte("\n"))
			since = e.ID
		}
	}
}
