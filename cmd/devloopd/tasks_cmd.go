package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jienckebd/devloop/internal/task"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the current task store's tasks and their status",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&prdID, "prd", "default", "PRD identifier (unused; task stores are currently one-per-workspace)")
}

func statusStyle(s task.Status) lipgloss.Style {
	switch s {
	case task.StatusDone:
		return styleSuccess
	case task.StatusBlocked:
		return styleBlocked
	case task.StatusInProgress:
		return styleInfo
	default:
		return lipgloss.NewStyle()
	}
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, ws, err := resolvedConfig()
	if err != nil {
		return err
	}

	tasksPath := cfg.TaskMasterConfig.TasksPath
	if !filepath.IsAbs(tasksPath) {
		tasksPath = filepath.Join(ws, tasksPath)
	}
	store, err := task.Load(tasksPath, task.WithMaxRetries(cfg.MaxRetries))
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	all := store.AllTasks()
	if len(all) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range all {
		label := statusStyle(t.Status).Render(fmt.Sprintf("[%s]", t.Status))
		fmt.Printf("%s %-8s %s\n", label, t.ID, t.Title)
	}
	return nil
}
