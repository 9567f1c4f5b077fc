package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jienckebd/devloop/internal/eventbus"
)

var (
	eventsSince uint64
	eventsTypes []string
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Replay events recorded by the most recent `devloopd run` in this workspace",
	Long: `events reads the JSON-lines event log a `+"`run`"+` invocation appends to
.devloop/events.jsonl and prints matching entries. It has no live connection
to a running daemon — only events already flushed to disk are visible.`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsSince, "since", 0, "Only show events with id strictly greater than this")
	eventsCmd.Flags().StringArrayVar(&eventsTypes, "type", nil, "Only show events of this type (repeatable)")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "Maximum number of events to print")
}

func runEvents(cmd *cobra.Command, args []string) error {
	_, ws, err := resolvedConfig()
	if err != nil {
		return err
	}

	path := filepath.Join(ws, ".devloop", "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no events recorded yet; run `devloopd run` first")
			return nil
		}
		return fmt.Errorf("open events log: %w", err)
	}
	defer f.Close()

	typeSet := make(map[string]struct{}, len(eventsTypes))
	for _, t := range eventsTypes {
		typeSet[t] = struct{}{}
	}

	printed := 0
	limit := eventsLimit
	if limit <= 0 {
		limit = 100
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if printed >= limit {
			break
		}
		var e eventbus.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.ID <= eventsSince {
			continue
		}
		if len(typeSet) > 0 {
			if _, ok := typeSet[e.Type]; !ok {
				continue
			}
		}
		printEvent(e)
		printed++
	}
	return scanner.Err()
}

func printEvent(e eventbus.Event) {
	style := styleInfo
	switch e.Severity {
	case eventbus.SeverityError:
		style = styleFail
	case eventbus.SeverityWarn:
		style = styleBlocked
	}
	fmt.Printf("%s #%d %s %s\n", style.Render(string(e.Severity)), e.ID, e.Timestamp.Format("15:04:05"), e.Type)
	if e.TaskID != "" {
		fmt.Printf("    task=%s\n", e.TaskID)
	}
}
