// Package scheduler implements the Task Scheduler / Retry Engine: the
// loop that pulls the next pending task, dispatches it to an external
// code-generating child process over the Agent IPC Supervisor, validates
// and applies the proposed change-set, runs the external test command,
// and classifies the outcome into either a completed task or a
// synthesized fix task. One Scheduler coordinates one PRD; a PRD-set
// orchestrator composing several schedulers by dependency owns multi-PRD
// sequencing and is out of scope here.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jienckebd/devloop/internal/checkpoint"
	"github.com/jienckebd/devloop/internal/eventbus"
	"github.com/jienckebd/devloop/internal/execshell"
	"github.com/jienckebd/devloop/internal/ipc"
	"github.com/jienckebd/devloop/internal/logging"
	"github.com/jienckebd/devloop/internal/metrics"
	"github.com/jienckebd/devloop/internal/pattern"
	"github.com/jienckebd/devloop/internal/task"
	"github.com/jienckebd/devloop/internal/validation"
)

// ChildLauncher starts (or reuses) the code-generating child process for
// one request, given the environment variables it must read:
// DEVLOOP_IPC_SOCKET, DEVLOOP_SESSION_ID, DEVLOOP_REQUEST_ID,
// DEVLOOP_DEBUG. It returns once the child has been started; the
// scheduler then awaits its result independently over the IPC socket.
type ChildLauncher func(ctx context.Context, env map[string]string) error

// CodeChange mirrors the code_changes payload's per-file entry; Kind,
// Content, and Patches carry the same meaning as validation.Change.
type CodeChange struct {
	Path    string             `json:"path"`
	Kind    string             `json:"kind"`
	Content string             `json:"content,omitempty"`
	Patches []validation.Patch `json:"patches,omitempty"`
}

type codeChangesPayload struct {
	Changes []CodeChange `json:"changes"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Options configures a Scheduler.
type Options struct {
	PRDID         string
	PhaseID       string
	SessionID     string
	ResultTimeout time.Duration
	TestCommand   []string
	WorkDir       string
	VCSLookup     bool
	DebugChild    bool
}

// Scheduler coordinates one PRD's task list against an external child
// process, in the single-process cooperative-concurrency model: one
// iteration of Run suspends at socket I/O, child-process spawn, file
// I/O, and external test execution, never forking additional scheduler
// threads.
type Scheduler struct {
	opts Options

	tasks       *task.Store
	patterns    *pattern.Memory
	gate        *validation.Gate
	ipcServer   *ipc.Server
	exec        *execshell.Executor
	metrics     *metrics.Store
	bus         *eventbus.Bus
	checkpoints *checkpoint.Store
	launch      ChildLauncher

	log *logging.Logger
}

// New builds a Scheduler wired to the given components. launch is
// invoked once per iteration to start (or hand the request to) the
// child process; ipcServer must already be started.
func New(
	opts Options,
	tasks *task.Store,
	patterns *pattern.Memory,
	gate *validation.Gate,
	ipcServer *ipc.Server,
	exec *execshell.Executor,
	metricsStore *metrics.Store,
	bus *eventbus.Bus,
	checkpoints *checkpoint.Store,
	launch ChildLauncher,
) *Scheduler {
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = 300 * time.Second
	}
	return &Scheduler{
		opts:        opts,
		tasks:       tasks,
		patterns:    patterns,
		gate:        gate,
		ipcServer:   ipcServer,
		exec:        exec,
		metrics:     metricsStore,
		bus:         bus,
		checkpoints: checkpoints,
		launch:      launch,
		log:         logging.Get(logging.CategoryScheduler),
	}
}

// Run drives the scheduler loop until the Task Store has no eligible
// pending or in-progress task, or ctx is cancelled. It returns the first
// fatal error encountered — persistence failure, or an IPC wait error
// that isn't a plain timeout — leaving the task store in whatever state
// the last successful write produced.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pending := s.tasks.Pending()
		if len(pending) == 0 {
			return nil
		}

		if err := s.iterate(ctx, pending[0]); err != nil {
			return err
		}
	}
}

// iterate runs one full scheduler iteration for t: build the prompt
// fragment, mark in-progress, dispatch, await result, validate, apply,
// test, classify, and record the outcome.
func (s *Scheduler) iterate(ctx context.Context, t *task.Task) error {
	targetFiles := task.TargetFiles(t)
	guidance := s.patterns.GuidancePrompt(t.Title+"\n"+t.Description, targetFiles)

	if err := s.tasks.UpdateStatus(t.ID, task.StatusInProgress); err != nil {
		s.log.Error("fatal: could not persist in-progress for task %s: %v", t.ID, err)
		return fmt.Errorf("scheduler: persist in-progress for task %s: %w", t.ID, err)
	}

	requestID := uuid.NewString()
	start := time.Now()

	env := map[string]string{
		"DEVLOOP_IPC_SOCKET": s.ipcServer.SocketPath(),
		"DEVLOOP_SESSION_ID": s.opts.SessionID,
		"DEVLOOP_REQUEST_ID": requestID,
		"DEVLOOP_DEBUG":      fmt.Sprintf("%t", s.opts.DebugChild),
	}
	if guidance != "" {
		s.emit("scheduler:guidance_attached", map[string]interface{}{"taskId": t.ID, "requestId": requestID})
	}

	if err := s.launch(ctx, env); err != nil {
		return s.recordOutcome(ctx, t, false, time.Since(start), fmt.Sprintf("failed to launch child process: %v", err), "")
	}

	msg, err := s.ipcServer.WaitForResult(ctx, requestID, s.opts.ResultTimeout)
	if err != nil {
		return fmt.Errorf("scheduler: wait for result on task %s: %w", t.ID, err)
	}
	if msg == nil {
		return s.recordOutcome(ctx, t, false, time.Since(start), "timeout", "")
	}

	if msg.Type == ipc.TypeError {
		var ep errorPayload
		_ = decodePayload(msg.Payload, &ep)
		return s.recordOutcome(ctx, t, false, time.Since(start), ep.Message, "")
	}

	var payload codeChangesPayload
	if msg.Type == ipc.TypeCodeChanges {
		if err := decodePayload(msg.Payload, &payload); err != nil {
			return s.recordOutcome(ctx, t, false, time.Since(start), fmt.Sprintf("malformed code_changes payload: %v", err), "")
		}
	}

	changes := toValidationChanges(payload.Changes)
	allowed := targetFiles
	if len(allowed) == 0 {
		// No declared target files: the task names no specific path, so
		// fall back to whatever paths the child itself proposed.
		for _, c := range changes {
			allowed = append(allowed, c.Path)
		}
	}

	// Screen every proposed path for traversal/reserved-name unsafety
	// before it ever reaches the Gate's boundary/destructive checks: a
	// path that fails this can never legitimately match an allowed path
	// anyway, so rejecting it here is a strictly earlier version of the
	// same boundary failure.
	if pathErrs := validatePathSafety(changes); len(pathErrs) > 0 {
		summary := summarizeErrors(pathErrs)
		s.recordPatternOccurrences(summary, allowed, "")
		return s.recordOutcome(ctx, t, false, time.Since(start), summary, "")
	}

	result := s.gate.Validate(changes, allowed)
	if result.Blocking() {
		s.emitValidationErrors(t.ID, result.Errors)
		summary := summarizeErrors(result.Errors)
		s.recordPatternOccurrences(summary, allowed, "")
		return s.recordOutcome(ctx, t, false, time.Since(start), summary, "")
	}

	if err := applyChanges(changes, s.log); err != nil {
		return s.recordOutcome(ctx, t, false, time.Since(start), fmt.Sprintf("apply change-set: %v", err), "")
	}

	testOutput := ""
	testsPassed := true
	if len(s.opts.TestCommand) > 0 {
		res, err := s.exec.RunTestCommand(ctx, s.opts.TestCommand, s.opts.WorkDir)
		if err != nil && res == nil {
			return s.recordOutcome(ctx, t, false, time.Since(start), fmt.Sprintf("test command error: %v", err), "")
		}
		testsPassed = res.Success
		testOutput = res.Output
	}

	if !testsPassed {
		s.recordPatternOccurrences(testOutput, allowed, "")
	}

	return s.recordOutcome(ctx, t, testsPassed, time.Since(start), "", testOutput)
}

// recordOutcome classifies the iteration's outcome, updates metrics and
// checkpoints, and either marks t done or drives the fix-task path.
func (s *Scheduler) recordOutcome(ctx context.Context, t *task.Task, success bool, duration time.Duration, errorDescription, testOutput string) error {
	_ = s.metrics.RecordTask(t.ID, metrics.Outcome{Success: success, Duration: duration})
	_ = s.metrics.RecordPhase(s.opts.PRDID, s.opts.PhaseID, metrics.Outcome{Success: success, Duration: duration})

	if success {
		if err := s.tasks.UpdateStatus(t.ID, task.StatusDone); err != nil {
			return fmt.Errorf("scheduler: persist done for task %s: %w", t.ID, err)
		}
		s.emit("task:complete", map[string]interface{}{"taskId": t.ID})
		if s.checkpoints != nil {
			_, _ = s.checkpoints.Create(ctx, s.opts.PRDID, s.opts.PhaseID, checkpoint.CreationTaskCompletion, s.opts.WorkDir, s.opts.VCSLookup, "")
		}
		return nil
	}

	fix, err := s.tasks.CreateFixTask(t.ID, errorDescription, testOutput)
	if err != nil {
		return fmt.Errorf("scheduler: create fix task for %s: %w", t.ID, err)
	}
	if fix == nil {
		s.log.Warn("task %s blocked after exceeding retry cap", t.ID)
		s.emit("task:blocked", map[string]interface{}{
			"taskId":     t.ID,
			"retryCount": s.tasks.RetryCount(t.ID),
			"lastError":  errorDescription,
		})
		return nil
	}
	s.emit("task:fix_created", map[string]interface{}{"taskId": t.ID, "fixTaskId": fix.ID})
	return nil
}

func (s *Scheduler) recordPatternOccurrences(text string, files []string, guidance string) {
	if text == "" {
		return
	}
	if len(files) == 0 {
		s.patterns.Record(text, "", guidance)
		return
	}
	for _, f := range files {
		s.patterns.Record(text, f, guidance)
	}
}

// emitValidationErrors emits one "validation:error_with_suggestion" event
// per Gate error, carrying its category, severity, and recovery suggestion
// so the Monitor's validation-threshold intervention path (which polls the
// bus, not the Gate directly) has a real event to count against.
func (s *Scheduler) emitValidationErrors(taskID string, errs []validation.Error) {
	for _, e := range errs {
		sev := eventbus.SeverityWarn
		if e.Severity == validation.SeverityBlocking {
			sev = eventbus.SeverityError
		}
		s.emitSeverity("validation:error_with_suggestion", sev, map[string]interface{}{
			"taskId":              taskID,
			"path":                e.Path,
			"category":            string(e.Category),
			"severity":            string(e.Severity),
			"message":             e.Message,
			"recoveryAction":      string(e.Recovery.Action),
			"recoveryDescription": e.Recovery.Description,
		})
	}
}

func (s *Scheduler) emit(eventType string, payload map[string]interface{}) {
	s.emitSeverity(eventType, eventbus.SeverityInfo, payload)
}

func (s *Scheduler) emitSeverity(eventType string, severity eventbus.Severity, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(eventType, payload, eventbus.EmitOpts{Severity: severity, TaskID: stringOr(payload, "taskId")})
}

func stringOr(payload map[string]interface{}, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.(string); ok {
			return sv
		}
	}
	return ""
}

// validatePathSafety rejects any change targeting a path that fails
// golang.org/x/mod/module's file-path safety rules (traversal, reserved
// Windows device names; absolute paths are accepted) as a boundary-class error,
// before the change-set is handed to the Gate's filesystem-backed
// checks.
func validatePathSafety(changes []validation.Change) []validation.Error {
	var errs []validation.Error
	for _, c := range changes {
		if err := validation.ValidateModulePath(c.Path); err != nil {
			errs = append(errs, validation.Error{
				Category: validation.CategoryBoundary,
				Severity: validation.SeverityBlocking,
				Path:     c.Path,
				Message:  fmt.Sprintf("unsafe target path: %v", err),
				Recovery: validation.Recovery{
					Action:      validation.RecoveryManual,
					Description: "Use a clean, repo-relative path with no parent-directory traversal.",
				},
			})
		}
	}
	return errs
}

func toValidationChanges(cs []CodeChange) []validation.Change {
	out := make([]validation.Change, 0, len(cs))
	for _, c := range cs {
		out = append(out, validation.Change{
			Path:    c.Path,
			Kind:    validation.OperationKind(c.Kind),
			Content: c.Content,
			Patches: c.Patches,
		})
	}
	return out
}

func summarizeErrors(errs []validation.Error) string {
	if len(errs) == 0 {
		return "validation failed"
	}
	summary := ""
	for _, e := range errs {
		summary += fmt.Sprintf("[%s] %s: %s\n", e.Category, e.Path, e.Message)
	}
	return summary
}
