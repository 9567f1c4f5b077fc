// Package task implements the Task Store: atomic load/save of the
// hierarchical task list, subtask flattening, and retry-counter
// accounting for fix-task generation. Tasks are plain structs with JSON
// tags and an explicit persistence boundary, kept as a single flat-file
// store rather than a SQL-backed one — the task list is small,
// single-writer, and needs to survive process restarts without a
// database, which is exactly the shape github.com/google/renameio/v2
// (already used by internal/atomicfile) is built for.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jienckebd/devloop/internal/atomicfile"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Priority orders pending tasks relative to one another.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Task is a single unit of scheduler work.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Details      string    `json:"details,omitempty"`
	Status       Status    `json:"status"`
	Priority     Priority  `json:"priority,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	ParentID     string    `json:"parentId,omitempty"`
	Subtasks     []*Task   `json:"subtasks,omitempty"`
}

// metadata is the "updated" stamp carried alongside the task list.
type metadata struct {
	Updated string `json:"updated"`
}

// masterShape is the canonical on-disk shape: {"master": {"tasks": [...], "metadata": {...}}}.
type masterShape struct {
	Master struct {
		Tasks    []*Task  `json:"tasks"`
		Metadata metadata `json:"metadata"`
	} `json:"master"`
}

// flatShape is a legacy shape: {"tasks": [...]}.
type flatShape struct {
	Tasks []*Task `json:"tasks"`
}

// Store always writes back in master shape, regardless of which shape
// the file was originally loaded from.

// Store owns one tasks file: atomic load/save, subtask flattening, and
// retry accounting.
type Store struct {
	mu         sync.Mutex
	path       string
	maxRetries int

	tasks       []*Task // flattened: subtasks promoted to top level with ParentID set
	retryCounts map[string]int

	errorPathPatterns []*regexp.Regexp
	errorGuidance      map[string]string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxRetries sets the retry cap used by CreateFixTask and Pending.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// WithErrorPathPatterns supplies additional regexes (beyond the built-in
// generic `name.ext:N` matcher) used to extract file paths from error
// text when synthesizing fix tasks.
func WithErrorPathPatterns(patterns []string) Option {
	return func(s *Store) {
		for _, p := range patterns {
			if re, err := regexp.Compile(p); err == nil {
				s.errorPathPatterns = append(s.errorPathPatterns, re)
			}
		}
	}
}

// WithErrorGuidance supplies a signature->guidance map consulted when
// enriching fix-task descriptions.
func WithErrorGuidance(guidance map[string]string) Option {
	return func(s *Store) { s.errorGuidance = guidance }
}

var lineNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bline\s+(\d+)\b`),
	regexp.MustCompile(`:(\d+):`),
	regexp.MustCompile(`(?i)\bat\s+\S+:(\d+)\b`),
}

var genericFilePattern = regexp.MustCompile(`\b[\w./-]+\.\w+:(\d+)\b`)

// Load reads path (in whichever of the three historical shapes it is
// stored as), flattens subtasks into top-level entries, and returns a
// ready-to-use Store. A missing file yields an empty store rather than
// an error.
func Load(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:        path,
		maxRetries:  3,
		retryCounts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read tasks file %s: %w", path, err)
	}

	roots, err := parseShape(data)
	if err != nil {
		return nil, fmt.Errorf("parse tasks file %s: %w", path, err)
	}

	s.tasks = flatten(roots)
	return s, nil
}

// parseShape detects and decodes whichever of the three historical
// shapes data is in: the canonical {"master":{"tasks":[...]}} object, the
// legacy {"tasks":[...]} object, or a bare top-level array.
func parseShape(data []byte) ([]*Task, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var roots []*Task
		if err := json.Unmarshal(data, &roots); err != nil {
			return nil, err
		}
		return roots, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	if raw, ok := probe["master"]; ok {
		var m masterShape
		if err := json.Unmarshal(raw, &m.Master); err != nil {
			return nil, err
		}
		return m.Master.Tasks, nil
	}
	if raw, ok := probe["tasks"]; ok {
		var tasks []*Task
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return nil, err
		}
		return tasks, nil
	}
	return nil, fmt.Errorf("unrecognized tasks file shape")
}

// flatten promotes each root's subtasks to top-level entries whose
// synthetic id is "<parentId>.<subtaskId>" and whose ParentID is set to
// the root's id. Roots themselves are kept as-is but with Subtasks
// cleared (the flattened view has no nested Subtasks field populated;
// restore() rebuilds it on write).
func flatten(roots []*Task) []*Task {
	out := make([]*Task, 0, len(roots))
	for _, root := range roots {
		subtasks := root.Subtasks
		rootCopy := *root
		rootCopy.Subtasks = nil
		out = append(out, &rootCopy)

		for _, sub := range subtasks {
			subCopy := *sub
			subCopy.ID = root.ID + "." + sub.ID
			subCopy.ParentID = root.ID
			subCopy.Subtasks = nil
			out = append(out, &subCopy)
		}
	}
	return out
}

// restore reverses flatten: tasks with a ParentID are nested back under
// their parent's Subtasks, with the synthetic "<parentId>." prefix
// stripped from their id.
func restore(flat []*Task) []*Task {
	byID := make(map[string]*Task, len(flat))
	var roots []*Task

	for _, t := range flat {
		tc := *t
		tc.Subtasks = nil
		byID[t.ID] = &tc
		if t.ParentID == "" {
			roots = append(roots, &tc)
		}
	}

	for _, t := range flat {
		if t.ParentID == "" {
			continue
		}
		parent, ok := byID[t.ParentID]
		if !ok {
			// Orphaned subtask reference; keep it as a root rather than
			// silently dropping data.
			roots = append(roots, byID[t.ID])
			continue
		}
		child := *byID[t.ID]
		child.ID = strings.TrimPrefix(child.ID, t.ParentID+".")
		child.ParentID = ""
		parent.Subtasks = append(parent.Subtasks, &child)
	}

	return roots
}

// AllTasks returns the flattened task list.
func (s *Store) AllTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Pending returns pending/in-progress tasks not over the retry cap,
// ordered: in-progress first, then non-fix tasks before fix tasks, then by
// priority, then stable insertion order.
func (s *Store) Pending() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Status != StatusPending && t.Status != StatusInProgress {
			continue
		}
		if s.hasExceededMaxRetries(baseID(t.ID)) {
			continue
		}
		candidates = append(candidates, t)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		aInProgress := a.Status == StatusInProgress
		bInProgress := b.Status == StatusInProgress
		if aInProgress != bInProgress {
			return aInProgress
		}

		aFix := isFixTask(a.ID)
		bFix := isFixTask(b.ID)
		if aFix != bFix {
			return !aFix
		}

		return priorityRank[a.Priority] < priorityRank[b.Priority]
	})

	return candidates
}

// UpdateStatus mutates a task's status in place and persists the store.
func (s *Store) UpdateStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID == id {
			t.Status = status
			return s.persistLocked()
		}
	}
	return fmt.Errorf("task %s not found", id)
}

// Reload re-reads the tasks file from disk and appends any task whose id
// is not already present in the store, leaving every already-known task's
// in-memory state (status, retry count) untouched. This is how an
// external PRD parser rewriting the tasks file mid-run — to add tasks for
// a newly-decomposed phase, say — surfaces new work to a scheduler that
// is already running against this Store, without the reload racing the
// scheduler's own writes to tasks it already owns.
func (s *Store) Reload() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read tasks file %s: %w", s.path, err)
	}
	roots, err := parseShape(data)
	if err != nil {
		return 0, fmt.Errorf("parse tasks file %s: %w", s.path, err)
	}
	onDisk := flatten(roots)

	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(s.tasks))
	for _, t := range s.tasks {
		known[t.ID] = struct{}{}
	}

	added := 0
	for _, t := range onDisk {
		if _, ok := known[t.ID]; ok {
			continue
		}
		s.tasks = append(s.tasks, t)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.persistLocked()
}

// CreateTask appends t with status pending (unless a status is already
// set) and persists.
func (s *Store) CreateTask(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Status == "" {
		t.Status = StatusPending
	}
	tc := t
	s.tasks = append(s.tasks, &tc)
	return s.persistLocked()
}

// CreateFixTask increments the retry counter for originalID's base id.
// If the new count exceeds maxRetries, the original is marked blocked and
// nil is returned. Otherwise a fix task is synthesized, appended, and
// returned.
func (s *Store) CreateFixTask(originalID, errorDescription, testOutput string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := baseID(originalID)
	s.retryCounts[base]++

	if s.retryCounts[base] > s.maxRetries {
		for _, t := range s.tasks {
			if t.ID == originalID {
				t.Status = StatusBlocked
			}
		}
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	combined := errorDescription
	if testOutput != "" {
		combined = combined + "\n" + testOutput
	}

	desc := s.buildFixDescription(combined)

	fix := &Task{
		ID:           fmt.Sprintf("fix-%s-%d", originalID, time.Now().UnixMilli()),
		Title:        "Fix: " + shortSummary(errorDescription),
		Description:  desc,
		Status:       StatusPending,
		Priority:     PriorityCritical,
		Dependencies: []string{originalID},
	}
	s.tasks = append(s.tasks, fix)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return fix, nil
}

// RetryCount returns the current retry count for id's base task.
func (s *Store) RetryCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCounts[baseID(id)]
}

func (s *Store) hasExceededMaxRetries(base string) bool {
	return s.retryCounts[base] > s.maxRetries
}

// buildFixDescription enriches combined error/test output with extracted
// line numbers, file paths, and pattern-specific guidance.
func (s *Store) buildFixDescription(combined string) string {
	var b strings.Builder
	b.WriteString(combined)

	if lines := extractLineNumbers(combined); len(lines) > 0 {
		fmt.Fprintf(&b, "\n\nLine numbers referenced: %s", strings.Join(lines, ", "))
	}
	if files := s.extractFilePaths(combined); len(files) > 0 {
		fmt.Fprintf(&b, "\nFiles referenced: %s", strings.Join(files, ", "))
	}
	if guidance := s.guidanceFor(combined); guidance != "" {
		fmt.Fprintf(&b, "\n\nGuidance: %s", guidance)
	}
	return b.String()
}

func extractLineNumbers(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range lineNumberPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			out = append(out, m[1])
		}
	}
	return out
}

func (s *Store) extractFilePaths(text string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(path string) {
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	for _, re := range s.errorPathPatterns {
		for _, m := range re.FindAllString(text, -1) {
			add(m)
		}
	}
	for _, m := range genericFilePattern.FindAllString(text, -1) {
		add(m)
	}
	return out
}

func (s *Store) guidanceFor(text string) string {
	for signature, guidance := range s.errorGuidance {
		if strings.Contains(strings.ToLower(text), strings.ToLower(signature)) {
			return guidance
		}
	}
	return ""
}

func shortSummary(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 80 {
		return text[:80]
	}
	return text
}

// bareFilePathPattern matches a plain repo-relative path with a file
// extension, as it would appear in a task's free-text description
// ("update internal/foo/bar.go to..."), independent of the
// line-number-suffixed form genericFilePattern looks for in error text.
var bareFilePathPattern = regexp.MustCompile(`\b[\w./-]+/[\w-]+\.[a-zA-Z]{1,5}\b`)

// TargetFiles scans a task's description and details for file paths it
// names, giving the scheduler an expected target set to hand the
// Validation Gate as the allowed boundary for that task's change-set.
func TargetFiles(t *Task) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range bareFilePathPattern.FindAllString(t.Description+"\n"+t.Details, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// isFixTask reports whether id was synthesized by CreateFixTask.
func isFixTask(id string) bool {
	return strings.HasPrefix(id, "fix-")
}

// fixIDPattern matches one layer of "fix-<base>-<digits>" wrapping.
var fixIDPattern = regexp.MustCompile(`^fix-(.+)-(\d+)$`)

// baseID recursively strips "fix-...-<epochMs>" wrappers to find the
// original task id retry counts are accumulated against.
func baseID(id string) string {
	for {
		m := fixIDPattern.FindStringSubmatch(id)
		if m == nil {
			return id
		}
		if _, err := strconv.ParseInt(m[2], 10, 64); err != nil {
			return id
		}
		id = m[1]
	}
}

// persistLocked serializes the store to disk in canonical master shape,
// using the atomicfile write discipline: temp file, round-trip
// verification that master.tasks is present, then rename.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	roots := restore(s.tasks)
	doc := masterShape{}
	doc.Master.Tasks = roots
	doc.Master.Metadata = metadata{Updated: time.Now().UTC().Format(time.RFC3339)}

	return atomicfile.WriteJSON(s.path, doc, func(data []byte) error {
		var probe masterShape
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if probe.Master.Tasks == nil {
			return fmt.Errorf("master.tasks missing after round-trip")
		}
		return nil
	})
}
