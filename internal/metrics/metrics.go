// Package metrics implements Hierarchical Metrics: four nested
// accumulators (task, phase, PRD, PRD-set) that aggregate counts,
// timings, token usage, and test pass/fail tallies, with derived fields
// recomputed on every update. Each accumulator is a struct with running
// totals whose rate and average duration are recomputed as each outcome
// is recorded, keyed per level (one composite key per accumulator) with a
// bounded per-key event history. Persistence reuses internal/atomicfile,
// the same writer the Task Store uses.
package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jienckebd/devloop/internal/atomicfile"
)

const maxEventHistory = 10000

// Tally holds raw counters and timings for one accumulator level.
type Tally struct {
	Key            string        `json:"key"`
	AttemptCount   int           `json:"attemptCount"`
	SuccessCount   int           `json:"successCount"`
	FailureCount   int           `json:"failureCount"`
	TotalDuration  time.Duration `json:"totalDuration"`
	TokensIn       int           `json:"tokensIn"`
	TokensOut      int           `json:"tokensOut"`
	TestsPassed    int           `json:"testsPassed"`
	TestsFailed    int           `json:"testsFailed"`

	// Derived, recomputed on every update.
	SuccessRate    float64       `json:"successRate"`
	AverageDuration time.Duration `json:"averageDuration"`
}

func (t *Tally) recompute() {
	if t.AttemptCount > 0 {
		t.SuccessRate = float64(t.SuccessCount) / float64(t.AttemptCount)
		t.AverageDuration = t.TotalDuration / time.Duration(t.AttemptCount)
	}
}

// Outcome is recorded against a Tally for one completed attempt.
type Outcome struct {
	Success    bool
	Duration   time.Duration
	TokensIn   int
	TokensOut  int
	TestsPass  int
	TestsFail  int
}

func (t *Tally) record(o Outcome) {
	t.AttemptCount++
	if o.Success {
		t.SuccessCount++
	} else {
		t.FailureCount++
	}
	t.TotalDuration += o.Duration
	t.TokensIn += o.TokensIn
	t.TokensOut += o.TokensOut
	t.TestsPassed += o.TestsPass
	t.TestsFailed += o.TestsFail
	t.recompute()
}

// historyEntry is one bounded event recorded against a level.
type historyEntry struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType"`
	Detail    string    `json:"detail,omitempty"`
}

// level is one of the four accumulator levels, keyed independently and
// persisted to its own file.
type level struct {
	mu      sync.Mutex
	path    string
	tallies map[string]*Tally
	history map[string][]historyEntry
}

func newLevel(path string) *level {
	return &level{
		path:    path,
		tallies: make(map[string]*Tally),
		history: make(map[string][]historyEntry),
	}
}

type levelFile struct {
	Tallies map[string]*Tally         `json:"tallies"`
	History map[string][]historyEntry `json:"history"`
}

func loadLevel(path string) (*level, error) {
	l := newLevel(path)
	var f levelFile
	if err := atomicfile.ReadJSON(path, &f); err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	if f.Tallies != nil {
		l.tallies = f.Tallies
	}
	if f.History != nil {
		l.history = f.History
	}
	return l, nil
}

func (l *level) record(key string, o Outcome, eventType, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tallies[key]
	if !ok {
		t = &Tally{Key: key}
		l.tallies[key] = t
	}
	t.record(o)

	hist := l.history[key]
	hist = append(hist, historyEntry{Timestamp: time.Now(), EventType: eventType, Detail: detail})
	if len(hist) > maxEventHistory {
		hist = hist[len(hist)-maxEventHistory:]
	}
	l.history[key] = hist

	return l.persistLocked()
}

func (l *level) get(key string) (Tally, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tallies[key]
	if !ok {
		return Tally{}, false
	}
	return *t, true
}

func (l *level) persistLocked() error {
	if l.path == "" {
		return nil
	}
	f := levelFile{Tallies: l.tallies, History: l.history}
	return atomicfile.WriteJSON(l.path, f, nil)
}

// Store is the four-level Hierarchical Metrics accumulator.
type Store struct {
	Task   *level
	Phase  *level
	PRD    *level
	PRDSet *level
}

// Load opens (or creates) the four per-level files under dir.
func Load(dir string) (*Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	task, err := loadLevel(filepath.Join(dir, "task.json"))
	if err != nil {
		return nil, err
	}
	phase, err := loadLevel(filepath.Join(dir, "phase.json"))
	if err != nil {
		return nil, err
	}
	prd, err := loadLevel(filepath.Join(dir, "prd.json"))
	if err != nil {
		return nil, err
	}
	prdSet, err := loadLevel(filepath.Join(dir, "prdset.json"))
	if err != nil {
		return nil, err
	}
	return &Store{Task: task, Phase: phase, PRD: prd, PRDSet: prdSet}, nil
}

// RecordTask records one task-level outcome keyed by taskID.
func (s *Store) RecordTask(taskID string, o Outcome) error {
	return s.Task.record(taskID, o, eventTypeFor(o), "")
}

// RecordPhase records one phase-level outcome keyed by "{prdId}-{phaseId}".
func (s *Store) RecordPhase(prdID, phaseID string, o Outcome) error {
	return s.Phase.record(prdID+"-"+phaseID, o, eventTypeFor(o), "")
}

// RecordPRD records one PRD-level outcome keyed by prdID.
func (s *Store) RecordPRD(prdID string, o Outcome) error {
	return s.PRD.record(prdID, o, eventTypeFor(o), "")
}

// RecordPRDSet records one PRD-set-level outcome keyed by prdSetID.
func (s *Store) RecordPRDSet(prdSetID string, o Outcome) error {
	return s.PRDSet.record(prdSetID, o, eventTypeFor(o), "")
}

func eventTypeFor(o Outcome) string {
	if o.Success {
		return "success"
	}
	return "failure"
}

// TaskMetrics returns the current snapshot for taskID, if any.
func (s *Store) TaskMetrics(taskID string) (Tally, bool) { return s.Task.get(taskID) }

// PhaseMetrics returns the current snapshot for "{prdId}-{phaseId}", if any.
func (s *Store) PhaseMetrics(prdID, phaseID string) (Tally, bool) {
	return s.Phase.get(prdID + "-" + phaseID)
}

// PRDMetrics returns the current snapshot for prdID, if any.
func (s *Store) PRDMetrics(prdID string) (Tally, bool) { return s.PRD.get(prdID) }

// PRDSetMetrics returns the current snapshot for prdSetID, if any.
func (s *Store) PRDSetMetrics(prdSetID string) (Tally, bool) { return s.PRDSet.get(prdSetID) }
