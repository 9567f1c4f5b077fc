// Package checkpoint implements the Checkpoint data model: a record of a
// successful transition (the scheduler creates one each time a task
// completes), consumed only by an explicit rollback request.
// Persistence follows the same temp-write-verify-rename discipline as
// the Task Store and Hierarchical Metrics, via the
// shared internal/atomicfile helper. The opportunistic VCS commit hash
// lookup (a best-effort "git rev-parse HEAD" shell-out that is ignored
// on failure) is the only place this package reaches outside the
// process.
package checkpoint

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jienckebd/devloop/internal/atomicfile"
)

// CreationType names the transition that produced a Checkpoint.
type CreationType string

const (
	CreationPhaseCompletion    CreationType = "phase-completion"
	CreationTestPass           CreationType = "test-pass"
	CreationValidationPass     CreationType = "validation-pass"
	CreationTaskCompletion     CreationType = "task-completion"
	CreationManual             CreationType = "manual"
)

// Checkpoint is a recorded recovery point.
type Checkpoint struct {
	ID           string       `json:"id"`
	PRDID        string       `json:"prdId"`
	PhaseID      string       `json:"phaseId"`
	CreatedAt    time.Time    `json:"createdAt"`
	Type         CreationType `json:"type"`
	CommitHash   string       `json:"commitHash,omitempty"`
	SnapshotPath string       `json:"snapshotPath,omitempty"`
}

// file is the on-disk shape of the checkpoint log.
type file struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Store is the append-mostly Checkpoint log for one project.
type Store struct {
	mu          sync.Mutex
	path        string
	checkpoints []Checkpoint
}

// Load reads path, yielding an empty Store when it does not exist.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	var f file
	if err := atomicfile.ReadJSON(path, &f); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("load checkpoints %s: %w", path, err)
	}
	s.checkpoints = f.Checkpoints
	return s, nil
}

// epochFunc supplies the current time in milliseconds for ID generation,
// overridable so tests can supply a fixed clock.
type epochFunc func() int64

var nowEpochMillis epochFunc = func() int64 { return time.Now().UnixMilli() }

// Create records a new checkpoint for the given PRD/phase transition.
// When lookupCommit is true, it opportunistically shells out to `git
// rev-parse HEAD` in workDir; a failure there (not a git repo, git not
// installed) is swallowed and CommitHash is left empty.
func (s *Store) Create(ctx context.Context, prdID, phaseID string, t CreationType, workDir string, lookupCommit bool, snapshotPath string) (Checkpoint, error) {
	cp := Checkpoint{
		ID:           fmt.Sprintf("%s-phase-%s-%d", prdID, phaseID, nowEpochMillis()),
		PRDID:        prdID,
		PhaseID:      phaseID,
		CreatedAt:    time.Now(),
		Type:         t,
		SnapshotPath: snapshotPath,
	}
	if lookupCommit {
		cp.CommitHash = commitHash(ctx, workDir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	if err := s.persistLocked(); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func commitHash(ctx context.Context, workDir string) string {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// All returns every recorded checkpoint, oldest first.
func (s *Store) All() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Checkpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// ForPhase returns checkpoints recorded for the given PRD/phase pair, in
// creation order.
func (s *Store) ForPhase(prdID, phaseID string) []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Checkpoint
	for _, cp := range s.checkpoints {
		if cp.PRDID == prdID && cp.PhaseID == phaseID {
			out = append(out, cp)
		}
	}
	return out
}

// Latest returns the most recently created checkpoint for the given
// PRD/phase pair, if any — the rollback target when a caller asks to
// revert "to the last checkpoint" without naming one explicitly.
func (s *Store) Latest(prdID, phaseID string) (Checkpoint, bool) {
	matches := s.ForPhase(prdID, phaseID)
	if len(matches) == 0 {
		return Checkpoint{}, false
	}
	return matches[len(matches)-1], true
}

func (s *Store) persistLocked() error {
	f := file{Checkpoints: s.checkpoints}
	return atomicfile.WriteJSON(s.path, f, nil)
}
