// Package eventbus implements the bounded, ordered, in-process event log
// that every other devloop component emits state transitions onto. It is
// adapted from the broadcast pub/sub bus found in the wider example
// corpus (a channel-per-subscriber Bus), narrowed to the contract the
// scheduler actually needs: a single shared ring buffer queried by id
// rather than fanned out to per-subscriber channels. The Monitor and the
// CLI's event-file tail both poll the same ring independently, so replay-by-id (not
// broadcast) is the right shape — a subscriber that falls behind simply
// polls forward from its last-seen id instead of missing events sent
// while it wasn't listening.
package eventbus

import (
	"sync"
	"time"
)

// Severity classifies how urgently an event should be surfaced.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is a single entry in the bus's ring buffer.
type Event struct {
	ID        uint64                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Severity  Severity               `json:"severity,omitempty"`
	TaskID    string                 `json:"taskId,omitempty"`
	PRDID     string                 `json:"prdId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EmitOpts carries the optional tagging fields accepted by Emit.
type EmitOpts struct {
	Severity Severity
	TaskID   string
	PRDID    string
}

// PollOpts filters a Poll query.
type PollOpts struct {
	Since    uint64
	Types    []string
	Severity []Severity
	Limit    int
}

const defaultRingSize = 10000

// Bus is a bounded FIFO event log, safe for concurrent emit/poll.
type Bus struct {
	mu       sync.Mutex
	ring     []Event
	size     int
	nextID   uint64
	dropped  uint64
	readHead int // index in ring of the oldest retained event
}

// New creates a Bus with the default ring capacity (10,000 events).
func New() *Bus {
	return NewWithCapacity(defaultRingSize)
}

// NewWithCapacity creates a Bus holding at most capacity events.
func NewWithCapacity(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultRingSize
	}
	return &Bus{size: capacity}
}

// Emit assigns the next monotone id, timestamps the event, appends it to
// the ring, and returns the assigned id. When the ring is full the oldest
// entry is silently discarded and the drop counter is incremented.
func (b *Bus) Emit(eventType string, payload map[string]interface{}, opts EmitOpts) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	e := Event{
		ID:        id,
		Type:      eventType,
		Payload:   payload,
		Severity:  opts.Severity,
		TaskID:    opts.TaskID,
		PRDID:     opts.PRDID,
		Timestamp: time.Now(),
	}

	if len(b.ring) >= b.size {
		b.ring = b.ring[1:]
		b.dropped++
	}
	b.ring = append(b.ring, e)
	return id
}

// Poll returns events with id strictly greater than opts.Since, in
// ascending id order, matching every non-empty filter set supplied.
// Limit defaults to 100.
func (b *Bus) Poll(opts PollOpts) []Event {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var typeSet map[string]struct{}
	if len(opts.Types) > 0 {
		typeSet = make(map[string]struct{}, len(opts.Types))
		for _, t := range opts.Types {
			typeSet[t] = struct{}{}
		}
	}
	var sevSet map[Severity]struct{}
	if len(opts.Severity) > 0 {
		sevSet = make(map[Severity]struct{}, len(opts.Severity))
		for _, s := range opts.Severity {
			sevSet[s] = struct{}{}
		}
	}

	out := make([]Event, 0, limit)
	for _, e := range b.ring {
		if e.ID <= opts.Since {
			continue
		}
		if typeSet != nil {
			if _, ok := typeSet[e.Type]; !ok {
				continue
			}
		}
		if sevSet != nil {
			if _, ok := sevSet[e.Severity]; !ok {
				continue
			}
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// GetLastID returns the most recently assigned id, or 0 if the bus has
// never emitted an event.
func (b *Bus) GetLastID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// DroppedCount returns how many events have been evicted from the ring,
// whether or not they were polled first.
func (b *Bus) DroppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// GetBlockedTasks returns task:blocked events whose taskId has not since
// been superseded by a task:unblocked event for the same taskId.
func (b *Bus) GetBlockedTasks() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	blocked := make(map[string]Event)
	for _, e := range b.ring {
		switch e.Type {
		case "task:blocked":
			blocked[e.TaskID] = e
		case "task:unblocked":
			delete(blocked, e.TaskID)
		}
	}

	out := make([]Event, 0, len(blocked))
	for _, e := range b.ring {
		if e.Type != "task:blocked" {
			continue
		}
		if cur, ok := blocked[e.TaskID]; ok && cur.ID == e.ID {
			out = append(out, e)
		}
	}
	return out
}

// Clear empties the ring and resets the id counter and drop counter to
// zero.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = nil
	b.nextID = 0
	b.dropped = 0
}
