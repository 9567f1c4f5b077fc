package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAssignsMonotoneIDs(t *testing.T) {
	b := New()
	id1 := b.Emit("task:started", nil, EmitOpts{})
	id2 := b.Emit("task:completed", nil, EmitOpts{})
	require.Equal(t, uint64(1), id1)
	require.Equal(t, uint64(2), id2)
	require.Equal(t, uint64(2), b.GetLastID())
}

func TestPollReturnsEventsAfterSinceInOrder(t *testing.T) {
	b := New()
	b.Emit("a", nil, EmitOpts{})
	second := b.Emit("b", nil, EmitOpts{})
	third := b.Emit("c", nil, EmitOpts{})

	got := b.Poll(PollOpts{Since: second - 1})
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].ID)
	assert.Equal(t, third, got[1].ID)
}

func TestPollFiltersByTypeAndSeverity(t *testing.T) {
	b := New()
	b.Emit("task:blocked", nil, EmitOpts{Severity: SeverityWarn})
	b.Emit("task:completed", nil, EmitOpts{Severity: SeverityInfo})
	b.Emit("task:blocked", nil, EmitOpts{Severity: SeverityError})

	got := b.Poll(PollOpts{Types: []string{"task:blocked"}})
	require.Len(t, got, 2)

	got = b.Poll(PollOpts{Severity: []Severity{SeverityError}})
	require.Len(t, got, 1)
	assert.Equal(t, SeverityError, got[0].Severity)
}

func TestPollLimitDefaultsTo100(t *testing.T) {
	b := New()
	for i := 0; i < 150; i++ {
		b.Emit("tick", nil, EmitOpts{})
	}
	got := b.Poll(PollOpts{})
	assert.Len(t, got, 100)
}

func TestRingEvictsOldestAndCountsDrops(t *testing.T) {
	b := NewWithCapacity(3)
	b.Emit("a", nil, EmitOpts{})
	b.Emit("b", nil, EmitOpts{})
	b.Emit("c", nil, EmitOpts{})
	b.Emit("d", nil, EmitOpts{})

	got := b.Poll(PollOpts{Limit: 10})
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].Type)
	assert.Equal(t, uint64(1), b.DroppedCount())
}

func TestGetBlockedTasksExcludesUnblocked(t *testing.T) {
	b := New()
	b.Emit("task:blocked", nil, EmitOpts{TaskID: "1"})
	b.Emit("task:blocked", nil, EmitOpts{TaskID: "2"})
	b.Emit("task:unblocked", nil, EmitOpts{TaskID: "1"})

	blocked := b.GetBlockedTasks()
	require.Len(t, blocked, 1)
	assert.Equal(t, "2", blocked[0].TaskID)
}

func TestClearResetsIDCounterAndRing(t *testing.T) {
	b := New()
	b.Emit("a", nil, EmitOpts{})
	b.Emit("b", nil, EmitOpts{})
	b.Clear()

	assert.Equal(t, uint64(0), b.GetLastID())
	assert.Empty(t, b.Poll(PollOpts{}))

	id := b.Emit("c", nil, EmitOpts{})
	assert.Equal(t, uint64(1), id)
}
