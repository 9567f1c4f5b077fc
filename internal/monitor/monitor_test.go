package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jienckebd/devloop/internal/eventbus"
)

func TestPollOnceTripsThresholdAndEmitsIntervention(t *testing.T) {
	bus := eventbus.New()
	for i := 0; i < 3; i++ {
		bus.Emit("validation:error_with_suggestion", nil, eventbus.EmitOpts{})
	}

	m := New(bus, []Threshold{
		{IssueType: "validation:error_with_suggestion", Count: 3, Window: time.Hour, Confidence: 0.5},
	}, nil, 0)

	m.pollOnce(context.Background())

	events := bus.Poll(eventbus.PollOpts{Types: []string{"intervention:triggered"}})
	require.Len(t, events, 1)
}

func TestAutoApplyInvokesApplierWhenConfidenceMet(t *testing.T) {
	bus := eventbus.New()
	for i := 0; i < 3; i++ {
		bus.Emit("task:blocked", nil, eventbus.EmitOpts{})
	}

	applied := false
	applier := func(ctx context.Context, p Proposal) (Outcome, error) {
		applied = true
		return OutcomeSuccessful, nil
	}

	m := New(bus, []Threshold{
		{IssueType: "task:blocked", Count: 3, Window: time.Hour, Confidence: 0.5, AutoAction: true},
	}, applier, 10)

	m.pollOnce(context.Background())

	assert.True(t, applied)
	events := bus.Poll(eventbus.PollOpts{Types: []string{"intervention:successful"}})
	assert.Len(t, events, 1)
}

func TestThresholdBelowCountDoesNotTrip(t *testing.T) {
	bus := eventbus.New()
	bus.Emit("task:blocked", nil, eventbus.EmitOpts{})
	bus.Emit("task:blocked", nil, eventbus.EmitOpts{})

	applied := false
	applier := func(ctx context.Context, p Proposal) (Outcome, error) {
		applied = true
		return OutcomeSuccessful, nil
	}

	m := New(bus, []Threshold{
		{IssueType: "task:blocked", Count: 3, Window: time.Hour, Confidence: 0.5, AutoAction: true},
	}, applier, 10)

	m.pollOnce(context.Background())

	assert.False(t, applied)
	events := bus.Poll(eventbus.PollOpts{Types: []string{"intervention:triggered"}})
	assert.Empty(t, events)
}

func TestPerHourCapBlocksExcessApplications(t *testing.T) {
	bus := eventbus.New()
	for i := 0; i < 3; i++ {
		bus.Emit("task:blocked", nil, eventbus.EmitOpts{})
	}

	calls := 0
	applier := func(ctx context.Context, p Proposal) (Outcome, error) {
		calls++
		return OutcomeSuccessful, nil
	}

	m := New(bus, []Threshold{
		{IssueType: "task:blocked", Count: 3, Window: time.Hour, Confidence: 0, AutoAction: true},
	}, applier, 1)

	m.pollOnce(context.Background())
	assert.Equal(t, 1, calls)

	// A second trip within the same hour is over the cap of 1.
	for i := 0; i < 3; i++ {
		bus.Emit("task:blocked", nil, eventbus.EmitOpts{})
	}
	m.pollOnce(context.Background())
	assert.Equal(t, 1, calls)
}
