// Package monitor implements the Monitor / Intervention loop: a
// background poller over the Event Bus that trips configured thresholds
// into structured remediation proposals, with a pluggable auto-apply
// hook and a per-hour cap on how many interventions may auto-apply,
// watching a rolling window of Event Bus entries per issue type.
package monitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jienckebd/devloop/internal/eventbus"
)

// Threshold configures one issue-type trip condition.
type Threshold struct {
	IssueType  string
	Count      int
	Window     time.Duration
	Confidence float64
	AutoAction bool
}

// Proposal is the structured remediation payload attached to an
// intervention:triggered event.
type Proposal struct {
	IssueType   string
	Description string
	Confidence  float64
}

// Outcome is how an applied intervention resolved.
type Outcome string

const (
	OutcomeSuccessful Outcome = "successful"
	OutcomeFailed     Outcome = "failed"
	OutcomeRolledBack Outcome = "rolled_back"
)

// FixApplier is the pluggable auto-apply-fix interface invoked when a
// threshold trips with AutoAction enabled and the per-hour cap allows it.
// The Proposal's Confidence is copied from the threshold; no confidence
// comparison is made before the applier is called.
type FixApplier func(ctx context.Context, p Proposal) (Outcome, error)

// Monitor polls an eventbus.Bus against a set of thresholds.
type Monitor struct {
	bus        *eventbus.Bus
	thresholds []Threshold
	applier    FixApplier
	limiter    *rate.Limiter

	lastSeenID uint64
}

// New creates a Monitor. maxPerHour bounds how many auto-applied
// interventions are allowed per rolling hour; 0 disables auto-apply
// entirely (thresholds still fire, but nothing is ever auto-applied).
func New(bus *eventbus.Bus, thresholds []Threshold, applier FixApplier, maxPerHour int) *Monitor {
	var limiter *rate.Limiter
	if maxPerHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(maxPerHour)), maxPerHour)
	}
	return &Monitor{bus: bus, thresholds: thresholds, applier: applier, limiter: limiter}
}

// Run polls at the given interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	events := m.bus.Poll(eventbus.PollOpts{Since: m.lastSeenID, Limit: 10000})
	if len(events) == 0 {
		return
	}
	m.lastSeenID = events[len(events)-1].ID

	// Each threshold's evaluation (including its possibly slow FixApplier
	// call) is independent of the others, so they run concurrently and
	// the tick only waits on the slowest one.
	g, gctx := errgroup.WithContext(ctx)
	for _, th := range m.thresholds {
		th := th
		g.Go(func() error {
			m.evaluateThreshold(gctx, th, events)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) evaluateThreshold(ctx context.Context, th Threshold, events []eventbus.Event) {
	cutoff := time.Now().Add(-th.Window)
	count := 0
	for _, e := range events {
		if e.Type != th.IssueType {
			continue
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}
		count++
	}
	if count < th.Count {
		return
	}

	proposal := Proposal{
		IssueType:   th.IssueType,
		Description: fmt.Sprintf("%s occurred %d times in the trailing %s", th.IssueType, count, th.Window),
		Confidence:  th.Confidence,
	}

	id := m.bus.Emit("intervention:triggered", map[string]interface{}{
		"issueType":   proposal.IssueType,
		"description": proposal.Description,
		"confidence":  proposal.Confidence,
		"autoAction":  th.AutoAction,
	}, eventbus.EmitOpts{Severity: eventbus.SeverityWarn})
	_ = id

	if !th.AutoAction || m.applier == nil {
		return
	}
	if m.limiter == nil || !m.limiter.Allow() {
		return
	}

	outcome, err := m.applier(ctx, proposal)
	if err != nil {
		outcome = OutcomeFailed
	}
	m.bus.Emit("intervention:"+string(outcome), map[string]interface{}{
		"issueType": proposal.IssueType,
	}, eventbus.EmitOpts{Severity: severityFor(outcome)})
}

func severityFor(o Outcome) eventbus.Severity {
	if o == OutcomeSuccessful {
		return eventbus.SeverityInfo
	}
	return eventbus.SeverityWarn
}
