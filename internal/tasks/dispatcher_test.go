package tasks

import (
	"testing"
	"time"

	"github.com/scbe/fleet/internal/fleeterr"
	"github.com/scbe/fleet/internal/governance"
	"github.com/scbe/fleet/internal/registry"
	"github.com/scbe/fleet/internal/trust"
)

type fakeAgentSource struct {
	agents []*registry.Agent
}

func (f *fakeAgentSource) GetAgentsForTier(tier governance.Tier) []*registry.Agent {
	var out []*registry.Agent
	for _, a := range f.agents {
		if governance.AtLeast(a.MaxGovernanceTier, tier) {
			out = append(out, a)
		}
	}
	return out
}

func fullTrust(score float64) trust.Vector {
	var v trust.Vector
	for i := range v {
		v[i] = score
	}
	return v
}

func newTestAgent(id string, tier governance.Tier, trustScore float64, caps ...registry.Capability) *registry.Agent {
	capSet := make(map[registry.Capability]bool)
	for _, c := range caps {
		capSet[c] = true
	}
	return &registry.Agent{
		ID:                 id,
		Status:             registry.StatusIdle,
		Capabilities:       capSet,
		MaxConcurrentTasks: 3,
		MaxGovernanceTier:  tier,
		Trust:              fullTrust(trustScore),
		LastActiveAt:       time.Now(),
	}
}

func TestAssignNextNoEligibleAgentsLeavesPending(t *testing.T) {
	source := &fakeAgentSource{agents: []*registry.Agent{
		newTestAgent("a1", governance.TierRU, 0.4),
	}}
	d := NewDispatcher(source, nil, nil)

	task := NewTask("needs UM + security_scan", "", PriorityHigh)
	task.RequiredTier = governance.TierUM
	task.RequiredCapability = registry.CapabilitySecurityScan
	d.Submit(task)

	got, err := d.AssignNext(time.Now())
	if err == nil || !fleeterr.Is(err, fleeterr.PreconditionFailed) {
		t.Fatalf("expected a PreconditionFailed error, got %v", err)
	}
	if err.Error() != "precondition failed: No eligible agents available" {
		t.Errorf("unexpected error message: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected task to remain pending, got %v", got.Status)
	}
}

func TestAssignNextPicksHighestScoringEligibleAgent(t *testing.T) {
	low := newTestAgent("low", governance.TierRU, 0.3, registry.CapabilityCodeReview)
	high := newTestAgent("high", governance.TierRU, 0.9, registry.CapabilityCodeReview)
	source := &fakeAgentSource{agents: []*registry.Agent{low, high}}
	d := NewDispatcher(source, nil, nil)

	task := NewTask("review", "", PriorityMedium)
	task.RequiredTier = governance.TierRU
	task.RequiredCapability = registry.CapabilityCodeReview
	d.Submit(task)

	got, _ := d.AssignNext(time.Now())
	if got.AssignedAgentID != "high" {
		t.Errorf("expected the higher-trust agent to win, got %s", got.AssignedAgentID)
	}
	if got.Status != StatusRunning {
		t.Errorf("expected status running after assignment, got %v", got.Status)
	}
}

func TestAssignNextWithApprovalOpensRoundtable(t *testing.T) {
	agents := []*registry.Agent{
		newTestAgent("a1", governance.TierDR, 0.9, registry.CapabilityDeployment),
		newTestAgent("a2", governance.TierDR, 0.9, registry.CapabilityDeployment),
		newTestAgent("a3", governance.TierDR, 0.9, registry.CapabilityDeployment),
		newTestAgent("a4", governance.TierDR, 0.9, registry.CapabilityDeployment),
		newTestAgent("a5", governance.TierDR, 0.9, registry.CapabilityDeployment),
	}
	source := &fakeAgentSource{agents: agents}
	rt := governance.NewRoundtable(&fakeParticipantSource{agents: agents})
	d := NewDispatcher(source, rt, nil)

	task := NewTask("deploy", "", PriorityCritical)
	task.RequiredTier = governance.TierUM
	task.RequiredCapability = registry.CapabilityDeployment
	task.RequiresApproval = true
	d.Submit(task)

	got, err := d.AssignNext(time.Now())
	if err != nil {
		t.Fatalf("AssignNext: %v", err)
	}
	if got.Status != StatusAwaitingApproval {
		t.Errorf("expected awaiting_approval, got %v", got.Status)
	}
	if got.RoundtableSessionID == "" {
		t.Error("expected a roundtable session to be opened")
	}
}

type fakeParticipantSource struct {
	agents []*registry.Agent
}

func (f *fakeParticipantSource) EligibleForTier(tier governance.Tier) []string {
	var ids []string
	for _, a := range f.agents {
		if governance.AtLeast(a.MaxGovernanceTier, tier) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func (f *fakeParticipantSource) IsUnavailable(agentID string) bool { return false }

func TestFailTaskRetriesThenAbandons(t *testing.T) {
	source := &fakeAgentSource{agents: []*registry.Agent{
		newTestAgent("a1", governance.TierRU, 0.9, registry.CapabilityTesting),
	}}
	d := NewDispatcher(source, nil, nil)

	task := NewTask("flaky", "", PriorityMedium)
	task.RequiredTier = governance.TierRU
	task.RequiredCapability = registry.CapabilityTesting
	task.MaxRetries = 2
	d.Submit(task)
	d.AssignNext(time.Now())

	if err := d.FailTask(task.ID, "boom"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	if d.queue.GetByID(task.ID).Status != StatusPending {
		t.Fatalf("expected pending after first failure, got %v", d.queue.GetByID(task.ID).Status)
	}

	d.AssignNext(time.Now())
	if err := d.FailTask(task.ID, "boom again"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	final := d.queue.GetByID(task.ID)
	if final.Status != StatusFailed {
		t.Errorf("expected terminal failed after exhausting retries, got %v", final.Status)
	}
}

func TestCompleteTaskTransitionsAndClearsRetryState(t *testing.T) {
	source := &fakeAgentSource{agents: []*registry.Agent{
		newTestAgent("a1", governance.TierRU, 0.9, registry.CapabilityTesting),
	}}
	d := NewDispatcher(source, nil, nil)

	task := NewTask("simple", "", PriorityLow)
	task.RequiredTier = governance.TierRU
	task.RequiredCapability = registry.CapabilityTesting
	d.Submit(task)
	d.AssignNext(time.Now())

	if err := d.CompleteTask(task.ID, "done"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if d.queue.GetByID(task.ID).Status != StatusCompleted {
		t.Error("expected completed status")
	}
}

func TestCancelAssignmentsForCancelsOutstandingTasks(t *testing.T) {
	source := &fakeAgentSource{agents: []*registry.Agent{
		newTestAgent("a1", governance.TierRU, 0.9, registry.CapabilityTesting),
	}}
	d := NewDispatcher(source, nil, nil)

	task := NewTask("owned", "", PriorityLow)
	task.RequiredTier = governance.TierRU
	task.RequiredCapability = registry.CapabilityTesting
	d.Submit(task)
	d.AssignNext(time.Now())

	n := d.CancelAssignmentsFor("a1")
	if n != 1 {
		t.Errorf("expected 1 cancelled task, got %d", n)
	}
	if d.queue.GetByID(task.ID).Status != StatusCancelled {
		t.Error("expected task to be cancelled")
	}
}
