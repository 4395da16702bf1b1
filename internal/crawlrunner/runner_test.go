package crawlrunner

import (
	"errors"
	"testing"
	"time"

	"github.com/scbe/fleet/internal/crawl"
)

type fakeBackend struct {
	initErr    error
	navigateErr error
	observeErr error
	obs        PageObservation
	closed     bool
}

func (f *fakeBackend) Initialize() error          { return f.initErr }
func (f *fakeBackend) Navigate(url string) error  { return f.navigateErr }
func (f *fakeBackend) Observe() (PageObservation, error) {
	if f.observeErr != nil {
		return PageObservation{}, f.observeErr
	}
	return f.obs, nil
}
func (f *fakeBackend) Close() error     { f.closed = true; return nil }
func (f *fakeBackend) IsConnected() bool { return true }

func newScoutFixture(obs PageObservation) (*crawl.Coordinator, *Runner) {
	f := crawl.NewFrontier(0, time.Minute)
	f.AddSeed("https://example.com/")
	c := crawl.NewCoordinator(f, nil)
	c.AddAgent("scout-1", crawl.RoleScout)

	r := NewRunner(c, func(agentID string) Backend {
		return &fakeBackend{obs: obs}
	}, nil)
	return c, r
}

func TestStepSuccessBuildsTrajectoryAndExtractsLinks(t *testing.T) {
	obs := PageObservation{
		URL:        "https://example.com/",
		ReadyState: "complete",
		Elements: []InteractiveElement{
			{Tag: "a", DataAttrs: map[string]string{"href": "https://example.com/child"}},
			{Tag: "a", DataAttrs: map[string]string{"href": "javascript:void(0)"}},
		},
	}
	_, r := newScoutFixture(obs)

	result := r.Step("scout-1")
	if result == nil || !result.Success {
		t.Fatalf("expected successful step, got %+v", result)
	}
	if len(result.Discovered) != 1 || result.Discovered[0] != "https://example.com/child" {
		t.Errorf("discovered = %v, want one http(s) link", result.Discovered)
	}

	managed := r.managed["scout-1"]
	if len(managed.Trajectory) != 1 {
		t.Fatalf("expected one trajectory point recorded, got %d", len(managed.Trajectory))
	}
}

func TestStepReturnsNilForSentinelRole(t *testing.T) {
	f := crawl.NewFrontier(0, time.Minute)
	c := crawl.NewCoordinator(f, nil)
	c.AddAgent("sentinel-1", crawl.RoleSentinel)
	r := NewRunner(c, func(agentID string) Backend { return &fakeBackend{} }, nil)

	if got := r.Step("sentinel-1"); got != nil {
		t.Errorf("expected nil step result for sentinel role, got %+v", got)
	}
}

func TestStepReturnsNilForQuarantinedAgent(t *testing.T) {
	f := crawl.NewFrontier(0, time.Minute)
	f.AddSeed("https://example.com/")
	c := crawl.NewCoordinator(f, nil)
	c.AddAgent("scout-1", crawl.RoleScout)
	c.QuarantineAgent("scout-1", "test")
	r := NewRunner(c, func(agentID string) Backend { return &fakeBackend{} }, nil)

	if got := r.Step("scout-1"); got != nil {
		t.Errorf("expected nil step result for quarantined agent, got %+v", got)
	}
}

func TestStepNeverPanicsOnBackendError(t *testing.T) {
	_, r := newScoutFixture(PageObservation{})
	r.newBackend = func(agentID string) Backend {
		return &fakeBackend{observeErr: errors.New("boom")}
	}

	result := r.Step("scout-1")
	if result == nil || result.Success {
		t.Fatalf("expected a failure result, not a panic or success, got %+v", result)
	}
	if result.Error == "" {
		t.Error("expected a non-empty error message on the failure result")
	}
}

func TestSentinelScanFlagsRepeatedDenies(t *testing.T) {
	f := crawl.NewFrontier(0, time.Minute)
	c := crawl.NewCoordinator(f, nil)
	c.AddAgent("scout-1", crawl.RoleScout)
	c.AddAgent("sentinel-1", crawl.RoleSentinel)

	r := NewRunner(c, func(agentID string) Backend { return &fakeBackend{} }, nil)
	managed := r.managedAgent("scout-1")
	for i := 0; i < 5; i++ {
		managed.Trajectory = append(managed.Trajectory, TrajectoryPoint{})
		managed.GovernanceLog = append(managed.GovernanceLog, GovernanceResult{Decision: "DENY", RiskScore: 0.9})
	}

	flagged := r.SentinelScan("sentinel-1")
	if len(flagged) != 1 {
		t.Fatalf("expected one flagged agent, got %d", len(flagged))
	}
	if c.Agent("scout-1").Status != crawl.AgentQuarantined {
		t.Error("expected flagged agent to be quarantined")
	}
}

func TestSentinelScanSkipsShortTrajectories(t *testing.T) {
	f := crawl.NewFrontier(0, time.Minute)
	c := crawl.NewCoordinator(f, nil)
	c.AddAgent("scout-1", crawl.RoleScout)
	c.AddAgent("sentinel-1", crawl.RoleSentinel)

	r := NewRunner(c, func(agentID string) Backend { return &fakeBackend{} }, nil)
	managed := r.managedAgent("scout-1")
	managed.GovernanceLog = append(managed.GovernanceLog, GovernanceResult{Decision: "DENY"})

	flagged := r.SentinelScan("sentinel-1")
	if len(flagged) != 0 {
		t.Errorf("expected no flags below minTrajectoryLength, got %d", len(flagged))
	}
}
