package registry

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/scbe/fleet/internal/events"
	"github.com/scbe/fleet/internal/fleeterr"
	"github.com/scbe/fleet/internal/governance"
	"github.com/scbe/fleet/internal/trust"
)

// successRateAlpha is the exponential-moving-average weight applied to
// each new task outcome.
const successRateAlpha = 0.1

// Deregisterer is the narrow surface the registry needs from the task
// dispatcher to cancel a departing agent's outstanding assignments. The
// dispatcher implements this; the registry never imports the dispatcher
// package directly, avoiding a cycle back the other way.
type Deregisterer interface {
	CancelAssignmentsFor(agentID string) int
}

// Registry keeps agents in a primary map plus secondary indices by
// status, capability, and trust level. A single RWMutex guards all of
// it; no lock is ever held across a call into another subsystem.
type Registry struct {
	mu sync.RWMutex

	agents map[string]*Agent

	byStatus     map[Status]map[string]bool
	byCapability map[Capability]map[string]bool
	byTrustLevel map[trust.Level]map[string]bool

	bus        *events.Bus
	roundtable *governance.Roundtable
	tasks      Deregisterer
}

// New constructs an empty registry. bus and roundtable may be nil for
// tests that don't need event emission or deregistration cascades.
func New(bus *events.Bus, roundtable *governance.Roundtable) *Registry {
	return &Registry{
		agents:       make(map[string]*Agent),
		byStatus:     make(map[Status]map[string]bool),
		byCapability: make(map[Capability]map[string]bool),
		byTrustLevel: make(map[trust.Level]map[string]bool),
		bus:          bus,
		roundtable:   roundtable,
	}
}

// SetDispatcher wires the task dispatcher for deregistration cascades.
// Called once during startup composition, after both subsystems exist.
func (r *Registry) SetDispatcher(d Deregisterer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = d
}

// RegisterOptions describes a new agent at admission time.
type RegisterOptions struct {
	Name               string
	Provider           string
	Model              string
	Capabilities       []Capability
	MaxConcurrentTasks int
	MaxGovernanceTier  governance.Tier
	InitialTrust       trust.Vector
}

// Register admits a new agent, generating its identity and spectral
// fingerprint. A duplicate Name is not an error: it produces a new
// agent with a distinct identity.
func (r *Registry) Register(opts RegisterOptions) (*Agent, error) {
	id, err := randomAgentID()
	if err != nil {
		return nil, fmt.Errorf("generate agent id: %w", err)
	}
	fp, err := trust.NewFingerprint(opts.Name, opts.Model)
	if err != nil {
		return nil, fmt.Errorf("generate fingerprint: %w", err)
	}
	if err := opts.InitialTrust.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", fleeterr.InvalidArgument, err)
	}

	caps := make(map[Capability]bool, len(opts.Capabilities))
	for _, c := range opts.Capabilities {
		caps[c] = true
	}

	agent := &Agent{
		ID:                 id,
		Name:               opts.Name,
		Provider:           opts.Provider,
		Model:              opts.Model,
		Capabilities:       caps,
		Status:             StatusIdle,
		MaxConcurrentTasks: opts.MaxConcurrentTasks,
		MaxGovernanceTier:  opts.MaxGovernanceTier,
		Trust:              opts.InitialTrust,
		Fingerprint:        fp,
		LastActiveAt:       time.Now(),
	}

	r.mu.Lock()
	r.agents[id] = agent
	r.indexLocked(agent)
	r.mu.Unlock()

	r.publish(events.EventAgentRegistered, agent.ID, "", map[string]interface{}{
		"name": agent.Name, "status": string(agent.Status),
	})
	return agent, nil
}

// Get returns the agent with the given ID, or nil.
func (r *Registry) Get(id string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// UpdateTrustVector validates and replaces an agent's trust vector,
// reindexing by trust level and emitting trust_updated if the level
// changed.
func (r *Registry) UpdateTrustVector(id string, v trust.Vector) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", fleeterr.InvalidArgument, err)
	}

	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: agent %s", fleeterr.NotFound, id)
	}
	oldLevel := agent.Trust.Classify()
	r.deindexTrustLocked(agent)
	agent.Trust = v
	newLevel := agent.Trust.Classify()
	r.indexTrustLocked(agent)
	r.mu.Unlock()

	if oldLevel != newLevel {
		r.publish(events.EventTrustUpdated, id, "", map[string]interface{}{
			"old_level": string(oldLevel), "new_level": string(newLevel),
		})
	}
	return nil
}

// RecordTaskCompletion updates an agent's rolling stats after a task
// finishes: increments tasksCompleted, folds the outcome into
// successRate via an EMA, decrements the in-flight count, and returns
// the agent to idle once it reaches zero.
func (r *Registry) RecordTaskCompletion(id string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: agent %s", fleeterr.NotFound, id)
	}

	agent.TasksCompleted++
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	agent.SuccessRate = successRateAlpha*outcome + (1-successRateAlpha)*agent.SuccessRate

	if agent.CurrentTaskCount > 0 {
		agent.CurrentTaskCount--
	}
	agent.LastActiveAt = time.Now()

	if agent.CurrentTaskCount == 0 && agent.Status == StatusBusy {
		r.deindexStatusLocked(agent)
		agent.Status = StatusIdle
		r.indexStatusLocked(agent)
	}
	return nil
}

// GetAgentsForTier returns agents whose MaxGovernanceTier authorizes
// tier, whose trust level is not CRITICAL, and whose status is idle or
// busy.
func (r *Registry) GetAgentsForTier(tier governance.Tier) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Agent
	for _, a := range r.agents {
		if !governance.AtLeast(a.MaxGovernanceTier, tier) {
			continue
		}
		if a.Trust.Classify() == trust.LevelCritical {
			continue
		}
		if a.Status != StatusIdle && a.Status != StatusBusy {
			continue
		}
		out = append(out, a)
	}
	return out
}

// TrustHistogram returns the number of registered agents at each trust
// level, keyed by the level's string name, for dashboard/metrics use.
func (r *Registry) TrustHistogram() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.byTrustLevel))
	for level, ids := range r.byTrustLevel {
		out[string(level)] = len(ids)
	}
	return out
}

// QuarantineCount returns the number of agents currently in the
// quarantined status.
func (r *Registry) QuarantineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byStatus[StatusQuarantined])
}

// EligibleForTier implements governance.ParticipantSource.
func (r *Registry) EligibleForTier(tier governance.Tier) []string {
	agents := r.GetAgentsForTier(tier)
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

// IsUnavailable implements governance.ParticipantSource.
func (r *Registry) IsUnavailable(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return true
	}
	return !a.IsAvailable()
}

// Deregister removes an agent, cascading: outstanding task assignments
// are cancelled through the dispatcher, and any open roundtable vote is
// recorded as abstain.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: agent %s", fleeterr.NotFound, id)
	}
	r.deindexLocked(agent)
	delete(r.agents, id)
	tasks := r.tasks
	r.mu.Unlock()

	if tasks != nil {
		tasks.CancelAssignmentsFor(id)
	}
	if r.roundtable != nil {
		r.roundtable.AbstainVoter(id)
	}

	r.publish(events.EventAgentRemoved, id, "", nil)
	return nil
}

// SetStatus transitions an agent's status, reindexing by status and
// emitting agent_suspended/agent_quarantined for those transitions.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: agent %s", fleeterr.NotFound, id)
	}
	r.deindexStatusLocked(agent)
	agent.Status = status
	r.indexStatusLocked(agent)
	r.mu.Unlock()

	switch status {
	case StatusSuspended:
		r.publish(events.EventAgentSuspended, id, "", nil)
	case StatusQuarantined:
		r.publish(events.EventAgentQuarantined, id, "", nil)
	default:
		r.publish(events.EventAgentUpdated, id, "", map[string]interface{}{"status": string(status)})
	}
	return nil
}

func (r *Registry) publish(t events.EventType, agentID, taskID string, data map[string]interface{}) {
	if r.bus == nil {
		return
	}
	e := events.NewEvent(t, "registry", "all", events.PriorityNormal, data)
	e.AgentID = agentID
	e.TaskID = taskID
	r.bus.Publish(e)
}

func (r *Registry) indexLocked(a *Agent) {
	r.indexStatusLocked(a)
	r.indexTrustLocked(a)
	for cap := range a.Capabilities {
		if r.byCapability[cap] == nil {
			r.byCapability[cap] = make(map[string]bool)
		}
		r.byCapability[cap][a.ID] = true
	}
}

func (r *Registry) deindexLocked(a *Agent) {
	r.deindexStatusLocked(a)
	r.deindexTrustLocked(a)
	for cap := range a.Capabilities {
		delete(r.byCapability[cap], a.ID)
	}
}

func (r *Registry) indexStatusLocked(a *Agent) {
	if r.byStatus[a.Status] == nil {
		r.byStatus[a.Status] = make(map[string]bool)
	}
	r.byStatus[a.Status][a.ID] = true
}

func (r *Registry) deindexStatusLocked(a *Agent) {
	delete(r.byStatus[a.Status], a.ID)
}

func (r *Registry) indexTrustLocked(a *Agent) {
	level := a.Trust.Classify()
	if r.byTrustLevel[level] == nil {
		r.byTrustLevel[level] = make(map[string]bool)
	}
	r.byTrustLevel[level][a.ID] = true
}

func (r *Registry) deindexTrustLocked(a *Agent) {
	delete(r.byTrustLevel[a.Trust.Classify()], a.ID)
}

func randomAgentID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("agent-%x", buf), nil
}
