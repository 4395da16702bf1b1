package crawl

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/scbe/fleet/internal/events"
)

// Role is a crawl agent's current specialization.
type Role string

const (
	RoleScout    Role = "scout"
	RoleAnalyzer Role = "analyzer"
	RoleSentinel Role = "sentinel"
	RoleReporter Role = "reporter"
)

// AgentStatus is a crawl agent's current activity state.
type AgentStatus string

const (
	AgentIdle        AgentStatus = "idle"
	AgentCrawling    AgentStatus = "crawling"
	AgentAnalyzing   AgentStatus = "analyzing"
	AgentReporting   AgentStatus = "reporting"
	AgentQuarantined AgentStatus = "quarantined"
)

// braid coordinates place each role on the 3x3 Chebyshev-adjacency grid.
var braid = map[Role][2]int{
	RoleScout:    {1, 0},
	RoleAnalyzer: {1, 1},
	RoleSentinel: {0, 1},
	RoleReporter: {0, 0},
}

// chebyshev returns the Chebyshev distance between two role cells.
func chebyshev(a, b [2]int) int {
	dx := abs(a[0] - b[0])
	dy := abs(a[1] - b[1])
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ValidRoleSwitch reports whether a role transition is allowed: Chebyshev
// distance <= 1 on the role braid.
func ValidRoleSwitch(from, to Role) bool {
	fromCell, ok1 := braid[from]
	toCell, ok2 := braid[to]
	if !ok1 || !ok2 {
		return false
	}
	return chebyshev(fromCell, toCell) <= 1
}

const (
	defaultMinSafetyScore    = 0.3
	defaultSuccessRecovery   = 0.1
	defaultFailurePenalty    = 0.2
	defaultRoleSwitchQuorum  = 2
)

// Agent is one crawl-swarm member.
type Agent struct {
	ID             string
	Role           Role
	Status         AgentStatus
	URLsCompleted  int
	URLsFailed     int
	SafetyScore    float64
	RoleSwitchCount int
	CurrentURL     string
	LastActiveAt   time.Time
}

// RoleSwitchRequest records a pending or resolved role-switch proposal.
type RoleSwitchRequest struct {
	ID       string
	AgentID  string
	From     Role
	To       Role
	Votes    map[string]bool
	Resolved bool
	Approved bool
}

// Coordinator owns the frontier, the crawl-agent roster, rate limiting,
// role-switch governance, and sentinel-driven quarantine.
type Coordinator struct {
	mu sync.Mutex

	frontier *Frontier
	agents   map[string]*Agent

	requireRoleSwitchConsensus bool
	roleSwitchQuorum           int
	minSafetyScore             float64
	successRecovery            float64
	failurePenalty             float64

	switches map[string]*RoleSwitchRequest

	bus *events.Bus
}

// NewCoordinator constructs a Coordinator over frontier.
func NewCoordinator(frontier *Frontier, bus *events.Bus) *Coordinator {
	return &Coordinator{
		frontier:        frontier,
		agents:          make(map[string]*Agent),
		roleSwitchQuorum: defaultRoleSwitchQuorum,
		minSafetyScore:   defaultMinSafetyScore,
		successRecovery:  defaultSuccessRecovery,
		failurePenalty:   defaultFailurePenalty,
		switches:         make(map[string]*RoleSwitchRequest),
		bus:              bus,
	}
}

// RequireRoleSwitchConsensus toggles whether role switches need
// other-agent approval before taking effect.
func (c *Coordinator) RequireRoleSwitchConsensus(required bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requireRoleSwitchConsensus = required
}

// AddAgent registers a crawl agent with the coordinator.
func (c *Coordinator) AddAgent(id string, role Role) *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &Agent{ID: id, Role: role, Status: AgentIdle, SafetyScore: 1.0, LastActiveAt: time.Now()}
	c.agents[id] = a
	return a
}

// Agent returns the crawl agent with the given ID, or nil.
func (c *Coordinator) Agent(id string) *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents[id]
}

// AddDiscoveredURL adds a URL a scout discovered while crawling
// parentURL into the frontier at parentDepth+1.
func (c *Coordinator) AddDiscoveredURL(rawURL, parentURL string, parentDepth int) (*Entry, error) {
	return c.frontier.AddDiscovered(rawURL, parentURL, parentDepth)
}

// CompleteEntry marks a frontier URL completed.
func (c *Coordinator) CompleteEntry(canon string) error {
	return c.frontier.Complete(canon)
}

// FailEntry marks a frontier URL failed, or re-queues it for retry.
func (c *Coordinator) FailEntry(canon string, maxRetries int) error {
	return c.frontier.Fail(canon, maxRetries)
}

// AssignNext returns a frontier entry to work on, routed by the agent's
// current role: scout claims the next queued entry; analyzer gets a
// scout-completed entry without re-claiming it; sentinel and reporter
// always get nil.
func (c *Coordinator) AssignNext(agentID string) *Entry {
	c.mu.Lock()
	agent, ok := c.agents[agentID]
	c.mu.Unlock()
	if !ok || agent.Status == AgentQuarantined {
		return nil
	}

	switch agent.Role {
	case RoleScout:
		return c.frontier.Claim(agentID, time.Now())
	case RoleAnalyzer:
		return c.frontier.CompletedByScout()
	default:
		return nil
	}
}

// RequestRoleSwitch validates a Chebyshev-adjacent role transition and
// either applies it immediately or opens a pending vote, depending on
// RequireRoleSwitchConsensus. Any other target returns a nil request.
func (c *Coordinator) RequestRoleSwitch(agentID string, to Role) *RoleSwitchRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok || !ValidRoleSwitch(agent.Role, to) {
		return nil
	}

	req := &RoleSwitchRequest{
		ID:      randomID("switch"),
		AgentID: agentID,
		From:    agent.Role,
		To:      to,
		Votes:   make(map[string]bool),
	}

	if !c.requireRoleSwitchConsensus {
		agent.Role = to
		agent.RoleSwitchCount++
		req.Resolved = true
		req.Approved = true
		c.publish(events.EventAgentUpdated, agentID, map[string]interface{}{"role": string(to)})
		return req
	}

	c.switches[req.ID] = req
	return req
}

// VoteRoleSwitch records another crawl agent's approval for a pending
// role-switch request, applying the switch once roleSwitchQuorum votes
// from agents other than the requester have arrived.
func (c *Coordinator) VoteRoleSwitch(requestID, voterID string) (*RoleSwitchRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.switches[requestID]
	if !ok {
		return nil, fmt.Errorf("unknown role-switch request: %s", requestID)
	}
	if req.Resolved {
		return req, nil
	}
	if voterID == req.AgentID {
		return req, fmt.Errorf("requester cannot vote on its own switch")
	}
	req.Votes[voterID] = true

	if len(req.Votes) >= c.roleSwitchQuorum {
		req.Resolved = true
		req.Approved = true
		if agent, ok := c.agents[req.AgentID]; ok {
			agent.Role = req.To
			agent.RoleSwitchCount++
		}
		c.publish(events.EventAgentUpdated, req.AgentID, map[string]interface{}{"role": string(req.To)})
	}
	return req, nil
}

// RecordResult applies a per-URL success/failure outcome to a crawl
// agent's safety score, auto-quarantining if it drops below the floor.
func (c *Coordinator) RecordResult(agentID string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return
	}
	agent.LastActiveAt = time.Now()
	if success {
		agent.URLsCompleted++
		agent.SafetyScore += c.successRecovery
		if agent.SafetyScore > 1 {
			agent.SafetyScore = 1
		}
	} else {
		agent.URLsFailed++
		agent.SafetyScore -= c.failurePenalty
		if agent.SafetyScore < 0 {
			agent.SafetyScore = 0
		}
	}

	if agent.SafetyScore < c.minSafetyScore && agent.Status != AgentQuarantined {
		c.quarantineLocked(agent, "safety score below floor")
	}
}

// QuarantineAgent transitions id to quarantined, excludes it from
// further URL assignment, decays its safety score to 0, and publishes
// on the sentinel channel.
func (c *Coordinator) QuarantineAgent(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[id]
	if !ok {
		return fmt.Errorf("unknown crawl agent: %s", id)
	}
	c.quarantineLocked(agent, reason)
	return nil
}

func (c *Coordinator) quarantineLocked(agent *Agent, reason string) {
	agent.Status = AgentQuarantined
	agent.SafetyScore = 0
	c.publish(events.EventAgentQuarantined, agent.ID, map[string]interface{}{"reason": reason})
}

// ReleaseFromQuarantine un-quarantines id, only if its safety score has
// recovered to at least minSafetyScore.
func (c *Coordinator) ReleaseFromQuarantine(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[id]
	if !ok {
		return fmt.Errorf("unknown crawl agent: %s", id)
	}
	if agent.SafetyScore < c.minSafetyScore {
		return fmt.Errorf("safety score %.2f has not recovered to %.2f", agent.SafetyScore, c.minSafetyScore)
	}
	agent.Status = AgentIdle
	return nil
}

func (c *Coordinator) publish(t events.EventType, agentID string, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	e := events.NewEvent(t, "crawl", "all", events.PriorityNormal, data)
	e.AgentID = agentID
	c.bus.Publish(e)
}

func randomID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%x", prefix, buf)
}
