// Package crawlrunner bridges a crawl.Coordinator to an abstract browser
// Backend: it drives one navigate/observe cycle per Step call, builds the
// trajectory point a sentinel later scores, and runs the sentinel scan
// itself when no external detection function is wired in.
package crawlrunner

import (
	"fmt"
	"log"
	"sync"

	"github.com/scbe/fleet/internal/crawl"
	"github.com/scbe/fleet/internal/events"
)

// trajectoryDims is the width of the state vector recorded per step: 5
// risk factors, a 9-slot context encoding, a 6-dim embedded projection,
// and a scalar risk-scaled distance. The context encoding and embedding
// are a partial, documented recipe — only the slots the sentinel
// actually reads (the 5 risk factors and the final distance scalar) are
// populated from real signal; the rest are left as explicit zeroes.
const trajectoryDims = 21

// TrajectoryPoint is one 21-dimensional sample of an agent's crawl state.
type TrajectoryPoint [trajectoryDims]float64

// InteractiveElement is one actionable element observed on a page.
type InteractiveElement struct {
	Tag        string
	DataAttrs  map[string]string
	Visible    bool
}

// FormField describes a form's field shape, deliberately never its value.
type FormField struct {
	Name string
	Type string
}

// Form is a page form's structure, values always omitted.
type Form struct {
	Action string
	Method string
	Fields []FormField
}

// PageObservation is what a Backend reports after navigating to a URL.
type PageObservation struct {
	URL          string
	Title        string
	ReadyState   string
	ViewportW    int
	ViewportH    int
	ScrollX      int
	ScrollY      int
	Elements     []InteractiveElement
	Forms        []Form
	DialogCount  int
	LoadTimeMs   int64
}

// Backend is the abstract browser driver a Runner steps through. None of
// these may throw through Step except Close, which is best-effort.
type Backend interface {
	Initialize() error
	Navigate(url string) error
	Observe() (PageObservation, error)
	Close() error
	IsConnected() bool
}

// GovernanceResult is the per-step risk assessment synthesized from a
// page observation, independent of the kernel's invariant checks.
type GovernanceResult struct {
	Decision    string
	RiskScore   float64
	RiskFactors [5]float64
}

// DetectionResult is what a sentinel detection function reports about one
// managed agent's trajectory.
type DetectionResult struct {
	CombinedScore float64
	Decision      string
	Flagged       bool
	FlagCount     int
}

// DetectionFunc scores an agent's trajectory for anomalous behavior.
type DetectionFunc func(trajectory []TrajectoryPoint, expectedTongueIndex int, config map[string]interface{}) DetectionResult

// ManagedAgent accumulates the trajectory and governance history a
// Runner tracks per crawl agent.
type ManagedAgent struct {
	AgentID       string
	Trajectory    []TrajectoryPoint
	GovernanceLog []GovernanceResult
	ErrorCount    int
}

// StepResult is the outcome of one Step call.
type StepResult struct {
	Success   bool
	URL       string
	Error     string
	Observation *PageObservation
	Governance  *GovernanceResult
	Discovered  []string
}

const (
	defaultMinTrajectoryLength = 3
	defaultQuarantineThreshold = 0.75
	defaultFrontierMaxRetries  = 2
)

// Runner drives a backend through navigate/observe cycles on behalf of
// crawl agents, never letting a backend error escape Step.
type Runner struct {
	mu sync.Mutex

	coordinator *crawl.Coordinator
	backends    map[string]Backend
	managed     map[string]*ManagedAgent

	newBackend func(agentID string) Backend

	minTrajectoryLength int
	quarantineThreshold float64
	detect              DetectionFunc

	bus *events.Bus
}

// NewRunner constructs a Runner. newBackend is called lazily the first
// time an agent's backend is needed.
func NewRunner(coordinator *crawl.Coordinator, newBackend func(agentID string) Backend, bus *events.Bus) *Runner {
	return &Runner{
		coordinator:         coordinator,
		backends:            make(map[string]Backend),
		managed:             make(map[string]*ManagedAgent),
		newBackend:          newBackend,
		minTrajectoryLength: defaultMinTrajectoryLength,
		quarantineThreshold: defaultQuarantineThreshold,
		bus:                 bus,
	}
}

// SetDetectionFunc installs an external anomaly-detection function,
// overriding the recent-denies fallback heuristic used by SentinelScan.
func (r *Runner) SetDetectionFunc(fn DetectionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detect = fn
}

func (r *Runner) managedAgent(agentID string) *ManagedAgent {
	m, ok := r.managed[agentID]
	if !ok {
		m = &ManagedAgent{AgentID: agentID}
		r.managed[agentID] = m
	}
	return m
}

func (r *Runner) backendFor(agentID string) (Backend, error) {
	b, ok := r.backends[agentID]
	if ok {
		return b, nil
	}
	b = r.newBackend(agentID)
	if err := b.Initialize(); err != nil {
		return nil, err
	}
	r.backends[agentID] = b
	return b, nil
}

// Step drives one navigate/observe cycle for agentID. It never returns an
// error: backend failures are folded into a failed StepResult instead.
func (r *Runner) Step(agentID string) *StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.coordinator.Agent(agentID)
	if agent == nil || agent.Status == crawl.AgentQuarantined || agent.Role == crawl.RoleSentinel || agent.Role == crawl.RoleReporter {
		return nil
	}

	managed := r.managedAgent(agentID)

	entry := r.coordinator.AssignNext(agentID)
	if entry == nil {
		return &StepResult{Success: false, Error: "no frontier entry available"}
	}

	result := r.step(agentID, agent.Role, entry, managed)
	if result.Success {
		r.coordinator.CompleteEntry(entry.URL)
		r.coordinator.RecordResult(agentID, true)
		r.publish(events.EventTaskCompleted, agentID, map[string]interface{}{"url": entry.URL})
	} else {
		managed.ErrorCount++
		r.coordinator.FailEntry(entry.URL, defaultFrontierMaxRetries)
		r.coordinator.RecordResult(agentID, false)
		r.publish(events.EventTaskFailed, agentID, map[string]interface{}{"url": entry.URL, "error": result.Error})
	}
	return result
}

func (r *Runner) step(agentID string, role crawl.Role, entry *crawl.Entry, managed *ManagedAgent) *StepResult {
	backend, err := r.backendFor(agentID)
	if err != nil {
		return &StepResult{Success: false, URL: entry.URL, Error: fmt.Sprintf("backend init failed: %v", err)}
	}

	if err := backend.Navigate(entry.URL); err != nil {
		return &StepResult{Success: false, URL: entry.URL, Error: fmt.Sprintf("navigate failed: %v", err)}
	}

	obs, err := backend.Observe()
	if err != nil {
		return &StepResult{Success: false, URL: entry.URL, Error: fmt.Sprintf("observe failed: %v", err)}
	}

	gov := synthesizeGovernance(obs)
	point := buildTrajectoryPoint(gov)
	managed.Trajectory = append(managed.Trajectory, point)
	managed.GovernanceLog = append(managed.GovernanceLog, gov)

	var discovered []string
	switch role {
	case crawl.RoleScout:
		discovered = extractLinks(obs)
		for _, link := range discovered {
			if _, err := r.coordinator.AddDiscoveredURL(link, entry.URL, entry.Depth); err != nil {
				log.Printf("[crawlrunner] discovery add failed for %s: %v", link, err)
			}
		}
	case crawl.RoleAnalyzer:
		// page metadata and form structure are already captured on obs;
		// values are never extracted from Forms by design.
	}

	return &StepResult{
		Success:     true,
		URL:         entry.URL,
		Observation: &obs,
		Governance:  &gov,
		Discovered:  discovered,
	}
}

func (r *Runner) publish(t events.EventType, agentID string, data map[string]interface{}) {
	if r.bus == nil {
		return
	}
	e := events.NewEvent(t, "crawlrunner", "all", events.PriorityNormal, data)
	e.AgentID = agentID
	r.bus.Publish(e)
}

// SentinelScan runs sentinelID's detection pass over every other managed
// agent with a long-enough trajectory, quarantining anyone whose combined
// score reaches the threshold and publishing a quarantine notice.
func (r *Runner) SentinelScan(sentinelID string) []DetectionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flagged []DetectionResult
	for agentID, managed := range r.managed {
		if agentID == sentinelID {
			continue
		}
		if len(managed.Trajectory) < r.minTrajectoryLength {
			continue
		}

		var result DetectionResult
		if r.detect != nil {
			result = r.detect(managed.Trajectory, 0, nil)
		} else {
			result = fallbackDetect(managed.GovernanceLog)
		}

		if result.CombinedScore >= r.quarantineThreshold {
			if err := r.coordinator.QuarantineAgent(agentID, "sentinel scan: combined score above threshold"); err == nil {
				r.publish("sentinel.quarantine_notice", agentID, map[string]interface{}{
					"sentinel":      sentinelID,
					"combinedScore": result.CombinedScore,
					"flagCount":     result.FlagCount,
				})
			}
			flagged = append(flagged, result)
		}
	}
	return flagged
}

// fallbackDetect flags an agent if its recent governance log contains 3
// or more denies, used when no external detection function is wired in.
func fallbackDetect(log []GovernanceResult) DetectionResult {
	denies := 0
	start := 0
	if len(log) > 10 {
		start = len(log) - 10
	}
	for _, g := range log[start:] {
		if g.Decision == "DENY" {
			denies++
		}
	}
	flagged := denies >= 3
	score := float64(denies) / 10.0
	if score > 1 {
		score = 1
	}
	if flagged {
		score = 1
	}
	decision := "ALLOW"
	if flagged {
		decision = "QUARANTINE"
	}
	return DetectionResult{CombinedScore: score, Decision: decision, Flagged: flagged, FlagCount: denies}
}

func synthesizeGovernance(obs PageObservation) GovernanceResult {
	elementRisk := clamp01(float64(len(obs.Elements)) / 50.0)
	formRisk := clamp01(float64(len(obs.Forms)) / 5.0)
	dialogRisk := clamp01(float64(obs.DialogCount) / 3.0)
	loadRisk := clamp01(float64(obs.LoadTimeMs) / 10000.0)
	readyRisk := 0.0
	if obs.ReadyState != "complete" {
		readyRisk = 0.5
	}

	factors := [5]float64{elementRisk, formRisk, dialogRisk, loadRisk, readyRisk}
	var sum float64
	for _, f := range factors {
		sum += f
	}
	riskScore := clamp01(sum / float64(len(factors)))

	decision := "ALLOW"
	if riskScore >= 0.75 {
		decision = "DENY"
	} else if riskScore >= 0.5 {
		decision = "ESCALATE"
	} else if riskScore >= 0.3 {
		decision = "QUARANTINE"
	}

	return GovernanceResult{Decision: decision, RiskScore: riskScore, RiskFactors: factors}
}

// buildTrajectoryPoint assembles the 21-dim state vector: slots 0-4 are
// the risk factors, 5-13 are a context encoding (left zero pending a
// concrete recipe), 14-19 are an embedded projection (likewise zero),
// and slot 20 is a scalar distance scaled by the risk score.
func buildTrajectoryPoint(gov GovernanceResult) TrajectoryPoint {
	var p TrajectoryPoint
	for i, f := range gov.RiskFactors {
		p[i] = f
	}
	p[20] = gov.RiskScore * 1.0
	return p
}

func extractLinks(obs PageObservation) []string {
	seen := make(map[string]bool)
	var links []string
	for _, el := range obs.Elements {
		if el.Tag != "a" {
			continue
		}
		href, ok := el.DataAttrs["href"]
		if !ok {
			continue
		}
		if len(href) < 7 || (href[:7] != "http://" && (len(href) < 8 || href[:8] != "https://")) {
			continue
		}
		if seen[href] {
			continue
		}
		seen[href] = true
		links = append(links, href)
	}
	return links
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
