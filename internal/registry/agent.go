// Package registry is the Agent Registry & Trust subsystem: admission,
// lifecycle, trust-vector maintenance, and the capability/status/tier
// indices the dispatcher and governance subsystems query.
package registry

import (
	"time"

	"github.com/scbe/fleet/internal/governance"
	"github.com/scbe/fleet/internal/trust"
)

// Status is the lifecycle state of a registered agent.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusBusy        Status = "busy"
	StatusOffline     Status = "offline"
	StatusSuspended   Status = "suspended"
	StatusQuarantined Status = "quarantined"
)

// Capability is one entry from the closed capability vocabulary.
type Capability string

const (
	CapabilityCodeGeneration Capability = "code_generation"
	CapabilityCodeReview     Capability = "code_review"
	CapabilityTesting        Capability = "testing"
	CapabilityDocumentation  Capability = "documentation"
	CapabilitySecurityScan   Capability = "security_scan"
	CapabilityDeployment     Capability = "deployment"
	CapabilityMonitoring     Capability = "monitoring"
	CapabilityDataAnalysis   Capability = "data_analysis"
	CapabilityOrchestration  Capability = "orchestration"
	CapabilityCommunication  Capability = "communication"
)

// Agent is one fleet member: identity, provider/model, capabilities,
// status, governance ceiling, trust, and rolling performance stats.
type Agent struct {
	ID       string
	Name     string
	Provider string
	Model    string

	Capabilities map[Capability]bool

	Status             Status
	MaxConcurrentTasks int
	CurrentTaskCount   int

	MaxGovernanceTier governance.Tier
	Trust             trust.Vector
	Fingerprint       trust.Fingerprint

	LastActiveAt   time.Time
	TasksCompleted int
	SuccessRate    float64 // exponential moving average in [0,1]
}

// HasCapability reports whether the agent declares cap.
func (a *Agent) HasCapability(cap Capability) bool {
	return a.Capabilities[cap]
}

// TrustScore reduces the agent's trust vector to a single scalar.
func (a *Agent) TrustScore() float64 {
	return a.Trust.Score()
}

// TrustLevel classifies the agent's current trust vector.
func (a *Agent) TrustLevel() trust.Level {
	return a.Trust.Classify()
}

// IsAvailable reports whether the agent can currently accept dispatch or
// cast a governance vote: not suspended and not quarantined. Capacity is
// not checked here; the dispatcher checks CurrentTaskCount against
// MaxConcurrentTasks separately.
func (a *Agent) IsAvailable() bool {
	return a.Status != StatusSuspended && a.Status != StatusQuarantined
}

// Availability returns 1 - load ratio, used by the dispatcher's scoring
// formula. An agent with MaxConcurrentTasks == 0 is treated as fully
// available (unbounded).
func (a *Agent) Availability() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 1
	}
	ratio := float64(a.CurrentTaskCount) / float64(a.MaxConcurrentTasks)
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// Recency returns max(0, 1 - hoursSinceActive/10), used by the
// dispatcher's scoring formula.
func (a *Agent) Recency(now time.Time) float64 {
	hours := now.Sub(a.LastActiveAt).Hours()
	r := 1 - hours/10
	if r < 0 {
		return 0
	}
	return r
}
