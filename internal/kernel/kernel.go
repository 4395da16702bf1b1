package kernel

import (
	"fmt"
	"sync"
	"time"
)

// InvariantResult is the outcome of checkInvariants: Allowed mirrors a
// boolean decision, Violations lists every invariant that failed (empty
// when Allowed).
type InvariantResult struct {
	Allowed    bool
	Violations []string
}

// State is the snapshot of per-node facts checkInvariants consults.
type State struct {
	Energy        float64
	Trust         float64
	Role          string
	CurrentMode   string
	HazardFlag    bool
	NeighborCount int
}

// AuditEntry is one recorded invariant check.
type AuditEntry struct {
	Timestamp  time.Time
	Action     string
	State      State
	Invariants InvariantResult
	Allowed    bool
	Violations []string
}

// Kernel is a single node's strictly per-node governance envelope: never
// shared with, or reachable from, any other node's kernel.
type Kernel struct {
	mu sync.Mutex

	key            []byte
	current        *Manifest
	history        []Manifest
	humanOverride  bool
	audit          []AuditEntry
}

// New constructs a Kernel with no active policy.
func New(key []byte) *Kernel {
	return &Kernel{key: key}
}

// ApplyPolicy installs m as the current policy if its signature is
// valid, its epoch exceeds the current one, and it has not already
// expired. On success the previous manifest (if any) is archived.
func (k *Kernel) ApplyPolicy(m Manifest) PolicyResult {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !m.Verify(k.key) {
		return PolicyResult{Reason: "invalid signature"}
	}
	if k.current != nil && m.Epoch <= k.current.Epoch {
		return PolicyResult{Reason: fmt.Sprintf("epoch %d does not exceed current epoch %d", m.Epoch, k.current.Epoch)}
	}
	if time.Now().After(m.ExpiresAt) {
		return PolicyResult{Reason: "manifest already expired"}
	}

	if k.current != nil {
		k.history = append(k.history, *k.current)
	}
	copied := m
	k.current = &copied
	return PolicyResult{Applied: true, Reason: "policy applied"}
}

// SetHumanOverride toggles the bypass that reports every invariant as
// passed regardless of actual state.
func (k *Kernel) SetHumanOverride(active bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.humanOverride = active
}

// CheckInvariants evaluates the six standing invariants for action
// against state, appending an audit entry regardless of outcome.
func (k *Kernel) CheckInvariants(action string, state State) InvariantResult {
	k.mu.Lock()
	defer k.mu.Unlock()

	var result InvariantResult
	if k.humanOverride {
		result = InvariantResult{Allowed: true}
	} else {
		result = k.evaluateLocked(state)
	}

	k.audit = append(k.audit, AuditEntry{
		Timestamp:  time.Now(),
		Action:     action,
		State:      state,
		Invariants: result,
		Allowed:    result.Allowed,
		Violations: result.Violations,
	})
	return result
}

func (k *Kernel) evaluateLocked(state State) InvariantResult {
	var violations []string

	if k.current == nil {
		violations = append(violations, "no active policy")
	} else if time.Now().After(k.current.ExpiresAt) {
		violations = append(violations, "policy expired")
	}

	if k.current != nil {
		if state.Energy < k.current.EnergyFloor {
			violations = append(violations, fmt.Sprintf("energy %.2f below floor %.2f", state.Energy, k.current.EnergyFloor))
		}
		if state.Trust < k.current.MinTrust {
			violations = append(violations, fmt.Sprintf("trust %.2f below minimum %.2f", state.Trust, k.current.MinTrust))
		}
		if !containsString(k.current.AllowedRoles, state.Role) {
			violations = append(violations, fmt.Sprintf("role %q not in allowed roles", state.Role))
		}
		if containsString(k.current.Suppressed, state.CurrentMode) {
			violations = append(violations, fmt.Sprintf("mode %q is suppressed", state.CurrentMode))
		}
	}

	if state.HazardFlag {
		violations = append(violations, "hazard flag set")
	}

	return InvariantResult{Allowed: len(violations) == 0, Violations: violations}
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

// RecentViolationCount scans the last n audit entries and counts how
// many were disallowed.
func (k *Kernel) RecentViolationCount(n int) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	start := len(k.audit) - n
	if start < 0 {
		start = 0
	}
	count := 0
	for _, e := range k.audit[start:] {
		if !e.Allowed {
			count++
		}
	}
	return count
}

// AuditLog returns a defensive copy of the full audit history.
func (k *Kernel) AuditLog() []AuditEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]AuditEntry, len(k.audit))
	copy(out, k.audit)
	return out
}

// CurrentEpoch returns the current policy's epoch, or 0 if none is set.
func (k *Kernel) CurrentEpoch() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current == nil {
		return 0
	}
	return k.current.Epoch
}
