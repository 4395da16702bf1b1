package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event on the fleet-wide bus.
type EventType string

// Event type constants for the fleet-wide event stream.
const (
	EventAgentRegistered  EventType = "agent_registered"
	EventAgentUpdated     EventType = "agent_updated"
	EventAgentRemoved     EventType = "agent_removed"
	EventAgentSuspended   EventType = "agent_suspended"
	EventAgentQuarantined EventType = "agent_quarantined"

	EventTaskCreated   EventType = "task_created"
	EventTaskAssigned  EventType = "task_assigned"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"

	EventRoundtableStarted   EventType = "roundtable_started"
	EventRoundtableVote      EventType = "roundtable_vote"
	EventRoundtableConcluded EventType = "roundtable_concluded"

	EventTrustUpdated  EventType = "trust_updated"
	EventSecurityAlert EventType = "security_alert"
)

// Priority constants for events (lower value = more urgent, matching the
// "priority ASC" ordering convention in store.go).
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

// Event represents a fleet event that can be published and subscribed
// to. Target "all" broadcasts to every subscriber (see Bus.Publish).
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Target    string                 `json:"target"`
	Priority  int                    `json:"priority"`
	Sequence  uint64                 `json:"sequence"`
	AgentID   string                 `json:"agent_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewEvent creates a new event with an auto-generated ID and timestamp.
// Sequence is assigned later by the Bus (per-sender, strictly
// increasing); it is left at zero here.
func NewEvent(eventType EventType, source, target string, priority int, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Priority:  priority,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// AllEventTypes returns all defined event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventAgentRegistered, EventAgentUpdated, EventAgentRemoved, EventAgentSuspended, EventAgentQuarantined,
		EventTaskCreated, EventTaskAssigned, EventTaskStarted, EventTaskCompleted, EventTaskFailed, EventTaskCancelled,
		EventRoundtableStarted, EventRoundtableVote, EventRoundtableConcluded,
		EventTrustUpdated, EventSecurityAlert,
	}
}
