package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/scbe/fleet/internal/events"
	"github.com/scbe/fleet/internal/fleeterr"
	"github.com/scbe/fleet/internal/governance"
	"github.com/scbe/fleet/internal/registry"
)

// Scoring weights for the assignment algorithm's candidate ranking.
const (
	weightTrust        = 0.4
	weightSuccessRate   = 0.3
	weightAvailability = 0.2
	weightRecency      = 0.1
)

// AgentSource is the narrow registry surface the dispatcher needs to
// pick a candidate, so this package never imports registry's mutation
// API directly.
type AgentSource interface {
	GetAgentsForTier(tier governance.Tier) []*registry.Agent
}

// Dispatcher owns the task queue and assigns pending tasks to eligible
// agents, opening a roundtable when a task requires approval.
type Dispatcher struct {
	mu sync.Mutex

	queue      *Queue
	agents     AgentSource
	roundtable *governance.Roundtable
	bus        *events.Bus

	retrigger *RetriggerPolicy
}

// NewDispatcher constructs a dispatcher. bus and roundtable may be nil
// in tests that don't exercise event emission or approval flows.
func NewDispatcher(agents AgentSource, roundtable *governance.Roundtable, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		queue:      NewQueue(),
		agents:     agents,
		roundtable: roundtable,
		bus:        bus,
		retrigger:  NewRetriggerPolicy(),
	}
}

// Submit validates and enqueues a task.
func (d *Dispatcher) Submit(t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", fleeterr.InvalidArgument, err)
	}
	d.queue.Add(t)
	d.publish(events.EventTaskCreated, t, nil)
	return nil
}

// candidate pairs an agent with its computed assignment score.
type candidate struct {
	agent *registry.Agent
	score float64
}

// AssignNext pops the highest-priority pending task and attempts to
// assign it. Returns the task (possibly left pending) and, when the
// task has no eligible agent, an error wrapping
// fleeterr.PreconditionFailed carrying the stable reason "No eligible
// agents available" so callers and logs get a consistent signal rather
// than silently-still-pending with no explanation.
func (d *Dispatcher) AssignNext(now time.Time) (*Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.queue.GetByStatus(StatusPending)
	if len(pending) == 0 {
		return nil, nil
	}
	task := pending[0]

	eligible := d.eligibleCandidates(task, now)
	if len(eligible) == 0 {
		return task, fmt.Errorf("%w: No eligible agents available", fleeterr.PreconditionFailed)
	}

	best := eligible[0]
	for _, c := range eligible[1:] {
		if c.score > best.score || (c.score == best.score && c.agent.LastActiveAt.Before(best.agent.LastActiveAt)) {
			best = c
		}
	}

	if task.RequiresApproval {
		return d.beginApproval(task, best.agent)
	}
	return d.commitAssignment(task, best.agent)
}

func (d *Dispatcher) eligibleCandidates(task *Task, now time.Time) []candidate {
	var out []candidate
	for _, a := range d.agents.GetAgentsForTier(task.RequiredTier) {
		if !a.HasCapability(task.RequiredCapability) {
			continue
		}
		if a.MaxConcurrentTasks > 0 && a.CurrentTaskCount >= a.MaxConcurrentTasks {
			continue
		}
		if a.TrustScore() < task.MinTrustScore {
			continue
		}
		score := weightTrust*a.TrustScore() +
			weightSuccessRate*a.SuccessRate +
			weightAvailability*a.Availability() +
			weightRecency*a.Recency(now)
		out = append(out, candidate{agent: a, score: score})
	}
	return out
}

// beginApproval marks the task awaiting_approval, records the
// provisional assignee, and opens a roundtable sized to the task's
// required tier.
func (d *Dispatcher) beginApproval(task *Task, provisional *registry.Agent) (*Task, error) {
	if err := task.TransitionTo(StatusAwaitingApproval); err != nil {
		return task, nil
	}
	task.AssignedAgentID = provisional.ID
	d.queue.Update(task)

	if d.roundtable != nil {
		session, err := d.roundtable.Open(governance.OpenOptions{
			Topic:        fmt.Sprintf("approve task %s", task.ID),
			LinkedTaskID: task.ID,
			Tier:         task.RequiredTier,
		})
		if err == nil {
			task.RoundtableSessionID = session.ID
			d.queue.Update(task)
			d.publish(events.EventRoundtableStarted, task, map[string]interface{}{"session_id": session.ID})
		}
	}

	d.publish(events.EventTaskAssigned, task, map[string]interface{}{"awaiting_approval": true})
	return task, nil
}

// ApproveAssignment completes a task's approval flow once its
// roundtable session has concluded, transitioning assigned -> running.
func (d *Dispatcher) ApproveAssignment(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task := d.queue.GetByID(taskID)
	if task == nil {
		return fmt.Errorf("%w: task %s", fleeterr.NotFound, taskID)
	}
	agentID := task.AssignedAgentID
	if err := task.TransitionTo(StatusAssigned); err != nil {
		return fmt.Errorf("%w: %v", fleeterr.Conflict, err)
	}
	d.queue.Update(task)
	d.publish(events.EventTaskAssigned, task, nil)

	if err := task.TransitionTo(StatusRunning); err != nil {
		return fmt.Errorf("%w: %v", fleeterr.Conflict, err)
	}
	now := time.Now()
	task.StartedAt = &now
	d.queue.Update(task)
	d.publish(events.EventTaskStarted, task, map[string]interface{}{"agent_id": agentID})
	return nil
}

func (d *Dispatcher) commitAssignment(task *Task, agent *registry.Agent) (*Task, error) {
	if err := task.TransitionTo(StatusAssigned); err != nil {
		return task, nil
	}
	task.AssignedAgentID = agent.ID
	agent.CurrentTaskCount++
	if agent.Status == registry.StatusIdle {
		agent.Status = registry.StatusBusy
	}
	d.queue.Update(task)
	d.publish(events.EventTaskAssigned, task, nil)

	if err := task.TransitionTo(StatusRunning); err != nil {
		return task, nil
	}
	now := time.Now()
	task.StartedAt = &now
	d.queue.Update(task)
	d.publish(events.EventTaskStarted, task, nil)
	return task, nil
}

// CompleteTask marks a running task completed and records its output.
func (d *Dispatcher) CompleteTask(taskID string, output interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task := d.queue.GetByID(taskID)
	if task == nil {
		return fmt.Errorf("%w: task %s", fleeterr.NotFound, taskID)
	}
	if err := task.TransitionTo(StatusCompleted); err != nil {
		return fmt.Errorf("%w: %v", fleeterr.Conflict, err)
	}
	task.Output = output
	now := time.Now()
	task.CompletedAt = &now
	d.queue.Update(task)
	d.retrigger.RecordSuccess(taskID)
	d.publish(events.EventTaskCompleted, task, nil)
	return nil
}

// FailTask records a task failure. If the retry policy still allows a
// retry, the task returns to pending (preserving queue position rules);
// otherwise it becomes terminally failed.
func (d *Dispatcher) FailTask(taskID string, cause string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task := d.queue.GetByID(taskID)
	if task == nil {
		return fmt.Errorf("%w: task %s", fleeterr.NotFound, taskID)
	}

	policy := DefaultRetryPolicy
	policy.MaxRetries = task.MaxRetries
	decision := d.retrigger.Evaluate(taskID, policy)
	if task.RetryCount+1 >= task.MaxRetries {
		decision.Action = ActionAbandon
	}
	switch decision.Action {
	case ActionRetry, ActionReassign:
		task.RetryCount++
		if err := task.TransitionTo(StatusPending); err != nil {
			return fmt.Errorf("%w: %v", fleeterr.Conflict, err)
		}
		if decision.Action == ActionReassign {
			task.AssignedAgentID = ""
		}
		d.queue.Update(task)
		d.publish(events.EventTaskFailed, task, map[string]interface{}{"cause": cause, "retrying": true})
		return nil
	default:
		if err := task.TransitionTo(StatusFailed); err != nil {
			return fmt.Errorf("%w: %v", fleeterr.Conflict, err)
		}
		now := time.Now()
		task.CompletedAt = &now
		d.queue.Update(task)
		d.publish(events.EventTaskFailed, task, map[string]interface{}{"cause": cause, "retrying": false})
		return nil
	}
}

// CancelAssignmentsFor cancels every outstanding (non-terminal) task
// assigned to agentID. Implements registry.Deregisterer, called when an
// agent is deregistered.
func (d *Dispatcher) CancelAssignmentsFor(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	tasks := d.queue.GetByAgent(agentID)
	n := 0
	for _, t := range tasks {
		if t.IsTerminal() {
			continue
		}
		t.Status = StatusCancelled
		d.queue.Update(t)
		d.publish(events.EventTaskCancelled, t, nil)
		n++
	}
	return n
}

// QueueDepth returns the number of tasks currently queued (including
// in-flight non-terminal tasks), for dashboard/metrics use.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.queue.All() {
		if !t.IsTerminal() {
			n++
		}
	}
	return n
}

func (d *Dispatcher) publish(t events.EventType, task *Task, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	e := events.NewEvent(t, "dispatcher", "all", events.PriorityNormal, data)
	e.TaskID = task.ID
	e.AgentID = task.AssignedAgentID
	d.bus.Publish(e)
}
