package tasks

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// Action is what AutoRetrigger recommends after a task failure.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionReassign Action = "reassign"
	ActionEscalate Action = "escalate"
	ActionAbandon  Action = "abandon"
)

// RetryPolicy parameterizes a task's retry behavior.
type RetryPolicy struct {
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	MaxRetries      int
	ReassignOnRetry bool
}

// DefaultRetryPolicy mirrors the values used when a task doesn't
// override them.
var DefaultRetryPolicy = RetryPolicy{
	BaseDelay:       500 * time.Millisecond,
	MaxDelay:        30 * time.Second,
	Multiplier:      2.0,
	MaxRetries:      3,
	ReassignOnRetry: true,
}

// Decision is AutoRetrigger's recommendation for one failed attempt.
type Decision struct {
	Action      Action
	Delay       time.Duration
	ShouldRetry bool
}

var errTaskAttemptFailed = errors.New("task attempt failed")
var errAnomalyTripped = errors.New("anomaly signal tripped circuit")

// taskRetryState is the per-task bookkeeping AutoRetrigger keeps: an
// attempt counter, a gobreaker.CircuitBreaker guarding against runaway
// retry storms, a cenkalti/backoff/v5 exponential schedule, and a
// manual trip flag a sentinel can set directly.
type taskRetryState struct {
	attempts      int
	circuitBroken bool
	breaker       *gobreaker.CircuitBreaker
	backoff       *backoff.ExponentialBackOff
	history       []time.Time
}

// RetriggerPolicy is the Task Dispatcher's AutoRetrigger: circuit-broken
// retry-with-backoff bookkeeping, one state machine per task.
type RetriggerPolicy struct {
	mu    sync.Mutex
	tasks map[string]*taskRetryState
}

// NewRetriggerPolicy constructs an empty AutoRetrigger.
func NewRetriggerPolicy() *RetriggerPolicy {
	return &RetriggerPolicy{tasks: make(map[string]*taskRetryState)}
}

func (p *RetriggerPolicy) stateFor(taskID string, policy RetryPolicy) *taskRetryState {
	if s, ok := p.tasks[taskID]; ok {
		return s
	}
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(policy.BaseDelay),
		backoff.WithMaxInterval(policy.MaxDelay),
		backoff.WithMultiplier(policy.Multiplier),
		backoff.WithRandomizationFactor(0),
	)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "task-" + taskID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     policy.MaxDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(policy.MaxRetries+1)
		},
	})

	s := &taskRetryState{breaker: breaker, backoff: bo}
	p.tasks[taskID] = s
	return s
}

// Evaluate records one failed attempt for taskID and returns the
// recommended action.
func (p *RetriggerPolicy) Evaluate(taskID string, policy RetryPolicy) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	if policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy
	}
	state := p.stateFor(taskID, policy)
	state.history = append(state.history, time.Now())

	_, _ = state.breaker.Execute(func() (interface{}, error) {
		if state.circuitBroken {
			return nil, errAnomalyTripped
		}
		return nil, errTaskAttemptFailed
	})

	if state.circuitBroken {
		return Decision{Action: ActionEscalate}
	}

	attempt := state.attempts
	if attempt >= policy.MaxRetries {
		return Decision{Action: ActionAbandon}
	}
	if state.breaker.State() == gobreaker.StateOpen {
		return Decision{Action: ActionEscalate}
	}
	state.attempts++

	delay := state.backoff.NextBackOff()
	if delay == backoff.Stop || delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}

	action := ActionRetry
	if attempt > 0 && policy.ReassignOnRetry {
		action = ActionReassign
	}
	return Decision{Action: action, Delay: delay, ShouldRetry: true}
}

// TripAnomaly immediately trips the circuit for taskID, as triggered by
// an external anomaly signal (e.g. the crawl coordinator's sentinel).
func (p *RetriggerPolicy) TripAnomaly(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.stateFor(taskID, DefaultRetryPolicy)
	state.circuitBroken = true
}

// ResetCircuitBreaker clears the manual trip flag for taskID.
func (p *RetriggerPolicy) ResetCircuitBreaker(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.tasks[taskID]; ok {
		s.circuitBroken = false
	}
}

// RecordSuccess deletes all retry state for taskID.
func (p *RetriggerPolicy) RecordSuccess(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tasks, taskID)
}
