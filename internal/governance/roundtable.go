package governance

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// VoteChoice is a participant's recorded vote.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// SessionStatus is the lifecycle state of a roundtable session.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusApproved SessionStatus = "approved"
	StatusRejected SessionStatus = "rejected"
	StatusExpired  SessionStatus = "expired"
)

// DefaultTimeout is the default session expiration window.
const DefaultTimeout = 5 * time.Minute

// ParticipantSource resolves the set of agents eligible to sit on a
// roundtable for a given tier and reports whether a given agent is
// currently suspended or quarantined (such agents may never cast a
// vote). Implemented by the agent registry; governance never imports
// registry directly, avoiding a lock-order cycle between the two
// subsystems.
type ParticipantSource interface {
	EligibleForTier(tier Tier) []string
	IsUnavailable(agentID string) bool
}

// Session is a time-bounded multi-signature approval session.
type Session struct {
	mu sync.Mutex

	ID                string
	Topic             string
	LinkedTaskID       string
	Tier              Tier
	Participants      []string
	votes             map[string]VoteChoice
	RequiredConsensus float64
	Status            SessionStatus
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Votes returns a defensive copy of the current vote map.
func (s *Session) Votes() map[string]VoteChoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]VoteChoice, len(s.votes))
	for k, v := range s.votes {
		out[k] = v
	}
	return out
}

// Roundtable manages the set of live and historical governance sessions.
type Roundtable struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	source   ParticipantSource
}

// NewRoundtable constructs a Roundtable backed by the given participant
// source (ordinarily the agent registry).
func NewRoundtable(source ParticipantSource) *Roundtable {
	return &Roundtable{
		sessions: make(map[string]*Session),
		source:   source,
	}
}

// OpenOptions configures a new session.
type OpenOptions struct {
	Topic              string
	LinkedTaskID       string
	Tier               Tier
	Participants       []string // optional; auto-selected from the tier when nil
	RequiredConsensus  float64  // optional override; 0 means use requiredTongues/len(participants)
	Timeout            time.Duration
}

// Open starts a new roundtable session. If Participants is empty, the
// eligible set for the tier is pulled from the ParticipantSource. Open
// fails if the resulting participant count is below the tier's required
// tongue count.
func (r *Roundtable) Open(opts OpenOptions) (*Session, error) {
	participants := opts.Participants
	if len(participants) == 0 {
		participants = r.source.EligibleForTier(opts.Tier)
	}

	required := RequiredTongues(opts.Tier)
	if len(participants) < required {
		return nil, fmt.Errorf("insufficient participants for tier %s: have %d, need %d", opts.Tier, len(participants), required)
	}

	consensus := opts.RequiredConsensus
	if consensus <= 0 {
		consensus = float64(required) / float64(len(participants))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	now := time.Now()
	sess := &Session{
		ID:                uuid.New().String(),
		Topic:             opts.Topic,
		LinkedTaskID:      opts.LinkedTaskID,
		Tier:              opts.Tier,
		Participants:      append([]string(nil), participants...),
		votes:             make(map[string]VoteChoice),
		RequiredConsensus: consensus,
		Status:            StatusActive,
		CreatedAt:         now,
		ExpiresAt:         now.Add(timeout),
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	return sess, nil
}

// Get returns a session by ID.
func (r *Roundtable) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func isParticipant(sess *Session, agentID string) bool {
	for _, p := range sess.Participants {
		if p == agentID {
			return true
		}
	}
	return false
}

// CastVote records a vote, concluding the session synchronously if the
// vote crosses the approval or rejection threshold.
func (r *Roundtable) CastVote(sessionID, voterID string, choice VoteChoice) (SessionStatus, error) {
	sess, ok := r.Get(sessionID)
	if !ok {
		return "", fmt.Errorf("session not found: %s", sessionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.Status != StatusActive {
		return sess.Status, fmt.Errorf("session already closed")
	}

	if time.Now().After(sess.ExpiresAt) {
		sess.Status = StatusExpired
		return sess.Status, fmt.Errorf("session expired")
	}

	if !isParticipant(sess, voterID) {
		return sess.Status, fmt.Errorf("voter %s is not a roundtable participant", voterID)
	}

	if _, voted := sess.votes[voterID]; voted {
		return sess.Status, fmt.Errorf("voter %s has already voted", voterID)
	}

	if r.source.IsUnavailable(voterID) {
		return sess.Status, fmt.Errorf("voter %s is suspended or quarantined", voterID)
	}

	sess.votes[voterID] = choice

	approvals, rejections := tally(sess.votes)
	n := len(sess.Participants)
	approveThreshold := int(math.Ceil(float64(n) * sess.RequiredConsensus))

	switch {
	case approvals >= approveThreshold:
		sess.Status = StatusApproved
	case rejections > n/2:
		sess.Status = StatusRejected
	case len(sess.votes) == n && approvals < approveThreshold:
		sess.Status = StatusRejected
	}

	return sess.Status, nil
}

func tally(votes map[string]VoteChoice) (approvals, rejections int) {
	for _, v := range votes {
		switch v {
		case VoteApprove:
			approvals++
		case VoteReject:
			rejections++
		}
	}
	return
}

// Sweep transitions every active session past its expiration to
// StatusExpired. Sessions also expire lazily on the next CastVote call;
// Sweep lets a caller reap them proactively (e.g. from a periodic
// maintenance tick) without waiting for another vote.
func (r *Roundtable) Sweep(now time.Time) int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	expired := 0
	for _, s := range sessions {
		s.mu.Lock()
		if s.Status == StatusActive && now.After(s.ExpiresAt) {
			s.Status = StatusExpired
			expired++
		}
		s.mu.Unlock()
	}
	return expired
}

// AbstainVoter records an abstain vote for a participant on every
// session they are still active in, without re-running the conclusion
// logic's rejection-threshold math against a voter who never intended
// to block. Used by cascading deregistration when an agent leaves the
// fleet mid-vote.
func (r *Roundtable) AbstainVoter(agentID string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		if s.Status == StatusActive && isParticipant(s, agentID) {
			if _, voted := s.votes[agentID]; !voted {
				s.votes[agentID] = VoteAbstain
			}
		}
		s.mu.Unlock()
	}
}
