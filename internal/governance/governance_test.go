package governance

import (
	"testing"
	"time"
)

func TestClassifyKeywords(t *testing.T) {
	cases := map[string]Tier{
		"delete_branch":   TierDR,
		"rollback deploy": TierDR,
		"configure agent": TierUM,
		"deploy service":  TierCA,
		"quarantine node": TierAV,
		"read status":     TierKO,
		"something else":  TierRU,
	}
	for action, want := range cases {
		if got := Classify(action); got != want {
			t.Errorf("Classify(%q) = %s, want %s", action, got, want)
		}
	}
}

func TestCanPerformAction(t *testing.T) {
	d := CanPerformAction("deploy service", TierRU, 0.9)
	if d.Allowed {
		t.Error("RU tier should not authorize a CA-tier deploy action")
	}

	d = CanPerformAction("deploy service", TierCA, 0.2)
	if d.Allowed {
		t.Error("insufficient trust score should block even with the right tier")
	}

	d = CanPerformAction("deploy service", TierCA, 0.9)
	if !d.Allowed {
		t.Errorf("expected deploy to be allowed at tier CA with high trust, got reason %q", d.Reason)
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(TierDR, TierRU) {
		t.Error("DR should satisfy RU requirement")
	}
	if AtLeast(TierKO, TierUM) {
		t.Error("KO should not satisfy UM requirement")
	}
}

// fakeSource is a ParticipantSource test double.
type fakeSource struct {
	eligible    []string
	unavailable map[string]bool
}

func (f *fakeSource) EligibleForTier(Tier) []string { return f.eligible }
func (f *fakeSource) IsUnavailable(id string) bool  { return f.unavailable[id] }

func TestOpenInsufficientParticipants(t *testing.T) {
	src := &fakeSource{eligible: []string{"a1"}}
	rt := NewRoundtable(src)
	_, err := rt.Open(OpenOptions{Topic: "t", Tier: TierUM})
	if err == nil {
		t.Fatal("expected error for insufficient participants")
	}
}

func TestRoundtableApprovalScenario(t *testing.T) {
	agents := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
	src := &fakeSource{eligible: agents, unavailable: map[string]bool{}}
	rt := NewRoundtable(src)

	sess, err := rt.Open(OpenOptions{Topic: "deploy", Tier: TierUM})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.Status != StatusActive {
		t.Fatalf("status = %s, want active", sess.Status)
	}

	// 4 approvals: UM requires 5 tongues out of 6 participants.
	for _, a := range agents[:4] {
		status, err := rt.CastVote(sess.ID, a, VoteApprove)
		if err != nil {
			t.Fatalf("CastVote(%s): %v", a, err)
		}
		if status != StatusActive {
			t.Fatalf("status after %d approvals = %s, want active", 4, status)
		}
	}

	status, err := rt.CastVote(sess.ID, "a5", VoteApprove)
	if err != nil {
		t.Fatalf("CastVote final: %v", err)
	}
	if status != StatusApproved {
		t.Fatalf("status = %s, want approved", status)
	}
}

func TestCastVoteRejectsDoubleVote(t *testing.T) {
	agents := []string{"a1", "a2", "a3"}
	src := &fakeSource{eligible: agents, unavailable: map[string]bool{}}
	rt := NewRoundtable(src)
	sess, _ := rt.Open(OpenOptions{Topic: "t", Tier: TierKO, Participants: agents, RequiredConsensus: 1})

	if _, err := rt.CastVote(sess.ID, "a1", VoteApprove); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if _, err := rt.CastVote(sess.ID, "a1", VoteApprove); err == nil {
		t.Error("expected error on double vote")
	}
}

func TestCastVoteRejectsUnavailableVoter(t *testing.T) {
	agents := []string{"a1", "a2"}
	src := &fakeSource{eligible: agents, unavailable: map[string]bool{"a1": true}}
	rt := NewRoundtable(src)
	sess, _ := rt.Open(OpenOptions{Topic: "t", Tier: TierKO, Participants: agents})

	if _, err := rt.CastVote(sess.ID, "a1", VoteApprove); err == nil {
		t.Error("expected error voting while suspended")
	}
}

func TestSessionExpires(t *testing.T) {
	agents := []string{"a1", "a2"}
	src := &fakeSource{eligible: agents, unavailable: map[string]bool{}}
	rt := NewRoundtable(src)
	sess, _ := rt.Open(OpenOptions{Topic: "t", Tier: TierKO, Participants: agents, Timeout: time.Millisecond})

	time.Sleep(5 * time.Millisecond)
	status, err := rt.CastVote(sess.ID, "a1", VoteApprove)
	if err == nil {
		t.Error("expected error voting on expired session")
	}
	if status != StatusExpired {
		t.Errorf("status = %s, want expired", status)
	}
}

func TestRejectionByMajority(t *testing.T) {
	agents := []string{"a1", "a2", "a3"}
	src := &fakeSource{eligible: agents, unavailable: map[string]bool{}}
	rt := NewRoundtable(src)
	sess, _ := rt.Open(OpenOptions{Topic: "t", Tier: TierKO, Participants: agents})

	rt.CastVote(sess.ID, "a1", VoteReject)
	status, _ := rt.CastVote(sess.ID, "a2", VoteReject)
	if status != StatusRejected {
		t.Errorf("status = %s, want rejected", status)
	}
}

func TestSweepExpiresActiveSessions(t *testing.T) {
	agents := []string{"a1", "a2"}
	src := &fakeSource{eligible: agents, unavailable: map[string]bool{}}
	rt := NewRoundtable(src)
	sess, _ := rt.Open(OpenOptions{Topic: "t", Tier: TierKO, Participants: agents, Timeout: time.Millisecond})

	time.Sleep(5 * time.Millisecond)
	n := rt.Sweep(time.Now())
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	got, _ := rt.Get(sess.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}
