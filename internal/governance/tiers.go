// Package governance implements the static tier table, action→tier
// classification, and the roundtable multi-signature approval sessions
// that gate tier-restricted actions.
package governance

import (
	"fmt"
	"strings"
)

// Tier is one of the six governance authorization levels, ordered by
// increasing authority.
type Tier string

const (
	TierKO Tier = "KO"
	TierAV Tier = "AV"
	TierRU Tier = "RU"
	TierCA Tier = "CA"
	TierUM Tier = "UM"
	TierDR Tier = "DR"
)

// order ranks tiers by increasing authority so callers can compare them
// with ">=" semantics via rank().
var order = map[Tier]int{
	TierKO: 0,
	TierAV: 1,
	TierRU: 2,
	TierCA: 3,
	TierUM: 4,
	TierDR: 5,
}

// rank returns the tier's position in the authority ordering. An unknown
// tier ranks below KO so it never satisfies any requirement.
func rank(t Tier) int {
	if r, ok := order[t]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether tier a authorizes actions requiring tier b.
func AtLeast(a, b Tier) bool {
	return rank(a) >= rank(b)
}

// tierSpec is one row of the immutable tier table.
type tierSpec struct {
	MinTrust        float64
	RequiredTongues int
}

// table is the immutable governance tier table.
var table = map[Tier]tierSpec{
	TierKO: {MinTrust: 0.1, RequiredTongues: 1},
	TierAV: {MinTrust: 0.3, RequiredTongues: 2},
	TierRU: {MinTrust: 0.5, RequiredTongues: 3},
	TierCA: {MinTrust: 0.7, RequiredTongues: 4},
	TierUM: {MinTrust: 0.85, RequiredTongues: 5},
	TierDR: {MinTrust: 0.95, RequiredTongues: 6},
}

// MinTrust returns the minimum trust score required for the tier. An
// unknown tier returns 1.0 (the most conservative possible requirement).
func MinTrust(t Tier) float64 {
	if s, ok := table[t]; ok {
		return s.MinTrust
	}
	return 1.0
}

// RequiredTongues returns the minimum count of distinct tier-holding
// signers a roundtable needs to approve an action at this tier.
func RequiredTongues(t Tier) int {
	if s, ok := table[t]; ok {
		return s.RequiredTongues
	}
	return len(table)
}

// actionTiers maps action keywords to their required tier. Lookup is a
// substring match against the action verb, checked from the most
// sensitive keyword down; the default is RU when nothing matches.
var actionTiers = []struct {
	keyword string
	tier    Tier
}{
	{"delete", TierDR},
	{"destroy", TierDR},
	{"rollback", TierDR},
	{"configure", TierUM},
	{"admin", TierUM},
	{"deploy", TierCA},
	{"escalate", TierCA},
	{"quarantine", TierAV},
	{"observe", TierKO},
	{"read", TierKO},
}

// Classify maps an action verb to its required governance tier, per the
// static keyword table. Unknown verbs default to RU.
func Classify(action string) Tier {
	lower := strings.ToLower(action)
	for _, e := range actionTiers {
		if strings.Contains(lower, e.keyword) {
			return e.tier
		}
	}
	return TierRU
}

// Decision is the result returned to callers of canPerformAction.
type Decision struct {
	Allowed            bool
	Reason             string
	RequiredTier       Tier
	RequiresRoundtable bool
}

// CanPerformAction decides whether an agent at maxTier with trustScore
// may perform action, consulting both the tier table and the agent's
// current trust score.
func CanPerformAction(action string, maxTier Tier, trustScore float64) Decision {
	required := Classify(action)
	if !AtLeast(maxTier, required) {
		return Decision{
			Reason:       fmt.Sprintf("agent tier %s insufficient for %s action", maxTier, required),
			RequiredTier: required,
		}
	}
	if trustScore < MinTrust(required) {
		return Decision{
			Reason:       fmt.Sprintf("trust score %.2f below required %.2f", trustScore, MinTrust(required)),
			RequiredTier: required,
		}
	}
	return Decision{Allowed: true, RequiredTier: required, RequiresRoundtable: required != TierKO}
}
