// Package kernel implements the per-node governance envelope: a signed,
// epoch-monotone policy manifest, the invariant checks every proposed
// action must pass, and the audit log those checks leave behind.
package kernel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Manifest is a signed policy snapshot for one node.
type Manifest struct {
	Epoch         int64
	IssuedAt      time.Time
	ExpiresAt     time.Time
	EnergyFloor   float64
	MinTrust      float64
	AllowedRoles  []string
	Suppressed    []string // mode names
	Signature     string
}

// canonicalFields renders m's fields in a fixed, sorted order so the
// signature is stable across struct field reordering.
func (m Manifest) canonicalFields() string {
	roles := append([]string(nil), m.AllowedRoles...)
	sort.Strings(roles)
	modes := append([]string(nil), m.Suppressed...)
	sort.Strings(modes)

	return fmt.Sprintf("epoch=%d|issued=%d|expires=%d|energyFloor=%f|minTrust=%f|roles=%s|suppressed=%s",
		m.Epoch, m.IssuedAt.UnixNano(), m.ExpiresAt.UnixNano(), m.EnergyFloor, m.MinTrust,
		strings.Join(roles, ","), strings.Join(modes, ","))
}

// sign computes the HMAC-SHA256 signature of m's canonical fields, keyed
// by key.
func sign(m Manifest, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(m.canonicalFields()))
	return hex.EncodeToString(mac.Sum(nil))
}

// PolicyParams are the caller-supplied fields of a new manifest; Epoch,
// IssuedAt, ExpiresAt, and Signature are computed by CreatePolicy.
type PolicyParams struct {
	EnergyFloor  float64
	MinTrust     float64
	AllowedRoles []string
	Suppressed   []string
}

// PolicyResult is returned by ApplyPolicy: Applied mirrors a boolean
// decision, Reason is a short stable string explaining it either way.
type PolicyResult struct {
	Applied bool
	Reason  string
}

// CreatePolicy builds a new manifest at previousEpoch+1, valid for ttl,
// signed with key.
func CreatePolicy(params PolicyParams, previousEpoch int64, ttl time.Duration, key []byte) Manifest {
	now := time.Now()
	m := Manifest{
		Epoch:        previousEpoch + 1,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		EnergyFloor:  params.EnergyFloor,
		MinTrust:     params.MinTrust,
		AllowedRoles: params.AllowedRoles,
		Suppressed:   params.Suppressed,
	}
	m.Signature = sign(m, key)
	return m
}

// Verify reports whether m's signature matches its fields under key.
func (m Manifest) Verify(key []byte) bool {
	return hmac.Equal([]byte(sign(m, key)), []byte(m.Signature))
}
