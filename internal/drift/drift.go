// Package drift implements the Governed Drift generator: a bounded
// stochastic exploration vector per node, gated by mode, trust, energy,
// and risk, and zeroed outright whenever any gate trips.
package drift

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/scbe/fleet/internal/oscillator"
	"github.com/scbe/fleet/internal/vector"
)

const (
	defaultTrustThreshold    = 0.2
	defaultEnergyFloor       = 0.1
	defaultRiskCeiling       = 0.8
	defaultMaxDriftMagnitude = 1.0
	minDriftMagnitude        = 0.01
	defaultNaturalDecay      = 0.05
)

var defaultSuppressionModes = map[oscillator.Mode]bool{
	oscillator.ModeHazard:  true,
	oscillator.ModeRegroup: true,
}

// Weights scale the budget formula's three terms.
type Weights struct {
	Alpha float64 // uncertainty
	Beta  float64 // energy
	Gamma float64 // trust
	Delta float64 // risk decay
}

// DefaultWeights matches the fleet's default tuning.
func DefaultWeights() Weights {
	return Weights{Alpha: 0.4, Beta: 0.3, Gamma: 0.3, Delta: 1.0}
}

// Entry is one recorded drift application.
type Entry struct {
	Vector    vector.Vec3
	Timestamp time.Time
	Zeroed    bool
	Reason    string
}

// NodeState is the per-node input the generator reads; Mode/Trust come
// from the oscillator bus while Energy/Risk/Uncertainty are supplied by
// the caller each step.
type NodeState struct {
	Mode        oscillator.Mode
	Trust       float64
	Energy      float64
	Risk        float64
	Uncertainty float64
}

type nodeTrack struct {
	history []Entry
	prior   *vector.Vec3
	current vector.Vec3
}

// Generator produces and tracks bounded drift vectors per node.
type Generator struct {
	mu sync.Mutex

	weights            Weights
	suppressionModes   map[oscillator.Mode]bool
	trustThreshold     float64
	energyFloor        float64
	riskCeiling        float64
	maxDriftMagnitude  float64
	naturalDecay       float64

	nodes map[string]*nodeTrack
}

// Config tunes the Generator's gates and budget weights.
type Config struct {
	Weights           Weights
	SuppressionModes  map[oscillator.Mode]bool
	TrustThreshold    float64
	EnergyFloor       float64
	RiskCeiling       float64
	MaxDriftMagnitude float64
	NaturalDecay      float64
}

// DefaultConfig matches the fleet's default tuning.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		SuppressionModes:  defaultSuppressionModes,
		TrustThreshold:    defaultTrustThreshold,
		EnergyFloor:       defaultEnergyFloor,
		RiskCeiling:       defaultRiskCeiling,
		MaxDriftMagnitude: defaultMaxDriftMagnitude,
		NaturalDecay:      defaultNaturalDecay,
	}
}

// NewGenerator constructs a Generator.
func NewGenerator(cfg Config) *Generator {
	if cfg.MaxDriftMagnitude < minDriftMagnitude {
		cfg.MaxDriftMagnitude = minDriftMagnitude
	}
	if cfg.MaxDriftMagnitude > 1 {
		cfg.MaxDriftMagnitude = 1
	}
	if cfg.SuppressionModes == nil {
		cfg.SuppressionModes = defaultSuppressionModes
	}
	return &Generator{
		weights:           cfg.Weights,
		suppressionModes:  cfg.SuppressionModes,
		trustThreshold:    cfg.TrustThreshold,
		energyFloor:       cfg.EnergyFloor,
		riskCeiling:       cfg.RiskCeiling,
		maxDriftMagnitude: cfg.MaxDriftMagnitude,
		naturalDecay:      cfg.NaturalDecay,
		nodes:             make(map[string]*nodeTrack),
	}
}

func (g *Generator) trackLocked(id string) *nodeTrack {
	t, ok := g.nodes[id]
	if !ok {
		t = &nodeTrack{}
		g.nodes[id] = t
	}
	return t
}

// autoZeroReason returns a non-empty textual reason if state trips an
// auto-zero gate, or "" if drift may proceed.
func (g *Generator) autoZeroReason(state NodeState) string {
	if g.suppressionModes[state.Mode] {
		return fmt.Sprintf("mode %s is suppressed", state.Mode)
	}
	if state.Trust < g.trustThreshold {
		return fmt.Sprintf("trust %.2f below threshold %.2f", state.Trust, g.trustThreshold)
	}
	if state.Energy < g.energyFloor {
		return fmt.Sprintf("energy %.2f below floor %.2f", state.Energy, g.energyFloor)
	}
	if state.Risk > g.riskCeiling {
		return fmt.Sprintf("risk %.2f above ceiling %.2f", state.Risk, g.riskCeiling)
	}
	return ""
}

// budget computes the capped drift magnitude for state.
func (g *Generator) budget(state NodeState) float64 {
	raw := (g.weights.Alpha*state.Uncertainty + g.weights.Beta*state.Energy + g.weights.Gamma*state.Trust)
	raw *= math.Exp(-g.weights.Delta * state.Risk)
	if raw > g.maxDriftMagnitude {
		raw = g.maxDriftMagnitude
	}
	if raw < 0 {
		raw = 0
	}
	return raw
}

// Step computes this step's drift for id given its current state and an
// optional requested direction (nil if none). It records the result in
// the node's history and returns the drift vector and whether it was
// auto-zeroed.
func (g *Generator) Step(id string, state NodeState, direction *vector.Vec3) (vector.Vec3, bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	track := g.trackLocked(id)

	if reason := g.autoZeroReason(state); reason != "" {
		zero := vector.Vec3{}
		track.history = append(track.history, Entry{Vector: zero, Timestamp: time.Now(), Zeroed: true, Reason: reason})
		track.prior = &zero
		track.current = zero
		return zero, true, reason
	}

	budget := g.budget(state)

	var result vector.Vec3
	switch {
	case direction != nil:
		result = direction.Normalize().Scale(budget)
	case track.prior != nil:
		priorMag := track.prior.Length()
		newMag := priorMag - g.naturalDecay
		if newMag < 0 {
			newMag = 0
		}
		if priorMag == 0 {
			result = vector.Vec3{}
		} else {
			result = track.prior.Normalize().Scale(newMag)
		}
	default:
		result = vector.Vec3{}
	}

	track.history = append(track.history, Entry{Vector: result, Timestamp: time.Now(), Zeroed: false})
	track.prior = &result
	track.current = result
	return result, false, ""
}

// Analysis summarizes a node's drift history.
type Analysis struct {
	TotalEnergy     float64
	AverageMagnitude float64
	ZeroRatio       float64
	SampleCount     int
}

// Analyze computes drift history statistics for id.
func (g *Generator) Analyze(id string) Analysis {
	g.mu.Lock()
	defer g.mu.Unlock()

	track, ok := g.nodes[id]
	if !ok || len(track.history) == 0 {
		return Analysis{}
	}

	var totalEnergy, totalMag float64
	var zeroed int
	for _, e := range track.history {
		mag := e.Vector.Length()
		totalEnergy += mag * mag
		totalMag += mag
		if e.Zeroed {
			zeroed++
		}
	}

	n := float64(len(track.history))
	return Analysis{
		TotalEnergy:      totalEnergy,
		AverageMagnitude: totalMag / n,
		ZeroRatio:        float64(zeroed) / n,
		SampleCount:      len(track.history),
	}
}

// TotalDriftEnergy sums |current vector|^2 across every tracked node.
func (g *Generator) TotalDriftEnergy() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var total float64
	for _, track := range g.nodes {
		mag := track.current.Length()
		total += mag * mag
	}
	return total
}

// ZeroAll zeroes every tracked node's current drift vector immediately,
// for emergency use; TotalDriftEnergy is guaranteed 0 immediately after.
func (g *Generator) ZeroAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, track := range g.nodes {
		zero := vector.Vec3{}
		track.history = append(track.history, Entry{Vector: zero, Timestamp: time.Now(), Zeroed: true, Reason: "ZeroAll"})
		track.prior = &zero
		track.current = zero
	}
}
