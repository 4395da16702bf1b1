// Package oscillator implements the Oscillator Bus: a set of
// Kuramoto-coupled phase oscillators whose order parameter and mode
// histogram describe how synchronized the fleet currently is.
package oscillator

import (
	"math"
	"sync"
	"time"

	"github.com/scbe/fleet/internal/vector"
)

// Mode is a band of natural frequency the fleet currently occupies.
type Mode string

const (
	ModeRegroup Mode = "REGROUP"
	ModeExplore Mode = "EXPLORE"
	ModeCommit  Mode = "COMMIT"
	ModeHazard  Mode = "HAZARD"
)

// ClassifyMode maps a frequency in Hz to its mode band.
func ClassifyMode(f float64) Mode {
	switch {
	case f < 2.5:
		return ModeRegroup
	case f < 6:
		return ModeExplore
	case f < 10:
		return ModeCommit
	default:
		return ModeHazard
	}
}

// nominalCenter is the frequency BroadcastMode sets every node to.
var nominalCenter = map[Mode]float64{
	ModeRegroup: 1,
	ModeExplore: 3.5,
	ModeCommit:  7.5,
	ModeHazard:  15,
}

const twoPi = 2 * math.Pi

// wrap canonicalizes a phase into [0, 2*pi).
func wrap(phi float64) float64 {
	phi = math.Mod(phi, twoPi)
	if phi < 0 {
		phi += twoPi
	}
	return phi
}

// phaseDist returns the shortest angular distance between two phases.
func phaseDist(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), twoPi)
	return math.Pi - math.Abs(math.Pi-d)
}

// Node is one oscillator: a phase, natural frequency, trust weight, and
// 3-position used by neighbor-radius coupling.
type Node struct {
	ID            string
	Phase         float64
	Frequency     float64 // Hz
	Trust         float64
	Position      vector.Vec3
	Mode          Mode
	PhaseVelocity float64
}

// Bus couples every registered node by Kuramoto phase dynamics.
type Bus struct {
	mu sync.Mutex

	nodes map[string]*Node

	couplingRadius      float64
	minTrustForCoupling float64
	couplingStrength    float64 // K
	maxFrequency        float64
}

// Config tunes the Bus's coupling parameters.
type Config struct {
	CouplingRadius      float64
	MinTrustForCoupling float64
	CouplingStrength    float64
	MaxFrequency        float64
}

// DefaultConfig matches the fleet's default tuning.
func DefaultConfig() Config {
	return Config{
		CouplingRadius:      10,
		MinTrustForCoupling: 0.2,
		CouplingStrength:    2,
		MaxFrequency:        20,
	}
}

// NewBus constructs an empty Bus.
func NewBus(cfg Config) *Bus {
	return &Bus{
		nodes:               make(map[string]*Node),
		couplingRadius:      cfg.CouplingRadius,
		minTrustForCoupling: cfg.MinTrustForCoupling,
		couplingStrength:    cfg.CouplingStrength,
		maxFrequency:        cfg.MaxFrequency,
	}
}

// AddNode registers a node at the given initial phase/frequency/trust.
func (b *Bus) AddNode(id string, phase, frequency, trust float64, pos vector.Vec3) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := &Node{
		ID:        id,
		Phase:     wrap(phase),
		Frequency: frequency,
		Trust:     trust,
		Position:  pos,
		Mode:      ClassifyMode(frequency),
	}
	b.nodes[id] = n
	return n
}

// Node returns the node with the given ID, or nil.
func (b *Bus) Node(id string) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nodes[id]
}

// neighborsLocked returns nodes within couplingRadius of n, trust >=
// minTrustForCoupling, excluding n itself.
func (b *Bus) neighborsLocked(n *Node) []*Node {
	var out []*Node
	for _, other := range b.nodes {
		if other.ID == n.ID {
			continue
		}
		if other.Trust < b.minTrustForCoupling {
			continue
		}
		if vector.Distance(n.Position, other.Position) > b.couplingRadius {
			continue
		}
		out = append(out, other)
	}
	return out
}

// couplingLocked computes coupling_i = (K/tau) * sum trust_j*sin(phi_j-phi_i).
func (b *Bus) couplingLocked(n *Node) float64 {
	neighbors := b.neighborsLocked(n)
	if len(neighbors) == 0 {
		return 0
	}
	var tau, sum float64
	for _, nb := range neighbors {
		tau += nb.Trust
		sum += nb.Trust * math.Sin(nb.Phase-n.Phase)
	}
	if tau == 0 {
		return 0
	}
	return (b.couplingStrength / tau) * sum
}

// Step advances every node's phase by one Kuramoto-coupled integration
// step of width dt (seconds).
func (b *Bus) Step(dt float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	couplings := make(map[string]float64, len(b.nodes))
	for id, n := range b.nodes {
		couplings[id] = b.couplingLocked(n)
	}

	for id, n := range b.nodes {
		omega := twoPi * n.Frequency
		delta := (omega + couplings[id]) * dt
		newPhase := wrap(n.Phase + delta)
		n.PhaseVelocity = delta / dt
		n.Phase = newPhase
		n.Mode = ClassifyMode(n.Frequency)
	}
}

// InjectFrequency sets one node's frequency, capped to maxFrequency.
func (b *Bus) InjectFrequency(id string, f float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[id]
	if !ok {
		return
	}
	if f > b.maxFrequency {
		f = b.maxFrequency
	}
	if f < 0 {
		f = 0
	}
	n.Frequency = f
	n.Mode = ClassifyMode(f)
}

// BroadcastMode sets every node's frequency to the band's nominal
// center frequency and reclassifies its mode immediately.
func (b *Bus) BroadcastMode(mode Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	center, ok := nominalCenter[mode]
	if !ok {
		return
	}
	for _, n := range b.nodes {
		n.Frequency = center
		n.Mode = mode
	}
}

// Snapshot is the Bus's synchronization state at one instant.
type Snapshot struct {
	OrderParameter float64
	MeanPhase      float64
	ModeHistogram  map[Mode]int
	DominantMode   Mode
	ClusterCount   int
	Timestamp      time.Time
}

// ComputeSnapshot returns the Kuramoto order parameter, mean phase, mode
// histogram, dominant mode, and an approximate cluster count (0.2 rad
// cells on the unit circle with non-zero population).
func (b *Bus) ComputeSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.nodes) == 0 {
		return Snapshot{ModeHistogram: map[Mode]int{}, Timestamp: time.Now()}
	}

	var sumCos, sumSin float64
	histogram := make(map[Mode]int)
	const cellWidth = 0.2
	cells := make(map[int]bool)

	for _, n := range b.nodes {
		sumCos += math.Cos(n.Phase)
		sumSin += math.Sin(n.Phase)
		histogram[n.Mode]++
		cells[int(n.Phase/cellWidth)] = true
	}

	nf := float64(len(b.nodes))
	meanCos := sumCos / nf
	meanSin := sumSin / nf
	r := math.Sqrt(meanCos*meanCos + meanSin*meanSin)
	psi := wrap(math.Atan2(meanSin, meanCos))

	var dominant Mode
	best := -1
	for m, c := range histogram {
		if c > best {
			best = c
			dominant = m
		}
	}

	return Snapshot{
		OrderParameter: r,
		MeanPhase:      psi,
		ModeHistogram:  histogram,
		DominantMode:   dominant,
		ClusterCount:   len(cells),
		Timestamp:      time.Now(),
	}
}

// PhaseDist returns the shortest angular distance between two nodes'
// current phases.
func (b *Bus) PhaseDist(idA, idB string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok1 := b.nodes[idA]
	c, ok2 := b.nodes[idB]
	if !ok1 || !ok2 {
		return 0
	}
	return phaseDist(a.Phase, c.Phase)
}

// All returns a snapshot slice of every node, for dashboard display.
func (b *Bus) All() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		out = append(out, *n)
	}
	return out
}
