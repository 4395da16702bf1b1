// Package geometry implements Swarm Geometry: the centroidal force field
// that moves nodes under cohesion, separation, goal, and drift forces,
// subject to no-go zones and a minimum-separation invariant.
package geometry

import (
	"sync"

	"github.com/scbe/fleet/internal/vector"
)

// Static weight ceilings; negative weights are made absolute then
// clamped to these ceilings.
const (
	maxAlpha = 2.0 // cohesion
	maxBeta  = 3.0 // separation
	maxGamma = 2.5 // goal
	maxDelta = 1.0 // drift
)

func clampWeight(w, ceiling float64) float64 {
	if w < 0 {
		w = -w
	}
	if w > ceiling {
		return ceiling
	}
	return w
}

// Weights are the four per-step force scalars.
type Weights struct {
	Alpha, Beta, Gamma, Delta float64
}

// Clamp returns w with every component made absolute then capped to its
// static ceiling.
func (w Weights) Clamp() Weights {
	return Weights{
		Alpha: clampWeight(w.Alpha, maxAlpha),
		Beta:  clampWeight(w.Beta, maxBeta),
		Gamma: clampWeight(w.Gamma, maxGamma),
		Delta: clampWeight(w.Delta, maxDelta),
	}
}

// NoGoZone is a spherical exclusion region.
type NoGoZone struct {
	Center vector.Vec3
	Radius float64
}

// Contains reports whether p lies within the zone (inclusive boundary).
func (z NoGoZone) Contains(p vector.Vec3) bool {
	return vector.Distance(p, z.Center) <= z.Radius
}

// Node is one swarm member under the force field.
type Node struct {
	ID       string
	Position vector.Vec3
	Velocity vector.Vec3
	Goal     *vector.Vec3
	Drift    vector.Vec3
	Trust    float64
}

// Field owns every tracked node and the static zones/weights that shape
// its step.
type Field struct {
	mu sync.Mutex

	nodes map[string]*Node

	weights          Weights
	separationRadius float64
	minSeparation    float64
	maxSpeed         float64
	zones            []NoGoZone
}

// Config tunes the Field's weights and radii.
type Config struct {
	Weights          Weights
	SeparationRadius float64
	MinSeparation    float64
	MaxSpeed         float64
	Zones            []NoGoZone
}

// DefaultConfig matches the fleet's default tuning.
func DefaultConfig() Config {
	return Config{
		Weights:          Weights{Alpha: 1.0, Beta: 1.5, Gamma: 1.0, Delta: 0.5},
		SeparationRadius: 5,
		MinSeparation:    2,
		MaxSpeed:         10,
	}
}

// NewField constructs a Field.
func NewField(cfg Config) *Field {
	return &Field{
		nodes:            make(map[string]*Node),
		weights:          cfg.Weights.Clamp(),
		separationRadius: cfg.SeparationRadius,
		minSeparation:    cfg.MinSeparation,
		maxSpeed:         cfg.MaxSpeed,
		zones:            cfg.Zones,
	}
}

// AddNode registers a node at an initial position/trust.
func (f *Field) AddNode(id string, pos vector.Vec3, trust float64) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := &Node{ID: id, Position: pos, Trust: trust}
	f.nodes[id] = n
	return n
}

// Node returns the node with the given ID, or nil.
func (f *Field) Node(id string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[id]
}

// SetGoal sets or clears (nil) a node's goal position.
func (f *Field) SetGoal(id string, goal *vector.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[id]; ok {
		n.Goal = goal
	}
}

// SetDrift sets a node's current drift vector, as produced by the
// governed-drift generator.
func (f *Field) SetDrift(id string, d vector.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[id]; ok {
		n.Drift = d
	}
}

func (f *Field) centroidLocked() vector.Vec3 {
	points := make([]vector.WeightedPoint, 0, len(f.nodes))
	for _, n := range f.nodes {
		points = append(points, vector.WeightedPoint{Pos: n.Position, Weight: n.Trust})
	}
	return vector.Centroid(points)
}

func (f *Field) cohesion(n *Node, centroid vector.Vec3) vector.Vec3 {
	return centroid.Sub(n.Position)
}

func (f *Field) separationLocked(n *Node) vector.Vec3 {
	var sum vector.Vec3
	for _, other := range f.nodes {
		if other.ID == n.ID {
			continue
		}
		dist := vector.Distance(n.Position, other.Position)
		if dist == 0 || dist >= f.separationRadius {
			continue
		}
		dir := n.Position.Sub(other.Position).Normalize()
		scale := (f.separationRadius - dist) / f.separationRadius
		sum = sum.Add(dir.Scale(scale))
	}
	return sum
}

func (f *Field) goalForce(n *Node) vector.Vec3 {
	if n.Goal == nil {
		return vector.Vec3{}
	}
	delta := n.Goal.Sub(n.Position)
	dist := delta.Length()
	if dist == 0 {
		return vector.Vec3{}
	}
	scale := dist
	if scale > 1 {
		scale = 1
	}
	return delta.Normalize().Scale(scale)
}

// Step advances every node by one integration of width dt: it computes
// the weighted cohesion/separation/goal/drift resultant, caps speed,
// integrates position, displaces out of no-go zones, and enforces
// minimum separation.
func (f *Field) Step(dt float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	centroid := f.centroidLocked()

	for _, n := range f.nodes {
		fc := f.cohesion(n, centroid)
		fs := f.separationLocked(n)
		fg := f.goalForce(n)
		fd := n.Drift

		resultant := fc.Scale(f.weights.Alpha).
			Add(fs.Scale(f.weights.Beta)).
			Add(fg.Scale(f.weights.Gamma)).
			Add(fd.Scale(f.weights.Delta))

		if speed := resultant.Length(); speed > f.maxSpeed && speed > 0 {
			resultant = resultant.Scale(f.maxSpeed / speed)
		}

		n.Velocity = resultant
		n.Position = n.Position.Add(n.Velocity.Scale(dt))
	}

	f.enforceNoGoZonesLocked()
	f.enforceMinSeparationLocked()
}

func (f *Field) enforceNoGoZonesLocked() {
	for _, n := range f.nodes {
		for _, z := range f.zones {
			if z.Contains(n.Position) {
				dir := n.Position.Sub(z.Center)
				if dir.Length() == 0 {
					dir = vector.Vec3{X: 1}
				}
				n.Position = z.Center.Add(dir.Normalize().Scale(z.Radius))
			}
		}
	}
}

// enforceMinSeparationLocked pushes apart any pair closer than
// minSeparation; one pass suffices because minSeparation < separationRadius
// already pushes most pairs apart during the separation force.
func (f *Field) enforceMinSeparationLocked() {
	ids := make([]string, 0, len(f.nodes))
	for id := range f.nodes {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a := f.nodes[ids[i]]
			b := f.nodes[ids[j]]
			dist := vector.Distance(a.Position, b.Position)
			if dist >= f.minSeparation {
				continue
			}
			var axis vector.Vec3
			if dist == 0 {
				axis = vector.Vec3{X: 1}
			} else {
				axis = a.Position.Sub(b.Position).Normalize()
			}
			shortfall := f.minSeparation - dist
			a.Position = a.Position.Add(axis.Scale(shortfall / 2))
			b.Position = b.Position.Sub(axis.Scale(shortfall / 2))
		}
	}
}

// IsInNoGoZone reports whether p lies within any tracked zone.
func (f *Field) IsInNoGoZone(p vector.Vec3) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, z := range f.zones {
		if z.Contains(p) {
			return true
		}
	}
	return false
}

// All returns a snapshot slice of every node, for dashboard display.
func (f *Field) All() []Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, *n)
	}
	return out
}
