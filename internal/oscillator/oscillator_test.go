package oscillator

import (
	"math"
	"testing"

	"github.com/scbe/fleet/internal/vector"
)

func TestClassifyModeBands(t *testing.T) {
	cases := map[float64]Mode{
		0:    ModeRegroup,
		2.4:  ModeRegroup,
		2.5:  ModeExplore,
		5.9:  ModeExplore,
		6:    ModeCommit,
		9.9:  ModeCommit,
		10:   ModeHazard,
		20:   ModeHazard,
	}
	for f, want := range cases {
		if got := ClassifyMode(f); got != want {
			t.Errorf("ClassifyMode(%v) = %s, want %s", f, got, want)
		}
	}
}

func TestWrapCanonicalizesPhase(t *testing.T) {
	if got := wrap(-0.1); got < 0 || got >= twoPi {
		t.Errorf("wrap(-0.1) = %v, out of [0, 2pi)", got)
	}
	if got := wrap(twoPi + 0.5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("wrap(2pi+0.5) = %v, want 0.5", got)
	}
}

func TestPhaseDistSymmetricAndBounded(t *testing.T) {
	d := phaseDist(0.1, twoPi-0.1)
	if d > math.Pi || d < 0 {
		t.Errorf("phaseDist out of [0, pi]: %v", d)
	}
	if math.Abs(d-0.2) > 1e-6 {
		t.Errorf("phaseDist(0.1, 2pi-0.1) = %v, want ~0.2", d)
	}
}

func TestNoCouplingWithoutNeighbors(t *testing.T) {
	b := NewBus(DefaultConfig())
	b.AddNode("a", 0, 3, 1.0, vector.Vec3{})
	b.Step(0.01)
	n := b.Node("a")
	// omega = 2*pi*3, coupling = 0, so phase velocity should equal omega.
	want := twoPi * 3
	if math.Abs(n.PhaseVelocity-want) > 1e-6 {
		t.Errorf("phase velocity = %v, want %v", n.PhaseVelocity, want)
	}
}

func TestNeighborOutsideRadiusExcluded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CouplingRadius = 1
	b := NewBus(cfg)
	b.AddNode("a", 0, 3, 1.0, vector.Vec3{X: 0, Y: 0, Z: 0})
	b.AddNode("b", math.Pi, 3, 1.0, vector.Vec3{X: 100, Y: 0, Z: 0})

	b.Step(0.01)
	n := b.Node("a")
	want := twoPi * 3
	if math.Abs(n.PhaseVelocity-want) > 1e-6 {
		t.Errorf("expected no coupling from out-of-radius neighbor, velocity = %v, want %v", n.PhaseVelocity, want)
	}
}

func TestLowTrustNeighborExcludedFromCoupling(t *testing.T) {
	b := NewBus(DefaultConfig())
	b.AddNode("a", 0, 3, 1.0, vector.Vec3{})
	b.AddNode("b", math.Pi, 3, 0.01, vector.Vec3{})

	b.Step(0.01)
	n := b.Node("a")
	want := twoPi * 3
	if math.Abs(n.PhaseVelocity-want) > 1e-6 {
		t.Errorf("expected low-trust neighbor excluded, velocity = %v, want %v", n.PhaseVelocity, want)
	}
}

func TestBroadcastModeSetsNominalCenter(t *testing.T) {
	b := NewBus(DefaultConfig())
	b.AddNode("a", 0, 1, 1.0, vector.Vec3{})
	b.AddNode("b", 0, 1, 1.0, vector.Vec3{})

	b.BroadcastMode(ModeCommit)
	for _, n := range b.All() {
		if n.Frequency != 7.5 {
			t.Errorf("frequency = %v, want 7.5", n.Frequency)
		}
		if n.Mode != ModeCommit {
			t.Errorf("mode = %s, want COMMIT", n.Mode)
		}
	}
}

func TestInjectFrequencyCapsToMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFrequency = 5
	b := NewBus(cfg)
	b.AddNode("a", 0, 1, 1.0, vector.Vec3{})

	b.InjectFrequency("a", 100)
	if b.Node("a").Frequency != 5 {
		t.Errorf("frequency = %v, want capped to 5", b.Node("a").Frequency)
	}
}

func TestComputeSnapshotEmptyBus(t *testing.T) {
	b := NewBus(DefaultConfig())
	snap := b.ComputeSnapshot()
	if snap.OrderParameter != 0 {
		t.Errorf("OrderParameter = %v, want 0 for empty bus", snap.OrderParameter)
	}
}

func TestKuramotoSynchronizationScenario(t *testing.T) {
	cfg := Config{
		CouplingRadius:      1000,
		MinTrustForCoupling: 0.0,
		CouplingStrength:    5,
		MaxFrequency:        50,
	}
	b := NewBus(cfg)
	n := 8
	for i := 0; i < n; i++ {
		phase := twoPi * float64(i) / float64(n)
		b.AddNode(string(rune('a'+i)), phase, 3.0, 1.0, vector.Vec3{})
	}

	for step := 0; step < 5000; step++ {
		b.Step(0.01)
	}

	snap := b.ComputeSnapshot()
	if snap.OrderParameter <= 0.8 {
		t.Errorf("order parameter = %v, want > 0.8 after synchronization", snap.OrderParameter)
	}
	if snap.DominantMode != ModeExplore {
		t.Errorf("dominant mode = %s, want EXPLORE", snap.DominantMode)
	}
}
