package oscillator

import (
	"time"

	"github.com/scbe/fleet/internal/events"
)

// Runner drives a Bus's Step on a fixed tick in its own goroutine, the
// way the dashboard server (Server.Run) drives its snapshot broadcast loop: a select over a
// stop channel and a ticker, nothing else touches the Bus from outside
// without going through its own locking.
type Runner struct {
	bus      *Bus
	dt       float64
	tick     time.Duration
	stop     chan struct{}
	done     chan struct{}
	eventBus *events.Bus
}

// NewRunner constructs a Runner that steps bus every tick with
// integration width dt, optionally publishing each snapshot on eventBus.
func NewRunner(bus *Bus, dt float64, tick time.Duration, eventBus *events.Bus) *Runner {
	return &Runner{
		bus:      bus,
		dt:       dt,
		tick:     tick,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		eventBus: eventBus,
	}
}

// Run blocks, stepping the bus every tick until Stop is called.
func (r *Runner) Run() {
	defer close(r.done)
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.bus.Step(r.dt)
			if r.eventBus != nil {
				snap := r.bus.ComputeSnapshot()
				r.eventBus.Publish(events.NewEvent(events.EventTrustUpdated, "oscillator", "all", events.PriorityLow, map[string]interface{}{
					"orderParameter": snap.OrderParameter,
					"dominantMode":   string(snap.DominantMode),
				}))
			}
		}
	}
}

// Stop signals Run to return and waits for it to finish.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.done
}
