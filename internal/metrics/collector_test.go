package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObserveAppendsHistory(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.Observe(Snapshot{QueueDepth: 3, OrderParameter: 0.5, QuarantineCount: 1})
	c.Observe(Snapshot{QueueDepth: 4, OrderParameter: 0.6, QuarantineCount: 0})

	history := c.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[1].QueueDepth != 4 {
		t.Errorf("history[1].QueueDepth = %d, want 4", history[1].QueueDepth)
	}
}

func TestHistoryBoundedToMaxHistory(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.maxHistory = 3
	for i := 0; i < 10; i++ {
		c.Observe(Snapshot{QueueDepth: i})
	}
	history := c.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want bounded to 3", len(history))
	}
	if history[len(history)-1].QueueDepth != 9 {
		t.Errorf("last entry QueueDepth = %d, want 9", history[len(history)-1].QueueDepth)
	}
}

func TestResetHistoryClearsSnapshots(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.Observe(Snapshot{QueueDepth: 1})
	c.ResetHistory()
	if len(c.History()) != 0 {
		t.Error("expected history cleared")
	}
}
