package events

import "encoding/json"

// Publisher is the subset of the NATS client natsmirror.go depends on,
// kept narrow so this package never imports internal/nats directly.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// channelFor maps an EventType to the "scbe.crawl.{channel}" topic
// channel it mirrors onto.
func channelFor(t EventType) string {
	switch t {
	case EventTaskCreated, EventTaskAssigned:
		return ChannelDiscovery
	case EventAgentRegistered, EventAgentUpdated, EventAgentRemoved, EventTaskStarted:
		return ChannelStatus
	case EventTaskCompleted, EventTaskCancelled:
		return ChannelFindings
	case EventRoundtableStarted, EventRoundtableVote, EventRoundtableConcluded, EventTrustUpdated:
		return ChannelGovernance
	case EventAgentSuspended, EventAgentQuarantined, EventSecurityAlert, EventTaskFailed:
		return ChannelSentinel
	default:
		return ChannelStatus
	}
}

// NATSMirror subscribes to a Bus and republishes every event onto NATS
// under its "scbe.crawl.{channel}.{event}" topic, letting external
// consumers (the dashboard, a JetStream consumer) observe fleet state
// without holding a direct reference to the Bus.
type NATSMirror struct {
	bus       *Bus
	publisher Publisher
	target    string
	types     []EventType
	stop      chan struct{}
	done      chan struct{}
}

// NewNATSMirror constructs a mirror that subscribes to bus for target
// (use "all" to mirror every event) filtered by types (nil means all
// types) and republishes onto publisher.
func NewNATSMirror(bus *Bus, publisher Publisher, target string, types []EventType) *NATSMirror {
	return &NATSMirror{
		bus:       bus,
		publisher: publisher,
		target:    target,
		types:     types,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run subscribes to the bus and republishes events onto NATS until
// Stop is called. It is meant to be run in its own goroutine.
func (m *NATSMirror) Run() {
	defer close(m.done)
	ch := m.bus.Subscribe(m.target, m.types)
	defer m.bus.Unsubscribe(m.target, ch)

	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			m.mirror(event)
		}
	}
}

func (m *NATSMirror) mirror(event Event) {
	data, err := json.Marshal(&event)
	if err != nil {
		return
	}
	subject := BuildTopic(channelFor(event.Type), string(event.Type))
	_ = m.publisher.Publish(subject, data)
}

// Stop halts the mirror goroutine and waits for it to exit.
func (m *NATSMirror) Stop() {
	close(m.stop)
	<-m.done
}
