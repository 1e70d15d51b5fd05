package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const eventBuffer = 16

// Broker is the in-process topic service. It backs single-node deployments
// and tests; the semantics match the NATS transport.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*brokerTopic
	log    *zerolog.Logger
}

type brokerTopic struct {
	name string
	subs map[*brokerSub]struct{}
}

// NewBroker creates an in-process topic service.
func NewBroker(logger *zerolog.Logger) *Broker {
	return &Broker{
		topics: make(map[string]*brokerTopic),
		log:    logger,
	}
}

// Subscribe opens a subscription to the topic.
func (b *Broker) Subscribe(ctx context.Context, topic, key string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &brokerTopic{name: topic, subs: make(map[*brokerSub]struct{})}
		b.topics[topic] = t
	}

	sub := &brokerSub{
		broker: b,
		topic:  t,
		key:    key,
		events: make(chan Event, eventBuffer),
	}
	t.subs[sub] = struct{}{}

	// Initial snapshot notification, mirroring what a remote channel emits
	// right after a successful subscribe.
	sub.deliver(Event{Kind: EventPresenceSync})

	return sub, nil
}

// Publish broadcasts a tagged payload on the topic without subscribing.
func (b *Broker) Publish(ctx context.Context, topic, event string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	t.broadcast(Event{Kind: EventBroadcast, Name: event, Payload: payload})
	return nil
}

// broadcast sends an event to all subscribers of the topic.
// Caller must hold the broker lock.
func (t *brokerTopic) broadcast(ev Event) {
	for sub := range t.subs {
		sub.deliver(ev)
	}
}

// presenceState flattens the tracked entries of all subscribers.
// Caller must hold the broker lock.
func (t *brokerTopic) presenceState() map[string][]PresenceMeta {
	state := make(map[string][]PresenceMeta)
	for sub := range t.subs {
		if sub.tracked != nil {
			state[sub.key] = append(state[sub.key], *sub.tracked)
		}
	}
	return state
}

type brokerSub struct {
	broker  *Broker
	topic   *brokerTopic
	key     string
	events  chan Event
	tracked *PresenceMeta
	closed  bool
}

// Track announces the subscriber's presence entry on the topic.
func (s *brokerSub) Track(meta PresenceMeta) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.closed {
		return nil
	}

	s.tracked = &meta
	s.topic.broadcast(Event{Kind: EventPresenceJoin, Key: s.key, Joined: []PresenceMeta{meta}})
	s.topic.broadcast(Event{Kind: EventPresenceSync})
	return nil
}

// Untrack withdraws the presence entry.
func (s *brokerSub) Untrack() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.untrackLocked()
	return nil
}

// untrackLocked withdraws the entry. Caller must hold the broker lock.
func (s *brokerSub) untrackLocked() {
	if s.tracked == nil {
		return
	}
	meta := *s.tracked
	s.tracked = nil
	s.topic.broadcast(Event{Kind: EventPresenceLeave, Key: s.key, Left: []PresenceMeta{meta}})
	s.topic.broadcast(Event{Kind: EventPresenceSync})
}

// Broadcast publishes a tagged payload to every subscriber, sender included.
func (s *brokerSub) Broadcast(event string, payload []byte) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.closed {
		return nil
	}
	s.topic.broadcast(Event{Kind: EventBroadcast, Name: event, Payload: payload})
	return nil
}

// PresenceState returns the current membership snapshot.
func (s *brokerSub) PresenceState() map[string][]PresenceMeta {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.topic.presenceState()
}

// Events delivers presence and broadcast notifications.
func (s *brokerSub) Events() <-chan Event {
	return s.events
}

// Close releases the subscription.
func (s *brokerSub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if s.closed {
		return nil
	}

	s.untrackLocked()
	s.closed = true
	delete(s.topic.subs, s)
	if len(s.topic.subs) == 0 {
		delete(s.broker.topics, s.topic.name)
	}
	close(s.events)
	return nil
}

// deliver hands an event to the subscriber without blocking the topic.
func (s *brokerSub) deliver(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Drop if slow consumer.
	}
}
