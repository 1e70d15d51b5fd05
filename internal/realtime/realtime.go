// Package realtime provides the per-room pub/sub topic service: presence
// tracking with join/leave/sync notifications, a queryable membership
// snapshot, and tagged broadcast messages. Two backings exist: an in-process
// broker and a NATS transport.
package realtime

import (
	"context"
	"time"
)

// EventKind is a notification a subscription emits.
type EventKind int

const (
	// EventPresenceSync notifies that the membership snapshot changed.
	EventPresenceSync EventKind = iota
	// EventPresenceJoin notifies that a subscriber started tracking presence.
	EventPresenceJoin
	// EventPresenceLeave notifies that a subscriber stopped tracking presence.
	EventPresenceLeave
	// EventBroadcast delivers a tagged payload published on the topic.
	EventBroadcast
)

// PresenceMeta is the payload a subscriber tracks on a topic.
type PresenceMeta struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Event is delivered to subscribers of a topic.
type Event struct {
	Kind EventKind

	// Key identifies the presence key for join/leave events.
	Key string
	// Joined holds the entries announced by a join event.
	Joined []PresenceMeta
	// Left holds the entries withdrawn by a leave event.
	Left []PresenceMeta

	// Name is the event tag of a broadcast.
	Name string
	// Payload is the broadcast payload.
	Payload []byte
}

// Subscription is one open connection to a topic.
type Subscription interface {
	// Track announces the subscriber's presence entry on the topic.
	Track(meta PresenceMeta) error

	// Untrack withdraws the presence entry. No-op when nothing is tracked.
	Untrack() error

	// Broadcast publishes a tagged payload to every subscriber of the topic,
	// the sender included. Delivery is fire-and-forget.
	Broadcast(event string, payload []byte) error

	// PresenceState returns the current membership snapshot keyed by
	// presence key.
	PresenceState() map[string][]PresenceMeta

	// Events delivers presence and broadcast notifications. Slow consumers
	// lose events rather than block the topic. The channel is closed when
	// the subscription closes.
	Events() <-chan Event

	// Close untracks, releases the subscription and closes the event
	// channel. Safe to call more than once.
	Close() error
}

// Service opens subscriptions to named topics and publishes without a
// standing subscription.
type Service interface {
	// Subscribe opens a subscription to the topic. key identifies the
	// subscriber for presence tracking.
	Subscribe(ctx context.Context, topic, key string) (Subscription, error)

	// Publish broadcasts a tagged payload on the topic without subscribing.
	Publish(ctx context.Context, topic, event string, payload []byte) error
}
