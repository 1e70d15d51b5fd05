package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	logger := zerolog.Nop()
	return NewBroker(&logger)
}

// mustClosed drains buffered events and verifies the channel was closed.
func mustClosed(t *testing.T, sub Subscription) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event channel to close")
		}
	}
}

// mustEvent reads the next event of the wanted kind, skipping sync
// notifications interleaved with it.
func mustEvent(t *testing.T, sub Subscription, kind EventKind) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for kind %d", kind)
			}
			if ev.Kind == kind {
				return ev
			}
			if ev.Kind != EventPresenceSync {
				t.Fatalf("unexpected event kind %d while waiting for %d", ev.Kind, kind)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestBrokerPresenceLifecycle(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	alice, err := b.Subscribe(ctx, "chatroom:1", "alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer alice.Close()
	mustEvent(t, alice, EventPresenceSync)

	bob, err := b.Subscribe(ctx, "chatroom:1", "bob")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer bob.Close()
	mustEvent(t, bob, EventPresenceSync)

	if err := alice.Track(PresenceMeta{ID: "a1", Name: "alice"}); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	join := mustEvent(t, bob, EventPresenceJoin)
	if join.Key != "alice" || len(join.Joined) != 1 || join.Joined[0].ID != "a1" {
		t.Fatalf("unexpected join event: %+v", join)
	}

	state := bob.PresenceState()
	if len(state) != 1 || len(state["alice"]) != 1 || state["alice"][0].Name != "alice" {
		t.Fatalf("unexpected presence state: %+v", state)
	}

	if err := alice.Untrack(); err != nil {
		t.Fatalf("untrack failed: %v", err)
	}
	leave := mustEvent(t, bob, EventPresenceLeave)
	if leave.Key != "alice" || len(leave.Left) != 1 || leave.Left[0].ID != "a1" {
		t.Fatalf("unexpected leave event: %+v", leave)
	}
	if state := bob.PresenceState(); len(state) != 0 {
		t.Fatalf("expected empty presence state, got %+v", state)
	}
}

func TestBrokerBroadcastReachesSender(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "chatroom:1", "alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := sub.Broadcast("kick", []byte(`{"user_id":"42"}`)); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	ev := mustEvent(t, sub, EventBroadcast)
	if ev.Name != "kick" || string(ev.Payload) != `{"user_id":"42"}` {
		t.Fatalf("unexpected broadcast event: %+v", ev)
	}
}

func TestBrokerPublishWithoutSubscription(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	// No subscribers: publish is a silent no-op.
	if err := b.Publish(ctx, "messages:1", "message_created", []byte(`{}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	sub, err := b.Subscribe(ctx, "messages:1", "feed")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "messages:1", "message_created", []byte(`{"id":7}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	ev := mustEvent(t, sub, EventBroadcast)
	if ev.Name != "message_created" || string(ev.Payload) != `{"id":7}` {
		t.Fatalf("unexpected broadcast event: %+v", ev)
	}
}

func TestBrokerCloseAnnouncesLeave(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	alice, err := b.Subscribe(ctx, "chatroom:1", "alice")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	bob, err := b.Subscribe(ctx, "chatroom:1", "bob")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer bob.Close()

	if err := alice.Track(PresenceMeta{ID: "a1", Name: "alice"}); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	mustEvent(t, bob, EventPresenceJoin)

	if err := alice.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Closing twice is safe.
	if err := alice.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	leave := mustEvent(t, bob, EventPresenceLeave)
	if leave.Key != "alice" {
		t.Fatalf("unexpected leave event: %+v", leave)
	}

	mustClosed(t, alice)
}

func TestManagerReplacesSubscriptionPerTopic(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	m := NewManager(b)
	defer m.CloseAll()

	first, err := m.Open(ctx, "chatroom:1", "alice")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	second, err := m.Open(ctx, "chatroom:1", "alice")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected a fresh subscription on reopen")
	}

	// The first subscription was torn down by the reopen.
	mustClosed(t, first)

	if err := m.Close("chatroom:1"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := m.Close("chatroom:1"); err != nil {
		t.Fatalf("close of unknown topic failed: %v", err)
	}
	mustClosed(t, second)
}
