package chat

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/realtime"
)

// Feed is one session's live message stream. A session follows at most one
// room at a time; subscribing to another room tears the previous stream down.
type Feed struct {
	manager *realtime.Manager
	log     *zerolog.Logger

	mu    sync.Mutex
	topic string
}

// NewFeed creates a feed over the session's connection manager.
func NewFeed(manager *realtime.Manager, logger *zerolog.Logger) *Feed {
	return &Feed{manager: manager, log: logger}
}

// Subscribe follows the room's feed topic and invokes handler for every
// announced message. A previous subscription, same room or not, is closed
// first.
func (f *Feed) Subscribe(ctx context.Context, roomID int64, handler func(MessagePayload)) error {
	topic := MessagesTopic(roomID)

	f.mu.Lock()
	if f.topic != "" && f.topic != topic {
		_ = f.manager.Close(f.topic)
	}
	f.topic = topic
	f.mu.Unlock()

	sub, err := f.manager.Open(ctx, topic, "feed")
	if err != nil {
		return err
	}

	go func() {
		for ev := range sub.Events() {
			if ev.Kind != realtime.EventBroadcast || ev.Name != EventMessageCreated {
				continue
			}
			var msg MessagePayload
			if err := json.Unmarshal(ev.Payload, &msg); err != nil {
				f.log.Warn().Err(err).Str("topic", topic).Msg("malformed message announcement")
				continue
			}
			handler(msg)
		}
	}()
	return nil
}

// Unsubscribe stops following the current room. No-op when nothing is
// followed.
func (f *Feed) Unsubscribe() {
	f.mu.Lock()
	topic := f.topic
	f.topic = ""
	f.mu.Unlock()

	if topic != "" {
		_ = f.manager.Close(topic)
	}
}
