package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// syncWindow bounds how long a fresh subscription waits for presence
// snapshots from peers before emitting its first sync event.
const syncWindow = 250 * time.Millisecond

// NATSService is the topic service backed by a NATS connection. Each topic
// maps to three subjects under the roomcast prefix: presence announcements,
// broadcasts, and snapshot requests.
type NATSService struct {
	nc  *nats.Conn
	log *zerolog.Logger
}

// NewNATSService connects to a NATS server.
func NewNATSService(url string, logger *zerolog.Logger) (*NATSService, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSService{nc: nc, log: logger}, nil
}

// Close drains the underlying connection.
func (s *NATSService) Close() error {
	return s.nc.Drain()
}

func subjectFor(topic, kind string) string {
	return "roomcast." + topic + "." + kind
}

type presenceMsg struct {
	Action string       `json:"action"`
	Key    string       `json:"key"`
	Meta   PresenceMeta `json:"meta"`
}

type broadcastMsg struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type syncReply struct {
	Key  string       `json:"key"`
	Meta PresenceMeta `json:"meta"`
}

// Publish broadcasts a tagged payload on the topic without subscribing.
func (s *NATSService) Publish(ctx context.Context, topic, event string, payload []byte) error {
	data, err := json.Marshal(broadcastMsg{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := s.nc.Publish(subjectFor(topic, "broadcast"), data); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// Subscribe opens a subscription to the topic and gathers the current
// membership snapshot from peers.
func (s *NATSService) Subscribe(ctx context.Context, topic, key string) (Subscription, error) {
	sub := &natsSub{
		nc:       s.nc,
		topic:    topic,
		key:      key,
		log:      s.log,
		presence: make(map[string][]PresenceMeta),
		events:   make(chan Event, eventBuffer),
	}

	presSub, err := s.nc.Subscribe(subjectFor(topic, "presence"), sub.onPresence)
	if err != nil {
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}
	sub.subs = append(sub.subs, presSub)

	bcastSub, err := s.nc.Subscribe(subjectFor(topic, "broadcast"), sub.onBroadcast)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe broadcast: %w", err)
	}
	sub.subs = append(sub.subs, bcastSub)

	syncSub, err := s.nc.Subscribe(subjectFor(topic, "sync"), sub.onSyncRequest)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe sync: %w", err)
	}
	sub.subs = append(sub.subs, syncSub)

	go sub.gatherSnapshot()

	return sub, nil
}

type natsSub struct {
	nc    *nats.Conn
	topic string
	key   string
	log   *zerolog.Logger

	mu       sync.Mutex
	presence map[string][]PresenceMeta
	tracked  *PresenceMeta
	subs     []*nats.Subscription
	closed   bool

	events chan Event
}

// gatherSnapshot asks peers for their tracked entries and emits the first
// sync event once the reply window closes.
func (s *natsSub) gatherSnapshot() {
	inbox := nats.NewInbox()
	replies, err := s.nc.SubscribeSync(inbox)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", s.topic).Msg("presence snapshot subscribe failed")
		s.emit(Event{Kind: EventPresenceSync})
		return
	}
	defer func() { _ = replies.Unsubscribe() }()

	if err := s.nc.PublishRequest(subjectFor(s.topic, "sync"), inbox, nil); err != nil {
		s.log.Warn().Err(err).Str("topic", s.topic).Msg("presence snapshot request failed")
		s.emit(Event{Kind: EventPresenceSync})
		return
	}

	deadline := time.Now().Add(syncWindow)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		msg, err := replies.NextMsg(remaining)
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) {
				s.log.Warn().Err(err).Str("topic", s.topic).Msg("presence snapshot reply failed")
			}
			break
		}
		var reply syncReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			s.log.Warn().Err(err).Str("topic", s.topic).Msg("malformed presence snapshot reply")
			continue
		}
		s.mu.Lock()
		s.presence[reply.Key] = upsertMeta(s.presence[reply.Key], reply.Meta)
		s.mu.Unlock()
	}

	s.emit(Event{Kind: EventPresenceSync})
}

func (s *natsSub) onPresence(msg *nats.Msg) {
	var pm presenceMsg
	if err := json.Unmarshal(msg.Data, &pm); err != nil {
		s.log.Warn().Err(err).Str("topic", s.topic).Msg("malformed presence message")
		return
	}

	s.mu.Lock()
	switch pm.Action {
	case "join":
		s.presence[pm.Key] = upsertMeta(s.presence[pm.Key], pm.Meta)
	case "leave":
		s.presence[pm.Key] = removeMeta(s.presence[pm.Key], pm.Meta.ID)
		if len(s.presence[pm.Key]) == 0 {
			delete(s.presence, pm.Key)
		}
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch pm.Action {
	case "join":
		s.emit(Event{Kind: EventPresenceJoin, Key: pm.Key, Joined: []PresenceMeta{pm.Meta}})
	case "leave":
		s.emit(Event{Kind: EventPresenceLeave, Key: pm.Key, Left: []PresenceMeta{pm.Meta}})
	}
	s.emit(Event{Kind: EventPresenceSync})
}

func (s *natsSub) onBroadcast(msg *nats.Msg) {
	var bm broadcastMsg
	if err := json.Unmarshal(msg.Data, &bm); err != nil {
		s.log.Warn().Err(err).Str("topic", s.topic).Msg("malformed broadcast message")
		return
	}
	s.emit(Event{Kind: EventBroadcast, Name: bm.Event, Payload: bm.Payload})
}

// onSyncRequest answers a peer's snapshot request with our tracked entry.
func (s *natsSub) onSyncRequest(msg *nats.Msg) {
	if msg.Reply == "" {
		return
	}
	s.mu.Lock()
	tracked := s.tracked
	key := s.key
	s.mu.Unlock()
	if tracked == nil {
		return
	}

	data, err := json.Marshal(syncReply{Key: key, Meta: *tracked})
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn().Err(err).Str("topic", s.topic).Msg("presence snapshot respond failed")
	}
}

// Track announces the subscriber's presence entry on the topic.
func (s *natsSub) Track(meta PresenceMeta) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.tracked = &meta
	s.mu.Unlock()

	return s.publishPresence("join", meta)
}

// Untrack withdraws the presence entry.
func (s *natsSub) Untrack() error {
	s.mu.Lock()
	if s.closed || s.tracked == nil {
		s.mu.Unlock()
		return nil
	}
	meta := *s.tracked
	s.tracked = nil
	s.mu.Unlock()

	return s.publishPresence("leave", meta)
}

func (s *natsSub) publishPresence(action string, meta PresenceMeta) error {
	data, err := json.Marshal(presenceMsg{Action: action, Key: s.key, Meta: meta})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := s.nc.Publish(subjectFor(s.topic, "presence"), data); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

// Broadcast publishes a tagged payload to every subscriber, sender included.
func (s *natsSub) Broadcast(event string, payload []byte) error {
	data, err := json.Marshal(broadcastMsg{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	if err := s.nc.Publish(subjectFor(s.topic, "broadcast"), data); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// PresenceState returns the current membership snapshot.
func (s *natsSub) PresenceState() map[string][]PresenceMeta {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := make(map[string][]PresenceMeta, len(s.presence))
	for key, metas := range s.presence {
		state[key] = append([]PresenceMeta(nil), metas...)
	}
	return state
}

// Events delivers presence and broadcast notifications.
func (s *natsSub) Events() <-chan Event {
	return s.events
}

// Close withdraws the presence entry and releases the subscription.
func (s *natsSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	tracked := s.tracked
	s.tracked = nil
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	if tracked != nil {
		if err := s.publishPresence("leave", *tracked); err != nil {
			s.log.Warn().Err(err).Str("topic", s.topic).Msg("leave announcement failed")
		}
	}
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	s.mu.Lock()
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	return nil
}

// emit hands an event to the consumer without blocking the NATS callback.
func (s *natsSub) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Drop if slow consumer.
	}
}

func upsertMeta(metas []PresenceMeta, meta PresenceMeta) []PresenceMeta {
	for i, m := range metas {
		if m.ID == meta.ID {
			metas[i] = meta
			return metas
		}
	}
	return append(metas, meta)
}

func removeMeta(metas []PresenceMeta, id string) []PresenceMeta {
	out := metas[:0]
	for _, m := range metas {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
