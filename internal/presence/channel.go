// Package presence implements the room occupancy channel: who is in the
// room right now, which of them hold the admin flag, and the kick broadcast
// that lets the room admin evict an occupant.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/identity"
	"github.com/vovakirdan/roomcast/internal/realtime"
	"github.com/vovakirdan/roomcast/internal/session"
	"github.com/vovakirdan/roomcast/internal/store"
)

// ErrNotAuthorized is returned when a non-admin attempts a kick.
var ErrNotAuthorized = errors.New("not authorized")

// EventKick tags the eviction broadcast.
const EventKick = "kick"

const (
	// readyWait bounds how long Subscribe waits for the session to finish
	// initializing before giving up.
	readyWait = 500 * time.Millisecond

	// evictionDelay is how long a kicked occupant stays before teardown, so
	// the eviction notice can render first.
	evictionDelay = 500 * time.Millisecond
)

// State is the lifecycle of a channel.
type State int

const (
	// StateIdle means the channel was never subscribed.
	StateIdle State = iota
	// StateConnecting means a subscribe is in flight.
	StateConnecting
	// StateSubscribed means the channel is live.
	StateSubscribed
	// StateClosed means the channel was torn down.
	StateClosed
)

// Topic names the presence topic of a room.
func Topic(roomID int64) string {
	return "chatroom:" + strconv.FormatInt(roomID, 10)
}

// Entry is one occupant of the room as shown to the viewer.
type Entry struct {
	ID       string
	Name     string
	JoinedAt time.Time
	IsAdmin  bool
}

type kickPayload struct {
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// Channel is one session's presence connection to a room.
type Channel struct {
	manager      *realtime.Manager
	participants store.ParticipantStore
	session      *session.Store
	resolver     *identity.Resolver
	log          *zerolog.Logger

	onEvict  func()
	onUpdate func(users []Entry, selfAdmin bool)

	mu        sync.Mutex
	state     State
	roomID    int64
	topic     string
	sub       realtime.Subscription
	selfID    string
	selfAdmin bool
	users     []Entry
}

// NewChannel creates a presence channel for one session.
func NewChannel(manager *realtime.Manager, participants store.ParticipantStore, sess *session.Store, resolver *identity.Resolver, logger *zerolog.Logger) *Channel {
	return &Channel{
		manager:      manager,
		participants: participants,
		session:      sess,
		resolver:     resolver,
		log:          logger,
	}
}

// OnEvict registers the hook invoked after this viewer is kicked. Set it
// before Subscribe.
func (c *Channel) OnEvict(fn func()) { c.onEvict = fn }

// OnUpdate registers the hook invoked whenever the occupant list changes.
// Set it before Subscribe.
func (c *Channel) OnUpdate(fn func(users []Entry, selfAdmin bool)) { c.onUpdate = fn }

// Subscribe joins the room's presence topic. It waits briefly for the
// session to finish initializing; if it does not, the subscribe is skipped
// and the channel stays idle. An existing subscription is replaced.
func (c *Channel) Subscribe(ctx context.Context, roomID int64) error {
	c.mu.Lock()
	if c.sub != nil {
		c.teardownLocked()
	}
	c.state = StateConnecting
	c.roomID = roomID
	c.topic = Topic(roomID)
	c.mu.Unlock()

	select {
	case <-c.session.Ready():
	case <-time.After(readyWait):
		c.log.Warn().Int64("room_id", roomID).Msg("session not ready, skipping presence subscribe")
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return ctx.Err()
	}

	viewer := c.session.Viewer()
	p, err := c.resolver.Resolve(ctx, roomID, viewer.AuthUserID, viewer.AnonymousName, c.session)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	selfID := viewer.AuthUserID
	if selfID == "" {
		selfID = strconv.FormatInt(p.ID, 10)
	}
	selfName := viewer.DisplayName
	if selfName == "" && p.AnonymousName != nil {
		selfName = *p.AnonymousName
	}

	sub, err := c.manager.Open(ctx, Topic(roomID), selfID)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}
	if err := sub.Track(realtime.PresenceMeta{ID: selfID, Name: selfName, JoinedAt: time.Now()}); err != nil {
		_ = c.manager.Close(Topic(roomID))
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.selfID = selfID
	c.selfAdmin = p.IsAdmin
	c.state = StateSubscribed
	c.mu.Unlock()

	go c.run(sub)
	return nil
}

// run consumes channel events until the subscription closes.
func (c *Channel) run(sub realtime.Subscription) {
	for ev := range sub.Events() {
		switch ev.Kind {
		case realtime.EventPresenceSync, realtime.EventPresenceJoin, realtime.EventPresenceLeave:
			c.reconcile(sub)
		case realtime.EventBroadcast:
			if ev.Name == EventKick {
				c.handleKick(ev.Payload)
			}
		}
	}
}

// reconcile rebuilds the occupant list from the presence snapshot,
// cross-referencing the participant rows for admin flags. A failed
// cross-reference degrades to a list without admin flags rather than an
// empty room.
func (c *Channel) reconcile(sub realtime.Subscription) {
	state := sub.PresenceState()

	metas := make([]realtime.PresenceMeta, 0, len(state))
	seen := make(map[string]struct{}, len(state))
	for _, entries := range state {
		for _, meta := range entries {
			if _, ok := seen[meta.ID]; ok {
				continue
			}
			seen[meta.ID] = struct{}{}
			metas = append(metas, meta)
		}
	}

	c.mu.Lock()
	roomID := c.roomID
	selfID := c.selfID
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rows, err := c.participants.ListParticipants(ctx, roomID)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Int64("room_id", roomID).Msg("participant cross-reference failed")
		rows = nil
	}

	users := make([]Entry, 0, len(metas))
	selfAdmin := false
	for _, meta := range metas {
		entry := Entry{ID: meta.ID, Name: meta.Name, JoinedAt: meta.JoinedAt}
		if p := matchParticipant(rows, meta.ID); p != nil {
			entry.IsAdmin = p.IsAdmin
		}
		if meta.ID == selfID {
			selfAdmin = entry.IsAdmin
		}
		users = append(users, entry)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].JoinedAt.Equal(users[j].JoinedAt) {
			return users[i].JoinedAt.Before(users[j].JoinedAt)
		}
		return users[i].ID < users[j].ID
	})

	c.mu.Lock()
	if c.state != StateSubscribed || c.sub != sub {
		c.mu.Unlock()
		return
	}
	c.users = users
	c.selfAdmin = selfAdmin
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		onUpdate(append([]Entry(nil), users...), selfAdmin)
	}
}

// matchParticipant maps a presence id onto a participant row: the id is
// either an auth user id or, for anonymous occupants, the participant row id.
func matchParticipant(rows []*store.Participant, id string) *store.Participant {
	for _, p := range rows {
		if p.AuthUserID != nil && *p.AuthUserID == id {
			return p
		}
	}
	for _, p := range rows {
		if strconv.FormatInt(p.ID, 10) == id {
			return p
		}
	}
	return nil
}

// handleKick reacts to an eviction broadcast. Only the target acts on it;
// everyone else ignores the event.
func (c *Channel) handleKick(payload []byte) {
	var kick kickPayload
	if err := json.Unmarshal(payload, &kick); err != nil {
		c.log.Warn().Err(err).Msg("malformed kick payload")
		return
	}

	c.mu.Lock()
	isSelf := c.state == StateSubscribed && kick.UserID == c.selfID
	roomID := c.roomID
	c.mu.Unlock()
	if !isSelf {
		return
	}

	c.log.Info().Int64("room_id", roomID).Msg("kicked from room")
	time.AfterFunc(evictionDelay, func() {
		if c.onEvict != nil {
			c.onEvict()
		}
		c.Unsubscribe()
	})
}

// Kick broadcasts an eviction for the target occupant. Only the room admin
// may kick.
func (c *Channel) Kick(ctx context.Context, targetID string) error {
	c.mu.Lock()
	sub := c.sub
	authorized := c.state == StateSubscribed && c.selfAdmin
	c.mu.Unlock()

	if sub == nil || !authorized {
		return ErrNotAuthorized
	}

	payload, err := json.Marshal(kickPayload{UserID: targetID, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return sub.Broadcast(EventKick, payload)
}

// Unsubscribe leaves the presence topic and clears the occupant list.
// Safe to call more than once.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.state = StateClosed
}

// teardownLocked releases the subscription. Caller must hold c.mu.
func (c *Channel) teardownLocked() {
	if c.sub == nil {
		return
	}
	_ = c.sub.Untrack()
	_ = c.manager.Close(c.topic)
	c.sub = nil
	c.users = nil
	c.selfAdmin = false
}

// State returns the channel lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Users returns the current occupant list.
func (c *Channel) Users() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.users...)
}

// IsAdmin reports whether this viewer holds the admin flag.
func (c *Channel) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfAdmin
}
