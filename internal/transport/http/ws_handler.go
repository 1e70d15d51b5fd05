package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomcast/internal/auth"
	"github.com/vovakirdan/roomcast/internal/chat"
	"github.com/vovakirdan/roomcast/internal/identity"
	"github.com/vovakirdan/roomcast/internal/presence"
	"github.com/vovakirdan/roomcast/internal/realtime"
	"github.com/vovakirdan/roomcast/internal/session"
	"github.com/vovakirdan/roomcast/internal/store"
)

// WSHandler upgrades HTTP connections and runs one room session per
// connection: a live message feed, a presence channel, and the inbound
// command loop.
type WSHandler struct {
	authService *auth.Service
	chat        *chat.Service
	store       store.Store
	pubsub      realtime.Service
	resolver    *identity.Resolver
	anonStorage func(clientID string) session.Storage
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(deps Deps, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		authService: deps.Auth,
		chat:        deps.Chat,
		store:       deps.Store,
		pubsub:      deps.PubSub,
		resolver:    deps.Resolver,
		anonStorage: deps.AnonStorage,
		log:         logger,
	}
}

// connProvider scopes the identity provider to one connection, seeded from
// the token the client presented at init.
type connProvider struct {
	mu        sync.Mutex
	identity  *auth.Identity
	listeners []func(auth.ChangeEvent, *auth.Identity)
}

func (p *connProvider) Session(ctx context.Context) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return nil, nil
	}
	id := *p.identity
	return &id, nil
}

func (p *connProvider) OnChange(fn func(auth.ChangeEvent, *auth.Identity)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *connProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.identity == nil {
		p.mu.Unlock()
		return nil
	}
	p.identity = nil
	listeners := append([]func(auth.ChangeEvent, *auth.Identity){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(auth.EventSignedOut, nil)
	}
	return nil
}

// ServeHTTP serves one room session. The handler is mounted on the raw mux
// because Accept needs a hijackable response writer.
// GET /ws/rooms/{slug}
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	slug := r.PathValue("slug")
	ctx := r.Context()

	room, history, err := h.chat.LoadRoom(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, stdhttp.StatusNotFound, "room not found")
			return
		}
		h.log.Error().Err(err).Str("slug", slug).Msg("failed to load room")
		writeJSONError(w, stdhttp.StatusInternalServerError, "internal server error")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// First frame must be init: it carries the token and the client's
	// durable anonymous identity, if it has one.
	var init Inbound
	if err := wsjson.Read(ctx, conn, &init); err != nil {
		h.log.Warn().Err(err).Msg("read ws init")
		return
	}
	if init.Type != InboundInit {
		_ = wsjson.Write(ctx, conn, Outbound{Type: OutboundError, Error: "expected init frame"})
		conn.Close(websocket.StatusPolicyViolation, "expected init frame")
		return
	}

	provider := &connProvider{}
	if init.Token != "" {
		claims, err := h.authService.ValidateToken(init.Token)
		if err != nil {
			_ = wsjson.Write(ctx, conn, Outbound{Type: OutboundError, Error: "invalid token"})
			conn.Close(websocket.StatusPolicyViolation, "invalid token")
			return
		}
		provider.identity = &auth.Identity{ID: claims.UserID, DisplayName: claims.DisplayName}
	}

	var storage session.Storage = session.NewMemoryStorage()
	if init.ClientID != "" && h.anonStorage != nil {
		if durable := h.anonStorage(init.ClientID); durable != nil {
			storage = durable
		}
	}
	if init.AnonymousName != "" {
		_ = storage.Save(ctx, &session.AnonymousUser{ID: init.AnonymousID, Name: init.AnonymousName})
	}

	sess := session.NewStore(provider, h.store, storage, h.log)
	if err := sess.InitUser(ctx); err != nil {
		h.log.Error().Err(err).Msg("failed to init session")
		_ = wsjson.Write(ctx, conn, Outbound{Type: OutboundError, Error: "internal server error"})
		return
	}

	outCh := make(chan Outbound, 32)
	send := func(out Outbound) {
		select {
		case outCh <- out:
		case <-ctx.Done():
		}
	}

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- h.writeLoop(ctx, conn, outCh)
	}()

	manager := realtime.NewManager(h.pubsub)
	defer manager.CloseAll()

	feed := chat.NewFeed(manager, h.log)
	defer feed.Unsubscribe()
	if err := feed.Subscribe(ctx, room.ID, func(m chat.MessagePayload) {
		msg := payloadToResponse(m)
		send(Outbound{Type: OutboundMessage, Message: &msg})
	}); err != nil {
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to subscribe feed")
		return
	}

	channel := presence.NewChannel(manager, h.store, sess, h.resolver, h.log)
	defer channel.Unsubscribe()
	channel.OnUpdate(func(users []presence.Entry, selfAdmin bool) {
		send(Outbound{Type: OutboundPresence, Users: usersToResponse(users), IsAdmin: selfAdmin})
	})
	// The kicked frame is the viewer's cue to leave; the channel has already
	// withdrawn their presence by the time it arrives.
	channel.OnEvict(func() {
		send(Outbound{Type: OutboundKicked})
	})
	if err := channel.Subscribe(ctx, room.ID); err != nil {
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to subscribe presence")
		return
	}

	joined := Outbound{
		Type:     OutboundJoined,
		Room:     roomToResponse(room),
		Messages: messagesToResponse(history),
	}
	if v := sess.Viewer(); v.AnonymousName != "" {
		joined.Identity = &IdentityResponse{AnonymousID: v.AnonymousID, AnonymousName: v.AnonymousName}
	}
	send(joined)

	err = h.readLoop(ctx, conn, room.ID, sess, channel, send)
	cancel()
	<-writeErr

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		} else {
			status = websocket.StatusInternalError
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, roomID int64, sess *session.Store, channel *presence.Channel, send func(Outbound)) error {
	for {
		var inbound Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		switch inbound.Type {
		case InboundMessage:
			v := sess.Viewer()
			if _, err := h.chat.PostMessage(ctx, roomID, v.AuthUserID, v.DisplayName, v.AnonymousName, inbound.Content, sess); err != nil {
				if errors.Is(err, chat.ErrEmptyContent) {
					send(Outbound{Type: OutboundError, Error: "empty message content"})
					continue
				}
				h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to post message")
				send(Outbound{Type: OutboundError, Error: "internal server error"})
			}
		case InboundKick:
			if err := channel.Kick(ctx, inbound.TargetID); err != nil {
				if errors.Is(err, presence.ErrNotAuthorized) {
					send(Outbound{Type: OutboundError, Error: "not authorized"})
					continue
				}
				h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to kick")
				send(Outbound{Type: OutboundError, Error: "internal server error"})
			}
		case InboundLogout:
			if err := sess.Logout(ctx); err != nil {
				h.log.Warn().Err(err).Msg("failed to logout")
			}
		default:
			send(Outbound{Type: OutboundError, Error: "unknown frame type"})
		}
	}
}

func writeJSONError(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, outCh <-chan Outbound) error {
	for {
		select {
		case out := <-outCh:
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
