// Package chat implements the message channel of a room: bounded history on
// entry, persisted posts, and a row-change broadcast for live feeds.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/identity"
	"github.com/vovakirdan/roomcast/internal/realtime"
	"github.com/vovakirdan/roomcast/internal/store"
)

// EventMessageCreated tags the broadcast emitted after a message insert.
const EventMessageCreated = "message_created"

// ErrEmptyContent is returned when a post carries no text after trimming.
var ErrEmptyContent = errors.New("empty message content")

// MessagesTopic names the feed topic of a room.
func MessagesTopic(roomID int64) string {
	return "messages:" + strconv.FormatInt(roomID, 10)
}

// MessagePayload is the wire form of a message on the feed topic.
type MessagePayload struct {
	ID            int64     `json:"id"`
	RoomID        int64     `json:"room_id"`
	ParticipantID int64     `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Storage is the slice of the store the chat service needs.
type Storage interface {
	store.RoomStore
	store.MessageStore
}

// Service provides room and message operations.
type Service struct {
	storage      Storage
	resolver     *identity.Resolver
	pubsub       realtime.Service
	historyLimit int
	log          *zerolog.Logger
}

// NewService creates a chat service. historyLimit bounds how many recent
// messages LoadRoom returns.
func NewService(storage Storage, resolver *identity.Resolver, pubsub realtime.Service, historyLimit int, logger *zerolog.Logger) *Service {
	return &Service{
		storage:      storage,
		resolver:     resolver,
		pubsub:       pubsub,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// LoadRoom returns the room named by slug together with its recent history,
// oldest first. Returns store.ErrNotFound when no such room exists.
func (s *Service) LoadRoom(ctx context.Context, slug string) (*store.Room, []*store.Message, error) {
	room, err := s.storage.GetRoomByName(ctx, slug)
	if err != nil {
		return nil, nil, fmt.Errorf("load room %q: %w", slug, err)
	}

	recent, err := s.storage.ListRecentMessages(ctx, room.ID, s.historyLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load history of room %q: %w", slug, err)
	}

	// The store returns newest first; display order is oldest first.
	history := make([]*store.Message, len(recent))
	for i, m := range recent {
		history[len(recent)-1-i] = m
	}
	return room, history, nil
}

// SearchRoom looks up a room by name. A blank term and a miss both report
// found=false without an error.
func (s *Service) SearchRoom(ctx context.Context, term string) (*store.Room, bool, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, false, nil
	}

	room, err := s.storage.GetRoomByName(ctx, term)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("search room %q: %w", term, err)
	}
	return room, true, nil
}

// CreateRoom creates a room with the trimmed name. Returns store.ErrDuplicate
// when the name is taken.
func (s *Service) CreateRoom(ctx context.Context, name string) (*store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("empty room name")
	}

	room, err := s.storage.CreateRoom(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create room %q: %w", name, err)
	}
	return room, nil
}

// PostMessage resolves the viewer into a participant, persists the message
// and announces it on the room's feed topic. The announcement is best effort;
// a publish failure does not undo the write.
func (s *Service) PostMessage(ctx context.Context, roomID int64, authUserID, displayName, anonymousName, content string, binder identity.AnonymousBinder) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	p, err := s.resolver.Resolve(ctx, roomID, authUserID, anonymousName, binder)
	if err != nil {
		return nil, err
	}

	name := displayName
	if name == "" && p.AnonymousName != nil {
		name = *p.AnonymousName
	}

	msg, err := s.storage.SaveMessage(ctx, roomID, p.ID, name, content)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	payload, err := json.Marshal(MessagePayload{
		ID:            msg.ID,
		RoomID:        msg.RoomID,
		ParticipantID: msg.ParticipantID,
		DisplayName:   msg.DisplayName,
		Content:       msg.Content,
		CreatedAt:     msg.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message payload: %w", err)
	}
	if err := s.pubsub.Publish(ctx, MessagesTopic(roomID), EventMessageCreated, payload); err != nil {
		s.log.Warn().Err(err).Int64("room_id", roomID).Msg("failed to announce message")
	}

	return msg, nil
}
