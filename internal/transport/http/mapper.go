package http

import (
	"time"

	"github.com/vovakirdan/roomcast/internal/chat"
	"github.com/vovakirdan/roomcast/internal/presence"
	"github.com/vovakirdan/roomcast/internal/store"
)

const timeFormat = time.RFC3339

func roomToResponse(r *store.Room) *RoomResponse {
	return &RoomResponse{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.Format(timeFormat),
	}
}

func messageToResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:            m.ID,
		RoomID:        m.RoomID,
		ParticipantID: m.ParticipantID,
		DisplayName:   m.DisplayName,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.Format(timeFormat),
	}
}

func messagesToResponse(msgs []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToResponse(m))
	}
	return out
}

func payloadToResponse(m chat.MessagePayload) MessageResponse {
	return MessageResponse{
		ID:            m.ID,
		RoomID:        m.RoomID,
		ParticipantID: m.ParticipantID,
		DisplayName:   m.DisplayName,
		Content:       m.Content,
		CreatedAt:     m.CreatedAt.Format(timeFormat),
	}
}

func usersToResponse(users []presence.Entry) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{
			ID:       u.ID,
			Name:     u.Name,
			JoinedAt: u.JoinedAt.Format(timeFormat),
			IsAdmin:  u.IsAdmin,
		})
	}
	return out
}
