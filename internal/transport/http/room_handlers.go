package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomcast/internal/chat"
	"github.com/vovakirdan/roomcast/internal/store"
)

// RoomHandlers provides HTTP handlers for room and message endpoints.
type RoomHandlers struct {
	chat *chat.Service
	log  *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(chatService *chat.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		chat: chatService,
		log:  logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,min=1,max=64"`
}

// RoomWithHistoryResponse represents a room together with its recent
// messages, oldest first.
type RoomWithHistoryResponse struct {
	Room     *RoomResponse     `json:"room"`
	Messages []MessageResponse `json:"messages"`
}

// SearchResponse represents a room search result.
type SearchResponse struct {
	Found bool          `json:"found"`
	Room  *RoomResponse `json:"room,omitempty"`
}

// PostMessageRequest represents the post message request body.
type PostMessageRequest struct {
	Content       string `json:"content" binding:"required"`
	AnonymousName string `json:"anonymous_name,omitempty"`
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.chat.CreateRoom(c.Request.Context(), req.Name)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room with this name already exists"})
			return
		}
		h.log.Error().Err(err).Str("room_name", req.Name).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_name", room.Name).Int64("room_id", room.ID).Msg("room created successfully")
	c.JSON(http.StatusCreated, roomToResponse(room))
}

// GetRoom handles loading a room with its recent history.
// GET /api/rooms/:slug
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	slug := c.Param("slug")

	room, history, err := h.chat.LoadRoom(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("slug", slug).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, RoomWithHistoryResponse{
		Room:     roomToResponse(room),
		Messages: messagesToResponse(history),
	})
}

// SearchRooms handles room lookup by name.
// GET /api/search?q=<term>
func (h *RoomHandlers) SearchRooms(c *gin.Context) {
	room, found, err := h.chat.SearchRoom(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to search rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := SearchResponse{Found: found}
	if found {
		resp.Room = roomToResponse(room)
	}
	c.JSON(http.StatusOK, resp)
}

// PostMessage handles posting a message to a room. Authenticated viewers are
// identified by their bearer token; anonymous viewers may present their
// durable guest name, or get a fresh one synthesized.
// POST /api/rooms/:slug/messages
func (h *RoomHandlers) PostMessage(c *gin.Context) {
	slug := c.Param("slug")

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid post message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, _, err := h.chat.LoadRoom(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Str("slug", slug).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	authUserID := c.GetString(ContextKeyUserID)
	displayName := c.GetString(ContextKeyDisplayName)

	msg, err := h.chat.PostMessage(c.Request.Context(), room.ID, authUserID, displayName, req.AnonymousName, req.Content, nil)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyContent) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty message content"})
			return
		}
		h.log.Error().Err(err).Int64("room_id", room.ID).Msg("failed to post message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, messageToResponse(msg))
}
