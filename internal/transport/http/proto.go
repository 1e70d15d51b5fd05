package http

// Inbound is a client-to-server WebSocket frame.
type Inbound struct {
	Type string `json:"type"`

	// init. ClientID is a stable device identifier; when present, the
	// server keeps the anonymous identity durable under it.
	Token         string `json:"token,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	AnonymousID   string `json:"anonymous_id,omitempty"`
	AnonymousName string `json:"anonymous_name,omitempty"`

	// message
	Content string `json:"content,omitempty"`

	// kick
	TargetID string `json:"target_id,omitempty"`
}

// Outbound is a server-to-client WebSocket frame.
type Outbound struct {
	Type string `json:"type"`

	Room     *RoomResponse     `json:"room,omitempty"`
	Messages []MessageResponse `json:"messages,omitempty"`
	Message  *MessageResponse  `json:"message,omitempty"`
	Users    []UserResponse    `json:"users,omitempty"`
	IsAdmin  bool              `json:"is_admin,omitempty"`
	Identity *IdentityResponse `json:"identity,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Inbound frame types.
const (
	InboundInit    = "init"
	InboundMessage = "message"
	InboundKick    = "kick"
	InboundLogout  = "logout"
)

// Outbound frame types.
const (
	OutboundJoined   = "joined"
	OutboundMessage  = "message"
	OutboundPresence = "presence"
	OutboundKicked   = "kicked"
	OutboundError    = "error"
)

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID            int64  `json:"id"`
	RoomID        int64  `json:"room_id"`
	ParticipantID int64  `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Content       string `json:"content"`
	CreatedAt     string `json:"created_at"`
}

// UserResponse represents a room occupant in presence frames.
type UserResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt string `json:"joined_at"`
	IsAdmin  bool   `json:"is_admin"`
}

// IdentityResponse carries the durable anonymous identity back to the client
// so it can present the same one next time.
type IdentityResponse struct {
	AnonymousID   string `json:"anonymous_id"`
	AnonymousName string `json:"anonymous_name"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}
