package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row. Callers use it to
// drive create-on-demand logic; it is not an operational failure.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert loses a uniqueness race. The
// caller is expected to re-read the winning row.
var ErrDuplicate = errors.New("duplicate row")

// Room is a named chat space. Rooms are created lazily on first search miss
// and are never deleted.
type Room struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Participant binds one viewer identity to one room. Exactly one of
// AuthUserID and AnonymousName is set. The first participant ever created
// for a room carries the admin flag; the flag is never mutated afterwards.
type Participant struct {
	ID            int64
	RoomID        int64
	AuthUserID    *string
	AnonymousName *string
	IsAdmin       bool
	CreatedAt     time.Time
}

// Message is a persisted chat message, immutable once created. DisplayName
// is a snapshot of the sender's name at send time.
type Message struct {
	ID            int64
	RoomID        int64
	ParticipantID int64
	DisplayName   string
	Content       string
	CreatedAt     time.Time
}

// Profile is the extended profile row kept for an authenticated user. It is
// preferred over the raw provider identity when hydrating a session.
type Profile struct {
	AuthUserID  string
	DisplayName string
	Email       string
}

// AuthUser is a credentialed account managed by the identity provider.
type AuthUser struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a new room. Returns ErrDuplicate when the name is taken.
	CreateRoom(ctx context.Context, name string) (*Room, error)

	// GetRoomByID retrieves a room by ID. Returns ErrNotFound on miss.
	GetRoomByID(ctx context.Context, id int64) (*Room, error)

	// GetRoomByName retrieves a room by its slug. Returns ErrNotFound on miss.
	GetRoomByName(ctx context.Context, name string) (*Room, error)
}

// ParticipantStore handles participant persistence.
type ParticipantStore interface {
	// FindParticipant looks up a participant in the room matching the auth
	// user id OR the anonymous name, whichever arguments are non-empty.
	// Returns ErrNotFound when no row matches or both arguments are empty.
	FindParticipant(ctx context.Context, roomID int64, authUserID, anonymousName string) (*Participant, error)

	// CreateParticipant inserts a participant. Exactly one of authUserID and
	// anonymousName must be non-empty. Admin status is decided atomically by
	// the insert itself: the first row for a room gets it. Returns
	// ErrDuplicate when the identity already has a row in the room.
	CreateParticipant(ctx context.Context, roomID int64, authUserID, anonymousName string) (*Participant, error)

	// ListParticipants lists all participants of a room.
	ListParticipants(ctx context.Context, roomID int64) ([]*Participant, error)

	// CountParticipants counts participants in a room.
	CountParticipants(ctx context.Context, roomID int64) (int, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage inserts a message and returns the stored row with its
	// server-assigned id and timestamp.
	SaveMessage(ctx context.Context, roomID, participantID int64, displayName, content string) (*Message, error)

	// ListRecentMessages returns up to limit messages of a room, newest first.
	ListRecentMessages(ctx context.Context, roomID int64, limit int) ([]*Message, error)
}

// ProfileStore handles extended profile rows.
type ProfileStore interface {
	// GetProfile retrieves the profile for an auth user. Returns ErrNotFound on miss.
	GetProfile(ctx context.Context, authUserID string) (*Profile, error)

	// SaveProfile inserts or replaces a profile row.
	SaveProfile(ctx context.Context, p *Profile) error
}

// AuthUserStore handles identity provider accounts.
type AuthUserStore interface {
	// CreateAuthUser creates an account with a hashed password.
	CreateAuthUser(ctx context.Context, id, username, passwordHash string) (*AuthUser, error)

	// GetAuthUserByID retrieves an account by id. Returns ErrNotFound on miss.
	GetAuthUserByID(ctx context.Context, id string) (*AuthUser, error)

	// GetAuthUserByUsername retrieves an account by username. Returns ErrNotFound on miss.
	GetAuthUserByUsername(ctx context.Context, username string) (*AuthUser, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	RoomStore
	ParticipantStore
	MessageStore
	ProfileStore
	AuthUserStore

	// Close closes the underlying database connection.
	Close() error
}
