// Package session owns the viewer-facing identity state: the signed-in user
// mirrored from the identity provider and the durable anonymous identity that
// survives restarts. Consumers wait for Ready before resolving a viewer into
// a room participant.
package session

import "context"

// AnonymousUser is the durable anonymous identity of a viewer. ID is the
// participant row the name was first bound to, kept so a returning viewer
// maps onto the same participant.
type AnonymousUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Storage persists the anonymous identity across restarts.
type Storage interface {
	// Load returns the stored identity, or nil when none is stored.
	Load(ctx context.Context) (*AnonymousUser, error)

	// Save stores the identity, replacing any previous one.
	Save(ctx context.Context, user *AnonymousUser) error

	// Clear removes the stored identity. Clearing an empty storage is a no-op.
	Clear(ctx context.Context) error
}
