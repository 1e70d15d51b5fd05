// Package identity resolves a viewer into a room participant. Every write
// path goes through the resolver first, so a participant row always exists
// before a message or presence entry refers to it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/store"
)

// AnonymousBinder persists the anonymous identity a resolution produced, so
// the same viewer maps onto the same participant next time.
type AnonymousBinder interface {
	SetAnonymousUser(ctx context.Context, id, name string) error
}

// Resolver finds or creates the participant row for a viewer in a room.
type Resolver struct {
	participants store.ParticipantStore
	log          *zerolog.Logger
}

// NewResolver creates a resolver over the participant store.
func NewResolver(participants store.ParticipantStore, logger *zerolog.Logger) *Resolver {
	return &Resolver{participants: participants, log: logger}
}

// Resolve returns the participant for the viewer in the room, creating one
// when none exists. A viewer with neither an auth user id nor an anonymous
// name gets a synthesized guest name. Admin status is decided by the store
// at insert time. When a new anonymous participant is created and a binder is
// given, the identity is persisted through it.
func (r *Resolver) Resolve(ctx context.Context, roomID int64, authUserID, anonymousName string, binder AnonymousBinder) (*store.Participant, error) {
	if authUserID != "" {
		// An authenticated viewer is identified by the auth user id alone;
		// a leftover guest name from the same client is ignored.
		anonymousName = ""
	} else if anonymousName == "" {
		anonymousName = fmt.Sprintf("Guest-%d", rand.IntN(1000000))
	}

	created := false
	p, err := r.participants.FindParticipant(ctx, roomID, authUserID, anonymousName)
	if errors.Is(err, store.ErrNotFound) {
		p, err = r.participants.CreateParticipant(ctx, roomID, authUserID, anonymousName)
		created = err == nil
		if errors.Is(err, store.ErrDuplicate) {
			// Lost the insert race; the winning row is ours to reuse.
			p, err = r.participants.FindParticipant(ctx, roomID, authUserID, anonymousName)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve participant: %w", err)
	}

	if created && p.AnonymousName != nil && binder != nil {
		if err := binder.SetAnonymousUser(ctx, strconv.FormatInt(p.ID, 10), *p.AnonymousName); err != nil {
			r.log.Warn().Err(err).Int64("participant_id", p.ID).Msg("failed to persist anonymous identity")
		}
	}
	return p, nil
}
