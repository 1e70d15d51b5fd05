package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/auth"
	"github.com/vovakirdan/roomcast/internal/store"
)

// Provider is the slice of the identity provider the session store needs.
type Provider interface {
	// Session returns the active identity, or nil when none is signed in.
	Session(ctx context.Context) (*auth.Identity, error)

	// OnChange registers a listener for sign-in/sign-out transitions.
	OnChange(fn func(auth.ChangeEvent, *auth.Identity))

	// SignOut ends the active session.
	SignOut(ctx context.Context) error
}

// Viewer is the identity a session presents to a room.
type Viewer struct {
	// AuthUserID is set when the viewer is signed in.
	AuthUserID string
	// DisplayName is the signed-in display name, profile-enriched when a
	// profile row exists.
	DisplayName string
	// AnonymousID is the participant the anonymous identity is bound to.
	// Empty until the viewer joined a room anonymously.
	AnonymousID string
	// AnonymousName is the durable guest name of an anonymous viewer.
	AnonymousName string
}

// Store holds the session state of one viewer.
type Store struct {
	provider Provider
	profiles store.ProfileStore
	storage  Storage
	log      *zerolog.Logger

	mu          sync.Mutex
	initialized bool
	ready       chan struct{}
	user        *auth.Identity
	displayName string
	anon        *AnonymousUser
}

// NewStore creates a session store and subscribes to provider transitions.
// Call InitUser to populate the initial state.
func NewStore(provider Provider, profiles store.ProfileStore, storage Storage, logger *zerolog.Logger) *Store {
	s := &Store{
		provider: provider,
		profiles: profiles,
		storage:  storage,
		log:      logger,
		ready:    make(chan struct{}),
	}
	provider.OnChange(s.onAuthChange)
	return s
}

// InitUser loads the current identity from the provider and the stored
// anonymous identity. Repeated calls are no-ops. A malformed stored identity
// is logged and treated as absent rather than failing initialization.
func (s *Store) InitUser(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	id, err := s.provider.Session(ctx)
	if err != nil {
		return fmt.Errorf("query session: %w", err)
	}

	var anon *AnonymousUser
	if id == nil {
		anon, err = s.storage.Load(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("stored anonymous identity unreadable, starting fresh")
			anon = nil
		}
	}

	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	if id != nil {
		s.setUserLocked(ctx, id)
	} else {
		s.anon = anon
	}
	s.initialized = true
	close(s.ready)
	s.mu.Unlock()

	if id != nil {
		// The account supersedes any anonymous identity left in storage.
		if err := s.storage.Clear(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear stored anonymous identity")
		}
	}
	return nil
}

// Ready is closed once InitUser has populated the session state.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Viewer returns the identity the session presents to a room.
func (s *Store) Viewer() Viewer {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v Viewer
	if s.user != nil {
		v.AuthUserID = s.user.ID
		v.DisplayName = s.displayName
	}
	if s.anon != nil {
		v.AnonymousID = s.anon.ID
		v.AnonymousName = s.anon.Name
	}
	return v
}

// SetAnonymousUser binds the durable anonymous identity and persists it.
func (s *Store) SetAnonymousUser(ctx context.Context, id, name string) error {
	s.mu.Lock()
	s.anon = &AnonymousUser{ID: id, Name: name}
	s.mu.Unlock()

	if err := s.storage.Save(ctx, &AnonymousUser{ID: id, Name: name}); err != nil {
		return fmt.Errorf("persist anonymous identity: %w", err)
	}
	return nil
}

// Logout ends the active provider session. The provider notifies back
// through onAuthChange.
func (s *Store) Logout(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

func (s *Store) onAuthChange(ev auth.ChangeEvent, id *auth.Identity) {
	ctx := context.Background()
	switch ev {
	case auth.EventSignedIn:
		s.mu.Lock()
		s.setUserLocked(ctx, id)
		s.mu.Unlock()
		// The anonymous identity is superseded by the account.
		if err := s.storage.Clear(ctx); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear stored anonymous identity")
		}
	case auth.EventSignedOut:
		anon, err := s.storage.Load(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("stored anonymous identity unreadable after sign-out")
			anon = nil
		}
		s.mu.Lock()
		s.user = nil
		s.displayName = ""
		s.anon = anon
		s.mu.Unlock()
	}
}

// setUserLocked records the signed-in identity, preferring the stored
// profile display name over the provider's. Caller must hold s.mu.
func (s *Store) setUserLocked(ctx context.Context, id *auth.Identity) {
	s.user = id
	s.displayName = id.DisplayName
	s.anon = nil

	profile, err := s.profiles.GetProfile(ctx, id.ID)
	if err == nil && profile.DisplayName != "" {
		s.displayName = profile.DisplayName
	}
}
