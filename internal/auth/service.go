// Package auth is the identity provider: it issues and validates session
// tokens, owns the current session state, and notifies subscribers about
// sign-in and sign-out transitions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/store"
	"github.com/vovakirdan/roomcast/internal/utils"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Identity is what the provider knows about a signed-in user. Consumers may
// replace DisplayName and Email with a richer stored profile row.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// ChangeEvent describes an auth state transition.
type ChangeEvent int

const (
	// EventSignedIn notifies that a user session became active.
	EventSignedIn ChangeEvent = iota
	// EventSignedOut notifies that the active session ended.
	EventSignedOut
)

// Accounts is the persistence the provider needs.
type Accounts interface {
	store.AuthUserStore
	store.ProfileStore
}

// Service provides authentication operations.
type Service struct {
	accounts  Accounts
	jwtConfig *JWTConfig
	log       *zerolog.Logger

	mu        sync.Mutex
	session   *Identity
	listeners []func(ChangeEvent, *Identity)
}

// NewService creates a new authentication service.
func NewService(accounts Accounts, jwtConfig *JWTConfig, logger *zerolog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		jwtConfig: jwtConfig,
		log:       logger,
	}
}

// Register creates a new user with hashed password, signs it in and returns
// a session token.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", ErrInvalidPassword
	}

	// Check if user already exists
	existing, err := s.accounts.GetAuthUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", ErrUserExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.accounts.CreateAuthUser(ctx, utils.NewID(), username, hashedPassword)
	if err != nil {
		return "", fmt.Errorf("create auth user: %w", err)
	}

	// The profile row carries the display name shown in rooms; it starts as
	// the username and can be enriched later.
	profile := &store.Profile{AuthUserID: user.ID, DisplayName: username}
	if err := s.accounts.SaveProfile(ctx, profile); err != nil {
		return "", fmt.Errorf("save profile: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	s.signIn(&Identity{ID: user.ID, DisplayName: username})
	return token, nil
}

// Login validates credentials, signs the user in and returns a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.accounts.GetAuthUserByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	s.signIn(&Identity{ID: user.ID, DisplayName: user.Username})
	return token, nil
}

// Session returns the identity of the active session, or nil when no
// session is active.
func (s *Service) Session(ctx context.Context) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	id := *s.session
	return &id, nil
}

// SignOut ends the active session and notifies listeners. Signing out
// without an active session is a no-op.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil
	}
	s.session = nil
	listeners := append([]func(ChangeEvent, *Identity){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(EventSignedOut, nil)
	}
	return nil
}

// OnChange registers a listener for future sign-in/sign-out notifications.
func (s *Service) OnChange(fn func(ChangeEvent, *Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ValidateToken validates a session token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

func (s *Service) signIn(id *Identity) {
	s.mu.Lock()
	s.session = id
	listeners := append([]func(ChangeEvent, *Identity){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		copied := *id
		fn(EventSignedIn, &copied)
	}
}
