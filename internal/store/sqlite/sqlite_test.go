package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vovakirdan/roomcast/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestRoomLookupMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetRoomByName(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	room, err := s.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	got, err := s.GetRoomByName(ctx, "general")
	if err != nil {
		t.Fatalf("failed to get room: %v", err)
	}
	if got.ID != room.ID || got.Name != "general" {
		t.Fatalf("unexpected room: %+v", got)
	}

	if _, err := s.CreateRoom(ctx, "general"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateParticipantAdminElection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	first, err := s.CreateParticipant(ctx, room.ID, "", "alice")
	if err != nil {
		t.Fatalf("failed to create first participant: %v", err)
	}
	if !first.IsAdmin {
		t.Fatalf("expected first participant to be admin")
	}

	second, err := s.CreateParticipant(ctx, room.ID, "auth-user-1", "")
	if err != nil {
		t.Fatalf("failed to create second participant: %v", err)
	}
	if second.IsAdmin {
		t.Fatalf("expected second participant not to be admin")
	}

	// A different room elects its own admin independently.
	other, err := s.CreateRoom(ctx, "random")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	p, err := s.CreateParticipant(ctx, other.ID, "auth-user-1", "")
	if err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}
	if !p.IsAdmin {
		t.Fatalf("expected first participant of second room to be admin")
	}
}

func TestCreateParticipantDuplicateIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	if _, err := s.CreateParticipant(ctx, room.ID, "auth-user-1", ""); err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}
	if _, err := s.CreateParticipant(ctx, room.ID, "auth-user-1", ""); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for auth identity, got %v", err)
	}

	if _, err := s.CreateParticipant(ctx, room.ID, "", "alice"); err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}
	if _, err := s.CreateParticipant(ctx, room.ID, "", "alice"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for anonymous identity, got %v", err)
	}

	count, err := s.CountParticipants(ctx, room.ID)
	if err != nil {
		t.Fatalf("failed to count participants: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 participants, got %d", count)
	}
}

func TestFindParticipantOrMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	created, err := s.CreateParticipant(ctx, room.ID, "auth-user-1", "")
	if err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}

	// Matches on either branch of the OR filter.
	byAuth, err := s.FindParticipant(ctx, room.ID, "auth-user-1", "")
	if err != nil {
		t.Fatalf("failed to find by auth id: %v", err)
	}
	if byAuth.ID != created.ID {
		t.Fatalf("expected participant %d, got %d", created.ID, byAuth.ID)
	}

	if _, err := s.FindParticipant(ctx, room.ID, "auth-user-2", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// No identity supplied at all is a miss, not a full scan.
	if _, err := s.FindParticipant(ctx, room.ID, "", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty identity, got %v", err)
	}
}

func TestListRecentMessagesBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	p, err := s.CreateParticipant(ctx, room.ID, "", "alice")
	if err != nil {
		t.Fatalf("failed to create participant: %v", err)
	}

	for i := 1; i <= 12; i++ {
		if _, err := s.SaveMessage(ctx, room.ID, p.ID, "alice", fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("failed to save message %d: %v", i, err)
		}
	}

	messages, err := s.ListRecentMessages(ctx, room.ID, 10)
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(messages) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(messages))
	}

	// Newest first: msg-12 down to msg-3.
	for i, msg := range messages {
		want := fmt.Sprintf("msg-%d", 12-i)
		if msg.Content != want {
			t.Errorf("expected %s at index %d, got %s", want, i, msg.Content)
		}
		if msg.ParticipantID != p.ID {
			t.Errorf("message %d references participant %d, want %d", msg.ID, msg.ParticipantID, p.ID)
		}
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetProfile(ctx, "auth-user-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	profile := &store.Profile{AuthUserID: "auth-user-1", DisplayName: "Alice", Email: "alice@example.com"}
	if err := s.SaveProfile(ctx, profile); err != nil {
		t.Fatalf("failed to save profile: %v", err)
	}

	got, err := s.GetProfile(ctx, "auth-user-1")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if got.DisplayName != "Alice" || got.Email != "alice@example.com" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	// Save is an upsert.
	profile.DisplayName = "Alice L."
	if err := s.SaveProfile(ctx, profile); err != nil {
		t.Fatalf("failed to update profile: %v", err)
	}
	got, err = s.GetProfile(ctx, "auth-user-1")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if got.DisplayName != "Alice L." {
		t.Fatalf("expected updated display name, got %q", got.DisplayName)
	}
}
