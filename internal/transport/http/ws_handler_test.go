package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dialRoom(t *testing.T, ctx context.Context, baseURL, slug string, init Inbound) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws/rooms/" + slug
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })

	init.Type = InboundInit
	if err := wsjson.Write(ctx, conn, init); err != nil {
		t.Fatalf("failed to write init: %v", err)
	}
	return conn
}

// readUntil reads outbound frames until one of the wanted type arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, frameType string) Outbound {
	t.Helper()
	for {
		var out Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read failed while waiting for %q frame: %v", frameType, err)
		}
		if out.Type == frameType {
			return out
		}
	}
}

func TestWebSocketUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/rooms/ghost")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Error != "room not found" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestWebSocketRoomSession(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := ts.chat.CreateRoom(ctx, "general"); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	srv := httptest.NewServer(ts.server.Handler)
	defer srv.Close()

	conn := dialRoom(t, ctx, srv.URL, "general", Inbound{})

	joined := readUntil(t, ctx, conn, OutboundJoined)
	if joined.Room == nil || joined.Room.Name != "general" {
		t.Fatalf("unexpected joined frame: %+v", joined)
	}
	if joined.Identity == nil || !strings.HasPrefix(joined.Identity.AnonymousName, "Guest-") {
		t.Fatalf("expected a bound anonymous identity, got %+v", joined.Identity)
	}

	presence := readUntil(t, ctx, conn, OutboundPresence)
	if len(presence.Users) != 1 || !presence.IsAdmin {
		t.Fatalf("expected self as admin occupant, got %+v", presence)
	}

	if err := wsjson.Write(ctx, conn, Inbound{Type: InboundMessage, Content: "hello"}); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
	msg := readUntil(t, ctx, conn, OutboundMessage)
	if msg.Message == nil || msg.Message.Content != "hello" || msg.Message.DisplayName != joined.Identity.AnonymousName {
		t.Fatalf("unexpected message frame: %+v", msg.Message)
	}
}

func TestWebSocketKickFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := ts.chat.CreateRoom(ctx, "general"); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	srv := httptest.NewServer(ts.server.Handler)
	defer srv.Close()

	admin := dialRoom(t, ctx, srv.URL, "general", Inbound{})
	adminJoined := readUntil(t, ctx, admin, OutboundJoined)

	guest := dialRoom(t, ctx, srv.URL, "general", Inbound{})
	readUntil(t, ctx, guest, OutboundJoined)

	// Wait until the admin sees both occupants, then pick the non-admin.
	var targetID string
	for targetID == "" {
		presence := readUntil(t, ctx, admin, OutboundPresence)
		if len(presence.Users) != 2 {
			continue
		}
		for _, u := range presence.Users {
			if !u.IsAdmin {
				targetID = u.ID
			}
		}
	}
	if targetID == adminJoined.Identity.AnonymousID {
		t.Fatalf("picked self as kick target")
	}

	// A guest cannot kick.
	if err := wsjson.Write(ctx, guest, Inbound{Type: InboundKick, TargetID: targetID}); err != nil {
		t.Fatalf("failed to write kick: %v", err)
	}
	if out := readUntil(t, ctx, guest, OutboundError); out.Error != "not authorized" {
		t.Fatalf("expected authorization error, got %+v", out)
	}

	// The admin kick reaches only the target.
	if err := wsjson.Write(ctx, admin, Inbound{Type: InboundKick, TargetID: targetID}); err != nil {
		t.Fatalf("failed to write kick: %v", err)
	}
	readUntil(t, ctx, guest, OutboundKicked)

	// The admin sees the room shrink back to one occupant.
	for {
		presence := readUntil(t, ctx, admin, OutboundPresence)
		if len(presence.Users) == 1 {
			break
		}
	}
}
