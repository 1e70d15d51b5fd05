package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/roomcast/internal/auth"
	"github.com/vovakirdan/roomcast/internal/chat"
	"github.com/vovakirdan/roomcast/internal/config"
	"github.com/vovakirdan/roomcast/internal/identity"
	"github.com/vovakirdan/roomcast/internal/realtime"
	"github.com/vovakirdan/roomcast/internal/store/sqlite"
)

type testServer struct {
	server *http.Server
	auth   *auth.Service
	chat   *chat.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtConfig, &logger)
	broker := realtime.NewBroker(&logger)
	resolver := identity.NewResolver(st, &logger)
	chatService := chat.NewService(st, resolver, broker, 10, &logger)

	cfg := config.Default()
	cfg.Addr = ":0"

	server := NewServer(Deps{
		Auth:     authService,
		Chat:     chatService,
		Store:    st,
		PubSub:   broker,
		Resolver: resolver,
	}, &cfg, &logger)

	return &testServer{server: server, auth: authService, chat: chatService}
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	ts.server.Handler.ServeHTTP(resp, req)
	return resp
}

func TestCreateRoomAndDuplicate(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/rooms", `{"name":"general"}`, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var room RoomResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &room); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if room.Name != "general" || room.ID == 0 {
		t.Fatalf("unexpected room response: %+v", room)
	}

	resp = ts.do(t, http.MethodPost, "/api/rooms", `{"name":"general"}`, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestGetRoomWithHistory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	resp := ts.do(t, http.MethodGet, "/api/rooms/nowhere", "", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}

	room, err := ts.chat.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	if _, err := ts.chat.PostMessage(ctx, room.ID, "", "", "Guest-1", "first", nil); err != nil {
		t.Fatalf("failed to post message: %v", err)
	}
	if _, err := ts.chat.PostMessage(ctx, room.ID, "", "", "Guest-1", "second", nil); err != nil {
		t.Fatalf("failed to post message: %v", err)
	}

	resp = ts.do(t, http.MethodGet, "/api/rooms/general", "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var payload RoomWithHistoryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if payload.Room.Name != "general" {
		t.Fatalf("unexpected room: %+v", payload.Room)
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Content != "first" || payload.Messages[1].Content != "second" {
		t.Fatalf("expected history oldest first, got %+v", payload.Messages)
	}
}

func TestSearchRooms(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/search?q=general", "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var search SearchResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &search); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if search.Found {
		t.Fatalf("expected miss, got %+v", search)
	}

	if _, err := ts.chat.CreateRoom(context.Background(), "general"); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	resp = ts.do(t, http.MethodGet, "/api/search?q=general", "", "")
	if err := json.Unmarshal(resp.Body.Bytes(), &search); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !search.Found || search.Room == nil || search.Room.Name != "general" {
		t.Fatalf("expected hit, got %+v", search)
	}
}

func TestPostMessageIdentities(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if _, err := ts.chat.CreateRoom(ctx, "general"); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	// Anonymous post with a durable guest name.
	resp := ts.do(t, http.MethodPost, "/api/rooms/general/messages", `{"content":"hi","anonymous_name":"Guest-7"}`, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var msg MessageResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if msg.DisplayName != "Guest-7" {
		t.Fatalf("expected guest display name, got %+v", msg)
	}

	// Authenticated post carries the account display name.
	token, err := ts.auth.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	resp = ts.do(t, http.MethodPost, "/api/rooms/general/messages", `{"content":"hello"}`, token)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if msg.DisplayName != "alice" {
		t.Fatalf("expected account display name, got %+v", msg)
	}

	// Invalid token is rejected even though the route allows anonymous posts.
	resp = ts.do(t, http.MethodPost, "/api/rooms/general/messages", `{"content":"hello"}`, "garbage")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"password123"}`, "")
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var authResp AuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &authResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if authResp.Token == "" {
		t.Fatalf("expected token")
	}

	resp = ts.do(t, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"password123"}`, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	resp = ts.do(t, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`, "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}

	resp = ts.do(t, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"password123"}`, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}
