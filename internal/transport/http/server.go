package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomcast/internal/auth"
	"github.com/vovakirdan/roomcast/internal/chat"
	"github.com/vovakirdan/roomcast/internal/config"
	"github.com/vovakirdan/roomcast/internal/identity"
	"github.com/vovakirdan/roomcast/internal/realtime"
	"github.com/vovakirdan/roomcast/internal/session"
	"github.com/vovakirdan/roomcast/internal/store"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Auth     *auth.Service
	Chat     *chat.Service
	Store    store.Store
	PubSub   realtime.Service
	Resolver *identity.Resolver

	// AnonStorage builds the durable storage for a client device id. May be
	// nil or return nil, in which case the identity only lives as long as
	// the connection.
	AnonStorage func(clientID string) session.Storage
}

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), LoggerMiddleware(logger))

	engine.GET("/health", healthHandler)

	authHandlers := NewAuthHandlers(deps.Auth, logger)
	roomHandlers := NewRoomHandlers(deps.Chat, logger)

	api := engine.Group("/api")
	{
		api.POST("/auth/register", authHandlers.Register)
		api.POST("/auth/login", authHandlers.Login)

		api.GET("/search", roomHandlers.SearchRooms)
		api.POST("/rooms", roomHandlers.CreateRoom)
		api.GET("/rooms/:slug", roomHandlers.GetRoom)
		api.POST("/rooms/:slug/messages", OptionalAuthMiddleware(deps.Auth, logger), roomHandlers.PostMessage)
	}

	// The websocket route lives on the raw mux: Accept must hijack the
	// connection, which gin's wrapped response writer does not allow.
	mux := stdhttp.NewServeMux()
	mux.Handle("GET /ws/rooms/{slug}", NewWSHandler(deps, logger))
	mux.Handle("/", engine)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
