package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-duochat/internal/config"
	"github.com/npezzotti/go-duochat/internal/conversation"
	"github.com/npezzotti/go-duochat/internal/database"
	"github.com/npezzotti/go-duochat/internal/identity"
	"github.com/npezzotti/go-duochat/internal/prefs"
	"github.com/npezzotti/go-duochat/internal/server"
	"github.com/npezzotti/go-duochat/internal/stats"
)

type GoChatApp struct {
	log            *log.Logger
	db             database.ChatRepository
	ids            identity.Provider
	prefs          prefs.Store
	stats          stats.StatsProvider
	mux            *http.Server
	cs             *server.ChatServer
	composer       *conversation.Composer
	signingKey     []byte
	allowedOrigins []string
	dwell          time.Duration
}

func NewGoChatApp(
	mux *http.ServeMux,
	logger *log.Logger,
	cs *server.ChatServer,
	db database.ChatRepository,
	ids identity.Provider,
	ps prefs.Store,
	su stats.StatsProvider,
	cfg *config.Config,
) *GoChatApp {
	s := &GoChatApp{
		log:            logger,
		db:             db,
		ids:            ids,
		prefs:          ps,
		stats:          su,
		cs:             cs,
		composer:       conversation.NewComposer(db),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		dwell:          cfg.Dwell,
	}

	mux.HandleFunc("POST /api/auth/signup", s.signUp)
	mux.HandleFunc("POST /api/auth/signin", s.signIn)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/signout", s.authMiddleware(s.signOut))
	mux.HandleFunc("GET /api/users", s.authMiddleware(s.listUsers))
	mux.HandleFunc("GET /api/users/{id}", s.authMiddleware(s.getUser))
	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.HandleFunc("GET /api/conversations/{partnerId}/messages", s.authMiddleware(s.listMessages))
	mux.HandleFunc("POST /api/conversations/{partnerId}/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("POST /api/conversations/{partnerId}/read", s.authMiddleware(s.markRead))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthCheck)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
