// Package gateway exposes the engine over HTTP, with WebSocket watch
// endpoints that re-deliver the full snapshot on every underlying
// change.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pairmsg/pairmsg/internal/engine"
	"github.com/pairmsg/pairmsg/internal/identity"
	"github.com/pairmsg/pairmsg/internal/media"
	"github.com/pairmsg/pairmsg/internal/store"
)

// Server is the daemon's HTTP surface.
type Server struct {
	engine   *engine.Engine
	db       *store.DB
	uploader *media.Uploader // nil when media uploads are not configured
	sess     identity.Session
	logger   *zap.Logger
	http     *http.Server
}

// New builds a server listening on addr.
func New(addr string, eng *engine.Engine, db *store.DB, uploader *media.Uploader, sess identity.Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   eng,
		db:       db,
		uploader: uploader,
		sess:     sess,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("GET /api/users/search", s.handleSearchUsers)
	mux.HandleFunc("GET /api/users/exists", s.handleUserExists)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /api/outbox", s.handleQueueMessage)
	mux.HandleFunc("POST /api/media/photos", s.handleUploadPhoto)
	mux.HandleFunc("POST /api/media/videos", s.handleUploadVideo)
	mux.HandleFunc("GET /ws/conversations", s.handleWatchConversations)
	mux.HandleFunc("GET /ws/conversations/{id}/messages", s.handleWatchMessages)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
