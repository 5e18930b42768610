package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairmsg/pairmsg/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon binds to loopback; the browser shell connecting to it
	// runs on a file:// or app origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// snapshotEnvelope wraps each full-snapshot delivery pushed to a watch
// client.
type snapshotEnvelope struct {
	EventID    string `json:"event_id"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

// handleWatchConversations streams the session user's full conversation
// index on every change.
func (s *Server) handleWatchConversations(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cancel := s.db.SubscribeConversations(s.sess.UserKey(), func(list []store.ConversationSummary) {
		if list == nil {
			list = []store.ConversationSummary{}
		}
		s.push(conn, list)
	})
	s.drainUntilClose(conn, cancel)
}

// handleWatchMessages streams a conversation's full decoded log on every
// change.
func (s *Server) handleWatchMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cancel := s.db.SubscribeMessages(conversationID, func(msgs []store.Message) {
		out := make([]messageDTO, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, toMessageDTO(m))
		}
		s.push(conn, out)
	})
	s.drainUntilClose(conn, cancel)
}

// push writes one snapshot envelope. Writes happen only from the store
// watcher goroutine, so no write lock is needed.
func (s *Server) push(conn *websocket.Conn, payload any) {
	err := conn.WriteJSON(snapshotEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("websocket push failed", zap.Error(err))
	}
}

// drainUntilClose blocks reading control frames until the peer goes
// away, then tears the watch down.
func (s *Server) drainUntilClose(conn *websocket.Conn, cancel func()) {
	defer cancel()
	defer func() { _ = conn.Close() }()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
