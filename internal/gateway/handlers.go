package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pairmsg/pairmsg/internal/codec"
	"github.com/pairmsg/pairmsg/internal/engine"
	"github.com/pairmsg/pairmsg/internal/identity"
	"github.com/pairmsg/pairmsg/internal/store"
)

// messageDTO is the wire form of a decoded message; content is flattened
// through the codec so the wire format matches the storage record.
type messageDTO struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Date      string `json:"date"`
	SenderKey string `json:"sender_key"`
	Name      string `json:"name"`
	IsRead    bool   `json:"is_read"`
}

type contentPayload struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type sendRequest struct {
	OtherUserEmail string         `json:"other_user_email"`
	Name           string         `json:"name"`
	Message        contentPayload `json:"message"`
}

func toMessageDTO(m store.Message) messageDTO {
	tag, flat := codec.Encode(m.Content)
	return messageDTO{
		ID:        m.ID,
		Type:      string(tag),
		Content:   flat,
		Date:      m.Date,
		SenderKey: m.SenderKey,
		Name:      m.SenderName,
		IsRead:    m.IsRead,
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RegisterAccount(r.Context(), s.sess); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]string{"user_key": s.sess.UserKey()})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	users, err := s.db.SearchUsers(q, 20)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	type userDTO struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO{Name: u.Name, Email: u.Email})
	}
	s.ok(w, out)
}

func (s *Server) handleUserExists(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "missing email parameter", http.StatusBadRequest)
		return
	}
	exists, err := s.db.UserExists(email)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]bool{"exists": exists})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListConversations(r.Context(), s.sess.UserKey())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	// A user who has never written anything simply has no conversations.
	if list == nil {
		list = []store.ConversationSummary{}
	}
	s.ok(w, list)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	content, err := codec.Decode(codec.Kind(req.Message.Type), req.Message.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	otherKey := identity.DeriveKey(req.OtherUserEmail)
	now := time.Now()
	out := engine.Outgoing{
		ID:      s.engine.NewMessageID(s.sess, otherKey, now),
		Content: content,
		Date:    now,
	}
	convID, err := s.engine.CreateConversation(r.Context(), s.sess, otherKey, req.Name, out)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]string{"conversation_id": convID, "message_id": out.ID})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	err := s.engine.DeleteConversation(r.Context(), s.sess, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.ok(w, map[string]bool{"deleted": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.engine.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	s.ok(w, out)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	content, err := codec.Decode(codec.Kind(req.Message.Type), req.Message.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	otherKey := identity.DeriveKey(req.OtherUserEmail)
	now := time.Now()
	out := engine.Outgoing{
		ID:      s.engine.NewMessageID(s.sess, otherKey, now),
		Content: content,
		Date:    now,
	}
	receipt, err := s.engine.SendMessage(r.Context(), s.sess, r.PathValue("id"), otherKey, req.Name, out)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	// The two index completions are reported independently, matching the
	// engine's partial-failure semantics.
	resp := map[string]any{
		"message_id":         out.ID,
		"sender_index_ok":    receipt.SenderIndex == nil,
		"recipient_index_ok": receipt.RecipientIndex == nil,
	}
	if receipt.SenderIndex != nil {
		resp["sender_index_error"] = receipt.SenderIndex.Error()
	}
	if receipt.RecipientIndex != nil {
		resp["recipient_index_error"] = receipt.RecipientIndex.Error()
	}
	s.ok(w, resp)
}

func (s *Server) handleQueueMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string         `json:"conversation_id"`
		OtherUserEmail string         `json:"other_user_email"`
		Name           string         `json:"name"`
		Message        contentPayload `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// Validate the payload up front; the background sender decodes it
	// again when draining.
	if _, err := codec.Decode(codec.Kind(req.Message.Type), req.Message.Content); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	otherKey := identity.DeriveKey(req.OtherUserEmail)
	clientMsgID := s.engine.NewMessageID(s.sess, otherKey, time.Now())
	if err := s.db.QueueOutbox(&store.OutboxEntry{
		ClientMsgID:    clientMsgID,
		ConversationID: req.ConversationID,
		OtherUserKey:   otherKey,
		DisplayName:    req.Name,
		MsgType:        codec.Kind(req.Message.Type),
		Content:        req.Message.Content,
	}); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"client_msg_id": clientMsgID})
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	s.upload(w, r, true)
}

func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	s.upload(w, r, false)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, photo bool) {
	if s.uploader == nil {
		http.Error(w, "media uploads not configured", http.StatusServiceUnavailable)
		return
	}
	messageID := r.URL.Query().Get("message_id")
	if messageID == "" {
		http.Error(w, "missing message_id parameter", http.StatusBadRequest)
		return
	}

	var url string
	var err error
	if photo {
		url, err = s.uploader.UploadMessagePhoto(r.Context(), messageID, r.Body, r.ContentLength)
	} else {
		url, err = s.uploader.UploadMessageVideo(r.Context(), messageID, r.Body, r.ContentLength)
	}
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.ok(w, map[string]string{"url": url})
}

func (s *Server) ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.logger.Error("request failed", zap.Error(err))
	http.Error(w, err.Error(), status)
}
