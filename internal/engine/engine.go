// Package engine orchestrates the denormalized fan-out of the messaging
// store: every send lands in the conversation log plus both participants'
// conversation indexes, each written independently.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairmsg/pairmsg/internal/codec"
	"github.com/pairmsg/pairmsg/internal/identity"
	"github.com/pairmsg/pairmsg/internal/ids"
	"github.com/pairmsg/pairmsg/internal/store"
)

// Engine composes the log and index stores into the conversation
// operations. It owns no state of its own; all consistency policy lives
// here.
type Engine struct {
	db     *store.DB
	logger *zap.Logger
}

// New creates an engine over db.
func New(db *store.DB, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, logger: logger}
}

// Outgoing is a locally authored message before flattening. The caller
// supplies the id; NewMessageID mints one.
type Outgoing struct {
	ID      string
	Content codec.Content
	Date    time.Time
}

// SendReceipt reports the two index-update completions of a send. They
// are independent: one side can fail while the other lands, and the
// recipient's index is allowed to lag (eventual consistency, no
// rollback).
type SendReceipt struct {
	SenderIndex    error
	RecipientIndex error
}

// Ok reports whether both index updates landed.
func (r *SendReceipt) Ok() bool {
	return r.SenderIndex == nil && r.RecipientIndex == nil
}

// NewMessageID mints an id for a message from the session's user to
// otherUserKey.
func (e *Engine) NewMessageID(sess identity.Session, otherUserKey string, now time.Time) string {
	return ids.NewMessageID(sess.UserKey(), otherUserKey, now)
}

// CreateConversation starts a new conversation with otherUserKey and
// records its first message. The recipient's index entry is written
// best-effort; the sender's index entry and the log append gate the
// operation. Earlier writes are not rolled back on a later failure.
func (e *Engine) CreateConversation(ctx context.Context, sess identity.Session, otherUserKey, name string, first Outgoing) (string, error) {
	if !sess.Valid() {
		return "", identity.ErrNoSession
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	conversationID := ids.NewConversationID(first.ID)
	tag, flat := codec.Encode(first.Content)
	date := first.Date.UTC().Format(time.RFC3339)
	latest := store.LatestMessage{Date: date, Message: flat, IsRead: false}

	// The two sides hold divergent summaries sharing one id: each names
	// the other as counterpart.
	recipientSummary := store.ConversationSummary{
		ID:            conversationID,
		OtherUserKey:  sess.UserKey(),
		Name:          sess.DisplayName,
		LatestMessage: latest,
	}
	senderSummary := store.ConversationSummary{
		ID:            conversationID,
		OtherUserKey:  otherUserKey,
		Name:          name,
		LatestMessage: latest,
	}

	if err := e.db.UpsertSummary(otherUserKey, recipientSummary); err != nil {
		// Best-effort: the recipient's view catches up on the next send.
		e.logger.Warn("recipient index write failed",
			zap.String("conversation_id", conversationID),
			zap.String("user_key", otherUserKey),
			zap.Error(err))
	}

	if err := e.db.UpsertSummary(sess.UserKey(), senderSummary); err != nil {
		return "", fmt.Errorf("sender index: %w", err)
	}

	if err := e.db.AppendMessage(conversationID, store.MessageRecord{
		ID:         first.ID,
		Type:       tag,
		Content:    flat,
		Date:       date,
		SenderKey:  sess.UserKey(),
		SenderName: sess.DisplayName,
		IsRead:     false,
	}); err != nil {
		return "", fmt.Errorf("append first message: %w", err)
	}

	e.logger.Info("conversation created",
		zap.String("conversation_id", conversationID),
		zap.String("other_user_key", otherUserKey))
	return conversationID, nil
}

// SendMessage appends msg to an existing conversation and refreshes the
// latest-message summary in both participants' indexes. The append gates
// the call; the two index updates run as independent tasks whose
// completions are both surfaced in the receipt.
func (e *Engine) SendMessage(ctx context.Context, sess identity.Session, conversationID, otherUserKey, name string, msg Outgoing) (*SendReceipt, error) {
	if !sess.Valid() {
		return nil, identity.ErrNoSession
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tag, flat := codec.Encode(msg.Content)
	date := msg.Date.UTC().Format(time.RFC3339)

	if err := e.db.AppendMessage(conversationID, store.MessageRecord{
		ID:         msg.ID,
		Type:       tag,
		Content:    flat,
		Date:       date,
		SenderKey:  sess.UserKey(),
		SenderName: sess.DisplayName,
		IsRead:     false,
	}); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	latest := store.LatestMessage{Date: date, Message: flat, IsRead: false}

	receipt := &SendReceipt{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		receipt.SenderIndex = e.db.UpdateLatest(sess.UserKey(), conversationID, latest, store.ConversationSummary{
			OtherUserKey: otherUserKey,
			Name:         name,
		})
	}()
	go func() {
		defer wg.Done()
		receipt.RecipientIndex = e.db.UpdateLatest(otherUserKey, conversationID, latest, store.ConversationSummary{
			OtherUserKey: sess.UserKey(),
			Name:         sess.DisplayName,
		})
	}()
	wg.Wait()

	if receipt.SenderIndex != nil {
		e.logger.Warn("sender index update failed",
			zap.String("conversation_id", conversationID), zap.Error(receipt.SenderIndex))
	}
	if receipt.RecipientIndex != nil {
		e.logger.Warn("recipient index update failed",
			zap.String("conversation_id", conversationID), zap.Error(receipt.RecipientIndex))
	}
	return receipt, nil
}

// DeleteConversation removes the conversation from the current user's
// index only. The log and the other participant's index keep the
// conversation; this mirrors a one-sided delete.
func (e *Engine) DeleteConversation(ctx context.Context, sess identity.Session, conversationID string) error {
	if !sess.Valid() {
		return identity.ErrNoSession
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.db.RemoveSummary(sess.UserKey(), conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ListConversations returns the current index snapshot for userKey.
func (e *Engine) ListConversations(ctx context.Context, userKey string) ([]store.ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.db.ReadConversations(userKey)
}

// ListMessages returns the decoded log snapshot for a conversation.
func (e *Engine) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.db.ReadMessages(conversationID)
}

// RegisterAccount creates the session user's mailbox and directory
// entry.
func (e *Engine) RegisterAccount(ctx context.Context, sess identity.Session) error {
	if !sess.Valid() {
		return identity.ErrNoSession
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.db.InsertUser(sess.UserKey(), sess.FirstName, sess.LastName, sess.Email)
}
