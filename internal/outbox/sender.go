// Package outbox drains queued outgoing messages through the engine in
// the background. Queueing and sending are decoupled so callers get an
// immediate accept and failures stay visible per entry; the core engine
// itself never retries.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pairmsg/pairmsg/internal/codec"
	"github.com/pairmsg/pairmsg/internal/engine"
	"github.com/pairmsg/pairmsg/internal/identity"
	"github.com/pairmsg/pairmsg/internal/store"
)

const (
	pollInterval   = 500 * time.Millisecond
	maxConcurrency = 4
)

// Sender polls the outbox table and pushes pending entries through the
// engine.
type Sender struct {
	db     *store.DB
	engine *engine.Engine
	sess   identity.Session
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a sender that authors messages as sess.
func NewSender(db *store.DB, eng *engine.Engine, sess identity.Session, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{db: db, engine: eng, sess: sess, logger: logger}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending drains the current queue with bounded concurrency.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, entry := range pending {
		g.Go(func() error {
			s.send(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sender) send(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	content, err := codec.Decode(entry.MsgType, entry.Content)
	if err != nil {
		s.logger.Error("undecodable outbox entry", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		return
	}

	receipt, err := s.engine.SendMessage(ctx, s.sess, entry.ConversationID, entry.OtherUserKey, entry.DisplayName, engine.Outgoing{
		ID:      entry.ClientMsgID,
		Content: content,
		Date:    time.Now(),
	})
	if err != nil {
		s.logger.Error("failed to send queued message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		return
	}

	// The log append succeeded; a lagging index is eventual-consistency
	// territory, not a send failure.
	if !receipt.Ok() {
		s.logger.Warn("index update incomplete for queued message",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.NamedError("sender_index", receipt.SenderIndex),
			zap.NamedError("recipient_index", receipt.RecipientIndex))
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}
	s.logger.Info("queued message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("conversation_id", entry.ConversationID))
}
