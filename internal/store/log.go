package store

import (
	"fmt"
	"time"

	"github.com/pairmsg/pairmsg/internal/bus"
	"github.com/pairmsg/pairmsg/internal/codec"
)

// AppendMessage appends a record to the ordered log for conversationID,
// creating the log on first append. A single INSERT is atomic, so
// concurrent appends to the same conversation serialize in the storage
// layer and none are lost.
func (db *DB) AppendMessage(conversationID string, rec MessageRecord) error {
	_, err := db.Exec(`
		INSERT INTO conversation_messages
			(conversation_id, msg_id, msg_type, content, date, sender_key, sender_name, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, rec.ID, string(rec.Type), rec.Content, rec.Date,
		rec.SenderKey, rec.SenderName, rec.IsRead, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	db.bus.Publish(bus.Event{Topic: TopicLogChanged, Payload: conversationID})
	return nil
}

// ReadMessages loads the full log for conversationID in creation order,
// decoding each record's content. Records that fail to decode are
// silently dropped: availability over completeness. An unknown
// conversation yields an empty log.
func (db *DB) ReadMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, msg_type, content, date, sender_key, sender_name, is_read
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var rec MessageRecord
		var typ string
		if err := rows.Scan(&rec.ID, &typ, &rec.Content, &rec.Date, &rec.SenderKey, &rec.SenderName, &rec.IsRead); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		content, err := codec.Decode(codec.Kind(typ), rec.Content)
		if err != nil {
			continue
		}
		msgs = append(msgs, Message{
			ID:         rec.ID,
			Content:    content,
			Date:       rec.Date,
			SenderKey:  rec.SenderKey,
			SenderName: rec.SenderName,
			IsRead:     rec.IsRead,
		})
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of stored records for a conversation,
// including ones that would be dropped on decode.
func (db *DB) MessageCount(conversationID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = ?`,
		conversationID).Scan(&count)
	return count, err
}
