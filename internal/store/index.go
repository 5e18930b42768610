package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pairmsg/pairmsg/internal/bus"
)

// The conversation index has exactly one update primitive: read the whole
// JSON list, mutate it in memory, write the whole list back. A per-user-key
// lock serializes those cycles so two concurrent updates to the same
// mailbox cannot clobber each other; updates to different mailboxes run in
// parallel.

// ReadConversations returns the conversation summaries for userKey in
// stored (append) order. Entries that fail to decode are dropped rather
// than failing the whole read. ErrNotFound if the mailbox does not exist.
func (db *DB) ReadConversations(userKey string) ([]ConversationSummary, error) {
	var raw string
	err := db.QueryRow(`SELECT conversations FROM mailboxes WHERE user_key = ?`, userKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mailbox %q: %w", userKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}
	return decodeSummaryList(raw), nil
}

// UpsertSummary replaces the summary whose ID matches summary.ID (first
// match by position) or appends it, then writes the whole list back. A
// missing mailbox is created on the fly so a recipient who has never
// written anything still receives index updates.
func (db *DB) UpsertSummary(userKey string, summary ConversationSummary) error {
	unlock := db.locks.Lock(userKey)
	defer unlock()

	list, exists, err := db.loadSummaryList(userKey)
	if err != nil {
		return err
	}

	replaced := false
	for i := range list {
		if list[i].ID == summary.ID {
			list[i] = summary
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, summary)
	}

	if err := db.writeSummaryList(userKey, list, exists); err != nil {
		return err
	}
	db.bus.Publish(bus.Event{Topic: TopicIndexChanged, Payload: userKey})
	return nil
}

// RemoveSummary deletes the summary with the given conversation id from
// userKey's index. A missing mailbox or a list without the id is a
// reported ErrNotFound, never a positional delete.
func (db *DB) RemoveSummary(userKey, conversationID string) error {
	unlock := db.locks.Lock(userKey)
	defer unlock()

	list, exists, err := db.loadSummaryList(userKey)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("mailbox %q: %w", userKey, ErrNotFound)
	}

	idx := -1
	for i := range list {
		if list[i].ID == conversationID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("conversation %q in mailbox %q: %w", conversationID, userKey, ErrNotFound)
	}
	list = append(list[:idx], list[idx+1:]...)

	if err := db.writeSummaryList(userKey, list, true); err != nil {
		return err
	}
	db.bus.Publish(bus.Event{Topic: TopicIndexChanged, Payload: userKey})
	return nil
}

// UpdateLatest overwrites the latest-message summary of the conversation
// with the given id in userKey's index, leaving the counterpart and
// display name untouched. If no summary matches, fallback (which carries
// the counterpart identity for this side) is appended with latest set.
// The whole cycle runs under the user's key lock.
func (db *DB) UpdateLatest(userKey, conversationID string, latest LatestMessage, fallback ConversationSummary) error {
	unlock := db.locks.Lock(userKey)
	defer unlock()

	list, exists, err := db.loadSummaryList(userKey)
	if err != nil {
		return err
	}

	found := false
	for i := range list {
		if list[i].ID == conversationID {
			list[i].LatestMessage = latest
			found = true
			break
		}
	}
	if !found {
		fallback.ID = conversationID
		fallback.LatestMessage = latest
		list = append(list, fallback)
	}

	if err := db.writeSummaryList(userKey, list, exists); err != nil {
		return err
	}
	db.bus.Publish(bus.Event{Topic: TopicIndexChanged, Payload: userKey})
	return nil
}

// loadSummaryList reads the current list under the caller-held key lock.
// exists reports whether the mailbox row is present.
func (db *DB) loadSummaryList(userKey string) ([]ConversationSummary, bool, error) {
	var raw string
	err := db.QueryRow(`SELECT conversations FROM mailboxes WHERE user_key = ?`, userKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load summary list: %w", err)
	}
	return decodeSummaryList(raw), true, nil
}

func (db *DB) writeSummaryList(userKey string, list []ConversationSummary, exists bool) error {
	if list == nil {
		list = []ConversationSummary{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal summary list: %w", err)
	}

	now := time.Now().UnixMilli()
	if exists {
		_, err = db.Exec(`UPDATE mailboxes SET conversations = ?, updated_at = ? WHERE user_key = ?`,
			string(raw), now, userKey)
	} else {
		_, err = db.Exec(`
			INSERT INTO mailboxes (user_key, conversations, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_key) DO UPDATE SET
				conversations = excluded.conversations,
				updated_at = excluded.updated_at`,
			userKey, string(raw), now)
	}
	if err != nil {
		return fmt.Errorf("write summary list: %w", err)
	}
	return nil
}

// decodeSummaryList unmarshals entry by entry so one malformed summary
// does not take the rest of the list down with it.
func decodeSummaryList(raw string) []ConversationSummary {
	var rough []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rough); err != nil {
		return nil
	}
	list := make([]ConversationSummary, 0, len(rough))
	for _, entry := range rough {
		var s ConversationSummary
		if err := json.Unmarshal(entry, &s); err != nil || s.ID == "" {
			continue
		}
		list = append(list, s)
	}
	return list
}
