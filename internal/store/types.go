package store

import (
	"errors"

	"github.com/pairmsg/pairmsg/internal/codec"
)

// ErrNotFound is returned when no record exists at the requested key.
var ErrNotFound = errors.New("store: not found")

// Topic prefixes for change events published on the bus. The payload is
// the user key (index) or conversation id (log) that changed.
const (
	TopicIndexChanged = "index.changed"
	TopicLogChanged   = "log.changed"
)

// LatestMessage summarizes the newest message of a conversation inside a
// conversation summary. It is always overwritten wholesale on send, never
// merged field by field.
type LatestMessage struct {
	Date    string `json:"date"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
}

// ConversationSummary is one participant's view of a conversation. The
// two participants hold divergent copies sharing the same ID.
type ConversationSummary struct {
	ID            string        `json:"id"`
	OtherUserKey  string        `json:"other_user_key"`
	Name          string        `json:"name"`
	LatestMessage LatestMessage `json:"latest_message"`
}

// Mailbox is a user's denormalized record: profile fields plus their
// conversation index.
type Mailbox struct {
	UserKey       string
	FirstName     string
	LastName      string
	Conversations []ConversationSummary
}

// MessageRecord is the immutable flattened form of one message as it sits
// in a conversation log.
type MessageRecord struct {
	ID         string
	Type       codec.Kind
	Content    string
	Date       string
	SenderKey  string
	SenderName string
	IsRead     bool
}

// Message is a decoded message ready for rendering.
type Message struct {
	ID         string
	Content    codec.Content
	Date       string
	SenderKey  string
	SenderName string
	IsRead     bool
}

// User is a directory entry used for new-conversation search.
type User struct {
	Name  string
	Email string
}

// OutboxEntry is a queued outgoing message awaiting the background
// sender.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	OtherUserKey   string
	DisplayName    string
	MsgType        codec.Kind
	Content        string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
}
