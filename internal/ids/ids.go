// Package ids mints conversation and message identifiers.
package ids

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationPrefix is the fixed prefix of every conversation id.
const ConversationPrefix = "conversation_"

// NewMessageID builds an identifier for an outgoing message between two
// derived user keys. The timestamp is rendered in UTC RFC3339 so the id is
// stable across process locales; the uuid fragment keeps two sends within
// the same second from colliding.
func NewMessageID(currentUserKey, otherUserKey string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s",
		otherUserKey,
		currentUserKey,
		now.UTC().Format(time.RFC3339),
		uuid.NewString()[:8])
}

// NewConversationID derives the conversation id from the id of the
// conversation's first message. Pure: same input, same output.
func NewConversationID(firstMessageID string) string {
	return ConversationPrefix + firstMessageID
}
