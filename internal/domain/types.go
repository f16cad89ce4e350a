// Package domain defines the shared data model of the conversation core:
// messages, reactions, thread summaries, and the error taxonomy used
// across storage, presence, and the gateway.
package domain

import "time"

// Thread kinds.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Message lifecycle statuses. Deleted is terminal.
const (
	StatusSent    = "sent"
	StatusEdited  = "edited"
	StatusSeen    = "seen"
	StatusDeleted = "deleted"
)

// Message is the display-safe projection of a stored message. The body is
// ciphertext at rest; this struct only ever carries plaintext (or an empty
// body with Unreadable set when decryption failed).
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	SenderID    string       `json:"sender_id"`
	RecipientID string       `json:"recipient_id,omitempty"` // private messages only
	Kind        string       `json:"kind"`                   // private | group
	Body        string       `json:"body"`
	Status      string       `json:"status"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Unreadable  bool         `json:"unreadable,omitempty"` // body present but failed decryption
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Reaction is a single (user, emoji) pair on a message. The pair is unique
// per message.
type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment references an uploaded file by URL. Upload and URL signing
// live outside this core; messages only carry the reference.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ThreadSummary is one row of a user's thread listing: the thread identity,
// the most recent non-deleted message, and that user's unread count.
type ThreadSummary struct {
	ThreadID    string   `json:"thread_id"`
	Kind        string   `json:"kind"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int64    `json:"unread_count"`
}

// Presence states.
const (
	PresenceOnline   = "online"
	PresenceInactive = "inactive"
	PresenceOffline  = "offline"
)
