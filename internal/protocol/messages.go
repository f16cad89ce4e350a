// Package protocol defines the WebSocket event types and structures used
// between clients and the connection gateway. All events are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/loqui/social-core/internal/directory"
	"github.com/loqui/social-core/internal/domain"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeSendMessage    = "send_message"
	TypeEditMessage    = "edit_message"
	TypeDeleteMessage  = "delete_message"
	TypeAddReaction    = "add_reaction"
	TypeRemoveReaction = "remove_reaction"
	TypeMarkRead       = "mark_read"
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeTyping         = "typing"
	TypeStopTyping     = "stop_typing"
	TypeListThreads    = "list_threads"
	TypeGetMessages    = "get_messages"
	TypePing           = "ping"
)

// Server -> Client event types.
const (
	TypeReady           = "ready"
	TypeMessageNew      = "message_new"
	TypeMessageEdited   = "message_edited"
	TypeMessageDeleted  = "message_deleted"
	TypeReactionAdded   = "reaction_added"
	TypeReactionRemoved = "reaction_removed"
	TypeMessageRead     = "message_read"
	TypeUserOnline      = "user_online"
	TypeUserInactive    = "user_inactive"
	TypeUserOffline     = "user_offline"
	TypeThreadList      = "thread_list"
	TypeThreadHistory   = "thread_history"
	TypeError           = "error"
	TypePong            = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// SendMessageMsg creates a new message. For private threads RecipientID is
// required and GroupID must be empty; for group threads the reverse.
type SendMessageMsg struct {
	Type        string              `json:"type"`
	Kind        string              `json:"kind"` // private | group
	RecipientID string              `json:"recipient_id,omitempty"`
	GroupID     string              `json:"group_id,omitempty"`
	Body        string              `json:"body"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// EditMessageMsg replaces the body of an existing message.
type EditMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Body      string `json:"body"`
}

// DeleteMessageMsg soft-deletes a message.
type DeleteMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// ReactionMsg adds or removes a (user, emoji) reaction pair.
type ReactionMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MarkReadMsg marks all of the caller's unread messages in a thread seen.
type MarkReadMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

// RoomMsg joins or leaves a thread/group room.
type RoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// TypingMsg signals the start or end of typing in a thread. Typing is
// ephemeral: broadcast only, never persisted.
type TypingMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

// ListThreadsMsg requests one page of the caller's thread listing.
type ListThreadsMsg struct {
	Type string `json:"type"`
	Page int    `json:"page"`
}

// GetMessagesMsg requests one page of a thread's history.
type GetMessagesMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Page     int    `json:"page"`
}

// PingMsg is a client keepalive that doubles as a presence activity ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ReadyMsg confirms a successful handshake.
type ReadyMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// MessageEventMsg carries a full message projection for message_new and
// message_edited events. Sender display metadata is attached on
// message_new only; edits keep the projection lean.
type MessageEventMsg struct {
	Type    string             `json:"type"`
	Message *domain.Message    `json:"message"`
	Sender  *directory.Profile `json:"sender,omitempty"`
}

// MessageDeletedMsg announces a soft-deleted message.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
}

// ReactionEventMsg announces a reaction change.
type ReactionEventMsg struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// MessageReadMsg is the read receipt broadcast to a thread's room.
type MessageReadMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Count    int64  `json:"count"`
}

// PresenceMsg announces a user's presence transition.
type PresenceMsg struct {
	Type   string `json:"type"` // user_online | user_inactive | user_offline
	UserID string `json:"user_id"`
}

// TypingEventMsg relays a typing signal to the rest of a room.
type TypingEventMsg struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
}

// ThreadListMsg is one page of the caller's thread listing.
type ThreadListMsg struct {
	Type    string                 `json:"type"`
	Page    int                    `json:"page"`
	Threads []domain.ThreadSummary `json:"threads"`
}

// ThreadHistoryMsg is one chronological page of a thread's messages.
type ThreadHistoryMsg struct {
	Type     string            `json:"type"`
	ThreadID string            `json:"thread_id"`
	Page     int               `json:"page"`
	Messages []*domain.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// ErrorMsg is delivered only to the originating connection, never broadcast.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEditMessage:
		var m EditMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDeleteMessage:
		var m DeleteMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAddReaction, TypeRemoveReaction:
		var m ReactionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom, TypeLeaveRoom:
		var m RoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListThreads:
		var m ListThreadsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetMessages:
		var m GetMessagesMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key so struct
// literals do not need to repeat it.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
