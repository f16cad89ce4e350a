// Package message provides PostgreSQL-backed persistence and lifecycle for
// individual messages: send, edit, soft-delete, reactions, and read-state
// transitions. Bodies are encrypted at rest; every projection returned to
// callers carries plaintext (or an unreadable marker when decryption fails).
package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/loqui/social-core/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint hits.
const uniqueViolation = "23505"

// Codec encrypts and decrypts message bodies.
type Codec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Graph is the external social-graph collaborator. It owns the rule for
// whether two users may message each other; the store never re-implements it.
type Graph interface {
	CanMessage(ctx context.Context, senderID, recipientID string) (bool, error)
}

// Store persists messages and their reactions.
type Store struct {
	db    *sql.DB
	codec Codec
	graph Graph
}

// NewStore creates a message store over the given database handle.
func NewStore(db *sql.DB, codec Codec, graph Graph) *Store {
	return &Store{db: db, codec: codec, graph: graph}
}

// SendInput carries the fields of a send request after thread resolution.
type SendInput struct {
	Kind        string
	ThreadID    string
	SenderID    string
	RecipientID string // private messages only
	Body        string
	ReplyTo     string
	Attachments []domain.Attachment
}

// Send validates, encrypts, and persists a new message with status "sent",
// returning the display-safe projection. Private sends are checked against
// the social graph before anything is written.
func (s *Store) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	if err := ValidateBody(in.Body); err != nil {
		return nil, err
	}

	switch in.Kind {
	case domain.KindPrivate:
		if in.RecipientID == "" {
			return nil, fmt.Errorf("%w: private message requires a recipient", domain.ErrValidation)
		}
		if in.RecipientID == in.SenderID {
			return nil, fmt.Errorf("%w: sender and recipient must differ", domain.ErrValidation)
		}
		ok, err := s.graph.CanMessage(ctx, in.SenderID, in.RecipientID)
		if err != nil {
			return nil, fmt.Errorf("message: permission check: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: users cannot message each other", domain.ErrForbidden)
		}
	case domain.KindGroup:
		if in.RecipientID != "" {
			return nil, fmt.Errorf("%w: group message must not carry a recipient", domain.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown thread kind %q", domain.ErrValidation, in.Kind)
	}

	if in.ReplyTo != "" {
		var threadID string
		err := s.db.QueryRowContext(ctx,
			`SELECT thread_id FROM messages WHERE id = $1 AND status <> 'deleted'`,
			in.ReplyTo).Scan(&threadID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: reply target %s", domain.ErrNotFound, in.ReplyTo)
		}
		if err != nil {
			return nil, fmt.Errorf("message: reply lookup: %w", err)
		}
		if threadID != in.ThreadID {
			return nil, fmt.Errorf("%w: reply target is in a different thread", domain.ErrValidation)
		}
	}

	ciphertext, err := s.codec.Encrypt(in.Body)
	if err != nil {
		return nil, fmt.Errorf("message: encrypt: %w", err)
	}

	var attachmentsJSON []byte
	if len(in.Attachments) > 0 {
		attachmentsJSON, err = json.Marshal(in.Attachments)
		if err != nil {
			return nil, fmt.Errorf("message: marshal attachments: %w", err)
		}
	}

	msg := &domain.Message{
		ID:          uuid.New().String(),
		ThreadID:    in.ThreadID,
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		Kind:        in.Kind,
		Body:        in.Body,
		Status:      domain.StatusSent,
		ReplyTo:     in.ReplyTo,
		Attachments: in.Attachments,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, thread_id, sender_id, recipient_id, kind, body, status, reply_to, attachments)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, 'sent', NULLIF($7, '')::uuid, $8)
		RETURNING created_at, updated_at`,
		msg.ID, msg.ThreadID, msg.SenderID, msg.RecipientID, msg.Kind,
		ciphertext, msg.ReplyTo, attachmentsJSON,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}
	return msg, nil
}

// Edit replaces a message body. Only the original sender may edit; deleted
// messages cannot be edited. The update is a single conditional statement so
// two concurrent edits cannot interleave body and status.
func (s *Store) Edit(ctx context.Context, messageID, requesterID, newBody string) (*domain.Message, error) {
	if err := ValidateBody(newBody); err != nil {
		return nil, err
	}
	ciphertext, err := s.codec.Encrypt(newBody)
	if err != nil {
		return nil, fmt.Errorf("message: encrypt: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET body = $1, status = 'edited', updated_at = NOW()
		WHERE id = $2 AND sender_id = $3 AND status <> 'deleted'
		RETURNING id, thread_id, sender_id, recipient_id, kind, body, status, reply_to, attachments, created_at, updated_at`,
		ciphertext, messageID, requesterID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, messageID, requesterID)
	}
	if err != nil {
		return nil, fmt.Errorf("message: edit: %w", err)
	}
	msg.Body = newBody
	return msg, nil
}

// SoftDelete marks a message deleted and clears its displayable body. The
// row remains for audit and counting. Deleting an already-deleted message
// is idempotent for the original sender; anyone else is rejected.
func (s *Store) SoftDelete(ctx context.Context, messageID, requesterID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'deleted', body = '', updated_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND status <> 'deleted'`,
		messageID, requesterID)
	if err != nil {
		return fmt.Errorf("message: soft delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var senderID, status string
	err = s.db.QueryRowContext(ctx,
		`SELECT sender_id, status FROM messages WHERE id = $1`, messageID,
	).Scan(&senderID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	if err != nil {
		return fmt.Errorf("message: soft delete lookup: %w", err)
	}
	if senderID != requesterID {
		return fmt.Errorf("%w: only the sender may delete a message", domain.ErrForbidden)
	}
	// Already deleted by the same requester: idempotent success.
	return nil
}

// AddReaction records a (user, emoji) pair on a live message. The insert is
// conditional on the parent row so a racing delete cannot orphan the
// reaction; a duplicate pair fails with ErrConflict.
func (s *Store) AddReaction(ctx context.Context, messageID, userID, emoji string) (*domain.Reaction, error) {
	if err := ValidateEmoji(emoji); err != nil {
		return nil, err
	}

	reaction := &domain.Reaction{UserID: userID, Emoji: emoji}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji)
		SELECT m.id, $2, $3 FROM messages m WHERE m.id = $1 AND m.status <> 'deleted'
		RETURNING created_at`,
		messageID, userID, emoji,
	).Scan(&reaction.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return nil, fmt.Errorf("%w: reaction %q already recorded", domain.ErrConflict, emoji)
	}
	if err != nil {
		return nil, fmt.Errorf("message: add reaction: %w", err)
	}
	return reaction, nil
}

// RemoveReaction removes a (user, emoji) pair. Removing a pair that does
// not exist is a no-op, not an error.
func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions
		WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("message: remove reaction: %w", err)
	}
	return nil
}

// readPredicate selects the messages in a thread addressed to a user that
// have not yet been seen or deleted. MarkRead and UnreadCount share it so
// the counter can never disagree with stored message state.
const readPredicate = `
	thread_id = $1
	AND status NOT IN ('seen', 'deleted')
	AND ((kind = 'private' AND recipient_id = $2)
	  OR (kind = 'group' AND sender_id <> $2))`

// MarkRead atomically transitions every eligible message in the thread to
// "seen" and returns the number changed. A second call in a row changes
// zero rows.
func (s *Store) MarkRead(ctx context.Context, threadID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = 'seen', updated_at = NOW()
		WHERE `+readPredicate,
		threadID, userID)
	if err != nil {
		return 0, fmt.Errorf("message: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message: mark read rows: %w", err)
	}
	return n, nil
}

// UnreadCount returns the number of persisted, non-deleted messages in the
// thread addressed to the user with status not yet "seen".
func (s *Store) UnreadCount(ctx context.Context, threadID, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE `+readPredicate,
		threadID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("message: unread count: %w", err)
	}
	return n, nil
}

// Get returns a single message projection with its reactions attached.
// Deleted messages are returned with an empty body so callers can render
// tombstones; a decryption failure yields the row with the unreadable
// marker rather than omitting it.
func (s *Store) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, sender_id, recipient_id, kind, body, status, reply_to, attachments, created_at, updated_at
		FROM messages WHERE id = $1`,
		messageID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("message: get: %w", err)
	}

	s.DecryptBody(msg)

	reactions, err := s.ReactionsFor(ctx, []string{messageID})
	if err != nil {
		return nil, err
	}
	msg.Reactions = reactions[messageID]
	return msg, nil
}

// ReactionsFor loads the reactions of the given messages keyed by message id.
func (s *Store) ReactionsFor(ctx context.Context, messageIDs []string) (map[string][]domain.Reaction, error) {
	if len(messageIDs) == 0 {
		return map[string][]domain.Reaction{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ANY($1)
		ORDER BY created_at`,
		pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("message: load reactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Reaction)
	for rows.Next() {
		var id string
		var r domain.Reaction
		if err := rows.Scan(&id, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan reaction: %w", err)
		}
		out[id] = append(out[id], r)
	}
	return out, rows.Err()
}

// DecryptBody replaces the stored ciphertext on a scanned message with
// plaintext. Deleted messages keep their cleared body. A failed decryption
// marks the message unreadable instead of dropping it, so history counts
// stay intact.
func (s *Store) DecryptBody(msg *domain.Message) {
	if msg.Status == domain.StatusDeleted || msg.Body == "" {
		msg.Body = ""
		return
	}
	plaintext, err := s.codec.Decrypt(msg.Body)
	if err != nil {
		log.Printf("[message] decrypt failed id=%s: %v", msg.ID, err)
		msg.Body = ""
		msg.Unreadable = true
		return
	}
	msg.Body = plaintext
}

// classifyMiss turns a zero-row conditional edit into the right domain
// error: missing or deleted rows are not found, everything else is an
// ownership violation.
func (s *Store) classifyMiss(ctx context.Context, messageID, requesterID string) error {
	var senderID, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT sender_id, status FROM messages WHERE id = $1`, messageID,
	).Scan(&senderID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	if err != nil {
		return fmt.Errorf("message: lookup: %w", err)
	}
	if status == domain.StatusDeleted {
		return fmt.Errorf("%w: message %s is deleted", domain.ErrNotFound, messageID)
	}
	if senderID != requesterID {
		return fmt.Errorf("%w: only the sender may edit a message", domain.ErrForbidden)
	}
	return fmt.Errorf("message: conditional update matched no rows for %s", messageID)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage reads one message row in the canonical column order. The
// body is returned as stored (ciphertext); callers decrypt via DecryptBody.
func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg             domain.Message
		recipient       sql.NullString
		replyTo         sql.NullString
		attachmentsJSON []byte
		createdAt       time.Time
		updatedAt       time.Time
	)
	err := row.Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &recipient, &msg.Kind,
		&msg.Body, &msg.Status, &replyTo, &attachmentsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	msg.RecipientID = recipient.String
	msg.ReplyTo = replyTo.String
	msg.CreatedAt = createdAt
	msg.UpdatedAt = updatedAt
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}
