// Package thread resolves canonical conversation identity and derives
// thread aggregates: listings with unread counts, and chronological
// message history. Threads are virtual — no thread row is created for
// groups, and private threads are only an identity record keyed on the
// unordered participant pair.
package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/loqui/social-core/internal/domain"
	"github.com/loqui/social-core/internal/message"
)

// DefaultPageSize bounds thread listings and history pages.
const DefaultPageSize = 50

// Resolver answers thread identity and listing queries.
type Resolver struct {
	db       *sql.DB
	msgs     *message.Store
	pageSize int
}

// NewResolver creates a Resolver. pageSize <= 0 selects the default.
func NewResolver(db *sql.DB, msgs *message.Store, pageSize int) *Resolver {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Resolver{db: db, msgs: msgs, pageSize: pageSize}
}

// OrderPair returns the two user ids in canonical (lo, hi) order so that
// both participants derive the same pair key without coordination.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ResolveGroup returns the canonical thread id for a group conversation,
// which is the group's own external identifier.
func (r *Resolver) ResolveGroup(groupID string) (string, error) {
	if groupID == "" {
		return "", fmt.Errorf("%w: group id is required", domain.ErrValidation)
	}
	return groupID, nil
}

// ResolvePrivate returns the canonical thread id for a private pair,
// creating the identity record if it does not exist yet. The
// lookup-or-create is a single statement keyed on the unordered pair with
// a uniqueness constraint, so two users starting the conversation from
// opposite ends converge on one thread without a race.
func (r *Resolver) ResolvePrivate(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", fmt.Errorf("%w: both participants are required", domain.ErrValidation)
	}
	if userA == userB {
		return "", fmt.Errorf("%w: a private thread needs two distinct participants", domain.ErrValidation)
	}
	lo, hi := OrderPair(userA, userB)

	var threadID string
	err := r.db.QueryRowContext(ctx, `
		WITH created AS (
			INSERT INTO private_threads (id, participant_lo, participant_hi)
			VALUES ($1, $2, $3)
			ON CONFLICT (participant_lo, participant_hi) DO NOTHING
			RETURNING id
		)
		SELECT id FROM created
		UNION ALL
		SELECT id FROM private_threads WHERE participant_lo = $2 AND participant_hi = $3
		LIMIT 1`,
		uuid.New().String(), lo, hi,
	).Scan(&threadID)
	if err != nil {
		return "", fmt.Errorf("thread: resolve private: %w", err)
	}
	return threadID, nil
}

// Participants returns the two members of a private thread, or ErrNotFound
// if the id does not name a private thread.
func (r *Resolver) Participants(ctx context.Context, threadID string) (string, string, error) {
	var lo, hi string
	err := r.db.QueryRowContext(ctx,
		`SELECT participant_lo, participant_hi FROM private_threads WHERE id = $1`,
		threadID).Scan(&lo, &hi)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("%w: private thread %s", domain.ErrNotFound, threadID)
	}
	if err != nil {
		return "", "", fmt.Errorf("thread: participants: %w", err)
	}
	return lo, hi, nil
}

// ListThreads groups the user's messages by thread, attaches the most
// recent non-deleted message and the user's unread count per thread, and
// returns one page ordered by last activity descending. groupIDs is the
// user's group membership set, sourced from the external group
// collaborator. Re-querying the same page yields a stable result modulo
// new activity.
func (r *Resolver) ListThreads(ctx context.Context, userID string, groupIDs []string, page int) ([]domain.ThreadSummary, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * r.pageSize

	rows, err := r.db.QueryContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (thread_id)
				id, thread_id, sender_id, recipient_id, kind, body, status,
				reply_to, attachments, created_at, updated_at
			FROM messages
			WHERE status <> 'deleted'
			  AND (sender_id = $1 OR recipient_id = $1
			       OR (kind = 'group' AND thread_id = ANY($2)))
			ORDER BY thread_id, created_at DESC, id DESC
		)
		SELECT l.id, l.thread_id, l.sender_id, l.recipient_id, l.kind, l.body,
		       l.status, l.reply_to, l.attachments, l.created_at, l.updated_at,
		       (SELECT COUNT(*) FROM messages u
		        WHERE u.thread_id = l.thread_id
		          AND u.status NOT IN ('seen', 'deleted')
		          AND ((u.kind = 'private' AND u.recipient_id = $1)
		            OR (u.kind = 'group' AND u.sender_id <> $1))) AS unread
		FROM latest l
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT $3 OFFSET $4`,
		userID, pq.Array(groupIDs), r.pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("thread: list: %w", err)
	}
	defer rows.Close()

	var summaries []domain.ThreadSummary
	for rows.Next() {
		msg, unread, err := scanSummaryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("thread: scan summary: %w", err)
		}
		r.msgs.DecryptBody(msg)
		summaries = append(summaries, domain.ThreadSummary{
			ThreadID:    msg.ThreadID,
			Kind:        msg.Kind,
			LastMessage: msg,
			UnreadCount: unread,
		})
	}
	return summaries, rows.Err()
}

// Messages returns one chronological page of a thread's history, excluding
// deleted messages, with reactions attached and bodies decrypted. The
// second return value reports whether more pages are available.
func (r *Resolver) Messages(ctx context.Context, threadID string, page int) ([]*domain.Message, bool, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * r.pageSize

	// One extra row answers hasMore without a second count query.
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, sender_id, recipient_id, kind, body, status,
		       reply_to, attachments, created_at, updated_at
		FROM messages
		WHERE thread_id = $1 AND status <> 'deleted'
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`,
		threadID, r.pageSize+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("thread: messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, false, fmt.Errorf("thread: scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > r.pageSize
	if hasMore {
		msgs = msgs[:r.pageSize]
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	reactions, err := r.msgs.ReactionsFor(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	for _, m := range msgs {
		m.Reactions = reactions[m.ID]
		r.msgs.DecryptBody(m)
	}
	return msgs, hasMore, nil
}

// PageSize returns the configured page size.
func (r *Resolver) PageSize() int { return r.pageSize }

func scanMessageRow(rows *sql.Rows) (*domain.Message, error) {
	var (
		msg             domain.Message
		recipient       sql.NullString
		replyTo         sql.NullString
		attachmentsJSON []byte
	)
	err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &recipient, &msg.Kind,
		&msg.Body, &msg.Status, &replyTo, &attachmentsJSON, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	msg.RecipientID = recipient.String
	msg.ReplyTo = replyTo.String
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &msg, nil
}

func scanSummaryRow(rows *sql.Rows) (*domain.Message, int64, error) {
	var (
		msg             domain.Message
		recipient       sql.NullString
		replyTo         sql.NullString
		attachmentsJSON []byte
		created         time.Time
		updated         time.Time
		unread          int64
	)
	err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.SenderID, &recipient, &msg.Kind,
		&msg.Body, &msg.Status, &replyTo, &attachmentsJSON, &created, &updated, &unread)
	if err != nil {
		return nil, 0, err
	}
	msg.RecipientID = recipient.String
	msg.ReplyTo = replyTo.String
	msg.CreatedAt = created
	msg.UpdatedAt = updated
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
			return nil, 0, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return &msg, unread, nil
}
