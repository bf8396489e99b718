package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/securestore"
	"github.com/Avicted/courier/internal/user"
)

type messageRepo struct {
	db     *sql.DB
	sealer *securestore.Sealer
}

const (
	messageColumns = `id, from_id, to_id, kind, content_enc, sent_at, read`
	recentColumns  = `message_id, from_id, to_id, kind, content_enc, sent_at, read`
)

func (r *messageRepo) Deliver(ctx context.Context, senderCopy, recipientCopy message.Message) (message.Delivered, error) {
	if r.sealer == nil {
		return message.Delivered{}, fmt.Errorf("sealer is required")
	}
	if senderCopy.ID == "" || senderCopy.ID != recipientCopy.ID {
		return message.Delivered{}, fmt.Errorf("both copies must share a message id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return message.Delivered{}, fmt.Errorf("begin deliver: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var out message.Delivered
	copies := []struct {
		owner   user.ID
		msg     message.Message
		created *bool
	}{
		{senderCopy.FromID, senderCopy, &out.SenderCreated},
		{recipientCopy.ToID, recipientCopy, &out.RecipientCreated},
	}
	for _, c := range copies {
		contentEnc, err := r.sealContent(c.msg.Content)
		if err != nil {
			return message.Delivered{}, err
		}
		partner := c.msg.Counterpart(c.owner)

		if _, err := tx.ExecContext(ctx, `INSERT INTO messages (owner_id, id, partner_id, from_id, to_id, kind, content_enc, sent_at, read)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			c.owner, c.msg.ID, partner, c.msg.FromID, c.msg.ToID, string(c.msg.Content.Kind), contentEnc, c.msg.SentAt, c.msg.Read); err != nil {
			return message.Delivered{}, fmt.Errorf("insert message: %w", err)
		}

		// xmax is zero only for a freshly inserted tuple
		row := tx.QueryRowContext(ctx, `INSERT INTO recent_messages (owner_id, partner_id, message_id, from_id, to_id, kind, content_enc, sent_at, read)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (owner_id, partner_id) DO UPDATE SET
				message_id = EXCLUDED.message_id,
				from_id = EXCLUDED.from_id,
				to_id = EXCLUDED.to_id,
				kind = EXCLUDED.kind,
				content_enc = EXCLUDED.content_enc,
				sent_at = EXCLUDED.sent_at,
				read = EXCLUDED.read
			RETURNING (xmax = 0) AS inserted`,
			c.owner, partner, c.msg.ID, c.msg.FromID, c.msg.ToID, string(c.msg.Content.Kind), contentEnc, c.msg.SentAt, c.msg.Read)
		if err := row.Scan(c.created); err != nil {
			return message.Delivered{}, fmt.Errorf("upsert recent message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return message.Delivered{}, fmt.Errorf("commit deliver: %w", err)
	}
	return out, nil
}

func (r *messageRepo) ListConversation(ctx context.Context, owner, partner user.ID, limit int) ([]message.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE owner_id = $1 AND partner_id = $2
			ORDER BY sent_at DESC
			LIMIT $3
		) latest ORDER BY sent_at ASC`, owner, partner, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return r.collect(rows)
}

func (r *messageRepo) ListRecent(ctx context.Context, owner user.ID) ([]message.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+recentColumns+` FROM recent_messages
		WHERE owner_id = $1 ORDER BY sent_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	return r.collect(rows)
}

func (r *messageRepo) MarkRead(ctx context.Context, owner, partner user.ID) (message.Message, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return message.Message{}, false, fmt.Errorf("begin mark read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+recentColumns+` FROM recent_messages
		WHERE owner_id = $1 AND partner_id = $2 FOR UPDATE`, owner, partner)
	recent, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, false, message.ErrNotFound
		}
		return message.Message{}, false, fmt.Errorf("select recent message: %w", err)
	}
	if recent.Read {
		return recent, false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE recent_messages SET read = TRUE
		WHERE owner_id = $1 AND partner_id = $2`, owner, partner); err != nil {
		return message.Message{}, false, fmt.Errorf("mark recent read: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET read = TRUE
		WHERE owner_id = $1 AND partner_id = $2 AND read = FALSE`, owner, partner); err != nil {
		return message.Message{}, false, fmt.Errorf("mark messages read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return message.Message{}, false, fmt.Errorf("commit mark read: %w", err)
	}
	recent.Read = true
	return recent, true, nil
}

func (r *messageRepo) DeleteConversation(ctx context.Context, owner, partner user.ID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE owner_id = $1 AND partner_id = $2`, owner, partner); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recent_messages WHERE owner_id = $1 AND partner_id = $2`, owner, partner); err != nil {
		return fmt.Errorf("delete recent message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

func (r *messageRepo) collect(rows *sql.Rows) ([]message.Message, error) {
	defer rows.Close()
	var out []message.Message
	for rows.Next() {
		m, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (r *messageRepo) scan(row scanner) (message.Message, error) {
	var m message.Message
	var kind, contentEnc string
	if err := row.Scan(&m.ID, &m.FromID, &m.ToID, &kind, &contentEnc, &m.SentAt, &m.Read); err != nil {
		return message.Message{}, err
	}
	content, err := r.openContent(contentEnc)
	if err != nil {
		return message.Message{}, err
	}
	if content.Kind != message.Kind(kind) {
		return message.Message{}, fmt.Errorf("content kind mismatch for message %s", m.ID)
	}
	m.SentAt = m.SentAt.UTC()
	m.Content = content
	return m, nil
}

func (r *messageRepo) sealContent(c message.Content) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	sealed, err := r.sealer.Seal(string(raw))
	if err != nil {
		return "", fmt.Errorf("seal content: %w", err)
	}
	return sealed, nil
}

func (r *messageRepo) openContent(sealed string) (message.Content, error) {
	if r.sealer == nil {
		return message.Content{}, fmt.Errorf("sealer is required")
	}
	raw, err := r.sealer.Open(sealed)
	if err != nil {
		return message.Content{}, fmt.Errorf("open content: %w", err)
	}
	var c message.Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return message.Content{}, fmt.Errorf("decode content: %w", err)
	}
	return c, nil
}
