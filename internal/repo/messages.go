package repo

import (
	"context"
	"fmt"
	"time"
)

const defaultPageSize = 50

// InsertMessage stores a message. A message whose external id is already stored for the
// tenant is not inserted again and ErrDuplicate is returned.
func (r *PostgresRepository) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	const q = `
INSERT INTO messages (tenant_id, contact_id, external_id, sender, content, kind, media_url, is_read, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (tenant_id, external_id) DO NOTHING
RETURNING ` + messageColumns + `;`
	out, err := scanMessage(r.pool.QueryRow(ctx, q,
		msg.TenantID,
		msg.ContactID,
		msg.ExternalID,
		msg.Sender,
		msg.Content,
		msg.Kind,
		msg.MediaURL,
		msg.Read,
		createdAtOrNow(msg.CreatedAt),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("insert message %s: %w", derefString(msg.ExternalID), ErrDuplicate)
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return out, nil
}

// GetMessageByExternalID loads the message the gateway knows by externalID.
func (r *PostgresRepository) GetMessageByExternalID(ctx context.Context, tenantID int64, externalID string) (*Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND external_id = $2 LIMIT 1;`
	m, err := scanMessage(r.pool.QueryRow(ctx, q, tenantID, externalID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("message %s: %w", externalID, ErrNotFound)
		}
		return nil, fmt.Errorf("get message by external id: %w", err)
	}
	return m, nil
}

// ListMessages returns one page of a conversation, oldest first. Offset counts from the newest message.
func (r *PostgresRepository) ListMessages(ctx context.Context, tenantID, contactID int64, limit, offset int) ([]Message, error) {
	limit, offset = normalisePage(limit, offset)
	const q = `
SELECT ` + messageColumns + ` FROM (
    SELECT ` + messageColumns + `
    FROM messages
    WHERE tenant_id = $1 AND contact_id = $2
    ORDER BY created_at DESC, id DESC
    LIMIT $3 OFFSET $4
) page
ORDER BY created_at ASC, id ASC;`
	rows, err := r.pool.Query(ctx, q, tenantID, contactID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListMessagesSince returns the tenant's messages created at or after since, oldest first.
func (r *PostgresRepository) ListMessagesSince(ctx context.Context, tenantID int64, since time.Time) ([]Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE tenant_id = $1 AND created_at >= $2
ORDER BY contact_id ASC, created_at ASC, id ASC;`
	rows, err := r.pool.Query(ctx, q, tenantID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MarkMessagesRead flips unread inbound messages of a contact to read and returns them.
// Read flags never go back to false.
func (r *PostgresRepository) MarkMessagesRead(ctx context.Context, tenantID, contactID int64) ([]Message, error) {
	const q = `
UPDATE messages
SET is_read = TRUE
WHERE tenant_id = $1 AND contact_id = $2 AND sender = 'contato' AND is_read = FALSE
RETURNING ` + messageColumns + `;`
	rows, err := r.pool.Query(ctx, q, tenantID, contactID)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListInbox summarises every conversation of the tenant, most recent first.
func (r *PostgresRepository) ListInbox(ctx context.Context, tenantID int64) ([]InboxEntry, error) {
	rows, err := r.pool.Query(ctx, inboxQueryPostgres, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var out []InboxEntry
	for rows.Next() {
		e, err := scanInboxEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbox entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox: %w", err)
	}
	return out, nil
}

const inboxQueryPostgres = `
SELECT ` + inboxColumns + `,
    (SELECT COUNT(*) FROM messages u
     WHERE u.tenant_id = c.tenant_id AND u.contact_id = c.id
       AND u.sender = 'contato' AND u.is_read = FALSE) AS unread
FROM contacts c
JOIN messages m ON m.id = (
    SELECT l.id FROM messages l
    WHERE l.tenant_id = c.tenant_id AND l.contact_id = c.id
    ORDER BY l.created_at DESC, l.id DESC
    LIMIT 1
)
WHERE c.tenant_id = $1
ORDER BY m.created_at DESC, m.id DESC;`

type messageRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectMessages(rows messageRows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func normalisePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func createdAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
