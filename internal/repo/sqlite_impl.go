package repo

import (
	"context"
	"fmt"
	"time"
)

// -- Instances --

func (r *SQLiteRepository) UpsertInstance(ctx context.Context, inst Instance) (*Instance, error) {
	now := utcNow()
	const q = `
INSERT INTO instances (tenant_id, instance_name, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (instance_name) DO UPDATE SET
    status = excluded.status,
    updated_at = excluded.updated_at
RETURNING ` + instanceColumns + `;`
	out, err := scanInstance(r.db.QueryRowContext(ctx, q, inst.TenantID, inst.Name, inst.Status, now, now))
	if err != nil {
		return nil, fmt.Errorf("upsert instance: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetInstanceByName(ctx context.Context, name string) (*Instance, error) {
	const q = `SELECT ` + instanceColumns + ` FROM instances WHERE instance_name = ? LIMIT 1;`
	inst, err := scanInstance(r.db.QueryRowContext(ctx, q, name))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("instance %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

func (r *SQLiteRepository) ListInstances(ctx context.Context, tenantID int64) ([]Instance, error) {
	const q = `
SELECT ` + instanceColumns + `
FROM instances
WHERE tenant_id = ?
ORDER BY CASE WHEN status = 'open' THEN 0 ELSE 1 END, id ASC;`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateInstanceStatus(ctx context.Context, name, status string) error {
	const q = `UPDATE instances SET status = ?, updated_at = ? WHERE instance_name = ?`
	ct, err := r.db.ExecContext(ctx, q, status, utcNow(), name)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteInstance(ctx context.Context, tenantID int64, name string) error {
	const q = `DELETE FROM instances WHERE tenant_id = ? AND instance_name = ?`
	ct, err := r.db.ExecContext(ctx, q, tenantID, name)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	return nil
}

// -- Contacts --

func (r *SQLiteRepository) GetContact(ctx context.Context, tenantID, id int64) (*Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = ? AND id = ? LIMIT 1;`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) GetContactByPhone(ctx context.Context, tenantID int64, phone string) (*Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = ? AND phone = ? LIMIT 1;`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, tenantID, phone))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("contact %s: %w", phone, ErrNotFound)
		}
		return nil, fmt.Errorf("get contact by phone: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) FindOrCreateContact(ctx context.Context, contact Contact) (*Contact, bool, error) {
	existing, err := r.GetContactByPhone(ctx, contact.TenantID, contact.Phone)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	now := utcNow()
	const q = `
INSERT INTO contacts (tenant_id, name, phone, avatar_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, phone) DO NOTHING
RETURNING ` + contactColumns + `;`
	created, err := scanContact(r.db.QueryRowContext(ctx, q, contact.TenantID, contact.Name, contact.Phone, contact.AvatarURL, now, now))
	if err != nil {
		if isNoRows(err) {
			existing, err := r.GetContactByPhone(ctx, contact.TenantID, contact.Phone)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("create contact: %w", err)
	}
	return created, true, nil
}

func (r *SQLiteRepository) UpsertContact(ctx context.Context, contact Contact) (*Contact, error) {
	now := utcNow()
	const q = `
INSERT INTO contacts (tenant_id, name, phone, avatar_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    avatar_url = COALESCE(excluded.avatar_url, contacts.avatar_url),
    updated_at = excluded.updated_at
RETURNING ` + contactColumns + `;`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, contact.TenantID, contact.Name, contact.Phone, contact.AvatarURL, now, now))
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListContacts(ctx context.Context, tenantID int64) ([]Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = ? ORDER BY name ASC, id ASC;`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

// -- Messages --

func (r *SQLiteRepository) InsertMessage(ctx context.Context, msg Message) (*Message, error) {
	const q = `
INSERT INTO messages (tenant_id, contact_id, external_id, sender, content, kind, media_url, is_read, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, external_id) DO NOTHING
RETURNING ` + messageColumns + `;`
	out, err := scanMessage(r.db.QueryRowContext(ctx, q,
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

func (r *SQLiteRepository) GetMessageByExternalID(ctx context.Context, tenantID int64, externalID string) (*Message, error) {
	const q = `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = ? AND external_id = ? LIMIT 1;`
	m, err := scanMessage(r.db.QueryRowContext(ctx, q, tenantID, externalID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("message %s: %w", externalID, ErrNotFound)
		}
		return nil, fmt.Errorf("get message by external id: %w", err)
	}
	return m, nil
}

func (r *SQLiteRepository) ListMessages(ctx context.Context, tenantID, contactID int64, limit, offset int) ([]Message, error) {
	limit, offset = normalisePage(limit, offset)
	const q = `
SELECT ` + messageColumns + ` FROM (
    SELECT ` + messageColumns + `
    FROM messages
    WHERE tenant_id = ? AND contact_id = ?
    ORDER BY created_at DESC, id DESC
    LIMIT ? OFFSET ?
) page
ORDER BY created_at ASC, id ASC;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, contactID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *SQLiteRepository) ListMessagesSince(ctx context.Context, tenantID int64, since time.Time) ([]Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM messages
WHERE tenant_id = ? AND created_at >= ?
ORDER BY contact_id ASC, created_at ASC, id ASC;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list messages since: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *SQLiteRepository) MarkMessagesRead(ctx context.Context, tenantID, contactID int64) ([]Message, error) {
	const q = `
UPDATE messages
SET is_read = 1
WHERE tenant_id = ? AND contact_id = ? AND sender = 'contato' AND is_read = 0
RETURNING ` + messageColumns + `;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, contactID)
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *SQLiteRepository) ListInbox(ctx context.Context, tenantID int64) ([]InboxEntry, error) {
	rows, err := r.db.QueryContext(ctx, inboxQuerySQLite, tenantID)
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

const inboxQuerySQLite = `
SELECT ` + inboxColumns + `,
    (SELECT COUNT(*) FROM messages u
     WHERE u.tenant_id = c.tenant_id AND u.contact_id = c.id
       AND u.sender = 'contato' AND u.is_read = 0) AS unread
FROM contacts c
JOIN messages m ON m.id = (
    SELECT l.id FROM messages l
    WHERE l.tenant_id = c.tenant_id AND l.contact_id = c.id
    ORDER BY l.created_at DESC, l.id DESC
    LIMIT 1
)
WHERE c.tenant_id = ?
ORDER BY m.created_at DESC, m.id DESC;`

// -- Leads --

func (r *SQLiteRepository) EnsureLead(ctx context.Context, tenantID, contactID int64, origin string) (*Lead, error) {
	now := utcNow()
	const ins = `
INSERT INTO leads (tenant_id, contact_id, status, origin, created_at, updated_at)
VALUES (?, ?, 'novo', ?, ?, ?)
ON CONFLICT (tenant_id, contact_id) DO NOTHING;`
	if _, err := r.db.ExecContext(ctx, ins, tenantID, contactID, origin, now, now); err != nil {
		return nil, fmt.Errorf("ensure lead: %w", err)
	}

	const q = `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = ? AND contact_id = ? LIMIT 1;`
	l, err := scanLead(r.db.QueryRowContext(ctx, q, tenantID, contactID))
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	return l, nil
}

func (r *SQLiteRepository) GetLead(ctx context.Context, tenantID, id int64) (*Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = ? AND id = ? LIMIT 1;`
	l, err := scanLead(r.db.QueryRowContext(ctx, q, tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("lead %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

func (r *SQLiteRepository) ListLeads(ctx context.Context, tenantID int64, status string) ([]Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE tenant_id = ? AND (? = '' OR status = ?)
ORDER BY updated_at DESC, id DESC;`
	rows, err := r.db.QueryContext(ctx, q, tenantID, status, status)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateLeadStatus(ctx context.Context, tenantID, id int64, status string) (*Lead, error) {
	const q = `
UPDATE leads SET status = ?, updated_at = ?
WHERE tenant_id = ? AND id = ?
RETURNING ` + leadColumns + `;`
	l, err := scanLead(r.db.QueryRowContext(ctx, q, status, utcNow(), tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("lead %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update lead status: %w", err)
	}
	return l, nil
}

func (r *SQLiteRepository) AdvanceLead(ctx context.Context, tenantID, contactID int64) (bool, error) {
	const q = `
UPDATE leads SET status = 'em_atendimento', updated_at = ?
WHERE tenant_id = ? AND contact_id = ? AND status = 'novo'`
	ct, err := r.db.ExecContext(ctx, q, utcNow(), tenantID, contactID)
	if err != nil {
		return false, fmt.Errorf("advance lead: %w", err)
	}
	n, _ := ct.RowsAffected()
	return n > 0, nil
}

// -- Orders --

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	meta, err := toJSON(order.Metadata)
	if err != nil {
		return nil, err
	}
	metaParam := jsonParam(meta)
	now := utcNow()

	const q = `
INSERT INTO orders (tenant_id, contact_id, description, amount_cents, status, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + orderColumns + `;`
	inserted, err := scanOrder(r.db.QueryRowContext(ctx, q,
		order.TenantID,
		order.ContactID,
		order.Description,
		order.AmountCents,
		order.Status,
		metaParam,
		now,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) ListOrders(ctx context.Context, tenantID int64) ([]Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = ? ORDER BY created_at DESC, id DESC;`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func (r *SQLiteRepository) UpdateOrderStatus(ctx context.Context, tenantID, id int64, status string) (*Order, error) {
	const q = `
UPDATE orders
SET status = ?,
    updated_at = ?
WHERE tenant_id = ? AND id = ?
RETURNING ` + orderColumns + `;`
	o, err := scanOrder(r.db.QueryRowContext(ctx, q, status, utcNow(), tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return o, nil
}

// -- Helpers --

func utcNow() time.Time {
	return time.Now().UTC()
}
