package repo

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

const instanceColumns = `id, tenant_id, instance_name, status, created_at, updated_at`

func scanInstance(s rowScanner) (*Instance, error) {
	var inst Instance
	if err := s.Scan(&inst.ID, &inst.TenantID, &inst.Name, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}

const contactColumns = `id, tenant_id, name, phone, avatar_url, created_at, updated_at`

func scanContact(s rowScanner) (*Contact, error) {
	var c Contact
	if err := s.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

const messageColumns = `id, tenant_id, contact_id, external_id, sender, content, kind, media_url, is_read, created_at`

func scanMessage(s rowScanner) (*Message, error) {
	var m Message
	if err := s.Scan(&m.ID, &m.TenantID, &m.ContactID, &m.ExternalID, &m.Sender, &m.Content, &m.Kind, &m.MediaURL, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

const leadColumns = `id, tenant_id, contact_id, status, origin, created_at, updated_at`

func scanLead(s rowScanner) (*Lead, error) {
	var l Lead
	if err := s.Scan(&l.ID, &l.TenantID, &l.ContactID, &l.Status, &l.Origin, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

const orderColumns = `id, tenant_id, contact_id, description, amount_cents, status, metadata, created_at, updated_at`

func scanOrder(s rowScanner) (*Order, error) {
	var o Order
	var metaJSON []byte
	if err := s.Scan(&o.ID, &o.TenantID, &o.ContactID, &o.Description, &o.AmountCents, &o.Status, &metaJSON, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Metadata = fromJSON(metaJSON)
	return &o, nil
}

const inboxColumns = `c.id, c.name, c.phone, c.avatar_url, m.content, m.kind, m.sender, m.created_at`

func scanInboxEntry(s rowScanner) (*InboxEntry, error) {
	var e InboxEntry
	if err := s.Scan(&e.ContactID, &e.ContactName, &e.Phone, &e.AvatarURL, &e.LastContent, &e.LastKind, &e.LastSender, &e.LastMessageAt, &e.Unread); err != nil {
		return nil, err
	}
	return &e, nil
}
