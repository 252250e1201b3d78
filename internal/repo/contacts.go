package repo

import (
	"context"
	"fmt"
)

// GetContact returns a contact by id within the tenant.
func (r *PostgresRepository) GetContact(ctx context.Context, tenantID, id int64) (*Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND id = $2 LIMIT 1;`
	c, err := scanContact(r.pool.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("contact %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// GetContactByPhone returns a contact by its routable phone within the tenant.
func (r *PostgresRepository) GetContactByPhone(ctx context.Context, tenantID int64, phone string) (*Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 AND phone = $2 LIMIT 1;`
	c, err := scanContact(r.pool.QueryRow(ctx, q, tenantID, phone))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("contact %s: %w", phone, ErrNotFound)
		}
		return nil, fmt.Errorf("get contact by phone: %w", err)
	}
	return c, nil
}

// FindOrCreateContact returns the contact for (tenant, phone), creating it when absent.
// The boolean reports whether this call created the row.
func (r *PostgresRepository) FindOrCreateContact(ctx context.Context, contact Contact) (*Contact, bool, error) {
	existing, err := r.GetContactByPhone(ctx, contact.TenantID, contact.Phone)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}

	const q = `
INSERT INTO contacts (tenant_id, name, phone, avatar_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, phone) DO NOTHING
RETURNING ` + contactColumns + `;`
	created, err := scanContact(r.pool.QueryRow(ctx, q, contact.TenantID, contact.Name, contact.Phone, contact.AvatarURL))
	if err != nil {
		if isNoRows(err) {
			// lost a race with a concurrent insert
			existing, err := r.GetContactByPhone(ctx, contact.TenantID, contact.Phone)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("create contact: %w", err)
	}
	return created, true, nil
}

// UpsertContact creates the contact or refreshes the avatar of an existing one.
// The stored display name is never overwritten.
func (r *PostgresRepository) UpsertContact(ctx context.Context, contact Contact) (*Contact, error) {
	const q = `
INSERT INTO contacts (tenant_id, name, phone, avatar_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, phone) DO UPDATE SET
    avatar_url = COALESCE(EXCLUDED.avatar_url, contacts.avatar_url),
    updated_at = NOW()
RETURNING ` + contactColumns + `;`
	c, err := scanContact(r.pool.QueryRow(ctx, q, contact.TenantID, contact.Name, contact.Phone, contact.AvatarURL))
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return c, nil
}

// ListContacts returns the tenant's contacts ordered by name.
func (r *PostgresRepository) ListContacts(ctx context.Context, tenantID int64) ([]Contact, error) {
	const q = `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id = $1 ORDER BY name ASC, id ASC;`
	rows, err := r.pool.Query(ctx, q, tenantID)
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
