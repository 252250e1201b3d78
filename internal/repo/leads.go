package repo

import (
	"context"
	"fmt"
)

// EnsureLead returns the lead of a contact, creating it with status novo when absent.
func (r *PostgresRepository) EnsureLead(ctx context.Context, tenantID, contactID int64, origin string) (*Lead, error) {
	const ins = `
INSERT INTO leads (tenant_id, contact_id, status, origin)
VALUES ($1, $2, 'novo', $3)
ON CONFLICT (tenant_id, contact_id) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, ins, tenantID, contactID, origin); err != nil {
		return nil, fmt.Errorf("ensure lead: %w", err)
	}

	const q = `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND contact_id = $2 LIMIT 1;`
	l, err := scanLead(r.pool.QueryRow(ctx, q, tenantID, contactID))
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	return l, nil
}

// GetLead returns a lead by id within the tenant.
func (r *PostgresRepository) GetLead(ctx context.Context, tenantID, id int64) (*Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads WHERE tenant_id = $1 AND id = $2 LIMIT 1;`
	l, err := scanLead(r.pool.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("lead %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// ListLeads returns the tenant's leads, optionally filtered by status, newest first.
func (r *PostgresRepository) ListLeads(ctx context.Context, tenantID int64, status string) ([]Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
ORDER BY updated_at DESC, id DESC;`
	rows, err := r.pool.Query(ctx, q, tenantID, status)
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

// UpdateLeadStatus sets any status on a lead; transitions are not restricted.
func (r *PostgresRepository) UpdateLeadStatus(ctx context.Context, tenantID, id int64, status string) (*Lead, error) {
	const q = `
UPDATE leads SET status = $3, updated_at = NOW()
WHERE tenant_id = $1 AND id = $2
RETURNING ` + leadColumns + `;`
	l, err := scanLead(r.pool.QueryRow(ctx, q, tenantID, id, status))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("lead %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update lead status: %w", err)
	}
	return l, nil
}

// AdvanceLead moves a contact's lead from novo to em_atendimento and reports whether it changed.
func (r *PostgresRepository) AdvanceLead(ctx context.Context, tenantID, contactID int64) (bool, error) {
	const q = `
UPDATE leads SET status = 'em_atendimento', updated_at = NOW()
WHERE tenant_id = $1 AND contact_id = $2 AND status = 'novo'`
	ct, err := r.pool.Exec(ctx, q, tenantID, contactID)
	if err != nil {
		return false, fmt.Errorf("advance lead: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
