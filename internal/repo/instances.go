package repo

import (
	"context"
	"fmt"
)

// UpsertInstance records a gateway instance for a tenant, refreshing its status.
func (r *PostgresRepository) UpsertInstance(ctx context.Context, inst Instance) (*Instance, error) {
	const q = `
INSERT INTO instances (tenant_id, instance_name, status)
VALUES ($1, $2, $3)
ON CONFLICT (instance_name) DO UPDATE SET
    status = EXCLUDED.status,
    updated_at = NOW()
RETURNING ` + instanceColumns + `;`
	out, err := scanInstance(r.pool.QueryRow(ctx, q, inst.TenantID, inst.Name, inst.Status))
	if err != nil {
		return nil, fmt.Errorf("upsert instance: %w", err)
	}
	return out, nil
}

// GetInstanceByName resolves an instance by its gateway name.
func (r *PostgresRepository) GetInstanceByName(ctx context.Context, name string) (*Instance, error) {
	const q = `SELECT ` + instanceColumns + ` FROM instances WHERE instance_name = $1 LIMIT 1;`
	inst, err := scanInstance(r.pool.QueryRow(ctx, q, name))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("instance %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// ListInstances returns the tenant's instances, connected ones first.
func (r *PostgresRepository) ListInstances(ctx context.Context, tenantID int64) ([]Instance, error) {
	const q = `
SELECT ` + instanceColumns + `
FROM instances
WHERE tenant_id = $1
ORDER BY CASE WHEN status = 'open' THEN 0 ELSE 1 END, id ASC;`
	rows, err := r.pool.Query(ctx, q, tenantID)
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

// UpdateInstanceStatus mirrors the connection state reported by the gateway.
func (r *PostgresRepository) UpdateInstanceStatus(ctx context.Context, name, status string) error {
	const q = `UPDATE instances SET status = $2, updated_at = NOW() WHERE instance_name = $1`
	ct, err := r.pool.Exec(ctx, q, name, status)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	return nil
}

// DeleteInstance removes the local mirror of an instance.
func (r *PostgresRepository) DeleteInstance(ctx context.Context, tenantID int64, name string) error {
	const q = `DELETE FROM instances WHERE tenant_id = $1 AND instance_name = $2`
	ct, err := r.pool.Exec(ctx, q, tenantID, name)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("instance %s: %w", name, ErrNotFound)
	}
	return nil
}
