package repo

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertOrder stores a new order record.
func (r *PostgresRepository) InsertOrder(ctx context.Context, order Order) (*Order, error) {
	meta, err := toJSON(order.Metadata)
	if err != nil {
		return nil, err
	}
	metaParam := jsonParam(meta)

	const q = `
INSERT INTO orders (tenant_id, contact_id, description, amount_cents, status, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + orderColumns + `;`
	inserted, err := scanOrder(r.pool.QueryRow(ctx, q,
		order.TenantID,
		order.ContactID,
		order.Description,
		order.AmountCents,
		order.Status,
		metaParam,
	))
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return inserted, nil
}

// ListOrders returns the tenant's orders, newest first.
func (r *PostgresRepository) ListOrders(ctx context.Context, tenantID int64) ([]Order, error) {
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC;`
	rows, err := r.pool.Query(ctx, q, tenantID)
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

// UpdateOrderStatus updates the status of an order within the tenant.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, tenantID, id int64, status string) (*Order, error) {
	const q = `
UPDATE orders
SET status = $3,
    updated_at = NOW()
WHERE tenant_id = $1 AND id = $2
RETURNING ` + orderColumns + `;`
	o, err := scanOrder(r.pool.QueryRow(ctx, q, tenantID, id, status))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return o, nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func fromJSON(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"_raw": string(data)}
	}
	return m
}

func jsonParam(data []byte) any {
	if data == nil {
		return nil
	}
	return string(data)
}
