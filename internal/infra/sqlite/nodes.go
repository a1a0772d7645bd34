package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/indicompute/indicompute/internal/domain"
)

// ─── Node Repository ────────────────────────────────────────────────────────

const nodeColumns = `id, owner_id, location, gpu_model, gpu_count, node_key, last_heartbeat, created_at, deleted_at`

// InsertNode creates a node record and returns its id.
func (c *Conn) InsertNode(ctx context.Context, n domain.Node) (int64, error) {
	result, err := c.q.ExecContext(ctx,
		`INSERT INTO nodes (owner_id, location, gpu_model, gpu_count, node_key, last_heartbeat, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.OwnerID, n.Location, n.GPUModel, n.GPUCount, n.NodeKey,
		nullableUnix(n.LastHeartbeat), n.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetNode retrieves a live (not deleted) node by id.
func (c *Conn) GetNode(ctx context.Context, id int64) (*domain.Node, error) {
	row := c.q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ? AND deleted_at IS NULL`, id,
	)
	return scanNode(row)
}

// ListNodesByOwner returns an owner's live nodes, newest first.
func (c *Conn) ListNodesByOwner(ctx context.Context, ownerID int64) ([]domain.Node, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE owner_id = ? AND deleted_at IS NULL ORDER BY id DESC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// PricedNode pairs a node with its pricing row (nil when unset).
type PricedNode struct {
	Node    domain.Node
	Pricing *domain.Pricing
}

// ListPricedNodes returns every live node with its pricing, by id.
func (c *Conn) ListPricedNodes(ctx context.Context) ([]PricedNode, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT n.id, n.owner_id, n.location, n.gpu_model, n.gpu_count, n.node_key,
		        n.last_heartbeat, n.created_at, n.deleted_at,
		        p.price_per_hour, p.currency, p.updated_at
		 FROM nodes n LEFT JOIN node_pricing p ON p.node_id = n.id
		 WHERE n.deleted_at IS NULL ORDER BY n.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricedNode
	for rows.Next() {
		var n domain.Node
		var lastHeartbeat, deletedAt sql.NullInt64
		var createdAt int64
		var price, updatedAt sql.NullInt64
		var currency sql.NullString

		err := rows.Scan(&n.ID, &n.OwnerID, &n.Location, &n.GPUModel, &n.GPUCount, &n.NodeKey,
			&lastHeartbeat, &createdAt, &deletedAt, &price, &currency, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan priced node: %w", err)
		}
		n.LastHeartbeat = fromNullUnix(lastHeartbeat)
		n.CreatedAt = time.Unix(createdAt, 0)
		n.DeletedAt = fromNullUnix(deletedAt)

		pn := PricedNode{Node: n}
		if price.Valid {
			pn.Pricing = &domain.Pricing{
				NodeID:       n.ID,
				PricePerHour: domain.Amount(price.Int64),
				Currency:     currency.String,
				UpdatedAt:    fromNullUnix(updatedAt),
			}
		}
		out = append(out, pn)
	}
	return out, rows.Err()
}

// UpdateNodeInfo changes the descriptive fields of a node.
func (c *Conn) UpdateNodeInfo(ctx context.Context, n domain.Node) error {
	result, err := c.q.ExecContext(ctx,
		`UPDATE nodes SET location = ?, gpu_model = ?, gpu_count = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		n.Location, n.GPUModel, n.GPUCount, n.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// TouchHeartbeat records a heartbeat timestamp.
func (c *Conn) TouchHeartbeat(ctx context.Context, id int64, at time.Time) error {
	result, err := c.q.ExecContext(ctx,
		`UPDATE nodes SET last_heartbeat = ? WHERE id = ? AND deleted_at IS NULL`,
		at.Unix(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// SoftDeleteNode marks a node deleted and clears its key. Jobs and earnings
// keep referencing it.
func (c *Conn) SoftDeleteNode(ctx context.Context, id int64, at time.Time) error {
	result, err := c.q.ExecContext(ctx,
		`UPDATE nodes SET deleted_at = ?, node_key = '' WHERE id = ? AND deleted_at IS NULL`,
		at.Unix(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func scanNode(s scanner) (*domain.Node, error) {
	var n domain.Node
	var lastHeartbeat, deletedAt sql.NullInt64
	var createdAt int64

	err := s.Scan(&n.ID, &n.OwnerID, &n.Location, &n.GPUModel, &n.GPUCount, &n.NodeKey,
		&lastHeartbeat, &createdAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}

	n.LastHeartbeat = fromNullUnix(lastHeartbeat)
	n.CreatedAt = time.Unix(createdAt, 0)
	n.DeletedAt = fromNullUnix(deletedAt)
	return &n, nil
}

// ─── Pricing Repository ─────────────────────────────────────────────────────

// UpsertPricing inserts or replaces a node's pricing.
func (c *Conn) UpsertPricing(ctx context.Context, p domain.Pricing) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO node_pricing (node_id, price_per_hour, currency, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
			price_per_hour=excluded.price_per_hour,
			currency=excluded.currency,
			updated_at=excluded.updated_at`,
		p.NodeID, int64(p.PricePerHour), p.Currency, p.UpdatedAt.Unix(),
	)
	return err
}

// GetPricing returns a node's pricing or domain.ErrPricingNotSet.
func (c *Conn) GetPricing(ctx context.Context, nodeID int64) (*domain.Pricing, error) {
	var p domain.Pricing
	var price, updatedAt int64
	err := c.q.QueryRowContext(ctx,
		`SELECT node_id, price_per_hour, currency, updated_at FROM node_pricing WHERE node_id = ?`,
		nodeID,
	).Scan(&p.NodeID, &price, &p.Currency, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPricingNotSet
	}
	if err != nil {
		return nil, fmt.Errorf("scan pricing: %w", err)
	}
	p.PricePerHour = domain.Amount(price)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// ─── Node Activity ──────────────────────────────────────────────────────────

// InsertActivity appends a node activity row.
func (c *Conn) InsertActivity(ctx context.Context, a domain.NodeActivity) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO node_activity (node_id, event_type, message, timestamp) VALUES (?, ?, ?, ?)`,
		a.NodeID, a.EventType, nullStr(a.Message), a.Timestamp.Unix(),
	)
	return err
}

// ListActivity returns a node's most recent activity rows, newest first.
// A limit <= 0 returns all of them.
func (c *Conn) ListActivity(ctx context.Context, nodeID int64, limit int) ([]domain.NodeActivity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, node_id, event_type, message, timestamp FROM node_activity
		 WHERE node_id = ? ORDER BY id DESC LIMIT ?`, nodeID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NodeActivity
	for rows.Next() {
		var a domain.NodeActivity
		var msg sql.NullString
		var ts int64
		if err := rows.Scan(&a.ID, &a.NodeID, &a.EventType, &msg, &ts); err != nil {
			return nil, err
		}
		a.Message = msg.String
		a.Timestamp = time.Unix(ts, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// expectOne maps "no row touched" to domain.ErrNotFound.
func expectOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
