package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/indicompute/indicompute/internal/domain"
)

// ─── Earnings ───────────────────────────────────────────────────────────────

// InsertEarning records a payout row. The unique job_id index rejects a
// second earning for the same job.
func (t *Tx) InsertEarning(ctx context.Context, e domain.Earning) (int64, error) {
	var jobID sql.NullInt64
	if e.JobID != nil {
		jobID = sql.NullInt64{Int64: *e.JobID, Valid: true}
	}
	result, err := t.q.ExecContext(ctx,
		`INSERT INTO node_earnings (node_id, job_id, amount, duration_hours, currency, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.NodeID, jobID, int64(e.Amount), e.DurationHours, e.Currency, e.Timestamp.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListEarnings returns a node's earnings, newest first.
func (c *Conn) ListEarnings(ctx context.Context, nodeID int64) ([]domain.Earning, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, node_id, job_id, amount, duration_hours, currency, timestamp
		 FROM node_earnings WHERE node_id = ? ORDER BY id DESC`, nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Earning
	for rows.Next() {
		var e domain.Earning
		var jobID sql.NullInt64
		var amount, ts int64
		if err := rows.Scan(&e.ID, &e.NodeID, &jobID, &amount, &e.DurationHours, &e.Currency, &ts); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		if jobID.Valid {
			id := jobID.Int64
			e.JobID = &id
		}
		e.Amount = domain.Amount(amount)
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EarningTotals sums a node's earnings. Currency is the currency of the
// newest earning, empty when there are none.
type EarningTotals struct {
	Total    domain.Amount
	Count    int64
	Currency string
}

// SumEarnings returns the totals for a node; zero values when it has none.
func (c *Conn) SumEarnings(ctx context.Context, nodeID int64) (EarningTotals, error) {
	var t EarningTotals
	var total int64
	var currency sql.NullString
	err := c.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*),
			(SELECT currency FROM node_earnings WHERE node_id = ? ORDER BY id DESC LIMIT 1)
		 FROM node_earnings WHERE node_id = ?`, nodeID, nodeID,
	).Scan(&total, &t.Count, &currency)
	if err != nil {
		return t, fmt.Errorf("sum earnings: %w", err)
	}
	t.Total = domain.Amount(total)
	t.Currency = currency.String
	return t, nil
}
