package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/indicompute/indicompute/internal/domain"
)

// ─── Job Repository ─────────────────────────────────────────────────────────

const jobColumns = `id, user_id, node_id, command, status, cost_incurred, currency,
	created_at, updated_at, start_time, end_time`

// InsertJob creates a job record. Jobs are only created next to the debit
// that pays for them, so this lives on *Tx.
func (t *Tx) InsertJob(ctx context.Context, j domain.Job) (int64, error) {
	result, err := t.q.ExecContext(ctx,
		`INSERT INTO jobs (user_id, node_id, command, status, cost_incurred, currency,
			created_at, updated_at, start_time, end_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.UserID, j.NodeID, j.Command, string(j.Status), int64(j.CostIncurred), j.Currency,
		j.CreatedAt.Unix(), j.UpdatedAt.Unix(), nullableUnix(j.StartTime), nullableUnix(j.EndTime),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// FinishJob moves a running job to a terminal status. The status guard in
// the WHERE clause makes the flip happen at most once; a second caller gets
// domain.ErrAlreadyCompleted (or ErrInvalidTransition for other states).
func (t *Tx) FinishJob(ctx context.Context, id int64, status domain.JobStatus, at time.Time) error {
	if !domain.JobRunning.CanTransition(status) {
		return fmt.Errorf("%w: running -> %s", domain.ErrInvalidTransition, status)
	}
	result, err := t.q.ExecContext(ctx,
		`UPDATE jobs SET status = ?, end_time = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), at.Unix(), at.Unix(), id, string(domain.JobRunning),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := t.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == domain.JobCompleted {
		return domain.ErrAlreadyCompleted
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
}

// GetJob retrieves a job by id.
func (c *Conn) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobsByUser returns a user's jobs, newest first.
func (c *Conn) ListJobsByUser(ctx context.Context, userID int64) ([]domain.Job, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountJobsByStatus counts a node's jobs in the given status.
func (c *Conn) CountJobsByStatus(ctx context.Context, nodeID int64, status domain.JobStatus) (int64, error) {
	var n int64
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE node_id = ? AND status = ?`, nodeID, string(status),
	).Scan(&n)
	return n, err
}

func scanJob(s scanner) (*domain.Job, error) {
	var j domain.Job
	var cost, createdAt, updatedAt int64
	var startTime, endTime sql.NullInt64

	err := s.Scan(&j.ID, &j.UserID, &j.NodeID, &j.Command, &j.Status, &cost, &j.Currency,
		&createdAt, &updatedAt, &startTime, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.CostIncurred = domain.Amount(cost)
	j.CreatedAt = time.Unix(createdAt, 0)
	j.UpdatedAt = time.Unix(updatedAt, 0)
	j.StartTime = fromNullUnix(startTime)
	j.EndTime = fromNullUnix(endTime)
	return &j, nil
}

// ─── Execution Logs ─────────────────────────────────────────────────────────

// InsertExecutionLog appends a log line to an existing job.
func (c *Conn) InsertExecutionLog(ctx context.Context, l domain.ExecutionLog) (int64, error) {
	result, err := c.q.ExecContext(ctx,
		`INSERT INTO execution_logs (job_id, log_type, details, timestamp) VALUES (?, ?, ?, ?)`,
		l.JobID, l.LogType, nullStr(l.Details), l.Timestamp.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListExecutionLogs returns a job's log lines in the order they arrived.
func (c *Conn) ListExecutionLogs(ctx context.Context, jobID int64) ([]domain.ExecutionLog, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, job_id, log_type, details, timestamp FROM execution_logs
		 WHERE job_id = ? ORDER BY id`, jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.ExecutionLog
	for rows.Next() {
		var l domain.ExecutionLog
		var details sql.NullString
		var ts int64
		if err := rows.Scan(&l.ID, &l.JobID, &l.LogType, &details, &ts); err != nil {
			return nil, err
		}
		l.Details = details.String
		l.Timestamp = time.Unix(ts, 0)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
