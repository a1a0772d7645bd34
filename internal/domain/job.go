// Job lifecycle types. A Job is one unit of rented compute: submit, running,
// completed. Billing is flat per submission; a job is paid for before it exists.

package domain

import "time"

// JobStatus tracks job lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending" // transient, never stored
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// transitions lists the allowed moves of the job state machine.
// Running -> Failed is valid but nothing triggers it yet.
var transitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning},
	JobRunning: {JobCompleted, JobFailed},
}

// CanTransition reports whether a job in status s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Job is a compute job submitted by a user against a node.
type Job struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	NodeID       int64     `json:"node_id"`
	Command      string    `json:"command"`
	Status       JobStatus `json:"status"`
	CostIncurred Amount    `json:"cost_incurred"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	StartTime    time.Time `json:"start_time,omitempty"`
	EndTime      time.Time `json:"end_time,omitempty"`
}

// Duration returns how long the job ran (0 if not finished).
func (j *Job) Duration() time.Duration {
	if j.StartTime.IsZero() || j.EndTime.IsZero() {
		return 0
	}
	return j.EndTime.Sub(j.StartTime)
}

// ExecutionLog is an append-only log line reported for a job.
type ExecutionLog struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	LogType   string    `json:"log_type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// BilledHours is the duration recorded on every earning. Billing is flat per
// submission, so it is the one hour the per-hour price pays for, not the
// elapsed runtime.
const BilledHours = 1.0

// Earning records the payout to a node owner for one completed job.
type Earning struct {
	ID            int64     `json:"id"`
	NodeID        int64     `json:"node_id"`
	JobID         *int64    `json:"job_id"`
	Amount        Amount    `json:"amount"`
	DurationHours float64   `json:"duration_hours"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// Dashboard is the earnings rollup for one node.
type Dashboard struct {
	NodeID        int64      `json:"node_id"`
	TotalEarnings Amount     `json:"total_earnings"`
	Currency      string     `json:"currency"`
	TotalJobs     int64      `json:"total_jobs"`
	LastPayout    *time.Time `json:"last_payout"`
}
