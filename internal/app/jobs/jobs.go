// Package jobs drives job admission, completion and settlement.
//
// Admission: the node key is checked, the price resolved, the user's wallet
// debited and the job created in one SQL transaction under the user's account
// lock. Settlement: the running→completed flip, the earning row, the owner's
// credit and the activity row commit together under the job lock and then
// the owner's account lock. Billing is flat: a job costs the node's per-hour
// price once, whatever it actually runs for.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/indicompute/indicompute/internal/app/registry"
	"github.com/indicompute/indicompute/internal/app/wallet"
	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/metrics"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

// Config carries the billing defaults.
type Config struct {
	// DefaultPrice is charged for nodes whose owner never set a price.
	DefaultPrice domain.Amount
	Currency     string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Lifecycle manages jobs.
type Lifecycle struct {
	db       *sqlite.DB
	locks    *keylock.Map
	registry *registry.Service
	ledger   *wallet.Ledger
	fallback domain.Quote
	logger   *slog.Logger
	now      func() time.Time
}

// NewLifecycle creates the job lifecycle service.
func NewLifecycle(db *sqlite.DB, locks *keylock.Map, reg *registry.Service, ledger *wallet.Ledger, cfg Config) *Lifecycle {
	l := &Lifecycle{
		db:       db,
		locks:    locks,
		registry: reg,
		ledger:   ledger,
		fallback: domain.Quote{Price: cfg.DefaultPrice, Currency: cfg.Currency},
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// ─── Admission ──────────────────────────────────────────────────────────────

// Submit admits a job. A job only exists together with the debit that paid
// for it: on any failure there is no job, no transaction and no balance
// change.
func (l *Lifecycle) Submit(ctx context.Context, userID, nodeID int64, nodeKey, command string) (*domain.Job, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("%w: command is required", domain.ErrInvalidInput)
	}

	unlock := l.locks.Lock(keylock.Account(userID))
	defer unlock()

	var job domain.Job
	var debit *domain.Transaction
	err := l.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := l.registry.AuthenticateTx(ctx, tx, nodeID, nodeKey); err != nil {
			return err
		}
		quote, err := l.registry.ResolvePriceTx(ctx, tx, nodeID, l.fallback)
		if err != nil {
			return err
		}

		desc := fmt.Sprintf("job submission on node %d", nodeID)
		debit, err = l.ledger.DebitTx(ctx, tx, userID, quote.Price, desc, 0)
		if err != nil {
			return err
		}

		now := l.now()
		job = domain.Job{
			UserID:       userID,
			NodeID:       nodeID,
			Command:      command,
			Status:       domain.JobRunning,
			CostIncurred: quote.Price,
			Currency:     quote.Currency,
			CreatedAt:    now,
			UpdatedAt:    now,
			StartTime:    now,
		}
		job.ID, err = tx.InsertJob(ctx, job)
		return err
	})
	if err != nil {
		metrics.JobsRejected.WithLabelValues(rejectReason(err)).Inc()
		l.logger.Warn("job rejected", "user_id", userID, "node_id", nodeID, "error", err)
		return nil, err
	}

	l.ledger.Committed(debit)
	metrics.JobsSubmitted.Inc()
	metrics.JobsRunning.Inc()
	l.logger.Info("job submitted", "job_id", job.ID, "user_id", userID, "node_id", nodeID,
		"cost", job.CostIncurred.String(), "currency", job.Currency)
	return &job, nil
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// Complete settles a running job and pays the node owner. It is idempotent:
// completing a completed job returns it unchanged with no second earning or
// credit. Only the job's user or the node's owner may complete it.
func (l *Lifecycle) Complete(ctx context.Context, jobID, callerID int64) (*domain.Job, error) {
	unlockJob := l.locks.Lock(keylock.Job(jobID))
	defer unlockJob()

	job, err := l.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ownerID, live, err := l.nodeOwner(ctx, job.NodeID)
	if err != nil {
		return nil, err
	}
	if !mayAccess(job, callerID, ownerID, live) {
		return nil, domain.ErrForbidden
	}

	switch job.Status {
	case domain.JobCompleted:
		return job, nil
	case domain.JobRunning:
		if !live {
			// Deletion is refused while jobs run, so this means a corrupt row.
			return nil, fmt.Errorf("%w: running job %d on deleted node %d", domain.ErrConsistency, jobID, job.NodeID)
		}
	default:
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, domain.JobCompleted)
	}

	unlockAcct := l.locks.Lock(keylock.Account(ownerID))
	defer unlockAcct()

	var (
		quote  domain.Quote
		payout *domain.Transaction
	)
	err = l.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		now := l.now()
		if err := tx.FinishJob(ctx, jobID, domain.JobCompleted, now); err != nil {
			return err
		}
		// Settlement uses the node's current price, resolved as at admission.
		var err error
		quote, err = l.registry.ResolvePriceTx(ctx, tx, job.NodeID, l.fallback)
		if err != nil {
			return err
		}
		if _, err := tx.InsertEarning(ctx, domain.Earning{
			NodeID:        job.NodeID,
			JobID:         &jobID,
			Amount:        quote.Price,
			DurationHours: domain.BilledHours,
			Currency:      quote.Currency,
			Timestamp:     now,
		}); err != nil {
			return err
		}
		payout, err = l.ledger.CreditTx(ctx, tx, ownerID, quote.Price, fmt.Sprintf("payout for job %d", jobID), jobID)
		if err != nil {
			return err
		}
		return tx.InsertActivity(ctx, domain.NodeActivity{
			NodeID:    job.NodeID,
			EventType: domain.ActivityJobCompleted,
			Message:   fmt.Sprintf("job %d completed, earned %s %s", jobID, quote.Price, quote.Currency),
			Timestamp: now,
		})
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyCompleted):
		// Another process sharing the database settled it first.
		return l.db.GetJob(ctx, jobID)
	case err != nil:
		l.logger.Error("job settlement failed", "job_id", jobID, "error", err)
		return nil, err
	}

	l.ledger.Committed(payout)
	metrics.JobsCompleted.Inc()
	metrics.JobsRunning.Dec()
	l.logger.Info("job completed", "job_id", jobID, "node_id", job.NodeID, "owner_id", ownerID,
		"payout", quote.Price.String(), "currency", quote.Currency)
	return l.db.GetJob(ctx, jobID)
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Get returns a job to the user who submitted it. Anyone else gets
// domain.ErrNotFound, so job ids do not leak.
func (l *Lifecycle) Get(ctx context.Context, jobID, callerID int64) (*domain.Job, error) {
	job, err := l.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != callerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// List returns a user's jobs, newest first.
func (l *Lifecycle) List(ctx context.Context, userID int64) ([]domain.Job, error) {
	jobs, err := l.db.ListJobsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	return jobs, nil
}

// ─── Execution Logs ─────────────────────────────────────────────────────────

// AppendLog stores a log line reported for a job.
func (l *Lifecycle) AppendLog(ctx context.Context, jobID int64, logType, details string) (*domain.ExecutionLog, error) {
	logType = strings.TrimSpace(logType)
	if logType == "" {
		return nil, fmt.Errorf("%w: log_type is required", domain.ErrInvalidInput)
	}
	if _, err := l.db.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	entry := domain.ExecutionLog{
		JobID:     jobID,
		LogType:   logType,
		Details:   details,
		Timestamp: l.now(),
	}
	id, err := l.db.InsertExecutionLog(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: insert execution log: %w", domain.ErrConsistency, err)
	}
	entry.ID = id
	return &entry, nil
}

// Logs returns a job's log lines to its user or the node owner.
func (l *Lifecycle) Logs(ctx context.Context, jobID, callerID int64) ([]domain.ExecutionLog, error) {
	job, err := l.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ownerID, live, err := l.nodeOwner(ctx, job.NodeID)
	if err != nil {
		return nil, err
	}
	if !mayAccess(job, callerID, ownerID, live) {
		return nil, domain.ErrForbidden
	}

	logs, err := l.db.ListExecutionLogs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.ExecutionLog{}
	}
	return logs, nil
}

// nodeOwner returns the owner of a job's node. live is false once the node
// was deleted; its owner then loses access to the job.
func (l *Lifecycle) nodeOwner(ctx context.Context, nodeID int64) (ownerID int64, live bool, err error) {
	n, err := l.registry.Get(ctx, nodeID)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n.OwnerID, true, nil
}

func mayAccess(job *domain.Job, callerID, ownerID int64, live bool) bool {
	return callerID == job.UserID || (live && callerID == ownerID)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidAmount):
		return "invalid_price"
	default:
		return "error"
	}
}
