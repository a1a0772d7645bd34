// Package health runs periodic checks over the database and the ledger.
// Three checks: the database answers, the data directory is usable, and
// every account balance still equals its ledger sum.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/indicompute/indicompute/internal/infra/metrics"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

// Check defines a single health check with optional recovery action. When
// RecoverFn succeeds the check is run again and its second result counts.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// LedgerAuditor recomputes every account's ledger sum.
type LedgerAuditor interface {
	VerifyAll(ctx context.Context) ([]sqlite.AccountAudit, error)
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	logger   *slog.Logger
}

// NewChecker creates a health checker with the standard checks.
func NewChecker(db *sqlite.DB, dataDir string, ledger LedgerAuditor, interval time.Duration, logger *slog.Logger) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Checker{
		interval: interval,
		logger:   logger,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping(ctx)
				},
				// database/sql drops broken connections; one more ping
				// dials a fresh one.
				RecoverFn: func(ctx context.Context) error {
					return db.Ping(ctx)
				},
			},
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(dataDir)
				},
				RecoverFn: func(ctx context.Context) error {
					return os.MkdirAll(dataDir, 0700)
				},
			},
			{
				Name: "ledger",
				CheckFn: func(ctx context.Context) error {
					_, err := ledger.VerifyAll(ctx)
					return err
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

// RunOnce runs every check now and returns the results.
func (c *Checker) RunOnce(ctx context.Context) []Status {
	c.runAll(ctx)
	return c.Statuses()
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := c.run(ctx, check); err != nil {
			s.Error = err.Error()
		} else {
			s.Healthy = true
		}
		statuses[i] = s

		v := 0.0
		if s.Healthy {
			v = 1
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(v)
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// run executes one check, attempting its recovery once on failure.
func (c *Checker) run(ctx context.Context, check Check) error {
	err := check.CheckFn(ctx)
	if err == nil {
		return nil
	}
	logger := c.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	logger.Error("health check failed", "check", check.Name, "error", err)
	if check.RecoverFn == nil {
		return err
	}

	if rerr := check.RecoverFn(ctx); rerr != nil {
		logger.Error("health recovery failed", "check", check.Name, "error", rerr)
		return err
	}
	if err := check.CheckFn(ctx); err != nil {
		logger.Error("health check still failing after recovery", "check", check.Name, "error", err)
		return err
	}
	logger.Info("health check recovered", "check", check.Name)
	return nil
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
