package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indicompute/indicompute/internal/api"
	"github.com/indicompute/indicompute/internal/app/earnings"
	"github.com/indicompute/indicompute/internal/app/jobs"
	"github.com/indicompute/indicompute/internal/app/registry"
	"github.com/indicompute/indicompute/internal/app/wallet"
	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/health"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/metrics"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

// Daemon is the IndiCompute runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Logger *slog.Logger

	Locks    *keylock.Map
	Registry *registry.Service
	Wallet   *wallet.Ledger
	Jobs     *jobs.Lifecycle
	Earnings *earnings.Aggregator
	Health   *health.Checker
	Server   *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon from the on-disk config.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg, NewLogger(cfg.Logging, os.Stderr))
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One lock map for every service: a job admission and a top-up on the
	// same account must contend on the same key.
	locks := &keylock.Map{}

	reg := registry.NewService(db, locks, registry.Config{
		LivenessTTL: cfg.LivenessTTL(),
		Currency:    cfg.Billing.Currency,
		Logger:      logger.With("component", "registry"),
	})
	ledger := wallet.NewLedger(db, locks, wallet.Config{
		Currency: cfg.Billing.Currency,
		Logger:   logger.With("component", "wallet"),
	})
	lifecycle := jobs.NewLifecycle(db, locks, reg, ledger, jobs.Config{
		DefaultPrice: domain.Amount(cfg.Billing.DefaultPrice),
		Currency:     cfg.Billing.Currency,
		Logger:       logger.With("component", "jobs"),
	})
	agg := earnings.NewAggregator(db, reg, ledger)

	checker := health.NewChecker(db, cfg.DataDir(), ledger, cfg.HealthInterval(), logger.With("component", "health"))

	srv := api.NewServer(api.Services{
		Registry: reg,
		Wallet:   ledger,
		Jobs:     lifecycle,
		Earnings: agg,
	}, logger.With("component", "api"))
	srv.SetHealthChecker(checker)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Locks:    locks,
		Registry: reg,
		Wallet:   ledger,
		Jobs:     lifecycle,
		Earnings: agg,
		Health:   checker,
		Server:   srv,
	}, nil
}

// Addr returns the configured listen address.
func (d *Daemon) Addr() string {
	return net.JoinHostPort(d.Config.API.Host, strconv.Itoa(d.Config.API.Port))
}

// Serve starts the HTTP server and background loops, and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	d.cancel = cancel
	defer cancel()

	addr := d.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Health.Run(ctx)
		return nil
	})

	g.Go(func() error {
		d.reportLiveness(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		d.Logger.Info("serving", "addr", "http://"+addr, "metrics", d.Config.API.Metrics)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := g.Wait()
	d.Logger.Info("shut down")
	return err
}

// reportLiveness keeps the online-nodes gauge current. Online is derived on
// read, so the gauge is refreshed on a fraction of the liveness TTL.
func (d *Daemon) reportLiveness(ctx context.Context) {
	interval := d.Config.LivenessTTL() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := d.Registry.OnlineCount(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.Logger.Warn("count online nodes", "error", err)
		} else {
			metrics.NodesOnline.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
