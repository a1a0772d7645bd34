package earnings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indicompute/indicompute/internal/app/jobs"
	"github.com/indicompute/indicompute/internal/app/registry"
	"github.com/indicompute/indicompute/internal/app/wallet"
	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

const (
	ownerID  int64 = 1
	renterID int64 = 2
)

type fixture struct {
	reg    *registry.Service
	ledger *wallet.Ledger
	jobs   *jobs.Lifecycle
	agg    *Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locks := &keylock.Map{}
	reg := registry.NewService(db, locks, registry.Config{LivenessTTL: time.Minute, Currency: "INR"})
	ledger := wallet.NewLedger(db, locks, wallet.Config{Currency: "INR"})
	return &fixture{
		reg:    reg,
		ledger: ledger,
		jobs:   jobs.NewLifecycle(db, locks, reg, ledger, jobs.Config{DefaultPrice: 1000, Currency: "INR"}),
		agg:    NewAggregator(db, reg, ledger),
	}
}

func TestScenarioD_Dashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.reg.Register(ctx, ownerID, "Delhi", "L4", 1)
	require.NoError(t, err)
	_, err = f.reg.SetPricing(ctx, n.ID, ownerID, 5, "INR")
	require.NoError(t, err)
	_, err = f.ledger.TopUp(ctx, renterID, 15)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		job, err := f.jobs.Submit(ctx, renterID, n.ID, n.NodeKey, "run")
		require.NoError(t, err)
		_, err = f.jobs.Complete(ctx, job.ID, renterID)
		require.NoError(t, err)
	}

	d, err := f.agg.Dashboard(ctx, n.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(15), d.TotalEarnings)
	assert.Equal(t, int64(3), d.TotalJobs)
	assert.Equal(t, "INR", d.Currency)
	assert.NotNil(t, d.LastPayout)

	list, err := f.agg.List(ctx, n.ID, ownerID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Greater(t, list[0].ID, list[2].ID)
}

func TestScenarioD_EmptyDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.reg.Register(ctx, ownerID, "Delhi", "L4", 1)
	require.NoError(t, err)

	d, err := f.agg.Dashboard(ctx, n.ID, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), d.TotalEarnings)
	assert.Equal(t, int64(0), d.TotalJobs)
	assert.Nil(t, d.LastPayout)
	assert.Equal(t, "INR", d.Currency)

	list, err := f.agg.List(ctx, n.ID, ownerID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.reg.Register(ctx, ownerID, "Delhi", "L4", 1)
	require.NoError(t, err)

	_, err = f.agg.Dashboard(ctx, n.ID, renterID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.agg.List(ctx, n.ID, renterID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.agg.Dashboard(ctx, 999, ownerID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
