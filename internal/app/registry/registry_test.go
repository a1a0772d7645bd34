package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *sqlite.DB, *clock) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	svc := NewService(db, &keylock.Map{}, Config{
		LivenessTTL: time.Minute,
		Currency:    "INR",
		Now:         clk.Now,
	})
	return svc, db, clk
}

func register(t *testing.T, svc *Service, ownerID int64) *domain.Node {
	t.Helper()
	n, err := svc.Register(context.Background(), ownerID, "Mumbai", "A100", 4)
	require.NoError(t, err)
	return n
}

// ─── Registration ───────────────────────────────────────────────────────────

func TestRegister_IssuesKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	n := register(t, svc, 1)

	assert.NotZero(t, n.ID)
	assert.Len(t, n.NodeKey, 64)
	assert.True(t, n.LastHeartbeat.IsZero())

	other := register(t, svc, 1)
	assert.NotEqual(t, n.NodeKey, other.NodeKey)
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, 1, "Mumbai", "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Register(ctx, 1, "Mumbai", "A100", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Register(ctx, 1, " ", "A100", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListByOwner_HidesKeys(t *testing.T) {
	svc, _, _ := newTestService(t)
	register(t, svc, 1)
	register(t, svc, 1)
	register(t, svc, 2)

	nodes, err := svc.ListByOwner(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Greater(t, nodes[0].ID, nodes[1].ID)
	for _, n := range nodes {
		assert.Empty(t, n.NodeKey)
	}
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	got, err := svc.Update(ctx, n.ID, 1, "Chennai", "H100", 8)
	require.NoError(t, err)
	assert.Equal(t, "H100", got.GPUModel)

	_, err = svc.Update(ctx, n.ID, 2, "Chennai", "H100", 8)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.Update(ctx, 999, 1, "Chennai", "H100", 8)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ─── Liveness ───────────────────────────────────────────────────────────────

func TestHeartbeat_DerivesOnline(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	st, err := svc.Status(ctx, n.ID, 1)
	require.NoError(t, err)
	assert.False(t, st.Online, "never seen node is offline")
	assert.Nil(t, st.LastHeartbeat)

	_, err = svc.Heartbeat(ctx, n.ID, n.NodeKey)
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	st, err = svc.Status(ctx, n.ID, 1)
	require.NoError(t, err)
	assert.True(t, st.Online)
	require.NotNil(t, st.SecondsSinceLastHeartbeat)
	assert.Equal(t, int64(30), *st.SecondsSinceLastHeartbeat)

	clk.Advance(31 * time.Second)
	st, err = svc.Status(ctx, n.ID, 1)
	require.NoError(t, err)
	assert.False(t, st.Online, "node goes offline once the TTL passes")
}

func TestHeartbeat_WrongKey(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	_, err := svc.Heartbeat(ctx, n.ID, "not-the-key")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Heartbeat(ctx, 999, n.NodeKey)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	stored, err := db.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastHeartbeat.IsZero(), "rejected heartbeat must not touch the node")
	activity, err := db.ListActivity(ctx, n.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, activity)
}

func TestHeartbeat_RecordsActivity(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	_, err := svc.Heartbeat(ctx, n.ID, n.NodeKey)
	require.NoError(t, err)

	activity, err := db.ListActivity(ctx, n.ID, 10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, domain.ActivityHeartbeat, activity[0].EventType)
}

func TestActivity_OwnerOnlyNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	_, err := svc.Heartbeat(ctx, n.ID, n.NodeKey)
	require.NoError(t, err)
	_, err = svc.SetPricing(ctx, n.ID, 1, 500, "INR")
	require.NoError(t, err)

	activity, err := svc.Activity(ctx, n.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, domain.ActivityPricingUpdated, activity[0].EventType)
	assert.Equal(t, domain.ActivityHeartbeat, activity[1].EventType)

	latest, err := svc.Activity(ctx, n.ID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)

	_, err = svc.Activity(ctx, n.ID, 2, 10)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.Activity(ctx, 999, 1, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketplace(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	live := register(t, svc, 1)
	register(t, svc, 2)

	_, err := svc.Heartbeat(ctx, live.ID, live.NodeKey)
	require.NoError(t, err)
	_, err = svc.SetPricing(ctx, live.ID, 1, 5000, "INR")
	require.NoError(t, err)

	all, err := svc.Marketplace(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	online, err := svc.Marketplace(ctx, true)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, live.ID, online[0].ID)
	require.NotNil(t, online[0].PricePerHour)
	assert.Equal(t, domain.Amount(5000), *online[0].PricePerHour)

	count, err := svc.OnlineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// ─── Pricing ────────────────────────────────────────────────────────────────

func TestSetPricing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	_, err := svc.GetPricing(ctx, n.ID)
	assert.ErrorIs(t, err, domain.ErrPricingNotSet)

	_, err = svc.SetPricing(ctx, n.ID, 2, 5000, "INR")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.SetPricing(ctx, 999, 1, 5000, "INR")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.SetPricing(ctx, n.ID, 1, 0, "INR")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = svc.SetPricing(ctx, n.ID, 1, 5000, "USD")
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	p, err := svc.SetPricing(ctx, n.ID, 1, 5000, "inr")
	require.NoError(t, err)
	assert.Equal(t, "INR", p.Currency)

	got, err := svc.GetPricing(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(5000), got.PricePerHour)
}

func TestResolvePrice_Fallback(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)
	fallback := domain.Quote{Price: 1000, Currency: "INR"}

	q, err := svc.ResolvePrice(ctx, n.ID, fallback)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1000), q.Price)
	assert.True(t, q.Default)

	_, err = svc.SetPricing(ctx, n.ID, 1, 2500, "INR")
	require.NoError(t, err)
	q, err = svc.ResolvePrice(ctx, n.ID, fallback)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(2500), q.Price)
	assert.False(t, q.Default)

	_, err = svc.ResolvePrice(ctx, 999, fallback)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHeartbeatAndPricing_Concurrent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Heartbeat(ctx, n.ID, n.NodeKey)
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SetPricing(ctx, n.ID, 1, domain.Amount(1000+i), "INR")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := svc.GetPricing(ctx, n.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.PricePerHour, domain.Amount(1000))
}

// ─── Deletion ───────────────────────────────────────────────────────────────

func TestDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	assert.ErrorIs(t, svc.Delete(ctx, n.ID, 2), domain.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, n.ID, 1))

	_, err := svc.Get(ctx, n.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Heartbeat(ctx, n.ID, n.NodeKey)
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials, "deleted node cannot heartbeat")
	assert.ErrorIs(t, svc.Delete(ctx, n.ID, 1), domain.ErrNotFound)
}

func TestDelete_RefusedWithRunningJobs(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	n := register(t, svc, 1)

	now := time.Now()
	err := db.WithTx(ctx, func(tx *sqlite.Tx) error {
		_, err := tx.InsertJob(ctx, domain.Job{
			UserID: 2, NodeID: n.ID, Command: "run", Status: domain.JobRunning,
			CostIncurred: 10, Currency: "INR", CreatedAt: now, UpdatedAt: now, StartTime: now,
		})
		return err
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, n.ID, 1), domain.ErrNodeBusy)
	_, err = svc.Get(ctx, n.ID)
	assert.NoError(t, err)
}
