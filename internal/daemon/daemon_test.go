package daemon

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithConfig_WiresServices(t *testing.T) {
	t.Setenv("INDICOMPUTE_HOME", t.TempDir())
	cfg := DefaultConfig()
	cfg.Database.Dir = t.TempDir()

	d, err := NewWithConfig(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(d.Close)

	ctx := context.Background()
	node, err := d.Registry.Register(ctx, 1, "Pune", "RTX 4090", 1)
	require.NoError(t, err)

	_, err = d.Wallet.TopUp(ctx, 2, 5000)
	require.NoError(t, err)

	job, err := d.Jobs.Submit(ctx, 2, node.ID, node.NodeKey, "python train.py")
	require.NoError(t, err)
	require.EqualValues(t, cfg.Billing.DefaultPrice, job.CostIncurred)

	statuses := d.Health.RunOnce(ctx)
	require.True(t, d.Health.IsHealthy(), "statuses: %+v", statuses)
}

func TestNewWithConfig_RejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Billing.Currency = ""
	_, err := NewWithConfig(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
