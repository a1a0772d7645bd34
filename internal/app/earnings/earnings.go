// Package earnings provides read-only rollups of node payouts.
package earnings

import (
	"context"
	"errors"

	"github.com/indicompute/indicompute/internal/app/registry"
	"github.com/indicompute/indicompute/internal/app/wallet"
	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
)

// Aggregator reads committed earnings.
type Aggregator struct {
	db       *sqlite.DB
	registry *registry.Service
	ledger   *wallet.Ledger
}

// NewAggregator creates an earnings aggregator.
func NewAggregator(db *sqlite.DB, reg *registry.Service, ledger *wallet.Ledger) *Aggregator {
	return &Aggregator{db: db, registry: reg, ledger: ledger}
}

// List returns a node's earnings, newest first. Only the owner may read them.
func (a *Aggregator) List(ctx context.Context, nodeID, ownerID int64) ([]domain.Earning, error) {
	if _, err := a.owned(ctx, nodeID, ownerID); err != nil {
		return nil, err
	}
	out, err := a.db.ListEarnings(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Earning{}
	}
	return out, nil
}

// Dashboard sums a node's earnings. A node without history gets zero totals
// and a nil LastPayout, not an error.
func (a *Aggregator) Dashboard(ctx context.Context, nodeID, ownerID int64) (*domain.Dashboard, error) {
	n, err := a.owned(ctx, nodeID, ownerID)
	if err != nil {
		return nil, err
	}

	totals, err := a.db.SumEarnings(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	currency := totals.Currency
	if currency == "" {
		currency, err = a.nodeCurrency(ctx, nodeID)
		if err != nil {
			return nil, err
		}
	}

	lastPayout, err := a.ledger.LastCredit(ctx, n.OwnerID)
	if err != nil {
		return nil, err
	}

	return &domain.Dashboard{
		NodeID:        nodeID,
		TotalEarnings: totals.Total,
		Currency:      currency,
		TotalJobs:     totals.Count,
		LastPayout:    lastPayout,
	}, nil
}

// nodeCurrency is the node's pricing currency, or the ledger's when unpriced.
func (a *Aggregator) nodeCurrency(ctx context.Context, nodeID int64) (string, error) {
	p, err := a.registry.GetPricing(ctx, nodeID)
	if errors.Is(err, domain.ErrPricingNotSet) {
		return a.ledger.Currency(), nil
	}
	if err != nil {
		return "", err
	}
	return p.Currency, nil
}

func (a *Aggregator) owned(ctx context.Context, nodeID, ownerID int64) (*domain.Node, error) {
	n, err := a.registry.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return n, nil
}
