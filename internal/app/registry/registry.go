// Package registry owns node records, pricing and liveness.
//
// Online is derived from the last heartbeat and the configured liveness TTL;
// nothing persists an online flag. Heartbeat, SetPricing, Update and Delete
// on the same node are serialized through the node lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/indicompute/indicompute/internal/domain"
	"github.com/indicompute/indicompute/internal/infra/keylock"
	"github.com/indicompute/indicompute/internal/infra/metrics"
	"github.com/indicompute/indicompute/internal/infra/sqlite"
	"github.com/indicompute/indicompute/internal/security"
)

// Config tunes the registry.
type Config struct {
	// LivenessTTL is how long a node stays online after its last heartbeat.
	LivenessTTL time.Duration
	// Currency is the ledger currency; pricing in any other currency is refused.
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time
}

// nodeReader is satisfied by *sqlite.DB and *sqlite.Tx.
type nodeReader interface {
	GetNode(ctx context.Context, id int64) (*domain.Node, error)
	GetPricing(ctx context.Context, nodeID int64) (*domain.Pricing, error)
}

// Service manages the node registry.
type Service struct {
	db     *sqlite.DB
	locks  *keylock.Map
	ttl    time.Duration
	ccy    string
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a registry service. locks must be shared with the other
// services touching the same database.
func NewService(db *sqlite.DB, locks *keylock.Map, cfg Config) *Service {
	s := &Service{
		db:     db,
		locks:  locks,
		ttl:    cfg.LivenessTTL,
		ccy:    cfg.Currency,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.ttl <= 0 {
		s.ttl = 2 * time.Minute
	}
	return s
}

// LivenessTTL returns the configured heartbeat window.
func (s *Service) LivenessTTL() time.Duration { return s.ttl }

// ─── Registration ───────────────────────────────────────────────────────────

// Register creates a node owned by ownerID and issues its node key. The
// returned node is the only place the key is ever shown.
func (s *Service) Register(ctx context.Context, ownerID int64, location, gpuModel string, gpuCount int) (*domain.Node, error) {
	location, gpuModel = strings.TrimSpace(location), strings.TrimSpace(gpuModel)
	if err := validateSpec(location, gpuModel, gpuCount); err != nil {
		return nil, err
	}

	key, err := security.GenerateNodeKey()
	if err != nil {
		return nil, err
	}

	n := domain.Node{
		OwnerID:   ownerID,
		Location:  location,
		GPUModel:  gpuModel,
		GPUCount:  gpuCount,
		NodeKey:   key,
		CreatedAt: s.now(),
	}
	id, err := s.db.InsertNode(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: insert node: %w", domain.ErrConsistency, err)
	}
	n.ID = id

	s.logger.Info("node registered", "node_id", id, "owner_id", ownerID, "gpu_model", gpuModel, "gpu_count", gpuCount)
	return &n, nil
}

// Get returns a live node without its key.
func (s *Service) Get(ctx context.Context, nodeID int64) (*domain.Node, error) {
	n, err := s.db.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	n.NodeKey = ""
	return n, nil
}

// ListByOwner returns the caller's nodes, newest first, without keys.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Node, error) {
	nodes, err := s.db.ListNodesByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].NodeKey = ""
	}
	if nodes == nil {
		nodes = []domain.Node{}
	}
	return nodes, nil
}

// Update changes a node's location and GPU description.
func (s *Service) Update(ctx context.Context, nodeID, ownerID int64, location, gpuModel string, gpuCount int) (*domain.Node, error) {
	location, gpuModel = strings.TrimSpace(location), strings.TrimSpace(gpuModel)
	if err := validateSpec(location, gpuModel, gpuCount); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(keylock.Node(nodeID))
	defer unlock()

	var out *domain.Node
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		n, err := ownedNode(ctx, tx, nodeID, ownerID)
		if err != nil {
			return err
		}
		n.Location, n.GPUModel, n.GPUCount = location, gpuModel, gpuCount
		if err := tx.UpdateNodeInfo(ctx, *n); err != nil {
			return err
		}
		n.NodeKey = ""
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete soft-deletes a node. A node with running jobs cannot be deleted:
// those jobs still have to settle and pay its owner. Completed jobs and
// earnings keep referencing the deleted node.
func (s *Service) Delete(ctx context.Context, nodeID, ownerID int64) error {
	unlock := s.locks.Lock(keylock.Node(nodeID))
	defer unlock()

	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := ownedNode(ctx, tx, nodeID, ownerID); err != nil {
			return err
		}
		running, err := tx.CountJobsByStatus(ctx, nodeID, domain.JobRunning)
		if err != nil {
			return err
		}
		if running > 0 {
			return fmt.Errorf("%w: %d running", domain.ErrNodeBusy, running)
		}
		now := s.now()
		if err := tx.SoftDeleteNode(ctx, nodeID, now); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, domain.NodeActivity{
			NodeID:    nodeID,
			EventType: domain.ActivityNodeDeleted,
			Timestamp: now,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("node deleted", "node_id", nodeID, "owner_id", ownerID)
	return nil
}

// ─── Liveness ───────────────────────────────────────────────────────────────

// Heartbeat records that the node is alive. A missing node and a wrong key
// are indistinguishable to the caller.
func (s *Service) Heartbeat(ctx context.Context, nodeID int64, nodeKey string) (*domain.Node, error) {
	unlock := s.locks.Lock(keylock.Node(nodeID))
	defer unlock()

	var out *domain.Node
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		n, err := authenticate(ctx, tx, nodeID, nodeKey)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.TouchHeartbeat(ctx, nodeID, now); err != nil {
			return err
		}
		if err := tx.InsertActivity(ctx, domain.NodeActivity{
			NodeID:    nodeID,
			EventType: domain.ActivityHeartbeat,
			Message:   "heartbeat received",
			Timestamp: now,
		}); err != nil {
			return err
		}
		n.LastHeartbeat = now
		n.NodeKey = ""
		out = n
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.logger.Warn("heartbeat rejected", "node_id", nodeID)
		}
		return nil, err
	}

	metrics.Heartbeats.Inc()
	s.logger.Debug("heartbeat", "node_id", nodeID)
	return out, nil
}

// Status reports a node's derived liveness to its owner.
func (s *Service) Status(ctx context.Context, nodeID, ownerID int64) (*domain.NodeStatus, error) {
	n, err := ownedNode(ctx, s.db, nodeID, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	st := &domain.NodeStatus{ID: n.ID, Online: n.IsOnline(now, s.ttl)}
	if !n.LastHeartbeat.IsZero() {
		hb := n.LastHeartbeat
		secs := int64(now.Sub(hb) / time.Second)
		st.LastHeartbeat = &hb
		st.SecondsSinceLastHeartbeat = &secs
	}
	return st, nil
}

// Activity returns the owner's view of a node's audit trail, newest first.
func (s *Service) Activity(ctx context.Context, nodeID, ownerID int64, limit int) ([]domain.NodeActivity, error) {
	if _, err := ownedNode(ctx, s.db, nodeID, ownerID); err != nil {
		return nil, err
	}
	activity, err := s.db.ListActivity(ctx, nodeID, limit)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		activity = []domain.NodeActivity{}
	}
	return activity, nil
}

// Marketplace lists nodes with their pricing for renters. Keys are never
// included. With onlineOnly set, nodes outside the liveness window are
// skipped.
func (s *Service) Marketplace(ctx context.Context, onlineOnly bool) ([]domain.Listing, error) {
	priced, err := s.db.ListPricedNodes(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]domain.Listing, 0, len(priced))
	for _, pn := range priced {
		online := pn.Node.IsOnline(now, s.ttl)
		if onlineOnly && !online {
			continue
		}
		l := domain.Listing{
			ID:       pn.Node.ID,
			OwnerID:  pn.Node.OwnerID,
			Location: pn.Node.Location,
			GPUModel: pn.Node.GPUModel,
			GPUCount: pn.Node.GPUCount,
			Online:   online,
		}
		if pn.Pricing != nil {
			price := pn.Pricing.PricePerHour
			l.PricePerHour = &price
			l.Currency = pn.Pricing.Currency
		}
		if !pn.Node.LastHeartbeat.IsZero() {
			hb := pn.Node.LastHeartbeat
			l.LastActive = &hb
		}
		out = append(out, l)
	}
	return out, nil
}

// OnlineCount returns how many live nodes are inside the liveness window.
func (s *Service) OnlineCount(ctx context.Context) (int, error) {
	listings, err := s.Marketplace(ctx, true)
	if err != nil {
		return 0, err
	}
	return len(listings), nil
}

// ─── Pricing ────────────────────────────────────────────────────────────────

// SetPricing sets the hourly price of a node. Only the owner may price it.
func (s *Service) SetPricing(ctx context.Context, nodeID, ownerID int64, price domain.Amount, currency string) (*domain.Pricing, error) {
	if !price.Positive() {
		return nil, domain.ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.ccy
	}
	if currency != s.ccy {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}

	unlock := s.locks.Lock(keylock.Node(nodeID))
	defer unlock()

	p := domain.Pricing{
		NodeID:       nodeID,
		PricePerHour: price,
		Currency:     currency,
		UpdatedAt:    s.now(),
	}
	err := s.db.WithTx(ctx, func(tx *sqlite.Tx) error {
		if _, err := ownedNode(ctx, tx, nodeID, ownerID); err != nil {
			return err
		}
		if err := tx.UpsertPricing(ctx, p); err != nil {
			return err
		}
		return tx.InsertActivity(ctx, domain.NodeActivity{
			NodeID:    nodeID,
			EventType: domain.ActivityPricingUpdated,
			Message:   fmt.Sprintf("price set to %s %s/hour", price, currency),
			Timestamp: p.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pricing updated", "node_id", nodeID, "price", price.String(), "currency", currency)
	return &p, nil
}

// GetPricing returns a node's pricing, domain.ErrPricingNotSet when the owner
// never set one, or domain.ErrNotFound for an unknown node.
func (s *Service) GetPricing(ctx context.Context, nodeID int64) (*domain.Pricing, error) {
	return getPricing(ctx, s.db, nodeID)
}

// ResolvePrice returns the node's price, or fallback when it has none.
func (s *Service) ResolvePrice(ctx context.Context, nodeID int64, fallback domain.Quote) (domain.Quote, error) {
	return resolvePrice(ctx, s.db, nodeID, fallback)
}

// ResolvePriceTx is ResolvePrice inside a caller's transaction.
func (s *Service) ResolvePriceTx(ctx context.Context, tx *sqlite.Tx, nodeID int64, fallback domain.Quote) (domain.Quote, error) {
	return resolvePrice(ctx, tx, nodeID, fallback)
}

// ─── Credentials ────────────────────────────────────────────────────────────

// Authenticate checks a node key. Any failure is domain.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, nodeID int64, nodeKey string) (*domain.Node, error) {
	return authenticate(ctx, s.db, nodeID, nodeKey)
}

// AuthenticateTx is Authenticate inside a caller's transaction, so the node
// cannot be deleted between the check and the caller's writes.
func (s *Service) AuthenticateTx(ctx context.Context, tx *sqlite.Tx, nodeID int64, nodeKey string) (*domain.Node, error) {
	return authenticate(ctx, tx, nodeID, nodeKey)
}

func authenticate(ctx context.Context, r nodeReader, nodeID int64, nodeKey string) (*domain.Node, error) {
	n, err := r.GetNode(ctx, nodeID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !security.EqualKey(n.NodeKey, nodeKey) {
		return nil, domain.ErrInvalidCredentials
	}
	return n, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func getPricing(ctx context.Context, r nodeReader, nodeID int64) (*domain.Pricing, error) {
	if _, err := r.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return r.GetPricing(ctx, nodeID)
}

func resolvePrice(ctx context.Context, r nodeReader, nodeID int64, fallback domain.Quote) (domain.Quote, error) {
	p, err := getPricing(ctx, r, nodeID)
	if errors.Is(err, domain.ErrPricingNotSet) {
		fallback.Default = true
		return fallback, nil
	}
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Price: p.PricePerHour, Currency: p.Currency}, nil
}

func ownedNode(ctx context.Context, r nodeReader, nodeID, ownerID int64) (*domain.Node, error) {
	n, err := r.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if n.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return n, nil
}

func validateSpec(location, gpuModel string, gpuCount int) error {
	switch {
	case location == "":
		return fmt.Errorf("%w: location is required", domain.ErrInvalidInput)
	case gpuModel == "":
		return fmt.Errorf("%w: gpu_model is required", domain.ErrInvalidInput)
	case gpuCount <= 0:
		return fmt.Errorf("%w: gpu_count must be positive", domain.ErrInvalidInput)
	}
	return nil
}
