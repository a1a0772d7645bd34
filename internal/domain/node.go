// Package domain holds the node, wallet and job types shared by every layer,
// and the sentinel errors services return.
//
// A Node is a registered GPU resource that renters submit jobs against.
package domain

import "time"

// Node stores the registry record of a GPU node. NodeKey is the capability
// secret handed to the owner once at registration.
type Node struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"owner_id"`
	Location      string    `json:"location"`
	GPUModel      string    `json:"gpu_model"`
	GPUCount      int       `json:"gpu_count"`
	NodeKey       string    `json:"node_key,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	DeletedAt     time.Time `json:"-"`
}

// IsOnline derives liveness from the heartbeat age. A node that never sent a
// heartbeat is offline.
func (n *Node) IsOnline(now time.Time, ttl time.Duration) bool {
	if n.LastHeartbeat.IsZero() {
		return false
	}
	return now.Sub(n.LastHeartbeat) <= ttl
}

// IsDeleted returns true once the owner removed the node.
func (n *Node) IsDeleted() bool {
	return !n.DeletedAt.IsZero()
}

// Pricing is the owner-set hourly price of a node.
type Pricing struct {
	NodeID       int64     `json:"node_id"`
	PricePerHour Amount    `json:"price_per_hour"`
	Currency     string    `json:"currency"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Activity event types.
const (
	ActivityHeartbeat      = "heartbeat"
	ActivityPricingUpdated = "pricing_updated"
	ActivityJobCompleted   = "job_completed"
	ActivityNodeDeleted    = "node_deleted"
)

// NodeActivity is an append-only audit row for a node.
type NodeActivity struct {
	ID        int64     `json:"id"`
	NodeID    int64     `json:"node_id"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeStatus is the liveness view returned to owners.
type NodeStatus struct {
	ID                        int64      `json:"id"`
	Online                    bool       `json:"is_online"`
	LastHeartbeat             *time.Time `json:"last_heartbeat"`
	SecondsSinceLastHeartbeat *int64     `json:"seconds_since_last_heartbeat"`
}

// Listing is the public marketplace view of a node. It never carries the key.
type Listing struct {
	ID           int64      `json:"id"`
	OwnerID      int64      `json:"owner_id"`
	Location     string     `json:"location"`
	GPUModel     string     `json:"gpu_model"`
	GPUCount     int        `json:"gpu_count"`
	Online       bool       `json:"is_online"`
	PricePerHour *Amount    `json:"price_per_hour"`
	Currency     string     `json:"currency"`
	LastActive   *time.Time `json:"last_active"`
}
