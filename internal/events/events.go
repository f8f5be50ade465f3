// Package events defines the payloads published for downstream consumers.
package events

import "time"

// EntityChanged is emitted whenever a sync push creates, updates, or
// tombstones an entity. Version lets consumers drop out-of-order deliveries.
type EntityChanged struct {
	Kind       string    `json:"kind"`
	EntityID   string    `json:"entity_id"`
	OwnerID    string    `json:"owner_id"`
	Version    int64     `json:"version"`
	Deleted    bool      `json:"deleted"`
	OccurredAt time.Time `json:"occurred_at"`
}
