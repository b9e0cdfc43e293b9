// Package store holds threat events and blocked addresses in memory.
package store

import (
	"context"

	"Go2NetSentinel/internal/model"
)

// DefaultListLimit is applied when a caller asks for a non-positive number of events.
const DefaultListLimit = 100

// Store is the event and block store shared by the detection loop and the API.
// Returned values are copies; callers never alias stored records.
type Store interface {
	// RecordThreatEvent assigns an ID and stores the event.
	RecordThreatEvent(ctx context.Context, ev model.ThreatEvent) (model.ThreatEvent, error)
	// ListThreatEvents returns up to limit events, newest first.
	ListThreatEvents(ctx context.Context, limit int) ([]model.ThreatEvent, error)
	// GetThreatEvent returns model.ErrNotFound for unknown IDs.
	GetThreatEvent(ctx context.Context, id string) (model.ThreatEvent, error)

	// BlockAddress creates or replaces the block on req.IPAddress.
	BlockAddress(ctx context.Context, req model.BlockRequest) (model.BlockedIP, error)
	// BlockIfAbsent blocks req.IPAddress unless it is already blocked. The bool
	// reports whether a new record was created; otherwise the existing one is returned.
	BlockIfAbsent(ctx context.Context, req model.BlockRequest) (model.BlockedIP, bool, error)
	// UnblockAddress reports whether a block was removed.
	UnblockAddress(ctx context.Context, addr string) (bool, error)
	// GetBlockedAddress returns model.ErrNotFound when addr is not blocked.
	GetBlockedAddress(ctx context.Context, addr string) (model.BlockedIP, error)
	// ListBlockedAddresses returns every block, most recent first.
	ListBlockedAddresses(ctx context.Context) ([]model.BlockedIP, error)

	// Snapshot returns a consistent copy of both collections.
	Snapshot(ctx context.Context) (model.StoreSnapshot, error)
	// Counts returns the number of events and active blocks.
	Counts() (events, blocked int)
}
