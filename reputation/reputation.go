// Package reputation tracks how often each entity (sender, factory,
// paymaster) appears in and is actually included from the mempool, and
// derives a throttling/ban status from that history.
package reputation

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound names the missing-entry case. Neither Store nor Engine
// returns it: Store.Get reports a missing entry with ok=false.
var ErrNotFound = errors.New("reputation: entry not found")

// Status is the derived standing of an entity, computed from its
// ReputationEntry and the configured thresholds.
type Status int

const (
	StatusOK Status = iota
	StatusThrottled
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusThrottled:
		return "throttled"
	case StatusBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// Entry is the raw counters kept per entity: how many times it has been
// seen in submitted UserOperations, and how many of those were actually
// included in a mined bundle.
type Entry struct {
	Address     common.Address
	OpsSeen     uint64
	OpsIncluded uint64
}

// Store is the storage contract shared by the in-memory and durable
// reputation backends. Like mempool.Mempool, implementations take no lock
// of their own; the uopool facade serializes access.
type Store interface {
	// Get returns the entry for addr, or a zero entry with ok=false if
	// none exists yet (a never-seen entity is reputation-neutral, not an
	// error).
	Get(addr common.Address) (entry Entry, ok bool, err error)

	// Set overwrites the entry for addr.
	Set(entry Entry) error

	// Delete removes the entry for addr, if any.
	Delete(addr common.Address) error

	// GetAll returns every entry currently stored.
	GetAll() ([]Entry, error)

	// Clear removes every entry.
	Clear() error
}
