// Package mempool implements the alternative mempool of admitted
// UserOperations: a primary hash-keyed store plus the sender and entity
// indices needed to enforce per-sender and per-entity limits without a
// linear scan.
package mempool

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/aabundler/uopool/uotypes"
)

var (
	// ErrNotFound is returned by Get and Remove when no UserOperation is
	// stored under the given hash.
	ErrNotFound = errors.New("mempool: user operation not found")
)

// CodeHash pairs a contract address touched during simulation with the
// EXTCODEHASH observed at that address, so a later block can detect that
// the code backing a UserOperation's entities changed underneath it.
type CodeHash struct {
	Address common.Address
	Hash    common.Hash
}

// Mempool is the storage contract shared by the in-memory and durable
// backends. Implementations do not take their own lock: callers (the
// uopool facade) hold a single process-wide RWMutex around every method
// call, so implementations may assume single-writer, multi-reader safety
// is already provided.
type Mempool interface {
	// Add inserts or replaces the UserOperation under its hash, updating
	// the sender and entity indices. Add never rejects a UserOperation on
	// semantic grounds; that is the validation pipeline's job.
	Add(entryPoint common.Address, op *uotypes.UserOperation, hash common.Hash) error

	// Get returns the UserOperation stored under hash, or ErrNotFound.
	Get(entryPoint common.Address, hash common.Hash) (*uotypes.UserOperation, error)

	// GetAllBySender returns every UserOperation currently stored for the
	// given sender, in no particular order.
	GetAllBySender(entryPoint common.Address, sender common.Address) ([]*uotypes.UserOperation, error)

	// GetNumberBySender returns how many UserOperations are stored for
	// sender, without materializing them.
	GetNumberBySender(entryPoint common.Address, sender common.Address) (int, error)

	// GetNumberByEntity returns how many UserOperations currently
	// reference entity (as factory or paymaster), without materializing
	// them.
	GetNumberByEntity(entryPoint common.Address, entity common.Address) (int, error)

	// HasCodeHashes reports whether code hashes were recorded for hash
	// during its last simulation.
	HasCodeHashes(entryPoint common.Address, hash common.Hash) (bool, error)

	// GetCodeHashes returns the code hashes recorded for hash.
	GetCodeHashes(entryPoint common.Address, hash common.Hash) ([]CodeHash, error)

	// SetCodeHashes overwrites the code hashes recorded for hash.
	SetCodeHashes(entryPoint common.Address, hash common.Hash, hashes []CodeHash) error

	// SetValidUntil records the validity-window upper bound (the
	// UserOperation's ValidUntil as returned by simulateValidation) that was
	// in force when hash was admitted, so a later block can evict it once
	// its window has closed without re-simulating. A validUntil of zero
	// means no upper bound was set and the entry never expires this way.
	SetValidUntil(entryPoint common.Address, hash common.Hash, validUntil uint64) error

	// GetValidUntil returns the validity-window upper bound recorded for
	// hash. ok is false if none was recorded.
	GetValidUntil(entryPoint common.Address, hash common.Hash) (validUntil uint64, ok bool, err error)

	// Remove deletes the UserOperation stored under hash along with its
	// index entries, code hashes and recorded validity window. Returns
	// ErrNotFound if hash is not present.
	Remove(entryPoint common.Address, hash common.Hash) error

	// RemoveByEntity deletes every UserOperation that references entity
	// as sender, factory or paymaster, returning the hashes removed.
	RemoveByEntity(entryPoint common.Address, entity common.Address) ([]common.Hash, error)

	// GetSorted returns every UserOperation for entryPoint ordered by
	// descending max priority fee, ties broken by ascending nonce: the
	// order a bundler should prefer when filling a block.
	GetSorted(entryPoint common.Address) ([]*uotypes.UserOperation, error)

	// GetAll returns every UserOperation for entryPoint, in no particular
	// order.
	GetAll(entryPoint common.Address) ([]*uotypes.UserOperation, error)

	// Clear removes every UserOperation, index entry and code hash for
	// entryPoint.
	Clear(entryPoint common.Address) error
}
