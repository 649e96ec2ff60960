// Package validate implements the three-phase UserOperation validation
// pipeline: sanity checks with no contract execution, on-chain simulation
// checks, and simulation-trace checks against an opaque opcode/storage
// access trace.
package validate

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/aabundler/uopool/uotypes"
)

// ValidationResult is what simulate_validation on the EntryPoint reports
// back about a UserOperation, beyond plain success/failure.
type ValidationResult struct {
	SigFailed      bool
	ValidAfter     uint64
	ValidUntil     uint64
	Aggregator     common.Address
	HasAggregator  bool
}

// ExecutionResult is what simulate_handle_op reports: the gas actually
// paid and consumed before the account's own call, used to derive the
// call-gas floor.
type ExecutionResult struct {
	Paid          *uint256.Int
	PreOpGas      *uint256.Int
	TargetSuccess bool
	TargetResult  []byte
}

// DepositInfo is the EntryPoint's getDepositInfo response for an address.
type DepositInfo struct {
	Deposit         *uint256.Int
	Staked          bool
	Stake           *uint256.Int
	UnstakeDelaySec uint64
	WithdrawTime    uint64
}

// EntryPoint is the subset of the on-chain EntryPoint contract the
// pipeline consumes, abstracted behind an interface so tests can supply a
// fake without a real chain connection.
type EntryPoint interface {
	SimulateValidation(ctx context.Context, op *uotypes.UserOperation) (*ValidationResult, error)
	SimulateHandleOp(ctx context.Context, op *uotypes.UserOperation) (*ExecutionResult, error)
	GetDepositInfo(ctx context.Context, addr common.Address) (*DepositInfo, error)
}

// BlockInfo is the subset of the latest block the pipeline needs.
type BlockInfo struct {
	Number     uint64
	BaseFeePerGas *big.Int
}

// StorageAccessKind classifies a storage slot touched during an entity's
// validation frame, as already resolved by the opaque trace analyzer: our
// pipeline only enforces the STO rule, it does not re-derive slot
// ownership itself.
type StorageAccessKind int

const (
	// StorageOwnContract is a slot belonging to the entity's own contract.
	StorageOwnContract StorageAccessKind = iota
	// StorageSender is a slot belonging to the UserOperation's sender.
	StorageSender
	// StorageAssociated is a slot in another contract keyed by the
	// sender's address (e.g. a mapping(address => ...) slot).
	StorageAssociated
	// StorageExternal is any other contract's storage, permitted only for
	// staked entities.
	StorageExternal
)

// StorageEvent is one SLOAD/SSTORE observed within an entity's validation
// frame.
type StorageEvent struct {
	Kind    StorageAccessKind
	Written bool
}

// ExternalCall is one CALL/DELEGATECALL/STATICCALL/CALLCODE observed
// leaving an entity's validation frame.
type ExternalCall struct {
	Target      common.Address
	IsEntryPoint bool
	Selector    [4]byte
}

// OpcodeEvent is one opcode observed within an entity's validation frame,
// in program order, used to enforce OPC-01 and the GAS/CALL adjacency
// rule (OPC-02/03).
type OpcodeEvent struct {
	Opcode     OpCode
	InFactoryFrame bool
}

// ExtCodeEvent is one EXTCODESIZE/EXTCODECOPY/EXTCODEHASH observed within
// an entity's validation frame.
type ExtCodeEvent struct {
	Target       common.Address
	HasCode      bool
	CodeHash     common.Hash
}

// EntityTrace is the full access trace for one entity frame (sender,
// factory or paymaster) within a single simulate_validation replay.
type EntityTrace struct {
	Entity         common.Address
	Opcodes        []OpcodeEvent
	Storage        []StorageEvent
	Calls          []ExternalCall
	ExtCodes       []ExtCodeEvent
	AccessedGlobal bool
}

// ChainProvider is the subset of chain state the pipeline needs, distinct
// from the EntryPoint contract itself.
type ChainProvider interface {
	GetLatestBlock(ctx context.Context) (*BlockInfo, error)
	GetCode(ctx context.Context, addr common.Address) ([]byte, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	DebugTraceCall(ctx context.Context, op *uotypes.UserOperation) ([]EntityTrace, error)
}
