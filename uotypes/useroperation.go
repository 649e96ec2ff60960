package uotypes

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// UserOperation is the ERC-4337 pseudo-transaction submitted to the
// alternative mempool. Field order matches the EntryPoint's packed
// struct layout and is also the RLP field order used by Hash.
type UserOperation struct {
	Sender               common.Address
	Nonce                *uint256.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *uint256.Int
	VerificationGasLimit *uint256.Int
	PreVerificationGas   *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// uoRLP is the RLP encoding of a UserOperation with the Signature field
// removed, per the canonical hash definition: the signature authenticates
// everything else, so it cannot be part of what it signs.
type uoRLP struct {
	Sender               common.Address
	Nonce                *uint256.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *uint256.Int
	VerificationGasLimit *uint256.Int
	PreVerificationGas   *uint256.Int
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
	PaymasterAndData     []byte
}

// Hash computes the UserOperationHash as
// keccak256(keccak256(rlp(uo without signature)) || entryPoint || chainID).
// Binding the entry point and chain ID into the hash prevents a
// UserOperation valid on one chain, or against one EntryPoint deployment,
// from being replayed against another.
func (op *UserOperation) Hash(entryPoint common.Address, chainID uint64) (common.Hash, error) {
	enc, err := rlp.EncodeToBytes(&uoRLP{
		Sender:               op.Sender,
		Nonce:                op.Nonce,
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit,
		VerificationGasLimit: op.VerificationGasLimit,
		PreVerificationGas:   op.PreVerificationGas,
		MaxFeePerGas:         op.MaxFeePerGas,
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas,
		PaymasterAndData:     op.PaymasterAndData,
	})
	if err != nil {
		return common.Hash{}, err
	}
	inner := crypto.Keccak256(enc)

	chainIDBuf := uint256.NewInt(chainID).Bytes32()
	outer := crypto.Keccak256(inner, entryPoint.Bytes(), chainIDBuf[:])
	return common.BytesToHash(outer), nil
}

// Factory returns the entity named by the first 20 bytes of InitCode, and
// whether InitCode names one at all.
func (op *UserOperation) Factory() (common.Address, bool) {
	return entityAddress(op.InitCode)
}

// Paymaster returns the entity named by the first 20 bytes of
// PaymasterAndData, and whether PaymasterAndData names one at all.
func (op *UserOperation) Paymaster() (common.Address, bool) {
	return entityAddress(op.PaymasterAndData)
}

// Entities returns every entity touched by the UserOperation: the sender
// always, plus factory and paymaster when present. Order is sender,
// factory, paymaster.
func (op *UserOperation) Entities() []Entity {
	entities := make([]Entity, 0, 3)
	entities = append(entities, Entity{Address: op.Sender, Kind: EntityAccount})
	if addr, ok := op.Factory(); ok {
		entities = append(entities, Entity{Address: addr, Kind: EntityFactory})
	}
	if addr, ok := op.Paymaster(); ok {
		entities = append(entities, Entity{Address: addr, Kind: EntityPaymaster})
	}
	return entities
}

// Copy returns a deep copy, safe for a mempool to store independently of
// the caller's buffers.
func (op *UserOperation) Copy() *UserOperation {
	cp := *op
	cp.InitCode = append([]byte(nil), op.InitCode...)
	cp.CallData = append([]byte(nil), op.CallData...)
	cp.PaymasterAndData = append([]byte(nil), op.PaymasterAndData...)
	cp.Signature = append([]byte(nil), op.Signature...)
	if op.Nonce != nil {
		cp.Nonce = new(uint256.Int).Set(op.Nonce)
	}
	if op.CallGasLimit != nil {
		cp.CallGasLimit = new(uint256.Int).Set(op.CallGasLimit)
	}
	if op.VerificationGasLimit != nil {
		cp.VerificationGasLimit = new(uint256.Int).Set(op.VerificationGasLimit)
	}
	if op.PreVerificationGas != nil {
		cp.PreVerificationGas = new(uint256.Int).Set(op.PreVerificationGas)
	}
	if op.MaxFeePerGas != nil {
		cp.MaxFeePerGas = new(uint256.Int).Set(op.MaxFeePerGas)
	}
	if op.MaxPriorityFeePerGas != nil {
		cp.MaxPriorityFeePerGas = new(uint256.Int).Set(op.MaxPriorityFeePerGas)
	}
	return &cp
}
