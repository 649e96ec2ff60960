package validate

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/rpcerr"
)

// depositToSelector is the 4-byte selector of EntryPoint.depositTo(address),
// the only call out of a validation frame the CALL rule permits.
var depositToSelector = [4]byte{0xb7, 0x60, 0xfa, 0xf9}

// checkOpcodes enforces OPC-01 (forbidden opcodes) and OPC-02/03 (GAS
// must be immediately followed by a call) across every opcode observed in
// an entity's validation frame.
func checkOpcodes(trace EntityTrace) error {
	for i, ev := range trace.Opcodes {
		if ev.Opcode == OpCreate && !ev.InFactoryFrame {
			return rpcerr.New(rpcerr.KindOpcodeValidation, "CREATE used outside the factory frame")
		}
		if _, forbidden := forbiddenOpcodes[ev.Opcode]; forbidden {
			return rpcerr.New(rpcerr.KindOpcodeValidation, "forbidden opcode "+ev.Opcode.String()+" in validation frame")
		}
		if ev.Opcode == OpGas {
			if i+1 >= len(trace.Opcodes) || !isCallLike(trace.Opcodes[i+1].Opcode) {
				return rpcerr.New(rpcerr.KindOpcodeValidation, "GAS opcode not immediately followed by a call")
			}
		}
	}
	return nil
}

// checkStorageAccess enforces the STO rule: an entity's own contract
// storage and the sender's storage are always permitted; storage
// associated with the sender (a mapping keyed by its address) is
// permitted; anything else requires the entity be staked.
func checkStorageAccess(entity common.Address, trace EntityTrace, staked bool) error {
	for _, ev := range trace.Storage {
		switch ev.Kind {
		case StorageOwnContract, StorageSender, StorageAssociated:
			continue
		case StorageExternal:
			if !staked {
				return rpcerr.New(rpcerr.KindStorageAccessValidation, "entity accessed unrelated storage without stake")
			}
		}
	}
	return nil
}

// checkCalls enforces the CALL rule: a call to the EntryPoint itself is
// only permitted for depositTo; any other call leaving the validation
// frame toward an address the entity does not control is otherwise
// unrestricted at this layer (the STO rule covers cross-contract storage
// reads, this rule only covers the EntryPoint re-entrancy case).
func checkCalls(trace EntityTrace, entryPoint common.Address) error {
	for _, call := range trace.Calls {
		if call.Target == entryPoint || call.IsEntryPoint {
			if call.Selector != depositToSelector {
				return rpcerr.New(rpcerr.KindOpcodeValidation, "call into EntryPoint other than depositTo")
			}
		}
	}
	return nil
}

// checkExtCode enforces the EXT* rule: extcode* against an address with
// no deployed code at simulation time is rejected.
func checkExtCode(trace EntityTrace) error {
	for _, ev := range trace.ExtCodes {
		if !ev.HasCode {
			return rpcerr.New(rpcerr.KindOpcodeValidation, "extcode* against an address with no deployed code")
		}
	}
	return nil
}

// collectCodeHashes gathers the (address, codehash) pairs observed across
// every entity's extcode* accesses, to be persisted via SetCodeHashes so
// a later on_new_block tick can detect code changes.
func collectCodeHashes(traces []EntityTrace) []mempool.CodeHash {
	var out []mempool.CodeHash
	seen := make(map[common.Address]struct{})
	for _, trace := range traces {
		for _, ev := range trace.ExtCodes {
			if _, ok := seen[ev.Target]; ok {
				continue
			}
			seen[ev.Target] = struct{}{}
			out = append(out, mempool.CodeHash{Address: ev.Target, Hash: ev.CodeHash})
		}
	}
	return out
}

// runTraceChecks runs every Phase C rule across all entity traces and, on
// success, returns the code hashes to persist. stakedOf reports whether
// an entity carries sufficient stake to access storage outside its own
// contract, the sender's, or a sender-associated slot.
func runTraceChecks(traces []EntityTrace, entryPoint common.Address, stakedOf func(common.Address) bool) ([]mempool.CodeHash, error) {
	for _, trace := range traces {
		if err := checkOpcodes(trace); err != nil {
			return nil, err
		}
		if err := checkStorageAccess(trace.Entity, trace, stakedOf(trace.Entity)); err != nil {
			return nil, err
		}
		if err := checkCalls(trace, entryPoint); err != nil {
			return nil, err
		}
		if err := checkExtCode(trace); err != nil {
			return nil, err
		}
	}
	return collectCodeHashes(traces), nil
}
