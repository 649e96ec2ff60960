// Package uotypes defines the ERC-4337 data model shared by the mempool,
// reputation and validation packages: the UserOperation wire format, its
// canonical hash, and the entities (sender, factory, paymaster) a user
// operation can touch.
package uotypes

import "github.com/ethereum/go-ethereum/common"

// EntityKind identifies which role of a UserOperation an address plays.
// The three kinds mirror the "entities" rpc_error_codes module of the
// reference implementation (factory, account, paymaster).
type EntityKind int

const (
	EntityAccount EntityKind = iota
	EntityFactory
	EntityPaymaster
)

func (k EntityKind) String() string {
	switch k {
	case EntityAccount:
		return "account"
	case EntityFactory:
		return "factory"
	case EntityPaymaster:
		return "paymaster"
	default:
		return "unknown"
	}
}

// Entity is an address participating in a UserOperation together with the
// role it plays. A single UserOperation can name up to three entities:
// the sender (always present), and optionally a factory and a paymaster,
// each derived from the first 20 bytes of init_code / paymaster_and_data.
type Entity struct {
	Address common.Address
	Kind    EntityKind
}

// entityAddress extracts the 20-byte address prefix from init_code or
// paymaster_and_data. Returns the zero address if data is shorter than 20
// bytes, matching the "absent" case (no factory / no paymaster).
func entityAddress(data []byte) (common.Address, bool) {
	if len(data) < common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(data[:common.AddressLength]), true
}
