package validate

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/rpcerr"
	"github.com/aabundler/uopool/uotypes"
)

// CallStipend is the fixed gas allowance added on top of the measured
// call-gas floor, covering the 2300-gas stipend historically granted to
// a plain value transfer.
const CallStipend = 2300

// Config fixes the thresholds Phase A checks against. These mirror the
// constants named in the pool builder.
type Config struct {
	MaxVerificationGas          uint64
	MinPriorityFeePerGas        uint64
	ReplaceBumpPct              uint64
	ThrottledEntityMempoolCount int
	ExpirationBufferSec         uint64
	GasOverheads                uotypes.GasOverheads
}

// sanityDeps bundles the read-only collaborators Phase A needs: the
// mempool (to look up an existing operation for the same sender and to
// count entity occupancy) and the reputation engine (entity status).
type sanityDeps struct {
	mempool    mempool.Mempool
	reputation *reputation.Engine
	entryPoint common.Address
	chainCode  ChainProvider
	cfg        Config
}

// checkSenderOrInitCode enforces that exactly one of "sender has code" or
// "init_code is non-empty" holds.
func checkSenderOrInitCode(ctx context.Context, d *sanityDeps, op *uotypes.UserOperation) error {
	code, err := d.chainCode.GetCode(ctx, op.Sender)
	if err != nil {
		return rpcerr.Wrap(err)
	}
	hasCode := len(code) > 0
	hasInitCode := len(op.InitCode) > 0
	if hasCode == hasInitCode {
		return rpcerr.New(rpcerr.KindSenderOrInitCode, "sender must have code xor init_code must be set")
	}
	return nil
}

// checkVerificationGas enforces the verification-gas bounds: an upper
// limit on verification_gas_limit and a lower bound on
// pre_verification_gas derived from the ERC-4337 overhead formula.
func checkVerificationGas(op *uotypes.UserOperation, cfg Config) error {
	if op.VerificationGasLimit.Uint64() > cfg.MaxVerificationGas {
		return rpcerr.New(rpcerr.KindHighVerificationGasLimit, "verification_gas_limit exceeds MAX_VERIFICATION_GAS")
	}
	required := uotypes.CalcPreVerificationGas(op, cfg.GasOverheads)
	if op.PreVerificationGas.Uint64() < required {
		return rpcerr.New(rpcerr.KindLowPreVerificationGas, "pre_verification_gas below computed overhead")
	}
	return nil
}

// checkFeeMarket enforces the EIP-1559-derived fee bounds against the
// latest block's base fee and the configured minimum priority fee.
func checkFeeMarket(op *uotypes.UserOperation, baseFee *big.Int, cfg Config) error {
	if op.MaxPriorityFeePerGas.Cmp(op.MaxFeePerGas) > 0 {
		return rpcerr.New(rpcerr.KindHighMaxPriorityFeePerGas, "max_priority_fee_per_gas exceeds max_fee_per_gas")
	}
	baseFeeU256, overflow := uint256.FromBig(baseFee)
	if overflow {
		return rpcerr.New(rpcerr.KindLowMaxFeePerGas, "base fee overflows 256 bits")
	}
	floor := new(uint256.Int).Add(baseFeeU256, op.MaxPriorityFeePerGas)
	if floor.Cmp(op.MaxFeePerGas) > 0 {
		return rpcerr.New(rpcerr.KindLowMaxFeePerGas, "max_fee_per_gas below base_fee + max_priority_fee_per_gas")
	}
	if op.MaxPriorityFeePerGas.Uint64() < cfg.MinPriorityFeePerGas {
		return rpcerr.New(rpcerr.KindLowMaxPriorityFeePerGas, "max_priority_fee_per_gas below configured minimum")
	}
	return nil
}

// checkCallGasFloor enforces the call-gas floor derived from a
// simulate_handle_op probe: the operation must reserve enough call gas to
// cover what the probe actually spent before the account's own call,
// converted at the effective gas price, plus CallStipend.
func checkCallGasFloor(op *uotypes.UserOperation, exec *ExecutionResult, baseFee *big.Int) error {
	baseFeeU256, _ := uint256.FromBig(baseFee)
	maxPriorityPlusBase := new(uint256.Int).Add(op.MaxPriorityFeePerGas, baseFeeU256)
	effectiveGasPrice := op.MaxFeePerGas
	if maxPriorityPlusBase.Cmp(effectiveGasPrice) < 0 {
		effectiveGasPrice = maxPriorityPlusBase
	}
	if effectiveGasPrice.IsZero() {
		return rpcerr.New(rpcerr.KindLowCallGasLimit, "effective gas price is zero")
	}

	preOpCost := new(uint256.Int).Mul(exec.PreOpGas, effectiveGasPrice)
	if exec.Paid.Cmp(preOpCost) < 0 {
		return rpcerr.New(rpcerr.KindLowCallGasLimit, "simulate_handle_op paid less than pre-op cost")
	}
	remaining := new(uint256.Int).Sub(exec.Paid, preOpCost)
	required := new(uint256.Int).Div(remaining, effectiveGasPrice)
	required.AddUint64(required, CallStipend)

	if op.CallGasLimit.Cmp(required) < 0 {
		return rpcerr.New(rpcerr.KindLowCallGasLimit, "call_gas_limit below measured floor")
	}
	return nil
}

// checkEntities enforces the SREP-020/030/040 reputation rules for every
// entity named by the operation: banned entities are rejected outright,
// throttled entities are rejected once their mempool occupancy reaches
// the configured limit, and entities with OK status are not subject to
// the numeric limit. Stake is not consulted here: a throttled entity is
// limited whether or not it is staked.
func checkEntities(d *sanityDeps, op *uotypes.UserOperation) error {
	for _, entity := range op.Entities() {
		status, err := d.reputation.GetStatus(entity.Address)
		if err != nil {
			return rpcerr.Wrap(err)
		}
		if status == reputation.StatusBanned {
			return entityError(entity.Kind)
		}
		if status != reputation.StatusThrottled {
			continue
		}
		bySender, err := d.mempool.GetNumberBySender(d.entryPoint, entity.Address)
		if err != nil {
			return rpcerr.Wrap(err)
		}
		byEntity, err := d.mempool.GetNumberByEntity(d.entryPoint, entity.Address)
		if err != nil {
			return rpcerr.Wrap(err)
		}
		if bySender+byEntity >= d.cfg.ThrottledEntityMempoolCount {
			return rpcerr.New(rpcerr.KindThrottledLimit, "entity exceeds throttled mempool occupancy")
		}
	}
	return nil
}

func entityError(kind uotypes.EntityKind) *rpcerr.Error {
	switch kind {
	case uotypes.EntityFactory:
		return rpcerr.New(rpcerr.KindEntityBanned, "factory is banned")
	case uotypes.EntityPaymaster:
		return rpcerr.New(rpcerr.KindEntityBanned, "paymaster is banned")
	default:
		return rpcerr.New(rpcerr.KindEntityBanned, "sender is banned")
	}
}

// CheckReplacementSlot enforces the unstaked-sender replacement rule: a
// second in-pool operation for the same sender is only accepted if it
// shares the incumbent's nonce, bumps the priority fee by at least
// ReplaceBumpPct percent, and raises max_fee_per_gas by exactly the same
// absolute amount (equal uplift). It queries mp directly rather than
// through a sanityDeps so it can be re-run by the facade, under its own
// write lock, against the mempool's current state at commit time — Phase
// A's run of this same check happens earlier, unlocked, and only decides
// whether the operation is admissible at all.
//
// When a replacement is in play it returns the incumbent's hash and
// hasReplacement=true, so the caller can evict the incumbent: the
// UserOperation hash is content-addressed over the fee fields, so a
// fee-bumped replacement is stored under a brand-new hash and never
// collides with (and so never overwrites) the entry it replaces.
func CheckReplacementSlot(mp mempool.Mempool, entryPoint common.Address, chainID uint64, op *uotypes.UserOperation, senderStaked bool, cfg Config) (incumbentHash common.Hash, hasReplacement bool, err error) {
	if senderStaked {
		return common.Hash{}, false, nil
	}
	existing, err := mp.GetAllBySender(entryPoint, op.Sender)
	if err != nil {
		return common.Hash{}, false, rpcerr.Wrap(err)
	}
	if len(existing) == 0 {
		return common.Hash{}, false, nil
	}
	var incumbent *uotypes.UserOperation
	for _, e := range existing {
		if e.Nonce.Cmp(op.Nonce) == 0 {
			incumbent = e
			break
		}
	}
	if incumbent == nil {
		return common.Hash{}, false, rpcerr.New(rpcerr.KindSenderVerification, "sender already has an in-pool operation at a different nonce")
	}

	minBumped := bumpedTip(incumbent.MaxPriorityFeePerGas, cfg.ReplaceBumpPct)
	if op.MaxPriorityFeePerGas.Cmp(minBumped) < 0 {
		return common.Hash{}, false, rpcerr.New(rpcerr.KindSenderVerification, "replacement priority fee bump too small")
	}

	tipDelta := new(uint256.Int).Sub(op.MaxPriorityFeePerGas, incumbent.MaxPriorityFeePerGas)
	feeDelta := new(uint256.Int).Sub(op.MaxFeePerGas, incumbent.MaxFeePerGas)
	if tipDelta.Cmp(feeDelta) != 0 {
		return common.Hash{}, false, rpcerr.New(rpcerr.KindSenderVerification, "replacement does not raise max_fee_per_gas by an equal uplift")
	}

	hash, err := incumbent.Hash(entryPoint, chainID)
	if err != nil {
		return common.Hash{}, false, rpcerr.Wrap(err)
	}
	return hash, true, nil
}

// bumpedTip returns tip * (1 + pct/100), computed in integer arithmetic as
// tip + tip*pct/100 to avoid any floating point in gas arithmetic.
func bumpedTip(tip *uint256.Int, pct uint64) *uint256.Int {
	bump := new(uint256.Int).Mul(tip, uint256.NewInt(pct))
	bump.Div(bump, uint256.NewInt(100))
	return new(uint256.Int).Add(tip, bump)
}
