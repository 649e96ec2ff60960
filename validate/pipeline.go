package validate

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/rpcerr"
	"github.com/aabundler/uopool/uotypes"
)

// Pipeline runs the three-phase validation protocol for a single
// EntryPoint deployment, parameterised over the mempool and reputation
// capability sets and over the EntryPoint/chain provider collaborators,
// rather than depending on any concrete backend.
type Pipeline struct {
	EntryPoint    common.Address
	ChainID       uint64
	Mempool       mempool.Mempool
	Reputation    *reputation.Engine
	Contract      EntryPoint
	Chain         ChainProvider
	Config        Config
	TrustedAggregators map[common.Address]struct{}
}

// Result is what a successful pipeline run reports back to the caller
// for admission: the computed hash and the code hashes observed during
// Phase C, ready to be persisted by the facade. HasReplacement and
// ReplacedHash report whether this run replaced an unstaked sender's
// existing operation and, if so, under which hash it is currently
// stored — the facade must evict that hash itself, since it shares no
// fields with the replacement's own (content-addressed) hash.
// ValidUntil is the validity-window upper bound Phase B computed, for
// the facade to persist so a later block can evict the entry once its
// window has closed.
type Result struct {
	Hash           common.Hash
	CodeHashes     []mempool.CodeHash
	SenderStaked   bool
	HasReplacement bool
	ReplacedHash   common.Hash
	ValidUntil     uint64
}

// Run executes Phase A, B and C in order, short-circuiting on the first
// failing check. It does not mutate the mempool or reputation stores:
// admission is the caller's responsibility once Run succeeds.
func (p *Pipeline) Run(ctx context.Context, op *uotypes.UserOperation, now uint64) (*Result, error) {
	hash, err := op.Hash(p.EntryPoint, p.ChainID)
	if err != nil {
		return nil, rpcerr.Wrap(fmt.Errorf("compute user operation hash: %w", err))
	}

	deps := &sanityDeps{
		mempool:    p.Mempool,
		reputation: p.Reputation,
		entryPoint: p.EntryPoint,
		chainCode:  p.Chain,
		cfg:        p.Config,
	}

	if err := checkSenderOrInitCode(ctx, deps, op); err != nil {
		return nil, err
	}
	if err := checkVerificationGas(op, p.Config); err != nil {
		return nil, err
	}

	block, err := p.Chain.GetLatestBlock(ctx)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}
	if err := checkFeeMarket(op, block.BaseFeePerGas, p.Config); err != nil {
		return nil, err
	}

	exec, err := p.Contract.SimulateHandleOp(ctx, op)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}
	if err := checkCallGasFloor(op, exec, block.BaseFeePerGas); err != nil {
		return nil, err
	}

	if err := checkEntities(deps, op); err != nil {
		return nil, err
	}

	senderStatus, err := p.Reputation.GetStatus(op.Sender)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}
	senderDeposit, err := p.Contract.GetDepositInfo(ctx, op.Sender)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}
	senderStaked := senderStatus != reputation.StatusBanned && senderDeposit.Staked
	replacedHash, hasReplacement, err := CheckReplacementSlot(p.Mempool, p.EntryPoint, p.ChainID, op, senderStaked, p.Config)
	if err != nil {
		return nil, err
	}

	// Phase B.
	valRes, err := p.Contract.SimulateValidation(ctx, op)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}
	if err := checkSignatureAndExpiration(valRes, now, p.Config); err != nil {
		return nil, err
	}
	if err := checkAggregator(valRes, p.TrustedAggregators); err != nil {
		return nil, err
	}

	traces, err := p.Chain.DebugTraceCall(ctx, op)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}

	stakeCache := make(map[common.Address]bool)
	stakedOf := func(addr common.Address) bool {
		if v, ok := stakeCache[addr]; ok {
			return v
		}
		info, err := p.Contract.GetDepositInfo(ctx, addr)
		staked := err == nil && info.Staked && p.Reputation != nil
		if staked {
			if verr := p.Reputation.VerifyStake(addr, reputation.StakeInfo{
				Staked:          info.Staked,
				Stake:           info.Stake.Uint64(),
				UnstakeDelaySec: info.UnstakeDelaySec,
			}); verr != nil {
				staked = false
			}
		}
		stakeCache[addr] = staked
		return staked
	}

	if err := checkGlobalStateStake(p.Reputation, traces, func(addr common.Address) reputation.StakeInfo {
		info, derr := p.Contract.GetDepositInfo(ctx, addr)
		if derr != nil {
			return reputation.StakeInfo{}
		}
		return reputation.StakeInfo{Staked: info.Staked, Stake: info.Stake.Uint64(), UnstakeDelaySec: info.UnstakeDelaySec}
	}); err != nil {
		return nil, err
	}

	// Phase C.
	codeHashes, err := runTraceChecks(traces, p.EntryPoint, stakedOf)
	if err != nil {
		return nil, err
	}

	return &Result{
		Hash:           hash,
		CodeHashes:     codeHashes,
		SenderStaked:   senderStaked,
		HasReplacement: hasReplacement,
		ReplacedHash:   replacedHash,
		ValidUntil:     valRes.ValidUntil,
	}, nil
}
