// Package uopool implements the UoPool facade: the public operation set
// external collaborators (a JSON-RPC adapter, a bundler submission loop)
// use to submit, inspect and evict UserOperations, built on top of the
// mempool, reputation and validate packages.
package uopool

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/rpcerr"
	"github.com/aabundler/uopool/uotypes"
	"github.com/aabundler/uopool/validate"
)

// Published is the tuple emitted on the optional publish channel after a
// UserOperation is admitted. VerifiedBlockNumber is the latest block
// number read once validation has succeeded.
type Published struct {
	Op                 *uotypes.UserOperation
	VerifiedBlockNumber *uint256.Int
}

// EstimateResult is what EstimateUserOperationGas reports back without
// admitting the operation.
type EstimateResult struct {
	PreVerificationGas   uint64
	VerificationGasLimit uint64
	CallGasLimit         uint64
}

// pool is the shared, lock-guarded state behind every Handle cloned from
// the same builder call. A single *sync.RWMutex orders every mutation:
// read operations (Get, GetSorted, reputation lookups) take a shared
// lock; mutating operations (Add, Remove, Tick) take an exclusive lock.
// Simulation work runs with no lock held; state is re-checked atomically
// at admission time inside the exclusive section.
type pool struct {
	mu sync.RWMutex

	entryPoint  common.Address
	chainID     uint64
	mempool     mempool.Mempool
	reputation  *reputation.Engine
	contract    validate.EntryPoint
	chain       validate.ChainProvider
	cfg         validate.Config
	trustedAggregators map[common.Address]struct{}
	providerTimeout     time.Duration

	publish chan Published
}

// Pool is a cheap, shareable handle onto a pool's state: cloning a Pool
// value copies only the pointer, never the underlying mutex or stores.
type Pool struct {
	p *pool
}

// Option configures optional facade behavior at construction time.
type Option func(*pool)

// WithPublishChannel installs ch as the channel Published events are sent
// on after admission. Sends never block: if ch is full, the event is
// dropped, since pool state (not the channel) is authoritative.
func WithPublishChannel(ch chan Published) Option {
	return func(p *pool) { p.publish = ch }
}

// WithTrustedAggregators installs the set of aggregator addresses Phase B
// accepts.
func WithTrustedAggregators(addrs []common.Address) Option {
	return func(p *pool) {
		set := make(map[common.Address]struct{}, len(addrs))
		for _, a := range addrs {
			set[a] = struct{}{}
		}
		p.trustedAggregators = set
	}
}

// WithProviderTimeout overrides the default 10-second deadline applied to
// every EntryPoint/ChainProvider call made during validation.
func WithProviderTimeout(d time.Duration) Option {
	return func(p *pool) { p.providerTimeout = d }
}

// NewPool constructs a UoPool handle from its backends and collaborators.
func NewPool(
	entryPoint common.Address,
	chainID uint64,
	contract validate.EntryPoint,
	chain validate.ChainProvider,
	mp mempool.Mempool,
	reputationStore reputation.Store,
	cfg validate.Config,
	repCfg reputation.Config,
	opts ...Option,
) *Pool {
	p := &pool{
		entryPoint:      entryPoint,
		chainID:         chainID,
		mempool:         mp,
		reputation:      reputation.NewEngine(reputationStore, repCfg),
		contract:        contract,
		chain:           chain,
		cfg:             cfg,
		providerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return &Pool{p: p}
}

// Handle returns a cheap clone of h sharing the same lock-guarded state.
func (h *Pool) Handle() *Pool {
	return &Pool{p: h.p}
}

func (h *Pool) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.p.providerTimeout)
}

// AddUserOperation runs the validation pipeline for op and, on success,
// admits it: evicts any unstaked-sender incumbent it replaces, inserts op
// into the mempool, increments uo_seen for every named entity, persists
// any code hashes and the validity-window upper bound observed during
// simulation, and emits a Published event. No lock is held while the
// pipeline simulates; the mempool lock is re-acquired only to commit the
// admission, and the replacement-slot precondition is re-checked against
// live mempool state inside that same locked section — Phase A's earlier,
// unlocked run of the check can otherwise be stale by the time this
// operation reaches the front of the lock, letting two concurrent
// replacements of the same slot both succeed.
func (h *Pool) AddUserOperation(ctx context.Context, op *uotypes.UserOperation) (common.Hash, error) {
	p := h.p
	cctx, cancel := h.withTimeout(ctx)
	defer cancel()

	p.mu.RLock()
	pipeline := &validate.Pipeline{
		EntryPoint:         p.entryPoint,
		ChainID:            p.chainID,
		Mempool:            p.mempool,
		Reputation:         p.reputation,
		Contract:           p.contract,
		Chain:              p.chain,
		Config:             p.cfg,
		TrustedAggregators: p.trustedAggregators,
	}
	p.mu.RUnlock()

	result, err := pipeline.Run(cctx, op, uint64(nowUnix()))
	if err != nil {
		return common.Hash{}, err
	}
	block, err := p.chain.GetLatestBlock(cctx)
	if err != nil {
		return common.Hash{}, rpcerr.Wrap(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-run the replacement-slot precondition against the mempool's
	// current state, under the lock that also commits the admission:
	// Phase A's result was computed unlocked and may be stale by the
	// time op reaches the front of the lock, if a concurrent admission
	// for the same sender committed in between.
	replacedHash, hasReplacement, rerr := validate.CheckReplacementSlot(p.mempool, p.entryPoint, p.chainID, op, result.SenderStaked, p.cfg)
	if rerr != nil {
		return common.Hash{}, rerr
	}
	if hasReplacement {
		if err := p.mempool.Remove(p.entryPoint, replacedHash); err != nil && err != mempool.ErrNotFound {
			return common.Hash{}, rpcerr.Wrap(err)
		}
	}

	if err := p.mempool.Add(p.entryPoint, op, result.Hash); err != nil {
		return common.Hash{}, rpcerr.Wrap(err)
	}
	if len(result.CodeHashes) > 0 {
		if err := p.mempool.SetCodeHashes(p.entryPoint, result.Hash, result.CodeHashes); err != nil {
			return common.Hash{}, rpcerr.Wrap(err)
		}
	}
	if result.ValidUntil != 0 {
		if err := p.mempool.SetValidUntil(p.entryPoint, result.Hash, result.ValidUntil); err != nil {
			return common.Hash{}, rpcerr.Wrap(err)
		}
	}
	for _, entity := range op.Entities() {
		if err := p.reputation.IncrementSeen(entity.Address); err != nil {
			return common.Hash{}, rpcerr.Wrap(err)
		}
	}

	if p.publish != nil {
		select {
		case p.publish <- Published{Op: op.Copy(), VerifiedBlockNumber: uint256.NewInt(block.Number)}:
		default:
		}
	}

	return result.Hash, nil
}

// RemoveUserOperation removes the UserOperation stored under hash.
// Removal is idempotent: removing an already-absent hash is not an
// error.
func (h *Pool) RemoveUserOperation(hash common.Hash) error {
	p := h.p
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.mempool.Remove(p.entryPoint, hash)
	if err == mempool.ErrNotFound {
		return nil
	}
	return err
}

// RemoveUserOperations removes every hash in hashes, idempotently.
func (h *Pool) RemoveUserOperations(hashes []common.Hash) error {
	for _, hash := range hashes {
		if err := h.RemoveUserOperation(hash); err != nil {
			return err
		}
	}
	return nil
}

// EstimateUserOperationGas runs the Phase A checks that require it and a
// simulate_handle_op probe, without admitting op.
func (h *Pool) EstimateUserOperationGas(ctx context.Context, op *uotypes.UserOperation) (*EstimateResult, error) {
	p := h.p
	cctx, cancel := h.withTimeout(ctx)
	defer cancel()

	block, err := p.chain.GetLatestBlock(cctx)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}
	exec, err := p.contract.SimulateHandleOp(cctx, op)
	if err != nil {
		return nil, rpcerr.Wrap(err)
	}

	preVerificationGas := uotypes.CalcPreVerificationGas(op, p.cfg.GasOverheads)

	effectiveGasPrice := op.MaxFeePerGas
	maxPriorityPlusBase, overflow := uint256.FromBig(block.BaseFeePerGas)
	if !overflow {
		maxPriorityPlusBase = new(uint256.Int).Add(op.MaxPriorityFeePerGas, maxPriorityPlusBase)
		if maxPriorityPlusBase.Cmp(effectiveGasPrice) < 0 {
			effectiveGasPrice = maxPriorityPlusBase
		}
	}

	var callGasLimit uint64
	if !effectiveGasPrice.IsZero() && exec.Paid.Cmp(new(uint256.Int).Mul(exec.PreOpGas, effectiveGasPrice)) >= 0 {
		preOpCost := new(uint256.Int).Mul(exec.PreOpGas, effectiveGasPrice)
		remaining := new(uint256.Int).Sub(exec.Paid, preOpCost)
		required := new(uint256.Int).Div(remaining, effectiveGasPrice)
		required.AddUint64(required, validate.CallStipend)
		callGasLimit = required.Uint64()
	}

	return &EstimateResult{
		PreVerificationGas:   preVerificationGas,
		VerificationGasLimit: op.VerificationGasLimit.Uint64(),
		CallGasLimit:         callGasLimit,
	}, nil
}

// GetSortedUserOperations returns every admitted UserOperation ordered by
// descending tip, ties broken by ascending nonce.
func (h *Pool) GetSortedUserOperations() ([]*uotypes.UserOperation, error) {
	p := h.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mempool.GetSorted(p.entryPoint)
}

// GetUserOperationByHash looks up the UserOperation stored under hash.
func (h *Pool) GetUserOperationByHash(hash common.Hash) (*uotypes.UserOperation, error) {
	p := h.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	op, err := p.mempool.Get(p.entryPoint, hash)
	if err == mempool.ErrNotFound {
		return nil, rpcerr.New(rpcerr.KindNotFound, "user operation not found")
	}
	return op, err
}

// GetUserOperationReceipt always returns a NotFound error: the pool holds
// no receipt state, and no execution-layer lookup is made.
func (h *Pool) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*validate.ExecutionResult, error) {
	return nil, rpcerr.New(rpcerr.KindNotFound, "receipt lookup requires an execution-layer adapter")
}

// GetSupportedEntryPoints returns the single EntryPoint this pool serves.
func (h *Pool) GetSupportedEntryPoints() []common.Address {
	return []common.Address{h.p.entryPoint}
}

// GetChainID returns the chain this pool validates UserOperations
// against.
func (h *Pool) GetChainID() uint64 {
	return h.p.chainID
}

// SetReputation bulk-overwrites reputation entries, an administrative
// operation.
func (h *Pool) SetReputation(entries []reputation.Entry) error {
	p := h.p
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reputation.SetReputation(entries)
}

// GetReputation returns every stored reputation entry.
func (h *Pool) GetReputation() ([]reputation.Entry, error) {
	p := h.p
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reputation.GetAll()
}

// TickReputation runs one reputation decay tick.
func (h *Pool) TickReputation() error {
	p := h.p
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reputation.Tick()
}

// OnNewBlock re-reads on-chain code for every tracked contract and evicts
// UserOperations whose tracked code hashes changed since simulation, and
// separately evicts any UserOperation whose validity window (ValidUntil,
// as recorded at admission time) has closed.
func (h *Pool) OnNewBlock(ctx context.Context) error {
	p := h.p
	cctx, cancel := h.withTimeout(ctx)
	defer cancel()

	p.mu.RLock()
	ops, err := p.mempool.GetAll(p.entryPoint)
	p.mu.RUnlock()
	if err != nil {
		return rpcerr.Wrap(err)
	}

	now := uint64(nowUnix())
	var toEvict []common.Hash
	for _, op := range ops {
		hash, err := op.Hash(p.entryPoint, p.chainID)
		if err != nil {
			continue
		}

		p.mu.RLock()
		validUntil, ok, verr := p.mempool.GetValidUntil(p.entryPoint, hash)
		p.mu.RUnlock()
		if verr == nil && ok && validUntil != 0 && validUntil <= now {
			toEvict = append(toEvict, hash)
			continue
		}

		p.mu.RLock()
		hashes, err := p.mempool.GetCodeHashes(p.entryPoint, hash)
		p.mu.RUnlock()
		if err != nil || len(hashes) == 0 {
			continue
		}
		for _, ch := range hashes {
			code, err := p.chain.GetCode(cctx, ch.Address)
			if err != nil {
				continue
			}
			if common.BytesToHash(crypto256(code)) != ch.Hash {
				toEvict = append(toEvict, hash)
				break
			}
		}
	}

	if len(toEvict) == 0 {
		return nil
	}
	return h.RemoveUserOperations(toEvict)
}
