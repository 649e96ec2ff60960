package reputation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EntityKind names the role of an entity (account, factory, paymaster).
// VerifyStake does not take one: it applies the same rules to every
// role.
type EntityKind int

const (
	KindAccount EntityKind = iota
	KindFactory
	KindPaymaster
)

// StakeInfo is the deposit/stake data the EntryPoint reports for an
// address via getDepositInfo.
type StakeInfo struct {
	Staked          bool
	Stake           uint64
	UnstakeDelaySec uint64
}

// Config fixes the thresholds an Engine is constructed with; the
// reference bundler treats these as process-wide constants.
type Config struct {
	MinInclusionRateDenominator uint64
	ThrottlingSlack             uint64
	BanSlack                    uint64
	MinStake                    uint64
	MinUnstakeDelaySec          uint64
	Whitelist                   map[common.Address]struct{}
	Blacklist                   map[common.Address]struct{}
}

// Engine derives Status and enforces stake rules on top of a Store of raw
// counters. It holds no lock of its own: the uopool facade serializes
// access to the Store it wraps the same way it serializes the mempool.
type Engine struct {
	store Store
	cfg   Config
}

// NewEngine wraps store with the given thresholds.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Whitelist == nil {
		cfg.Whitelist = make(map[common.Address]struct{})
	}
	if cfg.Blacklist == nil {
		cfg.Blacklist = make(map[common.Address]struct{})
	}
	return &Engine{store: store, cfg: cfg}
}

// GetStatus consults the whitelist/blacklist overrides, then derives a
// Status from the entity's ReputationEntry. A never-seen entity is OK.
func (e *Engine) GetStatus(addr common.Address) (Status, error) {
	if _, ok := e.cfg.Whitelist[addr]; ok {
		return StatusOK, nil
	}
	if _, ok := e.cfg.Blacklist[addr]; ok {
		return StatusBanned, nil
	}
	entry, ok, err := e.store.Get(addr)
	if err != nil {
		return StatusOK, err
	}
	if !ok {
		return StatusOK, nil
	}
	return e.statusFromEntry(entry), nil
}

func (e *Engine) statusFromEntry(entry Entry) Status {
	den := e.cfg.MinInclusionRateDenominator
	if den == 0 {
		den = 1
	}
	minExpectedIncluded := entry.OpsSeen / den
	if entry.OpsIncluded+e.cfg.ThrottlingSlack >= minExpectedIncluded {
		return StatusOK
	}
	if entry.OpsIncluded+e.cfg.BanSlack < minExpectedIncluded {
		return StatusBanned
	}
	return StatusThrottled
}

// IncrementSeen upserts addr's entry and increments uo_seen, saturating at
// the uint64 maximum rather than overflowing.
func (e *Engine) IncrementSeen(addr common.Address) error {
	entry, _, err := e.store.Get(addr)
	if err != nil {
		return err
	}
	entry.Address = addr
	entry.OpsSeen = saturatingAdd(entry.OpsSeen, 1)
	return e.store.Set(entry)
}

// IncrementIncluded upserts addr's entry and increments uo_included,
// saturating at the uint64 maximum.
func (e *Engine) IncrementIncluded(addr common.Address) error {
	entry, _, err := e.store.Get(addr)
	if err != nil {
		return err
	}
	entry.Address = addr
	entry.OpsIncluded = saturatingAdd(entry.OpsIncluded, 1)
	return e.store.Set(entry)
}

// UpdateHandleOpsRevert decrements uo_included by at least one, floored at
// zero, attributing blame when a bundle containing addr's operation
// reverted on-chain.
func (e *Engine) UpdateHandleOpsRevert(addr common.Address) error {
	entry, ok, err := e.store.Get(addr)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if entry.OpsIncluded > 0 {
		entry.OpsIncluded--
	}
	return e.store.Set(entry)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// Stake check failure kinds, matching the ERC-4337 entity-staking rules.
var (
	ErrEntityBanned       = fmt.Errorf("reputation: entity banned")
	ErrStakeTooLow        = fmt.Errorf("reputation: stake too low")
	ErrUnstakeDelayTooLow = fmt.Errorf("reputation: unstake delay too low")
	ErrStakeIsZero        = fmt.Errorf("reputation: stake is zero")
)

// VerifyStake enforces the ERC-4337 staking rules for an entity accessing
// global state during validation: it must not be banned, must carry a
// nonzero stake meeting the configured minimum, and a sufficient unstake
// delay.
func (e *Engine) VerifyStake(addr common.Address, info StakeInfo) error {
	status, err := e.GetStatus(addr)
	if err != nil {
		return err
	}
	if status == StatusBanned {
		return ErrEntityBanned
	}
	if info.Stake == 0 {
		return ErrStakeIsZero
	}
	if info.Stake < e.cfg.MinStake {
		return ErrStakeTooLow
	}
	if info.UnstakeDelaySec < e.cfg.MinUnstakeDelaySec {
		return ErrUnstakeDelayTooLow
	}
	return nil
}

// SetReputation bulk-overwrites entries, an administrative operation used
// to seed or restore reputation state.
func (e *Engine) SetReputation(entries []Entry) error {
	for _, entry := range entries {
		if err := e.store.Set(entry); err != nil {
			return err
		}
	}
	return nil
}

// GetAll returns every stored entry.
func (e *Engine) GetAll() ([]Entry, error) {
	return e.store.GetAll()
}

// Tick decays every entry by the fixed 23/24 factor and deletes entries
// whose counters both reach zero, simulating one "reputation hour" of
// aging.
func (e *Engine) Tick() error {
	entries, err := e.store.GetAll()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		entry.OpsSeen = entry.OpsSeen * 23 / 24
		entry.OpsIncluded = entry.OpsIncluded * 23 / 24
		if entry.OpsSeen == 0 && entry.OpsIncluded == 0 {
			if err := e.store.Delete(entry.Address); err != nil {
				return err
			}
			continue
		}
		if err := e.store.Set(entry); err != nil {
			return err
		}
	}
	return nil
}
