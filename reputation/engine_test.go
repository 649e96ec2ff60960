package reputation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{
		MinInclusionRateDenominator: 10,
		ThrottlingSlack:             10,
		BanSlack:                    10,
	}
}

func TestGetStatusMissingEntryIsOK(t *testing.T) {
	e := NewEngine(NewMemDB(), testConfig())
	addr := common.HexToAddress("0x1")
	status, err := e.GetStatus(addr)
	assert.Nil(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestGetStatusWhitelistOverridesBanned(t *testing.T) {
	addr := common.HexToAddress("0x1")
	cfg := testConfig()
	cfg.Whitelist = map[common.Address]struct{}{addr: {}}
	e := NewEngine(NewMemDB(), cfg)
	assert.Nil(t, e.SetReputation([]Entry{{Address: addr, OpsSeen: 1000, OpsIncluded: 0}}))

	status, err := e.GetStatus(addr)
	assert.Nil(t, err)
	assert.Equal(t, StatusOK, status)
}

func TestGetStatusBlacklistOverridesOK(t *testing.T) {
	addr := common.HexToAddress("0x1")
	cfg := testConfig()
	cfg.Blacklist = map[common.Address]struct{}{addr: {}}
	e := NewEngine(NewMemDB(), cfg)

	status, err := e.GetStatus(addr)
	assert.Nil(t, err)
	assert.Equal(t, StatusBanned, status)
}

// TestReputationBanScenario reproduces E6: (seen, included) = (1000, 0)
// derives BANNED, and a VerifyStake call against the same address fails
// with EntityBanned.
func TestReputationBanScenario(t *testing.T) {
	addr := common.HexToAddress("0x3")
	e := NewEngine(NewMemDB(), testConfig())
	assert.Nil(t, e.SetReputation([]Entry{{Address: addr, OpsSeen: 1000, OpsIncluded: 0}}))

	status, err := e.GetStatus(addr)
	assert.Nil(t, err)
	assert.Equal(t, StatusBanned, status)

	err = e.VerifyStake(addr, StakeInfo{Staked: true, Stake: 1000, UnstakeDelaySec: 1000})
	assert.Equal(t, ErrEntityBanned, err)
}

// TestTickDecayScenario reproduces E7: (24, 24) decays to (23, 23) after
// one tick, and to an absent entry after 24 total ticks.
func TestTickDecayScenario(t *testing.T) {
	addr := common.HexToAddress("0x4")
	e := NewEngine(NewMemDB(), testConfig())
	assert.Nil(t, e.SetReputation([]Entry{{Address: addr, OpsSeen: 24, OpsIncluded: 24}}))

	assert.Nil(t, e.Tick())
	entry, ok, err := e.store.Get(addr)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(23), entry.OpsSeen)
	assert.Equal(t, uint64(23), entry.OpsIncluded)

	for i := 0; i < 23; i++ {
		assert.Nil(t, e.Tick())
	}

	_, ok, err = e.store.Get(addr)
	assert.Nil(t, err)
	assert.False(t, ok)
}

func TestIncrementSeenUpserts(t *testing.T) {
	addr := common.HexToAddress("0x5")
	e := NewEngine(NewMemDB(), testConfig())
	assert.Nil(t, e.IncrementSeen(addr))
	assert.Nil(t, e.IncrementSeen(addr))

	entry, ok, err := e.store.Get(addr)
	assert.Nil(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), entry.OpsSeen)
}

func TestUpdateHandleOpsRevertFloorsAtZero(t *testing.T) {
	addr := common.HexToAddress("0x6")
	e := NewEngine(NewMemDB(), testConfig())
	assert.Nil(t, e.SetReputation([]Entry{{Address: addr, OpsSeen: 1, OpsIncluded: 0}}))

	assert.Nil(t, e.UpdateHandleOpsRevert(addr))
	entry, _, err := e.store.Get(addr)
	assert.Nil(t, err)
	assert.Equal(t, uint64(0), entry.OpsIncluded)
}

func TestVerifyStakeRejectsZeroStake(t *testing.T) {
	addr := common.HexToAddress("0x7")
	e := NewEngine(NewMemDB(), testConfig())
	err := e.VerifyStake(addr, StakeInfo{Stake: 0})
	assert.Equal(t, ErrStakeIsZero, err)
}

func TestVerifyStakeRejectsLowStake(t *testing.T) {
	addr := common.HexToAddress("0x8")
	cfg := testConfig()
	cfg.MinStake = 100
	e := NewEngine(NewMemDB(), cfg)
	err := e.VerifyStake(addr, StakeInfo{Stake: 10, UnstakeDelaySec: 1000})
	assert.Equal(t, ErrStakeTooLow, err)
}

func TestVerifyStakeRejectsLowUnstakeDelay(t *testing.T) {
	addr := common.HexToAddress("0x9")
	cfg := testConfig()
	cfg.MinStake = 1
	cfg.MinUnstakeDelaySec = 1000
	e := NewEngine(NewMemDB(), cfg)
	err := e.VerifyStake(addr, StakeInfo{Stake: 10, UnstakeDelaySec: 1})
	assert.Equal(t, ErrUnstakeDelayTooLow, err)
}

func TestVerifyStakeSucceeds(t *testing.T) {
	addr := common.HexToAddress("0xa")
	cfg := testConfig()
	cfg.MinStake = 1
	cfg.MinUnstakeDelaySec = 1
	e := NewEngine(NewMemDB(), cfg)
	assert.Nil(t, e.VerifyStake(addr, StakeInfo{Staked: true, Stake: 10, UnstakeDelaySec: 10}))
}
