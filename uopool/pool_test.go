package uopool

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/uotypes"
	"github.com/aabundler/uopool/validate"
)

type stubEntryPoint struct{}

func (stubEntryPoint) SimulateValidation(ctx context.Context, op *uotypes.UserOperation) (*validate.ValidationResult, error) {
	return &validate.ValidationResult{ValidUntil: 1 << 40}, nil
}

func (stubEntryPoint) SimulateHandleOp(ctx context.Context, op *uotypes.UserOperation) (*validate.ExecutionResult, error) {
	return &validate.ExecutionResult{Paid: uint256.NewInt(1_000_000_000_000), PreOpGas: uint256.NewInt(1), TargetSuccess: true}, nil
}

func (stubEntryPoint) GetDepositInfo(ctx context.Context, addr common.Address) (*validate.DepositInfo, error) {
	return &validate.DepositInfo{Stake: uint256.NewInt(0)}, nil
}

type stubChain struct{}

func (stubChain) GetLatestBlock(ctx context.Context) (*validate.BlockInfo, error) {
	return &validate.BlockInfo{Number: 1, BaseFeePerGas: big.NewInt(1_500_000_000)}, nil
}

func (stubChain) GetCode(ctx context.Context, addr common.Address) ([]byte, error) { return nil, nil }

func (stubChain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_500_000_000), nil
}

func (stubChain) DebugTraceCall(ctx context.Context, op *uotypes.UserOperation) ([]validate.EntityTrace, error) {
	return nil, nil
}

func testPool(t *testing.T) *Pool {
	t.Helper()
	entryPoint := common.HexToAddress("0x602aB3881Ff3Fa8dA60a8F44Cf633e91bA1FdB69")
	vcfg := validate.Config{
		MaxVerificationGas:          3_000_000,
		MinPriorityFeePerGas:        1,
		ReplaceBumpPct:              10,
		ThrottledEntityMempoolCount: 4,
		ExpirationBufferSec:         30,
		GasOverheads:                uotypes.DefaultGasOverheads,
	}
	rcfg := reputation.Config{MinInclusionRateDenominator: 10, ThrottlingSlack: 10, BanSlack: 10}
	return NewPool(entryPoint, 5, stubEntryPoint{}, stubChain{}, mempool.NewMemDB(), reputation.NewMemDB(), vcfg, rcfg)
}

func testOp(t *testing.T) *uotypes.UserOperation {
	t.Helper()
	factory := common.HexToAddress("0xed886f2d1bbb38b4914e8c545471216a40cce938")
	return &uotypes.UserOperation{
		Sender:               common.HexToAddress("0xeF5b78898D61b7020A6DB5a39608C4B02f95b50f"),
		Nonce:                uint256.NewInt(0),
		InitCode:             append(factory.Bytes(), 0x01),
		CallData:             []byte{0x01},
		CallGasLimit:         uint256.NewInt(22016),
		VerificationGasLimit: uint256.NewInt(413910),
		PreVerificationGas:   uint256.NewInt(1_000_000),
		MaxFeePerGas:         uint256.NewInt(3_000_000_000),
		MaxPriorityFeePerGas: uint256.NewInt(1_500_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
}

// TestE1AdmissionIncrementsSeen reproduces E1 end-to-end through the
// facade: admission succeeds and uo_seen is incremented for both the
// sender and the factory.
func TestE1AdmissionIncrementsSeen(t *testing.T) {
	pool := testPool(t)
	op := testOp(t)
	factory, _ := op.Factory()

	hash, err := pool.AddUserOperation(context.Background(), op)
	assert.Nil(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	got, err := pool.GetUserOperationByHash(hash)
	assert.Nil(t, err)
	assert.Equal(t, op.Sender, got.Sender)

	entries, err := pool.GetReputation()
	assert.Nil(t, err)
	seenFor := func(addr common.Address) uint64 {
		for _, e := range entries {
			if e.Address == addr {
				return e.OpsSeen
			}
		}
		return 0
	}
	assert.Equal(t, uint64(1), seenFor(op.Sender))
	assert.Equal(t, uint64(1), seenFor(factory))
}

// TestHandleSharesState verifies a cloned Handle observes admissions made
// through the original Pool, per the cheap-clone sharing requirement.
func TestHandleSharesState(t *testing.T) {
	pool := testPool(t)
	clone := pool.Handle()
	op := testOp(t)

	hash, err := pool.AddUserOperation(context.Background(), op)
	assert.Nil(t, err)

	got, err := clone.GetUserOperationByHash(hash)
	assert.Nil(t, err)
	assert.Equal(t, op.Sender, got.Sender)
}

func TestTickReputationDecaysSharedState(t *testing.T) {
	pool := testPool(t)
	assert.Nil(t, pool.SetReputation([]reputation.Entry{{Address: common.HexToAddress("0x9"), OpsSeen: 24, OpsIncluded: 24}}))
	assert.Nil(t, pool.TickReputation())

	entries, err := pool.GetReputation()
	assert.Nil(t, err)
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, uint64(23), entries[0].OpsSeen)
}

// TestE5ReplacementEvictsIncumbentThroughFacade reproduces E5 end-to-end
// through the facade: a fee-bumped replacement is content-addressed under
// a brand-new hash, so admission must explicitly evict the incumbent
// rather than relying on AddUserOperation to overwrite it.
func TestE5ReplacementEvictsIncumbentThroughFacade(t *testing.T) {
	pool := testPool(t)
	op := testOp(t)

	hash1, err := pool.AddUserOperation(context.Background(), op)
	assert.Nil(t, err)

	bumped := op.Copy()
	bumped.MaxPriorityFeePerGas = uint256.NewInt(1_650_000_000)
	bumped.MaxFeePerGas = new(uint256.Int).Add(op.MaxFeePerGas, uint256.NewInt(150_000_000))

	hash2, err := pool.AddUserOperation(context.Background(), bumped)
	assert.Nil(t, err)
	assert.NotEqual(t, hash1, hash2)

	n, err := pool.p.mempool.GetNumberBySender(pool.p.entryPoint, op.Sender)
	assert.Nil(t, err)
	assert.Equal(t, 1, n)

	_, err = pool.GetUserOperationByHash(hash1)
	assert.NotNil(t, err)

	got, err := pool.GetUserOperationByHash(hash2)
	assert.Nil(t, err)
	assert.Equal(t, bumped.MaxPriorityFeePerGas, got.MaxPriorityFeePerGas)
}

// TestE5ConcurrentReplacementsExactlyOneSucceeds fires two concurrent
// bumped replacements for the same incumbent nonce; whichever commits
// first under the lock becomes the new incumbent, the other fails the
// re-checked bump rule against it, and exactly one entry for the sender
// remains in the mempool afterward.
func TestE5ConcurrentReplacementsExactlyOneSucceeds(t *testing.T) {
	pool := testPool(t)
	op := testOp(t)

	_, err := pool.AddUserOperation(context.Background(), op)
	assert.Nil(t, err)

	bumpedA := op.Copy()
	bumpedA.MaxPriorityFeePerGas = uint256.NewInt(1_650_000_000)
	bumpedA.MaxFeePerGas = new(uint256.Int).Add(op.MaxFeePerGas, uint256.NewInt(150_000_000))

	bumpedB := op.Copy()
	bumpedB.MaxPriorityFeePerGas = uint256.NewInt(1_800_000_000)
	bumpedB.MaxFeePerGas = new(uint256.Int).Add(op.MaxFeePerGas, uint256.NewInt(300_000_000))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = pool.AddUserOperation(context.Background(), bumpedA)
	}()
	go func() {
		defer wg.Done()
		_, _ = pool.AddUserOperation(context.Background(), bumpedB)
	}()
	wg.Wait()

	n, err := pool.p.mempool.GetNumberBySender(pool.p.entryPoint, op.Sender)
	assert.Nil(t, err)
	assert.Equal(t, 1, n)
}

// TestOnNewBlockEvictsExpiredUserOperation reproduces the validity-window
// eviction condition: an admitted operation whose recorded ValidUntil has
// passed is removed on the next block tick, alongside the existing
// code-hash eviction.
func TestOnNewBlockEvictsExpiredUserOperation(t *testing.T) {
	pool := testPool(t)
	op := testOp(t)

	hash, err := pool.AddUserOperation(context.Background(), op)
	assert.Nil(t, err)

	assert.Nil(t, pool.p.mempool.SetValidUntil(pool.p.entryPoint, hash, 1))

	assert.Nil(t, pool.OnNewBlock(context.Background()))

	_, err = pool.GetUserOperationByHash(hash)
	assert.NotNil(t, err)
}

func TestGetSupportedEntryPointsAndChainID(t *testing.T) {
	pool := testPool(t)
	assert.Equal(t, uint64(5), pool.GetChainID())
	assert.Equal(t, 1, len(pool.GetSupportedEntryPoints()))
}
