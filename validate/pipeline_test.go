package validate

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"

	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/rpcerr"
	"github.com/aabundler/uopool/uotypes"
)

// fakeEntryPoint is a scriptable stand-in for the on-chain EntryPoint
// contract, letting each test control exactly what simulate_validation /
// simulate_handle_op / getDepositInfo report.
type fakeEntryPoint struct {
	hasCode     map[common.Address]bool
	execPaid    *uint256.Int
	execPreOp   *uint256.Int
	valResult   *ValidationResult
	deposit     *DepositInfo
}

func (f *fakeEntryPoint) SimulateValidation(ctx context.Context, op *uotypes.UserOperation) (*ValidationResult, error) {
	if f.valResult != nil {
		return f.valResult, nil
	}
	return &ValidationResult{ValidUntil: 1 << 40}, nil
}

func (f *fakeEntryPoint) SimulateHandleOp(ctx context.Context, op *uotypes.UserOperation) (*ExecutionResult, error) {
	return &ExecutionResult{Paid: f.execPaid, PreOpGas: f.execPreOp, TargetSuccess: true}, nil
}

func (f *fakeEntryPoint) GetDepositInfo(ctx context.Context, addr common.Address) (*DepositInfo, error) {
	if f.deposit != nil {
		return f.deposit, nil
	}
	return &DepositInfo{Stake: uint256.NewInt(0)}, nil
}

type fakeChain struct {
	code    map[common.Address][]byte
	baseFee *big.Int
	traces  []EntityTrace
}

func (f *fakeChain) GetLatestBlock(ctx context.Context) (*BlockInfo, error) {
	return &BlockInfo{Number: 100, BaseFeePerGas: f.baseFee}, nil
}

func (f *fakeChain) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	return f.code[addr], nil
}

func (f *fakeChain) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1500000000), nil
}

func (f *fakeChain) DebugTraceCall(ctx context.Context, op *uotypes.UserOperation) ([]EntityTrace, error) {
	return f.traces, nil
}

func e1Op(t *testing.T) *uotypes.UserOperation {
	t.Helper()
	factory := common.HexToAddress("0xed886f2d1bbb38b4914e8c545471216a40cce938")
	return &uotypes.UserOperation{
		Sender:               common.HexToAddress("0xeF5b78898D61b7020A6DB5a39608C4B02f95b50f"),
		Nonce:                uint256.NewInt(0),
		InitCode:             append(factory.Bytes(), 0x01, 0x02),
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

func newPipeline(t *testing.T, ep *fakeEntryPoint, chain *fakeChain) (*Pipeline, common.Address) {
	t.Helper()
	entryPoint := common.HexToAddress("0x602aB3881Ff3Fa8dA60a8F44Cf633e91bA1FdB69")
	cfg := Config{
		MaxVerificationGas:          3_000_000,
		MinPriorityFeePerGas:        2,
		ReplaceBumpPct:              10,
		ThrottledEntityMempoolCount: 4,
		ExpirationBufferSec:         30,
		GasOverheads:                uotypes.DefaultGasOverheads,
	}
	repCfg := reputation.Config{MinInclusionRateDenominator: 10, ThrottlingSlack: 10, BanSlack: 10}
	return &Pipeline{
		EntryPoint: entryPoint,
		ChainID:    5,
		Mempool:    mempool.NewMemDB(),
		Reputation: reputation.NewEngine(reputation.NewMemDB(), repCfg),
		Contract:   ep,
		Chain:      chain,
		Config:     cfg,
	}, entryPoint
}

func baseChain() *fakeChain {
	return &fakeChain{code: map[common.Address][]byte{}, baseFee: big.NewInt(1_500_000_000)}
}

func baseEntryPoint() *fakeEntryPoint {
	return &fakeEntryPoint{execPaid: uint256.NewInt(1_000_000_000_000), execPreOp: uint256.NewInt(1)}
}

// TestE1ValidAdmission reproduces E1: a well-formed UserOperation passes
// every Phase A/B/C check.
func TestE1ValidAdmission(t *testing.T) {
	op := e1Op(t)
	p, _ := newPipeline(t, baseEntryPoint(), baseChain())

	res, err := p.Run(context.Background(), op, 1000)
	assert.Nil(t, err)
	assert.NotNil(t, res)
}

// TestE2RejectSenderInitCode reproduces E2: empty init_code with no
// sender code on chain is rejected as SenderOrInitCode.
func TestE2RejectSenderInitCode(t *testing.T) {
	op := e1Op(t)
	op.InitCode = []byte{}
	p, _ := newPipeline(t, baseEntryPoint(), baseChain())

	_, err := p.Run(context.Background(), op, 1000)
	rpcErr, ok := err.(*rpcerr.Error)
	assert.True(t, ok)
	assert.Equal(t, rpcerr.KindSenderOrInitCode, rpcErr.Kind)
}

// TestE3RejectGas reproduces E3's three gas-bound rejections.
func TestE3RejectGas(t *testing.T) {
	t.Run("high verification gas", func(t *testing.T) {
		op := e1Op(t)
		op.VerificationGasLimit = uint256.NewInt(2_000_000)
		p, _ := newPipeline(t, baseEntryPoint(), baseChain())
		_, err := p.Run(context.Background(), op, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindHighVerificationGasLimit, rpcErr.Kind)
	})

	t.Run("low pre-verification gas", func(t *testing.T) {
		op := e1Op(t)
		op.PreVerificationGas = uint256.NewInt(25000)
		p, _ := newPipeline(t, baseEntryPoint(), baseChain())
		_, err := p.Run(context.Background(), op, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindLowPreVerificationGas, rpcErr.Kind)
	})

	t.Run("low call gas limit", func(t *testing.T) {
		op := e1Op(t)
		op.CallGasLimit = uint256.NewInt(12000)
		ep := baseEntryPoint()
		ep.execPaid = uint256.NewInt(1_000_000_000_000_000)
		p, _ := newPipeline(t, ep, baseChain())
		_, err := p.Run(context.Background(), op, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindLowCallGasLimit, rpcErr.Kind)
	})
}

// TestE4RejectFees reproduces E4's three fee-market rejections.
func TestE4RejectFees(t *testing.T) {
	t.Run("priority exceeds max fee", func(t *testing.T) {
		op := e1Op(t)
		op.MaxPriorityFeePerGas = uint256.NewInt(150_000_000_000)
		p, _ := newPipeline(t, baseEntryPoint(), baseChain())
		_, err := p.Run(context.Background(), op, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindHighMaxPriorityFeePerGas, rpcErr.Kind)
	})

	t.Run("max fee too low vs base fee", func(t *testing.T) {
		op := e1Op(t)
		op.MaxFeePerGas = uint256.NewInt(1_500_000_010)
		p, _ := newPipeline(t, baseEntryPoint(), baseChain())
		_, err := p.Run(context.Background(), op, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindLowMaxFeePerGas, rpcErr.Kind)
	})

	t.Run("priority fee below configured minimum", func(t *testing.T) {
		op := e1Op(t)
		op.MaxPriorityFeePerGas = uint256.NewInt(1)
		op.MaxFeePerGas = uint256.NewInt(1_500_000_001)
		p, _ := newPipeline(t, baseEntryPoint(), baseChain())
		_, err := p.Run(context.Background(), op, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindLowMaxPriorityFeePerGas, rpcErr.Kind)
	})
}

// TestE5Replacement reproduces E5: a same-nonce resubmission with no fee
// bump is rejected, and a resubmission with a 10%+ tip bump and equal
// max_fee uplift is accepted.
func TestE5Replacement(t *testing.T) {
	p, entryPoint := newPipeline(t, baseEntryPoint(), baseChain())
	op := e1Op(t)

	res, err := p.Run(context.Background(), op, 1000)
	assert.Nil(t, err)
	assert.Nil(t, p.Mempool.Add(entryPoint, op, res.Hash))

	t.Run("no bump rejected", func(t *testing.T) {
		dup := op.Copy()
		_, err := p.Run(context.Background(), dup, 1000)
		rpcErr := err.(*rpcerr.Error)
		assert.Equal(t, rpcerr.KindSenderVerification, rpcErr.Kind)
	})

	t.Run("sufficient bump accepted", func(t *testing.T) {
		bumped := op.Copy()
		bumped.MaxPriorityFeePerGas = uint256.NewInt(1_650_000_000)
		bumped.MaxFeePerGas = new(uint256.Int).Add(op.MaxFeePerGas, uint256.NewInt(150_000_000))
		_, err := p.Run(context.Background(), bumped, 1000)
		assert.Nil(t, err)
	})
}

// TestE6EntityBanned reproduces E6: a paymaster whose reputation entry
// derives BANNED status is rejected as EntityBanned.
func TestE6EntityBanned(t *testing.T) {
	p, _ := newPipeline(t, baseEntryPoint(), baseChain())
	op := e1Op(t)
	paymaster := common.HexToAddress("0x3333333333333333333333333333333333333333")
	op.PaymasterAndData = append(paymaster.Bytes(), 0x01)

	assert.Nil(t, p.Reputation.SetReputation([]reputation.Entry{{Address: paymaster, OpsSeen: 1000, OpsIncluded: 0}}))

	_, err := p.Run(context.Background(), op, 1000)
	rpcErr := err.(*rpcerr.Error)
	assert.Equal(t, rpcerr.KindEntityBanned, rpcErr.Kind)
}
