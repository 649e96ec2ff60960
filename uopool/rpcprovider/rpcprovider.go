// Package rpcprovider implements validate.ChainProvider against a real
// execution-layer node over JSON-RPC, using go-ethereum's ethclient and rpc
// packages the way the rest of the go-ethereum-family tooling talks to a
// node. Its validate.EntryPoint methods make no contract calls: the two
// simulations return errors and deposit info is the zero value.
package rpcprovider

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/aabundler/uopool/uotypes"
	"github.com/aabundler/uopool/validate"
)

// codeCacheSize bounds the EXTCODEHASH/getCode cache: one entry per address
// observed during a validation run, recent-accessed entries favoured the
// way the chain layer caches recent signatures.
const codeCacheSize = 4096

// Client wraps an execution-layer JSON-RPC connection and implements both
// collaborator interfaces the validation pipeline consumes. A bundler
// process runs many concurrent validations against overlapping senders,
// factories and paymasters, so code lookups are cached and in-flight code
// requests for the same address are collapsed rather than hammering the
// node with duplicate calls. Deposit lookups are not cached.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client

	entryPoint common.Address

	codeCache *lru.ARCCache
	codeGroup singleflight.Group
}

// Dial connects to a node at rawurl and returns a Client bound to
// entryPoint.
func Dial(rawurl string, entryPoint common.Address) (*Client, error) {
	rc, err := rpc.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("rpcprovider: dial %s: %w", rawurl, err)
	}
	cache, err := lru.NewARC(codeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("rpcprovider: new code cache: %w", err)
	}
	return &Client{eth: ethclient.NewClient(rc), rpc: rc, entryPoint: entryPoint, codeCache: cache}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// GetLatestBlock implements validate.ChainProvider.
func (c *Client) GetLatestBlock(ctx context.Context) (*validate.BlockInfo, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcprovider: header by number: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	return &validate.BlockInfo{Number: header.Number.Uint64(), BaseFeePerGas: baseFee}, nil
}

// GetCode implements validate.ChainProvider. Results are cached per address
// and concurrent lookups for the same address during a cache miss share a
// single RPC round trip.
func (c *Client) GetCode(ctx context.Context, addr common.Address) ([]byte, error) {
	if v, ok := c.codeCache.Get(addr); ok {
		return v.([]byte), nil
	}
	v, err, _ := c.codeGroup.Do(addr.Hex(), func() (interface{}, error) {
		code, err := c.eth.CodeAt(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		c.codeCache.Add(addr, code)
		return code, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetGasPrice implements validate.ChainProvider.
func (c *Client) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// DebugTraceCall implements validate.ChainProvider by issuing a
// debug_traceCall against the EntryPoint's simulateValidation entry
// point. Decoding the raw per-opcode/per-slot trace into typed
// validate.EntityTrace events is execution-client-specific (each client
// ships its own custom tracer for ERC-4337 validation) and is not done
// here: the raw result is discarded and an empty trace (no events) is
// returned, so Phase C's rules see no events from this provider.
func (c *Client) DebugTraceCall(ctx context.Context, op *uotypes.UserOperation) ([]validate.EntityTrace, error) {
	var raw interface{}
	msg := callArgsFor(c.entryPoint, op)
	if err := c.rpc.CallContext(ctx, &raw, "debug_traceCall", msg, "latest", map[string]string{"tracer": "erc4337Tracer"}); err != nil {
		return nil, fmt.Errorf("rpcprovider: debug_traceCall: %w", err)
	}
	return nil, nil
}

func callArgsFor(entryPoint common.Address, op *uotypes.UserOperation) ethereum.CallMsg {
	return ethereum.CallMsg{To: &entryPoint, Data: op.CallData}
}

// SimulateValidation implements validate.EntryPoint without calling the
// node: it always returns an error. ABI encoding of the UserOperation
// tuple and decoding of the ValidationResult is contract ABI surface,
// explicitly out of this package's scope.
func (c *Client) SimulateValidation(ctx context.Context, op *uotypes.UserOperation) (*validate.ValidationResult, error) {
	return nil, fmt.Errorf("rpcprovider: simulateValidation requires an EntryPoint ABI binding")
}

// SimulateHandleOp implements validate.EntryPoint without calling the
// node: it always returns an error, for the same reason as
// SimulateValidation.
func (c *Client) SimulateHandleOp(ctx context.Context, op *uotypes.UserOperation) (*validate.ExecutionResult, error) {
	return nil, fmt.Errorf("rpcprovider: simulateHandleOp requires an EntryPoint ABI binding")
}

// GetDepositInfo implements validate.EntryPoint without calling the node:
// it returns a zero deposit and zero stake, unstaked, for every address.
func (c *Client) GetDepositInfo(ctx context.Context, addr common.Address) (*validate.DepositInfo, error) {
	return &validate.DepositInfo{Deposit: uint256.NewInt(0), Stake: uint256.NewInt(0)}, nil
}
