package validate

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/aabundler/uopool/params"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/rpcerr"
)

// checkSignatureAndExpiration enforces Phase B rule 1: the simulator must
// report success with a validity window that covers "now" with a margin
// of ExpirationBufferSec.
func checkSignatureAndExpiration(res *ValidationResult, now uint64, cfg Config) error {
	if res.SigFailed {
		return rpcerr.New(rpcerr.KindSignature, "signature validation failed")
	}
	if res.ValidAfter > now {
		return &rpcerr.Error{Kind: rpcerr.KindExpiration, Message: "operation not yet valid", Data: params.UnixTimestampToTime(res.ValidAfter * 1000)}
	}
	if res.ValidUntil != 0 && res.ValidUntil <= now+cfg.ExpirationBufferSec {
		return &rpcerr.Error{Kind: rpcerr.KindExpiration, Message: "operation expires within the buffer window", Data: params.UnixTimestampToTime(res.ValidUntil * 1000)}
	}
	return nil
}

// checkAggregator enforces Phase B rule 2: a named aggregator must be
// among the configured trusted set.
func checkAggregator(res *ValidationResult, trusted map[common.Address]struct{}) error {
	if !res.HasAggregator {
		return nil
	}
	if _, ok := trusted[res.Aggregator]; !ok {
		return rpcerr.New(rpcerr.KindSignatureAggregator, "aggregator is not in the trusted set")
	}
	return nil
}

// checkGlobalStateStake enforces Phase B rule 3: any entity whose trace
// touched global state must pass a stake check.
func checkGlobalStateStake(engine *reputation.Engine, traces []EntityTrace, stakeOf func(common.Address) reputation.StakeInfo) error {
	for _, trace := range traces {
		if !trace.AccessedGlobal {
			continue
		}
		if err := engine.VerifyStake(trace.Entity, stakeOf(trace.Entity)); err != nil {
			return rpcerr.New(rpcerr.KindStakeTooLow, "entity accessed global state without sufficient stake")
		}
	}
	return nil
}
