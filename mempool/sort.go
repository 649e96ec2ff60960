package mempool

import (
	"sort"

	"github.com/aabundler/uopool/uotypes"
)

// sortForBundling orders UserOperations by descending max priority fee,
// ties broken by ascending nonce, matching the order a bundler should
// prefer when packing a handleOps call: operations offering more tip go
// first, and within equal tip, nonces are filled in order.
func sortForBundling(ops []*uotypes.UserOperation) {
	sort.SliceStable(ops, func(i, j int) bool {
		fi, fj := ops[i].MaxPriorityFeePerGas, ops[j].MaxPriorityFeePerGas
		if fi == nil || fj == nil {
			return false
		}
		cmp := fi.Cmp(fj)
		if cmp != 0 {
			return cmp > 0
		}
		ni, nj := ops[i].Nonce, ops[j].Nonce
		if ni == nil || nj == nil {
			return false
		}
		return ni.Cmp(nj) < 0
	})
}
