package uotypes

import "github.com/holiman/uint256"

// GasOverheads are the per-UserOperation gas costs that are not visible to
// the EntryPoint's own accounting: the intrinsic transaction cost of the
// bundle tx divided across its operations, a fixed per-operation overhead,
// and a calldata cost charged per packed byte (cheaper for zero bytes,
// matching the L1 calldata gas schedule).
type GasOverheads struct {
	Fixed         uint64
	PerUserOp     uint64
	PerUserOpWord uint64
	ZeroByte      uint64
	NonZeroByte   uint64
	BundleSize    uint64
}

// DefaultGasOverheads are the overhead constants used by every known
// ERC-4337 bundler implementation, reference and production alike.
var DefaultGasOverheads = GasOverheads{
	Fixed:         21000,
	PerUserOp:     18300,
	PerUserOpWord: 4,
	ZeroByte:      4,
	NonZeroByte:   16,
	BundleSize:    1,
}

// packedForGas concatenates every UserOperation field that ends up as
// calldata on the handleOps transaction, in EntryPoint packing order, with
// the signature replaced by a fixed-size dummy (its real length is not
// known until the operation is signed, but its gas cost must be).
func (op *UserOperation) packedForGas() []byte {
	const dummySigLen = 65

	var buf []byte
	buf = append(buf, op.Sender.Bytes()...)
	buf = append(buf, leftPad32(op.Nonce)...)
	buf = append(buf, op.InitCode...)
	buf = append(buf, op.CallData...)
	buf = append(buf, leftPad32(op.CallGasLimit)...)
	buf = append(buf, leftPad32(op.VerificationGasLimit)...)
	buf = append(buf, leftPad32(op.PreVerificationGas)...)
	buf = append(buf, leftPad32(op.MaxFeePerGas)...)
	buf = append(buf, leftPad32(op.MaxPriorityFeePerGas)...)
	buf = append(buf, op.PaymasterAndData...)
	buf = append(buf, make([]byte, dummySigLen)...)
	return buf
}

func leftPad32(v *uint256.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	b := v.Bytes32()
	return b[:]
}

// CalcPreVerificationGas computes the pre_verification_gas a UserOperation
// must carry to cover the bundle transaction's intrinsic cost, the
// calldata cost of including this operation in a handleOps call, and a
// fixed per-operation overhead.
func CalcPreVerificationGas(op *UserOperation, ov GasOverheads) uint64 {
	packed := op.packedForGas()

	var callDataCost uint64
	for _, b := range packed {
		if b == 0 {
			callDataCost += ov.ZeroByte
		} else {
			callDataCost += ov.NonZeroByte
		}
	}

	lengthInWord := uint64(len(packed)+31) / 32
	bundleSize := ov.BundleSize
	if bundleSize == 0 {
		bundleSize = 1
	}

	return callDataCost + ov.Fixed/bundleSize + ov.PerUserOp + ov.PerUserOpWord*lengthInWord
}
