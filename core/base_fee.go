package core

import (
	"github.com/holiman/uint256"

	"github.com/solstice-l2/solstice/core/types"
)

// baseFeeChangeDenominator bounds per-block base-fee movement to 1/8.
const baseFeeChangeDenominator = 8

// NextBaseFee computes the base fee for the block after parent. The target
// is half the gas limit; the fee moves toward usage by at most 1/8 per
// block and floors at zero without wrapping.
func NextBaseFee(parent *types.Header) uint64 {
	target := parent.GasLimit / 2
	if target == 0 || parent.GasUsed == target {
		return parent.BaseFee
	}

	base := uint256.NewInt(parent.BaseFee)
	denom := new(uint256.Int).Mul(uint256.NewInt(target), uint256.NewInt(baseFeeChangeDenominator))

	if parent.GasUsed > target {
		diff := uint256.NewInt(parent.GasUsed - target)
		delta := new(uint256.Int).Mul(base, diff)
		delta.Div(delta, denom)
		if delta.IsZero() {
			delta.SetOne()
		}
		next := new(uint256.Int).Add(base, delta)
		if !next.IsUint64() {
			return ^uint64(0)
		}
		return next.Uint64()
	}

	diff := uint256.NewInt(target - parent.GasUsed)
	delta := new(uint256.Int).Mul(base, diff)
	delta.Div(delta, denom)
	if delta.Cmp(base) >= 0 {
		return 0
	}
	return new(uint256.Int).Sub(base, delta).Uint64()
}
