package wallet

import "math/big"

// gasBuffer returns the tiered estimated-gas multiplier from spec.md §4.3,
// keyed by calldata size.
func gasBuffer(calldataLen int) float64 {
	switch {
	case calldataLen == 0:
		return 1.20 // native transfer
	case calldataLen < 100:
		return 1.30 // simple contract call
	case calldataLen < 500:
		return 1.50 // DEX-like swap
	default:
		return 2.00 // complex/multi-hop
	}
}

// bufferedGas applies the tiered multiplier to an estimate, rounding up.
func bufferedGas(estimate uint64, calldataLen int) uint64 {
	buffered := float64(estimate) * gasBuffer(calldataLen)
	return uint64(buffered) + 1 // +1 covers the truncation from float64 conversion
}

var gweiToWei = big.NewInt(1_000_000_000)

// gweiToWeiFloat converts a gwei amount (which may be fractional, e.g. 1.5)
// to a wei *big.Int.
func gweiToWeiFloat(gwei float64) *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(gwei), new(big.Float).SetInt(gweiToWei))
	out, _ := wei.Int(nil)
	return out
}

// weiToGwei converts a wei amount to gwei as a float64, for cap comparisons.
func weiToGwei(wei *big.Int) float64 {
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), new(big.Float).SetInt(gweiToWei))
	out, _ := f.Float64()
	return out
}

// eip1559Fees computes maxPriorityFeePerGas and maxFeePerGas from the
// current base fee per spec.md §4.3: priority is the configured default;
// maxFee = 2*baseFee + priority.
func eip1559Fees(baseFeeWei *big.Int, priorityFeeGwei float64) (maxPriorityFeePerGas, maxFeePerGas *big.Int) {
	priority := gweiToWeiFloat(priorityFeeGwei)
	maxFee := new(big.Int).Mul(baseFeeWei, big.NewInt(2))
	maxFee.Add(maxFee, priority)
	return priority, maxFee
}
