// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package v4math

import "math/big"

// Amount0Delta returns the currency0 amount moved between two sqrt prices for
// a given liquidity:
//
//	amount0 = L * 2^96 * (sqrtB - sqrtA) / (sqrtA * sqrtB)
//
// The order of sqrtA and sqrtB does not matter; the result is non-negative.
func Amount0Delta(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	lo, hi := sortRatios(sqrtA, sqrtB)
	if lo.Sign() <= 0 || liquidity.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Lsh(liquidity, 96)
	num.Mul(num, new(big.Int).Sub(hi, lo))
	num.Div(num, hi)
	num.Div(num, lo)
	return num
}

// Amount1Delta returns the currency1 amount moved between two sqrt prices:
//
//	amount1 = L * (sqrtB - sqrtA) / 2^96
func Amount1Delta(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	lo, hi := sortRatios(sqrtA, sqrtB)
	out := new(big.Int).Sub(hi, lo)
	out.Mul(out, liquidity)
	out.Rsh(out, 96)
	return out
}

// AmountsForLiquidity returns the (amount0, amount1) that correspond to
// liquidity placed in [tickLower, tickUpper] at the current sqrt price.
// Three regimes:
//
//	price below range: only currency0
//	price inside range: both, split at the current sqrt price
//	price above range:  only currency1
func AmountsForLiquidity(sqrtPriceX96 *big.Int, tickLower, tickUpper int32, liquidity *big.Int) (*big.Int, *big.Int) {
	if tickLower > tickUpper {
		tickLower, tickUpper = tickUpper, tickLower
	}
	sqrtLower := SqrtRatioAtTick(tickLower)
	sqrtUpper := SqrtRatioAtTick(tickUpper)

	switch {
	case sqrtPriceX96.Cmp(sqrtLower) <= 0:
		return Amount0Delta(sqrtLower, sqrtUpper, liquidity), new(big.Int)
	case sqrtPriceX96.Cmp(sqrtUpper) >= 0:
		return new(big.Int), Amount1Delta(sqrtLower, sqrtUpper, liquidity)
	default:
		amount0 := Amount0Delta(sqrtPriceX96, sqrtUpper, liquidity)
		amount1 := Amount1Delta(sqrtLower, sqrtPriceX96, liquidity)
		return amount0, amount1
	}
}

func sortRatios(a, b *big.Int) (lo, hi *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}
