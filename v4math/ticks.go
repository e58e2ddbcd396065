// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package v4math implements the integer math of Uniswap v4-style pools:
// tick <-> sqrt price conversion, liquidity amount deltas, and the
// human-unit price derivation used by the indexer. All on-chain values
// are kept in arbitrary-precision integers; nothing here touches float64.
package v4math

import "math/big"

// Tick and sqrt price bounds (Q64.96 format)
var (
	MinTick int32 = -887272
	MaxTick int32 = 887272

	MinSqrtRatio    = new(big.Int).SetUint64(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q192 = new(big.Int).Lsh(big.NewInt(1), 192)
)

// sqrtRatioMagics[i] = floor(2^128 / sqrt(1.0001^(2^i))), the Q128 multiplier
// applied when bit i of |tick| is set.
var sqrtRatioMagics = mustParseMagics([]string{
	"fffcb933bd6fad37aa2d162d1a594001",
	"fff97272373d413259a46990580e213a",
	"fff2e50f5f656932ef12357cf3c7fdcc",
	"ffe5caca7e10e4e61c3624eaa0941cd0",
	"ffcb9843d60f6159c9db58835c926644",
	"ff973b41fa98c081472e6896dfb254c0",
	"ff2ea16466c96a3843ec78b326b52861",
	"fe5dee046a99a2a811c461f1969c3053",
	"fcbe86c7900a88aedcffc83b479aa3a4",
	"f987a7253ac413176f2b074cf7815e54",
	"f3392b0822b70005940c7a398e4b70f3",
	"e7159475a2c29b7443b29c7fa6e889d9",
	"d097f3bdfd2022b8845ad8f792aa5825",
	"a9f746462d870fdf8a65dc1f90e061e5",
	"70d869a156d2a1b890bb3df62baf32f7",
	"31be135f97d08fd981231505542fcfa6",
	"9aa508b5b7a84e1c677de54f3e99bc9",
	"5d6af8dedb81196699c329225ee604",
	"2216e584f5fa1ea926041bedfe98",
	"48a170391f7dc42444e8fa2",
})

func mustParseMagics(hexes []string) []*big.Int {
	out := make([]*big.Int, len(hexes))
	for i, h := range hexes {
		v, ok := new(big.Int).SetString(h, 16)
		if !ok {
			panic("v4math: bad magic constant " + h)
		}
		out[i] = v
	}
	return out
}

var (
	one128  = new(big.Int).Lsh(big.NewInt(1), 128) // 1.0 in Q128
	maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	mask32  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1))
)

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96 with the exact rounding
// of the reference TickMath library. Ticks outside [MinTick, MaxTick] are
// clamped to the boundary ratios.
func SqrtRatioAtTick(tick int32) *big.Int {
	if tick <= MinTick {
		return new(big.Int).Set(MinSqrtRatio)
	}
	if tick >= MaxTick {
		return new(big.Int).Set(MaxSqrtRatio)
	}

	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(big.Int)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioMagics[0])
	} else {
		ratio.Set(one128)
	}
	for bit := 1; bit < len(sqrtRatioMagics); bit++ {
		if absTick&(1<<bit) != 0 {
			ratio.Mul(ratio, sqrtRatioMagics[bit])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(new(big.Int).Set(maxU256), ratio)
	}

	// Q128.128 -> Q64.96, rounding up so that TickAtSqrtRatio(SqrtRatioAtTick(t)) == t.
	rem := new(big.Int).And(ratio, mask32)
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio
}

// TickAtSqrtRatio returns the largest tick whose ratio is at most the given
// sqrt price, by binary search over SqrtRatioAtTick. Inputs outside the valid
// sqrt range are clamped.
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) int32 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtRatio) <= 0 {
		return MinTick
	}
	if sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return MaxTick
	}

	low, high := MinTick, MaxTick
	for low < high {
		mid := low + (high-low+1)/2
		if SqrtRatioAtTick(mid).Cmp(sqrtPriceX96) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low
}
