// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package v4math

import (
	"math/big"

	sdkmath "cosmossdk.io/math"
	"github.com/luxfi/geth/common"
)

var ten = big.NewInt(10)

func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(exp)), nil)
}

// PricesFromSqrtX96 derives the two human-unit token prices from a pool's
// sqrt price:
//
//	token1Price = sqrtPriceX96^2 * 10^decimals0 / (2^192 * 10^decimals1)
//	token0Price = 1 / token1Price
//
// token1Price is the amount of currency1 one unit of currency0 buys.
// A zero or nil sqrt price yields two zero prices.
func PricesFromSqrtX96(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) (token0Price, token1Price sdkmath.LegacyDec) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return sdkmath.LegacyZeroDec(), sdkmath.LegacyZeroDec()
	}

	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	num.Mul(num, pow10(decimals0))
	num.Mul(num, pow10(sdkmath.LegacyPrecision)) // scale so the quotient keeps 18 fractional digits
	den := new(big.Int).Mul(Q192, pow10(decimals1))
	num.Div(num, den)

	token1Price = sdkmath.LegacyNewDecFromBigIntWithPrec(num, sdkmath.LegacyPrecision)
	if token1Price.IsZero() {
		return sdkmath.LegacyZeroDec(), token1Price
	}
	token0Price = sdkmath.LegacyOneDec().Quo(token1Price)
	return token0Price, token1Price
}

// HumanAmount converts a raw token amount to human units as a fixed-precision
// decimal, dividing by 10^decimals.
func HumanAmount(amount *big.Int, decimals uint8) sdkmath.LegacyDec {
	if amount == nil {
		return sdkmath.LegacyZeroDec()
	}
	return sdkmath.LegacyNewDecFromBigInt(amount).QuoInt(sdkmath.NewIntFromBigInt(pow10(decimals)))
}

// PoolKeyID computes the canonical 32-byte pool identifier:
// keccak256 of the ABI-encoded (currency0, currency1, fee, tickSpacing, hooks)
// tuple, matching the pool manager's PoolId derivation.
func PoolKeyID(currency0, currency1 common.Address, fee uint32, tickSpacing int32, hooks common.Address) common.Hash {
	buf := make([]byte, 5*32)
	copy(buf[12:32], currency0.Bytes())
	copy(buf[44:64], currency1.Bytes())
	new(big.Int).SetUint64(uint64(fee)).FillBytes(buf[64:96])
	spacing := big.NewInt(int64(tickSpacing))
	if spacing.Sign() < 0 {
		// two's-complement word
		spacing.Add(spacing, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	spacing.FillBytes(buf[96:128])
	copy(buf[140:160], hooks.Bytes())
	return common.Keccak256Hash(buf)
}
