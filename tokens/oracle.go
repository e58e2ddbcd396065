// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tokens owns the per-token aggregates: cumulative volumes and TVL,
// OHLC candles on three intervals, and the derived-price oracle that turns
// pool ratios into USD values.
package tokens

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	log "github.com/luxfi/log"

	"github.com/luxfi/dexindex/store"
	"github.com/luxfi/dexindex/v4math"
)

// OracleConfig pins the reference points for USD pricing. Addresses and the
// pool ID are lowercase hex.
type OracleConfig struct {
	// WrappedNative is the canonical wrapped native token; its derived
	// price is 1 by definition. The zero address (native currency held
	// directly by the pool manager) is treated the same way.
	WrappedNative string
	// Stablecoin and NativeStablePool identify the pool the native USD
	// price is read from.
	Stablecoin         string
	NativeStablePool   string
	StablecoinIsToken0 bool
	// WhitelistTokens are the quote tokens trusted for price derivation.
	WhitelistTokens []string
	// MinimumNativeLocked is the native-unit liquidity floor a pool's
	// quote side must exceed before it can price a token.
	MinimumNativeLocked sdkmath.LegacyDec
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Whitelisted reports whether address is a trusted quote token.
func (c OracleConfig) Whitelisted(address string) bool {
	for _, w := range c.WhitelistTokens {
		if w == address {
			return true
		}
	}
	return false
}

// Oracle derives token prices from pool state. It only reads the store; the
// aggregator persists the derived prices it hands back.
type Oracle struct {
	store store.Store
	cfg   OracleConfig
	log   log.Logger
}

// NewOracle returns an oracle over the given store.
func NewOracle(st store.Store, cfg OracleConfig, logger log.Logger) *Oracle {
	return &Oracle{store: st, cfg: cfg, log: logger}
}

// NativePriceUSD reads the USD price of the native token from the configured
// native/stablecoin pool. Zero until that pool exists and has traded.
func (o *Oracle) NativePriceUSD(ctx context.Context) sdkmath.LegacyDec {
	if o.cfg.NativeStablePool == "" {
		return sdkmath.LegacyZeroDec()
	}
	pool, err := o.store.GetPool(ctx, o.cfg.NativeStablePool)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.log.Warn("native price pool read failed", "pool", o.cfg.NativeStablePool, "err", err)
		}
		return sdkmath.LegacyZeroDec()
	}
	// Token0Price is currency0 per unit of currency1 and vice versa, so
	// the stablecoin side picks which ratio is USD-per-native.
	if o.cfg.StablecoinIsToken0 {
		return pool.Token0Price
	}
	return pool.Token1Price
}

// pinnedDerived returns the fixed derived price of the reference tokens:
// the wrapped native token and the zero address are 1 by definition, the
// configured stablecoin follows the inverse native USD price.
func (o *Oracle) pinnedDerived(ctx context.Context, address string) (sdkmath.LegacyDec, bool) {
	switch address {
	case o.cfg.WrappedNative, zeroAddress:
		return sdkmath.LegacyOneDec(), true
	case o.cfg.Stablecoin:
		if nativeUSD := o.NativePriceUSD(ctx); nativeUSD.IsPositive() {
			return sdkmath.LegacyOneDec().Quo(nativeUSD), true
		}
		return sdkmath.LegacyOneDec(), true
	}
	return sdkmath.LegacyZeroDec(), false
}

// DerivedNative returns the token's price in native units. Reference tokens
// are pinned; everything else is priced through its deepest whitelisted
// pool, subject to the minimum native-liquidity floor. Zero means
// unpriceable right now.
func (o *Oracle) DerivedNative(ctx context.Context, token *store.Token) sdkmath.LegacyDec {
	if d, ok := o.pinnedDerived(ctx, token.Address); ok {
		return d
	}

	best := sdkmath.LegacyZeroDec()
	bestLocked := sdkmath.LegacyZeroDec()
	for _, poolID := range token.WhitelistPools {
		pool, err := o.store.GetPool(ctx, poolID)
		if err != nil {
			continue
		}
		other, tokenIs0 := pool.OtherCurrency(token.Address)
		otherTok, err := o.store.GetToken(ctx, other)
		if err != nil {
			continue
		}
		otherDerived := otherTok.DerivedNative
		if d, ok := o.pinnedDerived(ctx, other); ok {
			otherDerived = d
		}
		if !otherDerived.IsPositive() {
			continue
		}

		otherTVL := &pool.TVL1.Int
		if !tokenIs0 {
			otherTVL = &pool.TVL0.Int
		}
		locked := v4math.HumanAmount(otherTVL, otherTok.Decimals).Mul(otherDerived)
		if !locked.GT(o.cfg.MinimumNativeLocked) || !locked.GT(bestLocked) {
			continue
		}

		// price of the token in quote-token units, then into native
		ratio := pool.Token1Price
		if !tokenIs0 {
			ratio = pool.Token0Price
		}
		best = ratio.Mul(otherDerived)
		bestLocked = locked
	}
	return best
}
