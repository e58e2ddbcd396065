// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tokens

import (
	"context"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/dexindex/bus"
	"github.com/luxfi/dexindex/store"
	"github.com/luxfi/dexindex/v4math"
)

// MetadataSource fetches ERC-20 metadata, returning defaults on failure.
// Satisfied by chain.Client.
type MetadataSource interface {
	TokenMetadata(ctx context.Context, token common.Address) (uint8, string, string)
}

const decimalsCacheSize = 8192

// feeDenominator converts a pool fee (hundredths of a bip) to a fraction.
var feeDenominator = sdkmath.LegacyNewDec(1_000_000)

// Aggregator folds persisted swaps into token aggregates and candles, keeps
// token metadata fresh and publishes pipeline products on the bus. It is the
// sole writer of token and candle rows.
type Aggregator struct {
	store    store.Store
	metadata MetadataSource
	oracle   *Oracle
	bus      *bus.Bus
	decimals *lru.Cache[string, uint8]
	log      log.Logger
}

// NewAggregator wires the aggregator to its store, metadata source, oracle
// and bus.
func NewAggregator(st store.Store, metadata MetadataSource, oracle *Oracle, b *bus.Bus, logger log.Logger) (*Aggregator, error) {
	decimals, err := lru.New[string, uint8](decimalsCacheSize)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		store:    st,
		metadata: metadata,
		oracle:   oracle,
		bus:      b,
		decimals: decimals,
		log:      logger,
	}, nil
}

// TokenDecimals resolves decimals through cache, store, then chain. Unknown
// tokens resolve to the 18-decimal default.
func (a *Aggregator) TokenDecimals(ctx context.Context, address string) uint8 {
	if d, ok := a.decimals.Get(address); ok {
		return d
	}
	tok, err := a.ensureTokenMetadata(ctx, address)
	if err != nil {
		a.log.Warn("token decimals lookup failed, using default", "token", address, "err", err)
		return store.DefaultDecimals
	}
	return tok.Decimals
}

// ensureTokenMetadata makes sure a token row exists and, while it still
// carries placeholder metadata, retries the ERC-20 calls on each sighting.
func (a *Aggregator) ensureTokenMetadata(ctx context.Context, address string) (*store.Token, error) {
	tok, err := a.store.EnsureToken(ctx, address)
	if err != nil {
		return nil, err
	}
	if tok.HasDefaultMetadata() && address != zeroAddress {
		decimals, symbol, name := a.metadata.TokenMetadata(ctx, common.HexToAddress(address))
		if symbol != store.DefaultSymbol || name != store.DefaultName || decimals != tok.Decimals {
			if err := a.store.SetTokenMetadata(ctx, address, decimals, symbol, name); err != nil {
				return nil, err
			}
			tok.Decimals, tok.Symbol, tok.Name = decimals, symbol, name
		}
	}
	a.decimals.Add(address, tok.Decimals)
	return tok, nil
}

// RegisterPool ensures both pool tokens exist and links the pool into the
// whitelist-pool set of any side quoted by a trusted token.
func (a *Aggregator) RegisterPool(ctx context.Context, pool *store.Pool) error {
	for _, addr := range []string{pool.Currency0, pool.Currency1} {
		if _, err := a.ensureTokenMetadata(ctx, addr); err != nil {
			return fmt.Errorf("ensure token %s: %w", addr, err)
		}
	}
	if a.oracle.cfg.Whitelisted(pool.Currency1) {
		if err := a.store.AddWhitelistPool(ctx, pool.Currency0, pool.PoolID); err != nil {
			return err
		}
	}
	if a.oracle.cfg.Whitelisted(pool.Currency0) {
		if err := a.store.AddWhitelistPool(ctx, pool.Currency1, pool.PoolID); err != nil {
			return err
		}
	}
	return nil
}

// swapValuation is the USD view of one swap, computed once per swap and
// shared by both token folds.
type swapValuation struct {
	token0, token1     *store.Token
	derived0, derived1 sdkmath.LegacyDec
	price0, price1     sdkmath.LegacyDec // USD per human unit
	usd0, usd1         sdkmath.LegacyDec // abs side values
}

func (a *Aggregator) value(ctx context.Context, pool *store.Pool, ev *store.SwapEvent) (*swapValuation, error) {
	tok0, err := a.ensureTokenMetadata(ctx, pool.Currency0)
	if err != nil {
		return nil, fmt.Errorf("ensure token %s: %w", pool.Currency0, err)
	}
	tok1, err := a.ensureTokenMetadata(ctx, pool.Currency1)
	if err != nil {
		return nil, fmt.Errorf("ensure token %s: %w", pool.Currency1, err)
	}

	nativeUSD := a.oracle.NativePriceUSD(ctx)
	v := &swapValuation{
		token0:   tok0,
		token1:   tok1,
		derived0: a.oracle.DerivedNative(ctx, tok0),
		derived1: a.oracle.DerivedNative(ctx, tok1),
	}
	v.price0 = v.derived0.Mul(nativeUSD)
	v.price1 = v.derived1.Mul(nativeUSD)
	v.usd0 = v4math.HumanAmount(new(big.Int).Abs(&ev.Amount0.Int), tok0.Decimals).Mul(v.price0)
	v.usd1 = v4math.HumanAmount(new(big.Int).Abs(&ev.Amount1.Int), tok1.Decimals).Mul(v.price1)
	return v, nil
}

// AmountUSD values a swap before it is persisted: the larger priceable side
// wins, zero when neither side is priceable yet. Read-only.
func (a *Aggregator) AmountUSD(ctx context.Context, pool *store.Pool, ev *store.SwapEvent) (sdkmath.LegacyDec, error) {
	v, err := a.value(ctx, pool, ev)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if v.usd0.GTE(v.usd1) {
		return v.usd0, nil
	}
	return v.usd1, nil
}

// HandleSwap folds one persisted swap into both token aggregates and their
// candles on every interval, then publishes the swap. Must be called after
// the swap row and pool update are committed.
func (a *Aggregator) HandleSwap(ctx context.Context, pool *store.Pool, ev *store.SwapEvent) error {
	v, err := a.value(ctx, pool, ev)
	if err != nil {
		return err
	}
	if err := a.foldSide(ctx, ev, v.token0, &ev.Amount0.Int, v.derived0, v.price0, v.usd0, v.usd1); err != nil {
		return err
	}
	if err := a.foldSide(ctx, ev, v.token1, &ev.Amount1.Int, v.derived1, v.price1, v.usd1, v.usd0); err != nil {
		return err
	}
	a.bus.PublishSwap(ev.Clone())
	return nil
}

// foldSide applies one side of a swap to its token aggregate and candles.
// A side the oracle can price counts as tracked volume; a side it cannot
// price borrows the counterparty's valuation as untracked volume, so swap
// value is never silently lost.
func (a *Aggregator) foldSide(ctx context.Context, ev *store.SwapEvent, tok *store.Token, amount *big.Int,
	derived, priceUSD, ownUSD, otherUSD sdkmath.LegacyDec) error {

	volumeUSD := sdkmath.LegacyZeroDec()
	untrackedUSD := sdkmath.LegacyZeroDec()
	valued := ownUSD
	if priceUSD.IsPositive() {
		volumeUSD = ownUSD
	} else {
		untrackedUSD = otherUSD
		valued = otherUSD
	}
	feesUSD := valued.Mul(sdkmath.LegacyNewDec(int64(ev.Fee))).Quo(feeDenominator)

	absAmount := new(big.Int).Abs(amount)
	tvlDelta := v4math.HumanAmount(amount, tok.Decimals)
	newTVL := tok.TotalValueLocked.Add(tvlDelta)
	newTVLUSD := newTVL.Mul(priceUSD)

	updated, err := a.store.ApplyTokenSwap(ctx, tok.Address, store.TokenSwapDelta{
		Volume:             store.NewBigInt(absAmount),
		VolumeUSD:          volumeUSD,
		UntrackedVolumeUSD: untrackedUSD,
		FeesUSD:            feesUSD,
		TVLDelta:           tvlDelta,
		TVLUSD:             newTVLUSD,
		DerivedNative:      derived,
	})
	if err != nil {
		return fmt.Errorf("apply token swap %s: %w", tok.Address, err)
	}

	fold := store.CandleFold{
		Volume:              store.NewBigInt(absAmount),
		VolumeUSD:           volumeUSD,
		UntrackedVolumeUSD:  untrackedUSD,
		FeesUSD:             feesUSD,
		PriceUSD:            priceUSD,
		TotalValueLocked:    updated.TotalValueLocked,
		TotalValueLockedUSD: updated.TotalValueLockedUSD,
	}
	for _, interval := range store.Intervals {
		bucket := interval.Truncate(ev.BlockTime)
		applied, err := a.store.ApplyCandle(ctx, interval, tok.Address, bucket, fold)
		if err != nil {
			return fmt.Errorf("apply %s candle %s: %w", interval, tok.Address, err)
		}
		if !applied {
			a.log.Warn("swap arrived after candle finalization, fold skipped",
				"token", tok.Address, "interval", interval, "bucket", bucket,
				"tx", ev.TxHash, "logIndex", ev.LogIndex)
		}
	}
	return nil
}
