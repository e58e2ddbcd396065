// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tokens

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexindex/bus"
	"github.com/luxfi/dexindex/store"
)

type tokenMeta struct {
	decimals uint8
	symbol   string
	name     string
}

type fakeMetadata map[string]tokenMeta

func (f fakeMetadata) TokenMetadata(_ context.Context, token common.Address) (uint8, string, string) {
	if m, ok := f[strings.ToLower(token.Hex())]; ok {
		return m.decimals, m.symbol, m.name
	}
	return store.DefaultDecimals, store.DefaultSymbol, store.DefaultName
}

type aggEnv struct {
	store  *store.MemStore
	oracle *Oracle
	agg    *Aggregator
	bus    *bus.Bus
}

func newAggEnv(t *testing.T, metadata fakeMetadata) *aggEnv {
	t.Helper()
	st := store.NewMemStore()
	logger := log.NewTestLogger(log.InfoLevel)
	b := bus.New(16, logger)
	o := NewOracle(st, testOracleConfig(), logger)
	a, err := NewAggregator(st, metadata, o, b, logger)
	require.NoError(t, err)
	return &aggEnv{store: st, oracle: o, agg: a, bus: b}
}

var swapTime = time.Date(2026, 8, 24, 12, 30, 45, 0, time.UTC)

// xSwap is a one-token-in swap on the tokenX/native pool: 1 tokenX in,
// native out.
func xSwap() *store.SwapEvent {
	return &store.SwapEvent{
		TxHash:    "0xswap",
		LogIndex:  3,
		PoolID:    xPoolID,
		Currency0: tokenX,
		Currency1: wnative,
		Amount0:   store.NewBigInt(nativeUnits(1)),
		Amount1:   store.NewBigInt(new(big.Int).Neg(nativeUnits(1))),
		Fee:       3000,
		BlockTime: swapTime,
	}
}

func TestTokenDecimalsFetchesMetadata(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{stable: {6, "USDC", "USD Coin"}})

	require.Equal(t, uint8(6), env.agg.TokenDecimals(ctx, stable))
	// persisted, not just cached
	tok, err := env.store.GetToken(ctx, stable)
	require.NoError(t, err)
	require.Equal(t, "USDC", tok.Symbol)
	require.Equal(t, uint8(6), tok.Decimals)

	// unknown token falls back to defaults
	require.Equal(t, store.DefaultDecimals, env.agg.TokenDecimals(ctx, tokenY))
}

func TestRegisterPoolWhitelistLinks(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{})

	pool := &store.Pool{PoolID: xPoolID, Currency0: tokenX, Currency1: wnative}
	require.NoError(t, env.agg.RegisterPool(ctx, pool))

	xTok, err := env.store.GetToken(ctx, tokenX)
	require.NoError(t, err)
	require.Equal(t, []string{xPoolID}, xTok.WhitelistPools)

	// the native side is not quoted by tokenX
	nTok, err := env.store.GetToken(ctx, wnative)
	require.NoError(t, err)
	require.Empty(t, nTok.WhitelistPools)
}

func TestHandleSwapFoldsBothSides(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{})
	seedStablePool(t, env.store, "2000")
	seedQuotePool(t, env.store, xPoolID, tokenX, "0.001", 10)

	swaps, cancel := env.bus.SubscribeSwaps()
	defer cancel()

	pool, err := env.store.GetPool(ctx, xPoolID)
	require.NoError(t, err)
	ev := xSwap()
	require.NoError(t, env.agg.HandleSwap(ctx, pool, ev))

	// tokenX side: 1 token at 0.001 native * 2000 USD = 2 USD
	xTok, err := env.store.GetToken(ctx, tokenX)
	require.NoError(t, err)
	require.Equal(t, uint64(1), xTok.TxCount)
	require.Equal(t, nativeUnits(1).String(), xTok.Volume.String())
	require.Equal(t, "2.000000000000000000", xTok.VolumeUSD.String())
	require.Equal(t, "0.001000000000000000", xTok.DerivedNative.String())
	require.Equal(t, "1.000000000000000000", xTok.TotalValueLocked.String())

	// native side: 1 native out at 2000 USD
	nTok, err := env.store.GetToken(ctx, wnative)
	require.NoError(t, err)
	require.Equal(t, "2000.000000000000000000", nTok.VolumeUSD.String())
	require.Equal(t, "-1.000000000000000000", nTok.TotalValueLocked.String())

	// candles on every interval, seeded with the token price
	for _, interval := range store.Intervals {
		c, err := env.store.GetCandle(ctx, interval, tokenX, interval.Truncate(swapTime))
		require.NoError(t, err, interval)
		require.Equal(t, store.CandleCurrent, c.Status)
		require.Equal(t, uint64(1), c.TxCount)
		require.Equal(t, "2.000000000000000000", c.Open.String())
		require.Equal(t, c.Open, c.High)
		require.Equal(t, c.Open, c.Low)
		require.Equal(t, c.Open, c.Close)
	}

	// fees: 2 USD * 3000/1e6
	require.Equal(t, "0.006000000000000000", xTok.FeesUSD.String())

	// the persisted swap is published
	got := <-swaps
	require.Equal(t, ev.TxHash, got.TxHash)
	require.Equal(t, ev.LogIndex, got.LogIndex)
}

func TestHandleSwapUnpriceableSideIsUntracked(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{})
	seedStablePool(t, env.store, "2000")

	// tokenY/native pool that is NOT whitelisted for tokenY
	pool := &store.Pool{PoolID: xPool2ID, Currency0: tokenY, Currency1: wnative}
	require.NoError(t, env.store.InsertPool(ctx, pool))

	ev := xSwap()
	ev.PoolID = xPool2ID
	ev.Currency0 = tokenY
	require.NoError(t, env.agg.HandleSwap(ctx, pool, ev))

	yTok, err := env.store.GetToken(ctx, tokenY)
	require.NoError(t, err)
	require.True(t, yTok.VolumeUSD.IsZero())
	// valued through the priceable native side
	require.Equal(t, "2000.000000000000000000", yTok.UntrackedVolumeUSD.String())
	require.True(t, yTok.DerivedNative.IsZero())
}

func TestAmountUSDPicksLargerSide(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{})
	seedStablePool(t, env.store, "2000")
	seedQuotePool(t, env.store, xPoolID, tokenX, "0.001", 10)

	pool, err := env.store.GetPool(ctx, xPoolID)
	require.NoError(t, err)
	usd, err := env.agg.AmountUSD(ctx, pool, xSwap())
	require.NoError(t, err)
	// native side (2000 USD) beats tokenX side (2 USD)
	require.Equal(t, "2000.000000000000000000", usd.String())
}

func TestAmountUSDZeroWithoutOracle(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{})
	seedQuotePool(t, env.store, xPoolID, tokenX, "0.001", 10)

	pool, err := env.store.GetPool(ctx, xPoolID)
	require.NoError(t, err)
	usd, err := env.agg.AmountUSD(ctx, pool, xSwap())
	require.NoError(t, err)
	require.True(t, usd.IsZero())
}

func TestFinalizerPublishesPromotedCandles(t *testing.T) {
	ctx := context.Background()
	env := newAggEnv(t, fakeMetadata{})
	seedStablePool(t, env.store, "2000")
	seedQuotePool(t, env.store, xPoolID, tokenX, "0.001", 10)

	pool, err := env.store.GetPool(ctx, xPoolID)
	require.NoError(t, err)
	require.NoError(t, env.agg.HandleSwap(ctx, pool, xSwap()))

	fin := NewFinalizer(env.store, env.bus, log.NewTestLogger(log.InfoLevel))
	candles, cancel := env.bus.SubscribeCandles()
	defer cancel()

	n, err := fin.Finalize(ctx, store.IntervalMinute, swapTime.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n) // tokenX and native candles

	c := <-candles
	require.Equal(t, store.CandleFinalized, c.Status)
	require.Equal(t, store.IntervalMinute, c.Interval)

	// idempotent
	n, err = fin.Finalize(ctx, store.IntervalMinute, swapTime.Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)
}
