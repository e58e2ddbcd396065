// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexindex/chain"
	"github.com/luxfi/dexindex/store"
)

type fixedDecimals map[string]uint8

func (f fixedDecimals) TokenDecimals(_ context.Context, address string) uint8 {
	if d, ok := f[address]; ok {
		return d
	}
	return 18
}

var sqrtOne = new(big.Int).Lsh(big.NewInt(1), 96) // price 1:1

func newTestMachine() (*Machine, *store.MemStore) {
	st := store.NewMemStore()
	m := NewMachine(st, fixedDecimals{}, log.NewTestLogger(log.InfoLevel))
	return m, st
}

func testMeta(logIndex uint32) Meta {
	return Meta{
		TxHash:      "0xtx",
		LogIndex:    logIndex,
		BlockNumber: 100,
		BlockTime:   time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func initEvent() chain.Initialize {
	return chain.Initialize{
		PoolID:       common.HexToHash("0x01"),
		Currency0:    common.HexToAddress("0xa0"),
		Currency1:    common.HexToAddress("0xb0"),
		Fee:          3000,
		TickSpacing:  60,
		SqrtPriceX96: new(big.Int).Set(sqrtOne),
		Tick:         0,
	}
}

func TestApplyInitializeCreatesPool(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine()

	pool, err := m.ApplyInitialize(ctx, initEvent(), testMeta(0))
	require.NoError(t, err)
	require.NotNil(t, pool)
	require.Equal(t, chain.HashKey(common.HexToHash("0x01")), pool.PoolID)
	require.Equal(t, "1.000000000000000000", pool.Token0Price.String())
	require.Equal(t, "1.000000000000000000", pool.Token1Price.String())
	require.Equal(t, "0", pool.Liquidity.String())
	require.Equal(t, "0", pool.TVL0.String())

	stored, err := st.GetPool(ctx, pool.PoolID)
	require.NoError(t, err)
	require.Equal(t, uint32(3000), stored.Fee)
	require.Equal(t, uint64(100), stored.CreatedBlock)
}

func TestApplyInitializeDuplicateDropped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine()

	first, err := m.ApplyInitialize(ctx, initEvent(), testMeta(0))
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := m.ApplyInitialize(ctx, initEvent(), testMeta(1))
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestApplySwapUnknownPoolSkipped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine()

	pool, err := m.ApplySwap(ctx, chain.Swap{
		PoolID:       common.HexToHash("0x99"),
		SqrtPriceX96: new(big.Int).Set(sqrtOne),
		Liquidity:    big.NewInt(1),
		Amount0:      big.NewInt(1),
		Amount1:      big.NewInt(-1),
	}, testMeta(0))
	require.NoError(t, err)
	require.Nil(t, pool)
}

func TestApplySwapUpdatesState(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine()

	_, err := m.ApplyInitialize(ctx, initEvent(), testMeta(0))
	require.NoError(t, err)

	// move some reserves in first
	_, err = m.ApplyModifyLiquidity(ctx, chain.ModifyLiquidity{
		PoolID:         common.HexToHash("0x01"),
		TickLower:      -600,
		TickUpper:      600,
		LiquidityDelta: big.NewInt(1_000_000_000),
	}, testMeta(1))
	require.NoError(t, err)

	before, err := st.GetPool(ctx, chain.HashKey(common.HexToHash("0x01")))
	require.NoError(t, err)

	// price moves up slightly, pool gains token0, pays out token1
	newSqrt := new(big.Int).Add(sqrtOne, big.NewInt(1_000_000))
	pool, err := m.ApplySwap(ctx, chain.Swap{
		PoolID:       common.HexToHash("0x01"),
		Sender:       common.HexToAddress("0xdd"),
		Amount0:      big.NewInt(5_000),
		Amount1:      big.NewInt(-4_950),
		SqrtPriceX96: newSqrt,
		Liquidity:    big.NewInt(1_000_000_000),
		Tick:         1,
		Fee:          3000,
	}, testMeta(2))
	require.NoError(t, err)
	require.NotNil(t, pool)
	require.Equal(t, int32(1), pool.Tick)
	require.Equal(t, newSqrt.String(), pool.SqrtPriceX96.String())
	require.Equal(t, "1000000000", pool.Liquidity.String())

	wantTVL0 := new(big.Int).Add(&before.TVL0.Int, big.NewInt(5_000))
	wantTVL1 := new(big.Int).Sub(&before.TVL1.Int, big.NewInt(4_950))
	require.Equal(t, wantTVL0.String(), pool.TVL0.String())
	require.Equal(t, wantTVL1.String(), pool.TVL1.String())

	// price 1:1 moved up, token1Price > 1, token0Price < 1
	require.True(t, pool.Token1Price.GT(pool.Token0Price))
}

func TestApplyModifyLiquidityInRange(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine()

	_, err := m.ApplyInitialize(ctx, initEvent(), testMeta(0))
	require.NoError(t, err)

	pool, err := m.ApplyModifyLiquidity(ctx, chain.ModifyLiquidity{
		PoolID:         common.HexToHash("0x01"),
		TickLower:      -600,
		TickUpper:      600,
		LiquidityDelta: big.NewInt(1_000_000_000),
	}, testMeta(1))
	require.NoError(t, err)
	require.NotNil(t, pool)

	// range covers tick 0: both reserves funded, active liquidity raised
	require.Equal(t, "1000000000", pool.Liquidity.String())
	require.Equal(t, 1, pool.TVL0.Sign())
	require.Equal(t, 1, pool.TVL1.Sign())

	// removal reverses the reserves and liquidity
	pool, err = m.ApplyModifyLiquidity(ctx, chain.ModifyLiquidity{
		PoolID:         common.HexToHash("0x01"),
		TickLower:      -600,
		TickUpper:      600,
		LiquidityDelta: big.NewInt(-1_000_000_000),
	}, testMeta(2))
	require.NoError(t, err)
	require.Equal(t, "0", pool.Liquidity.String())
	require.Equal(t, "0", pool.TVL0.String())
	require.Equal(t, "0", pool.TVL1.String())
}

func TestApplyModifyLiquidityOutOfRange(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine()

	_, err := m.ApplyInitialize(ctx, initEvent(), testMeta(0))
	require.NoError(t, err)

	// range entirely above the current tick: single-sided, inactive
	pool, err := m.ApplyModifyLiquidity(ctx, chain.ModifyLiquidity{
		PoolID:         common.HexToHash("0x01"),
		TickLower:      600,
		TickUpper:      1200,
		LiquidityDelta: big.NewInt(1_000_000_000),
	}, testMeta(1))
	require.NoError(t, err)
	require.Equal(t, "0", pool.Liquidity.String())
	require.Equal(t, 1, pool.TVL0.Sign())
	require.Equal(t, "0", pool.TVL1.String())
}

func TestApplyModifyLiquidityUnknownPoolSkipped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMachine()

	pool, err := m.ApplyModifyLiquidity(ctx, chain.ModifyLiquidity{
		PoolID:         common.HexToHash("0x77"),
		TickLower:      -60,
		TickUpper:      60,
		LiquidityDelta: big.NewInt(1),
	}, testMeta(0))
	require.NoError(t, err)
	require.Nil(t, pool)
}
