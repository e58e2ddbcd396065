// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pools maintains the materialized per-pool state: creation on
// Initialize, price and liquidity tracking on Swap, reserve tracking on
// ModifyLiquidity. The machine is the sole writer of pool rows.
package pools

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	log "github.com/luxfi/log"

	"github.com/luxfi/dexindex/chain"
	"github.com/luxfi/dexindex/store"
	"github.com/luxfi/dexindex/v4math"
)

// DecimalsSource resolves ERC-20 decimals for price derivation. Unknown
// tokens resolve to the 18-decimal default rather than an error.
type DecimalsSource interface {
	TokenDecimals(ctx context.Context, address string) uint8
}

// Meta carries the log coordinates shared by all event kinds.
type Meta struct {
	TxHash      string
	LogIndex    uint32
	BlockNumber uint64
	BlockTime   time.Time
}

// Machine applies decoded pool manager events to pool rows.
type Machine struct {
	store    store.Store
	decimals DecimalsSource
	log      log.Logger
}

// NewMachine wires the state machine to its store and decimals source.
func NewMachine(st store.Store, decimals DecimalsSource, logger log.Logger) *Machine {
	return &Machine{store: st, decimals: decimals, log: logger}
}

// ApplyInitialize creates the pool row. A replayed Initialize for an existing
// pool is dropped; the returned pool is nil in that case.
func (m *Machine) ApplyInitialize(ctx context.Context, ev chain.Initialize, meta Meta) (*store.Pool, error) {
	poolID := chain.HashKey(ev.PoolID)
	c0 := chain.AddrKey(ev.Currency0)
	c1 := chain.AddrKey(ev.Currency1)

	p0, p1 := v4math.PricesFromSqrtX96(ev.SqrtPriceX96,
		m.decimals.TokenDecimals(ctx, c0),
		m.decimals.TokenDecimals(ctx, c1))

	pool := &store.Pool{
		PoolID:       poolID,
		Currency0:    c0,
		Currency1:    c1,
		Fee:          ev.Fee,
		TickSpacing:  ev.TickSpacing,
		Hooks:        chain.AddrKey(ev.Hooks),
		SqrtPriceX96: store.NewBigInt(ev.SqrtPriceX96),
		Tick:         ev.Tick,
		Token0Price:  p0,
		Token1Price:  p1,
		CreatedBlock: meta.BlockNumber,
		CreatedAt:    meta.BlockTime,
		CreatedTx:    meta.TxHash,
	}
	if err := m.store.InsertPool(ctx, pool); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			m.log.Warn("duplicate Initialize dropped", "pool", poolID, "tx", meta.TxHash)
			return nil, nil
		}
		return nil, fmt.Errorf("insert pool %s: %w", poolID, err)
	}
	m.log.Info("pool created", "pool", poolID,
		"currency0", c0, "currency1", c1, "fee", ev.Fee, "block", meta.BlockNumber)
	return pool, nil
}

// ApplySwap moves the pool to its post-swap state: sqrt price, tick and
// active liquidity come straight from the event, reserves move by the signed
// amounts. A swap against an unknown pool is skipped with a warning, so an
// out-of-order log cannot corrupt state.
func (m *Machine) ApplySwap(ctx context.Context, ev chain.Swap, meta Meta) (*store.Pool, error) {
	poolID := chain.HashKey(ev.PoolID)
	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.log.Warn("swap for unknown pool skipped", "pool", poolID,
				"tx", meta.TxHash, "logIndex", meta.LogIndex)
			return nil, nil
		}
		return nil, fmt.Errorf("get pool %s: %w", poolID, err)
	}

	pool.SqrtPriceX96 = store.NewBigInt(ev.SqrtPriceX96)
	pool.Tick = ev.Tick
	pool.Liquidity = store.NewBigInt(ev.Liquidity)
	pool.TVL0 = addBig(pool.TVL0, ev.Amount0)
	pool.TVL1 = addBig(pool.TVL1, ev.Amount1)
	pool.Token0Price, pool.Token1Price = v4math.PricesFromSqrtX96(ev.SqrtPriceX96,
		m.decimals.TokenDecimals(ctx, pool.Currency0),
		m.decimals.TokenDecimals(ctx, pool.Currency1))

	if err := m.store.SavePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("save pool %s: %w", poolID, err)
	}
	return pool, nil
}

// ApplyModifyLiquidity moves the pool reserves by the amounts the position
// change locks or frees, and adjusts active liquidity when the position range
// covers the current tick.
func (m *Machine) ApplyModifyLiquidity(ctx context.Context, ev chain.ModifyLiquidity, meta Meta) (*store.Pool, error) {
	poolID := chain.HashKey(ev.PoolID)
	pool, err := m.store.GetPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.log.Warn("liquidity change for unknown pool skipped", "pool", poolID,
				"tx", meta.TxHash, "logIndex", meta.LogIndex)
			return nil, nil
		}
		return nil, fmt.Errorf("get pool %s: %w", poolID, err)
	}

	sign := ev.LiquidityDelta.Sign()
	if sign == 0 {
		return pool, nil
	}
	absDelta := new(big.Int).Abs(ev.LiquidityDelta)
	amount0, amount1 := v4math.AmountsForLiquidity(&pool.SqrtPriceX96.Int, ev.TickLower, ev.TickUpper, absDelta)
	if sign < 0 {
		amount0.Neg(amount0)
		amount1.Neg(amount1)
	}
	pool.TVL0 = addBig(pool.TVL0, amount0)
	pool.TVL1 = addBig(pool.TVL1, amount1)

	if ev.TickLower <= pool.Tick && pool.Tick < ev.TickUpper {
		liq := new(big.Int).Add(&pool.Liquidity.Int, ev.LiquidityDelta)
		if liq.Sign() < 0 {
			m.log.Warn("liquidity underflow clamped", "pool", poolID, "tx", meta.TxHash)
			liq.SetInt64(0)
		}
		pool.Liquidity = store.NewBigInt(liq)
	}

	if err := m.store.SavePool(ctx, pool); err != nil {
		return nil, fmt.Errorf("save pool %s: %w", poolID, err)
	}
	return pool, nil
}

func addBig(v store.BigInt, delta *big.Int) store.BigInt {
	return store.NewBigInt(new(big.Int).Add(&v.Int, delta))
}
