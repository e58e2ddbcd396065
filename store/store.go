// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Errors
var (
	ErrNotFound    = errors.New("store: not found")
	ErrDuplicate   = errors.New("store: duplicate key")
	ErrUnavailable = errors.New("store: database unavailable")
)

// TokenSwapDelta is the per-token fold applied for one swap event.
// Added fields accumulate; set fields overwrite.
type TokenSwapDelta struct {
	Volume             BigInt            // add: |amount| in raw token units
	VolumeUSD          sdkmath.LegacyDec // add
	UntrackedVolumeUSD sdkmath.LegacyDec // add
	FeesUSD            sdkmath.LegacyDec // add
	TVLDelta           sdkmath.LegacyDec // add: signed human-unit change
	TVLUSD             sdkmath.LegacyDec // set
	DerivedNative      sdkmath.LegacyDec // set
}

// CandleFold is the per-candle fold applied for one swap event. OHLC is
// driven by PriceUSD; a zero PriceUSD leaves the price track untouched.
// Volume, fees and txCount accumulate; TVL snapshots overwrite.
type CandleFold struct {
	Volume              BigInt            // add: |amount| in raw token units
	VolumeUSD           sdkmath.LegacyDec // add
	UntrackedVolumeUSD  sdkmath.LegacyDec // add
	FeesUSD             sdkmath.LegacyDec // add
	PriceUSD            sdkmath.LegacyDec // OHLC input, also stored as priceUSD
	TotalValueLocked    sdkmath.LegacyDec // set
	TotalValueLockedUSD sdkmath.LegacyDec // set
}

// Store is the persistence boundary of the pipeline. Implementations must
// enforce the unique keys Pool(poolId), SwapEvent(txHash, logIndex),
// Token(address), Candle(interval, tokenAddress, bucket) and
// SyncState(poolManager), and must make each method atomic.
type Store interface {
	// Pools. InsertPool returns ErrDuplicate when the pool ID exists.
	InsertPool(ctx context.Context, p *Pool) error
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	SavePool(ctx context.Context, p *Pool) error
	ListPools(ctx context.Context, limit, offset int) ([]*Pool, error)
	ListPoolsByToken(ctx context.Context, token string) ([]*Pool, error)

	// Swap events. InsertSwap returns ErrDuplicate for a replayed
	// (txHash, logIndex) pair.
	InsertSwap(ctx context.Context, s *SwapEvent) error
	ListSwapsByPool(ctx context.Context, poolID string, limit int) ([]*SwapEvent, error)

	// Tokens. EnsureToken inserts a default row when absent and returns the
	// stored row either way. SetTokenMetadata patches rows that still carry
	// defaults. AddWhitelistPool has set semantics and creates the token
	// when needed.
	EnsureToken(ctx context.Context, address string) (*Token, error)
	GetToken(ctx context.Context, address string) (*Token, error)
	ApplyTokenSwap(ctx context.Context, address string, delta TokenSwapDelta) (*Token, error)
	SetTokenMetadata(ctx context.Context, address string, decimals uint8, symbol, name string) error
	AddWhitelistPool(ctx context.Context, address, poolID string) error
	ListTokens(ctx context.Context, limit, offset int) ([]*Token, error)

	// Candles. ApplyCandle creates the (interval, token, bucket) row as
	// current or folds into it; it returns applied=false without error when
	// the row is already finalized. FinalizeCandles flips every current row
	// with bucket < before to finalized and returns the promoted rows.
	ApplyCandle(ctx context.Context, interval Interval, token string, bucket time.Time, fold CandleFold) (applied bool, err error)
	FinalizeCandles(ctx context.Context, interval Interval, before time.Time) ([]*Candle, error)
	GetCandle(ctx context.Context, interval Interval, token string, bucket time.Time) (*Candle, error)
	ListCandles(ctx context.Context, interval Interval, token string, limit int) ([]*Candle, error)

	// Sync state.
	GetSyncState(ctx context.Context, poolManager string) (*SyncState, error)
	SaveSyncState(ctx context.Context, s *SyncState) error

	Close() error
}

// orZero guards zero-value LegacyDec fields so a partially populated fold
// cannot panic the pipeline.
func orZero(d sdkmath.LegacyDec) sdkmath.LegacyDec {
	if d.IsNil() {
		return sdkmath.LegacyZeroDec()
	}
	return d
}

// normalize fills any nil decimal fields of the fold with zero.
func (f CandleFold) normalize() CandleFold {
	f.VolumeUSD = orZero(f.VolumeUSD)
	f.UntrackedVolumeUSD = orZero(f.UntrackedVolumeUSD)
	f.FeesUSD = orZero(f.FeesUSD)
	f.PriceUSD = orZero(f.PriceUSD)
	f.TotalValueLocked = orZero(f.TotalValueLocked)
	f.TotalValueLockedUSD = orZero(f.TotalValueLockedUSD)
	return f
}

func (d TokenSwapDelta) normalize() TokenSwapDelta {
	d.VolumeUSD = orZero(d.VolumeUSD)
	d.UntrackedVolumeUSD = orZero(d.UntrackedVolumeUSD)
	d.FeesUSD = orZero(d.FeesUSD)
	d.TVLDelta = orZero(d.TVLDelta)
	d.TVLUSD = orZero(d.TVLUSD)
	d.DerivedNative = orZero(d.DerivedNative)
	return d
}

// foldCandle applies one fold to an existing current candle in place.
// Shared by both implementations so their semantics cannot drift.
func foldCandle(c *Candle, fold CandleFold) {
	c.Volume.Int.Add(&c.Volume.Int, &fold.Volume.Int)
	c.VolumeUSD = c.VolumeUSD.Add(fold.VolumeUSD)
	c.UntrackedVolumeUSD = c.UntrackedVolumeUSD.Add(fold.UntrackedVolumeUSD)
	c.FeesUSD = c.FeesUSD.Add(fold.FeesUSD)
	c.TotalValueLocked = fold.TotalValueLocked
	c.TotalValueLockedUSD = fold.TotalValueLockedUSD
	c.TxCount++

	// A zero price means the swap could not be valued; it still accumulates
	// volume but leaves the price track alone so low <= open,close <= high
	// keeps holding.
	price := fold.PriceUSD
	if price.IsZero() {
		return
	}
	c.PriceUSD = price
	if c.Open.IsZero() {
		c.Open = price
	}
	if price.GT(c.High) {
		c.High = price
	}
	if c.Low.IsZero() || price.LT(c.Low) {
		c.Low = price
	}
	c.Close = price
}

// newCandle seeds a current candle from its first fold: OHLC all equal to
// the fold price, txCount 1.
func newCandle(interval Interval, token string, bucket time.Time, fold CandleFold) *Candle {
	return &Candle{
		TokenAddress:        token,
		Interval:            interval,
		Bucket:              bucket.UTC(),
		Status:              CandleCurrent,
		Volume:              NewBigInt(&fold.Volume.Int),
		VolumeUSD:           fold.VolumeUSD,
		UntrackedVolumeUSD:  fold.UntrackedVolumeUSD,
		TotalValueLocked:    fold.TotalValueLocked,
		TotalValueLockedUSD: fold.TotalValueLockedUSD,
		PriceUSD:            fold.PriceUSD,
		FeesUSD:             fold.FeesUSD,
		Open:                fold.PriceUSD,
		High:                fold.PriceUSD,
		Low:                 fold.PriceUSD,
		Close:               fold.PriceUSD,
		TxCount:             1,
	}
}

// applyTokenDelta applies one swap delta to a token row in place.
func applyTokenDelta(t *Token, delta TokenSwapDelta) {
	t.Volume.Int.Add(&t.Volume.Int, &delta.Volume.Int)
	t.VolumeUSD = t.VolumeUSD.Add(delta.VolumeUSD)
	t.UntrackedVolumeUSD = t.UntrackedVolumeUSD.Add(delta.UntrackedVolumeUSD)
	t.FeesUSD = t.FeesUSD.Add(delta.FeesUSD)
	t.TotalValueLocked = t.TotalValueLocked.Add(delta.TVLDelta)
	t.TotalValueLockedUSD = delta.TVLUSD
	t.DerivedNative = delta.DerivedNative
	t.TxCount++
}
