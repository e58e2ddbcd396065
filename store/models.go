// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store defines the persisted collections of the indexer (pools,
// swap events, tokens, candles, sync state) and the Store interface their
// owners write through. Two implementations exist: a Postgres store built
// on sqlx and an in-memory store with the same uniqueness semantics.
package store

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
)

// BigInt is a big.Int that round-trips as a decimal string through JSON and
// database/sql. Values exceeding 53-bit precision must never be serialized
// as JSON numbers.
type BigInt struct {
	big.Int
}

// NewBigInt wraps a big.Int value (nil is treated as zero).
func NewBigInt(v *big.Int) BigInt {
	var b BigInt
	if v != nil {
		b.Int.Set(v)
	}
	return b
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if _, ok := b.Int.SetString(s, 10); !ok {
		return fmt.Errorf("store: invalid big integer %q", s)
	}
	return nil
}

func (b BigInt) Value() (driver.Value, error) {
	return b.String(), nil
}

func (b *BigInt) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		b.Int.SetInt64(0)
		return nil
	case int64:
		b.Int.SetInt64(v)
		return nil
	case []byte:
		return b.setString(string(v))
	case string:
		return b.setString(v)
	default:
		return fmt.Errorf("store: cannot scan %T into BigInt", src)
	}
}

func (b *BigInt) setString(s string) error {
	if _, ok := b.Int.SetString(s, 10); !ok {
		return fmt.Errorf("store: invalid big integer %q", s)
	}
	return nil
}

// Interval identifies a candle bucket size.
type Interval string

const (
	IntervalMinute Interval = "minute"
	IntervalHour   Interval = "hour"
	IntervalDay    Interval = "day"
)

// Intervals lists all candle intervals in ascending bucket size.
var Intervals = []Interval{IntervalMinute, IntervalHour, IntervalDay}

// Truncate maps a timestamp to the start of its bucket, in UTC.
func (i Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch i {
	case IntervalMinute:
		return t.Truncate(time.Minute)
	case IntervalHour:
		return t.Truncate(time.Hour)
	case IntervalDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Duration returns the bucket length. Day buckets are fixed 24h (UTC days).
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether i is one of the three known intervals.
func (i Interval) Valid() bool {
	return i == IntervalMinute || i == IntervalHour || i == IntervalDay
}

// CandleStatus is the lifecycle state of a candle row. Only current rows
// are mutable; a finalized row is never written again.
type CandleStatus string

const (
	CandleCurrent   CandleStatus = "current"
	CandleFinalized CandleStatus = "finalized"
)

// Pool is the materialized state of one pool, keyed by its 32-byte pool ID.
// The pool state machine is the sole writer.
type Pool struct {
	PoolID       string            `db:"pool_id" json:"poolId"`
	Currency0    string            `db:"currency0" json:"currency0"`
	Currency1    string            `db:"currency1" json:"currency1"`
	Fee          uint32            `db:"fee" json:"fee"`
	TickSpacing  int32             `db:"tick_spacing" json:"tickSpacing"`
	Hooks        string            `db:"hooks" json:"hooks"`
	SqrtPriceX96 BigInt            `db:"sqrt_price_x96" json:"sqrtPriceX96"`
	Tick         int32             `db:"tick" json:"tick"`
	Liquidity    BigInt            `db:"liquidity" json:"liquidity"`
	TVL0         BigInt            `db:"tvl_token0" json:"totalValueLockedToken0"`
	TVL1         BigInt            `db:"tvl_token1" json:"totalValueLockedToken1"`
	Token0Price  sdkmath.LegacyDec `db:"token0_price" json:"token0Price"`
	Token1Price  sdkmath.LegacyDec `db:"token1_price" json:"token1Price"`
	CreatedBlock uint64            `db:"created_block" json:"createdAtBlock"`
	CreatedAt    time.Time         `db:"created_at" json:"createdAtTimestamp"`
	CreatedTx    string            `db:"created_tx" json:"createdAtTx"`
}

// Clone returns a deep copy.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.SqrtPriceX96 = NewBigInt(&p.SqrtPriceX96.Int)
	cp.Liquidity = NewBigInt(&p.Liquidity.Int)
	cp.TVL0 = NewBigInt(&p.TVL0.Int)
	cp.TVL1 = NewBigInt(&p.TVL1.Int)
	return &cp
}

// OtherCurrency returns the pool counterpart of the given token address and
// whether the token is currency0.
func (p *Pool) OtherCurrency(token string) (other string, tokenIsCurrency0 bool) {
	if p.Currency0 == token {
		return p.Currency1, true
	}
	return p.Currency0, false
}

// SwapEvent is one persisted Swap log, keyed by (transactionHash, logIndex).
// The orchestrator is the sole writer; the unique key is the pipeline's
// deduplication point.
type SwapEvent struct {
	TxHash       string            `db:"tx_hash" json:"transactionHash"`
	LogIndex     uint32            `db:"log_index" json:"logIndex"`
	PoolID       string            `db:"pool_id" json:"poolId"`
	Currency0    string            `db:"currency0" json:"currency0"`
	Currency1    string            `db:"currency1" json:"currency1"`
	Sender       string            `db:"sender" json:"sender"`
	Amount0      BigInt            `db:"amount0" json:"amount0"`
	Amount1      BigInt            `db:"amount1" json:"amount1"`
	SqrtPriceX96 BigInt            `db:"sqrt_price_x96" json:"sqrtPriceX96"`
	Liquidity    BigInt            `db:"liquidity" json:"liquidity"`
	Tick         int32             `db:"tick" json:"tick"`
	Fee          uint32            `db:"fee" json:"fee"`
	AmountUSD    sdkmath.LegacyDec `db:"amount_usd" json:"amountUSD"`
	BlockNumber  uint64            `db:"block_number" json:"blockNumber"`
	BlockTime    time.Time         `db:"block_time" json:"blockTimestamp"`
}

// Clone returns a deep copy.
func (s *SwapEvent) Clone() *SwapEvent {
	cp := *s
	cp.Amount0 = NewBigInt(&s.Amount0.Int)
	cp.Amount1 = NewBigInt(&s.Amount1.Int)
	cp.SqrtPriceX96 = NewBigInt(&s.SqrtPriceX96.Int)
	cp.Liquidity = NewBigInt(&s.Liquidity.Int)
	return &cp
}

// Token metadata defaults used until the ERC-20 calls succeed.
const (
	DefaultDecimals    uint8 = 18
	DefaultSymbol            = "UNKNOWN"
	DefaultName              = "Unknown Token"
)

// Token is the cumulative per-token aggregate, keyed by lowercase address.
// The token aggregator is the sole writer.
type Token struct {
	Address             string            `db:"address" json:"address"`
	Decimals            uint8             `db:"decimals" json:"decimals"`
	Symbol              string            `db:"symbol" json:"symbol"`
	Name                string            `db:"name" json:"name"`
	Volume              BigInt            `db:"volume" json:"volume"`
	VolumeUSD           sdkmath.LegacyDec `db:"volume_usd" json:"volumeUSD"`
	UntrackedVolumeUSD  sdkmath.LegacyDec `db:"untracked_volume_usd" json:"untrackedVolumeUSD"`
	FeesUSD             sdkmath.LegacyDec `db:"fees_usd" json:"feesUSD"`
	TotalValueLocked    sdkmath.LegacyDec `db:"tvl" json:"totalValueLocked"`
	TotalValueLockedUSD sdkmath.LegacyDec `db:"tvl_usd" json:"totalValueLockedUSD"`
	DerivedNative       sdkmath.LegacyDec `db:"derived_native" json:"derivedNative"`
	TxCount             uint64            `db:"tx_count" json:"txCount"`
	WhitelistPools      []string          `db:"-" json:"whitelistPools"`
}

// NewToken returns a token row with default metadata and zeroed aggregates.
func NewToken(address string) *Token {
	return &Token{
		Address:             address,
		Decimals:            DefaultDecimals,
		Symbol:              DefaultSymbol,
		Name:                DefaultName,
		VolumeUSD:           sdkmath.LegacyZeroDec(),
		UntrackedVolumeUSD:  sdkmath.LegacyZeroDec(),
		FeesUSD:             sdkmath.LegacyZeroDec(),
		TotalValueLocked:    sdkmath.LegacyZeroDec(),
		TotalValueLockedUSD: sdkmath.LegacyZeroDec(),
		DerivedNative:       sdkmath.LegacyZeroDec(),
	}
}

// HasDefaultMetadata reports whether the row still carries placeholder
// ERC-20 metadata.
func (t *Token) HasDefaultMetadata() bool {
	return t.Symbol == DefaultSymbol && t.Name == DefaultName
}

// Clone returns a deep copy.
func (t *Token) Clone() *Token {
	cp := *t
	cp.Volume = NewBigInt(&t.Volume.Int)
	cp.WhitelistPools = append([]string(nil), t.WhitelistPools...)
	return &cp
}

// Candle is one aggregated bar for a token over a bucket of the given
// interval, keyed by (interval, tokenAddress, bucket).
type Candle struct {
	TokenAddress        string            `db:"token_address" json:"tokenAddress"`
	Interval            Interval          `db:"interval" json:"interval"`
	Bucket              time.Time         `db:"bucket" json:"date"`
	Status              CandleStatus      `db:"status" json:"status"`
	Volume              BigInt            `db:"volume" json:"volume"`
	VolumeUSD           sdkmath.LegacyDec `db:"volume_usd" json:"volumeUSD"`
	UntrackedVolumeUSD  sdkmath.LegacyDec `db:"untracked_volume_usd" json:"untrackedVolumeUSD"`
	TotalValueLocked    sdkmath.LegacyDec `db:"tvl" json:"totalValueLocked"`
	TotalValueLockedUSD sdkmath.LegacyDec `db:"tvl_usd" json:"totalValueLockedUSD"`
	PriceUSD            sdkmath.LegacyDec `db:"price_usd" json:"priceUSD"`
	FeesUSD             sdkmath.LegacyDec `db:"fees_usd" json:"feesUSD"`
	Open                sdkmath.LegacyDec `db:"open" json:"open"`
	High                sdkmath.LegacyDec `db:"high" json:"high"`
	Low                 sdkmath.LegacyDec `db:"low" json:"low"`
	Close               sdkmath.LegacyDec `db:"close" json:"close"`
	TxCount             uint64            `db:"tx_count" json:"txCount"`
}

// Clone returns a deep copy.
func (c *Candle) Clone() *Candle {
	cp := *c
	cp.Volume = NewBigInt(&c.Volume.Int)
	return &cp
}

// SyncState is the resume checkpoint for one pool manager, keyed by its
// address. The orchestrator is the sole writer.
type SyncState struct {
	PoolManager         string    `db:"pool_manager" json:"poolManagerAddress"`
	LastSyncedBlock     uint64    `db:"last_synced_block" json:"lastSyncedBlock"`
	CurrentBlock        uint64    `db:"current_block" json:"currentBlock"`
	InitialSyncComplete bool      `db:"initial_sync_complete" json:"isInitialSyncComplete"`
	LastSyncedAt        time.Time `db:"last_synced_at" json:"lastSyncedAt"`
}
