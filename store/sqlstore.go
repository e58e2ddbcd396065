// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLStore is the Postgres-backed Store. Every method is a single statement
// or a single short transaction; unique-key violations surface as
// ErrDuplicate and connection-level failures as ErrUnavailable so the
// orchestrator can tell deduplication from a dead database.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQL connects to Postgres and applies the schema.
func OpenSQL(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s := &SQLStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema applies the idempotent DDL.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: apply schema: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// mapErr translates driver errors into the store's sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func decFromDB(s string) sdkmath.LegacyDec {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyZeroDec()
	}
	return d
}

// ---------------------------------------------------------------------------
// Pools

type poolRow struct {
	PoolID       string    `db:"pool_id"`
	Currency0    string    `db:"currency0"`
	Currency1    string    `db:"currency1"`
	Fee          uint32    `db:"fee"`
	TickSpacing  int32     `db:"tick_spacing"`
	Hooks        string    `db:"hooks"`
	SqrtPriceX96 BigInt    `db:"sqrt_price_x96"`
	Tick         int32     `db:"tick"`
	Liquidity    BigInt    `db:"liquidity"`
	TVL0         BigInt    `db:"tvl_token0"`
	TVL1         BigInt    `db:"tvl_token1"`
	Token0Price  string    `db:"token0_price"`
	Token1Price  string    `db:"token1_price"`
	CreatedBlock uint64    `db:"created_block"`
	CreatedAt    time.Time `db:"created_at"`
	CreatedTx    string    `db:"created_tx"`
}

func (r *poolRow) toModel() *Pool {
	return &Pool{
		PoolID:       r.PoolID,
		Currency0:    r.Currency0,
		Currency1:    r.Currency1,
		Fee:          r.Fee,
		TickSpacing:  r.TickSpacing,
		Hooks:        r.Hooks,
		SqrtPriceX96: r.SqrtPriceX96,
		Tick:         r.Tick,
		Liquidity:    r.Liquidity,
		TVL0:         r.TVL0,
		TVL1:         r.TVL1,
		Token0Price:  decFromDB(r.Token0Price),
		Token1Price:  decFromDB(r.Token1Price),
		CreatedBlock: r.CreatedBlock,
		CreatedAt:    r.CreatedAt,
		CreatedTx:    r.CreatedTx,
	}
}

const poolColumns = `pool_id, currency0, currency1, fee, tick_spacing, hooks,
	sqrt_price_x96, tick, liquidity, tvl_token0, tvl_token1,
	token0_price, token1_price, created_block, created_at, created_tx`

func (s *SQLStore) InsertPool(ctx context.Context, p *Pool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (`+poolColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.PoolID, p.Currency0, p.Currency1, p.Fee, p.TickSpacing, p.Hooks,
		p.SqrtPriceX96, p.Tick, p.Liquidity, p.TVL0, p.TVL1,
		orZero(p.Token0Price).String(), orZero(p.Token1Price).String(),
		p.CreatedBlock, p.CreatedAt, p.CreatedTx)
	return mapErr(err)
}

func (s *SQLStore) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	var r poolRow
	err := s.db.GetContext(ctx, &r, `SELECT `+poolColumns+` FROM pools WHERE pool_id = $1`, poolID)
	if err != nil {
		return nil, mapErr(err)
	}
	return r.toModel(), nil
}

func (s *SQLStore) SavePool(ctx context.Context, p *Pool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pools SET sqrt_price_x96=$2, tick=$3, liquidity=$4,
			tvl_token0=$5, tvl_token1=$6, token0_price=$7, token1_price=$8
		WHERE pool_id = $1`,
		p.PoolID, p.SqrtPriceX96, p.Tick, p.Liquidity, p.TVL0, p.TVL1,
		orZero(p.Token0Price).String(), orZero(p.Token1Price).String())
	return mapErr(err)
}

func (s *SQLStore) ListPools(ctx context.Context, limit, offset int) ([]*Pool, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []poolRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+poolColumns+` FROM pools ORDER BY pool_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	return poolsFromRows(rows), nil
}

func (s *SQLStore) ListPoolsByToken(ctx context.Context, token string) ([]*Pool, error) {
	var rows []poolRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+poolColumns+` FROM pools
		WHERE currency0 = $1 OR currency1 = $1 ORDER BY pool_id`, token)
	if err != nil {
		return nil, mapErr(err)
	}
	return poolsFromRows(rows), nil
}

func poolsFromRows(rows []poolRow) []*Pool {
	out := make([]*Pool, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out
}

// ---------------------------------------------------------------------------
// Swap events

type swapRow struct {
	TxHash       string    `db:"tx_hash"`
	LogIndex     uint32    `db:"log_index"`
	PoolID       string    `db:"pool_id"`
	Currency0    string    `db:"currency0"`
	Currency1    string    `db:"currency1"`
	Sender       string    `db:"sender"`
	Amount0      BigInt    `db:"amount0"`
	Amount1      BigInt    `db:"amount1"`
	SqrtPriceX96 BigInt    `db:"sqrt_price_x96"`
	Liquidity    BigInt    `db:"liquidity"`
	Tick         int32     `db:"tick"`
	Fee          uint32    `db:"fee"`
	AmountUSD    string    `db:"amount_usd"`
	BlockNumber  uint64    `db:"block_number"`
	BlockTime    time.Time `db:"block_time"`
}

func (r *swapRow) toModel() *SwapEvent {
	return &SwapEvent{
		TxHash:       r.TxHash,
		LogIndex:     r.LogIndex,
		PoolID:       r.PoolID,
		Currency0:    r.Currency0,
		Currency1:    r.Currency1,
		Sender:       r.Sender,
		Amount0:      r.Amount0,
		Amount1:      r.Amount1,
		SqrtPriceX96: r.SqrtPriceX96,
		Liquidity:    r.Liquidity,
		Tick:         r.Tick,
		Fee:          r.Fee,
		AmountUSD:    decFromDB(r.AmountUSD),
		BlockNumber:  r.BlockNumber,
		BlockTime:    r.BlockTime,
	}
}

const swapColumns = `tx_hash, log_index, pool_id, currency0, currency1, sender,
	amount0, amount1, sqrt_price_x96, liquidity, tick, fee, amount_usd,
	block_number, block_time`

func (s *SQLStore) InsertSwap(ctx context.Context, ev *SwapEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swap_events (`+swapColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		ev.TxHash, ev.LogIndex, ev.PoolID, ev.Currency0, ev.Currency1, ev.Sender,
		ev.Amount0, ev.Amount1, ev.SqrtPriceX96, ev.Liquidity, ev.Tick, ev.Fee,
		orZero(ev.AmountUSD).String(), ev.BlockNumber, ev.BlockTime)
	return mapErr(err)
}

func (s *SQLStore) ListSwapsByPool(ctx context.Context, poolID string, limit int) ([]*SwapEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []swapRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+swapColumns+` FROM swap_events
		WHERE pool_id = $1
		ORDER BY block_number DESC, log_index DESC LIMIT $2`, poolID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*SwapEvent, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Tokens

type tokenRow struct {
	Address            string `db:"address"`
	Decimals           uint8  `db:"decimals"`
	Symbol             string `db:"symbol"`
	Name               string `db:"name"`
	Volume             BigInt `db:"volume"`
	VolumeUSD          string `db:"volume_usd"`
	UntrackedVolumeUSD string `db:"untracked_volume_usd"`
	FeesUSD            string `db:"fees_usd"`
	TVL                string `db:"tvl"`
	TVLUSD             string `db:"tvl_usd"`
	DerivedNative      string `db:"derived_native"`
	TxCount            uint64 `db:"tx_count"`
}

func (r *tokenRow) toModel() *Token {
	return &Token{
		Address:             r.Address,
		Decimals:            r.Decimals,
		Symbol:              r.Symbol,
		Name:                r.Name,
		Volume:              r.Volume,
		VolumeUSD:           decFromDB(r.VolumeUSD),
		UntrackedVolumeUSD:  decFromDB(r.UntrackedVolumeUSD),
		FeesUSD:             decFromDB(r.FeesUSD),
		TotalValueLocked:    decFromDB(r.TVL),
		TotalValueLockedUSD: decFromDB(r.TVLUSD),
		DerivedNative:       decFromDB(r.DerivedNative),
		TxCount:             r.TxCount,
	}
}

const tokenColumns = `address, decimals, symbol, name, volume, volume_usd,
	untracked_volume_usd, fees_usd, tvl, tvl_usd, derived_native, tx_count`

func (s *SQLStore) EnsureToken(ctx context.Context, address string) (*Token, error) {
	// Idempotent default insert; the read below sees either the fresh row or
	// the existing one.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES ($1,$2,$3,$4,0,'0','0','0','0','0','0',0)
		ON CONFLICT (address) DO NOTHING`,
		address, DefaultDecimals, DefaultSymbol, DefaultName)
	if err != nil {
		return nil, mapErr(err)
	}
	return s.GetToken(ctx, address)
}

func (s *SQLStore) GetToken(ctx context.Context, address string) (*Token, error) {
	var r tokenRow
	err := s.db.GetContext(ctx, &r, `SELECT `+tokenColumns+` FROM tokens WHERE address = $1`, address)
	if err != nil {
		return nil, mapErr(err)
	}
	t := r.toModel()
	if err := s.loadWhitelist(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) loadWhitelist(ctx context.Context, t *Token) error {
	err := s.db.SelectContext(ctx, &t.WhitelistPools, `
		SELECT pool_id FROM token_whitelist_pools
		WHERE token_address = $1 ORDER BY pool_id`, t.Address)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *SQLStore) ApplyTokenSwap(ctx context.Context, address string, delta TokenSwapDelta) (*Token, error) {
	delta = delta.normalize()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES ($1,$2,$3,$4,0,'0','0','0','0','0','0',0)
		ON CONFLICT (address) DO NOTHING`,
		address, DefaultDecimals, DefaultSymbol, DefaultName); err != nil {
		return nil, mapErr(err)
	}
	var r tokenRow
	if err := tx.GetContext(ctx, &r, `
		SELECT `+tokenColumns+` FROM tokens WHERE address = $1 FOR UPDATE`, address); err != nil {
		return nil, mapErr(err)
	}
	t := r.toModel()
	applyTokenDelta(t, delta)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tokens SET volume=$2, volume_usd=$3, untracked_volume_usd=$4,
			fees_usd=$5, tvl=$6, tvl_usd=$7, derived_native=$8, tx_count=$9
		WHERE address = $1`,
		address, t.Volume, t.VolumeUSD.String(), t.UntrackedVolumeUSD.String(),
		t.FeesUSD.String(), t.TotalValueLocked.String(), t.TotalValueLockedUSD.String(),
		t.DerivedNative.String(), t.TxCount); err != nil {
		return nil, mapErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapErr(err)
	}
	if err := s.loadWhitelist(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) SetTokenMetadata(ctx context.Context, address string, decimals uint8, symbol, name string) error {
	if _, err := s.EnsureToken(ctx, address); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tokens SET decimals=$2, symbol=$3, name=$4 WHERE address = $1`,
		address, decimals, symbol, name)
	return mapErr(err)
}

func (s *SQLStore) AddWhitelistPool(ctx context.Context, address, poolID string) error {
	if _, err := s.EnsureToken(ctx, address); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_whitelist_pools (token_address, pool_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, address, poolID)
	return mapErr(err)
}

func (s *SQLStore) ListTokens(ctx context.Context, limit, offset int) ([]*Token, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []tokenRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+tokenColumns+` FROM tokens ORDER BY address LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*Token, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
		if err := s.loadWhitelist(ctx, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Candles

type candleRow struct {
	TokenAddress       string    `db:"token_address"`
	Interval           string    `db:"bucket_interval"`
	Bucket             time.Time `db:"bucket"`
	Status             string    `db:"status"`
	Volume             BigInt    `db:"volume"`
	VolumeUSD          string    `db:"volume_usd"`
	UntrackedVolumeUSD string    `db:"untracked_volume_usd"`
	TVL                string    `db:"tvl"`
	TVLUSD             string    `db:"tvl_usd"`
	PriceUSD           string    `db:"price_usd"`
	FeesUSD            string    `db:"fees_usd"`
	Open               string    `db:"open"`
	High               string    `db:"high"`
	Low                string    `db:"low"`
	Close              string    `db:"close"`
	TxCount            uint64    `db:"tx_count"`
}

func (r *candleRow) toModel() *Candle {
	return &Candle{
		TokenAddress:        r.TokenAddress,
		Interval:            Interval(r.Interval),
		Bucket:              r.Bucket.UTC(),
		Status:              CandleStatus(r.Status),
		Volume:              r.Volume,
		VolumeUSD:           decFromDB(r.VolumeUSD),
		UntrackedVolumeUSD:  decFromDB(r.UntrackedVolumeUSD),
		TotalValueLocked:    decFromDB(r.TVL),
		TotalValueLockedUSD: decFromDB(r.TVLUSD),
		PriceUSD:            decFromDB(r.PriceUSD),
		FeesUSD:             decFromDB(r.FeesUSD),
		Open:                decFromDB(r.Open),
		High:                decFromDB(r.High),
		Low:                 decFromDB(r.Low),
		Close:               decFromDB(r.Close),
		TxCount:             r.TxCount,
	}
}

const candleColumns = `token_address, bucket_interval, bucket, status, volume,
	volume_usd, untracked_volume_usd, tvl, tvl_usd, price_usd, fees_usd,
	open, high, low, close, tx_count`

func (s *SQLStore) ApplyCandle(ctx context.Context, interval Interval, token string, bucket time.Time, fold CandleFold) (bool, error) {
	fold = fold.normalize()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, mapErr(err)
	}
	defer tx.Rollback()

	var r candleRow
	err = tx.GetContext(ctx, &r, `
		SELECT `+candleColumns+` FROM candles
		WHERE bucket_interval = $1 AND token_address = $2 AND bucket = $3
		FOR UPDATE`, string(interval), token, bucket.UTC())

	switch {
	case errors.Is(err, sql.ErrNoRows):
		c := newCandle(interval, token, bucket, fold)
		if err := s.writeCandle(ctx, tx, c, true); err != nil {
			return false, err
		}
	case err != nil:
		return false, mapErr(err)
	default:
		if CandleStatus(r.Status) == CandleFinalized {
			return false, nil
		}
		c := r.toModel()
		foldCandle(c, fold)
		if err := s.writeCandle(ctx, tx, c, false); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, mapErr(err)
	}
	return true, nil
}

func (s *SQLStore) writeCandle(ctx context.Context, tx *sqlx.Tx, c *Candle, insert bool) error {
	var err error
	if insert {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO candles (`+candleColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			c.TokenAddress, string(c.Interval), c.Bucket, string(c.Status), c.Volume,
			c.VolumeUSD.String(), c.UntrackedVolumeUSD.String(),
			c.TotalValueLocked.String(), c.TotalValueLockedUSD.String(),
			c.PriceUSD.String(), c.FeesUSD.String(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.TxCount)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE candles SET volume=$4, volume_usd=$5, untracked_volume_usd=$6,
				tvl=$7, tvl_usd=$8, price_usd=$9, fees_usd=$10,
				open=$11, high=$12, low=$13, close=$14, tx_count=$15
			WHERE bucket_interval = $1 AND token_address = $2 AND bucket = $3`,
			string(c.Interval), c.TokenAddress, c.Bucket, c.Volume,
			c.VolumeUSD.String(), c.UntrackedVolumeUSD.String(),
			c.TotalValueLocked.String(), c.TotalValueLockedUSD.String(),
			c.PriceUSD.String(), c.FeesUSD.String(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.TxCount)
	}
	return mapErr(err)
}

func (s *SQLStore) FinalizeCandles(ctx context.Context, interval Interval, before time.Time) ([]*Candle, error) {
	var rows []candleRow
	err := s.db.SelectContext(ctx, &rows, `
		UPDATE candles SET status = $1
		WHERE bucket_interval = $2 AND status = $3 AND bucket < $4
		RETURNING `+candleColumns, string(CandleFinalized), string(interval), string(CandleCurrent), before.UTC())
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*Candle, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *SQLStore) GetCandle(ctx context.Context, interval Interval, token string, bucket time.Time) (*Candle, error) {
	var r candleRow
	err := s.db.GetContext(ctx, &r, `
		SELECT `+candleColumns+` FROM candles
		WHERE bucket_interval = $1 AND token_address = $2 AND bucket = $3`,
		string(interval), token, bucket.UTC())
	if err != nil {
		return nil, mapErr(err)
	}
	return r.toModel(), nil
}

func (s *SQLStore) ListCandles(ctx context.Context, interval Interval, token string, limit int) ([]*Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []candleRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+candleColumns+` FROM candles
		WHERE bucket_interval = $1 AND token_address = $2
		ORDER BY bucket DESC LIMIT $3`, string(interval), token, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*Candle, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Sync state

type syncRow struct {
	PoolManager         string    `db:"pool_manager"`
	LastSyncedBlock     uint64    `db:"last_synced_block"`
	CurrentBlock        uint64    `db:"current_block"`
	InitialSyncComplete bool      `db:"initial_sync_complete"`
	LastSyncedAt        time.Time `db:"last_synced_at"`
}

func (s *SQLStore) GetSyncState(ctx context.Context, poolManager string) (*SyncState, error) {
	var r syncRow
	err := s.db.GetContext(ctx, &r, `
		SELECT pool_manager, last_synced_block, current_block,
			initial_sync_complete, last_synced_at
		FROM sync_state WHERE pool_manager = $1`, poolManager)
	if err != nil {
		return nil, mapErr(err)
	}
	return &SyncState{
		PoolManager:         r.PoolManager,
		LastSyncedBlock:     r.LastSyncedBlock,
		CurrentBlock:        r.CurrentBlock,
		InitialSyncComplete: r.InitialSyncComplete,
		LastSyncedAt:        r.LastSyncedAt,
	}, nil
}

func (s *SQLStore) SaveSyncState(ctx context.Context, st *SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (pool_manager, last_synced_block, current_block,
			initial_sync_complete, last_synced_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (pool_manager) DO UPDATE SET
			last_synced_block = EXCLUDED.last_synced_block,
			current_block = EXCLUDED.current_block,
			initial_sync_complete = EXCLUDED.initial_sync_complete,
			last_synced_at = EXCLUDED.last_synced_at`,
		st.PoolManager, st.LastSyncedBlock, st.CurrentBlock,
		st.InitialSyncComplete, st.LastSyncedAt)
	return mapErr(err)
}

var _ Store = (*SQLStore)(nil)
