// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

// schema holds the DDL applied by SQLStore.EnsureSchema. Unique keys are the
// pipeline's idempotency mechanism; the secondary indexes serve the REST
// reader's query paths.
const schema = `
CREATE TABLE IF NOT EXISTS pools (
	pool_id        TEXT PRIMARY KEY,
	currency0      TEXT NOT NULL,
	currency1      TEXT NOT NULL,
	fee            BIGINT NOT NULL,
	tick_spacing   INTEGER NOT NULL,
	hooks          TEXT NOT NULL,
	sqrt_price_x96 NUMERIC(78,0) NOT NULL,
	tick           INTEGER NOT NULL,
	liquidity      NUMERIC(78,0) NOT NULL,
	tvl_token0     NUMERIC(78,0) NOT NULL,
	tvl_token1     NUMERIC(78,0) NOT NULL,
	token0_price   TEXT NOT NULL,
	token1_price   TEXT NOT NULL,
	created_block  BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	created_tx     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS pools_currency0_idx ON pools (currency0);
CREATE INDEX IF NOT EXISTS pools_currency1_idx ON pools (currency1);

CREATE TABLE IF NOT EXISTS swap_events (
	tx_hash        TEXT NOT NULL,
	log_index      BIGINT NOT NULL,
	pool_id        TEXT NOT NULL,
	currency0      TEXT NOT NULL,
	currency1      TEXT NOT NULL,
	sender         TEXT NOT NULL,
	amount0        NUMERIC(78,0) NOT NULL,
	amount1        NUMERIC(78,0) NOT NULL,
	sqrt_price_x96 NUMERIC(78,0) NOT NULL,
	liquidity      NUMERIC(78,0) NOT NULL,
	tick           INTEGER NOT NULL,
	fee            BIGINT NOT NULL,
	amount_usd     TEXT NOT NULL,
	block_number   BIGINT NOT NULL,
	block_time     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS swap_events_pool_idx ON swap_events (pool_id);
CREATE INDEX IF NOT EXISTS swap_events_block_time_idx ON swap_events (block_time);

CREATE TABLE IF NOT EXISTS tokens (
	address              TEXT PRIMARY KEY,
	decimals             SMALLINT NOT NULL,
	symbol               TEXT NOT NULL,
	name                 TEXT NOT NULL,
	volume               NUMERIC(78,0) NOT NULL,
	volume_usd           TEXT NOT NULL,
	untracked_volume_usd TEXT NOT NULL,
	fees_usd             TEXT NOT NULL,
	tvl                  TEXT NOT NULL,
	tvl_usd              TEXT NOT NULL,
	derived_native       TEXT NOT NULL,
	tx_count             BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS token_whitelist_pools (
	token_address TEXT NOT NULL,
	pool_id       TEXT NOT NULL,
	PRIMARY KEY (token_address, pool_id)
);

CREATE TABLE IF NOT EXISTS candles (
	bucket_interval      TEXT NOT NULL,
	token_address        TEXT NOT NULL,
	bucket               TIMESTAMPTZ NOT NULL,
	status               TEXT NOT NULL,
	volume               NUMERIC(78,0) NOT NULL,
	volume_usd           TEXT NOT NULL,
	untracked_volume_usd TEXT NOT NULL,
	tvl                  TEXT NOT NULL,
	tvl_usd              TEXT NOT NULL,
	price_usd            TEXT NOT NULL,
	fees_usd             TEXT NOT NULL,
	open                 TEXT NOT NULL,
	high                 TEXT NOT NULL,
	low                  TEXT NOT NULL,
	close                TEXT NOT NULL,
	tx_count             BIGINT NOT NULL,
	PRIMARY KEY (bucket_interval, token_address, bucket)
);
CREATE INDEX IF NOT EXISTS candles_status_idx ON candles (bucket_interval, status, bucket);

CREATE TABLE IF NOT EXISTS sync_state (
	pool_manager          TEXT PRIMARY KEY,
	last_synced_block     BIGINT NOT NULL,
	current_block         BIGINT NOT NULL,
	initial_sync_complete BOOLEAN NOT NULL,
	last_synced_at        TIMESTAMPTZ NOT NULL
);
`
