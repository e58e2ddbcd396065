// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the indexer configuration from a YAML file and
// DEXINDEX_-prefixed environment variables, with sane defaults for
// everything except the chain endpoint and contract address.
package config

import (
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/luxfi/geth/common"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	// RPCURL is the chain endpoint; ws:// enables the live subscription,
	// http:// falls back to polling.
	RPCURL string `mapstructure:"rpc_url"`
	// PoolManager is the singleton pool manager contract address.
	PoolManager string `mapstructure:"pool_manager"`
	// StartBlock is the deployment block of the pool manager.
	StartBlock uint64 `mapstructure:"start_block"`
	// SyncBatchSize is the block span per historical log query.
	SyncBatchSize uint64 `mapstructure:"sync_batch_size"`
	// PollInterval is the head-poll cadence without a subscription.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// DatabaseDSN selects Postgres; empty runs on the in-memory store.
	DatabaseDSN string `mapstructure:"database_dsn"`

	// ListenAddr is the REST/WebSocket bind address.
	ListenAddr string `mapstructure:"listen_addr"`
	// CandleBuffer is the per-subscriber bus channel capacity.
	CandleBuffer int `mapstructure:"candle_buffer"`

	Oracle OracleConfig `mapstructure:"oracle"`
}

// OracleConfig pins the USD pricing references.
type OracleConfig struct {
	WrappedNative       string   `mapstructure:"wrapped_native"`
	Stablecoin          string   `mapstructure:"stablecoin"`
	NativeStablePool    string   `mapstructure:"native_stable_pool"`
	StablecoinIsToken0  bool     `mapstructure:"stablecoin_is_token0"`
	WhitelistTokens     []string `mapstructure:"whitelist_tokens"`
	MinimumNativeLocked string   `mapstructure:"minimum_native_locked"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync_batch_size", 1000)
	v.SetDefault("poll_interval", "12s")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("candle_buffer", 256)
	v.SetDefault("oracle.minimum_native_locked", "1")
}

// configKeys enumerates every settable key. Viper's Unmarshal only sees keys
// it already knows about, so each one is bound to its DEXINDEX_ variable
// explicitly; AutomaticEnv alone would miss env-only keys with no default.
var configKeys = []string{
	"rpc_url", "pool_manager", "start_block", "sync_batch_size",
	"poll_interval", "database_dsn", "listen_addr", "candle_buffer",
	"oracle.wrapped_native", "oracle.stablecoin", "oracle.native_stable_pool",
	"oracle.stablecoin_is_token0", "oracle.whitelist_tokens",
	"oracle.minimum_native_locked",
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DEXINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize lowercases every address-valued field so they match storage keys.
func (c *Config) normalize() {
	c.PoolManager = strings.ToLower(c.PoolManager)
	c.Oracle.WrappedNative = strings.ToLower(c.Oracle.WrappedNative)
	c.Oracle.Stablecoin = strings.ToLower(c.Oracle.Stablecoin)
	c.Oracle.NativeStablePool = strings.ToLower(c.Oracle.NativeStablePool)
	for i, t := range c.Oracle.WhitelistTokens {
		c.Oracle.WhitelistTokens[i] = strings.ToLower(t)
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: rpc_url is required")
	}
	if !common.IsHexAddress(c.PoolManager) {
		return fmt.Errorf("config: pool_manager %q is not an address", c.PoolManager)
	}
	if c.SyncBatchSize == 0 {
		return fmt.Errorf("config: sync_batch_size must be positive")
	}
	if c.Oracle.WrappedNative != "" && !common.IsHexAddress(c.Oracle.WrappedNative) {
		return fmt.Errorf("config: oracle.wrapped_native %q is not an address", c.Oracle.WrappedNative)
	}
	if c.Oracle.Stablecoin != "" && !common.IsHexAddress(c.Oracle.Stablecoin) {
		return fmt.Errorf("config: oracle.stablecoin %q is not an address", c.Oracle.Stablecoin)
	}
	if _, err := c.MinimumNativeLocked(); err != nil {
		return err
	}
	return nil
}

// PoolManagerAddress returns the parsed contract address.
func (c *Config) PoolManagerAddress() common.Address {
	return common.HexToAddress(c.PoolManager)
}

// MinimumNativeLocked parses the oracle liquidity floor.
func (c *Config) MinimumNativeLocked() (sdkmath.LegacyDec, error) {
	if c.Oracle.MinimumNativeLocked == "" {
		return sdkmath.LegacyZeroDec(), nil
	}
	d, err := sdkmath.LegacyNewDecFromStr(c.Oracle.MinimumNativeLocked)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("config: oracle.minimum_native_locked: %w", err)
	}
	return d, nil
}
