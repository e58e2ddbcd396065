// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
rpc_url: ws://localhost:8546
pool_manager: "0x000000000004444c5dc75cB358380D2e3dE08A90"
start_block: 21688329
database_dsn: ""
oracle:
  wrapped_native: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
  stablecoin: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
  native_stable_pool: "0xAA"
  stablecoin_is_token0: true
  whitelist_tokens:
    - "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
  minimum_native_locked: "2.5"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndNormalization(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Equal(t, uint64(1000), cfg.SyncBatchSize)
	require.Equal(t, 12*time.Second, cfg.PollInterval)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 256, cfg.CandleBuffer)

	// address fields lowercased to match storage keys
	require.Equal(t, "0x000000000004444c5dc75cb358380d2e3de08a90", cfg.PoolManager)
	require.Equal(t, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", cfg.Oracle.WrappedNative)
	require.Equal(t, []string{"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"}, cfg.Oracle.WhitelistTokens)

	floor, err := cfg.MinimumNativeLocked()
	require.NoError(t, err)
	require.Equal(t, "2.500000000000000000", floor.String())
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("DEXINDEX_RPC_URL", "ws://env-host:8546")
	t.Setenv("DEXINDEX_POOL_MANAGER", "0x000000000004444c5dc75cB358380D2e3dE08A90")
	t.Setenv("DEXINDEX_START_BLOCK", "21688329")
	t.Setenv("DEXINDEX_ORACLE_WRAPPED_NATIVE", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ws://env-host:8546", cfg.RPCURL)
	require.Equal(t, "0x000000000004444c5dc75cb358380d2e3de08a90", cfg.PoolManager)
	require.Equal(t, uint64(21688329), cfg.StartBlock)
	require.Equal(t, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", cfg.Oracle.WrappedNative)
}

func TestLoadRejectsMissingRPC(t *testing.T) {
	_, err := Load(writeConfig(t, `pool_manager: "0x000000000004444c5dc75cB358380D2e3dE08A90"`))
	require.ErrorContains(t, err, "rpc_url")
}

func TestLoadRejectsBadPoolManager(t *testing.T) {
	_, err := Load(writeConfig(t, "rpc_url: ws://x\npool_manager: nope\n"))
	require.ErrorContains(t, err, "pool_manager")
}

func TestLoadRejectsBadFloor(t *testing.T) {
	body := `
rpc_url: ws://x
pool_manager: "0x000000000004444c5dc75cB358380D2e3dE08A90"
oracle:
  minimum_native_locked: "not-a-number"
`
	_, err := Load(writeConfig(t, body))
	require.ErrorContains(t, err, "minimum_native_locked")
}
