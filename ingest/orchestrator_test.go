// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dexindex/bus"
	"github.com/luxfi/dexindex/chain"
	"github.com/luxfi/dexindex/pools"
	"github.com/luxfi/dexindex/store"
	"github.com/luxfi/dexindex/tokens"
)

var (
	mgrAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	currency0 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	currency1 = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	poolHash  = common.HexToHash("0x42")
	sqrtUnit  = new(big.Int).Lsh(big.NewInt(1), 96)
	genesis   = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
)

// fakeChain serves canned logs and timestamps and can fail the first N
// filter calls to exercise the retry path.
type fakeChain struct {
	head        uint64
	logs        []types.Log
	filterCalls [][2]uint64
	failFilters int
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) FilterLogs(_ context.Context, _ common.Address, from, to uint64) ([]types.Log, error) {
	if f.failFilters > 0 {
		f.failFilters--
		return nil, errors.New("rpc: connection reset")
	}
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeChain) SubscribeLogs(_ context.Context, _ common.Address, _ chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("notifications not supported")
}

func (f *fakeChain) BlockTimestamp(_ context.Context, number uint64) (time.Time, error) {
	return genesis.Add(time.Duration(number) * 12 * time.Second), nil
}

func (f *fakeChain) TokenMetadata(_ context.Context, _ common.Address) (uint8, string, string) {
	return store.DefaultDecimals, store.DefaultSymbol, store.DefaultName
}

func word(v *big.Int) []byte {
	enc := new(big.Int).Mod(v, new(big.Int).Lsh(big.NewInt(1), 256))
	out := make([]byte, 32)
	enc.FillBytes(out)
	return out
}

func words(vs ...*big.Int) []byte {
	var out []byte
	for _, v := range vs {
		out = append(out, word(v)...)
	}
	return out
}

func initializeLog(block uint64, index uint) types.Log {
	return types.Log{
		Address:     mgrAddr,
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x1%02d", index)),
		Index:       index,
		Topics: []common.Hash{
			chain.InitializeTopic,
			poolHash,
			common.BytesToHash(currency0.Bytes()),
			common.BytesToHash(currency1.Bytes()),
		},
		Data: words(
			big.NewInt(3000),
			big.NewInt(60),
			big.NewInt(0), // hooks
			sqrtUnit,
			big.NewInt(0), // tick
		),
	}
}

func modifyLog(block uint64, index uint, delta int64) types.Log {
	return types.Log{
		Address:     mgrAddr,
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x2%02d", index)),
		Index:       index,
		Topics: []common.Hash{
			chain.ModifyLiquidityTopic,
			poolHash,
			common.BytesToHash(currency0.Bytes()),
		},
		Data: words(
			big.NewInt(-600),
			big.NewInt(600),
			big.NewInt(delta),
			big.NewInt(0), // salt
		),
	}
}

func swapLog(block uint64, index uint) types.Log {
	in := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	out := new(big.Int).Neg(in)
	return types.Log{
		Address:     mgrAddr,
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x3%02d", index)),
		Index:       index,
		Topics: []common.Hash{
			chain.SwapTopic,
			poolHash,
			common.BytesToHash(currency0.Bytes()),
		},
		Data: words(
			in,
			out,
			sqrtUnit,
			big.NewInt(1_000_000_000),
			big.NewInt(0),
			big.NewInt(3000),
		),
	}
}

func newTestOrchestrator(t *testing.T, fc *fakeChain, st *store.MemStore, batch uint64) *Orchestrator {
	t.Helper()
	logger := log.NewTestLogger(log.InfoLevel)
	b := bus.New(64, logger)
	oracle := tokens.NewOracle(st, tokens.OracleConfig{
		WrappedNative:       chain.AddrKey(currency1),
		WhitelistTokens:     []string{chain.AddrKey(currency1)},
		MinimumNativeLocked: sdkmath.LegacyZeroDec(),
	}, logger)
	agg, err := tokens.NewAggregator(st, fc, oracle, b, logger)
	require.NoError(t, err)
	machine := pools.NewMachine(st, agg, logger)
	o, err := New(Config{
		PoolManager: mgrAddr,
		StartBlock:  10,
		BatchSize:   batch,
	}, fc, st, machine, agg, logger)
	require.NoError(t, err)
	return o
}

func TestBackfillProcessesInOrder(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{
		head: 13,
		logs: []types.Log{
			initializeLog(10, 0),
			modifyLog(11, 0, 1_000_000_000),
			swapLog(12, 0),
		},
	}
	st := store.NewMemStore()
	o := newTestOrchestrator(t, fc, st, 2)

	require.NoError(t, o.loadState(ctx))
	require.NoError(t, o.backfill(ctx))

	// batches of 2 blocks from 10 to 13
	require.Equal(t, [][2]uint64{{10, 11}, {12, 13}}, fc.filterCalls)

	pool, err := st.GetPool(ctx, chain.HashKey(poolHash))
	require.NoError(t, err)
	require.Equal(t, "1000000000", pool.Liquidity.String())

	swaps, err := st.ListSwapsByPool(ctx, pool.PoolID, 0)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	require.Equal(t, uint64(12), swaps[0].BlockNumber)

	tok, err := st.GetToken(ctx, chain.AddrKey(currency0))
	require.NoError(t, err)
	require.Equal(t, uint64(1), tok.TxCount)

	state, err := st.GetSyncState(ctx, chain.AddrKey(mgrAddr))
	require.NoError(t, err)
	require.Equal(t, uint64(13), state.LastSyncedBlock)
	require.True(t, state.InitialSyncComplete)
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{head: 20, logs: []types.Log{initializeLog(10, 0)}}
	st := store.NewMemStore()
	require.NoError(t, st.SaveSyncState(ctx, &store.SyncState{
		PoolManager:     chain.AddrKey(mgrAddr),
		LastSyncedBlock: 15,
	}))
	o := newTestOrchestrator(t, fc, st, 100)

	require.NoError(t, o.loadState(ctx))
	require.NoError(t, o.backfill(ctx))

	// blocks at or below the checkpoint are never refetched
	require.Equal(t, [][2]uint64{{16, 20}}, fc.filterCalls)
	_, err := st.GetPool(ctx, chain.HashKey(poolHash))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestReplayedLogIsDroppedInRun(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{head: 13}
	st := store.NewMemStore()
	o := newTestOrchestrator(t, fc, st, 10)
	require.NoError(t, o.loadState(ctx))

	ini := initializeLog(10, 0)
	mod := modifyLog(11, 0, 1_000_000_000)
	require.NoError(t, o.processLog(ctx, &ini))
	require.NoError(t, o.processLog(ctx, &mod))

	pool, err := st.GetPool(ctx, chain.HashKey(poolHash))
	require.NoError(t, err)
	tvl0 := pool.TVL0.String()

	// replaying the liquidity change must not double-count reserves
	require.NoError(t, o.processLog(ctx, &mod))
	pool, err = st.GetPool(ctx, chain.HashKey(poolHash))
	require.NoError(t, err)
	require.Equal(t, tvl0, pool.TVL0.String())
}

func TestReplayedSwapAcrossRunsIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{head: 13}
	st := store.NewMemStore()

	first := newTestOrchestrator(t, fc, st, 10)
	require.NoError(t, first.loadState(ctx))
	ini := initializeLog(10, 0)
	sw := swapLog(12, 0)
	require.NoError(t, first.processLog(ctx, &ini))
	require.NoError(t, first.processLog(ctx, &sw))

	tok, err := st.GetToken(ctx, chain.AddrKey(currency0))
	require.NoError(t, err)
	require.Equal(t, uint64(1), tok.TxCount)

	// fresh orchestrator, empty seen cache: the swap unique key rejects it
	second := newTestOrchestrator(t, fc, st, 10)
	require.NoError(t, second.loadState(ctx))
	require.NoError(t, second.processLog(ctx, &sw))

	tok, err = st.GetToken(ctx, chain.AddrKey(currency0))
	require.NoError(t, err)
	require.Equal(t, uint64(1), tok.TxCount)
}

func TestSwapBeforeInitializeSkipped(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{head: 13}
	st := store.NewMemStore()
	o := newTestOrchestrator(t, fc, st, 10)
	require.NoError(t, o.loadState(ctx))

	sw := swapLog(12, 0)
	require.NoError(t, o.processLog(ctx, &sw))

	swaps, err := st.ListSwapsByPool(ctx, chain.HashKey(poolHash), 0)
	require.NoError(t, err)
	require.Empty(t, swaps)
}

func TestFilterLogsRetries(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{head: 11, failFilters: 2, logs: []types.Log{initializeLog(10, 0)}}
	st := store.NewMemStore()
	o := newTestOrchestrator(t, fc, st, 100)

	require.NoError(t, o.loadState(ctx))
	require.NoError(t, o.backfill(ctx))

	_, err := st.GetPool(ctx, chain.HashKey(poolHash))
	require.NoError(t, err)
}

func TestLiveLogAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	fc := &fakeChain{head: 13}
	st := store.NewMemStore()
	o := newTestOrchestrator(t, fc, st, 10)
	require.NoError(t, o.loadState(ctx))

	ini := initializeLog(14, 0)
	require.NoError(t, o.processLiveLog(ctx, &ini))

	state, err := st.GetSyncState(ctx, chain.AddrKey(mgrAddr))
	require.NoError(t, err)
	require.Equal(t, uint64(14), state.LastSyncedBlock)
}

func TestUndecodableLogSkipped(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t, &fakeChain{head: 13}, store.NewMemStore(), 10)
	require.NoError(t, o.loadState(ctx))

	lg := types.Log{BlockNumber: 10, Topics: []common.Hash{common.HexToHash("0xdead")}}
	require.NoError(t, o.processLog(ctx, &lg))
}
