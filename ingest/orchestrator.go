// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ingest drives the pipeline: it backfills historical pool manager
// logs in batches, buffers live logs while the backfill runs, and feeds
// every log through decode, pool state, persistence and aggregation on a
// single consumer goroutine so (block, logIndex) order is preserved end to
// end.
package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	log "github.com/luxfi/log"
	"github.com/zeebo/blake3"

	"github.com/luxfi/dexindex/chain"
	"github.com/luxfi/dexindex/pools"
	"github.com/luxfi/dexindex/store"
	"github.com/luxfi/dexindex/tokens"
)

// Config controls the ingestion loop.
type Config struct {
	// PoolManager is the singleton contract all events come from.
	PoolManager common.Address
	// StartBlock is where a fresh deployment begins; ignored once a sync
	// state checkpoint exists.
	StartBlock uint64
	// BatchSize is the block span of one historical getLogs query.
	BatchSize uint64
	// LiveBuffer is the capacity of the live-log holding channel used
	// while the backfill runs.
	LiveBuffer int
	// PollInterval drives the fallback polling loop on endpoints without
	// subscription support.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.LiveBuffer == 0 {
		c.LiveBuffer = 4096
	}
	if c.PollInterval == 0 {
		c.PollInterval = 12 * time.Second
	}
	return c
}

const seenCacheSize = 1 << 16

// Orchestrator owns the ingestion loop and the sync-state checkpoint.
type Orchestrator struct {
	cfg     Config
	client  chain.Reader
	store   store.Store
	machine *pools.Machine
	agg     *tokens.Aggregator
	log     log.Logger

	mgrKey string
	state  *store.SyncState
	// seen short-circuits replays inside one process run, where the
	// backfill tail and the live buffer overlap. Keys are blake3 digests
	// of (txHash, logIndex).
	seen *lru.Cache[[32]byte, struct{}]
}

// New wires the orchestrator. The pool machine and aggregator must share the
// given store.
func New(cfg Config, client chain.Reader, st store.Store, machine *pools.Machine, agg *tokens.Aggregator, logger log.Logger) (*Orchestrator, error) {
	seen, err := lru.New[[32]byte, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		client:  client,
		store:   st,
		machine: machine,
		agg:     agg,
		log:     logger,
		mgrKey:  chain.AddrKey(cfg.PoolManager),
		seen:    seen,
	}, nil
}

// Run executes the full ingestion lifecycle: resume from the checkpoint,
// backfill to the head while buffering live logs, then follow the chain
// until ctx is cancelled. It returns on cancellation or a fatal store error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.loadState(ctx); err != nil {
		return err
	}

	live := make(chan types.Log, o.cfg.LiveBuffer)
	sub, err := o.client.SubscribeLogs(ctx, o.cfg.PoolManager, live)
	if err != nil {
		o.log.Warn("log subscription unavailable, falling back to polling", "err", err)
		sub = nil
	}

	if err := o.backfill(ctx); err != nil {
		return err
	}

	if sub == nil {
		return o.pollLoop(ctx)
	}
	return o.followLoop(ctx, sub, live)
}

// loadState restores the checkpoint or seeds a fresh one just before the
// configured start block.
func (o *Orchestrator) loadState(ctx context.Context) error {
	state, err := o.store.GetSyncState(ctx, o.mgrKey)
	switch {
	case err == nil:
		o.log.Info("resuming from checkpoint", "lastSyncedBlock", state.LastSyncedBlock,
			"initialSyncComplete", state.InitialSyncComplete)
	case errors.Is(err, store.ErrNotFound):
		start := o.cfg.StartBlock
		if start > 0 {
			start--
		}
		state = &store.SyncState{PoolManager: o.mgrKey, LastSyncedBlock: start}
		o.log.Info("starting fresh sync", "startBlock", o.cfg.StartBlock)
	default:
		return fmt.Errorf("load sync state: %w", err)
	}
	o.state = state
	return nil
}

// backfill walks [checkpoint+1, head] in BatchSize spans, committing the
// checkpoint after each span. RPC failures retry with exponential backoff;
// only store unavailability aborts.
func (o *Orchestrator) backfill(ctx context.Context) error {
	head, err := o.blockNumber(ctx)
	if err != nil {
		return err
	}
	o.state.CurrentBlock = head

	for o.state.LastSyncedBlock < head {
		from := o.state.LastSyncedBlock + 1
		to := from + o.cfg.BatchSize - 1
		if to > head {
			to = head
		}

		logs, err := o.filterLogs(ctx, from, to)
		if err != nil {
			return err
		}
		o.log.Info("backfill batch", "from", from, "to", to, "logs", len(logs))
		for i := range logs {
			if err := o.processLog(ctx, &logs[i]); err != nil {
				return err
			}
		}

		o.state.LastSyncedBlock = to
		if err := o.commitState(ctx); err != nil {
			return err
		}
	}

	if !o.state.InitialSyncComplete {
		o.state.InitialSyncComplete = true
		if err := o.commitState(ctx); err != nil {
			return err
		}
		o.log.Info("initial sync complete", "block", o.state.LastSyncedBlock)
	}
	return nil
}

// followLoop consumes the live subscription, including everything buffered
// during the backfill. A subscription error triggers a catch-up backfill for
// the missed span and a fresh subscription.
func (o *Orchestrator) followLoop(ctx context.Context, sub ethereum.Subscription, live chan types.Log) error {
	defer func() { sub.Unsubscribe() }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case lg := <-live:
			if err := o.processLiveLog(ctx, &lg); err != nil {
				return err
			}
		case err := <-sub.Err():
			o.log.Warn("log subscription dropped, resubscribing", "err", err)
			sub.Unsubscribe()
			next, rerr := o.resubscribe(ctx, live)
			if rerr != nil {
				return rerr
			}
			sub = next
			if err := o.backfill(ctx); err != nil {
				return err
			}
		}
	}
}

// pollLoop periodically backfills to the head. Used when the endpoint cannot
// serve subscriptions.
func (o *Orchestrator) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.backfill(ctx); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) resubscribe(ctx context.Context, live chan types.Log) (ethereum.Subscription, error) {
	var sub ethereum.Subscription
	op := func() error {
		s, serr := o.client.SubscribeLogs(ctx, o.cfg.PoolManager, live)
		if serr != nil {
			return serr
		}
		sub = s
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("resubscribe: %w", err)
	}
	return sub, nil
}

// processLiveLog advances the checkpoint as live blocks complete.
func (o *Orchestrator) processLiveLog(ctx context.Context, lg *types.Log) error {
	if lg.BlockNumber <= o.state.LastSyncedBlock {
		// backfill already covered this block; store dedupe and the
		// seen cache make the replay harmless
		return o.processLog(ctx, lg)
	}
	if err := o.processLog(ctx, lg); err != nil {
		return err
	}
	o.state.LastSyncedBlock = lg.BlockNumber
	if o.state.CurrentBlock < lg.BlockNumber {
		o.state.CurrentBlock = lg.BlockNumber
	}
	return o.commitState(ctx)
}

// processLog feeds one raw log through decode and the pipeline writers.
// Malformed or replayed logs are skipped; store unavailability is fatal.
func (o *Orchestrator) processLog(ctx context.Context, lg *types.Log) error {
	if lg.Removed {
		o.log.Warn("reorged log dropped", "block", lg.BlockNumber, "tx", lg.TxHash, "logIndex", lg.Index)
		return nil
	}
	key := seenKey(lg.TxHash, uint32(lg.Index))
	if _, dup := o.seen.Get(key); dup {
		return nil
	}

	dec, err := chain.DecodeLog(lg)
	if err != nil {
		o.log.Warn("undecodable log skipped", "block", lg.BlockNumber,
			"tx", lg.TxHash, "logIndex", lg.Index, "err", err)
		return nil
	}

	blockTime, err := o.blockTimestamp(ctx, lg.BlockNumber)
	if err != nil {
		return err
	}
	meta := pools.Meta{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    uint32(lg.Index),
		BlockNumber: lg.BlockNumber,
		BlockTime:   blockTime,
	}

	switch ev := dec.(type) {
	case chain.Initialize:
		err = o.applyInitialize(ctx, ev, meta)
	case chain.Swap:
		err = o.applySwap(ctx, ev, meta)
	case chain.ModifyLiquidity:
		err = o.applyModifyLiquidity(ctx, ev, meta)
	}
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return fmt.Errorf("store unavailable at block %d: %w", lg.BlockNumber, err)
		}
		o.log.Error("event processing failed, log skipped", "block", lg.BlockNumber,
			"tx", meta.TxHash, "logIndex", meta.LogIndex, "err", err)
	}
	o.seen.Add(key, struct{}{})
	return nil
}

func (o *Orchestrator) applyInitialize(ctx context.Context, ev chain.Initialize, meta pools.Meta) error {
	pool, err := o.machine.ApplyInitialize(ctx, ev, meta)
	if err != nil || pool == nil {
		return err
	}
	return o.agg.RegisterPool(ctx, pool)
}

// applySwap persists the swap first so the (txHash, logIndex) unique key can
// reject replays before any state is mutated.
func (o *Orchestrator) applySwap(ctx context.Context, ev chain.Swap, meta pools.Meta) error {
	poolID := chain.HashKey(ev.PoolID)
	pool, err := o.store.GetPool(ctx, poolID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.log.Warn("swap for unknown pool skipped", "pool", poolID,
				"tx", meta.TxHash, "logIndex", meta.LogIndex)
			return nil
		}
		return err
	}

	se := &store.SwapEvent{
		TxHash:       meta.TxHash,
		LogIndex:     meta.LogIndex,
		PoolID:       poolID,
		Currency0:    pool.Currency0,
		Currency1:    pool.Currency1,
		Sender:       chain.AddrKey(ev.Sender),
		Amount0:      store.NewBigInt(ev.Amount0),
		Amount1:      store.NewBigInt(ev.Amount1),
		SqrtPriceX96: store.NewBigInt(ev.SqrtPriceX96),
		Liquidity:    store.NewBigInt(ev.Liquidity),
		Tick:         ev.Tick,
		Fee:          ev.Fee,
		BlockNumber:  meta.BlockNumber,
		BlockTime:    meta.BlockTime,
	}
	se.AmountUSD, err = o.agg.AmountUSD(ctx, pool, se)
	if err != nil {
		return err
	}

	if err := o.store.InsertSwap(ctx, se); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			o.log.Debug("replayed swap dropped", "tx", meta.TxHash, "logIndex", meta.LogIndex)
			return nil
		}
		return err
	}

	updated, err := o.machine.ApplySwap(ctx, ev, meta)
	if err != nil || updated == nil {
		return err
	}
	return o.agg.HandleSwap(ctx, updated, se)
}

func (o *Orchestrator) applyModifyLiquidity(ctx context.Context, ev chain.ModifyLiquidity, meta pools.Meta) error {
	_, err := o.machine.ApplyModifyLiquidity(ctx, ev, meta)
	return err
}

func (o *Orchestrator) commitState(ctx context.Context) error {
	o.state.LastSyncedAt = time.Now().UTC()
	if err := o.store.SaveSyncState(ctx, o.state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

// blockNumber, filterLogs and blockTimestamp wrap the RPC calls with
// exponential backoff so transient endpoint failures never kill the loop.

func (o *Orchestrator) blockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := o.retryRPC(ctx, "blockNumber", func() error {
		var err error
		head, err = o.client.BlockNumber(ctx)
		return err
	})
	return head, err
}

func (o *Orchestrator) filterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := o.retryRPC(ctx, "filterLogs", func() error {
		var err error
		logs, err = o.client.FilterLogs(ctx, o.cfg.PoolManager, from, to)
		return err
	})
	return logs, err
}

func (o *Orchestrator) blockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	var ts time.Time
	err := o.retryRPC(ctx, "blockTimestamp", func() error {
		var err error
		ts, err = o.client.BlockTimestamp(ctx, number)
		return err
	})
	return ts, err
}

func (o *Orchestrator) retryRPC(ctx context.Context, name string, op func() error) error {
	attempt := 0
	wrapped := func() error {
		if err := op(); err != nil {
			attempt++
			o.log.Warn("rpc call failed, retrying", "call", name, "attempt", attempt, "err", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(wrapped, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// seenKey digests a log coordinate into a fixed cache key.
func seenKey(txHash common.Hash, logIndex uint32) [32]byte {
	var buf [36]byte
	copy(buf[:32], txHash[:])
	binary.BigEndian.PutUint32(buf[32:], logIndex)
	return blake3.Sum256(buf[:])
}
