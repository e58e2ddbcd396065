// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tokens

import (
	"context"
	"time"

	log "github.com/luxfi/log"

	"github.com/luxfi/dexindex/bus"
	"github.com/luxfi/dexindex/store"
)

// finalizeGrace delays promotion past the bucket boundary so a swap landing
// in the last block of a bucket is folded before the candle freezes.
const finalizeGrace = 5 * time.Second

// Finalizer promotes closed candle buckets from current to finalized on each
// interval boundary and publishes the promoted rows.
type Finalizer struct {
	store store.Store
	bus   *bus.Bus
	log   log.Logger
}

// NewFinalizer wires the finalizer to its store and bus.
func NewFinalizer(st store.Store, b *bus.Bus, logger log.Logger) *Finalizer {
	return &Finalizer{store: st, bus: b, log: logger}
}

// Run drives one promotion loop per interval until ctx is cancelled.
func (f *Finalizer) Run(ctx context.Context) {
	for _, interval := range store.Intervals {
		go f.loop(ctx, interval)
	}
}

func (f *Finalizer) loop(ctx context.Context, interval store.Interval) {
	for {
		now := time.Now().UTC()
		next := interval.Truncate(now).Add(interval.Duration()).Add(finalizeGrace)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := f.Finalize(ctx, interval, time.Now().UTC()); err != nil {
			f.log.Error("candle finalization failed", "interval", interval, "err", err)
		}
	}
}

// Finalize promotes every current candle of the interval whose bucket closed
// before now, publishes each promoted row and returns the count. Promotion
// is idempotent: rerunning for the same boundary promotes nothing.
func (f *Finalizer) Finalize(ctx context.Context, interval store.Interval, now time.Time) (int, error) {
	before := interval.Truncate(now)
	promoted, err := f.store.FinalizeCandles(ctx, interval, before)
	if err != nil {
		return 0, err
	}
	for _, c := range promoted {
		f.bus.PublishCandle(c)
	}
	if len(promoted) > 0 {
		f.log.Info("candles finalized", "interval", interval, "count", len(promoted), "before", before)
	}
	return len(promoted), nil
}
