// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bus is the in-process fanout for ingestion products: persisted
// swaps and finalized candles. Delivery is fire-and-forget with bounded
// per-subscriber buffers; a slow subscriber loses its oldest messages and
// can never stall the ingest loop.
package bus

import (
	"sync"

	log "github.com/luxfi/log"

	"github.com/luxfi/dexindex/store"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Bus fans out swap and candle notifications to any number of subscribers.
type Bus struct {
	mu      sync.Mutex
	buffer  int
	nextID  uint64
	swaps   map[uint64]chan *store.SwapEvent
	candles map[uint64]chan *store.Candle
	log     log.Logger
}

// New returns a Bus with the given per-subscriber buffer size; zero or
// negative means DefaultBuffer.
func New(buffer int, logger log.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		buffer:  buffer,
		swaps:   make(map[uint64]chan *store.SwapEvent),
		candles: make(map[uint64]chan *store.Candle),
		log:     logger,
	}
}

// SubscribeSwaps registers a swap subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) SubscribeSwaps() (<-chan *store.SwapEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *store.SwapEvent, b.buffer)
	b.swaps[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.swaps[id]; ok {
			delete(b.swaps, id)
			close(c)
		}
	}
}

// SubscribeCandles registers a finalized-candle subscriber.
func (b *Bus) SubscribeCandles() (<-chan *store.Candle, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *store.Candle, b.buffer)
	b.candles[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.candles[id]; ok {
			delete(b.candles, id)
			close(c)
		}
	}
}

// PublishSwap delivers a persisted swap to every subscriber.
func (b *Bus) PublishSwap(ev *store.SwapEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.swaps {
		if !offer(ch, ev) {
			b.log.Warn("slow swap subscriber, dropped oldest message")
		}
	}
}

// PublishCandle delivers a finalized candle to every subscriber.
func (b *Bus) PublishCandle(c *store.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.candles {
		if !offer(ch, c) {
			b.log.Warn("slow candle subscriber, dropped oldest message")
		}
	}
}

// offer enqueues without blocking, evicting the oldest buffered message when
// the channel is full. Reports whether delivery happened without eviction.
func offer[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
	return false
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.swaps {
		delete(b.swaps, id)
		close(ch)
	}
	for id, ch := range b.candles {
		delete(b.candles, id)
		close(ch)
	}
}
