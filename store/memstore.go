// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same key semantics as the SQL
// store. It backs tests and DSN-less development runs. All returned records
// are deep copies.
type MemStore struct {
	mu sync.RWMutex

	pools      map[string]*Pool
	swaps      map[string]*SwapEvent // key txHash:logIndex
	swapSeq    []string              // insertion order for queries
	tokens     map[string]*Token
	candles    map[string]*Candle // key interval:token:bucketUnix
	syncStates map[string]*SyncState
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		pools:      make(map[string]*Pool),
		swaps:      make(map[string]*SwapEvent),
		tokens:     make(map[string]*Token),
		candles:    make(map[string]*Candle),
		syncStates: make(map[string]*SyncState),
	}
}

func swapKey(txHash string, logIndex uint32) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

func candleKey(interval Interval, token string, bucket time.Time) string {
	return fmt.Sprintf("%s:%s:%d", interval, token, bucket.UTC().Unix())
}

func (m *MemStore) InsertPool(_ context.Context, p *Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[p.PoolID]; ok {
		return ErrDuplicate
	}
	m.pools[p.PoolID] = p.Clone()
	return nil
}

func (m *MemStore) GetPool(_ context.Context, poolID string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[poolID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemStore) SavePool(_ context.Context, p *Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.PoolID] = p.Clone()
	return nil
}

func (m *MemStore) ListPools(_ context.Context, limit, offset int) ([]*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Pool, 0)
	for i, id := range ids {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.pools[id].Clone())
	}
	return out, nil
}

func (m *MemStore) ListPoolsByToken(_ context.Context, token string) ([]*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pools))
	for id, p := range m.pools {
		if p.Currency0 == token || p.Currency1 == token {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*Pool, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.pools[id].Clone())
	}
	return out, nil
}

func (m *MemStore) InsertSwap(_ context.Context, s *SwapEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := swapKey(s.TxHash, s.LogIndex)
	if _, ok := m.swaps[key]; ok {
		return ErrDuplicate
	}
	m.swaps[key] = s.Clone()
	m.swapSeq = append(m.swapSeq, key)
	return nil
}

func (m *MemStore) ListSwapsByPool(_ context.Context, poolID string, limit int) ([]*SwapEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SwapEvent, 0)
	// newest first
	for i := len(m.swapSeq) - 1; i >= 0; i-- {
		s := m.swaps[m.swapSeq[i]]
		if s.PoolID != poolID {
			continue
		}
		out = append(out, s.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemStore) EnsureToken(_ context.Context, address string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureTokenLocked(address).Clone(), nil
}

func (m *MemStore) ensureTokenLocked(address string) *Token {
	t, ok := m.tokens[address]
	if !ok {
		t = NewToken(address)
		m.tokens[address] = t
	}
	return t
}

func (m *MemStore) GetToken(_ context.Context, address string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[address]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemStore) ApplyTokenSwap(_ context.Context, address string, delta TokenSwapDelta) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ensureTokenLocked(address)
	applyTokenDelta(t, delta.normalize())
	return t.Clone(), nil
}

func (m *MemStore) SetTokenMetadata(_ context.Context, address string, decimals uint8, symbol, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ensureTokenLocked(address)
	t.Decimals = decimals
	t.Symbol = symbol
	t.Name = name
	return nil
}

func (m *MemStore) AddWhitelistPool(_ context.Context, address, poolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ensureTokenLocked(address)
	for _, id := range t.WhitelistPools {
		if id == poolID {
			return nil
		}
	}
	t.WhitelistPools = append(t.WhitelistPools, poolID)
	return nil
}

func (m *MemStore) ListTokens(_ context.Context, limit, offset int) ([]*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addrs := make([]string, 0, len(m.tokens))
	for a := range m.tokens {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	out := make([]*Token, 0)
	for i, a := range addrs {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.tokens[a].Clone())
	}
	return out, nil
}

func (m *MemStore) ApplyCandle(_ context.Context, interval Interval, token string, bucket time.Time, fold CandleFold) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fold = fold.normalize()
	key := candleKey(interval, token, bucket)
	c, ok := m.candles[key]
	if !ok {
		m.candles[key] = newCandle(interval, token, bucket, fold)
		return true, nil
	}
	if c.Status == CandleFinalized {
		return false, nil
	}
	foldCandle(c, fold)
	return true, nil
}

func (m *MemStore) FinalizeCandles(_ context.Context, interval Interval, before time.Time) ([]*Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	promoted := make([]*Candle, 0)
	for _, c := range m.candles {
		if c.Interval != interval || c.Status != CandleCurrent {
			continue
		}
		if !c.Bucket.Before(before.UTC()) {
			continue
		}
		c.Status = CandleFinalized
		promoted = append(promoted, c.Clone())
	}
	sort.Slice(promoted, func(i, j int) bool {
		if !promoted[i].Bucket.Equal(promoted[j].Bucket) {
			return promoted[i].Bucket.Before(promoted[j].Bucket)
		}
		return promoted[i].TokenAddress < promoted[j].TokenAddress
	})
	return promoted, nil
}

func (m *MemStore) GetCandle(_ context.Context, interval Interval, token string, bucket time.Time) (*Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.candles[candleKey(interval, token, bucket)]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemStore) ListCandles(_ context.Context, interval Interval, token string, limit int) ([]*Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Candle, 0)
	for _, c := range m.candles {
		if c.Interval == interval && c.TokenAddress == token {
			out = append(out, c.Clone())
		}
	}
	// newest first
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.After(out[j].Bucket) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) GetSyncState(_ context.Context, poolManager string) (*SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.syncStates[poolManager]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemStore) SaveSyncState(_ context.Context, s *SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.syncStates[s.PoolManager] = &cp
	return nil
}

func (m *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
