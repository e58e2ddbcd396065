// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the indexed state over REST and streams pipeline
// products over WebSocket. The API is read-only; all writes go through the
// ingestion pipeline.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/luxfi/log"

	"github.com/luxfi/dexindex/bus"
	"github.com/luxfi/dexindex/store"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Server serves the REST and WebSocket endpoints.
type Server struct {
	store  store.Store
	bus    *bus.Bus
	mgrKey string
	log    log.Logger
}

// NewServer wires the read API to the store and bus. mgrKey is the lowercase
// pool manager address the sync endpoint reports on.
func NewServer(st store.Store, b *bus.Bus, mgrKey string, logger log.Logger) *Server {
	return &Server{store: st, bus: b, mgrKey: mgrKey, log: logger}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{poolID}", s.handleGetPool)
		r.Get("/pools/{poolID}/swaps", s.handleListSwaps)
		r.Get("/tokens", s.handleListTokens)
		r.Get("/tokens/{address}", s.handleGetToken)
		r.Get("/tokens/{address}/candles", s.handleListCandles)
		r.Get("/sync", s.handleSyncState)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	pools, err := s.store.ListPools(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.store.GetPool(r.Context(), lowerParam(r, "poolID"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pool)
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)
	swaps, err := s.store.ListSwapsByPool(r.Context(), lowerParam(r, "poolID"), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, swaps)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	toks, err := s.store.ListTokens(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toks)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.store.GetToken(r.Context(), lowerParam(r, "address"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleListCandles(w http.ResponseWriter, r *http.Request) {
	interval := store.Interval(r.URL.Query().Get("interval"))
	if interval == "" {
		interval = store.IntervalMinute
	}
	if !interval.Valid() {
		s.writeError(w, http.StatusBadRequest, "interval must be minute, hour or day")
		return
	}
	limit, _ := pagination(r)
	candles, err := s.store.ListCandles(r.Context(), interval, lowerParam(r, "address"), limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.GetSyncState(r.Context(), s.mgrKey)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func lowerParam(r *http.Request, name string) string {
	return strings.ToLower(chi.URLParam(r, name))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.log.Error("request failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
