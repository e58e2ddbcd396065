// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luxfi/dexindex/store"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the API is read-only public data
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the envelope streamed to WebSocket clients.
type wsMessage struct {
	Type   string           `json:"type"` // "swap" or "candle"
	Swap   *store.SwapEvent `json:"swap,omitempty"`
	Candle *store.Candle    `json:"candle,omitempty"`
}

// handleWebSocket streams persisted swaps and finalized candles. The bus
// drops oldest messages for slow clients, so one stuck connection cannot
// back-pressure ingestion.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	swaps, cancelSwaps := s.bus.SubscribeSwaps()
	defer cancelSwaps()
	candles, cancelCandles := s.bus.SubscribeCandles()
	defer cancelCandles()

	// reader only pumps control frames and detects close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var msg wsMessage
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case ev, ok := <-swaps:
			if !ok {
				return
			}
			msg = wsMessage{Type: "swap", Swap: ev}
		case c, ok := <-candles:
			if !ok {
				return
			}
			msg = wsMessage{Type: "candle", Candle: c}
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
