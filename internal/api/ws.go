// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	xlog "github.com/ManuGH/loopsync/internal/log"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control surface is a trusted operator LAN; the UI is served from
	// the same origin in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection, sends an immediate snapshot and then
// relays every controller broadcast until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	id, updates := s.ctrl.Subscribe()
	logger := s.logger.With().Str("client", id).Logger()
	logger.Debug().Str(xlog.FieldEvent, "ws.connected").Msg("websocket client connected")

	// Reader: we expect no client messages, but the read loop is what
	// detects a closed peer.
	go func() {
		defer s.ctrl.Unsubscribe(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	defer func() {
		s.ctrl.Unsubscribe(id)
		_ = conn.Close()
		logger.Debug().Str(xlog.FieldEvent, "ws.disconnected").Msg("websocket client disconnected")
	}()

	if err := write(s.ctrl.Status()); err != nil {
		return
	}
	for st := range updates {
		if err := write(st); err != nil {
			return
		}
	}
}
