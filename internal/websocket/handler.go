// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin enforcement happens in the router's CORS middleware; the
	// gateway is expected to run behind the operator's reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler returns an http.Handler that upgrades the connection and
// registers it as a fan-out subscriber.
func Handler(b *bus.Bus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		sub := b.Subscribe()
		NewClient(conn, b, sub).Start()
	})
}
