// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccobservatory/core/internal/auth"
	"github.com/ccobservatory/core/internal/broadcast"
	"github.com/ccobservatory/core/internal/transcript"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades incoming requests to the broadcaster's WebSocket
// protocol: a token-gated handshake followed by a receive loop for
// client-initiated control frames (ping, and anything else is rejected).
type WSHandler struct {
	registry *broadcast.Registry
	auth     auth.Predicate
}

// NewWSHandler creates a WSHandler. pred validates the token query
// parameter at handshake time.
func NewWSHandler(registry *broadcast.Registry, pred auth.Predicate) *WSHandler {
	return &WSHandler{registry: registry, auth: pred}
}

type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServeHTTP performs the WebSocket upgrade and handshake, then services
// the connection until the peer disconnects.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.rejectBeforeUpgrade(w, r, "authentication required")
		return
	}

	user, err := h.auth.Validate(token)
	if err != nil {
		var authErr *auth.Error
		if isAuthError(err, &authErr) {
			h.rejectBeforeUpgrade(w, r, "authentication failed")
		} else {
			h.rejectBeforeUpgrade(w, r, "authentication service error")
		}
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	clientID, err := h.registry.Accept(conn, user, parseSubscriptions(r))
	if err != nil {
		log.Printf("ws: accept failed for user %q: %v", user.UserID, err)
		conn.Close()
		return
	}
	defer h.registry.Disconnect(clientID)

	h.readLoop(conn)
}

// rejectBeforeUpgrade completes the upgrade (a close frame has no meaning
// before one) and immediately closes with 1008 Policy Violation for
// authentication rejections or 1011 Internal Error for unexpected
// Predicate failures.
func (h *WSHandler) rejectBeforeUpgrade(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	code := websocket.ClosePolicyViolation
	if reason == "authentication service error" {
		code = websocket.CloseInternalServerErr
	}
	deadline := time.Now().Add(2 * time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

func (h *WSHandler) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			// Malformed frames are ignored silently rather than tearing
			// down the connection over one bad message.
			continue
		}

		switch frame.Type {
		case "ping":
			conn.WriteJSON(map[string]string{"type": "pong"})
		default:
			conn.WriteJSON(map[string]string{"error": "unsupported message type"})
		}
	}
}

// parseSubscriptions reads the optional "subscriptions" query parameter (a
// comma-separated list of subscription keys) and returns the validated set,
// dropping any key that doesn't match the fixed grammar. Absent or
// all-invalid input returns nil, which leaves Accept to fall back to its
// own defaults.
func parseSubscriptions(r *http.Request) map[string]struct{} {
	raw := r.URL.Query().Get("subscriptions")
	if raw == "" {
		return nil
	}

	var subs map[string]struct{}
	for _, key := range strings.Split(raw, ",") {
		key = strings.TrimSpace(key)
		if key == "" || !transcript.ValidSubscriptionKey(key) {
			continue
		}
		if subs == nil {
			subs = make(map[string]struct{})
		}
		subs[key] = struct{}{}
	}
	return subs
}

func isAuthError(err error, target **auth.Error) bool {
	ae, ok := err.(*auth.Error)
	if ok {
		*target = ae
	}
	return ok
}
