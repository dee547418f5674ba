// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package broadcast implements the connection registry and envelope
// broadcaster: a subscription-indexed table of live WebSocket sessions and
// the concurrent fan-out that delivers envelopes to them.
package broadcast

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccobservatory/core/internal/transcript"
)

// Sender is the minimal per-connection write surface the registry needs.
// *websocket.Conn satisfies it; tests use a fake.
type Sender interface {
	WriteMessage(messageType int, data []byte) error
}

type client struct {
	sender Sender
	mu     sync.Mutex // serializes writes to preserve per-producer send order
}

// Registry is the sole mutator of the session table and subscription
// index (C6). The broadcaster (C7) reads through it to resolve addressed
// sessions before dispatching.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*transcript.Session
	clients     map[string]*client
	index       map[string]map[string]struct{} // subscription key -> client ids
	fanoutLimit int
}

// New creates an empty Registry. fanoutLimit bounds the number of
// concurrent per-session sends a single Broadcast call may run; if <= 0 it
// defaults to min(32, GOMAXPROCS*4).
func New(fanoutLimit int) *Registry {
	if fanoutLimit <= 0 {
		fanoutLimit = runtime.GOMAXPROCS(0) * 4
		if fanoutLimit > 32 {
			fanoutLimit = 32
		}
		if fanoutLimit < 1 {
			fanoutLimit = 1
		}
	}
	return &Registry{
		sessions:    make(map[string]*transcript.Session),
		clients:     make(map[string]*client),
		index:       make(map[string]map[string]struct{}),
		fanoutLimit: fanoutLimit,
	}
}

// Accept registers a newly-handshaken connection, assigns a fresh client
// id, stores the session with the given (or default) subscriptions,
// updates the index, and sends the connection_established envelope.
// Single-threaded per session from this point forward.
func (r *Registry) Accept(sender Sender, user transcript.UserInfo, subs map[string]struct{}) (string, error) {
	if subs == nil {
		subs = transcript.DefaultSubscriptions()
	}

	clientID := uuid.New().String()
	now := time.Now().UTC()

	sess := &transcript.Session{
		ClientID:      clientID,
		UserInfo:      user,
		Subscriptions: subs,
		ConnectedAt:   now,
	}

	r.mu.Lock()
	r.sessions[clientID] = sess
	r.clients[clientID] = &client{sender: sender}
	for key := range subs {
		set, ok := r.index[key]
		if !ok {
			set = make(map[string]struct{})
			r.index[key] = set
		}
		set[clientID] = struct{}{}
	}
	r.mu.Unlock()

	subList := make([]string, 0, len(subs))
	for k := range subs {
		subList = append(subList, k)
	}

	env := transcript.Envelope{
		Type: transcript.EnvelopeConnectionEstablished,
		Data: map[string]interface{}{
			"client_id":     clientID,
			"subscriptions": subList,
			"server_time":   now,
			"user_id":       user.UserID,
		},
	}
	if err := r.Send(clientID, env); err != nil {
		return clientID, err
	}
	return clientID, nil
}

// Disconnect removes a client from the session table and every
// subscription index set. Idempotent.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, clientID)
	delete(r.clients, clientID)
	for _, set := range r.index {
		delete(set, clientID)
	}
}

// Send serializes and writes an envelope to one client, assigning its
// timestamp if unset, and bumps the session's send counter. Concurrent
// Send calls for the same client are serialized so a single producer's
// calls are delivered in order.
func (r *Registry) Send(clientID string, env transcript.Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	c, ok := r.clients[clientID]
	sess := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("broadcast: client %s not found", clientID)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broadcast: serialize envelope: %w", err)
	}

	c.mu.Lock()
	err = c.sender.WriteMessage(1, payload) // websocket.TextMessage
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if sess != nil {
		r.mu.Lock()
		sess.MessageCount++
		r.mu.Unlock()
	}
	return nil
}

// Recipients resolves the set of client ids addressed by a subscription
// filter per the routing rule: absent or "all_conversations" → everyone;
// else index[filter] ∪ index["all_conversations"].
func (r *Registry) Recipients(filter string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter == "" || filter == transcript.SubAllConversations {
		out := make([]string, 0, len(r.sessions))
		for id := range r.sessions {
			out = append(out, id)
		}
		return out
	}

	seen := make(map[string]struct{})
	for id := range r.index[filter] {
		seen[id] = struct{}{}
	}
	for id := range r.index[transcript.SubAllConversations] {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Session returns a snapshot of a session's state, if present.
func (r *Registry) Session(clientID string) (transcript.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return transcript.Session{}, false
	}
	return *s, true
}
