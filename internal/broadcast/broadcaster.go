// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ccobservatory/core/internal/transcript"
)

// Broadcast delivers env to every session; see BroadcastFiltered, which it
// calls with an empty filter.
//
// BroadcastFiltered resolves the sessions addressed by a subscription
// filter (see Registry.Recipients) and concurrently delivers env to each,
// with parallelism bounded by the registry's fanoutLimit. It returns the
// client ids that failed to receive the message; the registry never
// auto-disconnects a failed client, leaving that decision to the caller.
//
// The envelope is marshaled once up front as a check: if env.Data cannot
// be marshaled, the broadcast is aborted and every addressed session id is
// returned as failed. That payload is not reused; each per-session Send
// marshals the envelope again.
func (r *Registry) Broadcast(env transcript.Envelope) []string {
	return r.BroadcastFiltered(env, "")
}

// BroadcastFiltered is Broadcast with an explicit subscription filter; an
// empty filter addresses every session.
func (r *Registry) BroadcastFiltered(env transcript.Envelope, subscriptionFilter string) []string {
	env.Timestamp = time.Now().UTC()

	targets := r.Recipients(subscriptionFilter)
	if len(targets) == 0 {
		return nil
	}

	if _, err := json.Marshal(env); err != nil {
		return targets
	}

	sem := make(chan struct{}, r.fanoutLimit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []string

	for _, clientID := range targets {
		clientID := clientID
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.Send(clientID, env); err != nil {
				mu.Lock()
				failed = append(failed, clientID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return failed
}
