// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import "time"

// UserInfo is the opaque principal attached to a Session at accept time.
// The core only ever reads UserID; everything else is passed through.
type UserInfo struct {
	UserID string
	Extra  map[string]interface{}
}

// Session is one live broadcaster client connection. It is a value
// snapshot returned by the registry — callers never mutate a Session's
// fields directly; all mutation goes through registry methods.
type Session struct {
	ClientID      string
	UserInfo      UserInfo
	Subscriptions map[string]struct{}
	ConnectedAt   time.Time
	MessageCount  uint64
}

// DefaultSubscriptions is the subscription set a session is granted on
// accept absent caller-supplied overrides.
func DefaultSubscriptions() map[string]struct{} {
	return map[string]struct{}{
		SubAllConversations: {},
		SubFileEvents:       {},
	}
}
