// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Envelope is the wire format pushed to subscribed clients:
// {type, data, timestamp}. Timestamp is assigned by the registry at
// broadcast time, never by the producer — it is the single source of
// truth for when a client saw an update.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Well-known envelope type tags.
const (
	EnvelopeConnectionEstablished = "connection_established"
	EnvelopeConversationUpdate    = "conversation_update"
	EnvelopeNewConversation       = "new_conversation"
)

// FileEnvelopeType builds the "file_<kind>" type tag for a FileEvent kind.
func FileEnvelopeType(kind EventKind) string {
	return "file_" + string(kind)
}

// Well-known subscription keys. project:<opaque>, conversation:<opaque>,
// and file_events:<opaque> are parameterized variants of the fixed
// grammar; AllConversations is the global firehose.
const (
	SubAllConversations = "all_conversations"
	SubProjectUpdates   = "project_updates"
	SubFileEvents       = "file_events"
)

// ValidSubscriptionKey reports whether key matches the fixed subscription
// grammar: all_conversations | project_updates | file_events |
// project:<opaque> | conversation:<opaque> | file_events:<opaque>.
func ValidSubscriptionKey(key string) bool {
	switch key {
	case SubAllConversations, SubProjectUpdates, SubFileEvents:
		return true
	}
	for _, prefix := range []string{"project:", "conversation:", "file_events:"} {
		if rest, ok := strings.CutPrefix(key, prefix); ok {
			return rest != ""
		}
	}
	return false
}

// ProjectSubscription builds the "project:<project_id>" subscription key
// used to route conversation updates for a single project.
func ProjectSubscription(projectID string) string {
	return fmt.Sprintf("project:%s", projectID)
}
