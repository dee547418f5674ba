// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript defines the canonical in-memory shape of a parsed
// Claude Code conversation transcript: conversations, messages, tool
// invocations, filesystem events, and performance samples.
package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the speaker of a ParsedMessage.
type Role string

// Recognized roles. Any other value fails validation at parse time.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolStatus is the lifecycle state of a ToolUsage.
type ToolStatus string

const (
	ToolStatusPending ToolStatus = "pending"
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolUsage records one tool invocation inside an assistant message.
// Created in ToolStatusPending when a tool_use content block is seen;
// transitions to success/error when a matching tool_result block with the
// same tool-use id is seen later in the same message. Unmatched tool uses
// remain pending.
type ToolUsage struct {
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput json.RawMessage `json:"tool_output,omitempty"`
	Status     ToolStatus      `json:"status,omitempty"`
}

// ParsedMessage is one transcript line.
//
// (conversation_id, message_id) is the idempotency key for messages; order
// within a conversation is by Timestamp ascending, ties broken by input
// order (stable sort).
type ParsedMessage struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	ParentID       string      `json:"parent_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	ToolUsage      []ToolUsage `json:"tool_usage,omitempty"`
}

// ConversationData is one parsed transcript file.
//
// (project_id, session_id) identifies a conversation; the writer MUST
// read-then-write under this key.
type ConversationData struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    string          `json:"project_id"`
	SessionID    string          `json:"session_id"`
	FilePath     string          `json:"file_path"`
	Title        string          `json:"title,omitempty"`
	MessageCount int             `json:"message_count"`
	Messages     []ParsedMessage `json:"messages"`
	CreatedAt    time.Time       `json:"created_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at,omitempty"`
}

// EventKind is the kind of filesystem change a FileEvent reports.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
	EventMoved    EventKind = "moved"
)

// FileEvent is one watcher output. DestPath is required iff Kind ==
// EventMoved and forbidden otherwise; the invariant is enforced by
// NewFileEvent, never by a bare struct literal.
type FileEvent struct {
	EventID     uuid.UUID
	Kind        EventKind
	SrcPath     string
	DestPath    string
	IsDirectory bool
	DetectedAt  time.Time
}

// NewFileEvent constructs a FileEvent, enforcing the moved/dest_path
// invariant from §3 of the spec.
func NewFileEvent(kind EventKind, srcPath, destPath string, isDirectory bool, detectedAt time.Time) (FileEvent, error) {
	if kind == EventMoved && destPath == "" {
		return FileEvent{}, fmt.Errorf("transcript: moved event requires dest_path")
	}
	if kind != EventMoved && destPath != "" {
		return FileEvent{}, fmt.Errorf("transcript: dest_path forbidden for %s event", kind)
	}
	return FileEvent{
		EventID:     uuid.New(),
		Kind:        kind,
		SrcPath:     srcPath,
		DestPath:    destPath,
		IsDirectory: isDirectory,
		DetectedAt:  detectedAt,
	}, nil
}

// PerformanceSample is one end-to-end processing observation.
type PerformanceSample struct {
	DetectionLatencyMS   float64
	ProcessingLatencyMS  float64
	ThroughputMsgsPerSec float64
	Timestamp            time.Time
}

// Validate checks the PerformanceSample invariants from §3.
func (s PerformanceSample) Validate() error {
	if s.DetectionLatencyMS <= 0 {
		return fmt.Errorf("transcript: detection_latency_ms must be > 0, got %f", s.DetectionLatencyMS)
	}
	if s.ProcessingLatencyMS <= 0 {
		return fmt.Errorf("transcript: processing_latency_ms must be > 0, got %f", s.ProcessingLatencyMS)
	}
	if s.ThroughputMsgsPerSec < 0 {
		return fmt.Errorf("transcript: throughput_msgs_per_sec must be >= 0, got %f", s.ThroughputMsgsPerSec)
	}
	return nil
}
