// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store persists parsed conversations idempotently against a
// relational backend. Writer is the ABI; PostgresWriter is the only
// concrete implementation, but callers SHOULD depend on the interface so
// the backend stays swappable.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ccobservatory/core/internal/transcript"
)

// Metrics carries the per-stage and total elapsed time for one Write
// call, in milliseconds.
type Metrics struct {
	ConversationWriteMS float64
	MessagesWriteMS     float64
	TotalWriteMS        float64
}

// Stats are cumulative write counters.
type Stats struct {
	ConversationsWritten int64
	ConversationsUpdated int64
	MessagesWritten      int64
	WriteErrors          int64
}

// ErrorType discriminates writer failures.
type ErrorType string

const (
	ErrDatabase           ErrorType = "DatabaseError"
	ErrUnexpectedDatabase ErrorType = "UnexpectedDatabaseError"
)

// Error is a structured writer failure.
type Error struct {
	Type      ErrorType
	Message   string
	Component string
	SessionID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (session_id=%s)", e.Type, e.Message, e.SessionID)
}

// Writer is the persistence ABI (C4): upsert a conversation and its
// messages idempotently, returning the assigned conversation id and
// per-stage timing metrics.
type Writer interface {
	Write(ctx context.Context, conversation transcript.ConversationData) (uuid.UUID, Metrics, error)
	Stats() Stats
	ResetStats()
}
