// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/ccobservatory/core/internal/transcript"
)

//go:embed migrations
var migrationsFS embed.FS

const defaultMaxRetries = 3
const defaultBaseDelay = 100 * time.Millisecond

// RetryConfig configures the backoff applied around each read-then-write
// round trip.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// PostgresWriter is the concrete Writer (C4) backed by a Postgres database
// reached through database/sql and the pgx driver. Migrations embedded at
// build time are applied at construction, mirroring the startup-migration
// policy its teacher uses for its own Ent-backed client.
type PostgresWriter struct {
	db    *sql.DB
	retry RetryConfig

	mu    sync.Mutex
	stats Stats
}

// NewPostgresWriter opens dsn via the pgx stdlib driver, applies embedded
// migrations, and returns a ready Writer.
func NewPostgresWriter(ctx context.Context, dsn string, retry RetryConfig) (*PostgresWriter, error) {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxRetries
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = defaultBaseDelay
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply migrations: %w", err)
	}

	return &PostgresWriter{db: db, retry: retry}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return source.Close()
}

// Close releases the underlying connection pool.
func (w *PostgresWriter) Close() error {
	return w.db.Close()
}

// Ping reports whether the database connection is reachable, for health
// checks that need a cheaper signal than a full Write.
func (w *PostgresWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Stats returns a snapshot of the cumulative write counters.
func (w *PostgresWriter) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// ResetStats zeroes the cumulative write counters.
func (w *PostgresWriter) ResetStats() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = Stats{}
}

// Write implements the Writer ABI: read-then-write the conversation row,
// then batch-upsert its messages with ON CONFLICT DO NOTHING. Both stages
// retry independently, each as a whole (not per-message), on transient
// backend errors.
func (w *PostgresWriter) Write(ctx context.Context, conv transcript.ConversationData) (uuid.UUID, Metrics, error) {
	start := time.Now()
	var metrics Metrics

	convStart := time.Now()
	id, err := w.writeConversationRecord(ctx, conv)
	metrics.ConversationWriteMS = msSince(convStart)
	if err != nil {
		w.bumpWriteErrors()
		return uuid.Nil, metrics, err
	}

	if len(conv.Messages) > 0 {
		msgStart := time.Now()
		if err := w.batchUpsertMessages(ctx, id, conv.SessionID, conv.Messages); err != nil {
			metrics.MessagesWriteMS = msSince(msgStart)
			w.bumpWriteErrors()
			return id, metrics, err
		}
		metrics.MessagesWriteMS = msSince(msgStart)
		w.mu.Lock()
		w.stats.MessagesWritten += int64(len(conv.Messages))
		w.mu.Unlock()
	}

	metrics.TotalWriteMS = msSince(start)
	return id, metrics, nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func (w *PostgresWriter) bumpWriteErrors() {
	w.mu.Lock()
	w.stats.WriteErrors++
	w.mu.Unlock()
}

func (w *PostgresWriter) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.retry.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	return backoff.WithMaxRetries(eb, uint64(w.retry.MaxAttempts-1))
}

func (w *PostgresWriter) writeConversationRecord(ctx context.Context, conv transcript.ConversationData) (uuid.UUID, error) {
	var id uuid.UUID
	var isUpdate bool

	op := func() error {
		var existing string
		err := w.db.QueryRowContext(ctx,
			`SELECT id FROM conversations WHERE project_id = $1 AND session_id = $2 LIMIT 1`,
			conv.ProjectID, conv.SessionID,
		).Scan(&existing)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			newID := uuid.New()
			_, err := w.db.ExecContext(ctx,
				`INSERT INTO conversations (id, project_id, session_id, file_path, title, message_count, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
				newID, conv.ProjectID, conv.SessionID, conv.FilePath, conv.Title, conv.MessageCount,
			)
			if err != nil {
				if !isTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			id = newID
			isUpdate = false
			return nil

		case err != nil:
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err

		default:
			parsed, parseErr := uuid.Parse(existing)
			if parseErr != nil {
				return backoff.Permanent(parseErr)
			}
			_, err := w.db.ExecContext(ctx,
				`UPDATE conversations SET file_path = $1, title = $2, message_count = $3, updated_at = now() WHERE id = $4`,
				conv.FilePath, conv.Title, conv.MessageCount, parsed,
			)
			if err != nil {
				if !isTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			id = parsed
			isUpdate = true
			return nil
		}
	}

	if err := backoff.Retry(op, w.newBackOff()); err != nil {
		return uuid.Nil, &Error{Type: ErrDatabase, Message: unwrapMessage(err), Component: "PostgresWriter", SessionID: conv.SessionID}
	}

	w.mu.Lock()
	if isUpdate {
		w.stats.ConversationsUpdated++
	} else {
		w.stats.ConversationsWritten++
	}
	w.mu.Unlock()

	return id, nil
}

func (w *PostgresWriter) batchUpsertMessages(ctx context.Context, conversationID uuid.UUID, sessionID string, messages []transcript.ParsedMessage) error {
	op := func() error {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO messages (id, conversation_id, message_id, parent_id, timestamp, role, content, tool_usage)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (conversation_id, message_id) DO NOTHING`,
		)
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer stmt.Close()

		for _, msg := range messages {
			toolUsageJSON, marshalErr := marshalToolUsage(msg.ToolUsage)
			if marshalErr != nil {
				return backoff.Permanent(marshalErr)
			}
			if _, err := stmt.ExecContext(ctx,
				uuid.New(), conversationID, msg.MessageID, nullIfEmpty(msg.ParentID),
				msg.Timestamp, string(msg.Role), msg.Content, toolUsageJSON,
			); err != nil {
				if !isTransient(err) {
					return backoff.Permanent(err)
				}
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, w.newBackOff()); err != nil {
		return &Error{Type: ErrDatabase, Message: unwrapMessage(err), Component: "PostgresWriter", SessionID: sessionID}
	}
	return nil
}

func marshalToolUsage(tools []transcript.ToolUsage) (interface{}, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tools)
	if err != nil {
		return nil, fmt.Errorf("marshal tool_usage: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func unwrapMessage(err error) string {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err.Error()
	}
	return err.Error()
}

// isTransient classifies a database error as retryable: connection
// resets, pgx error codes in the 08*/53*/57* classes (connection
// exception, insufficient resources, operator intervention), and
// context-deadline-exceeded. Constraint violations and syntax errors are
// not retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case strings.HasPrefix(pgErr.Code, "53"):
			return true
		case strings.HasPrefix(pgErr.Code, "57"):
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
