// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires the watcher, parser, writer, monitor, and
// broadcaster into the steady-state flow: a filesystem change is detected,
// parsed, persisted, timed, and announced to subscribed sessions (C8).
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ccobservatory/core/internal/broadcast"
	"github.com/ccobservatory/core/internal/monitor"
	"github.com/ccobservatory/core/internal/parser"
	"github.com/ccobservatory/core/internal/store"
	"github.com/ccobservatory/core/internal/transcript"
	"github.com/ccobservatory/core/internal/watcher"
)

const (
	defaultGracePeriod  = 5 * time.Second
	eventQueueSize      = 256
	minDetectionLatency = 0.1 // ms; a zero-duration sample would be indistinguishable from "not measured"
)

// Stats are cumulative counters over the events the orchestrator has seen.
type Stats struct {
	EventsReceived         int64
	EventsDropped          int64
	ProcessingErrors       int64
	ConversationsProcessed int64
}

// ComponentStatus is one subsystem's health classification.
type ComponentStatus struct {
	Name   string
	Status string
}

// Report is the aggregate health snapshot returned by Health.
type Report struct {
	Status     string
	Components []ComponentStatus
}

// pinger is satisfied by store.PostgresWriter; a Writer that doesn't
// implement it is treated as always reachable for health purposes.
type pinger interface {
	Ping(ctx context.Context) error
}

// Orchestrator owns the watcher's lifecycle and drives every FileEvent it
// emits through parse -> persist -> measure -> broadcast.
type Orchestrator struct {
	root        string
	gracePeriod time.Duration

	watcher  *watcher.Watcher
	parser   *parser.Parser
	writer   store.Writer
	monitor  *monitor.Monitor
	registry *broadcast.Registry

	events chan transcript.FileEvent

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   Stats
	seen    map[string]struct{} // projectID\x00sessionID already written at least once
}

// New creates an Orchestrator watching root. gracePeriod <= 0 defaults to
// 5s.
func New(root string, prs *parser.Parser, writer store.Writer, mon *monitor.Monitor, registry *broadcast.Registry, gracePeriod time.Duration) *Orchestrator {
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}
	return &Orchestrator{
		root:        root,
		gracePeriod: gracePeriod,
		parser:      prs,
		writer:      writer,
		monitor:     mon,
		registry:    registry,
		seen:        make(map[string]struct{}),
	}
}

// Start brings up the watcher and begins draining its events. Idempotent.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		log.Println("pipeline: Start called on an already-started orchestrator")
		return nil
	}

	o.events = make(chan transcript.FileEvent, eventQueueSize)
	o.watcher = watcher.New(o.root, o.events, 0)
	if err := o.watcher.Start(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.started = true

	go o.run()
	return nil
}

// Stop tears the watcher down and waits up to the grace period for the
// worker to drain any already-queued events before returning. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		log.Println("pipeline: Stop called on an orchestrator that was never started")
		return
	}
	o.started = false
	stopCh := o.stopCh
	doneCh := o.doneCh
	o.mu.Unlock()

	o.watcher.Stop()
	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(o.gracePeriod):
		log.Printf("pipeline: shutdown grace period of %s elapsed before the worker drained", o.gracePeriod)
	}
}

func (o *Orchestrator) run() {
	defer close(o.doneCh)

	for {
		select {
		case fe, ok := <-o.events:
			if !ok {
				return
			}
			o.processEvent(fe)

		case <-o.stopCh:
			o.drain()
			return
		}
	}
}

// drain processes whatever is already sitting in the queue without
// blocking; anything arriving after the watcher is stopped is not
// expected, but a non-blocking drain keeps this safe either way.
func (o *Orchestrator) drain() {
	for {
		select {
		case fe, ok := <-o.events:
			if !ok {
				return
			}
			o.processEvent(fe)
		default:
			return
		}
	}
}

func (o *Orchestrator) processEvent(fe transcript.FileEvent) {
	o.bump(func(s *Stats) { s.EventsReceived++ })

	if fe.Kind != transcript.EventCreated && fe.Kind != transcript.EventModified {
		o.bump(func(s *Stats) { s.EventsDropped++ })
		return
	}
	if !strings.HasSuffix(fe.SrcPath, ".jsonl") {
		o.bump(func(s *Stats) { s.EventsDropped++ })
		return
	}

	processingStart := time.Now()
	projectID := o.deriveProjectID(fe.SrcPath)

	conv, err := o.parser.ParseFile(fe.SrcPath, projectID)
	if err != nil {
		log.Printf("pipeline: parse %q: %v", fe.SrcPath, err)
		o.bump(func(s *Stats) { s.ProcessingErrors++ })
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_, _, err = o.writer.Write(ctx, conv)
	cancel()
	if err != nil {
		log.Printf("pipeline: write session %q: %v", conv.SessionID, err)
		o.bump(func(s *Stats) { s.ProcessingErrors++ })
		return
	}

	isNew := o.markSeen(projectID, conv.SessionID)

	detectionLatencyMS := msSince(fe.DetectedAt)
	if detectionLatencyMS < minDetectionLatency {
		detectionLatencyMS = minDetectionLatency
	}
	processingLatencyMS := msSince(processingStart)
	throughput := 0.0
	if processingLatencyMS > 0 {
		throughput = float64(conv.MessageCount) / (processingLatencyMS / 1000.0)
	}
	o.monitor.Record(detectionLatencyMS, processingLatencyMS, throughput)
	o.bump(func(s *Stats) { s.ConversationsProcessed++ })

	o.broadcastEvent(fe, conv, projectID, isNew)
}

func (o *Orchestrator) broadcastEvent(fe transcript.FileEvent, conv transcript.ConversationData, projectID string, isNew bool) {
	if o.registry == nil {
		return
	}

	o.registry.BroadcastFiltered(transcript.Envelope{
		Type: transcript.FileEnvelopeType(fe.Kind),
		Data: map[string]interface{}{
			"event_id":   fe.EventID,
			"path":       fe.SrcPath,
			"kind":       fe.Kind,
			"project_id": projectID,
		},
	}, transcript.SubFileEvents)

	envType := transcript.EnvelopeConversationUpdate
	if isNew {
		envType = transcript.EnvelopeNewConversation
	}
	o.registry.BroadcastFiltered(transcript.Envelope{
		Type: envType,
		Data: map[string]interface{}{
			"project_id":    projectID,
			"session_id":    conv.SessionID,
			"message_count": conv.MessageCount,
			"file_path":     conv.FilePath,
		},
	}, transcript.ProjectSubscription(projectID))
}

// deriveProjectID treats the first path segment under root as the project
// id, falling back to "default" for files directly in root or when root
// can't be made relative to the path.
func (o *Orchestrator) deriveProjectID(path string) string {
	rel, err := filepath.Rel(o.root, path)
	if err != nil {
		return "default"
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 && parts[0] != "" && parts[0] != "." {
		return parts[0]
	}
	return "default"
}

// markSeen records that (projectID, sessionID) has been written at least
// once and reports whether this call is the first.
func (o *Orchestrator) markSeen(projectID, sessionID string) bool {
	key := projectID + "\x00" + sessionID
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.seen[key]; ok {
		return false
	}
	o.seen[key] = struct{}{}
	return true
}

func (o *Orchestrator) bump(f func(*Stats)) {
	o.mu.Lock()
	f(&o.stats)
	o.mu.Unlock()
}

// Stats returns a snapshot of the cumulative event counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Health reports per-component status combined by: all OK -> OK; any
// UNAVAILABLE -> UNAVAILABLE; else DEGRADED.
func (o *Orchestrator) Health() Report {
	fsStatus := "OK"
	if _, err := os.Stat(o.root); err != nil {
		fsStatus = "UNAVAILABLE"
	}

	observerStatus := string(o.monitor.Summary().Status)
	if observerStatus == string(monitor.StatusNoData) {
		observerStatus = "OK"
	}

	dbStatus := "OK"
	if p, ok := o.writer.(pinger); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			dbStatus = "UNAVAILABLE"
		}
	}

	components := []ComponentStatus{
		{Name: "filesystem", Status: fsStatus},
		{Name: "observer", Status: observerStatus},
		{Name: "database", Status: dbStatus},
	}
	return Report{Status: combineStatus(components), Components: components}
}

func combineStatus(components []ComponentStatus) string {
	allOK := true
	anyUnavailable := false
	for _, c := range components {
		if c.Status == "UNAVAILABLE" {
			anyUnavailable = true
		}
		if c.Status != "OK" {
			allOK = false
		}
	}
	switch {
	case anyUnavailable:
		return "UNAVAILABLE"
	case allOK:
		return "OK"
	default:
		return "DEGRADED"
	}
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
