// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/ccobservatory/core/internal/monitor"
	"github.com/ccobservatory/core/internal/pipeline"
)

// StatusHandler serves the pipeline's health and performance surfaces.
type StatusHandler struct {
	orchestrator *pipeline.Orchestrator
	monitor      *monitor.Monitor
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(orchestrator *pipeline.Orchestrator, mon *monitor.Monitor) *StatusHandler {
	return &StatusHandler{orchestrator: orchestrator, monitor: mon}
}

// Health reports the pipeline's aggregate and per-component status.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.orchestrator.Health()
	status := http.StatusOK
	if report.Status == "UNAVAILABLE" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, report)
}

// Performance reports the monitor's statistical summary and active
// alerts.
func (h *StatusHandler) Performance(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"summary": h.monitor.Summary(),
		"alerts":  h.monitor.Alerts(),
	})
}
