// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccobservatory/core/internal/auth"
	"github.com/ccobservatory/core/internal/broadcast"
	"github.com/ccobservatory/core/internal/monitor"
	"github.com/ccobservatory/core/internal/parser"
	"github.com/ccobservatory/core/internal/pipeline"
	"github.com/ccobservatory/core/internal/store"
	"github.com/ccobservatory/core/internal/transcript"
)

type stubWriter struct{}

func (stubWriter) Write(ctx context.Context, conv transcript.ConversationData) (uuid.UUID, store.Metrics, error) {
	return uuid.New(), store.Metrics{}, nil
}

func (stubWriter) Stats() store.Stats { return store.Stats{} }
func (stubWriter) ResetStats()        {}

func TestNewRouter_HealthzAndMetricsRespond(t *testing.T) {
	mon := monitor.New(0, 0)
	orch := pipeline.New(t.TempDir(), parser.New(), stubWriter{}, mon, broadcast.New(0), 0)

	r := NewRouter(Dependencies{
		Registry:     broadcast.New(0),
		Auth:         auth.NewJWTPredicate("secret"),
		Orchestrator: orch,
		Monitor:      mon,
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/metrics/performance", nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestNewRouter_WebSocketRouteRejectsNonUpgradeRequest(t *testing.T) {
	mon := monitor.New(0, 0)
	orch := pipeline.New(t.TempDir(), parser.New(), stubWriter{}, mon, broadcast.New(0), 0)

	r := NewRouter(Dependencies{
		Registry:     broadcast.New(0),
		Auth:         auth.NewJWTPredicate("secret"),
		Orchestrator: orch,
		Monitor:      mon,
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode) // not a WebSocket upgrade request
}
