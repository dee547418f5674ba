// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCore_DefaultsWhenUnset(t *testing.T) {
	for _, k := range []string{
		"OBSERVATORY_WATCH_ROOT", "OBSERVATORY_SLA_THRESHOLD_MS",
		"OBSERVATORY_RING_BUFFER_SIZE", "OBSERVATORY_RETRY_MAX_ATTEMPTS",
		"OBSERVATORY_RETRY_BASE_DELAY_MS", "OBSERVATORY_GRACE_PERIOD_MS",
	} {
		os.Unsetenv(k)
	}

	c := LoadCore()

	assert.Equal(t, 100.0, c.SLAThresholdMS)
	assert.Equal(t, 1000, c.RingBufferSize)
	assert.Equal(t, 3, c.RetryMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, c.RetryBaseDelay)
	assert.Equal(t, 5*time.Second, c.GracePeriod)
}

func TestLoadCore_EnvOverrides(t *testing.T) {
	t.Setenv("OBSERVATORY_WATCH_ROOT", "/tmp/watch")
	t.Setenv("OBSERVATORY_SLA_THRESHOLD_MS", "250")
	t.Setenv("OBSERVATORY_RING_BUFFER_SIZE", "500")

	c := LoadCore()

	assert.Equal(t, "/tmp/watch", c.WatchRoot)
	assert.Equal(t, 250.0, c.SLAThresholdMS)
	assert.Equal(t, 500, c.RingBufferSize)
}

func TestLoadAmbient_ParsesHJSONWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "observatory.hjson")
	content := `{
  server: { port: 9000 }
  database: { dsn: "postgres://localhost/observatory" }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadAmbient(path)

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "postgres://localhost/observatory", cfg.Database.DSN)
}

func TestLoadAmbient_MissingFileErrors(t *testing.T) {
	_, err := LoadAmbient("/nonexistent/observatory.hjson")
	require.Error(t, err)
}
