// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads process configuration: core tunables from
// environment variables (the surface the pipeline itself reads) and
// ambient HTTP/database settings from an HJSON file, in the teacher's own
// layered style. The file is not optional: LoadAmbient fails when it is
// missing, and cmd/observatory exits at startup when FindAmbientConfig
// finds none.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hjson/hjson-go/v4"
)

// Core holds the environment-variable surface §6 of the spec documents:
// the tunables the pipeline itself reads, independent of how the process
// is otherwise wired.
type Core struct {
	WatchRoot        string
	SLAThresholdMS   float64
	RingBufferSize   int
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	GracePeriod      time.Duration
}

// LoadCore reads Core from the environment, applying the documented
// defaults for anything unset.
func LoadCore() Core {
	home, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(home, ".claude", "projects")

	return Core{
		WatchRoot:        envOrDefault("OBSERVATORY_WATCH_ROOT", defaultRoot),
		SLAThresholdMS:   envFloatOrDefault("OBSERVATORY_SLA_THRESHOLD_MS", 100.0),
		RingBufferSize:   envIntOrDefault("OBSERVATORY_RING_BUFFER_SIZE", 1000),
		RetryMaxAttempts: envIntOrDefault("OBSERVATORY_RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envDurationOrDefault("OBSERVATORY_RETRY_BASE_DELAY_MS", 100*time.Millisecond),
		GracePeriod:      envDurationOrDefault("OBSERVATORY_GRACE_PERIOD_MS", 5*time.Second),
	}
}

// Ambient holds the concerns the core explicitly treats as external
// collaborators: the HTTP listener and the database connection string.
type Ambient struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`
	Database struct {
		DSN string `json:"dsn"`
	} `json:"database"`
	Auth struct {
		JWTSecret string `json:"jwt_secret"`
	} `json:"auth"`
}

func ambientDefaults() Ambient {
	var a Ambient
	a.Server.Host = "127.0.0.1"
	a.Server.Port = 8765
	return a
}

// LoadAmbient parses an HJSON config file the same way the teacher's own
// loader does (HJSON -> map -> JSON -> struct, for the forgiving-input /
// strict-output split), applying defaults to anything the file omits.
func LoadAmbient(path string) (Ambient, error) {
	cfg := ambientDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("config: parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("config: convert to json: %w", err)
	}
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}

// FindAmbientConfig looks for observatory.hjson then observatory.json in
// the current directory, mirroring the teacher's FindConfig.
func FindAmbientConfig() (string, error) {
	for _, name := range []string{"observatory.hjson", "observatory.json"} {
		if _, err := os.Stat(name); err == nil {
			abs, err := filepath.Abs(name)
			if err != nil {
				return name, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("config: no config file found (looked for observatory.hjson, observatory.json)")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
