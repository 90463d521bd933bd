// Copyright 2019 The SpO2 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package spo2 holds the shared types and process configuration of the
// spo2 URL health monitor.
package spo2

import (
	"os"

	"go.uber.org/zap"
)

// Version is the version of the spo2 program.
const Version = "v0.3.0"

// Environment variables recognized at startup.
const (
	EnvHTTPListenAddr = "HTTP_LISTEN_ADDR"
	EnvWSListenAddr   = "WS_LISTEN_ADDR"
	EnvDatabasePath   = "DATABASE_PATH"
	EnvSlackHookURL   = "SLACK_HOOK_URL"
)

// Defaults applied when the corresponding variable is unset. SLACK_HOOK_URL
// has no default; without it, alerts are dropped.
const (
	DefaultHTTPListenAddr = "127.0.0.1:8000"
	DefaultWSListenAddr   = "127.0.0.1:8001"
	DefaultDatabasePath   = "spo2.db"
)

// Config is the whole process configuration. There is no other
// process-wide state; everything else is passed through explicitly.
type Config struct {
	// HTTPListenAddr is the address of the control API and dashboard.
	HTTPListenAddr string

	// WSListenAddr is the address of the websocket event feed.
	WSListenAddr string

	// DatabasePath is the bbolt database file.
	DatabasePath string

	// SlackHookURL is the webhook alerts are posted to. Empty disables
	// alerting; reports are then drained silently.
	SlackHookURL string
}

// ConfigFromEnv builds a Config from the environment, falling back to the
// defaults above and logging each fallback.
func ConfigFromEnv(logger *zap.Logger) Config {
	return Config{
		HTTPListenAddr: envOr(logger, EnvHTTPListenAddr, DefaultHTTPListenAddr),
		WSListenAddr:   envOr(logger, EnvWSListenAddr, DefaultWSListenAddr),
		DatabasePath:   envOr(logger, EnvDatabasePath, DefaultDatabasePath),
		SlackHookURL:   os.Getenv(EnvSlackHookURL),
	}
}

func envOr(logger *zap.Logger, key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	logger.Info("environment variable unset, using default",
		zap.String("variable", key),
		zap.String("default", fallback))
	return fallback
}
