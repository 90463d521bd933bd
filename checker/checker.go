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

// Package checker runs the per-URL health checking loop: probe, persist,
// judge against a sliding window, and notify on judgment changes.
package checker

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spo2server/spo2"
	"github.com/spo2server/spo2/metrics"
	"github.com/spo2server/spo2/store"
)

// Probe cadences. A URL under suspicion is probed fast so transitions are
// confirmed or dismissed quickly; a URL that is entirely down gains nothing
// from the extra requests and falls back to the normal cadence.
const (
	NormalPing = 3 * time.Second
	FastPing   = 800 * time.Millisecond
)

// StillBadAfter is how long a URL may stay bad before the alert is
// repeated. The reminder re-arms each time it fires, so a long outage
// alerts every 15 minutes until recovery.
const StillBadAfter = 15 * time.Minute

// badThreshold is the window ratio at which a URL is judged bad. Recovery
// requires the window to drain completely to zero bad samples.
const badThreshold = 0.5

// ProbeFunc is the single-shot health check the loop runs each iteration.
type ProbeFunc func(ctx context.Context, url string) (spo2.Status, string)

// Broadcaster delivers event frames to dashboard subscribers. Delivery is
// best effort; the checker never learns whether anyone listened.
type Broadcaster interface {
	Send(text string)
}

// Checker is the long-lived task bound to one monitored URL. Zero-value
// optional fields (Probe, Clock, Logger) are filled with defaults by Run.
//
// The checker has no stop channel. It is cancelled cooperatively: removing
// the URL's key from the store makes the next persist step fail with
// ErrNotFound, and the loop exits after emitting a final Removed frame.
type Checker struct {
	URL     string
	Store   *store.Store
	Reports chan<- spo2.Report
	Events  Broadcaster

	Probe  ProbeFunc
	Clock  Clock
	Logger *zap.Logger
}

// Run executes the probe loop until the URL's key disappears from the
// store or ctx is cancelled. It is meant to be called on its own
// goroutine, one per URL.
func (c *Checker) Run(ctx context.Context) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("health_checker").With(zap.String("url", c.URL))

	probe := c.Probe
	if probe == nil {
		probe = NewProber().Probe
	}
	clock := c.Clock
	if clock == nil {
		clock = SystemClock
	}

	defer func() {
		if err := recover(); err != nil {
			if ce := logger.Check(zapcore.ErrorLevel, "health checker panicked"); ce != nil {
				ce.Write(zap.Any("error", err), zap.ByteString("stack", debug.Stack()))
			}
		}
	}()

	var window ProbeWindow
	var inBadSince time.Time // zero while the URL is judged good

	for {
		probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		status, reason := probe(probeCtx, c.URL)
		cancel()
		if ctx.Err() != nil {
			// shutting down; the URL was not removed, so no Removed frame
			return
		}
		metrics.ProbesTotal.WithLabelValues(string(status)).Inc()

		window.Push(status)

		value, err := c.Store.PatchStatus(c.URL, status, reason)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			// fail-stop for this URL; a restart rehydrates it
			logger.Error("updating record failed, abandoning url", zap.Error(err))
			return
		}

		ratio := window.BadRatio()

		if ratio >= badThreshold && inBadSince.IsZero() {
			inBadSince = clock.Now()
			metrics.TransitionsTotal.WithLabelValues("bad").Inc()
			logger.Warn("url went bad",
				zap.String("status", status.String()),
				zap.String("reason", reason))
			c.report(ctx, spo2.Report{URL: c.URL, Status: spo2.StatusUnhealthy, Reason: reason})
			c.emit(logger, value)
		}

		if ratio == 0 && !inBadSince.IsZero() {
			inBadSince = time.Time{}
			metrics.TransitionsTotal.WithLabelValues("good").Inc()
			logger.Info("url recovered")
			c.report(ctx, spo2.Report{URL: c.URL, Status: spo2.StatusHealthy})
			c.emit(logger, value)
		}

		if !inBadSince.IsZero() && clock.Now().Sub(inBadSince) > StillBadAfter {
			// re-arm so the reminder repeats until recovery
			inBadSince = clock.Now()
			logger.Warn("url is still bad", zap.String("reason", reason))
			c.report(ctx, spo2.Report{URL: c.URL, Status: spo2.StatusUnhealthy, Still: true, Reason: reason})
			c.emit(logger, value)
		}

		if ce := logger.Check(zapcore.DebugLevel, "probe window"); ce != nil {
			ce.Write(
				zap.Int("bads", window.Bads()),
				zap.Int("capacity", WindowSize),
				zap.Float64("bad_ratio", ratio),
				zap.Bool("in_bad_status", !inBadSince.IsZero()),
			)
		}

		clock.Sleep(ctx, nextDelay(!inBadSince.IsZero(), status, ratio))
		if ctx.Err() != nil {
			return
		}
	}

	// the key is gone: tell subscribers the URL is no longer monitored
	c.emit(logger, &spo2.UrlValue{Status: spo2.StatusRemoved})
	logger.Info("url removed, health checker stopping")
}

// nextDelay picks the cadence for the next probe. Anything suspicious (a
// bad judgment, a bad last sample, or a half-bad window) pings fast, except
// a sustained full outage.
func nextDelay(inBad bool, last spo2.Status, ratio float64) time.Duration {
	if (inBad || !last.IsGood() || ratio >= badThreshold) && ratio != 1.0 {
		return FastPing
	}
	return NormalPing
}

// report sends on the alert channel. A full channel blocks the loop on
// purpose; reports are never dropped.
func (c *Checker) report(ctx context.Context, r spo2.Report) {
	select {
	case c.Reports <- r:
	case <-ctx.Done():
	}
}

// emit broadcasts the record as an event frame with the URL attached.
func (c *Checker) emit(logger *zap.Logger, value *spo2.UrlValue) {
	if value == nil {
		return
	}
	frame := *value
	frame.URL = c.URL
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("encoding event frame", zap.Error(err))
		return
	}
	c.Events.Send(string(payload))
}
