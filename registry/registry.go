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

// Package registry binds monitored URLs to their persisted records and
// their running health checkers.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/spo2server/spo2"
	"github.com/spo2server/spo2/checker"
	"github.com/spo2server/spo2/store"
)

// ErrInvalidURL rejects registrations that are not absolute http or https
// URLs.
var ErrInvalidURL = errors.New("invalid url, must be an http/s url")

// Registry owns the url → (record, task) mapping. Records live in the
// store; tasks are goroutines running checker loops. The two stay
// consistent because only the atomic-upsert branch that observes "absent →
// present" spawns a task, and a task stops itself once its key is gone.
type Registry struct {
	store   *store.Store
	reports chan<- spo2.Report
	events  checker.Broadcaster
	logger  *zap.Logger

	// Probe and Clock override the checker defaults; set before first use.
	Probe checker.ProbeFunc
	Clock checker.Clock

	ctx   context.Context
	tasks sync.WaitGroup
}

// New returns a registry whose health checkers run under ctx; cancelling
// it stops every task at its next suspension point.
func New(ctx context.Context, st *store.Store, reports chan<- spo2.Report, events checker.Broadcaster, logger *zap.Logger) *Registry {
	return &Registry{
		store:   st,
		reports: reports,
		events:  events,
		logger:  logger,
		ctx:     ctx,
	}
}

// ValidateURL checks that raw is a hierarchical http or https URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if u.Host == "" || u.Opaque != "" {
		return ErrInvalidURL
	}
	return nil
}

// Insert registers rawURL, or patches its client data when it is already
// registered. Only a fresh registration emits an initial Healthy event
// frame and spawns a health checker; a data-only update does neither, and
// never touches the status or reason last written by the probe loop.
func (r *Registry) Insert(rawURL string, data json.RawMessage) (*spo2.UrlValue, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	value, created, err := r.store.Upsert(rawURL, data)
	if err != nil {
		return nil, err
	}
	if created {
		frame := *value
		frame.URL = rawURL
		r.emit(&frame)
		r.spawn(rawURL)
		r.logger.Info("url registered", zap.String("url", rawURL))
	}
	return value, nil
}

// Read returns the persisted record for rawURL, or store.ErrNotFound.
func (r *Registry) Read(rawURL string) (*spo2.UrlValue, error) {
	return r.store.Get(rawURL)
}

// Delete removes rawURL and returns its last record, or store.ErrNotFound.
// A Removed event frame goes out immediately; the running checker notices
// the missing key on its next iteration and reaps itself.
func (r *Registry) Delete(rawURL string) (*spo2.UrlValue, error) {
	value, err := r.store.Delete(rawURL)
	if err != nil {
		return nil, err
	}
	frame := *value
	frame.URL = rawURL
	frame.Status = spo2.StatusRemoved
	r.emit(&frame)
	r.logger.Info("url removed", zap.String("url", rawURL))
	return value, nil
}

// List returns every record with its URL attached, in key order.
func (r *Registry) List() ([]*spo2.UrlValue, error) {
	return r.store.List()
}

// Rehydrate spawns one health checker per URL already in the store. It is
// called once at boot. Unlike Insert it emits no event frames; subscribers
// connected across a restart would otherwise see spurious registrations.
func (r *Registry) Rehydrate() error {
	keys, err := r.store.Keys()
	if err != nil {
		return fmt.Errorf("listing stored urls: %v", err)
	}
	started := 0
	for _, key := range keys {
		if err := ValidateURL(key); err != nil {
			r.logger.Warn("skipping invalid stored url",
				zap.String("url", key),
				zap.Error(err))
			continue
		}
		r.spawn(key)
		started++
	}
	r.logger.Info("health checkers rehydrated", zap.Int("count", started))
	return nil
}

// Wait blocks until every spawned checker has exited. Meaningful only
// after the registry's context is cancelled or all URLs are deleted.
func (r *Registry) Wait() { r.tasks.Wait() }

func (r *Registry) spawn(rawURL string) {
	c := &checker.Checker{
		URL:     rawURL,
		Store:   r.store,
		Reports: r.reports,
		Events:  r.events,
		Probe:   r.Probe,
		Clock:   r.Clock,
		Logger:  r.logger,
	}
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		c.Run(r.ctx)
	}()
}

func (r *Registry) emit(value *spo2.UrlValue) {
	payload, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("encoding event frame", zap.Error(err))
		return
	}
	r.events.Send(string(payload))
}
