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

// Package notifier batches status reports and posts them to a
// Slack-compatible webhook as human-readable alerts.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/spo2server/spo2"
	"github.com/spo2server/spo2/metrics"
)

// ChannelCapacity bounds the alert channel. A full channel blocks the
// sending probe loop instead of dropping the report.
const ChannelCapacity = 100

// One outgoing message aggregates at most DefaultMaxBatch reports, or
// whatever arrived within DefaultBatchWindow of the first buffered report.
const (
	DefaultMaxBatch    = 40
	DefaultBatchWindow = 10 * time.Second
)

// postTimeout bounds the final flush performed during shutdown.
const postTimeout = 5 * time.Second

// PostFunc posts one webhook message. It exists so tests can intercept the
// outgoing call; the default is slack.PostWebhookContext.
type PostFunc func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// Notifier owns the alert channel and the batching loop. Zero-value
// optional fields are defaulted by Run.
type Notifier struct {
	// HookURL is the webhook destination. Empty means alerting is
	// disabled and reports are drained silently.
	HookURL string

	Logger      *zap.Logger
	Post        PostFunc
	MaxBatch    int
	BatchWindow time.Duration

	reports chan spo2.Report
}

// New returns a Notifier posting to hookURL.
func New(hookURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		HookURL: hookURL,
		Logger:  logger,
		reports: make(chan spo2.Report, ChannelCapacity),
	}
}

// Reports is the producer side of the alert channel, handed to every
// health checker. It is safe for concurrent senders.
func (n *Notifier) Reports() chan<- spo2.Report { return n.reports }

// Run consumes reports until ctx is cancelled. A batch is flushed once it
// holds MaxBatch reports or BatchWindow after its first report arrived,
// whichever comes first. Whatever is buffered at shutdown is flushed with
// a short deadline.
func (n *Notifier) Run(ctx context.Context) {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notifier")

	if n.HookURL == "" {
		logger.Info("no webhook configured, alerts will be dropped")
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.reports:
			}
		}
	}

	post := n.Post
	if post == nil {
		post = slack.PostWebhookContext
	}
	maxBatch := n.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	window := n.BatchWindow
	if window <= 0 {
		window = DefaultBatchWindow
	}

	timer := time.NewTimer(window)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var batch []spo2.Report
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), postTimeout)
			n.flush(flushCtx, logger, post, batch)
			cancel()
			return

		case r := <-n.reports:
			if len(batch) == 0 {
				timer.Reset(window)
			}
			batch = append(batch, r)
			if len(batch) >= maxBatch {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				n.flush(ctx, logger, post, batch)
				batch = nil
			}

		case <-timer.C:
			n.flush(ctx, logger, post, batch)
			batch = nil
		}
	}
}

// flush renders and posts one batch. Post failures are logged and the
// batch is discarded; there is no retry.
func (n *Notifier) flush(ctx context.Context, logger *zap.Logger, post PostFunc, batch []spo2.Report) {
	if len(batch) == 0 {
		return
	}
	body := BuildMessage(batch)
	metrics.AlertBatchesTotal.Inc()
	if err := post(ctx, n.HookURL, &slack.WebhookMessage{Text: body}); err != nil {
		metrics.AlertPostErrorsTotal.Inc()
		logger.Error("posting alert batch failed",
			zap.Int("reports", len(batch)),
			zap.Error(err))
		return
	}
	logger.Info("alert batch posted", zap.Int("reports", len(batch)))
}

// BuildMessage renders the webhook body for one batch. The batch is
// reduced to the most recent report per URL (sorted by URL descending,
// then arrival order descending, keeping the first of each URL). When any
// surviving report is a fresh transition into a bad status, a channel
// mention line is prepended so the message pings subscribers.
func BuildMessage(batch []spo2.Report) string {
	order := make([]int, len(batch))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := batch[order[i]], batch[order[j]]
		if a.URL != b.URL {
			return a.URL > b.URL
		}
		return order[i] > order[j]
	})

	var lines []string
	mention := false
	lastURL := ""
	for i, idx := range order {
		r := batch[idx]
		if i > 0 && r.URL == lastURL {
			continue
		}
		lastURL = r.URL
		if !r.Still && !r.Status.IsGood() {
			mention = true
		}
		lines = append(lines, formatLine(r))
	}

	if mention {
		lines = append([]string{"<!channel>"}, lines...)
	}
	return strings.Join(lines, "\n") + "\n"
}

func formatLine(r spo2.Report) string {
	switch {
	case r.Still:
		return fmt.Sprintf("%s is still %s", r.URL, r.Status)
	case r.Status.IsGood():
		return fmt.Sprintf("%s is now %s 🎉", r.URL, r.Status)
	default:
		return fmt.Sprintf("%s reported %s (%s)", r.URL, r.Status, r.Reason)
	}
}
