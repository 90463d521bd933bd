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

package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spo2server/spo2"
)

func TestBuildMessageDeduplicatesAndEscalates(t *testing.T) {
	// a, b, a, c within one window; a's final report is a fresh bad
	// transition, so the message must open with a channel mention and hold
	// exactly one line per distinct URL
	batch := []spo2.Report{
		{URL: "https://a.example", Status: spo2.StatusHealthy},
		{URL: "https://b.example", Status: spo2.StatusHealthy},
		{URL: "https://a.example", Status: spo2.StatusUnhealthy, Reason: "connection refused"},
		{URL: "https://c.example", Status: spo2.StatusHealthy},
	}

	body := BuildMessage(batch)
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")

	require.Len(t, lines, 4)
	assert.Equal(t, "<!channel>", lines[0])
	assert.Equal(t, "https://c.example is now Healthy 🎉", lines[1])
	assert.Equal(t, "https://b.example is now Healthy 🎉", lines[2])
	assert.Equal(t, "https://a.example reported Unhealthy (connection refused)", lines[3])
}

func TestBuildMessageKeepsMostRecentPerURL(t *testing.T) {
	// the url flapped bad then recovered; only the recovery line survives
	batch := []spo2.Report{
		{URL: "https://a.example", Status: spo2.StatusUnhealthy, Reason: "503 Service Unavailable"},
		{URL: "https://a.example", Status: spo2.StatusHealthy},
	}

	body := BuildMessage(batch)
	assert.Equal(t, "https://a.example is now Healthy 🎉\n", body)
}

func TestBuildMessageStillLine(t *testing.T) {
	batch := []spo2.Report{
		{URL: "https://a.example", Status: spo2.StatusUnhealthy, Still: true, Reason: "connection refused"},
	}

	// a reminder alone does not re-mention the channel
	body := BuildMessage(batch)
	assert.Equal(t, "https://a.example is still Unhealthy\n", body)
}

// webhookSink records bodies posted by the real slack client.
func webhookSink(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	texts := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		texts <- payload.Text
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv, texts
}

func TestFlushBySize(t *testing.T) {
	srv, texts := webhookSink(t)

	n := New(srv.URL, zap.NewNop())
	n.MaxBatch = 2
	n.BatchWindow = time.Hour // only the size limit may trigger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Reports() <- spo2.Report{URL: "https://a.example", Status: spo2.StatusUnhealthy, Reason: "x"}
	n.Reports() <- spo2.Report{URL: "https://b.example", Status: spo2.StatusHealthy}

	select {
	case text := <-texts:
		assert.Contains(t, text, "https://a.example reported Unhealthy (x)")
		assert.Contains(t, text, "https://b.example is now Healthy 🎉")
		assert.True(t, strings.HasPrefix(text, "<!channel>\n"))
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook post after reaching the batch size")
	}
}

func TestFlushByTime(t *testing.T) {
	srv, texts := webhookSink(t)

	n := New(srv.URL, zap.NewNop())
	n.BatchWindow = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	n.Reports() <- spo2.Report{URL: "https://a.example", Status: spo2.StatusHealthy}

	select {
	case text := <-texts:
		assert.Equal(t, "https://a.example is now Healthy 🎉\n", text)
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook post after the batch window elapsed")
	}
}

func TestPostFailureIsDiscarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n := New(srv.URL, zap.NewNop())
	n.BatchWindow = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	// the loop must survive the failed post and keep consuming
	for i := 0; i < 5; i++ {
		select {
		case n.Reports() <- spo2.Report{URL: "https://a.example", Status: spo2.StatusHealthy}:
		case <-time.After(time.Second):
			t.Fatal("notifier stopped consuming after a failed post")
		}
		time.Sleep(30 * time.Millisecond)
	}
}

func TestDrainsSilentlyWithoutHookURL(t *testing.T) {
	n := New("", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	for i := 0; i < ChannelCapacity*2; i++ {
		select {
		case n.Reports() <- spo2.Report{URL: "https://a.example", Status: spo2.StatusHealthy}:
		case <-time.After(time.Second):
			t.Fatal("reports not drained with no webhook configured")
		}
	}
}
