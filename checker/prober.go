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

package checker

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/spo2server/spo2"
)

// ProbeTimeout bounds one entire GET, connection setup included.
const ProbeTimeout = 5 * time.Second

// maxProbeBody is how much of a response body gets drained before closing,
// so the connection can be reused.
const maxProbeBody = 4 * 1024

// Prober performs single health check requests. It does not retry; the
// checker's cadence is the retry policy.
type Prober struct {
	client *http.Client
}

// NewProber returns a Prober with the fixed probe timeout.
func NewProber() *Prober {
	return &Prober{client: &http.Client{Timeout: ProbeTimeout}}
}

// Probe issues one GET against url and classifies the outcome. A reachable
// endpoint answering outside 2xx is Unhealthy with the textual status as
// reason; a transport failure or timeout is Unreacheable with the error
// text. Healthy outcomes carry no reason.
func (p *Prober) Probe(ctx context.Context, url string) (spo2.Status, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return spo2.StatusUnreacheable, err.Error()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return spo2.StatusUnreacheable, err.Error()
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBody))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return spo2.StatusUnhealthy, resp.Status
	}
	return spo2.StatusHealthy, ""
}
