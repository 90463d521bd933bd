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

package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spo2server/spo2"
	"github.com/spo2server/spo2/registry"
	"github.com/spo2server/spo2/store"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Send(string) {}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "spo2.db"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan spo2.Report, 128)
	reg := registry.New(ctx, st, reports, nopBroadcaster{}, zap.NewNop())
	reg.Probe = func(context.Context, string) (spo2.Status, string) {
		return spo2.StatusHealthy, ""
	}

	h := &Handler{Registry: reg, Logger: zap.NewNop()}
	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		reg.Wait()
		st.Close()
	})
	return srv
}

func do(t *testing.T, method, target, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(payload)
}

func monitored(srv *httptest.Server, raw string) string {
	return srv.URL + "/?url=" + url.QueryEscape(raw)
}

func TestFreshInsert(t *testing.T) {
	srv := testServer(t)

	resp, body := do(t, http.MethodPost, monitored(srv, "https://a.example"), `{"k":1}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"Healthy","data":{"k":1}}`, body)
}

func TestDataUpdateKeepsStatus(t *testing.T) {
	srv := testServer(t)

	do(t, http.MethodPost, monitored(srv, "https://a.example"), `{"k":1}`)
	resp, body := do(t, http.MethodPut, monitored(srv, "https://a.example"), `{"k":2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"k":2`)
	assert.Contains(t, body, `"Healthy"`)
}

func TestReadMissing(t *testing.T) {
	srv := testServer(t)

	resp, _ := do(t, http.MethodGet, monitored(srv, "https://gone.example"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMissingURLParameter(t *testing.T) {
	srv := testServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		resp, _ := do(t, method, srv.URL+"/", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, method)
	}
}

func TestRejectsBadInput(t *testing.T) {
	srv := testServer(t)

	resp, _ := do(t, http.MethodPost, monitored(srv, "ftp://a.example"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "non-http scheme")

	resp, _ = do(t, http.MethodPost, monitored(srv, "https://a.example"), `{"k":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "truncated JSON body")
}

func TestDeleteLifecycle(t *testing.T) {
	srv := testServer(t)

	do(t, http.MethodPost, monitored(srv, "https://a.example"), `{"k":1}`)

	resp, body := do(t, http.MethodDelete, monitored(srv, "https://a.example"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"k":1`)

	resp, _ = do(t, http.MethodGet, monitored(srv, "https://a.example"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, monitored(srv, "https://a.example"), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAll(t *testing.T) {
	srv := testServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/all", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, body, "an empty registry lists as an empty array")

	do(t, http.MethodPost, monitored(srv, "https://b.example"), "")
	do(t, http.MethodPost, monitored(srv, "https://a.example"), "")

	_, body = do(t, http.MethodGet, srv.URL+"/all", "")
	assert.Contains(t, body, `"url":"https://a.example"`)
	assert.Contains(t, body, `"url":"https://b.example"`)
}

func TestDashboard(t *testing.T) {
	srv := testServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<title>spo2")
}

func TestCORSHeaders(t *testing.T) {
	srv := testServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
