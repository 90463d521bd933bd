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

// Package httpapi serves the control API and the dashboard page. It is a
// thin surface over the registry: every handler validates its input, calls
// one registry operation, and encodes the result.
package httpapi

import (
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spo2server/spo2"
	"github.com/spo2server/spo2/registry"
	"github.com/spo2server/spo2/store"
)

//go:embed index.html
var dashboardHTML []byte

// maxBodySize caps the client data payload.
const maxBodySize = 1 << 20

// Handler routes control requests to the registry.
type Handler struct {
	Registry *registry.Registry
	Logger   *zap.Logger
}

// Router assembles the control API:
//
//	GET    /         record for ?url=, or the dashboard for text/html
//	POST   /?url=    insert or update (body = client JSON data)
//	PUT    /?url=    same as POST
//	DELETE /?url=    remove
//	GET    /all      every record
//	GET    /metrics  prometheus instrumentation
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", h.read)
	r.Post("/", h.upsert)
	r.Put("/", h.upsert)
	r.Delete("/", h.remove)
	r.Get("/all", h.list)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(dashboardHTML)
		return
	}

	url, ok := queryURL(w, r)
	if !ok {
		return
	}
	value, err := h.Registry.Read(url)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, value)
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	url, ok := queryURL(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := json.RawMessage("null")
	if len(body) > 0 {
		if !json.Valid(body) {
			http.Error(w, "body is not valid JSON", http.StatusBadRequest)
			return
		}
		data = body
	}

	value, err := h.Registry.Insert(url, data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, value)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	url, ok := queryURL(w, r)
	if !ok {
		return
	}
	value, err := h.Registry.Delete(url)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, value)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	values, err := h.Registry.List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if values == nil {
		values = []*spo2.UrlValue{}
	}
	h.writeJSON(w, values)
}

func queryURL(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return "", false
	}
	return raw, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.Logger.Error("encoding response", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "url not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrInvalidURL):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.Logger.Error("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
