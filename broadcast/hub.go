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

// Package broadcast fans event frames out to websocket subscribers. The
// hub is a plain sink: callers hand it opaque text frames and it delivers
// them, best effort, to whoever is connected right now. Slow or absent
// subscribers lose frames rather than slow the producers down.
package broadcast

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spo2server/spo2/metrics"
)

const (
	// Time allowed to write a frame to a subscriber.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from a subscriber.
	pongWait = 60 * time.Second

	// Ping cadence; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers never send anything meaningful.
	maxMessageSize = 512

	// Per-subscriber and hub-wide queue sizes. Overflow drops frames.
	sendQueueSize      = 32
	broadcastQueueSize = 256
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the subscriber set. Run must be started before subscribers
// connect or frames are sent.
type Hub struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcasts chan []byte
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger.Named("broadcast"),
		upgrader: websocket.Upgrader{
			// the dashboard is served from another port, so any origin goes
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcasts: make(chan []byte, broadcastQueueSize),
	}
}

// Send queues text for delivery to all current subscribers. When the hub
// queue is full the frame is dropped; the caller never blocks and never
// sees an error.
func (h *Hub) Send(text string) {
	select {
	case h.broadcasts <- []byte(text):
	default:
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = make(map[*client]struct{})
			metrics.WebsocketClients.Set(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.WebsocketClients.Set(float64(len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WebsocketClients.Set(float64(len(h.clients)))
			}

		case frame := <-h.broadcasts:
			for c := range h.clients {
				select {
				case c.send <- frame:
				default:
					// subscriber is not keeping up, drop the frame
				}
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}
	h.logger.Debug("subscriber connected",
		zap.String("id", c.id),
		zap.String("remote", r.RemoteAddr))
	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
		h.logger.Debug("subscriber disconnected", zap.String("id", c.id))
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// inbound payloads are ignored; reading only services control frames
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
