// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package netmon implements the network monitor collaborator over a
// websocket to the device's connectivity bridge. The bridge pushes
// state changes; the monitor maintains the last known status, fans
// events out to subscribers, and reconnects with backoff when the
// socket drops.
package netmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// message is the bridge's wire format.
type message struct {
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Status    collab.NetworkStatus `json:"status"`
	// Forecast accompanies "forecast" messages.
	Forecast []model.OfflineWindow `json:"forecast,omitempty"`
}

// Monitor implements collab.NetworkMonitor over a websocket bridge.
type Monitor struct {
	url       string
	reconnect time.Duration

	mu       sync.RWMutex
	status   collab.NetworkStatus
	forecast []model.OfflineWindow
	handlers map[int]collab.EventHandler
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor for the given websocket URL. The monitor starts
// offline-pessimistic: unknown connectivity reports as a degraded
// online state until the bridge speaks.
func New(url string, reconnect time.Duration) *Monitor {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &Monitor{
		url:       url,
		reconnect: reconnect,
		status:    collab.NetworkStatus{Online: true, Quality: 0.5},
		handlers:  make(map[int]collab.EventHandler),
	}
}

// Start launches the read loop. It returns immediately; connection
// failures are retried in the background.
func (m *Monitor) Start(ctx context.Context) error {
	if m.url == "" {
		return fmt.Errorf("netmon: websocket URL not configured")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.runLoop(ctx)
	return nil
}

// Stop tears down the connection and waits for the loop to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) runLoop(ctx context.Context) {
	defer close(m.done)
	for {
		if err := m.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("Network monitor: connection lost: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.reconnect):
		}
	}
}

func (m *Monitor) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.url, err)
	}
	defer conn.Close()
	log.Infof("Network monitor connected to %s", m.url)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Keepalive pings so a silent bridge still proves liveness.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debugf("Network monitor: bad message: %v", err)
			continue
		}
		m.handle(msg)
	}
}

func (m *Monitor) handle(msg message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	switch msg.Type {
	case "forecast":
		m.mu.Lock()
		m.forecast = msg.Forecast
		m.mu.Unlock()
		return
	case string(collab.EventOffline), string(collab.EventOnline), string(collab.EventQualityChange):
	default:
		log.Debugf("Network monitor: unknown message type %q", msg.Type)
		return
	}

	m.mu.Lock()
	m.status = msg.Status
	handlers := make([]collab.EventHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	ev := collab.Event{
		Type:      collab.EventType(msg.Type),
		Timestamp: msg.Timestamp,
		Status:    msg.Status,
	}
	for _, h := range handlers {
		h(ev)
	}
}

// Status returns the last pushed network status.
func (m *Monitor) Status(ctx context.Context) (*collab.NetworkStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	return &s, nil
}

// Quality returns the last pushed connection quality.
func (m *Monitor) Quality(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Quality, nil
}

// IssuePredictions returns forecast windows starting within the horizon.
func (m *Monitor) IssuePredictions(ctx context.Context, horizon time.Duration) ([]model.OfflineWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(horizon)
	var out []model.OfflineWindow
	for _, w := range m.forecast {
		if w.Start.Before(cutoff) && w.End.After(time.Now()) {
			out = append(out, w)
		}
	}
	return out, nil
}

// PredictedOfflinePeriods returns the bridge's standing forecast.
func (m *Monitor) PredictedOfflinePeriods(ctx context.Context) ([]model.OfflineWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.OfflineWindow, len(m.forecast))
	copy(out, m.forecast)
	return out, nil
}

// Subscribe registers a handler for pushed events.
func (m *Monitor) Subscribe(handler collab.EventHandler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

var _ collab.NetworkMonitor = (*Monitor)(nil)
