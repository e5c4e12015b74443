// Package tripmonitor subscribes to the provider backend's trip-status
// push channel over a websocket and feeds decoded statuses to the
// rider session.
package tripmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ridehail-demo/internal/models"
)

type statusMessage struct {
	TripID string `json:"tripId"`
	Status string `json:"status"`
}

// Monitor dials the backend's per-trip status endpoint.
type Monitor struct {
	BaseURL string
	Dialer  *websocket.Dialer
	logger  *slog.Logger
}

// New returns a Monitor for the given backend base URL.
func New(baseURL string, logger *slog.Logger) *Monitor {
	return &Monitor{
		BaseURL: baseURL,
		Dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
	}
}

// Subscribe opens a websocket for the trip and delivers each pushed
// status to onStatus from a dedicated goroutine. The returned function
// closes the subscription; statuses read after it returns are dropped.
func (m *Monitor) Subscribe(ctx context.Context, tripID string, onStatus func(models.TripStatus)) (func(), error) {
	endpoint, err := m.endpoint(tripID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := m.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("tripmonitor: dial %s: %w", endpoint, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	var closed atomic.Bool
	go func() {
		for {
			var msg statusMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !closed.Load() {
					m.logger.Debug("trip status stream closed", "trip_id", tripID, "error", err)
				}
				return
			}
			if closed.Load() {
				return
			}
			onStatus(models.ParseTripStatus(msg.Status))
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			closed.Store(true)
			conn.Close()
		})
	}
	return unsubscribe, nil
}

func (m *Monitor) endpoint(tripID string) (string, error) {
	if tripID == "" {
		return "", fmt.Errorf("tripmonitor: empty trip ID")
	}
	u, err := url.Parse(m.BaseURL)
	if err != nil {
		return "", fmt.Errorf("tripmonitor: parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/trip/" + url.PathEscape(tripID)
	return u.String(), nil
}
