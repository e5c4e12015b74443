package backend

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ridehail-demo/internal/models"
	"github.com/example/ridehail-demo/internal/observability"
)

type statusMessage struct {
	TripID string `json:"tripId"`
	Status string `json:"status"`
}

type pushSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *pushSession) send(msg statusMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

// PushRegistry fans trip-status updates out to websocket subscribers,
// keyed by trip ID. A trip may have any number of subscribers; sends
// are best effort and a failed subscriber is dropped.
type PushRegistry struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string][]*pushSession
}

func NewPushRegistry(logger *slog.Logger) *PushRegistry {
	return &PushRegistry{
		logger:   logger,
		sessions: make(map[string][]*pushSession),
	}
}

// Add registers a subscriber connection for the trip.
func (r *PushRegistry) Add(tripID string, conn *websocket.Conn) {
	r.mu.Lock()
	r.sessions[tripID] = append(r.sessions[tripID], &pushSession{conn: conn})
	r.mu.Unlock()
	observability.PushSubscribers.Inc()
}

// Publish sends the trip's status to every subscriber. Subscribers
// whose send fails are closed and removed.
func (r *PushRegistry) Publish(tripID string, status models.TripStatus) {
	r.mu.Lock()
	subscribers := append([]*pushSession(nil), r.sessions[tripID]...)
	r.mu.Unlock()
	if len(subscribers) == 0 {
		return
	}

	msg := statusMessage{TripID: tripID, Status: string(status)}
	var dead []*pushSession
	for _, s := range subscribers {
		if err := s.send(msg); err != nil {
			r.logger.Debug("push send failed, dropping subscriber", "trip_id", tripID, "error", err)
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}

	r.mu.Lock()
	kept := r.sessions[tripID][:0]
	for _, s := range r.sessions[tripID] {
		dropped := false
		for _, d := range dead {
			if s == d {
				dropped = true
				break
			}
		}
		if dropped {
			s.conn.Close()
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		delete(r.sessions, tripID)
	} else {
		r.sessions[tripID] = kept
	}
	r.mu.Unlock()
	observability.PushSubscribers.Sub(float64(len(dead)))
}

// Drop closes and removes all subscribers of a trip, used when the
// trip reaches a terminal status.
func (r *PushRegistry) Drop(tripID string) {
	r.mu.Lock()
	subscribers := r.sessions[tripID]
	delete(r.sessions, tripID)
	r.mu.Unlock()

	for _, s := range subscribers {
		s.conn.Close()
	}
	if len(subscribers) > 0 {
		observability.PushSubscribers.Sub(float64(len(subscribers)))
	}
}
