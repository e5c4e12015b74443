// Package consumer drives the rider-side trip flow: pickup and dropoff
// selection, booking through the provider backend, and journey sharing
// fed by trip-status push updates.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ridehail-demo/internal/locationselection"
	"github.com/example/ridehail-demo/internal/models"
)

// State is the top-level rider flow state.
type State int

const (
	StateInitial State = iota
	StateSelectingPickup
	StateConfirmingPickupPoint
	StateSelectingDropoff
	StateTripPreview
	StateBooking
	StateJourneySharing
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateSelectingPickup:
		return "selectingPickup"
	case StateConfirmingPickupPoint:
		return "confirmingPickupPoint"
	case StateSelectingDropoff:
		return "selectingDropoff"
	case StateTripPreview:
		return "tripPreview"
	case StateBooking:
		return "booking"
	case StateJourneySharing:
		return "journeySharing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransitionError reports a user action that is not valid in the
// session's current state.
type TransitionError struct {
	From   State
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("consumer: cannot %s from state %s", e.Action, e.From)
}

// TripAPI is the slice of the provider client the rider flow needs.
type TripAPI interface {
	CreateTrip(ctx context.Context, pickup, dropoff models.TerminalLocation, intermediateDestinations []models.TerminalLocation) (string, error)
	CancelTrip(ctx context.Context, tripID string) error
}

// PickupPointFinder snaps a raw pickup location to a suggested
// pickup point.
type PickupPointFinder interface {
	FindPickupPoint(ctx context.Context, searchLocation models.TerminalLocation) (locationselection.PickupPoint, error)
}

// StatusStream delivers trip-status push updates for a trip. The
// returned function unsubscribes; updates delivered after it returns
// are dropped by the session.
type StatusStream interface {
	Subscribe(ctx context.Context, tripID string, onStatus func(models.TripStatus)) (func(), error)
}

// Event is emitted on every session state change.
type Event struct {
	State      State
	TripID     string
	TripStatus models.TripStatus

	// Message carries a human-readable error when a transition failed
	// and the session stayed in (or fell back to) the reported state.
	Message string
}

// Session is the rider trip state machine. Its action methods are
// expected to be called from a single goroutine; push updates and
// timers rejoin through the session's own lock.
type Session struct {
	trips  TripAPI
	stream StatusStream
	logger *slog.Logger

	// PickupPoints is optional. When nil, confirming a pickup skips the
	// pickup-point suggestion step entirely.
	PickupPoints PickupPointFinder

	// OnEvent, when set, receives every state change. It must not call
	// back into the session synchronously.
	OnEvent func(Event)

	completeDelay time.Duration
	afterFunc     func(time.Duration, func()) *time.Timer

	mu            sync.Mutex
	state         State
	pickup        models.TerminalLocation
	suggested     locationselection.PickupPoint
	dropoff       models.TerminalLocation
	intermediates []models.TerminalLocation
	tripID        string
	tripStatus    models.TripStatus
	unsubscribe   func()
	generation    int
}

// NewSession returns a Session in the initial state.
func NewSession(trips TripAPI, stream StatusStream, logger *slog.Logger) *Session {
	return &Session{
		trips:         trips,
		stream:        stream,
		logger:        logger,
		completeDelay: 4 * time.Second,
		afterFunc:     time.AfterFunc,
		tripStatus:    models.TripStatusUnknown,
	}
}

// State returns the current flow state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TripID returns the active trip ID, empty outside journey sharing.
func (s *Session) TripID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripID
}

// TripStatus returns the last pushed status of the active trip.
func (s *Session) TripStatus() models.TripStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripStatus
}

// SuggestedPickupPoint returns the pickup point under confirmation.
func (s *Session) SuggestedPickupPoint() locationselection.PickupPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggested
}

// RequestRide starts a new booking flow.
func (s *Session) RequestRide() error {
	s.mu.Lock()
	if s.state != StateInitial {
		defer s.mu.Unlock()
		return &TransitionError{From: s.state, Action: "request ride"}
	}
	s.state = StateSelectingPickup
	ev := s.eventLocked()
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// SetPickup tracks the live pickup candidate while selecting.
func (s *Session) SetPickup(loc models.TerminalLocation) {
	s.mu.Lock()
	s.pickup = loc
	s.mu.Unlock()
}

// SetDropoff tracks the live dropoff candidate while selecting.
func (s *Session) SetDropoff(loc models.TerminalLocation) {
	s.mu.Lock()
	s.dropoff = loc
	s.mu.Unlock()
}

// ConfirmPickup locks in the pickup candidate. With a pickup-point
// finder configured it asks for a suggested pickup point and moves to
// confirming it; a lookup failure keeps the session selecting the
// pickup. Without a finder the flow goes straight to dropoff selection.
func (s *Session) ConfirmPickup(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSelectingPickup {
		defer s.mu.Unlock()
		return &TransitionError{From: s.state, Action: "confirm pickup"}
	}
	if s.PickupPoints == nil {
		s.state = StateSelectingDropoff
		ev := s.eventLocked()
		s.mu.Unlock()
		s.emit(ev)
		return nil
	}
	pickup := s.pickup
	s.mu.Unlock()

	point, err := s.PickupPoints.FindPickupPoint(ctx, pickup)

	s.mu.Lock()
	if s.state != StateSelectingPickup {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		ev := s.eventLocked()
		ev.Message = fmt.Sprintf("pickup point lookup failed: %v", err)
		s.mu.Unlock()
		s.emit(ev)
		return fmt.Errorf("consumer: find pickup point: %w", err)
	}
	s.suggested = point
	s.state = StateConfirmingPickupPoint
	ev := s.eventLocked()
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// ConfirmPickupPoint accepts the suggested pickup point, replacing the
// raw pickup candidate with the snapped location.
func (s *Session) ConfirmPickupPoint() error {
	s.mu.Lock()
	if s.state != StateConfirmingPickupPoint {
		defer s.mu.Unlock()
		return &TransitionError{From: s.state, Action: "confirm pickup point"}
	}
	s.pickup = models.LocationAt(s.suggested.LatLng.Latitude, s.suggested.LatLng.Longitude)
	s.state = StateSelectingDropoff
	ev := s.eventLocked()
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// AddIntermediateDestination appends the current dropoff candidate to
// the ordered stop list and clears the candidate for the next pick.
// The flow stays in dropoff selection.
func (s *Session) AddIntermediateDestination() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectingDropoff {
		return &TransitionError{From: s.state, Action: "add intermediate destination"}
	}
	s.intermediates = append(s.intermediates, s.dropoff)
	s.dropoff = models.TerminalLocation{}
	return nil
}

// ConfirmDropoff locks in the dropoff and moves to the trip preview.
func (s *Session) ConfirmDropoff() error {
	s.mu.Lock()
	if s.state != StateSelectingDropoff {
		defer s.mu.Unlock()
		return &TransitionError{From: s.state, Action: "confirm dropoff"}
	}
	s.state = StateTripPreview
	ev := s.eventLocked()
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// ConfirmTripPreview books the trip. On success the session enters
// journey sharing and subscribes to trip-status updates; on failure it
// returns to the trip preview with the error surfaced.
func (s *Session) ConfirmTripPreview(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateTripPreview {
		defer s.mu.Unlock()
		return &TransitionError{From: s.state, Action: "confirm trip preview"}
	}
	s.state = StateBooking
	pickup, dropoff := s.pickup, s.dropoff
	intermediates := append([]models.TerminalLocation(nil), s.intermediates...)
	ev := s.eventLocked()
	s.mu.Unlock()
	s.emit(ev)

	tripID, err := s.trips.CreateTrip(ctx, pickup, dropoff, intermediates)

	s.mu.Lock()
	if s.state != StateBooking {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.state = StateTripPreview
		ev := s.eventLocked()
		ev.Message = fmt.Sprintf("booking failed: %v", err)
		s.mu.Unlock()
		s.emit(ev)
		return fmt.Errorf("consumer: create trip: %w", err)
	}
	s.tripID = tripID
	s.tripStatus = models.TripStatusUnknown
	s.state = StateJourneySharing
	ev = s.eventLocked()
	s.mu.Unlock()
	s.emit(ev)

	unsubscribe, err := s.stream.Subscribe(ctx, tripID, s.handleStatus)
	if err != nil {
		s.logger.Warn("trip status subscription failed, continuing without updates",
			"trip_id", tripID, "error", err)
		return nil
	}
	s.mu.Lock()
	if s.state == StateJourneySharing && s.tripID == tripID {
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	unsubscribe()
	return nil
}

// Cancel cancels the active trip. On success the session unsubscribes
// from updates and returns to the initial state; on failure the state
// is left unchanged.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateJourneySharing {
		defer s.mu.Unlock()
		return &TransitionError{From: s.state, Action: "cancel"}
	}
	tripID := s.tripID
	s.mu.Unlock()

	if err := s.trips.CancelTrip(ctx, tripID); err != nil {
		return fmt.Errorf("consumer: cancel trip %s: %w", tripID, err)
	}

	s.mu.Lock()
	if s.state != StateJourneySharing || s.tripID != tripID {
		s.mu.Unlock()
		return nil
	}
	ev, unsubscribe := s.resetLocked()
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.emit(ev)
	return nil
}

func (s *Session) handleStatus(status models.TripStatus) {
	s.mu.Lock()
	if s.state != StateJourneySharing {
		s.mu.Unlock()
		return
	}
	s.tripStatus = status
	generation := s.generation
	ev := s.eventLocked()
	s.mu.Unlock()
	s.emit(ev)

	if status == models.TripStatusComplete {
		s.afterFunc(s.completeDelay, func() { s.finishTrip(generation) })
	}
}

// finishTrip returns the session to the initial state after the
// post-completion delay. A timer that outlived its trip is a no-op.
func (s *Session) finishTrip(generation int) {
	s.mu.Lock()
	if s.generation != generation || s.state != StateJourneySharing {
		s.mu.Unlock()
		return
	}
	ev, unsubscribe := s.resetLocked()
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.emit(ev)
}

// resetLocked clears all trip fields and returns the initial-state
// event plus the unsubscribe hook to run outside the lock.
func (s *Session) resetLocked() (Event, func()) {
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.generation++
	s.state = StateInitial
	s.pickup = models.TerminalLocation{}
	s.suggested = locationselection.PickupPoint{}
	s.dropoff = models.TerminalLocation{}
	s.intermediates = nil
	s.tripID = ""
	s.tripStatus = models.TripStatusUnknown
	return s.eventLocked(), unsubscribe
}

func (s *Session) eventLocked() Event {
	return Event{State: s.state, TripID: s.tripID, TripStatus: s.tripStatus}
}

func (s *Session) emit(ev Event) {
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}
