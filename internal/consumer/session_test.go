package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/ridehail-demo/internal/locationselection"
	"github.com/example/ridehail-demo/internal/models"
)

type fakeTrips struct {
	tripID    string
	createErr error
	cancelErr error

	createdPickup        models.TerminalLocation
	createdDropoff       models.TerminalLocation
	createdIntermediates []models.TerminalLocation
	canceledTripID       string
}

func (f *fakeTrips) CreateTrip(ctx context.Context, pickup, dropoff models.TerminalLocation, intermediateDestinations []models.TerminalLocation) (string, error) {
	f.createdPickup = pickup
	f.createdDropoff = dropoff
	f.createdIntermediates = intermediateDestinations
	return f.tripID, f.createErr
}

func (f *fakeTrips) CancelTrip(ctx context.Context, tripID string) error {
	f.canceledTripID = tripID
	return f.cancelErr
}

type fakeFinder struct {
	point locationselection.PickupPoint
	err   error
}

func (f *fakeFinder) FindPickupPoint(ctx context.Context, searchLocation models.TerminalLocation) (locationselection.PickupPoint, error) {
	return f.point, f.err
}

type fakeStream struct {
	subscribedTripID string
	onStatus         func(models.TripStatus)
	unsubscribed     bool
	err              error
}

func (f *fakeStream) Subscribe(ctx context.Context, tripID string, onStatus func(models.TripStatus)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subscribedTripID = tripID
	f.onStatus = onStatus
	return func() { f.unsubscribed = true }, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession returns a session whose completion timers are captured
// instead of scheduled, so tests fire them explicitly.
func newTestSession(trips *fakeTrips, stream *fakeStream) (*Session, *[]func()) {
	s := NewSession(trips, stream, testLogger())
	var timers []func()
	s.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		timers = append(timers, fn)
		return nil
	}
	return s, &timers
}

func bookTrip(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	if err := s.RequestRide(); err != nil {
		t.Fatalf("RequestRide: %v", err)
	}
	s.SetPickup(models.LocationAt(37.42, -122.08))
	if err := s.ConfirmPickup(ctx); err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	if s.State() == StateConfirmingPickupPoint {
		if err := s.ConfirmPickupPoint(); err != nil {
			t.Fatalf("ConfirmPickupPoint: %v", err)
		}
	}
	s.SetDropoff(models.LocationAt(37.43, -122.09))
	if err := s.ConfirmDropoff(); err != nil {
		t.Fatalf("ConfirmDropoff: %v", err)
	}
	if err := s.ConfirmTripPreview(ctx); err != nil {
		t.Fatalf("ConfirmTripPreview: %v", err)
	}
}

func TestBookingFlowReachesJourneySharing(t *testing.T) {
	trips := &fakeTrips{tripID: "trip-123"}
	stream := &fakeStream{}
	s, _ := newTestSession(trips, stream)

	var states []State
	s.OnEvent = func(ev Event) { states = append(states, ev.State) }

	bookTrip(t, s)

	if s.State() != StateJourneySharing {
		t.Fatalf("state = %s, want journeySharing", s.State())
	}
	if s.TripID() != "trip-123" {
		t.Errorf("trip ID = %q", s.TripID())
	}
	if stream.subscribedTripID != "trip-123" {
		t.Errorf("subscribed trip = %q", stream.subscribedTripID)
	}
	want := []State{StateSelectingPickup, StateSelectingDropoff, StateTripPreview, StateBooking, StateJourneySharing}
	if len(states) != len(want) {
		t.Fatalf("events = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, states[i], want[i])
		}
	}
	if trips.createdPickup.WirePoint().Latitude != 37.42 {
		t.Errorf("pickup latitude = %v", trips.createdPickup.WirePoint().Latitude)
	}
}

func TestIntermediateDestinationsAppendDropoffCandidates(t *testing.T) {
	trips := &fakeTrips{tripID: "trip-1"}
	s, _ := newTestSession(trips, &fakeStream{})
	ctx := context.Background()

	if err := s.RequestRide(); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPickup(ctx); err != nil {
		t.Fatal(err)
	}
	s.SetDropoff(models.LocationAt(1, 1))
	if err := s.AddIntermediateDestination(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateSelectingDropoff {
		t.Fatalf("state = %s after adding a stop, want selectingDropoff", s.State())
	}
	s.SetDropoff(models.LocationAt(2, 2))
	if err := s.AddIntermediateDestination(); err != nil {
		t.Fatal(err)
	}
	s.SetDropoff(models.LocationAt(3, 3))
	if err := s.ConfirmDropoff(); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmTripPreview(ctx); err != nil {
		t.Fatal(err)
	}

	if got := len(trips.createdIntermediates); got != 2 {
		t.Fatalf("intermediate destinations = %d, want 2", got)
	}
	if trips.createdIntermediates[0].WirePoint().Latitude != 1 ||
		trips.createdIntermediates[1].WirePoint().Latitude != 2 {
		t.Errorf("intermediate order wrong: %+v", trips.createdIntermediates)
	}
	if trips.createdDropoff.WirePoint().Latitude != 3 {
		t.Errorf("dropoff latitude = %v, want 3", trips.createdDropoff.WirePoint().Latitude)
	}
}

func TestPickupPointSuggestionConfirmed(t *testing.T) {
	s, _ := newTestSession(&fakeTrips{tripID: "t"}, &fakeStream{})
	s.PickupPoints = &fakeFinder{point: locationselection.PickupPoint{
		LatLng:                models.LatLng{Latitude: 37.5, Longitude: -122.2},
		WalkingDistanceMeters: 80,
	}}
	ctx := context.Background()

	if err := s.RequestRide(); err != nil {
		t.Fatal(err)
	}
	s.SetPickup(models.LocationAt(37.49, -122.19))
	if err := s.ConfirmPickup(ctx); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateConfirmingPickupPoint {
		t.Fatalf("state = %s, want confirmingPickupPoint", s.State())
	}
	if got := s.SuggestedPickupPoint().WalkingDistanceMeters; got != 80 {
		t.Errorf("walking distance = %v", got)
	}

	if err := s.ConfirmPickupPoint(); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateSelectingDropoff {
		t.Fatalf("state = %s, want selectingDropoff", s.State())
	}
}

func TestPickupPointLookupFailureStaysSelecting(t *testing.T) {
	s, _ := newTestSession(&fakeTrips{}, &fakeStream{})
	s.PickupPoints = &fakeFinder{err: errors.New("upstream unavailable")}

	var lastEvent Event
	s.OnEvent = func(ev Event) { lastEvent = ev }

	if err := s.RequestRide(); err != nil {
		t.Fatal(err)
	}
	err := s.ConfirmPickup(context.Background())
	if err == nil {
		t.Fatal("ConfirmPickup succeeded despite lookup failure")
	}
	if s.State() != StateSelectingPickup {
		t.Errorf("state = %s, want selectingPickup", s.State())
	}
	if lastEvent.Message == "" {
		t.Error("no error message surfaced on the event")
	}
}

func TestBookingFailureReturnsToPreview(t *testing.T) {
	trips := &fakeTrips{createErr: errors.New("backend down")}
	stream := &fakeStream{}
	s, _ := newTestSession(trips, stream)
	ctx := context.Background()

	if err := s.RequestRide(); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmPickup(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmDropoff(); err != nil {
		t.Fatal(err)
	}
	if err := s.ConfirmTripPreview(ctx); err == nil {
		t.Fatal("ConfirmTripPreview succeeded despite create failure")
	}
	if s.State() != StateTripPreview {
		t.Errorf("state = %s, want tripPreview", s.State())
	}
	if stream.subscribedTripID != "" {
		t.Error("subscribed to updates for a trip that was never created")
	}
}

func TestCancelReturnsToInitial(t *testing.T) {
	trips := &fakeTrips{tripID: "trip-9"}
	stream := &fakeStream{}
	s, _ := newTestSession(trips, stream)

	bookTrip(t, s)
	if err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if trips.canceledTripID != "trip-9" {
		t.Errorf("canceled trip = %q", trips.canceledTripID)
	}
	if s.State() != StateInitial {
		t.Errorf("state = %s, want initial", s.State())
	}
	if s.TripID() != "" {
		t.Errorf("trip ID not cleared: %q", s.TripID())
	}
	if !stream.unsubscribed {
		t.Error("status stream not unsubscribed")
	}
}

func TestCancelFailureLeavesStateUnchanged(t *testing.T) {
	trips := &fakeTrips{tripID: "trip-9", cancelErr: errors.New("conflict")}
	stream := &fakeStream{}
	s, _ := newTestSession(trips, stream)

	bookTrip(t, s)
	if err := s.Cancel(context.Background()); err == nil {
		t.Fatal("Cancel succeeded despite backend failure")
	}
	if s.State() != StateJourneySharing {
		t.Errorf("state = %s, want journeySharing", s.State())
	}
	if stream.unsubscribed {
		t.Error("unsubscribed despite failed cancel")
	}
}

func TestStatusUpdatesKeepJourneySharing(t *testing.T) {
	stream := &fakeStream{}
	s, timers := newTestSession(&fakeTrips{tripID: "trip-1"}, stream)

	bookTrip(t, s)
	for _, status := range []models.TripStatus{
		models.TripStatusNew,
		models.TripStatusEnrouteToPickup,
		models.TripStatusArrivedAtPickup,
		models.TripStatusEnrouteToDropoff,
	} {
		stream.onStatus(status)
		if s.State() != StateJourneySharing {
			t.Fatalf("state = %s after %s, want journeySharing", s.State(), status)
		}
		if s.TripStatus() != status {
			t.Errorf("trip status = %s, want %s", s.TripStatus(), status)
		}
	}
	if len(*timers) != 0 {
		t.Errorf("completion timer scheduled before COMPLETE")
	}
}

func TestCompleteReturnsToInitialAfterDelay(t *testing.T) {
	stream := &fakeStream{}
	s, timers := newTestSession(&fakeTrips{tripID: "trip-1"}, stream)

	bookTrip(t, s)
	stream.onStatus(models.TripStatusComplete)

	if s.State() != StateJourneySharing {
		t.Fatalf("state = %s before the delay elapsed, want journeySharing", s.State())
	}
	if len(*timers) != 1 {
		t.Fatalf("completion timers = %d, want 1", len(*timers))
	}

	(*timers)[0]()
	if s.State() != StateInitial {
		t.Errorf("state = %s after delay, want initial", s.State())
	}
	if !stream.unsubscribed {
		t.Error("status stream not unsubscribed after completion")
	}
}

func TestStaleCompletionTimerIsNoOp(t *testing.T) {
	stream := &fakeStream{}
	s, timers := newTestSession(&fakeTrips{tripID: "trip-1"}, stream)

	bookTrip(t, s)
	stream.onStatus(models.TripStatusComplete)
	if err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// A new flow has started by the time the old timer fires.
	if err := s.RequestRide(); err != nil {
		t.Fatal(err)
	}
	(*timers)[0]()
	if s.State() != StateSelectingPickup {
		t.Errorf("state = %s, stale timer should not have reset the session", s.State())
	}
}

func TestActionsOutOfOrderReturnTransitionError(t *testing.T) {
	s, _ := newTestSession(&fakeTrips{}, &fakeStream{})

	var transitionErr *TransitionError
	if err := s.ConfirmDropoff(); !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	if transitionErr.From != StateInitial {
		t.Errorf("From = %s, want initial", transitionErr.From)
	}
	if err := s.Cancel(context.Background()); !errors.As(err, &transitionErr) {
		t.Errorf("Cancel err = %v, want TransitionError", err)
	}
}
