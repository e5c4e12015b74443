// Package driver drives the vehicle-side trip flow: polling the
// provider for matched trips, stepping through the waypoint queue with
// a single control action, and back-to-back trip promotion.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

// State is the driver flow state.
type State int

const (
	StateIdle State = iota
	StateNew
	StateEnrouteToPickup
	StateArrivedAtPickup
	StateEnrouteToIntermediateDestination
	StateArrivedAtIntermediateDestination
	StateEnrouteToDropoff
	StateTripComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNew:
		return "new"
	case StateEnrouteToPickup:
		return "enrouteToPickup"
	case StateArrivedAtPickup:
		return "arrivedAtPickup"
	case StateEnrouteToIntermediateDestination:
		return "enrouteToIntermediateDestination"
	case StateArrivedAtIntermediateDestination:
		return "arrivedAtIntermediateDestination"
	case StateEnrouteToDropoff:
		return "enrouteToDropoff"
	case StateTripComplete:
		return "tripComplete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TransitionError reports a control action that is not valid in the
// session's current state.
type TransitionError struct {
	From   State
	Action string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("driver: cannot %s from state %s", e.Action, e.From)
}

// VehicleAPI is the slice of the provider client the driver flow needs.
type VehicleAPI interface {
	GetVehicle(ctx context.Context, vehicleID string) ([]string, error)
	GetTrip(ctx context.Context, tripID string) (models.TripStatus, []models.TripWaypoint, error)
	UpdateTrip(ctx context.Context, tripID string, status models.TripStatus, intermediateDestinationIndex *int) error
}

// Event is emitted on every driver state change.
type Event struct {
	State         State
	CurrentTripID string
	NextTripID    string
	Message       string
}

// Session is the driver trip state machine for one vehicle. Control
// actions are expected to be called from a single goroutine; poll
// completions and timers rejoin through the session's own lock.
type Session struct {
	api        VehicleAPI
	logger     *slog.Logger
	vehicleID  string
	backToBack bool

	// OnEvent, when set, receives every state change. It must not call
	// back into the session synchronously.
	OnEvent func(Event)

	pollInterval time.Duration
	idleDelay    time.Duration
	afterFunc    func(time.Duration, func()) *time.Timer
	tick         func(time.Duration) (<-chan time.Time, func())

	mu                sync.Mutex
	state             State
	currentTripID     string
	nextTripID        string
	waypoints         []models.TripWaypoint
	intermediateIndex int
	polling           bool
	pollGeneration    int
	pollStop          chan struct{}
	pollCtx           context.Context
	fetchInFlight     bool
	tripEpoch         int
}

// NewSession returns an idle Session for the given vehicle.
func NewSession(api VehicleAPI, vehicleID string, backToBackEnabled bool, logger *slog.Logger) *Session {
	return &Session{
		api:          api,
		logger:       logger,
		vehicleID:    vehicleID,
		backToBack:   backToBackEnabled,
		pollInterval: 2 * time.Second,
		idleDelay:    5 * time.Second,
		afterFunc:    time.AfterFunc,
		tick: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// SetPollInterval overrides the match poll cadence. Call before
// GoOnline.
func (d *Session) SetPollInterval(interval time.Duration) {
	d.mu.Lock()
	d.pollInterval = interval
	d.mu.Unlock()
}

// State returns the current flow state.
func (d *Session) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CurrentTripID returns the active trip ID, empty when idle.
func (d *Session) CurrentTripID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentTripID
}

// NextTripID returns the queued back-to-back trip ID, if any.
func (d *Session) NextTripID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextTripID
}

// NextWaypoint returns the head of the waypoint queue.
func (d *Session) NextWaypoint() (models.TripWaypoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.waypoints) == 0 {
		return models.TripWaypoint{}, false
	}
	return d.waypoints[0], true
}

// Polling reports whether the match poller is running.
func (d *Session) Polling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polling
}

// GoOnline starts polling the provider for matched trips. It is a
// no-op when the poller is already running.
func (d *Session) GoOnline(ctx context.Context) {
	d.mu.Lock()
	d.pollCtx = ctx
	d.startPollingLocked()
	d.mu.Unlock()
}

// Stop shuts the poller down. In-flight fetches finish but their
// results are discarded.
func (d *Session) Stop() {
	d.mu.Lock()
	d.stopPollingLocked()
	d.mu.Unlock()
}

func (d *Session) startPollingLocked() {
	if d.polling {
		return
	}
	d.polling = true
	d.pollGeneration++
	stop := make(chan struct{})
	d.pollStop = stop
	ctx := d.pollCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go d.pollLoop(ctx, d.pollGeneration, stop)
}

func (d *Session) stopPollingLocked() {
	if !d.polling {
		return
	}
	d.polling = false
	d.pollGeneration++
	close(d.pollStop)
	d.pollStop = nil
}

func (d *Session) pollLoop(ctx context.Context, generation int, stop chan struct{}) {
	ticks, stopTicks := d.tick(d.pollInterval)
	defer stopTicks()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticks:
			d.pollOnce(ctx, generation)
		}
	}
}

// pollOnce fetches the vehicle's matched trip IDs. At most one fetch
// is in flight at a time; ticks during a fetch are dropped. A fetch
// that completes after its poller generation advanced is discarded.
func (d *Session) pollOnce(ctx context.Context, generation int) {
	d.mu.Lock()
	if d.fetchInFlight || generation != d.pollGeneration {
		d.mu.Unlock()
		return
	}
	d.fetchInFlight = true
	d.mu.Unlock()

	tripIDs, err := d.api.GetVehicle(ctx, d.vehicleID)

	d.mu.Lock()
	d.fetchInFlight = false
	if generation != d.pollGeneration {
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.mu.Unlock()
		d.logger.Debug("vehicle poll failed", "vehicle_id", d.vehicleID, "error", err)
		return
	}
	if len(tripIDs) == 0 {
		d.mu.Unlock()
		return
	}

	if d.currentTripID == "" {
		d.acceptMatchLocked(ctx, tripIDs)
		return
	}
	d.acceptNextTripLocked(tripIDs)
}

// acceptMatchLocked handles the first non-empty poll result: the
// poller stops, trip detail is loaded and the session enters the new
// state. Releases the lock.
func (d *Session) acceptMatchLocked(ctx context.Context, tripIDs []string) {
	d.stopPollingLocked()
	d.currentTripID = tripIDs[0]
	if len(tripIDs) > 1 {
		d.nextTripID = tripIDs[1]
	}
	tripID := d.currentTripID

	_, waypoints, err := d.api.GetTrip(ctx, tripID)
	if err != nil {
		// Match without detail is unusable. Drop it and let the poller
		// pick the trip up again on a later tick.
		d.currentTripID = ""
		d.nextTripID = ""
		d.startPollingLocked()
		d.mu.Unlock()
		d.logger.Warn("trip detail fetch failed, resuming poll", "trip_id", tripID, "error", err)
		return
	}
	d.waypoints = waypoints
	d.intermediateIndex = 0
	d.state = StateNew
	ev := d.eventLocked()
	d.mu.Unlock()
	d.emit(ev)
}

// acceptNextTripLocked records a back-to-back match while a trip is
// still active. Releases the lock.
func (d *Session) acceptNextTripLocked(tripIDs []string) {
	if d.nextTripID == "" {
		for _, id := range tripIDs {
			if id != d.currentTripID {
				d.nextTripID = id
				break
			}
		}
	}
	if d.nextTripID == "" {
		d.mu.Unlock()
		return
	}
	d.stopPollingLocked()
	ev := d.eventLocked()
	d.mu.Unlock()
	d.emit(ev)
}

// TapControlButton advances the flow: when not en route it starts
// navigation toward the next waypoint, when en route it reports
// arrival at (or completion of) that waypoint. A failed trip update
// leaves the session state unchanged.
func (d *Session) TapControlButton(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateNew, StateArrivedAtPickup, StateArrivedAtIntermediateDestination:
		return d.startLegLocked(ctx)
	case StateEnrouteToPickup, StateEnrouteToIntermediateDestination, StateEnrouteToDropoff:
		return d.completeLegLocked(ctx)
	default:
		defer d.mu.Unlock()
		return &TransitionError{From: d.state, Action: "advance trip"}
	}
}

// startLegLocked moves to the en-route state matching the head
// waypoint. Releases the lock.
func (d *Session) startLegLocked(ctx context.Context) error {
	if len(d.waypoints) == 0 {
		defer d.mu.Unlock()
		return &TransitionError{From: d.state, Action: "start navigation without waypoints"}
	}

	var (
		status models.TripStatus
		next   State
		index  *int
	)
	switch d.waypoints[0].Type {
	case models.WaypointTypePickup:
		status, next = models.TripStatusEnrouteToPickup, StateEnrouteToPickup
	case models.WaypointTypeIntermediateDestination:
		status, next = models.TripStatusEnrouteToIntermediateDestination, StateEnrouteToIntermediateDestination
		i := d.intermediateIndex
		index = &i
	case models.WaypointTypeDropoff:
		status, next = models.TripStatusEnrouteToDropoff, StateEnrouteToDropoff
	default:
		defer d.mu.Unlock()
		return fmt.Errorf("driver: waypoint of unknown type on trip %s", d.currentTripID)
	}

	if err := d.api.UpdateTrip(ctx, d.currentTripID, status, index); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("driver: update trip %s to %s: %w", d.currentTripID, status, err)
	}

	d.state = next
	if next == StateEnrouteToDropoff && d.backToBack && d.nextTripID == "" {
		d.startPollingLocked()
	}
	ev := d.eventLocked()
	d.mu.Unlock()
	d.emit(ev)
	return nil
}

// completeLegLocked pops the head waypoint and reports arrival or
// completion. Releases the lock.
func (d *Session) completeLegLocked(ctx context.Context) error {
	var (
		status models.TripStatus
		index  *int
	)
	switch d.state {
	case StateEnrouteToPickup:
		status = models.TripStatusArrivedAtPickup
	case StateEnrouteToIntermediateDestination:
		status = models.TripStatusArrivedAtIntermediateDestination
		i := d.intermediateIndex
		index = &i
	case StateEnrouteToDropoff:
		status = models.TripStatusComplete
	}

	tripID := d.currentTripID
	if err := d.api.UpdateTrip(ctx, tripID, status, index); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("driver: update trip %s to %s: %w", tripID, status, err)
	}

	if len(d.waypoints) > 0 {
		d.waypoints = d.waypoints[1:]
	}

	switch status {
	case models.TripStatusArrivedAtPickup:
		d.state = StateArrivedAtPickup
	case models.TripStatusArrivedAtIntermediateDestination:
		d.intermediateIndex++
		d.state = StateArrivedAtIntermediateDestination
	case models.TripStatusComplete:
		return d.finishTripLocked(ctx)
	}
	ev := d.eventLocked()
	d.mu.Unlock()
	d.emit(ev)
	return nil
}

// finishTripLocked runs after the dropoff leg completes: a queued
// back-to-back trip is promoted immediately, otherwise the session
// rests in tripComplete before going idle. Releases the lock.
func (d *Session) finishTripLocked(ctx context.Context) error {
	d.tripEpoch++
	if d.nextTripID != "" {
		promoted := d.nextTripID
		d.currentTripID = promoted
		d.nextTripID = ""

		_, waypoints, err := d.api.GetTrip(ctx, promoted)
		if err != nil {
			// The promoted trip is unusable without detail. Drop it and
			// rest before going back to matching.
			d.currentTripID = ""
			d.restLocked()
			d.logger.Warn("promoted trip detail fetch failed", "trip_id", promoted, "error", err)
			return nil
		}
		d.waypoints = waypoints
		d.intermediateIndex = 0
		d.state = StateNew
		ev := d.eventLocked()
		d.mu.Unlock()
		d.emit(ev)
		return nil
	}
	d.restLocked()
	return nil
}

// restLocked enters tripComplete and schedules the return to idle.
// Releases the lock.
func (d *Session) restLocked() {
	d.state = StateTripComplete
	epoch := d.tripEpoch
	ev := d.eventLocked()
	d.mu.Unlock()
	d.emit(ev)
	d.afterFunc(d.idleDelay, func() { d.goIdle(epoch) })
}

// goIdle clears the finished trip and resumes polling. A timer that
// outlived its trip is a no-op.
func (d *Session) goIdle(epoch int) {
	d.mu.Lock()
	if d.tripEpoch != epoch || d.state != StateTripComplete {
		d.mu.Unlock()
		return
	}
	d.currentTripID = ""
	d.waypoints = nil
	d.intermediateIndex = 0
	d.state = StateIdle
	d.startPollingLocked()
	ev := d.eventLocked()
	d.mu.Unlock()
	d.emit(ev)
}

func (d *Session) eventLocked() Event {
	return Event{State: d.state, CurrentTripID: d.currentTripID, NextTripID: d.nextTripID}
}

func (d *Session) emit(ev Event) {
	if d.OnEvent != nil {
		d.OnEvent(ev)
	}
}
