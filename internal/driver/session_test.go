package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

type tripUpdate struct {
	tripID string
	status models.TripStatus
	index  *int
}

type fakeAPI struct {
	mu         sync.Mutex
	matches    [][]string
	matchCalls int
	trips      map[string][]models.TripWaypoint
	tripErr    error
	updateErr  error
	updates    []tripUpdate
}

func (f *fakeAPI) GetVehicle(ctx context.Context, vehicleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.matchCalls
	f.matchCalls++
	if call < len(f.matches) {
		return f.matches[call], nil
	}
	return nil, nil
}

func (f *fakeAPI) GetTrip(ctx context.Context, tripID string) (models.TripStatus, []models.TripWaypoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tripErr != nil {
		return models.TripStatusUnknown, nil, f.tripErr
	}
	return models.TripStatusNew, f.trips[tripID], nil
}

func (f *fakeAPI) UpdateTrip(ctx context.Context, tripID string, status models.TripStatus, intermediateDestinationIndex *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, tripUpdate{tripID: tripID, status: status, index: intermediateDestinationIndex})
	return nil
}

func (f *fakeAPI) recordedUpdates() []tripUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tripUpdate(nil), f.updates...)
}

func tripWaypoints(tripID string, types ...models.WaypointType) []models.TripWaypoint {
	wps := make([]models.TripWaypoint, len(types))
	for i, typ := range types {
		wps[i] = models.TripWaypoint{TripID: tripID, Type: typ}
	}
	return wps
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession returns a session with captured idle timers and a
// tick source that never fires, so tests drive polls explicitly.
func newTestSession(t *testing.T, api *fakeAPI, backToBack bool) (*Session, *[]func()) {
	t.Helper()
	d := NewSession(api, "vehicle-1", backToBack, testLogger())
	var timers []func()
	d.afterFunc = func(dur time.Duration, fn func()) *time.Timer {
		timers = append(timers, fn)
		return nil
	}
	d.tick = func(time.Duration) (<-chan time.Time, func()) {
		return make(chan time.Time), func() {}
	}
	t.Cleanup(d.Stop)
	return d, &timers
}

func poll(d *Session) {
	d.mu.Lock()
	generation := d.pollGeneration
	d.mu.Unlock()
	d.pollOnce(context.Background(), generation)
}

func TestEmptyPollsLeaveSessionIdle(t *testing.T) {
	api := &fakeAPI{matches: [][]string{nil, nil, nil}}
	d, _ := newTestSession(t, api, false)
	d.GoOnline(context.Background())

	for i := 0; i < 3; i++ {
		poll(d)
	}
	if d.State() != StateIdle {
		t.Errorf("state = %s, want idle", d.State())
	}
	if !d.Polling() {
		t.Error("poller stopped without a match")
	}
}

func TestFirstMatchEntersNew(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{nil, {"trip-1"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup, models.WaypointTypeDropoff),
		},
	}
	d, _ := newTestSession(t, api, false)
	d.GoOnline(context.Background())

	poll(d)
	if d.State() != StateIdle {
		t.Fatalf("state = %s after empty poll, want idle", d.State())
	}
	poll(d)
	if d.State() != StateNew {
		t.Fatalf("state = %s, want new", d.State())
	}
	if d.CurrentTripID() != "trip-1" {
		t.Errorf("current trip = %q", d.CurrentTripID())
	}
	if d.Polling() {
		t.Error("poller still running after match")
	}
	wp, ok := d.NextWaypoint()
	if !ok || wp.Type != models.WaypointTypePickup {
		t.Errorf("head waypoint = %+v, want pickup", wp)
	}
}

func TestMatchWithTwoTripsRecordsNext(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1", "trip-2"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup, models.WaypointTypeDropoff),
		},
	}
	d, _ := newTestSession(t, api, true)
	d.GoOnline(context.Background())

	poll(d)
	if d.CurrentTripID() != "trip-1" || d.NextTripID() != "trip-2" {
		t.Errorf("current = %q next = %q", d.CurrentTripID(), d.NextTripID())
	}
	if d.Polling() {
		t.Error("poller still running with current and next known")
	}
}

func TestStaleFetchCompletionDiscarded(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup),
		},
	}
	d, _ := newTestSession(t, api, false)
	d.GoOnline(context.Background())

	d.mu.Lock()
	staleGeneration := d.pollGeneration - 1
	d.mu.Unlock()
	d.pollOnce(context.Background(), staleGeneration)

	if d.State() != StateIdle || d.CurrentTripID() != "" {
		t.Errorf("stale completion mutated state: %s %q", d.State(), d.CurrentTripID())
	}
}

func TestTickDroppedWhileFetchInFlight(t *testing.T) {
	api := &fakeAPI{}
	d, _ := newTestSession(t, api, false)
	d.GoOnline(context.Background())

	d.mu.Lock()
	d.fetchInFlight = true
	d.mu.Unlock()
	poll(d)

	api.mu.Lock()
	calls := api.matchCalls
	api.mu.Unlock()
	if calls != 0 {
		t.Errorf("GetVehicle calls = %d during in-flight fetch, want 0", calls)
	}
}

func TestWaypointProgressionThroughSingleTrip(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup, models.WaypointTypeDropoff),
		},
	}
	d, timers := newTestSession(t, api, false)
	ctx := context.Background()
	d.GoOnline(ctx)
	poll(d)

	steps := []struct {
		state  State
		status models.TripStatus
	}{
		{StateEnrouteToPickup, models.TripStatusEnrouteToPickup},
		{StateArrivedAtPickup, models.TripStatusArrivedAtPickup},
		{StateEnrouteToDropoff, models.TripStatusEnrouteToDropoff},
		{StateTripComplete, models.TripStatusComplete},
	}
	for i, step := range steps {
		if err := d.TapControlButton(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if d.State() != step.state {
			t.Fatalf("step %d: state = %s, want %s", i, d.State(), step.state)
		}
	}

	updates := api.recordedUpdates()
	if len(updates) != len(steps) {
		t.Fatalf("updates = %d, want %d", len(updates), len(steps))
	}
	for i, step := range steps {
		if updates[i].status != step.status {
			t.Errorf("update %d status = %s, want %s", i, updates[i].status, step.status)
		}
		if updates[i].index != nil {
			t.Errorf("update %d carried an intermediate index", i)
		}
	}

	if len(*timers) != 1 {
		t.Fatalf("idle timers = %d, want 1", len(*timers))
	}
	(*timers)[0]()
	if d.State() != StateIdle {
		t.Errorf("state = %s after idle delay, want idle", d.State())
	}
	if d.CurrentTripID() != "" {
		t.Errorf("trip not cleared: %q", d.CurrentTripID())
	}
	if !d.Polling() {
		t.Error("polling not resumed after going idle")
	}
}

func TestIntermediateDestinationIndexProgression(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1",
				models.WaypointTypePickup,
				models.WaypointTypeIntermediateDestination,
				models.WaypointTypeIntermediateDestination,
				models.WaypointTypeDropoff),
		},
	}
	d, _ := newTestSession(t, api, false)
	ctx := context.Background()
	d.GoOnline(ctx)
	poll(d)

	for i := 0; i < 8; i++ {
		if err := d.TapControlButton(ctx); err != nil {
			t.Fatalf("tap %d: %v", i, err)
		}
	}
	if d.State() != StateTripComplete {
		t.Fatalf("state = %s, want tripComplete", d.State())
	}

	wantIndexes := map[int]int{2: 0, 3: 0, 4: 1, 5: 1}
	for i, u := range api.recordedUpdates() {
		want, wantSet := wantIndexes[i]
		if !wantSet {
			if u.index != nil {
				t.Errorf("update %d (%s) carried index %d", i, u.status, *u.index)
			}
			continue
		}
		if u.index == nil {
			t.Errorf("update %d (%s) missing intermediate index", i, u.status)
			continue
		}
		if *u.index != want {
			t.Errorf("update %d index = %d, want %d", i, *u.index, want)
		}
	}
}

func TestUpdateFailureLeavesStateUnchanged(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup, models.WaypointTypeDropoff),
		},
	}
	d, _ := newTestSession(t, api, false)
	ctx := context.Background()
	d.GoOnline(ctx)
	poll(d)

	api.mu.Lock()
	api.updateErr = errors.New("backend down")
	api.mu.Unlock()

	if err := d.TapControlButton(ctx); err == nil {
		t.Fatal("tap succeeded despite update failure")
	}
	if d.State() != StateNew {
		t.Errorf("state = %s, want new", d.State())
	}
	wp, ok := d.NextWaypoint()
	if !ok || wp.Type != models.WaypointTypePickup {
		t.Errorf("head waypoint changed despite failed update: %+v", wp)
	}
}

func TestBackToBackPollingAndPromotion(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}, {"trip-1", "trip-2"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup, models.WaypointTypeDropoff),
			"trip-2": tripWaypoints("trip-2", models.WaypointTypePickup, models.WaypointTypeDropoff),
		},
	}
	d, timers := newTestSession(t, api, true)
	ctx := context.Background()
	d.GoOnline(ctx)
	poll(d)

	// Pickup leg, then heading to dropoff restarts matching.
	if err := d.TapControlButton(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.TapControlButton(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.TapControlButton(ctx); err != nil {
		t.Fatal(err)
	}
	if d.State() != StateEnrouteToDropoff {
		t.Fatalf("state = %s, want enrouteToDropoff", d.State())
	}
	if !d.Polling() {
		t.Fatal("back-to-back polling not started on the dropoff leg")
	}

	poll(d)
	if d.NextTripID() != "trip-2" {
		t.Fatalf("next trip = %q, want trip-2", d.NextTripID())
	}
	if d.Polling() {
		t.Error("poller still running with next trip known")
	}

	// Completing the dropoff promotes the queued trip immediately.
	if err := d.TapControlButton(ctx); err != nil {
		t.Fatal(err)
	}
	if d.State() != StateNew {
		t.Fatalf("state = %s after promotion, want new", d.State())
	}
	if d.CurrentTripID() != "trip-2" || d.NextTripID() != "" {
		t.Errorf("current = %q next = %q", d.CurrentTripID(), d.NextTripID())
	}
	if len(*timers) != 0 {
		t.Error("idle timer scheduled despite promotion")
	}
}

func TestTripDetailFailureResumesPolling(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}},
		tripErr: errors.New("not found"),
	}
	d, _ := newTestSession(t, api, false)
	d.GoOnline(context.Background())

	poll(d)
	if d.State() != StateIdle {
		t.Errorf("state = %s, want idle", d.State())
	}
	if d.CurrentTripID() != "" {
		t.Errorf("current trip not dropped: %q", d.CurrentTripID())
	}
	if !d.Polling() {
		t.Error("polling not resumed after detail failure")
	}
}

func TestStaleIdleTimerIsNoOp(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}, {"trip-2"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup, models.WaypointTypeDropoff),
			"trip-2": tripWaypoints("trip-2", models.WaypointTypePickup, models.WaypointTypeDropoff),
		},
	}
	d, timers := newTestSession(t, api, false)
	ctx := context.Background()
	d.GoOnline(ctx)
	poll(d)

	for i := 0; i < 4; i++ {
		if err := d.TapControlButton(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if len(*timers) != 1 {
		t.Fatalf("idle timers = %d, want 1", len(*timers))
	}
	(*timers)[0]()
	poll(d)
	if d.State() != StateNew || d.CurrentTripID() != "trip-2" {
		t.Fatalf("second trip not matched: %s %q", d.State(), d.CurrentTripID())
	}

	// The first trip's timer firing again must not reset the new trip.
	(*timers)[0]()
	if d.State() != StateNew || d.CurrentTripID() != "trip-2" {
		t.Errorf("stale idle timer reset the session: %s %q", d.State(), d.CurrentTripID())
	}
}

func TestTapWhileIdleReturnsTransitionError(t *testing.T) {
	d, _ := newTestSession(t, &fakeAPI{}, false)

	var transitionErr *TransitionError
	if err := d.TapControlButton(context.Background()); !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	if transitionErr.From != StateIdle {
		t.Errorf("From = %s, want idle", transitionErr.From)
	}
}

func TestPollLoopDeliversMatch(t *testing.T) {
	api := &fakeAPI{
		matches: [][]string{{"trip-1"}},
		trips: map[string][]models.TripWaypoint{
			"trip-1": tripWaypoints("trip-1", models.WaypointTypePickup),
		},
	}
	d := NewSession(api, "vehicle-1", false, testLogger())
	t.Cleanup(d.Stop)

	ticks := make(chan time.Time)
	d.tick = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }

	matched := make(chan struct{})
	d.OnEvent = func(ev Event) {
		if ev.State == StateNew {
			close(matched)
		}
	}

	d.GoOnline(context.Background())
	ticks <- time.Time{}

	select {
	case <-matched:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never delivered the match")
	}
	if d.CurrentTripID() != "trip-1" {
		t.Errorf("current trip = %q", d.CurrentTripID())
	}
}
