package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTrip(id string) *TripRecord {
	now := time.Now()
	return &TripRecord{ID: id, Status: models.TripStatusNew, CreatedAt: now, UpdatedAt: now}
}

func TestAssignTripRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := &Matcher{Store: store, Logger: testLogger()}

	if err := store.CreateVehicle(ctx, &VehicleRecord{ID: "veh-1", Online: true}); err != nil {
		t.Fatal(err)
	}

	first := newTrip("trip-1")
	if err := store.CreateTrip(ctx, first); err != nil {
		t.Fatal(err)
	}
	vehicleID, err := m.AssignTrip(ctx, first)
	if err != nil {
		t.Fatalf("AssignTrip: %v", err)
	}
	if vehicleID != "veh-1" {
		t.Fatalf("assigned vehicle = %q, want veh-1", vehicleID)
	}

	second := newTrip("trip-2")
	if err := store.CreateTrip(ctx, second); err != nil {
		t.Fatal(err)
	}
	vehicleID, err = m.AssignTrip(ctx, second)
	if err != nil {
		t.Fatalf("AssignTrip: %v", err)
	}
	if vehicleID != "" {
		t.Errorf("second trip assigned to full vehicle %q", vehicleID)
	}
}

func TestBackToBackVehicleTakesTwoTrips(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := &Matcher{Store: store, Logger: testLogger()}

	if err := store.CreateVehicle(ctx, &VehicleRecord{ID: "veh-1", Online: true, BackToBackEnabled: true}); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"trip-1", "trip-2", "trip-3"} {
		trip := newTrip(id)
		if err := store.CreateTrip(ctx, trip); err != nil {
			t.Fatal(err)
		}
		if _, err := m.AssignTrip(ctx, trip); err != nil {
			t.Fatal(err)
		}
	}

	v, err := store.GetVehicle(ctx, "veh-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.TripIDs) != 2 {
		t.Fatalf("vehicle trips = %v, want 2 queued", v.TripIDs)
	}
	if v.TripIDs[0] != "trip-1" || v.TripIDs[1] != "trip-2" {
		t.Errorf("queue order = %v, want current-then-next", v.TripIDs)
	}
}

func TestSweepAssignsWaitingTrips(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := &Matcher{Store: store, Logger: testLogger()}

	trip := newTrip("trip-1")
	if err := store.CreateTrip(ctx, trip); err != nil {
		t.Fatal(err)
	}
	if err := m.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetTrip(ctx, "trip-1")
	if got.VehicleID != "" {
		t.Fatalf("trip assigned with no vehicles online: %q", got.VehicleID)
	}

	if err := store.CreateVehicle(ctx, &VehicleRecord{ID: "veh-1", Online: true}); err != nil {
		t.Fatal(err)
	}
	if err := m.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetTrip(ctx, "trip-1")
	if got.VehicleID != "veh-1" {
		t.Errorf("trip vehicle = %q after sweep, want veh-1", got.VehicleID)
	}
}

func TestReleaseTripFreesCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := &Matcher{Store: store, Logger: testLogger()}

	if err := store.CreateVehicle(ctx, &VehicleRecord{ID: "veh-1", Online: true}); err != nil {
		t.Fatal(err)
	}
	trip := newTrip("trip-1")
	if err := store.CreateTrip(ctx, trip); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AssignTrip(ctx, trip); err != nil {
		t.Fatal(err)
	}

	if err := m.ReleaseTrip(ctx, trip); err != nil {
		t.Fatalf("ReleaseTrip: %v", err)
	}
	v, _ := store.GetVehicle(ctx, "veh-1")
	if len(v.TripIDs) != 0 {
		t.Errorf("vehicle trips = %v after release, want none", v.TripIDs)
	}

	next := newTrip("trip-2")
	if err := store.CreateTrip(ctx, next); err != nil {
		t.Fatal(err)
	}
	if vehicleID, _ := m.AssignTrip(ctx, next); vehicleID != "veh-1" {
		t.Errorf("released vehicle not reused: %q", vehicleID)
	}
}
