package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ridehail-demo/internal/models"
	"github.com/example/ridehail-demo/internal/observability"
)

// Matcher assigns NEW trips to online vehicles with free capacity.
// A vehicle carries one trip, or two when back-to-back is enabled;
// the second assignment queues behind the first.
type Matcher struct {
	Store  Store
	Logger *slog.Logger
}

// AssignTrip tries to place one trip on a vehicle. It returns the
// chosen vehicle ID, or "" when every online vehicle is full.
func (m *Matcher) AssignTrip(ctx context.Context, trip *TripRecord) (string, error) {
	if trip.VehicleID != "" {
		return trip.VehicleID, nil
	}
	vehicles, err := m.Store.OnlineVehicles(ctx)
	if err != nil {
		return "", fmt.Errorf("backend: list online vehicles: %w", err)
	}

	for _, v := range vehicles {
		if len(v.TripIDs) >= v.Capacity() {
			continue
		}
		v.TripIDs = append(v.TripIDs, trip.ID)
		if err := m.Store.UpdateVehicle(ctx, v); err != nil {
			return "", fmt.Errorf("backend: assign trip %s to vehicle %s: %w", trip.ID, v.ID, err)
		}
		trip.VehicleID = v.ID
		trip.UpdatedAt = time.Now()
		if err := m.Store.UpdateTrip(ctx, trip); err != nil {
			return "", fmt.Errorf("backend: record match for trip %s: %w", trip.ID, err)
		}
		observability.TripsMatchedTotal.Inc()
		m.Logger.Info("trip matched", "trip_id", trip.ID, "vehicle_id", v.ID, "queued", len(v.TripIDs) > 1)
		return v.ID, nil
	}
	return "", nil
}

// Sweep assigns every unmatched NEW trip it can. Trips that fail to
// match stay NEW for the next sweep.
func (m *Matcher) Sweep(ctx context.Context) error {
	trips, err := m.Store.TripsByStatus(ctx, models.TripStatusNew)
	if err != nil {
		return fmt.Errorf("backend: list new trips: %w", err)
	}
	for _, trip := range trips {
		if trip.VehicleID != "" {
			continue
		}
		if _, err := m.AssignTrip(ctx, trip); err != nil {
			m.Logger.Warn("sweep assignment failed", "trip_id", trip.ID, "error", err)
		}
	}
	return nil
}

// Run sweeps on a fixed interval until the context is canceled.
func (m *Matcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.Logger.Warn("match sweep failed", "error", err)
			}
		}
	}
}

// ReleaseTrip removes a finished trip from its vehicle's queue.
func (m *Matcher) ReleaseTrip(ctx context.Context, trip *TripRecord) error {
	if trip.VehicleID == "" {
		return nil
	}
	v, err := m.Store.GetVehicle(ctx, trip.VehicleID)
	if err != nil {
		return fmt.Errorf("backend: load vehicle %s: %w", trip.VehicleID, err)
	}
	kept := v.TripIDs[:0]
	for _, id := range v.TripIDs {
		if id != trip.ID {
			kept = append(kept, id)
		}
	}
	v.TripIDs = kept
	if err := m.Store.UpdateVehicle(ctx, v); err != nil {
		return fmt.Errorf("backend: release trip %s from vehicle %s: %w", trip.ID, v.ID, err)
	}
	return nil
}
