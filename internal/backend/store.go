// Package backend is the reference trip provider: the REST surface the
// rider and driver apps talk to, plus matching, status push, trip
// events and payment holds.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/example/ridehail-demo/internal/models"
)

// ErrNotFound is returned for unknown trip or vehicle IDs.
var ErrNotFound = errors.New("backend: not found")

// TripRecord is a trip as the provider stores it.
type TripRecord struct {
	ID                           string
	Status                       models.TripStatus
	VehicleID                    string
	Waypoints                    []models.TripWaypoint
	IntermediateDestinationIndex int
	PaymentIntentID              string
	CreatedAt                    time.Time
	UpdatedAt                    time.Time
}

// VehicleRecord is a registered vehicle. TripIDs holds matched trips
// in current-then-next order.
type VehicleRecord struct {
	ID                string
	BackToBackEnabled bool
	Online            bool
	TripIDs           []string
	CreatedAt         time.Time
}

// Capacity returns how many trips the vehicle may carry at once.
func (v *VehicleRecord) Capacity() int {
	if v.BackToBackEnabled {
		return 2
	}
	return 1
}

// Store persists trips and vehicles.
type Store interface {
	CreateTrip(ctx context.Context, t *TripRecord) error
	GetTrip(ctx context.Context, id string) (*TripRecord, error)
	UpdateTrip(ctx context.Context, t *TripRecord) error
	TripsByStatus(ctx context.Context, status models.TripStatus) ([]*TripRecord, error)

	CreateVehicle(ctx context.Context, v *VehicleRecord) error
	GetVehicle(ctx context.Context, id string) (*VehicleRecord, error)
	UpdateVehicle(ctx context.Context, v *VehicleRecord) error
	OnlineVehicles(ctx context.Context) ([]*VehicleRecord, error)
}
