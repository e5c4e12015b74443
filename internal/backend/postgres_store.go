package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ridehail-demo/internal/models"
)

// PostgresStore persists trips and vehicles in Postgres. Waypoint
// queues are stored as a JSON column; trips are small and read whole.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("backend: ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateTrip(ctx context.Context, t *TripRecord) error {
	waypoints, err := json.Marshal(t.Waypoints)
	if err != nil {
		return fmt.Errorf("backend: marshal waypoints: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO trips(id, status, vehicle_id, waypoints, intermediate_index, payment_intent_id, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, string(t.Status), t.VehicleID, waypoints, t.IntermediateDestinationIndex, t.PaymentIntentID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*TripRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, status, vehicle_id, waypoints, intermediate_index, payment_intent_id, created_at, updated_at
		 FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

func (p *PostgresStore) UpdateTrip(ctx context.Context, t *TripRecord) error {
	waypoints, err := json.Marshal(t.Waypoints)
	if err != nil {
		return fmt.Errorf("backend: marshal waypoints: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE trips SET status=$1, vehicle_id=$2, waypoints=$3, intermediate_index=$4, payment_intent_id=$5, updated_at=$6
		 WHERE id=$7`,
		string(t.Status), t.VehicleID, waypoints, t.IntermediateDestinationIndex, t.PaymentIntentID, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) TripsByStatus(ctx context.Context, status models.TripStatus) ([]*TripRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, status, vehicle_id, waypoints, intermediate_index, payment_intent_id, created_at, updated_at
		 FROM trips WHERE status=$1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TripRecord
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateVehicle(ctx context.Context, v *VehicleRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO vehicles(id, back_to_back, online, trip_ids, created_at)
		 VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET back_to_back=$2, online=$3`,
		v.ID, v.BackToBackEnabled, v.Online, pq.Array(v.TripIDs), v.CreatedAt)
	return err
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id string) (*VehicleRecord, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, back_to_back, online, trip_ids, created_at FROM vehicles WHERE id=$1`, id)
	return scanVehicle(row)
}

func (p *PostgresStore) UpdateVehicle(ctx context.Context, v *VehicleRecord) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE vehicles SET back_to_back=$1, online=$2, trip_ids=$3 WHERE id=$4`,
		v.BackToBackEnabled, v.Online, pq.Array(v.TripIDs), v.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) OnlineVehicles(ctx context.Context) ([]*VehicleRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, back_to_back, online, trip_ids, created_at FROM vehicles WHERE online ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VehicleRecord
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*TripRecord, error) {
	var (
		t         TripRecord
		status    string
		waypoints []byte
	)
	err := row.Scan(&t.ID, &status, &t.VehicleID, &waypoints, &t.IntermediateDestinationIndex,
		&t.PaymentIntentID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TripStatus(status)
	if len(waypoints) > 0 {
		if err := json.Unmarshal(waypoints, &t.Waypoints); err != nil {
			return nil, fmt.Errorf("backend: unmarshal waypoints for trip %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func scanVehicle(row rowScanner) (*VehicleRecord, error) {
	var (
		v       VehicleRecord
		tripIDs pq.StringArray
	)
	err := row.Scan(&v.ID, &v.BackToBackEnabled, &v.Online, &tripIDs, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.TripIDs = []string(tripIDs)
	return &v, nil
}
