package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRide(r *models.Ride) error {
	fare, err := json.Marshal(r.Fare)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`INSERT INTO rides(
		id, passenger_id, driver_id, vehicle_class,
		pickup_lat, pickup_lon, dest_lat, dest_lon,
		distance_km, duration_min, fare, status,
		payment_method, cancel_reason, created_at, updated_at
	) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.PassengerID, r.DriverID, r.VehicleClass,
		r.Pickup.Lat, r.Pickup.Lon, r.Destination.Lat, r.Destination.Lon,
		r.DistanceKm, r.DurationMin, fare, r.Status,
		r.PaymentMethod, r.CancelReason, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(r *models.Ride) error {
	fare, err := json.Marshal(r.Fare)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`UPDATE rides SET
		driver_id=$1, status=$2, fare=$3, cancel_reason=$4, updated_at=$5
		WHERE id=$6`,
		r.DriverID, r.Status, fare, r.CancelReason, time.Now(), r.ID)
	return err
}

func (p *PostgresStore) GetRide(id string) (models.Ride, error) {
	row := p.db.QueryRow(`SELECT
		id, passenger_id, driver_id, vehicle_class,
		pickup_lat, pickup_lon, dest_lat, dest_lon,
		distance_km, duration_min, fare, status,
		payment_method, cancel_reason, created_at, updated_at
	FROM rides WHERE id=$1`, id)
	return scanRide(row)
}

func (p *PostgresStore) History(partyID string, limit int) ([]models.Ride, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(`SELECT
		id, passenger_id, driver_id, vehicle_class,
		pickup_lat, pickup_lon, dest_lat, dest_lon,
		distance_km, duration_min, fare, status,
		payment_method, cancel_reason, created_at, updated_at
	FROM rides WHERE passenger_id=$1 OR driver_id=$1
	ORDER BY created_at DESC LIMIT $2`, partyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var r models.Ride
	var fare []byte
	err := s.Scan(
		&r.ID, &r.PassengerID, &r.DriverID, &r.VehicleClass,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.DistanceKm, &r.DurationMin, &fare, &r.Status,
		&r.PaymentMethod, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrRideNotFound
	}
	if err != nil {
		return models.Ride{}, err
	}
	if len(fare) > 0 {
		if err := json.Unmarshal(fare, &r.Fare); err != nil {
			return models.Ride{}, err
		}
	}
	return r, nil
}

// RecordCompletion writes the driver credit and both ride counters in one
// transaction so they can never be applied partially.
func (p *PostgresStore) RecordCompletion(rideID, driverID, passengerID string, earnings int64) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO driver_stats(driver_id, rides, earnings)
		VALUES($1, 1, $2)
		ON CONFLICT (driver_id) DO UPDATE SET
		rides = driver_stats.rides + 1,
		earnings = driver_stats.earnings + EXCLUDED.earnings`,
		driverID, earnings); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO rider_stats(passenger_id, rides)
		VALUES($1, 1)
		ON CONFLICT (passenger_id) DO UPDATE SET
		rides = rider_stats.rides + 1`,
		passengerID); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) DriverStats(driverID string) (PartyStats, error) {
	var s PartyStats
	err := p.db.QueryRow(`SELECT rides, earnings FROM driver_stats WHERE driver_id=$1`, driverID).
		Scan(&s.Rides, &s.Earnings)
	if errors.Is(err, sql.ErrNoRows) {
		return PartyStats{}, nil
	}
	return s, err
}

func (p *PostgresStore) RiderStats(passengerID string) (PartyStats, error) {
	var s PartyStats
	err := p.db.QueryRow(`SELECT rides FROM rider_stats WHERE passenger_id=$1`, passengerID).
		Scan(&s.Rides)
	if errors.Is(err, sql.ErrNoRows) {
		return PartyStats{}, nil
	}
	return s, err
}
