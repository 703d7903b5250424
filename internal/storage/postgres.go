package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/dispatch-core/internal/models"
)

// PostgresOrderStore keeps order snapshots in Postgres. The CAS operations
// lean on `WHERE status = $expected` so the row update itself is the
// synchronization point, same shape as the in-memory store.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(dsn string) (*PostgresOrderStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresOrderStore{db: db}, nil
}

func (p *PostgresOrderStore) Create(ctx context.Context, o *models.Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders(id, vertical, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
			vehicle_type, is_premium, status, requested_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		o.ID, string(o.Vertical), o.Pickup.Lat, o.Pickup.Lon, o.Dropoff.Lat, o.Dropoff.Lon,
		string(o.VehicleType), o.IsPremium, string(o.Status), o.RequestedAt, o.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (p *PostgresOrderStore) Get(ctx context.Context, id string) (models.Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, vertical, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
			vehicle_type, is_premium, status, driver_id, pricing, requested_at, updated_at
		FROM orders WHERE id = $1`, id)

	var o models.Order
	var driverID sql.NullString
	var pricingJSON []byte
	err := row.Scan(&o.ID, &o.Vertical, &o.Pickup.Lat, &o.Pickup.Lon, &o.Dropoff.Lat, &o.Dropoff.Lon,
		&o.VehicleType, &o.IsPremium, &o.Status, &driverID, &pricingJSON, &o.RequestedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	if driverID.Valid {
		o.DriverID = driverID.String
	}
	if len(pricingJSON) > 0 {
		var q models.Quote
		if err := json.Unmarshal(pricingJSON, &q); err == nil {
			o.Pricing = &q
		}
	}
	return o, nil
}

func (p *PostgresOrderStore) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, nil
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresOrderStore) AssignDriver(ctx context.Context, id, driverID string, quote *models.Quote) (bool, error) {
	pricingJSON, err := json.Marshal(quote)
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, driver_id = $2, pricing = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(models.OrderMatched), driverID, pricingJSON, time.Now(), id, string(models.OrderMatching))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresOrderStore) Cancel(ctx context.Context, id string) (models.Order, bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ('PENDING','MATCHING','MATCHED')`,
		string(models.OrderCancelled), time.Now(), id)
	if err != nil {
		return models.Order{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Order{}, false, err
	}
	o, err := p.Get(ctx, id)
	if err != nil {
		return models.Order{}, false, err
	}
	return o, n == 1, nil
}
