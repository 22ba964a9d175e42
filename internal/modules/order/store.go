// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

// Repository is the persistence contract used by the service; Store and MemoryStore implement it.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// UpdateStatus applies from->to only if the stored status and version still match.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error)
	ListPending(ctx context.Context, limit int) ([]*Order, error)
	AppendEvent(ctx context.Context, e *Event) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, customer_id, status, status_version,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	items, zone_id, rider_id,
	ready_seconds, travel_seconds, pickup_eta_seconds, delivery_eta_seconds,
	assigned_at, unassignable_reason, created_at, delivered_at`

func (s *Store) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, status, status_version,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			items, zone_id, unassignable_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(o.ID),
		string(o.CustomerID),
		string(o.Status),
		o.StatusVersion,
		o.Pickup.Lat, o.Pickup.Lng,
		o.Dropoff.Lat, o.Dropoff.Lng,
		items,
		o.ZoneID,
		o.UnassignableReason,
		o.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	var (
		riderID                              *string
		ready, travel, pickupETA, deliveryETA *int64
		assignedAt                           *time.Time
		reason                               *string
	)
	if d := upd.Dispatch; d != nil {
		r := string(d.RiderID)
		riderID = &r
		ready, travel = seconds(d.Ready), seconds(d.Travel)
		pickupETA, deliveryETA = seconds(d.PickupETA), seconds(d.DeliveryETA)
		at := d.AssignedAt
		assignedAt = &at
	}
	if upd.Reason != "" {
		reason = &upd.Reason
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			rider_id = COALESCE($2, rider_id),
			ready_seconds = COALESCE($3, ready_seconds),
			travel_seconds = COALESCE($4, travel_seconds),
			pickup_eta_seconds = COALESCE($5, pickup_eta_seconds),
			delivery_eta_seconds = COALESCE($6, delivery_eta_seconds),
			assigned_at = COALESCE($7, assigned_at),
			unassignable_reason = COALESCE($8, unassignable_reason),
			delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END
		WHERE id = $9 AND status = $10 AND status_version = $11`,
		string(to),
		riderID, ready, travel, pickupETA, deliveryETA, assignedAt, reason,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListPending returns pending orders oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                                     Order
		items                                 []byte
		riderID                               *string
		ready, travel, pickupETA, deliveryETA *int64
		assignedAt                            *time.Time
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.StatusVersion,
		&o.Pickup.Lat, &o.Pickup.Lng, &o.Dropoff.Lat, &o.Dropoff.Lng,
		&items, &o.ZoneID, &riderID,
		&ready, &travel, &pickupETA, &deliveryETA,
		&assignedAt, &o.UnassignableReason, &o.CreatedAt, &o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, err
		}
	}
	if riderID != nil && assignedAt != nil {
		o.Dispatch = &Dispatch{
			RiderID:     types.ID(*riderID),
			Ready:       duration(ready),
			Travel:      duration(travel),
			PickupETA:   duration(pickupETA),
			DeliveryETA: duration(deliveryETA),
			AssignedAt:  *assignedAt,
		}
	}
	return &o, nil
}

func seconds(d time.Duration) *int64 {
	v := int64(d / time.Second)
	return &v
}

func duration(v *int64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v) * time.Second
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
