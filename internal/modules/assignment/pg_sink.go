// README: Persistence sink writing assignment attempts and rejected riders to PostgreSQL.
package assignment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGSink struct {
	db *pgxpool.Pool
}

func NewPGSink(db *pgxpool.Pool) *PGSink {
	return &PGSink{db: db}
}

func (s *PGSink) Name() string { return "postgres" }

func (s *PGSink) Record(ctx context.Context, rec Record) error {
	out := rec.Outcome
	var (
		outcome                               = "unassignable"
		reason, riderID                       *string
		ready, travel, pickupETA, deliveryETA *int64
		candidates                            int
	)
	if a := out.Assigned; a != nil {
		outcome = "assigned"
		r := string(a.RiderID)
		riderID = &r
		ready, travel = secs(a.Ready.Seconds()), secs(a.Travel.Seconds())
		pickupETA, deliveryETA = secs(a.PickupETA.Seconds()), secs(a.DeliveryETA.Seconds())
		candidates = a.Candidates
	} else {
		r := string(out.Reason)
		reason = &r
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO assignments (
			id, order_id, outcome, reason, rider_id,
			ready_seconds, travel_seconds, pickup_eta_seconds, delivery_eta_seconds,
			candidate_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, string(rec.Order.ID), outcome, reason, riderID,
		ready, travel, pickupETA, deliveryETA,
		candidates, rec.At,
	)
	for _, d := range out.Drops {
		batch.Queue(`
			INSERT INTO rider_rejections (assignment_id, order_id, rider_id, reason, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, string(rec.Order.ID), string(d.RiderID), string(d.Reason), d.Detail, rec.At,
		)
	}
	return s.db.SendBatch(ctx, batch).Close()
}

func secs(v float64) *int64 {
	n := int64(v)
	return &n
}
