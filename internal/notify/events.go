// README: Event sink publishing assignment results to a RabbitMQ topic exchange.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"dispatch/internal/modules/assignment"
	"dispatch/internal/types"
)

const (
	AssignmentsExchange = "assignments_topic"
	KeyAssigned         = "assignment.assigned"
	KeyUnassignable     = "assignment.unassignable"
)

// Publisher is satisfied by *infra.AMQP.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, key string, body []byte) error
}

type AssignmentEvent struct {
	ID                 string            `json:"id"`
	OrderID            types.ID          `json:"orderId"`
	RiderID            types.ID          `json:"riderId,omitempty"`
	Reason             assignment.Reason `json:"reason,omitempty"`
	ReadySeconds       int64             `json:"readySeconds,omitempty"`
	TravelSeconds      int64             `json:"travelSeconds,omitempty"`
	PickupETASeconds   int64             `json:"pickupEtaSeconds,omitempty"`
	DeliveryETASeconds int64             `json:"deliveryEtaSeconds,omitempty"`
	Drops              []assignment.Drop `json:"drops,omitempty"`
	At                 time.Time         `json:"at"`
}

// NewAssignmentEvent returns the event body and its routing key.
func NewAssignmentEvent(rec assignment.Record) (AssignmentEvent, string) {
	out := rec.Outcome
	ev := AssignmentEvent{ID: rec.ID, OrderID: rec.Order.ID, Drops: out.Drops, At: rec.At.UTC()}
	if a := out.Assigned; a != nil {
		ev.RiderID = a.RiderID
		ev.ReadySeconds = int64(a.Ready.Seconds())
		ev.TravelSeconds = int64(a.Travel.Seconds())
		ev.PickupETASeconds = int64(a.PickupETA.Seconds())
		ev.DeliveryETASeconds = int64(a.DeliveryETA.Seconds())
		return ev, KeyAssigned
	}
	ev.Reason = out.Reason
	return ev, KeyUnassignable
}

type AMQPPublisher struct {
	pub      Publisher
	exchange string
}

func NewAMQPPublisher(pub Publisher) *AMQPPublisher {
	return &AMQPPublisher{pub: pub, exchange: AssignmentsExchange}
}

func (p *AMQPPublisher) Name() string { return "amqp" }

func (p *AMQPPublisher) Record(ctx context.Context, rec assignment.Record) error {
	ev, key := NewAssignmentEvent(rec)
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.pub.PublishJSON(ctx, p.exchange, key, b)
}
