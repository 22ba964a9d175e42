// README: Push notification sink for the assigned rider and the ordering customer (Firebase Cloud Messaging).
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"dispatch/internal/modules/assignment"
	"dispatch/internal/types"
)

// Messenger is satisfied by *messaging.Client.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMNotifier struct {
	client Messenger
}

func NewFCMNotifier(client Messenger) *FCMNotifier {
	return &FCMNotifier{client: client}
}

func (n *FCMNotifier) Name() string { return "fcm" }

func RiderTopic(id types.ID) string    { return "rider_" + string(id) }
func CustomerTopic(id types.ID) string { return "customer_" + string(id) }

// Messages builds the pushes for an assigned record; other outcomes notify nobody.
func Messages(rec assignment.Record) []*messaging.Message {
	a := rec.Outcome.Assigned
	if a == nil {
		return nil
	}
	o := rec.Order
	data := map[string]string{
		"orderId":          string(o.ID),
		"riderId":          string(a.RiderID),
		"pickupEtaSeconds": strconv.FormatInt(int64(a.PickupETA.Seconds()), 10),
	}
	return []*messaging.Message{
		{
			Topic: RiderTopic(a.RiderID),
			Notification: &messaging.Notification{
				Title: "New order",
				Body:  fmt.Sprintf("Pick up order %s in %d min", o.ID, int(a.PickupETA.Minutes())),
			},
			Data: data,
		},
		{
			Topic: CustomerTopic(o.CustomerID),
			Notification: &messaging.Notification{
				Title: "Order assigned",
				Body:  fmt.Sprintf("A rider is on the way, pickup in about %d min", int(a.PickupETA.Minutes())),
			},
			Data: data,
		},
	}
}

func (n *FCMNotifier) Record(ctx context.Context, rec assignment.Record) error {
	var errs []error
	for _, m := range Messages(rec) {
		if _, err := n.client.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", m.Topic, err))
		}
	}
	return errors.Join(errs...)
}
