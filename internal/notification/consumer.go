package notification

import (
	"context"

	"bankflow/internal/common/events"
)

// Routes lists the topics the notification stage consumes
func (s *Service) Routes() []events.Route {
	routes := []events.Route{
		{Topic: events.TopicNotificationReceivePayment, Handler: s.handlePaymentReceived},
		{Topic: events.TopicDeleteUser, Handler: s.handleDeleteUser},
	}
	for _, f := range fixedMessages {
		routes = append(routes, events.Route{Topic: f.topic, Handler: s.fixed(f.message)})
	}
	return routes
}

// fixed handles topics whose data carries only the owner
func (s *Service) fixed(message string) events.Handler {
	return func(ctx context.Context, evt *events.Event) error {
		var d events.OwnerNotice
		if err := evt.DecodeData(&d); err != nil {
			return err
		}
		return s.Deliver(ctx, evt, d.OwnerID, message)
	}
}

func (s *Service) handlePaymentReceived(ctx context.Context, evt *events.Event) error {
	var d events.PaymentReceivedNotice
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.Deliver(ctx, evt, d.OwnerID, PaymentReceivedMessage(d.Amount, d.SenderName))
}

func (s *Service) handleDeleteUser(ctx context.Context, evt *events.Event) error {
	var d events.AccountDeleted
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.Purge(ctx, evt, d.OwnerID)
}
