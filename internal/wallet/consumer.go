package wallet

import (
	"context"

	"bankflow/internal/common/events"
)

// Routes lists the topics the wallet stage consumes
func (s *Service) Routes() []events.Route {
	return []events.Route{
		{Topic: events.TopicCreationWallet, Handler: s.handleCreation},
		{Topic: events.TopicReceivePayment, Handler: s.handleReceive},
		{Topic: events.TopicDeleteUser, Handler: s.handleDeleteUser},
	}
}

func (s *Service) handleCreation(ctx context.Context, evt *events.Event) error {
	var d events.WalletRequested
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.CreateWallet(ctx, evt, d.OwnerID)
}

func (s *Service) handleReceive(ctx context.Context, evt *events.Event) error {
	var d events.PaymentSent
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.OnReceivePayment(ctx, evt, d)
}

func (s *Service) handleDeleteUser(ctx context.Context, evt *events.Event) error {
	var d events.AccountDeleted
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.Purge(ctx, evt, d.OwnerID)
}
