package card

import (
	"context"

	"bankflow/internal/common/events"
)

// Routes lists the topics the card stage consumes
func (s *Service) Routes() []events.Route {
	return []events.Route{
		{Topic: events.TopicApprovedCard, Handler: s.handleApproved},
		{Topic: events.TopicCanceledCard, Handler: s.handleCanceled},
		{Topic: events.TopicApprovedLimitCard, Handler: s.handleLimitApproved},
		{Topic: events.TopicRejectedLimitCard, Handler: s.handleLimitRejected},
		{Topic: events.TopicPaymentLimitCard, Handler: s.handleSettlement},
		{Topic: events.TopicDeleteUser, Handler: s.handleDeleteUser},
	}
}

func (s *Service) handleApproved(ctx context.Context, evt *events.Event) error {
	var d events.CardDecision
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.ApplyApproval(ctx, evt, d)
}

func (s *Service) handleCanceled(ctx context.Context, evt *events.Event) error {
	var d events.CardDecision
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.ApplyCancellation(ctx, evt, d)
}

func (s *Service) handleLimitApproved(ctx context.Context, evt *events.Event) error {
	var d events.LimitApproved
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.ApplyLimitApproved(ctx, evt, d)
}

func (s *Service) handleLimitRejected(ctx context.Context, evt *events.Event) error {
	var d events.LimitRejected
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.ApplyLimitRejected(ctx, evt, d)
}

func (s *Service) handleSettlement(ctx context.Context, evt *events.Event) error {
	var d events.CreditSettled
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.ApplySettlement(ctx, evt, d)
}

func (s *Service) handleDeleteUser(ctx context.Context, evt *events.Event) error {
	var d events.AccountDeleted
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.Purge(ctx, evt, d.OwnerID)
}
