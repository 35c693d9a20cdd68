package credit

import (
	"context"

	"bankflow/internal/common/events"
)

// Routes lists the topics the credit stage consumes
func (s *Service) Routes() []events.Route {
	return []events.Route{
		{Topic: events.TopicCreditDocumentsAnalysis, Handler: s.handleSubmitted},
		{Topic: events.TopicDeleteUser, Handler: s.handleDeleteUser},
	}
}

func (s *Service) handleSubmitted(ctx context.Context, evt *events.Event) error {
	var d events.CreditDocumentsSubmitted
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.Submit(ctx, evt, d)
}

func (s *Service) handleDeleteUser(ctx context.Context, evt *events.Event) error {
	var d events.AccountDeleted
	if err := evt.DecodeData(&d); err != nil {
		return err
	}
	return s.Purge(ctx, evt, d.OwnerID)
}
