package document

import (
	"context"

	"bankflow/internal/common/events"
)

// Routes lists the topics the document stage consumes
func (s *Service) Routes() []events.Route {
	return []events.Route{
		{Topic: events.TopicDocumentsAnalysis, Handler: s.handleSubmitted},
		{Topic: events.TopicDeleteUser, Handler: s.handleDeleteUser},
	}
}

func (s *Service) handleSubmitted(ctx context.Context, evt *events.Event) error {
	var d events.DocumentsSubmitted
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
