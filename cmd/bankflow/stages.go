package main

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"bankflow/internal/card"
	cardapi "bankflow/internal/card/api"
	"bankflow/internal/common/database"
	"bankflow/internal/common/events"
	"bankflow/internal/common/metrics"
	"bankflow/internal/credit"
	creditapi "bankflow/internal/credit/api"
	"bankflow/internal/document"
	documentapi "bankflow/internal/document/api"
	"bankflow/internal/identity"
	"bankflow/internal/notification"
	notificationapi "bankflow/internal/notification/api"
	"bankflow/internal/registration"
	registrationapi "bankflow/internal/registration/api"
	"bankflow/internal/wallet"
	walletapi "bankflow/internal/wallet/api"
)

type consumer struct {
	sub     events.Subscription
	handler events.Handler
}

// stages holds the services enabled by BANKFLOW_STAGES
type stages struct {
	registration *registration.Service
	document     *document.Service
	credit       *credit.Service
	card         *card.Service
	wallet       *wallet.Service
	notification *notification.Service

	consumers []consumer
}

func newStages(cfg Config, db *database.DB, directory identity.Directory, logger *slog.Logger) *stages {
	enabled := func(name string) bool { return slices.Contains(cfg.Stages, name) }
	s := &stages{}

	if enabled("registration") {
		s.registration = registration.NewService(registration.NewPostgresOutbox(db), logger.With("stage", "registration"))
	}
	if enabled("document") {
		s.document = document.NewService(document.NewPostgresStore(db), logger.With("stage", document.Group))
		s.subscribe(document.Group, s.document.Routes())
	}
	if enabled("credit") {
		s.credit = credit.NewService(credit.NewPostgresStore(db), logger.With("stage", credit.Group))
		s.subscribe(credit.Group, s.credit.Routes())
	}
	if enabled("card") {
		s.card = card.NewService(card.NewPostgresStore(db), card.NewRandomGenerator(cfg.CardIssuerPrefix), logger.With("stage", card.Group))
		s.subscribe(card.Group, s.card.Routes())
	}
	if enabled("wallet") {
		// the card stage in this process is called directly, otherwise over HTTP
		var cards wallet.CardLedger = s.card
		if s.card == nil {
			cards = wallet.NewCardClient(cfg.Cards, cfg.Retry, logger)
		}
		s.wallet = wallet.NewService(wallet.NewPostgresStore(db), cards, directory, logger.With("stage", wallet.Group))
		s.subscribe(wallet.Group, s.wallet.Routes())
	}
	if enabled("notification") {
		s.notification = notification.NewService(notification.NewPostgresStore(db), logger.With("stage", notification.Group))
		s.subscribe(notification.Group, s.notification.Routes())
	}

	return s
}

func (s *stages) subscribe(group string, routes []events.Route) {
	for _, route := range routes {
		sub := events.Subscription{Group: group, Topic: route.Topic}
		s.consumers = append(s.consumers, consumer{sub: sub, handler: metrics.Instrument(sub, route.Handler)})
	}
}

func (s *stages) mount(r chi.Router, owner func(http.Handler) http.Handler, walletMW []func(http.Handler) http.Handler) {
	if s.registration != nil {
		r.Mount("/registration", registrationapi.NewHandler(s.registration).Routes(owner))
	}
	if s.document != nil {
		r.Mount("/documents", documentapi.NewHandler(s.document).Routes(owner))
	}
	if s.credit != nil {
		r.Mount("/credit", creditapi.NewHandler(s.credit).Routes(owner))
	}
	if s.card != nil {
		r.Mount("/cards", cardapi.NewHandler(s.card).Routes(owner))
	}
	if s.wallet != nil {
		r.Mount("/wallets", walletapi.NewHandler(s.wallet).Routes(walletMW...))
	}
	if s.notification != nil {
		r.Mount("/notifications", notificationapi.NewHandler(s.notification).Routes(owner))
	}
}

// mountInternal mounts the service-to-service routes behind guard
func (s *stages) mountInternal(r chi.Router, guard func(http.Handler) http.Handler) {
	if s.card != nil {
		r.Mount("/cards", cardapi.NewHandler(s.card).InternalRoutes(guard))
	}
}
