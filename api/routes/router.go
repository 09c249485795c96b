package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/varga-labs/gridbroker-backend/api/controllers"
	"github.com/varga-labs/gridbroker-backend/api/middleware"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/internal/negotiation"
	"github.com/varga-labs/gridbroker-backend/internal/payments"
	"github.com/varga-labs/gridbroker-backend/internal/quotes"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	"github.com/varga-labs/gridbroker-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	quotesService quotes.Service,
	negotiationEngine negotiation.Engine,
	roundsRepo negotiation.Repository,
	paymentsService payments.Service,
	inventoryService inventory.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var redisP redis.Pinger
	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		redisP = redisClient
		idempotencyStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/quotes", func(r chi.Router) {
			r.Post("/", controllers.QuoteCreate(quotesService, logg))
			r.Get("/", controllers.QuoteList(quotesService, logg))
			r.Route("/{quoteId}", func(r chi.Router) {
				r.Get("/", controllers.QuoteDetail(quotesService, roundsRepo, logg))
				r.Post("/negotiate", controllers.QuoteNegotiate(negotiationEngine, logg))
				r.Post("/negotiate-auto", controllers.QuoteNegotiateAuto(negotiationEngine, logg))
				r.Post("/settle", controllers.QuoteSettle(paymentsService, logg))
				r.Get("/transactions", controllers.QuoteTransactions(paymentsService, logg))
				r.Get("/audit", controllers.QuoteAuditTrail(quotesService, logg))
			})
		})

		r.Route("/resources", func(r chi.Router) {
			r.Get("/", controllers.ResourceList(inventoryService, logg))
			if !cfg.App.IsProd() {
				r.Post("/seed", controllers.ResourceSeed(inventoryService, logg))
			}
		})
	})

	return r
}
