package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/varga-labs/gridbroker-backend/api/routes"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/internal/negotiation"
	"github.com/varga-labs/gridbroker-backend/internal/payments"
	"github.com/varga-labs/gridbroker-backend/internal/payments/paypalprovider"
	"github.com/varga-labs/gridbroker-backend/internal/payments/squareprovider"
	"github.com/varga-labs/gridbroker-backend/internal/payments/stripeprovider"
	"github.com/varga-labs/gridbroker-backend/internal/pricing"
	"github.com/varga-labs/gridbroker-backend/internal/quotes"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	"github.com/varga-labs/gridbroker-backend/pkg/metrics"
	"github.com/varga-labs/gridbroker-backend/pkg/migrate"
	"github.com/varga-labs/gridbroker-backend/pkg/redis"
	"github.com/varga-labs/gridbroker-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	broker := metrics.NewBrokerMetrics(registry)

	auditService, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(dbClient, inventory.NewRepository(dbClient.DB()), auditService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	if cfg.FeatureFlags.SeedDemo {
		if err := seedDemoResources(context.Background(), inventoryService); err != nil {
			logg.Error(context.Background(), "failed to seed demo resources", err)
			os.Exit(1)
		}
		logg.Info(context.Background(), "seeded demo compute resources")
	}

	quotesRepo := quotes.NewRepository(dbClient.DB())
	quotesService, err := quotes.NewService(cfg.Negotiation, cfg.Inventory, dbClient, quotesRepo,
		inventoryService, auditService, broker, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create quotes service", err)
		os.Exit(1)
	}

	roundsRepo := negotiation.NewRepository(dbClient.DB())
	negotiationEngine, err := negotiation.NewEngine(cfg.Negotiation, dbClient, quotesRepo, roundsRepo,
		inventoryService, auditService, pricing.NewRateCard(), broker, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create negotiation engine", err)
		os.Exit(1)
	}

	providers, err := buildProviders(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to configure payment providers", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(cfg.Payments, dbClient, payments.NewRepository(dbClient.DB()),
		quotesRepo, inventoryService, auditService, providers, broker, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry,
			quotesService, negotiationEngine, roundsRepo, paymentsService, inventoryService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildProviders registers every settlement provider whose credentials are
// present. Settlement needs at least one, which payments.NewService enforces.
func buildProviders(ctx context.Context, cfg *config.Config, logg *logger.Logger) ([]payments.Provider, error) {
	var providers []payments.Provider

	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, err
		}
		provider, err := stripeprovider.New(stripeClient, logg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	} else {
		logg.Warn(ctx, "stripe credentials missing, provider disabled")
	}

	if strings.TrimSpace(cfg.PayPal.ClientID) != "" {
		provider, err := paypalprovider.New(cfg.PayPal, logg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	} else {
		logg.Warn(ctx, "paypal credentials missing, provider disabled")
	}

	if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		provider, err := squareprovider.New(ctx, cfg.Square, logg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	} else {
		logg.Warn(ctx, "square credentials missing, provider disabled")
	}

	return providers, nil
}

func seedDemoResources(ctx context.Context, svc inventory.Service) error {
	return svc.Seed(ctx, []inventory.SeedResourceInput{
		{ResourceType: enums.ResourceTypeGPU, TotalUnits: 16},
		{ResourceType: enums.ResourceTypeCPU, TotalUnits: 128},
		{ResourceType: enums.ResourceTypeTPU, TotalUnits: 8},
	})
}
