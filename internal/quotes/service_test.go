package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

type fixture struct {
	svc    Service
	client *db.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:quotes_" + uuid.NewString() + "?mode=memory&cache=shared"
	client, err := db.New(context.Background(), config.DBConfig{DSN: dsn, Driver: "sqlite"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.DB().AutoMigrate(
		&models.ComputeResource{},
		&models.Quote{},
		&models.Reservation{},
		&models.AuditLogEntry{},
	))

	auditSvc, err := audit.NewService(audit.NewRepository(client.DB()))
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "quotes-test"})
	inventorySvc, err := inventory.NewService(client, inventory.NewRepository(client.DB()), auditSvc, logg)
	require.NoError(t, err)

	require.NoError(t, inventorySvc.Seed(context.Background(), []inventory.SeedResourceInput{
		{ResourceType: enums.ResourceTypeGPU, TotalUnits: 4},
	}))

	svc, err := NewService(
		config.NegotiationConfig{QuoteMaxAge: 30 * time.Minute},
		config.InventoryConfig{ReservationTTL: 15 * time.Minute},
		client,
		NewRepository(client.DB()),
		inventorySvc,
		auditSvc,
		nil,
		logg,
	)
	require.NoError(t, err)
	return &fixture{svc: svc, client: client}
}

func validInput() CreateQuoteInput {
	return CreateQuoteInput{
		BuyerID:       "buyer-1",
		ResourceType:  enums.ResourceTypeGPU,
		DurationHours: 4,
		Units:         2,
		BuyerMaxPrice: decimal.RequireFromString("2.00"),
	}
}

func TestCreateReservesCapacityAndAudits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	quote, err := f.svc.Create(ctx, validInput())
	require.NoError(t, err)
	require.Equal(t, enums.QuoteStatusRequested, quote.Status)
	require.Equal(t, 0, quote.Version)

	var reservation models.Reservation
	require.NoError(t, f.client.DB().First(&reservation, "quote_id = ?", quote.ID).Error)
	require.Equal(t, enums.ReservationStatusActive, reservation.Status)
	require.Equal(t, 2, reservation.Units)

	var resource models.ComputeResource
	require.NoError(t, f.client.DB().First(&resource, "resource_type = ?", enums.ResourceTypeGPU).Error)
	require.Equal(t, 2, resource.ReservedUnits)

	var entries []models.AuditLogEntry
	require.NoError(t, f.client.DB().
		Order("created_at ASC, id ASC").
		Find(&entries, "quote_id = ?", quote.ID).Error)
	actions := make([]enums.AuditAction, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	require.Contains(t, actions, enums.AuditActionQuoteCreated)
	require.Contains(t, actions, enums.AuditActionReservationCreated)
}

func TestCreateOverCapacityLeavesNoQuote(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	input := validInput()
	input.Units = 3
	_, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, input)
	require.True(t, errors.IsCode(err, errors.CodeInsufficientCapacity), "got %v", err)

	// the failed request must roll back its quote row with the hold
	var count int64
	require.NoError(t, f.client.DB().Model(&models.Quote{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	var resource models.ComputeResource
	require.NoError(t, f.client.DB().First(&resource, "resource_type = ?", enums.ResourceTypeGPU).Error)
	require.Equal(t, 3, resource.ReservedUnits)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateQuoteInput)
	}{
		{"missing buyer", func(in *CreateQuoteInput) { in.BuyerID = "" }},
		{"bad resource type", func(in *CreateQuoteInput) { in.ResourceType = "quantum" }},
		{"zero duration", func(in *CreateQuoteInput) { in.DurationHours = 0 }},
		{"zero max price", func(in *CreateQuoteInput) { in.BuyerMaxPrice = decimal.Zero }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, err := f.svc.Create(ctx, input)
			require.True(t, errors.IsCode(err, errors.CodeValidation), "got %v", err)
		})
	}
}

func TestGetUnknownQuoteReturnsNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	require.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	input := validInput()
	input.Units = 1
	first, err := f.svc.Create(ctx, input)
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	// separate the rows in time so the ordering is deterministic
	require.NoError(t, f.client.DB().Model(&models.Quote{}).
		Where("id = ?", first.ID).
		Update("created_at", time.Now().UTC().Add(-time.Minute)).Error)

	quotes, err := f.svc.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, second.ID, quotes[0].ID)
	require.Equal(t, first.ID, quotes[1].ID)
}

func TestExpireStaleReleasesHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	input := validInput()
	input.Units = 2
	stale, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	input.Units = 1
	fresh, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	require.NoError(t, f.client.DB().Model(&models.Quote{}).
		Where("id = ?", stale.ID).
		Update("created_at", time.Now().UTC().Add(-time.Hour)).Error)

	expired, err := f.svc.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	reloaded, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, enums.QuoteStatusExpired, reloaded.Status)

	untouched, err := f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, enums.QuoteStatusRequested, untouched.Status)

	// the stale quote's hold is returned, the fresh one stays
	var resource models.ComputeResource
	require.NoError(t, f.client.DB().First(&resource, "resource_type = ?", enums.ResourceTypeGPU).Error)
	require.Equal(t, 1, resource.ReservedUnits)

	trail, err := f.svc.AuditTrail(ctx, stale.ID)
	require.NoError(t, err)
	var sawExpired bool
	for _, entry := range trail {
		if entry.Action == enums.AuditActionQuoteExpired {
			sawExpired = true
		}
	}
	require.True(t, sawExpired, "expected a quote_expired entry, got %v", trail)
}

func TestExpireStaleSkipsTerminalQuotes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	input := validInput()
	input.Units = 1
	quote, err := f.svc.Create(ctx, input)
	require.NoError(t, err)

	require.NoError(t, f.client.DB().Model(&models.Quote{}).
		Where("id = ?", quote.ID).
		Updates(map[string]any{
			"status":     enums.QuoteStatusSettled,
			"created_at": time.Now().UTC().Add(-time.Hour),
		}).Error)

	expired, err := f.svc.ExpireStale(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 0, expired)
}
