package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/internal/quotes"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

// fakeProvider replays a scripted sequence of charge outcomes and records
// every call.
type fakeProvider struct {
	name  enums.PaymentProvider
	steps []func() (*ChargeResult, error)

	mu    sync.Mutex
	calls int
	keys  []string
}

func (f *fakeProvider) Name() enums.PaymentProvider { return f.name }

func (f *fakeProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.keys = append(f.keys, req.IdempotencyKey)
	f.mu.Unlock()

	if call < len(f.steps) {
		return f.steps[call]()
	}
	return &ChargeResult{ReferenceID: "ref-" + uuid.NewString()}, nil
}

func succeedWith(ref string) func() (*ChargeResult, error) {
	return func() (*ChargeResult, error) {
		return &ChargeResult{ReferenceID: ref}, nil
	}
}

func failRetryable() func() (*ChargeResult, error) {
	return func() (*ChargeResult, error) {
		return nil, errors.New(errors.CodePaymentRetryableFailure, "provider unavailable")
	}
}

func failPermanent() func() (*ChargeResult, error) {
	return func() (*ChargeResult, error) {
		return nil, errors.New(errors.CodePaymentPermanentFailure, "card declined")
	}
}

type fixture struct {
	svc       Service
	client    *db.Client
	quotes    quotes.Repository
	inventory inventory.Service
}

func newFixture(t *testing.T, cfg config.PaymentsConfig, providers ...Provider) *fixture {
	t.Helper()

	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	client, err := db.New(context.Background(), config.DBConfig{DSN: dsn, Driver: "sqlite"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.DB().AutoMigrate(
		&models.ComputeResource{},
		&models.Reservation{},
		&models.Quote{},
		&models.Transaction{},
		&models.AuditLogEntry{},
	))

	logg := logger.New(logger.Options{ServiceName: "payments-test"})
	auditSvc, err := audit.NewService(audit.NewRepository(client.DB()))
	require.NoError(t, err)
	inventorySvc, err := inventory.NewService(client, inventory.NewRepository(client.DB()), auditSvc, logg)
	require.NoError(t, err)
	quotesRepo := quotes.NewRepository(client.DB())

	svc, err := NewService(cfg, client, NewRepository(client.DB()), quotesRepo, inventorySvc, auditSvc, providers, nil, logg)
	require.NoError(t, err)

	return &fixture{svc: svc, client: client, quotes: quotesRepo, inventory: inventorySvc}
}

func testConfig() config.PaymentsConfig {
	return config.PaymentsConfig{
		PendingStaleAfter: 2 * time.Minute,
		MaxAttempts:       3,
		RetryBackoff:      time.Millisecond,
		ChargeTimeout:     time.Second,
	}
}

func (f *fixture) createAcceptedQuote(t *testing.T) *models.Quote {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.inventory.Seed(ctx, []inventory.SeedResourceInput{
		{ResourceType: enums.ResourceTypeGPU, TotalUnits: 10},
	}))

	quote := &models.Quote{
		BuyerID:       "buyer-1",
		ResourceType:  enums.ResourceTypeGPU,
		DurationHours: 4,
		Units:         1,
		BuyerMaxPrice: decimal.RequireFromString("2.00"),
		ProposedPrice: decimal.RequireFromString("1.80"),
		RoundCount:    1,
		Status:        enums.QuoteStatusAccepted,
	}
	require.NoError(t, f.quotes.Create(ctx, quote))

	_, err := f.inventory.Reserve(ctx, nil, inventory.ReserveInput{
		QuoteID:      quote.ID,
		ResourceType: enums.ResourceTypeGPU,
		Units:        1,
		TTL:          time.Hour,
	})
	require.NoError(t, err)
	return quote
}

func TestSettleSuccessSettlesQuoteAndAllocates(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){succeedWith("pi_1")}}
	f := newFixture(t, testConfig(), provider)
	quote := f.createAcceptedQuote(t)
	ctx := context.Background()

	transaction, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusSucceeded, transaction.Status)
	require.Equal(t, "pi_1", transaction.ProviderRef)
	require.Equal(t, IdempotencyKeyFor(quote.ID, enums.PaymentProviderStripe), transaction.IdempotencyKey)

	var reloaded models.Quote
	require.NoError(t, f.client.DB().First(&reloaded, "id = ?", quote.ID).Error)
	require.Equal(t, enums.QuoteStatusSettled, reloaded.Status)

	var reservation models.Reservation
	require.NoError(t, f.client.DB().First(&reservation, "quote_id = ?", quote.ID).Error)
	require.Equal(t, enums.ReservationStatusAllocated, reservation.Status)

	var entries []models.AuditLogEntry
	require.NoError(t, f.client.DB().
		Find(&entries, "quote_id = ? AND action = ?", quote.ID, enums.AuditActionPaymentSucceeded).Error)
	require.Len(t, entries, 1)
}

func TestSettleIsIdempotentForSameProvider(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){succeedWith("pi_1")}}
	f := newFixture(t, testConfig(), provider)
	quote := f.createAcceptedQuote(t)
	ctx := context.Background()

	first, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)

	second, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, enums.TransactionStatusSucceeded, second.Status)
	require.Equal(t, 1, provider.calls, "duplicate settle must never re-charge")
}

func TestSettleYoungPendingReturnsForPolling(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe}
	f := newFixture(t, testConfig(), provider)
	quote := f.createAcceptedQuote(t)
	ctx := context.Background()

	key := IdempotencyKeyFor(quote.ID, enums.PaymentProviderStripe)
	pending := &models.Transaction{
		QuoteID:        quote.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: key,
		Amount:         quote.ProposedPrice,
		Status:         enums.TransactionStatusPending,
		Attempts:       1,
	}
	require.NoError(t, NewRepository(f.client.DB()).Create(ctx, pending))

	got, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)
	require.Equal(t, pending.ID, got.ID)
	require.Equal(t, enums.TransactionStatusPending, got.Status)
	require.Equal(t, 0, provider.calls, "young pending must not trigger a second charge")
}

func TestSettleStalePendingIsReDriven(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){succeedWith("pi_recovered")}}
	cfg := testConfig()
	cfg.PendingStaleAfter = time.Millisecond
	f := newFixture(t, cfg, provider)
	quote := f.createAcceptedQuote(t)
	ctx := context.Background()

	key := IdempotencyKeyFor(quote.ID, enums.PaymentProviderStripe)
	pending := &models.Transaction{
		QuoteID:        quote.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: key,
		Amount:         quote.ProposedPrice,
		Status:         enums.TransactionStatusPending,
		Attempts:       1,
	}
	require.NoError(t, NewRepository(f.client.DB()).Create(ctx, pending))
	time.Sleep(5 * time.Millisecond)

	got, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)
	require.Equal(t, pending.ID, got.ID)
	require.Equal(t, enums.TransactionStatusSucceeded, got.Status)
	require.Equal(t, "pi_recovered", got.ProviderRef)
	require.Equal(t, 1, provider.calls)
	require.Equal(t, 2, got.Attempts)
}

func TestSettlePermanentFailureFailsImmediately(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){failPermanent()}}
	f := newFixture(t, testConfig(), provider)
	quote := f.createAcceptedQuote(t)
	ctx := context.Background()

	transaction, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.True(t, errors.IsCode(err, errors.CodePaymentPermanentFailure), "got %v", err)
	require.NotNil(t, transaction)
	require.Equal(t, enums.TransactionStatusFailed, transaction.Status)
	require.Equal(t, 1, provider.calls, "permanent failures are never retried")

	// quote returns to accepted so a fallback provider can settle it
	var reloaded models.Quote
	require.NoError(t, f.client.DB().First(&reloaded, "id = ?", quote.ID).Error)
	require.Equal(t, enums.QuoteStatusAccepted, reloaded.Status)

	var entries []models.AuditLogEntry
	require.NoError(t, f.client.DB().
		Find(&entries, "quote_id = ? AND action = ?", quote.ID, enums.AuditActionPaymentFailed).Error)
	require.Len(t, entries, 1)
}

func TestSettleRetryableFailureRetriesThenFails(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){
		failRetryable(), failRetryable(), failRetryable(),
	}}
	f := newFixture(t, testConfig(), provider)
	quote := f.createAcceptedQuote(t)

	transaction, err := f.svc.Settle(context.Background(), quote.ID, enums.PaymentProviderStripe)
	require.Error(t, err)
	require.Equal(t, enums.TransactionStatusFailed, transaction.Status)
	require.Equal(t, 3, transaction.Attempts)
	require.Equal(t, 3, provider.calls)
}

func TestSettleFallbackProviderUsesFreshKey(t *testing.T) {
	stripe := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){
		failRetryable(), failRetryable(), failRetryable(),
	}}
	paypal := &fakeProvider{name: enums.PaymentProviderPayPal, steps: []func() (*ChargeResult, error){succeedWith("pp_1")}}
	f := newFixture(t, testConfig(), stripe, paypal)
	quote := f.createAcceptedQuote(t)
	ctx := context.Background()

	failed, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.Error(t, err)
	require.Equal(t, enums.TransactionStatusFailed, failed.Status)

	succeeded, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderPayPal)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusSucceeded, succeeded.Status)
	require.NotEqual(t, failed.IdempotencyKey, succeeded.IdempotencyKey)

	// same-provider retry after failure stays failed without a new charge
	again, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.NoError(t, err)
	require.Equal(t, failed.ID, again.ID)
	require.Equal(t, enums.TransactionStatusFailed, again.Status)
	require.Equal(t, 3, stripe.calls)
}

func TestSettleRejectsUnacceptedQuote(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe}
	f := newFixture(t, testConfig(), provider)
	ctx := context.Background()

	require.NoError(t, f.inventory.Seed(ctx, []inventory.SeedResourceInput{
		{ResourceType: enums.ResourceTypeGPU, TotalUnits: 10},
	}))
	quote := &models.Quote{
		BuyerID:       "buyer-1",
		ResourceType:  enums.ResourceTypeGPU,
		DurationHours: 1,
		Units:         1,
		BuyerMaxPrice: decimal.RequireFromString("2.00"),
		Status:        enums.QuoteStatusNegotiating,
	}
	require.NoError(t, f.quotes.Create(ctx, quote))

	_, err := f.svc.Settle(ctx, quote.ID, enums.PaymentProviderStripe)
	require.True(t, errors.IsCode(err, errors.CodeStateConflict), "got %v", err)
}

func TestConcurrentSettleChargesExactlyOnce(t *testing.T) {
	provider := &fakeProvider{name: enums.PaymentProviderStripe, steps: []func() (*ChargeResult, error){succeedWith("pi_1")}}
	f := newFixture(t, testConfig(), provider)
	quote := f.createAcceptedQuote(t)

	const callers = 5
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			// losers may observe the winner's pending row or a transient
			// write conflict; neither may produce a second charge
			_, _ = f.svc.Settle(context.Background(), quote.ID, enums.PaymentProviderStripe)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, provider.calls, "concurrent settles must charge exactly once")

	var succeeded []models.Transaction
	require.NoError(t, f.client.DB().
		Find(&succeeded, "quote_id = ? AND status = ?", quote.ID, enums.TransactionStatusSucceeded).Error)
	require.Len(t, succeeded, 1)

	var all []models.Transaction
	require.NoError(t, f.client.DB().Find(&all, "quote_id = ?", quote.ID).Error)
	require.Len(t, all, 1, "unique key must collapse concurrent rows to one")
}
