package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/internal/quotes"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	"github.com/varga-labs/gridbroker-backend/pkg/metrics"
	"gorm.io/gorm"
)

// DefaultCurrency is the only settlement currency the broker quotes in.
const DefaultCurrency = "USD"

// Service drives accepted quotes through provider settlement with
// exactly-once charge semantics per (quote, provider).
type Service interface {
	// Settle charges the quote through the named provider. Duplicate calls
	// for the same (quote, provider) never double-charge: a succeeded
	// transaction is returned unchanged, a young pending one is returned
	// for polling. A failed transaction is returned as-is so the caller can
	// fall back to a different provider.
	Settle(ctx context.Context, quoteID uuid.UUID, provider enums.PaymentProvider) (*models.Transaction, error)
	Transactions(ctx context.Context, quoteID uuid.UUID) ([]models.Transaction, error)
}

type service struct {
	cfg          config.PaymentsConfig
	client       *db.Client
	repo         Repository
	quotesRepo   quotes.Repository
	inventorySvc inventory.Service
	auditSvc     audit.Service
	providers    map[enums.PaymentProvider]Provider
	broker       *metrics.BrokerMetrics
	logg         *logger.Logger
}

// NewService wires a settlement service over the registered providers.
func NewService(
	cfg config.PaymentsConfig,
	client *db.Client,
	repo Repository,
	quotesRepo quotes.Repository,
	inventorySvc inventory.Service,
	auditSvc audit.Service,
	providers []Provider,
	broker *metrics.BrokerMetrics,
	logg *logger.Logger,
) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if quotesRepo == nil {
		return nil, fmt.Errorf("quote repository required")
	}
	if inventorySvc == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one payment provider required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	registry := make(map[enums.PaymentProvider]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			return nil, fmt.Errorf("nil payment provider")
		}
		registry[provider.Name()] = provider
	}

	return &service{
		cfg:          cfg,
		client:       client,
		repo:         repo,
		quotesRepo:   quotesRepo,
		inventorySvc: inventorySvc,
		auditSvc:     auditSvc,
		providers:    registry,
		broker:       broker,
		logg:         logg,
	}, nil
}

func (s *service) Settle(ctx context.Context, quoteID uuid.UUID, providerName enums.PaymentProvider) (*models.Transaction, error) {
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	if !providerName.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid provider %q", providerName))
	}
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, errors.New(errors.CodeDependency, fmt.Sprintf("provider %s is not configured", providerName))
	}

	ctx = s.logg.WithQuoteID(ctx, quoteID.String())
	ctx = s.logg.WithProvider(ctx, providerName.String())

	quote, err := s.quotesRepo.Get(ctx, quoteID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New(errors.CodeNotFound, "quote not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading quote")
	}

	// an already settled quote resolves to its succeeded transaction
	if quote.Status == enums.QuoteStatusSettled {
		settled, err := s.repo.SucceededByQuoteID(ctx, quoteID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "loading settled transaction")
		}
		return settled, nil
	}
	if quote.Status != enums.QuoteStatusAccepted && quote.Status != enums.QuoteStatusPaymentPending {
		return nil, errors.New(errors.CodeStateConflict,
			fmt.Sprintf("quote is %s, settlement requires an accepted quote", quote.Status))
	}

	key := IdempotencyKeyFor(quoteID, providerName)

	transaction, proceed, err := s.ensurePending(ctx, quote, providerName, key)
	if err != nil {
		return nil, err
	}
	if !proceed {
		return transaction, nil
	}

	return s.charge(ctx, quote, provider, transaction)
}

func (s *service) Transactions(ctx context.Context, quoteID uuid.UUID) ([]models.Transaction, error) {
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	transactions, err := s.repo.ListByQuoteID(ctx, quoteID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing transactions")
	}
	return transactions, nil
}

// ensurePending resolves the transaction row for the idempotency key,
// creating it when absent. proceed is false when the existing row already
// answers the call (succeeded, young pending, or failed).
func (s *service) ensurePending(ctx context.Context, quote *models.Quote, providerName enums.PaymentProvider, key string) (*models.Transaction, bool, error) {
	for iteration := 0; iteration < 2; iteration++ {
		existing, err := s.repo.GetByKey(ctx, quote.ID, providerName, key)
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, false, errors.Wrap(errors.CodeInternal, err, "loading transaction")
		}

		if existing != nil {
			switch existing.Status {
			case enums.TransactionStatusSucceeded:
				return existing, false, nil
			case enums.TransactionStatusFailed:
				// same provider is never auto-retried; caller falls back
				return existing, false, nil
			case enums.TransactionStatusPending:
				if s.cfg.PendingStaleAfter > 0 && time.Since(existing.UpdatedAt) < s.cfg.PendingStaleAfter {
					return existing, false, nil
				}
				// stale pending: adopt and re-drive the charge
				return existing, true, nil
			}
		}

		transaction := &models.Transaction{
			QuoteID:        quote.ID,
			Provider:       providerName,
			IdempotencyKey: key,
			Amount:         quote.ProposedPrice,
			Status:         enums.TransactionStatusPending,
		}
		err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Create(ctx, transaction); err != nil {
				return err
			}
			if quote.Status == enums.QuoteStatusAccepted {
				expected := quote.Version
				quote.Status = enums.QuoteStatusPaymentPending
				ok, err := s.quotesRepo.WithTx(tx).UpdateWithVersion(ctx, quote, expected)
				if err != nil {
					return errors.Wrap(errors.CodeInternal, err, "updating quote")
				}
				if !ok {
					return errors.New(errors.CodeConcurrentModification, "quote was modified by another caller")
				}
			}
			_, err := s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
				QuoteID: &quote.ID,
				Action:  enums.AuditActionPaymentPending,
				Payload: map[string]any{
					"transaction_id":  transaction.ID,
					"provider":        providerName,
					"idempotency_key": key,
					"amount":          transaction.Amount,
				},
			})
			return err
		})
		if err == nil {
			return transaction, true, nil
		}
		if db.IsUniqueViolation(err, "") {
			// lost the creation race: adopt the winner's row next iteration
			quote.Status = enums.QuoteStatusPaymentPending
			continue
		}
		return nil, false, err
	}
	return nil, false, errors.New(errors.CodeInternal, "could not resolve settlement transaction")
}

// charge drives the provider call with bounded same-provider retries for
// retryable failures.
func (s *service) charge(ctx context.Context, quote *models.Quote, provider Provider, transaction *models.Transaction) (*models.Transaction, error) {
	req := ChargeRequest{
		QuoteID:        quote.ID,
		Amount:         transaction.Amount,
		Currency:       DefaultCurrency,
		IdempotencyKey: transaction.IdempotencyKey,
		Description:    fmt.Sprintf("gridbroker quote %s", quote.ID),
	}

	backoff := s.cfg.RetryBackoff
	for {
		transaction.Attempts++
		if err := s.repo.Save(ctx, transaction); err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "saving transaction attempt")
		}

		start := time.Now()
		result, err := s.chargeOnce(ctx, provider, req)
		s.broker.ObserveSettlementDuration(provider.Name().String(), time.Since(start))

		if err == nil {
			if result == nil || result.ReferenceID == "" {
				err = errors.New(errors.CodePaymentRetryableFailure, "provider returned no charge reference")
			} else {
				return s.finalizeSuccess(ctx, quote, transaction, result)
			}
		}

		retryable := isRetryable(err)
		s.logg.Warn(ctx, fmt.Sprintf("charge attempt %d failed (retryable=%t): %v", transaction.Attempts, retryable, err))

		if !retryable || transaction.Attempts >= s.cfg.MaxAttempts {
			failed, ferr := s.finalizeFailure(ctx, quote, transaction, err)
			if ferr != nil {
				return nil, ferr
			}
			return failed, err
		}

		select {
		case <-ctx.Done():
			// leave the transaction pending; a later call adopts it
			return transaction, errors.Wrap(errors.CodePaymentRetryableFailure, ctx.Err(), "settlement interrupted")
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *service) chargeOnce(ctx context.Context, provider Provider, req ChargeRequest) (*ChargeResult, error) {
	if s.cfg.ChargeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ChargeTimeout)
		defer cancel()
	}
	return provider.Charge(ctx, req)
}

func (s *service) finalizeSuccess(ctx context.Context, quote *models.Quote, transaction *models.Transaction, result *ChargeResult) (*models.Transaction, error) {
	holdID, err := s.activeHoldID(ctx, quote.ID)
	if err != nil {
		return nil, err
	}

	err = s.client.WithTx(ctx, func(tx *gorm.DB) error {
		transaction.Status = enums.TransactionStatusSucceeded
		transaction.ProviderRef = result.ReferenceID
		transaction.FailureReason = nil
		if err := s.repo.WithTx(tx).Save(ctx, transaction); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving transaction")
		}

		expected := quote.Version
		quote.Status = enums.QuoteStatusSettled
		ok, err := s.quotesRepo.WithTx(tx).UpdateWithVersion(ctx, quote, expected)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "updating quote")
		}
		if !ok {
			return errors.New(errors.CodeConcurrentModification, "quote was modified by another caller")
		}

		if holdID != uuid.Nil {
			if _, err := s.inventorySvc.Allocate(ctx, tx, holdID); err != nil {
				return err
			}
		}

		_, err = s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &quote.ID,
			Action:  enums.AuditActionPaymentSucceeded,
			Payload: map[string]any{
				"transaction_id": transaction.ID,
				"provider":       transaction.Provider,
				"provider_ref":   transaction.ProviderRef,
				"amount":         transaction.Amount,
				"attempts":       transaction.Attempts,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broker.IncSettlement(transaction.Provider.String(), string(enums.TransactionStatusSucceeded))
	s.broker.IncQuoteOutcome(string(enums.QuoteStatusSettled))
	s.logg.Info(ctx, "settlement succeeded")
	return transaction, nil
}

func (s *service) finalizeFailure(ctx context.Context, quote *models.Quote, transaction *models.Transaction, cause error) (*models.Transaction, error) {
	reason := failureReason(cause)

	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		transaction.Status = enums.TransactionStatusFailed
		transaction.FailureReason = &reason
		if err := s.repo.WithTx(tx).Save(ctx, transaction); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving transaction")
		}

		// the quote returns to accepted so the caller can fall back to a
		// different provider
		if quote.Status == enums.QuoteStatusPaymentPending {
			expected := quote.Version
			quote.Status = enums.QuoteStatusAccepted
			ok, err := s.quotesRepo.WithTx(tx).UpdateWithVersion(ctx, quote, expected)
			if err != nil {
				return errors.Wrap(errors.CodeInternal, err, "updating quote")
			}
			if !ok {
				return errors.New(errors.CodeConcurrentModification, "quote was modified by another caller")
			}
		}

		_, err := s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &quote.ID,
			Action:  enums.AuditActionPaymentFailed,
			Payload: map[string]any{
				"transaction_id": transaction.ID,
				"provider":       transaction.Provider,
				"reason":         reason,
				"attempts":       transaction.Attempts,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broker.IncSettlement(transaction.Provider.String(), string(enums.TransactionStatusFailed))
	return transaction, nil
}

func (s *service) activeHoldID(ctx context.Context, quoteID uuid.UUID) (uuid.UUID, error) {
	reservation, err := s.inventorySvc.ActiveByQuoteID(ctx, quoteID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return reservation.ID, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsCode(err, errors.CodePaymentPermanentFailure) {
		return false
	}
	if errors.IsCode(err, errors.CodePaymentRetryableFailure) {
		return true
	}
	// unclassified failures (timeouts, transport errors) default to retryable
	return true
}

func failureReason(err error) string {
	if err == nil {
		return "unknown"
	}
	if typed := errors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}
