package quotes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	"github.com/varga-labs/gridbroker-backend/pkg/metrics"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const defaultRecentLimit = 20

// Service owns the quote lifecycle outside of negotiation and settlement:
// creation with its capacity hold, reads, and staleness expiry.
type Service interface {
	// Create reserves capacity and opens a quote in requested state. A
	// capacity failure surfaces as InsufficientCapacity and leaves no
	// quote row behind.
	Create(ctx context.Context, input CreateQuoteInput) (*models.Quote, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Quote, error)
	ListRecent(ctx context.Context, limit int) ([]models.Quote, error)
	AuditTrail(ctx context.Context, id uuid.UUID) ([]models.AuditLogEntry, error)
	// ExpireStale sweeps requested/negotiating quotes past their maximum
	// age into expired and releases their holds.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// CreateQuoteInput captures a buyer's request for capacity.
type CreateQuoteInput struct {
	BuyerID       string             `json:"buyer_id"`
	ResourceType  enums.ResourceType `json:"resource_type"`
	DurationHours int                `json:"duration_hours"`
	Units         int                `json:"units"`
	BuyerMaxPrice decimal.Decimal    `json:"buyer_max_price"`
}

type service struct {
	negotiationCfg config.NegotiationConfig
	inventoryCfg   config.InventoryConfig
	client         *db.Client
	repo           Repository
	inventorySvc   inventory.Service
	auditSvc       audit.Service
	broker         *metrics.BrokerMetrics
	logg           *logger.Logger
}

// NewService wires a quote service.
func NewService(
	negotiationCfg config.NegotiationConfig,
	inventoryCfg config.InventoryConfig,
	client *db.Client,
	repo Repository,
	inventorySvc inventory.Service,
	auditSvc audit.Service,
	broker *metrics.BrokerMetrics,
	logg *logger.Logger,
) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("quote repository required")
	}
	if inventorySvc == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if inventoryCfg.ReservationTTL <= 0 {
		inventoryCfg.ReservationTTL = 15 * time.Minute
	}
	return &service{
		negotiationCfg: negotiationCfg,
		inventoryCfg:   inventoryCfg,
		client:         client,
		repo:           repo,
		inventorySvc:   inventorySvc,
		auditSvc:       auditSvc,
		broker:         broker,
		logg:           logg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateQuoteInput) (*models.Quote, error) {
	if input.BuyerID == "" {
		return nil, errors.New(errors.CodeValidation, "buyer id is required")
	}
	if !input.ResourceType.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid resource type %q", input.ResourceType))
	}
	if input.DurationHours <= 0 {
		return nil, errors.New(errors.CodeValidation, "duration must be positive")
	}
	if input.Units <= 0 {
		input.Units = 1
	}
	if input.BuyerMaxPrice.Sign() <= 0 {
		return nil, errors.New(errors.CodeValidation, "buyer max price must be positive")
	}

	quote := &models.Quote{
		BuyerID:       input.BuyerID,
		ResourceType:  input.ResourceType,
		DurationHours: input.DurationHours,
		Units:         input.Units,
		BuyerMaxPrice: input.BuyerMaxPrice,
		Status:        enums.QuoteStatusRequested,
	}

	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, quote); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "creating quote")
		}

		// capacity failure rolls the quote row back with the hold
		if _, err := s.inventorySvc.Reserve(ctx, tx, inventory.ReserveInput{
			QuoteID:      quote.ID,
			ResourceType: input.ResourceType,
			Units:        input.Units,
			TTL:          s.inventoryCfg.ReservationTTL,
		}); err != nil {
			return err
		}

		_, err := s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &quote.ID,
			Action:  enums.AuditActionQuoteCreated,
			Payload: map[string]any{
				"buyer_id":        quote.BuyerID,
				"resource_type":   quote.ResourceType,
				"duration_hours":  quote.DurationHours,
				"units":           quote.Units,
				"buyer_max_price": quote.BuyerMaxPrice,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broker.IncQuoteCreated()
	s.logg.Info(s.logg.WithQuoteID(ctx, quote.ID.String()), "quote created")
	return quote, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	if id == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	quote, err := s.repo.Get(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New(errors.CodeNotFound, "quote not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading quote")
	}
	return quote, nil
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Quote, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	quotes, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing quotes")
	}
	return quotes, nil
}

func (s *service) AuditTrail(ctx context.Context, id uuid.UUID) ([]models.AuditLogEntry, error) {
	return s.auditSvc.Trail(ctx, id)
}

func (s *service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	maxAge := s.negotiationCfg.QuoteMaxAge
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}

	stale, err := s.repo.ListStale(ctx,
		[]enums.QuoteStatus{enums.QuoteStatusRequested, enums.QuoteStatusNegotiating},
		now.Add(-maxAge))
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "listing stale quotes")
	}

	expired := 0
	var errs []error
	for i := range stale {
		if err := s.expireOne(ctx, &stale[i]); err != nil {
			s.logg.Error(s.logg.WithQuoteID(ctx, stale[i].ID.String()), "expiring stale quote", err)
			errs = append(errs, err)
			continue
		}
		expired++
	}
	return expired, multierr.Combine(errs...)
}

func (s *service) expireOne(ctx context.Context, quote *models.Quote) error {
	holdID := uuid.Nil
	if reservation, err := s.inventorySvc.ActiveByQuoteID(ctx, quote.ID); err == nil {
		holdID = reservation.ID
	} else if !errors.IsCode(err, errors.CodeNotFound) {
		return err
	}

	statusWas := quote.Status
	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		expected := quote.Version
		quote.Status = enums.QuoteStatusExpired
		ok, err := s.repo.WithTx(tx).UpdateWithVersion(ctx, quote, expected)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "updating quote")
		}
		if !ok {
			return errors.New(errors.CodeConcurrentModification, "quote was modified by another caller")
		}

		if _, err := s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &quote.ID,
			Action:  enums.AuditActionQuoteExpired,
			Payload: map[string]any{"status_was": statusWas},
		}); err != nil {
			return err
		}

		if holdID != uuid.Nil {
			if _, err := s.inventorySvc.Release(ctx, tx, holdID); err != nil {
				return err
			}
		}
		return nil
	})
}
