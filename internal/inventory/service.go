package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// Service defines operations over compute capacity and reservation holds.
type Service interface {
	// Reserve places an active hold against free capacity. When tx is non-nil
	// the hold joins the caller's transaction.
	Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.Reservation, error)
	// Release returns held units to the pool. A no-op for reservations that
	// are not active.
	Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.Reservation, error)
	// Allocate converts an active hold into a permanent allocation.
	Allocate(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.Reservation, error)

	ActiveByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.Reservation, error)
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
	ListResources(ctx context.Context) ([]models.ComputeResource, error)
	Seed(ctx context.Context, inputs []SeedResourceInput) error
}

// ReserveInput describes a requested capacity hold.
type ReserveInput struct {
	QuoteID      uuid.UUID
	ResourceType enums.ResourceType
	Units        int
	TTL          time.Duration
}

// SeedResourceInput sets the total capacity for one resource type.
type SeedResourceInput struct {
	ResourceType enums.ResourceType `json:"resource_type"`
	TotalUnits   int                `json:"total_units"`
}

type service struct {
	client   *db.Client
	repo     Repository
	auditSvc audit.Service
	logg     *logger.Logger
}

// NewService wires an inventory service.
func NewService(client *db.Client, repo Repository, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{client: client, repo: repo, auditSvc: auditSvc, logg: logg}, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.Reservation, error) {
	if input.QuoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	if !input.ResourceType.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid resource type %q", input.ResourceType))
	}
	if input.Units <= 0 {
		return nil, errors.New(errors.CodeValidation, "units must be positive")
	}
	if input.TTL <= 0 {
		return nil, errors.New(errors.CodeValidation, "reservation ttl must be positive")
	}

	var reservation *models.Reservation
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		held, err := repo.HoldUnits(ctx, input.ResourceType, input.Units)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "holding units")
		}
		if !held {
			return errors.New(errors.CodeInsufficientCapacity,
				fmt.Sprintf("insufficient %s capacity for %d unit(s)", input.ResourceType, input.Units))
		}

		reservation = &models.Reservation{
			QuoteID:      input.QuoteID,
			ResourceType: input.ResourceType,
			Units:        input.Units,
			Status:       enums.ReservationStatusActive,
			ExpiresAt:    time.Now().UTC().Add(input.TTL),
		}
		if err := repo.CreateReservation(ctx, reservation); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "creating reservation")
		}

		_, err = s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &input.QuoteID,
			Action:  enums.AuditActionReservationCreated,
			Payload: reservationPayload(reservation),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.Reservation, error) {
	if reservationID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "reservation id is required")
	}

	var reservation *models.Reservation
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		found, err := repo.GetReservation(ctx, reservationID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.New(errors.CodeNotFound, "reservation not found")
			}
			return errors.Wrap(errors.CodeInternal, err, "loading reservation")
		}
		reservation = found

		// releasing a released or allocated hold is a no-op
		if reservation.Status != enums.ReservationStatusActive {
			return nil
		}

		if err := repo.ReleaseUnits(ctx, reservation.ResourceType, reservation.Units); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "returning units")
		}
		reservation.Status = enums.ReservationStatusReleased
		if err := repo.SaveReservation(ctx, reservation); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving reservation")
		}

		_, err = s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &reservation.QuoteID,
			Action:  enums.AuditActionReservationReleased,
			Payload: reservationPayload(reservation),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) Allocate(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.Reservation, error) {
	if reservationID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "reservation id is required")
	}

	var reservation *models.Reservation
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		found, err := repo.GetReservation(ctx, reservationID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.New(errors.CodeNotFound, "reservation not found")
			}
			return errors.Wrap(errors.CodeInternal, err, "loading reservation")
		}
		reservation = found

		if reservation.Status == enums.ReservationStatusAllocated {
			return nil
		}
		if reservation.Status != enums.ReservationStatusActive {
			return errors.New(errors.CodeStateConflict,
				fmt.Sprintf("cannot allocate %s reservation", reservation.Status))
		}

		// allocated units stay counted against reserved capacity
		reservation.Status = enums.ReservationStatusAllocated
		if err := repo.SaveReservation(ctx, reservation); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving reservation")
		}

		_, err = s.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &reservation.QuoteID,
			Action:  enums.AuditActionReservationAllocated,
			Payload: reservationPayload(reservation),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) ActiveByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.Reservation, error) {
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	reservation, err := s.repo.ActiveByQuoteID(ctx, quoteID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New(errors.CodeNotFound, "no active reservation for quote")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading reservation")
	}
	return reservation, nil
}

func (s *service) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "listing expired reservations")
	}

	released := 0
	var errs []error
	for _, reservation := range expired {
		if _, err := s.Release(ctx, nil, reservation.ID); err != nil {
			s.logg.Error(ctx, "releasing expired reservation", err)
			errs = append(errs, err)
			continue
		}
		released++
	}
	return released, multierr.Combine(errs...)
}

func (s *service) ListResources(ctx context.Context) ([]models.ComputeResource, error) {
	resources, err := s.repo.ListResources(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing resources")
	}
	return resources, nil
}

func (s *service) Seed(ctx context.Context, inputs []SeedResourceInput) error {
	if len(inputs) == 0 {
		return errors.New(errors.CodeValidation, "at least one resource is required")
	}
	for _, input := range inputs {
		if !input.ResourceType.IsValid() {
			return errors.New(errors.CodeValidation, fmt.Sprintf("invalid resource type %q", input.ResourceType))
		}
		if input.TotalUnits < 0 {
			return errors.New(errors.CodeValidation, "total units must not be negative")
		}
	}

	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		for _, input := range inputs {
			resource := &models.ComputeResource{
				ResourceType: input.ResourceType,
				TotalUnits:   input.TotalUnits,
			}
			if err := repo.UpsertResource(ctx, resource); err != nil {
				return errors.Wrap(errors.CodeInternal, err, "seeding resource")
			}
		}
		return nil
	})
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.client.WithTx(ctx, fn)
}

func reservationPayload(reservation *models.Reservation) map[string]any {
	return map[string]any{
		"reservation_id": reservation.ID,
		"resource_type":  reservation.ResourceType,
		"units":          reservation.Units,
		"status":         reservation.Status,
		"expires_at":     reservation.ExpiresAt,
	}
}
