package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for compute resources and reservation holds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetResource(ctx context.Context, resourceType enums.ResourceType) (*models.ComputeResource, error)
	ListResources(ctx context.Context) ([]models.ComputeResource, error)
	UpsertResource(ctx context.Context, resource *models.ComputeResource) error

	// HoldUnits increments reserved_units only when enough free capacity
	// remains. Returns false when the guarded update matched no row.
	HoldUnits(ctx context.Context, resourceType enums.ResourceType, units int) (bool, error)
	ReleaseUnits(ctx context.Context, resourceType enums.ResourceType, units int) error

	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ActiveByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.Reservation, error)
	SaveReservation(ctx context.Context, reservation *models.Reservation) error
	ListExpiredActive(ctx context.Context, now time.Time) ([]models.Reservation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetResource(ctx context.Context, resourceType enums.ResourceType) (*models.ComputeResource, error) {
	var resource models.ComputeResource
	if err := r.db.WithContext(ctx).
		First(&resource, "resource_type = ?", resourceType).Error; err != nil {
		return nil, err
	}
	return &resource, nil
}

func (r *repository) ListResources(ctx context.Context) ([]models.ComputeResource, error) {
	var resources []models.ComputeResource
	if err := r.db.WithContext(ctx).
		Order("resource_type ASC").
		Find(&resources).Error; err != nil {
		return nil, err
	}
	return resources, nil
}

func (r *repository) UpsertResource(ctx context.Context, resource *models.ComputeResource) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_units", "updated_at"}),
		}).
		Create(resource).Error
}

func (r *repository) HoldUnits(ctx context.Context, resourceType enums.ResourceType, units int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ComputeResource{}).
		Where("resource_type = ? AND total_units - reserved_units >= ?", resourceType, units).
		UpdateColumn("reserved_units", gorm.Expr("reserved_units + ?", units))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseUnits(ctx context.Context, resourceType enums.ResourceType, units int) error {
	return r.db.WithContext(ctx).
		Model(&models.ComputeResource{}).
		Where("resource_type = ? AND reserved_units >= ?", resourceType, units).
		UpdateColumn("reserved_units", gorm.Expr("reserved_units - ?", units)).Error
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.Reservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).
		First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) ActiveByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).
		Where("quote_id = ? AND status = ?", quoteID, enums.ReservationStatusActive).
		First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) SaveReservation(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Save(reservation).Error
}

func (r *repository) ListExpiredActive(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	var reservations []models.Reservation
	if err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationStatusActive, now).
		Order("expires_at ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}
