package quotes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository manages persistence for quotes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, quote *models.Quote) error
	Get(ctx context.Context, id uuid.UUID) (*models.Quote, error)
	ListRecent(ctx context.Context, limit int) ([]models.Quote, error)
	ListStale(ctx context.Context, statuses []enums.QuoteStatus, olderThan time.Time) ([]models.Quote, error)

	// UpdateWithVersion persists the mutated quote only when the stored row
	// still carries expectedVersion. Returns false when another writer won.
	UpdateWithVersion(ctx context.Context, quote *models.Quote, expectedVersion int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a quote repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, quote *models.Quote) error {
	if quote.ID == uuid.Nil {
		quote.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	var quote models.Quote
	if err := r.db.WithContext(ctx).First(&quote, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]models.Quote, error) {
	var quotes []models.Quote
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&quotes).Error; err != nil {
		return nil, err
	}
	return quotes, nil
}

func (r *repository) ListStale(ctx context.Context, statuses []enums.QuoteStatus, olderThan time.Time) ([]models.Quote, error) {
	var quotes []models.Quote
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at <= ?", statuses, olderThan).
		Order("created_at ASC").
		Find(&quotes).Error; err != nil {
		return nil, err
	}
	return quotes, nil
}

func (r *repository) UpdateWithVersion(ctx context.Context, quote *models.Quote, expectedVersion int) (bool, error) {
	quote.Version = expectedVersion + 1
	res := r.db.WithContext(ctx).
		Model(&models.Quote{}).
		Where("id = ? AND version = ?", quote.ID, expectedVersion).
		Select("Status", "ProposedPrice", "RoundCount", "RejectReason", "Version", "UpdatedAt").
		Updates(quote)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
