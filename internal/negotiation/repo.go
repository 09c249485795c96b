package negotiation

import (
	"context"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Repository manages persistence for negotiation rounds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRound(ctx context.Context, round *models.NegotiationRound) error
	ListRounds(ctx context.Context, quoteID uuid.UUID) ([]models.NegotiationRound, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a negotiation-round repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRound(ctx context.Context, round *models.NegotiationRound) error {
	if round.ID == uuid.Nil {
		round.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(round).Error
}

func (r *repository) ListRounds(ctx context.Context, quoteID uuid.UUID) ([]models.NegotiationRound, error) {
	var rounds []models.NegotiationRound
	if err := r.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("seq ASC").
		Find(&rounds).Error; err != nil {
		return nil, err
	}
	return rounds, nil
}
