package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository manages persistence for settlement transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, transaction *models.Transaction) error
	GetByKey(ctx context.Context, quoteID uuid.UUID, provider enums.PaymentProvider, key string) (*models.Transaction, error)
	Save(ctx context.Context, transaction *models.Transaction) error
	ListByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.Transaction, error)
	SucceededByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, transaction *models.Transaction) error {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) GetByKey(ctx context.Context, quoteID uuid.UUID, provider enums.PaymentProvider, key string) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := r.db.WithContext(ctx).
		Where("quote_id = ? AND provider = ? AND idempotency_key = ?", quoteID, provider, key).
		First(&transaction).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) Save(ctx context.Context, transaction *models.Transaction) error {
	return r.db.WithContext(ctx).Save(transaction).Error
}

func (r *repository) ListByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("quote_id = ?", quoteID).
		Order("created_at ASC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *repository) SucceededByQuoteID(ctx context.Context, quoteID uuid.UUID) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := r.db.WithContext(ctx).
		Where("quote_id = ? AND status = ?", quoteID, enums.TransactionStatusSucceeded).
		First(&transaction).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}
