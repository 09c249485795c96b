package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// Transaction records one settlement attempt stream against a provider. The
// unique index on (quote_id, provider, idempotency_key) is what makes retried
// and concurrent settle calls collapse onto a single charge.
type Transaction struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	QuoteID        uuid.UUID               `gorm:"column:quote_id;type:uuid;not null;index:idx_transactions_quote_status;uniqueIndex:idx_tx_quote_provider_key"`
	Provider       enums.PaymentProvider   `gorm:"column:provider;not null;uniqueIndex:idx_tx_quote_provider_key"`
	IdempotencyKey string                  `gorm:"column:idempotency_key;not null;uniqueIndex:idx_tx_quote_provider_key"`
	ProviderRef    string                  `gorm:"column:provider_ref"`
	Amount         decimal.Decimal         `gorm:"column:amount;type:numeric(10,2);not null"`
	Status         enums.TransactionStatus `gorm:"column:status;not null;default:'pending';index:idx_transactions_quote_status"`
	FailureReason  *string                 `gorm:"column:failure_reason"`
	Attempts       int                     `gorm:"column:attempts;not null;default:0"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
