package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// Quote is a single negotiation instance between a buyer and the exchange.
// The version column backs the optimistic check that serializes transitions
// per quote; every UPDATE must match the version it read.
type Quote struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID       string             `gorm:"column:buyer_id;not null;index"`
	ResourceType  enums.ResourceType `gorm:"column:resource_type;not null"`
	DurationHours int                `gorm:"column:duration_hours;not null"`
	Units         int                `gorm:"column:units;not null;default:1"`
	BuyerMaxPrice decimal.Decimal    `gorm:"column:buyer_max_price;type:numeric(10,2);not null"`
	ProposedPrice decimal.Decimal    `gorm:"column:proposed_price;type:numeric(10,2)"`
	RoundCount    int                `gorm:"column:round_count;not null;default:0"`
	Status        enums.QuoteStatus  `gorm:"column:status;not null;default:'requested';index"`
	RejectReason  *string            `gorm:"column:reject_reason"`
	Version       int                `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
