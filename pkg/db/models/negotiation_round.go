package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// NegotiationRound is one offer in a quote's haggling history. Rows are
// append-only and never mutated once written.
type NegotiationRound struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	QuoteID   uuid.UUID          `gorm:"column:quote_id;type:uuid;not null;uniqueIndex:idx_round_quote_seq"`
	Seq       int                `gorm:"column:seq;not null;uniqueIndex:idx_round_quote_seq"`
	Proposer  enums.ProposerSide `gorm:"column:proposer;not null"`
	Price     decimal.Decimal    `gorm:"column:price;type:numeric(10,2);not null"`
	Rationale string             `gorm:"column:rationale"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}
