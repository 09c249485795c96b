package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// Reservation is a temporary hold of inventory units tied to one quote.
type Reservation struct {
	ID           uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	QuoteID      uuid.UUID               `gorm:"column:quote_id;type:uuid;not null;index"`
	ResourceType enums.ResourceType      `gorm:"column:resource_type;not null;index"`
	Units        int                     `gorm:"column:units;not null"`
	Status       enums.ReservationStatus `gorm:"column:status;not null;default:'active';index"`
	ExpiresAt    time.Time               `gorm:"column:expires_at;not null;index"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
