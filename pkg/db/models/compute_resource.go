package models

import (
	"time"

	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// ComputeResource tracks total/reserved units per resource type. The row is
// only mutated through guarded increments so reserved never exceeds total.
type ComputeResource struct {
	ResourceType  enums.ResourceType `gorm:"column:resource_type;primaryKey"`
	TotalUnits    int                `gorm:"column:total_units;not null;default:0"`
	ReservedUnits int                `gorm:"column:reserved_units;not null;default:0"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableUnits is the capacity still open to new reservations.
func (c ComputeResource) AvailableUnits() int {
	return c.TotalUnits - c.ReservedUnits
}
