package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// AuditLogEntry is one immutable line in the broker's audit trail. QuoteID is
// nil for system-level events. Rows are never updated or deleted.
type AuditLogEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	QuoteID   *uuid.UUID        `gorm:"column:quote_id;type:uuid;index"`
	Action    enums.AuditAction `gorm:"column:action;not null;index"`
	Payload   json.RawMessage   `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime;index"`
}
