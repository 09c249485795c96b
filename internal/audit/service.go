package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"gorm.io/gorm"
)

// Service defines operations that record and read the append-only audit trail.
type Service interface {
	// Record writes an audit entry. When tx is non-nil the entry joins the
	// caller's transaction so the state change and its audit record commit
	// or roll back together.
	Record(ctx context.Context, tx *gorm.DB, input RecordEntryInput) (*models.AuditLogEntry, error)
	Trail(ctx context.Context, quoteID uuid.UUID) ([]models.AuditLogEntry, error)
	HasAction(ctx context.Context, quoteID uuid.UUID, action enums.AuditAction) (bool, error)
}

type service struct {
	repo Repository
}

// RecordEntryInput captures the immutable data an audit entry requires.
type RecordEntryInput struct {
	QuoteID *uuid.UUID        `json:"quote_id,omitempty"`
	Action  enums.AuditAction `json:"action"`
	Payload any               `json:"payload"`
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordEntryInput) (*models.AuditLogEntry, error) {
	if !input.Action.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid audit action %q", input.Action))
	}

	payload, err := marshalPayload(input.Payload)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAuditWriteFailure, err, "encoding audit payload")
	}

	entry := &models.AuditLogEntry{
		QuoteID: input.QuoteID,
		Action:  input.Action,
		Payload: payload,
	}

	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, errors.Wrap(errors.CodeAuditWriteFailure, err, "persisting audit entry")
	}
	return entry, nil
}

func (s *service) Trail(ctx context.Context, quoteID uuid.UUID) ([]models.AuditLogEntry, error) {
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}
	return s.repo.ListByQuoteID(ctx, quoteID)
}

func (s *service) HasAction(ctx context.Context, quoteID uuid.UUID, action enums.AuditAction) (bool, error) {
	if quoteID == uuid.Nil {
		return false, errors.New(errors.CodeValidation, "quote id is required")
	}
	if !action.IsValid() {
		return false, errors.New(errors.CodeValidation, fmt.Sprintf("invalid audit action %q", action))
	}

	entries, err := s.repo.ListByQuoteID(ctx, quoteID)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}
