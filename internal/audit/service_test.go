package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"gorm.io/gorm"
)

type fakeRepository struct {
	createFn func(ctx context.Context, entry *models.AuditLogEntry) error
	listFn   func(ctx context.Context, quoteID uuid.UUID) ([]models.AuditLogEntry, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if f.createFn != nil {
		return f.createFn(ctx, entry)
	}
	return nil
}

func (f *fakeRepository) ListByQuoteID(ctx context.Context, quoteID uuid.UUID) ([]models.AuditLogEntry, error) {
	if f.listFn != nil {
		return f.listFn(ctx, quoteID)
	}
	return nil, nil
}

func TestService_Record(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	quoteID := uuid.New()
	payload := map[string]any{"price": "1.80", "round": 2}

	var created *models.AuditLogEntry
	repo.createFn = func(ctx context.Context, entry *models.AuditLogEntry) error {
		created = entry
		return nil
	}

	got, err := svc.Record(context.Background(), nil, RecordEntryInput{
		QuoteID: &quoteID,
		Action:  enums.AuditActionNegotiationTurn,
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if created == nil {
		t.Fatal("expected audit entry to be created")
	}
	if created.QuoteID == nil || *created.QuoteID != quoteID {
		t.Fatalf("unexpected quote id: %v", created.QuoteID)
	}
	if created.Action != enums.AuditActionNegotiationTurn {
		t.Fatalf("unexpected action: %s", created.Action)
	}
	var decoded map[string]any
	if err := json.Unmarshal(created.Payload, &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded["price"] != "1.80" {
		t.Fatalf("payload mismatch: %s", created.Payload)
	}
	if got != created {
		t.Fatal("service should return created entry")
	}
}

func TestService_RecordNilPayloadDefaultsToEmptyObject(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)

	var created *models.AuditLogEntry
	repo.createFn = func(ctx context.Context, entry *models.AuditLogEntry) error {
		created = entry
		return nil
	}

	if _, err := svc.Record(context.Background(), nil, RecordEntryInput{
		Action: enums.AuditActionReservationReleased,
	}); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if string(created.Payload) != "{}" {
		t.Fatalf("expected empty object payload, got %s", created.Payload)
	}
}

func TestService_RecordRejectsInvalidAction(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)

	_, err := svc.Record(context.Background(), nil, RecordEntryInput{Action: enums.AuditAction("bogus")})
	if !errors.IsCode(err, errors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_RecordWrapsRepoFailure(t *testing.T) {
	repo := &fakeRepository{
		createFn: func(ctx context.Context, entry *models.AuditLogEntry) error {
			return gorm.ErrInvalidDB
		},
	}
	svc, _ := NewService(repo)

	_, err := svc.Record(context.Background(), nil, RecordEntryInput{Action: enums.AuditActionQuoteCreated})
	if !errors.IsCode(err, errors.CodeAuditWriteFailure) {
		t.Fatalf("expected audit write failure, got %v", err)
	}
}

func TestService_HasAction(t *testing.T) {
	quoteID := uuid.New()
	repo := &fakeRepository{
		listFn: func(ctx context.Context, id uuid.UUID) ([]models.AuditLogEntry, error) {
			return []models.AuditLogEntry{
				{QuoteID: &quoteID, Action: enums.AuditActionQuoteCreated},
				{QuoteID: &quoteID, Action: enums.AuditActionQuoteAccepted},
			}, nil
		},
	}
	svc, _ := NewService(repo)

	found, err := svc.HasAction(context.Background(), quoteID, enums.AuditActionQuoteAccepted)
	if err != nil {
		t.Fatalf("HasAction error: %v", err)
	}
	if !found {
		t.Fatal("expected accepted action to be present")
	}

	found, err = svc.HasAction(context.Background(), quoteID, enums.AuditActionPaymentFailed)
	if err != nil {
		t.Fatalf("HasAction error: %v", err)
	}
	if found {
		t.Fatal("did not expect payment_failed action")
	}
}
