package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// ChargeRequest describes one charge attempt against a payment rail.
type ChargeRequest struct {
	QuoteID        uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// ChargeResult carries the provider's reference for a captured charge.
type ChargeResult struct {
	ReferenceID string
}

// Provider is a payment rail adapter. Charge failures must be classified
// with errors.CodePaymentRetryableFailure or errors.CodePaymentPermanentFailure
// so the pipeline knows whether retrying the same provider can help.
type Provider interface {
	Name() enums.PaymentProvider
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// IdempotencyKeyFor derives the deterministic per-(quote, provider) charge
// key. A fallback provider therefore always gets a fresh key.
func IdempotencyKeyFor(quoteID uuid.UUID, provider enums.PaymentProvider) string {
	return uuid.NewSHA1(quoteID, []byte("settle:"+provider.String())).String()
}
