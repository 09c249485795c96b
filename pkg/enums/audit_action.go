package enums

import "fmt"

// AuditAction enumerates every auditable transition in the broker. Each state
// change writes exactly one entry with one of these actions.
type AuditAction string

const (
	AuditActionQuoteCreated         AuditAction = "quote_created"
	AuditActionNegotiationTurn      AuditAction = "negotiation_turn"
	AuditActionQuoteAccepted        AuditAction = "quote_accepted"
	AuditActionQuoteRejected        AuditAction = "quote_rejected"
	AuditActionQuoteExpired         AuditAction = "quote_expired"
	AuditActionReservationCreated   AuditAction = "reservation_created"
	AuditActionReservationReleased  AuditAction = "reservation_released"
	AuditActionReservationAllocated AuditAction = "reservation_allocated"
	AuditActionPaymentPending       AuditAction = "payment_pending"
	AuditActionPaymentSucceeded     AuditAction = "payment_succeeded"
	AuditActionPaymentFailed        AuditAction = "payment_failed"
)

var validAuditActions = []AuditAction{
	AuditActionQuoteCreated,
	AuditActionNegotiationTurn,
	AuditActionQuoteAccepted,
	AuditActionQuoteRejected,
	AuditActionQuoteExpired,
	AuditActionReservationCreated,
	AuditActionReservationReleased,
	AuditActionReservationAllocated,
	AuditActionPaymentPending,
	AuditActionPaymentSucceeded,
	AuditActionPaymentFailed,
}

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
