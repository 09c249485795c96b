package enums

import "fmt"

// QuoteStatus tracks the lifecycle of a quote negotiation.
type QuoteStatus string

const (
	QuoteStatusRequested      QuoteStatus = "requested"
	QuoteStatusNegotiating    QuoteStatus = "negotiating"
	QuoteStatusAccepted       QuoteStatus = "accepted"
	QuoteStatusRejected       QuoteStatus = "rejected"
	QuoteStatusExpired        QuoteStatus = "expired"
	QuoteStatusPaymentPending QuoteStatus = "payment_pending"
	QuoteStatusSettled        QuoteStatus = "settled"
)

var validQuoteStatuses = []QuoteStatus{
	QuoteStatusRequested,
	QuoteStatusNegotiating,
	QuoteStatusAccepted,
	QuoteStatusRejected,
	QuoteStatusExpired,
	QuoteStatusPaymentPending,
	QuoteStatusSettled,
}

// String implements fmt.Stringer.
func (q QuoteStatus) String() string {
	return string(q)
}

// IsValid reports whether the value is a known QuoteStatus.
func (q QuoteStatus) IsValid() bool {
	for _, candidate := range validQuoteStatuses {
		if candidate == q {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the quote can no longer transition.
func (q QuoteStatus) IsTerminal() bool {
	switch q {
	case QuoteStatusRejected, QuoteStatusExpired, QuoteStatusSettled:
		return true
	default:
		return false
	}
}

// ParseQuoteStatus converts raw input into a QuoteStatus.
func ParseQuoteStatus(value string) (QuoteStatus, error) {
	for _, candidate := range validQuoteStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quote status %q", value)
}
