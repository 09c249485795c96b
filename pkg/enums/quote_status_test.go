package enums

import "testing"

func TestParseQuoteStatus(t *testing.T) {
	status, err := ParseQuoteStatus("payment_pending")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != QuoteStatusPaymentPending {
		t.Fatalf("unexpected status %s", status)
	}

	if _, err := ParseQuoteStatus("haggling"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestQuoteStatusIsTerminal(t *testing.T) {
	terminal := []QuoteStatus{QuoteStatusRejected, QuoteStatusExpired, QuoteStatusSettled}
	for _, status := range terminal {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	open := []QuoteStatus{QuoteStatusRequested, QuoteStatusNegotiating, QuoteStatusAccepted, QuoteStatusPaymentPending}
	for _, status := range open {
		if status.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

func TestParsePaymentProvider(t *testing.T) {
	provider, err := ParsePaymentProvider("paypal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != PaymentProviderPayPal {
		t.Fatalf("unexpected provider %s", provider)
	}

	if _, err := ParsePaymentProvider("venmo"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
