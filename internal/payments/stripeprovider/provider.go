// Package stripeprovider adapts Stripe PaymentIntents to the settlement
// pipeline's Provider contract.
package stripeprovider

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/varga-labs/gridbroker-backend/internal/payments"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	pkgstripe "github.com/varga-labs/gridbroker-backend/pkg/stripe"
)

type provider struct {
	client *pkgstripe.Client
	logg   *logger.Logger
}

// New wraps the shared Stripe client as a settlement provider.
func New(client *pkgstripe.Client, logg *logger.Logger) (payments.Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &provider{client: client, logg: logg}, nil
}

func (p *provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

func (p *provider) Charge(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount.Mul(centsPerUnit).IntPart()),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Confirm:       stripe.Bool(true),
		PaymentMethod: stripe.String("pm_card_visa"),
		Description:   stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("quote_id", req.QuoteID.String())

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, classify(err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded &&
		intent.Status != stripe.PaymentIntentStatusProcessing {
		return nil, errors.New(errors.CodePaymentPermanentFailure,
			fmt.Sprintf("payment intent ended in status %s", intent.Status))
	}

	p.logg.Info(ctx, fmt.Sprintf("stripe charge captured (%s)", intent.ID))
	return &payments.ChargeResult{ReferenceID: intent.ID}, nil
}

var centsPerUnit = decimal.NewFromInt(100)

func classify(err error) error {
	var stripeErr *stripe.Error
	if stderrors.As(err, &stripeErr) {
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard:
			return errors.Wrap(errors.CodePaymentPermanentFailure, err, "stripe declined the charge")
		case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
			return errors.Wrap(errors.CodePaymentPermanentFailure, err, "stripe rejected the charge request")
		case stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429:
			return errors.Wrap(errors.CodePaymentRetryableFailure, err, "stripe is temporarily unavailable")
		}
	}
	// transport failures and timeouts are worth retrying
	return errors.Wrap(errors.CodePaymentRetryableFailure, err, "stripe charge failed")
}
