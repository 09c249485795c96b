// Package squareprovider adapts the Square Payments API to the settlement
// pipeline's Provider contract.
package squareprovider

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/varga-labs/gridbroker-backend/internal/payments"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	// sandbox nonce for server-driven charges
	defaultSourceID = "cnon:card-nonce-ok"
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var centsPerUnit = decimal.NewFromInt(100)

type provider struct {
	sdk        *sqclient.Client
	locationID string
	logg       *logger.Logger
}

// New builds a Square settlement provider from the configured credentials.
func New(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (payments.Provider, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}

	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("square access token is required")
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, fmt.Errorf("square location id is required")
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(accessToken),
	)

	logg.Info(ctx, "square client initialized")
	return &provider{sdk: sdk, locationID: locationID, logg: logg}, nil
}

func (p *provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

func (p *provider) Charge(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	amount := req.Amount.Mul(centsPerUnit).IntPart()
	currency := sq.Currency(strings.ToUpper(req.Currency))

	request := &sq.CreatePaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       defaultSourceID,
		LocationID:     &p.locationID,
		AmountMoney: &sq.Money{
			Amount:   &amount,
			Currency: &currency,
		},
	}
	if note := strings.TrimSpace(req.Description); note != "" {
		request.Note = &note
	}
	if ref := req.QuoteID.String(); ref != "" {
		request.ReferenceID = &ref
	}

	resp, err := p.sdk.Payments.Create(ctx, request)
	if err != nil {
		return nil, classify(err)
	}

	payment := resp.GetPayment()
	id := payment.GetID()
	if id == nil || *id == "" {
		return nil, errors.New(errors.CodePaymentRetryableFailure, "square returned no payment id")
	}

	p.logg.Info(ctx, fmt.Sprintf("square charge captured (%s)", *id))
	return &payments.ChargeResult{ReferenceID: *id}, nil
}

func classify(err error) error {
	var apiErr *sqcore.APIError
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode >= 500 || apiErr.StatusCode == 429:
			return errors.Wrap(errors.CodePaymentRetryableFailure, err, "square is temporarily unavailable")
		default:
			return errors.Wrap(errors.CodePaymentPermanentFailure, err, "square rejected the charge")
		}
	}
	return errors.Wrap(errors.CodePaymentRetryableFailure, err, "square charge failed")
}
