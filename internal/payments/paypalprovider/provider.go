// Package paypalprovider adapts PayPal's REST checkout API to the settlement
// pipeline's Provider contract. PayPal ships no supported Go SDK, so the
// adapter speaks the REST surface directly; the PayPal-Request-Id header
// carries the idempotency key.
package paypalprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/varga-labs/gridbroker-backend/internal/payments"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

const (
	tokenPath  = "/v1/oauth2/token"
	ordersPath = "/v2/checkout/orders"

	statusCompleted = "COMPLETED"
)

type provider struct {
	baseURL  string
	clientID string
	secret   string
	http     *http.Client
	logg     *logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New builds a PayPal settlement provider from the configured credentials.
func New(cfg config.PayPalConfig, logg *logger.Logger) (payments.Provider, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("paypal base url is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("paypal client id is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("paypal secret is required")
	}
	return &provider{
		baseURL:  baseURL,
		clientID: cfg.ClientID,
		secret:   cfg.Secret,
		http:     &http.Client{Timeout: 30 * time.Second},
		logg:     logg,
	}, nil
}

func (p *provider) Name() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

func (p *provider) Charge(ctx context.Context, req payments.ChargeRequest) (*payments.ChargeResult, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	orderID, err := p.createOrder(ctx, token, req)
	if err != nil {
		return nil, err
	}
	return p.captureOrder(ctx, token, orderID, req.IdempotencyKey)
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *provider) createOrder(ctx context.Context, token string, req payments.ChargeRequest) (string, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.QuoteID.String(),
			"description":  req.Description,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         req.Amount.StringFixed(2),
			},
		}},
	}

	var order orderResponse
	if err := p.post(ctx, ordersPath, token, req.IdempotencyKey, body, &order); err != nil {
		return "", err
	}
	if order.ID == "" {
		return "", errors.New(errors.CodePaymentRetryableFailure, "paypal returned no order id")
	}
	return order.ID, nil
}

func (p *provider) captureOrder(ctx context.Context, token, orderID, idempotencyKey string) (*payments.ChargeResult, error) {
	var captured orderResponse
	path := fmt.Sprintf("%s/%s/capture", ordersPath, orderID)
	if err := p.post(ctx, path, token, idempotencyKey+"-capture", nil, &captured); err != nil {
		return nil, err
	}
	if captured.Status != statusCompleted {
		return nil, errors.New(errors.CodePaymentPermanentFailure,
			fmt.Sprintf("paypal capture ended in status %s", captured.Status))
	}

	p.logg.Info(ctx, fmt.Sprintf("paypal charge captured (%s)", captured.ID))
	return &payments.ChargeResult{ReferenceID: captured.ID}, nil
}

// accessToken returns a cached client-credentials token, refreshing when
// close to expiry.
func (p *provider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tokenPath, form)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternal, err, "building token request")
	}
	httpReq.SetBasicAuth(p.clientID, p.secret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(errors.CodePaymentRetryableFailure, err, "fetching paypal token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, "paypal token request failed")
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(errors.CodePaymentRetryableFailure, err, "decoding paypal token")
	}
	if payload.AccessToken == "" {
		return "", errors.New(errors.CodePaymentRetryableFailure, "paypal returned an empty token")
	}

	p.token = payload.AccessToken
	expiry := time.Duration(payload.ExpiresIn) * time.Second
	if expiry <= 0 || expiry > 5*time.Minute {
		expiry = 5 * time.Minute
	}
	p.tokenExpiry = time.Now().Add(expiry - 30*time.Second)
	return p.token, nil
}

func (p *provider) post(ctx context.Context, path, token, requestID string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "encoding paypal request")
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "building paypal request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("PayPal-Request-Id", requestID)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return errors.Wrap(errors.CodePaymentRetryableFailure, err, "calling paypal")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return classifyStatus(resp.StatusCode, fmt.Sprintf("paypal returned %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.CodePaymentRetryableFailure, err, "decoding paypal response")
	}
	return nil
}

func classifyStatus(status int, message string) error {
	if status >= 500 || status == http.StatusTooManyRequests {
		return errors.New(errors.CodePaymentRetryableFailure, message)
	}
	return errors.New(errors.CodePaymentPermanentFailure, message)
}
