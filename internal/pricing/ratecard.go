// Package pricing provides the in-process seller: a deterministic rate card
// that prices compute hours and concedes a fixed fraction per round.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/varga-labs/gridbroker-backend/internal/negotiation"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

var defaultHourlyRates = map[enums.ResourceType]decimal.Decimal{
	enums.ResourceTypeGPU: decimal.RequireFromString("2.50"),
	enums.ResourceTypeCPU: decimal.RequireFromString("0.40"),
	enums.ResourceTypeTPU: decimal.RequireFromString("3.75"),
}

// RateCard implements negotiation.Proposer with deterministic prices: the
// opening offer carries a markup over list cost and every later round
// concedes a fixed fraction, never dropping below list cost.
type RateCard struct {
	rates         map[enums.ResourceType]decimal.Decimal
	openingMarkup decimal.Decimal
	concession    decimal.Decimal
}

// Option adjusts a RateCard.
type Option func(*RateCard)

// WithHourlyRate overrides the list rate for one resource type.
func WithHourlyRate(resourceType enums.ResourceType, rate decimal.Decimal) Option {
	return func(rc *RateCard) {
		rc.rates[resourceType] = rate
	}
}

// WithOpeningMarkup overrides the first-offer markup (default 1.25).
func WithOpeningMarkup(markup decimal.Decimal) Option {
	return func(rc *RateCard) {
		rc.openingMarkup = markup
	}
}

// WithConcession overrides the per-round concession fraction (default 0.10).
func WithConcession(fraction decimal.Decimal) Option {
	return func(rc *RateCard) {
		rc.concession = fraction
	}
}

// NewRateCard builds a rate card with the default GPU/CPU/TPU rates.
func NewRateCard(opts ...Option) *RateCard {
	rc := &RateCard{
		rates:         map[enums.ResourceType]decimal.Decimal{},
		openingMarkup: decimal.RequireFromString("1.25"),
		concession:    decimal.RequireFromString("0.10"),
	}
	for resourceType, rate := range defaultHourlyRates {
		rc.rates[resourceType] = rate
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Propose prices one negotiation round.
func (rc *RateCard) Propose(ctx context.Context, req negotiation.ProposalRequest) (negotiation.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return negotiation.Proposal{}, fmt.Errorf("%w: %v", negotiation.ErrProposalTransient, err)
	}

	rate, ok := rc.rates[req.ResourceType]
	if !ok {
		return negotiation.Proposal{}, fmt.Errorf("%w: no rate for resource type %q",
			negotiation.ErrProposalMalformed, req.ResourceType)
	}
	if req.DurationHours <= 0 || req.Units <= 0 {
		return negotiation.Proposal{}, fmt.Errorf("%w: non-positive duration or units",
			negotiation.ErrProposalMalformed)
	}

	listCost := rate.
		Mul(decimal.NewFromInt(int64(req.DurationHours))).
		Mul(decimal.NewFromInt(int64(req.Units)))

	last, rounds := lastSellerOffer(req.History)
	if rounds == 0 {
		price := listCost.Mul(rc.openingMarkup).Round(2)
		return negotiation.Proposal{
			Price: price,
			Rationale: fmt.Sprintf("opening offer for %d %s unit(s) over %dh at list %s",
				req.Units, req.ResourceType, req.DurationHours, listCost.StringFixed(2)),
		}, nil
	}

	price := last.Mul(decimal.NewFromInt(1).Sub(rc.concession)).Round(2)
	if price.Cmp(listCost) < 0 {
		price = listCost.Round(2)
	}
	return negotiation.Proposal{
		Price: price,
		Rationale: fmt.Sprintf("concession after %d round(s), holding at or above list %s",
			rounds, listCost.StringFixed(2)),
	}, nil
}

func lastSellerOffer(history []negotiation.Offer) (decimal.Decimal, int) {
	var last decimal.Decimal
	count := 0
	for _, offer := range history {
		if offer.Proposer != enums.ProposerSideSeller {
			continue
		}
		last = offer.Price
		count++
	}
	return last, count
}
