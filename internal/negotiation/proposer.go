package negotiation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

// Offer is one prior price in a quote's round history, oldest first.
type Offer struct {
	Seq      int                `json:"seq"`
	Proposer enums.ProposerSide `json:"proposer"`
	Price    decimal.Decimal    `json:"price"`
}

// ProposalRequest carries the market state a proposer prices against. The
// buyer's limit is deliberately absent; the seller side never sees it.
type ProposalRequest struct {
	ResourceType  enums.ResourceType `json:"resource_type"`
	DurationHours int                `json:"duration_hours"`
	Units         int                `json:"units"`
	History       []Offer            `json:"round_history"`
}

// Proposal is a priced counter-offer with its supporting rationale.
type Proposal struct {
	Price     decimal.Decimal `json:"price"`
	Rationale string          `json:"rationale"`
}

var (
	// ErrProposalTransient signals a failure worth retrying (timeout,
	// upstream unavailable).
	ErrProposalTransient = errors.New("proposal source temporarily unavailable")
	// ErrProposalMalformed signals an unusable response (non-positive or
	// unparseable price).
	ErrProposalMalformed = errors.New("proposal response malformed")
)

// Proposer produces the seller-side counter-offer for one negotiation round.
// Implementations may be slow and may fail with ErrProposalTransient or
// ErrProposalMalformed.
type Proposer interface {
	Propose(ctx context.Context, req ProposalRequest) (Proposal, error)
}
