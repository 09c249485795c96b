package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/varga-labs/gridbroker-backend/internal/negotiation"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
)

func TestOpeningOfferCarriesMarkup(t *testing.T) {
	t.Parallel()

	rc := NewRateCard()
	proposal, err := rc.Propose(context.Background(), negotiation.ProposalRequest{
		ResourceType:  enums.ResourceTypeGPU,
		DurationHours: 4,
		Units:         2,
	})
	if err != nil {
		t.Fatalf("Propose error: %v", err)
	}

	// 2.50 * 4h * 2 units = 20.00 list, 1.25 markup → 25.00
	want := decimal.RequireFromString("25.00")
	if !proposal.Price.Equal(want) {
		t.Fatalf("expected %s, got %s", want, proposal.Price)
	}
	if proposal.Rationale == "" {
		t.Fatal("expected a rationale")
	}
}

func TestConcessionsDecreaseButFloorAtListCost(t *testing.T) {
	t.Parallel()

	rc := NewRateCard()
	ctx := context.Background()
	req := negotiation.ProposalRequest{
		ResourceType:  enums.ResourceTypeCPU,
		DurationHours: 10,
		Units:         1,
	}

	var history []negotiation.Offer
	var prev decimal.Decimal
	listCost := decimal.RequireFromString("4.00")

	for seq := 1; seq <= 10; seq++ {
		req.History = history
		proposal, err := rc.Propose(ctx, req)
		if err != nil {
			t.Fatalf("round %d: %v", seq, err)
		}
		if seq > 1 && proposal.Price.Cmp(prev) > 0 {
			t.Fatalf("round %d price %s rose above previous %s", seq, proposal.Price, prev)
		}
		if proposal.Price.Cmp(listCost) < 0 {
			t.Fatalf("round %d price %s fell below list cost", seq, proposal.Price)
		}
		prev = proposal.Price
		history = append(history, negotiation.Offer{
			Seq:      seq,
			Proposer: enums.ProposerSideSeller,
			Price:    proposal.Price,
		})
	}

	if !prev.Equal(listCost) {
		t.Fatalf("expected concessions to converge on list cost, ended at %s", prev)
	}
}

func TestProposeIsDeterministic(t *testing.T) {
	t.Parallel()

	rc := NewRateCard()
	req := negotiation.ProposalRequest{
		ResourceType:  enums.ResourceTypeTPU,
		DurationHours: 2,
		Units:         3,
	}

	first, err := rc.Propose(context.Background(), req)
	if err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	second, err := rc.Propose(context.Background(), req)
	if err != nil {
		t.Fatalf("Propose error: %v", err)
	}
	if !first.Price.Equal(second.Price) || first.Rationale != second.Rationale {
		t.Fatalf("expected identical proposals, got %v vs %v", first, second)
	}
}

func TestProposeUnknownResourceIsMalformed(t *testing.T) {
	t.Parallel()

	rc := NewRateCard()
	_, err := rc.Propose(context.Background(), negotiation.ProposalRequest{
		ResourceType:  enums.ResourceType("FPGA"),
		DurationHours: 1,
		Units:         1,
	})
	if !errors.Is(err, negotiation.ErrProposalMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestProposeCancelledContextIsTransient(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := NewRateCard()
	_, err := rc.Propose(ctx, negotiation.ProposalRequest{
		ResourceType:  enums.ResourceTypeGPU,
		DurationHours: 1,
		Units:         1,
	})
	if !errors.Is(err, negotiation.ErrProposalTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
