package negotiation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/varga-labs/gridbroker-backend/internal/audit"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/internal/quotes"
	"github.com/varga-labs/gridbroker-backend/pkg/config"
	"github.com/varga-labs/gridbroker-backend/pkg/db"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	"github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
	"github.com/varga-labs/gridbroker-backend/pkg/metrics"
	"gorm.io/gorm"
)

// RejectReasonUnavailable is persisted when the proposal source exhausted
// its retry budget.
const RejectReasonUnavailable = "negotiation_unavailable"

// RejectReasonRoundsExhausted is persisted when no offer converged within
// the round cap.
const RejectReasonRoundsExhausted = "max_rounds_exhausted"

// Engine drives a quote through its negotiation lifecycle one round at a
// time. Terminal outcomes are reported as quote state, not as errors.
type Engine interface {
	// Step executes exactly one negotiation round.
	Step(ctx context.Context, quoteID uuid.UUID) (*models.Quote, error)
	// Run executes rounds until the quote reaches a terminal negotiation
	// state.
	Run(ctx context.Context, quoteID uuid.UUID) (*models.Quote, error)
}

type engine struct {
	cfg          config.NegotiationConfig
	client       *db.Client
	quotesRepo   quotes.Repository
	roundsRepo   Repository
	inventorySvc inventory.Service
	auditSvc     audit.Service
	proposer     Proposer
	broker       *metrics.BrokerMetrics
	logg         *logger.Logger
}

// NewEngine wires a negotiation engine.
func NewEngine(
	cfg config.NegotiationConfig,
	client *db.Client,
	quotesRepo quotes.Repository,
	roundsRepo Repository,
	inventorySvc inventory.Service,
	auditSvc audit.Service,
	proposer Proposer,
	broker *metrics.BrokerMetrics,
	logg *logger.Logger,
) (Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if quotesRepo == nil {
		return nil, fmt.Errorf("quote repository required")
	}
	if roundsRepo == nil {
		return nil, fmt.Errorf("round repository required")
	}
	if inventorySvc == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if proposer == nil {
		return nil, fmt.Errorf("proposer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ProposalMaxAttempts <= 0 {
		cfg.ProposalMaxAttempts = 3
	}
	return &engine{
		cfg:          cfg,
		client:       client,
		quotesRepo:   quotesRepo,
		roundsRepo:   roundsRepo,
		inventorySvc: inventorySvc,
		auditSvc:     auditSvc,
		proposer:     proposer,
		broker:       broker,
		logg:         logg,
	}, nil
}

func (e *engine) Step(ctx context.Context, quoteID uuid.UUID) (*models.Quote, error) {
	if quoteID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "quote id is required")
	}

	quote, err := e.quotesRepo.Get(ctx, quoteID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.New(errors.CodeNotFound, "quote not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "loading quote")
	}
	if quote.Status != enums.QuoteStatusRequested && quote.Status != enums.QuoteStatusNegotiating {
		return nil, errors.New(errors.CodeStateConflict,
			fmt.Sprintf("quote is %s, negotiation is closed", quote.Status))
	}

	ctx = e.logg.WithQuoteID(ctx, quote.ID.String())

	history, err := e.history(ctx, quote.ID)
	if err != nil {
		return nil, err
	}

	proposal, perr := e.propose(ctx, quote, history)
	if perr != nil {
		e.logg.Error(ctx, "proposal source exhausted retries", perr)
		return e.reject(ctx, quote, RejectReasonUnavailable)
	}

	return e.applyProposal(ctx, quote, proposal)
}

func (e *engine) Run(ctx context.Context, quoteID uuid.UUID) (*models.Quote, error) {
	var quote *models.Quote
	// +1 covers the requested→negotiating entry round
	for i := 0; i < e.cfg.MaxRounds+1; i++ {
		var err error
		quote, err = e.Step(ctx, quoteID)
		if err != nil {
			return nil, err
		}
		if quote.Status != enums.QuoteStatusNegotiating {
			return quote, nil
		}
	}
	return quote, nil
}

// history rebuilds the offer sequence a proposer prices against.
func (e *engine) history(ctx context.Context, quoteID uuid.UUID) ([]Offer, error) {
	rounds, err := e.roundsRepo.ListRounds(ctx, quoteID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading round history")
	}
	offers := make([]Offer, 0, len(rounds))
	for _, round := range rounds {
		offers = append(offers, Offer{Seq: round.Seq, Proposer: round.Proposer, Price: round.Price})
	}
	return offers, nil
}

// propose calls the proposal source with bounded retries and a per-call
// timeout. Failed calls never advance the round counter.
func (e *engine) propose(ctx context.Context, quote *models.Quote, history []Offer) (Proposal, error) {
	req := ProposalRequest{
		ResourceType:  quote.ResourceType,
		DurationHours: quote.DurationHours,
		Units:         quote.Units,
		History:       history,
	}

	backoff := retry.WithMaxRetries(uint64(e.cfg.ProposalMaxAttempts-1), retry.NewExponential(e.cfg.ProposalBackoff))

	var proposal Proposal
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx := ctx
		if e.cfg.ProposalTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.ProposalTimeout)
			defer cancel()
		}

		got, err := e.proposer.Propose(callCtx, req)
		if err != nil {
			e.logg.Warn(ctx, fmt.Sprintf("proposal attempt failed: %v", err))
			return retry.RetryableError(err)
		}
		if got.Price.Sign() <= 0 {
			e.logg.Warn(ctx, "proposal attempt returned non-positive price")
			return retry.RetryableError(ErrProposalMalformed)
		}
		proposal = got
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	return proposal, nil
}

func (e *engine) applyProposal(ctx context.Context, quote *models.Quote, proposal Proposal) (*models.Quote, error) {
	seq := quote.RoundCount + 1
	// acceptance uses ≤: an offer exactly at the buyer's limit closes the deal
	accepted := proposal.Price.Cmp(quote.BuyerMaxPrice) <= 0

	expected := quote.Version
	quote.RoundCount = seq
	quote.ProposedPrice = proposal.Price
	switch {
	case accepted:
		quote.Status = enums.QuoteStatusAccepted
	case seq >= e.cfg.MaxRounds:
		quote.Status = enums.QuoteStatusRejected
		reason := RejectReasonRoundsExhausted
		quote.RejectReason = &reason
	default:
		quote.Status = enums.QuoteStatusNegotiating
	}

	var holdID uuid.UUID
	if quote.Status == enums.QuoteStatusRejected {
		var err error
		if holdID, err = e.activeHoldID(ctx, quote.ID); err != nil {
			return nil, err
		}
	}

	err := e.client.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.quotesRepo.WithTx(tx).UpdateWithVersion(ctx, quote, expected)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "updating quote")
		}
		if !ok {
			return errors.New(errors.CodeConcurrentModification, "quote was modified by another caller")
		}

		round := &models.NegotiationRound{
			QuoteID:   quote.ID,
			Seq:       seq,
			Proposer:  enums.ProposerSideSeller,
			Price:     proposal.Price,
			Rationale: proposal.Rationale,
		}
		if err := e.roundsRepo.WithTx(tx).CreateRound(ctx, round); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "recording round")
		}

		if _, err := e.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &quote.ID,
			Action:  enums.AuditActionNegotiationTurn,
			Payload: map[string]any{
				"seq":       seq,
				"price":     proposal.Price,
				"rationale": proposal.Rationale,
			},
		}); err != nil {
			return err
		}

		switch quote.Status {
		case enums.QuoteStatusAccepted:
			if _, err := e.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
				QuoteID: &quote.ID,
				Action:  enums.AuditActionQuoteAccepted,
				Payload: map[string]any{"price": proposal.Price, "rounds": seq},
			}); err != nil {
				return err
			}
		case enums.QuoteStatusRejected:
			if _, err := e.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
				QuoteID: &quote.ID,
				Action:  enums.AuditActionQuoteRejected,
				Payload: map[string]any{"reason": RejectReasonRoundsExhausted, "rounds": seq},
			}); err != nil {
				return err
			}
			return e.releaseHold(ctx, tx, holdID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.broker.IncNegotiationRound()
	switch quote.Status {
	case enums.QuoteStatusAccepted:
		e.broker.IncQuoteOutcome(string(enums.QuoteStatusAccepted))
		e.logg.Info(ctx, "quote accepted")
	case enums.QuoteStatusRejected:
		e.broker.IncQuoteOutcome(string(enums.QuoteStatusRejected))
		e.logg.Info(ctx, "quote rejected after round cap")
	}
	return quote, nil
}

// reject forces the quote to rejected outside the normal round flow and
// releases its hold.
func (e *engine) reject(ctx context.Context, quote *models.Quote, reason string) (*models.Quote, error) {
	expected := quote.Version
	quote.Status = enums.QuoteStatusRejected
	quote.RejectReason = &reason

	holdID, err := e.activeHoldID(ctx, quote.ID)
	if err != nil {
		return nil, err
	}

	err = e.client.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.quotesRepo.WithTx(tx).UpdateWithVersion(ctx, quote, expected)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "updating quote")
		}
		if !ok {
			return errors.New(errors.CodeConcurrentModification, "quote was modified by another caller")
		}

		if _, err := e.auditSvc.Record(ctx, tx, audit.RecordEntryInput{
			QuoteID: &quote.ID,
			Action:  enums.AuditActionQuoteRejected,
			Payload: map[string]any{"reason": reason},
		}); err != nil {
			return err
		}
		return e.releaseHold(ctx, tx, holdID)
	})
	if err != nil {
		return nil, err
	}

	e.broker.IncQuoteOutcome(string(enums.QuoteStatusRejected))
	return quote, nil
}

// activeHoldID resolves the quote's active reservation before a write
// transaction opens. Returns uuid.Nil when no hold is active.
func (e *engine) activeHoldID(ctx context.Context, quoteID uuid.UUID) (uuid.UUID, error) {
	reservation, err := e.inventorySvc.ActiveByQuoteID(ctx, quoteID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return reservation.ID, nil
}

func (e *engine) releaseHold(ctx context.Context, tx *gorm.DB, holdID uuid.UUID) error {
	if holdID == uuid.Nil {
		return nil
	}
	_, err := e.inventorySvc.Release(ctx, tx, holdID)
	return err
}
