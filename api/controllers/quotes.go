package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/varga-labs/gridbroker-backend/api/responses"
	"github.com/varga-labs/gridbroker-backend/api/validators"
	"github.com/varga-labs/gridbroker-backend/internal/negotiation"
	"github.com/varga-labs/gridbroker-backend/internal/payments"
	"github.com/varga-labs/gridbroker-backend/internal/quotes"
	"github.com/varga-labs/gridbroker-backend/pkg/db/models"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	pkgerrors "github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

const maxListLimit = 100

type createQuoteRequest struct {
	BuyerID       string          `json:"buyer_id" validate:"required"`
	ResourceType  string          `json:"resource_type" validate:"required"`
	DurationHours int             `json:"duration_hours" validate:"required,min=1"`
	Units         int             `json:"units" validate:"omitempty,min=1"`
	BuyerMaxPrice decimal.Decimal `json:"buyer_max_price"`
}

type settleQuoteRequest struct {
	Provider string `json:"provider" validate:"required"`
}

type quoteDetail struct {
	Quote  *models.Quote             `json:"quote"`
	Rounds []models.NegotiationRound `json:"rounds"`
}

func QuoteCreate(svc quotes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createQuoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Create(r.Context(), quotes.CreateQuoteInput{
			BuyerID:       strings.TrimSpace(body.BuyerID),
			ResourceType:  enums.ResourceType(strings.ToUpper(strings.TrimSpace(body.ResourceType))),
			DurationHours: body.DurationHours,
			Units:         body.Units,
			BuyerMaxPrice: body.BuyerMaxPrice,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, quote)
	}
}

func QuoteList(svc quotes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListRecent(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func QuoteDetail(svc quotes.Service, roundsRepo negotiation.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Get(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rounds, err := roundsRepo.ListRounds(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list negotiation rounds"))
			return
		}

		responses.WriteSuccess(w, quoteDetail{Quote: quote, Rounds: rounds})
	}
}

// QuoteNegotiate runs a single negotiation round.
func QuoteNegotiate(engine negotiation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := engine.Step(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// QuoteNegotiateAuto runs rounds until the quote leaves negotiation.
func QuoteNegotiateAuto(engine negotiation.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := engine.Run(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

func QuoteSettle(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body settleQuoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := enums.ParsePaymentProvider(strings.ToLower(strings.TrimSpace(body.Provider)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
			return
		}

		transaction, err := svc.Settle(r.Context(), quoteID, provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transaction)
	}
}

func QuoteTransactions(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.Transactions(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func QuoteAuditTrail(svc quotes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quoteID, err := parseQuoteID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		trail, err := svc.AuditTrail(r.Context(), quoteID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, trail)
	}
}

func parseQuoteID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "quoteId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "quote id is required")
	}
	quoteID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quote id")
	}
	return quoteID, nil
}
