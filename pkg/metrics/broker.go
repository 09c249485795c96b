package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics records quote, negotiation, and settlement counters.
type BrokerMetrics struct {
	quotesTotal        prometheus.Counter
	negotiationRounds  prometheus.Counter
	quoteOutcomes      *prometheus.CounterVec
	settlements        *prometheus.CounterVec
	settlementDuration *prometheus.HistogramVec
}

// NewBrokerMetrics registers the broker metrics on the provided registerer.
func NewBrokerMetrics(reg prometheus.Registerer) *BrokerMetrics {
	if reg == nil {
		return &BrokerMetrics{}
	}
	quotesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quotes_total",
		Help: "Quotes created.",
	})
	negotiationRounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_rounds_total",
		Help: "Negotiation rounds executed.",
	})
	quoteOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_outcomes_total",
		Help: "Terminal negotiation outcomes.",
	}, []string{"outcome"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlements_total",
		Help: "Settlement attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	settlementDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Duration of settlement calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(quotesTotal, negotiationRounds, quoteOutcomes, settlements, settlementDuration)
	return &BrokerMetrics{
		quotesTotal:        quotesTotal,
		negotiationRounds:  negotiationRounds,
		quoteOutcomes:      quoteOutcomes,
		settlements:        settlements,
		settlementDuration: settlementDuration,
	}
}

// IncQuoteCreated increments the quote counter.
func (b *BrokerMetrics) IncQuoteCreated() {
	if b == nil || b.quotesTotal == nil {
		return
	}
	b.quotesTotal.Inc()
}

// IncNegotiationRound increments the rounds counter.
func (b *BrokerMetrics) IncNegotiationRound() {
	if b == nil || b.negotiationRounds == nil {
		return
	}
	b.negotiationRounds.Inc()
}

// IncQuoteOutcome counts a terminal negotiation outcome.
func (b *BrokerMetrics) IncQuoteOutcome(outcome string) {
	if b == nil || b.quoteOutcomes == nil {
		return
	}
	b.quoteOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncSettlement counts a settlement attempt outcome for the named provider.
func (b *BrokerMetrics) IncSettlement(provider, outcome string) {
	if b == nil || b.settlements == nil {
		return
	}
	b.settlements.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// ObserveSettlementDuration records how long a settlement call took.
func (b *BrokerMetrics) ObserveSettlementDuration(provider string, duration time.Duration) {
	if b == nil || b.settlementDuration == nil {
		return
	}
	b.settlementDuration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
