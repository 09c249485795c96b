package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

type staleQuoteExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// NewQuoteExpiryJob builds the job that moves quotes stuck in
// requested or negotiating past their maximum age into expired.
func NewQuoteExpiryJob(logg *logger.Logger, expirer staleQuoteExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if expirer == nil {
		return nil, fmt.Errorf("quote service required")
	}
	return &quoteExpiryJob{logg: logg, expirer: expirer, now: time.Now}, nil
}

type quoteExpiryJob struct {
	logg    *logger.Logger
	expirer staleQuoteExpirer
	now     func() time.Time
}

func (j *quoteExpiryJob) Name() string { return "quote-expiry" }

func (j *quoteExpiryJob) Run(ctx context.Context) error {
	expired, err := j.expirer.ExpireStale(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("expire stale quotes: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"expired": expired})
	j.logg.Info(logCtx, "quote expiry sweep complete")
	return nil
}
