package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

type reservationSweeper interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// NewReservationSweepJob builds the job that returns units held by
// reservations whose TTL has lapsed.
func NewReservationSweepJob(logg *logger.Logger, sweeper reservationSweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	return &reservationSweepJob{logg: logg, sweeper: sweeper, now: time.Now}, nil
}

type reservationSweepJob struct {
	logg    *logger.Logger
	sweeper reservationSweeper
	now     func() time.Time
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	released, err := j.sweeper.ReleaseExpired(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("release expired reservations: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"released": released})
	j.logg.Info(logCtx, "reservation sweep complete")
	return nil
}
