package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

type fakeSweeper struct {
	released int
	err      error
	calledAt time.Time
}

func (f *fakeSweeper) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	f.calledAt = now
	return f.released, f.err
}

func (f *fakeSweeper) ExpireStale(_ context.Context, now time.Time) (int, error) {
	f.calledAt = now
	return f.released, f.err
}

func TestReservationSweepJobRunsSweeper(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	sweeper := &fakeSweeper{released: 3}
	jobIface, err := NewReservationSweepJob(logg, sweeper)
	if err != nil {
		t.Fatalf("NewReservationSweepJob: %v", err)
	}
	if got := jobIface.Name(); got != "reservation-sweep" {
		t.Fatalf("unexpected name: %s", got)
	}

	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	job := jobIface.(*reservationSweepJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sweeper.calledAt.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, sweeper.calledAt)
	}
}

func TestReservationSweepJobSurfacesErrors(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	boom := errors.New("db down")
	jobIface, err := NewReservationSweepJob(logg, &fakeSweeper{err: boom})
	if err != nil {
		t.Fatalf("NewReservationSweepJob: %v", err)
	}
	if err := jobIface.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sweep error, got %v", err)
	}
}

func TestQuoteExpiryJobRunsExpirer(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	expirer := &fakeSweeper{released: 2}
	jobIface, err := NewQuoteExpiryJob(logg, expirer)
	if err != nil {
		t.Fatalf("NewQuoteExpiryJob: %v", err)
	}
	if got := jobIface.Name(); got != "quote-expiry" {
		t.Fatalf("unexpected name: %s", got)
	}

	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	job := jobIface.(*quoteExpiryJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !expirer.calledAt.Equal(now) {
		t.Fatalf("expected expiry sweep at %s, got %s", now, expirer.calledAt)
	}
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	if _, err := NewReservationSweepJob(nil, &fakeSweeper{}); err == nil {
		t.Fatal("expected error for nil logger")
	}
	if _, err := NewReservationSweepJob(logg, nil); err == nil {
		t.Fatal("expected error for nil sweeper")
	}
	if _, err := NewQuoteExpiryJob(logg, nil); err == nil {
		t.Fatal("expected error for nil expirer")
	}
}
