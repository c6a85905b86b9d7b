package payment

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/medconnect/medconnect/internal/platform/lock"
)

const sweepLockKey = "payment:sweep"

// Scheduler runs Sweep on a cron schedule. Each run first takes a shared
// lock so that only one replica sweeps at a time.
type Scheduler struct {
	cron    *cron.Cron
	svc     *Service
	locker  lock.Locker
	lockTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewScheduler(svc *Service, locker lock.Locker, schedule string, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		svc:     svc,
		locker:  locker,
		lockTTL: 10 * time.Minute,
		logger:  logger.With().Str("component", "reconcile").Logger(),
		now:     time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
	defer cancel()
	if _, _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("reconciliation sweep failed")
	}
}

// RunOnce sweeps if the lock is free. ran is false when another replica
// holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (report SweepReport, ran bool, err error) {
	ok, token, err := s.locker.TryLock(ctx, sweepLockKey, s.lockTTL)
	if err != nil {
		return report, false, err
	}
	if !ok {
		s.logger.Debug().Msg("sweep lock held elsewhere, skipping")
		return report, false, nil
	}
	defer func() {
		if uerr := s.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); uerr != nil {
			s.logger.Warn().Err(uerr).Msg("failed to release sweep lock")
		}
	}()

	start := s.now()
	report, err = s.svc.Sweep(ctx, start.UTC())
	s.logger.Info().
		Int("checked", report.Checked).
		Int("confirmed", report.Confirmed).
		Int("failed", report.Failed).
		Int("expired", report.Expired).
		Int("errors", report.Errors).
		Dur("latency", time.Since(start)).
		Msg("reconciliation sweep")
	return report, true, err
}
