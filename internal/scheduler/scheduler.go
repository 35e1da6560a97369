package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/resydrop/internal/jobs"
	"github.com/example/resydrop/internal/lock"
	"github.com/example/resydrop/internal/reservation"
)

// Store is the part of the jobs repository the scheduler drives.
type Store interface {
	Due(ctx context.Context, now time.Time, limit int) ([]jobs.Job, error)
	Claim(ctx context.Context, id int64) error
	MarkBooked(ctx context.Context, id int64, resyToken string) error
	MarkFailed(ctx context.Context, id int64, msg string) error
	Requeue(ctx context.Context, id int64) error
}

// Booker runs one timed booking session.
type Booker interface {
	RunAtDropTime(ctx context.Context, tr reservation.TimedReservationRequest) (string, error)
}

const batchSize = 25

// Scheduler polls for due jobs and runs each in its own booking session.
type Scheduler struct {
	Repo     Store
	Booker   Booker
	Locker   lock.Locker
	LockTTL  time.Duration
	Interval time.Duration
	Location *time.Location
	Logger   zerolog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time

	wg sync.WaitGroup
}

// Run polls until ctx is done, then waits for in-flight sessions.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive")
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.Logger.Info().Dur("interval", s.Interval).Msg("scheduler started")

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// Wait blocks until every session started by tick has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	js, err := s.Repo.Due(ctx, s.now(), batchSize)
	if err != nil {
		s.Logger.Error().Err(err).Msg("due jobs query failed")
		return
	}

	for _, j := range js {
		if err := s.Repo.Claim(ctx, j.ID); err != nil {
			if !errors.Is(err, jobs.ErrNotClaimed) {
				s.Logger.Error().Err(err).Int64("job_id", j.ID).Msg("claim failed")
			}
			continue
		}

		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(ctx, j)
		}()
	}
}

func (s *Scheduler) runJob(ctx context.Context, j jobs.Job) {
	log := s.Logger.With().Int64("job_id", j.ID).Str("job", j.Name).Logger()
	// Results are recorded even when ctx is cancelled mid-session.
	bg := context.WithoutCancel(ctx)

	today := reservation.DateOf(s.now().In(s.location()))
	if today != j.RunOn {
		msg := fmt.Sprintf("missed run date %s (today is %s)", j.RunOn, today)
		log.Warn().Msg(msg)
		s.record(log, s.Repo.MarkFailed(bg, j.ID, msg))
		return
	}

	req := j.Request.ReservationRequest
	key := lock.Key(req, req.TargetDate(s.now().In(s.location())))
	release, err := s.Locker.Acquire(ctx, key, s.LockTTL)
	if err != nil {
		log.Warn().Err(err).Str("lock", key).Msg("could not lock booking session")
		s.record(log, s.Repo.MarkFailed(bg, j.ID, err.Error()))
		return
	}
	defer func() {
		if err := release(bg); err != nil {
			log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	log.Info().Msg("job started")
	token, err := s.Booker.RunAtDropTime(ctx, j.Request)
	switch {
	case err == nil:
		log.Info().Str("resy_token", token).Msg("job booked")
		s.record(log, s.Repo.MarkBooked(bg, j.ID, token))
	case ctx.Err() != nil:
		log.Warn().Err(err).Msg("job interrupted, requeueing")
		s.record(log, s.Repo.Requeue(bg, j.ID))
	default:
		log.Error().Err(err).Msg("job failed")
		s.record(log, s.Repo.MarkFailed(bg, j.ID, err.Error()))
	}
}

func (s *Scheduler) record(log zerolog.Logger, err error) {
	if err != nil {
		log.Error().Err(err).Msg("recording job result failed")
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}
