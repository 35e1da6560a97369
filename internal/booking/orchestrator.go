package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/resydrop/internal/metrics"
	"github.com/example/resydrop/internal/notify"
	"github.com/example/resydrop/internal/reservation"
)

// Client is the remote booking service as seen by the orchestrator.
type Client interface {
	Find(ctx context.Context, c reservation.FindCriteria) ([]reservation.Slot, error)
	FetchDetails(ctx context.Context, r reservation.DetailsRequest) (reservation.BookingToken, error)
	Book(ctx context.Context, token reservation.BookingToken, paymentMethodID int64) (string, error)
}

type State string

const (
	StateIdle             State = "idle"
	StateWaitingForDrop   State = "waiting_for_drop"
	StateAttempting       State = "attempting"
	StateSucceeded        State = "succeeded"
	StateExhaustedRetries State = "exhausted_retries"
	StateFailed           State = "failed"
)

const (
	entryDrop = "drop"
	entryNow  = "now"

	waitLogEvery = 10 * time.Second
)

// Orchestrator waits for a drop time and runs the find/select/details/book
// workflow under a retry policy. It keeps no per-session state, so one
// Orchestrator may serve concurrent sessions for different requests. It must
// not be copied after first use.
type Orchestrator struct {
	Client   Client
	Selector reservation.Selector
	Notifier notify.Notifier
	Policy   reservation.RetryPolicy

	// PaymentMethodID is sent with the book call. Zero uses the first payment
	// method offered by the details response.
	PaymentMethodID int64

	// Location is the venue's clock for drop times and ideal times. Nil means time.Local.
	Location *time.Location

	Logger  zerolog.Logger
	Metrics *metrics.BookingMetrics

	// Now overrides the clock in tests.
	Now func() time.Time

	notifying sync.WaitGroup
}

// RunAtDropTime waits until the request's drop time today and then books.
// A drop time that already passed today starts immediately.
func (o *Orchestrator) RunAtDropTime(ctx context.Context, tr reservation.TimedReservationRequest) (string, error) {
	if err := o.check(); err != nil {
		return "", err
	}
	if err := tr.Validate(); err != nil {
		return "", err
	}
	req := tr.ReservationRequest

	s := o.newSession(ctx, entryDrop, req)
	defer s.close()

	startRaw := o.rawNow()
	drop := tr.DropTime(startRaw.In(o.location()))

	s.transition(StateWaitingForDrop)
	s.notify(fmt.Sprintf("Starting up the drop-time engine for %s -- waiting until %s", req.DisplayName(), drop.Format("15:04 MST")))

	waited, err := s.waitForDrop(ctx, startRaw, drop)
	if err != nil {
		s.transition(StateFailed)
		o.Metrics.ObserveSession(entryDrop, "cancelled", 0)
		return "", fmt.Errorf("waiting for drop time %s: %w", drop.Format(time.RFC3339), err)
	}
	o.Metrics.ObserveGateWait(waited)
	return s.attempting(ctx, req)
}

// RunNow skips the drop-time gate and starts booking immediately.
func (o *Orchestrator) RunNow(ctx context.Context, req reservation.ReservationRequest) (string, error) {
	if err := o.check(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	s := o.newSession(ctx, entryNow, req)
	defer s.close()
	return s.attempting(ctx, req)
}

// FlushNotifications waits until every session's queued notifications have
// been delivered or ctx is done. The entry points never wait for delivery;
// call this before exiting to give the last messages a chance to go out.
func (o *Orchestrator) FlushNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.notifying.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) check() error {
	if o.Client == nil {
		return errors.New("booking: client is nil")
	}
	if err := o.Policy.Validate(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	return nil
}

func (o *Orchestrator) selector() reservation.Selector {
	if o.Selector == nil {
		return reservation.SimpleSelector{}
	}
	return o.Selector
}

func (o *Orchestrator) location() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// rawNow keeps the monotonic clock reading; convert with In only for
// calendar math.
func (o *Orchestrator) rawNow() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// session is the per-call state of one booking run.
type session struct {
	o     *Orchestrator
	id    string
	entry string
	state State
	log   zerolog.Logger
	notes *notifications
}

func (o *Orchestrator) newSession(ctx context.Context, entry string, req reservation.ReservationRequest) *session {
	id := uuid.NewString()
	log := o.Logger.With().
		Str("session_id", id).
		Str("entry", entry).
		Str("venue_id", req.VenueID).
		Int("party_size", req.PartySize).
		Logger()
	return &session{
		o:     o,
		id:    id,
		entry: entry,
		state: StateIdle,
		log:   log,
		notes: startNotifications(ctx, o.Notifier, log, &o.notifying),
	}
}

func (s *session) close() {
	s.notes.close()
}

func (s *session) notify(msg string) {
	s.notes.send(msg)
}

func (s *session) transition(to State) {
	s.log.Debug().Str("from", string(s.state)).Str("to", string(to)).Msg("state change")
	s.state = to
}

// waitForDrop blocks until drop minus one retry interval. The deadline is
// derived from startRaw so the wait runs on the monotonic clock.
func (s *session) waitForDrop(ctx context.Context, startRaw, drop time.Time) (time.Duration, error) {
	fireAt := drop.Add(-s.o.Policy.Interval)
	remaining := fireAt.Sub(startRaw)
	if remaining <= 0 {
		if late := startRaw.Sub(drop); late > 0 {
			s.log.Warn().Time("drop_time", drop).Dur("late_by", late).Msg("drop time already passed today; starting now")
		}
		return 0, nil
	}
	deadline := startRaw.Add(remaining)
	s.log.Info().Time("drop_time", drop).Dur("remaining", remaining).Msg("waiting for drop time")

	timer := time.NewTimer(min(remaining, waitLogEvery))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.o.rawNow().Sub(startRaw), ctx.Err()
		case <-timer.C:
		}
		left := deadline.Sub(s.o.rawNow())
		if left <= 0 {
			return s.o.rawNow().Sub(startRaw), nil
		}
		s.log.Info().Dur("remaining", left).Msg("still waiting")
		timer.Reset(min(left, waitLogEvery))
	}
}

func (s *session) attempting(ctx context.Context, req reservation.ReservationRequest) (string, error) {
	o := s.o
	s.transition(StateAttempting)

	day := req.TargetDate(o.rawNow().In(o.location()))
	prefs := req.Preferences(day)
	s.log.Info().Str("day", day.Format("2006-01-02")).Time("ideal", prefs.Ideal).Stringer("policy", o.Policy).Msg("time reached, making a reservation now")
	s.notify(fmt.Sprintf("It's go time -- trying to make a reservation for %s on %s", req.DisplayName(), day.Format("Mon Jan 2")))

	start := o.rawNow()
	attempts := 0
	for {
		attempts++
		confirmation, err := s.attempt(ctx, req, day, prefs)
		elapsed := o.rawNow().Sub(start)

		if err == nil {
			s.transition(StateSucceeded)
			o.Metrics.ObserveAttempt("booked")
			o.Metrics.ObserveSession(s.entry, "booked", elapsed)
			s.log.Info().Int("attempts", attempts).Dur("elapsed", elapsed).Msg("reservation booked")
			s.notify(fmt.Sprintf("Booked %s for %d on %s after %d attempt(s)", req.DisplayName(), req.PartySize, day.Format("Mon Jan 2"), attempts))
			return confirmation, nil
		}

		if !reservation.IsRetryable(err) {
			s.transition(StateFailed)
			o.Metrics.ObserveAttempt("error")
			o.Metrics.ObserveSession(s.entry, "error", elapsed)
			s.log.Error().Err(err).Int("attempts", attempts).Msg("booking failed")
			s.notify(fmt.Sprintf("Booking %s for %d on %s failed after %d attempt(s): %v", req.DisplayName(), req.PartySize, day.Format("Mon Jan 2"), attempts, err))
			return "", err
		}

		outcome := "no_slots"
		if errors.Is(err, reservation.ErrNoAcceptableSlot) {
			outcome = "no_acceptable_slot"
		}
		o.Metrics.ObserveAttempt(outcome)

		if o.Policy.Exhausted(attempts, elapsed) {
			s.transition(StateExhaustedRetries)
			o.Metrics.ObserveSession(s.entry, "exhausted", elapsed)
			exhausted := &reservation.ExhaustedRetriesError{
				VenueID:   req.VenueID,
				Venue:     req.DisplayName(),
				PartySize: req.PartySize,
				Day:       day,
				Ideal:     prefs.Ideal,
				Window:    prefs.Window,
				Attempts:  attempts,
				Elapsed:   elapsed,
				Policy:    o.Policy,
				LastCause: err,
			}
			s.log.Warn().Int("attempts", attempts).Dur("elapsed", elapsed).Msg("retries exhausted")
			s.notify(exhausted.Error())
			return "", exhausted
		}

		s.log.Debug().Str("outcome", outcome).Int("attempt", attempts).Msg("nothing bookable, retrying")
		if err := sleep(ctx, o.Policy.Interval); err != nil {
			s.transition(StateFailed)
			o.Metrics.ObserveSession(s.entry, "cancelled", elapsed)
			return "", fmt.Errorf("retrying after %d attempt(s): %w", attempts, err)
		}
	}
}

// attempt runs find, select, details and book once. Failures from the client
// are returned unchanged.
func (s *session) attempt(ctx context.Context, req reservation.ReservationRequest, day time.Time, prefs reservation.Preferences) (string, error) {
	o := s.o
	slots, err := o.Client.Find(ctx, reservation.FindCriteria{VenueID: req.VenueID, PartySize: req.PartySize, Day: day})
	if err != nil {
		return "", err
	}
	if len(slots) == 0 {
		return "", reservation.ErrNoSlots
	}
	s.log.Debug().Int("slots", len(slots)).Msg("slots returned")

	slot, err := o.selector().Select(slots, prefs)
	if err != nil {
		return "", err
	}
	s.log.Info().Time("start", slot.Start).Str("type", slot.Type).Msg("slot selected")

	token, err := o.Client.FetchDetails(ctx, reservation.DetailsRequest{ConfigToken: slot.Token, Day: day, PartySize: req.PartySize})
	if err != nil {
		return "", err
	}

	payment := o.PaymentMethodID
	if payment == 0 && len(token.PaymentMethods) > 0 {
		payment = token.PaymentMethods[0]
	}
	return o.Client.Book(ctx, token, payment)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
