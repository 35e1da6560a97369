package reservation

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest   = errors.New("invalid reservation request")
	ErrNoSlots          = errors.New("no slots found")
	ErrNoAcceptableSlot = errors.New("no acceptable slot found")
	ErrExhaustedRetries = errors.New("exhausted retries")
)

// IsRetryable reports whether err means "nothing bookable right now".
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoSlots) || errors.Is(err, ErrNoAcceptableSlot)
}

// ExhaustedRetriesError is returned when the retry budget runs out. It
// matches ErrExhaustedRetries; the last retryable cause is kept for
// reporting but is not unwrapped.
type ExhaustedRetriesError struct {
	VenueID   string
	Venue     string
	PartySize int
	Day       time.Time
	Ideal     time.Time
	Window    time.Duration
	Attempts  int
	Elapsed   time.Duration
	Policy    RetryPolicy
	LastCause error
}

func (e *ExhaustedRetriesError) Error() string {
	msg := fmt.Sprintf("exhausted retries for %s (venue_id=%s party=%d day=%s ideal=%s window=±%s): %d attempts in %s (%s)",
		e.Venue, e.VenueID, e.PartySize, e.Day.Format(dayLayout), e.Ideal.Format("15:04"), e.Window,
		e.Attempts, e.Elapsed.Round(time.Millisecond), e.Policy)
	if e.LastCause != nil {
		msg += ": last: " + e.LastCause.Error()
	}
	return msg
}

func (e *ExhaustedRetriesError) Is(target error) bool {
	return target == ErrExhaustedRetries
}
