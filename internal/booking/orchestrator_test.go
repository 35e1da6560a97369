package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/resydrop/internal/metrics"
	"github.com/example/resydrop/internal/reservation"
)

type fakeClient struct {
	mu sync.Mutex

	now  func() time.Time
	find func(call int) ([]reservation.Slot, error)

	detailsErr error
	bookErr    error
	methods    []int64

	findCalls    int
	findTimes    []time.Time
	detailsCalls int
	bookCalls    int
	lastCriteria reservation.FindCriteria
	lastDetails  reservation.DetailsRequest
	lastToken    reservation.BookingToken
	lastPayment  int64
}

func (f *fakeClient) Find(ctx context.Context, c reservation.FindCriteria) ([]reservation.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	f.lastCriteria = c
	if f.now != nil {
		f.findTimes = append(f.findTimes, f.now())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.find == nil {
		return nil, nil
	}
	return f.find(f.findCalls)
}

func (f *fakeClient) FetchDetails(_ context.Context, r reservation.DetailsRequest) (reservation.BookingToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailsCalls++
	f.lastDetails = r
	if f.detailsErr != nil {
		return reservation.BookingToken{}, f.detailsErr
	}
	return reservation.BookingToken{Value: "book-" + r.ConfigToken, PaymentMethods: f.methods}, nil
}

func (f *fakeClient) Book(_ context.Context, token reservation.BookingToken, paymentMethodID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	f.lastToken = token
	f.lastPayment = paymentMethodID
	if f.bookErr != nil {
		return "", f.bookErr
	}
	return "resy-token-" + token.Value, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// delivered waits for queued notifications and returns what n received.
func delivered(t *testing.T, o *Orchestrator, n *recordingNotifier) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.FlushNotifications(ctx))
	return n.messages()
}

type slowNotifier struct {
	delay time.Duration
	recordingNotifier
}

func (s *slowNotifier) Notify(ctx context.Context, msg string) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.recordingNotifier.Notify(ctx, msg)
}

var day = reservation.Date{Year: 2026, Month: time.November, Day: 20}

func request() reservation.ReservationRequest {
	d := day
	return reservation.ReservationRequest{
		VenueID:     "1505",
		VenueName:   "Carbone",
		PartySize:   2,
		IdealDate:   &d,
		IdealHour:   19,
		IdealMinute: 0,
		WindowHours: 1,
	}
}

func slot(hour, minute int) reservation.Slot {
	start := time.Date(2026, time.November, 20, hour, minute, 0, 0, time.UTC)
	return reservation.Slot{
		ConfigID: start.Format("1504"),
		Type:     "Dining Room",
		Token:    "cfg-" + start.Format("1504"),
		Start:    start,
		End:      start.Add(90 * time.Minute),
	}
}

func newOrchestrator(c *fakeClient, n *recordingNotifier, policy reservation.RetryPolicy) *Orchestrator {
	o := &Orchestrator{
		Client:   c,
		Policy:   policy,
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	}
	if n != nil {
		o.Notifier = n
	}
	return o
}

func TestRunNowBooksSelectedSlot(t *testing.T) {
	c := &fakeClient{find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(18, 0), slot(19, 15), slot(20, 30)}, nil
	}}
	n := &recordingNotifier{}
	o := newOrchestrator(c, n, reservation.CountPolicy(time.Millisecond, 3))
	o.PaymentMethodID = 42

	token, err := o.RunNow(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "resy-token-book-cfg-1915", token)

	assert.Equal(t, 1, c.findCalls)
	assert.Equal(t, "1505", c.lastCriteria.VenueID)
	assert.Equal(t, 2, c.lastCriteria.PartySize)
	assert.Equal(t, time.Date(2026, time.November, 20, 0, 0, 0, 0, time.UTC), c.lastCriteria.Day)
	assert.Equal(t, "cfg-1915", c.lastDetails.ConfigToken)
	assert.Equal(t, 2, c.lastDetails.PartySize)
	assert.Equal(t, int64(42), c.lastPayment)

	msgs := delivered(t, o, n)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "go time")
	assert.Contains(t, msgs[1], "Booked Carbone")
}

func TestRunNowFallsBackToOfferedPaymentMethod(t *testing.T) {
	c := &fakeClient{
		methods: []int64{7, 8},
		find: func(int) ([]reservation.Slot, error) {
			return []reservation.Slot{slot(19, 0)}, nil
		},
	}
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Millisecond, 1))

	_, err := o.RunNow(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.lastPayment)
}

func TestRunNowRetriesUntilSlotsAppear(t *testing.T) {
	c := &fakeClient{find: func(call int) ([]reservation.Slot, error) {
		if call < 3 {
			return nil, nil
		}
		return []reservation.Slot{slot(19, 0)}, nil
	}}
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Millisecond, 5))

	token, err := o.RunNow(context.Background(), request())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 3, c.findCalls)
	assert.Equal(t, 1, c.detailsCalls)
	assert.Equal(t, 1, c.bookCalls)
}

func TestRunNowRetryExhaustion(t *testing.T) {
	c := &fakeClient{}
	n := &recordingNotifier{}
	reg := prometheus.NewRegistry()
	o := newOrchestrator(c, n, reservation.DurationPolicy(100*time.Millisecond, time.Second))
	o.Metrics = metrics.NewBookingMetrics(reg)

	start := time.Now()
	_, err := o.RunNow(context.Background(), request())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, reservation.ErrExhaustedRetries)
	var exhausted *reservation.ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.ErrorIs(t, exhausted.LastCause, reservation.ErrNoSlots)
	assert.Equal(t, c.findCalls, exhausted.Attempts)

	assert.GreaterOrEqual(t, c.findCalls, 9)
	assert.LessOrEqual(t, c.findCalls, 11)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Zero(t, c.detailsCalls)

	msgs := delivered(t, o, n)
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "exhausted retries for Carbone")

	series, err := testutil.GatherAndCount(reg, "resydrop_booking_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestRunNowNoAcceptableSlotIsRetried(t *testing.T) {
	c := &fakeClient{find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(22, 0)}, nil
	}}
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Millisecond, 3))

	_, err := o.RunNow(context.Background(), request())
	var exhausted *reservation.ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.ErrorIs(t, exhausted.LastCause, reservation.ErrNoAcceptableSlot)
	assert.Equal(t, 3, c.findCalls)
	assert.Zero(t, c.detailsCalls)
}

func TestRunNowNonRetryableStopsImmediately(t *testing.T) {
	remote := errors.New("resy: find: http 500")

	tests := []struct {
		name   string
		client *fakeClient
	}{
		{"find", &fakeClient{find: func(int) ([]reservation.Slot, error) { return nil, remote }}},
		{"details", &fakeClient{detailsErr: remote, find: func(int) ([]reservation.Slot, error) {
			return []reservation.Slot{slot(19, 0)}, nil
		}}},
		{"book", &fakeClient{bookErr: remote, find: func(int) ([]reservation.Slot, error) {
			return []reservation.Slot{slot(19, 0)}, nil
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &recordingNotifier{}
			o := newOrchestrator(tt.client, n, reservation.DurationPolicy(10*time.Millisecond, time.Second))

			_, err := o.RunNow(context.Background(), request())
			assert.Same(t, remote, err)
			assert.False(t, errors.Is(err, reservation.ErrExhaustedRetries))
			assert.Equal(t, 1, tt.client.findCalls)

			msgs := delivered(t, o, n)
			require.NotEmpty(t, msgs)
			assert.Contains(t, msgs[len(msgs)-1], "failed after 1 attempt(s)")
		})
	}
}

func TestNotifierFailureDoesNotAbort(t *testing.T) {
	c := &fakeClient{find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(19, 0)}, nil
	}}
	n := &recordingNotifier{err: errors.New("slack down")}
	o := newOrchestrator(c, n, reservation.CountPolicy(time.Millisecond, 1))

	token, err := o.RunNow(context.Background(), request())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, delivered(t, o, n), 2)
}

func TestSlowNotifierDoesNotDelayResult(t *testing.T) {
	c := &fakeClient{find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(19, 0)}, nil
	}}
	n := &slowNotifier{delay: 300 * time.Millisecond}
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Millisecond, 1))
	o.Notifier = n

	start := time.Now()
	token, err := o.RunNow(context.Background(), request())
	took := time.Since(start)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Less(t, took, 200*time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.FlushNotifications(short), context.DeadlineExceeded)

	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, o.FlushNotifications(ctx))
	msgs := n.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "go time")
	assert.Contains(t, msgs[1], "Booked")
}

func TestRunNowRejectsInvalidRequest(t *testing.T) {
	c := &fakeClient{}
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Millisecond, 1))

	req := request()
	req.PartySize = 0
	_, err := o.RunNow(context.Background(), req)
	assert.ErrorIs(t, err, reservation.ErrInvalidRequest)
	assert.Zero(t, c.findCalls)

	o.Policy = reservation.RetryPolicy{}
	_, err = o.RunNow(context.Background(), request())
	assert.Error(t, err)
	assert.Zero(t, c.findCalls)
}

func TestRunNowCancelledDuringBackoff(t *testing.T) {
	c := &fakeClient{}
	o := newOrchestrator(c, nil, reservation.DurationPolicy(time.Hour, 24*time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := o.RunNow(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, c.findCalls)
}

func timedRequest(hour, minute int) reservation.TimedReservationRequest {
	return reservation.TimedReservationRequest{
		ReservationRequest: request(),
		ExpectedDropHour:   hour,
		ExpectedDropMinute: minute,
	}
}

// offsetClock runs on the real monotonic clock but reads as if now were at.
func offsetClock(at time.Time) func() time.Time {
	offset := at.Sub(time.Now())
	return func() time.Time { return time.Now().Add(offset) }
}

func TestRunAtDropTimePastDropStartsImmediately(t *testing.T) {
	c := &fakeClient{find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(19, 0)}, nil
	}}
	n := &recordingNotifier{}
	o := newOrchestrator(c, n, reservation.CountPolicy(time.Second, 1))
	o.Now = offsetClock(time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC))

	start := time.Now()
	token, err := o.RunAtDropTime(context.Background(), timedRequest(9, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	msgs := delivered(t, o, n)
	require.Len(t, msgs, 3)
	assert.True(t, strings.HasPrefix(msgs[0], "Starting up the drop-time engine for Carbone"))
	assert.Contains(t, msgs[0], "09:00")
	assert.Contains(t, msgs[1], "go time")
}

func TestRunAtDropTimeWaitsForDrop(t *testing.T) {
	drop := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	interval := 50 * time.Millisecond
	clock := offsetClock(drop.Add(-200 * time.Millisecond))

	c := &fakeClient{now: clock, find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(19, 0)}, nil
	}}
	o := newOrchestrator(c, nil, reservation.CountPolicy(interval, 3))
	o.Now = clock

	_, err := o.RunAtDropTime(context.Background(), timedRequest(9, 0))
	require.NoError(t, err)

	require.Len(t, c.findTimes, 1)
	first := c.findTimes[0]
	assert.False(t, first.Before(drop.Add(-interval)), "first find at %s", first)
	assert.True(t, first.Before(drop.Add(time.Second)), "first find at %s", first)
}

func TestRunAtDropTimeCancelledWhileWaiting(t *testing.T) {
	c := &fakeClient{}
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Second, 1))
	o.Now = offsetClock(time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.RunAtDropTime(ctx, timedRequest(9, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.findCalls)
}

func TestSessionMetrics(t *testing.T) {
	c := &fakeClient{find: func(int) ([]reservation.Slot, error) {
		return []reservation.Slot{slot(19, 0)}, nil
	}}
	reg := prometheus.NewRegistry()
	o := newOrchestrator(c, nil, reservation.CountPolicy(time.Millisecond, 1))
	o.Metrics = metrics.NewBookingMetrics(reg)

	_, err := o.RunNow(context.Background(), request())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "resydrop_booking_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
