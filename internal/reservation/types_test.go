package reservation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func validRequest() ReservationRequest {
	d := Date{Year: 2026, Month: time.November, Day: 20}
	return ReservationRequest{
		VenueID:     "1505",
		PartySize:   2,
		IdealDate:   &d,
		IdealHour:   19,
		IdealMinute: 30,
		WindowHours: 1,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ReservationRequest)
		ok     bool
	}{
		{"valid", func(r *ReservationRequest) {}, true},
		{"days in advance only", func(r *ReservationRequest) { r.IdealDate = nil; r.DaysInAdvance = intPtr(14) }, true},
		{"both dates", func(r *ReservationRequest) { r.DaysInAdvance = intPtr(14) }, false},
		{"no date", func(r *ReservationRequest) { r.IdealDate = nil }, false},
		{"missing venue", func(r *ReservationRequest) { r.VenueID = " " }, false},
		{"zero party", func(r *ReservationRequest) { r.PartySize = 0 }, false},
		{"bad hour", func(r *ReservationRequest) { r.IdealHour = 24 }, false},
		{"bad minute", func(r *ReservationRequest) { r.IdealMinute = 60 }, false},
		{"negative window", func(r *ReservationRequest) { r.WindowHours = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestTargetDate(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 10, 18, 23, 59, 0, 0, loc)

	r := validRequest()
	assert.Equal(t, time.Date(2026, 11, 20, 0, 0, 0, 0, loc), r.TargetDate(now))

	r.IdealDate = nil
	r.DaysInAdvance = intPtr(14)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, loc), r.TargetDate(now))
}

func TestPreferences(t *testing.T) {
	r := validRequest()
	r.PreferredType = "Patio"
	r.PreferEarly = true
	p := r.Preferences(time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2026, 11, 20, 19, 30, 0, 0, time.UTC), p.Ideal)
	assert.Equal(t, time.Hour, p.Window)
	assert.True(t, p.PreferEarly)
	assert.Equal(t, "Patio", p.PreferredType)
}

func TestDropTime(t *testing.T) {
	now := time.Date(2026, 10, 18, 8, 59, 30, 0, time.UTC)
	tr := TimedReservationRequest{ReservationRequest: validRequest(), ExpectedDropHour: 9, ExpectedDropMinute: 0}
	assert.Equal(t, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), tr.DropTime(now))

	tr.ExpectedDropHour = 25
	assert.ErrorIs(t, tr.Validate(), ErrInvalidRequest)
}

func TestRequestJSON(t *testing.T) {
	raw := `{
		"reservation_request": {
			"venue_id": "1505",
			"party_size": 4,
			"ideal_date": "2026-11-20",
			"ideal_hour": 19,
			"ideal_minute": 0,
			"window_hours": 2,
			"prefer_early": false,
			"preferred_type": "Dining Room"
		},
		"expected_drop_hour": 10,
		"expected_drop_minute": 0
	}`
	var tr TimedReservationRequest
	require.NoError(t, json.Unmarshal([]byte(raw), &tr))
	require.NoError(t, tr.Validate())
	assert.Equal(t, "2026-11-20", tr.ReservationRequest.IdealDate.String())
	assert.Equal(t, "Dining Room", tr.ReservationRequest.PreferredType)
	assert.Nil(t, tr.ReservationRequest.DaysInAdvance)

	var bad ReservationRequest
	assert.Error(t, json.Unmarshal([]byte(`{"ideal_date":"11/20/2026"}`), &bad))
}

func TestRetryPolicy(t *testing.T) {
	d := DurationPolicy(100*time.Millisecond, time.Second)
	require.NoError(t, d.Validate())
	assert.False(t, d.Exhausted(1, 0))
	assert.False(t, d.Exhausted(9, 850*time.Millisecond))
	assert.True(t, d.Exhausted(10, 910*time.Millisecond))

	c := CountPolicy(50*time.Millisecond, 3)
	require.NoError(t, c.Validate())
	assert.False(t, c.Exhausted(2, time.Hour))
	assert.True(t, c.Exhausted(3, 0))

	assert.Error(t, DurationPolicy(time.Second, 0).Validate())
	assert.Error(t, CountPolicy(time.Second, 0).Validate())
	assert.Error(t, RetryPolicy{Mode: RetryMode(7), Interval: time.Second}.Validate())
}

func TestExhaustedRetriesError(t *testing.T) {
	err := &ExhaustedRetriesError{VenueID: "1505", Venue: "Carbone", Attempts: 10, Policy: DurationPolicy(0, time.Second), LastCause: ErrNoSlots}
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.False(t, errors.Is(err, ErrNoSlots))
	assert.Contains(t, err.Error(), "Carbone")
	assert.True(t, IsRetryable(ErrNoAcceptableSlot))
	assert.False(t, IsRetryable(err))
}
