package reservation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return DateOf(t), nil
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ReservationRequest describes what to book. Exactly one of IdealDate and
// DaysInAdvance must be set.
type ReservationRequest struct {
	VenueID       string `json:"venue_id"`
	VenueName     string `json:"venue_name,omitempty"`
	PartySize     int    `json:"party_size"`
	IdealDate     *Date  `json:"ideal_date,omitempty"`
	DaysInAdvance *int   `json:"days_in_advance,omitempty"`
	IdealHour     int    `json:"ideal_hour"`
	IdealMinute   int    `json:"ideal_minute"`
	WindowHours   int    `json:"window_hours"`
	PreferEarly   bool   `json:"prefer_early"`
	PreferredType string `json:"preferred_type,omitempty"`
}

func (r ReservationRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.VenueID) == "":
		return fmt.Errorf("%w: venue_id required", ErrInvalidRequest)
	case r.PartySize < 1:
		return fmt.Errorf("%w: party_size must be >= 1", ErrInvalidRequest)
	case r.IdealDate != nil && r.DaysInAdvance != nil:
		return fmt.Errorf("%w: must only provide one of ideal_date or days_in_advance", ErrInvalidRequest)
	case r.IdealDate == nil && r.DaysInAdvance == nil:
		return fmt.Errorf("%w: must provide ideal_date or days_in_advance", ErrInvalidRequest)
	case r.DaysInAdvance != nil && *r.DaysInAdvance < 0:
		return fmt.Errorf("%w: days_in_advance must be >= 0", ErrInvalidRequest)
	case r.IdealHour < 0 || r.IdealHour > 23:
		return fmt.Errorf("%w: ideal_hour must be 0-23", ErrInvalidRequest)
	case r.IdealMinute < 0 || r.IdealMinute > 59:
		return fmt.Errorf("%w: ideal_minute must be 0-59", ErrInvalidRequest)
	case r.WindowHours < 0:
		return fmt.Errorf("%w: window_hours must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// TargetDate resolves the reservation day, midnight in now's location.
func (r ReservationRequest) TargetDate(now time.Time) time.Time {
	if r.IdealDate != nil {
		return r.IdealDate.In(now.Location())
	}
	days := 0
	if r.DaysInAdvance != nil {
		days = *r.DaysInAdvance
	}
	return DateOf(now).In(now.Location()).AddDate(0, 0, days)
}

// Preferences builds selector input for the given reservation day.
func (r ReservationRequest) Preferences(day time.Time) Preferences {
	return Preferences{
		Ideal:         time.Date(day.Year(), day.Month(), day.Day(), r.IdealHour, r.IdealMinute, 0, 0, day.Location()),
		Window:        time.Duration(r.WindowHours) * time.Hour,
		PreferEarly:   r.PreferEarly,
		PreferredType: r.PreferredType,
	}
}

// DisplayName is the venue name when known, the id otherwise.
func (r ReservationRequest) DisplayName() string {
	if r.VenueName != "" {
		return r.VenueName
	}
	return "venue " + r.VenueID
}

// TimedReservationRequest pairs a request with the local time of day at
// which the venue is expected to publish availability.
type TimedReservationRequest struct {
	ReservationRequest ReservationRequest `json:"reservation_request"`
	ExpectedDropHour   int                `json:"expected_drop_hour"`
	ExpectedDropMinute int                `json:"expected_drop_minute"`
}

func (t TimedReservationRequest) Validate() error {
	if t.ExpectedDropHour < 0 || t.ExpectedDropHour > 23 {
		return fmt.Errorf("%w: expected_drop_hour must be 0-23", ErrInvalidRequest)
	}
	if t.ExpectedDropMinute < 0 || t.ExpectedDropMinute > 59 {
		return fmt.Errorf("%w: expected_drop_minute must be 0-59", ErrInvalidRequest)
	}
	return t.ReservationRequest.Validate()
}

// DropTime is today's date (in now's location) at the expected drop hour/minute.
func (t TimedReservationRequest) DropTime(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, t.ExpectedDropHour, t.ExpectedDropMinute, 0, 0, now.Location())
}

// Slot is one bookable offering returned by the remote service.
type Slot struct {
	ConfigID string
	Type     string
	Token    string
	Start    time.Time
	End      time.Time
}

// FindCriteria is the query for available slots.
type FindCriteria struct {
	VenueID   string
	PartySize int
	Day       time.Time
}

// DetailsRequest asks for a book token for a selected slot.
type DetailsRequest struct {
	ConfigToken string
	Day         time.Time
	PartySize   int
}

// BookingToken is returned by the details step and consumed by the book step.
type BookingToken struct {
	Value          string
	ExpiresAt      time.Time
	PaymentMethods []int64
}

// Preferences is the selector's view of a request, resolved to a concrete day.
type Preferences struct {
	Ideal         time.Time
	Window        time.Duration
	PreferEarly   bool
	PreferredType string
}

func (p Preferences) matchesType(s Slot) bool {
	return p.PreferredType == "" || s.Type == p.PreferredType
}
