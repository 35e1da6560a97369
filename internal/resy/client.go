package resy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/example/resydrop/internal/reservation"
)

const (
	DefaultBaseURL = "https://api.resy.com"

	slotLayout = "2006-01-02 15:04:05"
	dayLayout  = "2006-01-02"

	sourceID = "resy.com-venue-details"
)

// Client talks to the Resy HTTP API with an API key and an auth token
// captured from a signed-in session.
type Client struct {
	hc      *http.Client
	creds   Credentials
	baseURL string
	loc     *time.Location
}

type Credentials struct {
	APIKey    string
	AuthToken string
}

type Option func(*Client)

// WithBaseURL points the client at another host, e.g. an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithLocation sets the venue clock used to read slot times.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		hc:      &http.Client{Timeout: 5 * time.Second},
		creds:   creds,
		baseURL: DefaultBaseURL,
		loc:     time.Local,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping checks the credentials against the user endpoint.
func (c *Client) Ping(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/2/user", "", nil, nil, nil)
	if err != nil {
		return transportError("ping", err)
	}
	if !ok(status) {
		return statusError("ping", status, body)
	}
	return nil
}

type AuthResult struct {
	Token          string
	PaymentMethods []int64
}

// Auth exchanges an email and password for a fresh auth token.
func (c *Client) Auth(ctx context.Context, email, password string) (AuthResult, error) {
	form := url.Values{"email": {email}, "password": {password}}
	status, body, err := c.do(ctx, http.MethodPost, "/3/auth/password", "application/x-www-form-urlencoded", nil, []byte(form.Encode()), nil)
	if err != nil {
		return AuthResult{}, transportError("auth", err)
	}
	if !ok(status) {
		return AuthResult{}, statusError("auth", status, body)
	}
	var res struct {
		Token          string `json:"token"`
		PaymentMethods []struct {
			ID int64 `json:"id"`
		} `json:"payment_methods"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Token == "" {
		return AuthResult{}, malformedError("auth", status, body, err)
	}
	out := AuthResult{Token: res.Token}
	for _, pm := range res.PaymentMethods {
		out.PaymentMethods = append(out.PaymentMethods, pm.ID)
	}
	return out, nil
}

type findResponse struct {
	Results struct {
		Venues []struct {
			Slots []struct {
				Config struct {
					ID    flexString `json:"id"`
					Type  string     `json:"type"`
					Token string     `json:"token"`
				} `json:"config"`
				Date struct {
					Start string `json:"start"`
					End   string `json:"end"`
				} `json:"date"`
			} `json:"slots"`
		} `json:"venues"`
	} `json:"results"`
}

// Find lists the open slots for a venue, party size and day, sorted by start
// time. No slots is an empty slice, not an error.
func (c *Client) Find(ctx context.Context, fc reservation.FindCriteria) ([]reservation.Slot, error) {
	q := url.Values{
		"lat":        {"0"},
		"long":       {"0"},
		"day":        {fc.Day.Format(dayLayout)},
		"party_size": {strconv.Itoa(fc.PartySize)},
		"venue_id":   {fc.VenueID},
	}
	status, body, err := c.do(ctx, http.MethodGet, "/4/find", "", q, nil, nil)
	if err != nil {
		return nil, transportError("find", err)
	}
	if !ok(status) {
		return nil, statusError("find", status, body)
	}

	var res findResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, malformedError("find", status, body, err)
	}

	out := []reservation.Slot{}
	if len(res.Results.Venues) == 0 {
		return out, nil
	}
	for _, s := range res.Results.Venues[0].Slots {
		start, err := time.ParseInLocation(slotLayout, s.Date.Start, c.loc)
		if err != nil {
			return nil, malformedError("find", status, body, err)
		}
		end, err := time.ParseInLocation(slotLayout, s.Date.End, c.loc)
		if err != nil {
			end = time.Time{}
		}
		out = append(out, reservation.Slot{
			ConfigID: string(s.Config.ID),
			Type:     s.Config.Type,
			Token:    s.Config.Token,
			Start:    start,
			End:      end,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// flexString accepts a JSON string or a bare number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	*f = flexString(b)
	return nil
}

// FetchDetails exchanges a slot's config token for a book token.
func (c *Client) FetchDetails(ctx context.Context, r reservation.DetailsRequest) (reservation.BookingToken, error) {
	q := url.Values{
		"config_id":  {r.ConfigToken},
		"day":        {r.Day.Format(dayLayout)},
		"party_size": {strconv.Itoa(r.PartySize)},
	}
	status, body, err := c.do(ctx, http.MethodGet, "/3/details", "", q, nil, nil)
	if err != nil {
		return reservation.BookingToken{}, transportError("details", err)
	}
	if !ok(status) {
		return reservation.BookingToken{}, statusError("details", status, body)
	}

	var res struct {
		BookToken struct {
			Value       string `json:"value"`
			DateExpires string `json:"date_expires"`
		} `json:"book_token"`
		User struct {
			PaymentMethods []struct {
				ID int64 `json:"id"`
			} `json:"payment_methods"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.BookToken.Value == "" {
		return reservation.BookingToken{}, malformedError("details", status, body, err)
	}

	tok := reservation.BookingToken{Value: res.BookToken.Value}
	if exp, err := time.ParseInLocation(slotLayout, res.BookToken.DateExpires, time.UTC); err == nil {
		tok.ExpiresAt = exp
	}
	for _, pm := range res.User.PaymentMethods {
		tok.PaymentMethods = append(tok.PaymentMethods, pm.ID)
	}
	return tok, nil
}

// Book redeems a book token and returns the reservation's resy token.
func (c *Client) Book(ctx context.Context, token reservation.BookingToken, paymentMethodID int64) (string, error) {
	pm, err := json.Marshal(struct {
		ID int64 `json:"id"`
	}{ID: paymentMethodID})
	if err != nil {
		return "", err
	}
	form := url.Values{
		"book_token":            {token.Value},
		"struct_payment_method": {string(pm)},
		"source_id":             {sourceID},
	}
	headers := map[string]string{
		"origin":   "https://widgets.resy.com",
		"x-origin": "https://widgets.resy.com",
		"referrer": "https://widgets.resy.com/",
	}
	status, body, err := c.do(ctx, http.MethodPost, "/3/book", "application/x-www-form-urlencoded", nil, []byte(form.Encode()), headers)
	if err != nil {
		return "", transportError("book", err)
	}
	if !ok(status) {
		return "", statusError("book", status, body)
	}
	var res struct {
		ResyToken string `json:"resy_token"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.ResyToken == "" {
		return "", malformedError("book", status, body, err)
	}
	return res.ResyToken, nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

func (c *Client) do(ctx context.Context, method, path, contentType string, query url.Values, body []byte, extra map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("user-agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	req.Header.Set("accept", "application/json, text/plain, */*")
	req.Header.Set("origin", "https://resy.com")
	req.Header.Set("referrer", "https://resy.com/")
	req.Header.Set("x-origin", "https://resy.com")
	req.Header.Set("cache-control", "no-cache")
	if contentType != "" {
		req.Header.Set("content-type", contentType)
	}
	req.Header.Set("authorization", fmt.Sprintf(`ResyAPI api_key="%s"`, c.creds.APIKey))
	if c.creds.AuthToken != "" {
		req.Header.Set("x-resy-auth-token", c.creds.AuthToken)
		req.Header.Set("x-resy-universal-auth", c.creds.AuthToken)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}
