package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers a short human-readable message about a booking session.
// Delivery is best effort; callers log errors and carry on.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Slack posts messages to a Slack incoming-webhook URL.
type Slack struct {
	url string
	hc  *http.Client
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		url: strings.TrimSpace(webhookURL),
		hc:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *Slack) Notify(ctx context.Context, message string) error {
	b, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	res, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("slack: http %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Log writes messages to a logger. Used when no Slack URL is configured.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, message string) error {
	l.Logger.Info().Str("channel", "notify").Msg(message)
	return nil
}

// Nop discards messages.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// FromURL returns a Slack notifier when url is set and a Log notifier otherwise.
func FromURL(url string, logger zerolog.Logger) Notifier {
	if strings.TrimSpace(url) == "" {
		return Log{Logger: logger}
	}
	return NewSlack(url)
}
