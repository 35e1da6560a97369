package resy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindAuth      ErrorKind = "auth"
	KindRemote    ErrorKind = "remote"
	KindMalformed ErrorKind = "malformed"
)

// ErrUnauthorized matches any APIError of KindAuth.
var ErrUnauthorized = errors.New("resy: unauthorized")

// APIError is returned for every failed call. None of these are retried by
// the booking loop.
type APIError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resy %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Kind == KindAuth
}

func transportError(op string, err error) error {
	return &APIError{Op: op, Kind: KindTransport, Err: err}
}

func statusError(op string, status int, body []byte) error {
	kind := KindRemote
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, 419:
		kind = KindAuth
	}
	return &APIError{Op: op, Kind: kind, StatusCode: status, Body: message(body)}
}

func malformedError(op string, status int, body []byte, err error) error {
	if err == nil {
		err = errors.New("missing required field")
	}
	return &APIError{Op: op, Kind: KindMalformed, StatusCode: status, Body: truncate(string(body)), Err: err}
}

// message prefers Resy's {"message": ...} field over the raw body.
func message(body []byte) string {
	var r struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &r); err == nil && r.Message != "" {
		return r.Message
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	const limit = 512
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
