package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/resydrop/internal/reservation"
)

const triggerName = "resydrop_trigger"

var (
	ErrInvalidToken  = errors.New("invalid trigger token")
	ErrInvalidSecret = errors.New("invalid webhook secret")
)

// Signer issues and verifies trigger tokens: a reservation request signed and
// encrypted so it can be passed around as a URL query value.
type Signer struct {
	sc *securecookie.SecureCookie
}

func NewSigner(hashKey, blockKey []byte, maxAge time.Duration) *Signer {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(maxAge.Seconds()))
	return &Signer{sc: sc}
}

// GenerateKeys returns a fresh hash key and block key.
func GenerateKeys() (hashKey, blockKey []byte) {
	return securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32)
}

func (s *Signer) Encode(req reservation.ReservationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return s.sc.Encode(triggerName, req)
}

func (s *Signer) Decode(token string) (reservation.ReservationRequest, error) {
	var req reservation.ReservationRequest
	if err := s.sc.Decode(triggerName, token, &req); err != nil {
		return reservation.ReservationRequest{}, ErrInvalidToken
	}
	if err := req.Validate(); err != nil {
		return reservation.ReservationRequest{}, err
	}
	return req, nil
}

func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(b), err
}

func CheckSecret(hash, secret string) bool {
	if hash == "" || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// RequireBearer rejects requests whose Authorization bearer token does not
// match the bcrypt hash. An empty hash disables the endpoint.
func RequireBearer(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !CheckSecret(hash, strings.TrimSpace(token)) {
				http.Error(w, ErrInvalidSecret.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
