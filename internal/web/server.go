package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/resydrop/internal/auth"
	"github.com/example/resydrop/internal/lock"
	"github.com/example/resydrop/internal/reservation"
)

// NowBooker runs an immediate booking session.
type NowBooker interface {
	RunNow(ctx context.Context, req reservation.ReservationRequest) (string, error)
}

// Server exposes webhook triggers that start booking sessions in the
// background. One lease per venue, day and party size is held for the
// lifetime of each session.
type Server struct {
	Booker  NowBooker
	Locker  lock.Locker
	LockTTL time.Duration

	// Signer verifies /hooks/book tokens. Nil disables the route.
	Signer *auth.Signer
	// SecretHash is the bcrypt hash of the /hooks/reservations bearer secret.
	SecretHash string

	Location *time.Location
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger

	// BaseContext bounds background sessions; cancel it on shutdown.
	BaseContext context.Context

	wg sync.WaitGroup
}

type acceptedResponse struct {
	Status  string `json:"status"`
	Lock    string `json:"lock"`
	Venue   string `json:"venue"`
	Day     string `json:"day"`
	Message string `json:"message,omitempty"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	g := s.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	r.Route("/hooks", func(r chi.Router) {
		r.Post("/book", s.handleSignedTrigger)
		r.With(auth.RequireBearer(s.SecretHash)).Post("/reservations", s.handleReservation)
	})
	return r
}

// Wait blocks until background sessions finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleSignedTrigger(w http.ResponseWriter, r *http.Request) {
	if s.Signer == nil {
		http.NotFound(w, r)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusBadRequest)
		return
	}
	req, err := s.Signer.Decode(token)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.start(w, r, req)
}

func (s *Server) handleReservation(w http.ResponseWriter, r *http.Request) {
	var req reservation.ReservationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.start(w, r, req)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, req reservation.ReservationRequest) {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	day := req.TargetDate(time.Now().In(loc))
	key := lock.Key(req, day)

	release, err := s.Locker.Acquire(r.Context(), key, s.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		writeJSON(w, http.StatusConflict, acceptedResponse{Status: "locked", Lock: key, Venue: req.DisplayName(), Day: day.Format("2006-01-02"),
			Message: "a booking session for this request is already running"})
		return
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("lock", key).Msg("lock acquire failed")
		http.Error(w, "lock unavailable", http.StatusServiceUnavailable)
		return
	}

	base := s.BaseContext
	if base == nil {
		base = context.Background()
	}
	log := s.Logger.With().Str("request_id", middleware.GetReqID(r.Context())).Str("lock", key).Logger()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if err := release(context.WithoutCancel(base)); err != nil {
				log.Warn().Err(err).Msg("lock release failed")
			}
		}()
		token, err := s.Booker.RunNow(base, req)
		if err != nil {
			log.Error().Err(err).Msg("webhook booking failed")
			return
		}
		log.Info().Str("resy_token", token).Msg("webhook booking succeeded")
	}()

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Lock: key, Venue: req.DisplayName(), Day: day.Format("2006-01-02")})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves h on addr until ctx is done, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
