package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/ledger"
	"github.com/dokzlo13/guildsync/internal/reconcile"
)

const defaultRunsLimit = 50

// HTTPService serves health, metrics and the plan/apply endpoints.
type HTTPService struct {
	addr            string
	shutdownTimeout time.Duration
	source          string // the only blueprint source the endpoints act on

	runner  *Runner
	ledger  *ledger.Ledger // nil when the ledger is disabled
	trigger func()         // nil when the scheduler is disabled

	ready  atomic.Bool
	server *http.Server
	wg     sync.WaitGroup
}

// NewHTTPService creates a new HTTPService. /plan and /apply only ever act
// on source; a request naming any other source is refused.
func NewHTTPService(addr string, shutdownTimeout time.Duration, runner *Runner, l *ledger.Ledger, source string) *HTTPService {
	return &HTTPService{
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
		source:          source,
		runner:          runner,
		ledger:          l,
	}
}

// SetReady flips the /ready endpoint.
func (s *HTTPService) SetReady(ready bool) {
	s.ready.Store(ready)
}

// SetTrigger enables POST /trigger, which requests a scheduled run.
func (s *HTTPService) SetTrigger(fn func()) {
	s.trigger = fn
}

// Handler returns the router.
func (s *HTTPService) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/plan", func(w http.ResponseWriter, r *http.Request) {
		source, ok := s.requestSource(w, r)
		if !ok {
			return
		}
		lines, err := s.runner.Plan(r.Context(), source)
		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, reconcile.FormatPlan(lines))
	})

	r.Post("/apply", func(w http.ResponseWriter, r *http.Request) {
		source, ok := s.requestSource(w, r)
		if !ok {
			return
		}
		sum, err := s.runner.Apply(r.Context(), source, "http")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})

	r.Post("/trigger", func(w http.ResponseWriter, _ *http.Request) {
		if s.trigger == nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "scheduler is disabled"})
			return
		}
		s.trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		if s.ledger == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger is disabled"})
			return
		}
		limit := defaultRunsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = n
		}
		entries, err := s.ledger.Recent(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if entries == nil {
			entries = []*ledger.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return r
}

// requestSource returns the configured source. An explicit ?source= is
// accepted only when it names that same source.
func (s *HTTPService) requestSource(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.source == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no blueprint source configured"})
		return "", false
	}
	if q := r.URL.Query().Get("source"); q != "" && q != s.source {
		log.Warn().Str("source", q).Str("remote", r.RemoteAddr).Msg("Refused request for unconfigured blueprint source")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "source is not the configured blueprint source"})
		return "", false
	}
	return s.source, true
}

// Start begins serving in the background until ctx is cancelled.
func (s *HTTPService) Start(ctx context.Context) {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wg.Add(2)
	go s.run()
	go s.shutdownOnDone(ctx)
}

// Wait blocks until the server has stopped and in-flight requests have
// drained or the shutdown timeout has passed.
func (s *HTTPService) Wait() {
	s.wg.Wait()
}

func (s *HTTPService) run() {
	defer s.wg.Done()
	log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

func (s *HTTPService) shutdownOnDone(ctx context.Context) {
	defer s.wg.Done()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
}

// errorStatus maps bad blueprints to 400 and everything else to 500.
func errorStatus(err error) int {
	var parseErr *blueprint.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
