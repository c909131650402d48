package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Server exposes the read-only query surface ("query outputs returned
// as sequences of records") over HTTP, plus a live step stream, for the
// runs held in a RunStore.
type Server struct {
	router *chi.Mux
	server *http.Server
	store  *RunStore
	log    zerolog.Logger
}

// New builds a Server listening on port, serving runs out of store.
func New(port int, store *RunStore, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		log:    log.With().Str("component", "api").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/runs/{id}", func(r chi.Router) {
		r.Get("/orders", s.handleOrders)
		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
		r.Get("/nlv", s.handleNLV)
		r.Get("/stream", s.handleStream)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting backtest query API")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeRecords(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeRecords(w, r, run.Master().Events())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	positions := run.Master().Positions()
	records := make([]interface{}, 0, len(positions))
	for _, pos := range positions {
		records = append(records, pos)
	}
	s.writeRecords(w, r, records)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	var trades []interface{}
	for _, pos := range run.Master().Positions() {
		for _, t := range pos.Trades {
			trades = append(trades, t)
		}
	}
	s.writeRecords(w, r, trades)
}

func (s *Server) handleNLV(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeRecords(w, r, run.Master().ValueHistory())
}

// writeRecords content-negotiates on Accept: application/msgpack gets
// a compact binary body, anything else (including no header) gets
// application/json, matching the chi+cors query surface's default.
func (s *Server) writeRecords(w http.ResponseWriter, r *http.Request, data interface{}) {
	if strings.Contains(r.Header.Get("Accept"), "application/msgpack") {
		w.Header().Set("Content-Type", "application/msgpack")
		if err := msgpack.NewEncoder(w).Encode(data); err != nil {
			s.log.Error().Err(err).Msg("failed to encode msgpack response")
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode json response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
