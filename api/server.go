// Package api serves the HTTP control surface of the switchers: JSON routes to
// read and drive channels, a websocket event stream and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/handlers"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch"
	"github.com/hubertat/rf4ch/metrics"
)

const httpTimeoutsMs = 3000
const shutdownTimeout = 5 * time.Second

type Server struct {
	Addr      string
	JwtSecret string

	registry *rf4ch.Registry
	metrics  *metrics.Metrics
	hub      *Hub
	logger   *log.Logger
	server   *http.Server
}

// New builds the server. hub may be nil when no event stream is wanted.
func New(addr, jwtSecret string, registry *rf4ch.Registry, m *metrics.Metrics, hub *Hub) *Server {
	return &Server{
		Addr:      addr,
		JwtSecret: jwtSecret,
		registry:  registry,
		metrics:   m,
		hub:       hub,
		logger:    log.Default().WithPrefix("Api"),
	}
}

func (s *Server) route(router *httprouter.Router, method, path string, h http.HandlerFunc) {
	router.Handler(method, path, s.metrics.WrapHandler(method+" "+path, h))
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	s.route(router, http.MethodGet, "/switchers", s.handleList)
	s.route(router, http.MethodGet, "/switchers/:id", s.handleGet)
	s.route(router, http.MethodPut, "/switchers/:id/channels/:channel/:state", s.handleChannel)
	s.route(router, http.MethodPut, "/switchers/:id/overrides/:channel/:state", s.handleOverride)
	s.route(router, http.MethodPost, "/switchers/:id/actions/:action", s.handleAction)
	s.route(router, http.MethodPut, "/switchers/:id/options", s.handleOptions)
	if s.hub != nil {
		router.Handler(http.MethodGet, "/events", s.hub)
	}
	router.Handler(http.MethodGet, "/metrics", s.metrics.Handler())

	var handler http.Handler = router
	if len(s.JwtSecret) > 0 {
		handler = requireToken([]byte(s.JwtSecret), handler)
	}

	accessLog := s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.InfoLevel}).Writer()
	return handlers.LoggingHandler(accessLog, handler)
}

// ListenAndServe serves until ctx is done, then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	s.server = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.server.ListenAndServe()
	}()
	s.logger.Info("http api listening", "addr", s.Addr)

	select {
	case err := <-serverErr:
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(shutdownCtx)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
