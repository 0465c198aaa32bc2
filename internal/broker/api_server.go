package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"demobroker/internal/api"
	"demobroker/internal/config"
	"demobroker/internal/correlate"
	"demobroker/internal/logging"
)

const shutdownTimeout = 5 * time.Second

type apiServer struct {
	bind   string
	logger *slog.Logger
	broker *Broker

	listener net.Listener
	server   *http.Server
}

func newAPIServer(b *Broker, cfg config.API, logger *slog.Logger) (*apiServer, error) {
	if b == nil {
		return nil, errors.New("api server requires a broker")
	}
	if cfg.Bind == "" {
		return nil, nil
	}
	srv := &apiServer{
		bind:   cfg.Bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		broker: b,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.Handle("GET /metrics", authMiddleware(cfg.Token, b.metrics.Handler()))
	mux.Handle("GET /api/status", authMiddleware(cfg.Token, http.HandlerFunc(srv.handleStatus)))
	mux.Handle("GET /api/{key}", authMiddleware(cfg.Token, http.HandlerFunc(srv.handleLookup)))

	// Lookups block for up to the broker deadline, so writes get that much headroom.
	srv.server = &http.Server{
		Handler:           srv.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      b.cfg.LookupTimeout() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) listen() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"))
	return nil
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// serve blocks until ctx ends or the HTTP server fails.
func (s *apiServer) serve(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(s.listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}

func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(api.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(api.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.broker.Status())
}

// handleLookup answers with 200 for both a value and a timeout; the body
// tells them apart.
func (s *apiServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	logger := logging.WithContext(r.Context(), s.logger).With(logging.String(logging.FieldLookupKey, key))

	out, err := s.broker.Lookup(r.Context(), key)
	switch {
	case errors.Is(err, correlate.ErrEmptyKey),
		errors.Is(err, correlate.ErrInvalidKey),
		errors.Is(err, correlate.ErrKeyTooLong):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("lookup caller went away",
			logging.String(logging.FieldEventType, "lookup_caller_gone"))
		return
	case errors.Is(err, correlate.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		logging.ErrorWithContext(logger, "lookup failed", "lookup_failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cache := "miss"
	if out.Cached {
		cache = "hit"
	}
	w.Header().Set(api.HeaderCache, cache)
	logger.Info("lookup served",
		logging.String("outcome", out.Status.String()),
		logging.Bool("cached", out.Cached),
		logging.String(logging.FieldEventType, "lookup_served"))
	s.writeJSON(w, http.StatusOK, api.LookupBody(s.broker.fields, out))
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{api.ErrorField: message})
}
