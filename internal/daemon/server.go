package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/tab_mon/internal/domain"
	"github.com/eliteGoblin/focusd/tab_mon/internal/messaging"
)

// Bridge routes and headers shared with the client.
const (
	PathEvents   = "/v1/events"
	PathMessages = "/v1/messages"
	PathHealth   = "/health"

	HeaderRequestID = "X-Request-Id"
	HeaderTabID     = "X-Tab-Id"

	maxBodyBytes = 1 << 20
)

var knownEvents = map[domain.EventType]bool{
	domain.EventTabCreated:         true,
	domain.EventTabActivated:       true,
	domain.EventTabUpdated:         true,
	domain.EventTabRemoved:         true,
	domain.EventWindowFocusChanged: true,
	domain.EventIdleStateChanged:   true,
	domain.EventTabsSnapshot:       true,
}

// Health is the /health response body.
type Health struct {
	Status
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// Server exposes the Service over loopback HTTP for the extension host and the CLI.
type Server struct {
	svc     *Service
	version string
	logger  *zap.Logger
}

// NewServer creates a bridge for svc.
func NewServer(svc *Service, version string, logger *zap.Logger) *Server {
	return &Server{
		svc:     svc,
		version: version,
		logger:  logger,
	}
}

// Handler returns the bridge routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathEvents, s.handleEvent)
	mux.HandleFunc("POST "+PathMessages, s.handleMessage)
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	return s.withRequestLog(mux)
}

// Listen binds the bridge address. Callers read the resolved port from the listener.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Serve handles requests on ln until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		return errors.New("server has no listener")
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("bridge shutdown", zap.Error(err))
			return err
		}
		return nil
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.BrowserEvent
	if err := decodeBody(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !knownEvents[ev.Type] {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown event type %q", ev.Type))
		return
	}

	if err := s.svc.HandleEvent(r.Context(), ev); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, messaging.OK{OK: true})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messaging.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sender := messaging.Sender{TabID: domain.TabIDNone}
	if raw := r.Header.Get(HeaderTabID); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			sender.TabID = domain.TabID(id)
		}
	}

	result, err := s.svc.HandleMessage(r.Context(), req, sender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, Health{Status: st, OK: true, Version: s.version})
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("bridge request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, messaging.ErrorResult{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
